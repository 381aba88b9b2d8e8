package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// LZ4Compressor implements Compressor using the LZ4 frame format
type LZ4Compressor struct {
	level lz4.CompressionLevel
}

func NewLZ4Compressor() *LZ4Compressor {
	return &LZ4Compressor{level: lz4.Fast}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, fmt.Errorf("lz4 options: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, corruptPayload(LZ4, err)
	}
	return out, nil
}

func (c *LZ4Compressor) Algorithm() Algorithm {
	return LZ4
}
