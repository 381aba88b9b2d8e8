package compression

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCorruptPayload is returned when a compressed block payload cannot be
// decompressed.
var ErrCorruptPayload = errors.New("corrupt block payload")

// maxDecodedPayload bounds the size a payload header may announce.
const maxDecodedPayload = 1 << 30

func corruptPayload(algo Algorithm, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCorruptPayload, algo, err)
}

// Algorithm identifies the byte-level compression applied to a block
// payload after column encoding.
type Algorithm uint8

const (
	None   Algorithm = 0
	Snappy Algorithm = 1
	LZ4    Algorithm = 2
	Zstd   Algorithm = 3
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// ParseAlgorithm maps a configuration name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	}
	return None, fmt.Errorf("unknown compression algorithm %q", name)
}

// Compressor interface for compression algorithms
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() Algorithm
}

var (
	noneCompressor   = &NoneCompressor{}
	snappyCompressor = NewSnappyCompressor()
	lz4Compressor    = NewLZ4Compressor()
	zstdCompressor   = NewZstdCompressor()
)

// GetCompressor returns a compressor for the given algorithm. Compressors
// are stateless or pooled and safe for concurrent use.
func GetCompressor(algo Algorithm) (Compressor, error) {
	switch algo {
	case None:
		return noneCompressor, nil
	case Snappy:
		return snappyCompressor, nil
	case LZ4:
		return lz4Compressor, nil
	case Zstd:
		return zstdCompressor, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %d", algo)
	}
}

// NoneCompressor is a no-op compressor
type NoneCompressor struct{}

func (n *NoneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (n *NoneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

func (n *NoneCompressor) Algorithm() Algorithm {
	return None
}
