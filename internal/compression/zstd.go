package compression

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements Compressor with pooled zstd encoders/decoders
type ZstdCompressor struct {
	encoders sync.Pool
	decoders sync.Pool
}

func NewZstdCompressor() *ZstdCompressor {
	c := &ZstdCompressor{}
	c.encoders.New = func() interface{} {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("compression: zstd.NewWriter: %v", err))
		}
		return enc
	}
	c.decoders.New = func() interface{} {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("compression: zstd.NewReader: %v", err))
		}
		return dec
	}
	return c
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, corruptPayload(Zstd, err)
	}
	return out, nil
}

func (c *ZstdCompressor) Algorithm() Algorithm {
	return Zstd
}
