package compression

import (
	"fmt"

	"github.com/golang/snappy"
)

// SnappyCompressor stores block payloads in the snappy block format. The
// decoded length is read from the payload header and checked before any
// output is allocated.
type SnappyCompressor struct{}

func NewSnappyCompressor() *SnappyCompressor { return &SnappyCompressor{} }

func (*SnappyCompressor) Algorithm() Algorithm { return Snappy }

func (*SnappyCompressor) Compress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return payload, nil
	}
	return snappy.Encode(make([]byte, snappy.MaxEncodedLen(len(payload))), payload), nil
}

func (*SnappyCompressor) Decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return payload, nil
	}
	n, err := snappy.DecodedLen(payload)
	if err != nil {
		return nil, corruptPayload(Snappy, err)
	}
	if n > maxDecodedPayload {
		return nil, corruptPayload(Snappy, fmt.Errorf("decoded length %d exceeds %d", n, maxDecodedPayload))
	}
	out, err := snappy.Decode(make([]byte, n), payload)
	if err != nil {
		return nil, corruptPayload(Snappy, err)
	}
	return out, nil
}
