package storage

import (
	"fmt"

	"github.com/soltixdb/sframe/internal/compression"
)

// BlockInfo locates one storage block inside a segment file. A block holds
// up to block_rows values of a single column: the typed encoding of the
// values, then the byte compressor output.
type BlockInfo struct {
	Offset      int64  // Byte offset in the segment file
	Length      uint32 // Stored (compressed) size
	Rows        uint32 // Number of values
	Type        compression.ColumnType
	Version     compression.FormatVersion
	Compression compression.Algorithm
}

// blockInfoSize is the encoded size of a BlockInfo in an index file.
const blockInfoSize = 8 + 4 + 4 + 1 + 2 + 1

// encodeBlock encodes values of type t into block payload bytes.
func encodeBlock(values []interface{}, t compression.ColumnType, version compression.FormatVersion, algo compression.Algorithm) ([]byte, error) {
	encoder, err := compression.GetEncoder(t, version)
	if err != nil {
		return nil, err
	}
	raw, err := encoder.Encode(values)
	if err != nil {
		return nil, err
	}
	compressor, err := compression.GetCompressor(algo)
	if err != nil {
		return nil, err
	}
	return compressor.Compress(raw)
}

// decodeBlock reverses encodeBlock using the metadata recorded for it.
func decodeBlock(data []byte, info BlockInfo) ([]interface{}, error) {
	compressor, err := compression.GetCompressor(info.Compression)
	if err != nil {
		return nil, err
	}
	raw, err := compressor.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompress block at %d: %w", info.Offset, err)
	}
	encoder, err := compression.GetEncoder(info.Type, info.Version)
	if err != nil {
		return nil, err
	}
	values, err := encoder.Decode(raw, int(info.Rows))
	if err != nil {
		return nil, fmt.Errorf("decode block at %d: %w", info.Offset, err)
	}
	if values == nil {
		values = make([]interface{}, info.Rows)
	}
	return values, nil
}
