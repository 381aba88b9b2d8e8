package compression

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ColumnType represents the element type of a column
type ColumnType uint8

const (
	ColumnTypeFloat64 ColumnType = iota
	ColumnTypeInt64
	ColumnTypeString
	ColumnTypeBool
	ColumnTypeNull
)

func (t ColumnType) String() string {
	switch t {
	case ColumnTypeFloat64:
		return "float"
	case ColumnTypeInt64:
		return "int"
	case ColumnTypeString:
		return "str"
	case ColumnTypeBool:
		return "bool"
	case ColumnTypeNull:
		return "undefined"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	return t <= ColumnTypeNull
}

// ParseColumnType parses the names produced by ColumnType.String.
func ParseColumnType(s string) (ColumnType, error) {
	switch strings.ToLower(s) {
	case "float", "float64", "double":
		return ColumnTypeFloat64, nil
	case "int", "int64", "integer":
		return ColumnTypeInt64, nil
	case "str", "string":
		return ColumnTypeString, nil
	case "bool", "boolean":
		return ColumnTypeBool, nil
	case "undefined", "null", "none":
		return ColumnTypeNull, nil
	}
	return 0, fmt.Errorf("unknown column type %q", s)
}

// FormatVersion identifies the block encoding generation.
type FormatVersion uint16

const (
	// FormatV1 encodes integers with delta + zigzag + varint.
	FormatV1 FormatVersion = 1
	// FormatV2 encodes integers with the 128-value group codec.
	FormatV2 FormatVersion = 2
	// CurrentFormat is what new tables are written with.
	CurrentFormat = FormatV2
)

// ColumnEncoder interface for encoding column data
type ColumnEncoder interface {
	Encode(values []interface{}) ([]byte, error)
	Decode(data []byte, count int) ([]interface{}, error)
	Type() ColumnType
}

// Float64Decoder decodes directly into []float64 without boxing allocations
type Float64Decoder interface {
	DecodeFloat64(data []byte, count int) ([]float64, []bool, error)
}

// Int64Decoder decodes directly into []int64 without boxing allocations
type Int64Decoder interface {
	DecodeInt64(data []byte, count int) ([]int64, []bool, error)
}

// StringDecoder decodes directly into []string without boxing allocations
type StringDecoder interface {
	DecodeStrings(data []byte, count int) ([]string, []bool, error)
}

// BoolDecoder decodes directly into []bool without boxing allocations
type BoolDecoder interface {
	DecodeBool(data []byte, count int) ([]bool, []bool, error)
}

// GetEncoder returns the encoder for a column type in the given format version
func GetEncoder(colType ColumnType, version FormatVersion) (ColumnEncoder, error) {
	if version != FormatV1 && version != FormatV2 {
		return nil, fmt.Errorf("unsupported format version: %d", version)
	}
	switch colType {
	case ColumnTypeFloat64:
		return NewGorillaEncoder(), nil
	case ColumnTypeInt64:
		if version == FormatV1 {
			return NewDeltaEncoder(), nil
		}
		return NewIntPackEncoder(), nil
	case ColumnTypeString:
		return NewDictionaryEncoder(), nil
	case ColumnTypeBool:
		return NewBoolEncoder(), nil
	case ColumnTypeNull:
		return NullEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported column type: %d", colType)
	}
}

// InferColumnType infers the column type from the first non-nil value.
// An all-nil slice is ColumnTypeNull.
func InferColumnType(values []interface{}) ColumnType {
	for _, v := range values {
		if v == nil {
			continue
		}
		switch v.(type) {
		case float64, float32:
			return ColumnTypeFloat64
		case int, int64, int32, int16, int8, uint32, uint16, uint8:
			return ColumnTypeInt64
		case string:
			return ColumnTypeString
		case bool:
			return ColumnTypeBool
		}
	}
	return ColumnTypeNull
}

// Shared block prefix: [count: 4 bytes LE][null mask: ceil(count/8) bytes].

func buildNullMask(values []interface{}) []byte {
	mask := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v == nil {
			mask[i/8] |= 1 << (i % 8)
		}
	}
	return mask
}

func bitSet(mask []byte, i int) bool {
	return mask[i/8]&(1<<(i%8)) != 0
}

func isNull(nullMask []byte, i int) bool {
	return bitSet(nullMask, i)
}

func appendColumnHeader(buf []byte, count int, nullMask []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(count))
	return append(buf, nullMask...)
}

// readColumnHeader validates the count prefix and returns the null mask and
// the offset of the encoder-specific payload.
func readColumnHeader(data []byte, count int) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("data too short for count")
	}
	stored := binary.LittleEndian.Uint32(data)
	if int(stored) != count {
		return nil, 0, fmt.Errorf("count mismatch: expected %d, got %d", count, stored)
	}
	size := (count + 7) / 8
	if 4+size > len(data) {
		return nil, 0, fmt.Errorf("data too short for null mask")
	}
	return data[4 : 4+size], 4 + size, nil
}

// NullEncoder stores nothing; every decoded value is nil.
type NullEncoder struct{}

func (NullEncoder) Type() ColumnType { return ColumnTypeNull }

func (NullEncoder) Encode(values []interface{}) ([]byte, error) {
	for i, v := range values {
		if v != nil {
			return nil, fmt.Errorf("undefined column holds %T at %d", v, i)
		}
	}
	return nil, nil
}

func (NullEncoder) Decode(_ []byte, count int) ([]interface{}, error) {
	return make([]interface{}, count), nil
}
