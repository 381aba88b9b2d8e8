package compression

import (
	"encoding/binary"
	"fmt"
)

// DeltaEncoder is the format v1 int64 encoding: the first value raw, then
// one zigzag varint per delta. Tables written in v1 are still readable but
// cannot be copied block by block into a v2 table.
type DeltaEncoder struct{}

func NewDeltaEncoder() *DeltaEncoder {
	return &DeltaEncoder{}
}

func (e *DeltaEncoder) Type() ColumnType {
	return ColumnTypeInt64
}

func (e *DeltaEncoder) Encode(values []interface{}) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	nullMask := buildNullMask(values)
	ints := make([]int64, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		iv, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("delta encoder at %d: %w", i, err)
		}
		ints[i] = iv.(int64)
	}

	buf := make([]byte, 0, 4+len(nullMask)+8+len(values))
	buf = appendColumnHeader(buf, len(values), nullMask)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ints[0]))
	for i := 1; i < len(ints); i++ {
		buf = AppendVarint(buf, ZigZagEncode(ints[i]-ints[i-1]))
	}
	return buf, nil
}

func (e *DeltaEncoder) Decode(data []byte, count int) ([]interface{}, error) {
	ints, nulls, err := e.DecodeInt64(data, count)
	if err != nil || ints == nil {
		return nil, err
	}
	values := make([]interface{}, count)
	for i, v := range ints {
		if !nulls[i] {
			values[i] = v
		}
	}
	return values, nil
}

// DecodeInt64 decodes into []int64; the []bool marks null positions.
func (e *DeltaEncoder) DecodeInt64(data []byte, count int) ([]int64, []bool, error) {
	if len(data) == 0 || count == 0 {
		return nil, nil, nil
	}
	nullMask, offset, err := readColumnHeader(data, count)
	if err != nil {
		return nil, nil, err
	}
	if offset+8 > len(data) {
		return nil, nil, fmt.Errorf("data too short for first value")
	}
	prev := int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	ints := make([]int64, count)
	nulls := make([]bool, count)
	for i := 0; i < count; i++ {
		if i > 0 {
			zz, n := ReadVarint(data[offset:])
			if n == 0 {
				return nil, nil, fmt.Errorf("failed to read varint at position %d", i)
			}
			offset += n
			prev += ZigZagDecode(zz)
		}
		if isNull(nullMask, i) {
			nulls[i] = true
		} else {
			ints[i] = prev
		}
	}
	return ints, nulls, nil
}
