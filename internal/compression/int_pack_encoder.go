package compression

import "fmt"

// IntPackEncoder stores int64 columns with the 128-value group codec.
//
// Wire format:
//
//	[count: 4 bytes LE][null mask][groups of uint64(int64) values]
//
// Null slots repeat the previous value so they do not widen a group.
type IntPackEncoder struct{}

func NewIntPackEncoder() *IntPackEncoder {
	return &IntPackEncoder{}
}

func (e *IntPackEncoder) Type() ColumnType {
	return ColumnTypeInt64
}

func (e *IntPackEncoder) Encode(values []interface{}) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	nullMask := buildNullMask(values)
	raw := make([]uint64, len(values))
	var prev uint64
	for i, v := range values {
		if v == nil {
			raw[i] = prev
			continue
		}
		iv, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("int pack encoder at %d: %w", i, err)
		}
		prev = uint64(iv.(int64))
		raw[i] = prev
	}

	buf := make([]byte, 0, 4+len(nullMask)+len(values)*2)
	buf = appendColumnHeader(buf, len(values), nullMask)
	return EncodeUint64s(buf, raw), nil
}

func (e *IntPackEncoder) Decode(data []byte, count int) ([]interface{}, error) {
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
func (e *IntPackEncoder) DecodeInt64(data []byte, count int) ([]int64, []bool, error) {
	if len(data) == 0 || count == 0 {
		return nil, nil, nil
	}
	nullMask, offset, err := readColumnHeader(data, count)
	if err != nil {
		return nil, nil, err
	}
	raw, _, err := DecodeUint64s(data[offset:], count)
	if err != nil {
		return nil, nil, err
	}
	ints := make([]int64, count)
	nulls := make([]bool, count)
	for i, u := range raw {
		if isNull(nullMask, i) {
			nulls[i] = true
			continue
		}
		ints[i] = int64(u)
	}
	return ints, nulls, nil
}
