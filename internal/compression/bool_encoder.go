package compression

import "fmt"

// BoolEncoder stores one bit per value after the shared header:
// [count][null mask][value mask].
type BoolEncoder struct{}

func NewBoolEncoder() *BoolEncoder {
	return &BoolEncoder{}
}

func (e *BoolEncoder) Type() ColumnType {
	return ColumnTypeBool
}

func (e *BoolEncoder) Encode(values []interface{}) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	nullMask := buildNullMask(values)
	valueMask := make([]byte, len(nullMask))
	for i, v := range values {
		if v == nil {
			continue
		}
		bv, err := toBool(v)
		if err != nil {
			return nil, fmt.Errorf("bool encoder at %d: %w", i, err)
		}
		if bv.(bool) {
			valueMask[i/8] |= 1 << (i % 8)
		}
	}
	buf := make([]byte, 0, 4+2*len(nullMask))
	buf = appendColumnHeader(buf, len(values), nullMask)
	return append(buf, valueMask...), nil
}

func (e *BoolEncoder) Decode(data []byte, count int) ([]interface{}, error) {
	bools, nulls, err := e.DecodeBool(data, count)
	if err != nil || bools == nil {
		return nil, err
	}
	values := make([]interface{}, count)
	for i, b := range bools {
		if !nulls[i] {
			values[i] = b
		}
	}
	return values, nil
}

// DecodeBool decodes into []bool; the second []bool marks null positions.
func (e *BoolEncoder) DecodeBool(data []byte, count int) ([]bool, []bool, error) {
	if len(data) == 0 || count == 0 {
		return nil, nil, nil
	}
	nullMask, offset, err := readColumnHeader(data, count)
	if err != nil {
		return nil, nil, err
	}
	if offset+len(nullMask) > len(data) {
		return nil, nil, fmt.Errorf("data too short for value mask")
	}
	valueMask := data[offset : offset+len(nullMask)]

	bools := make([]bool, count)
	nulls := make([]bool, count)
	for i := 0; i < count; i++ {
		if isNull(nullMask, i) {
			nulls[i] = true
			continue
		}
		bools[i] = bitSet(valueMask, i)
	}
	return bools, nulls, nil
}
