package compression

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// DictionaryEncoder stores each distinct string once and one varint
// index per row.
//
// Wire format:
//
//	[count: 4 bytes LE][null mask]
//	[dict size: 4 bytes LE]{[len: 4 bytes LE][bytes]}...
//	[index varints]
type DictionaryEncoder struct{}

func NewDictionaryEncoder() *DictionaryEncoder {
	return &DictionaryEncoder{}
}

func (e *DictionaryEncoder) Type() ColumnType {
	return ColumnTypeString
}

// toString formats scalars without going through fmt for the common cases.
func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (e *DictionaryEncoder) Encode(values []interface{}) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	nullMask := buildNullMask(values)
	indices := make([]uint32, len(values))
	lookup := make(map[string]uint32)
	var dict []string
	var dictBytes int

	for i, v := range values {
		if v == nil {
			continue
		}
		s := toString(v)
		idx, ok := lookup[s]
		if !ok {
			idx = uint32(len(dict))
			lookup[s] = idx
			dict = append(dict, s)
			dictBytes += len(s)
		}
		indices[i] = idx
	}

	buf := make([]byte, 0, 8+len(nullMask)+4*len(dict)+dictBytes+len(values))
	buf = appendColumnHeader(buf, len(values), nullMask)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(dict)))
	for _, s := range dict {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	for _, idx := range indices {
		buf = AppendVarint(buf, uint64(idx))
	}
	return buf, nil
}

func (e *DictionaryEncoder) Decode(data []byte, count int) ([]interface{}, error) {
	strs, nulls, err := e.DecodeStrings(data, count)
	if err != nil || strs == nil {
		return nil, err
	}
	values := make([]interface{}, count)
	for i, s := range strs {
		if !nulls[i] {
			values[i] = s
		}
	}
	return values, nil
}

// DecodeStrings decodes into []string; the []bool marks null positions.
func (e *DictionaryEncoder) DecodeStrings(data []byte, count int) ([]string, []bool, error) {
	if len(data) == 0 || count == 0 {
		return nil, nil, nil
	}
	nullMask, offset, err := readColumnHeader(data, count)
	if err != nil {
		return nil, nil, err
	}

	if offset+4 > len(data) {
		return nil, nil, fmt.Errorf("data too short for dict size")
	}
	dictSize := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4

	dict := make([]string, 0, min(dictSize, count))
	for i := 0; i < dictSize; i++ {
		if offset+4 > len(data) {
			return nil, nil, fmt.Errorf("data too short for dict entry length")
		}
		n := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if offset+n > len(data) {
			return nil, nil, fmt.Errorf("data too short for dict entry")
		}
		dict = append(dict, string(data[offset:offset+n]))
		offset += n
	}

	strs := make([]string, count)
	nulls := make([]bool, count)
	for i := 0; i < count; i++ {
		idx, n := ReadVarint(data[offset:])
		if n == 0 {
			return nil, nil, fmt.Errorf("failed to read varint at position %d", i)
		}
		offset += n
		if isNull(nullMask, i) {
			nulls[i] = true
			continue
		}
		if idx >= uint64(len(dict)) {
			return nil, nil, fmt.Errorf("dictionary index out of range: %d >= %d", idx, len(dict))
		}
		strs[i] = dict[idx]
	}
	return strs, nulls, nil
}
