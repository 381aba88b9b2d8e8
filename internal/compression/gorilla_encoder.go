package compression

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
)

// GorillaEncoder implements XOR-based compression for float64 values
// (Pelkonen et al., "Gorilla: A Fast, Scalable, In-Memory Time Series
// Database", PVLDB 8(12), 2015).
//
// Wire format:
//
//	[count: 4 bytes LE][null mask]
//	[first value: 8 bytes LE, raw IEEE 754 bits]
//	[XOR bit stream, MSB first, zero padded]
//
// For each later value the XOR with its predecessor is written as
//
//	'0'                                     XOR == 0
//	'1' '0' <bits in previous window>       fits the previous window
//	'1' '1' <leading:6> <len-1:6> <bits>    opens a new window
type GorillaEncoder struct{}

func NewGorillaEncoder() *GorillaEncoder {
	return &GorillaEncoder{}
}

func (e *GorillaEncoder) Type() ColumnType {
	return ColumnTypeFloat64
}

func (e *GorillaEncoder) Encode(values []interface{}) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	nullMask := buildNullMask(values)
	floats := make([]float64, len(values))
	for i, v := range values {
		if v == nil {
			if i > 0 {
				floats[i] = floats[i-1]
			}
			continue
		}
		fv, err := toFloat64(v)
		if err != nil {
			return nil, fmt.Errorf("gorilla encoder at %d: %w", i, err)
		}
		floats[i] = fv.(float64)
	}

	buf := make([]byte, 0, 4+len(nullMask)+8)
	buf = appendColumnHeader(buf, len(values), nullMask)
	prev := math.Float64bits(floats[0])
	buf = binary.LittleEndian.AppendUint64(buf, prev)

	bw := NewBitWriter(len(values) * 2)
	var winLeading, winTrailing uint8
	haveWindow := false
	for _, f := range floats[1:] {
		cur := math.Float64bits(f)
		xor := prev ^ cur
		prev = cur
		if xor == 0 {
			bw.WriteBit(0)
			continue
		}
		bw.WriteBit(1)
		leading := uint8(bits.LeadingZeros64(xor))
		trailing := uint8(bits.TrailingZeros64(xor))
		if leading > 63 {
			leading = 63
		}
		if haveWindow && leading >= winLeading && trailing >= winTrailing {
			bw.WriteBit(0)
			bw.WriteBits(xor>>winTrailing, 64-winLeading-winTrailing)
			continue
		}
		meaning := 64 - leading - trailing
		bw.WriteBit(1)
		bw.WriteBits(uint64(leading), 6)
		bw.WriteBits(uint64(meaning-1), 6)
		bw.WriteBits(xor>>trailing, meaning)
		winLeading, winTrailing, haveWindow = leading, trailing, true
	}
	return append(buf, bw.Bytes()...), nil
}

func (e *GorillaEncoder) Decode(data []byte, count int) ([]interface{}, error) {
	floats, nulls, err := e.DecodeFloat64(data, count)
	if err != nil || floats == nil {
		return nil, err
	}
	values := make([]interface{}, count)
	for i, f := range floats {
		if !nulls[i] {
			values[i] = f
		}
	}
	return values, nil
}

// DecodeFloat64 decodes into []float64; the []bool marks null positions.
func (e *GorillaEncoder) DecodeFloat64(data []byte, count int) ([]float64, []bool, error) {
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
	prev := binary.LittleEndian.Uint64(data[offset:])
	br := NewBitReader(data[offset+8:])

	floats := make([]float64, count)
	nulls := make([]bool, count)
	var winLeading, winTrailing uint8
	for i := 0; i < count; i++ {
		if i > 0 {
			xor, err := readXOR(br, &winLeading, &winTrailing)
			if err != nil {
				return nil, nil, fmt.Errorf("value %d: %w", i, err)
			}
			prev ^= xor
		}
		if isNull(nullMask, i) {
			nulls[i] = true
			continue
		}
		floats[i] = math.Float64frombits(prev)
	}
	return floats, nulls, nil
}

func readXOR(br *BitReader, winLeading, winTrailing *uint8) (uint64, error) {
	changed, ok := br.ReadBit()
	if !ok {
		return 0, fmt.Errorf("unexpected end of bitstream")
	}
	if changed == 0 {
		return 0, nil
	}
	newWindow, ok := br.ReadBit()
	if !ok {
		return 0, fmt.Errorf("unexpected end of bitstream")
	}
	if newWindow == 1 {
		leading, ok1 := br.ReadBits(6)
		meaning, ok2 := br.ReadBits(6)
		if !ok1 || !ok2 {
			return 0, fmt.Errorf("unexpected end of bitstream in window header")
		}
		*winLeading = uint8(leading)
		*winTrailing = 64 - uint8(leading) - uint8(meaning+1)
	}
	width := 64 - *winLeading - *winTrailing
	v, ok := br.ReadBits(width)
	if !ok {
		return 0, fmt.Errorf("unexpected end of bitstream in value bits")
	}
	return v << *winTrailing, nil
}
