package compression

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// GroupSize is the maximum number of values packed under one group header.
const GroupSize = 128

// GroupCodec identifies the transform applied to a group before bit packing.
type GroupCodec uint8

const (
	// FrameOfReference stores v[i] - min(v).
	FrameOfReference GroupCodec = 0
	// Delta stores v[i] - v[i-1]; only used for non-decreasing groups.
	Delta GroupCodec = 1
	// DeltaZigZag stores zigzag(v[i] - v[i-1]).
	DeltaZigZag GroupCodec = 2
)

func (c GroupCodec) String() string {
	switch c {
	case FrameOfReference:
		return "frame-of-reference"
	case Delta:
		return "delta"
	case DeltaZigZag:
		return "delta-zigzag"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// Group header byte: bits 0-1 hold the codec, bits 2-7 hold the width
// code, which is 0 for width 0 and 1+log2(width) otherwise.
const (
	groupCodecMask  = 0x03
	groupWidthShift = 2
	maxWidthCode    = 7
)

// MakeGroupHeader builds a header byte. It panics if width is not one of
// 0, 1, 2, 4, 8, 16, 32 or 64.
func MakeGroupHeader(codec GroupCodec, width uint) byte {
	return byte(codec)&groupCodecMask | widthCode(width)<<groupWidthShift
}

// ParseGroupHeader splits a header byte into codec and bit width. A width
// code outside the allowed set means the data is corrupt and panics.
func ParseGroupHeader(h byte) (GroupCodec, uint) {
	codec := GroupCodec(h & groupCodecMask)
	if codec > DeltaZigZag {
		panic(fmt.Sprintf("compression: corrupt group header %#02x: unknown codec %d", h, codec))
	}
	code := h >> groupWidthShift
	if code > maxWidthCode {
		panic(fmt.Sprintf("compression: corrupt group header %#02x: width code %d", h, code))
	}
	if code == 0 {
		return codec, 0
	}
	return codec, 1 << (code - 1)
}

func widthCode(width uint) byte {
	if width == 0 {
		return 0
	}
	if width > 64 || width&(width-1) != 0 {
		panic(fmt.Sprintf("compression: bit width %d is not a power of two <= 64", width))
	}
	return byte(bits.TrailingZeros(width)) + 1
}

// packWidth returns the smallest width in {0,1,2,4,...,64} that can hold max.
func packWidth(max uint64) uint {
	n := uint(bits.Len64(max))
	if n == 0 {
		return 0
	}
	w := uint(1)
	for w < n {
		w <<= 1
	}
	return w
}

// EncodeGroup appends the packed encoding of up to GroupSize values to buf.
// An empty group encodes to nothing.
func EncodeGroup(buf []byte, values []uint64) []byte {
	n := len(values)
	if n == 0 {
		return buf
	}
	if n > GroupSize {
		panic(fmt.Sprintf("compression: group of %d values exceeds %d", n, GroupSize))
	}

	var scratch [GroupSize]uint64

	// frame of reference
	minV, maxV := values[0], values[0]
	for _, v := range values[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	codec := FrameOfReference
	width := packWidth(maxV - minV)
	prefix := minV

	// the two delta variants only transform values[1:]
	nonDecreasing := true
	var maxDelta, maxZig uint64
	for i := 1; i < n; i++ {
		if values[i] < values[i-1] {
			nonDecreasing = false
		}
		d := values[i] - values[i-1]
		if d > maxDelta {
			maxDelta = d
		}
		if z := ZigZagEncode(int64(d)); z > maxZig {
			maxZig = z
		}
	}
	if nonDecreasing {
		if w := packWidth(maxDelta); w < width {
			codec, width, prefix = Delta, w, values[0]
		}
	}
	if w := packWidth(maxZig); w < width {
		codec, width, prefix = DeltaZigZag, w, values[0]
	}

	buf = append(buf, MakeGroupHeader(codec, width))
	buf = AppendVarint(buf, prefix)
	if width == 0 {
		return buf
	}

	var packed []uint64
	switch codec {
	case FrameOfReference:
		packed = scratch[:n]
		for i, v := range values {
			packed[i] = v - minV
		}
	case Delta:
		packed = scratch[:n-1]
		for i := 1; i < n; i++ {
			packed[i-1] = values[i] - values[i-1]
		}
	case DeltaZigZag:
		packed = scratch[:n-1]
		for i := 1; i < n; i++ {
			packed[i-1] = ZigZagEncode(int64(values[i] - values[i-1]))
		}
	}
	return appendPacked(buf, packed, width)
}

// DecodeGroup decodes count values from the start of data into out and
// returns the number of bytes consumed. out must have room for count values.
func DecodeGroup(data []byte, count int, out []uint64) (int, error) {
	if count == 0 {
		return 0, nil
	}
	if count > GroupSize {
		return 0, fmt.Errorf("group count %d exceeds %d", count, GroupSize)
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("data too short for group header")
	}
	codec, width := ParseGroupHeader(data[0])
	offset := 1

	prefix, n := ReadVarint(data[offset:])
	if n == 0 {
		return 0, fmt.Errorf("data too short for group prefix")
	}
	offset += n

	out = out[:count]
	packedCount := count
	if codec != FrameOfReference {
		packedCount = count - 1
	}

	if width == 0 {
		for i := range out {
			out[i] = prefix
		}
		return offset, nil
	}

	size := packedLen(packedCount, width)
	if offset+size > len(data) {
		return 0, fmt.Errorf("data too short for %d packed values of width %d", packedCount, width)
	}

	switch codec {
	case FrameOfReference:
		unpack(data[offset:offset+size], out, width)
		for i := range out {
			out[i] += prefix
		}
	case Delta, DeltaZigZag:
		unpack(data[offset:offset+size], out[1:], width)
		out[0] = prefix
		acc := prefix
		for i := 1; i < count; i++ {
			d := out[i]
			if codec == DeltaZigZag {
				d = uint64(ZigZagDecode(d))
			}
			acc += d
			out[i] = acc
		}
	}
	return offset + size, nil
}

// EncodeUint64s splits values into groups of GroupSize and appends each group.
func EncodeUint64s(buf []byte, values []uint64) []byte {
	for len(values) > 0 {
		n := min(len(values), GroupSize)
		buf = EncodeGroup(buf, values[:n])
		values = values[n:]
	}
	return buf
}

// DecodeUint64s decodes count values written by EncodeUint64s and returns
// them together with the number of bytes consumed.
func DecodeUint64s(data []byte, count int) ([]uint64, int, error) {
	out := make([]uint64, count)
	offset := 0
	for i := 0; i < count; i += GroupSize {
		n := min(count-i, GroupSize)
		used, err := DecodeGroup(data[offset:], n, out[i:i+n])
		if err != nil {
			return nil, 0, fmt.Errorf("group at value %d: %w", i, err)
		}
		offset += used
	}
	return out, offset, nil
}

func packedLen(count int, width uint) int {
	return (count*int(width) + 7) / 8
}

// appendPacked writes values LSB-first at a fixed bit width.
func appendPacked(buf []byte, values []uint64, width uint) []byte {
	switch width {
	case 8:
		for _, v := range values {
			buf = append(buf, byte(v))
		}
		return buf
	case 16:
		for _, v := range values {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(v))
		}
		return buf
	case 32:
		for _, v := range values {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
		}
		return buf
	case 64:
		for _, v := range values {
			buf = binary.LittleEndian.AppendUint64(buf, v)
		}
		return buf
	}

	// sub-byte widths: 1, 2 or 4 bits
	perByte := 8 / int(width)
	mask := uint64(1)<<width - 1
	for i := 0; i < len(values); i += perByte {
		var b byte
		for j := 0; j < perByte && i+j < len(values); j++ {
			b |= byte(values[i+j]&mask) << (uint(j) * width)
		}
		buf = append(buf, b)
	}
	return buf
}

func unpack(data []byte, out []uint64, width uint) {
	switch width {
	case 8:
		for i := range out {
			out[i] = uint64(data[i])
		}
		return
	case 16:
		for i := range out {
			out[i] = uint64(binary.LittleEndian.Uint16(data[2*i:]))
		}
		return
	case 32:
		for i := range out {
			out[i] = uint64(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return
	case 64:
		for i := range out {
			out[i] = binary.LittleEndian.Uint64(data[8*i:])
		}
		return
	}

	perByte := 8 / int(width)
	mask := byte(1)<<width - 1
	for i := range out {
		b := data[i/perByte]
		out[i] = uint64(b >> (uint(i%perByte) * width) & mask)
	}
}
