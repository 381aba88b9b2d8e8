package compression

import (
	"encoding/binary"
	"math/bits"
)

// Prefix varint layout.
//
// The number of trailing 1 bits in the first byte, plus one, is the encoded
// length in bytes. A k-byte encoding stores the value shifted left by k with
// the low k bits set to k-1 ones followed by a terminating 0. Seven bytes
// hold 49 value bits; anything wider uses the marker byte 0x7f (seven 1
// bits, then the terminating 0) followed by the raw 8-byte little-endian
// value. There is no 8-byte form.
const (
	maxPrefixBytes = 7
	// MaxVarintLen is the longest encoding produced by AppendVarint.
	MaxVarintLen = 9
	varintMarker = 0x7f
)

// varintBucketLimit[k] is the exclusive upper bound for a k-byte encoding.
var varintBucketLimit = [maxPrefixBytes + 1]uint64{
	0,
	1 << 7,
	1 << 14,
	1 << 21,
	1 << 28,
	1 << 35,
	1 << 42,
	1 << 49,
}

// VarintLen returns the encoded size of v in bytes.
func VarintLen(v uint64) int {
	for k := 1; k <= maxPrefixBytes; k++ {
		if v < varintBucketLimit[k] {
			return k
		}
	}
	return MaxVarintLen
}

// AppendVarint appends the prefix-varint encoding of v to buf
func AppendVarint(buf []byte, v uint64) []byte {
	k := VarintLen(v)
	if k == MaxVarintLen {
		buf = append(buf, varintMarker)
		return binary.LittleEndian.AppendUint64(buf, v)
	}
	word := v<<uint(k) | (uint64(1)<<uint(k-1) - 1)
	for i := 0; i < k; i++ {
		buf = append(buf, byte(word>>(8*uint(i))))
	}
	return buf
}

// ReadVarint reads a prefix-varint encoded uint64 from data
// Returns the value and number of bytes read (0 if data is truncated)
func ReadVarint(data []byte) (uint64, int) {
	if len(data) == 0 {
		return 0, 0
	}
	ones := bits.TrailingZeros8(^data[0])
	switch {
	case data[0] == varintMarker:
		if len(data) < MaxVarintLen {
			return 0, 0
		}
		return binary.LittleEndian.Uint64(data[1:MaxVarintLen]), MaxVarintLen
	case ones >= maxPrefixBytes:
		// 0xff announces no known form
		return 0, 0
	}
	k := ones + 1
	if len(data) < k {
		return 0, 0
	}
	var word uint64
	for i := 0; i < k; i++ {
		word |= uint64(data[i]) << (8 * uint(i))
	}
	return word >> uint(k), k
}

// ZigZagEncode maps signed integers onto unsigned ones so that values of
// small magnitude stay small: 0, -1, 1, -2, 2 become 0, 1, 2, 3, 4.
func ZigZagEncode(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

// ZigZagDecode inverts ZigZagEncode.
func ZigZagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
