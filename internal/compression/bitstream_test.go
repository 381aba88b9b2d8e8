package compression

import (
	"math"
	"reflect"
	"testing"
)

func TestBitWriter_Layout(t *testing.T) {
	bw := NewBitWriter(4)
	bw.WriteBit(1)
	bw.WriteBit(0)
	bw.WriteBits(0b111, 3)
	if bw.BitLen() != 5 {
		t.Errorf("Expected 5 bits, got %d", bw.BitLen())
	}
	// 1 0 111 + 000 padding
	if got := bw.Bytes(); !reflect.DeepEqual(got, []byte{0b10111000}) {
		t.Errorf("Expected %08b, got %08b", []byte{0b10111000}, got)
	}
}

func TestBitStream_RoundTrip(t *testing.T) {
	type field struct {
		val   uint64
		nbits uint8
	}
	fields := []field{
		{1, 1}, {0, 1}, {5, 3}, {0x3f, 6}, {0xabcd, 16},
		{math.MaxUint64, 64}, {0, 7}, {0x123456789, 36}, {1, 1},
	}

	bw := NewBitWriter(0)
	for _, f := range fields {
		bw.WriteBits(f.val, f.nbits)
	}
	br := NewBitReader(bw.Bytes())
	for i, f := range fields {
		got, ok := br.ReadBits(f.nbits)
		if !ok {
			t.Fatalf("field %d: stream exhausted", i)
		}
		if got != f.val {
			t.Errorf("field %d: expected %#x, got %#x", i, f.val, got)
		}
	}
}

func TestBitReader_Exhausted(t *testing.T) {
	br := NewBitReader([]byte{0xff})
	if _, ok := br.ReadBits(8); !ok {
		t.Fatal("Expected first byte to be readable")
	}
	if _, ok := br.ReadBit(); ok {
		t.Error("Expected exhaustion after 8 bits")
	}
	if _, ok := NewBitReader(nil).ReadBits(1); ok {
		t.Error("Expected empty reader to be exhausted")
	}
}
