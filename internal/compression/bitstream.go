package compression

// BitWriter appends bits MSB-first to a byte slice. The float encoder uses
// it for its XOR stream; the integer group codec packs LSB-first on its own.
type BitWriter struct {
	buf  []byte
	acc  uint64 // pending bits, right-aligned
	nacc uint   // number of pending bits, always < 8 between calls
}

// NewBitWriter creates a BitWriter with the given initial capacity.
func NewBitWriter(capacity int) *BitWriter {
	return &BitWriter{buf: make([]byte, 0, capacity)}
}

// WriteBit writes a single bit (0 or 1).
func (w *BitWriter) WriteBit(bit byte) {
	w.WriteBits(uint64(bit&1), 1)
}

// WriteBits writes the low nbits bits of val, most significant first.
func (w *BitWriter) WriteBits(val uint64, nbits uint8) {
	n := uint(nbits)
	for n > 0 {
		// feed at most 56 bits at a time so acc never overflows
		take := min(n, 56)
		chunk := (val >> (n - take)) & (uint64(1)<<take - 1)
		w.acc = w.acc<<take | chunk
		w.nacc += take
		n -= take
		for w.nacc >= 8 {
			w.nacc -= 8
			w.buf = append(w.buf, byte(w.acc>>w.nacc))
		}
		w.acc &= uint64(1)<<w.nacc - 1
	}
}

// Bytes returns the written bits, zero padding the final partial byte.
func (w *BitWriter) Bytes() []byte {
	if w.nacc == 0 {
		return w.buf
	}
	return append(w.buf, byte(w.acc<<(8-w.nacc)))
}

// BitLen returns total number of bits written.
func (w *BitWriter) BitLen() int {
	return len(w.buf)*8 + int(w.nacc)
}

// BitReader reads bits MSB-first from a byte slice.
type BitReader struct {
	data []byte
	pos  int // bit position
}

// NewBitReader creates a BitReader over the given data.
func NewBitReader(data []byte) *BitReader {
	return &BitReader{data: data}
}

// ReadBit reads a single bit; ok is false once the data is exhausted.
func (r *BitReader) ReadBit() (byte, bool) {
	v, ok := r.ReadBits(1)
	return byte(v), ok
}

// ReadBits reads nbits bits (at most 64) right-aligned into a uint64.
func (r *BitReader) ReadBits(nbits uint8) (uint64, bool) {
	n := int(nbits)
	if r.pos+n > len(r.data)*8 {
		return 0, false
	}
	var v uint64
	for n > 0 {
		b := r.data[r.pos>>3]
		off := r.pos & 7
		avail := 8 - off
		take := min(avail, n)
		bitsOut := (b >> (avail - take)) & byte(1<<take-1)
		v = v<<uint(take) | uint64(bitsOut)
		r.pos += take
		n -= take
	}
	return v, true
}
