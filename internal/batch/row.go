package batch

import (
	"fmt"
	"iter"
)

// Row is a proxy for one row of a Batch. It holds no values of its own.
type Row struct {
	b       *Batch
	idx     int
	mutable bool
}

// Index is the row number within the batch.
func (r Row) Index() int { return r.idx }

func (r Row) Len() int { return len(r.b.columns) }

// At returns field i.
func (r Row) At(i int) interface{} {
	return r.b.columns[i][r.idx]
}

// Set writes field i. Writing through a row obtained from Batch.Row
// panics.
func (r Row) Set(i int, v interface{}) {
	if !r.mutable {
		panic("batch: write through read-only row")
	}
	// the batch may have been copied since this proxy was created
	r.b.ensureUnique()
	r.b.columns[i][r.idx] = v
}

// Assign copies every field of src into r.
func (r Row) Assign(src Row) error {
	if r.Len() != src.Len() {
		return fmt.Errorf("row size mismatch: %d != %d", r.Len(), src.Len())
	}
	for i := 0; i < src.Len(); i++ {
		r.Set(i, src.At(i))
	}
	return nil
}

// Values copies the row out.
func (r Row) Values() []interface{} {
	vals := make([]interface{}, len(r.b.columns))
	for i, col := range r.b.columns {
		vals[i] = col[r.idx]
	}
	return vals
}

// Iterator walks the rows of a batch. It can be rewound with Reset and
// repositioned with Seek.
type Iterator struct {
	b   *Batch
	pos int
}

// Iter returns an iterator positioned before the first row.
func (b *Batch) Iter() *Iterator {
	return &Iterator{b: b, pos: -1}
}

func (it *Iterator) Next() bool {
	if it.pos < it.b.numRows {
		it.pos++
	}
	return it.pos < it.b.numRows
}

// Row returns the current row.
func (it *Iterator) Row() Row {
	return it.b.Row(it.pos)
}

// At returns the row offset rows past the current position.
func (it *Iterator) At(offset int) Row {
	return it.b.Row(it.pos + offset)
}

func (it *Iterator) Reset() { it.pos = -1 }

// Seek positions the iterator so that the next call to Next lands on i.
func (it *Iterator) Seek(i int) { it.pos = i - 1 }

// All yields read-only rows in order.
func (b *Batch) All() iter.Seq2[int, Row] {
	return func(yield func(int, Row) bool) {
		for i := 0; i < b.numRows; i++ {
			if !yield(i, Row{b: b, idx: i}) {
				return
			}
		}
	}
}
