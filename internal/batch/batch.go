// Package batch implements a column-major row buffer with copy-on-write
// sharing. Rows are exposed as lightweight proxies over the decoded
// column buffers; no row-major copy of the data is ever built.
//
// A Batch is not safe for concurrent use. To hand a batch to another
// goroutine, give it a Copy.
package batch

import (
	"errors"
	"fmt"
	"math"

	"github.com/soltixdb/sframe/internal/compression"
)

// ErrTypeMismatch is matched by every TypeError.
var ErrTypeMismatch = errors.New("value does not match column type")

// TypeError reports a value that cannot be coerced to its column's type.
type TypeError struct {
	Column int
	Row    int
	Value  interface{}
	Want   compression.ColumnType
	Err    error
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("column %d row %d: cannot convert %v (%T) to %s: %v",
		e.Column, e.Row, e.Value, e.Value, e.Want, e.Err)
}

func (e *TypeError) Unwrap() []error {
	return []error{ErrTypeMismatch, e.Err}
}

// Batch holds decoded columns of equal length. Column buffers may be
// shared with other batches; unique records whether this batch is known
// to be their only owner.
type Batch struct {
	columns [][]interface{}
	numRows int
	unique  bool
}

// New returns an empty batch.
func New() *Batch {
	return &Batch{unique: true}
}

// NewWithSize returns a batch of numColumns columns of numRows nil values.
func NewWithSize(numColumns, numRows int) *Batch {
	b := New()
	b.Resize(numColumns, numRows)
	return b
}

// FromColumns wraps existing column buffers without copying them. The
// buffers are treated as shared.
func FromColumns(columns [][]interface{}) (*Batch, error) {
	b := New()
	for _, c := range columns {
		if err := b.AddDecodedColumn(c); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// FromRows builds a batch from row-major values. Every row must have the
// same number of fields.
func FromRows(rows [][]interface{}) (*Batch, error) {
	if len(rows) == 0 {
		return New(), nil
	}
	width := len(rows[0])
	b := NewWithSize(width, len(rows))
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", i, len(r), width)
		}
		for j, v := range r {
			b.columns[j][i] = v
		}
	}
	return b, nil
}

// Clear drops every column, leaving an empty unique batch.
func (b *Batch) Clear() {
	b.columns = nil
	b.numRows = 0
	b.unique = true
}

func (b *Batch) NumColumns() int { return len(b.columns) }

func (b *Batch) NumRows() int { return b.numRows }

// Copy returns a batch sharing this batch's column buffers. Both batches
// lose uniqueness; the first mutable access on either one copies.
func (b *Batch) Copy() *Batch {
	b.unique = false
	cols := make([][]interface{}, len(b.columns))
	copy(cols, b.columns)
	return &Batch{columns: cols, numRows: b.numRows}
}

// Clone returns a deep, uniquely owned copy.
func (b *Batch) Clone() *Batch {
	c := b.Copy()
	c.ensureUnique()
	return c
}

// IsUnique reports whether the column buffers are owned exclusively.
func (b *Batch) IsUnique() bool { return b.unique }

func (b *Batch) ensureUnique() {
	if b.unique {
		return
	}
	for i, col := range b.columns {
		cp := make([]interface{}, len(col))
		copy(cp, col)
		b.columns[i] = cp
	}
	b.unique = true
}

// Resize sets the column count and row count. A negative numRows keeps
// the current row count. New cells are nil.
func (b *Batch) Resize(numColumns, numRows int) {
	if numRows < 0 {
		numRows = b.numRows
	}
	b.ensureUnique()
	if numColumns < len(b.columns) {
		b.columns = b.columns[:numColumns]
	}
	for len(b.columns) < numColumns {
		b.columns = append(b.columns, make([]interface{}, numRows))
	}
	for i, col := range b.columns {
		switch {
		case len(col) > numRows:
			b.columns[i] = col[:numRows:numRows]
		case len(col) < numRows:
			grown := make([]interface{}, numRows)
			copy(grown, col)
			b.columns[i] = grown
		}
	}
	b.numRows = numRows
}

// AddDecodedColumn appends a shared column buffer. The first column of an
// empty batch fixes the row count.
func (b *Batch) AddDecodedColumn(col []interface{}) error {
	if len(b.columns) == 0 {
		b.numRows = len(col)
	} else if len(col) != b.numRows {
		return fmt.Errorf("column has %d rows, batch has %d", len(col), b.numRows)
	}
	b.columns = append(b.columns, col)
	b.unique = false
	return nil
}

// Columns returns the column buffers for mutation, copying shared buffers
// first.
func (b *Batch) Columns() [][]interface{} {
	b.ensureUnique()
	return b.columns
}

// CColumns returns the column buffers without copying. Callers must not
// modify them.
func (b *Batch) CColumns() [][]interface{} {
	return b.columns
}

// Column returns column i read-only.
func (b *Batch) Column(i int) []interface{} {
	return b.columns[i]
}

// Row returns a read-only proxy for row i.
func (b *Batch) Row(i int) Row {
	b.checkRow(i)
	return Row{b: b, idx: i}
}

// MutableRow returns a writable proxy for row i.
func (b *Batch) MutableRow(i int) Row {
	b.checkRow(i)
	b.ensureUnique()
	return Row{b: b, idx: i, mutable: true}
}

func (b *Batch) checkRow(i int) {
	if i < 0 || i >= b.numRows {
		panic(fmt.Sprintf("batch: row %d out of range [0,%d)", i, b.numRows))
	}
}

// ToRows materializes the batch row-major.
func (b *Batch) ToRows() [][]interface{} {
	rows := make([][]interface{}, b.numRows)
	for i := range rows {
		rows[i] = b.Row(i).Values()
	}
	return rows
}

// TypeCheck returns a batch whose values are coerced to types. The
// receiver is left unchanged.
func (b *Batch) TypeCheck(types []compression.ColumnType) (*Batch, error) {
	c := b.Copy()
	if err := c.TypeCheckInPlace(types); err != nil {
		return nil, err
	}
	return c, nil
}

// TypeCheckInPlace coerces every value to its column's type. Columns are
// converted one at a time; the first failing column is left untouched and
// reported as a *TypeError.
func (b *Batch) TypeCheckInPlace(types []compression.ColumnType) error {
	if len(types) != len(b.columns) {
		return fmt.Errorf("type check: %d types for %d columns", len(types), len(b.columns))
	}
	for ci, col := range b.columns {
		want := types[ci]
		var converted []interface{}
		for ri, v := range col {
			cv, err := compression.CoerceValue(v, want)
			if err != nil {
				return &TypeError{Column: ci, Row: ri, Value: v, Want: want, Err: err}
			}
			if converted == nil && !sameValue(cv, v) {
				converted = make([]interface{}, len(col))
				copy(converted, col[:ri])
			}
			if converted != nil {
				converted[ri] = cv
			}
		}
		if converted != nil {
			// the converted buffer is private, other columns may still be shared
			b.columns[ci] = converted
		}
	}
	return nil
}

// sameValue reports whether coercion left v unchanged in type and value.
func sameValue(a, b interface{}) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && (av == bv || math.IsNaN(av) && math.IsNaN(bv))
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}
