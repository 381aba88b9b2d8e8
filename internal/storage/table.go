package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"

	"github.com/soltixdb/sframe/internal/batch"
	"github.com/soltixdb/sframe/internal/compression"
)

// Table is an ordered set of uniquely named, equal-length columns. A table
// opened from disk has a path; tables assembled with NewTableFromColumns
// or Select exist only in memory until saved.
type Table struct {
	path     string
	names    []string
	columns  []*Column
	numRows  int64
	metadata map[string]string
}

// ErrSchemaMismatch is returned when appending tables whose column names,
// types or format versions differ.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Open reads the frame index at path and opens its columns.
func Open(ctx context.Context, path string) (*Table, error) {
	f, err := ReadFrameIndex(ctx, path)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]*GroupIndex)
	columns := make([]*Column, len(f.Columns))
	for i, ref := range f.Columns {
		g, ok := groups[ref.IndexPath]
		if !ok {
			if g, err = ReadGroupIndex(ctx, ref.IndexPath); err != nil {
				return nil, err
			}
			groups[ref.IndexPath] = g
		}
		if columns[i], err = newColumn(ref, g); err != nil {
			return nil, fmt.Errorf("%s column %q: %w", path, f.Names[i], err)
		}
		if columns[i].NumRows() != f.NumRows {
			return nil, fmt.Errorf("%w: %s column %q has %d rows, table has %d",
				ErrCorruptIndex, path, f.Names[i], columns[i].NumRows(), f.NumRows)
		}
	}
	t, err := NewTableFromColumns(f.Names, columns)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, path, err)
	}
	t.path = path
	t.metadata = f.Metadata
	return t, nil
}

// NewTableFromColumns builds an unsaved table. Names must be unique and
// columns of equal length.
func NewTableFromColumns(names []string, columns []*Column) (*Table, error) {
	if len(names) != len(columns) {
		return nil, fmt.Errorf("%d names for %d columns", len(names), len(columns))
	}
	seen := make(map[string]struct{}, len(names))
	t := &Table{
		names:   append([]string(nil), names...),
		columns: append([]*Column(nil), columns...),
	}
	for i, name := range names {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", name)
		}
		seen[name] = struct{}{}
		if i == 0 {
			t.numRows = columns[i].NumRows()
		} else if columns[i].NumRows() != t.numRows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", name, columns[i].NumRows(), t.numRows)
		}
	}
	return t, nil
}

// Path is the frame index the table was opened from, or "".
func (t *Table) Path() string { return t.path }

func (t *Table) NumRows() int64 { return t.numRows }

func (t *Table) NumColumns() int { return len(t.columns) }

func (t *Table) ColumnNames() []string {
	return append([]string(nil), t.names...)
}

func (t *Table) ColumnTypes() []compression.ColumnType {
	types := make([]compression.ColumnType, len(t.columns))
	for i, c := range t.columns {
		types[i] = c.Type()
	}
	return types
}

// Columns returns the column handles in order.
func (t *Table) Columns() []*Column {
	return append([]*Column(nil), t.columns...)
}

// ColumnIndex returns the position of the named column.
func (t *Table) ColumnIndex(name string) (int, error) {
	for i, n := range t.names {
		if n == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

// SelectColumn returns the named column.
func (t *Table) SelectColumn(name string) (*Column, error) {
	i, err := t.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	return t.columns[i], nil
}

// SelectColumnByIndex returns column i.
func (t *Table) SelectColumnByIndex(i int) (*Column, error) {
	if err := t.checkIndex(i); err != nil {
		return nil, err
	}
	return t.columns[i], nil
}

// Select returns an unsaved table with the named columns in the given
// order.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]*Column, len(names))
	for i, name := range names {
		c, err := t.SelectColumn(name)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return t.derive(names, cols)
}

// derive builds an unsaved table that keeps the metadata of t.
func (t *Table) derive(names []string, columns []*Column) (*Table, error) {
	out, err := NewTableFromColumns(names, columns)
	if err != nil {
		return nil, err
	}
	out.metadata = maps.Clone(t.metadata)
	return out, nil
}

// Metadata returns a copy of the table-level metadata.
func (t *Table) Metadata() map[string]string {
	return maps.Clone(t.metadata)
}

// WithMetadata returns an unsaved copy of t with key set to value.
func (t *Table) WithMetadata(key, value string) *Table {
	out := *t
	out.path = ""
	out.metadata = maps.Clone(t.metadata)
	if out.metadata == nil {
		out.metadata = make(map[string]string, 1)
	}
	out.metadata[key] = value
	return &out
}

// Version is the oldest block format of any column.
func (t *Table) Version() compression.FormatVersion {
	v := compression.CurrentFormat
	for _, c := range t.columns {
		v = min(v, c.Version())
	}
	return v
}

// Append returns the rows of t followed by the rows of other. Both tables
// must have the same column names and types in the same order and the
// same format version; a table without columns appends as a no-op. The
// result references the segments of both tables.
func (t *Table) Append(other *Table) (*Table, error) {
	if len(other.columns) == 0 {
		return t.derive(t.names, t.columns)
	}
	if len(t.columns) == 0 {
		return other.derive(other.names, other.columns)
	}
	if len(t.columns) != len(other.columns) {
		return nil, fmt.Errorf("%w: appending %d columns to %d", ErrSchemaMismatch, len(other.columns), len(t.columns))
	}
	for i, c := range t.columns {
		if t.names[i] != other.names[i] {
			return nil, fmt.Errorf("%w: column %d is %q, appended column is %q",
				ErrSchemaMismatch, i, t.names[i], other.names[i])
		}
		if c.typ != other.columns[i].typ {
			return nil, fmt.Errorf("%w: column %q is %s, appended column is %s",
				ErrSchemaMismatch, t.names[i], c.typ, other.columns[i].typ)
		}
	}
	if v, ov := t.Version(), other.Version(); v != ov {
		return nil, fmt.Errorf("%w: format version %d appended to %d", ErrSchemaMismatch, ov, v)
	}
	cols := make([]*Column, len(t.columns))
	for i := range cols {
		cols[i] = concatColumns(t.columns[i], other.columns[i])
	}
	return t.derive(t.names, cols)
}

// AddColumn returns t with c appended as the last column. An empty name
// is replaced by X<n>, n being the new column count, with a ".<k>" suffix
// if that is taken. An explicit name must not exist yet.
func (t *Table) AddColumn(c *Column, name string) (*Table, error) {
	if len(t.columns) > 0 && c.NumRows() != t.numRows {
		return nil, fmt.Errorf("column has %d rows, table has %d", c.NumRows(), t.numRows)
	}
	if name == "" {
		name = t.generateColumnName()
	} else if _, err := t.ColumnIndex(name); err == nil {
		return nil, fmt.Errorf("duplicate column name %q", name)
	}
	return t.derive(append(t.ColumnNames(), name), append(t.Columns(), c))
}

func (t *Table) generateColumnName() string {
	name := "X" + strconv.Itoa(len(t.names)+1)
	if _, err := t.ColumnIndex(name); err != nil {
		return name
	}
	for k := 1; ; k++ {
		candidate := name + "." + strconv.Itoa(k)
		if _, err := t.ColumnIndex(candidate); err != nil {
			return candidate
		}
	}
}

func (t *Table) checkIndex(i int) error {
	if i < 0 || i >= len(t.columns) {
		return fmt.Errorf("%w: index %d of %d", ErrColumnNotFound, i, len(t.columns))
	}
	return nil
}

// RemoveColumn returns t without column i.
func (t *Table) RemoveColumn(i int) (*Table, error) {
	if err := t.checkIndex(i); err != nil {
		return nil, err
	}
	names := append(t.ColumnNames()[:i], t.names[i+1:]...)
	cols := append(t.Columns()[:i], t.columns[i+1:]...)
	return t.derive(names, cols)
}

// SwapColumns returns t with columns i and j exchanged.
func (t *Table) SwapColumns(i, j int) (*Table, error) {
	if err := t.checkIndex(i); err != nil {
		return nil, err
	}
	if err := t.checkIndex(j); err != nil {
		return nil, err
	}
	names, cols := t.ColumnNames(), t.Columns()
	names[i], names[j] = names[j], names[i]
	cols[i], cols[j] = cols[j], cols[i]
	return t.derive(names, cols)
}

// ReplaceColumn returns t with the named column's data replaced by c. The
// column keeps its name and position.
func (t *Table) ReplaceColumn(name string, c *Column) (*Table, error) {
	i, err := t.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	cols := t.Columns()
	cols[i] = c
	return t.derive(t.names, cols)
}

// SetColumnName returns t with column i renamed.
func (t *Table) SetColumnName(i int, name string) (*Table, error) {
	if err := t.checkIndex(i); err != nil {
		return nil, err
	}
	names := t.ColumnNames()
	names[i] = name
	return t.derive(names, t.columns)
}

// ReadRows decodes rows [start, end) of every column into a new batch.
func (t *Table) ReadRows(ctx context.Context, start, end int64) (*batch.Batch, error) {
	r := t.Reader()
	defer func() { _ = r.Close() }()
	b := batch.New()
	if _, err := r.ReadRows(ctx, start, end, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Reader reads row ranges of a table, keeping segment files open between
// calls. A Reader is not safe for concurrent use.
type Reader struct {
	t     *Table
	cache *segmentCache
}

func (t *Table) Reader() *Reader {
	return &Reader{t: t, cache: newSegmentCache()}
}

// ReadRows replaces the content of out with rows [start, end). end is
// clamped to the table length. It returns the number of rows read.
func (r *Reader) ReadRows(ctx context.Context, start, end int64, out *batch.Batch) (int64, error) {
	end = min(end, r.t.numRows)
	if start < 0 || start > end {
		return 0, fmt.Errorf("invalid row range [%d,%d) for table of %d rows", start, end, r.t.numRows)
	}
	out.Clear()
	for i, c := range r.t.columns {
		values, err := c.readRows(ctx, r.cache, start, end)
		if err != nil {
			return 0, fmt.Errorf("column %q: %w", r.t.names[i], err)
		}
		if err := out.AddDecodedColumn(values); err != nil {
			return 0, err
		}
	}
	if len(r.t.columns) == 0 {
		out.Resize(0, int(end-start))
	}
	return end - start, nil
}

// Close releases the segment files held by the reader.
func (r *Reader) Close() error {
	return r.cache.close()
}
