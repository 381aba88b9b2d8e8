package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/fileio"
	"github.com/soltixdb/sframe/internal/metrics"
)

// ErrColumnNotFound is returned when a column name or index does not exist.
var ErrColumnNotFound = errors.New("column not found")

// columnSegment is one segment of a stored column with resolved path.
type columnSegment struct {
	path     string
	rows     int64
	blocks   []BlockInfo
	firstRow int64 // row of the segment's first value within the column
}

// Column is a read handle on a stored column. Columns are immutable and
// may be shared between tables.
type Column struct {
	ref      ColumnRef
	typ      compression.ColumnType
	metadata map[string]string
	segments []columnSegment
	numRows  int64
}

func newColumn(ref ColumnRef, g *GroupIndex) (*Column, error) {
	if ref.Column >= len(g.Columns) {
		return nil, fmt.Errorf("%w: %s has %d columns", ErrColumnNotFound, ref, len(g.Columns))
	}
	ci := g.Columns[ref.Column]
	c := &Column{
		ref:      ref,
		typ:      ci.Type,
		metadata: ci.Metadata,
	}
	for i, seg := range ci.Segments {
		c.segments = append(c.segments, columnSegment{
			path:     g.SegmentFiles[i],
			rows:     seg.Rows,
			blocks:   seg.Blocks,
			firstRow: c.numRows,
		})
		c.numRows += seg.Rows
	}
	return c, nil
}

// OpenColumn opens column ref.Column of a group index.
func OpenColumn(ctx context.Context, ref ColumnRef) (*Column, error) {
	g, err := ReadGroupIndex(ctx, ref.IndexPath)
	if err != nil {
		return nil, err
	}
	return newColumn(ref, g)
}

func (c *Column) Type() compression.ColumnType { return c.typ }

func (c *Column) NumRows() int64 { return c.numRows }

func (c *Column) NumSegments() int { return len(c.segments) }

// Ref is the index reference the column was opened from. Columns built by
// Table.Append have none until saved.
func (c *Column) Ref() ColumnRef { return c.ref }

// key identifies the physical column within a save.
func (c *Column) key() string {
	if c.ref.IndexPath == "" {
		return fmt.Sprintf("%p", c)
	}
	return c.ref.String()
}

// concatColumns returns a column with the rows of a followed by the rows
// of b. No data is copied; the result lists the segments of both.
func concatColumns(a, b *Column) *Column {
	c := &Column{
		typ:      a.typ,
		metadata: a.metadata,
		numRows:  a.numRows + b.numRows,
		segments: make([]columnSegment, 0, len(a.segments)+len(b.segments)),
	}
	c.segments = append(c.segments, a.segments...)
	for _, s := range b.segments {
		s.firstRow += a.numRows
		c.segments = append(c.segments, s)
	}
	return c
}

// Metadata returns a copy of the column's key/value metadata.
func (c *Column) Metadata() map[string]string {
	return maps.Clone(c.metadata)
}

// SegmentFiles lists the files holding the column's data.
func (c *Column) SegmentFiles() []string {
	paths := make([]string, len(c.segments))
	for i, s := range c.segments {
		paths[i] = s.path
	}
	return paths
}

// SegmentSizes returns rows per segment.
func (c *Column) SegmentSizes() []int64 {
	sizes := make([]int64, len(c.segments))
	for i, s := range c.segments {
		sizes[i] = s.rows
	}
	return sizes
}

// Version is the oldest block encoding in the column. Empty columns report
// the current format.
func (c *Column) Version() compression.FormatVersion {
	v := compression.CurrentFormat
	for _, s := range c.segments {
		for _, b := range s.blocks {
			if b.Version < v {
				v = b.Version
			}
		}
	}
	return v
}

// OnProtocol reports whether every segment is served by the protocol of
// path.
func (c *Column) OnProtocol(path string) bool {
	for _, s := range c.segments {
		if !fileio.SameProtocol(s.path, path) {
			return false
		}
	}
	return true
}

// index rebuilds a one-column description of c suitable for a new group
// index, along with the segment files it references.
func (c *Column) index() (ColumnIndex, []string) {
	ci := ColumnIndex{Type: c.typ, Metadata: c.metadata}
	files := make([]string, len(c.segments))
	for i, s := range c.segments {
		files[i] = absPath(s.path)
		ci.Segments = append(ci.Segments, SegmentBlocks{Rows: s.rows, Blocks: s.blocks})
	}
	return ci, files
}

// ReadRows decodes rows [start, end). end is clamped to the column length.
func (c *Column) ReadRows(ctx context.Context, start, end int64) ([]interface{}, error) {
	cache := newSegmentCache()
	values, err := c.readRows(ctx, cache, start, end)
	if cerr := cache.close(); err == nil {
		err = cerr
	}
	return values, err
}

func (c *Column) readRows(ctx context.Context, cache *segmentCache, start, end int64) ([]interface{}, error) {
	end = min(end, c.numRows)
	if start < 0 || start > end {
		return nil, fmt.Errorf("invalid row range [%d,%d) for column of %d rows", start, end, c.numRows)
	}
	out := make([]interface{}, 0, end-start)
	for _, seg := range c.segments {
		if seg.firstRow >= end {
			break
		}
		if seg.firstRow+seg.rows <= start {
			continue
		}
		row := seg.firstRow
		for _, b := range seg.blocks {
			blockEnd := row + int64(b.Rows)
			if blockEnd <= start {
				row = blockEnd
				continue
			}
			if row >= end {
				break
			}
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
			}
			r, err := cache.get(ctx, seg.path)
			if err != nil {
				return nil, err
			}
			data, err := r.readBlock(b)
			if err != nil {
				return nil, err
			}
			values, err := decodeBlock(data, b)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", seg.path, err)
			}
			metrics.BlocksRead.WithLabelValues(b.Type.String()).Inc()
			lo := max(start-row, 0)
			hi := min(end-row, int64(b.Rows))
			out = append(out, values[lo:hi]...)
			row = blockEnd
		}
	}
	return out, nil
}
