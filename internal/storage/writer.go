package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/soltixdb/sframe/internal/batch"
	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/config"
	"github.com/soltixdb/sframe/internal/fileio"
	"github.com/soltixdb/sframe/internal/logging"
	"github.com/soltixdb/sframe/internal/metrics"
)

// WriteOptions controls the block layout of new tables.
type WriteOptions struct {
	BlockRows     int
	Compression   compression.Algorithm
	FormatVersion compression.FormatVersion
}

// DefaultWriteOptions matches the default storage configuration.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{
		BlockRows:     4096,
		Compression:   compression.Snappy,
		FormatVersion: compression.CurrentFormat,
	}
}

// WriteOptionsFromConfig converts the storage section of the configuration.
func WriteOptionsFromConfig(cfg config.StorageConfig) (WriteOptions, error) {
	algo, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return WriteOptions{}, err
	}
	opts := WriteOptions{
		BlockRows:     cfg.BlockRows,
		Compression:   algo,
		FormatVersion: compression.FormatVersion(cfg.FormatVersion),
	}
	return opts, opts.validate()
}

func (o WriteOptions) validate() error {
	if o.BlockRows < 1 {
		return fmt.Errorf("block rows must be positive, got %d", o.BlockRows)
	}
	if o.FormatVersion != compression.FormatV1 && o.FormatVersion != compression.FormatV2 {
		return fmt.Errorf("unsupported format version %d", o.FormatVersion)
	}
	if _, err := compression.GetCompressor(o.Compression); err != nil {
		return err
	}
	return nil
}

// Writer creates a new table. Rows are appended through one
// OutputIterator per segment; iterators of different segments may be
// used from different goroutines. Nothing is visible at the table path
// until Close succeeds: segment files are completed first, then the group
// index, then the frame index.
type Writer struct {
	path     string
	base     string
	names    []string
	types    []compression.ColumnType
	metadata []map[string]string
	tableMD  map[string]string
	opts     WriteOptions
	outputs  []*OutputIterator
	done     bool
}

// OpenForWrite starts a table at path (a ".frame_idx" file) with the
// given columns and number of segments.
func OpenForWrite(ctx context.Context, path string, names []string, types []compression.ColumnType, nsegments int, opts WriteOptions) (*Writer, error) {
	if len(names) != len(types) {
		return nil, fmt.Errorf("%d names for %d types", len(names), len(types))
	}
	if nsegments < 1 {
		return nil, fmt.Errorf("number of segments must be positive, got %d", nsegments)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", name)
		}
		seen[name] = struct{}{}
		if !types[i].Valid() {
			return nil, fmt.Errorf("column %q has invalid type %d", name, types[i])
		}
	}

	w := &Writer{
		path:     path,
		base:     tableBase(path),
		names:    append([]string(nil), names...),
		types:    append([]compression.ColumnType(nil), types...),
		metadata: make([]map[string]string, len(names)),
		opts:     opts,
	}
	for i := 0; i < nsegments; i++ {
		seg, err := createSegment(ctx, segmentPath(w.base, i))
		if err != nil {
			_ = w.Abort(ctx)
			return nil, err
		}
		w.outputs = append(w.outputs, newOutputIterator(w, i, seg))
	}
	return w, nil
}

// Path is the frame index the writer will produce.
func (w *Writer) Path() string { return w.path }

func (w *Writer) NumSegments() int { return len(w.outputs) }

func (w *Writer) ColumnNames() []string { return append([]string(nil), w.names...) }

func (w *Writer) ColumnTypes() []compression.ColumnType {
	return append([]compression.ColumnType(nil), w.types...)
}

// OutputIterator returns the appender of segment seg.
func (w *Writer) OutputIterator(seg int) *OutputIterator {
	return w.outputs[seg]
}

// SetColumnMetadata attaches key/value metadata to column i.
func (w *Writer) SetColumnMetadata(i int, md map[string]string) {
	w.metadata[i] = md
}

// SetMetadata attaches table-level key/value metadata.
func (w *Writer) SetMetadata(md map[string]string) {
	w.tableMD = md
}

// Close completes every segment, writes the indexes and reopens the table.
func (w *Writer) Close(ctx context.Context) (*Table, error) {
	if w.done {
		return nil, fmt.Errorf("writer for %s already closed", w.path)
	}
	for _, o := range w.outputs {
		if err := o.finish(); err != nil {
			return nil, errors.Join(err, w.Abort(ctx))
		}
	}
	w.done = true

	g := &GroupIndex{SegmentFiles: make([]string, len(w.outputs))}
	for i := range w.outputs {
		g.SegmentFiles[i] = absPath(segmentPath(w.base, i))
	}
	var numRows int64
	for c := range w.names {
		ci := ColumnIndex{Type: w.types[c], Metadata: w.metadata[c]}
		for _, o := range w.outputs {
			ci.Segments = append(ci.Segments, SegmentBlocks{Rows: o.rows[c], Blocks: o.blocks[c]})
		}
		rows := ci.NumRows()
		if c == 0 {
			numRows = rows
		} else if rows != numRows {
			err := fmt.Errorf("column %q has %d rows, expected %d", w.names[c], rows, numRows)
			return nil, errors.Join(err, w.removeSegments(ctx))
		}
		g.Columns = append(g.Columns, ci)
	}

	sidx := absPath(groupIndexPath(w.base))
	if err := WriteGroupIndex(ctx, sidx, g); err != nil {
		return nil, errors.Join(err, w.removeSegments(ctx))
	}
	f := &FrameIndex{NumRows: numRows, Names: w.names, Metadata: w.tableMD}
	for c := range w.names {
		f.Columns = append(f.Columns, ColumnRef{IndexPath: sidx, Column: c})
	}
	if err := WriteFrameIndex(ctx, w.path, f); err != nil {
		if rerr := fileio.Remove(ctx, sidx); rerr != nil && !errors.Is(rerr, fileio.ErrNotFound) {
			err = errors.Join(err, rerr)
		}
		return nil, errors.Join(err, w.removeSegments(ctx))
	}

	logging.FromContext(ctx).Debug("Table written",
		"path", w.path,
		"rows", numRows,
		"columns", len(w.names),
		"segments", len(w.outputs))
	return Open(ctx, w.path)
}

// Abort discards everything written so far.
func (w *Writer) Abort(ctx context.Context) error {
	w.done = true
	var errs []error
	for _, o := range w.outputs {
		if o.seg != nil {
			errs = append(errs, o.seg.abort())
			o.seg = nil
		}
	}
	errs = append(errs, w.removeSegments(ctx))
	return errors.Join(errs...)
}

// removeSegments deletes segment files that were already completed.
func (w *Writer) removeSegments(ctx context.Context) error {
	var errs []error
	for i, o := range w.outputs {
		if !o.closed {
			continue
		}
		if err := fileio.Remove(ctx, segmentPath(w.base, i)); err != nil && !errors.Is(err, fileio.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OutputIterator appends rows to one segment of a table being written.
// Each column is buffered separately and flushed as a block every
// BlockRows values.
type OutputIterator struct {
	w       *Writer
	index   int
	seg     *segmentWriter
	closed  bool
	buffers [][]interface{}
	blocks  [][]BlockInfo
	rows    []int64
}

func newOutputIterator(w *Writer, index int, seg *segmentWriter) *OutputIterator {
	n := len(w.names)
	return &OutputIterator{
		w:       w,
		index:   index,
		seg:     seg,
		buffers: make([][]interface{}, n),
		blocks:  make([][]BlockInfo, n),
		rows:    make([]int64, n),
	}
}

// Segment is the segment number written by this iterator.
func (o *OutputIterator) Segment() int { return o.index }

// WriteRow appends one row. Values are coerced to the column types.
func (o *OutputIterator) WriteRow(values []interface{}) error {
	if len(values) != len(o.w.types) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(o.w.types))
	}
	for c, v := range values {
		if err := o.appendValue(c, v); err != nil {
			return err
		}
	}
	for c := range o.buffers {
		if err := o.flushFull(c); err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch appends every row of b.
func (o *OutputIterator) WriteBatch(b *batch.Batch) error {
	if b.NumColumns() != len(o.w.types) {
		return fmt.Errorf("batch has %d columns, table has %d", b.NumColumns(), len(o.w.types))
	}
	for c, col := range b.CColumns() {
		for _, v := range col {
			if err := o.appendValue(c, v); err != nil {
				return err
			}
		}
		if err := o.flushFull(c); err != nil {
			return err
		}
	}
	return nil
}

func (o *OutputIterator) appendValue(c int, v interface{}) error {
	if o.seg == nil {
		return fmt.Errorf("segment %d of %s is closed", o.index, o.w.path)
	}
	want := o.w.types[c]
	cv, err := compression.CoerceValue(v, want)
	if err != nil {
		row := int(o.rows[c]) + len(o.buffers[c])
		return fmt.Errorf("column %q: %w", o.w.names[c], &batch.TypeError{Column: c, Row: row, Value: v, Want: want, Err: err})
	}
	o.buffers[c] = append(o.buffers[c], cv)
	return nil
}

func (o *OutputIterator) flushFull(c int) error {
	for len(o.buffers[c]) >= o.w.opts.BlockRows {
		if err := o.flushBlock(c, o.w.opts.BlockRows); err != nil {
			return err
		}
	}
	return nil
}

// flushBlock encodes the first n buffered values of column c.
func (o *OutputIterator) flushBlock(c, n int) error {
	values := o.buffers[c][:n]
	t := o.w.types[c]
	data, err := encodeBlock(values, t, o.w.opts.FormatVersion, o.w.opts.Compression)
	if err != nil {
		return fmt.Errorf("column %q: %w", o.w.names[c], err)
	}
	info := BlockInfo{
		Length:      uint32(len(data)),
		Rows:        uint32(n),
		Type:        t,
		Version:     o.w.opts.FormatVersion,
		Compression: o.w.opts.Compression,
	}
	if err := o.appendBlock(c, data, info); err != nil {
		return err
	}
	rest := copy(o.buffers[c], o.buffers[c][n:])
	clear(o.buffers[c][rest:])
	o.buffers[c] = o.buffers[c][:rest]
	return nil
}

// appendRawBlock writes an already encoded block of column c verbatim.
func (o *OutputIterator) appendRawBlock(c int, data []byte, info BlockInfo) error {
	if o.seg == nil {
		return fmt.Errorf("segment %d of %s is closed", o.index, o.w.path)
	}
	if len(o.buffers[c]) > 0 {
		return fmt.Errorf("column %q has buffered rows; raw blocks would reorder them", o.w.names[c])
	}
	if info.Type != o.w.types[c] {
		return fmt.Errorf("column %q: block of type %s, column is %s", o.w.names[c], info.Type, o.w.types[c])
	}
	return o.appendBlock(c, data, info)
}

func (o *OutputIterator) appendBlock(c int, data []byte, info BlockInfo) error {
	off, err := o.seg.appendBlock(data)
	if err != nil {
		return err
	}
	info.Offset = off
	o.blocks[c] = append(o.blocks[c], info)
	o.rows[c] += int64(info.Rows)
	metrics.BlocksWritten.WithLabelValues(info.Type.String()).Inc()
	metrics.BytesWritten.Add(float64(len(data)))
	return nil
}

// finish flushes partial blocks and completes the segment file.
func (o *OutputIterator) finish() error {
	if o.seg == nil {
		return fmt.Errorf("segment %d of %s is closed", o.index, o.w.path)
	}
	for c := range o.buffers {
		if n := len(o.buffers[c]); n > 0 {
			if err := o.flushBlock(c, n); err != nil {
				return err
			}
		}
	}
	if err := o.seg.close(); err != nil {
		return err
	}
	o.seg = nil
	o.closed = true
	return nil
}
