package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/fileio"
)

const (
	// Group index magic: "SIDX" (Sframe InDeX)
	GroupIndexMagic = 0x58444953

	// Frame index magic: "SFRM" (Sframe FRaMe)
	FrameIndexMagic = 0x4D524653

	indexVersion = 1

	GroupIndexExt = ".sidx"
	FrameIndexExt = ".frame_idx"
)

// ErrCorruptIndex is returned for index or segment files that fail to
// decode.
var ErrCorruptIndex = errors.New("corrupt index")

// SegmentBlocks lists the blocks one column owns in one segment file.
type SegmentBlocks struct {
	Rows   int64
	Blocks []BlockInfo
}

// ColumnIndex describes one column of a group index.
type ColumnIndex struct {
	Type     compression.ColumnType
	Metadata map[string]string
	// Segments[i] lives in GroupIndex.SegmentFiles[i].
	Segments []SegmentBlocks
}

// NumRows sums the rows of every segment.
func (c *ColumnIndex) NumRows() int64 {
	var n int64
	for _, s := range c.Segments {
		n += s.Rows
	}
	return n
}

// SegmentSizes returns the row count per segment.
func (c *ColumnIndex) SegmentSizes() []int64 {
	sizes := make([]int64, len(c.Segments))
	for i, s := range c.Segments {
		sizes[i] = s.Rows
	}
	return sizes
}

// GroupIndex describes several columns stored in one set of segment
// files. Segment paths are kept resolved in memory and stored relative to
// the index file when they share its directory.
type GroupIndex struct {
	SegmentFiles []string
	Columns      []ColumnIndex
}

// ColumnRef names column Column of the group index at IndexPath. It is
// written as "<index>:<column>".
type ColumnRef struct {
	IndexPath string
	Column    int
}

func (r ColumnRef) String() string {
	return r.IndexPath + ":" + strconv.Itoa(r.Column)
}

// ParseColumnRef parses "<index>[:<column>]". A missing column suffix
// means column 0.
func ParseColumnRef(s string) (ColumnRef, error) {
	if i := strings.LastIndexByte(s, ':'); i > 0 {
		if n, err := strconv.Atoi(s[i+1:]); err == nil {
			if n < 0 {
				return ColumnRef{}, fmt.Errorf("invalid column ref %q", s)
			}
			return ColumnRef{IndexPath: s[:i], Column: n}, nil
		}
	}
	if s == "" {
		return ColumnRef{}, fmt.Errorf("empty column ref")
	}
	return ColumnRef{IndexPath: s}, nil
}

// FrameIndex is the top-level description of a table.
type FrameIndex struct {
	NumRows int64
	Names   []string
	Columns []ColumnRef
	// Metadata is table-level key/value metadata.
	Metadata map[string]string
}

// tableBase strips the frame index extension; sibling files are named
// from the result.
func tableBase(path string) string {
	return strings.TrimSuffix(path, FrameIndexExt)
}

func groupIndexPath(base string) string { return base + GroupIndexExt }

func segmentPath(base string, i int) string { return fmt.Sprintf("%s.%04d", base, i) }

// absPath makes plain local paths absolute so that references stay valid
// when written into an index in another directory.
func absPath(p string) string {
	if fileio.Protocol(p) != fileio.ProtocolLocal || strings.Contains(p, "://") {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Encode encodes the group index to binary format. dir is the directory
// of the index file.
func (g *GroupIndex) Encode(dir string) []byte {
	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint32(buf, GroupIndexMagic)
	buf = binary.LittleEndian.AppendUint32(buf, indexVersion)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(g.SegmentFiles)))
	for _, p := range g.SegmentFiles {
		buf = appendString(buf, fileio.Rel(dir, p))
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(g.Columns)))
	for _, col := range g.Columns {
		buf = append(buf, byte(col.Type))

		buf = appendMetadata(buf, col.Metadata)

		for _, seg := range col.Segments {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(seg.Rows))
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(seg.Blocks)))
			for _, b := range seg.Blocks {
				buf = binary.LittleEndian.AppendUint64(buf, uint64(b.Offset))
				buf = binary.LittleEndian.AppendUint32(buf, b.Length)
				buf = binary.LittleEndian.AppendUint32(buf, b.Rows)
				buf = append(buf, byte(b.Type))
				buf = binary.LittleEndian.AppendUint16(buf, uint16(b.Version))
				buf = append(buf, byte(b.Compression))
			}
		}
	}
	return buf
}

// appendMetadata writes a count followed by key/value pairs in key order.
func appendMetadata(buf []byte, md map[string]string) []byte {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendString(buf, md[k])
	}
	return buf
}

// metadata reads what appendMetadata wrote. An empty map decodes as nil.
func (r *indexReader) metadata() map[string]string {
	n := r.count(8)
	if n == 0 {
		return nil
	}
	md := make(map[string]string, n)
	for i := 0; i < n && r.err == nil; i++ {
		k := r.str()
		md[k] = r.str()
	}
	return md
}

// DecodeGroupIndex decodes a group index stored in dir.
func DecodeGroupIndex(data []byte, dir string) (*GroupIndex, error) {
	r := &indexReader{data: data}
	if magic := r.u32(); magic != GroupIndexMagic {
		return nil, fmt.Errorf("%w: invalid group index magic 0x%X", ErrCorruptIndex, magic)
	}
	if v := r.u32(); v != indexVersion {
		return nil, fmt.Errorf("%w: unsupported group index version %d", ErrCorruptIndex, v)
	}

	g := &GroupIndex{}
	nseg := r.count(4)
	for i := 0; i < nseg && r.err == nil; i++ {
		g.SegmentFiles = append(g.SegmentFiles, fileio.Resolve(dir, r.str()))
	}

	ncol := r.count(1)
	for c := 0; c < ncol && r.err == nil; c++ {
		col := ColumnIndex{Type: compression.ColumnType(r.u8())}
		if !col.Type.Valid() {
			return nil, fmt.Errorf("%w: column %d has invalid type %d", ErrCorruptIndex, c, col.Type)
		}
		col.Metadata = r.metadata()
		col.Segments = make([]SegmentBlocks, nseg)
		for s := 0; s < nseg && r.err == nil; s++ {
			seg := SegmentBlocks{Rows: int64(r.u64())}
			nblocks := r.count(blockInfoSize)
			var rows int64
			for b := 0; b < nblocks && r.err == nil; b++ {
				info := BlockInfo{
					Offset:      int64(r.u64()),
					Length:      r.u32(),
					Rows:        r.u32(),
					Type:        compression.ColumnType(r.u8()),
					Version:     compression.FormatVersion(r.u16()),
					Compression: compression.Algorithm(r.u8()),
				}
				rows += int64(info.Rows)
				seg.Blocks = append(seg.Blocks, info)
			}
			if r.err == nil && rows != seg.Rows {
				return nil, fmt.Errorf("%w: column %d segment %d has %d rows in blocks, %d recorded",
					ErrCorruptIndex, c, s, rows, seg.Rows)
			}
			col.Segments[s] = seg
		}
		g.Columns = append(g.Columns, col)
	}
	if r.err != nil {
		return nil, r.err
	}
	return g, nil
}

// Encode encodes the frame index. Column refs are written relative to dir.
func (f *FrameIndex) Encode(dir string) []byte {
	buf := make([]byte, 0, 128)
	buf = binary.LittleEndian.AppendUint32(buf, FrameIndexMagic)
	buf = binary.LittleEndian.AppendUint32(buf, indexVersion)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.NumRows))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f.Names)))
	for i, name := range f.Names {
		buf = appendString(buf, name)
		ref := f.Columns[i]
		ref.IndexPath = fileio.Rel(dir, ref.IndexPath)
		buf = appendString(buf, ref.String())
	}
	return appendMetadata(buf, f.Metadata)
}

// DecodeFrameIndex decodes a frame index stored in dir.
func DecodeFrameIndex(data []byte, dir string) (*FrameIndex, error) {
	r := &indexReader{data: data}
	if magic := r.u32(); magic != FrameIndexMagic {
		return nil, fmt.Errorf("%w: invalid frame index magic 0x%X", ErrCorruptIndex, magic)
	}
	if v := r.u32(); v != indexVersion {
		return nil, fmt.Errorf("%w: unsupported frame index version %d", ErrCorruptIndex, v)
	}
	f := &FrameIndex{NumRows: int64(r.u64())}
	n := r.count(8)
	for i := 0; i < n && r.err == nil; i++ {
		f.Names = append(f.Names, r.str())
		ref, err := ParseColumnRef(r.str())
		if err != nil && r.err == nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		ref.IndexPath = fileio.Resolve(dir, ref.IndexPath)
		f.Columns = append(f.Columns, ref)
	}
	f.Metadata = r.metadata()
	if r.err != nil {
		return nil, r.err
	}
	return f, nil
}

// WriteGroupIndex atomically writes g to path.
func WriteGroupIndex(ctx context.Context, path string, g *GroupIndex) error {
	if err := fileio.WriteFile(ctx, path, g.Encode(fileio.Dir(path))); err != nil {
		return fmt.Errorf("failed to write group index %s: %w", path, err)
	}
	return nil
}

// ReadGroupIndex reads the group index at path.
func ReadGroupIndex(ctx context.Context, path string) (*GroupIndex, error) {
	data, err := fileio.ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read group index %s: %w", path, err)
	}
	g, err := DecodeGroupIndex(data, fileio.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// WriteFrameIndex atomically writes f to path.
func WriteFrameIndex(ctx context.Context, path string, f *FrameIndex) error {
	if err := fileio.WriteFile(ctx, path, f.Encode(fileio.Dir(path))); err != nil {
		return fmt.Errorf("failed to write frame index %s: %w", path, err)
	}
	return nil
}

// ReadFrameIndex reads the frame index at path.
func ReadFrameIndex(ctx context.Context, path string) (*FrameIndex, error) {
	data, err := fileio.ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame index %s: %w", path, err)
	}
	f, err := DecodeFrameIndex(data, fileio.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// indexReader decodes little-endian fields, latching the first error.
type indexReader struct {
	data []byte
	off  int
	err  error
}

func (r *indexReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("%w: truncated at offset %d", ErrCorruptIndex, r.off)
		return false
	}
	return true
}

func (r *indexReader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *indexReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *indexReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *indexReader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

// count reads an element count and rejects counts that cannot fit in the
// remaining bytes given a minimum element size.
func (r *indexReader) count(minElemSize int) int {
	n := int(r.u32())
	if r.err == nil && n*minElemSize > len(r.data)-r.off {
		r.err = fmt.Errorf("%w: count %d exceeds remaining data", ErrCorruptIndex, n)
		return 0
	}
	return n
}

func (r *indexReader) str() string {
	n := int(r.u32())
	if !r.need(n) {
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}
