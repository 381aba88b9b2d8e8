package storage

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/soltixdb/sframe/internal/fileio"
)

const (
	// Segment file magic: "SSEG"
	SegmentMagic = 0x47455353

	// segmentHeaderSize covers magic + reserved word; blocks follow.
	segmentHeaderSize = 8
)

// segmentWriter appends blocks to a new segment file. The file becomes
// visible when Close succeeds.
type segmentWriter struct {
	path   string
	file   fileio.WritableFile
	offset int64
}

func createSegment(ctx context.Context, path string) (*segmentWriter, error) {
	f, err := fileio.Create(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment %s: %w", path, err)
	}
	header := make([]byte, segmentHeaderSize)
	binary.LittleEndian.PutUint32(header, SegmentMagic)
	if _, err := f.Write(header); err != nil {
		_ = f.Abort()
		return nil, fmt.Errorf("failed to write segment header: %w", err)
	}
	return &segmentWriter{path: path, file: f, offset: segmentHeaderSize}, nil
}

// appendBlock writes data and returns the offset it was written at.
func (w *segmentWriter) appendBlock(data []byte) (int64, error) {
	off := w.offset
	if _, err := w.file.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write block to %s: %w", w.path, err)
	}
	w.offset += int64(len(data))
	return off, nil
}

func (w *segmentWriter) close() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close segment %s: %w", w.path, err)
	}
	return nil
}

func (w *segmentWriter) abort() error {
	return w.file.Abort()
}

// segmentReader reads blocks from an existing segment file.
type segmentReader struct {
	path string
	file fileio.File
}

func openSegment(ctx context.Context, path string) (*segmentReader, error) {
	f, err := fileio.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", path, err)
	}
	header := make([]byte, segmentHeaderSize)
	if f.Size() < segmentHeaderSize {
		_ = f.Close()
		return nil, fmt.Errorf("%w: segment %s too small", ErrCorruptIndex, path)
	}
	if _, err := f.ReadAt(header, 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read segment header %s: %w", path, err)
	}
	if magic := binary.LittleEndian.Uint32(header); magic != SegmentMagic {
		_ = f.Close()
		return nil, fmt.Errorf("%w: invalid segment magic 0x%X in %s", ErrCorruptIndex, magic, path)
	}
	return &segmentReader{path: path, file: f}, nil
}

// readBlock returns the stored bytes of a block.
func (r *segmentReader) readBlock(info BlockInfo) ([]byte, error) {
	if info.Offset < segmentHeaderSize || info.Offset+int64(info.Length) > r.file.Size() {
		return nil, fmt.Errorf("%w: block [%d,+%d) outside segment %s", ErrCorruptIndex, info.Offset, info.Length, r.path)
	}
	data := make([]byte, info.Length)
	if info.Length == 0 {
		return data, nil
	}
	if _, err := r.file.ReadAt(data, info.Offset); err != nil {
		return nil, fmt.Errorf("failed to read block from %s: %w", r.path, err)
	}
	return data, nil
}

func (r *segmentReader) close() error {
	return r.file.Close()
}

// segmentCache keeps one reader per segment path.
type segmentCache struct {
	readers map[string]*segmentReader
}

func newSegmentCache() *segmentCache {
	return &segmentCache{readers: make(map[string]*segmentReader)}
}

func (c *segmentCache) get(ctx context.Context, path string) (*segmentReader, error) {
	if r, ok := c.readers[path]; ok {
		return r, nil
	}
	r, err := openSegment(ctx, path)
	if err != nil {
		return nil, err
	}
	c.readers[path] = r
	return r, nil
}

func (c *segmentCache) close() error {
	var firstErr error
	for path, r := range c.readers {
		if err := r.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close segment %s: %w", path, err)
		}
		delete(c.readers, path)
	}
	return firstErr
}
