package storage

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
)

// columnCursor walks the blocks of one source column in row order.
type columnCursor struct {
	column  int
	src     *Column
	seg     int
	block   int
	nextRow int64
}

// settle moves the cursor past empty segments. It reports whether a block
// remains.
func (c *columnCursor) settle() bool {
	for c.seg < len(c.src.segments) && c.block >= len(c.src.segments[c.seg].blocks) {
		c.seg++
		c.block = 0
	}
	return c.seg < len(c.src.segments)
}

func (c *columnCursor) current() (string, BlockInfo) {
	s := c.src.segments[c.seg]
	return s.path, s.blocks[c.block]
}

// cursorHeap orders cursors by the next row they emit; ties go to the
// lower column number.
type cursorHeap []*columnCursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	if h[i].nextRow != h[j].nextRow {
		return h[i].nextRow < h[j].nextRow
	}
	return h[i].column < h[j].column
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*columnCursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// saveBlockPreserving copies encoded blocks into a new table without
// decoding them. Blocks of all columns are interleaved by starting row and
// distributed over the output segments proportionally to that row.
func saveBlockPreserving(ctx context.Context, t *Table, path string, opts SaveOptions) (out *Table, err error) {
	w, err := openWriterFor(ctx, t, path, opts)
	if err != nil {
		return nil, err
	}
	sources := newSegmentCache()
	defer func() {
		if cerr := sources.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := mergeBlocks(ctx, t, w, sources); err != nil {
		return nil, errors.Join(err, w.Abort(ctx))
	}
	return w.Close(ctx)
}

func mergeBlocks(ctx context.Context, t *Table, w *Writer, sources *segmentCache) error {
	h := make(cursorHeap, 0, len(t.columns))
	for i, c := range t.columns {
		cur := &columnCursor{column: i, src: c}
		if cur.settle() {
			h = append(h, cur)
		}
	}
	heap.Init(&h)

	nseg := int64(w.NumSegments())
	total := t.numRows
	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		cur := h[0]
		segPath, info := cur.current()

		r, err := sources.get(ctx, segPath)
		if err != nil {
			return err
		}
		data, err := r.readBlock(info)
		if err != nil {
			return err
		}
		target := min(cur.nextRow*nseg/total, nseg-1)
		if err := w.OutputIterator(int(target)).appendRawBlock(cur.column, data, info); err != nil {
			return err
		}

		cur.nextRow += int64(info.Rows)
		cur.block++
		if cur.settle() {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	return nil
}
