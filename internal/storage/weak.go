package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/soltixdb/sframe/internal/fileio"
	"github.com/soltixdb/sframe/internal/logging"
)

func shortID() string {
	return uuid.NewString()[:8]
}

// saveWeakReference writes a table at path that reuses the source segments
// of every column stored on the destination's protocol. Each such column
// gets a one-column group index pointing at the unchanged segments. The
// remaining columns are gathered into a temporary table and saved in full
// next to path; a physical column referenced by several table columns is
// copied once. The frame index at path is written last.
func saveWeakReference(ctx context.Context, t *Table, path string, opts SaveOptions) (*Table, error) {
	log := logging.FromContext(ctx)
	base := tableBase(path)
	f := &FrameIndex{
		NumRows:  t.numRows,
		Names:    t.ColumnNames(),
		Columns:  make([]ColumnRef, len(t.columns)),
		Metadata: t.metadata,
	}

	var written []string
	cleanup := func(err error) error {
		var errs []error
		for _, p := range written {
			if rerr := fileio.Remove(ctx, p); rerr != nil && !errors.Is(rerr, fileio.ErrNotFound) {
				errs = append(errs, rerr)
			}
		}
		return errors.Join(append([]error{err}, errs...)...)
	}

	kept := make(map[string]string) // source ref -> one-column index
	copyPos := make(map[string]int) // source ref -> column of the copy table
	var (
		copyNames []string
		copyCols  []*Column
		pending   []int
	)
	for i, c := range t.columns {
		key := c.key()
		if !c.OnProtocol(path) {
			if _, ok := copyPos[key]; !ok {
				copyPos[key] = len(copyCols)
				copyNames = append(copyNames, fmt.Sprintf("X%d", len(copyCols)+1))
				copyCols = append(copyCols, c)
			}
			pending = append(pending, i)
			continue
		}
		idx, ok := kept[key]
		if !ok {
			ci, files := c.index()
			idx = absPath(fmt.Sprintf("%s.ref-%s%s", base, shortID(), GroupIndexExt))
			g := &GroupIndex{SegmentFiles: files, Columns: []ColumnIndex{ci}}
			if err := WriteGroupIndex(ctx, idx, g); err != nil {
				return nil, cleanup(err)
			}
			written = append(written, idx)
			kept[key] = idx
		}
		f.Columns[i] = ColumnRef{IndexPath: idx}
	}

	var copied *Table
	if len(copyCols) > 0 {
		tmp, err := NewTableFromColumns(copyNames, copyCols)
		if err != nil {
			return nil, cleanup(err)
		}
		copyOpts := opts
		copyOpts.KeepReferences = false
		copyPath := fmt.Sprintf("%s.copy-%s%s", base, shortID(), FrameIndexExt)
		log.Debug("Relocating columns", "columns", len(copyCols), "target", copyPath)

		copied, err = Save(ctx, tmp, copyPath, copyOpts)
		if err != nil {
			return nil, cleanup(fmt.Errorf("relocate columns: %w", err))
		}
		for _, i := range pending {
			f.Columns[i] = copied.columns[copyPos[t.columns[i].key()]].ref
		}
	}

	if err := WriteFrameIndex(ctx, path, f); err != nil {
		if copied != nil {
			err = errors.Join(err, removeTable(ctx, copied))
		}
		return nil, cleanup(err)
	}
	if copied != nil {
		// only the copy's group index and segments are referenced
		if err := fileio.Remove(ctx, copied.path); err != nil {
			log.Warn("Failed to remove relocation frame index", "path", copied.path, "error", err)
		}
	}
	log.Debug("Weak reference index written",
		"kept", len(t.columns)-len(pending),
		"copied", len(pending))
	return Open(ctx, path)
}
