package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soltixdb/sframe/internal/batch"
	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/fileio"
	"github.com/soltixdb/sframe/internal/logging"
	"github.com/soltixdb/sframe/internal/metrics"
)

// ErrCanceled wraps the context error of an interrupted save or read.
var ErrCanceled = errors.New("operation canceled")

// SaveStrategy names how a table is copied to a new location.
type SaveStrategy string

const (
	// StrategyNaive decodes every row and writes it through a Writer.
	StrategyNaive SaveStrategy = "naive"
	// StrategyBlockPreserving copies encoded blocks without decoding.
	StrategyBlockPreserving SaveStrategy = "block_preserving"
	// StrategyWeakReference references existing segments where possible.
	StrategyWeakReference SaveStrategy = "weak_reference"
)

// SaveOptions controls Save.
type SaveOptions struct {
	// Segments is the number of output segments; 0 keeps the source count.
	Segments int
	// KeepReferences lets the saved table point at the source segments
	// instead of copying them when they share the destination protocol.
	KeepReferences bool
	Write          WriteOptions
}

func DefaultSaveOptions() SaveOptions {
	return SaveOptions{Write: DefaultWriteOptions()}
}

// ChooseStrategy picks the save strategy for t. Columns written in an
// older format, or a request for a non-current output format, force a
// naive rewrite.
func ChooseStrategy(t *Table, opts SaveOptions) SaveStrategy {
	if opts.Write.FormatVersion != compression.CurrentFormat {
		return StrategyNaive
	}
	for _, c := range t.columns {
		if c.Version() < compression.CurrentFormat {
			return StrategyNaive
		}
	}
	if opts.KeepReferences {
		return StrategyWeakReference
	}
	return StrategyBlockPreserving
}

// Save writes t to path (a ".frame_idx" file) and returns the saved table.
func Save(ctx context.Context, t *Table, path string, opts SaveOptions) (*Table, error) {
	return SaveWith(ctx, t, path, opts, ChooseStrategy(t, opts))
}

// SaveWith writes t to path with an explicit strategy.
func SaveWith(ctx context.Context, t *Table, path string, opts SaveOptions, strategy SaveStrategy) (*Table, error) {
	if logging.JobID(ctx) == "" {
		ctx = logging.WithJobID(ctx, uuid.NewString())
	}
	ctx = logging.WithTable(ctx, path)
	log := logging.FromContext(ctx)
	log.Info("Saving table",
		"strategy", string(strategy),
		"rows", t.NumRows(),
		"columns", t.NumColumns())

	timer := metrics.NewTimer()
	var (
		out *Table
		err error
	)
	switch strategy {
	case StrategyNaive:
		out, err = saveNaive(ctx, t, path, opts)
	case StrategyBlockPreserving:
		out, err = saveBlockPreserving(ctx, t, path, opts)
	case StrategyWeakReference:
		out, err = saveWeakReference(ctx, t, path, opts)
	default:
		err = fmt.Errorf("unknown save strategy %q", strategy)
	}
	elapsed := timer.ObserveDuration(metrics.SaveDuration.WithLabelValues(string(strategy)))

	if err != nil {
		metrics.Saves.WithLabelValues(string(strategy), "error").Inc()
		log.Error("Save failed", "strategy", string(strategy), "error", err)
		return nil, err
	}
	metrics.Saves.WithLabelValues(string(strategy), "success").Inc()
	log.Info("Table saved", "strategy", string(strategy), "duration", elapsed)
	return out, nil
}

func segmentsFor(t *Table, opts SaveOptions) int {
	if opts.Segments > 0 {
		return opts.Segments
	}
	if len(t.columns) > 0 && t.columns[0].NumSegments() > 0 {
		return t.columns[0].NumSegments()
	}
	return 1
}

// checkDestination rejects outputs that would overwrite segment files t
// still reads from.
func checkDestination(t *Table, path string, nseg int) error {
	base := tableBase(path)
	targets := make(map[string]struct{}, nseg)
	for i := 0; i < nseg; i++ {
		targets[absPath(segmentPath(base, i))] = struct{}{}
	}
	for _, c := range t.columns {
		for _, p := range c.SegmentFiles() {
			if _, ok := targets[absPath(p)]; ok {
				return fmt.Errorf("cannot save over segment %s still referenced by the source", p)
			}
		}
	}
	return nil
}

func openWriterFor(ctx context.Context, t *Table, path string, opts SaveOptions) (*Writer, error) {
	nseg := segmentsFor(t, opts)
	if err := checkDestination(t, path, nseg); err != nil {
		return nil, err
	}
	w, err := OpenForWrite(ctx, path, t.names, t.ColumnTypes(), nseg, opts.Write)
	if err != nil {
		return nil, err
	}
	for i, c := range t.columns {
		w.SetColumnMetadata(i, c.metadata)
	}
	w.SetMetadata(t.metadata)
	return w, nil
}

// saveNaive rewrites every row. Output segments are filled in parallel,
// each from its own contiguous row range.
func saveNaive(ctx context.Context, t *Table, path string, opts SaveOptions) (*Table, error) {
	w, err := openWriterFor(ctx, t, path, opts)
	if err != nil {
		return nil, err
	}
	nseg := int64(w.NumSegments())
	chunk := int64(opts.Write.BlockRows)

	g, gctx := errgroup.WithContext(ctx)
	for s := int64(0); s < nseg; s++ {
		out := w.OutputIterator(int(s))
		begin := t.numRows * s / nseg
		end := t.numRows * (s + 1) / nseg
		g.Go(func() error {
			return copyRows(gctx, t, out, begin, end, chunk)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Join(err, w.Abort(ctx))
	}
	return w.Close(ctx)
}

func copyRows(ctx context.Context, t *Table, out *OutputIterator, begin, end, chunk int64) (err error) {
	r := t.Reader()
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	b := batch.New()
	for row := begin; row < end; row += chunk {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		if _, err := r.ReadRows(ctx, row, min(row+chunk, end), b); err != nil {
			return err
		}
		if err := out.WriteBatch(b); err != nil {
			return err
		}
	}
	return nil
}

// removeTable deletes the files of a table created by this package.
func removeTable(ctx context.Context, t *Table) error {
	var errs []error
	remove := func(p string) {
		if err := fileio.Remove(ctx, p); err != nil && !errors.Is(err, fileio.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	seen := make(map[string]struct{})
	for _, c := range t.columns {
		for _, p := range append(c.SegmentFiles(), c.ref.IndexPath) {
			if _, ok := seen[p]; !ok && p != "" {
				seen[p] = struct{}{}
				remove(p)
			}
		}
	}
	if t.path != "" {
		remove(t.path)
	}
	return errors.Join(errs...)
}
