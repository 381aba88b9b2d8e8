package planner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soltixdb/sframe/internal/config"
	"github.com/soltixdb/sframe/internal/fileio"
	"github.com/soltixdb/sframe/internal/logging"
	"github.com/soltixdb/sframe/internal/metrics"
	"github.com/soltixdb/sframe/internal/optimizer"
	"github.com/soltixdb/sframe/internal/query"
	"github.com/soltixdb/sframe/internal/storage"
)

// Materialization modes, also used as metric labels.
const (
	ModeParallel = "parallel"
	ModeSerial   = "serial"
)

// Options controls Materialize.
type Options struct {
	// Path of the output ".frame_idx". Empty writes a uniquely named table
	// under TempDir.
	Path    string
	TempDir string
	// Names of the output columns; X1..Xn when empty.
	Names    []string
	Segments int
	// Workers bounds the number of segments evaluated at once.
	Workers int
	// ChunkRows is the number of source rows evaluated per slice.
	ChunkRows int64
	// DisableOptimization materializes the plan as given.
	DisableOptimization bool
	// Naive evaluates the whole plan at once even when it could be sliced.
	Naive     bool
	Optimizer optimizer.Options
	Write     storage.WriteOptions
}

func DefaultOptions() Options {
	return Options{
		TempDir:   os.TempDir(),
		Segments:  1,
		Workers:   4,
		ChunkRows: 64 * 1024,
		Optimizer: optimizer.DefaultOptions(),
		Write:     storage.DefaultWriteOptions(),
	}
}

// OptionsFromConfig derives materialization options from the storage and
// query sections.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	write, err := storage.WriteOptionsFromConfig(cfg.Storage)
	if err != nil {
		return Options{}, err
	}
	opts := DefaultOptions()
	opts.TempDir = cfg.Storage.TempDir
	opts.Segments = cfg.Storage.DefaultSegments
	opts.Workers = cfg.Query.EffectiveWorkers()
	opts.DisableOptimization = cfg.Query.DisableOptimization
	opts.Naive = cfg.Query.NaiveMaterialize
	opts.Optimizer = optimizer.OptionsFromConfig(cfg.Query)
	opts.Write = write
	return opts, nil
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TempDir == "" {
		o.TempDir = d.TempDir
	}
	if o.Segments <= 0 {
		o.Segments = d.Segments
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.ChunkRows <= 0 {
		o.ChunkRows = d.ChunkRows
	}
	if o.Write.BlockRows == 0 {
		o.Write = d.Write
	}
	return o
}

// Materialize evaluates the plan rooted at root and stores the result as a
// new table. Plans whose sources all have the same length and that are
// parallel-slicable are evaluated one goroutine per output segment, a chunk
// of source rows at a time; anything else is evaluated in one piece.
func Materialize(ctx context.Context, root *query.Node, opts Options) (*storage.Table, error) {
	opts = opts.withDefaults()
	if logging.JobID(ctx) == "" {
		ctx = logging.WithJobID(ctx, uuid.NewString())
	}
	path := opts.Path
	if path == "" {
		path = fileio.Join(opts.TempDir, uuid.NewString()+storage.FrameIndexExt)
	}
	ctx = logging.WithTable(ctx, path)
	log := logging.FromContext(ctx)

	plan := root
	if !opts.DisableOptimization {
		var err error
		if plan, err = optimizer.Optimize(ctx, root, opts.Optimizer); err != nil {
			return nil, err
		}
	}

	types := query.InferTypes(plan)
	names := opts.Names
	if len(names) == 0 {
		names = make([]string, len(types))
		for i := range names {
			names[i] = fmt.Sprintf("X%d", i+1)
		}
	}
	if len(names) != len(types) {
		return nil, fmt.Errorf("plan has %d columns, %d names given", len(types), len(names))
	}

	mode := ModeSerial
	length, sameLength := query.SourceLength(plan)
	if !opts.Naive && sameLength && query.IsParallelSlicable(plan) {
		mode = ModeParallel
	}
	log.Info("Materializing plan",
		"mode", mode,
		"columns", len(types),
		"segments", opts.Segments,
		"optimized", !opts.DisableOptimization)

	timer := metrics.NewTimer()
	w, err := storage.OpenForWrite(ctx, path, names, types, opts.Segments, opts.Write)
	if err != nil {
		return nil, err
	}
	if mode == ModeParallel {
		err = materializeParallel(ctx, plan, w, length, opts)
	} else {
		err = materializeSerial(ctx, plan, w)
	}
	if err != nil {
		if aerr := w.Abort(ctx); aerr != nil {
			err = errors.Join(err, aerr)
		}
		log.Error("Materialization failed", "mode", mode, "error", err)
		return nil, err
	}
	t, err := w.Close(ctx)
	if err != nil {
		return nil, err
	}
	elapsed := timer.ObserveDuration(metrics.MaterializeDuration.WithLabelValues(mode))
	metrics.RowsMaterialized.WithLabelValues(mode).Add(float64(t.NumRows()))
	log.Info("Plan materialized",
		"mode", mode,
		"rows", t.NumRows(),
		"duration", elapsed)
	return t, nil
}

// materializeParallel gives segment s the source rows
// [length*s/nseg, length*(s+1)/nseg) and evaluates them in chunks.
func materializeParallel(ctx context.Context, plan *query.Node, w *storage.Writer, length int64, opts Options) error {
	nseg := int64(w.NumSegments())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for s := int64(0); s < nseg; s++ {
		begin, end := length*s/nseg, length*(s+1)/nseg
		out := w.OutputIterator(int(s))
		g.Go(func() error {
			for lo := begin; lo < end; lo += opts.ChunkRows {
				hi := min(lo+opts.ChunkRows, end)
				sliced, err := query.MakeSlicedGraph(plan, lo, hi)
				if err != nil {
					return err
				}
				b, err := query.Evaluate(gctx, sliced)
				if err != nil {
					return err
				}
				if err := out.WriteBatch(b); err != nil {
					return fmt.Errorf("segment %d: %w", s, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// materializeSerial evaluates the whole plan and splits its rows evenly
// across the output segments.
func materializeSerial(ctx context.Context, plan *query.Node, w *storage.Writer) error {
	b, err := query.Evaluate(ctx, plan)
	if err != nil {
		return err
	}
	n, nseg := b.NumRows(), w.NumSegments()
	for s := 0; s < nseg; s++ {
		out := w.OutputIterator(s)
		for i := n * s / nseg; i < n*(s+1)/nseg; i++ {
			if err := out.WriteRow(b.Row(i).Values()); err != nil {
				return fmt.Errorf("segment %d: %w", s, err)
			}
		}
	}
	return nil
}
