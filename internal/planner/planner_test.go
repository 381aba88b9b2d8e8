package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/sframe/internal/batch"
	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/config"
	"github.com/soltixdb/sframe/internal/fileio"
	"github.com/soltixdb/sframe/internal/metrics"
	"github.com/soltixdb/sframe/internal/query"
	"github.com/soltixdb/sframe/internal/storage"
)

func writeSource(t *testing.T, name string, ncols, n int) *storage.Table {
	t.Helper()
	ctx := context.Background()
	names := make([]string, ncols)
	types := make([]compression.ColumnType, ncols)
	for c := range names {
		names[c] = fmt.Sprintf("%s%d", name, c)
		types[c] = compression.ColumnTypeInt64
	}
	opts := storage.DefaultWriteOptions()
	opts.BlockRows = 8
	w, err := storage.OpenForWrite(ctx, "mem://"+t.Name()+"/"+name+storage.FrameIndexExt, names, types, 2, opts)
	require.NoError(t, err)
	for r := 0; r < n; r++ {
		row := make([]interface{}, ncols)
		for c := range row {
			row[c] = int64((r*13 + c*5) % 41)
		}
		require.NoError(t, w.OutputIterator(r*2/max(n, 1)).WriteRow(row))
	}
	tbl, err := w.Close(ctx)
	require.NoError(t, err)
	return tbl
}

// must fails the test on a construction error: must(t)(Union(a, b)).
func must(t *testing.T) func(*query.Node, error) *query.Node {
	return func(n *query.Node, err error) *query.Node {
		t.Helper()
		require.NoError(t, err)
		return n
	}
}

func readAll(t *testing.T, tbl *storage.Table) [][]interface{} {
	t.Helper()
	b, err := tbl.ReadRows(context.Background(), 0, tbl.NumRows())
	require.NoError(t, err)
	return b.ToRows()
}

func testOptions(t *testing.T, name string) Options {
	opts := DefaultOptions()
	opts.Path = "mem://" + t.Name() + "/out-" + name + storage.FrameIndexExt
	opts.Segments = 3
	opts.ChunkRows = 5
	opts.Write.BlockRows = 4
	return opts
}

var sumRow query.TransformFunc = func(row batch.Row) (interface{}, error) {
	var sum int64
	for _, v := range row.Values() {
		sum += v.(int64)
	}
	return sum % 7, nil
}

var isOdd query.TransformFunc = func(row batch.Row) (interface{}, error) {
	return row.At(0).(int64)%2 == 1, nil
}

func TestMaterializeEquivalence(t *testing.T) {
	a := writeSource(t, "a", 4, 37)
	b := writeSource(t, "b", 2, 37)
	col, err := b.SelectColumnByIndex(1)
	require.NoError(t, err)

	sa := must(t)(query.TableSource(a))
	sb := must(t)(query.TableSource(b))
	r := must(t)(query.Range(0, 37))
	split := query.GeneralizedFunc(func(row batch.Row, out []interface{}) error {
		v := row.At(0).(int64)
		out[0] = v * 2
		out[1] = fmt.Sprintf("s%d", v%4)
		return nil
	})
	mask := must(t)(query.Transform(must(t)(query.Project(sa, 2)), isOdd, compression.ColumnTypeBool))

	plans := map[string]func() *query.Node{
		"union": func() *query.Node {
			return must(t)(query.Union(sa, sb, must(t)(query.ColumnSource(col)), r))
		},
		"project": func() *query.Node {
			return must(t)(query.Project(must(t)(query.Project(sa, 3, 1, 0)), 2, 0))
		},
		"union of projects": func() *query.Node {
			return must(t)(query.Union(
				must(t)(query.Project(sa, 1, 2)),
				must(t)(query.Project(sb, 0)),
				must(t)(query.Project(sa, 0)),
				must(t)(query.Project(sa, 3, 3))))
		},
		"transform": func() *query.Node {
			return must(t)(query.Union(sa, must(t)(query.Transform(sa, sumRow, compression.ColumnTypeInt64))))
		},
		"generalized transform": func() *query.Node {
			return must(t)(query.GeneralizedTransform(sb, split,
				[]compression.ColumnType{compression.ColumnTypeInt64, compression.ColumnTypeString}))
		},
		"filter": func() *query.Node {
			return must(t)(query.LogicalFilter(must(t)(query.Union(sa, sb)), mask))
		},
		"append": func() *query.Node {
			return must(t)(query.Append(must(t)(query.Project(sa, 1)), must(t)(query.Project(sb, 0))))
		},
		"sliced": func() *query.Node {
			return must(t)(query.Union(
				must(t)(query.TableSourceRange(a, 10, 30)),
				must(t)(query.TableSourceRange(b, 10, 30))))
		},
		"zero length": func() *query.Node {
			return must(t)(query.Union(
				must(t)(query.TableSourceRange(a, 12, 12)),
				must(t)(query.Range(3, 3))))
		},
		"shifted source": func() *query.Node {
			return must(t)(query.Union(
				must(t)(query.TableSourceRange(a, 0, 20)),
				must(t)(query.TableSourceRange(b, 17, 37)),
				must(t)(query.Project(must(t)(query.TableSourceRange(a, 5, 25)), 2))))
		},
	}
	for name, build := range plans {
		t.Run(name, func(t *testing.T) {
			plan := build()
			want, err := query.Evaluate(context.Background(), plan)
			require.NoError(t, err)

			variants := map[string]func(*Options){
				"no_opt":    func(o *Options) { o.DisableOptimization = true },
				"naive":     func(o *Options) { o.Naive = true },
				"optimized": func(*Options) {},
			}
			for variant, tweak := range variants {
				opts := testOptions(t, variant)
				tweak(&opts)
				tbl, err := Materialize(context.Background(), plan, opts)
				require.NoError(t, err, variant)
				assert.Equal(t, query.InferTypes(plan), tbl.ColumnTypes(), variant)
				assert.Equal(t, int64(want.NumRows()), tbl.NumRows(), variant)
				assert.Equal(t, want.ToRows(), readAll(t, tbl), variant)
			}
		})
	}
}

func TestMaterializeModes(t *testing.T) {
	a := writeSource(t, "a", 2, 20)
	sa := must(t)(query.TableSource(a))
	parallel := metrics.RowsMaterialized.WithLabelValues(ModeParallel)
	serial := metrics.RowsMaterialized.WithLabelValues(ModeSerial)

	before := testutil.ToFloat64(parallel)
	_, err := Materialize(context.Background(), must(t)(query.Project(sa, 1)), testOptions(t, "slicable"))
	require.NoError(t, err)
	assert.Equal(t, before+20, testutil.ToFloat64(parallel))

	opts := testOptions(t, "naive")
	opts.Naive = true
	before = testutil.ToFloat64(serial)
	_, err = Materialize(context.Background(), sa, opts)
	require.NoError(t, err)
	assert.Equal(t, before+20, testutil.ToFloat64(serial))

	// append is not slicable
	before = testutil.ToFloat64(serial)
	_, err = Materialize(context.Background(), must(t)(query.Append(sa, sa)), testOptions(t, "append"))
	require.NoError(t, err)
	assert.Equal(t, before+40, testutil.ToFloat64(serial))

	// sources of different lengths
	before = testutil.ToFloat64(serial)
	short := must(t)(query.TableSourceRange(a, 0, 5))
	_, err = Materialize(context.Background(), must(t)(query.Append(short, must(t)(query.Project(sa, 0, 1)))), testOptions(t, "lengths"))
	require.NoError(t, err)
	assert.Equal(t, before+25, testutil.ToFloat64(serial))
}

func TestMaterializeSegmentsAndNames(t *testing.T) {
	a := writeSource(t, "a", 3, 30)
	plan := must(t)(query.Project(must(t)(query.TableSource(a)), 2, 0))

	tbl, err := Materialize(context.Background(), plan, testOptions(t, "default"))
	require.NoError(t, err)
	assert.Equal(t, []string{"X1", "X2"}, tbl.ColumnNames())
	for _, c := range tbl.Columns() {
		assert.Equal(t, 3, c.NumSegments())
	}

	opts := testOptions(t, "named")
	opts.Names = []string{"z", "x"}
	opts.Segments = 1
	tbl, err = Materialize(context.Background(), plan, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "x"}, tbl.ColumnNames())
	assert.Equal(t, 1, tbl.Columns()[0].NumSegments())

	opts = testOptions(t, "bad")
	opts.Names = []string{"only"}
	_, err = Materialize(context.Background(), plan, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 columns, 1 names")
}

func TestMaterializeTempPath(t *testing.T) {
	opts := DefaultOptions()
	opts.TempDir = "mem://" + t.Name() + "/tmp"
	tbl, err := Materialize(context.Background(), must(t)(query.Range(0, 10)), opts)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tbl.Path(), opts.TempDir+"/"), tbl.Path())
	assert.True(t, strings.HasSuffix(tbl.Path(), storage.FrameIndexExt), tbl.Path())
	assert.Equal(t, int64(10), tbl.NumRows())

	other, err := Materialize(context.Background(), must(t)(query.Range(0, 10)), opts)
	require.NoError(t, err)
	assert.NotEqual(t, tbl.Path(), other.Path())
}

func TestMaterializeFailure(t *testing.T) {
	a := writeSource(t, "a", 1, 30)
	failing := query.TransformFunc(func(row batch.Row) (interface{}, error) {
		if row.At(0).(int64) == 23 {
			return nil, errors.New("bad row")
		}
		return row.At(0), nil
	})
	plan := must(t)(query.Transform(must(t)(query.TableSource(a)), failing, compression.ColumnTypeInt64))

	for _, naive := range []bool{false, true} {
		opts := testOptions(t, fmt.Sprintf("naive-%v", naive))
		opts.Naive = naive
		_, err := Materialize(context.Background(), plan, opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad row")
		exists, err := fileio.Exists(context.Background(), opts.Path)
		require.NoError(t, err)
		assert.False(t, exists)
	}
}

func TestMaterializeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, disable := range []bool{false, true} {
		opts := testOptions(t, fmt.Sprintf("disable-%v", disable))
		opts.DisableOptimization = disable
		_, err := Materialize(ctx, must(t)(query.Range(0, 100)), opts)
		assert.ErrorIs(t, err, storage.ErrCanceled)
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.TempDir = "mem://scratch"
	cfg.Storage.DefaultSegments = 6
	cfg.Storage.BlockRows = 512
	cfg.Query.Workers = 3
	cfg.Query.MaxIterations = 77
	cfg.Query.NaiveMaterialize = true

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mem://scratch", opts.TempDir)
	assert.Equal(t, 6, opts.Segments)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, 77, opts.Optimizer.MaxIterations)
	assert.Equal(t, 512, opts.Write.BlockRows)
	assert.True(t, opts.Naive)
	assert.False(t, opts.DisableOptimization)

	cfg.Storage.Compression = "brotli"
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}
