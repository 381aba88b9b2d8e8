package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/sframe/internal/batch"
	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/fileio"
)

var testTypes = []compression.ColumnType{
	compression.ColumnTypeInt64,
	compression.ColumnTypeFloat64,
	compression.ColumnTypeString,
	compression.ColumnTypeBool,
	compression.ColumnTypeNull,
}

var testNames = []string{"id", "score", "label", "flag", "empty"}

func testRows(n int) [][]interface{} {
	rows := make([][]interface{}, n)
	for i := range rows {
		var score interface{} = float64(i) * 1.5
		if i%7 == 3 {
			score = nil
		}
		rows[i] = []interface{}{
			int64(i*i - 50),
			score,
			fmt.Sprintf("row-%d", i%5),
			i%3 == 0,
			nil,
		}
	}
	return rows
}

func memPath(t *testing.T, name string) string {
	return "mem://" + t.Name() + "/" + name + FrameIndexExt
}

// writeTestTable writes rows split evenly across nseg segments.
func writeTestTable(t *testing.T, path string, rows [][]interface{}, nseg int, opts WriteOptions) *Table {
	t.Helper()
	ctx := context.Background()
	w, err := OpenForWrite(ctx, path, testNames, testTypes, nseg, opts)
	require.NoError(t, err)
	for s := 0; s < nseg; s++ {
		out := w.OutputIterator(s)
		for _, r := range rows[len(rows)*s/nseg : len(rows)*(s+1)/nseg] {
			require.NoError(t, out.WriteRow(r))
		}
	}
	tbl, err := w.Close(ctx)
	require.NoError(t, err)
	return tbl
}

func smallBlocks(rows int) WriteOptions {
	opts := DefaultWriteOptions()
	opts.BlockRows = rows
	return opts
}

func readAll(t *testing.T, tbl *Table) [][]interface{} {
	t.Helper()
	b, err := tbl.ReadRows(context.Background(), 0, tbl.NumRows())
	require.NoError(t, err)
	return b.ToRows()
}

func TestWriteAndReadTable(t *testing.T) {
	rows := testRows(50)
	tbl := writeTestTable(t, memPath(t, "t"), rows, 3, smallBlocks(4))

	assert.Equal(t, int64(50), tbl.NumRows())
	assert.Equal(t, 5, tbl.NumColumns())
	assert.Equal(t, testNames, tbl.ColumnNames())
	assert.Equal(t, testTypes, tbl.ColumnTypes())
	assert.Equal(t, rows, readAll(t, tbl))

	col, err := tbl.SelectColumn("id")
	require.NoError(t, err)
	assert.Equal(t, 3, col.NumSegments())
	assert.Equal(t, []int64{16, 17, 17}, col.SegmentSizes())
	assert.Equal(t, compression.CurrentFormat, col.Version())
}

func TestReadRowsRanges(t *testing.T) {
	rows := testRows(30)
	tbl := writeTestTable(t, memPath(t, "t"), rows, 2, smallBlocks(4))
	ctx := context.Background()

	b, err := tbl.ReadRows(ctx, 13, 22)
	require.NoError(t, err)
	assert.Equal(t, rows[13:22], b.ToRows())

	// end is clamped
	b, err = tbl.ReadRows(ctx, 25, 1000)
	require.NoError(t, err)
	assert.Equal(t, rows[25:], b.ToRows())

	b, err = tbl.ReadRows(ctx, 30, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, b.NumRows())

	_, err = tbl.ReadRows(ctx, 10, 5)
	assert.Error(t, err)

	r := tbl.Reader()
	defer r.Close()
	out := batch.New()
	n, err := r.ReadRows(ctx, 0, 4, out)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	n, err = r.ReadRows(ctx, 4, 6, out)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, rows[4:6], out.ToRows())

	col, err := tbl.SelectColumnByIndex(2)
	require.NoError(t, err)
	values, err := col.ReadRows(ctx, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"row-3", "row-4"}, values)
}

func TestLocalTableWithCompressors(t *testing.T) {
	for _, algo := range []compression.Algorithm{compression.None, compression.Snappy, compression.LZ4, compression.Zstd} {
		t.Run(algo.String(), func(t *testing.T) {
			opts := smallBlocks(16)
			opts.Compression = algo
			path := filepath.Join(t.TempDir(), "t"+FrameIndexExt)
			rows := testRows(100)
			writeTestTable(t, path, rows, 2, opts)

			reopened, err := Open(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, rows, readAll(t, reopened))
		})
	}
}

func TestWriterRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	_, err := OpenForWrite(ctx, memPath(t, "a"), []string{"x", "x"}, testTypes[:2], 1, DefaultWriteOptions())
	assert.Error(t, err)
	_, err = OpenForWrite(ctx, memPath(t, "b"), []string{"x"}, testTypes[:1], 0, DefaultWriteOptions())
	assert.Error(t, err)

	w, err := OpenForWrite(ctx, memPath(t, "c"), []string{"n"}, testTypes[:1], 1, DefaultWriteOptions())
	require.NoError(t, err)
	out := w.OutputIterator(0)
	assert.Error(t, out.WriteRow([]interface{}{1, 2}))

	err = out.WriteRow([]interface{}{"abc"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, batch.ErrTypeMismatch))
	var te *batch.TypeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.Column)

	require.NoError(t, w.Abort(ctx))
	exists, err := fileio.Exists(ctx, memPath(t, "c"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWriteBatchAndMetadata(t *testing.T) {
	ctx := context.Background()
	path := memPath(t, "t")
	w, err := OpenForWrite(ctx, path, []string{"a", "b"},
		[]compression.ColumnType{compression.ColumnTypeInt64, compression.ColumnTypeString}, 1, smallBlocks(2))
	require.NoError(t, err)
	w.SetColumnMetadata(1, map[string]string{"unit": "kg"})

	b, err := batch.FromRows([][]interface{}{{1, "x"}, {2, "y"}, {3, nil}})
	require.NoError(t, err)
	require.NoError(t, w.OutputIterator(0).WriteBatch(b))
	tbl, err := w.Close(ctx)
	require.NoError(t, err)

	assert.Equal(t, [][]interface{}{{int64(1), "x"}, {int64(2), "y"}, {int64(3), nil}}, readAll(t, tbl))
	col, err := tbl.SelectColumn("b")
	require.NoError(t, err)
	assert.Equal(t, "kg", col.Metadata()["unit"])

	_, err = w.Close(ctx)
	assert.Error(t, err)
}

func TestEmptyTable(t *testing.T) {
	tbl := writeTestTable(t, memPath(t, "t"), nil, 2, DefaultWriteOptions())
	assert.Equal(t, int64(0), tbl.NumRows())
	assert.Empty(t, readAll(t, tbl))
}

func TestSelectAndNewTableFromColumns(t *testing.T) {
	tbl := writeTestTable(t, memPath(t, "t"), testRows(10), 1, DefaultWriteOptions())
	other := writeTestTable(t, memPath(t, "u"), testRows(11), 1, DefaultWriteOptions())

	sel, err := tbl.Select("label", "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"label", "id"}, sel.ColumnNames())
	assert.Equal(t, "", sel.Path())
	assert.Equal(t, "row-1", readAll(t, sel)[1][0])

	_, err = tbl.Select("missing")
	assert.ErrorIs(t, err, ErrColumnNotFound)
	_, err = tbl.SelectColumnByIndex(9)
	assert.ErrorIs(t, err, ErrColumnNotFound)

	a, _ := tbl.SelectColumn("id")
	b, _ := other.SelectColumn("id")
	_, err = NewTableFromColumns([]string{"a", "a"}, []*Column{a, a})
	assert.Error(t, err)
	_, err = NewTableFromColumns([]string{"a", "b"}, []*Column{a, b})
	assert.Error(t, err)
	_, err = NewTableFromColumns([]string{"a"}, []*Column{a, b})
	assert.Error(t, err)
}

func TestOpenMissingTable(t *testing.T) {
	_, err := Open(context.Background(), memPath(t, "nope"))
	assert.ErrorIs(t, err, fileio.ErrNotFound)
}

func TestAppendTables(t *testing.T) {
	ctx := context.Background()
	rows := testRows(50)
	a := writeTestTable(t, memPath(t, "a"), rows[:30], 2, smallBlocks(4))
	b := writeTestTable(t, memPath(t, "b"), rows[30:], 3, smallBlocks(6))

	out, err := a.Append(b)
	require.NoError(t, err)
	assert.Equal(t, "", out.Path())
	assert.Equal(t, int64(50), out.NumRows())
	assert.Equal(t, a.ColumnNames(), out.ColumnNames())
	assert.Equal(t, rows, readAll(t, out))
	for _, c := range out.Columns() {
		assert.Equal(t, 5, c.NumSegments())
	}
	across, err := out.ReadRows(ctx, 25, 35)
	require.NoError(t, err)
	assert.Equal(t, rows[25:35], across.ToRows())

	// the inputs are unchanged
	assert.Equal(t, rows[:30], readAll(t, a))
	assert.Equal(t, rows[30:], readAll(t, b))

	for _, strategy := range []SaveStrategy{StrategyNaive, StrategyBlockPreserving, StrategyWeakReference} {
		t.Run(string(strategy), func(t *testing.T) {
			opts := saveOpts(2)
			opts.KeepReferences = strategy == StrategyWeakReference
			saved, err := SaveWith(ctx, out, memPath(t, "out"), opts, strategy)
			require.NoError(t, err)
			assert.Equal(t, rows, readAll(t, saved))

			reopened, err := Open(ctx, saved.Path())
			require.NoError(t, err)
			assert.Equal(t, rows, readAll(t, reopened))
		})
	}
}

func TestAppendTwiceSharesSegments(t *testing.T) {
	rows := testRows(12)
	a := writeTestTable(t, memPath(t, "a"), rows, 1, smallBlocks(5))

	out, err := a.Append(a)
	require.NoError(t, err)
	out, err = out.Append(a)
	require.NoError(t, err)
	assert.Equal(t, append(append(append([][]interface{}{}, rows...), rows...), rows...), readAll(t, out))

	id, err := out.SelectColumn("id")
	require.NoError(t, err)
	src, err := a.SelectColumn("id")
	require.NoError(t, err)
	files := src.SegmentFiles()
	assert.Equal(t, append(append(append([]string{}, files...), files...), files...), id.SegmentFiles())
	assert.Equal(t, ColumnRef{}, id.Ref())
}

func TestAppendRejectsMismatch(t *testing.T) {
	a := writeTestTable(t, memPath(t, "a"), testRows(10), 1, DefaultWriteOptions())
	legacyOpts := DefaultWriteOptions()
	legacyOpts.FormatVersion = compression.FormatV1
	legacy := writeTestTable(t, memPath(t, "legacy"), testRows(10), 1, legacyOpts)

	fewer, err := a.Select("id", "score")
	require.NoError(t, err)
	renamed, err := a.SetColumnName(1, "points")
	require.NoError(t, err)
	score, err := a.SelectColumn("score")
	require.NoError(t, err)
	retyped, err := a.ReplaceColumn("id", score)
	require.NoError(t, err)

	tests := map[string]*Table{
		"column count": fewer,
		"column name":  renamed,
		"column type":  retyped,
		"version":      legacy,
	}
	for name, other := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Append(other)
			assert.ErrorIs(t, err, ErrSchemaMismatch)
		})
	}
}

func TestAppendEmptyTable(t *testing.T) {
	a := writeTestTable(t, memPath(t, "a"), testRows(10), 2, DefaultWriteOptions())
	empty, err := NewTableFromColumns(nil, nil)
	require.NoError(t, err)

	out, err := a.Append(empty)
	require.NoError(t, err)
	assert.Equal(t, testRows(10), readAll(t, out))

	out, err = empty.Append(a)
	require.NoError(t, err)
	assert.Equal(t, a.ColumnNames(), out.ColumnNames())
	assert.Equal(t, testRows(10), readAll(t, out))
}

func TestColumnOperations(t *testing.T) {
	tbl := writeTestTable(t, memPath(t, "t"), testRows(10), 1, DefaultWriteOptions())
	other := writeTestTable(t, memPath(t, "u"), testRows(11), 1, DefaultWriteOptions())
	id, err := tbl.SelectColumn("id")
	require.NoError(t, err)
	label, err := tbl.SelectColumn("label")
	require.NoError(t, err)

	t.Run("add", func(t *testing.T) {
		out, err := tbl.AddColumn(id, "copy")
		require.NoError(t, err)
		assert.Equal(t, append(tbl.ColumnNames(), "copy"), out.ColumnNames())
		assert.Equal(t, 5, tbl.NumColumns())

		out, err = tbl.AddColumn(id, "")
		require.NoError(t, err)
		assert.Equal(t, "X6", out.ColumnNames()[5])

		taken, err := tbl.SetColumnName(0, "X6")
		require.NoError(t, err)
		out, err = taken.AddColumn(id, "")
		require.NoError(t, err)
		assert.Equal(t, "X6.1", out.ColumnNames()[5])
		out, err = out.SetColumnName(1, "X7")
		require.NoError(t, err)
		out, err = out.AddColumn(id, "")
		require.NoError(t, err)
		assert.Equal(t, "X7.1", out.ColumnNames()[6])

		_, err = tbl.AddColumn(id, "label")
		assert.Error(t, err)
		short, err := other.SelectColumn("id")
		require.NoError(t, err)
		_, err = tbl.AddColumn(short, "short")
		assert.Error(t, err)

		empty, err := NewTableFromColumns(nil, nil)
		require.NoError(t, err)
		out, err = empty.AddColumn(short, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"X1"}, out.ColumnNames())
		assert.Equal(t, int64(11), out.NumRows())
	})

	t.Run("remove", func(t *testing.T) {
		out, err := tbl.RemoveColumn(1)
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "label", "flag", "empty"}, out.ColumnNames())
		assert.Equal(t, testNames, tbl.ColumnNames())
		_, err = tbl.RemoveColumn(5)
		assert.ErrorIs(t, err, ErrColumnNotFound)
	})

	t.Run("swap", func(t *testing.T) {
		out, err := tbl.SwapColumns(0, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"label", "score", "id", "flag", "empty"}, out.ColumnNames())
		assert.Equal(t, "row-3", readAll(t, out)[3][0])
		_, err = tbl.SwapColumns(0, -1)
		assert.ErrorIs(t, err, ErrColumnNotFound)
	})

	t.Run("replace", func(t *testing.T) {
		out, err := tbl.ReplaceColumn("id", label)
		require.NoError(t, err)
		assert.Equal(t, testNames, out.ColumnNames())
		assert.Equal(t, compression.ColumnTypeString, out.ColumnTypes()[0])
		assert.Equal(t, "row-2", readAll(t, out)[2][0])
		_, err = tbl.ReplaceColumn("missing", label)
		assert.ErrorIs(t, err, ErrColumnNotFound)
	})

	t.Run("rename", func(t *testing.T) {
		out, err := tbl.SetColumnName(3, "ok")
		require.NoError(t, err)
		assert.Equal(t, "ok", out.ColumnNames()[3])
		_, err = tbl.SetColumnName(3, "id")
		assert.Error(t, err)
	})
}

func TestTableMetadata(t *testing.T) {
	ctx := context.Background()
	tbl := writeTestTable(t, memPath(t, "t"), testRows(20), 2, smallBlocks(4))
	assert.Empty(t, tbl.Metadata())

	tagged := tbl.WithMetadata("source", "import").WithMetadata("owner", "etl")
	assert.Empty(t, tbl.Metadata())
	assert.Equal(t, "", tagged.Path())
	want := map[string]string{"source": "import", "owner": "etl"}
	assert.Equal(t, want, tagged.Metadata())

	sel, err := tagged.Select("id")
	require.NoError(t, err)
	assert.Equal(t, want, sel.Metadata())

	for _, strategy := range []SaveStrategy{StrategyNaive, StrategyBlockPreserving, StrategyWeakReference} {
		t.Run(string(strategy), func(t *testing.T) {
			opts := saveOpts(1)
			opts.KeepReferences = strategy == StrategyWeakReference
			saved, err := SaveWith(ctx, tagged, memPath(t, "out"), opts, strategy)
			require.NoError(t, err)
			reopened, err := Open(ctx, saved.Path())
			require.NoError(t, err)
			assert.Equal(t, want, reopened.Metadata())
		})
	}
}
