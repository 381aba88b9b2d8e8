package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/sframe/internal/batch"
	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/storage"
)

func cell(r, c int) int64 { return int64((r*31 + c*7) % 97) }

func TestEvaluateSources(t *testing.T) {
	src := writeSource(t, "src", 2, 12)

	rows := evalRows(t, must(t)(TableSourceRange(src, 3, 6)))
	assert.Equal(t, [][]interface{}{
		{cell(3, 0), cell(3, 1)},
		{cell(4, 0), cell(4, 1)},
		{cell(5, 0), cell(5, 1)},
	}, rows)

	col, err := src.SelectColumn("c1")
	require.NoError(t, err)
	rows = evalRows(t, must(t)(ColumnSourceRange(col, 10, 12)))
	assert.Equal(t, [][]interface{}{{cell(10, 1)}, {cell(11, 1)}}, rows)

	assert.Equal(t, [][]interface{}{{int64(4)}, {int64(5)}, {int64(6)}}, evalRows(t, must(t)(Range(4, 7))))
	assert.Equal(t, [][]interface{}{{1.5}, {1.5}}, evalRows(t, must(t)(Constant(1.5, compression.ColumnTypeFloat64, 2))))
	assert.Empty(t, evalRows(t, must(t)(Constant(nil, compression.ColumnTypeNull, 0))))
}

func TestEvaluateOperators(t *testing.T) {
	a := must(t)(Range(0, 6))
	b := must(t)(Range(10, 16))
	mask := must(t)(Transform(a, isEven, compression.ColumnTypeBool))

	double := BinaryFunc(func(x, y interface{}) (interface{}, error) { return x.(int64) + y.(int64), nil })
	split := GeneralizedFunc(func(row batch.Row, out []interface{}) error {
		v := row.At(0).(int64)
		out[0] = fmt.Sprintf("v%d", v)
		if v%3 != 0 {
			out[1] = float64(v) / 2
		}
		return nil
	})

	tests := []struct {
		name string
		node *Node
		want [][]interface{}
	}{
		{"union", must(t)(Union(a, b)), [][]interface{}{
			{int64(0), int64(10)}, {int64(1), int64(11)}, {int64(2), int64(12)},
			{int64(3), int64(13)}, {int64(4), int64(14)}, {int64(5), int64(15)},
		}},
		{"project reorders and repeats", must(t)(Project(must(t)(Union(a, b)), 1, 0, 1)), [][]interface{}{
			{int64(10), int64(0), int64(10)}, {int64(11), int64(1), int64(11)}, {int64(12), int64(2), int64(12)},
			{int64(13), int64(3), int64(13)}, {int64(14), int64(4), int64(14)}, {int64(15), int64(5), int64(15)},
		}},
		{"filter", must(t)(LogicalFilter(must(t)(Union(a, b)), mask)), [][]interface{}{
			{int64(0), int64(10)}, {int64(2), int64(12)}, {int64(4), int64(14)},
		}},
		{"transform", must(t)(Transform(must(t)(Union(a, b)), sumRow, compression.ColumnTypeInt64)), [][]interface{}{
			{int64(1)}, {int64(3)}, {int64(5)}, {int64(7)}, {int64(9)}, {int64(1)},
		}},
		{"binary transform", must(t)(BinaryTransform(a, b, double, compression.ColumnTypeInt64)), [][]interface{}{
			{int64(10)}, {int64(12)}, {int64(14)}, {int64(16)}, {int64(18)}, {int64(20)},
		}},
		{"ternary", must(t)(Ternary(mask, a, b)), [][]interface{}{
			{int64(0)}, {int64(11)}, {int64(2)}, {int64(13)}, {int64(4)}, {int64(15)},
		}},
		{"generalized transform", must(t)(GeneralizedTransform(must(t)(Range(0, 4)), split,
			[]compression.ColumnType{compression.ColumnTypeString, compression.ColumnTypeFloat64})), [][]interface{}{
			{"v0", nil}, {"v1", 0.5}, {"v2", 1.0}, {"v3", nil},
		}},
		{"append", must(t)(Append(must(t)(Range(0, 2)), must(t)(Range(7, 9)))), [][]interface{}{
			{int64(0)}, {int64(1)}, {int64(7)}, {int64(8)},
		}},
		{"reduce", must(t)(Reduce(b, SumOf(0), compression.ColumnTypeFloat64)), [][]interface{}{{75.0}}},
		{"reduce to int", must(t)(Reduce(b, CountRows(), compression.ColumnTypeInt64)), [][]interface{}{{int64(6)}}},
		{"identity", must(t)(Identity(must(t)(Range(3, 5)))), [][]interface{}{{int64(3)}, {int64(4)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalRows(t, tt.node))
		})
	}
}

func TestEvaluateFilterTruthiness(t *testing.T) {
	data := must(t)(Range(0, 6))
	values := []interface{}{nil, int64(0), "", "x", 2.5, false}
	mask := must(t)(Transform(data, func(row batch.Row) (interface{}, error) {
		return values[row.At(0).(int64)], nil
	}, compression.ColumnTypeString))
	// strings coerce: nil stays nil, 0 becomes "0", 2.5 becomes "2.5", false becomes "false"
	assert.Equal(t, [][]interface{}{{int64(1)}, {int64(3)}, {int64(4)}, {int64(5)}}, evalRows(t, must(t)(LogicalFilter(data, mask))))
}

func TestEvaluateSharedSubgraph(t *testing.T) {
	calls := 0
	counted := TransformFunc(func(row batch.Row) (interface{}, error) {
		calls++
		return row.At(0), nil
	})
	base := must(t)(Transform(must(t)(Range(0, 5)), counted, compression.ColumnTypeInt64))
	top := must(t)(Union(base, must(t)(Project(must(t)(Union(base, base)), 1))))
	rows := evalRows(t, top)
	assert.Len(t, rows, 5)
	assert.Equal(t, 5, calls)
}

func TestEvaluateErrors(t *testing.T) {
	failing := TransformFunc(func(row batch.Row) (interface{}, error) {
		if row.Index() == 2 {
			return nil, errors.New("boom")
		}
		return row.At(0), nil
	})
	_, err := Evaluate(context.Background(), must(t)(Transform(must(t)(Range(0, 5)), failing, compression.ColumnTypeInt64)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2: boom")

	badType := TransformFunc(func(batch.Row) (interface{}, error) { return "not a number", nil })
	_, err = Evaluate(context.Background(), must(t)(Transform(must(t)(Range(0, 5)), badType, compression.ColumnTypeInt64)))
	require.Error(t, err)
	assert.ErrorIs(t, err, batch.ErrTypeMismatch)
	var typeErr *batch.TypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, 0, typeErr.Row)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Evaluate(ctx, must(t)(Range(0, 5)))
	assert.ErrorIs(t, err, storage.ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMakeSlicedGraph(t *testing.T) {
	src := writeSource(t, "src", 3, 40)
	a := must(t)(TableSourceRange(src, 5, 35))
	r := must(t)(Range(100, 130))
	k := must(t)(Constant("k", compression.ColumnTypeString, 30))
	mask := must(t)(Transform(must(t)(Project(a, 1)), isEven, compression.ColumnTypeBool))
	filtered := must(t)(LogicalFilter(a, mask))
	plans := map[string]*Node{
		"union":            must(t)(Union(a, r, k)),
		"project":          must(t)(Project(must(t)(Union(a, r)), 3, 0)),
		"transform":        must(t)(Transform(a, sumRow, compression.ColumnTypeInt64)),
		"filter":           must(t)(LogicalFilter(must(t)(Union(a, k)), mask)),
		"filter then more": must(t)(Union(must(t)(Transform(filtered, sumRow, compression.ColumnTypeInt64)), must(t)(Project(filtered, 2)))),
	}
	for name, plan := range plans {
		t.Run(name, func(t *testing.T) {
			require.True(t, IsParallelSlicable(plan))
			want := evalRows(t, plan)
			var got [][]interface{}
			for _, bounds := range [][2]int64{{0, 7}, {7, 7}, {7, 22}, {22, 30}} {
				sliced, err := MakeSlicedGraph(plan, bounds[0], bounds[1])
				require.NoError(t, err)
				got = append(got, evalRows(t, sliced)...)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestMakeSlicedGraphKeepsSharing(t *testing.T) {
	a := must(t)(Range(0, 10))
	p := must(t)(Project(a, 0))
	plan := must(t)(Union(p, p))

	sliced, err := MakeSlicedGraph(plan, 2, 4)
	require.NoError(t, err)
	assert.Same(t, sliced.Input(0), sliced.Input(1))
	assert.NotSame(t, p, sliced.Input(0))
	begin, end := SourceRange(sliced.Input(0).Input(0))
	assert.Equal(t, int64(2), begin)
	assert.Equal(t, int64(4), end)
	assert.Equal(t, int64(2), InferLength(sliced))

	// the original plan is untouched
	begin, end = SourceRange(a)
	assert.Equal(t, int64(0), begin)
	assert.Equal(t, int64(10), end)

	_, err = MakeSlicedGraph(plan, 5, 11)
	assert.ErrorIs(t, err, ErrInvalidNode)
	_, err = MakeSlicedGraph(plan, 4, 2)
	assert.ErrorIs(t, err, ErrInvalidNode)
}

func TestAggregators(t *testing.T) {
	b, err := batch.FromRows([][]interface{}{{int64(4)}, {nil}, {int64(-2)}, {2.5}})
	require.NoError(t, err)

	tests := []struct {
		name    string
		factory AggregatorFactory
		want    interface{}
	}{
		{"count", CountOf(0), int64(3)},
		{"rows", CountRows(), int64(4)},
		{"sum", SumOf(0), 4.5},
		{"mean", MeanOf(0), 1.5},
		{"min", MinOf(0), -2.0},
		{"max", MaxOf(0), 4.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := tt.factory()
			for _, row := range b.All() {
				require.NoError(t, agg.Add(row))
			}
			got, err := agg.Emit()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	empty := MinOf(0)()
	v, err := empty.Emit()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStatsMerge(t *testing.T) {
	var all, left, right Stats
	for i, v := range []float64{3, 1, 4, 1, 5, 9, 2, 6} {
		all.AddValue(v)
		if i < 3 {
			left.AddValue(v)
		} else {
			right.AddValue(v)
		}
	}
	var merged Stats
	merged.Merge(left)
	merged.Merge(right)
	merged.Merge(Stats{})
	assert.Equal(t, all, merged)
	assert.InDelta(t, 3.875, merged.Mean(), 1e-9)
	assert.InDelta(t, all.StdDev(), merged.StdDev(), 1e-9)
	assert.Equal(t, 1.0, merged.Min)
	assert.Equal(t, 9.0, merged.Max)
}
