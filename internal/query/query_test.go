package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/sframe/internal/batch"
	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/storage"
)

// writeSource writes a table of ncols int columns and n rows. Cell (r, c)
// holds (r*31 + c*7) % 97.
func writeSource(t *testing.T, name string, ncols int, n int) *storage.Table {
	t.Helper()
	ctx := context.Background()
	names := make([]string, ncols)
	types := make([]compression.ColumnType, ncols)
	for c := range names {
		names[c] = fmt.Sprintf("c%d", c)
		types[c] = compression.ColumnTypeInt64
	}
	opts := storage.DefaultWriteOptions()
	opts.BlockRows = 16
	path := "mem://" + t.Name() + "/" + name + storage.FrameIndexExt
	w, err := storage.OpenForWrite(ctx, path, names, types, 2, opts)
	require.NoError(t, err)
	for r := 0; r < n; r++ {
		row := make([]interface{}, ncols)
		for c := range row {
			row[c] = int64((r*31 + c*7) % 97)
		}
		require.NoError(t, w.OutputIterator(r*2/max(n, 1)).WriteRow(row))
	}
	tbl, err := w.Close(ctx)
	require.NoError(t, err)
	return tbl
}

// must fails the test on a construction error: must(t)(Union(a, b)).
func must(t *testing.T) func(*Node, error) *Node {
	return func(n *Node, err error) *Node {
		t.Helper()
		require.NoError(t, err)
		return n
	}
}

func evalRows(t *testing.T, n *Node) [][]interface{} {
	t.Helper()
	b, err := Evaluate(context.Background(), n)
	require.NoError(t, err)
	return b.ToRows()
}

var sumRow TransformFunc = func(row batch.Row) (interface{}, error) {
	var sum int64
	for _, v := range row.Values() {
		sum += v.(int64)
	}
	return (1 + sum) % 10, nil
}

var isEven TransformFunc = func(row batch.Row) (interface{}, error) {
	return row.At(0).(int64)%2 == 0, nil
}

func TestNewNodeValidation(t *testing.T) {
	src := writeSource(t, "src", 3, 20)
	other := writeSource(t, "other", 1, 10)
	a := must(t)(TableSource(src))
	b := must(t)(TableSource(other))
	mask := must(t)(Transform(a, isEven, compression.ColumnTypeBool))

	tests := []struct {
		name   string
		build  func() (*Node, error)
		errMsg string
	}{
		{"union with no inputs", func() (*Node, error) { return Union() }, "at least one input"},
		{"union of different lengths", func() (*Node, error) { return Union(a, b) }, "length"},
		{"project out of range", func() (*Node, error) { return Project(a, 0, 3) }, "out of range"},
		{"empty project", func() (*Node, error) { return Project(a) }, "empty projection"},
		{"filter with wide mask", func() (*Node, error) { return LogicalFilter(a, a) }, "one column"},
		{"append of different types", func() (*Node, error) { return Append(a, mask) }, "types differ"},
		{"range backwards", func() (*Node, error) { return Range(5, 2) }, "before begin"},
		{"source range too long", func() (*Node, error) { return TableSourceRange(src, 10, 21) }, "outside"},
		{"transform without function", func() (*Node, error) {
			return NewNode(OpTransform, []*Node{a}, map[string]interface{}{ParamOutputType: compression.ColumnTypeInt64})
		}, "missing transform function"},
		{"constant not coercible", func() (*Node, error) { return Constant("abc", compression.ColumnTypeInt64, 3) }, ""},
		{"wrong arity", func() (*Node, error) { return NewNode(OpProject, []*Node{a, a}, nil) }, "takes 1 inputs"},
		{"nil input", func() (*Node, error) { return Identity(nil) }, "is nil"},
		{"unknown kind", func() (*Node, error) { return NewNode(numOpKinds, nil, nil) }, "unknown operator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.build()
			require.Error(t, err)
			assert.Nil(t, n)
			assert.True(t, errors.Is(err, ErrInvalidNode))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestInferTypesAndLength(t *testing.T) {
	src := writeSource(t, "src", 3, 20)
	a := must(t)(TableSource(src))
	col, err := src.SelectColumnByIndex(2)
	require.NoError(t, err)
	c := must(t)(ColumnSource(col))
	mask := must(t)(Transform(a, isEven, compression.ColumnTypeBool))
	filtered := must(t)(LogicalFilter(a, mask))
	gen := must(t)(GeneralizedTransform(a, func(row batch.Row, out []interface{}) error { return nil },
		[]compression.ColumnType{compression.ColumnTypeString, compression.ColumnTypeFloat64}))

	int3 := []compression.ColumnType{compression.ColumnTypeInt64, compression.ColumnTypeInt64, compression.ColumnTypeInt64}
	tests := []struct {
		name   string
		node   *Node
		types  []compression.ColumnType
		length int64
	}{
		{"table source", a, int3, 20},
		{"shifted source", must(t)(TableSourceRange(src, 5, 15)), int3, 10},
		{"column source", c, []compression.ColumnType{compression.ColumnTypeInt64}, 20},
		{"range", must(t)(Range(3, 10)), []compression.ColumnType{compression.ColumnTypeInt64}, 7},
		{"constant", must(t)(Constant("x", compression.ColumnTypeString, 4)), []compression.ColumnType{compression.ColumnTypeString}, 4},
		{"union", must(t)(Union(a, c, mask)), append(append([]compression.ColumnType(nil), int3...), compression.ColumnTypeInt64, compression.ColumnTypeBool), 20},
		{"project", must(t)(Project(a, 2, 2)), int3[:2], 20},
		{"filter", filtered, int3, -1},
		{"transform of filter", must(t)(Transform(filtered, sumRow, compression.ColumnTypeInt64)), []compression.ColumnType{compression.ColumnTypeInt64}, -1},
		{"generalized", gen, []compression.ColumnType{compression.ColumnTypeString, compression.ColumnTypeFloat64}, 20},
		{"append", must(t)(Append(a, a)), int3, 40},
		{"append of filter", must(t)(Append(a, filtered)), int3, -1},
		{"reduce", must(t)(Reduce(a, SumOf(0), compression.ColumnTypeFloat64)), []compression.ColumnType{compression.ColumnTypeFloat64}, 1},
		{"identity", must(t)(Identity(mask)), []compression.ColumnType{compression.ColumnTypeBool}, 20},
		{"ternary", must(t)(Ternary(mask, c, c)), []compression.ColumnType{compression.ColumnTypeInt64}, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.types, InferTypes(tt.node))
			assert.Equal(t, tt.length, InferLength(tt.node))
		})
	}
}

func TestInferenceIsMemoized(t *testing.T) {
	src := writeSource(t, "src", 2, 8)
	a := must(t)(TableSource(src))
	p := must(t)(Project(a, 1))

	types := InferTypes(p)
	types[0] = compression.ColumnTypeString
	assert.Equal(t, []compression.ColumnType{compression.ColumnTypeInt64}, InferTypes(p))
	InferLength(p)

	planMu.Lock()
	_, hasTypes := p.params[memoOutputTypes]
	_, hasLength := p.params[memoOutputLength]
	planMu.Unlock()
	assert.True(t, hasTypes)
	assert.True(t, hasLength)

	params := p.Params()
	assert.NotContains(t, params, memoOutputTypes)
	assert.NotContains(t, params, memoOutputLength)

	// memo entries are never copied into a rebuilt node
	planMu.Lock()
	raw := make(map[string]interface{})
	for k, v := range p.params {
		raw[k] = v
	}
	planMu.Unlock()
	q := must(t)(NewNode(OpProject, []*Node{a}, raw))
	planMu.Lock()
	_, copied := q.params[memoOutputTypes]
	planMu.Unlock()
	assert.False(t, copied)
}

func TestConcurrentInference(t *testing.T) {
	src := writeSource(t, "src", 3, 30)
	a := must(t)(TableSource(src))
	shared := must(t)(Union(must(t)(Project(a, 0)), must(t)(Project(a, 2, 1))))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			top := must(t)(Transform(shared, sumRow, compression.ColumnTypeInt64))
			assert.Equal(t, int64(30), InferLength(top))
			assert.Len(t, InferTypes(shared), 3)
			provable, equal := ProveEqualLength(top, shared)
			assert.True(t, provable)
			assert.True(t, equal)
		}()
	}
	wg.Wait()
}

func TestPredicates(t *testing.T) {
	src := writeSource(t, "src", 2, 10)
	a := must(t)(TableSource(src))
	mask := must(t)(Transform(a, isEven, compression.ColumnTypeBool))

	tests := []struct {
		name                       string
		node                       *Node
		sameRate, linear, sublinear bool
	}{
		{"source", a, false, false, false},
		{"union", must(t)(Union(a, a)), true, true, false},
		{"project", must(t)(Project(a, 0)), true, true, false},
		{"transform", mask, true, true, false},
		{"filter", must(t)(LogicalFilter(a, mask)), true, false, true},
		{"append", must(t)(Append(a, a)), false, false, false},
		{"reduce", must(t)(Reduce(a, CountRows(), compression.ColumnTypeInt64)), true, false, false},
		{"identity", must(t)(Identity(a)), true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.sameRate, ConsumesInputsAtSameRate(tt.node))
			assert.Equal(t, tt.linear, IsLinearTransform(tt.node))
			assert.Equal(t, tt.sublinear, IsSublinearTransform(tt.node))
		})
	}
	assert.True(t, IsSource(a))
	assert.True(t, AttributesOf(OpRange).Has(AttrSource))
	assert.Equal(t, "union", OpUnion.String())
}

func TestIsParallelSlicable(t *testing.T) {
	src := writeSource(t, "src", 2, 10)
	other := writeSource(t, "other", 1, 10)
	a := must(t)(TableSource(src))
	b := must(t)(TableSource(other))
	mask := must(t)(Transform(a, isEven, compression.ColumnTypeBool))
	filtered := must(t)(LogicalFilter(a, mask))

	tests := []struct {
		name string
		node *Node
		want bool
	}{
		{"source", a, true},
		{"union of sources", must(t)(Union(a, b)), true},
		{"transform chain", must(t)(Transform(must(t)(Project(a, 1)), sumRow, compression.ColumnTypeInt64)), true},
		{"filter", filtered, true},
		{"transform over filter", must(t)(Transform(filtered, sumRow, compression.ColumnTypeInt64)), true},
		{"union of a filter with itself", must(t)(Union(filtered, filtered)), true},
		{"union of different filters", must(t)(Union(must(t)(LogicalFilter(b, mask)), must(t)(LogicalFilter(a, mask)))), false},
		{"append", must(t)(Append(a, a)), false},
		{"union over append", must(t)(Union(must(t)(Append(b, b)), must(t)(Range(0, 20)))), false},
		{"reduce", must(t)(Reduce(a, CountRows(), compression.ColumnTypeInt64)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsParallelSlicable(tt.node))
		})
	}
}

func TestProveEqualLength(t *testing.T) {
	src := writeSource(t, "src", 2, 10)
	a := must(t)(TableSource(src))
	mask := must(t)(Transform(a, isEven, compression.ColumnTypeBool))
	f1 := must(t)(LogicalFilter(a, mask))
	f2 := must(t)(LogicalFilter(must(t)(Project(a, 0)), mask))
	overF1 := must(t)(Transform(f1, sumRow, compression.ColumnTypeInt64))

	tests := []struct {
		name            string
		a, b            *Node
		provable, equal bool
	}{
		{"same concrete length", a, mask, true, true},
		{"different concrete length", a, must(t)(Range(0, 3)), true, false},
		{"linear chain over filter", f1, overF1, true, true},
		{"different filters", f1, f2, false, false},
		{"filter and source", f1, a, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provable, equal := ProveEqualLength(tt.a, tt.b)
			assert.Equal(t, tt.provable, provable)
			assert.Equal(t, tt.equal, equal)
		})
	}
}

func TestSourcesAndSourceLength(t *testing.T) {
	src := writeSource(t, "src", 2, 10)
	a := must(t)(TableSource(src))
	r := must(t)(Range(0, 10))
	u := must(t)(Union(a, r, a))
	assert.Equal(t, []*Node{a, r}, Sources(u))
	l, ok := SourceLength(u)
	assert.True(t, ok)
	assert.Equal(t, int64(10), l)

	_, ok = SourceLength(must(t)(Append(r, must(t)(Range(0, 4)))))
	assert.False(t, ok)
}
