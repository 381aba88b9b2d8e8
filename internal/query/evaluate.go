package query

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/soltixdb/sframe/internal/batch"
	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/storage"
)

// Evaluate computes the full output of n in memory. Shared subgraphs are
// evaluated once. Large plans should go through the planner, which slices
// the plan and evaluates one slice at a time.
func Evaluate(ctx context.Context, n *Node) (*batch.Batch, error) {
	return evaluate(ctx, n, make(map[*Node]*batch.Batch))
}

func evaluate(ctx context.Context, n *Node, memo map[*Node]*batch.Batch) (*batch.Batch, error) {
	if b, ok := memo[n]; ok {
		return b, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrCanceled, err)
	}
	inputs := make([]*batch.Batch, len(n.inputs))
	for i, in := range n.inputs {
		b, err := evaluate(ctx, in, memo)
		if err != nil {
			return nil, err
		}
		inputs[i] = b
	}
	b, err := operators[n.kind].evaluate(ctx, n.Params(), inputs)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", n, err)
	}
	memo[n] = b
	return b, nil
}

func evalTableSource(ctx context.Context, params map[string]interface{}, _ []*batch.Batch) (*batch.Batch, error) {
	t := params[ParamTable].(*storage.Table)
	return t.ReadRows(ctx, int64Param(params, ParamBegin), int64Param(params, ParamEnd))
}

func evalColumnSource(ctx context.Context, params map[string]interface{}, _ []*batch.Batch) (*batch.Batch, error) {
	c := params[ParamColumn].(*storage.Column)
	vals, err := c.ReadRows(ctx, int64Param(params, ParamBegin), int64Param(params, ParamEnd))
	if err != nil {
		return nil, err
	}
	return batch.FromColumns([][]interface{}{vals})
}

func evalRange(_ context.Context, params map[string]interface{}, _ []*batch.Batch) (*batch.Batch, error) {
	begin, end := int64Param(params, ParamBegin), int64Param(params, ParamEnd)
	col := make([]interface{}, end-begin)
	for i := range col {
		col[i] = begin + int64(i)
	}
	return batch.FromColumns([][]interface{}{col})
}

func evalConstant(_ context.Context, params map[string]interface{}, _ []*batch.Batch) (*batch.Batch, error) {
	t, _ := typeParam(params)
	v, err := compression.CoerceValue(params[ParamValue], t)
	if err != nil {
		return nil, err
	}
	col := make([]interface{}, int64Param(params, ParamLength))
	for i := range col {
		col[i] = v
	}
	return batch.FromColumns([][]interface{}{col})
}

func evalUnion(_ context.Context, _ map[string]interface{}, inputs []*batch.Batch) (*batch.Batch, error) {
	out := batch.New()
	for i, in := range inputs {
		if in.NumRows() != inputs[0].NumRows() {
			return nil, fmt.Errorf("input %d has %d rows, input 0 has %d", i, in.NumRows(), inputs[0].NumRows())
		}
		for _, col := range in.CColumns() {
			if err := out.AddDecodedColumn(col); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func evalProject(_ context.Context, params map[string]interface{}, inputs []*batch.Batch) (*batch.Batch, error) {
	out := batch.New()
	for _, c := range indicesParam(params) {
		if err := out.AddDecodedColumn(inputs[0].Column(c)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// truthy is the selection rule of filters and ternaries: nil, false, zero
// and the empty string are false.
func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case int:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	}
	return true
}

func evalLogicalFilter(_ context.Context, _ map[string]interface{}, inputs []*batch.Batch) (*batch.Batch, error) {
	data, mask := inputs[0], inputs[1]
	if data.NumRows() != mask.NumRows() {
		return nil, fmt.Errorf("mask has %d rows, data has %d", mask.NumRows(), data.NumRows())
	}
	selected := roaring.New()
	for i, v := range mask.Column(0) {
		if truthy(v) {
			selected.Add(uint32(i))
		}
	}
	rows := int(selected.GetCardinality())
	out := batch.New()
	for _, src := range data.CColumns() {
		col := make([]interface{}, 0, rows)
		it := selected.Iterator()
		for it.HasNext() {
			col = append(col, src[it.Next()])
		}
		if err := out.AddDecodedColumn(col); err != nil {
			return nil, err
		}
	}
	if data.NumColumns() == 0 {
		out.Resize(0, rows)
	}
	return out, nil
}

func evalTransform(_ context.Context, params map[string]interface{}, inputs []*batch.Batch) (*batch.Batch, error) {
	fn := transformFunc(params)
	t, _ := typeParam(params)
	in := inputs[0]
	col := make([]interface{}, in.NumRows())
	for i, row := range in.All() {
		v, err := fn(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if col[i], err = coerceOutput(v, t, 0, i); err != nil {
			return nil, err
		}
	}
	return batch.FromColumns([][]interface{}{col})
}

func evalBinaryTransform(_ context.Context, params map[string]interface{}, inputs []*batch.Batch) (*batch.Batch, error) {
	fn := binaryFunc(params)
	t, _ := typeParam(params)
	a, b := inputs[0].Column(0), inputs[1].Column(0)
	if len(a) != len(b) {
		return nil, fmt.Errorf("inputs have %d and %d rows", len(a), len(b))
	}
	col := make([]interface{}, len(a))
	for i := range a {
		v, err := fn(a[i], b[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if col[i], err = coerceOutput(v, t, 0, i); err != nil {
			return nil, err
		}
	}
	return batch.FromColumns([][]interface{}{col})
}

func evalTernary(_ context.Context, _ map[string]interface{}, inputs []*batch.Batch) (*batch.Batch, error) {
	cond, ifTrue, ifFalse := inputs[0], inputs[1], inputs[2]
	if ifTrue.NumRows() != cond.NumRows() || ifFalse.NumRows() != cond.NumRows() {
		return nil, fmt.Errorf("branch lengths %d and %d differ from condition length %d",
			ifTrue.NumRows(), ifFalse.NumRows(), cond.NumRows())
	}
	out := batch.NewWithSize(ifTrue.NumColumns(), cond.NumRows())
	for i, c := range cond.Column(0) {
		src := ifFalse.Row(i)
		if truthy(c) {
			src = ifTrue.Row(i)
		}
		if err := out.MutableRow(i).Assign(src); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func evalGeneralizedTransform(_ context.Context, params map[string]interface{}, inputs []*batch.Batch) (*batch.Batch, error) {
	fn := generalizedFunc(params)
	types, _ := typesParam(params)
	in := inputs[0]
	out := batch.NewWithSize(len(types), in.NumRows())
	cols := out.Columns()
	vals := make([]interface{}, len(types))
	for i, row := range in.All() {
		clear(vals)
		if err := fn(row, vals); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		for c, v := range vals {
			cv, err := coerceOutput(v, types[c], c, i)
			if err != nil {
				return nil, err
			}
			cols[c][i] = cv
		}
	}
	return out, nil
}

func evalAppend(_ context.Context, _ map[string]interface{}, inputs []*batch.Batch) (*batch.Batch, error) {
	a, b := inputs[0], inputs[1]
	out := batch.New()
	for c := 0; c < a.NumColumns(); c++ {
		col := make([]interface{}, 0, a.NumRows()+b.NumRows())
		col = append(col, a.Column(c)...)
		col = append(col, b.Column(c)...)
		if err := out.AddDecodedColumn(col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func evalReduce(_ context.Context, params map[string]interface{}, inputs []*batch.Batch) (*batch.Batch, error) {
	agg := aggregatorFactory(params)()
	t, _ := typeParam(params)
	for i, row := range inputs[0].All() {
		if err := agg.Add(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	v, err := agg.Emit()
	if err != nil {
		return nil, err
	}
	if v, err = coerceOutput(v, t, 0, 0); err != nil {
		return nil, err
	}
	return batch.FromColumns([][]interface{}{{v}})
}

func coerceOutput(v interface{}, t compression.ColumnType, column, row int) (interface{}, error) {
	cv, err := compression.CoerceValue(v, t)
	if err != nil {
		return nil, &batch.TypeError{Column: column, Row: row, Value: v, Want: t, Err: err}
	}
	return cv, nil
}
