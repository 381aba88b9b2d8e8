package query

import (
	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/storage"
)

// TableSource reads every row of t.
func TableSource(t *storage.Table) (*Node, error) {
	return TableSourceRange(t, 0, t.NumRows())
}

// TableSourceRange reads rows [begin, end) of t.
func TableSourceRange(t *storage.Table, begin, end int64) (*Node, error) {
	return NewNode(OpTableSource, nil, map[string]interface{}{
		ParamTable: t,
		ParamBegin: begin,
		ParamEnd:   end,
	})
}

// ColumnSource reads every row of c.
func ColumnSource(c *storage.Column) (*Node, error) {
	return ColumnSourceRange(c, 0, c.NumRows())
}

// ColumnSourceRange reads rows [begin, end) of c.
func ColumnSourceRange(c *storage.Column, begin, end int64) (*Node, error) {
	return NewNode(OpColumnSource, nil, map[string]interface{}{
		ParamColumn: c,
		ParamBegin:  begin,
		ParamEnd:    end,
	})
}

// Range produces the integers [begin, end).
func Range(begin, end int64) (*Node, error) {
	return NewNode(OpRange, nil, map[string]interface{}{
		ParamBegin: begin,
		ParamEnd:   end,
	})
}

// Constant repeats value length times.
func Constant(value interface{}, t compression.ColumnType, length int64) (*Node, error) {
	return NewNode(OpConstant, nil, map[string]interface{}{
		ParamValue:      value,
		ParamOutputType: t,
		ParamLength:     length,
	})
}

// Union places the columns of its inputs side by side.
func Union(inputs ...*Node) (*Node, error) {
	return NewNode(OpUnion, inputs, nil)
}

// Project selects columns of in by position. Indices may repeat.
func Project(in *Node, indices ...int) (*Node, error) {
	return NewNode(OpProject, []*Node{in}, map[string]interface{}{
		ParamIndices: append([]int(nil), indices...),
	})
}

// LogicalFilter keeps the rows of data where the single column of mask is
// true or non-zero.
func LogicalFilter(data, mask *Node) (*Node, error) {
	return NewNode(OpLogicalFilter, []*Node{data, mask}, nil)
}

// Transform maps every row of in to one value of type out.
func Transform(in *Node, fn TransformFunc, out compression.ColumnType) (*Node, error) {
	return NewNode(OpTransform, []*Node{in}, map[string]interface{}{
		ParamFunc:       fn,
		ParamOutputType: out,
	})
}

// BinaryTransform combines two single-column inputs row by row.
func BinaryTransform(a, b *Node, fn BinaryFunc, out compression.ColumnType) (*Node, error) {
	return NewNode(OpBinaryTransform, []*Node{a, b}, map[string]interface{}{
		ParamFunc:       fn,
		ParamOutputType: out,
	})
}

// Ternary picks the row of ifTrue where cond holds and of ifFalse otherwise.
func Ternary(cond, ifTrue, ifFalse *Node) (*Node, error) {
	return NewNode(OpTernary, []*Node{cond, ifTrue, ifFalse}, nil)
}

// GeneralizedTransform maps every row of in to len(out) values.
func GeneralizedTransform(in *Node, fn GeneralizedFunc, out []compression.ColumnType) (*Node, error) {
	return NewNode(OpGeneralizedTransform, []*Node{in}, map[string]interface{}{
		ParamFunc:        fn,
		ParamOutputTypes: append([]compression.ColumnType(nil), out...),
	})
}

// Append concatenates the rows of b after those of a.
func Append(a, b *Node) (*Node, error) {
	return NewNode(OpAppend, []*Node{a, b}, nil)
}

// Reduce folds every row of in into a single value.
func Reduce(in *Node, agg AggregatorFactory, out compression.ColumnType) (*Node, error) {
	return NewNode(OpReduce, []*Node{in}, map[string]interface{}{
		ParamAggregator: agg,
		ParamOutputType: out,
	})
}

func Identity(in *Node) (*Node, error) {
	return NewNode(OpIdentity, []*Node{in}, nil)
}

// SourceRange returns the [begin, end) parameters of a source node.
func SourceRange(n *Node) (begin, end int64) {
	planMu.Lock()
	defer planMu.Unlock()
	return intParam(n, ParamBegin), intParam(n, ParamEnd)
}

// SourceTableOf returns the table read by a table source node.
func SourceTableOf(n *Node) (*storage.Table, bool) {
	planMu.Lock()
	defer planMu.Unlock()
	t := sourceTable(n)
	return t, t != nil
}

// SourceColumnOf returns the column read by a column source node.
func SourceColumnOf(n *Node) (*storage.Column, bool) {
	planMu.Lock()
	defer planMu.Unlock()
	c := sourceColumn(n)
	return c, c != nil
}

// ProjectIndices returns the column indices of a project node.
func ProjectIndices(n *Node) []int {
	planMu.Lock()
	defer planMu.Unlock()
	return append([]int(nil), indicesParam(n.params)...)
}
