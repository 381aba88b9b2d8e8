package query

import (
	"context"
	"fmt"
	"slices"

	"github.com/soltixdb/sframe/internal/batch"
	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/storage"
)

// OpKind identifies the operator of a plan node.
type OpKind uint8

const (
	OpTableSource OpKind = iota
	OpColumnSource
	OpRange
	OpConstant
	OpUnion
	OpProject
	OpLogicalFilter
	OpTransform
	OpBinaryTransform
	OpTernary
	OpGeneralizedTransform
	OpAppend
	OpReduce
	OpIdentity
	numOpKinds
)

func (k OpKind) String() string {
	if op, ok := lookupOperator(k); ok {
		return op.name
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// AttrFlags describe how an operator consumes its inputs.
type AttrFlags uint8

const (
	// AttrSource marks leaf operators producing rows from storage or
	// generators.
	AttrSource AttrFlags = 1 << iota
	// AttrLinear marks operators emitting exactly one output row per
	// input row.
	AttrLinear
	// AttrSubLinear marks operators emitting at most one output row per
	// input row.
	AttrSubLinear
)

// Attributes is the static metadata of an operator kind.
type Attributes struct {
	// NumInputs is the exact arity; -1 means one or more.
	NumInputs int
	Flags     AttrFlags
}

func (a Attributes) Has(f AttrFlags) bool { return a.Flags&f != 0 }

// TransformFunc computes one output value from an input row.
type TransformFunc func(row batch.Row) (interface{}, error)

// BinaryFunc combines the values of two single-column inputs.
type BinaryFunc func(a, b interface{}) (interface{}, error)

// GeneralizedFunc fills out (one slot per output column) from an input row.
type GeneralizedFunc func(row batch.Row, out []interface{}) error

// operator is the capability set of one kind. validate, inferTypes and
// inferLength run with planMu held; evaluate runs unlocked on a snapshot of
// the node's parameters.
type operator struct {
	name        string
	attrs       Attributes
	validate    func(n *Node) error
	inferTypes  func(n *Node) []compression.ColumnType
	inferLength func(n *Node) int64
	evaluate    func(ctx context.Context, params map[string]interface{}, inputs []*batch.Batch) (*batch.Batch, error)
}

var operators [numOpKinds]*operator

func lookupOperator(k OpKind) (*operator, bool) {
	if k >= numOpKinds {
		return nil, false
	}
	return operators[k], true
}

// AttributesOf returns the static attributes of a kind.
func AttributesOf(k OpKind) Attributes {
	if op, ok := lookupOperator(k); ok {
		return op.attrs
	}
	return Attributes{}
}

func init() {
	operators[OpTableSource] = &operator{
		name:        "table_source",
		attrs:       Attributes{NumInputs: 0, Flags: AttrSource},
		validate:    validateTableSource,
		inferTypes:  func(n *Node) []compression.ColumnType { return sourceTable(n).ColumnTypes() },
		inferLength: rangeLength,
		evaluate:    evalTableSource,
	}
	operators[OpColumnSource] = &operator{
		name:        "column_source",
		attrs:       Attributes{NumInputs: 0, Flags: AttrSource},
		validate:    validateColumnSource,
		inferTypes:  func(n *Node) []compression.ColumnType { return []compression.ColumnType{sourceColumn(n).Type()} },
		inferLength: rangeLength,
		evaluate:    evalColumnSource,
	}
	operators[OpRange] = &operator{
		name:        "range",
		attrs:       Attributes{NumInputs: 0, Flags: AttrSource},
		validate:    validateRange,
		inferTypes:  func(*Node) []compression.ColumnType { return []compression.ColumnType{compression.ColumnTypeInt64} },
		inferLength: rangeLength,
		evaluate:    evalRange,
	}
	operators[OpConstant] = &operator{
		name:        "constant",
		attrs:       Attributes{NumInputs: 0, Flags: AttrSource},
		validate:    validateConstant,
		inferTypes:  outputType,
		inferLength: func(n *Node) int64 { return intParam(n, ParamLength) },
		evaluate:    evalConstant,
	}
	operators[OpUnion] = &operator{
		name:        "union",
		attrs:       Attributes{NumInputs: -1, Flags: AttrLinear},
		validate:    validateSameLength,
		inferTypes:  inferUnionTypes,
		inferLength: linearLength,
		evaluate:    evalUnion,
	}
	operators[OpProject] = &operator{
		name:        "project",
		attrs:       Attributes{NumInputs: 1, Flags: AttrLinear},
		validate:    validateProject,
		inferTypes:  inferProjectTypes,
		inferLength: linearLength,
		evaluate:    evalProject,
	}
	operators[OpLogicalFilter] = &operator{
		name:        "logical_filter",
		attrs:       Attributes{NumInputs: 2, Flags: AttrSubLinear},
		validate:    validateLogicalFilter,
		inferTypes:  inputTypes,
		inferLength: func(*Node) int64 { return -1 },
		evaluate:    evalLogicalFilter,
	}
	operators[OpTransform] = &operator{
		name:        "transform",
		attrs:       Attributes{NumInputs: 1, Flags: AttrLinear},
		validate:    validateTransform,
		inferTypes:  outputType,
		inferLength: linearLength,
		evaluate:    evalTransform,
	}
	operators[OpBinaryTransform] = &operator{
		name:        "binary_transform",
		attrs:       Attributes{NumInputs: 2, Flags: AttrLinear},
		validate:    validateBinaryTransform,
		inferTypes:  outputType,
		inferLength: linearLength,
		evaluate:    evalBinaryTransform,
	}
	operators[OpTernary] = &operator{
		name:        "ternary_operator",
		attrs:       Attributes{NumInputs: 3, Flags: AttrLinear},
		validate:    validateTernary,
		inferTypes:  func(n *Node) []compression.ColumnType { return inferTypesLocked(n.inputs[1]) },
		inferLength: linearLength,
		evaluate:    evalTernary,
	}
	operators[OpGeneralizedTransform] = &operator{
		name:        "generalized_transform",
		attrs:       Attributes{NumInputs: 1, Flags: AttrLinear},
		validate:    validateGeneralizedTransform,
		inferTypes:  outputTypes,
		inferLength: linearLength,
		evaluate:    evalGeneralizedTransform,
	}
	operators[OpAppend] = &operator{
		name:        "append",
		attrs:       Attributes{NumInputs: 2},
		validate:    validateAppend,
		inferTypes:  inputTypes,
		inferLength: appendLength,
		evaluate:    evalAppend,
	}
	operators[OpReduce] = &operator{
		name:        "reduce",
		attrs:       Attributes{NumInputs: 1},
		validate:    validateReduce,
		inferTypes:  outputType,
		inferLength: func(*Node) int64 { return 1 },
		evaluate:    evalReduce,
	}
	operators[OpIdentity] = &operator{
		name:        "identity",
		attrs:       Attributes{NumInputs: 1, Flags: AttrLinear},
		validate:    func(*Node) error { return nil },
		inferTypes:  inputTypes,
		inferLength: linearLength,
		evaluate: func(_ context.Context, _ map[string]interface{}, inputs []*batch.Batch) (*batch.Batch, error) {
			return inputs[0], nil
		},
	}
}

// Parameter accessors. They assume the node passed validation.

func sourceTable(n *Node) *storage.Table {
	v, _ := n.paramLocked(ParamTable)
	t, _ := v.(*storage.Table)
	return t
}

func sourceColumn(n *Node) *storage.Column {
	v, _ := n.paramLocked(ParamColumn)
	c, _ := v.(*storage.Column)
	return c
}

func typeParam(params map[string]interface{}) (compression.ColumnType, bool) {
	t, ok := params[ParamOutputType].(compression.ColumnType)
	return t, ok && t.Valid()
}

func typesParam(params map[string]interface{}) ([]compression.ColumnType, bool) {
	ts, ok := params[ParamOutputTypes].([]compression.ColumnType)
	if !ok || len(ts) == 0 {
		return nil, false
	}
	for _, t := range ts {
		if !t.Valid() {
			return nil, false
		}
	}
	return ts, true
}

// Function parameters may be stored either as the named type or as a
// plain func literal.

func transformFunc(params map[string]interface{}) TransformFunc {
	switch f := params[ParamFunc].(type) {
	case TransformFunc:
		return f
	case func(batch.Row) (interface{}, error):
		return f
	}
	return nil
}

func binaryFunc(params map[string]interface{}) BinaryFunc {
	switch f := params[ParamFunc].(type) {
	case BinaryFunc:
		return f
	case func(a, b interface{}) (interface{}, error):
		return f
	}
	return nil
}

func generalizedFunc(params map[string]interface{}) GeneralizedFunc {
	switch f := params[ParamFunc].(type) {
	case GeneralizedFunc:
		return f
	case func(batch.Row, []interface{}) error:
		return f
	}
	return nil
}

func aggregatorFactory(params map[string]interface{}) AggregatorFactory {
	switch f := params[ParamAggregator].(type) {
	case AggregatorFactory:
		return f
	case func() Aggregator:
		return f
	}
	return nil
}

func indicesParam(params map[string]interface{}) []int {
	idx, _ := params[ParamIndices].([]int)
	return idx
}

func int64Param(params map[string]interface{}, key string) int64 {
	switch x := params[key].(type) {
	case int64:
		return x
	case int:
		return int64(x)
	}
	return 0
}

// Type inference.

func outputType(n *Node) []compression.ColumnType {
	t, _ := typeParam(n.params)
	return []compression.ColumnType{t}
}

func outputTypes(n *Node) []compression.ColumnType {
	ts, _ := typesParam(n.params)
	return slices.Clone(ts)
}

func inputTypes(n *Node) []compression.ColumnType {
	return inferTypesLocked(n.inputs[0])
}

func inferUnionTypes(n *Node) []compression.ColumnType {
	var out []compression.ColumnType
	for _, in := range n.inputs {
		out = append(out, inferTypesLocked(in)...)
	}
	return out
}

func inferProjectTypes(n *Node) []compression.ColumnType {
	in := inferTypesLocked(n.inputs[0])
	idx := indicesParam(n.params)
	out := make([]compression.ColumnType, len(idx))
	for i, c := range idx {
		out[i] = in[c]
	}
	return out
}

// Length inference.

func rangeLength(n *Node) int64 {
	return intParam(n, ParamEnd) - intParam(n, ParamBegin)
}

// linearLength is the length of any input whose length is known.
func linearLength(n *Node) int64 {
	for _, in := range n.inputs {
		if l := inferLengthLocked(in); l >= 0 {
			return l
		}
	}
	return -1
}

func appendLength(n *Node) int64 {
	a := inferLengthLocked(n.inputs[0])
	b := inferLengthLocked(n.inputs[1])
	if a < 0 || b < 0 {
		return -1
	}
	return a + b
}

// Validation.

func validateRowRange(n *Node, rows int64) error {
	begin, end := intParam(n, ParamBegin), intParam(n, ParamEnd)
	if begin < 0 || end < begin || end > rows {
		return fmt.Errorf("row range [%d, %d) outside [0, %d)", begin, end, rows)
	}
	return nil
}

func validateTableSource(n *Node) error {
	t := sourceTable(n)
	if t == nil {
		return fmt.Errorf("missing %q parameter", ParamTable)
	}
	return validateRowRange(n, t.NumRows())
}

func validateColumnSource(n *Node) error {
	c := sourceColumn(n)
	if c == nil {
		return fmt.Errorf("missing %q parameter", ParamColumn)
	}
	return validateRowRange(n, c.NumRows())
}

func validateRange(n *Node) error {
	if begin, end := intParam(n, ParamBegin), intParam(n, ParamEnd); end < begin {
		return fmt.Errorf("end %d before begin %d", end, begin)
	}
	return nil
}

func validateConstant(n *Node) error {
	t, ok := typeParam(n.params)
	if !ok {
		return fmt.Errorf("missing %q parameter", ParamOutputType)
	}
	if intParam(n, ParamLength) < 0 {
		return fmt.Errorf("negative length")
	}
	if _, err := compression.CoerceValue(n.params[ParamValue], t); err != nil {
		return err
	}
	return nil
}

// validateSameLength rejects inputs whose lengths are provably different.
func validateSameLength(n *Node) error {
	for i := 1; i < len(n.inputs); i++ {
		if provable, equal := proveEqualLengthLocked(n.inputs[0], n.inputs[i]); provable && !equal {
			return fmt.Errorf("input %d length %d differs from input 0 length %d",
				i, inferLengthLocked(n.inputs[i]), inferLengthLocked(n.inputs[0]))
		}
	}
	return nil
}

func validateSingleColumn(n *Node, i int) error {
	if w := len(inferTypesLocked(n.inputs[i])); w != 1 {
		return fmt.Errorf("input %d must have one column, has %d", i, w)
	}
	return nil
}

func validateProject(n *Node) error {
	idx := indicesParam(n.params)
	if len(idx) == 0 {
		return fmt.Errorf("empty projection")
	}
	width := len(inferTypesLocked(n.inputs[0]))
	for _, c := range idx {
		if c < 0 || c >= width {
			return fmt.Errorf("column %d out of range [0, %d)", c, width)
		}
	}
	return nil
}

func validateLogicalFilter(n *Node) error {
	if err := validateSingleColumn(n, 1); err != nil {
		return err
	}
	return validateSameLength(n)
}

func validateTransform(n *Node) error {
	if transformFunc(n.params) == nil {
		return fmt.Errorf("missing transform function")
	}
	if _, ok := typeParam(n.params); !ok {
		return fmt.Errorf("missing %q parameter", ParamOutputType)
	}
	return nil
}

func validateBinaryTransform(n *Node) error {
	if binaryFunc(n.params) == nil {
		return fmt.Errorf("missing binary function")
	}
	if _, ok := typeParam(n.params); !ok {
		return fmt.Errorf("missing %q parameter", ParamOutputType)
	}
	for i := range n.inputs {
		if err := validateSingleColumn(n, i); err != nil {
			return err
		}
	}
	return validateSameLength(n)
}

func validateTernary(n *Node) error {
	if err := validateSingleColumn(n, 0); err != nil {
		return err
	}
	a, b := inferTypesLocked(n.inputs[1]), inferTypesLocked(n.inputs[2])
	if !slices.Equal(a, b) {
		return fmt.Errorf("branch types differ: %v vs %v", a, b)
	}
	return validateSameLength(n)
}

func validateGeneralizedTransform(n *Node) error {
	if generalizedFunc(n.params) == nil {
		return fmt.Errorf("missing generalized transform function")
	}
	if _, ok := typesParam(n.params); !ok {
		return fmt.Errorf("missing %q parameter", ParamOutputTypes)
	}
	return nil
}

func validateAppend(n *Node) error {
	a, b := inferTypesLocked(n.inputs[0]), inferTypesLocked(n.inputs[1])
	if !slices.Equal(a, b) {
		return fmt.Errorf("input types differ: %v vs %v", a, b)
	}
	return nil
}

func validateReduce(n *Node) error {
	if aggregatorFactory(n.params) == nil {
		return fmt.Errorf("missing aggregator")
	}
	if _, ok := typeParam(n.params); !ok {
		return fmt.Errorf("missing %q parameter", ParamOutputType)
	}
	return nil
}
