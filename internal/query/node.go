package query

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrInvalidNode is returned when a node cannot be constructed from the
// given kind, inputs and parameters.
var ErrInvalidNode = errors.New("invalid plan node")

// Reserved parameter keys holding memoized inference results.
const (
	memoOutputTypes  = "__output_types__"
	memoOutputLength = "__output_length__"
)

// Parameter keys understood by the operators.
const (
	ParamTable       = "table"
	ParamColumn      = "column"
	ParamBegin       = "begin"
	ParamEnd         = "end"
	ParamIndices     = "indices"
	ParamFunc        = "function"
	ParamOutputType  = "output_type"
	ParamOutputTypes = "output_types"
	ParamValue       = "value"
	ParamLength      = "length"
	ParamAggregator  = "aggregator"
)

// planMu serializes inference memoization across all plans. Plan nodes are
// shared between concurrently running queries, so the memo entries in a
// node's parameter map are only touched while holding it. Functions with a
// Locked suffix expect the caller to hold planMu.
var planMu sync.Mutex

var nextNodeID atomic.Uint64

// Node is an immutable plan node. Inputs are fixed at construction so the
// graph is acyclic; rewriting builds new nodes instead of mutating old ones.
type Node struct {
	id     uint64
	kind   OpKind
	inputs []*Node
	params map[string]interface{}
}

// NewNode builds a node of the given kind after validating its arity and
// parameters. The params map is copied.
func NewNode(kind OpKind, inputs []*Node, params map[string]interface{}) (*Node, error) {
	op, ok := lookupOperator(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown operator kind %d", ErrInvalidNode, kind)
	}
	if n := op.attrs.NumInputs; n >= 0 && len(inputs) != n {
		return nil, fmt.Errorf("%w: %s takes %d inputs, got %d", ErrInvalidNode, op.name, n, len(inputs))
	}
	if op.attrs.NumInputs < 0 && len(inputs) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one input", ErrInvalidNode, op.name)
	}
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("%w: %s input %d is nil", ErrInvalidNode, op.name, i)
		}
	}
	n := &Node{
		id:     nextNodeID.Add(1),
		kind:   kind,
		inputs: append([]*Node(nil), inputs...),
		params: make(map[string]interface{}, len(params)+2),
	}
	for k, v := range params {
		if k == memoOutputTypes || k == memoOutputLength {
			continue
		}
		n.params[k] = v
	}

	planMu.Lock()
	defer planMu.Unlock()
	if err := op.validate(n); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidNode, op.name, err)
	}
	return n, nil
}

// ID is unique per process.
func (n *Node) ID() uint64 { return n.id }

func (n *Node) Kind() OpKind { return n.kind }

// Inputs returns a copy of the input list.
func (n *Node) Inputs() []*Node { return append([]*Node(nil), n.inputs...) }

func (n *Node) NumInputs() int { return len(n.inputs) }

func (n *Node) Input(i int) *Node { return n.inputs[i] }

// Params returns a copy of the construction parameters without memo entries.
func (n *Node) Params() map[string]interface{} {
	planMu.Lock()
	defer planMu.Unlock()
	out := maps.Clone(n.params)
	delete(out, memoOutputTypes)
	delete(out, memoOutputLength)
	return out
}

// Param returns a single construction parameter.
func (n *Node) Param(key string) (interface{}, bool) {
	planMu.Lock()
	defer planMu.Unlock()
	return n.paramLocked(key)
}

func (n *Node) paramLocked(key string) (interface{}, bool) {
	v, ok := n.params[key]
	return v, ok
}

func (n *Node) String() string {
	return fmt.Sprintf("%s#%d", n.kind, n.id)
}

// Describe renders the subgraph rooted at n, one node per line.
func Describe(n *Node) string {
	var sb strings.Builder
	seen := make(map[*Node]bool)
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(n.String())
		if seen[n] {
			sb.WriteString(" (shared)\n")
			return
		}
		seen[n] = true
		sb.WriteByte('\n')
		for _, in := range n.inputs {
			walk(in, depth+1)
		}
	}
	walk(n, 0)
	return sb.String()
}

func intParam(n *Node, key string) int64 {
	return int64Param(n.params, key)
}
