package query

import (
	"slices"

	"github.com/soltixdb/sframe/internal/compression"
)

// InferTypes returns the output column types of n. The result is memoized
// on the node.
func InferTypes(n *Node) []compression.ColumnType {
	planMu.Lock()
	defer planMu.Unlock()
	return slices.Clone(inferTypesLocked(n))
}

// InferLength returns the number of rows n produces, or -1 when it depends
// on data (a filter somewhere below). The result is memoized on the node.
func InferLength(n *Node) int64 {
	planMu.Lock()
	defer planMu.Unlock()
	return inferLengthLocked(n)
}

func inferTypesLocked(n *Node) []compression.ColumnType {
	if v, ok := n.params[memoOutputTypes]; ok {
		return v.([]compression.ColumnType)
	}
	types := operators[n.kind].inferTypes(n)
	n.params[memoOutputTypes] = types
	return types
}

func inferLengthLocked(n *Node) int64 {
	if v, ok := n.params[memoOutputLength]; ok {
		return v.(int64)
	}
	l := operators[n.kind].inferLength(n)
	n.params[memoOutputLength] = l
	return l
}

// IsSource reports whether n is a leaf producing rows itself.
func IsSource(n *Node) bool {
	return AttributesOf(n.kind).Has(AttrSource)
}

// ConsumesInputsAtSameRate reports whether n reads all of its inputs in
// lockstep.
func ConsumesInputsAtSameRate(n *Node) bool {
	a := AttributesOf(n.kind)
	return a.NumInputs == 1 || a.Has(AttrLinear|AttrSubLinear)
}

// IsLinearTransform reports whether n emits exactly one row per input row.
func IsLinearTransform(n *Node) bool {
	return ConsumesInputsAtSameRate(n) && !IsSource(n) && AttributesOf(n.kind).Has(AttrLinear)
}

// IsSublinearTransform reports whether n emits at most one row per input
// row.
func IsSublinearTransform(n *Node) bool {
	return ConsumesInputsAtSameRate(n) && !IsSource(n) && AttributesOf(n.kind).Has(AttrSubLinear)
}

const (
	sliceIncompatible = 0
	sliceSource       = 1
)

// IsParallelSlicable reports whether evaluating n over a row slice of its
// sources equals the matching slice of its full output. Such plans can be
// materialized one slice per goroutine.
func IsParallelSlicable(n *Node) bool {
	next := sliceSource
	return sliceCode(n, make(map[*Node]int), &next) != sliceIncompatible
}

// sliceCode propagates a compatibility code bottom up. Nodes sharing a code
// consume their rows in the same order. Every sub-linear node starts a new
// code so that its ancestors cannot mix its output with unfiltered rows.
func sliceCode(n *Node, memo map[*Node]int, next *int) int {
	if c, ok := memo[n]; ok {
		return c
	}
	code := sliceIncompatible
	switch {
	case IsSource(n):
		code = sliceSource
	case IsLinearTransform(n), IsSublinearTransform(n):
		code = unanimousCode(n, memo, next)
		if code != sliceIncompatible && IsSublinearTransform(n) {
			*next++
			code = *next
		}
	}
	memo[n] = code
	return code
}

func unanimousCode(n *Node, memo map[*Node]int, next *int) int {
	code := sliceIncompatible
	for i, in := range n.inputs {
		c := sliceCode(in, memo, next)
		if c == sliceIncompatible || (i > 0 && c != code) {
			return sliceIncompatible
		}
		code = c
	}
	return code
}

// lengthToken is either a concrete length or the node whose runtime output
// length it shares.
type lengthToken struct {
	length int64
	origin *Node
}

func lengthTokenLocked(n *Node) lengthToken {
	if l := inferLengthLocked(n); l >= 0 {
		return lengthToken{length: l}
	}
	if IsLinearTransform(n) {
		return lengthTokenLocked(n.inputs[0])
	}
	return lengthToken{length: -1, origin: n}
}

// ProveEqualLength reports whether the lengths of a and b can be decided
// without evaluating them, and if so whether they are equal.
func ProveEqualLength(a, b *Node) (provable, equal bool) {
	planMu.Lock()
	defer planMu.Unlock()
	return proveEqualLengthLocked(a, b)
}

func proveEqualLengthLocked(a, b *Node) (provable, equal bool) {
	ta, tb := lengthTokenLocked(a), lengthTokenLocked(b)
	switch {
	case ta.origin == nil && tb.origin == nil:
		return true, ta.length == tb.length
	case ta.origin != nil && ta.origin == tb.origin:
		return true, true
	}
	return false, false
}

// Sources returns the distinct source nodes below n in depth-first order.
func Sources(n *Node) []*Node {
	var out []*Node
	seen := make(map[*Node]bool)
	var walk func(*Node)
	walk = func(n *Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		if IsSource(n) {
			out = append(out, n)
			return
		}
		for _, in := range n.inputs {
			walk(in)
		}
	}
	walk(n)
	return out
}

// SourceLength returns the common length of every source below n, or false
// when the sources differ in length.
func SourceLength(n *Node) (int64, bool) {
	sources := Sources(n)
	if len(sources) == 0 {
		return 0, false
	}
	planMu.Lock()
	defer planMu.Unlock()
	l := inferLengthLocked(sources[0])
	for _, s := range sources[1:] {
		if inferLengthLocked(s) != l {
			return 0, false
		}
	}
	return l, true
}
