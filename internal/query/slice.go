package query

import "fmt"

// MakeSlicedGraph returns a copy of the plan rooted at n in which every
// source reads only rows [begin, end) relative to its own range. For a
// parallel-slicable plan the result evaluates to the matching slice of
// n's output (for sub-linear plans: the output rows derived from that
// slice). Shared subgraphs stay shared.
func MakeSlicedGraph(n *Node, begin, end int64) (*Node, error) {
	if begin < 0 || end < begin {
		return nil, fmt.Errorf("%w: invalid slice [%d, %d)", ErrInvalidNode, begin, end)
	}
	return sliceNode(n, begin, end, make(map[*Node]*Node))
}

func sliceNode(n *Node, begin, end int64, memo map[*Node]*Node) (*Node, error) {
	if s, ok := memo[n]; ok {
		return s, nil
	}
	params := n.Params()
	var inputs []*Node
	switch n.kind {
	case OpConstant:
		if l := int64Param(params, ParamLength); end > l {
			return nil, fmt.Errorf("%w: slice end %d beyond %s length %d", ErrInvalidNode, end, n, l)
		}
		params[ParamLength] = end - begin
	case OpTableSource, OpColumnSource, OpRange:
		b0, e0 := int64Param(params, ParamBegin), int64Param(params, ParamEnd)
		if b0+end > e0 {
			return nil, fmt.Errorf("%w: slice end %d beyond %s length %d", ErrInvalidNode, end, n, e0-b0)
		}
		params[ParamBegin] = b0 + begin
		params[ParamEnd] = b0 + end
	default:
		inputs = make([]*Node, len(n.inputs))
		for i, in := range n.inputs {
			s, err := sliceNode(in, begin, end, memo)
			if err != nil {
				return nil, err
			}
			inputs[i] = s
		}
	}
	s, err := NewNode(n.kind, inputs, params)
	if err != nil {
		return nil, err
	}
	memo[n] = s
	return s, nil
}
