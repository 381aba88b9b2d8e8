package optimizer

import (
	"fmt"
	"slices"

	"github.com/soltixdb/sframe/internal/query"
	"github.com/soltixdb/sframe/internal/storage"
)

func identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func isIdentity(idx []int, width int) bool {
	return len(idx) == width && slices.Equal(idx, identity(width))
}

// unionFlatten inlines union inputs: union(a, union(b, c)) -> union(a, b, c).
type unionFlatten struct{}

func (unionFlatten) name() string                  { return "union_flatten" }
func (unionFlatten) appliesTo(k query.OpKind) bool { return k == query.OpUnion }

func (unionFlatten) apply(e *engine, n *nodeInfo) bool {
	var inputs []*nodeInfo
	nested := false
	for _, in := range n.inputs {
		if in.kind == query.OpUnion {
			inputs = append(inputs, in.inputs...)
			nested = true
			continue
		}
		inputs = append(inputs, in)
	}
	if !nested {
		return false
	}
	repl, err := e.newNode(query.OpUnion, inputs, nil)
	if err != nil {
		return false
	}
	e.replaceNode(n, repl)
	return true
}

// singletonUnion removes unions of one input.
type singletonUnion struct{}

func (singletonUnion) name() string                  { return "singleton_union" }
func (singletonUnion) appliesTo(k query.OpKind) bool { return k == query.OpUnion }

func (singletonUnion) apply(e *engine, n *nodeInfo) bool {
	if len(n.inputs) != 1 {
		return false
	}
	e.replaceNode(n, n.inputs[0])
	return true
}

// projectFusion composes nested projections.
type projectFusion struct{}

func (projectFusion) name() string                  { return "project_fusion" }
func (projectFusion) appliesTo(k query.OpKind) bool { return k == query.OpProject }

func (projectFusion) apply(e *engine, n *nodeInfo) bool {
	inner := n.inputs[0]
	if inner.kind != query.OpProject {
		return false
	}
	innerIdx := inner.indices()
	outer := n.indices()
	idx := make([]int, len(outer))
	for i, c := range outer {
		idx[i] = innerIdx[c]
	}
	repl, err := e.newNode(query.OpProject, inner.inputs, map[string]interface{}{query.ParamIndices: idx})
	if err != nil {
		return false
	}
	e.replaceNode(n, repl)
	return true
}

// identityProjectElimination removes projections selecting every input
// column in order.
type identityProjectElimination struct{}

func (identityProjectElimination) name() string                  { return "identity_project_elimination" }
func (identityProjectElimination) appliesTo(k query.OpKind) bool { return k == query.OpProject }

func (identityProjectElimination) apply(e *engine, n *nodeInfo) bool {
	if !isIdentity(n.indices(), n.inputs[0].width()) {
		return false
	}
	e.replaceNode(n, n.inputs[0])
	return true
}

// projectAppendExchange pushes a projection below an append it alone
// consumes: project(append(a, b)) -> append(project(a), project(b)).
type projectAppendExchange struct{}

func (projectAppendExchange) name() string                  { return "project_append_exchange" }
func (projectAppendExchange) appliesTo(k query.OpKind) bool { return k == query.OpProject }

func (projectAppendExchange) apply(e *engine, n *nodeInfo) bool {
	app := n.inputs[0]
	if app.kind != query.OpAppend || len(app.outputs) != 1 {
		return false
	}
	params := map[string]interface{}{query.ParamIndices: n.indices()}
	left, err := e.newNode(query.OpProject, app.inputs[:1], params)
	if err != nil {
		return false
	}
	right, err := e.newNode(query.OpProject, app.inputs[1:], params)
	if err != nil {
		e.discard(left)
		return false
	}
	repl, err := e.newNode(query.OpAppend, []*nodeInfo{left, right}, nil)
	if err != nil {
		e.discard(left, right)
		return false
	}
	e.replaceNode(n, repl)
	return true
}

// emptyAppendElimination replaces an append with one input of length 0 by
// its other input.
type emptyAppendElimination struct{}

func (emptyAppendElimination) name() string                  { return "empty_append_elimination" }
func (emptyAppendElimination) appliesTo(k query.OpKind) bool { return k == query.OpAppend }

func (emptyAppendElimination) apply(e *engine, n *nodeInfo) bool {
	switch {
	case query.InferLength(n.inputs[1].pnode) == 0:
		e.replaceNode(n, n.inputs[0])
	case query.InferLength(n.inputs[0].pnode) == 0:
		e.replaceNode(n, n.inputs[1])
	default:
		return false
	}
	return true
}

// unionOutput rebuilds the consumers of a rewritten union. inputs are the
// new union inputs and mapping gives, for every column of the old union,
// its position in the concatenated columns of inputs. A single input skips
// the union; a non-identity mapping adds a projection on top.
func unionOutput(e *engine, n *nodeInfo, inputs []*nodeInfo, mapping []int) bool {
	var created []*nodeInfo
	base := inputs[0]
	if len(inputs) > 1 {
		u, err := e.newNode(query.OpUnion, inputs, nil)
		if err != nil {
			return false
		}
		base = u
		created = append(created, u)
	}
	repl := base
	if !isIdentity(mapping, base.width()) {
		p, err := e.newNode(query.OpProject, []*nodeInfo{base}, map[string]interface{}{query.ParamIndices: mapping})
		if err != nil {
			e.discard(created...)
			return false
		}
		repl = p
	}
	e.replaceNode(n, repl)
	return true
}

// sourceKey identifies sources that read the same row range of equally long
// storage objects. Their columns can be read through one merged table.
type sourceKey struct {
	begin, end, rows int64
}

func sourceColumns(n *nodeInfo) ([]*storage.Column, sourceKey, bool) {
	if n.kind != query.OpTableSource && n.kind != query.OpColumnSource {
		return nil, sourceKey{}, false
	}
	begin, end := query.SourceRange(n.pnode)
	switch n.kind {
	case query.OpTableSource:
		t, ok := query.SourceTableOf(n.pnode)
		if !ok {
			return nil, sourceKey{}, false
		}
		return t.Columns(), sourceKey{begin, end, t.NumRows()}, true
	case query.OpColumnSource:
		c, ok := query.SourceColumnOf(n.pnode)
		if !ok {
			return nil, sourceKey{}, false
		}
		return []*storage.Column{c}, sourceKey{begin, end, c.NumRows()}, true
	}
	return nil, sourceKey{}, false
}

// unionSourceFusion merges table and column sources of a union that share
// a row range into a single table source.
type unionSourceFusion struct{}

func (unionSourceFusion) name() string                  { return "union_source_fusion" }
func (unionSourceFusion) appliesTo(k query.OpKind) bool { return k == query.OpUnion }

func (unionSourceFusion) apply(e *engine, n *nodeInfo) bool {
	type group struct {
		members []int
		columns []*storage.Column
		offsets map[int]int // member input -> first column in the merged table
		merged  *nodeInfo
		start   int
	}
	groups := make(map[sourceKey]*group)
	keyOf := make(map[int]sourceKey)
	fusable := false
	for i, in := range n.inputs {
		cols, key, ok := sourceColumns(in)
		if !ok {
			continue
		}
		g := groups[key]
		if g == nil {
			g = &group{offsets: make(map[int]int)}
			groups[key] = g
		}
		g.offsets[i] = len(g.columns)
		g.members = append(g.members, i)
		g.columns = append(g.columns, cols...)
		keyOf[i] = key
		fusable = fusable || len(g.members) > 1
	}
	if !fusable {
		return false
	}

	var (
		inputs  []*nodeInfo
		created []*nodeInfo
		width   int
	)
	mapping := make([]int, 0, n.width())
	for i, in := range n.inputs {
		key, isSource := keyOf[i]
		g := groups[key]
		if !isSource || len(g.members) < 2 {
			for c := 0; c < in.width(); c++ {
				mapping = append(mapping, width+c)
			}
			inputs = append(inputs, in)
			width += in.width()
			continue
		}
		if g.merged == nil {
			merged, err := mergedSource(e, g.columns, key)
			if err != nil {
				e.discard(created...)
				return false
			}
			g.merged, g.start = merged, width
			created = append(created, merged)
			inputs = append(inputs, merged)
			width += len(g.columns)
		}
		for c := 0; c < in.width(); c++ {
			mapping = append(mapping, g.start+g.offsets[i]+c)
		}
	}
	if !unionOutput(e, n, inputs, mapping) {
		e.discard(created...)
		return false
	}
	return true
}

func mergedSource(e *engine, columns []*storage.Column, key sourceKey) (*nodeInfo, error) {
	names := make([]string, len(columns))
	for i := range names {
		names[i] = fmt.Sprintf("X%d", i+1)
	}
	t, err := storage.NewTableFromColumns(names, columns)
	if err != nil {
		return nil, err
	}
	return e.newNode(query.OpTableSource, nil, map[string]interface{}{
		query.ParamTable: t,
		query.ParamBegin: key.begin,
		query.ParamEnd:   key.end,
	})
}

// unionProjectFusion merges union inputs that select columns of the same
// node into one projection per node.
type unionProjectFusion struct{}

func (unionProjectFusion) name() string                  { return "union_project_fusion" }
func (unionProjectFusion) appliesTo(k query.OpKind) bool { return k == query.OpUnion }

func (unionProjectFusion) apply(e *engine, n *nodeInfo) bool {
	type group struct {
		base    *nodeInfo
		members []int
		indices []int
		offsets map[int]int
	}
	var order []*group
	byBase := make(map[*nodeInfo]*group)
	groupOf := make([]*group, len(n.inputs))
	fusable := false
	for i, in := range n.inputs {
		base, idx := in, identity(in.width())
		if in.kind == query.OpProject {
			base, idx = in.inputs[0], in.indices()
		}
		g := byBase[base]
		if g == nil {
			g = &group{base: base, offsets: make(map[int]int)}
			byBase[base] = g
			order = append(order, g)
		}
		g.offsets[i] = len(g.indices)
		g.members = append(g.members, i)
		g.indices = append(g.indices, idx...)
		groupOf[i] = g
		fusable = fusable || len(g.members) > 1
	}
	if !fusable {
		return false
	}

	var created []*nodeInfo
	inputs := make([]*nodeInfo, len(order))
	start := make(map[*group]int, len(order))
	width := 0
	for j, g := range order {
		switch {
		case len(g.members) == 1:
			inputs[j] = n.inputs[g.members[0]]
			g.offsets[g.members[0]] = 0
		case isIdentity(g.indices, g.base.width()):
			inputs[j] = g.base
		default:
			p, err := e.newNode(query.OpProject, []*nodeInfo{g.base}, map[string]interface{}{query.ParamIndices: g.indices})
			if err != nil {
				e.discard(created...)
				return false
			}
			created = append(created, p)
			inputs[j] = p
		}
		start[g] = width
		width += inputs[j].width()
	}

	mapping := make([]int, 0, n.width())
	for i, in := range n.inputs {
		g := groupOf[i]
		for c := 0; c < in.width(); c++ {
			mapping = append(mapping, start[g]+g.offsets[i]+c)
		}
	}
	if !unionOutput(e, n, inputs, mapping) {
		e.discard(created...)
		return false
	}
	return true
}
