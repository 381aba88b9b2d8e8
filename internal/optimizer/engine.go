package optimizer

import (
	"context"
	"fmt"
	"slices"

	"github.com/soltixdb/sframe/internal/compression"
	"github.com/soltixdb/sframe/internal/config"
	"github.com/soltixdb/sframe/internal/logging"
	"github.com/soltixdb/sframe/internal/metrics"
	"github.com/soltixdb/sframe/internal/query"
	"github.com/soltixdb/sframe/internal/storage"
)

// Options controls a single optimizer run.
type Options struct {
	// MaxIterations caps the number of node visits. Reaching it returns the
	// plan as rewritten so far, which is still correct.
	MaxIterations int
}

func DefaultOptions() Options {
	return Options{MaxIterations: 10000}
}

// OptionsFromConfig reads the optimizer section of the query config.
func OptionsFromConfig(cfg config.QueryConfig) Options {
	opts := DefaultOptions()
	if cfg.MaxIterations > 0 {
		opts.MaxIterations = cfg.MaxIterations
	}
	return opts
}

// nodeInfo is the optimizer's mutable view of a plan node. Unlike plan
// nodes it tracks its consumers, so a rewrite can redirect them.
type nodeInfo struct {
	kind   query.OpKind
	params map[string]interface{}
	inputs []*nodeInfo
	// outputs holds one entry per consuming input slot.
	outputs []*nodeInfo
	// pnode is the plan node this info was last built as. Rewrites keep
	// types and lengths, so it stays valid for inference even after the
	// inputs were rewired.
	pnode *query.Node
	root  bool
	dead  bool
}

func (n *nodeInfo) types() []compression.ColumnType {
	return query.InferTypes(n.pnode)
}

func (n *nodeInfo) width() int {
	return len(n.types())
}

func (n *nodeInfo) indices() []int {
	idx, _ := n.params[query.ParamIndices].([]int)
	return idx
}

// rule is one rewrite. apply reports whether it replaced n.
type rule interface {
	name() string
	appliesTo(kind query.OpKind) bool
	apply(e *engine, n *nodeInfo) bool
}

// defaultRules run in this order on every visited node; the first rule
// that rewrites wins.
func defaultRules() []rule {
	return []rule{
		unionFlatten{},
		singletonUnion{},
		unionSourceFusion{},
		unionProjectFusion{},
		projectFusion{},
		identityProjectElimination{},
		projectAppendExchange{},
		emptyAppendElimination{},
	}
}

type engine struct {
	log      *logging.Logger
	rules    []rule
	sink     *nodeInfo
	queue    []*nodeInfo
	queued   map[*nodeInfo]bool
	rewrites int
}

// Optimize rewrites the plan rooted at root to a fixed point and returns the
// new root. The result has the same output types, length and values. The
// input plan is not modified.
func Optimize(ctx context.Context, root *query.Node, opts Options) (*query.Node, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	e := &engine{
		log:    logging.FromContext(ctx),
		rules:  defaultRules(),
		queued: make(map[*nodeInfo]bool),
	}
	e.load(root)

	iterations := 0
	for len(e.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrCanceled, err)
		}
		if iterations >= opts.MaxIterations {
			metrics.OptimizerIterationLimit.Inc()
			e.log.Warn("Optimizer iteration limit reached",
				"max_iterations", opts.MaxIterations,
				"rewrites", e.rewrites)
			break
		}
		n := e.queue[0]
		e.queue = e.queue[1:]
		delete(e.queued, n)
		if n.dead {
			continue
		}
		iterations++
		e.visit(n)
	}

	out, err := e.build(e.sink.inputs[0], make(map[*nodeInfo]*query.Node))
	if err != nil {
		return nil, fmt.Errorf("rebuild optimized plan: %w", err)
	}
	e.log.Debug("Plan optimized",
		"iterations", iterations,
		"rewrites", e.rewrites)
	return out, nil
}

func (e *engine) visit(n *nodeInfo) {
	for _, r := range e.rules {
		if !r.appliesTo(n.kind) {
			continue
		}
		if r.apply(e, n) {
			e.rewrites++
			metrics.OptimizerRewrites.WithLabelValues(r.name()).Inc()
			e.log.Debug("Plan rewritten", "rule", r.name(), "node", n.pnode.String())
			return
		}
	}
}

// load mirrors the plan into nodeInfos and queues them bottom up.
func (e *engine) load(root *query.Node) {
	infos := make(map[*query.Node]*nodeInfo)
	var walk func(p *query.Node) *nodeInfo
	walk = func(p *query.Node) *nodeInfo {
		if n, ok := infos[p]; ok {
			return n
		}
		n := &nodeInfo{kind: p.Kind(), params: p.Params(), pnode: p}
		for _, in := range p.Inputs() {
			child := walk(in)
			n.inputs = append(n.inputs, child)
			child.outputs = append(child.outputs, n)
		}
		infos[p] = n
		e.enqueue(n)
		return n
	}
	r := walk(root)
	e.sink = &nodeInfo{root: true, inputs: []*nodeInfo{r}}
	r.outputs = append(r.outputs, e.sink)
}

func (e *engine) enqueue(n *nodeInfo) {
	if n.root || n.dead || e.queued[n] {
		return
	}
	e.queued[n] = true
	e.queue = append(e.queue, n)
}

// newNode creates a node over existing inputs. It fails when the plan layer
// rejects the combination, in which case nothing is registered.
func (e *engine) newNode(kind query.OpKind, inputs []*nodeInfo, params map[string]interface{}) (*nodeInfo, error) {
	pinputs := make([]*query.Node, len(inputs))
	for i, in := range inputs {
		pinputs[i] = in.pnode
	}
	p, err := query.NewNode(kind, pinputs, params)
	if err != nil {
		return nil, err
	}
	n := &nodeInfo{kind: kind, params: p.Params(), inputs: slices.Clone(inputs), pnode: p}
	for _, in := range inputs {
		in.outputs = append(in.outputs, n)
	}
	e.enqueue(n)
	return n, nil
}

// discard drops nodes created by a rewrite that was abandoned.
func (e *engine) discard(nodes ...*nodeInfo) {
	for _, n := range nodes {
		if n != nil && len(n.outputs) == 0 {
			e.detach(n)
		}
	}
}

// replaceNode points every consumer of old at repl and drops old.
func (e *engine) replaceNode(old, repl *nodeInfo) {
	if old == repl {
		return
	}
	for _, o := range old.outputs {
		for i, in := range o.inputs {
			if in == old {
				o.inputs[i] = repl
			}
		}
		repl.outputs = append(repl.outputs, o)
		e.enqueue(o)
	}
	old.outputs = nil
	e.detach(old)
	e.enqueue(repl)
}

// detach removes an unreferenced node and, transitively, inputs that were
// only referenced by it.
func (e *engine) detach(n *nodeInfo) {
	if n.root || n.dead || len(n.outputs) > 0 {
		return
	}
	n.dead = true
	for _, in := range n.inputs {
		if i := slices.Index(in.outputs, n); i >= 0 {
			in.outputs = slices.Delete(in.outputs, i, i+1)
		}
		e.detach(in)
	}
}

// build turns the nodeInfo graph back into plan nodes. A node whose inputs
// are unchanged keeps its original plan node, memoized inference included.
func (e *engine) build(n *nodeInfo, built map[*nodeInfo]*query.Node) (*query.Node, error) {
	if p, ok := built[n]; ok {
		return p, nil
	}
	inputs := make([]*query.Node, len(n.inputs))
	for i, in := range n.inputs {
		p, err := e.build(in, built)
		if err != nil {
			return nil, err
		}
		inputs[i] = p
	}
	p := n.pnode
	if !slices.Equal(inputs, p.Inputs()) {
		var err error
		if p, err = query.NewNode(n.kind, inputs, n.params); err != nil {
			return nil, err
		}
	}
	built[n] = p
	return p, nil
}
