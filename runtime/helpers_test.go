package runtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warriorguo/opflow/op"
)

// trace collects the ids of the nodes whose operation ran, in order.
type trace struct {
	mu    sync.Mutex
	calls []string
}

func (tr *trace) record(id string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, id)
}

func (tr *trace) count(id string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for _, call := range tr.calls {
		if call == id {
			n++
		}
	}
	return n
}

// addNode returns a node computing out = in + 1, in being optional.
func (tr *trace) addNode(id string) *op.OpNode {
	return op.NewOpNode(id, id, func(ctx *op.OpContext) error {
		tr.record(id)
		in, _ := ctx.GetInt("in")
		ctx.Set("out", in+1)
		return nil
	},
		op.WithInputs(op.NewOptionalField("in", op.TypeOf[int]())),
		op.WithOutputs(op.NewField("out", op.TypeOf[int]())))
}

// sumNode returns a node computing out = x + y, both required.
func (tr *trace) sumNode(id string) *op.OpNode {
	return op.NewOpNode(id, id, func(ctx *op.OpContext) error {
		tr.record(id)
		x, _ := ctx.GetInt("x")
		y, _ := ctx.GetInt("y")
		ctx.Set("out", x+y)
		return nil
	},
		op.WithInputs(op.NewField("x", op.TypeOf[int]()), op.NewField("y", op.TypeOf[int]())),
		op.WithOutputs(op.NewField("out", op.TypeOf[int]())))
}

func (tr *trace) failNode(id string, err error) *op.OpNode {
	return op.NewOpNode(id, id, func(ctx *op.OpContext) error {
		tr.record(id)
		return err
	},
		op.WithInputs(op.NewOptionalField("in", op.TypeOf[int]())),
		op.WithOutputs(op.NewField("out", op.TypeOf[int]())))
}

func mustAdd(t *testing.T, g *op.OpGraph, nodes ...*op.OpNode) {
	for _, n := range nodes {
		require.NoError(t, g.Add(n))
	}
}

func mustLink(t *testing.T, g *op.OpGraph, src *op.OpNode, srcKey string, dst *op.OpNode, dstKey string) {
	_, err := g.Link(src, srcKey, dst, dstKey)
	require.NoError(t, err)
}

// chain builds ids[0] -> ids[1] -> ... with addNodes.
func (tr *trace) chain(t *testing.T, graphID string, ids ...string) (*op.OpGraph, map[string]*op.OpNode) {
	g := op.NewOpGraph(graphID)
	nodes := make(map[string]*op.OpNode)
	var prev *op.OpNode
	for _, id := range ids {
		n := tr.addNode(id)
		mustAdd(t, g, n)
		if prev != nil {
			mustLink(t, g, prev, "out", n, "in")
		}
		nodes[id] = n
		prev = n
	}
	return g, nodes
}

// macroGraph builds a -> m -> c where m wraps x -> y, publishing x.in as
// in and y.out as out.
func (tr *trace) macroGraph(t *testing.T, y *op.OpNode) (*op.OpGraph, map[string]*op.OpNode) {
	inner := op.NewOpGraph("inner")
	x := tr.addNode("x")
	if y == nil {
		y = tr.addNode("y")
	}
	mustAdd(t, inner, x, y)
	mustLink(t, inner, x, "out", y, "in")

	m, macro := op.NewMacroNode("m", "m", inner)
	_, err := macro.PublishInput(x, "in", "in")
	require.NoError(t, err)
	_, err = macro.PublishOutput(y, "out", "out")
	require.NoError(t, err)

	g := op.NewOpGraph("outer")
	a, c := tr.addNode("a"), tr.addNode("c")
	mustAdd(t, g, a, m, c)
	mustLink(t, g, a, "out", m, "in")
	mustLink(t, g, m, "out", c, "in")
	return g, map[string]*op.OpNode{"a": a, "m": m, "c": c, "x": x, "y": y}
}

type events struct {
	log      []string
	complete int
}

func (e *events) listener() Listener {
	return &ListenerFuncs{
		OnBeginNode: func(p *Processor, n *op.OpNode) { e.log = append(e.log, "begin "+n.ID()) },
		OnEndNode:   func(p *Processor, n *op.OpNode) { e.log = append(e.log, "end "+n.ID()) },
		OnComplete:  func(p *Processor) { e.complete++ },
	}
}
