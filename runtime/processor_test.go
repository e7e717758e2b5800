package runtime

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/opflow/op"
	"github.com/warriorguo/opflow/types"
)

func childInt(t *testing.T, p *Processor, n *op.OpNode, key string) int {
	child, exists := p.Context().FindChild(n)
	require.True(t, exists, "no context for %s", n)
	v, exists := child.GetInt(key)
	require.True(t, exists, "no %s on %s", key, n)
	return v
}

func TestProcessorChain(t *testing.T) {
	tr := &trace{}
	g, n := tr.chain(t, "chain", "a", "b", "c")
	ev := &events{}
	p := NewProcessor(g, WithListeners(ev.listener()))

	assert.Equal(t, Idle, p.State())
	assert.True(t, p.HasNext())
	assert.Nil(t, p.StepAll(false))

	assert.Equal(t, []string{"a", "b", "c"}, tr.calls)
	assert.Equal(t, 3, childInt(t, p, n["c"], "out"))
	assert.Equal(t, 1, ev.complete)
	assert.Equal(t, []string{"begin a", "end a", "begin b", "end b", "begin c", "end c"}, ev.log)
	assert.Equal(t, Exhausted, p.State())
	assert.False(t, p.HasNext())
	assert.Same(t, n["c"], p.CurrentNode())

	err := p.Step(false)
	assert.True(t, errors.Is(err, types.ErrNoMoreElements))
	assert.Nil(t, p.Err())
}

func TestProcessorFanIn(t *testing.T) {
	tr := &trace{}
	g := op.NewOpGraph("fanin")
	a, b, c := tr.addNode("a"), tr.addNode("b"), tr.sumNode("c")
	mustAdd(t, g, c, b, a)
	mustLink(t, g, a, "out", c, "x")
	mustLink(t, g, b, "out", c, "y")

	assert.Equal(t, 0, g.Level(a))
	assert.Equal(t, 0, g.Level(b))
	assert.Equal(t, 1, g.Level(c))

	p := NewProcessor(g)
	assert.Nil(t, p.StepAll(false))
	require.Len(t, tr.calls, 3)
	assert.Equal(t, "c", tr.calls[2])
	assert.Equal(t, 2, childInt(t, p, c, "out"))
}

func TestProcessorRequiredInput(t *testing.T) {
	tr := &trace{}
	g := op.NewOpGraph("required")
	c := tr.sumNode("c")
	mustAdd(t, g, c)

	p := NewProcessor(g)
	err := p.Step(false)
	assert.True(t, errors.Is(err, types.ErrRequiredInput))
	assert.Contains(t, err.Error(), "x")

	var pe *types.ProcessingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "c", pe.NodeID)
	assert.Equal(t, err, p.Err())
	assert.Empty(t, tr.calls)

	assert.False(t, p.HasNext())
	assert.Equal(t, Errored, p.State())
	err = p.Step(false)
	assert.True(t, errors.Is(err, types.ErrHalted))
	assert.NotNil(t, p.StepAll(false))

	// values seeded into the node's context satisfy the inputs
	ctx := op.NewOpContext()
	ctx.Child(c).Set("x", 2)
	ctx.Child(c).Set("y", 3)
	assert.Nil(t, p.Reset(ctx))
	assert.Nil(t, p.Err())
	assert.Nil(t, p.StepAll(false))
	assert.Equal(t, 5, childInt(t, p, c, "out"))
}

func TestProcessorInvalidType(t *testing.T) {
	tr := &trace{}
	g := op.NewOpGraph("invalid")
	src := op.NewOpNode("src", "src", func(ctx *op.OpContext) error {
		ctx.Set("out", "text")
		return nil
	}, op.WithOutputs(op.NewField("out", nil)))
	dst := tr.addNode("dst")
	mustAdd(t, g, src, dst)
	mustLink(t, g, src, "out", dst, "in")

	p := NewProcessor(g)
	assert.Nil(t, p.Step(false))
	err := p.Step(false)
	assert.True(t, errors.Is(err, types.ErrInvalidType))
	assert.Contains(t, err.Error(), "text")
	assert.Contains(t, err.Error(), "src.out -> dst.in")
	assert.Empty(t, tr.calls)
}

func TestProcessorValidator(t *testing.T) {
	tr := &trace{}
	g := op.NewOpGraph("validator")
	src := tr.addNode("src")
	small := op.NewField("in", op.TypeOf[int]())
	small.Validator = func(v any) error {
		if v.(int) > 0 {
			return errors.NotValidf("value %v", v)
		}
		return nil
	}
	dst := op.NewOpNode("dst", "dst", nil, op.WithInputs(small))
	mustAdd(t, g, src, dst)
	mustLink(t, g, src, "out", dst, "in")

	p := NewProcessor(g)
	err := p.StepAll(false)
	assert.True(t, errors.Is(err, types.ErrInvalidType))
}

func TestProcessorOperationError(t *testing.T) {
	boom := errors.New("boom")
	tr := &trace{}
	g := op.NewOpGraph("fail")
	a, b, c := tr.addNode("a"), tr.failNode("b", boom), tr.addNode("c")
	mustAdd(t, g, a, b, c)
	mustLink(t, g, a, "out", b, "in")
	mustLink(t, g, b, "out", c, "in")

	ev := &events{}
	p := NewProcessor(g, WithListeners(ev.listener()))
	err := p.StepAll(false)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, []string{"a", "b"}, tr.calls)
	assert.Equal(t, 0, ev.complete)
	assert.Equal(t, []string{"begin a", "end a", "begin b"}, ev.log)

	child, _ := p.Context().FindChild(b)
	assert.Same(t, child, p.ErrContext())
	assert.Same(t, b, p.CurrentNode())
}

func TestProcessorRecoversPanic(t *testing.T) {
	g := op.NewOpGraph("panic")
	n := op.NewOpNode("p", "p", func(ctx *op.OpContext) error {
		panic("kaboom")
	})
	mustAdd(t, g, n)

	p := NewProcessor(g)
	err := p.Step(false)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, Errored, p.State())
}

func TestProcessorDisabledNode(t *testing.T) {
	tr := &trace{}
	g, n := tr.chain(t, "disabled", "a", "b", "c")
	ev := &events{}
	p := NewProcessor(g, WithListeners(ev.listener()))

	ctx := op.NewOpContext()
	ctx.Child(n["b"]).Set(op.EnabledKey, false)
	assert.Nil(t, p.Reset(ctx))
	assert.Nil(t, p.StepAll(false))

	assert.Equal(t, []string{"a", "c"}, tr.calls)
	assert.NotContains(t, ev.log, "begin b")
	assert.Equal(t, 1, childInt(t, p, n["c"], "out"))
}

func TestProcessorEnabledByLink(t *testing.T) {
	tr := &trace{}
	g := op.NewOpGraph("switch")
	sw := op.NewOpNode("switch", "switch", func(ctx *op.OpContext) error {
		ctx.Set("on", "false")
		return nil
	}, op.WithOutputs(op.NewField("on", nil)))
	a := tr.addNode("a")
	mustAdd(t, g, sw, a)
	mustLink(t, g, sw, "on", a, op.EnabledKey)

	// the enabled field is a bool
	p := NewProcessor(g)
	err := p.StepAll(false)
	assert.True(t, errors.Is(err, types.ErrInvalidType))

	sw2 := op.NewOpNode("switch", "switch", func(ctx *op.OpContext) error {
		ctx.Set("on", false)
		return nil
	}, op.WithOutputs(op.NewField("on", op.TypeOf[bool]())))
	g2 := op.NewOpGraph("switch2")
	b := tr.addNode("b")
	mustAdd(t, g2, sw2, b)
	mustLink(t, g2, sw2, "on", b, op.EnabledKey)
	assert.Nil(t, NewProcessor(g2).StepAll(false))
	assert.Zero(t, tr.count("b"))
}

func TestProcessorResetSameContext(t *testing.T) {
	tr := &trace{}
	g, _ := tr.chain(t, "reset", "a", "b")
	p := NewProcessor(g)
	assert.Nil(t, p.StepAll(false))

	ctx := p.Context()
	ctx.Set("global", 1)
	assert.Equal(t, 2, ctx.ChildCount())
	assert.Nil(t, p.Reset(ctx))
	assert.Same(t, ctx, p.Context())
	assert.Equal(t, 0, ctx.ChildCount())
	assert.True(t, ctx.Has("global"))
	assert.Equal(t, Idle, p.State())
	assert.Nil(t, p.CurrentNode())

	assert.Nil(t, p.StepAll(false))
	assert.Equal(t, []string{"a", "b", "a", "b"}, tr.calls)
}

// Resuming after a breakpoint continues with the node after it: the
// flagged node is consumed without being invoked.
func TestProcessorBreakpointSkipsNode(t *testing.T) {
	tr := &trace{}
	g, n := tr.chain(t, "breakpoint", "a", "b", "c")
	n["b"].SetBreakpoint(true)
	ev := &events{}
	p := NewProcessor(g, WithListeners(ev.listener()))

	err := p.StepAll(true)
	assert.True(t, types.IsBreakpoint(err))
	var be *types.BreakpointError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "b", be.NodeID)
	assert.Same(t, n["b"], p.CurrentNode())
	assert.Nil(t, p.Err())
	assert.True(t, p.HasNext())
	assert.Equal(t, 0, ev.complete)

	assert.Nil(t, p.StepAll(true))
	assert.Equal(t, []string{"a", "c"}, tr.calls)
	assert.Equal(t, 1, childInt(t, p, n["c"], "out"))
	assert.Equal(t, 1, ev.complete)
}

func TestProcessorBreakpointIgnored(t *testing.T) {
	tr := &trace{}
	g, n := tr.chain(t, "breakpoint", "a", "b", "c")
	n["b"].SetBreakpoint(true)

	p := NewProcessor(g)
	assert.Nil(t, p.StepAll(false))
	assert.Equal(t, []string{"a", "b", "c"}, tr.calls)

	// StepInto never breaks
	assert.Nil(t, p.Reset(nil))
	assert.Nil(t, p.StepInto())
	assert.Nil(t, p.StepInto())
	assert.Same(t, n["b"], p.CurrentNode())
}

func TestProcessorCompositeStep(t *testing.T) {
	tr := &trace{}
	g, n := tr.macroGraph(t, nil)
	ev := &events{}
	p := NewProcessor(g, WithListeners(ev.listener()))

	assert.Nil(t, p.StepAll(false))
	assert.Equal(t, []string{"a", "x", "y", "c"}, tr.calls)
	assert.Equal(t, 3, childInt(t, p, n["m"], "out"))
	assert.Equal(t, 4, childInt(t, p, n["c"], "out"))
	assert.Equal(t, []string{
		"begin a", "end a",
		"begin m", "begin x", "end x", "begin y", "end y", "end m",
		"begin c", "end c",
	}, ev.log)
	assert.Equal(t, 1, ev.complete)
}

func TestProcessorStepIntoAndOutOf(t *testing.T) {
	tr := &trace{}
	g, n := tr.macroGraph(t, nil)
	p := NewProcessor(g)

	assert.Nil(t, p.StepInto())
	assert.Nil(t, p.StepInto())
	assert.Equal(t, InMacro, p.State())
	assert.Same(t, n["m"], p.CurrentNode())
	require.NotNil(t, p.Macro())
	assert.Same(t, p, p.Macro().Parent())
	assert.Equal(t, []string{"m"}, p.Macro().Path().Export())
	assert.Equal(t, []string{"a"}, tr.calls)

	assert.Nil(t, p.StepInto())
	assert.Same(t, n["x"], p.ActiveNode())
	assert.Same(t, n["m"], p.CurrentNode())

	assert.Nil(t, p.StepOutOf())
	assert.Nil(t, p.Macro())
	assert.Same(t, n["m"], p.CurrentNode())
	assert.Equal(t, []string{"a", "x", "y"}, tr.calls)
	assert.Equal(t, 3, childInt(t, p, n["m"], "out"))

	assert.Nil(t, p.Step(false))
	assert.Same(t, n["c"], p.CurrentNode())
	assert.Equal(t, 4, childInt(t, p, n["c"], "out"))
	assert.False(t, p.HasNext())
}

func TestProcessorStepOutOfWithoutMacro(t *testing.T) {
	tr := &trace{}
	g, _ := tr.chain(t, "flat", "a")
	p := NewProcessor(g)
	assert.Nil(t, p.StepOutOf())
	assert.Empty(t, tr.calls)
}

func TestProcessorStepOutOfPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	tr := &trace{}
	g, n := tr.macroGraph(t, tr.failNode("y", boom))
	p := NewProcessor(g)

	assert.Nil(t, p.StepInto())
	assert.Nil(t, p.StepInto())
	err := p.StepOutOf()
	assert.True(t, errors.Is(err, boom))

	var pe *types.ProcessingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "y", pe.NodeID)
	assert.Equal(t, err, p.Err())
	assert.Nil(t, p.Macro())
	assert.Same(t, n["m"], p.CurrentNode())
	assert.False(t, p.HasNext())

	mctx, _ := p.Context().FindChild(n["m"])
	yctx, _ := mctx.FindChild(n["y"])
	assert.Same(t, yctx, p.ErrContext())
}

func TestProcessorNestedErrorThroughStepAll(t *testing.T) {
	boom := errors.New("boom")
	tr := &trace{}
	g, n := tr.macroGraph(t, tr.failNode("y", boom))
	p := NewProcessor(g)

	err := p.StepAll(false)
	var pe *types.ProcessingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "y", pe.NodeID)
	assert.Equal(t, "node y (y): boom", err.Error())
	assert.Equal(t, []string{"a", "x", "y"}, tr.calls)

	mctx, _ := p.Context().FindChild(n["m"])
	yctx, _ := mctx.FindChild(n["y"])
	assert.Same(t, yctx, p.ErrContext())
}

func TestProcessorDelegatedError(t *testing.T) {
	boom := errors.New("boom")
	tr := &trace{}
	g, n := tr.macroGraph(t, tr.failNode("y", boom))
	p := NewProcessor(g)

	assert.Nil(t, p.StepInto())
	assert.Nil(t, p.StepInto())
	assert.Nil(t, p.Step(false))
	err := p.Step(false)
	assert.True(t, errors.Is(err, boom))

	// the macro failed, the error shows through its parent
	assert.Equal(t, err, p.Err())
	assert.Equal(t, InMacro, p.State())
	assert.Same(t, n["y"], p.ActiveNode())

	assert.Equal(t, err, p.Step(false))
	assert.Equal(t, Errored, p.State())
	assert.Equal(t, err, p.Err())
}

func TestProcessorStepToNode(t *testing.T) {
	tr := &trace{}
	g, n := tr.chain(t, "to", "a", "b", "c", "d")
	p := NewProcessor(g)

	found, err := p.StepToNode(n["c"], false)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Same(t, n["c"], p.CurrentNode())
	assert.Equal(t, []string{"a", "b", "c"}, tr.calls)

	found, err = p.StepToNode(n["a"], false)
	assert.Nil(t, err)
	assert.False(t, found)
	assert.False(t, p.HasNext())
}

func TestProcessorStepToNodeBreaks(t *testing.T) {
	tr := &trace{}
	g, n := tr.chain(t, "to", "a", "b", "c")
	n["b"].SetBreakpoint(true)
	p := NewProcessor(g)

	found, err := p.StepToNode(n["c"], true)
	assert.True(t, types.IsBreakpoint(err))
	assert.False(t, found)

	found, err = p.StepToNode(n["c"], true)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"a", "c"}, tr.calls)
}

func TestProcessorStepToNodeThroughMacro(t *testing.T) {
	tr := &trace{}
	g, n := tr.macroGraph(t, nil)
	p := NewProcessor(g)

	assert.Nil(t, p.StepInto())
	assert.Nil(t, p.StepInto())
	found, err := p.StepToNode(n["y"], false)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Same(t, n["y"], p.ActiveNode())

	found, err = p.StepToNode(n["c"], false)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Nil(t, p.Macro())
	assert.Equal(t, []string{"a", "x", "y", "c"}, tr.calls)
}

func TestProcessorStepToNextLevel(t *testing.T) {
	tr := &trace{}
	g := op.NewOpGraph("levels")
	a, b, c, d := tr.addNode("a"), tr.addNode("b"), tr.addNode("c"), tr.addNode("d")
	mustAdd(t, g, d, c, b, a)
	mustLink(t, g, a, "out", c, "in")
	mustLink(t, g, c, "out", d, "in")
	p := NewProcessor(g)

	// from Idle only the first node of level 0 runs
	assert.Nil(t, p.StepToNextLevel())
	assert.Equal(t, []string{"a"}, tr.calls)

	assert.Nil(t, p.StepToNextLevel())
	assert.Equal(t, []string{"a", "b", "c"}, tr.calls)
	assert.Same(t, c, p.CurrentNode())

	assert.Nil(t, p.StepToNextLevel())
	assert.Equal(t, []string{"a", "b", "c", "d"}, tr.calls)
	assert.False(t, p.HasNext())

	err := p.StepToNextLevel()
	assert.True(t, errors.Is(err, types.ErrNoMoreElements))
}

func TestProcessorStepToNextLevelInMacro(t *testing.T) {
	tr := &trace{}
	g, n := tr.macroGraph(t, nil)
	p := NewProcessor(g)

	assert.Nil(t, p.StepInto())
	assert.Nil(t, p.StepInto())
	assert.Nil(t, p.StepToNextLevel())
	assert.Same(t, n["x"], p.ActiveNode())
	assert.Nil(t, p.StepToNextLevel())
	assert.Same(t, n["y"], p.ActiveNode())

	// exhausted macro: the call steps out of it
	assert.Nil(t, p.StepToNextLevel())
	assert.Nil(t, p.Macro())
	assert.Same(t, n["m"], p.CurrentNode())
}

func newForEachGraph(t *testing.T, tr *trace, items any) (*op.OpGraph, *op.OpNode, *any) {
	inner := op.NewOpGraph("body")
	mul := op.NewOpNode("mul", "mul", func(ctx *op.OpContext) error {
		tr.record("mul")
		item, _ := ctx.GetInt("item")
		factor, _ := ctx.GetInt("factor")
		ctx.Set("out", item*factor)
		return nil
	},
		op.WithInputs(op.NewField("item", op.TypeOf[int]()), op.NewField("factor", op.TypeOf[int]())),
		op.WithOutputs(op.NewField("out", op.TypeOf[int]())))
	mustAdd(t, inner, mul)

	loop, fe := op.NewForEachNode("loop", "loop", inner)
	require.NoError(t, fe.PublishItem(mul, "item"))
	_, err := fe.PublishInput(mul, "factor", "factor")
	require.NoError(t, err)
	_, err = fe.PublishOutput(mul, "out", "results")
	require.NoError(t, err)

	src := op.NewOpNode("src", "src", func(ctx *op.OpContext) error {
		ctx.Set("items", items)
		ctx.Set("factor", 10)
		return nil
	}, op.WithOutputs(op.NewField("items", nil), op.NewField("factor", op.TypeOf[int]())))

	got := new(any)
	collect := op.NewOpNode("collect", "collect", func(ctx *op.OpContext) error {
		*got, _ = ctx.Get("values")
		return nil
	}, op.WithInputs(op.NewField("values", op.TypeOf[[]any]())))

	g := op.NewOpGraph("foreach")
	mustAdd(t, g, src, loop, collect)
	mustLink(t, g, src, "items", loop, op.ItemsKey)
	mustLink(t, g, src, "factor", loop, "factor")
	mustLink(t, g, loop, "results", collect, "values")
	return g, loop, got
}

func TestProcessorForEach(t *testing.T) {
	tr := &trace{}
	g, _, got := newForEachGraph(t, tr, []int{1, 2, 3})
	ev := &events{}
	p := NewProcessor(g, WithListeners(ev.listener()))

	assert.Nil(t, p.StepAll(false))
	assert.Equal(t, []any{10, 20, 30}, *got)
	assert.Equal(t, 3, tr.count("mul"))
	assert.Equal(t, 1, ev.complete)
}

func TestProcessorForEachEmpty(t *testing.T) {
	tr := &trace{}
	g, _, got := newForEachGraph(t, tr, []string{})
	p := NewProcessor(g)

	assert.Nil(t, p.StepAll(false))
	assert.Equal(t, []any{}, *got)
	assert.Zero(t, tr.count("mul"))
}

func TestProcessorForEachStepInto(t *testing.T) {
	tr := &trace{}
	g, loop, got := newForEachGraph(t, tr, []any{1, 2})
	p := NewProcessor(g)

	assert.Nil(t, p.StepInto())
	assert.Nil(t, p.StepInto())
	assert.Same(t, loop, p.CurrentNode())
	assert.Equal(t, InMacro, p.State())

	assert.Nil(t, p.StepInto())
	assert.Equal(t, 1, tr.count("mul"))
	assert.Nil(t, p.StepInto())
	assert.Equal(t, 2, tr.count("mul"))
	assert.False(t, p.Macro().HasNext())

	// steps out, publishing the results
	assert.Nil(t, p.Step(false))
	assert.Nil(t, p.Macro())
	assert.Same(t, loop, p.CurrentNode())

	assert.Nil(t, p.Step(false))
	assert.Equal(t, []any{10, 20}, *got)
}

func TestProcessorForEachInvalidItems(t *testing.T) {
	tr := &trace{}
	g, _, _ := newForEachGraph(t, tr, 42)
	p := NewProcessor(g)

	err := p.StepAll(false)
	assert.True(t, errors.Is(err, errors.NotValid))
	var pe *types.ProcessingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "loop", pe.NodeID)
}

type countingProcessor struct {
	op.NodeIterator
	initialized int
	terminated  int
	failOnEnd   error
}

func (c *countingProcessor) Initialize(ctx *op.OpContext) error {
	c.initialized++
	return nil
}

func (c *countingProcessor) Terminate(ctx *op.OpContext) error {
	c.terminated++
	return c.failOnEnd
}

func TestProcessorCustomProcessor(t *testing.T) {
	tr := &trace{}
	g, n := tr.chain(t, "custom", "a", "b", "c")
	// visit c and a only, in that order
	cp := &countingProcessor{NodeIterator: op.NewSliceIterator([]*op.OpNode{n["c"], n["a"]})}
	p := NewProcessor(g, WithCustomProcessor(cp))

	assert.Equal(t, 1, cp.initialized)
	assert.Nil(t, p.StepAll(false))
	assert.Equal(t, []string{"c", "a"}, tr.calls)
	assert.Equal(t, 1, cp.terminated)

	cp.NodeIterator = op.NewSliceIterator([]*op.OpNode{n["b"]})
	cp.failOnEnd = errors.New("end")
	assert.Nil(t, p.Reset(nil))
	assert.Equal(t, 2, cp.initialized)
	err := p.StepAll(false)
	assert.NotNil(t, err)
	assert.Equal(t, 2, cp.terminated)
	assert.Equal(t, Errored, p.State())
}
