package runtime

import (
	"slices"

	"github.com/juju/errors"
	"github.com/warriorguo/opflow/op"
	"github.com/warriorguo/opflow/types"
	"github.com/warriorguo/opflow/utils"
)

type State int

const (
	// Idle: reset, nothing processed yet
	Idle State = iota
	Advancing
	// InMacro: a nested processor steps through a composite node
	InMacro
	// Errored: halted until the next Reset
	Errored
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Advancing:
		return "advancing"
	case InMacro:
		return "in macro"
	case Errored:
		return "errored"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Processor steps through an OpGraph one node at a time. It is synchronous
// and not safe for concurrent use.
type Processor struct {
	graph *op.OpGraph

	custom op.CustomProcessor
	iter   op.NodeIterator

	current *op.OpNode
	ctx     *op.OpContext

	macro  *Processor
	parent *Processor
	path   utils.Path

	err    error
	errCtx *op.OpContext

	listeners []Listener
}

type ProcessorOption func(*Processor)

// WithCustomProcessor replaces the topological pass over the graph.
func WithCustomProcessor(cp op.CustomProcessor) ProcessorOption {
	return func(p *Processor) {
		p.custom = cp
	}
}

func WithListeners(ls ...Listener) ProcessorOption {
	return func(p *Processor) {
		p.listeners = append(p.listeners, ls...)
	}
}

// NewProcessor creates a processor reset with a fresh context.
func NewProcessor(g *op.OpGraph, opts ...ProcessorOption) *Processor {
	p := &Processor{graph: g, path: utils.NewPath()}
	for _, opt := range opts {
		opt(p)
	}
	// a failing Initialize leaves p halted, see Err
	_ = p.Reset(nil)
	return p
}

// Reset binds ctx and rewinds the processor. A nil ctx is replaced by a
// fresh context; rebinding the current context drops its child contexts.
func (p *Processor) Reset(ctx *op.OpContext) error {
	if ctx == nil {
		ctx = op.NewOpContext()
	} else if ctx == p.ctx {
		ctx.ClearChildren()
	}
	p.ctx = ctx
	p.current = nil
	p.macro = nil
	p.err = nil
	p.errCtx = nil

	if p.custom == nil {
		p.iter = op.NewSliceIterator(p.graph.Nodes())
		return nil
	}
	p.iter = p.custom
	if err := p.custom.Initialize(ctx); err != nil {
		p.iter = nil
		p.err = errors.Trace(err)
		p.errCtx = ctx
		return p.err
	}
	return nil
}

// HasNext reports whether Step can make progress. It is false once the
// processor errored.
func (p *Processor) HasNext() bool {
	return p.macro != nil || (p.iter != nil && p.iter.HasNext())
}

// Step processes the next node. With shouldBreak set, a node flagged as
// breakpoint is consumed without being invoked and a BreakpointError is
// returned. Resuming continues after that node.
func (p *Processor) Step(shouldBreak bool) error {
	return p.advance(shouldBreak, false)
}

// StepInto is Step(false), except that a composite node is entered: its
// inner graph becomes the active macro, stepped by the following calls.
func (p *Processor) StepInto() error {
	return p.advance(false, true)
}

func (p *Processor) advance(shouldBreak, into bool) error {
	if p.macro != nil {
		if p.macro.HasNext() {
			return p.macro.advance(shouldBreak, into)
		}
		return p.StepOutOf()
	}
	if p.iter == nil {
		return errors.Annotatef(types.ErrHalted, "graph %s: %v", p.graph.ID(), p.err)
	}
	if !p.iter.HasNext() {
		return errors.Annotatef(types.ErrNoMoreElements, "graph %s", p.graph.ID())
	}

	n := p.iter.Next()
	p.current = n
	if n.Breakpoint() && shouldBreak {
		return types.NewBreakpointError(n.ID(), n.Name())
	}
	if into && isComposite(n) {
		return p.enterMacro(n)
	}
	return p.process(n)
}

// StepOutOf resolves one level of nesting: the deepest active macro is run
// to completion, breakpoints ignored. Without an active macro it does
// nothing.
func (p *Processor) StepOutOf() error {
	if p.macro == nil {
		return nil
	}
	if p.macro.macro != nil {
		return p.macro.StepOutOf()
	}
	return p.exitMacro()
}

// StepToNextLevel steps until the current node's level differs from the
// level it had when called, or nothing is left. From Idle there is no level
// yet, so the first call stops after one node. Inside a macro the call is
// delegated.
func (p *Processor) StepToNextLevel() error {
	if p.macro != nil {
		if p.macro.HasNext() {
			return p.macro.StepToNextLevel()
		}
		return p.StepOutOf()
	}
	level := p.level(p.current)
	for {
		if err := p.Step(false); err != nil {
			return err
		}
		if !p.HasNext() || p.level(p.current) != level {
			return nil
		}
	}
}

// StepToNode steps until target is the current node, searching the active
// macro first. It reports whether target was reached.
func (p *Processor) StepToNode(target *op.OpNode, shouldBreak bool) (bool, error) {
	if p.macro != nil {
		found, err := p.macro.StepToNode(target, shouldBreak)
		if err != nil || found {
			return found, err
		}
		if err := p.StepOutOf(); err != nil {
			return false, err
		}
		if p.current == target {
			return true, nil
		}
	}
	for p.HasNext() {
		if err := p.Step(shouldBreak); err != nil {
			return false, err
		}
		if p.current == target {
			return true, nil
		}
	}
	return false, nil
}

// StepAll steps until nothing is left, then emits Complete. Nested
// processors share their parent's listeners and never emit it.
func (p *Processor) StepAll(shouldBreak bool) error {
	for p.HasNext() {
		if err := p.Step(shouldBreak); err != nil {
			return err
		}
	}
	if p.err != nil {
		return p.err
	}
	if p.parent != nil {
		return nil
	}
	for _, l := range p.listeners {
		l.Complete(p)
	}
	return nil
}

func (p *Processor) AddListener(l Listener) {
	p.listeners = append(p.listeners, l)
}

func (p *Processor) Graph() *op.OpGraph {
	return p.graph
}

func (p *Processor) Context() *op.OpContext {
	return p.ctx
}

// CurrentNode is the node last taken from this processor's iterator. While
// a macro is active that is the composite node.
func (p *Processor) CurrentNode() *op.OpNode {
	return p.current
}

// ActiveNode is the current node of the innermost active processor.
func (p *Processor) ActiveNode() *op.OpNode {
	if p.macro != nil {
		if n := p.macro.ActiveNode(); n != nil {
			return n
		}
	}
	return p.current
}

func (p *Processor) Macro() *Processor {
	return p.macro
}

func (p *Processor) Parent() *Processor {
	return p.parent
}

// Path holds the ids of the composite nodes enclosing the graph.
func (p *Processor) Path() utils.Path {
	return p.path
}

// Err returns the error that halted the processor or its active macro.
func (p *Processor) Err() error {
	if p.err == nil && p.macro != nil {
		return p.macro.Err()
	}
	return p.err
}

// ErrContext returns the context of the node that failed.
func (p *Processor) ErrContext() *op.OpContext {
	if p.err == nil && p.macro != nil {
		return p.macro.ErrContext()
	}
	return p.errCtx
}

func (p *Processor) State() State {
	switch {
	case p.iter == nil:
		return Errored
	case p.macro != nil:
		return InMacro
	case p.current == nil:
		return Idle
	case !p.iter.HasNext():
		return Exhausted
	}
	return Advancing
}

func (p *Processor) newNested(n *op.OpNode) *Processor {
	nested := &Processor{
		graph:     n.Composite().Graph(),
		parent:    p,
		path:      p.path.AddString(n.ID()),
		listeners: slices.Clone(p.listeners),
	}
	if cp := n.CustomProcessing(); cp != nil {
		nested.custom = cp.NewCustomProcessor(nested.graph)
	}
	return nested
}

func (p *Processor) level(n *op.OpNode) int {
	if n == nil {
		return -1
	}
	return p.graph.Level(n)
}

// fail halts the processor. Errors of nested graphs keep the node they
// were raised for.
func (p *Processor) fail(n *op.OpNode, ctx *op.OpContext, err error) error {
	err = types.NewProcessingError(n.ID(), n.Name(), err)
	p.iter = nil
	p.err = err
	p.errCtx = ctx
	return err
}

func isComposite(n *op.OpNode) bool {
	return n.Composite() != nil && n.Composite().Graph() != nil
}
