package runtime

import (
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/warriorguo/opflow/op"
	"github.com/warriorguo/opflow/types"
)

type linkedValue struct {
	field *op.Field
	value any
}

func (p *Processor) process(n *op.OpNode) error {
	log.Debugf("processing %v in %v", n, p.path)

	child := p.ctx.Child(n)
	if err := p.resolveInputs(n, child); err != nil {
		return p.fail(n, child, err)
	}

	if enabled(child) {
		p.emitBegin(n)
		errCtx := child
		var err error
		if isComposite(n) {
			errCtx, err = p.runComposite(n, child)
		} else if operation := n.Operation(); operation != nil {
			err = safeCall(n, func() error { return operation(child) })
		}
		if err != nil {
			return p.fail(n, errCtx, err)
		}
		p.emitEnd(n)
	}
	return p.checkTerminate()
}

// runComposite runs the inner graph of n to completion. On failure it
// returns the context of the inner node that failed.
func (p *Processor) runComposite(n *op.OpNode, child *op.OpContext) (*op.OpContext, error) {
	c := n.Composite()
	if err := safeCall(n, func() error { return c.Enter(child) }); err != nil {
		return child, err
	}
	nested := p.newNested(n)
	if err := nested.Reset(child); err != nil {
		return child, err
	}
	if err := nested.StepAll(false); err != nil {
		return nested.ErrContext(), err
	}
	return child, safeCall(n, func() error { return c.Exit(child) })
}

func (p *Processor) enterMacro(n *op.OpNode) error {
	log.Debugf("entering %v in %v", n, p.path)

	child := p.ctx.Child(n)
	if err := p.resolveInputs(n, child); err != nil {
		return p.fail(n, child, err)
	}
	if !enabled(child) {
		return p.checkTerminate()
	}

	p.emitBegin(n)
	if err := safeCall(n, func() error { return n.Composite().Enter(child) }); err != nil {
		return p.fail(n, child, err)
	}
	nested := p.newNested(n)
	if err := nested.Reset(child); err != nil {
		return p.fail(n, child, err)
	}
	p.macro = nested
	return nil
}

func (p *Processor) exitMacro() error {
	nested := p.macro
	n := p.current
	log.Debugf("leaving %v in %v", n, p.path)

	err := nested.StepAll(false)
	p.macro = nil
	if err != nil {
		return p.fail(n, nested.ErrContext(), err)
	}
	if err := safeCall(n, func() error { return n.Composite().Exit(nested.ctx) }); err != nil {
		return p.fail(n, nested.ctx, err)
	}
	p.emitEnd(n)
	return p.checkTerminate()
}

// resolveInputs routes the values produced by the predecessors of n into
// its child context. Every required input must be either present already
// or supplied by a link.
func (p *Processor) resolveInputs(n *op.OpNode, child *op.OpContext) error {
	supplied := make(map[*op.Field]bool)
	values := make([]linkedValue, 0)
	for _, link := range p.graph.IncomingLinks(n) {
		src, exists := p.ctx.FindChild(link.Source())
		if !exists {
			continue
		}
		v, exists := src.GetField(link.SourceField())
		if !exists {
			continue
		}
		dst := link.DestinationField()
		if err := dst.Check(v); err != nil {
			return errors.Annotatef(types.ErrInvalidType, "link %s value %#v: %v", link, v, err)
		}
		supplied[dst] = true
		values = append(values, linkedValue{dst, v})
	}

	for _, f := range n.Inputs() {
		if f.Optional || supplied[f] || child.HasField(f) {
			continue
		}
		return errors.Annotatef(types.ErrRequiredInput, "%s input %s", n, f.Key)
	}

	for _, lv := range values {
		child.SetField(lv.field, lv.value)
	}
	return nil
}

func (p *Processor) checkTerminate() error {
	if p.custom == nil || p.iter == nil || p.iter.HasNext() {
		return nil
	}
	n := p.current
	if err := p.custom.Terminate(p.ctx); err != nil {
		return p.fail(n, p.ctx, errors.Trace(err))
	}
	return nil
}

func (p *Processor) emitBegin(n *op.OpNode) {
	for _, l := range p.listeners {
		l.BeginNode(p, n)
	}
}

func (p *Processor) emitEnd(n *op.OpNode) {
	for _, l := range p.listeners {
		l.EndNode(p, n)
	}
}

func enabled(child *op.OpContext) bool {
	v, exists := child.Get(op.EnabledKey)
	if !exists {
		return true
	}
	return cast.ToBool(v)
}

func safeCall(n *op.OpNode, fn func() error) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = errors.Errorf("panic on %s: %v", n, r)
		}
	}()
	if err := fn(); err != nil {
		return errors.Trace(err)
	}
	return nil
}
