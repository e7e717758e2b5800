package op

import (
	"github.com/juju/errors"
)

// Publication re-exposes a field of an inner node under Key at the boundary
// of a composite node.
type Publication struct {
	Key   string
	Node  *OpNode
	Field *Field
}

// Macro is a composite whose inner graph runs once per invocation.
type Macro struct {
	node  *OpNode
	inner *OpGraph

	inputs  []Publication
	outputs []Publication
}

var _ Composite = &Macro{}

// NewMacroNode creates a node whose behaviour is inner.
func NewMacroNode(id, name string, inner *OpGraph, opts ...NodeOption) (*OpNode, *Macro) {
	m := &Macro{inner: inner}
	opts = append([]NodeOption{WithComposite(m)}, opts...)
	m.node = NewOpNode(id, name, nil, opts...)
	return m.node, m
}

func (m *Macro) Node() *OpNode {
	return m.node
}

func (m *Macro) Graph() *OpGraph {
	return m.inner
}

func (m *Macro) PublishedInputs() []Publication {
	return append([]Publication(nil), m.inputs...)
}

func (m *Macro) PublishedOutputs() []Publication {
	return append([]Publication(nil), m.outputs...)
}

// PublishInput adds an input named key to the macro node that feeds the
// input innerKey of inner. The new field copies the inner field's type,
// optionality and validator.
func (m *Macro) PublishInput(inner *OpNode, innerKey, key string) (*Field, error) {
	if !m.inner.Contains(inner) {
		return nil, errors.NotFoundf("node %s in graph %s", inner, m.inner.ID())
	}
	f, exists := inner.Input(innerKey)
	if !exists {
		return nil, errors.Annotatef(ErrFieldNotFound, "input %s on %s", innerKey, inner)
	}
	published := &Field{Key: key, Type: f.Type, Optional: f.Optional, Validator: f.Validator}
	if err := m.node.AddInput(published); err != nil {
		return nil, errors.Trace(err)
	}
	m.inputs = append(m.inputs, Publication{Key: key, Node: inner, Field: f})
	return published, nil
}

// PublishOutput adds an output named key to the macro node that exposes the
// output innerKey of inner.
func (m *Macro) PublishOutput(inner *OpNode, innerKey, key string) (*Field, error) {
	if !m.inner.Contains(inner) {
		return nil, errors.NotFoundf("node %s in graph %s", inner, m.inner.ID())
	}
	f, exists := inner.Output(innerKey)
	if !exists {
		return nil, errors.Annotatef(ErrFieldNotFound, "output %s on %s", innerKey, inner)
	}
	published := &Field{Key: key, Type: f.Type, Optional: f.Optional, Validator: f.Validator}
	if err := m.node.AddOutput(published); err != nil {
		return nil, errors.Trace(err)
	}
	m.outputs = append(m.outputs, Publication{Key: key, Node: inner, Field: f})
	return published, nil
}

// Enter copies published input values into the child contexts of the inner
// nodes they feed.
func (m *Macro) Enter(ctx *OpContext) error {
	for _, p := range m.inputs {
		if v, exists := ctx.Get(p.Key); exists {
			ctx.Child(p.Node).SetField(p.Field, v)
		}
	}
	return nil
}

// Exit copies the values of published outputs from the inner nodes back to
// the macro's context.
func (m *Macro) Exit(ctx *OpContext) error {
	for _, p := range m.outputs {
		child, exists := ctx.FindChild(p.Node)
		if !exists {
			continue
		}
		if v, exists := child.GetField(p.Field); exists {
			ctx.Set(p.Key, v)
		}
	}
	return nil
}
