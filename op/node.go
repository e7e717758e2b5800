package op

import (
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/warriorguo/opflow/types"
)

// Operation computes a node. It reads its inputs from and writes its outputs
// to the node's child context.
type Operation func(ctx *OpContext) error

// OpNode is a vertex of an OpGraph.
type OpNode struct {
	id   string
	name string

	inputs  []*Field
	outputs []*Field

	breakpoint bool
	operation  Operation

	composite Composite
	custom    CustomProcessing

	owner *OpGraph

	// Meta carries data attached by collaborators such as editors
	// (position, settings). The engine never reads it.
	Meta types.Data
}

type NodeOption func(*OpNode)

func WithInputs(fields ...*Field) NodeOption {
	return func(n *OpNode) {
		for _, f := range fields {
			n.setField(&n.inputs, f)
		}
	}
}

func WithOutputs(fields ...*Field) NodeOption {
	return func(n *OpNode) {
		for _, f := range fields {
			n.setField(&n.outputs, f)
		}
	}
}

func WithBreakpoint() NodeOption {
	return func(n *OpNode) {
		n.breakpoint = true
	}
}

func WithComposite(c Composite) NodeOption {
	return func(n *OpNode) {
		n.composite = c
	}
}

func WithCustomProcessing(cp CustomProcessing) NodeOption {
	return func(n *OpNode) {
		n.custom = cp
	}
}

// NewOpNode creates a node. An empty id is replaced by a random uuid.
func NewOpNode(id, name string, operation Operation, opts ...NodeOption) *OpNode {
	if id == "" {
		id = uuid.NewString()
	}
	if name == "" {
		name = id
	}
	n := &OpNode{
		id:        id,
		name:      name,
		inputs:    []*Field{enabledField()},
		operation: operation,
		Meta:      types.Data{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *OpNode) ID() string {
	return n.id
}

func (n *OpNode) Name() string {
	return n.name
}

func (n *OpNode) SetName(name string) {
	n.name = name
	if n.owner != nil {
		n.owner.invalidateOrder()
	}
}

func (n *OpNode) VertexName() string {
	return n.name
}

func (n *OpNode) String() string {
	return n.name + "#" + n.id
}

func (n *OpNode) Operation() Operation {
	return n.operation
}

func (n *OpNode) Breakpoint() bool {
	return n.breakpoint
}

func (n *OpNode) SetBreakpoint(flag bool) {
	n.breakpoint = flag
}

// Composite returns the nested graph capability, or nil.
func (n *OpNode) Composite() Composite {
	return n.composite
}

// CustomProcessing returns the custom iteration capability, or nil.
func (n *OpNode) CustomProcessing() CustomProcessing {
	return n.custom
}

// Graph returns the graph owning the node, or nil.
func (n *OpNode) Graph() *OpGraph {
	return n.owner
}

func (n *OpNode) Inputs() []*Field {
	return append([]*Field(nil), n.inputs...)
}

func (n *OpNode) Outputs() []*Field {
	return append([]*Field(nil), n.outputs...)
}

func (n *OpNode) Input(key string) (*Field, bool) {
	return findField(n.inputs, key)
}

func (n *OpNode) Output(key string) (*Field, bool) {
	return findField(n.outputs, key)
}

func (n *OpNode) AddInput(f *Field) error {
	if _, exists := n.Input(f.Key); exists {
		return errors.AlreadyExistsf("input %s on %s", f.Key, n)
	}
	n.inputs = append(n.inputs, f)
	return nil
}

func (n *OpNode) AddOutput(f *Field) error {
	if _, exists := n.Output(f.Key); exists {
		return errors.AlreadyExistsf("output %s on %s", f.Key, n)
	}
	n.outputs = append(n.outputs, f)
	return nil
}

// RemoveInput drops an input field together with every link of the owning
// graph that feeds it.
func (n *OpNode) RemoveInput(key string) bool {
	f, exists := n.Input(key)
	if !exists {
		return false
	}
	n.inputs = removeField(n.inputs, f)
	if n.owner != nil {
		n.owner.fieldRemoved(n, f)
	}
	return true
}

// RemoveOutput drops an output field together with every link of the
// owning graph that reads it.
func (n *OpNode) RemoveOutput(key string) bool {
	f, exists := n.Output(key)
	if !exists {
		return false
	}
	n.outputs = removeField(n.outputs, f)
	if n.owner != nil {
		n.owner.fieldRemoved(n, f)
	}
	return true
}

func (n *OpNode) setField(fields *[]*Field, f *Field) {
	for i, existing := range *fields {
		if existing.Key == f.Key {
			(*fields)[i] = f
			return
		}
	}
	*fields = append(*fields, f)
}

func findField(fields []*Field, key string) (*Field, bool) {
	for _, f := range fields {
		if f.Key == key {
			return f, true
		}
	}
	return nil, false
}

func removeField(fields []*Field, f *Field) []*Field {
	kept := make([]*Field, 0, len(fields))
	for _, existing := range fields {
		if existing != f {
			kept = append(kept, existing)
		}
	}
	return kept
}
