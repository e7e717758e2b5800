package op

import (
	"github.com/warriorguo/opflow/types"
)

// OpContext is a scope of field values. The global context of a graph holds
// one child context per node; the child context of a composite node is the
// global context of its inner graph.
//
// Child contexts are created on first access and only ever dropped all at
// once by ClearChildren.
type OpContext struct {
	types.Data

	children map[*OpNode]*OpContext
}

func NewOpContext() *OpContext {
	return &OpContext{Data: types.Data{}, children: make(map[*OpNode]*OpContext)}
}

// NewOpContextWith creates a context holding a copy of data.
func NewOpContextWith(data types.Data) *OpContext {
	ctx := NewOpContext()
	for k, v := range data {
		ctx.Data[k] = v
	}
	return ctx
}

// Child returns the child context of n, creating it on first use.
func (c *OpContext) Child(n *OpNode) *OpContext {
	if c.children == nil {
		c.children = make(map[*OpNode]*OpContext)
	}
	child, exists := c.children[n]
	if !exists {
		child = NewOpContext()
		c.children[n] = child
	}
	return child
}

// FindChild returns the child context of n without creating it.
func (c *OpContext) FindChild(n *OpNode) (*OpContext, bool) {
	child, exists := c.children[n]
	return child, exists
}

func (c *OpContext) ClearChildren() {
	c.children = make(map[*OpNode]*OpContext)
}

func (c *OpContext) ChildCount() int {
	return len(c.children)
}

func (c *OpContext) GetField(f *Field) (any, bool) {
	return c.Get(f.Key)
}

func (c *OpContext) SetField(f *Field, value any) {
	c.Set(f.Key, value)
}

func (c *OpContext) HasField(f *Field) bool {
	return c.Has(f.Key)
}
