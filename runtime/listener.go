package runtime

import (
	"github.com/warriorguo/opflow/op"
)

// Listener observes a Processor and the processors nested in it. Events of
// inner nodes are reported with the nested processor, see Processor.Path.
type Listener interface {
	BeginNode(p *Processor, n *op.OpNode)
	EndNode(p *Processor, n *op.OpNode)
	Complete(p *Processor)
}

// ListenerFuncs adapts plain functions to Listener. Nil members are ignored.
type ListenerFuncs struct {
	OnBeginNode func(p *Processor, n *op.OpNode)
	OnEndNode   func(p *Processor, n *op.OpNode)
	OnComplete  func(p *Processor)
}

func (f *ListenerFuncs) BeginNode(p *Processor, n *op.OpNode) {
	if f.OnBeginNode != nil {
		f.OnBeginNode(p, n)
	}
}

func (f *ListenerFuncs) EndNode(p *Processor, n *op.OpNode) {
	if f.OnEndNode != nil {
		f.OnEndNode(p, n)
	}
}

func (f *ListenerFuncs) Complete(p *Processor) {
	if f.OnComplete != nil {
		f.OnComplete(p)
	}
}
