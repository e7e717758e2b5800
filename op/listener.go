package op

// GraphListener observes structural changes of an OpGraph. Callbacks run
// synchronously and must not mutate the graph.
type GraphListener interface {
	NodeAdded(g *OpGraph, n *OpNode)
	NodeRemoved(g *OpGraph, n *OpNode)
	LinkAdded(g *OpGraph, l *OpLink)
	LinkRemoved(g *OpGraph, l *OpLink)
}

// GraphListenerFuncs adapts plain functions to GraphListener. Nil members
// are ignored.
type GraphListenerFuncs struct {
	OnNodeAdded   func(g *OpGraph, n *OpNode)
	OnNodeRemoved func(g *OpGraph, n *OpNode)
	OnLinkAdded   func(g *OpGraph, l *OpLink)
	OnLinkRemoved func(g *OpGraph, l *OpLink)
}

func (f *GraphListenerFuncs) NodeAdded(g *OpGraph, n *OpNode) {
	if f.OnNodeAdded != nil {
		f.OnNodeAdded(g, n)
	}
}

func (f *GraphListenerFuncs) NodeRemoved(g *OpGraph, n *OpNode) {
	if f.OnNodeRemoved != nil {
		f.OnNodeRemoved(g, n)
	}
}

func (f *GraphListenerFuncs) LinkAdded(g *OpGraph, l *OpLink) {
	if f.OnLinkAdded != nil {
		f.OnLinkAdded(g, l)
	}
}

func (f *GraphListenerFuncs) LinkRemoved(g *OpGraph, l *OpLink) {
	if f.OnLinkRemoved != nil {
		f.OnLinkRemoved(g, l)
	}
}
