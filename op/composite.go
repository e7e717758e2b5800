package op

// Composite is implemented by nodes whose behaviour is an inner graph.
//
// Enter is called with the node's child context, which becomes the global
// context of the inner graph, after the node's own inputs were resolved into
// it. Exit is called with the same context once the inner graph completed.
type Composite interface {
	Graph() *OpGraph
	Enter(ctx *OpContext) error
	Exit(ctx *OpContext) error
}

// NodeIterator yields the nodes a processor visits.
type NodeIterator interface {
	HasNext() bool
	Next() *OpNode
}

// CustomProcessor replaces the single topological pass over an inner graph,
// for example to run it once per element of a collection. Initialize is
// called on reset, Terminate after the last node was processed; both get the
// inner graph's global context.
type CustomProcessor interface {
	NodeIterator
	Initialize(ctx *OpContext) error
	Terminate(ctx *OpContext) error
}

// CustomProcessing is implemented by composite nodes that iterate their inner
// graph themselves.
type CustomProcessing interface {
	NewCustomProcessor(inner *OpGraph) CustomProcessor
}

// NewSliceIterator iterates over a fixed list of nodes.
func NewSliceIterator(nodes []*OpNode) NodeIterator {
	return &sliceIterator{nodes: nodes}
}

type sliceIterator struct {
	nodes []*OpNode
	pos   int
}

func (it *sliceIterator) HasNext() bool {
	return it.pos < len(it.nodes)
}

func (it *sliceIterator) Next() *OpNode {
	if !it.HasNext() {
		return nil
	}
	n := it.nodes[it.pos]
	it.pos++
	return n
}
