package graph

import "strings"

// Vertex is the identity stored in a DAG. VertexName is only used as the
// last resort sort key when no comparator orders two vertices.
type Vertex interface {
	comparable
	VertexName() string
}

// Edge is a directed edge between two vertices. Edges must be comparable so
// they can be kept in a set.
type Edge[V Vertex] interface {
	comparable
	Source() V
	Destination() V
}

// DirectedEdge is the plain (source, destination) edge.
type DirectedEdge[V Vertex] struct {
	From V
	To   V
}

func NewEdge[V Vertex](from, to V) DirectedEdge[V] {
	return DirectedEdge[V]{From: from, To: to}
}

func (e DirectedEdge[V]) Source() V {
	return e.From
}

func (e DirectedEdge[V]) Destination() V {
	return e.To
}

func (e DirectedEdge[V]) String() string {
	return e.From.VertexName() + " -> " + e.To.VertexName()
}

// CompareByName orders vertices by their display name.
func CompareByName[V Vertex](a, b V) int {
	return strings.Compare(a.VertexName(), b.VertexName())
}
