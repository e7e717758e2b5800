package graph

import (
	"slices"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// DAG is a mutable directed acyclic graph. Every edge insertion is checked
// for cycles and rolled back if it would close one. The topological order
// is recomputed lazily on the first query after a mutation.
//
// A DAG is not safe for concurrent use.
type DAG[V Vertex, E Edge[V]] struct {
	vertices  []V
	vertexSet map[V]struct{}

	edges   []E
	edgeSet map[E]struct{}

	levels map[V]int
	stale  bool

	cmp func(a, b V) int
}

// NewDAG creates an empty DAG. cmp breaks ties between vertices of the same
// level; nil orders them by VertexName.
func NewDAG[V Vertex, E Edge[V]](cmp func(a, b V) int) *DAG[V, E] {
	if cmp == nil {
		cmp = CompareByName[V]
	}
	return &DAG[V, E]{
		vertexSet: make(map[V]struct{}),
		edgeSet:   make(map[E]struct{}),
		levels:    make(map[V]int),
		cmp:       cmp,
	}
}

// SetComparator replaces the tie-breaking comparator.
func (d *DAG[V, E]) SetComparator(cmp func(a, b V) int) {
	if cmp == nil {
		cmp = CompareByName[V]
	}
	d.cmp = cmp
	d.stale = true
}

func (d *DAG[V, E]) ContainsVertex(v V) bool {
	_, exists := d.vertexSet[v]
	return exists
}

func (d *DAG[V, E]) ContainsEdge(e E) bool {
	_, exists := d.edgeSet[e]
	return exists
}

func (d *DAG[V, E]) Len() int {
	return len(d.vertices)
}

// AddVertex appends v. Adding a vertex twice is a no-op.
func (d *DAG[V, E]) AddVertex(v V) {
	if d.ContainsVertex(v) {
		return
	}
	d.vertices = append(d.vertices, v)
	d.vertexSet[v] = struct{}{}
	d.stale = true
}

// RemoveVertex removes every edge touching v and then v itself. The removed
// edges are returned in their insertion order.
func (d *DAG[V, E]) RemoveVertex(v V) []E {
	if !d.ContainsVertex(v) {
		return nil
	}

	var removed []E
	kept := d.edges[:0]
	for _, e := range d.edges {
		if e.Source() == v || e.Destination() == v {
			removed = append(removed, e)
			delete(d.edgeSet, e)
			continue
		}
		kept = append(kept, e)
	}
	d.edges = kept

	d.vertices = slices.DeleteFunc(d.vertices, func(other V) bool { return other == v })
	delete(d.vertexSet, v)
	delete(d.levels, v)
	d.stale = true
	return removed
}

// AddEdge inserts e if doing so keeps the graph acyclic. On failure the
// graph is left exactly as it was.
func (d *DAG[V, E]) AddEdge(e E) error {
	if !d.ContainsVertex(e.Source()) {
		return errors.Annotatef(ErrVertexNotFound, "source %s", e.Source().VertexName())
	}
	if !d.ContainsVertex(e.Destination()) {
		return errors.Annotatef(ErrVertexNotFound, "destination %s", e.Destination().VertexName())
	}
	if d.ContainsEdge(e) {
		return nil
	}

	d.edges = append(d.edges, e)
	d.edgeSet[e] = struct{}{}
	d.stale = true

	if err := d.sort(); err != nil {
		d.edges = d.edges[:len(d.edges)-1]
		delete(d.edgeSet, e)
		d.stale = true
		return errors.Annotatef(err, "edge %s -> %s", e.Source().VertexName(), e.Destination().VertexName())
	}
	return nil
}

// RemoveEdge removes e and reports whether it was present.
func (d *DAG[V, E]) RemoveEdge(e E) bool {
	if !d.ContainsEdge(e) {
		return false
	}
	d.edges = slices.DeleteFunc(d.edges, func(other E) bool { return other == e })
	delete(d.edgeSet, e)
	d.stale = true
	return true
}

// CanAddEdge reports whether AddEdge(e) would succeed, without touching the
// graph.
func (d *DAG[V, E]) CanAddEdge(e E) bool {
	if !d.ContainsVertex(e.Source()) || !d.ContainsVertex(e.Destination()) {
		return false
	}
	if d.ContainsEdge(e) {
		return true
	}
	candidate := make([]E, 0, len(d.edges)+1)
	candidate = append(candidate, d.edges...)
	candidate = append(candidate, e)
	_, _, err := TopologicalSort(d.vertices, candidate, d.cmp)
	return err == nil
}

// Vertices returns the vertices in topological order.
func (d *DAG[V, E]) Vertices() []V {
	d.ensureSorted()
	return slices.Clone(d.vertices)
}

// Edges returns all edges in insertion order.
func (d *DAG[V, E]) Edges() []E {
	return slices.Clone(d.edges)
}

// Level returns the topological level of v, or -1 if v is unknown.
func (d *DAG[V, E]) Level(v V) int {
	d.ensureSorted()
	if level, exists := d.levels[v]; exists {
		return level
	}
	return -1
}

// IncomingEdges returns the edges ending at v ordered by their source.
func (d *DAG[V, E]) IncomingEdges(v V) []E {
	d.ensureSorted()
	incoming := make([]E, 0)
	for _, e := range d.edges {
		if e.Destination() == v {
			incoming = append(incoming, e)
		}
	}
	slices.SortStableFunc(incoming, func(a, b E) int {
		return d.cmp(a.Source(), b.Source())
	})
	return incoming
}

// OutgoingEdges returns the edges starting at v ordered by their destination.
func (d *DAG[V, E]) OutgoingEdges(v V) []E {
	d.ensureSorted()
	outgoing := make([]E, 0)
	for _, e := range d.edges {
		if e.Source() == v {
			outgoing = append(outgoing, e)
		}
	}
	slices.SortStableFunc(outgoing, func(a, b E) int {
		return d.cmp(a.Destination(), b.Destination())
	})
	return outgoing
}

func (d *DAG[V, E]) ensureSorted() {
	if !d.stale {
		return
	}
	if err := d.sort(); err != nil {
		// edges are only ever committed after a successful sort
		log.Errorf("unexpected unsortable graph: %v", err)
	}
}

func (d *DAG[V, E]) sort() error {
	order, levels, err := TopologicalSort(d.vertices, d.edges, d.cmp)
	if err != nil {
		return errors.Trace(err)
	}
	d.vertices = order
	d.levels = levels
	d.stale = false
	return nil
}
