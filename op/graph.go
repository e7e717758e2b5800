package op

import (
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/warriorguo/opflow/graph"
	"github.com/warriorguo/opflow/types"
	"github.com/warriorguo/opflow/utils"
)

// OpGraph is a DAG of operation nodes connected by links.
//
// An OpGraph is not safe for concurrent mutation, and must not be mutated
// while a processor iterates it.
type OpGraph struct {
	id  string
	dag *graph.DAG[*OpNode, *OpLink]

	nodes     map[string]*OpNode
	listeners []GraphListener
	ordering  func(a, b *OpNode) int

	// Meta carries data attached by collaborators. The engine never reads it.
	Meta types.Data
}

// NewOpGraph creates an empty graph. An empty id is replaced by a random
// uuid.
func NewOpGraph(id string) *OpGraph {
	if id == "" {
		id = uuid.NewString()
	}
	g := &OpGraph{
		id:    id,
		nodes: make(map[string]*OpNode),
		Meta:  types.Data{},
	}
	g.dag = graph.NewDAG[*OpNode, *OpLink](g.compareNodes)
	return g
}

func (g *OpGraph) ID() string {
	return g.id
}

// SetOrdering installs the primary tie-breaker for nodes sharing a level,
// e.g. their position on a canvas. Name and id break remaining ties.
func (g *OpGraph) SetOrdering(cmp func(a, b *OpNode) int) {
	g.ordering = cmp
	g.invalidateOrder()
}

func (g *OpGraph) AddListener(l GraphListener) {
	g.listeners = append(g.listeners, l)
}

func (g *OpGraph) RemoveListener(l GraphListener) {
	g.listeners = slices.DeleteFunc(g.listeners, func(other GraphListener) bool { return other == l })
}

// Add registers n. A node whose id is already registered is silently
// ignored. Composite nodes whose inner graph contains g are rejected.
func (g *OpGraph) Add(n *OpNode) error {
	if n == nil {
		return errors.NotValidf("nil node")
	}
	if _, exists := g.nodes[n.id]; exists {
		return nil
	}
	if n.owner != nil && n.owner != g {
		return errors.AlreadyExistsf("node %s in graph %s", n, n.owner.id)
	}
	if c := n.composite; c != nil && c.Graph() != nil {
		if c.Graph() == g || c.Graph().containsGraph(g) {
			return errors.NotValidf("composite node %s containing its own graph %s", n, g.id)
		}
	}

	g.dag.AddVertex(n)
	g.nodes[n.id] = n
	n.owner = g

	for _, l := range g.listeners {
		l.NodeAdded(g, n)
	}
	return nil
}

// Remove unregisters n and every link touching it.
func (g *OpGraph) Remove(n *OpNode) bool {
	if n == nil || g.nodes[n.id] != n {
		return false
	}

	removed := g.dag.RemoveVertex(n)
	delete(g.nodes, n.id)
	n.owner = nil

	for _, link := range removed {
		for _, l := range g.listeners {
			l.LinkRemoved(g, link)
		}
	}
	for _, l := range g.listeners {
		l.NodeRemoved(g, n)
	}
	return true
}

// Link creates and connects a link in one go.
func (g *OpGraph) Link(src *OpNode, srcKey string, dst *OpNode, dstKey string) (*OpLink, error) {
	link, err := NewOpLink(src, srcKey, dst, dstKey)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := g.Connect(link); err != nil {
		return nil, errors.Trace(err)
	}
	return link, nil
}

// Connect adds link unless it would close a cycle.
func (g *OpGraph) Connect(link *OpLink) error {
	if existing := g.findLink(link); existing != nil {
		return errors.AlreadyExistsf("link %s", link)
	}
	if err := g.dag.AddEdge(link); err != nil {
		return errors.Trace(err)
	}
	for _, l := range g.listeners {
		l.LinkAdded(g, link)
	}
	return nil
}

// CanConnect reports whether Connect(link) would succeed.
func (g *OpGraph) CanConnect(link *OpLink) bool {
	return g.findLink(link) == nil && g.dag.CanAddEdge(link)
}

func (g *OpGraph) Disconnect(link *OpLink) bool {
	if !g.dag.RemoveEdge(link) {
		return false
	}
	for _, l := range g.listeners {
		l.LinkRemoved(g, link)
	}
	return true
}

func (g *OpGraph) Contains(n *OpNode) bool {
	return n != nil && g.nodes[n.id] == n
}

// Node looks n up among the direct children of g.
func (g *OpGraph) Node(id string) (*OpNode, bool) {
	n, exists := g.nodes[id]
	return n, exists
}

// FindNode looks id up in g and, depth first, in the inner graphs of its
// composite nodes.
func (g *OpGraph) FindNode(id string) (*OpNode, bool) {
	if n, exists := g.nodes[id]; exists {
		return n, true
	}
	for _, n := range g.Nodes() {
		if inner := innerGraph(n); inner != nil {
			if found, exists := inner.FindNode(id); exists {
				return found, true
			}
		}
	}
	return nil, false
}

// NodeAt resolves a path of ids such as the one of a trace record: every id
// but the last names a composite node whose inner graph holds the next.
func (g *OpGraph) NodeAt(path utils.Path) (*OpNode, bool) {
	id, ok := path.First()
	if !ok {
		return nil, false
	}
	n, exists := g.nodes[id]
	if !exists {
		return nil, false
	}
	rest := path.Next()
	if len(rest) == 0 {
		return n, true
	}
	inner := innerGraph(n)
	if inner == nil {
		return nil, false
	}
	return inner.NodeAt(rest)
}

// Nodes returns the nodes in topological order.
func (g *OpGraph) Nodes() []*OpNode {
	return g.dag.Vertices()
}

// Links returns the links ordered by CompareLinks.
func (g *OpGraph) Links() []*OpLink {
	return g.sortLinks(g.dag.Edges())
}

func (g *OpGraph) Len() int {
	return g.dag.Len()
}

// Level returns the topological level of n, or -1 if n is not in g.
func (g *OpGraph) Level(n *OpNode) int {
	return g.dag.Level(n)
}

// IncomingLinks returns the links feeding n ordered by CompareLinks.
func (g *OpGraph) IncomingLinks(n *OpNode) []*OpLink {
	return g.sortLinks(g.dag.IncomingEdges(n))
}

// OutgoingLinks returns the links reading from n ordered by CompareLinks.
func (g *OpGraph) OutgoingLinks(n *OpNode) []*OpLink {
	return g.sortLinks(g.dag.OutgoingEdges(n))
}

// Breakpoints returns the nodes flagged as breakpoints in topological order.
func (g *OpGraph) Breakpoints() []*OpNode {
	breakpoints := make([]*OpNode, 0)
	for _, n := range g.Nodes() {
		if n.breakpoint {
			breakpoints = append(breakpoints, n)
		}
	}
	return breakpoints
}

func (g *OpGraph) sortLinks(links []*OpLink) []*OpLink {
	slices.SortStableFunc(links, func(a, b *OpLink) int {
		return CompareLinks(a, b, g.compareNodes)
	})
	return links
}

func (g *OpGraph) fieldRemoved(n *OpNode, f *Field) {
	for _, link := range g.dag.Edges() {
		if (link.src == n && link.srcField == f) || (link.dst == n && link.dstField == f) {
			g.Disconnect(link)
		}
	}
}

func (g *OpGraph) findLink(link *OpLink) *OpLink {
	for _, existing := range g.dag.OutgoingEdges(link.src) {
		if existing == link || (existing.dst == link.dst &&
			existing.srcField.Key == link.srcField.Key && existing.dstField.Key == link.dstField.Key) {
			return existing
		}
	}
	return nil
}

func (g *OpGraph) containsGraph(other *OpGraph) bool {
	for _, n := range g.nodes {
		if inner := innerGraph(n); inner != nil {
			if inner == other || inner.containsGraph(other) {
				return true
			}
		}
	}
	return false
}

func (g *OpGraph) invalidateOrder() {
	g.dag.SetComparator(g.compareNodes)
}

func (g *OpGraph) compareNodes(a, b *OpNode) int {
	if g.ordering != nil {
		if c := g.ordering(a, b); c != 0 {
			return c
		}
	}
	if c := strings.Compare(a.name, b.name); c != 0 {
		return c
	}
	return strings.Compare(a.id, b.id)
}

func innerGraph(n *OpNode) *OpGraph {
	if n.composite == nil {
		return nil
	}
	return n.composite.Graph()
}
