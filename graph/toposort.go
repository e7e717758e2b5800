package graph

import (
	"slices"

	"github.com/juju/errors"
)

const (
	ErrCycleDetected  = errors.ConstError("cycle detected")
	ErrVertexNotFound = errors.ConstError("vertex not found")
)

// consumed marks a vertex whose level has been assigned.
const consumed = -1

// TopologicalSort orders vertices by level with a layered Kahn's algorithm.
// Every vertex with no incoming edge gets level 0, all others get one more
// than the highest level of their direct predecessors. Vertices sharing a
// level are ordered with cmp, falling back to VertexName when cmp is nil.
// Edges with an endpoint missing from vertices are ignored. The arguments
// are never modified.
func TopologicalSort[V Vertex, E Edge[V]](vertices []V, edges []E, cmp func(a, b V) int) ([]V, map[V]int, error) {
	if cmp == nil {
		cmp = CompareByName[V]
	}

	inDegree := make(map[V]int, len(vertices))
	for _, v := range vertices {
		inDegree[v] = 0
	}
	successors := make(map[V][]V, len(vertices))
	for _, e := range edges {
		from, to := e.Source(), e.Destination()
		if _, exists := inDegree[from]; !exists {
			continue
		}
		if _, exists := inDegree[to]; !exists {
			continue
		}
		successors[from] = append(successors[from], to)
		inDegree[to]++
	}

	order := make([]V, 0, len(vertices))
	levels := make(map[V]int, len(vertices))

	for level := 0; ; level++ {
		batch := make([]V, 0)
		for _, v := range vertices {
			if inDegree[v] == 0 {
				batch = append(batch, v)
			}
		}
		if len(batch) == 0 {
			break
		}

		slices.SortStableFunc(batch, cmp)
		for _, v := range batch {
			levels[v] = level
			inDegree[v] = consumed
			order = append(order, v)
		}
		for _, v := range batch {
			for _, next := range successors[v] {
				inDegree[next]--
			}
		}
	}

	if len(order) != len(inDegree) {
		return nil, nil, errors.Annotatef(ErrCycleDetected, "%d of %d vertices unordered",
			len(inDegree)-len(order), len(inDegree))
	}
	return order, levels, nil
}
