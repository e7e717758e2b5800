package runtime

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/juju/errors"
	"github.com/warriorguo/opflow/op"
	"github.com/warriorguo/opflow/types"
	"github.com/warriorguo/opflow/utils"
)

// RenderDOT renders g as a Graphviz digraph. Composite nodes are followed by
// a cluster holding their inner graph. Nodes with a trace record, keyed as
// the engine keys them, are coloured by outcome.
func RenderDOT(g *op.OpGraph, records map[string]*types.NodeTraceRecord) (string, error) {
	r := newGraphRenderer(records)
	if err := r.generate(g); err != nil {
		return "", errors.Trace(err)
	}
	return r.dot.String(), nil
}

type graphRenderer struct {
	records map[string]*types.NodeTraceRecord
	dot     *gographviz.Graph
}

func newGraphRenderer(records map[string]*types.NodeTraceRecord) *graphRenderer {
	if records == nil {
		records = make(map[string]*types.NodeTraceRecord)
	}
	return &graphRenderer{records: records, dot: gographviz.NewGraph()}
}

func (r *graphRenderer) generate(g *op.OpGraph) error {
	name := "G_" + idString(g.ID())
	if err := r.dot.SetName(name); err != nil {
		return errors.Trace(err)
	}
	if err := r.dot.SetDir(true); err != nil {
		return errors.Trace(err)
	}
	if err := r.dot.AddAttr(name, "label", quoteString(g.ID())); err != nil {
		return errors.Trace(err)
	}
	return r.drawGraph(name, utils.NewPath(), g)
}

func (r *graphRenderer) drawGraph(parent string, path utils.Path, g *op.OpGraph) error {
	for _, n := range g.Nodes() {
		if err := r.drawNode(parent, path, n); err != nil {
			return errors.Trace(err)
		}
		if c := n.Composite(); c != nil && c.Graph() != nil {
			if err := r.drawComposite(parent, path, n, c.Graph()); err != nil {
				return errors.Trace(err)
			}
		}
	}
	for _, l := range g.Links() {
		attrs := map[string]string{
			"label": quoteString(l.SourceField().Key + " -> " + l.DestinationField().Key),
		}
		src, dst := nodeID(path, l.Source()), nodeID(path, l.Destination())
		if err := r.dot.AddEdge(src, dst, true, attrs); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (r *graphRenderer) drawNode(parent string, path utils.Path, n *op.OpNode) error {
	attrs := map[string]string{
		"label": quoteString(n.Name()),
		"shape": "box",
	}
	if n.Composite() != nil {
		attrs["shape"] = "box3d"
	}
	if n.Breakpoint() {
		attrs["peripheries"] = "2"
	}
	if record, exists := r.records[recordKey(path, n)]; exists {
		attrs["style"] = "filled"
		attrs["fillcolor"] = recordColor(record)
		attrs["comment"] = quoteString(recordComment(record))
	}
	return errors.Trace(r.dot.AddNode(parent, nodeID(path, n), attrs))
}

func (r *graphRenderer) drawComposite(parent string, path utils.Path, n *op.OpNode, inner *op.OpGraph) error {
	innerPath := path.AddString(n.ID())
	cluster := "cluster_" + idString(innerPath.String())
	attrs := map[string]string{
		"label": quoteString(n.Name()),
		"style": "filled",
		"color": "lightgrey",
	}
	if err := r.dot.AddSubGraph(parent, cluster, attrs); err != nil {
		return errors.Trace(err)
	}
	if err := r.drawGraph(cluster, innerPath, inner); err != nil {
		return errors.Trace(err)
	}
	for _, entry := range inner.Nodes() {
		if inner.Level(entry) != 0 {
			continue
		}
		attrs := map[string]string{"style": "dashed"}
		if err := r.dot.AddEdge(nodeID(path, n), nodeID(innerPath, entry), true, attrs); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func recordColor(record *types.NodeTraceRecord) string {
	switch {
	case record.StartTime.IsZero():
		return "white"
	case record.Error != "":
		return "red"
	case record.EndTime.IsZero():
		return "yellow"
	default:
		return "green"
	}
}

func recordComment(record *types.NodeTraceRecord) string {
	if record.Error != "" {
		return firstLine(record.Error)
	}
	if record.EndTime.IsZero() {
		return "running"
	}
	return fmt.Sprintf("took %v", record.EndTime.Sub(record.StartTime))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func nodeID(path utils.Path, n *op.OpNode) string {
	return "n_" + idString(recordKey(path, n))
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, "\\", "/")
	s = strings.ReplaceAll(s, "\n", " ")
	return "\"" + strings.ReplaceAll(s, "\"", "'") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", "-", ":", "/", "\\", "+", "=", ",", ";"}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}
