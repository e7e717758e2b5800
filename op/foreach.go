package op

import (
	"reflect"

	"github.com/juju/errors"
	"github.com/spf13/cast"
)

// ItemsKey is the input of a for-each node holding the collection to
// iterate.
const ItemsKey = "items"

// ForEach is a composite that runs its inner graph once per element of the
// collection routed into its items input. Published item fields receive the
// element of the current pass; each published output collects one value per
// pass into a []any.
type ForEach struct {
	macro *Macro

	items   []Publication
	results []Publication
}

var (
	_ Composite        = &ForEach{}
	_ CustomProcessing = &ForEach{}
)

func NewForEachNode(id, name string, inner *OpGraph, opts ...NodeOption) (*OpNode, *ForEach) {
	fe := &ForEach{macro: &Macro{inner: inner}}
	opts = append([]NodeOption{
		WithComposite(fe),
		WithCustomProcessing(fe),
		WithInputs(NewField(ItemsKey, nil)),
	}, opts...)
	fe.macro.node = NewOpNode(id, name, nil, opts...)
	return fe.macro.node, fe
}

func (fe *ForEach) Node() *OpNode {
	return fe.macro.node
}

func (fe *ForEach) Graph() *OpGraph {
	return fe.macro.inner
}

// PublishInput exposes an inner input whose value stays the same for every
// pass.
func (fe *ForEach) PublishInput(inner *OpNode, innerKey, key string) (*Field, error) {
	return fe.macro.PublishInput(inner, innerKey, key)
}

// PublishItem routes the element of the current pass into the input
// innerKey of inner.
func (fe *ForEach) PublishItem(inner *OpNode, innerKey string) error {
	if !fe.macro.inner.Contains(inner) {
		return errors.NotFoundf("node %s in graph %s", inner, fe.macro.inner.ID())
	}
	f, exists := inner.Input(innerKey)
	if !exists {
		return errors.Annotatef(ErrFieldNotFound, "input %s on %s", innerKey, inner)
	}
	fe.items = append(fe.items, Publication{Key: innerKey, Node: inner, Field: f})
	return nil
}

// PublishOutput adds the output key to the for-each node, collecting the
// output innerKey of inner from every pass.
func (fe *ForEach) PublishOutput(inner *OpNode, innerKey, key string) (*Field, error) {
	if !fe.macro.inner.Contains(inner) {
		return nil, errors.NotFoundf("node %s in graph %s", inner, fe.macro.inner.ID())
	}
	f, exists := inner.Output(innerKey)
	if !exists {
		return nil, errors.Annotatef(ErrFieldNotFound, "output %s on %s", innerKey, inner)
	}
	published := NewField(key, TypeOf[[]any]())
	if err := fe.macro.node.AddOutput(published); err != nil {
		return nil, errors.Trace(err)
	}
	fe.results = append(fe.results, Publication{Key: key, Node: inner, Field: f})
	return published, nil
}

// Enter is a no-op: passes are seeded by the custom processor.
func (fe *ForEach) Enter(ctx *OpContext) error {
	return nil
}

// Exit guarantees every published output holds a result slice, also when
// the collection was empty.
func (fe *ForEach) Exit(ctx *OpContext) error {
	for _, p := range fe.results {
		if !ctx.Has(p.Key) {
			ctx.Set(p.Key, []any{})
		}
	}
	return nil
}

func (fe *ForEach) NewCustomProcessor(inner *OpGraph) CustomProcessor {
	return &forEachProcessor{fe: fe, inner: inner}
}

type forEachProcessor struct {
	fe    *ForEach
	inner *OpGraph
	ctx   *OpContext

	elements []any
	nodes    []*OpNode
	pass     int
	pos      int
	results  map[string][]any
}

func (p *forEachProcessor) Initialize(ctx *OpContext) error {
	p.ctx = ctx
	p.nodes = p.inner.Nodes()
	p.pass = -1
	p.pos = 0
	p.results = make(map[string][]any, len(p.fe.results))
	for _, pub := range p.fe.results {
		p.results[pub.Key] = []any{}
	}

	elements, err := toElements(ctx.Data[ItemsKey])
	if err != nil {
		return errors.Annotatef(err, "for-each %s", p.fe.macro.node)
	}
	p.elements = elements
	p.publish()
	return nil
}

func (p *forEachProcessor) HasNext() bool {
	if len(p.nodes) == 0 {
		return false
	}
	if p.pass < 0 {
		return len(p.elements) > 0
	}
	return p.pos < len(p.nodes) || p.pass+1 < len(p.elements)
}

func (p *forEachProcessor) Next() *OpNode {
	if !p.HasNext() {
		return nil
	}
	if p.pass < 0 || p.pos >= len(p.nodes) {
		if p.pass >= 0 {
			p.collect()
		}
		p.startPass(p.pass + 1)
	}
	n := p.nodes[p.pos]
	p.pos++
	return n
}

func (p *forEachProcessor) Terminate(ctx *OpContext) error {
	if p.pass >= 0 {
		p.collect()
	}
	p.publish()
	return nil
}

func (p *forEachProcessor) startPass(pass int) {
	p.pass = pass
	p.pos = 0
	p.ctx.ClearChildren()
	// published inputs are constant over passes but live in the child
	// contexts that were just dropped
	p.fe.macro.Enter(p.ctx)
	for _, pub := range p.fe.items {
		p.ctx.Child(pub.Node).SetField(pub.Field, p.elements[pass])
	}
}

func (p *forEachProcessor) collect() {
	for _, pub := range p.fe.results {
		var v any
		if child, exists := p.ctx.FindChild(pub.Node); exists {
			v, _ = child.GetField(pub.Field)
		}
		p.results[pub.Key] = append(p.results[pub.Key], v)
	}
}

func (p *forEachProcessor) publish() {
	for key, values := range p.results {
		out := make([]any, len(values))
		copy(out, values)
		p.ctx.Set(key, out)
	}
}

func toElements(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if elements, err := cast.ToSliceE(v); err == nil {
		return elements, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		elements := make([]any, rv.Len())
		for i := range elements {
			elements[i] = rv.Index(i).Interface()
		}
		return elements, nil
	}
	return nil, errors.NotValidf("%T as collection", v)
}
