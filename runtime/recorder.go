package runtime

import (
	"context"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/opflow/op"
	"github.com/warriorguo/opflow/store"
	"github.com/warriorguo/opflow/types"
	"github.com/warriorguo/opflow/utils"
)

const (
	RecordPath = "/record/"
)

var (
	_ Listener = &traceRecorder{}
)

func recordSavePath(requestID string) string {
	return RecordPath + requestID
}

// recordKey identifies a node execution within a request, e.g. the id of a
// node inside a macro is prefixed by the macro node's id.
func recordKey(path utils.Path, n *op.OpNode) string {
	return path.AddString(n.ID()).String()
}

// traceRecorder turns processor events into NodeTraceRecords and persists
// them. Records of composite nodes stay open while their inner graph runs.
type traceRecorder struct {
	context.Context

	store     store.Store
	requestID string

	open map[string]*types.NodeTraceRecord
	last *types.NodeTraceRecord
}

func newTraceRecorder(store store.Store, requestID string) *traceRecorder {
	return &traceRecorder{
		Context:   context.Background(),
		store:     store,
		requestID: requestID,
		open:      make(map[string]*types.NodeTraceRecord),
	}
}

func (t *traceRecorder) BeginNode(p *Processor, n *op.OpNode) {
	key := recordKey(p.Path(), n)
	log.Debugf("%s running %s", t.requestID, key)

	record := &types.NodeTraceRecord{
		Path:      p.Path().Export(),
		NodeID:    n.ID(),
		NodeName:  n.Name(),
		Level:     p.Graph().Level(n),
		StartTime: time.Now(),
		Input:     fieldValues(p.Context().Child(n), n.Inputs()),
	}
	t.open[key] = record
	t.last = record
	t.saveRecord(key, record)
}

func (t *traceRecorder) EndNode(p *Processor, n *op.OpNode) {
	key := recordKey(p.Path(), n)
	record, exists := t.open[key]
	if !exists {
		return
	}
	delete(t.open, key)

	record.EndTime = time.Now()
	record.Output = fieldValues(p.Context().Child(n), n.Outputs())
	t.last = record
	t.saveRecord(key, record)
}

func (t *traceRecorder) Complete(p *Processor) {}

// fail closes every open record, the failing node and the composites
// enclosing it, with err.
func (t *traceRecorder) fail(err error) {
	for key, record := range t.open {
		record.EndTime = time.Now()
		record.Error = errors.ErrorStack(err)
		t.saveRecord(key, record)
	}
	t.open = make(map[string]*types.NodeTraceRecord)
}

func (t *traceRecorder) saveRecord(key string, record *types.NodeTraceRecord) {
	b, err := utils.Serialize(record)
	if err != nil {
		log.Errorf("%s failed to serialize record %s: %v", t.requestID, key, err)
		return
	}
	if err := t.store.Set(t.Context, recordSavePath(t.requestID), key, b); err != nil {
		log.Errorf("%s failed to save record: %v", t.requestID, err)
	}
}

func fieldValues(ctx *op.OpContext, fields []*op.Field) types.Data {
	data := types.Data{}
	for _, f := range fields {
		if v, exists := ctx.GetField(f); exists {
			data[f.Key] = v
		}
	}
	return data
}
