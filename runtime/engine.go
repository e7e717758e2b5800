package runtime

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/opflow/op"
	"github.com/warriorguo/opflow/store"
	"github.com/warriorguo/opflow/types"
	"go.uber.org/multierr"
)

// Engine runs requests against registered graphs. Every request owns a
// Processor; the engine steps each runnable request by one node per tick.
type Engine interface {
	RegisterGraph(g *op.OpGraph) error
	GetGraph(id string) (*op.OpGraph, bool)
	ListGraphIDs() ([]string, error)
	RenderGraph(id string) (string, error)

	// RunGraph starts a request and returns its id. params seed the inputs
	// of the graph: a value whose key matches an unlinked input of a node is
	// routed into it. An empty requestID is replaced by a random uuid.
	RunGraph(ctx context.Context, graphID, requestID string, params types.Data) (string, error)

	GetRequestStatus(ctx context.Context, requestID string) (*types.RequestStatus, error)
	GetRequestRecords(ctx context.Context, requestID string) (map[string]*types.NodeTraceRecord, error)
	RenderRequestStatus(ctx context.Context, requestID string) (string, error)

	PauseRequest(ctx context.Context, requestID string) error
	ResumeRequest(ctx context.Context, requestID string) error
	TerminateRequest(ctx context.Context, requestID string) error
	// RemoveRequest drops the saved status and records of an ended request.
	RemoveRequest(ctx context.Context, requestID string) error

	// RunOnce steps every runnable request once. Only needed when AutoStart
	// is disabled.
	RunOnce() error
	Close(ctx context.Context) error
}

func NewEngine(store store.Store, opts *types.EngineOptions) Engine {
	return newEngine(store, opts)
}

type engine struct {
	engineExecute

	graphMu sync.Mutex
	graphs  map[string]*op.OpGraph
}

func newEngine(store store.Store, opts *types.EngineOptions) *engine {
	e := &engine{}
	e.ctx, e.cancel = context.WithCancel(opts.Ctx)
	e.store = store
	e.running.Store(true)
	e.batchRunner = newBatchRunner(opts.MaxConcurrency, opts.TaskRunAsync)
	e.concurrency = opts.MaxConcurrency
	e.breakOn = opts.BreakOnBreakpoints
	e.graphs = make(map[string]*op.OpGraph)

	if opts.AutoStart {
		e.asyncRun()
	}
	return e
}

func (e *engine) asyncRun() {
	readyCh := make(chan struct{}, 1)
	e.exitCh = make(chan struct{})

	go func() {
		close(readyCh)

		for e.running.Load() {
			if err := e.runOnce(); err != nil {
				log.Errorf("run once failed: %v", err)
			}
			if e.isRunningEmpty() {
				time.Sleep(time.Millisecond)
			} else {
				time.Sleep(0)
			}
		}
		close(e.exitCh)
	}()
	<-readyCh
}

// RegisterGraph makes g runnable under its id. Registering another graph
// under the same id replaces it for future requests.
func (e *engine) RegisterGraph(g *op.OpGraph) error {
	if !e.running.Load() {
		return errors.MethodNotAllowedf("not running")
	}
	if g == nil {
		return errors.NotValidf("nil graph")
	}
	sortGraph(g)

	e.graphMu.Lock()
	defer e.graphMu.Unlock()
	e.graphs[g.ID()] = g
	return nil
}

// sortGraph settles the lazy order of g and every nested graph, so
// concurrent requests only read it.
func sortGraph(g *op.OpGraph) {
	for _, n := range g.Nodes() {
		if c := n.Composite(); c != nil && c.Graph() != nil {
			sortGraph(c.Graph())
		}
	}
}

func (e *engine) GetGraph(id string) (*op.OpGraph, bool) {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()
	g, exists := e.graphs[id]
	return g, exists
}

func (e *engine) ListGraphIDs() ([]string, error) {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()

	ids := make([]string, 0, len(e.graphs))
	for id := range e.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (e *engine) RenderGraph(id string) (string, error) {
	g, exists := e.GetGraph(id)
	if !exists {
		return "", errors.NotFoundf("graph id: %s", id)
	}
	return RenderDOT(g, nil)
}

func (e *engine) RenderRequestStatus(ctx context.Context, requestID string) (string, error) {
	snapshot, err := e.loadSnapshot(ctx, requestID)
	if err != nil {
		return "", errors.Trace(err)
	}
	g, exists := e.GetGraph(snapshot.GraphID)
	if !exists {
		return "", errors.NotFoundf("graph id: %s", snapshot.GraphID)
	}
	records, err := e.loadRecords(ctx, requestID)
	if err != nil {
		return "", errors.Trace(err)
	}
	return RenderDOT(g, records)
}

// GetRequestStatus reports a live request, or the last state saved for a
// request that already ended.
func (e *engine) GetRequestStatus(ctx context.Context, requestID string) (*types.RequestStatus, error) {
	status, exists, err := e.getSessionStatus(requestID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if exists {
		return status, nil
	}

	snapshot, err := e.loadSnapshot(ctx, requestID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	status = &types.RequestStatus{
		RequestID:   snapshot.RequestID,
		GraphID:     snapshot.GraphID,
		Status:      snapshot.Status,
		CurrentNode: snapshot.CurrentNode,
		LastError:   snapshot.LastError,
	}
	if snapshot.CurrentNode != "" {
		key := snapshot.Path.AddString(snapshot.CurrentNode).String()
		records, err := e.loadRecords(ctx, requestID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		status.LastNodeRecord = records[key]
	}
	return status, nil
}

func (e *engine) RunGraph(ctx context.Context, graphID, requestID string, params types.Data) (string, error) {
	if !e.running.Load() {
		return "", errors.MethodNotAllowedf("not running")
	}
	g, exists := e.GetGraph(graphID)
	if !exists {
		return "", errors.NotFoundf("graph id: %s", graphID)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if e.hasSession(requestID) {
		return "", errors.AlreadyExistsf("request id: %s", requestID)
	}

	proc := NewProcessor(g)
	if err := proc.Reset(NewRequestContext(g, params)); err != nil {
		return "", errors.Trace(err)
	}
	if err := e.startSession(requestID, graphID, proc); err != nil {
		return "", errors.Trace(err)
	}
	return requestID, nil
}

// NewRequestContext builds the global context of a request. Params are kept
// as global data and routed into the unlinked inputs sharing their key.
func NewRequestContext(g *op.OpGraph, params types.Data) *op.OpContext {
	ctx := op.NewOpContextWith(params)
	if len(params) == 0 {
		return ctx
	}
	for _, n := range g.Nodes() {
		linked := make(map[*op.Field]bool)
		for _, l := range g.IncomingLinks(n) {
			linked[l.DestinationField()] = true
		}
		for _, f := range n.Inputs() {
			if f.Key == op.EnabledKey || linked[f] {
				continue
			}
			if v, exists := params[f.Key]; exists {
				ctx.Child(n).SetField(f, v)
			}
		}
	}
	return ctx
}

func (e *engine) Close(ctx context.Context) error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	e.cancel()

	if e.exitCh != nil {
		<-e.exitCh
	}

	err := e.batchRunner.stopWait(ctx)
	if closer, ok := e.store.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	return err
}

func (e *engine) RunOnce() error {
	return e.runOnce()
}
