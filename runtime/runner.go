package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/opflow/store"
	"github.com/warriorguo/opflow/types"
	"github.com/warriorguo/opflow/utils"
	"go.uber.org/multierr"
)

const (
	RunContextPath = "/run_context/"
)

func newBatchRunner(concurrency int, asyncFlag bool) *batchRunner {
	return &batchRunner{
		wp:        workerpool.New(concurrency),
		asyncFlag: asyncFlag,
	}
}

type batchRunner struct {
	mu sync.Mutex

	wp        *workerpool.WorkerPool
	asyncFlag bool
	runners   map[string]*sessionRunner
}

func (b *batchRunner) exists(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, exists := b.runners[key]
	return exists
}

func (b *batchRunner) get(key string) *sessionRunner {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.runners[key]
}

func (b *batchRunner) add(key string, r *sessionRunner) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.runners == nil {
		b.runners = make(map[string]*sessionRunner)
	}
	if _, exists := b.runners[key]; exists {
		return errors.AlreadyExistsf("key: %s", key)
	}
	b.runners[key] = r
	return nil
}

func (b *batchRunner) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.runners)
}

// stopWait waits for the steps in flight and pauses every request that is
// still alive.
func (b *batchRunner) stopWait(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.wp.StopWait()

	var retErr error
	for key, r := range b.runners {
		if err := r.pause(ctx); err != nil {
			retErr = multierr.Append(retErr, errors.Annotatef(err, "failed on %s", key))
		}
	}
	return retErr
}

func (b *batchRunner) runOnce(ctx context.Context, maxRunAmount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.runners) == 0 {
		return nil
	}

	runAmount := 0
	for key, r := range b.runners {
		r.assignNextStatus()
		if !r.canRun() {
			continue
		}
		if runAmount++; runAmount > maxRunAmount {
			break
		}

		var err error
		if b.asyncFlag {
			err = errors.Trace(r.tryAsyncRunOnce(ctx, b.wp, key))
		} else {
			err = errors.Trace(r.runOnce(ctx, key))
		}
		if err != nil {
			return errors.Trace(err)
		}
	}

	keyToRemoved := make([]string, 0, len(b.runners))
	for key, r := range b.runners {
		if r.tryCheckCanRemove() {
			keyToRemoved = append(keyToRemoved, key)
		}
	}
	for _, key := range keyToRemoved {
		delete(b.runners, key)
	}
	return nil
}

// sessionRunner drives the processor of one request, one node per tick.
type sessionRunner struct {
	mu    sync.Mutex
	store store.Store

	errMu sync.Mutex
	errCh chan error

	requestID  string
	graphID    string
	breakOn    bool
	proc       *Processor
	recorder   *traceRecorder
	lastErr    error
	createTime time.Time
	updateTime time.Time

	runningStatus types.StatusType

	nextStatusMu sync.Mutex
	nextStatus   types.StatusType
}

// sessionSnapshot is what the store keeps about a request, so that its
// status outlives the runner.
type sessionSnapshot struct {
	RequestID   string           `json:",omitempty"`
	GraphID     string           `json:",omitempty"`
	Status      types.StatusType `json:",omitempty"`
	CurrentNode string           `json:",omitempty"`
	Path        utils.Path       `json:",omitempty"`
	LastError   string           `json:",omitempty"`
	CreateTime  time.Time
	UpdateTime  time.Time
}

func newSessionRunner(store store.Store, requestID, graphID string, proc *Processor, breakOn bool) *sessionRunner {
	r := &sessionRunner{}
	r.store = store
	r.requestID = requestID
	r.graphID = graphID
	r.breakOn = breakOn
	r.proc = proc
	r.runningStatus = types.Pending
	r.createTime = time.Now()
	r.recorder = newTraceRecorder(store, requestID)
	proc.AddListener(r.recorder)
	return r
}

func (r *sessionRunner) exportSnapshot() *sessionSnapshot {
	s := &sessionSnapshot{
		RequestID:  r.requestID,
		GraphID:    r.graphID,
		Status:     r.runningStatus,
		CreateTime: r.createTime,
		UpdateTime: r.updateTime,
	}
	if n := r.proc.ActiveNode(); n != nil {
		s.CurrentNode = n.ID()
	}
	if active := r.activeProcessor(); active != nil {
		s.Path = active.Path()
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

func (r *sessionRunner) activeProcessor() *Processor {
	p := r.proc
	for p != nil && p.Macro() != nil {
		p = p.Macro()
	}
	return p
}

func (r *sessionRunner) saveContext(ctx context.Context) error {
	b, err := utils.Serialize(r.exportSnapshot())
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.store.Set(ctx, RunContextPath, r.requestID, b))
}

func (r *sessionRunner) setNextStatus(status types.StatusType) error {
	currentStatus := r.loadStatus()

	r.nextStatusMu.Lock()
	defer r.nextStatusMu.Unlock()

	if !canSetStatus(currentStatus, status) {
		return errors.Forbiddenf("unsupport to set status from %v to %v",
			currentStatus, status)
	}
	r.nextStatus = status
	return nil
}

func (r *sessionRunner) loadStatus() types.StatusType {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.runningStatus
}

func canSetStatus(currentStatus, status types.StatusType) bool {
	switch status {
	case types.Paused:
		return currentStatus == types.Pending ||
			currentStatus == types.Running ||
			currentStatus == types.Resuming ||
			currentStatus == types.Paused

	case types.Resuming:
		return currentStatus == types.Paused ||
			currentStatus == types.Resuming

	case types.Terminated:
		return currentStatus != types.Finished &&
			currentStatus != types.Failed &&
			currentStatus != types.Terminated

	default:
		return false
	}
}

// assignNextStatus applies a status requested by Pause/Resume/Terminate
// between two steps.
func (r *sessionRunner) assignNextStatus() {
	if !r.mu.TryLock() {
		return
	}
	defer r.mu.Unlock()

	r.nextStatusMu.Lock()
	defer r.nextStatusMu.Unlock()

	if r.nextStatus != types.None {
		currentStatus := r.runningStatus
		if canSetStatus(currentStatus, r.nextStatus) {
			r.runningStatus = r.nextStatus
			if err := r.saveContext(context.Background()); err != nil {
				log.Errorf("%s failed to save context: %v", r.requestID, err)
			}
		} else {
			log.Errorf("%s failed to set status from %v to %v", r.requestID, currentStatus, r.nextStatus)
		}
		r.nextStatus = types.None
	}
}

func (r *sessionRunner) canRun() bool {
	if !r.mu.TryLock() {
		return false
	}
	defer r.mu.Unlock()

	return r.runningStatus == types.Pending ||
		r.runningStatus == types.Running ||
		r.runningStatus == types.Resuming
}

func (r *sessionRunner) tryCheckCanRemove() bool {
	if !r.mu.TryLock() {
		return false
	}
	defer r.mu.Unlock()

	return r.runningStatus == types.Failed ||
		r.runningStatus == types.Finished ||
		r.runningStatus == types.Terminated
}

func (r *sessionRunner) tryAsyncRunOnce(ctx context.Context, wp *workerpool.WorkerPool, logPrefix string) error {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	if r.errCh == nil {
		r.errCh = make(chan error, 1)
		wp.Submit(func() {
			r.errCh <- r.runOnce(ctx, logPrefix)
		})
	}

	select {
	case err := <-r.errCh:
		close(r.errCh)
		r.errCh = nil
		return errors.Trace(err)
	default:
		return nil
	}
}

func (r *sessionRunner) pause(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canSetStatus(r.runningStatus, types.Paused) {
		return nil
	}
	r.runningStatus = types.Paused
	return errors.Trace(r.saveContext(ctx))
}

// runOnce processes a single node of the request.
func (r *sessionRunner) runOnce(ctx context.Context, logPrefix string) error {
	if !r.canRun() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.runningStatus = types.Running
	r.updateTime = time.Now()
	r.recorder.Context = ctx

	if !r.proc.HasNext() {
		r.runningStatus = types.Finished
		return errors.Trace(r.saveContext(ctx))
	}

	err := r.proc.Step(r.breakOn)
	switch {
	case err == nil:
		if !r.proc.HasNext() {
			r.runningStatus = types.Finished
		}

	case types.IsBreakpoint(err):
		log.Debugf("%s paused: %v", logPrefix, err)
		r.runningStatus = types.Paused

	default:
		log.Debugf("%s failed: %v", logPrefix, err)
		r.recorder.fail(err)
		r.lastErr = err
		r.runningStatus = types.Failed
	}

	return errors.Trace(r.saveContext(ctx))
}

func (r *sessionRunner) getStatus() (*types.RequestStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := &types.RequestStatus{
		RequestID:      r.requestID,
		GraphID:        r.graphID,
		Status:         r.runningStatus,
		LastNodeRecord: r.recorder.last,
	}
	if n := r.proc.ActiveNode(); n != nil {
		status.CurrentNode = n.ID()
	}
	if r.lastErr != nil {
		status.LastError = r.lastErr.Error()
	}
	return status, nil
}
