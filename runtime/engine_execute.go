package runtime

import (
	"context"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/warriorguo/opflow/store"
	"github.com/warriorguo/opflow/types"
)

type engineExecute struct {
	ctx    context.Context
	cancel context.CancelFunc

	exitCh  chan struct{}
	running atomic.Bool

	store store.Store

	concurrency int
	breakOn     bool
	batchRunner *batchRunner
}

func (ee *engineExecute) startSession(requestID, graphID string, proc *Processor) error {
	return ee.batchRunner.add(requestID, newSessionRunner(ee.store, requestID, graphID, proc, ee.breakOn))
}

func (ee *engineExecute) hasSession(requestID string) bool {
	return ee.batchRunner.exists(requestID)
}

func (ee *engineExecute) runOnce() error {
	return ee.batchRunner.runOnce(ee.ctx, ee.concurrency)
}

func (ee *engineExecute) isRunningEmpty() bool {
	return ee.batchRunner.size() == 0
}

func (ee *engineExecute) setSessionStatus(requestID string, newStatus types.StatusType) error {
	r := ee.batchRunner.get(requestID)
	if r == nil {
		return errors.NotFoundf("request ID:%s", requestID)
	}

	return r.setNextStatus(newStatus)
}

func (ee *engineExecute) getSessionStatus(requestID string) (*types.RequestStatus, bool, error) {
	r := ee.batchRunner.get(requestID)
	if r == nil {
		return nil, false, nil
	}

	status, err := r.getStatus()
	if err != nil {
		return nil, true, errors.Trace(err)
	}
	return status, true, nil
}

func (ee *engineExecute) PauseRequest(ctx context.Context, requestID string) error {
	return ee.setSessionStatus(requestID, types.Paused)
}

func (ee *engineExecute) ResumeRequest(ctx context.Context, requestID string) error {
	return ee.setSessionStatus(requestID, types.Resuming)
}

func (ee *engineExecute) TerminateRequest(ctx context.Context, requestID string) error {
	return ee.setSessionStatus(requestID, types.Terminated)
}
