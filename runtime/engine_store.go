package runtime

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/opflow/types"
	"github.com/warriorguo/opflow/utils"
	"go.uber.org/multierr"
)

func (e *engine) loadSnapshot(ctx context.Context, requestID string) (*sessionSnapshot, error) {
	b, err := e.store.Get(ctx, RunContextPath, requestID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, errors.NotFoundf("request id: %s", requestID)
	}

	snapshot := &sessionSnapshot{}
	if err := utils.Unserialize(b, snapshot); err != nil {
		return nil, errors.Trace(err)
	}
	return snapshot, nil
}

func (e *engine) removeSnapshot(ctx context.Context, requestID string) error {
	return errors.Trace(e.store.Remove(ctx, RunContextPath, requestID))
}

func (e *engine) removeRecords(ctx context.Context, requestID string) error {
	recordPath := recordSavePath(requestID)
	keys := make([]string, 0)
	if err := e.store.List(ctx, recordPath, func(key string) bool {
		keys = append(keys, key)
		return true
	}); err != nil {
		return errors.Trace(err)
	}

	var retErr error
	for _, key := range keys {
		retErr = multierr.Append(retErr, e.store.Remove(ctx, recordPath, key))
	}
	return errors.Trace(retErr)
}

func (e *engine) RemoveRequest(ctx context.Context, requestID string) error {
	if e.hasSession(requestID) {
		return errors.Forbiddenf("request %s is still alive", requestID)
	}
	if err := e.removeRecords(ctx, requestID); err != nil {
		return errors.Trace(err)
	}
	return e.removeSnapshot(ctx, requestID)
}

func (e *engine) loadRecords(ctx context.Context, requestID string) (map[string]*types.NodeTraceRecord, error) {
	records := make(map[string]*types.NodeTraceRecord)
	recordPath := recordSavePath(requestID)
	err := e.store.List(ctx, recordPath, func(key string) bool {
		b, err := e.store.Get(ctx, recordPath, key)
		if err != nil {
			log.Errorf("load %s %s from store failed: %v", recordPath, key, err)
			return true
		}
		record := &types.NodeTraceRecord{}
		if err := utils.Unserialize(b, record); err != nil {
			log.Errorf("unserialize %s %s from store:%s failed: %v", recordPath, key, string(b), err)
			return true
		}
		records[key] = record
		return true
	})
	return records, errors.Trace(err)
}

func (e *engine) GetRequestRecords(ctx context.Context, requestID string) (map[string]*types.NodeTraceRecord, error) {
	return e.loadRecords(ctx, requestID)
}
