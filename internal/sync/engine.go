package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"backend-teamrun/internal/apperr"
	"backend-teamrun/internal/localstore"
	"backend-teamrun/internal/observability"
	"backend-teamrun/internal/run"
)

// Remote is the slice of the run API the engine pushes through.
type Remote interface {
	Create(ctx context.Context, r run.Run) (run.Run, error)
	Update(ctx context.Context, r run.Run) (run.Run, error)
}

// Engine reconciles the local store with the remote run service, one run
// at a time. The sync cursor tracks the newest point the server has
// acknowledged: nil means the run itself is not on the server yet, T means
// every point with time <= T is confirmed. The cursor only ever moves
// forward, and only after an acknowledgment; a flush interrupted anywhere
// leaves already-acked progress valid and retry is always safe because the
// server dedups points by (user, run, time).
type Engine struct {
	local     *localstore.Store
	remote    Remote
	batchSize int

	mu    gosync.Mutex
	inUse map[string]*gosync.Mutex
}

func NewEngine(local *localstore.Store, remote Remote, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Engine{
		local:     local,
		remote:    remote,
		batchSize: batchSize,
		inUse:     map[string]*gosync.Mutex{},
	}
}

// runLock serializes syncs per (user, run). At most one flush is in flight
// for a given run; concurrent callers queue.
func (e *Engine) runLock(userID string, runID int64) *gosync.Mutex {
	key := fmt.Sprintf("%s/%d", userID, runID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inUse[key] == nil {
		e.inUse[key] = &gosync.Mutex{}
	}
	return e.inUse[key]
}

// EnsureSynced pushes every local point newer than the cursor to the
// remote service, creating the run remotely first if the cursor says it
// does not exist yet. Each batch is atomic: the cursor advances to the
// batch's newest timestamp only after the whole batch is acknowledged.
func (e *Engine) EnsureSynced(ctx context.Context, userID string, runID int64) error {
	lock := e.runLock(userID, runID)
	lock.Lock()
	defer lock.Unlock()

	err := e.flush(ctx, userID, runID)
	if errors.Is(err, apperr.ErrDisconnected) {
		observability.SyncFailuresTotal.Inc()
	}
	return err
}

// FinishSync runs a final flush for a finished run and, once everything is
// acknowledged, drops the cursor row. Only valid after End is set locally.
func (e *Engine) FinishSync(ctx context.Context, userID string, runID int64) error {
	lock := e.runLock(userID, runID)
	lock.Lock()
	defer lock.Unlock()

	local, err := e.local.GetRun(ctx, userID, runID)
	if err != nil {
		return err
	}
	if local.Unfinished() {
		return apperr.Conflictf("run %d still in progress", runID)
	}
	if err := e.flush(ctx, userID, runID); err != nil {
		return err
	}
	return e.local.DeleteCursor(ctx, userID, runID)
}

func (e *Engine) flush(ctx context.Context, userID string, runID int64) error {
	local, err := e.local.GetRun(ctx, userID, runID)
	if err != nil {
		return err
	}

	since, ok, err := e.local.Cursor(ctx, userID, runID)
	if err != nil {
		return err
	}
	if !ok {
		// run predates cursor tracking (or the row was lost): behave as
		// if the run was never created remotely
		if err := e.local.PutCursor(ctx, userID, runID, nil); err != nil {
			return err
		}
	}

	if since == nil {
		meta := local
		meta.Path = nil
		if _, err := e.remote.Create(ctx, meta); err != nil {
			return err
		}
		zero := int64(0)
		if err := e.local.PutCursor(ctx, userID, runID, &zero); err != nil {
			return err
		}
		since = &zero
	}

	recreated := false
	for {
		batch, err := e.local.PointsAfter(ctx, userID, runID, *since, e.batchSize)
		if err != nil {
			return err
		}

		push := local
		push.Path = batch
		if _, err := e.remote.Update(ctx, push); err != nil {
			// the run can vanish remotely (account cleanup, delete from
			// another device); recreate once and retry the same batch
			if errors.Is(err, apperr.ErrNotFound) && !recreated {
				meta := local
				meta.Path = nil
				if _, err := e.remote.Create(ctx, meta); err != nil {
					return err
				}
				recreated = true
				continue
			}
			return err
		}
		observability.SyncBatchesTotal.Inc()

		if len(batch) == 0 {
			return nil
		}
		newest := batch[len(batch)-1].Time
		if err := e.local.PutCursor(ctx, userID, runID, &newest); err != nil {
			return err
		}
		since = &newest
		if len(batch) < e.batchSize {
			return nil
		}
	}
}
