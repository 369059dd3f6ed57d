package combined

import (
	"context"
	"errors"
	"time"

	"backend-teamrun/internal/apperr"
	"backend-teamrun/internal/localstore"
	"backend-teamrun/internal/run"
	syncengine "backend-teamrun/internal/sync"
)

// Remote is the slice of the run API the repository reads and writes.
// *runclient.Client satisfies it.
type Remote interface {
	syncengine.Remote
	Unfinished(ctx context.Context) ([]run.Run, error)
	All(ctx context.Context) ([]run.Run, error)
	Delete(ctx context.Context, runID int64) error
}

// Result is a run read through the repository. Stale means the value came
// from the local store because the server was unreachable; the caller sees
// the last known state, not necessarily the truth.
type Result struct {
	Run   run.Run
	Stale bool
}

type ListResult struct {
	Runs  []run.Run
	Stale bool
}

// Repository presents one "current run" abstraction per signed-in user on
// a device. Metadata writes go to the server first and are mirrored
// locally only on confirmed success; point appends are the one deliberate
// asymmetry, written locally immediately and reconciled by the sync
// engine so a run never blocks on the network mid-capture.
//
// Partial failure is a defined state: if the server accepted a write but
// the process died before the local mirror, or the other way around, the
// next EnsureSynced pass reconciles the two. Nothing here assumes both
// sides moved together.
type Repository struct {
	userID string
	local  *localstore.Store
	remote Remote
	engine *syncengine.Engine
	fresh  *freshness
}

func NewRepository(userID string, local *localstore.Store, remote Remote, engine *syncengine.Engine) *Repository {
	return &Repository{
		userID: userID,
		local:  local,
		remote: remote,
		engine: engine,
		fresh:  newFreshness(64, 30*time.Second),
	}
}

// Create starts a run. Server-first: the remote copy is created before the
// local mirror. Offline, the run still starts: it lands in the local store
// with a nil sync cursor, which is exactly the "never created remotely"
// marker the sync engine replays from once connectivity returns.
func (r *Repository) Create(ctx context.Context, input run.Run) (Result, error) {
	input.UserID = r.userID
	if err := run.ValidateRun(input); err != nil {
		return Result{}, err
	}

	created, err := r.remote.Create(ctx, input)
	switch {
	case err == nil:
		if err := r.local.SaveRun(ctx, created); err != nil {
			return Result{}, err
		}
		zero := int64(0)
		if err := r.local.PutCursor(ctx, r.userID, created.ID, &zero); err != nil {
			return Result{}, err
		}
		r.fresh.mark(created.ID)
		return Result{Run: created}, nil

	case errors.Is(err, apperr.ErrDisconnected):
		if err := r.local.SaveRun(ctx, input); err != nil {
			return Result{}, err
		}
		if err := r.local.PutCursor(ctx, r.userID, input.ID, nil); err != nil {
			return Result{}, err
		}
		return Result{Run: input, Stale: true}, nil

	default:
		return Result{}, err
	}
}

// AppendPoint records a sample locally. It never touches the network;
// Flush (or the device's periodic loop) pushes the backlog.
func (r *Repository) AppendPoint(ctx context.Context, runID int64, p run.PathPoint) error {
	return r.local.AppendPoint(ctx, r.userID, runID, p)
}

// Flush pushes unsynced points for the run. A Disconnected result is
// swallowed: the local view simply stays ahead of the server until the
// next attempt.
func (r *Repository) Flush(ctx context.Context, runID int64) error {
	err := r.engine.EnsureSynced(ctx, r.userID, runID)
	if errors.Is(err, apperr.ErrDisconnected) {
		return nil
	}
	return err
}

// Finish finalizes the run: end and accumulated running time are fixed
// locally, then the engine flushes everything including the final
// metadata. If the flush cannot reach the server the run stays finished
// locally with its cursor intact and the next sync completes the job.
func (r *Repository) Finish(ctx context.Context, runID int64, endMS, runningMS int64) (Result, error) {
	local, err := r.local.GetRun(ctx, r.userID, runID)
	if err != nil {
		return Result{}, err
	}
	if !local.Unfinished() {
		return Result{Run: local}, nil
	}
	if local.Start == nil {
		return Result{}, apperr.Validationf("run %d never started", runID)
	}

	local.End = &endMS
	local.Running = runningMS
	local.Paused = false
	if err := r.local.SaveRun(ctx, local); err != nil {
		return Result{}, err
	}
	r.fresh.forget(runID)

	if err := r.engine.FinishSync(ctx, r.userID, runID); err != nil {
		if errors.Is(err, apperr.ErrDisconnected) {
			return Result{Run: local, Stale: true}, nil
		}
		return Result{}, err
	}
	return Result{Run: local}, nil
}

// Current returns the user's unfinished run, preferring server truth. On
// disconnect it falls back to the local store and flags the result stale.
// A recently verified run is served locally without a round trip.
func (r *Repository) Current(ctx context.Context) (Result, error) {
	locals, err := r.local.UnfinishedRuns(ctx, r.userID)
	if err != nil {
		return Result{}, err
	}
	if len(locals) > 0 && r.fresh.fresh(locals[len(locals)-1].ID) {
		return Result{Run: locals[len(locals)-1]}, nil
	}

	remotes, err := r.remote.Unfinished(ctx)
	switch {
	case err == nil:
		if len(remotes) == 0 {
			if len(locals) > 0 {
				// unfinished locally, unknown remotely: a never-synced run
				return Result{Run: locals[len(locals)-1], Stale: true}, nil
			}
			return Result{}, apperr.NotFoundf("no current run")
		}
		current := remotes[len(remotes)-1]
		if err := r.local.SaveRun(ctx, current); err != nil {
			return Result{}, err
		}
		r.fresh.mark(current.ID)
		return Result{Run: current}, nil

	case errors.Is(err, apperr.ErrDisconnected):
		if len(locals) == 0 {
			return Result{}, apperr.NotFoundf("no current run")
		}
		return Result{Run: locals[len(locals)-1], Stale: true}, nil

	default:
		return Result{}, err
	}
}

// History lists the user's runs, remote-first with local fallback.
func (r *Repository) History(ctx context.Context) (ListResult, error) {
	remotes, err := r.remote.All(ctx)
	switch {
	case err == nil:
		for _, rr := range remotes {
			if err := r.local.SaveRun(ctx, rr); err != nil {
				return ListResult{}, err
			}
			r.fresh.mark(rr.ID)
		}
		return ListResult{Runs: remotes}, nil

	case errors.Is(err, apperr.ErrDisconnected):
		locals, lerr := r.local.AllRuns(ctx, r.userID)
		if lerr != nil {
			return ListResult{}, lerr
		}
		return ListResult{Runs: locals, Stale: true}, nil

	default:
		return ListResult{}, err
	}
}

// Delete removes the run everywhere, server-first.
func (r *Repository) Delete(ctx context.Context, runID int64) error {
	if err := r.remote.Delete(ctx, runID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	r.fresh.forget(runID)
	return r.local.DeleteRun(ctx, r.userID, runID)
}
