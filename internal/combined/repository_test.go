package combined

import (
	"context"
	"database/sql"
	"errors"
	gosync "sync"
	"testing"

	"backend-teamrun/internal/apperr"
	"backend-teamrun/internal/localstore"
	"backend-teamrun/internal/run"
	syncengine "backend-teamrun/internal/sync"

	_ "github.com/mattn/go-sqlite3"
)

// fakeRemote is an in-memory run service with a connectivity switch.
type fakeRemote struct {
	mu      gosync.Mutex
	offline bool
	runs    map[int64]run.Run
	points  map[int64]map[int64]run.PathPoint

	unfinishedCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		runs:   map[int64]run.Run{},
		points: map[int64]map[int64]run.PathPoint{},
	}
}

func (f *fakeRemote) check() error {
	if f.offline {
		return apperr.Disconnectedf("offline")
	}
	return nil
}

func (f *fakeRemote) Create(_ context.Context, r run.Run) (run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return run.Run{}, err
	}
	if _, ok := f.runs[r.ID]; !ok {
		f.runs[r.ID] = r
		f.points[r.ID] = map[int64]run.PathPoint{}
	}
	return f.runs[r.ID], nil
}

func (f *fakeRemote) Update(_ context.Context, r run.Run) (run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return run.Run{}, err
	}
	if _, ok := f.runs[r.ID]; !ok {
		return run.Run{}, apperr.NotFoundf("run %d", r.ID)
	}
	meta := r
	meta.Path = nil
	f.runs[r.ID] = meta
	for _, p := range r.Path {
		f.points[r.ID][p.Time] = p
	}
	return meta, nil
}

func (f *fakeRemote) Unfinished(context.Context) ([]run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unfinishedCalls++
	if err := f.check(); err != nil {
		return nil, err
	}
	var out []run.Run
	for _, r := range f.runs {
		if r.Unfinished() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRemote) All(context.Context) ([]run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	var out []run.Run
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRemote) Delete(_ context.Context, runID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	if _, ok := f.runs[runID]; !ok {
		return apperr.NotFoundf("run %d", runID)
	}
	delete(f.runs, runID)
	delete(f.points, runID)
	return nil
}

func newTestRepo(t *testing.T) (*Repository, *fakeRemote, *localstore.Store) {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	local, err := localstore.New(conn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	remote := newFakeRemote()
	engine := syncengine.NewEngine(local, remote, 5)
	return NewRepository("u1", local, remote, engine), remote, local
}

func startedRun(id int64) run.Run {
	start := int64(1000)
	return run.Run{ID: id, UserID: "u1", Start: &start}
}

func TestCreateOnline(t *testing.T) {
	repo, remote, local := newTestRepo(t)
	ctx := context.Background()

	res, err := repo.Create(ctx, startedRun(1))
	if err != nil || res.Stale {
		t.Fatalf("create: %+v %v", res, err)
	}
	if _, ok := remote.runs[1]; !ok {
		t.Fatalf("expected remote run")
	}
	since, ok, _ := local.Cursor(ctx, "u1", 1)
	if !ok || since == nil || *since != 0 {
		t.Fatalf("expected cursor at 0, got %v %v", since, ok)
	}
}

func TestCreateOfflineThenRecover(t *testing.T) {
	repo, remote, local := newTestRepo(t)
	ctx := context.Background()

	remote.offline = true
	res, err := repo.Create(ctx, startedRun(1))
	if err != nil {
		t.Fatalf("offline create: %v", err)
	}
	if !res.Stale {
		t.Fatalf("expected stale result offline")
	}
	since, ok, _ := local.Cursor(ctx, "u1", 1)
	if !ok || since != nil {
		t.Fatalf("expected nil cursor offline, got %v %v", since, ok)
	}

	// capture continues offline
	for _, ts := range []int64{1100, 1200, 1300} {
		if err := repo.AppendPoint(ctx, 1, run.PathPoint{Lat: 45, Lng: 20, Time: ts}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := repo.Flush(ctx, 1); err != nil {
		t.Fatalf("offline flush should swallow disconnect: %v", err)
	}
	if len(remote.runs) != 0 {
		t.Fatalf("nothing should reach remote while offline")
	}

	// connectivity returns: replay creates the run and pushes the backlog
	remote.offline = false
	if err := repo.Flush(ctx, 1); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(remote.points[1]) != 3 {
		t.Fatalf("expected 3 points replayed, got %d", len(remote.points[1]))
	}
	since, _, _ = local.Cursor(ctx, "u1", 1)
	if since == nil || *since != 1300 {
		t.Fatalf("expected cursor at 1300, got %v", since)
	}
}

func TestCurrentPrefersRemoteAndFallsBack(t *testing.T) {
	repo, remote, _ := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Create(ctx, startedRun(1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	repo.fresh.forget(1)
	res, err := repo.Current(ctx)
	if err != nil || res.Stale || res.Run.ID != 1 {
		t.Fatalf("current: %+v %v", res, err)
	}
	if remote.unfinishedCalls != 1 {
		t.Fatalf("expected remote read, got %d calls", remote.unfinishedCalls)
	}

	// freshly verified: served locally without another remote call
	calls := remote.unfinishedCalls
	if _, err := repo.Current(ctx); err != nil {
		t.Fatalf("cached current: %v", err)
	}
	if remote.unfinishedCalls != calls {
		t.Fatalf("expected freshness cache hit")
	}

	remote.offline = true
	repo.fresh.forget(1)
	res, err = repo.Current(ctx)
	if err != nil {
		t.Fatalf("fallback current: %v", err)
	}
	if !res.Stale || res.Run.ID != 1 {
		t.Fatalf("expected stale local run, got %+v", res)
	}
}

func TestCurrentNotFound(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	_, err := repo.Current(context.Background())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFinishOnlineRemovesCursor(t *testing.T) {
	repo, remote, local := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Create(ctx, startedRun(1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = repo.AppendPoint(ctx, 1, run.PathPoint{Lat: 1, Lng: 1, Time: 1500, End: true})

	res, err := repo.Finish(ctx, 1, 2000, 900)
	if err != nil || res.Stale {
		t.Fatalf("finish: %+v %v", res, err)
	}
	if remote.runs[1].End == nil || *remote.runs[1].End != 2000 {
		t.Fatalf("expected end on remote: %+v", remote.runs[1])
	}
	if _, ok, _ := local.Cursor(ctx, "u1", 1); ok {
		t.Fatalf("expected cursor removed")
	}

	// idempotent
	res, err = repo.Finish(ctx, 1, 9999, 1)
	if err != nil || *res.Run.End != 2000 {
		t.Fatalf("refinish should be a no-op: %+v %v", res, err)
	}
}

func TestFinishOfflineStaysReconcilable(t *testing.T) {
	repo, remote, local := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Create(ctx, startedRun(1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	remote.offline = true
	res, err := repo.Finish(ctx, 1, 2000, 900)
	if err != nil {
		t.Fatalf("offline finish: %v", err)
	}
	if !res.Stale {
		t.Fatalf("expected stale finish")
	}
	// cursor survives so the next sync can complete the finalization
	if _, ok, _ := local.Cursor(ctx, "u1", 1); !ok {
		t.Fatalf("expected cursor retained")
	}

	remote.offline = false
	if err := repo.engine.FinishSync(ctx, "u1", 1); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if remote.runs[1].End == nil {
		t.Fatalf("expected end reconciled to remote")
	}
}

func TestHistoryFallback(t *testing.T) {
	repo, remote, _ := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Create(ctx, startedRun(1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := repo.History(ctx)
	if err != nil || list.Stale || len(list.Runs) != 1 {
		t.Fatalf("history: %+v %v", list, err)
	}

	remote.offline = true
	list, err = repo.History(ctx)
	if err != nil || !list.Stale || len(list.Runs) != 1 {
		t.Fatalf("stale history: %+v %v", list, err)
	}
}

func TestDelete(t *testing.T) {
	repo, remote, local := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Create(ctx, startedRun(1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(remote.runs) != 0 {
		t.Fatalf("expected remote delete")
	}
	if _, err := local.GetRun(ctx, "u1", 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected local delete")
	}

	// deleting a run the server never saw still clears local state
	remote.offline = false
	if _, err := repo.Create(ctx, startedRun(2)); err != nil {
		t.Fatalf("create: %v", err)
	}
	delete(remote.runs, 2)
	if err := repo.Delete(ctx, 2); err != nil {
		t.Fatalf("delete unknown remote: %v", err)
	}
}
