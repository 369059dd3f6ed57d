package main

import (
	"context"
	"errors"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"backend-teamrun/internal/apperr"
	"backend-teamrun/internal/config"
	"backend-teamrun/internal/db"
	"backend-teamrun/internal/localstore"
	"backend-teamrun/internal/run"
	syncengine "backend-teamrun/internal/sync"
)

type fakeRemote struct {
	mu      gosync.Mutex
	offline bool
	created map[int64]run.Run
	points  map[int64][]run.PathPoint
	updates int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		created: map[int64]run.Run{},
		points:  map[int64][]run.PathPoint{},
	}
}

func (f *fakeRemote) Create(_ context.Context, r run.Run) (run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return run.Run{}, apperr.Disconnectedf("remote down")
	}
	f.created[r.ID] = r
	return r, nil
}

func (f *fakeRemote) Update(_ context.Context, r run.Run) (run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return run.Run{}, apperr.Disconnectedf("remote down")
	}
	if _, ok := f.created[r.ID]; !ok {
		return run.Run{}, apperr.NotFoundf("run %d", r.ID)
	}
	f.updates++
	f.points[r.ID] = append(f.points[r.ID], r.Path...)
	return r, nil
}

func deviceStore(t *testing.T) *localstore.Store {
	t.Helper()
	conn, err := db.ConnectLocal(config.Config{LocalDBPath: filepath.Join(t.TempDir(), "device.db")})
	if err != nil {
		t.Fatalf("open local db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	store, err := localstore.New(conn)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store
}

func TestSyncOnceDrainsBacklog(t *testing.T) {
	ctx := context.Background()
	store := deviceStore(t)
	remote := newFakeRemote()
	engine := syncengine.NewEngine(store, remote, 10)

	start := int64(1000)
	r := run.Run{ID: 1, UserID: "u1", Start: &start}
	if err := store.SaveRun(ctx, r); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.PutCursor(ctx, "u1", 1, nil); err != nil {
		t.Fatalf("put cursor: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		p := run.PathPoint{Lat: 1, Lng: 2, Time: i * 1000}
		if err := store.AppendPoint(ctx, "u1", 1, p); err != nil {
			t.Fatalf("append point: %v", err)
		}
	}

	if err := syncOnce(ctx, "u1", store, engine); err != nil {
		t.Fatalf("sync once: %v", err)
	}

	if _, ok := remote.created[1]; !ok {
		t.Fatalf("expected run created remotely")
	}
	if got := len(remote.points[1]); got != 3 {
		t.Fatalf("expected 3 points remote, got %d", got)
	}
	since, ok, err := store.Cursor(ctx, "u1", 1)
	if err != nil || !ok || since == nil {
		t.Fatalf("expected cursor present, got since=%v ok=%v err=%v", since, ok, err)
	}
	if *since != 3000 {
		t.Fatalf("expected cursor 3000, got %d", *since)
	}
}

func TestSyncOnceRetiresFinishedRun(t *testing.T) {
	ctx := context.Background()
	store := deviceStore(t)
	remote := newFakeRemote()
	engine := syncengine.NewEngine(store, remote, 10)

	start, end := int64(1000), int64(5000)
	r := run.Run{ID: 2, UserID: "u1", Start: &start, End: &end}
	if err := store.SaveRun(ctx, r); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.PutCursor(ctx, "u1", 2, nil); err != nil {
		t.Fatalf("put cursor: %v", err)
	}
	if err := store.AppendPoint(ctx, "u1", 2, run.PathPoint{Lat: 1, Lng: 2, Time: 2000}); err != nil {
		t.Fatalf("append point: %v", err)
	}

	if err := syncOnce(ctx, "u1", store, engine); err != nil {
		t.Fatalf("sync once: %v", err)
	}

	if _, ok, _ := store.Cursor(ctx, "u1", 2); ok {
		t.Fatalf("expected cursor retired after finish sync")
	}
	if got := len(remote.points[2]); got != 1 {
		t.Fatalf("expected 1 point remote, got %d", got)
	}
}

func TestSyncOnceSkipsRetiredRuns(t *testing.T) {
	ctx := context.Background()
	store := deviceStore(t)
	remote := newFakeRemote()
	engine := syncengine.NewEngine(store, remote, 10)

	start, end := int64(1000), int64(5000)
	if err := store.SaveRun(ctx, run.Run{ID: 3, UserID: "u1", Start: &start, End: &end}); err != nil {
		t.Fatalf("save run: %v", err)
	}

	if err := syncOnce(ctx, "u1", store, engine); err != nil {
		t.Fatalf("sync once: %v", err)
	}
	if remote.updates != 0 {
		t.Fatalf("expected no remote traffic for retired run, got %d updates", remote.updates)
	}
}

func TestSyncOnceSurfacesDisconnect(t *testing.T) {
	ctx := context.Background()
	store := deviceStore(t)
	remote := newFakeRemote()
	remote.offline = true
	engine := syncengine.NewEngine(store, remote, 10)

	start := int64(1000)
	if err := store.SaveRun(ctx, run.Run{ID: 4, UserID: "u1", Start: &start}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.PutCursor(ctx, "u1", 4, nil); err != nil {
		t.Fatalf("put cursor: %v", err)
	}

	err := syncOnce(ctx, "u1", store, engine)
	if !errors.Is(err, apperr.ErrDisconnected) {
		t.Fatalf("expected disconnected, got %v", err)
	}
}

func TestSyncLoopStopsOnCancel(t *testing.T) {
	store := deviceStore(t)
	engine := syncengine.NewEngine(store, newFakeRemote(), 10)
	cfg := config.Config{DeviceUserID: "u1", SyncIntervalMS: 1}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		syncLoop(ctx, cfg, store, engine)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sync loop did not stop on cancel")
	}
}
