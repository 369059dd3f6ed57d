package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"backend-teamrun/internal/apperr"
	"backend-teamrun/internal/auth"
	"backend-teamrun/internal/combined"
	"backend-teamrun/internal/config"
	"backend-teamrun/internal/db"
	"backend-teamrun/internal/localstore"
	"backend-teamrun/internal/runclient"
	syncengine "backend-teamrun/internal/sync"
)

// device is the on-device companion daemon: it owns the local store and
// keeps it reconciled with the server in the background while the app
// records runs through the combined repository.

const maxBackoff = 2 * time.Minute

func main() {
	cfg := config.Load()

	conn, err := db.ConnectLocal(cfg)
	if err != nil {
		log.Fatalf("open local store: %v", err)
	}
	defer conn.Close()

	store, err := localstore.New(conn)
	if err != nil {
		log.Fatalf("init local store: %v", err)
	}

	token, err := auth.Sign(cfg.JWTSecret, cfg.DeviceUserID, 24*time.Hour)
	if err != nil {
		log.Fatalf("sign device token: %v", err)
	}

	client := runclient.New(cfg.RemoteBaseURL, token)
	engine := syncengine.NewEngine(store, client, cfg.SyncBatchSize)
	repo := combined.NewRepository(cfg.DeviceUserID, store, client, engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cur, err := repo.Current(ctx); {
	case err == nil && cur.Stale:
		log.Printf("resuming run %d (offline, last known state)", cur.Run.ID)
	case err == nil:
		log.Printf("resuming run %d", cur.Run.ID)
	case errors.Is(err, apperr.ErrNotFound):
		log.Printf("no run in progress")
	default:
		log.Printf("current run lookup failed: %v", err)
	}

	syncLoop(ctx, cfg, store, engine)
}

// syncLoop pushes the local backlog on a fixed interval, backing off
// exponentially while the server is unreachable.
func syncLoop(ctx context.Context, cfg config.Config, store *localstore.Store, engine *syncengine.Engine) {
	interval := time.Duration(cfg.SyncIntervalMS) * time.Millisecond
	delay := interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := syncOnce(ctx, cfg.DeviceUserID, store, engine); err != nil {
			if errors.Is(err, apperr.ErrDisconnected) {
				delay *= 2
				if delay > maxBackoff {
					delay = maxBackoff
				}
				log.Printf("server unreachable, next attempt in %s", delay)
				continue
			}
			log.Printf("sync failed: %v", err)
		}
		delay = interval
	}
}

// syncOnce walks every run that still has a cursor and pushes its
// backlog. Finished runs get the full finish flush so their cursor is
// retired once the server has everything.
func syncOnce(ctx context.Context, userID string, store *localstore.Store, engine *syncengine.Engine) error {
	runs, err := store.AllRuns(ctx, userID)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if !r.Unfinished() {
			if _, ok, err := store.Cursor(ctx, userID, r.ID); err != nil {
				return err
			} else if !ok {
				continue
			}
			if err := engine.FinishSync(ctx, userID, r.ID); err != nil {
				return err
			}
			continue
		}
		if err := engine.EnsureSynced(ctx, userID, r.ID); err != nil {
			return err
		}
	}
	return nil
}
