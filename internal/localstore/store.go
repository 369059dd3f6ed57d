package localstore

import (
	"context"
	"database/sql"
	"errors"

	"backend-teamrun/internal/apperr"
	"backend-teamrun/internal/run"
)

// Store is the durable device-side copy of runs, path points and sync
// cursors. It owns the data for the lifetime of the app installation;
// the server copy is authoritative for the lifetime of the account.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	user_id TEXT NOT NULL,
	id INTEGER NOT NULL,
	event_id TEXT,
	room_id TEXT,
	start_ms INTEGER,
	running_ms INTEGER NOT NULL DEFAULT 0,
	end_ms INTEGER,
	paused INTEGER NOT NULL DEFAULT 0,
	cur REAL,
	penalty REAL,
	PRIMARY KEY (user_id, id)
);
CREATE TABLE IF NOT EXISTS points (
	user_id TEXT NOT NULL,
	run_id INTEGER NOT NULL,
	time_ms INTEGER NOT NULL,
	lat REAL NOT NULL,
	lng REAL NOT NULL,
	alt REAL NOT NULL DEFAULT 0,
	ended INTEGER NOT NULL DEFAULT 0,
	speed REAL NOT NULL DEFAULT 0,
	distance REAL NOT NULL DEFAULT 0,
	kcal REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, run_id, time_ms)
);
CREATE TABLE IF NOT EXISTS sync_cursors (
	user_id TEXT NOT NULL,
	run_id INTEGER NOT NULL,
	since_ms INTEGER,
	PRIMARY KEY (user_id, run_id)
);
`

func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, apperr.Fatalf("init local schema: %v", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveRun(ctx context.Context, r run.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (user_id, id, event_id, room_id, start_ms, running_ms, end_ms, paused, cur, penalty)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (user_id, id) DO UPDATE SET
			event_id=excluded.event_id, room_id=excluded.room_id,
			start_ms=excluded.start_ms, running_ms=excluded.running_ms,
			end_ms=excluded.end_ms, paused=excluded.paused,
			cur=excluded.cur, penalty=excluded.penalty
	`, r.UserID, r.ID, r.EventID, r.RoomID, r.Start, r.Running, r.End, r.Paused, r.Cur, r.Penalty)
	return err
}

func (s *Store) GetRun(ctx context.Context, userID string, id int64) (run.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, id, event_id, room_id, start_ms, running_ms, end_ms, paused, cur, penalty
		FROM runs WHERE user_id=? AND id=?
	`, userID, id)
	var r run.Run
	err := row.Scan(&r.UserID, &r.ID, &r.EventID, &r.RoomID, &r.Start, &r.Running, &r.End, &r.Paused, &r.Cur, &r.Penalty)
	if errors.Is(err, sql.ErrNoRows) {
		return run.Run{}, apperr.NotFoundf("local run %d", id)
	}
	if err != nil {
		return run.Run{}, err
	}
	last, err := s.LastPoint(ctx, userID, id)
	if err == nil && last != nil {
		r.Location = last
	}
	return r, err
}

func (s *Store) UnfinishedRuns(ctx context.Context, userID string) ([]run.Run, error) {
	return s.listRuns(ctx, `
		SELECT user_id, id, event_id, room_id, start_ms, running_ms, end_ms, paused, cur, penalty
		FROM runs WHERE user_id=? AND end_ms IS NULL
		ORDER BY id
	`, userID)
}

func (s *Store) AllRuns(ctx context.Context, userID string) ([]run.Run, error) {
	return s.listRuns(ctx, `
		SELECT user_id, id, event_id, room_id, start_ms, running_ms, end_ms, paused, cur, penalty
		FROM runs WHERE user_id=?
		ORDER BY id
	`, userID)
}

func (s *Store) listRuns(ctx context.Context, query string, args ...any) ([]run.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		var r run.Run
		if err := rows.Scan(&r.UserID, &r.ID, &r.EventID, &r.RoomID, &r.Start, &r.Running, &r.End, &r.Paused, &r.Cur, &r.Penalty); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(ctx context.Context, userID string, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM points WHERE user_id=? AND run_id=?`, userID, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_cursors WHERE user_id=? AND run_id=?`, userID, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE user_id=? AND id=?`, userID, id)
	return err
}

// AppendPoint writes one sample. The (user, run, time) key makes replays
// from a crashed capture loop harmless.
func (s *Store) AppendPoint(ctx context.Context, userID string, runID int64, p run.PathPoint) error {
	if err := run.ValidatePoint(p); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO points (user_id, run_id, time_ms, lat, lng, alt, ended, speed, distance, kcal)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, userID, runID, p.Time, p.Lat, p.Lng, p.Alt, p.End, p.Speed, p.Distance, p.Kcal)
	return err
}

// PointsAfter returns up to limit points with time strictly greater than
// since, oldest first. limit <= 0 means no limit.
func (s *Store) PointsAfter(ctx context.Context, userID string, runID int64, since int64, limit int) ([]run.PathPoint, error) {
	query := `
		SELECT time_ms, lat, lng, alt, ended, speed, distance, kcal
		FROM points WHERE user_id=? AND run_id=? AND time_ms > ?
		ORDER BY time_ms`
	args := []any{userID, runID, since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []run.PathPoint
	for rows.Next() {
		var p run.PathPoint
		if err := rows.Scan(&p.Time, &p.Lat, &p.Lng, &p.Alt, &p.End, &p.Speed, &p.Distance, &p.Kcal); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Store) LastPoint(ctx context.Context, userID string, runID int64) (*run.PathPoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT time_ms, lat, lng, alt, ended, speed, distance, kcal
		FROM points WHERE user_id=? AND run_id=?
		ORDER BY time_ms DESC LIMIT 1
	`, userID, runID)
	var p run.PathPoint
	err := row.Scan(&p.Time, &p.Lat, &p.Lng, &p.Alt, &p.End, &p.Speed, &p.Distance, &p.Kcal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Cursor returns the sync cursor for (user, run). ok reports whether the
// cursor row exists at all; a nil since with ok=true means the run has not
// been created on the server yet.
func (s *Store) Cursor(ctx context.Context, userID string, runID int64) (since *int64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT since_ms FROM sync_cursors WHERE user_id=? AND run_id=?
	`, userID, runID)
	err = row.Scan(&since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return since, true, nil
}

func (s *Store) PutCursor(ctx context.Context, userID string, runID int64, since *int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (user_id, run_id, since_ms) VALUES (?,?,?)
		ON CONFLICT (user_id, run_id) DO UPDATE SET since_ms=excluded.since_ms
	`, userID, runID, since)
	return err
}

func (s *Store) DeleteCursor(ctx context.Context, userID string, runID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_cursors WHERE user_id=? AND run_id=?`, userID, runID)
	return err
}
