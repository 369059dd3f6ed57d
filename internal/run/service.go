package run

import (
	"context"
	"encoding/json"
	"errors"

	"backend-teamrun/internal/apperr"
	"backend-teamrun/internal/db"
	"backend-teamrun/internal/observability"
	"backend-teamrun/internal/stream"

	"github.com/jackc/pgx/v5"
)

// Notifier wakes ranking subscribers after a ranking-affecting change.
type Notifier interface {
	Notify(key string)
}

// Service is the authoritative server-side store for runs and their path
// points, scoped per user. Point inserts dedup on (user_id, run_id, time)
// so a device retrying a push after a lost ack never duplicates data.
type Service struct {
	db       db.Querier
	hub      *stream.Hub
	notifier Notifier
}

func NewService(db db.Querier, hub *stream.Hub, notifier Notifier) *Service {
	return &Service{db: db, hub: hub, notifier: notifier}
}

// Create inserts the run if absent. The id is client-assigned, so a retry
// of a create that was acknowledged but not observed is a no-op.
func (s *Service) Create(ctx context.Context, input Run) (Run, error) {
	if err := ValidateRun(input); err != nil {
		return Run{}, err
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO runs (id, user_id, event_id, room_id, start_ms, running_ms, end_ms, paused, cur, penalty)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (user_id, id) DO NOTHING
	`, input.ID, input.UserID, input.EventID, input.RoomID, input.Start, input.Running, input.End, input.Paused, input.Cur, input.Penalty)
	if err != nil {
		return Run{}, err
	}
	return s.Get(ctx, input.UserID, input.ID)
}

// Update applies a metadata upsert plus a batch of points in one call.
// The batch is atomic from the device's point of view: either every point
// is durable when the call returns, or the device must not move its cursor.
func (s *Service) Update(ctx context.Context, input Run) (Run, error) {
	if err := ValidateRun(input); err != nil {
		return Run{}, err
	}
	for _, p := range input.Path {
		if err := ValidatePoint(p); err != nil {
			return Run{}, err
		}
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE runs
		SET event_id=$3, room_id=$4, start_ms=$5, running_ms=$6, end_ms=$7, paused=$8, cur=$9, penalty=$10
		WHERE user_id=$1 AND id=$2
	`, input.UserID, input.ID, input.EventID, input.RoomID, input.Start, input.Running, input.End, input.Paused, input.Cur, input.Penalty)
	if err != nil {
		return Run{}, err
	}
	if tag.RowsAffected() == 0 {
		return Run{}, apperr.NotFoundf("run %d for user %s", input.ID, input.UserID)
	}

	for _, p := range input.Path {
		_, err := s.db.Exec(ctx, `
			INSERT INTO run_points (user_id, run_id, time_ms, lat, lng, alt, ended, speed, distance, kcal)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (user_id, run_id, time_ms) DO NOTHING
		`, input.UserID, input.ID, p.Time, p.Lat, p.Lng, p.Alt, p.End, p.Speed, p.Distance, p.Kcal)
		if err != nil {
			return Run{}, err
		}
	}
	if n := len(input.Path); n > 0 {
		observability.SyncPointsTotal.Add(float64(n))
	}

	updated, err := s.Get(ctx, input.UserID, input.ID)
	if err != nil {
		return Run{}, err
	}

	s.changed(updated)
	return updated, nil
}

// changed fans a ranking-affecting update out to the hub and the ranking
// notifier. Best effort: delivery failures never fail the write.
func (s *Service) changed(r Run) {
	if s.hub != nil {
		payload, _ := json.Marshal(r)
		s.hub.Broadcast(stream.RunTopic(r.UserID, r.ID), payload)
	}
	if s.notifier == nil {
		return
	}
	if r.EventID != nil {
		s.notifier.Notify("event:" + *r.EventID)
	}
	if r.RoomID != nil {
		s.notifier.Notify("room:" + *r.RoomID)
	}
}

// Get returns the run with its latest point as Location, without the path.
func (s *Service) Get(ctx context.Context, userID string, id int64) (Run, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, event_id, room_id, start_ms, running_ms, end_ms, paused, cur, penalty
		FROM runs WHERE user_id=$1 AND id=$2
	`, userID, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, apperr.NotFoundf("run %d for user %s", id, userID)
		}
		return Run{}, err
	}

	last, err := s.lastPoint(ctx, userID, id)
	if err != nil {
		return Run{}, err
	}
	r.Location = last
	return r, nil
}

// GetUpdate returns points with time strictly greater than since, in
// timestamp order. since is the caller's cursor: exclusive below.
func (s *Service) GetUpdate(ctx context.Context, userID string, runID int64, since int64) ([]PathPoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT time_ms, lat, lng, alt, ended, speed, distance, kcal
		FROM run_points
		WHERE user_id=$1 AND run_id=$2 AND time_ms > $3
		ORDER BY time_ms
	`, userID, runID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPoints(rows)
}

func (s *Service) All(ctx context.Context, userID string) ([]Run, error) {
	return s.list(ctx, `
		SELECT id, user_id, event_id, room_id, start_ms, running_ms, end_ms, paused, cur, penalty
		FROM runs WHERE user_id=$1
		ORDER BY id
	`, userID)
}

// Since returns the user's runs started at or after ts, plus any run that
// has not finished yet regardless of age.
func (s *Service) Since(ctx context.Context, userID string, ts int64) ([]Run, error) {
	return s.list(ctx, `
		SELECT id, user_id, event_id, room_id, start_ms, running_ms, end_ms, paused, cur, penalty
		FROM runs WHERE user_id=$1 AND (start_ms >= $2 OR end_ms IS NULL)
		ORDER BY id
	`, userID, ts)
}

func (s *Service) Unfinished(ctx context.Context, userID string) ([]Run, error) {
	return s.list(ctx, `
		SELECT id, user_id, event_id, room_id, start_ms, running_ms, end_ms, paused, cur, penalty
		FROM runs WHERE user_id=$1 AND end_ms IS NULL
		ORDER BY id
	`, userID)
}

func (s *Service) Delete(ctx context.Context, userID string, id int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM run_points WHERE user_id=$1 AND run_id=$2`, userID, id); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM runs WHERE user_id=$1 AND id=$2`, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("run %d for user %s", id, userID)
	}
	return nil
}

// ByEvent returns every run attached to the event, path included, for
// ranking computation.
func (s *Service) ByEvent(ctx context.Context, eventID string) ([]Run, error) {
	return s.listWithPaths(ctx, `
		SELECT id, user_id, event_id, room_id, start_ms, running_ms, end_ms, paused, cur, penalty
		FROM runs WHERE event_id=$1
		ORDER BY user_id, id
	`, eventID)
}

// ByRoom is ByEvent for room-scoped races.
func (s *Service) ByRoom(ctx context.Context, roomID string) ([]Run, error) {
	return s.listWithPaths(ctx, `
		SELECT id, user_id, event_id, room_id, start_ms, running_ms, end_ms, paused, cur, penalty
		FROM runs WHERE room_id=$1
		ORDER BY user_id, id
	`, roomID)
}

func (s *Service) list(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Service) listWithPaths(ctx context.Context, query string, args ...any) ([]Run, error) {
	runs, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		path, err := s.GetUpdate(ctx, runs[i].UserID, runs[i].ID, 0)
		if err != nil {
			return nil, err
		}
		runs[i].Path = path
		if len(path) > 0 {
			last := path[len(path)-1]
			runs[i].Location = &last
		}
	}
	return runs, nil
}

func (s *Service) lastPoint(ctx context.Context, userID string, runID int64) (*PathPoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT time_ms, lat, lng, alt, ended, speed, distance, kcal
		FROM run_points
		WHERE user_id=$1 AND run_id=$2
		ORDER BY time_ms DESC
		LIMIT 1
	`, userID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	points, err := scanPoints(rows)
	if err != nil || len(points) == 0 {
		return nil, err
	}
	return &points[0], nil
}

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.UserID, &r.EventID, &r.RoomID, &r.Start, &r.Running, &r.End, &r.Paused, &r.Cur, &r.Penalty)
	return r, err
}

func scanPoints(rows pgx.Rows) ([]PathPoint, error) {
	var points []PathPoint
	for rows.Next() {
		var p PathPoint
		if err := rows.Scan(&p.Time, &p.Lat, &p.Lng, &p.Alt, &p.End, &p.Speed, &p.Distance, &p.Kcal); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
