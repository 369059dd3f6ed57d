package event

import (
	"context"
	"encoding/json"
	"errors"

	"backend-teamrun/internal/apperr"
	"backend-teamrun/internal/db"
	"backend-teamrun/internal/shared/geo"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Event is a virtual race course: the waypoint polyline runs are measured
// against, the target distance, and the lateral tolerance beyond which a
// participant is disqualified. A nil tolerance disables disqualification.
type Event struct {
	ID        string       `json:"id"`
	Waypoints []geo.LatLng `json:"waypoints"`
	DistanceM float64      `json:"distance_m"`
	Tolerance *float64     `json:"tolerance,omitempty"`
	Followers []string     `json:"followers,omitempty"`
}

// Service stores course definitions. Event naming, descriptions and
// images live in a separate system; only what ranking needs is here.
type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) Create(ctx context.Context, input Event) (Event, error) {
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	waypoints, err := json.Marshal(input.Waypoints)
	if err != nil {
		return Event{}, err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO events (id, waypoints, distance_m, tolerance)
		VALUES ($1,$2,$3,$4)
	`, input.ID, waypoints, input.DistanceM, input.Tolerance)
	if err != nil {
		return Event{}, err
	}
	return input, nil
}

func (s *Service) Get(ctx context.Context, id string) (Event, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, waypoints, distance_m, tolerance FROM events WHERE id=$1
	`, id)

	var ev Event
	var waypoints []byte
	if err := row.Scan(&ev.ID, &waypoints, &ev.DistanceM, &ev.Tolerance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, apperr.NotFoundf("event %s", id)
		}
		return Event{}, err
	}
	if err := json.Unmarshal(waypoints, &ev.Waypoints); err != nil {
		return Event{}, err
	}

	followers, err := s.followers(ctx, id)
	if err != nil {
		return Event{}, err
	}
	ev.Followers = followers
	return ev, nil
}

func (s *Service) Follow(ctx context.Context, eventID, userID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO event_followers (event_id, user_id) VALUES ($1,$2)
		ON CONFLICT (event_id, user_id) DO NOTHING
	`, eventID, userID)
	return err
}

func (s *Service) Unfollow(ctx context.Context, eventID, userID string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM event_followers WHERE event_id=$1 AND user_id=$2
	`, eventID, userID)
	return err
}

func (s *Service) followers(ctx context.Context, eventID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id FROM event_followers WHERE event_id=$1 ORDER BY user_id
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followers []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		followers = append(followers, u)
	}
	return followers, rows.Err()
}
