package ranking

import (
	"context"
	"sort"

	"backend-teamrun/internal/event"
	"backend-teamrun/internal/run"
	"backend-teamrun/internal/shared/geo"
)

// RunSource supplies the runs a ranking is computed from, path included.
type RunSource interface {
	ByEvent(ctx context.Context, eventID string) ([]run.Run, error)
	ByRoom(ctx context.Context, roomID string) ([]run.Run, error)
}

// CourseSource supplies the course a run is measured against.
type CourseSource interface {
	Get(ctx context.Context, eventID string) (event.Event, error)
}

// Entry is one participant's place in a ranking.
type Entry struct {
	UserID       string  `json:"user_id"`
	RunID        int64   `json:"run_id"`
	Finished     bool    `json:"finished"`
	TimeMS       *int64  `json:"time_ms,omitempty"`
	DistanceM    float64 `json:"distance_m"`
	Disqualified bool    `json:"disqualified"`
}

// Service computes rankings on demand. Finished participants order by
// elapsed time plus penalty, ascending; unfinished ones follow, by
// distance covered descending; disqualified participants always rank
// last, flagged but never removed. Disqualification is a property of the
// recorded path: one sample beyond the course tolerance is permanent.
type Service struct {
	runs     RunSource
	courses  CourseSource
	notifier *Notifier
}

func NewService(runs RunSource, courses CourseSource, notifier *Notifier) *Service {
	return &Service{runs: runs, courses: courses, notifier: notifier}
}

func (s *Service) Notifier() *Notifier {
	return s.notifier
}

// Rank returns the event's current ranking snapshot.
func (s *Service) Rank(ctx context.Context, eventID string) ([]Entry, error) {
	ev, err := s.courses.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	participants, err := s.runs.ByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return rank(participants, ev.Waypoints, ev.Tolerance), nil
}

// RankRoom ranks a room race. If the room's runs reference an event the
// course tolerance applies; a free room race has no disqualification.
func (s *Service) RankRoom(ctx context.Context, roomID string) ([]Entry, error) {
	participants, err := s.runs.ByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	var waypoints []geo.LatLng
	var tolerance *float64
	for _, p := range participants {
		if p.EventID == nil {
			continue
		}
		ev, err := s.courses.Get(ctx, *p.EventID)
		if err != nil {
			return nil, err
		}
		waypoints, tolerance = ev.Waypoints, ev.Tolerance
		break
	}
	return rank(participants, waypoints, tolerance), nil
}

func rank(participants []run.Run, waypoints []geo.LatLng, tolerance *float64) []Entry {
	entries := make([]Entry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, entry(p, waypoints, tolerance))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Disqualified != b.Disqualified {
			return !a.Disqualified
		}
		if a.Finished != b.Finished {
			return a.Finished
		}
		if a.Finished {
			return *a.TimeMS < *b.TimeMS
		}
		return a.DistanceM > b.DistanceM
	})
	return entries
}

func entry(p run.Run, waypoints []geo.LatLng, tolerance *float64) Entry {
	e := Entry{
		UserID:       p.UserID,
		RunID:        p.ID,
		Finished:     !p.Unfinished(),
		Disqualified: disqualified(p.Path, waypoints, tolerance),
	}

	if last := lastPoint(p); last != nil {
		e.DistanceM = last.Distance
	} else if p.Cur != nil {
		e.DistanceM = *p.Cur
	}

	if e.Finished && p.Start != nil {
		elapsed := *p.End - *p.Start
		if p.Penalty != nil {
			elapsed += int64(*p.Penalty)
		}
		e.TimeMS = &elapsed
	}
	return e
}

func disqualified(path []run.PathPoint, waypoints []geo.LatLng, tolerance *float64) bool {
	if tolerance == nil || len(waypoints) == 0 {
		return false
	}
	for _, p := range path {
		if geo.DeviationM(geo.LatLng{Lat: p.Lat, Lng: p.Lng}, waypoints) > *tolerance {
			return true
		}
	}
	return false
}

func lastPoint(p run.Run) *run.PathPoint {
	if len(p.Path) > 0 {
		last := p.Path[len(p.Path)-1]
		return &last
	}
	return p.Location
}
