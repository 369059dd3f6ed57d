package run

import (
	"math"

	"backend-teamrun/internal/apperr"
)

// PathPoint is one position/metric sample within a run. Immutable once
// written; ordered by Time within a run. End marks a pause/stop boundary.
type PathPoint struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Alt      float64 `json:"alt"`
	Time     int64   `json:"time"`
	End      bool    `json:"end"`
	Speed    float64 `json:"speed"`
	Distance float64 `json:"distance"`
	Kcal     float64 `json:"kcal"`
}

// Run is one running session. ID is client-assigned and unique per user.
// Start/End are milliseconds since epoch; End set implies Start set, and a
// run is unfinished iff End is nil. Location mirrors the newest path point
// for quick status reads; Path is authoritative on the server and partial
// on the device until synced.
type Run struct {
	ID       int64       `json:"id"`
	UserID   string      `json:"user_id"`
	EventID  *string     `json:"event_id,omitempty"`
	RoomID   *string     `json:"room_id,omitempty"`
	Start    *int64      `json:"start,omitempty"`
	Running  int64       `json:"running"`
	End      *int64      `json:"end,omitempty"`
	Paused   bool        `json:"paused"`
	Cur      *float64    `json:"cur,omitempty"`
	Penalty  *float64    `json:"penalty,omitempty"`
	Location *PathPoint  `json:"location,omitempty"`
	Path     []PathPoint `json:"path,omitempty"`
}

func (r Run) Unfinished() bool {
	return r.End == nil
}

func ValidatePoint(p PathPoint) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return apperr.Validationf("point out of range (%v, %v)", p.Lat, p.Lng)
	}
	if p.Time <= 0 {
		return apperr.Validationf("point time %d", p.Time)
	}
	return nil
}

func ValidateRun(r Run) error {
	if r.ID <= 0 {
		return apperr.Validationf("run id %d", r.ID)
	}
	if r.End != nil && r.Start == nil {
		return apperr.Validationf("run %d ended without start", r.ID)
	}
	return nil
}
