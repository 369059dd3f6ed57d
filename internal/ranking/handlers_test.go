package ranking

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-teamrun/internal/event"
	"backend-teamrun/internal/run"
	"backend-teamrun/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
)

func pass(c *fiber.Ctx) error { return c.Next() }

func rankingApp(svc *Service, wait time.Duration) *fiber.App {
	app := fiber.New()
	RegisterEventRoutes(app.Group("/event"), svc, wait, pass)
	RegisterRoomRoutes(app.Group("/room"), svc, wait, pass)
	return app
}

func TestRankingSnapshotHandler(t *testing.T) {
	runs := &fakeRuns{byEvent: map[string][]run.Run{
		"evt-1": {finished("alice", 1, 1000, 61000, nil), inProgress("bob", 2, 400)},
	}}
	courses := &fakeCourses{events: map[string]event.Event{
		"evt-1": {ID: "evt-1", Waypoints: []geo.LatLng{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}}},
	}}
	app := rankingApp(newTestService(runs, courses), time.Second)

	req := httptest.NewRequest(http.MethodGet, "/event/ranking/evt-1", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("ranking status: %d %v", resp.StatusCode, err)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 || entries[0].UserID != "alice" || !entries[0].Finished {
		t.Fatalf("unexpected ranking: %+v", entries)
	}
}

func TestRankingUnknownEventHandler(t *testing.T) {
	app := rankingApp(newTestService(&fakeRuns{}, &fakeCourses{}), time.Second)

	req := httptest.NewRequest(http.MethodGet, "/event/ranking/nope", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", resp.StatusCode)
	}
}

func TestSubscribeTimesOutUnchanged(t *testing.T) {
	runs := &fakeRuns{byEvent: map[string][]run.Run{"evt-1": {}}}
	courses := &fakeCourses{events: map[string]event.Event{"evt-1": {ID: "evt-1"}}}
	app := rankingApp(newTestService(runs, courses), 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/event/rankingsubscribe/evt-1", nil)
	resp, err := app.Test(req, 2000)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("subscribe status: %d %v", resp.StatusCode, err)
	}

	var body struct {
		Changed bool    `json:"changed"`
		Ranking []Entry `json:"ranking"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Changed {
		t.Fatalf("expected unchanged on timeout")
	}
}

func TestSubscribeWakesOnNotify(t *testing.T) {
	runs := &fakeRuns{byEvent: map[string][]run.Run{"evt-1": {inProgress("bob", 2, 400)}}}
	courses := &fakeCourses{events: map[string]event.Event{"evt-1": {ID: "evt-1"}}}
	svc := newTestService(runs, courses)
	app := rankingApp(svc, 5*time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		svc.Notifier().Notify("event:evt-1")
	}()

	start := time.Now()
	req := httptest.NewRequest(http.MethodGet, "/event/rankingsubscribe/evt-1", nil)
	resp, err := app.Test(req, 10000)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("subscribe status: %d %v", resp.StatusCode, err)
	}
	if time.Since(start) >= 5*time.Second {
		t.Fatalf("subscribe did not wake early")
	}

	var body struct {
		Changed bool    `json:"changed"`
		Ranking []Entry `json:"ranking"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Changed || len(body.Ranking) != 1 {
		t.Fatalf("expected changed ranking, got %+v", body)
	}
}

func TestRoomRankingHandler(t *testing.T) {
	runs := &fakeRuns{byRoom: map[string][]run.Run{
		"room-1": {inProgress("alice", 1, 900), inProgress("bob", 2, 400)},
	}}
	app := rankingApp(newTestService(runs, &fakeCourses{}), time.Second)

	req := httptest.NewRequest(http.MethodGet, "/room/ranking/room-1", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("room ranking status: %d %v", resp.StatusCode, err)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 || entries[0].UserID != "alice" {
		t.Fatalf("expected distance ordering, got %+v", entries)
	}
}
