package tests

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"

	"groupride/internal/app"
	"groupride/internal/domain"
	"groupride/internal/geo"
	"groupride/internal/handler"
	"groupride/internal/location"
	"groupride/internal/middleware"
	"groupride/internal/redis"
	"groupride/internal/service"
	"groupride/internal/store"
	"groupride/internal/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router   *gin.Engine
	rides    *MockRideRepository
	users    *MockUserRepository
	store    *FaultyStore
	notifier *service.Notifier
	tracking *service.TrackingService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := store.NewMemoryStore()
	t.Cleanup(mem.Close)
	st := NewFaultyStore(mem)

	rideRepo := NewMockRideRepository()
	rideRepo.AddRide(newTestRide("ride-1", "rider-1", "rider-2"))
	userRepo := NewMockUserRepository()
	userRepo.AddUser(&domain.User{ID: "rider-1", Name: "Amir", Email: "amir@example.com", Role: domain.UserRoleRider})

	positions := redis.NewLocationStore(client, time.Hour)

	var live *service.LiveUpdates
	hub := stream.NewHub(stream.Hooks{
		OnFirst: func(rideID string) error { return live.Start(rideID) },
		OnLast:  func(rideID string) { live.Stop(rideID) },
	})
	notifications := service.NewNotificationService(hub)
	notifier := service.NewNotifier(st)
	t.Cleanup(notifier.Close)

	users := service.NewUserService(userRepo)
	rides := service.NewRideService(rideRepo, nil, st, notifications, 0).
		WithClock(func() time.Time { return fixedNow })
	checkins := service.NewCheckInService(rides, st)
	tracking := service.NewTrackingService(
		positions,
		func(rideID, riderID string) location.Provider { return positions.Feed(rideID, riderID) },
		rides,
		checkins,
		location.WatchOptions{Accuracy: location.AccuracyHigh},
	)
	t.Cleanup(tracking.Close)
	live = service.NewLiveUpdates(notifier, rides, users, notifications)

	router := app.NewRouter(app.RouterDeps{
		UserHandler:     handler.NewUserHandler(users),
		RideHandler:     handler.NewRideHandler(rides, users),
		CheckInHandler:  handler.NewCheckInHandler(checkins, tracking),
		TrackingHandler: handler.NewTrackingHandler(tracking),
		ProgressHandler: handler.NewProgressHandler(rides, users),
		EventsHandler:   handler.NewEventsHandler(hub, []string{"*"}),
		PositionLimiter: middleware.NewRateLimiter(100, 100, middleware.RiderKey),
	})

	return &apiFixture{
		router:   router,
		rides:    rideRepo,
		users:    userRepo,
		store:    st,
		notifier: notifier,
		tracking: tracking,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func checkInBody(riderID string, p geo.Point) map[string]any {
	return map[string]any{"rider_id": riderID, "latitude": p.Latitude, "longitude": p.Longitude}
}

func TestAPI_CreateAndGetRide(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/rides", handler.CreateRideRequest{
		OrganizerID: "organizer-1",
		Title:       "Bay Loop",
		Date:        "2030-07-01",
		Checkpoints: []handler.CheckpointRequest{
			{Name: "Start", Latitude: startPoint.Latitude, Longitude: startPoint.Longitude},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[handler.RideResponse](t, w)
	if len(created.Checkpoints) != 1 || created.Checkpoints[0].RadiusMeters != domain.DefaultCheckpointRadiusMeters {
		t.Fatalf("unexpected checkpoints: %+v", created.Checkpoints)
	}

	w = f.do(t, http.MethodGet, "/v1/rides/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[handler.RideResponse](t, w); got.Title != "Bay Loop" {
		t.Errorf("expected title Bay Loop, got %q", got.Title)
	}
}

func TestAPI_ErrorCatalogue(t *testing.T) {
	f := newAPIFixture(t)

	testCases := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"unknown ride", http.MethodGet, "/v1/rides/nope", nil, http.StatusNotFound, "RIDE_404"},
		{"invalid ride", http.MethodPost, "/v1/rides", map[string]any{"organizer_id": "o1"}, http.StatusBadRequest, "RIDE_002"},
		{"malformed body", http.MethodPost, "/v1/rides", "not an object", http.StatusBadRequest, "REQ_001"},
		{"position before joining", http.MethodPut, "/v1/rides/ride-1/riders/stranger/position",
			map[string]any{"latitude": startPoint.Latitude, "longitude": startPoint.Longitude}, http.StatusForbidden, "RIDE_403"},
		{"position out of range", http.MethodPut, "/v1/rides/ride-1/riders/rider-1/position",
			map[string]any{"latitude": 95.0, "longitude": 0.0}, http.StatusBadRequest, "RIDE_003"},
		{"nearby unknown checkpoint", http.MethodGet, "/v1/rides/ride-1/checkpoints/cp-x/nearby", nil, http.StatusNotFound, "CHK_404"},
		{"auto check-in without sharing", http.MethodPost, "/v1/rides/ride-1/riders/rider-1/auto-checkin", nil, http.StatusForbidden, "LOC_001"},
		{"bad email", http.MethodPost, "/v1/users/register", map[string]any{"name": "Zoe", "email": "zoe", "role": "rider"}, http.StatusBadRequest, "USER_001"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, tc.method, tc.path, tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
			if got := decode[handler.ErrorResponse](t, w); got.Code != tc.wantCode {
				t.Errorf("expected code %s, got %s", tc.wantCode, got.Code)
			}
		})
	}
}

func TestAPI_CheckIn_AcceptedAndRejected(t *testing.T) {
	f := newAPIFixture(t)
	near := offsetNorth(startPoint, 10)
	far := offsetNorth(startPoint, 1000)

	w := f.do(t, http.MethodPost, "/v1/rides/ride-1/checkpoints/cp-start/checkins",
		checkInBody("rider-1", near))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	accepted := decode[handler.CheckInResponse](t, w)
	if !accepted.Accepted || accepted.CheckIn == nil || accepted.CheckIn.RecordID == "" {
		t.Fatalf("expected stored record, got %+v", accepted)
	}

	testCases := []struct {
		name       string
		path       string
		body       map[string]any
		wantReason service.RejectReason
		wantCode   string
	}{
		{"out of range", "/v1/rides/ride-1/checkpoints/cp-start/checkins",
			checkInBody("rider-1", far), service.RejectOutOfRange, "CHK_004"},
		{"unknown checkpoint", "/v1/rides/ride-1/checkpoints/cp-x/checkins",
			checkInBody("rider-1", near), service.RejectUnknownCheckpoint, "CHK_002"},
		{"unknown ride", "/v1/rides/ride-x/checkpoints/cp-start/checkins",
			checkInBody("rider-1", near), service.RejectMissingRide, "CHK_001"},
		{"missing rider", "/v1/rides/ride-1/checkpoints/cp-start/checkins",
			checkInBody("", near), service.RejectMissingRider, "CHK_001"},
		{"not sharing", "/v1/rides/ride-1/checkpoints/cp-start/checkins",
			map[string]any{"rider_id": "rider-2"}, service.RejectPermissionDenied, "LOC_001"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tc.path, tc.body)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			got := decode[handler.CheckInResponse](t, w)
			if got.Accepted || got.Reason != string(tc.wantReason) || got.Code != tc.wantCode {
				t.Errorf("expected %s/%s, got %+v", tc.wantReason, tc.wantCode, got)
			}
		})
	}

	if n := countRecords(t, f.store, "ride-1", "cp-start"); n != 1 {
		t.Errorf("expected rejections to write nothing, got %d records", n)
	}
}

func TestAPI_CheckIn_AtSharedPosition(t *testing.T) {
	f := newAPIFixture(t)
	near := offsetNorth(middlePoint, 5)

	w := f.do(t, http.MethodPut, "/v1/rides/ride-1/riders/rider-2/position",
		map[string]any{"latitude": near.Latitude, "longitude": near.Longitude})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/v1/rides/ride-1/checkpoints/cp-middle/nearby", nil)
	nearby := decode[[]handler.NearbyRiderResponse](t, w)
	if len(nearby) != 1 || nearby[0].RiderID != "rider-2" {
		t.Fatalf("expected rider-2 near cp-middle, got %+v", nearby)
	}

	w = f.do(t, http.MethodPost, "/v1/rides/ride-1/checkpoints/cp-middle/checkins", map[string]any{"rider_id": "rider-2"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodDelete, "/v1/rides/ride-1/riders/rider-2/position", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/v1/rides/ride-1/checkpoints/cp-middle/checkins", map[string]any{"rider_id": "rider-2"})
	if got := decode[handler.CheckInResponse](t, w); got.Accepted || got.Code != "LOC_001" {
		t.Errorf("expected permission rejection after sharing stopped, got %+v", got)
	}
}

func TestAPI_CheckIn_StoreUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	f.store.FailWrites(errors.New("connection refused"))
	near := offsetNorth(startPoint, 10)

	w := f.do(t, http.MethodPost, "/v1/rides/ride-1/checkpoints/cp-start/checkins",
		checkInBody("rider-1", near))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[handler.ErrorResponse](t, w); got.Code != "NET_001" {
		t.Errorf("expected NET_001, got %s", got.Code)
	}
}

func TestAPI_JoinAndProgress(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/rides/ride-1/join", handler.JoinRideRequest{RiderID: "rider-3"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[handler.JoinRideResponse](t, w); !got.Joined || len(got.Ride.Riders) != 3 {
		t.Fatalf("expected rider-3 enrolled, got %+v", got)
	}
	w = f.do(t, http.MethodPost, "/v1/rides/ride-1/join", handler.JoinRideRequest{RiderID: "rider-3"})
	if got := decode[handler.JoinRideResponse](t, w); got.Joined {
		t.Error("expected second join to report no change")
	}

	w = f.do(t, http.MethodPost, "/v1/rides/ride-1/checkpoints/cp-start/checkins", checkInBody("rider-1", startPoint))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	time.Sleep(2 * time.Millisecond)
	w = f.do(t, http.MethodPost, "/v1/rides/ride-1/checkpoints/cp-middle/checkins", checkInBody("rider-1", middlePoint))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/v1/rides/ride-1/progress", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	progress := decode[handler.ProgressResponse](t, w)
	if len(progress.Riders) != 3 {
		t.Fatalf("expected 3 rows, got %+v", progress.Riders)
	}
	if progress.Riders[0].RiderName != "Amir" || progress.Riders[0].Percent != 67 {
		t.Errorf("expected Amir at 67%%, got %+v", progress.Riders[0])
	}
	if progress.Latest == nil || progress.Latest.Message != "Amir checked in at Middle" {
		t.Errorf("unexpected latest: %+v", progress.Latest)
	}
	if progress.Checkpoints[0].CheckedIn != 1 || progress.Checkpoints[2].CheckedIn != 0 {
		t.Errorf("unexpected tally: %+v", progress.Checkpoints)
	}
}

func TestAPI_RegisterUser(t *testing.T) {
	f := newAPIFixture(t)

	body := map[string]any{"name": "Zoe", "email": "Zoe@Example.com", "role": "organizer"}
	w := f.do(t, http.MethodPost, "/v1/users/register", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[handler.UserResponse](t, w); got.Email != "zoe@example.com" {
		t.Errorf("expected normalized email, got %q", got.Email)
	}

	w = f.do(t, http.MethodPost, "/v1/users/register", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func checkInNear(t *testing.T, f *apiFixture) {
	t.Helper()
	near := offsetNorth(startPoint, 10)
	w := f.do(t, http.MethodPost, "/v1/rides/ride-1/checkpoints/cp-start/checkins",
		checkInBody("rider-1", near))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAPI_EventStream_DeliversLatestCheckIn(t *testing.T) {
	f := newAPIFixture(t)
	checkInNear(t, f)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/rides/ride-1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	found := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var n service.Notification
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &n); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		if n.Type != service.NotificationCheckIn || n.Message != "Amir checked in at Start" {
			t.Fatalf("unexpected notification: %+v", n)
		}
		found = true
		break
	}
	if !found {
		t.Fatal("stream ended without a check-in event")
	}
	if !f.notifier.Subscribed("ride-1") {
		t.Error("expected the ride to be subscribed while a client listens")
	}
}

func TestAPI_EventStream_UnknownRide(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/v1/rides/ride-x/events", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if f.notifier.Subscribed("ride-x") {
		t.Error("expected no subscription for an unknown ride")
	}
}

func TestAPI_Websocket_DeliversAndReleases(t *testing.T) {
	f := newAPIFixture(t)
	checkInNear(t, f)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/rides/ride-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var n service.Notification
	if err := json.Unmarshal(msg, &n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Message != "Amir checked in at Start" {
		t.Errorf("unexpected message %q", n.Message)
	}

	_ = conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for f.notifier.Subscribed("ride-1") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if f.notifier.Subscribed("ride-1") {
		t.Error("expected the subscription to end with the last client")
	}
}
