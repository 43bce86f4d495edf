package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"groupride/internal/geo"
	"groupride/internal/location"
	"groupride/internal/service"
	"groupride/internal/store"
)

func newCheckInFixture(t *testing.T) (*service.CheckInService, *store.MemoryStore, *MockRideRepository) {
	t.Helper()
	rideRepo := NewMockRideRepository()
	rideRepo.AddRide(newTestRide("ride-1", "rider-1", "rider-2"))
	st := store.NewMemoryStore()
	t.Cleanup(st.Close)

	rides := service.NewRideService(rideRepo, nil, st, nil, 0)
	checkins := service.NewCheckInService(rides, st).
		WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) })
	return checkins, st, rideRepo
}

func countRecords(t *testing.T, st store.Store, rideID, checkpointID string) int {
	t.Helper()
	snap, err := st.Get(context.Background(), service.CheckInsPath(rideID, checkpointID))
	if err != nil {
		t.Fatalf("get check-ins: %v", err)
	}
	records, _ := snap.Value.(map[string]any)
	return len(records)
}

func TestCheckIn_FarFromCheckpoint_IsRejected(t *testing.T) {
	t.Parallel()

	checkins, st, _ := newCheckInFixture(t)
	pos := offsetNorth(startPoint, 1000)

	result, err := checkins.Submit(context.Background(), service.SubmitCheckInRequest{
		RideID:       "ride-1",
		CheckpointID: "cp-start",
		RiderID:      "rider-1",
		Position:     &pos,
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if result.Accepted {
		t.Fatal("expected check-in 1000 m away to be rejected")
	}
	if result.Reason != service.RejectOutOfRange {
		t.Errorf("expected reason %s, got %s", service.RejectOutOfRange, result.Reason)
	}
	if result.DistanceMeters < 990 || result.DistanceMeters > 1010 {
		t.Errorf("expected distance near 1000 m, got %.1f", result.DistanceMeters)
	}
	if n := countRecords(t, st, "ride-1", "cp-start"); n != 0 {
		t.Errorf("expected no records written, got %d", n)
	}
}

func TestCheckIn_InsideRadius_AppendsOneRecord(t *testing.T) {
	t.Parallel()

	checkins, st, _ := newCheckInFixture(t)
	pos := offsetNorth(startPoint, 10)

	result, err := checkins.Submit(context.Background(), service.SubmitCheckInRequest{
		RideID:       "ride-1",
		CheckpointID: "cp-start",
		RiderID:      "rider-1",
		Position:     &pos,
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !result.Accepted || result.RecordID == "" {
		t.Fatalf("expected accepted check-in with record id, got %+v", result)
	}

	snap, err := st.Get(context.Background(), service.CheckInsPath("ride-1", "cp-start"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	records := snap.Value.(map[string]any)
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records))
	}
	rec := records[result.RecordID].(map[string]any)
	if rec["riderId"] != "rider-1" {
		t.Errorf("expected riderId rider-1, got %v", rec["riderId"])
	}
	if rec["checkpointId"] != "cp-start" {
		t.Errorf("expected checkpointId cp-start, got %v", rec["checkpointId"])
	}
	if rec["timestamp"] != float64(1_700_000_000_000) {
		t.Errorf("expected timestamp from clock, got %v", rec["timestamp"])
	}
	loc := rec["location"].(map[string]any)
	if loc["latitude"] != pos.Latitude || loc["longitude"] != pos.Longitude {
		t.Errorf("expected supplied location, got %v", loc)
	}
}

func TestCheckIn_Rejections(t *testing.T) {
	t.Parallel()

	near := offsetNorth(startPoint, 5)

	testCases := []struct {
		name string
		req  service.SubmitCheckInRequest
		want service.RejectReason
	}{
		{
			name: "missing rider",
			req:  service.SubmitCheckInRequest{RideID: "ride-1", CheckpointID: "cp-start", Position: &near},
			want: service.RejectMissingRider,
		},
		{
			name: "missing checkpoint",
			req:  service.SubmitCheckInRequest{RideID: "ride-1", RiderID: "rider-1", Position: &near},
			want: service.RejectMissingCheckpoint,
		},
		{
			name: "missing ride",
			req:  service.SubmitCheckInRequest{CheckpointID: "cp-start", RiderID: "rider-1", Position: &near},
			want: service.RejectMissingRide,
		},
		{
			name: "unknown ride",
			req:  service.SubmitCheckInRequest{RideID: "ride-404", CheckpointID: "cp-start", RiderID: "rider-1", Position: &near},
			want: service.RejectMissingRide,
		},
		{
			name: "checkpoint of another ride",
			req:  service.SubmitCheckInRequest{RideID: "ride-1", CheckpointID: "cp-elsewhere", RiderID: "rider-1", Position: &near},
			want: service.RejectUnknownCheckpoint,
		},
		{
			name: "no position sample",
			req:  service.SubmitCheckInRequest{RideID: "ride-1", CheckpointID: "cp-start", RiderID: "rider-1"},
			want: service.RejectNoPosition,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			checkins, st, _ := newCheckInFixture(t)
			result, err := checkins.Submit(context.Background(), tc.req)
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if result.Accepted {
				t.Fatal("expected rejection")
			}
			if result.Reason != tc.want {
				t.Errorf("expected reason %s, got %s", tc.want, result.Reason)
			}
			if n := countRecords(t, st, "ride-1", "cp-start"); n != 0 {
				t.Errorf("expected no records, got %d", n)
			}
		})
	}
}

func TestCheckIn_DuplicatesAreAppended(t *testing.T) {
	t.Parallel()

	checkins, st, _ := newCheckInFixture(t)
	pos := offsetNorth(middlePoint, 20)

	for i := 0; i < 2; i++ {
		result, err := checkins.Submit(context.Background(), service.SubmitCheckInRequest{
			RideID:       "ride-1",
			CheckpointID: "cp-middle",
			RiderID:      "rider-2",
			Position:     &pos,
		})
		if err != nil || !result.Accepted {
			t.Fatalf("submit %d: result=%+v err=%v", i, result, err)
		}
	}

	if n := countRecords(t, st, "ride-1", "cp-middle"); n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}
}

func TestCheckIn_StoreFailure_ReturnsStoreUnavailable(t *testing.T) {
	t.Parallel()

	rideRepo := NewMockRideRepository()
	rideRepo.AddRide(newTestRide("ride-1", "rider-1"))
	faulty := NewFaultyStore(store.NewMemoryStore())
	faulty.FailWrites(errors.New("connection reset"))

	rides := service.NewRideService(rideRepo, nil, faulty, nil, 0)
	checkins := service.NewCheckInService(rides, faulty)

	pos := startPoint
	_, err := checkins.Submit(context.Background(), service.SubmitCheckInRequest{
		RideID:       "ride-1",
		CheckpointID: "cp-start",
		RiderID:      "rider-1",
		Position:     &pos,
	})
	if !errors.Is(err, service.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if faulty.PushCallCount != 1 {
		t.Errorf("expected one push attempt, got %d", faulty.PushCallCount)
	}
}

func TestCheckIn_AtCurrentPosition(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		permission location.Permission
		fix        *geo.Point
		fixErr     error
		wantOK     bool
		wantReason service.RejectReason
	}{
		{
			name:       "permission denied",
			permission: location.PermissionDenied,
			fix:        &startPoint,
			wantReason: service.RejectPermissionDenied,
		},
		{
			name:       "no fix",
			permission: location.PermissionGranted,
			fixErr:     location.ErrNoFix,
			wantReason: service.RejectNoPosition,
		},
		{
			name:       "fix in range",
			permission: location.PermissionGranted,
			fix:        &startPoint,
			wantOK:     true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			checkins, st, _ := newCheckInFixture(t)
			provider := NewMockProvider(tc.permission)
			if tc.fix != nil {
				provider.SetFix(*tc.fix)
			}
			if tc.fixErr != nil {
				provider.SetFixError(tc.fixErr)
			}

			result, err := checkins.SubmitAtCurrentPosition(context.Background(), provider, service.SubmitCheckInRequest{
				RideID:       "ride-1",
				CheckpointID: "cp-start",
				RiderID:      "rider-1",
			})
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if result.Accepted != tc.wantOK {
				t.Fatalf("expected accepted=%v, got %+v", tc.wantOK, result)
			}
			if !tc.wantOK && result.Reason != tc.wantReason {
				t.Errorf("expected reason %s, got %s", tc.wantReason, result.Reason)
			}

			want := 0
			if tc.wantOK {
				want = 1
			}
			if n := countRecords(t, st, "ride-1", "cp-start"); n != want {
				t.Errorf("expected %d records, got %d", want, n)
			}
		})
	}
}
