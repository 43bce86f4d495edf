package tests

import (
	"context"
	"testing"

	"groupride/internal/domain"
	"groupride/internal/service"
	"groupride/internal/store"
)

func snapshotOf(t *testing.T, st store.Store, rideID string) service.CheckInSnapshot {
	t.Helper()
	snap, err := st.Get(context.Background(), service.CheckpointsPath(rideID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return service.DecodeCheckInSnapshot(snap.Value)
}

func TestProgress_TwoOfThreeCheckpoints(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	defer st.Close()
	ride := newTestRide("ride-1", "rider-1", "rider-2")
	pushCheckIn(t, st, "ride-1", "cp-start", "rider-1", 100)
	pushCheckIn(t, st, "ride-1", "cp-middle", "rider-1", 200)
	// Duplicates collapse to one completed checkpoint.
	pushCheckIn(t, st, "ride-1", "cp-middle", "rider-1", 250)

	progress := service.ComputeProgress(*ride, snapshotOf(t, st, "ride-1"))

	got := progress["rider-1"]
	want := domain.Progress{RiderID: "rider-1", Completed: 2, Total: 3, Percent: 67}
	if got != want {
		t.Errorf("rider-1: expected %+v, got %+v", want, got)
	}
	if p := progress["rider-2"]; p.Completed != 0 || p.Total != 3 || p.Percent != 0 {
		t.Errorf("rider-2: expected 0/3, got %+v", p)
	}
	if len(progress) != 2 {
		t.Errorf("expected entries for 2 enrolled riders, got %d", len(progress))
	}
}

func TestProgress_NoCheckpoints(t *testing.T) {
	t.Parallel()

	ride := domain.Ride{ID: "ride-empty", Riders: []string{"rider-1"}}
	progress := service.ComputeProgress(ride, service.CheckInSnapshot{})

	p := progress["rider-1"]
	if p.Total != 0 || p.Percent != 0 || p.Completed != 0 {
		t.Errorf("expected zero progress, got %+v", p)
	}
}

func TestProgress_IgnoresRidersNotEnrolled(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	defer st.Close()
	ride := newTestRide("ride-1", "rider-1")
	pushCheckIn(t, st, "ride-1", "cp-start", "stranger", 100)

	snap := snapshotOf(t, st, "ride-1")
	progress := service.ComputeProgress(*ride, snap)
	if _, ok := progress["stranger"]; ok {
		t.Error("expected no progress entry for a rider off the roster")
	}

	tally := service.CheckpointTally(*ride, snap)
	if tally["cp-start"] != 0 {
		t.Errorf("expected tally 0 for cp-start, got %d", tally["cp-start"])
	}
}

func TestProgressTable_SortsByNameWithUnknownFallback(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	defer st.Close()
	ride := newTestRide("ride-1", "rider-1", "rider-2", "rider-3")
	pushCheckIn(t, st, "ride-1", "cp-start", "rider-2", 100)
	pushCheckIn(t, st, "ride-1", "cp-start", "rider-3", 110)

	names := map[string]string{"rider-1": "Zoe", "rider-2": "Amir"}
	rows := service.ProgressTable(*ride, snapshotOf(t, st, "ride-1"), func(id string) string { return names[id] })

	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	wantOrder := []string{"Amir", "Unknown", "Zoe"}
	for i, name := range wantOrder {
		if rows[i].RiderName != name {
			t.Errorf("row %d: expected %s, got %s", i, name, rows[i].RiderName)
		}
	}
	if rows[0].Percent != 33 {
		t.Errorf("expected 33%% for Amir, got %d", rows[0].Percent)
	}

	tally := service.CheckpointTally(*ride, snapshotOf(t, st, "ride-1"))
	if tally["cp-start"] != 2 || tally["cp-finish"] != 0 {
		t.Errorf("unexpected tally: %v", tally)
	}
}
