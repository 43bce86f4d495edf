package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"groupride/internal/domain"
	"groupride/internal/geo"
	"groupride/internal/location"
	"groupride/internal/store"
)

// RejectReason explains why a check-in was not recorded.
type RejectReason string

const (
	RejectMissingRider      RejectReason = "MISSING_RIDER"
	RejectMissingCheckpoint RejectReason = "MISSING_CHECKPOINT"
	RejectMissingRide       RejectReason = "MISSING_RIDE"
	RejectUnknownCheckpoint RejectReason = "UNKNOWN_CHECKPOINT"
	RejectNoPosition        RejectReason = "NO_POSITION"
	RejectPermissionDenied  RejectReason = "PERMISSION_DENIED"
	RejectOutOfRange        RejectReason = "OUT_OF_RANGE"
)

// RideLookup resolves a ride by ID.
type RideLookup interface {
	GetRide(ctx context.Context, rideID string) (*domain.Ride, error)
}

// SubmitCheckInRequest contains the parameters of a check-in attempt.
type SubmitCheckInRequest struct {
	RideID       string
	CheckpointID string
	RiderID      string
	Position     *geo.Point // nil when no sample is available
}

// CheckInResult is the outcome of a check-in attempt. Rejections are not errors.
type CheckInResult struct {
	Accepted       bool
	RecordID       string
	Reason         RejectReason
	CheckIn        *domain.CheckIn
	DistanceMeters float64 // distance to the checkpoint when a position was supplied
}

// CheckInService validates proximity and appends check-in records to the shared store.
type CheckInService struct {
	rides RideLookup
	store store.Store
	now   func() time.Time
}

// NewCheckInService creates a new CheckInService.
func NewCheckInService(rides RideLookup, st store.Store) *CheckInService {
	return &CheckInService{rides: rides, store: st, now: time.Now}
}

// WithClock replaces the wall clock used to stamp records.
func (s *CheckInService) WithClock(now func() time.Time) *CheckInService {
	s.now = now
	return s
}

// CheckInsPath returns the store path holding check-ins for one checkpoint.
func CheckInsPath(rideID, checkpointID string) string {
	return store.JoinPath("rides", rideID, "checkpoints", checkpointID, checkinsKey)
}

// CheckpointsPath returns the store path of a ride's checkpoint subtree.
func CheckpointsPath(rideID string) string {
	return store.JoinPath("rides", rideID, "checkpoints")
}

func rejected(reason RejectReason) *CheckInResult {
	return &CheckInResult{Reason: reason}
}

// Submit records a check-in when the supplied position is within the
// checkpoint radius. Nothing is written on rejection. Duplicate check-ins
// are appended as separate records.
func (s *CheckInService) Submit(ctx context.Context, req SubmitCheckInRequest) (*CheckInResult, error) {
	switch {
	case req.RiderID == "":
		return rejected(RejectMissingRider), nil
	case req.CheckpointID == "":
		return rejected(RejectMissingCheckpoint), nil
	case req.RideID == "":
		return rejected(RejectMissingRide), nil
	}

	ride, err := s.rides.GetRide(ctx, req.RideID)
	if err != nil {
		if errors.Is(err, ErrRideNotFound) {
			return rejected(RejectMissingRide), nil
		}
		return nil, err
	}

	cp, ok := ride.Checkpoint(req.CheckpointID)
	if !ok {
		return rejected(RejectUnknownCheckpoint), nil
	}

	if req.Position == nil {
		return rejected(RejectNoPosition), nil
	}

	distance := geo.DistanceMeters(*req.Position, cp.Location)
	if !cp.InRange(req.Position) {
		result := rejected(RejectOutOfRange)
		result.DistanceMeters = distance
		return result, nil
	}

	checkIn := &domain.CheckIn{
		RiderID:      req.RiderID,
		CheckpointID: cp.ID,
		Timestamp:    s.now().UnixMilli(),
		Location:     *req.Position,
	}

	id, err := s.store.Push(ctx, CheckInsPath(ride.ID, cp.ID), checkIn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	checkIn.ID = id

	log.Printf("[CHECKIN] ride=%s checkpoint=%s rider=%s record=%s distance=%.1fm",
		ride.ID, cp.ID, req.RiderID, id, distance)

	return &CheckInResult{
		Accepted:       true,
		RecordID:       id,
		CheckIn:        checkIn,
		DistanceMeters: distance,
	}, nil
}

// SubmitAtCurrentPosition asks provider for permission and a single fix, then
// submits a check-in at that position. Any position in req is ignored.
func (s *CheckInService) SubmitAtCurrentPosition(ctx context.Context, provider location.Provider, req SubmitCheckInRequest) (*CheckInResult, error) {
	perm, err := provider.RequestPermission(ctx)
	if err != nil {
		return nil, fmt.Errorf("request location permission: %w", err)
	}
	if perm != location.PermissionGranted {
		return rejected(RejectPermissionDenied), nil
	}

	req.Position = nil
	p, err := provider.CurrentPosition(ctx)
	switch {
	case err == nil:
		req.Position = &p
	case errors.Is(err, location.ErrPermissionDenied):
		return rejected(RejectPermissionDenied), nil
	case errors.Is(err, location.ErrNoFix):
	default:
		log.Printf("[CHECKIN] position fix failed for rider %s: %v", req.RiderID, err)
	}

	return s.Submit(ctx, req)
}
