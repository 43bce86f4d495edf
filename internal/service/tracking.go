package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"groupride/internal/domain"
	"groupride/internal/geo"
	"groupride/internal/location"
	"groupride/internal/redis"
)

// ProviderFactory returns the position source of one rider on one ride.
type ProviderFactory func(rideID, riderID string) location.Provider

// TrackingService handles rider position sharing and position-driven check-ins.
type TrackingService struct {
	positions redis.PositionStoreInterface
	providers ProviderFactory
	rides     RideLookup
	checkins  *CheckInService
	watchOpts location.WatchOptions

	mu       sync.Mutex
	sessions map[string]*autoCheckIn
}

// NewTrackingService creates a new TrackingService.
func NewTrackingService(
	positions redis.PositionStoreInterface,
	providers ProviderFactory,
	rides RideLookup,
	checkins *CheckInService,
	watchOpts location.WatchOptions,
) *TrackingService {
	return &TrackingService{
		positions: positions,
		providers: providers,
		rides:     rides,
		checkins:  checkins,
		watchOpts: watchOpts,
		sessions:  make(map[string]*autoCheckIn),
	}
}

// enrolledRide returns the ride if riderID is on its roster.
func (s *TrackingService) enrolledRide(ctx context.Context, rideID, riderID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if riderID == "" {
		return nil, ErrInvalidRiderID
	}
	ride, err := s.rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !ride.HasRider(riderID) {
		return nil, ErrRiderNotEnrolled
	}
	return ride, nil
}

// UpdatePosition records a rider's reported position and turns sharing on.
func (s *TrackingService) UpdatePosition(ctx context.Context, rideID, riderID string, p geo.Point) error {
	if !geo.Valid(p) {
		return ErrInvalidLocation
	}
	if _, err := s.enrolledRide(ctx, rideID, riderID); err != nil {
		return err
	}
	if err := s.positions.UpdatePosition(ctx, rideID, riderID, p); err != nil {
		return fmt.Errorf("%w: update position: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// StopSharing turns sharing off, forgets the rider's position and ends any
// automatic check-in session.
func (s *TrackingService) StopSharing(ctx context.Context, rideID, riderID string) error {
	s.StopAutoCheckIn(rideID, riderID)
	if err := s.positions.RevokeSharing(ctx, rideID, riderID); err != nil {
		return fmt.Errorf("%w: revoke sharing: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RidersNear returns riders whose last position lies inside the checkpoint radius.
func (s *TrackingService) RidersNear(ctx context.Context, rideID, checkpointID string) ([]redis.RiderPosition, error) {
	ride, err := s.rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	cp, ok := ride.Checkpoint(checkpointID)
	if !ok {
		return nil, ErrCheckpointNotFound
	}

	riders, err := s.positions.FindRidersNear(ctx, ride.ID, cp.Location, cp.RadiusMeters)
	if err != nil {
		return nil, fmt.Errorf("%w: find riders: %v", ErrStoreUnavailable, err)
	}
	return riders, nil
}

// CheckInAtSharedPosition submits a check-in at the rider's last shared position.
func (s *TrackingService) CheckInAtSharedPosition(ctx context.Context, req SubmitCheckInRequest) (*CheckInResult, error) {
	result, err := s.checkins.SubmitAtCurrentPosition(ctx, s.providers(req.RideID, req.RiderID), req)
	if err != nil && !errors.Is(err, ErrStoreUnavailable) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return result, err
}

// autoCheckIn follows one rider's positions and checks them in at each
// checkpoint they enter, once per checkpoint per session.
type autoCheckIn struct {
	ride    *domain.Ride
	riderID string
	tracker *location.Tracker
	ctx     context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	done map[string]bool
}

func sessionKey(rideID, riderID string) string {
	return rideID + "/" + riderID
}

// StartAutoCheckIn begins watching the rider's shared position. It returns
// location.ErrPermissionDenied when the rider is not sharing.
func (s *TrackingService) StartAutoCheckIn(ctx context.Context, rideID, riderID string) error {
	ride, err := s.enrolledRide(ctx, rideID, riderID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(rideID, riderID)
	if _, ok := s.sessions[key]; ok {
		return nil
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &autoCheckIn{
		ride:    ride,
		riderID: riderID,
		ctx:     sessCtx,
		cancel:  cancel,
		done:    make(map[string]bool),
	}
	sess.tracker = location.NewTracker(s.providers(rideID, riderID), s.watchOpts, func(p geo.Point) {
		s.autoCheck(sess, p)
	})

	if err := sess.tracker.Start(sessCtx); err != nil {
		cancel()
		sess.tracker.Stop()
		if errors.Is(err, location.ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: start position watch: %v", ErrStoreUnavailable, err)
	}

	s.sessions[key] = sess
	log.Printf("[TRACKING] auto check-in started ride=%s rider=%s", rideID, riderID)
	return nil
}

// StopAutoCheckIn ends the rider's session. It reports whether one was running.
func (s *TrackingService) StopAutoCheckIn(rideID, riderID string) bool {
	s.mu.Lock()
	key := sessionKey(rideID, riderID)
	sess, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()

	if !ok {
		return false
	}
	sess.cancel()
	sess.tracker.Stop()
	log.Printf("[TRACKING] auto check-in stopped ride=%s rider=%s", rideID, riderID)
	return true
}

// AutoCheckInActive reports whether the rider has a running session.
func (s *TrackingService) AutoCheckInActive(rideID, riderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionKey(rideID, riderID)]
	return ok
}

// Close stops every session.
func (s *TrackingService) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*autoCheckIn)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.cancel()
		sess.tracker.Stop()
	}
}

func (s *TrackingService) autoCheck(sess *autoCheckIn, p geo.Point) {
	for _, cp := range sess.ride.Checkpoints {
		sess.mu.Lock()
		seen := sess.done[cp.ID]
		sess.mu.Unlock()
		if seen || !cp.InRange(&p) {
			continue
		}

		result, err := s.checkins.Submit(sess.ctx, SubmitCheckInRequest{
			RideID:       sess.ride.ID,
			CheckpointID: cp.ID,
			RiderID:      sess.riderID,
			Position:     &p,
		})
		if err != nil {
			log.Printf("[TRACKING] auto check-in failed ride=%s rider=%s checkpoint=%s: %v",
				sess.ride.ID, sess.riderID, cp.ID, err)
			continue
		}
		if result.Accepted {
			sess.mu.Lock()
			sess.done[cp.ID] = true
			sess.mu.Unlock()
		}
	}
}
