package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"groupride/internal/domain"
	"groupride/internal/geo"
	"groupride/internal/redis"
	"groupride/internal/repository"
	"groupride/internal/store"
)

// RideService handles ride definitions, rosters and live progress.
type RideService struct {
	rideRepo            repository.RideRepository
	cache               redis.RideCacheInterface
	store               store.Store
	notificationService *NotificationService
	defaultRadius       float64
	now                 func() time.Time
}

// NewRideService creates a new RideService. cache and notificationService may be nil.
func NewRideService(
	rideRepo repository.RideRepository,
	cache redis.RideCacheInterface,
	st store.Store,
	notificationService *NotificationService,
	defaultRadius float64,
) *RideService {
	if defaultRadius <= 0 {
		defaultRadius = domain.DefaultCheckpointRadiusMeters
	}
	return &RideService{
		rideRepo:            rideRepo,
		cache:               cache,
		store:               st,
		notificationService: notificationService,
		defaultRadius:       defaultRadius,
		now:                 time.Now,
	}
}

// WithClock replaces the clock used for creation times and upcoming checks.
func (s *RideService) WithClock(now func() time.Time) *RideService {
	s.now = now
	return s
}

// CheckpointInput describes a checkpoint of a new ride.
type CheckpointInput struct {
	Name         string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64 // zero uses the default radius
}

// CreateRideRequest contains the parameters for creating a ride.
type CreateRideRequest struct {
	OrganizerID string
	Title       string
	Date        string // YYYY-MM-DD
	Checkpoints []CheckpointInput
}

// CreateRide validates and persists a new ride. Checkpoints keep their input order.
func (s *RideService) CreateRide(ctx context.Context, req CreateRideRequest) (*domain.Ride, error) {
	if err := s.validateCreateRequest(req); err != nil {
		return nil, err
	}

	ride := &domain.Ride{
		ID:          uuid.New().String(),
		OrganizerID: req.OrganizerID,
		Title:       strings.TrimSpace(req.Title),
		Date:        req.Date,
		CreatedAt:   s.now(),
	}
	for i, in := range req.Checkpoints {
		radius := in.RadiusMeters
		if radius == 0 {
			radius = s.defaultRadius
		}
		ride.Checkpoints = append(ride.Checkpoints, domain.Checkpoint{
			ID:           uuid.New().String(),
			Name:         strings.TrimSpace(in.Name),
			Location:     geo.Point{Latitude: in.Latitude, Longitude: in.Longitude},
			RadiusMeters: radius,
			Position:     i,
		})
	}

	if err := s.rideRepo.Create(ctx, ride); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}

	log.Printf("[RIDE] created ride=%s organizer=%s checkpoints=%d", ride.ID, ride.OrganizerID, len(ride.Checkpoints))
	return ride, nil
}

func (s *RideService) validateCreateRequest(req CreateRideRequest) error {
	if req.OrganizerID == "" {
		return ErrInvalidOrganizerID
	}
	if strings.TrimSpace(req.Title) == "" {
		return ErrInvalidTitle
	}
	if _, err := time.Parse(domain.RideDateLayout, req.Date); err != nil {
		return ErrInvalidRideDate
	}
	if len(req.Checkpoints) == 0 {
		return ErrNoCheckpoints
	}
	for i, cp := range req.Checkpoints {
		if strings.TrimSpace(cp.Name) == "" || cp.RadiusMeters < 0 {
			return fmt.Errorf("%w: checkpoint %d", ErrInvalidCheckpoint, i+1)
		}
		if !geo.Valid(geo.Point{Latitude: cp.Latitude, Longitude: cp.Longitude}) {
			return fmt.Errorf("%w: checkpoint %d", ErrInvalidLocation, i+1)
		}
	}
	return nil
}

// GetRide returns a ride, served from cache when possible.
func (s *RideService) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}

	if s.cache != nil {
		cached, err := s.cache.GetRide(ctx, rideID)
		if err != nil {
			log.Printf("[RIDE] cache read failed for ride %s: %v", rideID, err)
		} else if cached != nil {
			return fromCachedRide(cached), nil
		}
	}

	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRideNotFound
		}
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetRide(ctx, toCachedRide(ride)); err != nil {
			log.Printf("[RIDE] cache write failed for ride %s: %v", rideID, err)
		}
	}
	return ride, nil
}

// ListRides returns all rides.
func (s *RideService) ListRides(ctx context.Context) ([]*domain.Ride, error) {
	return s.rideRepo.GetAll(ctx)
}

// RiderRides splits rides into those a rider joined and those still open to them.
type RiderRides struct {
	Joined    []*domain.Ride
	Available []*domain.Ride
}

// ListForRider returns the rider's joined rides and the upcoming rides they can join.
func (s *RideService) ListForRider(ctx context.Context, riderID string) (*RiderRides, error) {
	if riderID == "" {
		return nil, ErrInvalidRiderID
	}

	rides, err := s.rideRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := &RiderRides{}
	for _, ride := range rides {
		switch {
		case ride.HasRider(riderID):
			result.Joined = append(result.Joined, ride)
		case ride.Upcoming(now):
			result.Available = append(result.Available, ride)
		}
	}
	return result, nil
}

// JoinRide enrolls a rider and mirrors the roster into the shared store.
// Joining a ride twice succeeds without changes and reports false.
func (s *RideService) JoinRide(ctx context.Context, rideID, riderID, riderName string) (*domain.Ride, bool, error) {
	if rideID == "" {
		return nil, false, ErrInvalidRideID
	}
	if riderID == "" {
		return nil, false, ErrInvalidRiderID
	}

	added, err := s.rideRepo.AddRider(ctx, rideID, riderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, ErrRideNotFound
		}
		return nil, false, fmt.Errorf("join ride: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateRide(ctx, rideID); err != nil {
			log.Printf("[RIDE] cache invalidation failed for ride %s: %v", rideID, err)
		}
	}

	// The mirror is rewritten on every join so a retry repairs a failed earlier write.
	if err := s.store.Update(ctx, store.JoinPath("rides", rideID, "riders"), map[string]any{riderID: true}); err != nil {
		return nil, added, fmt.Errorf("%w: mirror roster: %v", ErrStoreUnavailable, err)
	}

	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, added, err
	}

	if added && s.notificationService != nil {
		if err := s.notificationService.NotifyRiderJoined(ctx, ride, riderID, riderName); err != nil {
			log.Printf("[RIDE] join notification failed: %v", err)
		}
	}
	return ride, added, nil
}

// RideProgress is the live progress view of a ride.
type RideProgress struct {
	Ride        *domain.Ride
	Riders      []ProgressRow
	Checkpoints map[string]int // distinct riders checked in per checkpoint
	Latest      *CheckInRecord
}

// Progress reads the ride's check-ins from the shared store and aggregates them.
func (s *RideService) Progress(ctx context.Context, rideID string, riderLabel LabelResolver) (*RideProgress, error) {
	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}

	snap, err := s.store.Get(ctx, CheckpointsPath(ride.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	checkins := CheckInSnapshot{}
	if snap.Exists {
		checkins = DecodeCheckInSnapshot(snap.Value)
	}

	result := &RideProgress{
		Ride:        ride,
		Riders:      ProgressTable(*ride, checkins, riderLabel),
		Checkpoints: CheckpointTally(*ride, checkins),
	}
	if latest, ok := checkins.Latest(); ok {
		result.Latest = &latest
	}
	return result, nil
}

// CheckpointLabels resolves checkpoint IDs of ride to their names.
func CheckpointLabels(ride *domain.Ride) LabelResolver {
	return func(id string) string {
		if cp, ok := ride.Checkpoint(id); ok {
			return cp.Name
		}
		return ""
	}
}

func toCachedRide(ride *domain.Ride) *redis.CachedRide {
	cached := &redis.CachedRide{
		ID:          ride.ID,
		OrganizerID: ride.OrganizerID,
		Title:       ride.Title,
		Date:        ride.Date,
		Riders:      ride.Riders,
		CreatedAt:   ride.CreatedAt,
	}
	for _, cp := range ride.Checkpoints {
		cached.Checkpoints = append(cached.Checkpoints, redis.CachedCheckpoint{
			ID:           cp.ID,
			Name:         cp.Name,
			Lat:          cp.Location.Latitude,
			Lng:          cp.Location.Longitude,
			RadiusMeters: cp.RadiusMeters,
			Position:     cp.Position,
		})
	}
	return cached
}

func fromCachedRide(cached *redis.CachedRide) *domain.Ride {
	ride := &domain.Ride{
		ID:          cached.ID,
		OrganizerID: cached.OrganizerID,
		Title:       cached.Title,
		Date:        cached.Date,
		Riders:      cached.Riders,
		CreatedAt:   cached.CreatedAt,
	}
	for _, cp := range cached.Checkpoints {
		ride.Checkpoints = append(ride.Checkpoints, domain.Checkpoint{
			ID:           cp.ID,
			Name:         cp.Name,
			Location:     geo.Point{Latitude: cp.Lat, Longitude: cp.Lng},
			RadiusMeters: cp.RadiusMeters,
			Position:     cp.Position,
		})
	}
	return ride
}
