package repository

import (
	"context"

	"groupride/internal/domain"
)

// RideRepository defines the persistence operations for rides.
type RideRepository interface {
	// Create persists a new ride together with its checkpoints.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride with its checkpoints and roster.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// GetAll retrieves all rides with checkpoints and rosters.
	GetAll(ctx context.Context) ([]*domain.Ride, error)

	// AddRider enrolls a rider. It reports false if the rider was already enrolled.
	AddRider(ctx context.Context, rideID, riderID string) (bool, error)
}
