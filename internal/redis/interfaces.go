package redis

import (
	"context"

	"groupride/internal/geo"
)

// PositionStoreInterface defines rider position operations.
type PositionStoreInterface interface {
	UpdatePosition(ctx context.Context, rideID, riderID string, p geo.Point) error
	Position(ctx context.Context, rideID, riderID string) (*geo.Point, error)
	RevokeSharing(ctx context.Context, rideID, riderID string) error
	FindRidersNear(ctx context.Context, rideID string, center geo.Point, radiusMeters float64) ([]RiderPosition, error)
}

// RideCacheInterface defines ride caching operations.
type RideCacheInterface interface {
	GetRide(ctx context.Context, rideID string) (*CachedRide, error)
	SetRide(ctx context.Context, ride *CachedRide) error
	InvalidateRide(ctx context.Context, rideID string) error
}

// Ensure concrete types implement interfaces.
var (
	_ PositionStoreInterface = (*LocationStore)(nil)
	_ RideCacheInterface     = (*CacheStore)(nil)
)
