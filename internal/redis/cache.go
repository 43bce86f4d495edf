package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RideCacheTTL bounds how stale a cached ride definition can be. Roster joins
// invalidate explicitly, so this only matters for writes from other instances.
const RideCacheTTL = 30 * time.Second

const rideCachePrefix = "cache:ride:"

// CacheStore handles ride definition caching in Redis.
type CacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore. A zero ttl uses RideCacheTTL.
func NewCacheStore(client *redis.Client, ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = RideCacheTTL
	}
	return &CacheStore{client: client, ttl: ttl}
}

// CachedCheckpoint is the cached form of a checkpoint.
type CachedCheckpoint struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	RadiusMeters float64 `json:"radius_meters"`
	Position     int     `json:"position"`
}

// CachedRide is the cached form of a ride with its checkpoints and roster.
type CachedRide struct {
	ID          string             `json:"id"`
	OrganizerID string             `json:"organizer_id"`
	Title       string             `json:"title"`
	Date        string             `json:"date"`
	Checkpoints []CachedCheckpoint `json:"checkpoints"`
	Riders      []string           `json:"riders"`
	CreatedAt   time.Time          `json:"created_at"`
}

// GetRide retrieves a ride from cache. A miss returns nil without error.
func (s *CacheStore) GetRide(ctx context.Context, rideID string) (*CachedRide, error) {
	data, err := s.client.Get(ctx, rideCachePrefix+rideID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var ride CachedRide
	if err := json.Unmarshal(data, &ride); err != nil {
		// Treat undecodable entries as a miss; the next SetRide overwrites them.
		return nil, nil
	}
	return &ride, nil
}

// SetRide stores a ride in cache.
func (s *CacheStore) SetRide(ctx context.Context, ride *CachedRide) error {
	data, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, rideCachePrefix+ride.ID, data, s.ttl).Err()
}

// InvalidateRide removes a ride from cache.
func (s *CacheStore) InvalidateRide(ctx context.Context, rideID string) error {
	return s.client.Del(ctx, rideCachePrefix+rideID).Err()
}
