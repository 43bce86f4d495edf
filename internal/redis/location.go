package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"groupride/internal/geo"
	"groupride/internal/location"
)

const defaultPositionTTL = 6 * time.Hour

// RiderPosition is a rider's last reported position on a ride.
type RiderPosition struct {
	RiderID        string
	Lat            float64
	Lng            float64
	DistanceMeters float64
}

// LocationStore keeps rider positions per ride in a Redis GEO index.
// A rider appears in the ride's sharing set while location sharing is on.
type LocationStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocationStore creates a new LocationStore. Position keys expire after
// ttl without updates; zero uses a default.
func NewLocationStore(client *redis.Client, ttl time.Duration) *LocationStore {
	if ttl <= 0 {
		ttl = defaultPositionTTL
	}
	return &LocationStore{client: client, ttl: ttl}
}

func positionsKey(rideID string) string {
	return fmt.Sprintf("rides:%s:positions", rideID)
}

func sharingKey(rideID string) string {
	return fmt.Sprintf("rides:%s:sharing", rideID)
}

func positionChannel(rideID, riderID string) string {
	return fmt.Sprintf("rides:%s:positions:%s", rideID, riderID)
}

// UpdatePosition stores a rider's position with GEOADD, turns sharing on and
// publishes the sample to the rider's watch channel.
func (s *LocationStore) UpdatePosition(ctx context.Context, rideID, riderID string, p geo.Point) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, positionsKey(rideID), &redis.GeoLocation{
			Name:      riderID,
			Longitude: p.Longitude,
			Latitude:  p.Latitude,
		})
		pipe.SAdd(ctx, sharingKey(rideID), riderID)
		pipe.Expire(ctx, positionsKey(rideID), s.ttl)
		pipe.Expire(ctx, sharingKey(rideID), s.ttl)
		return nil
	})
	if err != nil {
		return err
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, positionChannel(rideID, riderID), payload).Err()
}

// Position returns the rider's last reported position, or nil if none.
func (s *LocationStore) Position(ctx context.Context, rideID, riderID string) (*geo.Point, error) {
	res, err := s.client.GeoPos(ctx, positionsKey(rideID), riderID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(res) == 0 || res[0] == nil {
		return nil, nil
	}
	return &geo.Point{Latitude: res[0].Latitude, Longitude: res[0].Longitude}, nil
}

// SharingEnabled reports whether the rider currently shares their location.
func (s *LocationStore) SharingEnabled(ctx context.Context, rideID, riderID string) (bool, error) {
	return s.client.SIsMember(ctx, sharingKey(rideID), riderID).Result()
}

// RevokeSharing turns sharing off and forgets the rider's position.
func (s *LocationStore) RevokeSharing(ctx context.Context, rideID, riderID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, sharingKey(rideID), riderID)
		pipe.ZRem(ctx, positionsKey(rideID), riderID)
		return nil
	})
	return err
}

// FindRidersNear returns riders within radiusMeters of center, nearest first.
func (s *LocationStore) FindRidersNear(ctx context.Context, rideID string, center geo.Point, radiusMeters float64) ([]RiderPosition, error) {
	results, err := s.client.GeoRadius(ctx, positionsKey(rideID), center.Longitude, center.Latitude, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	positions := make([]RiderPosition, 0, len(results))
	for _, r := range results {
		positions = append(positions, RiderPosition{
			RiderID:        r.Name,
			Lat:            r.Latitude,
			Lng:            r.Longitude,
			DistanceMeters: r.Dist,
		})
	}
	return positions, nil
}

// Feed returns a location.Provider for one rider on one ride.
func (s *LocationStore) Feed(rideID, riderID string) *PositionFeed {
	return &PositionFeed{store: s, rideID: rideID, riderID: riderID}
}

// PositionFeed adapts the reported positions of a single rider to
// location.Provider: sharing is the permission, the GEO entry is the current
// fix and the rider's pub/sub channel is the watch stream.
type PositionFeed struct {
	store   *LocationStore
	rideID  string
	riderID string
}

// RequestPermission reports granted while the rider shares their location.
func (f *PositionFeed) RequestPermission(ctx context.Context) (location.Permission, error) {
	ok, err := f.store.SharingEnabled(ctx, f.rideID, f.riderID)
	if err != nil {
		return location.PermissionUnknown, err
	}
	if !ok {
		return location.PermissionDenied, nil
	}
	return location.PermissionGranted, nil
}

// CurrentPosition returns the rider's last reported position.
func (f *PositionFeed) CurrentPosition(ctx context.Context) (geo.Point, error) {
	p, err := f.store.Position(ctx, f.rideID, f.riderID)
	if err != nil {
		return geo.Point{}, err
	}
	if p == nil {
		return geo.Point{}, location.ErrNoFix
	}
	return *p, nil
}

// Watch streams the rider's future position reports until cancelled or ctx ends.
func (f *PositionFeed) Watch(ctx context.Context, opts location.WatchOptions) (*location.Watch, error) {
	pubsub := f.store.client.Subscribe(context.Background(), positionChannel(f.rideID, f.riderID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	w := location.NewWatch(opts, 16, func() { _ = pubsub.Close() })

	go func() {
		defer w.Cancel()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p geo.Point
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					log.Printf("[LOCATION] dropping malformed sample for %s: %v", f.riderID, err)
					continue
				}
				w.Send(p)
			}
		}
	}()

	return w, nil
}

var _ location.Provider = (*PositionFeed)(nil)
