package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"groupride/internal/domain"
	"groupride/internal/repository"
)

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
type RideRepository struct {
	db *sql.DB
	q  Querier
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{db: db, q: db}
}

// Create persists a new ride and its checkpoints in one transaction.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rides (id, organizer_id, title, ride_date, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ride.ID, ride.OrganizerID, ride.Title, ride.Date, ride.CreatedAt,
	)
	if err != nil {
		return mapError(err)
	}

	for _, cp := range ride.Checkpoints {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO checkpoints (id, ride_id, name, lat, lng, radius_meters, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, cp.ID, ride.ID, cp.Name, cp.Location.Latitude, cp.Location.Longitude, cp.RadiusMeters, cp.Position)
		if err != nil {
			return mapError(err)
		}
	}

	return tx.Commit()
}

// GetByID retrieves a ride with its checkpoints and roster.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	var ride domain.Ride
	err := r.q.QueryRowContext(ctx,
		`SELECT id, organizer_id, title, ride_date, created_at FROM rides WHERE id = $1`, id,
	).Scan(&ride.ID, &ride.OrganizerID, &ride.Title, &ride.Date, &ride.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	rides := []*domain.Ride{&ride}
	if err := r.loadDetails(ctx, rides); err != nil {
		return nil, err
	}
	return &ride, nil
}

// GetAll retrieves rides ordered by date, most recent first.
func (r *RideRepository) GetAll(ctx context.Context) ([]*domain.Ride, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, organizer_id, title, ride_date, created_at
		FROM rides
		ORDER BY ride_date DESC, created_at DESC
		LIMIT 200
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		var ride domain.Ride
		if err := rows.Scan(&ride.ID, &ride.OrganizerID, &ride.Title, &ride.Date, &ride.CreatedAt); err != nil {
			return nil, err
		}
		rides = append(rides, &ride)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadDetails(ctx, rides); err != nil {
		return nil, err
	}
	return rides, nil
}

// AddRider enrolls a rider. Enrolling twice is a no-op that reports false.
func (r *RideRepository) AddRider(ctx context.Context, rideID, riderID string) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO ride_riders (ride_id, rider_id, joined_at)
		VALUES ($1, $2, now())
		ON CONFLICT (ride_id, rider_id) DO NOTHING
	`, rideID, riderID)
	if err != nil {
		return false, mapError(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// loadDetails fills checkpoints and rosters for the given rides with one query each.
func (r *RideRepository) loadDetails(ctx context.Context, rides []*domain.Ride) error {
	if len(rides) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Ride, len(rides))
	ids := make([]string, 0, len(rides))
	for _, ride := range rides {
		byID[ride.ID] = ride
		ids = append(ids, ride.ID)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT ride_id, id, name, lat, lng, radius_meters, position
		FROM checkpoints
		WHERE ride_id = ANY($1)
		ORDER BY ride_id, position
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}
	for rows.Next() {
		var rideID string
		var cp domain.Checkpoint
		if err := rows.Scan(&rideID, &cp.ID, &cp.Name, &cp.Location.Latitude, &cp.Location.Longitude, &cp.RadiusMeters, &cp.Position); err != nil {
			rows.Close()
			return err
		}
		if ride, ok := byID[rideID]; ok {
			ride.Checkpoints = append(ride.Checkpoints, cp)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.q.QueryContext(ctx, `
		SELECT ride_id, rider_id
		FROM ride_riders
		WHERE ride_id = ANY($1)
		ORDER BY ride_id, joined_at
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load riders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rideID, riderID string
		if err := rows.Scan(&rideID, &riderID); err != nil {
			return err
		}
		if ride, ok := byID[rideID]; ok {
			ride.Riders = append(ride.Riders, riderID)
		}
	}
	return rows.Err()
}

var _ repository.RideRepository = (*RideRepository)(nil)
