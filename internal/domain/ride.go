package domain

import (
	"time"

	"groupride/internal/geo"
)

// DefaultCheckpointRadiusMeters is applied when a checkpoint is created without a radius.
const DefaultCheckpointRadiusMeters = 50.0

// RideDateLayout is the calendar date format of Ride.Date.
const RideDateLayout = "2006-01-02"

// Ride is an organized group ride with its checkpoints and enrolled riders.
type Ride struct {
	ID          string
	OrganizerID string
	Title       string
	Date        string // YYYY-MM-DD
	Checkpoints []Checkpoint
	Riders      []string
	CreatedAt   time.Time
}

// Checkpoint is a named point riders must physically reach.
type Checkpoint struct {
	ID           string
	Name         string
	Location     geo.Point
	RadiusMeters float64
	Position     int // order on the route, starting at 0
}

// InRange reports whether pos is within the checkpoint's containment radius.
// It is false when no position sample is available.
func (c Checkpoint) InRange(pos *geo.Point) bool {
	return geo.WithinRadius(pos, c.Location, c.RadiusMeters)
}

// Checkpoint returns the checkpoint with the given id, if it belongs to the ride.
func (r *Ride) Checkpoint(id string) (Checkpoint, bool) {
	for _, cp := range r.Checkpoints {
		if cp.ID == id {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

// HasRider reports whether riderID is on the roster.
func (r *Ride) HasRider(riderID string) bool {
	for _, id := range r.Riders {
		if id == riderID {
			return true
		}
	}
	return false
}

// Upcoming reports whether the ride date is after now. Unparseable dates are not upcoming.
func (r *Ride) Upcoming(now time.Time) bool {
	d, err := time.Parse(RideDateLayout, r.Date)
	if err != nil {
		return false
	}
	return d.After(now)
}
