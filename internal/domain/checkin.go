package domain

import "groupride/internal/geo"

// CheckIn asserts a rider was within range of a checkpoint at a point in time.
// Records are written once and never updated.
type CheckIn struct {
	ID           string    `json:"-"`
	RiderID      string    `json:"riderId"`
	CheckpointID string    `json:"checkpointId"`
	Timestamp    int64     `json:"timestamp"` // unix milliseconds at submission
	Location     geo.Point `json:"location"`
}

// Progress is a rider's completion state on a ride.
type Progress struct {
	RiderID   string `json:"rider_id"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Percent   int    `json:"percent"`
}
