package service

import (
	"math"
	"sort"

	"groupride/internal/domain"
)

// UnknownLabel is shown for riders or checkpoints without a resolvable name.
const UnknownLabel = "Unknown"

// LabelResolver maps an ID to a display name. It returns "" when unknown.
type LabelResolver func(id string) string

// ComputeProgress returns the completion of every enrolled rider. A checkpoint
// counts once per rider no matter how many records exist for it.
func ComputeProgress(ride domain.Ride, snap CheckInSnapshot) map[string]domain.Progress {
	total := len(ride.Checkpoints)
	result := make(map[string]domain.Progress, len(ride.Riders))

	for _, riderID := range ride.Riders {
		completed := 0
		for _, cp := range ride.Checkpoints {
			if snap.Has(cp.ID, riderID) {
				completed++
			}
		}
		result[riderID] = domain.Progress{
			RiderID:   riderID,
			Completed: completed,
			Total:     total,
			Percent:   percent(completed, total),
		}
	}
	return result
}

func percent(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// CheckpointTally returns the number of distinct enrolled riders checked in
// at each checkpoint of the ride.
func CheckpointTally(ride domain.Ride, snap CheckInSnapshot) map[string]int {
	tally := make(map[string]int, len(ride.Checkpoints))
	for _, cp := range ride.Checkpoints {
		n := 0
		for _, riderID := range ride.Riders {
			if snap.Has(cp.ID, riderID) {
				n++
			}
		}
		tally[cp.ID] = n
	}
	return tally
}

// ProgressRow is one line of the organizer's progress table.
type ProgressRow struct {
	RiderID   string `json:"rider_id"`
	RiderName string `json:"rider_name"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Percent   int    `json:"percent"`
}

// ProgressTable returns progress rows sorted by rider name, then rider ID.
func ProgressTable(ride domain.Ride, snap CheckInSnapshot, riderLabel LabelResolver) []ProgressRow {
	progress := ComputeProgress(ride, snap)
	rows := make([]ProgressRow, 0, len(progress))
	for id, p := range progress {
		rows = append(rows, ProgressRow{
			RiderID:   id,
			RiderName: resolve(riderLabel, id, UnknownLabel),
			Completed: p.Completed,
			Total:     p.Total,
			Percent:   p.Percent,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RiderName != rows[j].RiderName {
			return rows[i].RiderName < rows[j].RiderName
		}
		return rows[i].RiderID < rows[j].RiderID
	})
	return rows
}

func resolve(labels LabelResolver, id, fallback string) string {
	if labels != nil {
		if name := labels(id); name != "" {
			return name
		}
	}
	return fallback
}
