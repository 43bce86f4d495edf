package service

import (
	"encoding/json"
	"math"
	"sort"

	"groupride/internal/geo"
)

// checkinsKey is the child of a checkpoint node that holds pushed records.
const checkinsKey = "checkins"

// CheckInRecord is one rider's check-in state at one checkpoint.
type CheckInRecord struct {
	RecordID     string     `json:"record_id,omitempty"`
	CheckpointID string     `json:"checkpoint_id"`
	RiderID      string     `json:"rider_id"`
	Timestamp    int64      `json:"timestamp"`
	Location     *geo.Point `json:"location,omitempty"`
	Count        int        `json:"count"` // records seen for this rider at this checkpoint
}

// CheckInSnapshot maps checkpoint ID to rider ID to the rider's latest check-in there.
type CheckInSnapshot map[string]map[string]CheckInRecord

// DecodeCheckInSnapshot turns the raw tree under rides/{id}/checkpoints into a
// CheckInSnapshot. Parts with an unexpected shape are skipped.
func DecodeCheckInSnapshot(tree any) CheckInSnapshot {
	snap := CheckInSnapshot{}
	checkpoints, ok := tree.(map[string]any)
	if !ok {
		return snap
	}

	for checkpointID, node := range checkpoints {
		children, ok := node.(map[string]any)
		if !ok {
			continue
		}
		for key, child := range children {
			if key == checkinsKey {
				records, ok := child.(map[string]any)
				if !ok {
					continue
				}
				for recordID, raw := range records {
					snap.add(checkpointID, recordID, "", raw)
				}
				continue
			}
			// Legacy layout keyed directly by rider.
			snap.add(checkpointID, "", key, child)
		}
	}
	return snap
}

func (s CheckInSnapshot) add(checkpointID, recordID, riderID string, raw any) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return
	}
	ts, ok := toMillis(fields["timestamp"])
	if !ok {
		return
	}
	if id, ok := fields["riderId"].(string); ok && id != "" {
		riderID = id
	}
	if riderID == "" {
		return
	}

	rec := CheckInRecord{
		RecordID:     recordID,
		CheckpointID: checkpointID,
		RiderID:      riderID,
		Timestamp:    ts,
		Location:     toPoint(fields["location"]),
	}

	riders := s[checkpointID]
	if riders == nil {
		riders = map[string]CheckInRecord{}
		s[checkpointID] = riders
	}
	prev, seen := riders[riderID]
	rec.Count = prev.Count + 1
	if seen && (prev.Timestamp > rec.Timestamp || (prev.Timestamp == rec.Timestamp && prev.RecordID > rec.RecordID)) {
		prev.Count = rec.Count
		riders[riderID] = prev
		return
	}
	riders[riderID] = rec
}

// Latest returns the check-in with the greatest timestamp. Ties go to the
// smallest checkpoint ID, then the smallest rider ID.
func (s CheckInSnapshot) Latest() (CheckInRecord, bool) {
	var best CheckInRecord
	found := false
	for _, riders := range s {
		for _, rec := range riders {
			if !found || later(rec, best) {
				best = rec
				found = true
			}
		}
	}
	return best, found
}

func later(a, b CheckInRecord) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	if a.CheckpointID != b.CheckpointID {
		return a.CheckpointID < b.CheckpointID
	}
	return a.RiderID < b.RiderID
}

// Has reports whether riderID has at least one check-in at checkpointID.
func (s CheckInSnapshot) Has(checkpointID, riderID string) bool {
	_, ok := s[checkpointID][riderID]
	return ok
}

// Riders returns the sorted IDs of riders checked in at checkpointID.
func (s CheckInSnapshot) Riders(checkpointID string) []string {
	ids := make([]string, 0, len(s[checkpointID]))
	for id := range s[checkpointID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func toMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func toPoint(v any) *geo.Point {
	fields, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	lat, ok1 := toDegrees(fields["latitude"])
	lng, ok2 := toDegrees(fields["longitude"])
	if !ok1 || !ok2 {
		return nil
	}
	return &geo.Point{Latitude: lat, Longitude: lng}
}

func toDegrees(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
