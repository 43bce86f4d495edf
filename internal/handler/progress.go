package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"groupride/internal/service"
)

// ProgressHandler serves the organizer's live progress view.
type ProgressHandler struct {
	rideService *service.RideService
	userService *service.UserService
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(rideService *service.RideService, userService *service.UserService) *ProgressHandler {
	return &ProgressHandler{
		rideService: rideService,
		userService: userService,
	}
}

// CheckpointProgressResponse is the number of riders seen at a checkpoint.
type CheckpointProgressResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CheckedIn  int    `json:"checked_in"`
	RiderCount int    `json:"rider_count"`
}

// LatestCheckInResponse is the most recent check-in of the ride.
type LatestCheckInResponse struct {
	RiderID        string `json:"rider_id"`
	RiderName      string `json:"rider_name"`
	CheckpointID   string `json:"checkpoint_id"`
	CheckpointName string `json:"checkpoint_name"`
	Timestamp      int64  `json:"timestamp"`
	Message        string `json:"message"`
}

// ProgressResponse is the HTTP response for ride progress.
type ProgressResponse struct {
	RideID      string                       `json:"ride_id"`
	Title       string                       `json:"title"`
	Riders      []service.ProgressRow        `json:"riders"`
	Checkpoints []CheckpointProgressResponse `json:"checkpoints"`
	Latest      *LatestCheckInResponse       `json:"latest,omitempty"`
}

// GetProgress handles GET /v1/rides/:id/progress
func (h *ProgressHandler) GetProgress(c *gin.Context) {
	var riderLabel service.LabelResolver
	if h.userService != nil {
		labels, err := h.userService.RiderLabels(c.Request.Context())
		if err != nil {
			log.Printf("[PROGRESS] rider names unavailable: %v", err)
		} else {
			riderLabel = labels
		}
	}

	progress, err := h.rideService.Progress(c.Request.Context(), c.Param("id"), riderLabel)
	if err != nil {
		respondError(c, err)
		return
	}

	ride := progress.Ride
	resp := ProgressResponse{
		RideID:      ride.ID,
		Title:       ride.Title,
		Riders:      progress.Riders,
		Checkpoints: make([]CheckpointProgressResponse, 0, len(ride.Checkpoints)),
	}
	for _, cp := range ride.Checkpoints {
		resp.Checkpoints = append(resp.Checkpoints, CheckpointProgressResponse{
			ID:         cp.ID,
			Name:       cp.Name,
			CheckedIn:  progress.Checkpoints[cp.ID],
			RiderCount: len(ride.Riders),
		})
	}

	if latest := progress.Latest; latest != nil {
		checkpointLabel := service.CheckpointLabels(ride)
		event := service.CheckInEvent{Type: service.EventCheckIn, RideID: ride.ID, Latest: *latest}
		resp.Latest = &LatestCheckInResponse{
			RiderID:        latest.RiderID,
			RiderName:      labelOf(riderLabel, latest.RiderID),
			CheckpointID:   latest.CheckpointID,
			CheckpointName: checkpointLabel(latest.CheckpointID),
			Timestamp:      latest.Timestamp,
			Message:        service.FormatCheckIn(event, riderLabel, checkpointLabel),
		}
	}

	respondJSON(c, http.StatusOK, resp)
}

func labelOf(labels service.LabelResolver, id string) string {
	if labels == nil {
		return ""
	}
	return labels(id)
}
