package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"groupride/internal/domain"
	"groupride/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService *service.RideService
	userService *service.UserService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService, userService *service.UserService) *RideHandler {
	return &RideHandler{
		rideService: rideService,
		userService: userService,
	}
}

// CheckpointRequest is one checkpoint of a ride creation request.
type CheckpointRequest struct {
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters,omitempty"`
}

// CreateRideRequest is the HTTP request body for creating a ride.
type CreateRideRequest struct {
	OrganizerID string              `json:"organizer_id"`
	Title       string              `json:"title"`
	Date        string              `json:"date"` // YYYY-MM-DD
	Checkpoints []CheckpointRequest `json:"checkpoints"`
}

// JoinRideRequest is the HTTP request body for joining a ride.
type JoinRideRequest struct {
	RiderID string `json:"rider_id"`
}

// CheckpointResponse is the HTTP representation of a checkpoint.
type CheckpointResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
	Position     int     `json:"position"`
}

// RideResponse is the HTTP representation of a ride.
type RideResponse struct {
	ID          string               `json:"id"`
	OrganizerID string               `json:"organizer_id"`
	Title       string               `json:"title"`
	Date        string               `json:"date"`
	Checkpoints []CheckpointResponse `json:"checkpoints"`
	Riders      []string             `json:"riders"`
	CreatedAt   string               `json:"created_at,omitempty"`
}

// JoinRideResponse is the HTTP response for joining a ride.
type JoinRideResponse struct {
	Ride   RideResponse `json:"ride"`
	Joined bool         `json:"joined"` // false when the rider was already enrolled
}

// RiderRidesResponse lists a rider's joined and available rides.
type RiderRidesResponse struct {
	Joined    []RideResponse `json:"joined"`
	Available []RideResponse `json:"available"`
}

func toRideResponse(ride *domain.Ride) RideResponse {
	resp := RideResponse{
		ID:          ride.ID,
		OrganizerID: ride.OrganizerID,
		Title:       ride.Title,
		Date:        ride.Date,
		Checkpoints: make([]CheckpointResponse, 0, len(ride.Checkpoints)),
		Riders:      ride.Riders,
	}
	if resp.Riders == nil {
		resp.Riders = []string{}
	}
	if !ride.CreatedAt.IsZero() {
		resp.CreatedAt = ride.CreatedAt.Format(time.RFC3339)
	}
	for _, cp := range ride.Checkpoints {
		resp.Checkpoints = append(resp.Checkpoints, CheckpointResponse{
			ID:           cp.ID,
			Name:         cp.Name,
			Latitude:     cp.Location.Latitude,
			Longitude:    cp.Location.Longitude,
			RadiusMeters: cp.RadiusMeters,
			Position:     cp.Position,
		})
	}
	return resp
}

func toRideResponses(rides []*domain.Ride) []RideResponse {
	out := make([]RideResponse, 0, len(rides))
	for _, ride := range rides {
		out = append(out, toRideResponse(ride))
	}
	return out
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	checkpoints := make([]service.CheckpointInput, 0, len(req.Checkpoints))
	for _, cp := range req.Checkpoints {
		checkpoints = append(checkpoints, service.CheckpointInput{
			Name:         cp.Name,
			Latitude:     cp.Latitude,
			Longitude:    cp.Longitude,
			RadiusMeters: cp.RadiusMeters,
		})
	}

	ride, err := h.rideService.CreateRide(c.Request.Context(), service.CreateRideRequest{
		OrganizerID: req.OrganizerID,
		Title:       req.Title,
		Date:        req.Date,
		Checkpoints: checkpoints,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toRideResponse(ride))
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.rideService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// ListRides handles GET /v1/rides
// With ?rider_id= the rides are split into joined and available.
func (h *RideHandler) ListRides(c *gin.Context) {
	if riderID := c.Query("rider_id"); riderID != "" {
		rides, err := h.rideService.ListForRider(c.Request.Context(), riderID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondJSON(c, http.StatusOK, RiderRidesResponse{
			Joined:    toRideResponses(rides.Joined),
			Available: toRideResponses(rides.Available),
		})
		return
	}

	rides, err := h.rideService.ListRides(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponses(rides))
}

// JoinRide handles POST /v1/rides/:id/join
func (h *RideHandler) JoinRide(c *gin.Context) {
	var req JoinRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	// The name only decorates the join notification.
	riderName := ""
	if h.userService != nil && req.RiderID != "" {
		if user, err := h.userService.GetUser(c.Request.Context(), req.RiderID); err == nil {
			riderName = user.Name
		}
	}

	ride, joined, err := h.rideService.JoinRide(c.Request.Context(), c.Param("id"), req.RiderID, riderName)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, JoinRideResponse{Ride: toRideResponse(ride), Joined: joined})
}
