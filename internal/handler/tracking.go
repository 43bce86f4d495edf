package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"groupride/internal/geo"
	"groupride/internal/service"
)

// TrackingHandler handles HTTP requests for position sharing.
type TrackingHandler struct {
	trackingService *service.TrackingService
}

// NewTrackingHandler creates a new TrackingHandler.
func NewTrackingHandler(trackingService *service.TrackingService) *TrackingHandler {
	return &TrackingHandler{trackingService: trackingService}
}

// PositionRequest is the HTTP request body for a position report.
type PositionRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// NearbyRiderResponse is a rider inside a checkpoint radius.
type NearbyRiderResponse struct {
	RiderID        string  `json:"rider_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	DistanceMeters float64 `json:"distance_meters"`
}

// AutoCheckInResponse reports whether automatic check-in is running.
type AutoCheckInResponse struct {
	RideID  string `json:"ride_id"`
	RiderID string `json:"rider_id"`
	Active  bool   `json:"active"`
}

// UpdatePosition handles PUT /v1/rides/:id/riders/:rider/position
func (h *TrackingHandler) UpdatePosition(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Latitude == nil || req.Longitude == nil {
		respondBadRequest(c, "latitude and longitude are required")
		return
	}

	p := geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := h.trackingService.UpdatePosition(c.Request.Context(), c.Param("id"), c.Param("rider"), p); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// StopSharing handles DELETE /v1/rides/:id/riders/:rider/position
func (h *TrackingHandler) StopSharing(c *gin.Context) {
	if err := h.trackingService.StopSharing(c.Request.Context(), c.Param("id"), c.Param("rider")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RidersNear handles GET /v1/rides/:id/checkpoints/:checkpoint/nearby
func (h *TrackingHandler) RidersNear(c *gin.Context) {
	riders, err := h.trackingService.RidersNear(c.Request.Context(), c.Param("id"), c.Param("checkpoint"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]NearbyRiderResponse, 0, len(riders))
	for _, r := range riders {
		response = append(response, NearbyRiderResponse{
			RiderID:        r.RiderID,
			Latitude:       r.Lat,
			Longitude:      r.Lng,
			DistanceMeters: r.DistanceMeters,
		})
	}

	respondJSON(c, http.StatusOK, response)
}

// StartAutoCheckIn handles POST /v1/rides/:id/riders/:rider/auto-checkin
func (h *TrackingHandler) StartAutoCheckIn(c *gin.Context) {
	rideID, riderID := c.Param("id"), c.Param("rider")
	if err := h.trackingService.StartAutoCheckIn(c.Request.Context(), rideID, riderID); err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, AutoCheckInResponse{RideID: rideID, RiderID: riderID, Active: true})
}

// StopAutoCheckIn handles DELETE /v1/rides/:id/riders/:rider/auto-checkin
func (h *TrackingHandler) StopAutoCheckIn(c *gin.Context) {
	rideID, riderID := c.Param("id"), c.Param("rider")
	h.trackingService.StopAutoCheckIn(rideID, riderID)

	respondJSON(c, http.StatusOK, AutoCheckInResponse{RideID: rideID, RiderID: riderID, Active: false})
}

// AutoCheckInStatus handles GET /v1/rides/:id/riders/:rider/auto-checkin
func (h *TrackingHandler) AutoCheckInStatus(c *gin.Context) {
	rideID, riderID := c.Param("id"), c.Param("rider")

	respondJSON(c, http.StatusOK, AutoCheckInResponse{
		RideID:  rideID,
		RiderID: riderID,
		Active:  h.trackingService.AutoCheckInActive(rideID, riderID),
	})
}
