package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"groupride/internal/geo"
	"groupride/internal/service"
)

// CheckInHandler handles HTTP requests for check-ins.
type CheckInHandler struct {
	checkInService  *service.CheckInService
	trackingService *service.TrackingService
}

// NewCheckInHandler creates a new CheckInHandler. trackingService may be nil,
// in which case a position is required in every request.
func NewCheckInHandler(checkInService *service.CheckInService, trackingService *service.TrackingService) *CheckInHandler {
	return &CheckInHandler{
		checkInService:  checkInService,
		trackingService: trackingService,
	}
}

// CheckInRequest is the HTTP request body for a check-in. Without coordinates
// the rider's last shared position is used.
type CheckInRequest struct {
	RiderID   string   `json:"rider_id"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// CheckInView is the stored check-in record.
type CheckInView struct {
	RecordID     string    `json:"record_id"`
	RiderID      string    `json:"rider_id"`
	CheckpointID string    `json:"checkpoint_id"`
	Timestamp    int64     `json:"timestamp"`
	Location     geo.Point `json:"location"`
}

// CheckInResponse is the HTTP response for a check-in attempt.
type CheckInResponse struct {
	Accepted       bool         `json:"accepted"`
	CheckIn        *CheckInView `json:"checkin,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Code           string       `json:"code,omitempty"`
	Message        string       `json:"message,omitempty"`
	DistanceMeters *float64     `json:"distance_meters,omitempty"`
}

// CheckIn handles POST /v1/rides/:id/checkpoints/:checkpoint/checkins
// Accepted check-ins return 201; rejections return 200 with accepted=false.
func (h *CheckInHandler) CheckIn(c *gin.Context) {
	var req CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	submit := service.SubmitCheckInRequest{
		RideID:       c.Param("id"),
		CheckpointID: c.Param("checkpoint"),
		RiderID:      req.RiderID,
	}

	var (
		result *service.CheckInResult
		err    error
	)
	switch {
	case req.Latitude != nil && req.Longitude != nil:
		submit.Position = &geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
		if !geo.Valid(*submit.Position) {
			respondError(c, service.ErrInvalidLocation)
			return
		}
		result, err = h.checkInService.Submit(c.Request.Context(), submit)
	case h.trackingService != nil:
		result, err = h.trackingService.CheckInAtSharedPosition(c.Request.Context(), submit)
	default:
		result, err = h.checkInService.Submit(c.Request.Context(), submit)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, checkInStatus(result), toCheckInResponse(result))
}

func checkInStatus(result *service.CheckInResult) int {
	if result.Accepted {
		return http.StatusCreated
	}
	return http.StatusOK
}

func toCheckInResponse(result *service.CheckInResult) CheckInResponse {
	resp := CheckInResponse{Accepted: result.Accepted}
	if result.Accepted || result.Reason == service.RejectOutOfRange {
		d := result.DistanceMeters
		resp.DistanceMeters = &d
	}
	if result.Accepted && result.CheckIn != nil {
		resp.CheckIn = &CheckInView{
			RecordID:     result.RecordID,
			RiderID:      result.CheckIn.RiderID,
			CheckpointID: result.CheckIn.CheckpointID,
			Timestamp:    result.CheckIn.Timestamp,
			Location:     result.CheckIn.Location,
		}
		return resp
	}

	resp.Reason = string(result.Reason)
	if e, ok := rejectionCodes[result.Reason]; ok {
		resp.Code = e.code
		resp.Message = e.message
	}
	return resp
}
