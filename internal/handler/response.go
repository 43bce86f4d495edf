package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"groupride/internal/location"
	"groupride/internal/repository"
	"groupride/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// apiError is an entry of the error catalogue.
type apiError struct {
	status  int
	code    string
	message string
}

var errUnknown = apiError{http.StatusInternalServerError, "UNKNOWN_ERROR", "Something went wrong. Please try again."}

// respondError sends an error response with the appropriate HTTP status and code.
func respondError(c *gin.Context, err error) {
	e := lookupError(err)
	c.JSON(e.status, ErrorResponse{Error: err.Error(), Code: e.code, Message: e.message})
}

// respondBadRequest sends a 400 for malformed request bodies.
func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "REQ_001", Message: "The request could not be read."})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// lookupError maps service/repository errors to the error catalogue.
func lookupError(err error) apiError {
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		return apiError{http.StatusForbidden, "LOC_001", "Location permission is required for check-ins"}
	case errors.Is(err, service.ErrStoreUnavailable):
		return apiError{http.StatusServiceUnavailable, "NET_001", "Live ride data is unavailable. Showing last known data."}

	// Not found errors
	case errors.Is(err, service.ErrRideNotFound):
		return apiError{http.StatusNotFound, "RIDE_404", "Ride not found"}
	case errors.Is(err, repository.ErrNotFound):
		return apiError{http.StatusNotFound, "NOT_FOUND", "Not found"}
	case errors.Is(err, service.ErrCheckpointNotFound):
		return apiError{http.StatusNotFound, "CHK_404", "Checkpoint not found on this ride"}

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidRideID),
		errors.Is(err, service.ErrInvalidRiderID),
		errors.Is(err, service.ErrInvalidOrganizerID):
		return apiError{http.StatusBadRequest, "RIDE_001", "A ride and rider are required"}
	case errors.Is(err, service.ErrInvalidTitle),
		errors.Is(err, service.ErrInvalidRideDate),
		errors.Is(err, service.ErrNoCheckpoints),
		errors.Is(err, service.ErrInvalidCheckpoint):
		return apiError{http.StatusBadRequest, "RIDE_002", "Please fill in the ride title, date and checkpoints"}
	case errors.Is(err, service.ErrInvalidLocation):
		return apiError{http.StatusBadRequest, "RIDE_003", "Coordinates are out of range"}
	case errors.Is(err, service.ErrInvalidUserName),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrInvalidRole):
		return apiError{http.StatusBadRequest, "USER_001", "Please enter a name, a valid email address and a role"}

	// Conflict / forbidden
	case errors.Is(err, service.ErrUserExists),
		errors.Is(err, repository.ErrDuplicate):
		return apiError{http.StatusConflict, "USER_409", "An account with this email already exists"}
	case errors.Is(err, service.ErrRiderNotEnrolled):
		return apiError{http.StatusForbidden, "RIDE_403", "Join the ride first"}

	default:
		return errUnknown
	}
}

// rejectionCodes maps check-in rejections to catalogue codes and messages.
var rejectionCodes = map[service.RejectReason]apiError{
	service.RejectMissingRider:      {http.StatusOK, "CHK_001", "A rider is required to check in"},
	service.RejectMissingCheckpoint: {http.StatusOK, "CHK_001", "A checkpoint is required to check in"},
	service.RejectMissingRide:       {http.StatusOK, "CHK_001", "The ride could not be found"},
	service.RejectUnknownCheckpoint: {http.StatusOK, "CHK_002", "This checkpoint is not part of the ride"},
	service.RejectNoPosition:        {http.StatusOK, "CHK_003", "Your position is not available yet"},
	service.RejectPermissionDenied:  {http.StatusOK, "LOC_001", "Location permission is required for check-ins"},
	service.RejectOutOfRange:        {http.StatusOK, "CHK_004", "You are not within range of the checkpoint"},
}
