package service

import "errors"

var (
	// ErrInvalidRiderID is returned when rider ID is empty.
	ErrInvalidRiderID = errors.New("invalid rider id")

	// ErrInvalidRideID is returned when ride ID is empty.
	ErrInvalidRideID = errors.New("invalid ride id")

	// ErrInvalidOrganizerID is returned when organizer ID is empty.
	ErrInvalidOrganizerID = errors.New("invalid organizer id")

	// ErrInvalidTitle is returned when a ride is created without a title.
	ErrInvalidTitle = errors.New("invalid ride title")

	// ErrInvalidRideDate is returned when the ride date is not YYYY-MM-DD.
	ErrInvalidRideDate = errors.New("invalid ride date")

	// ErrNoCheckpoints is returned when a ride is created without checkpoints.
	ErrNoCheckpoints = errors.New("ride needs at least one checkpoint")

	// ErrInvalidCheckpoint is returned when a checkpoint has no name or a bad radius.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrRideNotFound is returned when the ride does not exist.
	ErrRideNotFound = errors.New("ride not found")

	// ErrCheckpointNotFound is returned when the checkpoint does not belong to the ride.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrRiderNotEnrolled is returned when a rider acts on a ride they have not joined.
	ErrRiderNotEnrolled = errors.New("rider not enrolled in ride")

	// ErrStoreUnavailable wraps shared store failures that survived client retries.
	ErrStoreUnavailable = errors.New("shared store unavailable")

	// ErrInvalidUserName is returned when user name is empty.
	ErrInvalidUserName = errors.New("invalid user name")

	// ErrInvalidEmail is returned when the email address is malformed.
	ErrInvalidEmail = errors.New("invalid email")

	// ErrInvalidRole is returned for roles other than organizer or rider.
	ErrInvalidRole = errors.New("invalid user role")

	// ErrUserExists is returned when the email is already registered.
	ErrUserExists = errors.New("user already exists")
)
