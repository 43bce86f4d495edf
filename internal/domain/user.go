package domain

import "time"

// UserRole distinguishes ride organizers from riders.
type UserRole string

const (
	UserRoleOrganizer UserRole = "organizer"
	UserRoleRider     UserRole = "rider"
)

// User is a registered organizer or rider.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      UserRole
	CreatedAt time.Time
}
