package service

import "shareit/internal/models"

// Role is the relation of a user to a booking.
type Role int

const (
	RoleNeither Role = iota
	RoleBooker
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleBooker:
		return "booker"
	case RoleOwner:
		return "owner"
	default:
		return "neither"
	}
}

// RoleOf resolves userID against b. Booker wins because a booker never owns the item.
func RoleOf(userID int64, b *models.Booking) Role {
	switch userID {
	case b.BookerID:
		return RoleBooker
	case b.OwnerID:
		return RoleOwner
	default:
		return RoleNeither
	}
}
