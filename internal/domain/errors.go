package domain

import "errors"

// Creation.
var (
	ErrSelfBooking      = errors.New("owner cannot book own item")
	ErrItemUnavailable  = errors.New("item is not available for booking")
	ErrMissingStart     = errors.New("booking start is required")
	ErrMissingEnd       = errors.New("booking end is required")
	ErrInvalidRange     = errors.New("invalid booking interval")
	ErrPastStart        = errors.New("booking start is in the past")
	ErrItemNotAvailable = errors.New("item is already booked for this interval")
)

// Approval and reads.
var (
	ErrBookingNotFound        = errors.New("booking not found")
	ErrNotAuthorizedToApprove = errors.New("booker cannot approve own booking")
	ErrInvalidStateTransition = errors.New("booking state cannot be updated")
	ErrNotAuthorizedToView    = errors.New("booking is visible only to booker or owner")
)

// Queries.
var (
	ErrUnknownState      = errors.New("unknown state")
	ErrInvalidPagination = errors.New("invalid pagination: size <= 0 || from < 0")
)

// Collaborators.
var (
	ErrItemNotFound           = errors.New("item not found")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
	ErrRateLimited            = errors.New("rate limit exceeded")
)
