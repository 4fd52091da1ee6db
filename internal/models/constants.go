package models

const (
	// UserIDHeader carries the acting user, set by the gateway.
	UserIDHeader = "X-Sharer-User-Id"

	// BookingEventsChannel is the Redis pub/sub channel for booking events.
	BookingEventsChannel = "shareit:bookings"

	// WorkerQueueSize is the in-memory buffer of the sheets worker.
	WorkerQueueSize = 1000

	// DefaultCreateLimit bookings per booker per window.
	DefaultCreateLimit = 10

	// DefaultCreateWindow in seconds.
	DefaultCreateWindow = 60
)

const (
	EventBookingCreated  = "booking_created"
	EventBookingApproved = "booking_approved"
	EventBookingRejected = "booking_rejected"
	EventBookingCanceled = "booking_canceled"
)

const (
	SyncTaskUpsert = "upsert"
	SyncTaskStatus = "update_status"

	SyncStatusPending   = "pending"
	SyncStatusRetry     = "retry"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)
