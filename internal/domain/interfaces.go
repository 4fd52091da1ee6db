package domain

import (
	"context"
	"time"

	"shareit/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BookingReader is the read side of the reservation store.
type BookingReader interface {
	// GetBooking wraps ErrBookingNotFound when id is absent.
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	FindBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
}

// BookingTx is the view of the store inside an item critical section.
type BookingTx interface {
	BookingReader
	InsertBooking(ctx context.Context, booking *models.Booking) error
	// UpdateBookingStatus is a compare-and-set on version and returns ErrConcurrentModification when it loses.
	UpdateBookingStatus(ctx context.Context, id, version int64, status models.Status) error
}

// BookingStore serializes read-check-write sequences per item.
type BookingStore interface {
	BookingReader
	WithinItemLock(ctx context.Context, itemID int64, fn func(tx BookingTx) error) error
	Ping(ctx context.Context) error
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type ItemCatalog interface {
	GetItem(ctx context.Context, id int64) (models.ItemRef, error)
	ListItems(ctx context.Context) []models.Item
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type SheetsWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID int64, status models.Status) error
}

// SyncTaskStore persists sheets sync jobs.
type SyncTaskStore interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]*models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status string, lastError string, nextRetryAt *time.Time) error
}
