package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"
)

// MemoryBookingStore keeps bookings in process memory.
// Per-item mutexes serialize WithinItemLock; an RWMutex guards the data itself.
type MemoryBookingStore struct {
	mu       sync.RWMutex
	bookings map[int64]models.Booking
	nextID   int64

	itemLocks sync.Map
	now       func() time.Time
}

func NewMemoryBookingStore() *MemoryBookingStore {
	return &MemoryBookingStore{
		bookings: make(map[int64]models.Booking),
		now:      time.Now,
	}
}

func (s *MemoryBookingStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryBookingStore) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrBookingNotFound, id)
	}
	return &b, nil
}

func (s *MemoryBookingStore) FindBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	s.mu.RLock()
	out := make([]*models.Booking, 0)
	for _, b := range s.bookings {
		if filter.Match(&b) {
			cp := b
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return filter.Less(out[i], out[j]) })
	return filter.Window(out), nil
}

func (s *MemoryBookingStore) WithinItemLock(ctx context.Context, itemID int64, fn func(tx domain.BookingTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock, _ := s.itemLocks.LoadOrStore(itemID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return fn(s)
}

func (s *MemoryBookingStore) InsertBooking(ctx context.Context, booking *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.nextID++
	booking.ID = s.nextID
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	s.bookings[booking.ID] = *booking
	return nil
}

func (s *MemoryBookingStore) UpdateBookingStatus(ctx context.Context, id, version int64, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrBookingNotFound, id)
	}
	if b.Version != version {
		return domain.ErrConcurrentModification
	}
	b.Status = status
	b.Version++
	b.UpdatedAt = s.now()
	s.bookings[id] = b
	return nil
}
