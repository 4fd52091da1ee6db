package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shareit/internal/clock"
	"shareit/internal/domain"
	"shareit/internal/events"
	"shareit/internal/metrics"
	"shareit/internal/models"

	"github.com/rs/zerolog"
)

// BookingService is the reservation engine.
type BookingService struct {
	store    domain.BookingStore
	clock    clock.Clock
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewBookingService(store domain.BookingStore, clk clock.Clock, eventBus domain.EventPublisher, logger *zerolog.Logger) *BookingService {
	if clk == nil {
		clk = clock.System{}
	}
	return &BookingService{
		store:    store,
		clock:    clk,
		eventBus: eventBus,
		logger:   logger,
	}
}

// Create validates the request and stores a WAITING booking.
func (s *BookingService) Create(ctx context.Context, bookerID int64, item models.ItemRef, start, end *time.Time) (*models.Booking, error) {
	if err := s.validateCreate(bookerID, item, start, end); err != nil {
		s.recordFailure(err)
		return nil, err
	}

	booking := &models.Booking{
		ItemID:   item.ID,
		ItemName: item.Name,
		BookerID: bookerID,
		OwnerID:  item.OwnerID,
		Start:    *start,
		End:      *end,
		Status:   models.StatusWaiting,
	}

	err := s.store.WithinItemLock(ctx, item.ID, func(tx domain.BookingTx) error {
		ok, err := IsAvailable(ctx, tx, item.ID, booking.Start, booking.End, 0)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: item %d", domain.ErrItemNotAvailable, item.ID)
		}
		return tx.InsertBooking(ctx, booking)
	})
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("item_id", booking.ItemID).
		Int64("booker_id", bookerID).
		Msg("booking created")
	metrics.IncBooking("created")
	s.publishEvent(models.EventBookingCreated, booking, bookerID)

	return booking, nil
}

func (s *BookingService) validateCreate(bookerID int64, item models.ItemRef, start, end *time.Time) error {
	if item.OwnerID == bookerID {
		return fmt.Errorf("%w: item %d", domain.ErrSelfBooking, item.ID)
	}
	if !item.Available {
		return fmt.Errorf("%w: item %d", domain.ErrItemUnavailable, item.ID)
	}
	if start == nil {
		return domain.ErrMissingStart
	}
	if end == nil {
		return domain.ErrMissingEnd
	}
	if start.Equal(*end) {
		return fmt.Errorf("%w: start equals end", domain.ErrInvalidRange)
	}

	now := s.clock.Now()
	today := clock.StartOfDay(now)
	if clock.StartOfDay(start.In(now.Location())).Before(today) {
		return fmt.Errorf("%w: %s", domain.ErrPastStart, start.Format(time.RFC3339))
	}
	if end.Before(*start) {
		return fmt.Errorf("%w: end before start", domain.ErrInvalidRange)
	}
	if clock.StartOfDay(end.In(now.Location())).Before(today) {
		return fmt.Errorf("%w: end in the past", domain.ErrInvalidRange)
	}
	return nil
}

// Approve resolves a WAITING booking. Only the item owner may do it.
func (s *BookingService) Approve(ctx context.Context, bookingID int64, approved bool, actingUserID int64) (*models.Booking, error) {
	current, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	var updated *models.Booking
	err = s.store.WithinItemLock(ctx, current.ItemID, func(tx domain.BookingTx) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}

		role := RoleOf(actingUserID, b)
		if role == RoleBooker {
			return fmt.Errorf("%w: booking %d", domain.ErrNotAuthorizedToApprove, bookingID)
		}
		if role != RoleOwner || b.Status != models.StatusWaiting {
			return fmt.Errorf("%w: booking %d", domain.ErrInvalidStateTransition, bookingID)
		}

		next := models.StatusRejected
		if approved {
			ok, err := IsAvailable(ctx, tx, b.ItemID, b.Start, b.End, b.ID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: item %d", domain.ErrItemNotAvailable, b.ItemID)
			}
			next = models.StatusApproved
		}

		if err := tx.UpdateBookingStatus(ctx, b.ID, b.Version, next); err != nil {
			return err
		}
		updated, err = tx.GetBooking(ctx, b.ID)
		return err
	})
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	event, label := models.EventBookingRejected, "rejected"
	if updated.Status == models.StatusApproved {
		event, label = models.EventBookingApproved, "approved"
	}
	s.logger.Info().
		Int64("booking_id", updated.ID).
		Int64("owner_id", actingUserID).
		Str("status", updated.Status.String()).
		Msg("booking resolved")
	metrics.IncBooking(label)
	s.publishEvent(event, updated, actingUserID)

	return updated, nil
}

// Cancel withdraws a WAITING booking on behalf of its booker.
func (s *BookingService) Cancel(ctx context.Context, bookingID int64, actingUserID int64) (*models.Booking, error) {
	current, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var updated *models.Booking
	err = s.store.WithinItemLock(ctx, current.ItemID, func(tx domain.BookingTx) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}

		switch RoleOf(actingUserID, b) {
		case RoleNeither:
			return fmt.Errorf("%w: booking %d", domain.ErrNotAuthorizedToView, bookingID)
		case RoleOwner:
			return fmt.Errorf("%w: owner cannot cancel booking %d", domain.ErrInvalidStateTransition, bookingID)
		}
		if b.Status.Terminal() {
			return fmt.Errorf("%w: booking %d is %s", domain.ErrInvalidStateTransition, bookingID, b.Status)
		}

		if err := tx.UpdateBookingStatus(ctx, b.ID, b.Version, models.StatusCanceled); err != nil {
			return err
		}
		updated, err = tx.GetBooking(ctx, b.ID)
		return err
	})
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	s.logger.Info().Int64("booking_id", updated.ID).Msg("booking canceled")
	metrics.IncBooking("canceled")
	s.publishEvent(models.EventBookingCanceled, updated, actingUserID)

	return updated, nil
}

// Get returns the booking if userID is its booker or item owner.
func (s *BookingService) Get(ctx context.Context, bookingID int64, userID int64) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if RoleOf(userID, b) == RoleNeither {
		return nil, fmt.Errorf("%w: booking %d", domain.ErrNotAuthorizedToView, bookingID)
	}
	return b, nil
}

// knownIDs reports whether every id can name a stored user or item.
// Zero filter fields mean "unset", so a zero id must never reach the store.
func knownIDs(ids ...int64) bool {
	for _, id := range ids {
		if id <= 0 {
			return false
		}
	}
	return true
}

func (s *BookingService) ListForBooker(ctx context.Context, bookerID int64, state State, page Page) ([]*models.Booking, error) {
	return s.list(ctx, bookerID, models.BookingFilter{BookerID: bookerID}, state, page)
}

func (s *BookingService) ListForOwner(ctx context.Context, ownerID int64, state State, page Page) ([]*models.Booking, error) {
	return s.list(ctx, ownerID, models.BookingFilter{OwnerID: ownerID}, state, page)
}

func (s *BookingService) list(ctx context.Context, userID int64, filter models.BookingFilter, state State, page Page) ([]*models.Booking, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if !knownIDs(userID) {
		return []*models.Booking{}, nil
	}
	state.Apply(&filter, s.clock.Now())
	page.apply(&filter)
	filter.Order = models.StartDesc
	return s.store.FindBookings(ctx, filter)
}

// ListForItem returns the bookings of an item owned by ownerID, earliest start first.
func (s *BookingService) ListForItem(ctx context.Context, itemID, ownerID int64) ([]*models.Booking, error) {
	if !knownIDs(itemID, ownerID) {
		return []*models.Booking{}, nil
	}
	return s.store.FindBookings(ctx, models.BookingFilter{
		ItemID:  itemID,
		OwnerID: ownerID,
		Order:   models.StartAsc,
	})
}

// ItemSummary picks the last finished and the next upcoming booking of an item.
func (s *BookingService) ItemSummary(ctx context.Context, itemID, ownerID int64) (*models.ItemSummary, error) {
	bookings, err := s.ListForItem(ctx, itemID, ownerID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	summary := &models.ItemSummary{ItemID: itemID}
	for _, b := range bookings {
		if b.End.Before(now) && (summary.Last == nil || b.End.After(summary.Last.End)) {
			summary.Last = b
		}
		if b.Start.After(now) && (summary.Next == nil || b.End.Before(summary.Next.End)) {
			summary.Next = b
		}
	}
	return summary, nil
}

// HasPastBooking reports whether bookerID finished a booking of itemID.
func (s *BookingService) HasPastBooking(ctx context.Context, bookerID, itemID int64) (bool, error) {
	if !knownIDs(bookerID, itemID) {
		return false, nil
	}
	found, err := s.store.FindBookings(ctx, models.BookingFilter{
		BookerID:  bookerID,
		ItemID:    itemID,
		EndBefore: s.clock.Now(),
		Limit:     1,
	})
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, changedByID int64) {
	if s.eventBus == nil {
		return
	}

	payload := events.NewBookingPayload(booking, changedByID)
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

var failureReasons = []struct {
	err    error
	reason string
}{
	{domain.ErrSelfBooking, "self_booking"},
	{domain.ErrItemUnavailable, "item_unavailable"},
	{domain.ErrMissingStart, "missing_start"},
	{domain.ErrMissingEnd, "missing_end"},
	{domain.ErrInvalidRange, "invalid_range"},
	{domain.ErrPastStart, "past_start"},
	{domain.ErrItemNotAvailable, "overlap"},
	{domain.ErrBookingNotFound, "not_found"},
	{domain.ErrNotAuthorizedToApprove, "self_approve"},
	{domain.ErrInvalidStateTransition, "invalid_transition"},
	{domain.ErrNotAuthorizedToView, "not_authorized"},
	{domain.ErrConcurrentModification, "concurrent_modification"},
}

func (s *BookingService) recordFailure(err error) {
	for _, fr := range failureReasons {
		if errors.Is(err, fr.err) {
			metrics.IncBookingFailure(fr.reason)
			return
		}
	}
	s.logger.Error().Err(err).Msg("booking store error")
}
