package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shareit/internal/clock"
	"shareit/internal/domain"
	"shareit/internal/events"
	"shareit/internal/models"
	"shareit/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	ownerID  int64 = 10
	bookerID int64 = 20
	otherID  int64 = 30
)

var (
	testNow = time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	drill   = models.ItemRef{ID: 1, Name: "Drill", OwnerID: ownerID, Available: true}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *recordingPublisher) PublishJSON(eventType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return p.err
}

type fixture struct {
	svc   *BookingService
	store *repository.MemoryBookingStore
	clock *clock.Manual
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	store := repository.NewMemoryBookingStore()
	clk := clock.NewManual(testNow)
	pub := &recordingPublisher{}
	return &fixture{
		svc:   NewBookingService(store, clk, pub, &logger),
		store: store,
		clock: clk,
		pub:   pub,
	}
}

func at(day, hour int) *time.Time {
	t := time.Date(2024, 6, day, hour, 0, 0, 0, time.UTC)
	return &t
}

func (f *fixture) create(t *testing.T, booker int64, item models.ItemRef, start, end *time.Time) *models.Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), booker, item, start, end)
	require.NoError(t, err)
	return b
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		b := f.create(t, bookerID, drill, at(1, 10), at(1, 12))

		assert.NotZero(t, b.ID)
		assert.Equal(t, models.StatusWaiting, b.Status)
		assert.Equal(t, ownerID, b.OwnerID)
		assert.Equal(t, bookerID, b.BookerID)
		assert.Equal(t, "Drill", b.ItemName)
		assert.Equal(t, []string{models.EventBookingCreated}, f.pub.events)
	})

	t.Run("ValidationOrder", func(t *testing.T) {
		f := newFixture(t)
		unavailable := drill
		unavailable.Available = false
		yesterday := testNow.AddDate(0, 0, -1)
		earlierToday := time.Date(2024, 5, 31, 1, 0, 0, 0, time.UTC)

		tests := []struct {
			name       string
			booker     int64
			item       models.ItemRef
			start, end *time.Time
			want       error
		}{
			{"self booking beats everything", ownerID, unavailable, nil, nil, domain.ErrSelfBooking},
			{"unavailable beats missing start", bookerID, unavailable, nil, nil, domain.ErrItemUnavailable},
			{"missing start", bookerID, drill, nil, at(1, 12), domain.ErrMissingStart},
			{"missing end", bookerID, drill, at(1, 10), nil, domain.ErrMissingEnd},
			{"start equals end", bookerID, drill, at(1, 10), at(1, 10), domain.ErrInvalidRange},
			{"start yesterday", bookerID, drill, &yesterday, at(1, 10), domain.ErrPastStart},
			{"end before start", bookerID, drill, at(2, 10), at(1, 10), domain.ErrInvalidRange},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.Create(ctx, tt.booker, tt.item, tt.start, tt.end)
				assert.ErrorIs(t, err, tt.want)
			})
		}

		t.Run("start earlier today is allowed", func(t *testing.T) {
			_, err := f.svc.Create(ctx, bookerID, drill, &earlierToday, at(1, 10))
			assert.NoError(t, err)
		})
	})

	t.Run("DegenerateRangeIgnoresAvailability", func(t *testing.T) {
		f := newFixture(t)
		b := f.create(t, bookerID, drill, at(1, 10), at(1, 12))
		_, err := f.svc.Approve(ctx, b.ID, true, ownerID)
		require.NoError(t, err)

		_, err = f.svc.Create(ctx, otherID, drill, at(1, 11), at(1, 11))
		assert.ErrorIs(t, err, domain.ErrInvalidRange)
	})

	t.Run("OverlapWithApproved", func(t *testing.T) {
		f := newFixture(t)
		b := f.create(t, bookerID, drill, at(1, 10), at(1, 12))
		approved, err := f.svc.Approve(ctx, b.ID, true, ownerID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, approved.Status)

		_, err = f.svc.Create(ctx, otherID, drill, at(1, 11), at(1, 13))
		assert.ErrorIs(t, err, domain.ErrItemNotAvailable)

		touching := f.create(t, otherID, drill, at(1, 12), at(1, 13))
		assert.Equal(t, models.StatusWaiting, touching.Status)
	})

	t.Run("WaitingDoesNotBlock", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, bookerID, drill, at(1, 10), at(1, 12))
		f.create(t, otherID, drill, at(1, 10), at(1, 12))
	})

	t.Run("PublishFailureDoesNotFail", func(t *testing.T) {
		f := newFixture(t)
		f.pub.err = errors.New("bus down")
		f.create(t, bookerID, drill, at(1, 10), at(1, 12))
	})
}

func TestApprove(t *testing.T) {
	ctx := context.Background()

	t.Run("ApproveAndReject", func(t *testing.T) {
		f := newFixture(t)
		a := f.create(t, bookerID, drill, at(1, 10), at(1, 12))
		b := f.create(t, otherID, drill, at(2, 10), at(2, 12))

		got, err := f.svc.Approve(ctx, a.ID, true, ownerID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, got.Status)
		assert.Equal(t, int64(2), got.Version)

		got, err = f.svc.Approve(ctx, b.ID, false, ownerID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, got.Status)

		assert.Equal(t, []string{
			models.EventBookingCreated, models.EventBookingCreated,
			models.EventBookingApproved, models.EventBookingRejected,
		}, f.pub.events)
	})

	t.Run("NotFound", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Approve(ctx, 42, true, ownerID)
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})

	t.Run("BookerCannotApprove", func(t *testing.T) {
		f := newFixture(t)
		b := f.create(t, bookerID, drill, at(1, 10), at(1, 12))
		_, err := f.svc.Approve(ctx, b.ID, true, bookerID)
		assert.ErrorIs(t, err, domain.ErrNotAuthorizedToApprove)
	})

	t.Run("StrangerGetsInvalidTransition", func(t *testing.T) {
		f := newFixture(t)
		b := f.create(t, bookerID, drill, at(1, 10), at(1, 12))
		_, err := f.svc.Approve(ctx, b.ID, true, otherID)
		assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	})

	t.Run("TerminalStatesAreFinal", func(t *testing.T) {
		f := newFixture(t)
		a := f.create(t, bookerID, drill, at(1, 10), at(1, 12))
		b := f.create(t, bookerID, drill, at(3, 10), at(3, 12))
		_, err := f.svc.Approve(ctx, a.ID, true, ownerID)
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, b.ID, false, ownerID)
		require.NoError(t, err)

		for _, id := range []int64{a.ID, b.ID} {
			for _, decision := range []bool{true, false} {
				_, err := f.svc.Approve(ctx, id, decision, ownerID)
				assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
			}
		}
	})

	t.Run("ApprovalRechecksOverlap", func(t *testing.T) {
		f := newFixture(t)
		a := f.create(t, bookerID, drill, at(1, 10), at(1, 12))
		b := f.create(t, otherID, drill, at(1, 11), at(1, 13))

		_, err := f.svc.Approve(ctx, a.ID, true, ownerID)
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, b.ID, true, ownerID)
		assert.ErrorIs(t, err, domain.ErrItemNotAvailable)

		got, err := f.svc.Approve(ctx, b.ID, false, ownerID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, got.Status, "rejecting is still possible")
	})

	t.Run("ConcurrentApprovalsOneWins", func(t *testing.T) {
		f := newFixture(t)
		b := f.create(t, bookerID, drill, at(1, 10), at(1, 12))

		var wg sync.WaitGroup
		var mu sync.Mutex
		var ok, failed int
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(decision bool) {
				defer wg.Done()
				_, err := f.svc.Approve(ctx, b.ID, decision, ownerID)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else if errors.Is(err, domain.ErrInvalidStateTransition) {
					failed++
				}
			}(i%2 == 0)
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
		assert.Equal(t, 9, failed)
	})
}

func TestNonOverlapUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 10; i++ {
		b := f.create(t, bookerID+int64(i), drill, at(1, 8+i%3), at(1, 11+i%3))
		ids = append(ids, b.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = f.svc.Approve(ctx, id, true, ownerID)
		}(id)
	}
	wg.Wait()

	approved, err := f.store.FindBookings(ctx, models.BookingFilter{ItemID: drill.ID, Status: models.StatusApproved})
	require.NoError(t, err)
	require.NotEmpty(t, approved)
	for i := range approved {
		for j := i + 1; j < len(approved); j++ {
			assert.False(t, approved[i].Overlaps(approved[j].Start, approved[j].End),
				"bookings %d and %d overlap", approved[i].ID, approved[j].ID)
		}
	}
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, bookerID, drill, at(1, 10), at(1, 12))

	for _, user := range []int64{bookerID, ownerID} {
		got, err := f.svc.Get(ctx, b.ID, user)
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)
	}

	_, err := f.svc.Get(ctx, b.ID, otherID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorizedToView)

	_, err = f.svc.Get(ctx, 999, bookerID)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("BookerCancelsWaiting", func(t *testing.T) {
		f := newFixture(t)
		b := f.create(t, bookerID, drill, at(1, 10), at(1, 12))
		got, err := f.svc.Cancel(ctx, b.ID, bookerID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCanceled, got.Status)
		assert.Contains(t, f.pub.events, models.EventBookingCanceled)

		_, err = f.svc.Cancel(ctx, b.ID, bookerID)
		assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
		_, err = f.svc.Approve(ctx, b.ID, true, ownerID)
		assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	})

	t.Run("Roles", func(t *testing.T) {
		f := newFixture(t)
		b := f.create(t, bookerID, drill, at(1, 10), at(1, 12))
		_, err := f.svc.Cancel(ctx, b.ID, ownerID)
		assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
		_, err = f.svc.Cancel(ctx, b.ID, otherID)
		assert.ErrorIs(t, err, domain.ErrNotAuthorizedToView)
		_, err = f.svc.Cancel(ctx, 77, bookerID)
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})

	t.Run("ApprovedCannotBeCanceled", func(t *testing.T) {
		f := newFixture(t)
		b := f.create(t, bookerID, drill, at(1, 10), at(1, 12))
		_, err := f.svc.Approve(ctx, b.ID, true, ownerID)
		require.NoError(t, err)
		_, err = f.svc.Cancel(ctx, b.ID, bookerID)
		assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	})
}

func ids(list []*models.Booking) []int64 {
	out := make([]int64, 0, len(list))
	for _, b := range list {
		out = append(out, b.ID)
	}
	return out
}

func TestListQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tent := models.ItemRef{ID: 2, Name: "Tent", OwnerID: otherID, Available: true}

	past := f.create(t, bookerID, drill, at(1, 10), at(1, 12))
	current := f.create(t, bookerID, drill, at(2, 10), at(4, 10))
	future := f.create(t, bookerID, tent, at(5, 10), at(5, 12))
	_, err := f.svc.Approve(ctx, current.ID, true, ownerID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, past.ID, false, ownerID)
	require.NoError(t, err)

	f.clock.Set(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC))

	mustState := func(s string) State {
		st, err := ParseState(s)
		require.NoError(t, err)
		return st
	}

	t.Run("BookerStates", func(t *testing.T) {
		tests := []struct {
			state string
			want  []int64
		}{
			{"", []int64{future.ID, current.ID, past.ID}},
			{"ALL", []int64{future.ID, current.ID, past.ID}},
			{"CURRENT", []int64{current.ID}},
			{"PAST", []int64{past.ID}},
			{"FUTURE", []int64{future.ID}},
			{"APPROVED", []int64{current.ID}},
			{"REJECTED", []int64{past.ID}},
			{"WAITING", []int64{future.ID}},
			{"CANCELED", []int64{}},
		}
		for _, tt := range tests {
			t.Run("state="+tt.state, func(t *testing.T) {
				got, err := f.svc.ListForBooker(ctx, bookerID, mustState(tt.state), Page{})
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids(got))
			})
		}
	})

	t.Run("OwnerSeesOnlyOwnItems", func(t *testing.T) {
		got, err := f.svc.ListForOwner(ctx, ownerID, mustState("ALL"), Page{})
		require.NoError(t, err)
		assert.Equal(t, []int64{current.ID, past.ID}, ids(got))

		got, err = f.svc.ListForOwner(ctx, otherID, mustState("FUTURE"), Page{})
		require.NoError(t, err)
		assert.Equal(t, []int64{future.ID}, ids(got))
	})

	t.Run("ZeroUserIDMatchesNothing", func(t *testing.T) {
		got, err := f.svc.ListForBooker(ctx, 0, mustState("ALL"), Page{})
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = f.svc.ListForOwner(ctx, 0, mustState("ALL"), Page{})
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = f.svc.ListForItem(ctx, drill.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = f.svc.ListForItem(ctx, 0, ownerID)
		require.NoError(t, err)
		assert.Empty(t, got)

		summary, err := f.svc.ItemSummary(ctx, drill.ID, 0)
		require.NoError(t, err)
		assert.Nil(t, summary.Last)
		assert.Nil(t, summary.Next)

		found, err := f.svc.HasPastBooking(ctx, 0, drill.ID)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("ZeroUserIDStillValidatesPage", func(t *testing.T) {
		_, err := f.svc.ListForBooker(ctx, 0, mustState("ALL"), NewPage(0, 0))
		assert.ErrorIs(t, err, domain.ErrInvalidPagination)
	})

	t.Run("PaginationWindow", func(t *testing.T) {
		got, err := f.svc.ListForBooker(ctx, bookerID, mustState("ALL"), NewPage(1, 1))
		require.NoError(t, err)
		assert.Equal(t, []int64{current.ID}, ids(got))

		got, err = f.svc.ListForBooker(ctx, bookerID, mustState("ALL"), NewPage(2, 10))
		require.NoError(t, err)
		assert.Equal(t, []int64{past.ID}, ids(got))

		got, err = f.svc.ListForBooker(ctx, bookerID, mustState("ALL"), NewPage(10, 10))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("InvalidPagination", func(t *testing.T) {
		zero := 0
		for _, p := range []Page{NewPage(0, 0), NewPage(-1, 14), {From: &zero}, {Size: &zero}} {
			_, err := f.svc.ListForBooker(ctx, bookerID, mustState("ALL"), p)
			assert.ErrorIs(t, err, domain.ErrInvalidPagination)
		}
	})

	t.Run("ListForItem", func(t *testing.T) {
		got, err := f.svc.ListForItem(ctx, drill.ID, ownerID)
		require.NoError(t, err)
		assert.Equal(t, []int64{past.ID, current.ID}, ids(got))

		got, err = f.svc.ListForItem(ctx, drill.ID, otherID)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ItemSummary", func(t *testing.T) {
		later := f.create(t, otherID+1, drill, at(6, 10), at(6, 12))
		f.create(t, otherID+1, drill, at(7, 10), at(8, 12))

		s, err := f.svc.ItemSummary(ctx, drill.ID, ownerID)
		require.NoError(t, err)
		require.NotNil(t, s.Last)
		require.NotNil(t, s.Next)
		assert.Equal(t, past.ID, s.Last.ID)
		assert.Equal(t, later.ID, s.Next.ID)

		s, err = f.svc.ItemSummary(ctx, drill.ID, otherID)
		require.NoError(t, err)
		assert.Nil(t, s.Last)
		assert.Nil(t, s.Next)
	})

	t.Run("HasPastBooking", func(t *testing.T) {
		ok, err := f.svc.HasPastBooking(ctx, bookerID, drill.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = f.svc.HasPastBooking(ctx, bookerID, tent.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockStore) FindBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func (m *mockStore) WithinItemLock(ctx context.Context, itemID int64, fn func(tx domain.BookingTx) error) error {
	return m.Called(ctx, itemID).Error(0)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestStoreErrorsPropagate(t *testing.T) {
	logger := zerolog.Nop()
	store := new(mockStore)
	svc := NewBookingService(store, clock.NewManual(testNow), events.NewEventBus(nil), &logger)
	ctx := context.Background()
	boom := errors.New("store unreachable")

	store.On("WithinItemLock", ctx, drill.ID).Return(boom).Once()
	_, err := svc.Create(ctx, bookerID, drill, at(1, 10), at(1, 12))
	assert.ErrorIs(t, err, boom)

	store.On("GetBooking", ctx, int64(5)).Return(nil, boom).Once()
	_, err = svc.Get(ctx, 5, bookerID)
	assert.ErrorIs(t, err, boom)

	store.On("FindBookings", ctx, mock.Anything).Return(nil, boom).Once()
	_, err = svc.ListForItem(ctx, 1, ownerID)
	assert.ErrorIs(t, err, boom)

	store.AssertExpectations(t)
}
