package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusCanceled Status = "CANCELED"
)

var allStatuses = []Status{StatusWaiting, StatusApproved, StatusRejected, StatusCanceled}

// AllStatuses returns every known status.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus matches s exactly against the known status names.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s != StatusWaiting
}

// Label is the human readable form used in notifications and exports.
func (s Status) Label() string {
	return strings.ToLower(string(s))
}

type Booking struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"itemId"`
	ItemName  string    `json:"itemName,omitempty"`
	BookerID  int64     `json:"bookerId"`
	OwnerID   int64     `json:"ownerId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

// Overlaps reports whether the half-open intervals [b.Start, b.End) and [start, end) intersect.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && start.Before(b.End)
}

// SortOrder selects how store queries order bookings by start.
type SortOrder int

const (
	StartDesc SortOrder = iota
	StartAsc
)

// BookingFilter narrows a store query. Zero values mean "unset".
type BookingFilter struct {
	BookerID int64
	OwnerID  int64
	ItemID   int64
	Status   Status

	// Strict bounds, compared with Before/After.
	StartBefore time.Time
	StartAfter  time.Time
	EndBefore   time.Time
	EndAfter    time.Time

	ExcludeID int64

	Order  SortOrder
	Offset int
	Limit  int
}

// Match applies every predicate except ordering and paging.
func (f BookingFilter) Match(b *Booking) bool {
	if f.BookerID != 0 && b.BookerID != f.BookerID {
		return false
	}
	if f.OwnerID != 0 && b.OwnerID != f.OwnerID {
		return false
	}
	if f.ItemID != 0 && b.ItemID != f.ItemID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.ExcludeID != 0 && b.ID == f.ExcludeID {
		return false
	}
	if !f.StartBefore.IsZero() && !b.Start.Before(f.StartBefore) {
		return false
	}
	if !f.StartAfter.IsZero() && !b.Start.After(f.StartAfter) {
		return false
	}
	if !f.EndBefore.IsZero() && !b.End.Before(f.EndBefore) {
		return false
	}
	if !f.EndAfter.IsZero() && !b.End.After(f.EndAfter) {
		return false
	}
	return true
}

// Less orders a before b under f.Order, ties broken by id in the same direction.
func (f BookingFilter) Less(a, b *Booking) bool {
	if f.Order == StartAsc {
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.After(b.Start)
	}
	return a.ID > b.ID
}

// Window slices an ordered result by Offset and Limit.
func (f BookingFilter) Window(bookings []*Booking) []*Booking {
	if f.Offset >= len(bookings) {
		return []*Booking{}
	}
	if f.Offset > 0 {
		bookings = bookings[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(bookings) {
		bookings = bookings[:f.Limit]
	}
	return bookings
}

// ItemSummary holds the most recent finished and the nearest upcoming booking of an item.
type ItemSummary struct {
	ItemID int64    `json:"itemId"`
	Last   *Booking `json:"lastBooking"`
	Next   *Booking `json:"nextBooking"`
}
