package service

import (
	"fmt"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"
)

// StateKind selects one of the query modes of list operations.
type StateKind int

const (
	StateAll StateKind = iota
	StateCurrent
	StatePast
	StateFuture
	StateStatus
)

// State is a parsed query mode. Status is set only for StateStatus.
type State struct {
	Kind   StateKind
	Status models.Status
}

// ParseState accepts "", ALL, CURRENT, PAST, FUTURE or an exact status name.
func ParseState(s string) (State, error) {
	switch s {
	case "", "ALL":
		return State{Kind: StateAll}, nil
	case "CURRENT":
		return State{Kind: StateCurrent}, nil
	case "PAST":
		return State{Kind: StatePast}, nil
	case "FUTURE":
		return State{Kind: StateFuture}, nil
	}
	st, err := models.ParseStatus(s)
	if err != nil {
		return State{}, fmt.Errorf("%w: %s", domain.ErrUnknownState, s)
	}
	return State{Kind: StateStatus, Status: st}, nil
}

func (s State) String() string {
	switch s.Kind {
	case StateCurrent:
		return "CURRENT"
	case StatePast:
		return "PAST"
	case StateFuture:
		return "FUTURE"
	case StateStatus:
		return string(s.Status)
	default:
		return "ALL"
	}
}

// Apply narrows f to the bookings the state selects at now.
func (s State) Apply(f *models.BookingFilter, now time.Time) {
	switch s.Kind {
	case StateCurrent:
		f.StartBefore = now
		f.EndAfter = now
	case StatePast:
		f.EndBefore = now
	case StateFuture:
		f.StartAfter = now
	case StateStatus:
		f.Status = s.Status
	}
}

// Page is an optional offset window. Both fields nil means unpaginated.
type Page struct {
	From *int
	Size *int
}

func NewPage(from, size int) Page {
	return Page{From: &from, Size: &size}
}

// Validate requires either no window or from >= 0 and size > 0.
func (p Page) Validate() error {
	if p.From == nil && p.Size == nil {
		return nil
	}
	if p.From == nil || p.Size == nil || *p.Size <= 0 || *p.From < 0 {
		return domain.ErrInvalidPagination
	}
	return nil
}

func (p Page) apply(f *models.BookingFilter) {
	if p.From == nil || p.Size == nil {
		return
	}
	f.Offset = *p.From
	f.Limit = *p.Size
}
