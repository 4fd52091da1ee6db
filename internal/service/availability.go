package service

import (
	"context"
	"fmt"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"
)

// IsAvailable reports whether no APPROVED booking on itemID overlaps [start, end).
// excludeID skips one booking, used when approving it.
func IsAvailable(ctx context.Context, r domain.BookingReader, itemID int64, start, end time.Time, excludeID int64) (bool, error) {
	approved, err := r.FindBookings(ctx, models.BookingFilter{
		ItemID:    itemID,
		Status:    models.StatusApproved,
		EndAfter:  start,
		ExcludeID: excludeID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}

	for _, b := range approved {
		if b.Overlaps(start, end) {
			return false, nil
		}
	}
	return true, nil
}
