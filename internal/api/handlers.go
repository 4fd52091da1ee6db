package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shareit/internal/domain"
	"shareit/internal/export"
	"shareit/internal/models"
	"shareit/internal/service"
)

const localDateTime = "2006-01-02T15:04:05"

var errMissingUserID = errors.New("missing or invalid " + models.UserIDHeader + " header")

type createBookingRequest struct {
	ItemID int64   `json:"itemId"`
	Start  *string `json:"start"`
	End    *string `json:"end"`
}

type bookingResponse struct {
	ID     int64     `json:"id"`
	Start  string    `json:"start"`
	End    string    `json:"end"`
	Status string    `json:"status"`
	Item   itemShort `json:"item"`
	Booker userShort `json:"booker"`
}

type itemShort struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type userShort struct {
	ID int64 `json:"id"`
}

type bookingShort struct {
	ID       int64  `json:"id"`
	BookerID int64  `json:"bookerId"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type itemSummaryResponse struct {
	ItemID      int64         `json:"itemId"`
	LastBooking *bookingShort `json:"lastBooking"`
	NextBooking *bookingShort `json:"nextBooking"`
}

// errorStatuses maps domain errors to HTTP codes; the first match wins.
var errorStatuses = []struct {
	err  error
	code int
}{
	{domain.ErrBookingNotFound, http.StatusNotFound},
	{domain.ErrItemNotFound, http.StatusNotFound},
	{domain.ErrNotAuthorizedToView, http.StatusNotFound},
	{domain.ErrNotAuthorizedToApprove, http.StatusNotFound},
	{domain.ErrSelfBooking, http.StatusNotFound},
	{domain.ErrItemNotAvailable, http.StatusNotFound},
	{domain.ErrItemUnavailable, http.StatusBadRequest},
	{domain.ErrMissingStart, http.StatusBadRequest},
	{domain.ErrMissingEnd, http.StatusBadRequest},
	{domain.ErrInvalidRange, http.StatusBadRequest},
	{domain.ErrPastStart, http.StatusBadRequest},
	{domain.ErrInvalidStateTransition, http.StatusBadRequest},
	{domain.ErrUnknownState, http.StatusBadRequest},
	{domain.ErrInvalidPagination, http.StatusBadRequest},
	{domain.ErrConcurrentModification, http.StatusConflict},
	{domain.ErrRateLimited, http.StatusTooManyRequests},
}

func statusFor(err error) int {
	for _, es := range errorStatuses {
		if errors.Is(err, es.err) {
			return es.code
		}
	}
	return http.StatusInternalServerError
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ItemID == 0 {
		writeError(w, http.StatusBadRequest, "itemId is required")
		return
	}

	start, err := s.parseTime(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	end, err := s.parseTime(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}

	if err := s.checkCreateLimit(r, userID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	item, err := s.svc.Items.GetItem(r.Context(), req.ItemID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	booking, err := s.svc.Bookings.Create(r.Context(), userID, item, start, end)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(booking))
}

// checkCreateLimit fails open when the limiter itself errors.
func (s *HTTPServer) checkCreateLimit(r *http.Request, userID int64) error {
	if s.svc.Throttle == nil || s.svc.Booking.CreateLimit <= 0 {
		return nil
	}
	allowed, err := s.svc.Throttle.CheckRateLimit(r.Context(), userID, s.svc.Booking.CreateLimit, s.svc.Booking.CreateWindow())
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("create throttle unavailable")
		return nil
	}
	if !allowed {
		return fmt.Errorf("%w: user %d", domain.ErrRateLimited, userID)
	}
	return nil
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r)
	if !ok {
		return
	}
	approved, err := strconv.ParseBool(r.URL.Query().Get("approved"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "approved must be true or false")
		return
	}

	booking, err := s.svc.Bookings.Approve(r.Context(), bookingID, approved, userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(booking))
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r)
	if !ok {
		return
	}

	booking, err := s.svc.Bookings.Cancel(r.Context(), bookingID, userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(booking))
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r)
	if !ok {
		return
	}

	booking, err := s.svc.Bookings.Get(r.Context(), bookingID, userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(booking))
}

func (s *HTTPServer) handleListForBooker(w http.ResponseWriter, r *http.Request) {
	s.handleList(w, r, s.svc.Bookings.ListForBooker)
}

func (s *HTTPServer) handleListForOwner(w http.ResponseWriter, r *http.Request) {
	s.handleList(w, r, s.svc.Bookings.ListForOwner)
}

type listFunc func(ctx context.Context, userID int64, state service.State, page service.Page) ([]*models.Booking, error)

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request, list listFunc) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	// Pagination errors take precedence over an unknown state.
	page, err := parsePage(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	state, err := service.ParseState(r.URL.Query().Get("state"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	bookings, err := list(r.Context(), userID, state, page)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponses(bookings))
}

func (s *HTTPServer) handleExportOwner(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	state, err := service.ParseState(r.URL.Query().Get("state"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	bookings, err := s.svc.Bookings.ListForOwner(r.Context(), userID, state, service.Page{})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(userID, time.Now().In(s.svc.Location))))
	if err := export.WriteBookings(w, bookings, s.svc.Location); err != nil {
		s.log.Error().Err(err).Int64("owner_id", userID).Msg("export failed")
	}
}

func (s *HTTPServer) handleItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.svc.Items.ListItems(r.Context())})
}

func (s *HTTPServer) handleListForItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}

	bookings, err := s.svc.Bookings.ListForItem(r.Context(), itemID, userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponses(bookings))
}

func (s *HTTPServer) handleItemSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}

	summary, err := s.svc.Bookings.ItemSummary(r.Context(), itemID, userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemSummaryResponse{
		ItemID:      summary.ItemID,
		LastBooking: s.toShort(summary.Last),
		NextBooking: s.toShort(summary.Next),
	})
}

func (s *HTTPServer) handleHasPastBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}

	found, err := s.svc.Bookings.HasPastBooking(r.Context(), userID, itemID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"itemId": itemID, "hasPastBooking": found})
}

// parseTime accepts RFC 3339 or a zone-less local date-time in the server location. nil stays nil.
func (s *HTTPServer) parseTime(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	v := strings.TrimSpace(*raw)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(localDateTime, v, s.svc.Location)
	if err != nil {
		return nil, fmt.Errorf("expected %s", localDateTime)
	}
	return &t, nil
}

func (s *HTTPServer) formatTime(t time.Time) string {
	return t.In(s.svc.Location).Format(localDateTime)
}

func (s *HTTPServer) toResponse(b *models.Booking) bookingResponse {
	return bookingResponse{
		ID:     b.ID,
		Start:  s.formatTime(b.Start),
		End:    s.formatTime(b.End),
		Status: b.Status.String(),
		Item:   itemShort{ID: b.ItemID, Name: b.ItemName},
		Booker: userShort{ID: b.BookerID},
	}
}

func (s *HTTPServer) toResponses(bookings []*models.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, s.toResponse(b))
	}
	return out
}

func (s *HTTPServer) toShort(b *models.Booking) *bookingShort {
	if b == nil {
		return nil
	}
	return &bookingShort{ID: b.ID, BookerID: b.BookerID, Start: s.formatTime(b.Start), End: s.formatTime(b.End)}
}

func userIDFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(models.UserIDHeader)), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errMissingUserID.Error())
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// parsePage reads optional from/size. Non-numeric values are pagination errors.
func parsePage(r *http.Request) (service.Page, error) {
	q := r.URL.Query()
	var page service.Page
	if raw := q.Get("from"); raw != "" {
		from, err := strconv.Atoi(raw)
		if err != nil {
			return service.Page{}, domain.ErrInvalidPagination
		}
		page.From = &from
	}
	if raw := q.Get("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return service.Page{}, domain.ErrInvalidPagination
		}
		page.Size = &size
	}
	return page, page.Validate()
}
