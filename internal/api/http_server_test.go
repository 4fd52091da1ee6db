package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shareit/internal/clock"
	"shareit/internal/config"
	"shareit/internal/domain"
	"shareit/internal/export"
	"shareit/internal/models"
	"shareit/internal/repository"
	"shareit/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const (
	ownerID  int64 = 1
	bookerID int64 = 2
	otherID  int64 = 3
)

var testNow = time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	handler http.Handler
	clock   *clock.Manual
	store   *repository.MemoryBookingStore
}

func newTestAPI(t *testing.T, cfg config.APIConfig, booking config.BookingConfig) *testAPI {
	t.Helper()
	logger := zerolog.Nop()
	store := repository.NewMemoryBookingStore()
	clk := clock.NewManual(testNow)
	items := service.NewItemService(nil, []models.Item{
		{ID: 10, Name: "Drill", OwnerID: ownerID, Available: true},
		{ID: 11, Name: "Ladder", OwnerID: ownerID, Available: false},
	}, &logger)

	srv := NewHTTPServer(cfg, Services{
		Bookings: service.NewBookingService(store, clk, nil, &logger),
		Items:    items,
		Throttle: repository.NewMemoryRateLimiter(),
		Store:    store,
		Booking:  booking,
		Location: time.UTC,
	}, &logger)

	return &testAPI{handler: srv.Handler(), clock: clk, store: store}
}

func (a *testAPI) do(t *testing.T, method, target string, userID int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != 0 {
		req.Header.Set(models.UserIDHeader, fmt.Sprint(userID))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) create(t *testing.T, userID, itemID int64, start, end string) bookingResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/bookings", userID,
		fmt.Sprintf(`{"itemId":%d,"start":%q,"end":%q}`, itemID, start, end))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestCreateAndGet(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, config.BookingConfig{})

	created := api.create(t, bookerID, 10, "2030-06-02T10:00:00", "2030-06-03T10:00:00")
	assert.Equal(t, "WAITING", created.Status)
	assert.Equal(t, int64(10), created.Item.ID)
	assert.Equal(t, "Drill", created.Item.Name)
	assert.Equal(t, bookerID, created.Booker.ID)
	assert.Equal(t, "2030-06-02T10:00:00", created.Start)

	for _, user := range []int64{bookerID, ownerID} {
		rec := api.do(t, http.MethodGet, fmt.Sprintf("/bookings/%d", created.ID), user, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := api.do(t, http.MethodGet, fmt.Sprintf("/bookings/%d", created.ID), otherID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateErrors(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, config.BookingConfig{})

	tests := []struct {
		name   string
		userID int64
		body   string
		code   int
	}{
		{"MissingUser", 0, `{"itemId":10,"start":"2030-06-02T10:00:00","end":"2030-06-03T10:00:00"}`, http.StatusBadRequest},
		{"BadJSON", bookerID, `{`, http.StatusBadRequest},
		{"MissingItem", bookerID, `{"start":"2030-06-02T10:00:00","end":"2030-06-03T10:00:00"}`, http.StatusBadRequest},
		{"UnknownItem", bookerID, `{"itemId":99,"start":"2030-06-02T10:00:00","end":"2030-06-03T10:00:00"}`, http.StatusNotFound},
		{"SelfBooking", ownerID, `{"itemId":10,"start":"2030-06-02T10:00:00","end":"2030-06-03T10:00:00"}`, http.StatusNotFound},
		{"Unavailable", bookerID, `{"itemId":11,"start":"2030-06-02T10:00:00","end":"2030-06-03T10:00:00"}`, http.StatusBadRequest},
		{"MissingStart", bookerID, `{"itemId":10,"end":"2030-06-03T10:00:00"}`, http.StatusBadRequest},
		{"BadStartFormat", bookerID, `{"itemId":10,"start":"tomorrow","end":"2030-06-03T10:00:00"}`, http.StatusBadRequest},
		{"EndBeforeStart", bookerID, `{"itemId":10,"start":"2030-06-03T10:00:00","end":"2030-06-02T10:00:00"}`, http.StatusBadRequest},
		{"PastStart", bookerID, `{"itemId":10,"start":"2030-05-30T10:00:00","end":"2030-06-03T10:00:00"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/bookings", tt.userID, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeError(t, rec))
		})
	}
}

func TestCreateOverlapRejectedAfterApproval(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, config.BookingConfig{})

	first := api.create(t, bookerID, 10, "2030-06-02T10:00:00", "2030-06-05T10:00:00")
	rec := api.do(t, http.MethodPatch, fmt.Sprintf("/bookings/%d?approved=true", first.ID), ownerID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/bookings", otherID,
		`{"itemId":10,"start":"2030-06-04T10:00:00","end":"2030-06-06T10:00:00"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeError(t, rec), domain.ErrItemNotAvailable.Error())
}

func TestCreateThrottle(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, config.BookingConfig{CreateLimit: 2, CreateWindowSeconds: 60})

	api.create(t, bookerID, 10, "2030-06-02T10:00:00", "2030-06-02T11:00:00")
	api.create(t, bookerID, 10, "2030-06-03T10:00:00", "2030-06-03T11:00:00")

	rec := api.do(t, http.MethodPost, "/bookings", bookerID,
		`{"itemId":10,"start":"2030-06-04T10:00:00","end":"2030-06-04T11:00:00"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other bookers are unaffected.
	api.create(t, otherID, 10, "2030-06-04T10:00:00", "2030-06-04T11:00:00")
}

func TestApproveFlow(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, config.BookingConfig{})
	b := api.create(t, bookerID, 10, "2030-06-02T10:00:00", "2030-06-03T10:00:00")
	target := fmt.Sprintf("/bookings/%d", b.ID)

	rec := api.do(t, http.MethodPatch, target+"?approved=true", bookerID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "booker cannot approve")

	rec = api.do(t, http.MethodPatch, target, ownerID, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "approved is required")

	rec = api.do(t, http.MethodPatch, target+"?approved=false", ownerID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "REJECTED", resp.Status)

	rec = api.do(t, http.MethodPatch, target+"?approved=true", ownerID, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), domain.ErrInvalidStateTransition.Error())

	rec = api.do(t, http.MethodPatch, "/bookings/999?approved=true", ownerID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelFlow(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, config.BookingConfig{})
	b := api.create(t, bookerID, 10, "2030-06-02T10:00:00", "2030-06-03T10:00:00")
	target := fmt.Sprintf("/bookings/%d/cancel", b.ID)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, target, otherID, "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, target, ownerID, "").Code)

	rec := api.do(t, http.MethodPost, target, bookerID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CANCELED", resp.Status)
}

func TestListQueries(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, config.BookingConfig{})
	early := api.create(t, bookerID, 10, "2030-06-02T10:00:00", "2030-06-03T10:00:00")
	late := api.create(t, bookerID, 10, "2030-06-10T10:00:00", "2030-06-11T10:00:00")

	list := func(target string, user int64) []bookingResponse {
		rec := api.do(t, http.MethodGet, target, user, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []bookingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	all := list("/bookings", bookerID)
	require.Len(t, all, 2)
	assert.Equal(t, late.ID, all[0].ID, "newest start first")
	assert.Equal(t, early.ID, all[1].ID)

	assert.Len(t, list("/bookings/owner?state=WAITING", ownerID), 2)
	assert.Len(t, list("/bookings/owner?state=FUTURE", ownerID), 2)
	assert.Empty(t, list("/bookings?state=PAST", bookerID))
	assert.Empty(t, list("/bookings", otherID))

	paged := list("/bookings?from=1&size=1", bookerID)
	require.Len(t, paged, 1)
	assert.Equal(t, early.ID, paged[0].ID)

	api.clock.Set(time.Date(2030, 6, 2, 12, 0, 0, 0, time.UTC))
	current := list("/bookings?state=CURRENT", bookerID)
	require.Len(t, current, 1)
	assert.Equal(t, early.ID, current[0].ID)
}

func TestListErrors(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, config.BookingConfig{})

	rec := api.do(t, http.MethodGet, "/bookings?state=UNSUPPORTED_STATUS", bookerID, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "UNSUPPORTED_STATUS")

	for _, q := range []string{"from=-1&size=10", "from=0&size=0", "from=0", "size=5", "from=x&size=1"} {
		rec := api.do(t, http.MethodGet, "/bookings/owner?"+q, ownerID, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, domain.ErrInvalidPagination.Error(), decodeError(t, rec), q)
	}

	rec = api.do(t, http.MethodGet, "/bookings?state=UNSUPPORTED_STATUS&from=-1&size=1", bookerID, "")
	assert.Equal(t, domain.ErrInvalidPagination.Error(), decodeError(t, rec), "pagination is checked first")
}

func TestItemEndpoints(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, config.BookingConfig{})
	past := api.create(t, bookerID, 10, "2030-06-01T13:00:00", "2030-06-01T14:00:00")
	next := api.create(t, bookerID, 10, "2030-06-05T10:00:00", "2030-06-06T10:00:00")

	rec := api.do(t, http.MethodGet, "/items/10/bookings", ownerID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, past.ID, list[0].ID, "earliest start first")

	api.clock.Set(time.Date(2030, 6, 2, 0, 0, 0, 0, time.UTC))

	rec = api.do(t, http.MethodGet, "/items/10/summary", ownerID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary itemSummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.NotNil(t, summary.LastBooking)
	require.NotNil(t, summary.NextBooking)
	assert.Equal(t, past.ID, summary.LastBooking.ID)
	assert.Equal(t, next.ID, summary.NextBooking.ID)

	rec = api.do(t, http.MethodGet, "/items/10/summary", otherID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary = itemSummaryResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Nil(t, summary.LastBooking, "non-owners see no bookings")

	rec = api.do(t, http.MethodGet, "/items/10/bookings/past", bookerID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"itemId":10,"hasPastBooking":true}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/items", bookerID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ladder")
}

func TestExportOwner(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, config.BookingConfig{})
	api.create(t, bookerID, 10, "2030-06-02T10:00:00", "2030-06-03T10:00:00")

	rec := api.do(t, http.MethodGet, "/bookings/owner/export?state=ALL", ownerID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "bookings_owner_1_")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rec = api.do(t, http.MethodGet, "/bookings/owner/export?state=NOPE", ownerID, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.APIConfig{Auth: config.APIAuthConfig{
		Enabled:      true,
		HeaderAPIKey: "x-api-key",
		APIKeys:      []config.APIClientKey{{Key: "secret", Name: "gateway"}},
	}}
	api := newTestAPI(t, cfg, config.BookingConfig{})

	rec := api.do(t, http.MethodGet, "/bookings", bookerID, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/bookings", nil)
	req.Header.Set(models.UserIDHeader, "2")
	req.Header.Set("x-api-key", "wrong")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("x-api-key", "secret")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = api.do(t, http.MethodGet, "/healthz", 0, "")
	assert.Equal(t, http.StatusOK, rec.Code, "health is public")
}

func TestPerClientRateLimit(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2}}
	api := newTestAPI(t, cfg, config.BookingConfig{})

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/bookings", bookerID, "").Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/bookings", bookerID, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, api.do(t, http.MethodGet, "/bookings", bookerID, "").Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealth(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, config.BookingConfig{})
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/healthz", 0, "").Code)

	logger := zerolog.Nop()
	srv := NewHTTPServer(config.APIConfig{}, Services{Store: failingPinger{}}, &logger)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("%w: 5", domain.ErrBookingNotFound)))
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("%w: item 3", domain.ErrItemNotAvailable)))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrItemUnavailable))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrConcurrentModification))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(domain.ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk full")))
}
