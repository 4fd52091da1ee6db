package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"shareit/internal/config"
	"shareit/internal/domain"
	"shareit/internal/metrics"
	"shareit/internal/models"
	"shareit/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingService is the engine surface used by the handlers.
type BookingService interface {
	Create(ctx context.Context, bookerID int64, item models.ItemRef, start, end *time.Time) (*models.Booking, error)
	Approve(ctx context.Context, bookingID int64, approved bool, actingUserID int64) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID int64, actingUserID int64) (*models.Booking, error)
	Get(ctx context.Context, bookingID int64, userID int64) (*models.Booking, error)
	ListForBooker(ctx context.Context, bookerID int64, state service.State, page service.Page) ([]*models.Booking, error)
	ListForOwner(ctx context.Context, ownerID int64, state service.State, page service.Page) ([]*models.Booking, error)
	ListForItem(ctx context.Context, itemID, ownerID int64) ([]*models.Booking, error)
	ItemSummary(ctx context.Context, itemID, ownerID int64) (*models.ItemSummary, error)
	HasPastBooking(ctx context.Context, bookerID, itemID int64) (bool, error)
}

// Services groups the collaborators of the HTTP API.
type Services struct {
	Bookings BookingService
	Items    domain.ItemCatalog
	// Throttle limits booking creation per booker; nil disables it.
	Throttle domain.RateLimiter
	Store    Pinger
	Booking  config.BookingConfig
	Location *time.Location
}

// HTTPServer exposes the booking API.
type HTTPServer struct {
	svc    Services
	server *http.Server
	auth   *keyAuth
	log    zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	if svc.Location == nil {
		svc.Location = time.UTC
	}

	srv := &HTTPServer{svc: svc, auth: newKeyAuth(cfg), log: zerolog.Nop()}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	srv.route(mux, "POST /bookings", "create_booking", srv.handleCreate)
	srv.route(mux, "PATCH /bookings/{id}", "approve_booking", srv.handleApprove)
	srv.route(mux, "POST /bookings/{id}/cancel", "cancel_booking", srv.handleCancel)
	srv.route(mux, "GET /bookings/{id}", "get_booking", srv.handleGet)
	srv.route(mux, "GET /bookings", "list_booker", srv.handleListForBooker)
	srv.route(mux, "GET /bookings/owner", "list_owner", srv.handleListForOwner)
	srv.route(mux, "GET /bookings/owner/export", "export_owner", srv.handleExportOwner)
	srv.route(mux, "GET /items", "list_items", srv.handleItems)
	srv.route(mux, "GET /items/{id}/bookings", "list_item", srv.handleListForItem)
	srv.route(mux, "GET /items/{id}/bookings/past", "past_booking", srv.handleHasPastBooking)
	srv.route(mux, "GET /items/{id}/summary", "item_summary", srv.handleItemSummary)
	mux.HandleFunc("GET /healthz", srv.handleHealth)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.authMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern, endpoint string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(endpoint)
		h(w, r)
	})
}

// Handler returns the wrapped mux.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.Store != nil {
		if err := s.svc.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := strings.TrimSpace(r.Header.Get(s.auth.header))
		if _, err := s.auth.authenticate(apiKey); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		key := apiKey
		if key == "" {
			key = remoteHost(r)
		}
		if err := s.auth.checkRateLimit(key); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
