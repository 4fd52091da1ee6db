package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"shareit/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault  = "x-api-key"
	requestIDMetadataKey = "x-request-id"
	clientKeyUnknown     = "unknown"
)

var (
	errMissingAPIKey = errors.New("missing api key header")
	errInvalidAPIKey = errors.New("invalid api key")
	errRateLimited   = errors.New("rate limit exceeded")
)

// keyAuth checks API keys and per-client token buckets for both transports.
type keyAuth struct {
	enabled bool
	header  string
	keys    []config.APIClientKey
	limiter *rateLimiter
}

func newKeyAuth(cfg config.APIConfig) *keyAuth {
	header := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return &keyAuth{
		enabled: cfg.Auth.Enabled,
		header:  header,
		keys:    cfg.Auth.APIKeys,
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

// authenticate returns the client name for apiKey.
func (a *keyAuth) authenticate(apiKey string) (string, error) {
	if !a.enabled {
		return "", nil
	}
	if apiKey == "" {
		return "", errMissingAPIKey
	}
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(apiKey)) == 1 {
			return k.Name, nil
		}
	}
	return "", errInvalidAPIKey
}

func (a *keyAuth) checkRateLimit(clientKey string) error {
	if !a.limiter.allow(clientKey) {
		return errRateLimited
	}
	return nil
}

// AuthInterceptor guards unary gRPC calls.
type AuthInterceptor struct {
	auth *keyAuth
}

func NewAuthInterceptor(cfg config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{auth: newKeyAuth(cfg)}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		apiKey := first(md.Get(a.auth.header))

		if _, err := a.auth.authenticate(apiKey); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		key := apiKey
		if key == "" {
			key = peerAddr(ctx)
		}
		if err := a.auth.checkRateLimit(key); err != nil {
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}

		return handler(ctx, req)
	}
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)

		base.Info().
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", peerAddr(ctx)).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")

		return resp, err
	}
}

func requestIDFromMetadata(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if id := first(md.Get(requestIDMetadataKey)); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
