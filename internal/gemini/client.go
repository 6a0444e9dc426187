// Package gemini wraps the Google Generative AI client with the rate limiter, circuit breaker,
// tracing and error classification shared by the embedding and generation providers.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/hyperjump/docchat/internal/apperr"
)

// RateLimits are the request quotas of a Gemini API tier. RPM is smoothed by a token bucket;
// RPD is a hard count per UTC day.
type RateLimits struct {
	RPM int // Requests per minute
	RPD int // Requests per day
}

// LimitsForTier returns the quotas of tier. Unknown tiers get the free tier limits;
// "unlimited" disables client-side limiting.
func LimitsForTier(tier string) RateLimits {
	switch tier {
	case "tier1":
		return RateLimits{RPM: 1000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, RPD: 50000}
	case "unlimited":
		return RateLimits{}
	default:
		return RateLimits{RPM: 10, RPD: 250}
	}
}

// Client is a Gemini API client safe for concurrent use.
type Client struct {
	genai   *genai.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	quota   *dailyQuota
	tracer  trace.Tracer
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a logger for circuit breaker state changes.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client authenticated with apiKey and limited according to tier.
func NewClient(ctx context.Context, apiKey, tier string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing Gemini API key (set GOOGLE_API_KEY)")
	}
	gc, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c := &Client{
		genai:  gc,
		tracer: otel.Tracer("github.com/hyperjump/docchat/internal/gemini"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	limits := LimitsForTier(tier)
	c.limiter = newLimiter(limits)
	c.quota = newDailyQuota(limits.RPD)
	c.breaker = newBreaker(c.logger)
	return c, nil
}

func newLimiter(limits RateLimits) *rate.Limiter {
	if limits.RPM <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	// RPM limit with some buffer
	burst := limits.RPM / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), burst)
}

func newBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// Caller-side cancellation says nothing about the provider's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// GenAI returns the underlying SDK client.
func (c *Client) GenAI() *genai.Client { return c.genai }

// Do runs fn after waiting for the rate limiter, through the circuit breaker, inside a span
// named "gemini.<op>". Errors are classified with Classify. Once the daily quota is used up,
// Do fails with a non-retryable provider error wrapping ErrDailyQuotaExceeded.
func (c *Client) Do(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, span := c.tracer.Start(ctx, "gemini."+op)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Transient(apperr.KindProvider, op, fmt.Errorf("rate limit: %w", err))
	}
	if err := c.quota.take(); err != nil {
		span.SetAttributes(attribute.Bool("gemini.quota_exceeded", true))
		c.logger.Warn("gemini daily quota exhausted", zap.String("op", op))
		return nil, apperr.E(apperr.KindProvider, op, err)
	}
	res, err := c.breaker.Execute(func() (any, error) { return fn(ctx) })
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
		}
		return nil, Classify(op, err)
	}
	return res, nil
}

// Close closes the underlying client.
func (c *Client) Close() error {
	return c.genai.Close()
}

// Classify converts a Gemini SDK error into a ProviderError. Rate limiting, server errors,
// network failures and an open circuit breaker are transient. Context errors are returned
// unchanged so attempt timeouts are classified by the retry policy.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var classified *apperr.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Transient(apperr.KindProvider, op, err)
	}
	if transient, ok := transientStatus(err); ok {
		if transient {
			return apperr.Transient(apperr.KindProvider, op, err)
		}
		return apperr.E(apperr.KindProvider, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Transient(apperr.KindProvider, op, err)
	}
	return apperr.E(apperr.KindProvider, op, err)
}

// transientStatus reports whether err carries a retryable HTTP or gRPC status.
// ok is false when err carries no status at all.
func transientStatus(err error) (transient, ok bool) {
	var ae *apierror.APIError
	if errors.As(err, &ae) {
		if code := ae.HTTPCode(); code > 0 {
			return transientHTTP(code), true
		}
		if st := ae.GRPCStatus(); st != nil {
			return transientGRPC(st.Code()), true
		}
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return transientHTTP(ge.Code), true
	}
	return false, false
}

func transientHTTP(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func transientGRPC(code codes.Code) bool {
	switch code {
	case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}
