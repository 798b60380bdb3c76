package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"registryproxy/internal/identity"
	"registryproxy/internal/models"
	"registryproxy/internal/proxyerr"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Guard applies the configured per-route budgets. A nil *Guard admits
// everything, which is how a disabled rate limiter is represented.
type Guard struct {
	limiter   Limiter
	routes    models.RouteLimits
	failOpen  bool
	decisions metric.Int64Counter
}

// NewGuard creates a guard. With failOpen set, store errors admit the
// request and are logged; otherwise they are reported as unavailable.
func NewGuard(limiter Limiter, routes models.RouteLimits, failOpen bool) *Guard {
	decisions, err := otel.Meter("registryproxy/ratelimit").Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by endpoint and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		slog.Warn("Failed to create rate limit counter", "error", err)
	}
	return &Guard{
		limiter:   limiter,
		routes:    routes,
		failOpen:  failOpen,
		decisions: decisions,
	}
}

// Check consumes one event from identity's budget for endpoint. It returns a
// RateLimited error when the budget is exhausted.
func (g *Guard) Check(ctx context.Context, identityKey, endpoint string) (Info, error) {
	if g == nil {
		return Info{}, nil
	}

	rule, ok := g.routes.ForEndpoint(endpoint)
	if !ok {
		return Info{}, proxyerr.NewInternal(fmt.Sprintf("no rate limit configured for %s", endpoint), nil)
	}

	allowed, info, err := g.limiter.Allow(ctx, identityKey, endpoint, rule.Limit, rule.Window)
	if err != nil {
		if g.failOpen {
			slog.Warn("Rate limit store unavailable, allowing request",
				"endpoint", endpoint,
				"error", err,
			)
			g.record(ctx, endpoint, "error")
			return Info{Limit: rule.Limit, Remaining: rule.Limit}, nil
		}
		g.record(ctx, endpoint, "error")
		return info, proxyerr.NewUnavailable("Rate limiter unavailable", err)
	}

	if !allowed {
		g.record(ctx, endpoint, "denied")
		slog.Warn("Rate limit exceeded",
			"client_ip", identityKey,
			"endpoint", endpoint,
			"limit", info.Limit,
			"retry_after", info.RetryAfter.String(),
		)
		return info, proxyerr.NewRateLimited()
	}

	g.record(ctx, endpoint, "allowed")
	return info, nil
}

func (g *Guard) record(ctx context.Context, endpoint, outcome string) {
	if g.decisions == nil {
		return
	}
	g.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	))
}

// Middleware enforces the endpoint budget keyed by client IP. It must run
// after client verification so unrecognized traffic never consumes budget.
func (g *Guard) Middleware(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := g.Check(r.Context(), identity.ClientIP(r), endpoint)
			if g != nil {
				WriteHeaders(w, info)
			}
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteHeaders sets the X-RateLimit-* headers, and Retry-After when the
// request was denied.
func WriteHeaders(w http.ResponseWriter, info Info) {
	if info.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	if !info.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))
	}
	if info.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(info.RetryAfter.Seconds())))
	}
}

func writeError(w http.ResponseWriter, err error) {
	pe := proxyerr.From(err, "Rate limit check failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(pe.StatusCode)
	json.NewEncoder(w).Encode(models.NewErrorResponse(pe.Message, pe.Code))
}
