package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition.
type MiddlewareSet struct {
	CORS    Middleware
	Logging Middleware
	Auth    Middleware

	RateLimiter *RateLimiter
}

// NewMiddlewareSet creates a complete set of middleware with proper
// dependencies. rateLimitInterval <= 0 disables the rate limiter
// (spec.md §6 RATE_LIMIT_MS).
func NewMiddlewareSet(logger *slog.Logger, rateLimitInterval time.Duration) MiddlewareSet {
	return MiddlewareSet{
		CORS:        NewCORSMiddleware(),
		Logging:     NewLoggingMiddleware(logger),
		Auth:        NewAuthMiddleware(logger),
		RateLimiter: NewRateLimiter(rateLimitInterval),
	}
}

// ChatChain is the chain for the chat completions route: CORS, logging,
// auth, then the global rate limiter gating the upstream call itself.
func (ms MiddlewareSet) ChatChain() Chain {
	return New(ms.CORS, ms.Logging, ms.Auth, ms.RateLimiter.Middleware)
}

// DefaultChain is the chain for authenticated endpoints that are not rate
// limited (model listing).
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(ms.CORS, ms.Logging, ms.Auth)
}

// PublicChain is the chain for endpoints that need no authentication
// (admin UI, static assets).
func (ms MiddlewareSet) PublicChain() Chain {
	return New(ms.CORS, ms.Logging)
}
