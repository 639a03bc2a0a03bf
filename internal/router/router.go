package router

import (
	"net/http"

	"github.com/playoffchallenge/backend/internal/handlers"
	"github.com/playoffchallenge/backend/internal/middleware"
)

// Config carries the handlers and middleware the router wires together.
type Config struct {
	Contests *handlers.ContestHandler
	Payments *handlers.PaymentHandler
	Webhooks *handlers.WebhookHandler
	Admin    *handlers.AdminHandler

	JWTSecret []byte
	AdminKey  string
	Limiter   *middleware.RateLimiter
}

// New returns an http.Handler serving the API under /api/v1.
func New(cfg Config) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.JWTAuth(cfg.JWTSecret)(cfg.Limiter.Middleware(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.AdminKeyAuth(cfg.AdminKey)(h)
	}

	// Public contest reads.
	mux.HandleFunc("GET "+base+"/contests", cfg.Contests.ListContests)
	mux.HandleFunc("GET "+base+"/contests/{id}", cfg.Contests.GetContest)
	mux.HandleFunc("GET "+base+"/contests/{id}/leaderboard", cfg.Contests.GetLeaderboard)
	mux.HandleFunc("GET "+base+"/contests/{id}/transitions", cfg.Contests.GetTransitions)

	// Payments require an authenticated user and are rate limited.
	mux.Handle("POST "+base+"/payment-intents", authed(cfg.Payments.CreateIntent))
	mux.Handle("GET "+base+"/payment-intents/{id}", authed(cfg.Payments.GetIntent))

	// Processor callbacks authenticate by signature, not bearer token.
	mux.HandleFunc("POST "+base+"/webhooks/processor", cfg.Webhooks.HandleEvent)

	// Operator endpoints.
	mux.Handle("POST "+base+"/admin/contests", admin(cfg.Admin.CreateContest))
	mux.Handle("POST "+base+"/admin/contests/{id}/cancel", admin(cfg.Admin.CancelContest))
	mux.Handle("POST "+base+"/admin/contests/{id}/mark-error", admin(cfg.Admin.MarkError))
	mux.Handle("POST "+base+"/admin/contests/{id}/settle", admin(cfg.Admin.SettleContest))
	mux.Handle("POST "+base+"/admin/reconcile", admin(cfg.Admin.Reconcile))
	mux.Handle("GET "+base+"/admin/contests/{id}/ledger", admin(cfg.Contests.GetLedger))

	return mux
}
