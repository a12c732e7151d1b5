package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"avatar-pipeline/internal/blob"
	"avatar-pipeline/internal/config"
	"avatar-pipeline/internal/ledger"
	"avatar-pipeline/internal/logging"
	"avatar-pipeline/internal/queue"
	"avatar-pipeline/internal/ratelimit"
	"avatar-pipeline/internal/store"
	"avatar-pipeline/internal/telemetry"
)

// Limiter throttles generation requests per account.
type Limiter interface {
	Allow(ctx context.Context, accountID string) (ratelimit.Decision, error)
}

// Deps are the collaborators the API needs. Limiter may be nil.
type Deps struct {
	Jobs      store.JobStore
	Accounts  store.AccountStore
	Ledger    *ledger.Ledger
	Blobs     blob.Store
	Publisher queue.Publisher
	Limiter   Limiter
	Log       zerolog.Logger
}

// Server wires HTTP handlers for the producer API.
type Server struct {
	cfg  config.Config
	deps Deps
	log  zerolog.Logger
	now  func() time.Time
}

// New constructs the API server.
func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(logging.Middleware(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireIdentity)
		r.Post("/generate", s.handleGenerate)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/account/credits", s.handleCredits)
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
