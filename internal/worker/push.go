package worker

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"avatar-pipeline/internal/logging"
	"avatar-pipeline/internal/queue"
	"avatar-pipeline/internal/telemetry"
)

const maxEnvelopeBytes = 1 << 20

// PushServer accepts push-style notifications and exposes health and metrics.
type PushServer struct {
	consumer *Consumer
	log      zerolog.Logger
	router   chi.Router
}

func NewPushServer(consumer *Consumer, log zerolog.Logger) *PushServer {
	s := &PushServer{consumer: consumer, log: log, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *PushServer) Router() http.Handler { return s.router }

func (s *PushServer) routes() {
	s.router.Use(logging.Middleware(s.log))
	s.router.Get("/", s.handleHealth)
	s.router.Post("/process", s.handleProcess)
	s.router.Handle("/metrics", telemetry.Handler())
}

func (s *PushServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "avatar-worker"})
}

// handleProcess answers 2xx once the delivery is settled, 400 for envelopes
// that can never succeed and 500 when the job could not be read, which makes
// the push subscription redeliver.
func (s *PushServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	jobID, err := queue.DecodeEnvelope(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res, err := s.consumer.Handle(r.Context(), jobID)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("push delivery failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "temporarily unable to process job"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "result": res.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
