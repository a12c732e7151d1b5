package api

import (
	"errors"
	"net/http"
	"strconv"

	"avatar-pipeline/internal/apperr"
	"avatar-pipeline/internal/ratelimit"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a tagged error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNoCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, apperr.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	switch apperr.KindOf(err) {
	case apperr.KindAdmission:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if apperr.KindOf(err).Operational() {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *Server) writeRateLimited(w http.ResponseWriter, d ratelimit.Decision) {
	if d.RetryAfter > 0 {
		secs := int(d.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	s.writeError(w, apperr.Admission("generate", apperr.ErrRateLimited))
}
