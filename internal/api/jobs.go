package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"avatar-pipeline/internal/blob"
	"avatar-pipeline/internal/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type jobResponse struct {
	models.Job
	OutputURL string `json:"output_signed_url,omitempty"`
	AvatarURL string `json:"avatar_signed_url,omitempty"`
}

type listResponse struct {
	Jobs   []models.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	who := identityFrom(ctx)
	job, err := s.deps.Jobs.GetJob(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job.OwnerID != who.UserID {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "not authorized to view this job"})
		return
	}

	resp := jobResponse{Job: job}
	if job.Status == models.StatusCompleted && job.OutputRef != nil {
		resp.OutputURL = s.signRef(r, *job.OutputRef)
		if job.Metadata.AvatarRef != "" {
			resp.AvatarURL = s.signRef(r, job.Metadata.AvatarRef)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// signRef returns a short-lived link for a stored result, or "" when one
// cannot be issued. The job record is still returned in that case.
func (s *Server) signRef(r *http.Request, ref string) string {
	bucket, key, err := blob.ParseRef(ref)
	if err == nil {
		var url string
		url, err = s.deps.Blobs.SignedURL(r.Context(), bucket, key, s.cfg.SignedURLTTL)
		if err == nil {
			return url
		}
	}
	s.log.Warn().Err(err).Str("ref", ref).Msg("signed url not issued")
	return ""
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("limit must be between 1 and %d", maxListLimit)})
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "offset must be non-negative"})
		return
	}

	who := identityFrom(r.Context())
	jobs, total, err := s.deps.Jobs.ListJobs(r.Context(), who.UserID, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, listResponse{Jobs: jobs, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	who := identityFrom(ctx)
	acct, err := s.deps.Accounts.GetOrCreateAccount(ctx, who.UserID, who.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Ledger.StatusOf(acct))
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
