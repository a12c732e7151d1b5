package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"avatar-pipeline/internal/apperr"
	"avatar-pipeline/internal/blob"
	"avatar-pipeline/internal/models"
	"avatar-pipeline/internal/telemetry"
)

const multipartOverhead = 1 << 20

var allowedUploadTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

type generateResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handleGenerate admits one generation request: it spends a credit, stores
// the photo, records a queued job and publishes it.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	who := identityFrom(ctx)

	if _, err := s.deps.Accounts.GetOrCreateAccount(ctx, who.UserID, who.Email); err != nil {
		s.writeError(w, fmt.Errorf("load account: %w", err))
		return
	}

	if s.deps.Limiter != nil {
		d, err := s.deps.Limiter.Allow(ctx, who.UserID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !d.Allowed {
			telemetry.AdmissionRejects.WithLabelValues("rate_limited").Inc()
			s.writeRateLimited(w, d)
			return
		}
	}

	data, contentType, err := s.readUpload(w, r)
	if err != nil {
		telemetry.AdmissionRejects.WithLabelValues("invalid_upload").Inc()
		s.writeError(w, err)
		return
	}
	composite, err := s.resultMode(r.FormValue("mode"))
	if err != nil {
		telemetry.AdmissionRejects.WithLabelValues("invalid_upload").Inc()
		s.writeError(w, err)
		return
	}

	spent, err := s.deps.Ledger.TryConsumeCredit(ctx, who.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNoCredits) {
			telemetry.AdmissionRejects.WithLabelValues("no_credits").Inc()
		}
		s.writeError(w, err)
		return
	}
	telemetry.CreditsConsumed.WithLabelValues(string(spent.Tier)).Inc()
	log := s.log.With().Str("user_id", who.UserID).Str("tier", string(spent.Tier)).Logger()

	jobID := uuid.NewString()
	inputRef, err := s.deps.Blobs.Put(ctx, s.cfg.UploadBucket, blob.InputKey(jobID), data, contentType)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("credit spent but input upload failed")
		s.writeError(w, fmt.Errorf("store upload: %w", err))
		return
	}

	job := models.Job{
		ID:        jobID,
		OwnerID:   who.UserID,
		Status:    models.StatusQueued,
		InputRef:  inputRef,
		Watermark: spent.Watermark,
		Composite: composite,
		CreatedAt: s.now(),
	}
	if err := s.deps.Jobs.CreateJob(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("credit spent but job record not created")
		s.writeError(w, fmt.Errorf("create job: %w", err))
		return
	}

	if err := s.deps.Publisher.Publish(ctx, jobID); err != nil {
		s.abandon(ctx, jobID, err)
		s.writeError(w, fmt.Errorf("publish job: %w", err))
		return
	}
	telemetry.JobsAdmitted.Inc()
	log.Info().Str("job_id", jobID).Bool("watermark", spent.Watermark).Msg("job admitted")

	writeJSON(w, http.StatusCreated, generateResponse{
		JobID:   jobID,
		Status:  models.StatusQueued,
		Message: "Job created successfully. Processing will begin shortly.",
	})
}

// abandon marks a job that never reached the queue as failed so it does not
// sit in queued forever.
func (s *Server) abandon(ctx context.Context, jobID string, cause error) {
	log := s.log.With().Str("job_id", jobID).Logger()
	log.Error().Err(cause).Msg("publish failed")
	ok, err := s.deps.Jobs.ClaimJob(ctx, jobID)
	if err != nil || !ok {
		log.Error().Err(err).Msg("could not mark unpublished job failed")
		return
	}
	reason := "job could not be queued: " + cause.Error()
	if err := s.deps.Jobs.FailJob(ctx, jobID, reason, models.JobMetadata{ErrorKind: apperr.KindTransient.String()}); err != nil {
		log.Error().Err(err).Msg("could not mark unpublished job failed")
	}
}

// readUpload reads the "file" part, enforcing the size limit and sniffing
// the content type.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	limit := s.cfg.MaxUploadSize
	if limit <= 0 {
		limit = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit + multipartOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, "", apperr.Admission("read upload", fmt.Errorf("%w: limit is %d bytes", apperr.ErrUploadTooLarge, limit))
		}
		return nil, "", apperr.Admission("read upload", fmt.Errorf("invalid multipart form: %w", err))
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, "", apperr.Admission("read upload", fmt.Errorf("file is required: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, "", apperr.Admission("read upload", err)
	}
	if int64(len(data)) > limit {
		return nil, "", apperr.Admission("read upload", fmt.Errorf("%w: limit is %d bytes", apperr.ErrUploadTooLarge, limit))
	}
	if len(data) == 0 {
		return nil, "", apperr.Admission("read upload", errors.New("file is empty"))
	}
	contentType := http.DetectContentType(data)
	if !allowedUploadTypes[contentType] {
		return nil, "", apperr.Admission("read upload", fmt.Errorf("%w: %s", apperr.ErrUnsupportedImage, contentType))
	}
	return data, contentType, nil
}

func (s *Server) resultMode(mode string) (bool, error) {
	if mode == "" {
		mode = s.cfg.ResultMode
	}
	switch mode {
	case "", "composite":
		return true, nil
	case "avatar":
		return false, nil
	default:
		return false, apperr.Admission("read upload", fmt.Errorf("unknown mode %q", mode))
	}
}
