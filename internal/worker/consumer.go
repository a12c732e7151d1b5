package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"avatar-pipeline/internal/apperr"
	"avatar-pipeline/internal/models"
	"avatar-pipeline/internal/pipeline"
	"avatar-pipeline/internal/telemetry"
)

// JobSource is the part of the job store the consumer reads and claims from.
type JobSource interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	ClaimJob(ctx context.Context, id string) (bool, error)
}

// Executor runs the pipeline for a claimed job.
type Executor interface {
	Execute(ctx context.Context, job models.Job) (pipeline.Outcome, error)
}

// Result says what the consumer did with a delivery.
type Result int

const (
	// Processed means the pipeline ran and the job reached a terminal state.
	Processed Result = iota
	// Duplicate means the job was already started or finished.
	Duplicate
	// Dropped means the delivery named an unknown job or an unreadable record.
	Dropped
)

func (r Result) String() string {
	switch r {
	case Processed:
		return "processed"
	case Duplicate:
		return "duplicate"
	default:
		return "dropped"
	}
}

// Consumer turns at-least-once deliveries into at most one pipeline run per job.
type Consumer struct {
	jobs       JobSource
	exec       Executor
	log        zerolog.Logger
	runTimeout time.Duration
}

func NewConsumer(jobs JobSource, exec Executor, log zerolog.Logger) *Consumer {
	return &Consumer{jobs: jobs, exec: exec, log: log}
}

// WithRunTimeout bounds each pipeline run. Zero means no bound.
func (c *Consumer) WithRunTimeout(d time.Duration) *Consumer {
	c.runTimeout = d
	return c
}

// Handle processes one delivery for jobID. A non-nil error means the job
// could not be read or claimed and the delivery should be retried. Once the
// pipeline has run the delivery is always acknowledged, so the error is nil
// whether the job completed or failed. Once claimed, the run no longer
// follows ctx: a dropped push connection or a shutdown signal does not stop it.
func (c *Consumer) Handle(ctx context.Context, jobID string) (Result, error) {
	log := c.log.With().Str("job_id", jobID).Logger()

	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindNotFound:
			log.Warn().Err(err).Msg("delivery for unknown job dropped")
			return Dropped, nil
		case apperr.KindPipeline:
			log.Error().Err(err).Msg("unreadable job record dropped")
			return Dropped, nil
		}
		return Dropped, apperr.Transient("load job", err)
	}

	if !job.Startable() {
		telemetry.DuplicateDeliveries.Inc()
		log.Info().Str("status", job.Status).Msg("duplicate delivery ignored")
		return Duplicate, nil
	}

	claimed, err := c.jobs.ClaimJob(ctx, jobID)
	if err != nil {
		return Dropped, apperr.Transient("claim job", err)
	}
	if !claimed {
		telemetry.DuplicateDeliveries.Inc()
		log.Info().Msg("duplicate delivery lost the claim")
		return Duplicate, nil
	}
	job.Status = models.StatusProcessing

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	runCtx := context.WithoutCancel(ctx)
	if c.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, c.runTimeout)
		defer cancel()
	}
	outcome, err := c.exec.Execute(runCtx, job)
	if err != nil {
		// The job stays in processing and shows up in the stuck-job listing.
		log.Error().Err(err).Msg("terminal state not recorded")
		return Processed, nil
	}
	log.Info().Str("status", outcome.Status).Msg("delivery processed")
	return Processed, nil
}
