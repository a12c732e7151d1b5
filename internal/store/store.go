package store

import (
	"context"
	"errors"
	"time"

	"avatar-pipeline/internal/models"
)

// ErrInvalidTransition is returned when a status change would move a job
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid job status transition")

// JobStore persists job records. Status writes are conditional on the current
// status so that transitions stay one-directional.
type JobStore interface {
	CreateJob(ctx context.Context, job models.Job) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]models.Job, int, error)
	// ClaimJob moves a queued job to processing. It reports false when the
	// job was not queued.
	ClaimJob(ctx context.Context, id string) (bool, error)
	CompleteJob(ctx context.Context, id, outputRef string, meta models.JobMetadata) error
	FailJob(ctx context.Context, id, reason string, meta models.JobMetadata) error
	ListStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Job, error)
}

// AccountStore persists accounts. Credit counters change only through
// AdjustCredits.
type AccountStore interface {
	GetOrCreateAccount(ctx context.Context, id, email string) (models.Account, error)
	GetAccount(ctx context.Context, id string) (models.Account, error)
	AdjustCredits(ctx context.Context, id string, adj models.CreditAdjustment) (models.Account, bool, error)
}
