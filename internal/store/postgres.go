package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"avatar-pipeline/internal/apperr"
	"avatar-pipeline/internal/models"
)

// Postgres wraps pgxpool for job and account persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `id, owner_id, status, input_ref, output_ref, error_message, has_watermark, composite, metadata, created_at, updated_at, completed_at`

// CreateJob inserts a job row. The caller supplies the id.
func (s *Postgres) CreateJob(ctx context.Context, job models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, job.ID, job.OwnerID, job.Status, job.InputRef, job.OutputRef, job.Error, job.Watermark, job.Composite, meta, job.CreatedAt, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id and validates the record.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, apperr.NotFound("get job", fmt.Errorf("%w: %s", apperr.ErrJobNotFound, id))
	}
	if err != nil {
		return models.Job{}, err
	}
	return job, nil
}

// ListJobs returns the owner's jobs newest first, with the owner's total job count.
func (s *Postgres) ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]models.Job, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE owner_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ClaimJob moves a queued job to processing.
func (s *Postgres) ClaimJob(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3
	`, id, models.StatusProcessing, models.StatusQueued)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteJob records the output reference and metadata of a processing job.
func (s *Postgres) CompleteJob(ctx context.Context, id, outputRef string, meta models.JobMetadata) error {
	return s.finish(ctx, id, models.StatusCompleted, &outputRef, nil, meta)
}

// FailJob records the failure reason of a processing job.
func (s *Postgres) FailJob(ctx context.Context, id, reason string, meta models.JobMetadata) error {
	return s.finish(ctx, id, models.StatusFailed, nil, &reason, meta)
}

func (s *Postgres) finish(ctx context.Context, id, status string, outputRef, reason *string, meta models.JobMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, output_ref = $3, error_message = $4, metadata = $5, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $6
	`, id, status, outputRef, reason, metaJSON, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark job %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, id, status)
	}
	return nil
}

// ListStuck returns processing jobs that have not moved since updatedBefore.
func (s *Postgres) ListStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC LIMIT $3
	`, models.StatusProcessing, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	defer rows.Close()
	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		job       models.Job
		output    pgtype.Text
		errMsg    pgtype.Text
		completed pgtype.Timestamptz
		metaJSON  []byte
	)
	if err := row.Scan(&job.ID, &job.OwnerID, &job.Status, &job.InputRef, &output, &errMsg, &job.Watermark, &job.Composite, &metaJSON, &job.CreatedAt, &job.UpdatedAt, &completed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, err
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &job.Metadata); err != nil {
			return models.Job{}, apperr.Pipeline("decode job", fmt.Errorf("unmarshal metadata: %w", err))
		}
	}
	job.OutputRef = textPtr(output)
	job.Error = textPtr(errMsg)
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	if err := job.Validate(); err != nil {
		return models.Job{}, apperr.Pipeline("decode job", err)
	}
	return job, nil
}

const accountColumns = `id, email, credits, free_credits_used, total_generated, created_at, last_login`

// GetOrCreateAccount returns the account, creating it with zero counters on
// first contact, and records the login time.
func (s *Postgres) GetOrCreateAccount(ctx context.Context, id, email string) (models.Account, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, created_at, last_login)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET last_login = NOW(), email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE accounts.email END
		RETURNING `+accountColumns, id, email)
	return scanAccount(row)
}

// GetAccount fetches an account by id.
func (s *Postgres) GetAccount(ctx context.Context, id string) (models.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, apperr.NotFound("get account", fmt.Errorf("%w: %s", apperr.ErrAccountNotFound, id))
	}
	return acct, err
}

var counterColumns = map[models.Counter]string{
	models.CounterCredits:  "credits",
	models.CounterFreeUsed: "free_credits_used",
}

// AdjustCredits applies adj in one guarded UPDATE. Postgres row locking
// serializes concurrent adjustments of the same account.
func (s *Postgres) AdjustCredits(ctx context.Context, id string, adj models.CreditAdjustment) (models.Account, bool, error) {
	col, ok := counterColumns[adj.Counter]
	if !ok {
		return models.Account{}, false, fmt.Errorf("unknown credit counter %q", adj.Counter)
	}
	generated := 0
	if adj.CountGeneration {
		generated = 1
	}
	args := []any{id, adj.Delta, generated}
	guard := ""
	switch adj.Guard {
	case models.GuardGreaterThan:
		guard = " AND " + col + " > $4"
		args = append(args, adj.GuardValue)
	case models.GuardLessThan:
		guard = " AND " + col + " < $4"
		args = append(args, adj.GuardValue)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE accounts
		SET `+col+` = `+col+` + $2, total_generated = total_generated + $3
		WHERE id = $1`+guard+`
		RETURNING `+accountColumns, args...)
	acct, err := scanAccount(row)
	if err == nil {
		return acct, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, false, fmt.Errorf("adjust %s: %w", col, err)
	}
	current, err := s.GetAccount(ctx, id)
	if err != nil {
		return models.Account{}, false, err
	}
	return current, false, nil
}

func scanAccount(row pgx.Row) (models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.Email, &a.Credits, &a.FreeCreditsUsed, &a.TotalGenerated, &a.CreatedAt, &a.LastLoginAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, err
		}
		return models.Account{}, fmt.Errorf("scan account: %w", err)
	}
	if err := a.Validate(); err != nil {
		return models.Account{}, err
	}
	return a, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
