package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatar-pipeline/internal/apperr"
	"avatar-pipeline/internal/models"
	"avatar-pipeline/internal/store"
)

func queuedJob(id, owner string, created time.Time) models.Job {
	return models.Job{
		ID:        id,
		OwnerID:   owner,
		Status:    models.StatusQueued,
		InputRef:  "local://uploads/" + id + ".jpg",
		CreatedAt: created,
	}
}

func TestJobLifecycleIsOneDirectional(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateJob(ctx, queuedJob("j1", "u1", time.Now())))

	claimed, err := s.ClaimJob(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimJob(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")

	require.NoError(t, s.CompleteJob(ctx, "j1", "local://results/j1.png", models.JobMetadata{Style: "s"}))

	err = s.FailJob(ctx, "j1", "late failure", models.JobMetadata{})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	require.NotNil(t, job.OutputRef)
	assert.Equal(t, "local://results/j1.png", *job.OutputRef)
	assert.Nil(t, job.Error)
	assert.NotNil(t, job.CompletedAt)
	assert.NoError(t, job.Validate())
}

func TestCompleteRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateJob(ctx, queuedJob("j1", "u1", time.Now())))
	err := s.CompleteJob(ctx, "j1", "ref", models.JobMetadata{})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestGetJobNotFound(t *testing.T) {
	_, err := New().GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrJobNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCreateJobRejectsInvalidRecord(t *testing.T) {
	job := queuedJob("j1", "", time.Now())
	assert.Error(t, New().CreateJob(context.Background(), job))
}

func TestReturnedJobsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateJob(ctx, queuedJob("j1", "u1", time.Now())))
	_, _ = s.ClaimJob(ctx, "j1")
	require.NoError(t, s.FailJob(ctx, "j1", "boom", models.JobMetadata{}))

	job, _ := s.GetJob(ctx, "j1")
	*job.Error = "mutated"
	again, _ := s.GetJob(ctx, "j1")
	assert.Equal(t, "boom", *again.Error)
}

func TestListJobsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateJob(ctx, queuedJob(id, "u1", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.CreateJob(ctx, queuedJob("other", "u2", base)))

	jobs, total, err := s.ListJobs(ctx, "u1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 2)
	assert.Equal(t, "c", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)

	jobs, _, err = s.ListJobs(ctx, "u1", 2, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].ID)

	jobs, _, _ = s.ListJobs(ctx, "u1", 2, 10)
	assert.Empty(t, jobs)
}

func TestListStuck(t *testing.T) {
	ctx := context.Background()
	s := New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return start })
	require.NoError(t, s.CreateJob(ctx, queuedJob("old", "u1", start)))
	_, _ = s.ClaimJob(ctx, "old")

	s.SetClock(func() time.Time { return start.Add(time.Hour) })
	require.NoError(t, s.CreateJob(ctx, queuedJob("fresh", "u1", start)))
	_, _ = s.ClaimJob(ctx, "fresh")

	stuck, err := s.ListStuck(ctx, start.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "old", stuck[0].ID)
}

func TestGetOrCreateAccountTouchesLogin(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return t0 })
	acct, err := s.GetOrCreateAccount(ctx, "u1", "a@example.com")
	require.NoError(t, err)
	assert.Zero(t, acct.Credits)
	assert.Equal(t, t0, acct.CreatedAt)

	t1 := t0.Add(time.Hour)
	s.SetClock(func() time.Time { return t1 })
	acct, err = s.GetOrCreateAccount(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, t0, acct.CreatedAt)
	assert.Equal(t, t1, acct.LastLoginAt)
	assert.Equal(t, "a@example.com", acct.Email)
}

func TestAdjustCreditsGuard(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutAccount(models.Account{ID: "u1", Credits: 1}))

	adj := models.CreditAdjustment{
		Counter:         models.CounterCredits,
		Delta:           -1,
		Guard:           models.GuardGreaterThan,
		GuardValue:      0,
		CountGeneration: true,
	}
	acct, applied, err := s.AdjustCredits(ctx, "u1", adj)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 0, acct.Credits)
	assert.Equal(t, 1, acct.TotalGenerated)

	acct, applied, err = s.AdjustCredits(ctx, "u1", adj)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 0, acct.Credits)
	assert.Equal(t, 1, acct.TotalGenerated)
}

func TestAdjustCreditsUnknownAccount(t *testing.T) {
	_, _, err := New().AdjustCredits(context.Background(), "nope", models.CreditAdjustment{Counter: models.CounterCredits, Delta: 1})
	assert.True(t, errors.Is(err, apperr.ErrAccountNotFound))
}
