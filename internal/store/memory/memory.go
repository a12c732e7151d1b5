// Package memory is an in-process JobStore and AccountStore used by tests
// and single-node development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"avatar-pipeline/internal/apperr"
	"avatar-pipeline/internal/models"
	"avatar-pipeline/internal/store"
)

// Store keeps jobs and accounts in maps behind one mutex, so every method is
// atomic with respect to the others.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]models.Job
	accounts map[string]models.Account
	now      func() time.Time
}

var (
	_ store.JobStore     = (*Store)(nil)
	_ store.AccountStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		jobs:     make(map[string]models.Job),
		accounts: make(map[string]models.Account),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) CreateJob(_ context.Context, job models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("insert job: duplicate id %s", job.ID)
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, apperr.NotFound("get job", fmt.Errorf("%w: %s", apperr.ErrJobNotFound, id))
	}
	return cloneJob(job), nil
}

func (s *Store) ListJobs(_ context.Context, ownerID string, limit, offset int) ([]models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var owned []models.Job
	for _, j := range s.jobs {
		if j.OwnerID == ownerID {
			owned = append(owned, cloneJob(j))
		}
	}
	sort.Slice(owned, func(a, b int) bool {
		return owned[a].CreatedAt.After(owned[b].CreatedAt)
	})
	total := len(owned)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return owned[offset:end], total, nil
}

func (s *Store) ClaimJob(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, apperr.NotFound("claim job", fmt.Errorf("%w: %s", apperr.ErrJobNotFound, id))
	}
	if job.Status != models.StatusQueued {
		return false, nil
	}
	job.Status = models.StatusProcessing
	job.UpdatedAt = s.now()
	s.jobs[id] = job
	return true, nil
}

func (s *Store) CompleteJob(_ context.Context, id, outputRef string, meta models.JobMetadata) error {
	return s.finish(id, models.StatusCompleted, &outputRef, nil, meta)
}

func (s *Store) FailJob(_ context.Context, id, reason string, meta models.JobMetadata) error {
	return s.finish(id, models.StatusFailed, nil, &reason, meta)
}

func (s *Store) finish(id, status string, outputRef, reason *string, meta models.JobMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return apperr.NotFound("finish job", fmt.Errorf("%w: %s", apperr.ErrJobNotFound, id))
	}
	if job.Status != models.StatusProcessing {
		return fmt.Errorf("%w: %s %s -> %s", store.ErrInvalidTransition, id, job.Status, status)
	}
	now := s.now()
	job.Status = status
	job.OutputRef = outputRef
	job.Error = reason
	job.Metadata = meta
	job.CompletedAt = &now
	job.UpdatedAt = now
	s.jobs[id] = cloneJob(job)
	return nil
}

func (s *Store) ListStuck(_ context.Context, updatedBefore time.Time, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stuck []models.Job
	for _, j := range s.jobs {
		if j.Status == models.StatusProcessing && j.UpdatedAt.Before(updatedBefore) {
			stuck = append(stuck, cloneJob(j))
		}
	}
	sort.Slice(stuck, func(a, b int) bool {
		return stuck[a].UpdatedAt.Before(stuck[b].UpdatedAt)
	})
	if limit > 0 && len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

func (s *Store) GetOrCreateAccount(_ context.Context, id, email string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	acct, ok := s.accounts[id]
	if !ok {
		acct = models.Account{ID: id, Email: email, CreatedAt: now}
	} else if email != "" {
		acct.Email = email
	}
	acct.LastLoginAt = now
	if err := acct.Validate(); err != nil {
		return models.Account{}, err
	}
	s.accounts[id] = acct
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return models.Account{}, apperr.NotFound("get account", fmt.Errorf("%w: %s", apperr.ErrAccountNotFound, id))
	}
	return acct, nil
}

// PutAccount seeds or replaces an account record.
func (s *Store) PutAccount(acct models.Account) error {
	if err := acct.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.ID] = acct
	return nil
}

func (s *Store) AdjustCredits(_ context.Context, id string, adj models.CreditAdjustment) (models.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return models.Account{}, false, apperr.NotFound("adjust credits", fmt.Errorf("%w: %s", apperr.ErrAccountNotFound, id))
	}
	var counter *int
	switch adj.Counter {
	case models.CounterCredits:
		counter = &acct.Credits
	case models.CounterFreeUsed:
		counter = &acct.FreeCreditsUsed
	default:
		return models.Account{}, false, fmt.Errorf("unknown credit counter %q", adj.Counter)
	}
	if !adj.Holds(*counter) {
		return acct, false, nil
	}
	*counter += adj.Delta
	if adj.CountGeneration {
		acct.TotalGenerated++
	}
	if err := acct.Validate(); err != nil {
		return models.Account{}, false, err
	}
	s.accounts[id] = acct
	return acct, true, nil
}

func cloneJob(j models.Job) models.Job {
	if j.OutputRef != nil {
		v := *j.OutputRef
		j.OutputRef = &v
	}
	if j.Error != nil {
		v := *j.Error
		j.Error = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		j.CompletedAt = &v
	}
	if j.Metadata.Extra != nil {
		extra := make(map[string]string, len(j.Metadata.Extra))
		for k, v := range j.Metadata.Extra {
			extra[k] = v
		}
		j.Metadata.Extra = extra
	}
	return j
}
