package models

import (
	"errors"
	"fmt"
	"time"
)

// Job lifecycle states. Transitions only move forward:
// queued -> processing -> completed | failed.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job is one user-submitted generation request and its lifecycle record.
type Job struct {
	ID          string      `json:"job_id"`
	OwnerID     string      `json:"user_id"`
	Status      string      `json:"status"`
	InputRef    string      `json:"input_image_url"`
	OutputRef   *string     `json:"output_image_url,omitempty"`
	Error       *string     `json:"error_message,omitempty"`
	Watermark   bool        `json:"has_watermark"`
	Composite   bool        `json:"composite"`
	Metadata    JobMetadata `json:"metadata"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// JobMetadata is written once, on completion or failure.
type JobMetadata struct {
	Style            string            `json:"style,omitempty"`
	Model            string            `json:"model,omitempty"`
	ProcessingTimeMS int64             `json:"processing_time_ms,omitempty"`
	AvatarRef        string            `json:"avatar_url,omitempty"`
	ErrorKind        string            `json:"error_kind,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// ValidStatus reports whether s is one of the four lifecycle states.
func ValidStatus(s string) bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the job can no longer change.
func (j Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Startable reports whether a delivery for this job may begin processing.
func (j Job) Startable() bool {
	return j.Status == StatusQueued
}

// Validate rejects records that are missing required fields or break the
// output/error/status invariants.
func (j Job) Validate() error {
	var errs []error
	if j.ID == "" {
		errs = append(errs, errors.New("job_id is required"))
	}
	if j.OwnerID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	if !ValidStatus(j.Status) {
		errs = append(errs, fmt.Errorf("invalid status %q", j.Status))
	}
	if j.InputRef == "" {
		errs = append(errs, errors.New("input_image_url is required"))
	}
	if j.CreatedAt.IsZero() {
		errs = append(errs, errors.New("created_at is required"))
	}
	if (j.OutputRef != nil) != (j.Status == StatusCompleted) {
		errs = append(errs, fmt.Errorf("output_image_url must be set iff status is %s", StatusCompleted))
	}
	if j.Error != nil && j.Status != StatusFailed {
		errs = append(errs, fmt.Errorf("error_message set on %s job", j.Status))
	}
	if (j.CompletedAt != nil) != j.IsTerminal() {
		errs = append(errs, errors.New("completed_at must be set iff the job is terminal"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid job record %q: %w", j.ID, errors.Join(errs...))
	}
	return nil
}
