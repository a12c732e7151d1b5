// Package apperr tags errors with the kind of failure they represent so that
// callers can decide how to surface them without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAdmission is a request rejected before a job exists (no credit, bad upload, rate limited).
	KindAdmission
	// KindNotFound is a missing job or account.
	KindNotFound
	// KindPipeline is a non-retriable failure inside a pipeline run.
	KindPipeline
	// KindTransient is an infrastructure failure that might succeed later.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindAdmission:
		return "admission"
	case KindNotFound:
		return "not_found"
	case KindPipeline:
		return "pipeline"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Operational reports whether errors of this kind should be logged as failures.
func (k Kind) Operational() bool {
	return k == KindPipeline || k == KindTransient || k == KindUnknown
}

var (
	ErrNoCredits         = errors.New("no credits available")
	ErrRateLimited       = errors.New("rate limited")
	ErrJobNotFound       = errors.New("job not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrMalformedEnvelope = errors.New("malformed queue envelope")
	ErrNoImageProduced   = errors.New("no image produced")
	ErrUploadTooLarge    = errors.New("upload too large")
	ErrUnsupportedImage  = errors.New("unsupported image type")
)

// Error is a tagged error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with kind and operation. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Admission(op string, err error) error { return E(KindAdmission, op, err) }
func NotFound(op string, err error) error  { return E(KindNotFound, op, err) }
func Pipeline(op string, err error) error  { return E(KindPipeline, op, err) }
func Transient(op string, err error) error { return E(KindTransient, op, err) }

// KindOf returns the kind of the outermost tagged error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
