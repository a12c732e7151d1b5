// Package blob stores input and result rasters and issues short-lived read links.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when a key does not exist in its bucket.
var ErrNotFound = errors.New("blob not found")

// Store is the blob storage collaborator used by the admission path and the pipeline.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Put writes body and returns a reference of the form scheme://bucket/key.
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) (string, error)
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// InputKey is where the uploaded photo for a job lives.
func InputKey(jobID string) string { return jobID + ".jpg" }

// ResultKey is where the primary deliverable for a job lives.
func ResultKey(jobID string) string { return jobID + ".png" }

// AvatarKey is where the isolated avatar for a job lives.
func AvatarKey(jobID string) string { return jobID + "_avatar.png" }

// ParseRef splits a reference produced by Put into bucket and key.
func ParseRef(ref string) (bucket, key string, err error) {
	rest := ref
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid blob reference %q", ref)
	}
	return bucket, key, nil
}

func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean("/" + key))
	return strings.TrimPrefix(key, "/")
}
