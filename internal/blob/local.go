package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LocalStore keeps blobs on the filesystem under baseDir/bucket/key. It is
// meant for development; signed URLs are plain file URLs with an expiry hint.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) *LocalStore {
	if baseDir == "" {
		baseDir = "./data"
	}
	return &LocalStore{baseDir: baseDir}
}

func (l *LocalStore) path(bucket, key string) string {
	return filepath.Join(l.baseDir, sanitizeKey(bucket), filepath.FromSlash(sanitizeKey(key)))
}

func (l *LocalStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(bucket, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (l *LocalStore) Put(_ context.Context, bucket, key string, body []byte, _ string) (string, error) {
	path := l.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("local://%s/%s", sanitizeKey(bucket), sanitizeKey(key)), nil
}

func (l *LocalStore) SignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	abs, err := filepath.Abs(l.path(bucket, key))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	u.RawQuery = url.Values{"expires": {strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)}}.Encode()
	return u.String(), nil
}
