package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound         = errors.New("blob_not_found")
	ErrInvalidKey       = errors.New("invalid_blob_key")
	ErrURLExpired       = errors.New("download_url_expired")
	ErrInvalidSignature = errors.New("invalid_download_signature")
)

const (
	BackendDatabase = "database"
	BackendMinio    = "minio"
)

// Object is an open blob. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Store persists uploaded structures and result archives.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	// URL returns a time-limited download link. filename sets the
	// attachment name offered to the browser.
	URL(ctx context.Context, key string, ttl time.Duration, filename string) (string, error)
}

// NewObjectKey builds a unique, time-sortable key under prefix.
func NewObjectKey(prefix, filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		name = "blob"
	}
	return path.Join(strings.Trim(prefix, "/"), strings.ToLower(ulid.Make().String()), name)
}

func validateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." || segment == "." {
			return ErrInvalidKey
		}
	}
	return nil
}
