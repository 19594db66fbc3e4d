// Package storage defines the Backend interface for content storage
// and provides per-disk routing between configured backends.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an object does not exist on the backend.
	ErrNotFound = errors.New("object not found")

	// ErrDirectURLUnsupported is returned by backends that cannot mint
	// pre-authorized direct URLs.
	ErrDirectURLUnsupported = errors.New("direct URLs not supported")

	// ErrUnknownDisk is returned by the registry when a file references a
	// disk no configured backend serves.
	ErrUnknownDisk = errors.New("unknown disk")
)

// Backend is the interface for content storage backends.
// Implementations handle raw object I/O (local filesystem, S3/MinIO).
// Metadata (names, tree position, ownership) lives in the catalog.
type Backend interface {
	// Put uploads content under a backend-generated key and returns it.
	// Callers never choose keys; the key is immutable once returned.
	Put(ctx context.Context, prefix, filename, contentType string, body io.Reader, size int64) (string, error)

	// GetObject retrieves an object stream and its size by key.
	// Returns ErrNotFound if the key does not exist.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Delete removes an object by key. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, key string) error

	// DirectURL returns a pre-authorized URL for fetching the object
	// without going through this server, valid for ttl. Backends without
	// that capability return ErrDirectURLUnsupported.
	DirectURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// NewKey builds a storage key for an uploaded file: prefix, a random
// UUID, and a sanitized form of the original filename. Keys are opaque
// to callers and never reused.
func NewKey(prefix, filename string) string {
	name := SanitizeFilename(filename)
	key := uuid.NewString() + "-" + name
	if prefix != "" {
		key = strings.Trim(prefix, "/") + "/" + key
	}
	return key
}

// SanitizeFilename strips everything but letters, digits, dots and
// dashes so original filenames cannot smuggle path separators into keys.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
