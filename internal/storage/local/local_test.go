package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/eliterp/cloudstore/internal/storage"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{RootPath: t.TempDir(), CreateDirs: true})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNewRequiresRootPath(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty root path")
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	content := []byte("hello cloudstore")

	key, err := b.Put(ctx, "uploads/cloud", "greeting.txt", "text/plain", bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key, "uploads/cloud/") {
		t.Errorf("key should carry the prefix, got %q", key)
	}
	if !strings.HasSuffix(key, "-greeting.txt") {
		t.Errorf("key should end with the sanitized filename, got %q", key)
	}

	rc, size, err := b.GetObject(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	if size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), size)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: %q", got)
	}
}

func TestPutGeneratesUniqueKeys(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	k1, err := b.Put(ctx, "p", "same.txt", "text/plain", strings.NewReader("a"), 1)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := b.Put(ctx, "p", "same.txt", "text/plain", strings.NewReader("b"), 1)
	if err != nil {
		t.Fatal(err)
	}
	if k1 == k2 {
		t.Error("two uploads of the same name should get distinct keys")
	}
}

func TestGetObjectNotFound(t *testing.T) {
	b := newTestBackend(t)

	_, _, err := b.GetObject(context.Background(), "uploads/cloud/missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	key, err := b.Put(ctx, "p", "x.bin", "application/octet-stream", strings.NewReader("x"), 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.GetObject(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is not an error.
	if err := b.Delete(ctx, key); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
}

func TestDirectURLUnsupported(t *testing.T) {
	b := newTestBackend(t)

	_, err := b.DirectURL(context.Background(), "any", 0)
	if !errors.Is(err, storage.ErrDirectURLUnsupported) {
		t.Errorf("expected ErrDirectURLUnsupported, got %v", err)
	}
}

func TestKeyCannotEscapeRoot(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	key, err := b.Put(ctx, "p", "../../etc/passwd", "text/plain", strings.NewReader("x"), 1)
	if err != nil {
		t.Fatal(err)
	}
	// The filename part must not contain path separators.
	if rest := strings.TrimPrefix(key, "p/"); strings.Contains(rest, "/") {
		t.Errorf("path separators should be stripped from filenames, got %q", key)
	}
	if _, _, err := b.GetObject(ctx, key); err != nil {
		t.Errorf("object should be readable under its key: %v", err)
	}
}
