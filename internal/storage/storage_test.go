package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"my file (1).txt", "myfile1.txt"},
		{"../../etc/passwd", "....etcpasswd"},
		{"über.txt", "ber.txt"},
		{"///", "file"},
		{"", "file"},
	}
	for _, c := range cases {
		if got := SanitizeFilename(c.in); got != c.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNewKey(t *testing.T) {
	key := NewKey("uploads/cloud", "report.pdf")
	if !strings.HasPrefix(key, "uploads/cloud/") {
		t.Errorf("key should start with the prefix, got %q", key)
	}
	if !strings.HasSuffix(key, "-report.pdf") {
		t.Errorf("key should end with the filename, got %q", key)
	}

	if k2 := NewKey("uploads/cloud", "report.pdf"); k2 == key {
		t.Error("keys for the same name should differ")
	}
}

func TestNewKeyNoPrefix(t *testing.T) {
	key := NewKey("", "a.txt")
	if strings.HasPrefix(key, "/") {
		t.Errorf("key without prefix should not start with a slash, got %q", key)
	}
}

// stubBackend counts Close calls; all I/O methods are unreachable in
// these tests.
type stubBackend struct {
	typ    string
	closed int
}

func (s *stubBackend) Put(context.Context, string, string, string, io.Reader, int64) (string, error) {
	return "", nil
}
func (s *stubBackend) GetObject(context.Context, string) (io.ReadCloser, int64, error) {
	return nil, 0, ErrNotFound
}
func (s *stubBackend) Delete(context.Context, string) error { return nil }
func (s *stubBackend) DirectURL(context.Context, string, time.Duration) (string, error) {
	return "", ErrDirectURLUnsupported
}
func (s *stubBackend) Type() string { return s.typ }
func (s *stubBackend) Close() error { s.closed++; return nil }

func TestRegistryForDisk(t *testing.T) {
	r := NewRegistry("local")
	local := &stubBackend{typ: "local"}
	r.Register("local", local)

	b, err := r.ForDisk("local")
	if err != nil {
		t.Fatal(err)
	}
	if b != local {
		t.Error("ForDisk returned the wrong backend")
	}

	if _, err := r.ForDisk("s3"); !errors.Is(err, ErrUnknownDisk) {
		t.Errorf("expected ErrUnknownDisk, got %v", err)
	}
}

func TestRegistryDefault(t *testing.T) {
	r := NewRegistry("s3")

	if _, err := r.Default(); !errors.Is(err, ErrUnknownDisk) {
		t.Errorf("expected ErrUnknownDisk before registration, got %v", err)
	}

	s3 := &stubBackend{typ: "s3"}
	r.Register("s3", s3)

	b, err := r.Default()
	if err != nil {
		t.Fatal(err)
	}
	if b.Type() != "s3" {
		t.Errorf("expected s3 backend, got %s", b.Type())
	}
	if r.DefaultDisk() != "s3" {
		t.Errorf("expected default disk s3, got %s", r.DefaultDisk())
	}
}

func TestRegistryReplaceClosesOld(t *testing.T) {
	r := NewRegistry("local")
	old := &stubBackend{typ: "local"}
	r.Register("local", old)
	r.Register("local", &stubBackend{typ: "local"})

	if old.closed != 1 {
		t.Errorf("replaced backend should be closed once, got %d", old.closed)
	}
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry("local")
	a := &stubBackend{typ: "local"}
	b := &stubBackend{typ: "s3"}
	r.Register("local", a)
	r.Register("s3", b)

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if a.closed != 1 || b.closed != 1 {
		t.Errorf("all backends should be closed, got %d and %d", a.closed, b.closed)
	}
}
