package storage

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// blockingReader never returns from Read until released.
type blockingReader struct {
	release chan struct{}
	closed  chan struct{}
}

func newBlockingReader() *blockingReader {
	return &blockingReader{
		release: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	select {
	case <-b.release:
		return 0, io.EOF
	case <-b.closed:
		return 0, io.ErrClosedPipe
	}
}

func (b *blockingReader) Close() error {
	close(b.closed)
	return nil
}

func TestWithReadTimeoutZeroIsPassthrough(t *testing.T) {
	rc := io.NopCloser(strings.NewReader("x"))
	if got := WithReadTimeout(rc, 0); got != rc {
		t.Error("zero timeout should return the reader unchanged")
	}
}

func TestTimedReaderPassesDataThrough(t *testing.T) {
	rc := WithReadTimeout(io.NopCloser(strings.NewReader("hello")), time.Second)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
}

func TestTimedReaderTimesOut(t *testing.T) {
	br := newBlockingReader()
	rc := WithReadTimeout(br, 50*time.Millisecond)

	buf := make([]byte, 16)
	_, err := rc.Read(buf)
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}

	// The stalled stream must be closed so its goroutine can exit.
	select {
	case <-br.closed:
	case <-time.After(time.Second):
		t.Error("underlying reader was not closed on timeout")
	}

	// Further reads fail fast.
	if _, err := rc.Read(buf); err == nil {
		t.Error("expected error after timeout")
	}
}

func TestTimedReaderClose(t *testing.T) {
	br := newBlockingReader()
	rc := WithReadTimeout(br, time.Minute)

	if err := rc.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-br.closed:
	case <-time.After(time.Second):
		t.Error("close should propagate to the underlying reader")
	}
}
