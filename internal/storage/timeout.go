package storage

import (
	"errors"
	"io"
	"time"
)

// ErrReadTimeout is returned when a backend stream stalls past the
// per-chunk deadline.
var ErrReadTimeout = errors.New("read timed out")

type readResult struct {
	n   int
	err error
}

// timedReader bounds each Read against a stalled backend so a hung
// remote connection cannot pin a download goroutine forever.
type timedReader struct {
	rc      io.ReadCloser
	timeout time.Duration
	pending chan readResult
	buf     []byte
	closed  bool
}

// WithReadTimeout wraps rc so every Read returns within d or fails with
// ErrReadTimeout. On timeout the underlying stream is closed; the
// in-flight read is abandoned.
func WithReadTimeout(rc io.ReadCloser, d time.Duration) io.ReadCloser {
	if d <= 0 {
		return rc
	}
	return &timedReader{rc: rc, timeout: d}
}

func (t *timedReader) Read(p []byte) (int, error) {
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	// A previous Read may have timed out while the backend read was
	// still in flight; if its result arrived since, drain it first.
	if t.pending == nil {
		t.pending = make(chan readResult, 1)
		t.buf = make([]byte, len(p))
		if len(t.buf) == 0 {
			t.buf = make([]byte, 32*1024)
		}
		go func(buf []byte) {
			n, err := t.rc.Read(buf)
			t.pending <- readResult{n: n, err: err}
		}(t.buf)
	}

	select {
	case res := <-t.pending:
		n := copy(p, t.buf[:res.n])
		t.pending = nil
		return n, res.err
	case <-time.After(t.timeout):
		t.closed = true
		t.rc.Close()
		return 0, ErrReadTimeout
	}
}

func (t *timedReader) Close() error {
	t.closed = true
	return t.rc.Close()
}
