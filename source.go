// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"fmt"
	"io"
	"os"
	"syscall"
)

// maxEmptyReads bounds zero-progress reads from misbehaving backends.
const maxEmptyReads = 100

// CallbackReader supplies a caller-driven byte source. Read is required;
// the other callbacks are optional. Read follows the io.Reader contract
// except that zero-byte progress is tolerated and retried internally.
type CallbackReader struct {
	// Open is called once before the first read.
	Open func() error
	// Read fills p and returns the number of bytes read; 0 with nil error
	// is retried, io.EOF ends the stream.
	Read func(p []byte) (int, error)
	// Skip advances the stream by up to n bytes and returns the count skipped.
	Skip func(n int64) (int64, error)
	// Close releases caller resources; called exactly once on session close.
	Close func() error
}

// CallbackWriter supplies a caller-driven byte sink. Write is required and
// may perform partial writes; the adapter retries until the buffer drains.
type CallbackWriter struct {
	// Open is called once before the first write.
	Open func() error
	// Write consumes a prefix of p and returns the number of bytes taken.
	Write func(p []byte) (int, error)
	// Close releases caller resources; called exactly once on session close.
	Close func() error
}

// callbackSource adapts CallbackReader to io.ReadCloser with retry on
// zero-progress reads.
type callbackSource struct {
	cb     CallbackReader
	opened bool
	closed bool
}

// newCallbackSource wraps callbacks and runs the optional Open hook lazily.
func newCallbackSource(cb CallbackReader) *callbackSource {
	return &callbackSource{cb: cb}
}

// Read reads from the callback, retrying bounded zero-progress results.
func (s *callbackSource) Read(p []byte) (int, error) {
	if s.cb.Read == nil {
		return 0, ErrNilReader
	}
	if s.closed {
		return 0, ErrClosed
	}
	if !s.opened {
		s.opened = true
		if s.cb.Open != nil {
			if err := s.cb.Open(); err != nil {
				return 0, fmt.Errorf("open callback source: %w", err)
			}
		}
	}

	emptyReads := 0
	for {
		n, err := s.cb.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		if len(p) == 0 {
			return 0, nil
		}

		emptyReads++
		if emptyReads > maxEmptyReads {
			return 0, io.ErrNoProgress
		}
	}
}

// skip advances using the Skip callback when available.
func (s *callbackSource) skip(n int64) (int64, error) {
	if s.cb.Skip == nil {
		return 0, ErrNotSeekable
	}

	return s.cb.Skip(n)
}

// Close runs the Close callback once.
func (s *callbackSource) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	if s.cb.Close != nil {
		return s.cb.Close()
	}

	return nil
}

// callbackSink adapts CallbackWriter to io.WriteCloser and retries partial
// writes until the buffer is fully consumed.
type callbackSink struct {
	cb     CallbackWriter
	opened bool
	closed bool
}

// newCallbackSink wraps callbacks and runs the optional Open hook lazily.
func newCallbackSink(cb CallbackWriter) *callbackSink {
	return &callbackSink{cb: cb}
}

// Write drains p through the callback, tolerating partial writes.
func (s *callbackSink) Write(p []byte) (int, error) {
	if s.cb.Write == nil {
		return 0, ErrNilWriter
	}
	if s.closed {
		return 0, ErrClosed
	}
	if !s.opened {
		s.opened = true
		if s.cb.Open != nil {
			if err := s.cb.Open(); err != nil {
				return 0, fmt.Errorf("open callback sink: %w", err)
			}
		}
	}

	written := 0
	emptyWrites := 0
	for written < len(p) {
		n, err := s.cb.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			emptyWrites++
			if emptyWrites > maxEmptyReads {
				return written, io.ErrShortWrite
			}

			continue
		}

		emptyWrites = 0
	}

	return written, nil
}

// Close runs the Close callback once.
func (s *callbackSink) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	if s.cb.Close != nil {
		return s.cb.Close()
	}

	return nil
}

// countingReader counts raw bytes consumed from the source. The count feeds
// the session BytesRead progress counter and filter error offsets.
type countingReader struct {
	r io.Reader
	n int64
}

// Read forwards to the wrapped reader and accumulates the byte count.
func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// countingWriter counts raw bytes emitted to the sink. The count feeds the
// session BytesWritten progress counter.
type countingWriter struct {
	w io.Writer
	n int64
}

// Write forwards to the wrapped writer and accumulates the byte count.
func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// discardBytes consumes exactly n bytes from r, preferring native skip
// support. Short streams return ErrTruncated.
func discardBytes(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}

	if cs, ok := r.(*callbackSource); ok && cs.cb.Skip != nil {
		for n > 0 {
			skipped, err := cs.skip(n)
			if err != nil {
				return err
			}
			if skipped <= 0 {
				break
			}

			n -= skipped
		}
		if n == 0 {
			return nil
		}
	}

	written, err := io.CopyN(io.Discard, r, n)
	if err == io.EOF && written < n {
		return fmt.Errorf("%w: %d payload bytes missing", ErrTruncated, n-written)
	}

	return err
}

// countingReaderAt counts bytes served through random access reads.
type countingReaderAt struct {
	ra io.ReaderAt
	n  int64
}

// ReadAt forwards to the wrapped reader and accumulates the byte count.
func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.ra.ReadAt(p, off)
	c.n += int64(n)

	return n, err
}

// dupFD wraps a private duplicate of a caller-owned descriptor. The
// session closes only the duplicate, so neither Close nor the os.File
// finalizer can revoke the caller's descriptor.
func dupFD(fd uintptr, name string) (*os.File, error) {
	dup, err := syscall.Dup(int(fd))
	if err != nil {
		return nil, fmt.Errorf("duplicate descriptor %d: %w", fd, err)
	}

	return os.NewFile(uintptr(dup), name), nil
}

// openFileWithSize opens a file and returns a handle plus current size.
func openFileWithSize(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open archive: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat: %w", err)
	}

	return f, fi.Size(), nil
}
