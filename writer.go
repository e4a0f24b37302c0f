// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// containerWriter is the per-format encode engine behind a Writer session.
type containerWriter interface {
	// writeHeader starts a new entry; the previous one must be finished.
	writeHeader(e *Entry) error
	// write appends payload bytes for the current entry.
	write(p []byte) (int, error)
	// finishEntry completes the current entry payload.
	finishEntry() error
	// close emits the container trailer.
	close() error
}

// Writer is a streaming archive write session. Entries are appended in
// order with WriteHeader followed by exactly Entry.Size payload bytes.
// A Writer is not safe for concurrent use.
type Writer struct {
	codec    containerWriter
	counting *countingWriter
	buf      *bufio.Writer
	filters  []io.WriteCloser
	closers  []io.Closer
	format   Format
	cur      *Entry
	declared int64
	written  int64
	err      error
	mu       sync.Mutex
	closed   bool
}

// Create creates an archive file. The format must be set in the options;
// filters listed there are applied outermost-first.
func Create(path string, opts WriterOptions) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	w, err := newWriterSession(f, f, []io.Closer{f}, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return w, nil
}

// NewWriter writes an archive to an arbitrary byte sink. The caller keeps
// ownership of sink; it is not closed by the session.
func NewWriter(sink io.Writer, opts WriterOptions) (*Writer, error) {
	if sink == nil {
		return nil, ErrNilWriter
	}

	wa, _ := sink.(io.WriterAt)

	return newWriterSession(sink, wa, nil, opts)
}

// NewWriterToFD writes an archive to an open file descriptor. The session
// operates on a private duplicate; the descriptor stays owned by the
// caller and is never closed by the session.
func NewWriterToFD(fd uintptr, opts WriterOptions) (*Writer, error) {
	f, err := dupFD(fd, "archive")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNilWriter, err)
	}

	// Descriptors may be pipes or sockets, so no random access is assumed.
	w, err := newWriterSession(f, nil, []io.Closer{f}, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return w, nil
}

// NewWriterToCallbacks writes an archive through caller-supplied callbacks,
// for sinks like sockets or chunked uploads.
func NewWriterToCallbacks(cb CallbackWriter, opts WriterOptions) (*Writer, error) {
	if cb.Write == nil {
		return nil, ErrNilWriter
	}

	sink := newCallbackSink(cb)

	return newWriterSession(sink, nil, []io.Closer{sink}, opts)
}

// newWriterSession layers the buffered sink, the encode filter chain and
// the container codec. wa, when non-nil and the chain is empty, lets the
// zip codec backfill local header sizes instead of appending descriptors.
func newWriterSession(sink io.Writer, wa io.WriterAt, owned []io.Closer, opts WriterOptions) (*Writer, error) {
	opts.applyDefaults()
	if opts.Format == FormatAuto {
		return nil, fmt.Errorf("%w: writer requires an explicit format", ErrUnknownFormat)
	}

	w := &Writer{
		counting: &countingWriter{w: sink},
		format:   opts.Format,
		closers:  owned,
	}
	w.buf = bufio.NewWriterSize(w.counting, opts.BufferSize)

	chainOut, filterClosers, err := openEncodeChain(w.buf, opts.Filters)
	w.filters = filterClosers
	if err != nil {
		return nil, err
	}

	switch {
	case opts.Format.isTar():
		w.codec = newTarWriter(chainOut, opts.Format)
	case opts.Format == FormatZip:
		var backfill func(off int64, p []byte) error
		if wa != nil && len(filterClosers) == 0 {
			backfill = func(off int64, p []byte) error {
				if err := w.buf.Flush(); err != nil {
					return fmt.Errorf("flush before backfill: %w", err)
				}
				if _, err := wa.WriteAt(p, off); err != nil {
					return fmt.Errorf("backfill local header: %w", err)
				}

				return nil
			}
		}
		w.codec = newZipWriter(chainOut, backfill, &opts)
	default:
		return nil, fmt.Errorf("%w: format %q", ErrUnknownFormat, opts.Format)
	}

	return w, nil
}

// WriteHeader starts a new entry. The previous entry must have received
// exactly its declared payload size, otherwise the session fails with
// ErrSizeMismatch.
func (w *Writer) WriteHeader(e *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if err := e.validate(); err != nil {
		return err
	}

	if err := w.finishCurrent(); err != nil {
		w.err = err
		return err
	}

	if err := w.codec.writeHeader(e); err != nil {
		w.err = err
		return err
	}

	w.cur = e.clone()
	w.declared = 0
	if e.Type == TypeRegular {
		w.declared = e.Size
	}
	w.written = 0

	return nil
}

// finishCurrent validates and completes the in-flight entry.
func (w *Writer) finishCurrent() error {
	if w.cur == nil {
		return nil
	}

	if w.written != w.declared {
		return fmt.Errorf("%w: entry %q received %d of %d declared bytes",
			ErrSizeMismatch, w.cur.Path, w.written, w.declared)
	}
	if err := w.codec.finishEntry(); err != nil {
		return err
	}
	w.cur = nil

	return nil
}

// Write appends payload bytes for the current entry. Writing more than the
// declared entry size fails immediately with ErrSizeMismatch.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	if w.cur == nil {
		return 0, fmt.Errorf("%w: no current entry", ErrInvalidState)
	}
	if w.written+int64(len(p)) > w.declared {
		err := fmt.Errorf("%w: entry %q declared %d bytes, write would exceed by %d",
			ErrSizeMismatch, w.cur.Path, w.declared, w.written+int64(len(p))-w.declared)
		w.err = err

		return 0, err
	}

	n, err := w.codec.write(p)
	w.written += int64(n)
	if err != nil {
		w.err = err
	}

	return n, err
}

// BytesWritten returns the number of raw archive bytes flushed to the sink
// so far, after filter compression and sink buffering.
func (w *Writer) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.counting.n
}

// Format returns the container format being written.
func (w *Writer) Format() Format {
	return w.format
}

// Close completes the archive: the last entry is finished, the container
// trailer and filter trailers are flushed, and owned resources are
// released. Safe to call multiple times.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	firstErr := w.err
	if firstErr == nil {
		firstErr = w.finishCurrent()
	}
	if firstErr == nil {
		firstErr = w.codec.close()
	}

	// Filter closers flush innermost-first; run them even after failures
	// so resources are not leaked.
	for _, fc := range w.filters {
		if err := fc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := w.buf.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
