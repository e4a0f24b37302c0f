// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive operations. Use errors.Is in callers.
var (
	// ErrNotSeekable means the operation requires random access and the backend is forward-only.
	ErrNotSeekable = errors.New("source does not support seeking")
	// ErrUnknownFormat means no filter or container signature matched the stream.
	ErrUnknownFormat = errors.New("unrecognized archive format")
	// ErrFilter means compressed data is corrupt. Concrete failures are *FilterError values.
	ErrFilter = errors.New("corrupt filter data")
	// ErrHeader means an entry header failed validation. Concrete failures are *HeaderError values.
	ErrHeader = errors.New("malformed entry header")
	// ErrTruncated means the stream ended inside a header or payload.
	ErrTruncated = errors.New("truncated archive")
	// ErrSizeMismatch means written payload bytes differ from the declared entry size.
	ErrSizeMismatch = errors.New("payload size differs from declared entry size")
	// ErrInvalidState means the call is not valid in the current session state.
	ErrInvalidState = errors.New("operation not valid in current session state")
	// ErrClosed means the session is already closed.
	ErrClosed = errors.New("session already closed")
	// ErrNilReader means the reader is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrNilWriter means the writer is nil.
	ErrNilWriter = errors.New("writer is nil")
	// ErrInvalidEntry means entry fields violate model invariants.
	ErrInvalidEntry = errors.New("invalid entry")
	// ErrSizeOverflow means a size field exceeds the format's addressable limit.
	ErrSizeOverflow = errors.New("size exceeds format limit")
	// ErrInvalidExtractPath means archive entry path is invalid for extraction destination.
	ErrInvalidExtractPath = errors.New("invalid extract path")
	// ErrExtractPathOutsideRoot means resolved extraction path escapes destination root.
	ErrExtractPathOutsideRoot = errors.New("extract path escapes destination root")
	// ErrInvalidSelectPattern means one or more entry selection rules are invalid.
	ErrInvalidSelectPattern = errors.New("invalid selection rules")
)

// FilterError reports corrupt compressed data together with the raw stream
// offset at which decoding failed. It matches ErrFilter via errors.Is.
type FilterError struct {
	// Err is the underlying codec failure.
	Err error
	// Filter is the filter kind that failed.
	Filter FilterKind
	// Offset is the raw (compressed) source offset where decoding stopped.
	Offset int64
}

// Error formats filter failure with raw stream offset.
func (e *FilterError) Error() string {
	return fmt.Sprintf("%s filter: corrupt data at raw offset %d: %v", e.Filter, e.Offset, e.Err)
}

// Unwrap returns the underlying codec failure.
func (e *FilterError) Unwrap() error { return e.Err }

// Is reports ErrFilter identity for errors.Is matching.
func (e *FilterError) Is(target error) bool { return target == ErrFilter }

// HeaderError reports a malformed entry header and names the field that
// failed validation. It matches ErrHeader via errors.Is.
type HeaderError struct {
	// Err is an optional underlying failure.
	Err error
	// Field names the header field that failed validation.
	Field string
	// Reason is a short human-readable description.
	Reason string
}

// Error formats header failure with the offending field.
func (e *HeaderError) Error() string {
	msg := fmt.Sprintf("malformed header: field %q: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying failure when present.
func (e *HeaderError) Unwrap() error { return e.Err }

// Is reports ErrHeader identity for errors.Is matching.
func (e *HeaderError) Is(target error) bool { return target == ErrHeader }

// headerErr builds a HeaderError for one field without an underlying cause.
func headerErr(field, reason string) error {
	return &HeaderError{Field: field, Reason: reason}
}
