// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"github.com/woozymasta/pathrules"
)

// Default session tuning values.
const (
	// DefaultBlockSize is the default payload block size for ReadBlock.
	DefaultBlockSize = 64 * 1024
	// DefaultWriteBuffer is the default buffered sink size.
	DefaultWriteBuffer = 1024 * 1024
	// maxFilterDepth bounds filter auto-detection nesting.
	maxFilterDepth = 4
)

// Format names a container family.
type Format string

// Supported container formats.
const (
	// FormatAuto detects the container from stream signatures (read only).
	FormatAuto Format = ""
	// FormatUstar is the fixed-field POSIX.1-1988 tar variant.
	FormatUstar Format = "ustar"
	// FormatPax is ustar extended with pax auxiliary header records.
	FormatPax Format = "pax"
	// FormatGNU is ustar extended with GNU long name/link records.
	FormatGNU Format = "gnutar"
	// FormatZip is the central-directory-indexed zip container.
	FormatZip Format = "zip"
)

// isTar reports whether the format belongs to the tar family.
func (f Format) isTar() bool {
	return f == FormatUstar || f == FormatPax || f == FormatGNU
}

// FilterKind names one compression filter.
type FilterKind string

// Supported compression filters.
const (
	// FilterNone passes bytes through unchanged.
	FilterNone FilterKind = "none"
	// FilterGzip is RFC 1952 gzip.
	FilterGzip FilterKind = "gzip"
	// FilterBzip2 is bzip2.
	FilterBzip2 FilterKind = "bzip2"
	// FilterXz is the xz container over LZMA2.
	FilterXz FilterKind = "xz"
	// FilterLzma is the legacy raw .lzma stream.
	FilterLzma FilterKind = "lzma"
	// FilterZstd is Zstandard.
	FilterZstd FilterKind = "zstd"
	// FilterLz4 is the LZ4 frame format.
	FilterLz4 FilterKind = "lz4"
	// FilterCompress is the legacy LZW .Z format.
	FilterCompress FilterKind = "compress"
)

// String returns the filter name.
func (k FilterKind) String() string { return string(k) }

// FilterSpec is one (kind, options) element of a filter chain. Chains are
// listed outermost-first: the first spec touches raw container bytes.
type FilterSpec struct {
	// Kind selects the filter.
	Kind FilterKind `json:"kind" yaml:"kind"`
	// Level is the compression level; zero means the codec default.
	// Ignored on read.
	Level int `json:"level,omitempty" yaml:"level,omitempty"`
}

// ReaderOptions configures an archive read session. The zero value enables
// full auto-detection of both filters and container format.
type ReaderOptions struct {
	// Format pins the container format; FormatAuto detects from signatures.
	Format Format `json:"format,omitempty" yaml:"format,omitempty"`
	// Filters pins the decode chain outermost-first; nil auto-detects.
	// An explicit empty non-nil chain means raw (no filters).
	Filters []FilterSpec `json:"filters,omitempty" yaml:"filters,omitempty"`
	// BlockSize is the payload fragment size for ReadBlock.
	BlockSize int `json:"block_size,omitempty" yaml:"block_size,omitempty"`
}

// applyDefaults fills zero-valued reader options with defaults.
func (opts *ReaderOptions) applyDefaults() {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
}

// WriterOptions configures an archive write session. Format is required;
// there is no auto-selection on write.
type WriterOptions struct {
	// Format selects the container format to emit.
	Format Format `json:"format" yaml:"format"`
	// Filters is the encode chain outermost-first; nil or empty means raw.
	Filters []FilterSpec `json:"filters,omitempty" yaml:"filters,omitempty"`
	// BufferSize is the buffered sink size in bytes.
	BufferSize int `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
	// ZipStore disables deflate for zip regular files and stores them raw.
	ZipStore bool `json:"zip_store,omitempty" yaml:"zip_store,omitempty"`
	// ZipLevel is the deflate level for zip entries; zero means default.
	ZipLevel int `json:"zip_level,omitempty" yaml:"zip_level,omitempty"`
}

// applyDefaults fills zero-valued writer options with defaults.
func (opts *WriterOptions) applyDefaults() {
	if opts.BufferSize < 4096 {
		opts.BufferSize = DefaultWriteBuffer
	}
}

// ExtractFlag is a bitmask controlling extraction behavior. The zero value
// is the safe default: traversal, absolute paths, and link escapes are all
// rejected, and permissions and times are restored.
type ExtractFlag uint32

// Extraction behavior flags. The Allow* bits disable a safety check that is
// otherwise on by default (except when the destination is the filesystem
// root, where all three are implicitly allowed).
const (
	// ExtractAllowDotDot accepts entry paths containing ".." segments.
	ExtractAllowDotDot ExtractFlag = 1 << iota
	// ExtractAllowAbsolute accepts absolute entry paths.
	ExtractAllowAbsolute
	// ExtractAllowLinkEscape accepts symlink targets escaping the destination root.
	ExtractAllowLinkEscape
	// ExtractNoPerm skips permission restoration.
	ExtractNoPerm
	// ExtractNoTime skips modification time restoration.
	ExtractNoTime
	// ExtractNoOverwrite fails on existing destination files instead of truncating.
	ExtractNoOverwrite
)

// ExtractOptions configures the extraction convenience layer.
type ExtractOptions struct {
	// OnEntryDone is called after one entry is fully materialized on disk.
	OnEntryDone func(entry Entry, written int64, outputPath string) `json:"-" yaml:"-"`
	// Select limits extraction to entries included by ordered path rules;
	// empty means all entries.
	Select []pathrules.Rule `json:"select,omitempty" yaml:"select,omitempty"`
	// SelectMatcherOptions control selection rule matching.
	SelectMatcherOptions pathrules.MatcherOptions `json:"select_matcher_options,omitzero" yaml:"select_matcher_options,omitempty"`
	// SanitizeNames rewrites entry paths to deterministic filesystem-safe
	// names before extraction, deduplicating collisions.
	SanitizeNames bool `json:"sanitize_names,omitempty" yaml:"sanitize_names,omitempty"`
	// Flags is the extraction behavior bitmask.
	Flags ExtractFlag `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// applyDefaults fills zero-valued extract options with defaults.
func (opts *ExtractOptions) applyDefaults() {
	if opts.SelectMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.SelectMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: false,
			DefaultAction:   pathrules.ActionInclude,
		}
	}
	if opts.SelectMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.SelectMatcherOptions.DefaultAction = pathrules.ActionInclude
	}
}
