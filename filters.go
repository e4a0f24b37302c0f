// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v3"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// nopCloser wraps a reader and provides a no-op close.
type nopCloser struct {
	io.Reader
}

// Close closes nopCloser (no-op).
func (nopCloser) Close() error {
	return nil
}

// filterCodec binds one filter kind to its stream signature and codec
// constructors. openWriter receives the caller's compression level, zero
// meaning the codec default.
type filterCodec struct {
	openReader func(r io.Reader) (io.ReadCloser, error)
	openWriter func(w io.Writer, level int) (io.WriteCloser, error)
	kind       FilterKind
	magic      []byte
}

// filterCodecs lists supported filters in detection order. The lzma filter
// has no reliable signature and is excluded from auto-detection; it must be
// pinned explicitly in ReaderOptions.Filters.
var filterCodecs = []filterCodec{
	{
		kind:       FilterGzip,
		magic:      []byte{0x1f, 0x8b},
		openReader: openGzipReader,
		openWriter: openGzipWriter,
	},
	{
		kind:       FilterBzip2,
		magic:      []byte("BZh"),
		openReader: openBzip2Reader,
		openWriter: openBzip2Writer,
	},
	{
		kind:       FilterXz,
		magic:      []byte{0xfd, '7', 'z', 'X', 'Z', 0x00},
		openReader: openXzReader,
		openWriter: openXzWriter,
	},
	{
		kind:       FilterZstd,
		magic:      []byte{0x28, 0xb5, 0x2f, 0xfd},
		openReader: openZstdReader,
		openWriter: openZstdWriter,
	},
	{
		kind:       FilterLz4,
		magic:      []byte{0x04, 0x22, 0x4d, 0x18},
		openReader: openLz4Reader,
		openWriter: openLz4Writer,
	},
	{
		kind:       FilterCompress,
		magic:      []byte{0x1f, 0x9d},
		openReader: openZCompressReader,
		openWriter: openZCompressWriter,
	},
	{
		kind:       FilterLzma,
		magic:      nil,
		openReader: openLzmaReader,
		openWriter: openLzmaWriter,
	},
}

// maxFilterMagicLen is the lookahead needed to match any filter signature.
const maxFilterMagicLen = 6

// filterByKind resolves a codec by kind; FilterNone resolves to nil codec.
func filterByKind(kind FilterKind) (*filterCodec, error) {
	if kind == FilterNone {
		return nil, nil
	}

	for i := range filterCodecs {
		if filterCodecs[i].kind == kind {
			return &filterCodecs[i], nil
		}
	}

	return nil, fmt.Errorf("%w: filter %q", ErrUnknownFormat, kind)
}

// matchFilterMagic returns the codec whose signature matches the window.
func matchFilterMagic(window []byte) *filterCodec {
	for i := range filterCodecs {
		magic := filterCodecs[i].magic
		if len(magic) == 0 || len(window) < len(magic) {
			continue
		}
		if string(window[:len(magic)]) == string(magic) {
			return &filterCodecs[i]
		}
	}

	return nil
}

// openGzipReader opens a gzip decode stream.
func openGzipReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// openGzipWriter opens a gzip encode stream with optional level.
func openGzipWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}

	return gzip.NewWriterLevel(w, level)
}

// openBzip2Reader opens a bzip2 decode stream.
func openBzip2Reader(r io.Reader) (io.ReadCloser, error) {
	return bzip2.NewReader(r, nil)
}

// openBzip2Writer opens a bzip2 encode stream with optional level.
func openBzip2Writer(w io.Writer, level int) (io.WriteCloser, error) {
	if level == 0 {
		level = bzip2.DefaultCompression
	}

	return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
}

// openXzReader opens an xz decode stream.
func openXzReader(r io.Reader) (io.ReadCloser, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}

	return nopCloser{Reader: xr}, nil
}

// openXzWriter opens an xz encode stream. Level is ignored: the codec
// exposes dictionary sizing rather than numeric presets.
func openXzWriter(w io.Writer, _ int) (io.WriteCloser, error) {
	return xz.NewWriter(w)
}

// openLzmaReader opens a legacy raw lzma decode stream.
func openLzmaReader(r io.Reader) (io.ReadCloser, error) {
	lr, err := lzma.NewReader(r)
	if err != nil {
		return nil, err
	}

	return nopCloser{Reader: lr}, nil
}

// openLzmaWriter opens a legacy raw lzma encode stream. Level is ignored.
func openLzmaWriter(w io.Writer, _ int) (io.WriteCloser, error) {
	return lzma.NewWriter(w)
}

// openZstdReader opens a zstd decode stream. Decoding is synchronous so
// the raw source is only touched from the caller's goroutine and the
// session byte counter stays accurate.
func openZstdReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}

	return dec.IOReadCloser(), nil
}

// openZstdWriter opens a zstd encode stream with optional level.
func openZstdWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level == 0 {
		return zstd.NewWriter(w)
	}

	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
}

// openLz4Reader opens an lz4 frame decode stream.
func openLz4Reader(r io.Reader) (io.ReadCloser, error) {
	return nopCloser{Reader: lz4.NewReader(r)}, nil
}

// openLz4Writer opens an lz4 frame encode stream with optional level.
func openLz4Writer(w io.Writer, level int) (io.WriteCloser, error) {
	lw := lz4.NewWriter(w)
	if level > 0 {
		lw.Header.CompressionLevel = level
	}

	return lw, nil
}

// filterTap converts decode failures into *FilterError values carrying the
// raw source offset at the moment of failure.
type filterTap struct {
	r    io.Reader
	raw  *countingReader
	kind FilterKind
}

// Read forwards to the decode stream and wraps non-EOF failures.
func (t *filterTap) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		err = &FilterError{Filter: t.kind, Offset: t.raw.n, Err: err}
	}

	return n, err
}

// openDecodeFilter layers one decode filter and error tap over r.
func openDecodeFilter(codec *filterCodec, r io.Reader, raw *countingReader) (io.Reader, io.Closer, error) {
	rc, err := codec.openReader(r)
	if err != nil {
		return nil, nil, &FilterError{Filter: codec.kind, Offset: raw.n, Err: err}
	}

	return &filterTap{r: rc, raw: raw, kind: codec.kind}, rc, nil
}

// openEncodeChain layers the write-side filter chain over sink. Specs are
// outermost-first, so the innermost filter is opened last and the returned
// closers flush innermost-first.
func openEncodeChain(sink io.Writer, specs []FilterSpec) (io.Writer, []io.WriteCloser, error) {
	w := sink
	closers := make([]io.WriteCloser, 0, len(specs))
	for _, spec := range specs {
		codec, err := filterByKind(spec.Kind)
		if err != nil {
			return nil, closers, err
		}
		if codec == nil {
			continue
		}

		wc, err := codec.openWriter(w, spec.Level)
		if err != nil {
			return nil, closers, fmt.Errorf("open %s filter: %w", spec.Kind, err)
		}

		closers = append(closers, wc)
		w = wc
	}

	// Reverse so Close flushes the innermost filter trailer first.
	for i, j := 0, len(closers)-1; i < j; i, j = i+1, j-1 {
		closers[i], closers[j] = closers[j], closers[i]
	}

	return w, closers, nil
}
