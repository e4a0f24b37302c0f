// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// containerReader is the per-format decode engine behind a Reader session.
type containerReader interface {
	// next advances to the next entry; io.EOF means end of archive.
	next() (*Entry, error)
	// readBlock reads the next stored payload fragment into buf; io.EOF
	// means the current entry payload is exhausted.
	readBlock(buf []byte) (DataBlock, error)
	// discard drops the unread remainder of the current entry.
	discard() error
}

// Reader is a streaming archive read session. Entries are visited in
// archive order with Next; payload is consumed with Read or ReadBlock.
// A Reader is not safe for concurrent use.
type Reader struct {
	codec       containerReader
	raw         *countingReader
	rawAt       *countingReaderAt
	closers     []io.Closer
	filterTaps  []io.Reader
	opts        ReaderOptions
	format      Format
	filters     []FilterSpec
	cur         *Entry
	blockBuf    []byte
	pending     DataBlock
	pendingPos  int
	logical     int64
	payloadDone bool
	err         error
	mu          sync.Mutex
	closed      bool
}

// Open opens an archive file with full format and filter auto-detection.
func Open(path string) (*Reader, error) {
	return OpenWithOptions(path, ReaderOptions{})
}

// OpenWithOptions opens an archive file with explicit session options.
func OpenWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}

	r, err := newReaderSession(f, f, size, []io.Closer{f}, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return r, nil
}

// NewReader reads an archive from an arbitrary byte stream.
func NewReader(src io.Reader) (*Reader, error) {
	return NewReaderWithOptions(src, ReaderOptions{})
}

// NewReaderWithOptions reads an archive from a byte stream with explicit
// session options. The caller keeps ownership of src; it is not closed by
// the session.
func NewReaderWithOptions(src io.Reader, opts ReaderOptions) (*Reader, error) {
	if src == nil {
		return nil, ErrNilReader
	}

	return newReaderSession(src, nil, 0, nil, opts)
}

// NewReaderFromBytes reads an archive held in memory.
func NewReaderFromBytes(data []byte) (*Reader, error) {
	return NewReaderFromBytesWithOptions(data, ReaderOptions{})
}

// NewReaderFromBytesWithOptions reads an in-memory archive with explicit
// session options.
func NewReaderFromBytesWithOptions(data []byte, opts ReaderOptions) (*Reader, error) {
	br := bytes.NewReader(data)

	return newReaderSession(br, br, int64(len(data)), nil, opts)
}

// NewReaderFromFD reads an archive from an open file descriptor. The
// session operates on a private duplicate; the descriptor stays owned by
// the caller and is never closed by the session.
func NewReaderFromFD(fd uintptr) (*Reader, error) {
	return NewReaderFromFDWithOptions(fd, ReaderOptions{})
}

// NewReaderFromFDWithOptions reads from a file descriptor with explicit
// session options.
func NewReaderFromFDWithOptions(fd uintptr, opts ReaderOptions) (*Reader, error) {
	f, err := dupFD(fd, "archive")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNilReader, err)
	}

	r, err := newReaderSession(f, nil, 0, []io.Closer{f}, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return r, nil
}

// NewReaderFromCallbacks reads an archive through caller-supplied
// callbacks, for sources like sockets or chunked downloads.
func NewReaderFromCallbacks(cb CallbackReader) (*Reader, error) {
	return NewReaderFromCallbacksWithOptions(cb, ReaderOptions{})
}

// NewReaderFromCallbacksWithOptions reads through callbacks with explicit
// session options.
func NewReaderFromCallbacksWithOptions(cb CallbackReader, opts ReaderOptions) (*Reader, error) {
	if cb.Read == nil {
		return nil, ErrNilReader
	}

	src := newCallbackSource(cb)

	return newReaderSession(src, nil, 0, []io.Closer{src}, opts)
}

// newReaderSession layers filter detection and the container codec over
// the source. ra, when non-nil, enables random access paths such as the
// zip central directory reader.
func newReaderSession(src io.Reader, ra io.ReaderAt, raSize int64, owned []io.Closer, opts ReaderOptions) (*Reader, error) {
	opts.applyDefaults()

	r := &Reader{
		raw:  &countingReader{r: src},
		opts: opts,
	}

	br, err := r.openFilterChain()
	if err != nil {
		_ = r.closeStack()
		return nil, err
	}
	r.closers = append(r.closers, owned...)

	r.format = opts.Format
	if r.format == FormatAuto {
		r.format, err = detectContainer(br)
		if err != nil {
			_ = r.closeStack()
			return nil, err
		}
	}

	switch {
	case r.format == FormatZip && ra != nil && len(r.filters) == 0:
		r.rawAt = &countingReaderAt{ra: ra}
		r.codec, err = newZipDirReader(r.rawAt, raSize)
	case r.format == FormatZip:
		r.codec = newZipStreamReader(br)
	case r.format.isTar():
		r.codec = newTarReader(br)
	default:
		err = fmt.Errorf("%w: format %q", ErrUnknownFormat, r.format)
	}
	if err != nil {
		_ = r.closeStack()
		return nil, err
	}

	return r, nil
}

// openFilterChain layers decode filters over the raw source, either the
// pinned chain from the options or by signature sniffing, and returns the
// buffered stream positioned at the container bytes.
func (r *Reader) openFilterChain() (*bufio.Reader, error) {
	var cur io.Reader = r.raw

	if r.opts.Filters != nil {
		for _, spec := range r.opts.Filters {
			codec, err := filterByKind(spec.Kind)
			if err != nil {
				return nil, err
			}
			if codec == nil {
				continue
			}

			tap, closer, err := openDecodeFilter(codec, cur, r.raw)
			if err != nil {
				return nil, err
			}

			r.closers = append(r.closers, closer)
			r.filterTaps = append(r.filterTaps, tap)
			r.filters = append(r.filters, spec)
			cur = tap
		}

		return bufio.NewReader(cur), nil
	}

	for depth := 0; depth < maxFilterDepth; depth++ {
		br := bufio.NewReader(cur)
		window, err := br.Peek(maxFilterMagicLen)
		if err != nil && len(window) == 0 {
			return br, nil
		}

		codec := matchFilterMagic(window)
		if codec == nil {
			return br, nil
		}

		tap, closer, err := openDecodeFilter(codec, br, r.raw)
		if err != nil {
			return nil, err
		}

		r.closers = append(r.closers, closer)
		r.filterTaps = append(r.filterTaps, tap)
		r.filters = append(r.filters, FilterSpec{Kind: codec.kind})
		cur = tap
	}

	return bufio.NewReader(cur), nil
}

// drainFilters reads every decode layer to EOF, outermost first, forcing
// each codec through its trailer checks.
func (r *Reader) drainFilters() error {
	for i := len(r.filterTaps) - 1; i >= 0; i-- {
		if _, err := io.Copy(io.Discard, r.filterTaps[i]); err != nil {
			return err
		}
	}

	return nil
}

// detectContainer sniffs the container format from the decoded stream.
func detectContainer(br *bufio.Reader) (Format, error) {
	window, err := br.Peek(4)
	if err != nil && len(window) < 4 {
		return FormatAuto, fmt.Errorf("%w: input too short for any container signature",
			ErrUnknownFormat)
	}

	switch binary.LittleEndian.Uint32(window) {
	case zipLocalHeaderSig, zipCentralDirSig, zipEndOfDirSig:
		return FormatZip, nil
	}

	hdr, err := br.Peek(tarBlockSize)
	if err != nil && len(hdr) < tarBlockSize {
		return FormatAuto, fmt.Errorf("%w: no container signature recognized", ErrUnknownFormat)
	}

	switch string(tarFieldMagic.slice(hdr)) {
	case tarMagicGNU:
		return FormatGNU, nil
	case tarMagicUstar:
		return FormatUstar, nil
	}

	// Pre-ustar headers carry no magic; a valid checksum is the only tell.
	want, err := parseTarOctal(tarFieldChksum.slice(hdr), "chksum")
	if err == nil && want > 0 {
		unsigned, signed := tarChecksum(hdr)
		if want == unsigned || want == signed {
			return FormatUstar, nil
		}
	}

	return FormatAuto, fmt.Errorf("%w: no container signature recognized", ErrUnknownFormat)
}

// Next advances to the next entry, discarding any unread payload of the
// current one. It returns io.EOF at the end of the archive. Decode errors
// are sticky: once Next fails, it keeps failing with the same error.
func (r *Reader) Next() (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if r.err != nil {
		return nil, r.err
	}

	e, err := r.codec.next()
	if err != nil {
		// Container end markers sit before the compression trailer, so
		// the decoders have not checked their checksums yet. Drain the
		// chain before reporting the end so trailer corruption surfaces
		// as a filter error instead of a clean EOF.
		if err == io.EOF {
			if derr := r.drainFilters(); derr != nil {
				err = derr
			}
		}
		r.err = err
		r.cur = nil

		return nil, err
	}

	r.cur = e
	r.pending = DataBlock{}
	r.pendingPos = 0
	r.logical = 0
	r.payloadDone = false

	return e, nil
}

// ReadBlock reads the next stored payload fragment of the current entry.
// For sparse entries the fragment offset marks its logical file position
// and holes are never materialized. Returns io.EOF when the payload is
// exhausted.
func (r *Reader) ReadBlock() (DataBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return DataBlock{}, ErrClosed
	}
	if r.err != nil {
		return DataBlock{}, r.err
	}
	if r.cur == nil {
		return DataBlock{}, fmt.Errorf("%w: no current entry", ErrInvalidState)
	}

	blk, err := r.readBlockLocked()
	if err != nil && !errors.Is(err, io.EOF) {
		r.err = err
	}

	return blk, err
}

// readBlockLocked pulls one fragment into the session block buffer.
func (r *Reader) readBlockLocked() (DataBlock, error) {
	if r.blockBuf == nil {
		r.blockBuf = make([]byte, r.opts.BlockSize)
	}

	return r.codec.readBlock(r.blockBuf)
}

// Read reads the current entry payload as a flat byte stream, with sparse
// holes materialized as zeros. Mixing Read and ReadBlock on the same entry
// is not supported.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	if r.err != nil {
		return 0, r.err
	}
	if r.cur == nil {
		return 0, fmt.Errorf("%w: no current entry", ErrInvalidState)
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		// Serve buffered fragment bytes, zero-filling any hole before them.
		if r.pendingPos < len(r.pending.Data) {
			dataStart := r.pending.Offset + int64(r.pendingPos)
			if dataStart > r.logical {
				return r.fillZeros(p, dataStart), nil
			}

			n := copy(p, r.pending.Data[r.pendingPos:])
			r.pendingPos += n
			r.logical += int64(n)

			return n, nil
		}

		if r.payloadDone {
			if r.logical < r.cur.Size {
				return r.fillZeros(p, r.cur.Size), nil
			}

			return 0, io.EOF
		}

		blk, err := r.readBlockLocked()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.payloadDone = true
				continue
			}

			r.err = err

			return 0, err
		}

		r.pending = blk
		r.pendingPos = 0
	}
}

// fillZeros writes zeros into p up to the logical position limit.
func (r *Reader) fillZeros(p []byte, limit int64) int {
	n := limit - r.logical
	if n > int64(len(p)) {
		n = int64(len(p))
	}
	for i := int64(0); i < n; i++ {
		p[i] = 0
	}
	r.logical += n

	return int(n)
}

// BytesRead returns the number of raw archive bytes consumed so far,
// before filter decompression. On the zip central directory path it
// counts bytes served through random access instead.
func (r *Reader) BytesRead() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rawAt != nil {
		return r.rawAt.n
	}

	return r.raw.n
}

// Format returns the pinned or detected container format.
func (r *Reader) Format() Format {
	return r.format
}

// Filters returns the decode filter chain in effect, outermost-first.
func (r *Reader) Filters() []FilterSpec {
	out := make([]FilterSpec, len(r.filters))
	copy(out, r.filters)

	return out
}

// Close releases filter and source resources. Safe to call multiple times.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	return r.closeStack()
}

// closeStack closes layered resources innermost filter outward.
func (r *Reader) closeStack() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil

	return firstErr
}
