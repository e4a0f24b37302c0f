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
	"hash"
	"hash/crc32"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
)

// zipPayload tracks the in-flight payload of one zip entry, shared by the
// streaming and directory-driven readers.
type zipPayload struct {
	r        io.Reader
	flate    io.ReadCloser
	crc      hash.Hash32
	wantCRC  uint32
	wantSize int64
	produced int64
	checkCRC bool
	done     bool
}

// Read pulls the next chunk of decompressed payload into buf and verifies
// the checksum once the payload ends.
func (p *zipPayload) Read(buf []byte) (int, error) {
	if p.done {
		return 0, io.EOF
	}

	n, err := p.r.Read(buf)
	if n > 0 {
		p.crc.Write(buf[:n])
		p.produced += int64(n)

		return n, nil
	}
	if err == nil {
		return 0, nil
	}
	if !errors.Is(err, io.EOF) {
		return 0, err
	}

	p.done = true
	if p.flate != nil {
		_ = p.flate.Close()
	}
	if p.wantSize >= 0 && p.produced != p.wantSize {
		return 0, fmt.Errorf("%w: entry yielded %d of %d declared bytes",
			ErrTruncated, p.produced, p.wantSize)
	}
	if p.checkCRC && p.crc.Sum32() != p.wantCRC {
		return 0, headerErr("crc32", "entry data checksum mismatch")
	}

	return 0, io.EOF
}

// newZipPayload builds the payload cursor for one entry over its raw
// compressed section.
func newZipPayload(raw io.Reader, method uint16, wantCRC uint32, wantSize int64, checkCRC bool) (*zipPayload, error) {
	p := &zipPayload{
		crc:      crc32.NewIEEE(),
		wantCRC:  wantCRC,
		wantSize: wantSize,
		checkCRC: checkCRC,
	}

	switch method {
	case zipMethodStore:
		p.r = raw
	case zipMethodDeflate:
		p.flate = flate.NewReader(raw)
		p.r = p.flate
	default:
		return nil, headerErr("method", fmt.Sprintf("unsupported compression method %d", method))
	}

	return p, nil
}

// zipStreamReader decodes a zip archive forward-only from a byte stream,
// without access to the central directory. Entry metadata that only the
// central directory carries, such as unix modes, is filled with defaults.
type zipStreamReader struct {
	br      *bufio.Reader
	payload *zipPayload
	// descFlag marks the current entry as descriptor-terminated.
	descFlag bool
}

// newZipStreamReader wraps an already-decompressed stream.
func newZipStreamReader(r io.Reader) *zipStreamReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	return &zipStreamReader{br: br}
}

// next parses the next local file header. The first central directory
// record marks the end of the entry sequence.
func (z *zipStreamReader) next() (*Entry, error) {
	if err := z.discard(); err != nil {
		return nil, err
	}

	var sigBuf [4]byte
	if _, err := io.ReadFull(z.br, sigBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: stream ended before the central directory", ErrTruncated)
	}

	switch sig := binary.LittleEndian.Uint32(sigBuf[:]); sig {
	case zipLocalHeaderSig:
		// fall through to header parsing
	case zipCentralDirSig, zipEndOfDirSig:
		return nil, io.EOF
	default:
		return nil, headerErr("signature", fmt.Sprintf("unexpected record signature %#08x", sig))
	}

	var hdr [zipLocalHeaderLen - 4]byte
	if _, err := io.ReadFull(z.br, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: local file header cut short", ErrTruncated)
	}

	flags := binary.LittleEndian.Uint16(hdr[2:])
	method := binary.LittleEndian.Uint16(hdr[4:])
	dosTime := binary.LittleEndian.Uint16(hdr[6:])
	dosDate := binary.LittleEndian.Uint16(hdr[8:])
	crc := binary.LittleEndian.Uint32(hdr[10:])
	csize := binary.LittleEndian.Uint32(hdr[14:])
	usize := binary.LittleEndian.Uint32(hdr[18:])
	nameLen := int(binary.LittleEndian.Uint16(hdr[22:]))
	extraLen := int(binary.LittleEndian.Uint16(hdr[24:]))

	if flags&1 != 0 {
		return nil, headerErr("flags", "encrypted entries are not supported")
	}

	nameBuf := make([]byte, nameLen+extraLen)
	if _, err := io.ReadFull(z.br, nameBuf); err != nil {
		return nil, fmt.Errorf("%w: local file header cut short", ErrTruncated)
	}

	e := &Entry{
		Path:    string(nameBuf[:nameLen]),
		ModTime: zipTimeFromDOS(dosDate, dosTime),
		Type:    TypeRegular,
		Mode:    0o644,
	}
	if strings.HasSuffix(e.Path, "/") {
		e.Type = TypeDirectory
		e.Path = strings.TrimSuffix(e.Path, "/")
		e.Mode = 0o755
	}
	zipParseExtra(e, nameBuf[nameLen:])

	z.descFlag = flags&zipFlagDataDesc != 0

	var raw io.Reader
	wantSize := int64(usize)
	checkCRC := true
	switch {
	case !z.descFlag:
		raw = io.LimitReader(z.br, int64(csize))
	case method == zipMethodDeflate:
		// Sizes arrive in the trailing descriptor; flate finds its own
		// end and reads byte-exact thanks to bufio.
		raw = z.br
		wantSize = -1
		checkCRC = false
	default:
		return nil, headerErr("flags", "stored entry with deferred sizes cannot be streamed")
	}

	p, err := newZipPayload(raw, method, crc, wantSize, checkCRC)
	if err != nil {
		return nil, err
	}
	z.payload = p

	e.Size = wantSize
	if e.Size < 0 || e.Type != TypeRegular {
		e.Size = 0
	}

	if err := e.validate(); err != nil {
		return nil, err
	}

	return e, nil
}

// readBlock reads the next payload chunk. Offsets grow contiguously since
// zip has no sparse entries.
func (z *zipStreamReader) readBlock(buf []byte) (DataBlock, error) {
	if z.payload == nil {
		return DataBlock{}, io.EOF
	}

	for {
		off := z.payload.produced
		n, err := z.payload.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if derr := z.finishEntry(); derr != nil {
					return DataBlock{}, derr
				}
			}

			return DataBlock{}, err
		}
		if n > 0 {
			return DataBlock{Data: buf[:n], Offset: off}, nil
		}
	}
}

// finishEntry consumes the trailing data descriptor and verifies the
// deferred checksum for descriptor-terminated entries.
func (z *zipStreamReader) finishEntry() error {
	p := z.payload
	z.payload = nil
	if !z.descFlag {
		return nil
	}

	// The descriptor signature is optional in old writers.
	peeked, err := z.br.Peek(4)
	if err != nil {
		return fmt.Errorf("%w: data descriptor cut short", ErrTruncated)
	}
	if binary.LittleEndian.Uint32(peeked) == zipDataDescSig {
		if _, err := z.br.Discard(4); err != nil {
			return fmt.Errorf("read data descriptor: %w", err)
		}
	}

	var desc [12]byte
	if _, err := io.ReadFull(z.br, desc[:]); err != nil {
		return fmt.Errorf("%w: data descriptor cut short", ErrTruncated)
	}

	crc := binary.LittleEndian.Uint32(desc[:])
	usize := binary.LittleEndian.Uint32(desc[8:])
	if p.produced != int64(usize) {
		return fmt.Errorf("%w: entry yielded %d bytes but descriptor declares %d",
			ErrTruncated, p.produced, usize)
	}
	if p.crc.Sum32() != crc {
		return headerErr("crc32", "entry data checksum mismatch")
	}

	return nil
}

// discard drains the unread remainder of the current entry.
func (z *zipStreamReader) discard() error {
	if z.payload == nil {
		return nil
	}

	buf := make([]byte, DefaultBlockSize)
	for {
		_, err := z.readBlock(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}
	}
}

// zipDirEntry is one parsed central directory record.
type zipDirEntry struct {
	entry     Entry
	method    uint16
	flags     uint16
	crc       uint32
	csize     uint32
	usize     uint32
	headerOff uint32
}

// zipDirReader decodes a zip archive through its central directory, which
// requires random access to the raw bytes. This path restores the full
// entry metadata including unix modes and symlink targets.
type zipDirReader struct {
	ra      io.ReaderAt
	entries []zipDirEntry
	idx     int
	payload *zipPayload
}

// zipMaxCommentScan bounds the tail scan for the end-of-directory record:
// the fixed record plus the largest possible archive comment.
const zipMaxCommentScan = zipEndOfDirLen + 1<<16

// newZipDirReader locates and parses the central directory.
func newZipDirReader(ra io.ReaderAt, size int64) (*zipDirReader, error) {
	dirOff, count, err := zipFindDirectory(ra, size)
	if err != nil {
		return nil, err
	}

	entries, err := zipParseDirectory(ra, dirOff, size, count)
	if err != nil {
		return nil, err
	}

	return &zipDirReader{ra: ra, entries: entries}, nil
}

// zipFindDirectory scans the archive tail for the end-of-directory record
// and returns the central directory offset and entry count.
func zipFindDirectory(ra io.ReaderAt, size int64) (int64, int, error) {
	scan := int64(zipMaxCommentScan)
	if scan > size {
		scan = size
	}
	if scan < zipEndOfDirLen {
		return 0, 0, fmt.Errorf("%w: archive shorter than an end-of-directory record", ErrTruncated)
	}

	tail := make([]byte, scan)
	if _, err := ra.ReadAt(tail, size-scan); err != nil {
		return 0, 0, fmt.Errorf("read archive tail: %w", err)
	}

	var sig [4]byte
	binary.LittleEndian.PutUint32(sig[:], zipEndOfDirSig)
	i := bytes.LastIndex(tail, sig[:])
	for i >= 0 {
		rec := tail[i:]
		if len(rec) >= zipEndOfDirLen {
			commentLen := int(binary.LittleEndian.Uint16(rec[20:]))
			if zipEndOfDirLen+commentLen == len(rec) {
				count := int(binary.LittleEndian.Uint16(rec[10:]))
				dirOff := int64(binary.LittleEndian.Uint32(rec[16:]))

				return dirOff, count, nil
			}
		}

		i = bytes.LastIndex(tail[:i], sig[:])
	}

	return 0, 0, headerErr("signature", "end-of-directory record not found")
}

// zipParseDirectory reads count central directory records starting at off.
func zipParseDirectory(ra io.ReaderAt, off, size int64, count int) ([]zipDirEntry, error) {
	br := bufio.NewReader(io.NewSectionReader(ra, off, size-off))
	entries := make([]zipDirEntry, 0, count)

	for i := 0; i < count; i++ {
		var rec [zipCentralDirLen]byte
		if _, err := io.ReadFull(br, rec[:]); err != nil {
			return nil, fmt.Errorf("%w: central directory cut short", ErrTruncated)
		}
		if binary.LittleEndian.Uint32(rec[:]) != zipCentralDirSig {
			return nil, headerErr("signature", "malformed central directory record")
		}

		de := zipDirEntry{
			flags:     binary.LittleEndian.Uint16(rec[8:]),
			method:    binary.LittleEndian.Uint16(rec[10:]),
			crc:       binary.LittleEndian.Uint32(rec[16:]),
			csize:     binary.LittleEndian.Uint32(rec[20:]),
			usize:     binary.LittleEndian.Uint32(rec[24:]),
			headerOff: binary.LittleEndian.Uint32(rec[42:]),
		}
		if de.flags&1 != 0 {
			return nil, headerErr("flags", "encrypted entries are not supported")
		}

		nameLen := int(binary.LittleEndian.Uint16(rec[28:]))
		extraLen := int(binary.LittleEndian.Uint16(rec[30:]))
		commentLen := int(binary.LittleEndian.Uint16(rec[32:]))
		external := binary.LittleEndian.Uint32(rec[38:])

		varBuf := make([]byte, nameLen+extraLen+commentLen)
		if _, err := io.ReadFull(br, varBuf); err != nil {
			return nil, fmt.Errorf("%w: central directory cut short", ErrTruncated)
		}

		e := &de.entry
		e.Path = string(varBuf[:nameLen])
		e.Size = int64(de.usize)
		e.ModTime = zipTimeFromDOS(
			binary.LittleEndian.Uint16(rec[14:]),
			binary.LittleEndian.Uint16(rec[12:]),
		)

		unixMode := uint16(external >> 16)
		if unixMode != 0 {
			e.Type = zipTypeFromUnix(unixMode)
			e.Mode = zipUnixMode(unixMode)
		} else {
			e.Type = TypeRegular
			e.Mode = 0o644
			if external&zipDOSDirAttr != 0 {
				e.Type = TypeDirectory
				e.Mode = 0o755
			}
		}
		if strings.HasSuffix(e.Path, "/") {
			e.Type = TypeDirectory
			e.Path = strings.TrimSuffix(e.Path, "/")
		}
		if e.Type != TypeRegular {
			e.Size = 0
		}
		if e.Type == TypeDirectory && e.Mode == 0 {
			e.Mode = 0o755
		}
		zipParseExtra(e, varBuf[nameLen:nameLen+extraLen])

		entries = append(entries, de)
	}

	return entries, nil
}

// next yields the next central directory entry and opens its payload
// section. Symlink targets stored as payload surface through Linkname.
func (z *zipDirReader) next() (*Entry, error) {
	z.payload = nil
	if z.idx >= len(z.entries) {
		return nil, io.EOF
	}

	de := &z.entries[z.idx]
	z.idx++

	dataOff, err := z.localDataOffset(de)
	if err != nil {
		return nil, err
	}

	raw := io.NewSectionReader(z.ra, dataOff, int64(de.csize))
	wantSize := int64(de.usize)
	p, err := newZipPayload(raw, de.method, de.crc, wantSize, true)
	if err != nil {
		return nil, err
	}

	e := de.entry.clone()
	if e.Type == TypeSymlink {
		target, err := io.ReadAll(io.LimitReader(p, int64(de.usize)+1))
		if err != nil {
			return nil, fmt.Errorf("read symlink target: %w", err)
		}

		e.Linkname = string(target)
		e.Size = 0
	} else if e.Type == TypeRegular {
		z.payload = p
	}

	if err := e.validate(); err != nil {
		return nil, err
	}

	return e, nil
}

// localDataOffset resolves where the entry payload starts by parsing the
// local header, whose name and extra lengths may differ from the central
// directory copy.
func (z *zipDirReader) localDataOffset(de *zipDirEntry) (int64, error) {
	var hdr [zipLocalHeaderLen]byte
	if _, err := z.ra.ReadAt(hdr[:], int64(de.headerOff)); err != nil {
		return 0, fmt.Errorf("%w: local file header cut short", ErrTruncated)
	}
	if binary.LittleEndian.Uint32(hdr[:]) != zipLocalHeaderSig {
		return 0, headerErr("signature", "central directory points past the local header")
	}

	nameLen := int64(binary.LittleEndian.Uint16(hdr[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(hdr[28:]))

	return int64(de.headerOff) + zipLocalHeaderLen + nameLen + extraLen, nil
}

// readBlock reads the next payload chunk of the current entry.
func (z *zipDirReader) readBlock(buf []byte) (DataBlock, error) {
	if z.payload == nil {
		return DataBlock{}, io.EOF
	}

	for {
		off := z.payload.produced
		n, err := z.payload.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				z.payload = nil
			}

			return DataBlock{}, err
		}
		if n > 0 {
			return DataBlock{Data: buf[:n], Offset: off}, nil
		}
	}
}

// discard drops the current payload cursor. Random access makes draining
// unnecessary.
func (z *zipDirReader) discard() error {
	z.payload = nil

	return nil
}
