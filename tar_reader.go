// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"
)

// Pax record keys honored by the reader.
const (
	paxPath       = "path"
	paxLinkpath   = "linkpath"
	paxSize       = "size"
	paxUID        = "uid"
	paxGID        = "gid"
	paxUname      = "uname"
	paxGname      = "gname"
	paxAtime      = "atime"
	paxMtime      = "mtime"
	paxCtime      = "ctime"
	paxBirthTime  = "LIBARCHIVE.creationtime"
	paxXattrPfx   = "SCHILY.xattr."
	paxGNUSparse  = "GNU.sparse."
	paxSchilyDev  = "SCHILY.devmajor"
	paxSchilyDev2 = "SCHILY.devminor"
)

// sparseSeg is one stored data run of a sparse entry, addressed by its
// logical file offset.
type sparseSeg struct {
	off int64
	n   int64
}

// tarReader decodes a tar stream entry by entry.
type tarReader struct {
	r         io.Reader
	paxGlobal map[string]string
	segs      []sparseSeg
	segPos    int64
	remain    int64
	pad       int64
	blk       [tarBlockSize]byte
}

// newTarReader wraps an already-decompressed stream.
func newTarReader(r io.Reader) *tarReader {
	return &tarReader{r: r}
}

// next advances to the next entry header, consuming any unread payload of
// the current one. It returns io.EOF at the end-of-archive marker.
func (t *tarReader) next() (*Entry, error) {
	if err := t.discard(); err != nil {
		return nil, err
	}

	var (
		paxHdrs  map[string]string
		longName string
		longLink string
	)

	for {
		if err := t.readHeaderBlock(); err != nil {
			return nil, err
		}

		if isZeroBlock(t.blk[:]) {
			return nil, t.consumeEndMarker()
		}

		if err := t.verifyChecksum(); err != nil {
			return nil, err
		}

		flag := tarFieldTypeflag.slice(t.blk[:])[0]
		switch flag {
		case tarTypePax, tarTypePaxGlobal:
			payload, err := t.readMetaPayload()
			if err != nil {
				return nil, err
			}

			recs, err := parsePaxRecords(payload)
			if err != nil {
				return nil, err
			}
			if flag == tarTypePaxGlobal {
				if t.paxGlobal == nil {
					t.paxGlobal = make(map[string]string)
				}
				for k, v := range recs {
					t.paxGlobal[k] = v
				}
			} else {
				if paxHdrs == nil {
					paxHdrs = make(map[string]string)
				}
				for k, v := range recs {
					paxHdrs[k] = v
				}
			}

		case tarTypeGNULongN:
			payload, err := t.readMetaPayload()
			if err != nil {
				return nil, err
			}
			longName = parseTarString(payload)

		case tarTypeGNULongL:
			payload, err := t.readMetaPayload()
			if err != nil {
				return nil, err
			}
			longLink = parseTarString(payload)

		default:
			e, err := t.parseEntry(flag, paxHdrs, longName, longLink)
			if err != nil {
				return nil, err
			}

			return e, nil
		}
	}
}

// readHeaderBlock reads one 512-byte block at a header boundary. A clean
// stream end before any header byte is reported as truncation since no
// end-of-archive marker was seen.
func (t *tarReader) readHeaderBlock() error {
	n, err := io.ReadFull(t.r, t.blk[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: stream ended %d bytes into a header block",
				ErrTruncated, n)
		}

		return fmt.Errorf("read tar header: %w", err)
	}

	return nil
}

// consumeEndMarker handles the run of zero blocks that terminates an
// archive. One zero block followed by stream end is accepted.
func (t *tarReader) consumeEndMarker() error {
	n, err := io.ReadFull(t.r, t.blk[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}

		return fmt.Errorf("read tar end marker: %w", err)
	}
	_ = n

	if !isZeroBlock(t.blk[:]) {
		return headerErr("header", "non-zero block inside end-of-archive marker")
	}

	return io.EOF
}

// verifyChecksum validates the header checksum, accepting either the
// standard unsigned sum or the historical signed variant.
func (t *tarReader) verifyChecksum() error {
	want, err := parseTarOctal(tarFieldChksum.slice(t.blk[:]), "chksum")
	if err != nil {
		return err
	}

	unsigned, signed := tarChecksum(t.blk[:])
	if want != unsigned && want != signed {
		return headerErr("chksum", "checksum mismatch")
	}

	return nil
}

// readMetaPayload reads the whole payload of a metadata entry such as a pax
// record set or a GNU long name, including its padding.
func (t *tarReader) readMetaPayload() ([]byte, error) {
	size, err := parseTarNumeric(tarFieldSize.slice(t.blk[:]), "size")
	if err != nil {
		return nil, err
	}
	if size < 0 || size > tarMaxMetaPayload {
		return nil, headerErr("size", "metadata payload size out of range")
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(t.r, payload); err != nil {
		return nil, fmt.Errorf("%w: metadata payload cut short", ErrTruncated)
	}
	if err := discardBytes(t.r, tarPadding(size)); err != nil {
		return nil, err
	}

	return payload, nil
}

// parseEntry builds the entry for a non-metadata header, applying global
// and per-entry pax overrides plus GNU long names, and arms the payload
// cursor for the data that follows.
func (t *tarReader) parseEntry(flag byte, paxHdrs map[string]string, longName, longLink string) (*Entry, error) {
	blk := t.blk[:]
	magic := string(tarFieldMagic.slice(blk))
	isGNU := magic == tarMagicGNU
	isUstar := strings.HasPrefix(magic, "ustar")

	e := &Entry{Type: tarTypeFromFlag(flag)}
	e.Path = parseTarString(tarFieldName.slice(blk))
	e.Linkname = parseTarString(tarFieldLinkname.slice(blk))

	mode, err := parseTarNumeric(tarFieldMode.slice(blk), "mode")
	if err != nil {
		return nil, err
	}
	e.Mode = tarModeToFS(mode)

	if e.UID, err = tarParseID(tarFieldUID.slice(blk), "uid"); err != nil {
		return nil, err
	}
	if e.GID, err = tarParseID(tarFieldGID.slice(blk), "gid"); err != nil {
		return nil, err
	}

	size, err := parseTarNumeric(tarFieldSize.slice(blk), "size")
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, headerErr("size", "negative entry size")
	}

	mtime, err := parseTarNumeric(tarFieldMtime.slice(blk), "mtime")
	if err != nil {
		return nil, err
	}
	if mtime != 0 {
		e.ModTime = time.Unix(mtime, 0)
	}

	if isUstar {
		e.Uname = parseTarString(tarFieldUname.slice(blk))
		e.Gname = parseTarString(tarFieldGname.slice(blk))
	}
	if isUstar && !isGNU {
		if prefix := parseTarString(tarFieldPrefix.slice(blk)); prefix != "" {
			e.Path = prefix + "/" + e.Path
		}
	}
	if e.Type == TypeCharDevice || e.Type == TypeBlockDevice {
		if e.DevMajor, err = parseTarNumeric(tarFieldDevMajor.slice(blk), "devmajor"); err != nil {
			return nil, err
		}
		if e.DevMinor, err = parseTarNumeric(tarFieldDevMinor.slice(blk), "devminor"); err != nil {
			return nil, err
		}
	}

	if longName != "" {
		e.Path = longName
	}
	if longLink != "" {
		e.Linkname = longLink
	}

	if size, err = t.applyPax(e, t.paxGlobal, size); err != nil {
		return nil, err
	}
	if size, err = t.applyPax(e, paxHdrs, size); err != nil {
		return nil, err
	}

	// Pre-ustar archives mark directories only by the trailing slash.
	// Ustar magic and resolved long names carry an authoritative
	// typeflag, so the heuristic must never fire on a name whose fixed
	// field happens to truncate at a separator.
	_, pathOverride := paxHdrs[paxPath]
	_, globalPathOverride := t.paxGlobal[paxPath]
	if e.Type == TypeRegular && !isUstar && longName == "" && !pathOverride && !globalPathOverride &&
		strings.HasSuffix(e.Path, "/") {
		e.Type = TypeDirectory
	}

	// Payload accounting. Only regular entries and sparse files carry data.
	stored := size
	logical := size
	t.segs = nil
	switch {
	case flag == tarTypeGNUSparse && isGNU:
		segs, realSize, err := t.readSparseMap(blk)
		if err != nil {
			return nil, err
		}
		t.segs = segs
		logical = realSize

	case e.Type == TypeRegular:
		if stored > 0 {
			t.segs = []sparseSeg{{off: 0, n: stored}}
		}

	default:
		if stored != 0 {
			return nil, headerErr("size", "non-zero size on a dataless entry type")
		}
		logical = 0
	}

	e.Size = logical
	if e.Type == TypeDirectory {
		e.Path = strings.TrimSuffix(e.Path, "/")
		e.Size = 0
	}

	t.segPos = 0
	t.remain = stored
	t.pad = tarPadding(stored)

	if err := e.validate(); err != nil {
		return nil, err
	}

	return e, nil
}

// applyPax folds a pax record map into the entry and returns the possibly
// overridden stored size.
func (t *tarReader) applyPax(e *Entry, recs map[string]string, size int64) (int64, error) {
	for key, value := range recs {
		var err error
		switch key {
		case paxPath:
			e.Path = value
		case paxLinkpath:
			e.Linkname = value
		case paxSize:
			size, err = strconv.ParseInt(value, 10, 64)
		case paxUID:
			e.UID, err = strconv.Atoi(value)
		case paxGID:
			e.GID, err = strconv.Atoi(value)
		case paxUname:
			e.Uname = value
		case paxGname:
			e.Gname = value
		case paxAtime:
			e.AccessTime, err = parsePaxTime(value)
		case paxMtime:
			e.ModTime, err = parsePaxTime(value)
		case paxCtime:
			e.ChangeTime, err = parsePaxTime(value)
		case paxBirthTime:
			e.BirthTime, err = parsePaxTime(value)
		case paxSchilyDev:
			e.DevMajor, err = strconv.ParseInt(value, 10, 64)
		case paxSchilyDev2:
			e.DevMinor, err = strconv.ParseInt(value, 10, 64)
		default:
			switch {
			case strings.HasPrefix(key, paxXattrPfx):
				if e.Xattrs == nil {
					e.Xattrs = make(map[string][]byte)
				}
				e.Xattrs[key[len(paxXattrPfx):]] = []byte(value)
			case strings.HasPrefix(key, paxGNUSparse):
				return 0, headerErr("pax", "pax-encoded sparse maps are not supported")
			}
		}
		if err != nil {
			return 0, &HeaderError{Field: "pax", Reason: "invalid " + key + " record", Err: err}
		}
	}

	return size, nil
}

// readSparseMap parses the old GNU sparse region of the header and any
// extension blocks that follow it.
func (t *tarReader) readSparseMap(blk []byte) ([]sparseSeg, int64, error) {
	realSize, err := parseTarNumeric(tarFieldRealSize.slice(blk), "realsize")
	if err != nil {
		return nil, 0, err
	}

	var segs []sparseSeg
	region := tarFieldSparse.slice(blk)
	segs, err = appendSparseSegs(segs, region, 4)
	if err != nil {
		return nil, 0, err
	}

	extended := tarFieldIsExtended.slice(blk)[0] != 0
	for extended {
		var ext [tarBlockSize]byte
		if _, err := io.ReadFull(t.r, ext[:]); err != nil {
			return nil, 0, fmt.Errorf("%w: sparse extension block cut short", ErrTruncated)
		}

		segs, err = appendSparseSegs(segs, ext[:21*24], 21)
		if err != nil {
			return nil, 0, err
		}
		extended = ext[504] != 0
	}

	var total int64
	for _, s := range segs {
		if s.off < 0 || s.n < 0 || s.off+s.n > realSize {
			return nil, 0, headerErr("sparse", "sparse segment outside entry bounds")
		}

		total += s.n
	}

	return segs, realSize, nil
}

// appendSparseSegs decodes up to n offset/numbytes pairs of 12 octal bytes
// each, stopping at the first empty pair.
func appendSparseSegs(segs []sparseSeg, region []byte, n int) ([]sparseSeg, error) {
	for i := 0; i < n; i++ {
		pair := region[i*24 : i*24+24]
		if pair[0] == 0 {
			break
		}

		off, err := parseTarNumeric(pair[:12], "sparse offset")
		if err != nil {
			return nil, err
		}
		length, err := parseTarNumeric(pair[12:], "sparse length")
		if err != nil {
			return nil, err
		}
		if length == 0 {
			continue
		}

		segs = append(segs, sparseSeg{off: off, n: length})
	}

	return segs, nil
}

// readBlock reads the next stored data run of the current entry into buf.
// Holes are never materialized; the block offset tells the caller where the
// data sits in the logical file. Returns io.EOF when the payload is done.
func (t *tarReader) readBlock(buf []byte) (DataBlock, error) {
	if len(t.segs) == 0 {
		return DataBlock{}, io.EOF
	}

	seg := t.segs[0]
	want := seg.n - t.segPos
	if int64(len(buf)) < want {
		want = int64(len(buf))
	}

	n, err := io.ReadFull(t.r, buf[:want])
	if err != nil {
		return DataBlock{}, fmt.Errorf("%w: entry payload cut short", ErrTruncated)
	}

	blk := DataBlock{Data: buf[:n], Offset: seg.off + t.segPos}
	t.segPos += int64(n)
	t.remain -= int64(n)
	if t.segPos == seg.n {
		t.segs = t.segs[1:]
		t.segPos = 0
	}

	return blk, nil
}

// discard consumes the unread remainder of the current entry including its
// block padding.
func (t *tarReader) discard() error {
	if err := discardBytes(t.r, t.remain+t.pad); err != nil {
		return err
	}

	t.segs = nil
	t.segPos = 0
	t.remain = 0
	t.pad = 0

	return nil
}

// isZeroBlock reports whether the block is all zero bytes.
func isZeroBlock(blk []byte) bool {
	for _, c := range blk {
		if c != 0 {
			return false
		}
	}

	return true
}

// tarParseID parses a uid or gid field into an int.
func tarParseID(b []byte, field string) (int, error) {
	v, err := parseTarNumeric(b, field)
	if err != nil {
		return 0, err
	}

	return int(v), nil
}

// tarModeToFS converts tar mode bits to an fs.FileMode permission set with
// setuid, setgid and sticky carried over.
func tarModeToFS(mode int64) fs.FileMode {
	m := fs.FileMode(mode) & fs.ModePerm
	if mode&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if mode&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if mode&0o1000 != 0 {
		m |= fs.ModeSticky
	}

	return m
}

// tarModeFromFS converts an fs.FileMode back to tar mode bits.
func tarModeFromFS(m fs.FileMode) int64 {
	mode := int64(m & fs.ModePerm)
	if m&fs.ModeSetuid != 0 {
		mode |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		mode |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		mode |= 0o1000
	}

	return mode
}
