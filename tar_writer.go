// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// tarWriter encodes entries into a tar stream in the ustar, pax or GNU
// dialect.
type tarWriter struct {
	w        io.Writer
	format   Format
	declared int64
	written  int64
	paxSeq   int
	closed   bool
	blk      [tarBlockSize]byte
}

// newTarWriter creates a tar encoder for the given dialect. FormatAuto
// falls back to pax, the most capable dialect.
func newTarWriter(w io.Writer, format Format) *tarWriter {
	if format == FormatAuto {
		format = FormatPax
	}

	return &tarWriter{w: w, format: format}
}

// writeHeader encodes the entry header, emitting pax records or GNU long
// name entries first when the base header cannot hold a field.
func (t *tarWriter) writeHeader(e *Entry) error {
	flag, err := tarEntryTypeFlag(e.Type)
	if err != nil {
		return err
	}

	name := e.Path
	if e.Type == TypeDirectory && !strings.HasSuffix(name, "/") {
		name += "/"
	}

	var prefix string
	paxRecs := map[string]string{}

	// Work out how each oversized field is represented in this dialect.
	if len(name) > tarFieldName.len {
		switch t.format {
		case FormatUstar:
			prefix, name, err = splitUstarName(name)
			if err != nil {
				return err
			}
		case FormatPax:
			paxRecs[paxPath] = name
			name = truncateField(name, tarFieldName.len)
		case FormatGNU:
			if err := t.writeGNULongEntry(tarTypeGNULongN, name); err != nil {
				return err
			}
			name = truncateField(name, tarFieldName.len)
		}
	}
	if len(e.Linkname) > tarFieldLinkname.len {
		switch t.format {
		case FormatUstar:
			return headerErr("linkname", "link target does not fit in ustar")
		case FormatPax:
			paxRecs[paxLinkpath] = e.Linkname
		case FormatGNU:
			if err := t.writeGNULongEntry(tarTypeGNULongL, e.Linkname); err != nil {
				return err
			}
		}
	}
	if e.Size > tarMaxOctal12 {
		switch t.format {
		case FormatUstar:
			return headerErr("size", "entry too large for ustar")
		case FormatPax:
			paxRecs[paxSize] = strconv.FormatInt(e.Size, 10)
		}
		// GNU encodes the size in base-256 directly.
	}
	if int64(e.UID) > tarMaxOctal8 || int64(e.GID) > tarMaxOctal8 {
		if t.format == FormatUstar {
			return headerErr("uid", "owner id too large for ustar")
		}
		if t.format == FormatPax {
			paxRecs[paxUID] = strconv.Itoa(e.UID)
			paxRecs[paxGID] = strconv.Itoa(e.GID)
		}
	}
	if len(e.Uname) > tarFieldUname.len-1 {
		if t.format == FormatPax {
			paxRecs[paxUname] = e.Uname
		}
	}
	if len(e.Gname) > tarFieldGname.len-1 {
		if t.format == FormatPax {
			paxRecs[paxGname] = e.Gname
		}
	}

	// Pax is the only dialect carrying extra timestamps, sub-second
	// precision and xattrs. Elsewhere they degrade silently.
	if t.format == FormatPax {
		if !e.ModTime.IsZero() && e.ModTime.Nanosecond() != 0 {
			paxRecs[paxMtime] = formatPaxTime(e.ModTime)
		}
		if !e.AccessTime.IsZero() {
			paxRecs[paxAtime] = formatPaxTime(e.AccessTime)
		}
		if !e.ChangeTime.IsZero() {
			paxRecs[paxCtime] = formatPaxTime(e.ChangeTime)
		}
		if !e.BirthTime.IsZero() {
			paxRecs[paxBirthTime] = formatPaxTime(e.BirthTime)
		}
		for k, v := range e.Xattrs {
			paxRecs[paxXattrPfx+k] = string(v)
		}
	}

	if len(paxRecs) > 0 {
		if err := t.writePaxEntry(e, paxRecs); err != nil {
			return err
		}
	}

	if err := t.writeBaseHeader(e, flag, name, prefix); err != nil {
		return err
	}

	if e.Type == TypeRegular {
		t.declared = e.Size
	} else {
		t.declared = 0
	}
	t.written = 0

	return nil
}

// writeBaseHeader fills and emits the 512-byte header block.
func (t *tarWriter) writeBaseHeader(e *Entry, flag byte, name, prefix string) error {
	blk := t.blk[:]
	for i := range blk {
		blk[i] = 0
	}

	formatTarString(tarFieldName.slice(blk), name)
	formatTarOctal(tarFieldMode.slice(blk), tarModeFromFS(e.Mode))
	formatTarNumeric(tarFieldUID.slice(blk), int64(e.UID))
	formatTarNumeric(tarFieldGID.slice(blk), int64(e.GID))

	size := e.Size
	if e.Type != TypeRegular {
		size = 0
	}
	if t.format == FormatPax && size > tarMaxOctal12 {
		// The real size travels in the pax record.
		size = 0
	}
	formatTarNumeric(tarFieldSize.slice(blk), size)

	var mtime int64
	if !e.ModTime.IsZero() {
		mtime = e.ModTime.Unix()
	}
	formatTarNumeric(tarFieldMtime.slice(blk), mtime)

	blk[tarFieldTypeflag.off] = flag
	formatTarString(tarFieldLinkname.slice(blk), e.Linkname)

	if t.format == FormatGNU {
		copy(tarFieldMagic.slice(blk), tarMagicGNU)
	} else {
		copy(tarFieldMagic.slice(blk), tarMagicUstar)
	}
	formatTarString(tarFieldUname.slice(blk), truncateField(e.Uname, tarFieldUname.len-1))
	formatTarString(tarFieldGname.slice(blk), truncateField(e.Gname, tarFieldGname.len-1))

	if e.Type == TypeCharDevice || e.Type == TypeBlockDevice {
		formatTarNumeric(tarFieldDevMajor.slice(blk), e.DevMajor)
		formatTarNumeric(tarFieldDevMinor.slice(blk), e.DevMinor)
	}
	if prefix != "" {
		formatTarString(tarFieldPrefix.slice(blk), prefix)
	}

	t.writeChecksum(blk)

	if _, err := t.w.Write(blk); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}

	return nil
}

// writeChecksum fills the chksum field from the rest of the block.
func (t *tarWriter) writeChecksum(blk []byte) {
	unsigned, _ := tarChecksum(blk)
	f := tarFieldChksum.slice(blk)
	// Historical format: six octal digits, NUL, space.
	s := strconv.FormatInt(unsigned, 8)
	for len(s) < 6 {
		s = "0" + s
	}
	copy(f, s)
	f[6] = 0
	f[7] = ' '
}

// writePaxEntry emits an 'x' metadata entry holding the given records.
func (t *tarWriter) writePaxEntry(e *Entry, recs map[string]string) error {
	keys := make([]string, 0, len(recs))
	for k := range recs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(formatPaxRecord(k, recs[k]))
	}
	payload := []byte(sb.String())

	t.paxSeq++
	meta := &Entry{
		Path:    paxHeaderName(e.Path, t.paxSeq),
		Mode:    0o644,
		Size:    int64(len(payload)),
		ModTime: e.ModTime,
	}

	if err := t.writeMetaEntry(meta, tarTypePax, payload); err != nil {
		return err
	}

	return nil
}

// writeGNULongEntry emits an 'L' or 'K' entry carrying an oversized name.
func (t *tarWriter) writeGNULongEntry(flag byte, value string) error {
	payload := append([]byte(value), 0)
	meta := &Entry{
		Path: tarGNULongNameStr,
		Mode: 0o644,
		Size: int64(len(payload)),
	}

	return t.writeMetaEntry(meta, flag, payload)
}

// writeMetaEntry emits a metadata header plus its padded payload.
func (t *tarWriter) writeMetaEntry(meta *Entry, flag byte, payload []byte) error {
	if err := t.writeBaseHeader(meta, flag, meta.Path, ""); err != nil {
		return err
	}
	if _, err := t.w.Write(payload); err != nil {
		return fmt.Errorf("write tar metadata payload: %w", err)
	}

	return t.writeZeros(tarPadding(int64(len(payload))))
}

// write appends payload bytes for the current entry. Size enforcement
// happens in the engine; this only tracks the count for padding.
func (t *tarWriter) write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write tar payload: %w", err)
	}

	return n, nil
}

// finishEntry pads the payload to the block boundary. The caller has
// already verified the declared size was met.
func (t *tarWriter) finishEntry() error {
	if t.written != t.declared {
		return fmt.Errorf("%w: wrote %d of %d declared bytes",
			ErrSizeMismatch, t.written, t.declared)
	}

	if err := t.writeZeros(tarPadding(t.written)); err != nil {
		return err
	}
	t.declared = 0
	t.written = 0

	return nil
}

// close writes the end-of-archive marker of two zero blocks.
func (t *tarWriter) close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	return t.writeZeros(2 * tarBlockSize)
}

// writeZeros emits n zero bytes.
func (t *tarWriter) writeZeros(n int64) error {
	var zeros [tarBlockSize]byte
	for n > 0 {
		chunk := n
		if chunk > tarBlockSize {
			chunk = tarBlockSize
		}
		if _, err := t.w.Write(zeros[:chunk]); err != nil {
			return fmt.Errorf("write tar padding: %w", err)
		}
		n -= chunk
	}

	return nil
}

// splitUstarName splits a long path into ustar prefix and name fields at a
// slash boundary.
func splitUstarName(name string) (prefix, base string, err error) {
	// Search for the rightmost split keeping name within 100 bytes.
	i := len(name) - tarFieldName.len - 1
	if i < 0 {
		i = 0
	}
	cut := strings.IndexByte(name[i:], '/')
	if cut < 0 {
		return "", "", headerErr("name", "path does not fit in ustar")
	}
	cut += i

	prefix, base = name[:cut], name[cut+1:]
	if len(prefix) > tarFieldPrefix.len || len(base) > tarFieldName.len || base == "" {
		return "", "", headerErr("name", "path does not fit in ustar")
	}

	return prefix, base, nil
}

// paxHeaderName builds the conventional path of a pax metadata entry.
func paxHeaderName(name string, seq int) string {
	dir, base := path.Split(strings.TrimSuffix(name, "/"))
	out := path.Join(dir, fmt.Sprintf("PaxHeaders.%d", seq), base)

	return truncateField(out, tarFieldName.len)
}

// truncateField cuts s to at most n bytes.
func truncateField(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}

	return s
}
