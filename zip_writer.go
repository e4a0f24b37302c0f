// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"
)

// zipMax32 is the largest value representable without zip64 extensions.
const zipMax32 = 1<<32 - 1

// zipDirRecord accumulates what the central directory needs per entry.
type zipDirRecord struct {
	name      string
	extra     []byte
	crc       uint32
	csize     int64
	usize     int64
	headerOff int64
	external  uint32
	flags     uint16
	method    uint16
	dosDate   uint16
	dosTime   uint16
}

// zipWriter encodes entries into a zip archive. With a backfill function it
// rewrites local header sizes in place after each payload; without one it
// appends data descriptors, which keeps the output forward-only.
type zipWriter struct {
	w        io.Writer
	backfill func(off int64, p []byte) error
	dir      []zipDirRecord
	off      int64

	flate    *flate.Writer
	crc      hash.Hash32
	usize    int64
	dataOff  int64
	declared int64
	level    int
	store    bool
	open     bool
	closed   bool
}

// newZipWriter creates a zip encoder. backfill may be nil when the sink
// cannot rewrite already-written bytes.
func newZipWriter(w io.Writer, backfill func(off int64, p []byte) error, opts *WriterOptions) *zipWriter {
	level := opts.ZipLevel
	if level == 0 {
		level = flate.DefaultCompression
	}

	return &zipWriter{
		w:        w,
		backfill: backfill,
		level:    level,
		store:    opts.ZipStore,
	}
}

// writeRaw writes to the sink and advances the archive offset.
func (z *zipWriter) writeRaw(p []byte) error {
	n, err := z.w.Write(p)
	z.off += int64(n)
	if err != nil {
		return fmt.Errorf("write zip record: %w", err)
	}

	return nil
}

// Write lets the flate encoder feed compressed bytes back through the
// offset accounting.
func (z *zipWriter) Write(p []byte) (int, error) {
	if err := z.writeRaw(p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// writeHeader emits the local file header and prepares payload encoding.
func (z *zipWriter) writeHeader(e *Entry) error {
	if e.isDevice() || e.Type == TypeFifo || e.Type == TypeSocket || e.Type == TypeHardlink {
		return headerErr("typeflag",
			fmt.Sprintf("%s entries cannot be stored in zip", e.Type))
	}
	if e.Size > zipMax32 {
		return headerErr("size", "entry too large without zip64")
	}

	name := e.Path
	if e.Type == TypeDirectory && !strings.HasSuffix(name, "/") {
		name += "/"
	}

	rec := zipDirRecord{
		name:      name,
		headerOff: z.off,
		external:  uint32(zipModeToUnix(e))<<16 | boolAttr(e.Type == TypeDirectory, zipDOSDirAttr),
		extra:     zipBuildExtra(e, false),
	}
	rec.dosDate, rec.dosTime = zipTimeToDOS(e.ModTime)
	if !utf8ASCII(name) {
		rec.flags |= zipFlagUTF8
	}

	// Symlink targets travel as stored payload written by the codec.
	var inline []byte
	if e.Type == TypeSymlink {
		inline = []byte(e.Linkname)
	}

	var deferSizes bool
	switch {
	case inline != nil || e.Size == 0 || e.Type != TypeRegular:
		rec.method = zipMethodStore
	case z.store:
		rec.method = zipMethodStore
		deferSizes = true
	default:
		rec.method = zipMethodDeflate
		deferSizes = true
	}

	if inline != nil {
		rec.crc = crc32.ChecksumIEEE(inline)
		rec.csize = int64(len(inline))
		rec.usize = int64(len(inline))
	}
	if deferSizes && z.backfill == nil {
		rec.flags |= zipFlagDataDesc
	}

	localExtra := zipBuildExtra(e, true)
	hdr := make([]byte, zipLocalHeaderLen, zipLocalHeaderLen+len(name)+len(localExtra))
	binary.LittleEndian.PutUint32(hdr, zipLocalHeaderSig)
	binary.LittleEndian.PutUint16(hdr[4:], zipVersionNeeded)
	binary.LittleEndian.PutUint16(hdr[6:], rec.flags)
	binary.LittleEndian.PutUint16(hdr[8:], rec.method)
	binary.LittleEndian.PutUint16(hdr[10:], rec.dosTime)
	binary.LittleEndian.PutUint16(hdr[12:], rec.dosDate)
	binary.LittleEndian.PutUint32(hdr[14:], rec.crc)
	binary.LittleEndian.PutUint32(hdr[18:], uint32(rec.csize))
	binary.LittleEndian.PutUint32(hdr[22:], uint32(rec.usize))
	binary.LittleEndian.PutUint16(hdr[26:], uint16(len(name)))
	binary.LittleEndian.PutUint16(hdr[28:], uint16(len(localExtra)))
	hdr = append(hdr, name...)
	hdr = append(hdr, localExtra...)

	if err := z.writeRaw(hdr); err != nil {
		return err
	}
	if inline != nil {
		if err := z.writeRaw(inline); err != nil {
			return err
		}
	}

	z.dataOff = z.off
	z.crc = crc32.NewIEEE()
	z.usize = 0
	z.declared = 0
	z.flate = nil
	z.open = deferSizes
	if deferSizes {
		z.declared = e.Size
		if rec.method == zipMethodDeflate {
			fw, err := flate.NewWriter(z, z.level)
			if err != nil {
				return fmt.Errorf("init deflate encoder: %w", err)
			}
			z.flate = fw
		}
	}

	z.dir = append(z.dir, rec)

	return nil
}

// write appends payload bytes for the current entry.
func (z *zipWriter) write(p []byte) (int, error) {
	if !z.open {
		return 0, fmt.Errorf("%w: entry carries no payload", ErrSizeMismatch)
	}

	z.crc.Write(p)
	z.usize += int64(len(p))
	if z.flate != nil {
		return z.flate.Write(p)
	}
	if err := z.writeRaw(p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// finishEntry flushes the payload encoder and records the real sizes,
// either by backfilling the local header or by appending a descriptor.
func (z *zipWriter) finishEntry() error {
	if !z.open {
		return nil
	}
	z.open = false

	if z.flate != nil {
		if err := z.flate.Close(); err != nil {
			return fmt.Errorf("flush deflate encoder: %w", err)
		}
		z.flate = nil
	}

	rec := &z.dir[len(z.dir)-1]
	rec.crc = z.crc.Sum32()
	rec.csize = z.off - z.dataOff
	rec.usize = z.usize
	if rec.csize > zipMax32 || z.off > zipMax32 {
		return headerErr("size", "archive too large without zip64")
	}

	if z.backfill != nil {
		var patch [12]byte
		binary.LittleEndian.PutUint32(patch[:], rec.crc)
		binary.LittleEndian.PutUint32(patch[4:], uint32(rec.csize))
		binary.LittleEndian.PutUint32(patch[8:], uint32(rec.usize))

		return z.backfill(rec.headerOff+14, patch[:])
	}

	var desc [zipDataDescLen]byte
	binary.LittleEndian.PutUint32(desc[:], zipDataDescSig)
	binary.LittleEndian.PutUint32(desc[4:], rec.crc)
	binary.LittleEndian.PutUint32(desc[8:], uint32(rec.csize))
	binary.LittleEndian.PutUint32(desc[12:], uint32(rec.usize))

	return z.writeRaw(desc[:])
}

// close appends the central directory and the end-of-directory record.
func (z *zipWriter) close() error {
	if z.closed {
		return nil
	}
	z.closed = true

	dirOff := z.off
	for i := range z.dir {
		if err := z.writeDirRecord(&z.dir[i]); err != nil {
			return err
		}
	}

	dirSize := z.off - dirOff
	if z.off > zipMax32 || len(z.dir) > 1<<16-1 {
		return headerErr("size", "archive too large without zip64")
	}

	var eocd [zipEndOfDirLen]byte
	binary.LittleEndian.PutUint32(eocd[:], zipEndOfDirSig)
	binary.LittleEndian.PutUint16(eocd[8:], uint16(len(z.dir)))
	binary.LittleEndian.PutUint16(eocd[10:], uint16(len(z.dir)))
	binary.LittleEndian.PutUint32(eocd[12:], uint32(dirSize))
	binary.LittleEndian.PutUint32(eocd[16:], uint32(dirOff))

	return z.writeRaw(eocd[:])
}

// writeDirRecord emits one central directory record.
func (z *zipWriter) writeDirRecord(rec *zipDirRecord) error {
	buf := make([]byte, zipCentralDirLen, zipCentralDirLen+len(rec.name)+len(rec.extra))
	binary.LittleEndian.PutUint32(buf, zipCentralDirSig)
	binary.LittleEndian.PutUint16(buf[4:], zipVersionUnix)
	binary.LittleEndian.PutUint16(buf[6:], zipVersionNeeded)
	binary.LittleEndian.PutUint16(buf[8:], rec.flags)
	binary.LittleEndian.PutUint16(buf[10:], rec.method)
	binary.LittleEndian.PutUint16(buf[12:], rec.dosTime)
	binary.LittleEndian.PutUint16(buf[14:], rec.dosDate)
	binary.LittleEndian.PutUint32(buf[16:], rec.crc)
	binary.LittleEndian.PutUint32(buf[20:], uint32(rec.csize))
	binary.LittleEndian.PutUint32(buf[24:], uint32(rec.usize))
	binary.LittleEndian.PutUint16(buf[28:], uint16(len(rec.name)))
	binary.LittleEndian.PutUint16(buf[30:], uint16(len(rec.extra)))
	binary.LittleEndian.PutUint32(buf[38:], rec.external)
	binary.LittleEndian.PutUint32(buf[42:], uint32(rec.headerOff))
	buf = append(buf, rec.name...)
	buf = append(buf, rec.extra...)

	return z.writeRaw(buf)
}

// boolAttr returns attr when cond holds.
func boolAttr(cond bool, attr uint32) uint32 {
	if cond {
		return attr
	}

	return 0
}

// utf8ASCII reports whether s is plain ASCII, meaning no UTF-8 flag is
// needed.
func utf8ASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}

	return true
}
