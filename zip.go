// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"encoding/binary"
	"io/fs"
	"time"
)

// Zip wire layout constants.
const (
	zipLocalHeaderSig  = 0x04034b50
	zipCentralDirSig   = 0x02014b50
	zipEndOfDirSig     = 0x06054b50
	zipDataDescSig     = 0x08074b50
	zipDigitalSig      = 0x05054b50
	zipArchiveExtraSig = 0x08064b50

	zipLocalHeaderLen = 30
	zipCentralDirLen  = 46
	zipEndOfDirLen    = 22
	zipDataDescLen    = 16

	zipMethodStore   = 0
	zipMethodDeflate = 8

	zipFlagDataDesc = 1 << 3
	zipFlagUTF8     = 1 << 11

	zipVersionNeeded = 20
	zipVersionUnix   = 3<<8 | 20

	// Extra field tags.
	zipExtraExtTime = 0x5455
	zipExtraUnixIDs = 0x7875

	// DOS attribute bit for directories, kept alongside unix mode bits.
	zipDOSDirAttr = 0x10

	// Unix file type bits carried in the high half of external attributes.
	zipUnixTypeMask = 0o170000
	zipUnixRegular  = 0o100000
	zipUnixDir      = 0o040000
	zipUnixSymlink  = 0o120000
	zipUnixFifo     = 0o010000
	zipUnixChar     = 0o020000
	zipUnixBlock    = 0o060000
	zipUnixSocket   = 0o140000
)

// zipTimeToDOS converts a timestamp to DOS date and time words. Times
// before the DOS epoch collapse to the epoch.
func zipTimeToDOS(t time.Time) (date, tim uint16) {
	if t.IsZero() || t.Year() < 1980 {
		return 0x21, 0 // 1980-01-01 00:00:00
	}

	date = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	tim = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)

	return date, tim
}

// zipTimeFromDOS converts DOS date and time words back to a timestamp.
func zipTimeFromDOS(date, tim uint16) time.Time {
	if date == 0 {
		return time.Time{}
	}

	return time.Date(
		1980+int(date>>9),
		time.Month(date>>5&0xf),
		int(date&0x1f),
		int(tim>>11),
		int(tim>>5&0x3f),
		int(tim&0x1f)*2,
		0, time.Local,
	)
}

// zipModeToUnix converts an entry to the unix mode word stored in the high
// half of the central directory external attributes.
func zipModeToUnix(e *Entry) uint16 {
	mode := uint16(tarModeFromFS(e.Mode))
	switch e.Type {
	case TypeRegular, TypeHardlink:
		mode |= zipUnixRegular
	case TypeDirectory:
		mode |= zipUnixDir
	case TypeSymlink:
		mode |= zipUnixSymlink
	case TypeFifo:
		mode |= zipUnixFifo
	case TypeCharDevice:
		mode |= zipUnixChar
	case TypeBlockDevice:
		mode |= zipUnixBlock
	case TypeSocket:
		mode |= zipUnixSocket
	}

	return mode
}

// zipTypeFromUnix maps a unix mode word to an entry type, defaulting to
// regular when no type bits are set.
func zipTypeFromUnix(mode uint16) EntryType {
	switch mode & zipUnixTypeMask {
	case zipUnixDir:
		return TypeDirectory
	case zipUnixSymlink:
		return TypeSymlink
	case zipUnixFifo:
		return TypeFifo
	case zipUnixChar:
		return TypeCharDevice
	case zipUnixBlock:
		return TypeBlockDevice
	case zipUnixSocket:
		return TypeSocket
	default:
		return TypeRegular
	}
}

// zipUnixMode extracts permission bits from a unix mode word.
func zipUnixMode(mode uint16) fs.FileMode {
	return tarModeToFS(int64(mode &^ zipUnixTypeMask))
}

// zipParseExtra walks the extra field, applying the extended timestamp and
// unix owner id blocks to the entry. Malformed trailing bytes are ignored
// the way mainstream tools do.
func zipParseExtra(e *Entry, extra []byte) {
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		extra = extra[4:]
		if size > len(extra) {
			return
		}
		body := extra[:size]
		extra = extra[size:]

		switch tag {
		case zipExtraExtTime:
			zipParseExtTime(e, body)
		case zipExtraUnixIDs:
			zipParseUnixIDs(e, body)
		}
	}
}

// zipParseExtTime decodes the 0x5455 extended timestamp block.
func zipParseExtTime(e *Entry, body []byte) {
	if len(body) < 1 {
		return
	}

	flags := body[0]
	body = body[1:]
	if flags&1 != 0 && len(body) >= 4 {
		e.ModTime = time.Unix(int64(int32(binary.LittleEndian.Uint32(body))), 0)
		body = body[4:]
	}
	// Access and change times are present in the local header copy only.
	if flags&2 != 0 && len(body) >= 4 {
		e.AccessTime = time.Unix(int64(int32(binary.LittleEndian.Uint32(body))), 0)
		body = body[4:]
	}
	if flags&4 != 0 && len(body) >= 4 {
		e.ChangeTime = time.Unix(int64(int32(binary.LittleEndian.Uint32(body))), 0)
	}
}

// zipParseUnixIDs decodes the 0x7875 info-zip owner block.
func zipParseUnixIDs(e *Entry, body []byte) {
	if len(body) < 2 || body[0] != 1 {
		return
	}

	body = body[1:]
	uidSize := int(body[0])
	if len(body) < 1+uidSize+1 {
		return
	}
	e.UID = int(zipLEUint(body[1 : 1+uidSize]))

	body = body[1+uidSize:]
	gidSize := int(body[0])
	if len(body) < 1+gidSize {
		return
	}
	e.GID = int(zipLEUint(body[1 : 1+gidSize]))
}

// zipLEUint reads a little-endian unsigned value of 1 to 8 bytes.
func zipLEUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	return v
}

// zipBuildExtra renders the extra field blocks for an entry. Local header
// copies carry access and change times; central directory copies only the
// modification time, matching info-zip behavior.
func zipBuildExtra(e *Entry, local bool) []byte {
	var out []byte

	var flags byte
	var times []time.Time
	if !e.ModTime.IsZero() {
		flags |= 1
		times = append(times, e.ModTime)
	}
	if local && !e.AccessTime.IsZero() {
		flags |= 2
		times = append(times, e.AccessTime)
	}
	if local && !e.ChangeTime.IsZero() {
		flags |= 4
		times = append(times, e.ChangeTime)
	}
	if flags != 0 {
		body := make([]byte, 1+4*len(times))
		body[0] = flags
		for i, ts := range times {
			binary.LittleEndian.PutUint32(body[1+4*i:], uint32(ts.Unix()))
		}
		out = zipAppendExtra(out, zipExtraExtTime, body)
	}

	if e.UID != 0 || e.GID != 0 {
		body := make([]byte, 11)
		body[0] = 1
		body[1] = 4
		binary.LittleEndian.PutUint32(body[2:], uint32(e.UID))
		body[6] = 4
		binary.LittleEndian.PutUint32(body[7:], uint32(e.GID))
		out = zipAppendExtra(out, zipExtraUnixIDs, body)
	}

	return out
}

// zipAppendExtra appends one tagged extra block.
func zipAppendExtra(out []byte, tag uint16, body []byte) []byte {
	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[:], tag)
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(body)))

	return append(append(out, hdr[:]...), body...)
}
