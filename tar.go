// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tar wire layout constants.
const (
	// tarBlockSize is the tar block and header size.
	tarBlockSize = 512
	// tarMaxMetaPayload bounds pax record and long-name payload sizes.
	tarMaxMetaPayload = 1 << 20
)

// tarField describes one fixed header field as offset and length.
type tarField struct {
	off int
	len int
}

// slice returns the field's bytes within a header block.
func (f tarField) slice(blk []byte) []byte {
	return blk[f.off : f.off+f.len]
}

// Tar header field layout (v7 base, ustar and GNU extensions).
var (
	tarFieldName     = tarField{0, 100}
	tarFieldMode     = tarField{100, 8}
	tarFieldUID      = tarField{108, 8}
	tarFieldGID      = tarField{116, 8}
	tarFieldSize     = tarField{124, 12}
	tarFieldMtime    = tarField{136, 12}
	tarFieldChksum   = tarField{148, 8}
	tarFieldTypeflag = tarField{156, 1}
	tarFieldLinkname = tarField{157, 100}
	tarFieldMagic    = tarField{257, 8}
	tarFieldUname    = tarField{265, 32}
	tarFieldGname    = tarField{297, 32}
	tarFieldDevMajor = tarField{329, 8}
	tarFieldDevMinor = tarField{337, 8}
	tarFieldPrefix   = tarField{345, 155}

	// Old GNU sparse region, valid only with the GNU magic.
	tarFieldSparse     = tarField{386, 96}
	tarFieldIsExtended = tarField{482, 1}
	tarFieldRealSize   = tarField{483, 12}
)

// Magic values distinguishing header dialects.
const (
	tarMagicUstar = "ustar\x0000"
	tarMagicGNU   = "ustar  \x00"
)

// Tar type flags.
const (
	tarTypeReg        = '0'
	tarTypeRegAlt     = '\x00'
	tarTypeHardlink   = '1'
	tarTypeSymlink    = '2'
	tarTypeChar       = '3'
	tarTypeBlock      = '4'
	tarTypeDir        = '5'
	tarTypeFifo       = '6'
	tarTypeCont       = '7'
	tarTypePax        = 'x'
	tarTypePaxGlobal  = 'g'
	tarTypeGNULongN   = 'L'
	tarTypeGNULongL   = 'K'
	tarTypeGNUSparse  = 'S'
	tarGNULongNameStr = "././@LongLink"
)

// Field capacity limits for plain octal encoding.
const (
	tarMaxOctal12 = 1<<33 - 1 // 11 octal digits
	tarMaxOctal8  = 1<<21 - 1 // 7 octal digits
)

// parseTarString reads a NUL-terminated byte string field.
func parseTarString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}

// parseTarOctal parses an octal numeric field, tolerating leading spaces and
// space or NUL termination.
func parseTarOctal(b []byte, field string) (int64, error) {
	trimmed := strings.Trim(parseTarString(b), " ")
	if trimmed == "" {
		return 0, nil
	}

	v, err := strconv.ParseInt(trimmed, 8, 64)
	if err != nil {
		return 0, &HeaderError{Field: field, Reason: "invalid octal value", Err: err}
	}

	return v, nil
}

// parseTarNumeric parses a numeric field in octal or GNU base-256 form.
func parseTarNumeric(b []byte, field string) (int64, error) {
	if len(b) > 0 && b[0]&0x80 != 0 {
		// Base-256: two's complement big-endian with the marker bit cleared.
		var v int64
		if b[0]&0x40 != 0 {
			v = -1
		}
		v = v<<6 | int64(b[0]&0x3f)
		for _, c := range b[1:] {
			if v>>55 != 0 && v>>55 != -1 {
				return 0, headerErr(field, "base-256 value out of range")
			}

			v = v<<8 | int64(c)
		}

		return v, nil
	}

	return parseTarOctal(b, field)
}

// formatTarOctal writes v as a NUL-terminated zero-padded octal field.
// It reports false when v does not fit.
func formatTarOctal(b []byte, v int64) bool {
	if v < 0 {
		return false
	}

	s := strconv.FormatInt(v, 8)
	if len(s) > len(b)-1 {
		return false
	}

	pad := len(b) - 1 - len(s)
	for i := 0; i < pad; i++ {
		b[i] = '0'
	}
	copy(b[pad:], s)
	b[len(b)-1] = 0

	return true
}

// formatTarNumeric writes v as octal or, when too large, GNU base-256.
func formatTarNumeric(b []byte, v int64) {
	if formatTarOctal(b, v) {
		return
	}

	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	b[0] |= 0x80
}

// formatTarString copies s into a fixed field, NUL-padded.
func formatTarString(b []byte, s string) {
	n := copy(b, s)
	for i := n; i < len(b); i++ {
		b[i] = 0
	}
}

// tarChecksum computes the unsigned and signed header checksums with the
// checksum field treated as spaces.
func tarChecksum(blk []byte) (unsigned int64, signed int64) {
	for i, c := range blk {
		if i >= tarFieldChksum.off && i < tarFieldChksum.off+tarFieldChksum.len {
			c = ' '
		}

		unsigned += int64(c)
		signed += int64(int8(c))
	}

	return unsigned, signed
}

// tarEntryTypeFlag maps an entry type to its tar type flag.
func tarEntryTypeFlag(t EntryType) (byte, error) {
	switch t {
	case TypeRegular:
		return tarTypeReg, nil
	case TypeDirectory:
		return tarTypeDir, nil
	case TypeSymlink:
		return tarTypeSymlink, nil
	case TypeHardlink:
		return tarTypeHardlink, nil
	case TypeFifo:
		return tarTypeFifo, nil
	case TypeCharDevice:
		return tarTypeChar, nil
	case TypeBlockDevice:
		return tarTypeBlock, nil
	case TypeSocket:
		// Tar has no socket representation; libarchive-compatible tools
		// refuse them as well.
		return 0, headerErr("typeflag", "sockets cannot be stored in tar")
	default:
		return 0, headerErr("typeflag", fmt.Sprintf("unsupported entry type %s", t))
	}
}

// tarTypeFromFlag maps a tar type flag to the entry type.
func tarTypeFromFlag(flag byte) EntryType {
	switch flag {
	case tarTypeHardlink:
		return TypeHardlink
	case tarTypeSymlink:
		return TypeSymlink
	case tarTypeChar:
		return TypeCharDevice
	case tarTypeBlock:
		return TypeBlockDevice
	case tarTypeDir:
		return TypeDirectory
	case tarTypeFifo:
		return TypeFifo
	default:
		// Unknown flags carry regular payload; stay lenient like
		// mainstream readers.
		return TypeRegular
	}
}

// parsePaxTime parses a pax decimal timestamp with optional fraction.
func parsePaxTime(s string) (time.Time, error) {
	secStr, fracStr, hasFrac := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid pax time %q: %w", s, err)
	}

	var nsec int64
	if hasFrac {
		// Pad or cut the fraction to nanosecond precision.
		if len(fracStr) > 9 {
			fracStr = fracStr[:9]
		}
		for len(fracStr) < 9 {
			fracStr += "0"
		}

		nsec, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid pax time fraction %q: %w", s, err)
		}
		if sec < 0 {
			nsec = -nsec
		}
	}

	return time.Unix(sec, nsec), nil
}

// formatPaxTime renders a timestamp as pax decimal seconds with fraction.
func formatPaxTime(t time.Time) string {
	sec := t.Unix()
	nsec := t.Nanosecond()
	if nsec == 0 {
		return strconv.FormatInt(sec, 10)
	}

	return fmt.Sprintf("%d.%09d", sec, nsec)
}

// parsePaxRecords parses "len key=value\n" records from a pax payload.
func parsePaxRecords(payload []byte) (map[string]string, error) {
	out := make(map[string]string)
	rest := payload
	for len(rest) > 0 {
		sp := bytes.IndexByte(rest, ' ')
		if sp <= 0 {
			return nil, headerErr("pax", "missing record length")
		}

		recLen, err := strconv.Atoi(string(rest[:sp]))
		if err != nil || recLen <= sp || recLen > len(rest) {
			return nil, headerErr("pax", "invalid record length")
		}

		rec := rest[sp+1 : recLen]
		rest = rest[recLen:]
		if len(rec) == 0 || rec[len(rec)-1] != '\n' {
			return nil, headerErr("pax", "record not newline-terminated")
		}

		key, value, ok := strings.Cut(string(rec[:len(rec)-1]), "=")
		if !ok || key == "" {
			return nil, headerErr("pax", "record missing key")
		}

		out[key] = value
	}

	return out, nil
}

// formatPaxRecord renders one "len key=value\n" record with the
// self-referential length prefix.
func formatPaxRecord(key, value string) string {
	body := " " + key + "=" + value + "\n"
	size := len(body) + len(strconv.Itoa(len(body)))
	// Adding the digits can push the total into one more digit.
	size = len(body) + len(strconv.Itoa(size))

	return strconv.Itoa(size) + body
}

// tarPadding returns the zero padding needed after n payload bytes.
func tarPadding(n int64) int64 {
	return -n & (tarBlockSize - 1)
}
