// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"errors"
	"fmt"
	"io"
)

// Legacy .Z (compress) stream constants. The stdlib LZW codec cannot be
// used here: .Z carries a magic header, a block-clear code, and code-group
// padding that plain LZW streams do not have.
const (
	zMagic0 = 0x1f
	zMagic1 = 0x9d
	// zInitBits is the starting code width.
	zInitBits = 9
	// zMaxBitsLimit is the largest code width the format allows.
	zMaxBitsLimit = 16
	// zMinBits is the smallest accepted maxbits header value.
	zMinBits = 9
	// zClearCode resets the string table in block mode.
	zClearCode = 256
	// zFirstFree is the first dynamic code in block mode.
	zFirstFree = 257
	// zBlockModeFlag marks block (clear-code) mode in the header flag byte.
	zBlockModeFlag = 0x80
)

// zReader decodes a legacy .Z stream. Codes are packed LSB-first in groups
// of nBits bytes (eight codes per group); width changes and clears start a
// fresh group, mirroring the reference compress(1) output layout.
type zReader struct {
	r         io.Reader
	err       error
	prefix    []uint16
	suffix    []byte
	out       []byte
	groupBuf  [zMaxBitsLimit]byte
	outPos    int
	groupPos  int
	groupBits int
	nBits     uint
	maxBits   uint
	maxCode   int
	maxMax    int
	freeEnt   int
	oldCode   int
	finChar   byte
	blockMode bool
	clearFlg  bool
	started   bool
}

// openZCompressReader opens a .Z decode stream.
func openZCompressReader(r io.Reader) (io.ReadCloser, error) {
	return &zReader{r: r, oldCode: -1}, nil
}

// readHeader consumes and validates the 3-byte .Z header.
func (z *zReader) readHeader() error {
	var hdr [3]byte
	if _, err := io.ReadFull(z.r, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: short .Z header", ErrTruncated)
		}

		return err
	}
	if hdr[0] != zMagic0 || hdr[1] != zMagic1 {
		return errors.New("bad .Z magic")
	}

	z.maxBits = uint(hdr[2] & 0x1f)
	z.blockMode = hdr[2]&zBlockModeFlag != 0
	if z.maxBits < zMinBits || z.maxBits > zMaxBitsLimit {
		return fmt.Errorf("unsupported .Z maxbits %d", z.maxBits)
	}

	z.nBits = zInitBits
	z.maxCode = 1<<zInitBits - 1
	z.maxMax = 1 << z.maxBits
	z.freeEnt = 256
	if z.blockMode {
		z.freeEnt = zFirstFree
	}

	z.prefix = make([]uint16, z.maxMax)
	z.suffix = make([]byte, z.maxMax)
	for code := 0; code < 256; code++ {
		z.suffix[code] = byte(code)
	}
	z.out = make([]byte, 0, z.maxMax)

	return nil
}

// getCode extracts the next code, refilling the code group as needed.
// Returns -1 on clean end of stream.
func (z *zReader) getCode() (int, error) {
	if z.clearFlg || z.groupPos >= z.groupBits || z.freeEnt > z.maxCode {
		if z.freeEnt > z.maxCode {
			z.nBits++
			if z.nBits == z.maxBits {
				z.maxCode = z.maxMax
			} else {
				z.maxCode = 1<<z.nBits - 1
			}
		}
		if z.clearFlg {
			z.nBits = zInitBits
			z.maxCode = 1<<zInitBits - 1
			z.clearFlg = false
		}

		n, err := io.ReadFull(z.r, z.groupBuf[:z.nBits])
		if n == 0 {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return -1, nil
			}

			return -1, err
		}
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return -1, err
		}

		// Trailing partial groups only carry whole codes.
		z.groupBits = n<<3 - int(z.nBits-1)
		z.groupPos = 0
	}

	pos := z.groupPos
	z.groupPos += int(z.nBits)

	idx := pos >> 3
	shift := uint(pos & 7)
	v := uint32(z.groupBuf[idx]) >> shift
	got := 8 - shift
	for got < z.nBits {
		idx++
		v |= uint32(z.groupBuf[idx]) << got
		got += 8
	}

	return int(v & (1<<z.nBits - 1)), nil
}

// decodeMore decodes codes until at least one output byte is available.
func (z *zReader) decodeMore() error {
	if !z.started {
		z.started = true
		if err := z.readHeader(); err != nil {
			return err
		}
	}

	for {
		code, err := z.getCode()
		if err != nil {
			return err
		}
		if code < 0 {
			return io.EOF
		}

		if z.oldCode == -1 {
			if code >= 256 {
				return errors.New("invalid initial .Z code")
			}

			z.finChar = byte(code)
			z.oldCode = code
			z.out = append(z.out, z.finChar)
			return nil
		}

		if code == zClearCode && z.blockMode {
			for i := range z.prefix {
				z.prefix[i] = 0
			}
			z.clearFlg = true
			z.freeEnt = zFirstFree - 1

			code, err = z.getCode()
			if err != nil {
				return err
			}
			if code < 0 {
				return io.EOF
			}
		}

		incode := code
		stackTop := len(z.out)

		if code >= z.freeEnt {
			if code > z.freeEnt {
				return fmt.Errorf("invalid .Z code %d", code)
			}

			// KwKwK: the string is oldcode + its own first char.
			z.out = append(z.out, z.finChar)
			code = z.oldCode
		}

		for code >= 256 {
			z.out = append(z.out, z.suffix[code])
			code = int(z.prefix[code])
		}
		z.finChar = z.suffix[code]
		z.out = append(z.out, z.finChar)

		// The table stores strings reversed; flip the emitted run.
		for i, j := stackTop, len(z.out)-1; i < j; i, j = i+1, j-1 {
			z.out[i], z.out[j] = z.out[j], z.out[i]
		}

		if z.freeEnt < z.maxMax {
			z.prefix[z.freeEnt] = uint16(z.oldCode)
			z.suffix[z.freeEnt] = z.finChar
			z.freeEnt++
		}
		z.oldCode = incode

		if len(z.out) > 0 {
			return nil
		}
	}
}

// Read serves decoded bytes, decoding further codes on demand.
func (z *zReader) Read(p []byte) (int, error) {
	if z.err != nil {
		return 0, z.err
	}

	for z.outPos >= len(z.out) {
		z.out = z.out[:0]
		z.outPos = 0
		if err := z.decodeMore(); err != nil {
			z.err = err
			return 0, err
		}
	}

	n := copy(p, z.out[z.outPos:])
	z.outPos += n
	return n, nil
}

// Close closes the decode stream (no-op).
func (z *zReader) Close() error { return nil }

// zWriter encodes a legacy .Z stream in block mode with the format's
// maximum 16-bit codes. Output matches the reference group padding so any
// compress(1)-compatible decoder accepts it.
type zWriter struct {
	w           io.Writer
	table       map[uint32]int
	err         error
	groupBuf    [zMaxBitsLimit]byte
	groupOffset uint
	nBits       uint
	maxCode     int
	freeEnt     int
	ent         int
	pendingBump bool
	wroteHeader bool
	closed      bool
}

// openZCompressWriter opens a .Z encode stream. Level is ignored; the
// format has a single parameter (maxbits) and 16 is always used.
func openZCompressWriter(w io.Writer, _ int) (io.WriteCloser, error) {
	return &zWriter{
		w:       w,
		table:   make(map[uint32]int, 1<<12),
		nBits:   zInitBits,
		maxCode: 1<<zInitBits - 1,
		freeEnt: zFirstFree,
		ent:     -1,
	}, nil
}

// flushGroup writes the current code group padded to nBits bytes.
func (z *zWriter) flushGroup(pad bool) error {
	if z.groupOffset == 0 {
		return nil
	}

	n := int(z.nBits)
	if !pad {
		n = int(z.groupOffset+7) / 8
	}
	for i := int(z.groupOffset+7) / 8; i < n; i++ {
		z.groupBuf[i] = 0
	}

	if _, err := z.w.Write(z.groupBuf[:n]); err != nil {
		return err
	}

	z.groupOffset = 0
	for i := range z.groupBuf {
		z.groupBuf[i] = 0
	}

	return nil
}

// emit packs one code LSB-first and handles group padding on width change
// or table clear, mirroring the reference encoder.
func (z *zWriter) emit(code int) error {
	pos := z.groupOffset
	idx := pos >> 3
	shift := pos & 7
	z.groupBuf[idx] |= byte(code << shift)
	rest := uint(code) >> (8 - shift)
	for rest > 0 {
		idx++
		z.groupBuf[idx] |= byte(rest)
		rest >>= 8
	}

	z.groupOffset += z.nBits
	if z.groupOffset == z.nBits<<3 {
		if err := z.flushGroup(false); err != nil {
			return err
		}
	}

	if z.pendingBump {
		if err := z.flushGroup(true); err != nil {
			return err
		}
		z.nBits++
		if z.nBits == zMaxBitsLimit {
			z.maxCode = 1 << zMaxBitsLimit
		} else {
			z.maxCode = 1<<z.nBits - 1
		}
		z.pendingBump = false
	}

	return nil
}

// Write consumes input bytes and emits codes for completed table matches.
func (z *zWriter) Write(p []byte) (int, error) {
	if z.err != nil {
		return 0, z.err
	}
	if z.closed {
		return 0, ErrClosed
	}
	if !z.wroteHeader {
		z.wroteHeader = true
		hdr := [3]byte{zMagic0, zMagic1, zMaxBitsLimit | zBlockModeFlag}
		if _, err := z.w.Write(hdr[:]); err != nil {
			z.err = err
			return 0, err
		}
	}

	for i, c := range p {
		if z.ent < 0 {
			z.ent = int(c)
			continue
		}

		fcode := uint32(z.ent)<<8 | uint32(c)
		if next, ok := z.table[fcode]; ok {
			z.ent = next
			continue
		}

		if err := z.emit(z.ent); err != nil {
			z.err = err
			return i, err
		}
		z.ent = int(c)

		if z.freeEnt < 1<<zMaxBitsLimit {
			z.table[fcode] = z.freeEnt
			z.freeEnt++
			if z.freeEnt > z.maxCode {
				z.pendingBump = true
			}
		} else if err := z.clearTable(); err != nil {
			z.err = err
			return i, err
		}
	}

	return len(p), nil
}

// clearTable emits the clear code and resets encoder state.
func (z *zWriter) clearTable() error {
	if err := z.emit(zClearCode); err != nil {
		return err
	}

	// Pad-flush immediately so the code group restarts at the clear point,
	// matching the reference encoder's buffer reset.
	if err := z.flushGroup(true); err != nil {
		return err
	}
	z.nBits = zInitBits
	z.maxCode = 1<<zInitBits - 1
	z.pendingBump = false
	z.table = make(map[uint32]int, 1<<12)
	z.freeEnt = zFirstFree

	return nil
}

// Close flushes the final code and any partial group.
func (z *zWriter) Close() error {
	if z.closed {
		return nil
	}

	z.closed = true
	if z.err != nil {
		return z.err
	}
	if !z.wroteHeader {
		hdr := [3]byte{zMagic0, zMagic1, zMaxBitsLimit | zBlockModeFlag}
		if _, err := z.w.Write(hdr[:]); err != nil {
			return err
		}
	}
	if z.ent >= 0 {
		if err := z.emit(z.ent); err != nil {
			return err
		}
	}

	return z.flushGroup(false)
}
