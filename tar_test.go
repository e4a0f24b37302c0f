// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestTarOctalFields(t *testing.T) {
	t.Parallel()

	var field [12]byte
	if !formatTarOctal(field[:], 0o644) {
		t.Fatal("formatTarOctal rejected a small value")
	}
	v, err := parseTarOctal(field[:], "mode")
	if err != nil {
		t.Fatalf("parseTarOctal: %v", err)
	}
	if v != 0o644 {
		t.Fatalf("parseTarOctal=%o, want 644", v)
	}

	if formatTarOctal(field[:], tarMaxOctal12+1) {
		t.Fatal("formatTarOctal accepted a value past 11 octal digits")
	}
	if formatTarOctal(field[:], -1) {
		t.Fatal("formatTarOctal accepted a negative value")
	}
}

func TestTarBase256Numeric(t *testing.T) {
	t.Parallel()

	var field [12]byte
	huge := int64(1) << 40
	formatTarNumeric(field[:], huge)
	if field[0]&0x80 == 0 {
		t.Fatal("oversized value was not encoded as base-256")
	}

	v, err := parseTarNumeric(field[:], "size")
	if err != nil {
		t.Fatalf("parseTarNumeric: %v", err)
	}
	if v != huge {
		t.Fatalf("parseTarNumeric=%d, want %d", v, huge)
	}

	// Octal stays octal.
	formatTarNumeric(field[:], 1234)
	if field[0]&0x80 != 0 {
		t.Fatal("small value was encoded as base-256")
	}
}

func TestPaxRecordFormat(t *testing.T) {
	t.Parallel()

	rec := formatPaxRecord("path", "abc")
	if rec != "12 path=abc\n" {
		t.Fatalf("formatPaxRecord=%q, want %q", rec, "12 path=abc\n")
	}

	// The length prefix includes its own digits; verify self-consistency
	// across the digit-count boundary.
	for _, valueLen := range []int{1, 85, 86, 87, 990, 1000} {
		rec := formatPaxRecord("comment", strings.Repeat("v", valueLen))
		sp := strings.IndexByte(rec, ' ')
		declared, err := strconv.Atoi(rec[:sp])
		if err != nil {
			t.Fatalf("record prefix %q: %v", rec[:sp], err)
		}
		if declared != len(rec) {
			t.Fatalf("record declares %d bytes but is %d long", declared, len(rec))
		}
	}

	recs, err := parsePaxRecords([]byte(formatPaxRecord("path", "dir/file") + formatPaxRecord("size", "42")))
	if err != nil {
		t.Fatalf("parsePaxRecords: %v", err)
	}
	if recs["path"] != "dir/file" || recs["size"] != "42" {
		t.Fatalf("parsePaxRecords=%v", recs)
	}
}

func TestPaxRecordParseErrors(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		"nolen=value\n",
		"999 path=short\n",
		"11 path=abc", // no newline inside the declared length
		"3 =\n",
	} {
		if _, err := parsePaxRecords([]byte(payload)); !errors.Is(err, ErrHeader) {
			t.Fatalf("parsePaxRecords(%q) err=%v, want ErrHeader", payload, err)
		}
	}
}

func TestTarPaddingAmount(t *testing.T) {
	t.Parallel()

	cases := map[int64]int64{0: 0, 1: 511, 511: 1, 512: 0, 513: 511, 1024: 0}
	for n, want := range cases {
		if got := tarPadding(n); got != want {
			t.Fatalf("tarPadding(%d)=%d, want %d", n, got, want)
		}
	}
}

func TestSplitUstarName(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("d/", 40) + strings.Repeat("f", 60)
	prefix, base, err := splitUstarName(long)
	if err != nil {
		t.Fatalf("splitUstarName: %v", err)
	}
	if prefix+"/"+base != long {
		t.Fatalf("split loses bytes: %q + %q", prefix, base)
	}
	if len(base) > tarFieldName.len || len(prefix) > tarFieldPrefix.len {
		t.Fatalf("split fields too long: %d/%d", len(prefix), len(base))
	}

	if _, _, err := splitUstarName(strings.Repeat("x", 180)); !errors.Is(err, ErrHeader) {
		t.Fatalf("slashless long name err=%v, want ErrHeader", err)
	}
}

func TestTarRoundTripDialects(t *testing.T) {
	t.Parallel()

	mtime := time.Unix(1_700_000_000, 0)
	fixtures := []archiveEntry{
		{entry: Entry{Path: "dir", Type: TypeDirectory, Mode: 0o755, ModTime: mtime}},
		{entry: Entry{Path: "dir/file.txt", Type: TypeRegular, Mode: 0o640, ModTime: mtime, UID: 1000, GID: 1000, Uname: "builder", Gname: "builder"}, data: "hello tar"},
		{entry: Entry{Path: "dir/empty", Type: TypeRegular, Mode: 0o644}},
		{entry: Entry{Path: "dir/link", Type: TypeSymlink, Linkname: "file.txt", Mode: 0o777}},
		{entry: Entry{Path: "dir/hard", Type: TypeHardlink, Linkname: "dir/file.txt", Mode: 0o640}},
		{entry: Entry{Path: "dir/pipe", Type: TypeFifo, Mode: 0o600}},
		{entry: Entry{Path: "dir/null", Type: TypeCharDevice, Mode: 0o666, DevMajor: 1, DevMinor: 3}},
	}

	for _, format := range []Format{FormatUstar, FormatPax, FormatGNU} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()

			data := buildArchive(t, WriterOptions{Format: format}, fixtures)
			r, err := NewReaderFromBytes(data)
			if err != nil {
				t.Fatalf("NewReaderFromBytes: %v", err)
			}
			defer func() { _ = r.Close() }()

			if !r.Format().isTar() {
				t.Fatalf("detected format %q, want a tar dialect", r.Format())
			}

			got := drainEntries(t, r)
			if len(got) != len(fixtures) {
				t.Fatalf("read %d entries, want %d", len(got), len(fixtures))
			}

			for i, want := range fixtures {
				e := got[i].entry
				if e.Path != want.entry.Path {
					t.Fatalf("entry %d path=%q, want %q", i, e.Path, want.entry.Path)
				}
				if e.Type != want.entry.Type {
					t.Fatalf("%s type=%s, want %s", e.Path, e.Type, want.entry.Type)
				}
				if e.Mode != want.entry.Mode {
					t.Fatalf("%s mode=%o, want %o", e.Path, e.Mode, want.entry.Mode)
				}
				if e.Linkname != want.entry.Linkname {
					t.Fatalf("%s linkname=%q, want %q", e.Path, e.Linkname, want.entry.Linkname)
				}
				if got[i].data != want.data {
					t.Fatalf("%s payload=%q, want %q", e.Path, got[i].data, want.data)
				}
				if !want.entry.ModTime.IsZero() && !e.ModTime.Equal(want.entry.ModTime) {
					t.Fatalf("%s mtime=%v, want %v", e.Path, e.ModTime, want.entry.ModTime)
				}
			}

			dev := entryByPath(t, got, "dir/null").entry
			if dev.DevMajor != 1 || dev.DevMinor != 3 {
				t.Fatalf("device numbers %d:%d, want 1:3", dev.DevMajor, dev.DevMinor)
			}
		})
	}
}

func TestPaxMetadataRoundTrip(t *testing.T) {
	t.Parallel()

	longPath := strings.Repeat("deep/", 30) + "leaf-with-a-rather-long-name.bin"
	want := Entry{
		Path:       longPath,
		Type:       TypeRegular,
		Mode:       0o600,
		UID:        5_000_000,
		GID:        5_000_001,
		Uname:      "svc",
		Gname:      "svc",
		ModTime:    time.Unix(1_700_000_000, 123_456_789),
		AccessTime: time.Unix(1_700_000_100, 0),
		ChangeTime: time.Unix(1_700_000_200, 0),
		BirthTime:  time.Unix(1_600_000_000, 0),
		Xattrs: map[string][]byte{
			"user.checksum": []byte("abc123"),
			"user.origin":   []byte("fixture"),
		},
	}

	data := buildArchive(t, WriterOptions{Format: FormatPax}, []archiveEntry{{entry: want, data: "payload"}})
	r, err := NewReaderFromBytes(data)
	if err != nil {
		t.Fatalf("NewReaderFromBytes: %v", err)
	}
	defer func() { _ = r.Close() }()

	got := drainEntries(t, r)
	if len(got) != 1 {
		t.Fatalf("read %d entries, want 1", len(got))
	}

	e := got[0].entry
	if e.Path != longPath {
		t.Fatalf("path=%q, want %q", e.Path, longPath)
	}
	if e.UID != want.UID || e.GID != want.GID {
		t.Fatalf("owner %d:%d, want %d:%d", e.UID, e.GID, want.UID, want.GID)
	}
	if !e.ModTime.Equal(want.ModTime) {
		t.Fatalf("mtime=%v, want nanosecond-precise %v", e.ModTime, want.ModTime)
	}
	if !e.AccessTime.Equal(want.AccessTime) || !e.ChangeTime.Equal(want.ChangeTime) {
		t.Fatalf("atime/ctime %v/%v, want %v/%v", e.AccessTime, e.ChangeTime, want.AccessTime, want.ChangeTime)
	}
	if !e.BirthTime.Equal(want.BirthTime) {
		t.Fatalf("birth time=%v, want %v", e.BirthTime, want.BirthTime)
	}
	if string(e.Xattrs["user.checksum"]) != "abc123" || string(e.Xattrs["user.origin"]) != "fixture" {
		t.Fatalf("xattrs=%v", e.Xattrs)
	}
	if got[0].data != "payload" {
		t.Fatalf("payload=%q", got[0].data)
	}
}

func TestGNULongNames(t *testing.T) {
	t.Parallel()

	longPath := strings.Repeat("gnu/", 35) + "deeply-nested-file"
	longTarget := strings.Repeat("target/", 25) + "real-file"
	fixtures := []archiveEntry{
		{entry: Entry{Path: longPath, Type: TypeRegular, Mode: 0o644}, data: "gnu data"},
		{entry: Entry{Path: "link-to-far-away", Type: TypeSymlink, Linkname: longTarget, Mode: 0o777}},
	}

	data := buildArchive(t, WriterOptions{Format: FormatGNU}, fixtures)
	r, err := NewReaderFromBytes(data)
	if err != nil {
		t.Fatalf("NewReaderFromBytes: %v", err)
	}
	defer func() { _ = r.Close() }()

	got := drainEntries(t, r)
	if len(got) != 2 {
		t.Fatalf("read %d entries, want 2", len(got))
	}
	if got[0].entry.Path != longPath {
		t.Fatalf("long path=%q, want %q", got[0].entry.Path, longPath)
	}
	if got[0].data != "gnu data" {
		t.Fatalf("payload=%q", got[0].data)
	}
	if got[1].entry.Linkname != longTarget {
		t.Fatalf("long linkname=%q, want %q", got[1].entry.Linkname, longTarget)
	}
}

func TestLongNameTruncatedAtSeparator(t *testing.T) {
	t.Parallel()

	// The fixed 100-byte name field truncates this path right on a "/".
	// The resolved long name must win over the old trailing-slash
	// directory heuristic, keeping this a regular file with data.
	longPath := strings.Repeat("deep/", 30) + "leaf.bin"

	for _, format := range []Format{FormatPax, FormatGNU} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()

			data := buildArchive(t, WriterOptions{Format: format},
				[]archiveEntry{{entry: Entry{Path: longPath, Type: TypeRegular, Mode: 0o644}, data: "ok"}})

			r, err := NewReaderFromBytes(data)
			if err != nil {
				t.Fatalf("NewReaderFromBytes: %v", err)
			}
			defer func() { _ = r.Close() }()

			got := drainEntries(t, r)
			if len(got) != 1 {
				t.Fatalf("read %d entries, want 1", len(got))
			}
			if got[0].entry.Type != TypeRegular {
				t.Fatalf("type=%v, want regular file", got[0].entry.Type)
			}
			if got[0].entry.Path != longPath {
				t.Fatalf("path=%q, want %q", got[0].entry.Path, longPath)
			}
			if got[0].data != "ok" {
				t.Fatalf("payload=%q", got[0].data)
			}
		})
	}
}

func TestUstarLongNameLimits(t *testing.T) {
	t.Parallel()

	// Splittable long path survives through the prefix field.
	splittable := strings.Repeat("p/", 30) + strings.Repeat("n", 80)
	data := buildArchive(t, WriterOptions{Format: FormatUstar},
		[]archiveEntry{{entry: Entry{Path: splittable, Type: TypeRegular, Mode: 0o644}, data: "x"}})

	r, err := NewReaderFromBytes(data)
	if err != nil {
		t.Fatalf("NewReaderFromBytes: %v", err)
	}
	defer func() { _ = r.Close() }()

	got := drainEntries(t, r)
	if got[0].entry.Path != splittable {
		t.Fatalf("path=%q, want %q", got[0].entry.Path, splittable)
	}

	// A slashless 180-byte name cannot be represented at all.
	var buf bytes.Buffer
	w, err := NewWriter(&buf, WriterOptions{Format: FormatUstar})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	err = w.WriteHeader(&Entry{Path: strings.Repeat("x", 180), Type: TypeRegular, Mode: 0o644})
	if !errors.Is(err, ErrHeader) {
		t.Fatalf("WriteHeader err=%v, want ErrHeader", err)
	}
	_ = w.Close()
}

func TestTarSingleZeroBlockEndMarker(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, WriterOptions{Format: FormatUstar},
		[]archiveEntry{{entry: Entry{Path: "a.txt", Type: TypeRegular, Mode: 0o644}, data: "abc"}})

	// Strip the second trailing zero block; one zero block plus stream end
	// is still a valid end marker.
	data = data[:len(data)-tarBlockSize]

	r, err := NewReaderFromBytes(data)
	if err != nil {
		t.Fatalf("NewReaderFromBytes: %v", err)
	}
	defer func() { _ = r.Close() }()

	got := drainEntries(t, r)
	if len(got) != 1 || got[0].data != "abc" {
		t.Fatalf("entries=%v", got)
	}
}

func TestTarTruncation(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, WriterOptions{Format: FormatUstar}, []archiveEntry{
		{entry: Entry{Path: "a.txt", Type: TypeRegular, Mode: 0o644}, data: "hello"},
		{entry: Entry{Path: "b.txt", Type: TypeRegular, Mode: 0o644}, data: "world"},
	})

	t.Run("inside payload", func(t *testing.T) {
		t.Parallel()

		r, err := NewReaderFromBytes(data[:tarBlockSize+2])
		if err != nil {
			t.Fatalf("NewReaderFromBytes: %v", err)
		}
		defer func() { _ = r.Close() }()

		if _, err := r.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if _, err := io.ReadAll(r); !errors.Is(err, ErrTruncated) {
			t.Fatalf("read err=%v, want ErrTruncated", err)
		}
	})

	t.Run("inside header", func(t *testing.T) {
		t.Parallel()

		r, err := NewReaderFromBytes(data[:2*tarBlockSize+100])
		if err != nil {
			t.Fatalf("NewReaderFromBytes: %v", err)
		}
		defer func() { _ = r.Close() }()

		if _, err := r.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if _, err := io.ReadAll(r); err != nil {
			t.Fatalf("read: %v", err)
		}
		if _, err := r.Next(); !errors.Is(err, ErrTruncated) {
			t.Fatalf("Next err=%v, want ErrTruncated", err)
		}
	})

	t.Run("missing end marker", func(t *testing.T) {
		t.Parallel()

		r, err := NewReaderFromBytes(data[:2*tarBlockSize])
		if err != nil {
			t.Fatalf("NewReaderFromBytes: %v", err)
		}
		defer func() { _ = r.Close() }()

		if _, err := r.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if _, err := io.ReadAll(r); err != nil {
			t.Fatalf("read: %v", err)
		}
		if _, err := r.Next(); !errors.Is(err, ErrTruncated) {
			t.Fatalf("Next err=%v, want ErrTruncated", err)
		}
	})
}

func TestTarChecksumMismatch(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, WriterOptions{Format: FormatUstar},
		[]archiveEntry{{entry: Entry{Path: "a.txt", Type: TypeRegular, Mode: 0o644}, data: "abc"}})

	// Flip a name byte so the stored checksum no longer matches.
	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xff

	r, err := NewReaderFromBytes(corrupted)
	if err != nil {
		t.Fatalf("NewReaderFromBytes: %v", err)
	}
	defer func() { _ = r.Close() }()

	if _, err := r.Next(); !errors.Is(err, ErrHeader) {
		t.Fatalf("Next err=%v, want ErrHeader", err)
	}
}

// buildSparseFixture assembles an old-GNU sparse entry with two stored
// runs of four bytes at logical offsets 0 and 12 of a 16-byte file.
func buildSparseFixture(t *testing.T) []byte {
	t.Helper()

	blk := make([]byte, tarBlockSize)
	formatTarString(tarFieldName.slice(blk), "sparse.bin")
	formatTarOctal(tarFieldMode.slice(blk), 0o644)
	formatTarOctal(tarFieldUID.slice(blk), 0)
	formatTarOctal(tarFieldGID.slice(blk), 0)
	formatTarOctal(tarFieldSize.slice(blk), 8)
	formatTarOctal(tarFieldMtime.slice(blk), 0)
	blk[tarFieldTypeflag.off] = tarTypeGNUSparse
	copy(tarFieldMagic.slice(blk), tarMagicGNU)

	region := tarFieldSparse.slice(blk)
	formatTarOctal(region[0:12], 0)
	formatTarOctal(region[12:24], 4)
	formatTarOctal(region[24:36], 12)
	formatTarOctal(region[36:48], 4)
	formatTarOctal(tarFieldRealSize.slice(blk), 16)

	unsigned, _ := tarChecksum(blk)
	chk := tarFieldChksum.slice(blk)
	s := strconv.FormatInt(unsigned, 8)
	for len(s) < 6 {
		s = "0" + s
	}
	copy(chk, s)
	chk[6] = 0
	chk[7] = ' '

	var buf bytes.Buffer
	buf.Write(blk)
	buf.WriteString("AAAABBBB")
	buf.Write(make([]byte, tarBlockSize-8))
	buf.Write(make([]byte, 2*tarBlockSize))

	return buf.Bytes()
}

func TestTarSparseRead(t *testing.T) {
	t.Parallel()

	data := buildSparseFixture(t)

	t.Run("flat read fills holes", func(t *testing.T) {
		t.Parallel()

		r, err := NewReaderFromBytes(data)
		if err != nil {
			t.Fatalf("NewReaderFromBytes: %v", err)
		}
		defer func() { _ = r.Close() }()

		if r.Format() != FormatGNU {
			t.Fatalf("detected format %q, want gnutar", r.Format())
		}

		e, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e.Size != 16 {
			t.Fatalf("logical size=%d, want 16", e.Size)
		}

		flat, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		want := "AAAA" + strings.Repeat("\x00", 8) + "BBBB"
		if string(flat) != want {
			t.Fatalf("flat payload=%q, want %q", flat, want)
		}
	})

	t.Run("block read exposes segments", func(t *testing.T) {
		t.Parallel()

		r, err := NewReaderFromBytes(data)
		if err != nil {
			t.Fatalf("NewReaderFromBytes: %v", err)
		}
		defer func() { _ = r.Close() }()

		if _, err := r.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}

		type run struct {
			data string
			off  int64
		}
		var runs []run
		for {
			blk, err := r.ReadBlock()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("ReadBlock: %v", err)
			}
			runs = append(runs, run{data: string(blk.Data), off: blk.Offset})
		}

		want := []run{{data: "AAAA", off: 0}, {data: "BBBB", off: 12}}
		if len(runs) != len(want) {
			t.Fatalf("runs=%v, want %v", runs, want)
		}
		for i := range want {
			if runs[i] != want[i] {
				t.Fatalf("run %d=%v, want %v", i, runs[i], want[i])
			}
		}
	})
}
