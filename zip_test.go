// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestZipRoundTripDirectoryReader(t *testing.T) {
	t.Parallel()

	mtime := time.Unix(1_700_000_000, 0)
	fixtures := []archiveEntry{
		{entry: Entry{Path: "docs", Type: TypeDirectory, Mode: 0o750, ModTime: mtime}},
		{entry: Entry{Path: "docs/readme.txt", Type: TypeRegular, Mode: 0o640, ModTime: mtime, UID: 1234, GID: 4321}, data: repeatedPayload(4096)},
		{entry: Entry{Path: "docs/empty.txt", Type: TypeRegular, Mode: 0o644}},
		{entry: Entry{Path: "docs/link", Type: TypeSymlink, Linkname: "readme.txt", Mode: 0o777}},
	}

	data := buildArchive(t, WriterOptions{Format: FormatZip}, fixtures)
	r, err := NewReaderFromBytes(data)
	if err != nil {
		t.Fatalf("NewReaderFromBytes: %v", err)
	}
	defer func() { _ = r.Close() }()

	if r.Format() != FormatZip {
		t.Fatalf("detected format %q, want zip", r.Format())
	}

	got := drainEntries(t, r)
	if len(got) != len(fixtures) {
		t.Fatalf("read %d entries, want %d", len(got), len(fixtures))
	}

	dir := entryByPath(t, got, "docs").entry
	if dir.Type != TypeDirectory || dir.Mode != 0o750 {
		t.Fatalf("dir type=%s mode=%o", dir.Type, dir.Mode)
	}
	if !dir.ModTime.Equal(mtime) {
		t.Fatalf("dir mtime=%v, want %v", dir.ModTime, mtime)
	}

	file := entryByPath(t, got, "docs/readme.txt")
	if file.entry.Mode != 0o640 || file.entry.UID != 1234 || file.entry.GID != 4321 {
		t.Fatalf("file mode=%o owner=%d:%d", file.entry.Mode, file.entry.UID, file.entry.GID)
	}
	if !file.entry.ModTime.Equal(mtime) {
		t.Fatalf("file mtime=%v, want %v", file.entry.ModTime, mtime)
	}
	if file.data != repeatedPayload(4096) {
		t.Fatalf("file payload differs, got %d bytes", len(file.data))
	}

	if empty := entryByPath(t, got, "docs/empty.txt"); empty.data != "" {
		t.Fatalf("empty payload=%q", empty.data)
	}

	link := entryByPath(t, got, "docs/link").entry
	if link.Type != TypeSymlink || link.Linkname != "readme.txt" {
		t.Fatalf("link type=%s target=%q", link.Type, link.Linkname)
	}
}

func TestZipDirectoryReaderProgress(t *testing.T) {
	t.Parallel()

	payload := repeatedPayload(4096)
	data := buildArchive(t, WriterOptions{Format: FormatZip},
		[]archiveEntry{{entry: Entry{Path: "big.bin", Type: TypeRegular, Mode: 0o644}, data: payload}})

	r, err := NewReaderFromBytes(data)
	if err != nil {
		t.Fatalf("NewReaderFromBytes: %v", err)
	}
	defer func() { _ = r.Close() }()

	// Locating the central directory already consumes raw bytes.
	afterOpen := r.BytesRead()
	if afterOpen <= 0 {
		t.Fatalf("BytesRead()=%d after open, want > 0", afterOpen)
	}

	got := drainEntries(t, r)
	if len(got) != 1 || got[0].data != payload {
		t.Fatalf("round trip failed")
	}
	if n := r.BytesRead(); n <= afterOpen {
		t.Fatalf("BytesRead()=%d after payload, want > %d", n, afterOpen)
	}
}

func TestZipStreamingReaderDeflate(t *testing.T) {
	t.Parallel()

	payload := repeatedPayload(8192)
	data := buildArchive(t, WriterOptions{Format: FormatZip},
		[]archiveEntry{{entry: Entry{Path: "stream.txt", Type: TypeRegular, Mode: 0o644}, data: payload}})

	// A plain io.Reader denies random access, forcing the forward-only
	// local-header path with trailing data descriptors.
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer func() { _ = r.Close() }()

	got := drainEntries(t, r)
	if len(got) != 1 {
		t.Fatalf("read %d entries, want 1", len(got))
	}
	if got[0].data != payload {
		t.Fatalf("payload differs, got %d bytes", len(got[0].data))
	}
	// Without the central directory only name-derived defaults exist.
	if got[0].entry.Mode != 0o644 {
		t.Fatalf("streamed mode=%o, want the 644 default", got[0].entry.Mode)
	}
}

func TestZipStoredStreamingRejected(t *testing.T) {
	t.Parallel()

	// Store plus descriptor means the payload length is unknowable ahead
	// of the descriptor, so the streaming reader must refuse it.
	data := buildArchive(t, WriterOptions{Format: FormatZip, ZipStore: true},
		[]archiveEntry{{entry: Entry{Path: "a.bin", Type: TypeRegular, Mode: 0o644}, data: "abc"}})

	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer func() { _ = r.Close() }()

	if _, err := r.Next(); !errors.Is(err, ErrHeader) {
		t.Fatalf("Next err=%v, want ErrHeader", err)
	}

	// The central directory path reads the same bytes fine.
	entries, err := ListFromBytes(data)
	if err != nil {
		t.Fatalf("ListFromBytes: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "a.bin" {
		t.Fatalf("entries=%v", entries)
	}
}

func TestZipSeekableSinkBackfill(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.zip")
	w, err := Create(path, WriterOptions{Format: FormatZip, ZipStore: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteHeader(&Entry{Path: "a.bin", Type: TypeRegular, Mode: 0o644, Size: 5}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Seekable sinks get real sizes backfilled into the local header, so
	// even a stored entry streams back without the central directory.
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	r, err := NewReader(f)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer func() { _ = r.Close() }()

	got := drainEntries(t, r)
	if len(got) != 1 || got[0].data != "hello" {
		t.Fatalf("entries=%v", got)
	}
}

func TestZipRejectsUnsupportedTypes(t *testing.T) {
	t.Parallel()

	for _, e := range []Entry{
		{Path: "pipe", Type: TypeFifo, Mode: 0o600},
		{Path: "dev", Type: TypeCharDevice, Mode: 0o666, DevMajor: 1, DevMinor: 3},
		{Path: "hard", Type: TypeHardlink, Linkname: "other", Mode: 0o644},
	} {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, WriterOptions{Format: FormatZip})
		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}
		if err := w.WriteHeader(&e); !errors.Is(err, ErrHeader) {
			t.Fatalf("WriteHeader(%s) err=%v, want ErrHeader", e.Type, err)
		}
		_ = w.Close()
	}
}

func TestZipChecksumMismatch(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, WriterOptions{Format: FormatZip, ZipStore: true},
		[]archiveEntry{{entry: Entry{Path: "a.txt", Type: TypeRegular, Mode: 0o644}, data: "abcd"}})

	// Stored payload sits right behind the 30-byte local header and the
	// 5-byte name; flip one payload byte.
	corrupted := append([]byte(nil), data...)
	corrupted[zipLocalHeaderLen+len("a.txt")] ^= 0xff

	r, err := NewReaderFromBytes(corrupted)
	if err != nil {
		t.Fatalf("NewReaderFromBytes: %v", err)
	}
	defer func() { _ = r.Close() }()

	if _, err := r.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}

	buf := make([]byte, 16)
	var readErr error
	for readErr == nil {
		_, readErr = r.Read(buf)
	}
	if !errors.Is(readErr, ErrHeader) {
		t.Fatalf("read err=%v, want ErrHeader for the crc mismatch", readErr)
	}
}

func TestZipDOSTimeConversion(t *testing.T) {
	t.Parallel()

	// Pre-DOS-epoch timestamps collapse to 1980-01-01.
	date, tim := zipTimeToDOS(time.Unix(0, 0))
	if got := zipTimeFromDOS(date, tim); got.Year() != 1980 {
		t.Fatalf("pre-epoch mapped to %v", got)
	}

	// DOS time has two-second granularity.
	want := time.Date(2023, 5, 10, 12, 30, 42, 0, time.Local)
	if got := zipTimeFromDOS(zipTimeToDOS(want)); !got.Equal(want) {
		t.Fatalf("round trip=%v, want %v", got, want)
	}

	if !zipTimeFromDOS(0, 0).IsZero() {
		t.Fatal("zero date should map to the zero time")
	}
}

func TestZipSizeLimitWithoutZip64(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := NewWriter(&buf, WriterOptions{Format: FormatZip})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	err = w.WriteHeader(&Entry{Path: "huge.bin", Type: TypeRegular, Mode: 0o644, Size: zipMax32 + 1})
	if !errors.Is(err, ErrHeader) {
		t.Fatalf("WriteHeader err=%v, want ErrHeader", err)
	}
	_ = w.Close()
}

func TestZipUnicodeNameFlag(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, WriterOptions{Format: FormatZip},
		[]archiveEntry{{entry: Entry{Path: "данные.txt", Type: TypeRegular, Mode: 0o644}, data: "utf8"}})

	entries, err := ListFromBytes(data)
	if err != nil {
		t.Fatalf("ListFromBytes: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "данные.txt" {
		t.Fatalf("entries=%v", entries)
	}
}
