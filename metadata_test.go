// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestListFromBytes(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, WriterOptions{Format: FormatPax}, []archiveEntry{
		{entry: Entry{Path: "docs", Type: TypeDirectory, Mode: 0o755}},
		{entry: Entry{Path: "docs/readme.md", Type: TypeRegular, Mode: 0o644}, data: "hello"},
		{entry: Entry{Path: "docs/link", Type: TypeSymlink, Linkname: "readme.md", Mode: 0o777}},
	})

	entries, err := ListFromBytes(data)
	if err != nil {
		t.Fatalf("ListFromBytes: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[1].Path != "docs/readme.md" || entries[1].Size != 5 {
		t.Fatalf("unexpected file entry: %+v", entries[1])
	}
	if entries[2].Linkname != "readme.md" {
		t.Fatalf("unexpected linkname %q", entries[2].Linkname)
	}
}

func TestListFile(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "list.tar.gz")
	w, err := Create(archivePath, WriterOptions{
		Format:  FormatUstar,
		Filters: []FilterSpec{{Kind: FilterGzip}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteHeader(&Entry{Path: "a.txt", Type: TypeRegular, Mode: 0o644, Size: 3}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := List(archivePath)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "a.txt" || entries[0].Size != 3 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestListWithPinnedOptions(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "pinned.tar")
	w, err := Create(archivePath, WriterOptions{Format: FormatPax})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteHeader(&Entry{Path: "b.txt", Type: TypeRegular, Mode: 0o644, Size: 1}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := w.Write([]byte("b")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := ListWithOptions(archivePath, ReaderOptions{
		Format:  FormatPax,
		Filters: []FilterSpec{},
	})
	if err != nil {
		t.Fatalf("ListWithOptions: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "b.txt" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	// Pinning the wrong container surfaces a header error, not a guess.
	if _, err := ListWithOptions(archivePath, ReaderOptions{Format: FormatZip}); !errors.Is(err, ErrHeader) {
		t.Fatalf("expected ErrHeader for pinned zip over tar data, got %v", err)
	}
}

func TestListMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := List(filepath.Join(t.TempDir(), "absent.tar")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
