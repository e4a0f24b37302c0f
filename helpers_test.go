// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/woozymasta/pathrules"
)

// archiveEntry pairs an entry header with its payload for concise fixtures.
type archiveEntry struct {
	entry Entry
	data  string
}

// buildArchive writes the given entries into an in-memory archive.
func buildArchive(t *testing.T, opts WriterOptions, entries []archiveEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := NewWriter(&buf, opts)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	for i := range entries {
		e := entries[i].entry
		if e.Type == TypeRegular {
			e.Size = int64(len(entries[i].data))
		}
		if err := w.WriteHeader(&e); err != nil {
			t.Fatalf("WriteHeader %s: %v", e.Path, err)
		}
		if e.Type == TypeRegular && len(entries[i].data) > 0 {
			if _, err := io.WriteString(w, entries[i].data); err != nil {
				t.Fatalf("write payload %s: %v", e.Path, err)
			}
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	return buf.Bytes()
}

// decodedEntry is one entry read back from an archive under test.
type decodedEntry struct {
	entry Entry
	data  string
}

// drainEntries reads a session to the end, collecting headers and payloads.
func drainEntries(t *testing.T, r *Reader) []decodedEntry {
	t.Helper()

	var out []decodedEntry
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}

		data, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("read payload %s: %v", e.Path, err)
		}

		out = append(out, decodedEntry{entry: *e, data: string(data)})
	}
}

// entryByPath finds one decoded entry or fails the test.
func entryByPath(t *testing.T, entries []decodedEntry, path string) decodedEntry {
	t.Helper()

	for _, de := range entries {
		if de.entry.Path == path {
			return de
		}
	}

	t.Fatalf("entry %q not found in archive", path)

	return decodedEntry{}
}

// includeRules builds include rules from raw patterns for concise test setup.
func includeRules(patterns ...string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		rules = append(rules, pathrules.Rule{
			Action:  pathrules.ActionInclude,
			Pattern: pattern,
		})
	}

	return rules
}

// repeatedPayload builds compressible payload of the given size.
func repeatedPayload(n int) string {
	const chunk = "the quick brown fox jumps over the lazy dog 0123456789\n"

	var sb strings.Builder
	sb.Grow(n + len(chunk))
	for sb.Len() < n {
		sb.WriteString(chunk)
	}

	return sb.String()[:n]
}
