// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"fmt"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizePath(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 300)
	h := fnv.New32a()
	_, _ = h.Write([]byte(long))
	shortened := long[:240-9] + fmt.Sprintf("~%08x", h.Sum32())

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "dir/file.txt", "dir/file.txt"},
		{"backslashes", `dir\sub\file.txt`, "dir/sub/file.txt"},
		{"reserved device", "CON.txt", "_CON.txt"},
		{"reserved nested", "logs/aux", "logs/_aux"},
		{"reserved lowercase", "nul", "_nul"},
		{"unsafe runes", `a<b>:c".txt`, "a_b__c_.txt"},
		{"control chars", "a\x01b.txt", "a_b.txt"},
		{"trailing dots and spaces", "name... ", "name"},
		{"dotdot dropped", "../../etc/passwd", "etc/passwd"},
		{"dot segments dropped", "./a/./b", "a/b"},
		{"only dots", "..", ""},
		{"empty segments", "a//b", "a/b"},
		{"guid suffix", "docs.{12345678-1234-1234-1234-123456789abc}",
			"docs_{12345678-1234-1234-1234-123456789abc}"},
		{"long segment", long, shortened},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := SanitizePath(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSanitizePathEmpty(t *testing.T) {
	t.Parallel()

	got, err := SanitizePath("")
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestSanitizeNamerUniqueness(t *testing.T) {
	t.Parallel()

	n := newSanitizeNamer()

	first, err := n.rewrite("dir/report.txt")
	require.NoError(t, err)
	require.Equal(t, "dir/report.txt", first)

	second, err := n.rewrite("dir/report.txt")
	require.NoError(t, err)
	require.Equal(t, "dir/report~2.txt", second)

	third, err := n.rewrite("dir/report.txt")
	require.NoError(t, err)
	require.Equal(t, "dir/report~3.txt", third)

	// Case-insensitive collision with an earlier name.
	upper, err := n.rewrite("DIR/REPORT.TXT")
	require.NoError(t, err)
	require.Equal(t, "DIR/REPORT~4.TXT", upper)
}

func TestSanitizeNamerCollapsedSanitizedNames(t *testing.T) {
	t.Parallel()

	n := newSanitizeNamer()

	// Both inputs sanitize to the same name, so the second gets a suffix.
	first, err := n.rewrite("a<1>.txt")
	require.NoError(t, err)
	require.Equal(t, "a_1_.txt", first)

	second, err := n.rewrite("a:1*.txt")
	require.NoError(t, err)
	require.Equal(t, "a_1_~2.txt", second)
}
