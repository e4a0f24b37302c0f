// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/woozymasta/pathrules"
)

// extractCopyBufferSize defines the buffer size for file copy during extraction.
const extractCopyBufferSize = 64 * 1024

// pendingLink is a hard link deferred until its target has been extracted.
type pendingLink struct {
	outPath    string
	targetPath string
}

// deferredDir carries directory metadata applied after all children exist,
// so child creation cannot clobber restored times.
type deferredDir struct {
	path    string
	mode    fs.FileMode
	modTime time.Time
}

// selectMatcher holds compiled path selection rules.
type selectMatcher struct {
	matcher *pathrules.Matcher
}

// newSelectMatcher compiles extraction selection rules. No rules means no
// matcher: everything is selected.
func newSelectMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*selectMatcher, error) {
	rules = normalizeSelectRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidSelectPattern, err)
	}

	return &selectMatcher{matcher: matcher}, nil
}

// normalizeSelectRules normalizes rule patterns and drops empty patterns.
func normalizeSelectRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := normalizePathForMatching(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

// match reports whether an entry path is selected for extraction.
func (m *selectMatcher) match(path string, isDir bool) bool {
	if m == nil || m.matcher == nil {
		return true
	}

	candidate := NormalizePath(path)
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, isDir)
}

// ExtractFile opens an archive file and extracts it into dstDir.
func ExtractFile(ctx context.Context, archivePath, dstDir string, opts ExtractOptions) error {
	r, err := Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	return Extract(ctx, r, dstDir, opts)
}

// Extract materializes the remaining entries of the read session under
// dstDir. The zero option value is the safe default: traversal segments,
// absolute paths and symlink targets escaping dstDir are rejected, unless
// dstDir is the filesystem root, where containment is meaningless and the
// checks are implicitly disabled. Fifo, device and socket entries are
// skipped. The session is consumed; Extract reads it to the end.
func Extract(ctx context.Context, r *Reader, dstDir string, opts ExtractOptions) error {
	if r == nil {
		return ErrNilReader
	}

	opts.applyDefaults()
	matcher, err := newSelectMatcher(opts.Select, opts.SelectMatcherOptions)
	if err != nil {
		return err
	}

	dstRootAbs, err := filepath.Abs(dstDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(dstRootAbs, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	flags := opts.Flags
	if dstRootAbs == filepath.Dir(dstRootAbs) {
		flags |= ExtractAllowDotDot | ExtractAllowAbsolute | ExtractAllowLinkEscape
	}

	ex := &extractor{
		root:    dstRootAbs,
		flags:   flags,
		onDone:  opts.OnEntryDone,
		copyBuf: make([]byte, extractCopyBufferSize),
	}
	if opts.SanitizeNames {
		ex.namer = newSanitizeNamer()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e, err := r.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return err
		}

		if !matcher.match(e.Path, e.IsDir()) {
			continue
		}

		if err := ex.writeEntry(r, e); err != nil {
			return err
		}
	}

	if err := ex.resolveHardlinks(); err != nil {
		return err
	}

	return ex.finalizeDirs()
}

// extractor tracks per-run extraction state.
type extractor struct {
	root    string
	flags   ExtractFlag
	onDone  func(entry Entry, written int64, outputPath string)
	copyBuf []byte
	links   []pendingLink
	dirs    []deferredDir
	namer   *sanitizeNamer
}

// writeEntry materializes one entry on disk.
func (ex *extractor) writeEntry(r *Reader, e *Entry) error {
	entryPath := e.Path
	if ex.namer != nil {
		var err error
		entryPath, err = ex.namer.rewrite(entryPath)
		if err != nil {
			return err
		}
	}

	outPath, err := ex.resolvePath(entryPath)
	if err != nil {
		return err
	}

	var written int64
	switch e.Type {
	case TypeDirectory:
		if err := os.MkdirAll(outPath, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", e.Path, err)
		}
		ex.dirs = append(ex.dirs, deferredDir{
			path:    outPath,
			mode:    e.Mode,
			modTime: e.ModTime,
		})

	case TypeRegular:
		written, err = ex.writeFile(r, e, outPath)
		if err != nil {
			return err
		}

	case TypeSymlink:
		if err := ex.writeSymlink(e, outPath); err != nil {
			return err
		}

	case TypeHardlink:
		target, err := ex.resolvePath(e.Linkname)
		if err != nil {
			return err
		}
		ex.links = append(ex.links, pendingLink{outPath: outPath, targetPath: target})

		// Link creation and the done callback run after the full scan.
		return nil

	default:
		// Fifo, device and socket nodes are not materialized.
		return nil
	}

	if ex.onDone != nil {
		ex.onDone(*e.clone(), written, outPath)
	}

	return nil
}

// resolvePath maps an archive path to a destination path, enforcing the
// traversal and absolute-path policies.
func (ex *extractor) resolvePath(entryPath string) (string, error) {
	raw := strings.TrimSpace(entryPath)
	if raw == "" || strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidExtractPath, entryPath)
	}

	raw = strings.ReplaceAll(raw, `\`, `/`)
	absolute := strings.HasPrefix(raw, "/") || hasWindowsAbsDrivePrefix(raw)
	if absolute {
		if ex.flags&ExtractAllowAbsolute == 0 {
			return "", fmt.Errorf("%w: absolute path %q", ErrInvalidExtractPath, entryPath)
		}

		return filepath.Clean(filepath.FromSlash(raw)), nil
	}

	hasDotDot := false
	for _, part := range strings.Split(raw, "/") {
		if part == ".." {
			hasDotDot = true
			break
		}
	}
	if hasDotDot && ex.flags&ExtractAllowDotDot == 0 {
		return "", fmt.Errorf("%w: traversal segment in %q", ErrInvalidExtractPath, entryPath)
	}

	out := filepath.Join(ex.root, filepath.FromSlash(raw))
	if !ex.contained(out) && ex.flags&ExtractAllowDotDot == 0 {
		return "", fmt.Errorf("%w: %q resolves outside the destination",
			ErrExtractPathOutsideRoot, entryPath)
	}

	return out, nil
}

// contained reports whether p sits under the destination root, lexically.
func (ex *extractor) contained(p string) bool {
	rel, err := filepath.Rel(ex.root, p)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// writeFile copies one regular entry payload to disk and restores its
// metadata per the extraction flags.
func (ex *extractor) writeFile(r *Reader, e *Entry, outPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return 0, fmt.Errorf("create parent directory for %s: %w", e.Path, err)
	}

	openFlags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if ex.flags&ExtractNoOverwrite != 0 {
		openFlags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	f, err := os.OpenFile(outPath, openFlags, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", e.Path, err)
	}

	written, copyErr := copyEntryData(f, r, ex.copyBuf)
	closeErr := f.Close()
	if copyErr != nil {
		return written, fmt.Errorf("write %s: %w", e.Path, copyErr)
	}
	if closeErr != nil {
		return written, fmt.Errorf("close %s: %w", e.Path, closeErr)
	}

	if ex.flags&ExtractNoPerm == 0 {
		mode := e.Mode
		if mode == 0 {
			mode = 0o644
		}
		if err := os.Chmod(outPath, mode); err != nil {
			return written, fmt.Errorf("chmod %s: %w", e.Path, err)
		}
	}
	if ex.flags&ExtractNoTime == 0 && !e.ModTime.IsZero() {
		atime := e.AccessTime
		if atime.IsZero() {
			atime = e.ModTime
		}
		if err := os.Chtimes(outPath, atime, e.ModTime); err != nil {
			return written, fmt.Errorf("restore times for %s: %w", e.Path, err)
		}
	}

	return written, nil
}

// writeSymlink creates one symlink, enforcing the escape policy on its
// target.
func (ex *extractor) writeSymlink(e *Entry, outPath string) error {
	if ex.flags&ExtractAllowLinkEscape == 0 {
		target := e.Linkname
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(outPath), filepath.FromSlash(target))
		}
		if !ex.contained(target) {
			return fmt.Errorf("%w: symlink %q targets %q outside the destination",
				ErrExtractPathOutsideRoot, e.Path, e.Linkname)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("create parent directory for %s: %w", e.Path, err)
	}
	if ex.flags&ExtractNoOverwrite == 0 {
		_ = os.Remove(outPath)
	}
	if err := os.Symlink(filepath.FromSlash(e.Linkname), outPath); err != nil {
		return fmt.Errorf("create symlink %s: %w", e.Path, err)
	}

	return nil
}

// resolveHardlinks creates hard links once their targets exist.
func (ex *extractor) resolveHardlinks() error {
	for _, link := range ex.links {
		if err := os.MkdirAll(filepath.Dir(link.outPath), 0o750); err != nil {
			return fmt.Errorf("create parent directory for %s: %w", link.outPath, err)
		}
		if ex.flags&ExtractNoOverwrite == 0 {
			_ = os.Remove(link.outPath)
		}
		if err := os.Link(link.targetPath, link.outPath); err != nil {
			return fmt.Errorf("create hard link %s: %w", link.outPath, err)
		}
	}

	return nil
}

// finalizeDirs restores directory metadata deepest-first so restored times
// survive child creation.
func (ex *extractor) finalizeDirs() error {
	sort.Slice(ex.dirs, func(i, j int) bool {
		return len(ex.dirs[i].path) > len(ex.dirs[j].path)
	})

	for _, d := range ex.dirs {
		if ex.flags&ExtractNoPerm == 0 {
			mode := d.mode
			if mode == 0 {
				mode = 0o755
			}
			if err := os.Chmod(d.path, mode); err != nil {
				return fmt.Errorf("chmod %s: %w", d.path, err)
			}
		}
		if ex.flags&ExtractNoTime == 0 && !d.modTime.IsZero() {
			if err := os.Chtimes(d.path, d.modTime, d.modTime); err != nil {
				return fmt.Errorf("restore times for %s: %w", d.path, err)
			}
		}
	}

	return nil
}

// copyEntryData copies one entry stream to the output file using a fixed
// buffer.
func copyEntryData(dst *os.File, src io.Reader, buf []byte) (int64, error) {
	if len(buf) == 0 {
		return 0, io.ErrShortBuffer
	}

	var total int64
	for {
		readN, readErr := src.Read(buf)
		if readN > 0 {
			writeN, writeErr := dst.Write(buf[:readN])
			total += int64(writeN)

			if writeErr != nil {
				return total, writeErr
			}
			if writeN != readN {
				return total, io.ErrShortWrite
			}
		}

		if readErr == nil {
			continue
		}
		if readErr == io.EOF {
			return total, nil
		}

		return total, readErr
	}
}

// hasWindowsAbsDrivePrefix reports whether path starts with a drive-root
// prefix like C:/.
func hasWindowsAbsDrivePrefix(path string) bool {
	if len(path) < 3 {
		return false
	}

	return isASCIIAlpha(path[0]) && path[1] == ':' && path[2] == '/'
}

// isASCIIAlpha reports whether byte is an ASCII latin letter.
func isASCIIAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
