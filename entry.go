// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// EntryType identifies the archive member kind.
type EntryType byte

// Archive member kinds.
const (
	// TypeRegular is a regular file.
	TypeRegular EntryType = iota
	// TypeDirectory is a directory.
	TypeDirectory
	// TypeSymlink is a symbolic link; Linkname holds the target.
	TypeSymlink
	// TypeHardlink is a hard link to an entry earlier or later in the archive.
	TypeHardlink
	// TypeFifo is a named pipe.
	TypeFifo
	// TypeCharDevice is a character device node.
	TypeCharDevice
	// TypeBlockDevice is a block device node.
	TypeBlockDevice
	// TypeSocket is a unix domain socket.
	TypeSocket
)

// String returns a short lowercase name for the entry type.
func (t EntryType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeHardlink:
		return "hardlink"
	case TypeFifo:
		return "fifo"
	case TypeCharDevice:
		return "char device"
	case TypeBlockDevice:
		return "block device"
	case TypeSocket:
		return "socket"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

// Entry describes one archive member. Entries are produced by the Reader
// during parsing or built by callers before handing them to the Writer.
// A zero time value means the timestamp is not set; formats that cannot
// store a given timestamp drop it on write.
type Entry struct {
	// ModTime is the modification time.
	ModTime time.Time `json:"mod_time,omitzero" yaml:"mod_time,omitempty"`
	// AccessTime is the last access time.
	AccessTime time.Time `json:"access_time,omitzero" yaml:"access_time,omitempty"`
	// ChangeTime is the inode change time.
	ChangeTime time.Time `json:"change_time,omitzero" yaml:"change_time,omitempty"`
	// BirthTime is the creation time.
	BirthTime time.Time `json:"birth_time,omitzero" yaml:"birth_time,omitempty"`
	// Xattrs maps extended attribute names to raw values.
	Xattrs map[string][]byte `json:"xattrs,omitempty" yaml:"xattrs,omitempty"`
	// Path is the archive-relative member path.
	Path string `json:"path" yaml:"path"`
	// Linkname is the symlink target or hardlink target path.
	Linkname string `json:"linkname,omitempty" yaml:"linkname,omitempty"`
	// Uname is the optional owner user name.
	Uname string `json:"uname,omitempty" yaml:"uname,omitempty"`
	// Gname is the optional owner group name.
	Gname string `json:"gname,omitempty" yaml:"gname,omitempty"`
	// Size is the payload size in bytes. Directories carry size 0.
	Size int64 `json:"size" yaml:"size"`
	// DevMajor is the device major number for device entries.
	DevMajor int64 `json:"dev_major,omitempty" yaml:"dev_major,omitempty"`
	// DevMinor is the device minor number for device entries.
	DevMinor int64 `json:"dev_minor,omitempty" yaml:"dev_minor,omitempty"`
	// Mode holds permission bits only; the kind lives in Type.
	Mode fs.FileMode `json:"mode" yaml:"mode"`
	// UID is the numeric owner id.
	UID int `json:"uid" yaml:"uid"`
	// GID is the numeric group id.
	GID int `json:"gid" yaml:"gid"`
	// Type is the member kind.
	Type EntryType `json:"type" yaml:"type"`
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Type == TypeDirectory
}

// isLink reports whether the entry references another path via Linkname.
func (e *Entry) isLink() bool {
	return e.Type == TypeSymlink || e.Type == TypeHardlink
}

// isDevice reports whether the entry is a device node.
func (e *Entry) isDevice() bool {
	return e.Type == TypeCharDevice || e.Type == TypeBlockDevice
}

// validate checks entry model invariants before serialization.
func (e *Entry) validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.Path) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidEntry)
	}
	if e.Size < 0 {
		return fmt.Errorf("%w: negative size %d for %s", ErrInvalidEntry, e.Size, e.Path)
	}
	if e.isLink() && e.Linkname == "" {
		return fmt.Errorf("%w: %s %s has empty link target", ErrInvalidEntry, e.Type, e.Path)
	}
	if e.Type != TypeDirectory && strings.HasSuffix(e.Path, "/") {
		return fmt.Errorf("%w: trailing slash on %s %s", ErrInvalidEntry, e.Type, e.Path)
	}
	if e.Type != TypeRegular && e.Type != TypeDirectory && e.Size != 0 {
		return fmt.Errorf("%w: %s %s declares payload size %d", ErrInvalidEntry, e.Type, e.Path, e.Size)
	}
	if e.IsDir() && e.Size != 0 {
		return fmt.Errorf("%w: directory %s declares payload size %d", ErrInvalidEntry, e.Path, e.Size)
	}

	return nil
}

// clone returns a deep copy so sessions never share entry state.
func (e *Entry) clone() *Entry {
	out := *e
	if e.Xattrs != nil {
		out.Xattrs = make(map[string][]byte, len(e.Xattrs))
		for k, v := range e.Xattrs {
			out.Xattrs[k] = append([]byte(nil), v...)
		}
	}

	return &out
}

// DataBlock is one contiguous fragment of an entry payload. Offset is the
// logical position inside the entry; sparse payloads leave zero-filled gaps
// between blocks. Data is only valid until the next ReadBlock call.
type DataBlock struct {
	// Data is the fragment content.
	Data []byte
	// Offset is the fragment's logical offset within the entry payload.
	Offset int64
}
