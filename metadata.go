// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

package arc

import (
	"errors"
	"io"
)

// List opens an archive file and returns entry metadata without reading
// payload bytes.
func List(path string) ([]Entry, error) {
	return ListWithOptions(path, ReaderOptions{})
}

// ListWithOptions opens an archive file and returns entry metadata without
// reading payload bytes, using explicit reader options.
func ListWithOptions(path string, opts ReaderOptions) ([]Entry, error) {
	r, err := OpenWithOptions(path, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return listEntries(r)
}

// ListFromBytes returns entry metadata of an in-memory archive.
func ListFromBytes(data []byte) ([]Entry, error) {
	r, err := NewReaderFromBytes(data)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return listEntries(r)
}

// listEntries walks a session to the end collecting entry headers.
func listEntries(r *Reader) ([]Entry, error) {
	var out []Entry
	for {
		e, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}

			return nil, err
		}

		out = append(out, *e.clone())
	}
}
