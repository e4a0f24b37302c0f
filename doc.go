// SPDX-License-Identifier: MIT
// Copyright (c) 2026 Arcpack
// Source: github.com/arcpack/arc

/*
Package arc provides streaming read, write, list, and extract operations
for tar and zip archives with a pluggable compression filter pipeline.
It is designed for streaming workflows: reading decodes one entry at a
time without loading the archive into memory, and writing accepts entry
payloads incrementally through io.Writer semantics.

Format and filter model (summary):
  - a container format (tar dialects, zip) holds the entry stream;
  - zero or more filters (gzip, bzip2, xz, lzma, zstd, lz4, compress)
    wrap the container as a whole, outermost first;
  - on read both the format and the filter chain are detected from
    magic bytes unless pinned via ReaderOptions;
  - on write the format is mandatory and filters are applied in the
    order given in WriterOptions.Filters.

# Reading

Open an archive and walk its entries:

	r, err := arc.Open("dump.tar.gz")
	if err != nil {
	    return err
	}
	defer r.Close()
	for {
	    e, err := r.Next()
	    if err == io.EOF {
	        break
	    }
	    if err != nil {
	        return err
	    }
	    data, err := io.ReadAll(r)
	    if err != nil {
	        return err
	    }
	    _, _ = e, data
	}

For metadata-only scans, use the listing helpers:

	entries, err := arc.List("dump.tar.gz")
	if err != nil {
	    return err
	}
	_ = entries

To pin the format and filters instead of auto-detecting:

	r, err := arc.OpenWithOptions("payload.bin", arc.ReaderOptions{
	    Format:  arc.FormatPax,
	    Filters: []arc.FilterSpec{{Kind: arc.FilterZstd}},
	})

Sparse tar entries are materialized on Read: holes come back as runs of
zero bytes. ReadBlock exposes only the stored segments together with
their logical offsets.

# Writing

Create an archive and stream entries into it:

	w, err := arc.Create("out.tar.zst", arc.WriterOptions{
	    Format:  arc.FormatPax,
	    Filters: []arc.FilterSpec{{Kind: arc.FilterZstd}},
	})
	if err != nil {
	    return err
	}
	defer w.Close()
	if err := w.WriteHeader(&arc.Entry{
	    Path: "hello.txt",
	    Type: arc.TypeRegular,
	    Size: 5,
	    Mode: 0o644,
	}); err != nil {
	    return err
	}
	if _, err := w.Write([]byte("hello")); err != nil {
	    return err
	}

Regular entries must declare Size up front and the written byte count is
enforced: both over- and under-runs surface as ErrSizeMismatch.

# Extracting

Extract all entries of an open reader to a directory:

	if err := arc.Extract(ctx, r, "out/", arc.ExtractOptions{}); err != nil {
	    return err
	}

Extraction rejects path traversal, absolute paths, and symlinks that
escape the destination root unless the corresponding Allow flag is set.
Select rules narrow the extracted set; examples below use
github.com/woozymasta/pathrules semantics:

	err := arc.ExtractFile(ctx, "dump.tar.gz", "out/", arc.ExtractOptions{
	    Select: []pathrules.Rule{
	        {Action: pathrules.ActionInclude, Pattern: "etc/**"},
	    },
	    SelectMatcherOptions: pathrules.MatcherOptions{
	        DefaultAction: pathrules.ActionExclude,
	    },
	    OnEntryDone: func(e arc.Entry, written int64, outPath string) {
	        // progress callback per extracted entry
	    },
	})

For archives with hostile or filesystem-unsafe names, enable rewriting:

	err := arc.ExtractFile(ctx, "dump.zip", "out/", arc.ExtractOptions{
	    SanitizeNames: true,
	})

# Sources and sinks

Readers and writers are constructed over files (Open, Create), in-memory
buffers (NewReaderFromBytes, NewWriter with a bytes sink), inherited
descriptors (NewReaderFromFD, NewWriterToFD), or caller callbacks
(NewReaderFromCallbacks, NewWriterToCallbacks). Random-access features,
central-directory zip reading and zip local header backfill, activate
only when the source or sink supports them; every constructor degrades
to pure streaming otherwise.
*/
package arc
