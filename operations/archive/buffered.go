package archive

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"context"
	"fmt"
	"io"
)

// BufferedStrategy assembles the complete archive in memory and produces a
// single blob.
type BufferedStrategy struct {
	// The DEFLATE level used for entries. Zero means the default
	// (moderate) compression level.
	Level int
}

// Finalize compresses every entry in to an in-memory ZIP archive. A
// zero-byte result is rejected.
func (s *BufferedStrategy) Finalize(ctx context.Context, entries []*Entry) (*Result, error) {

	var buf bytes.Buffer

	err := writeZip(ctx, &buf, entries, s.Level)

	if err != nil {
		return nil, err
	}

	if buf.Len() == 0 {
		return nil, fmt.Errorf("Archive generation resulted in a 0-byte file")
	}

	return &Result{
		Body: buf.Bytes(),
		Size: int64(buf.Len()),
	}, nil
}

// writeZip encodes entries as a ZIP stream on w. Entries are written in the
// order they completed; consumers must not assume any ordering.
func writeZip(ctx context.Context, w io.Writer, entries []*Entry, level int) error {

	if level == 0 {
		level = flate.DefaultCompression
	}

	zw := zip.NewWriter(w)

	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	for _, e := range entries {

		select {
		case <-ctx.Done():
			zw.Close()
			return ctx.Err()
		default:
			// pass
		}

		entry_w, err := zw.Create(e.Path)

		if err != nil {
			zw.Close()
			return fmt.Errorf("Failed to create archive entry for '%s', %w", e.Path, err)
		}

		_, err = entry_w.Write(e.Body)

		if err != nil {
			zw.Close()
			return fmt.Errorf("Failed to write archive entry for '%s', %w", e.Path, err)
		}
	}

	err := zw.Close()

	if err != nil {
		return fmt.Errorf("Failed to finalize archive, %w", err)
	}

	return nil
}
