// Package archive reads and writes the ZIP containers used for batch input and output.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Entry is one named file of an archive.
type Entry struct {
	Name string
	Data []byte
}

// Error reports a container that cannot be read as a whole. It aborts the
// batch that carried it.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid archive: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid archive: %s", e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind returns the error's taxonomy kind.
func (e *Error) Kind() string {
	return "ArchiveError"
}

// ReadAll returns every file entry of the archive in central-directory order.
// Directories are skipped. limit caps the total uncompressed size (0 means no cap).
func ReadAll(r io.ReaderAt, size int64, limit int64) ([]Entry, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &Error{Reason: "cannot open", Err: err}
	}

	var (
		entries []Entry
		total   int64
	)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, err := cleanName(f.Name)
		if err != nil {
			return nil, err
		}

		data, err := readEntry(f, limit-total, limit > 0)
		if err != nil {
			return nil, err
		}
		total += int64(len(data))
		entries = append(entries, Entry{Name: name, Data: data})
	}
	return entries, nil
}

// ReadBytes is ReadAll over an in-memory archive.
func ReadBytes(data []byte, limit int64) ([]Entry, error) {
	return ReadAll(bytes.NewReader(data), int64(len(data)), limit)
}

func readEntry(f *zip.File, remaining int64, capped bool) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("cannot open entry %q", f.Name), Err: err}
	}
	defer func() { _ = rc.Close() }()

	var r io.Reader = rc
	if capped {
		r = io.LimitReader(rc, remaining+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("cannot read entry %q", f.Name), Err: err}
	}
	if capped && int64(len(data)) > remaining {
		return nil, &Error{Reason: "uncompressed content exceeds size limit"}
	}
	return data, nil
}

// cleanName rejects absolute paths and parent references.
func cleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", &Error{Reason: fmt.Sprintf("unsafe entry name %q", name)}
	}
	return clean, nil
}

// Writer streams entries into a new archive.
type Writer struct {
	zw *zip.Writer
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w)}
}

// Add writes one deflated entry.
func (w *Writer) Add(name string, data []byte) error {
	fw, err := w.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("create entry %q: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write entry %q: %w", name, err)
	}
	return nil
}

// Close finishes the archive. It does not close the underlying writer.
func (w *Writer) Close() error {
	return w.zw.Close()
}

// WriteAll writes entries as a complete archive.
func WriteAll(w io.Writer, entries []Entry) error {
	aw := NewWriter(w)
	for _, e := range entries {
		if err := aw.Add(e.Name, e.Data); err != nil {
			return err
		}
	}
	return aw.Close()
}
