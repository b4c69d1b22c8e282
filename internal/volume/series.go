package volume

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mrsinham/dicomfix/internal/archive"
	"github.com/mrsinham/dicomfix/internal/fixer"
	"github.com/mrsinham/dicomfix/internal/record"
)

// Encoder serializes a complete record.
type Encoder interface {
	Encode(rec record.ImageRecord) ([]byte, error)
}

// SeriesBase names the slices of a volume read from source: directories and
// the .nii or .nii.gz suffix are stripped, and an empty result becomes "slice".
func SeriesBase(source string) string {
	base := path.Base(strings.ReplaceAll(source, `\`, "/"))
	lower := strings.ToLower(base)
	for _, ext := range []string{".nii.gz", ".nii"} {
		if strings.HasSuffix(lower, ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}
	if base == "" || base == "." || base == "/" {
		return "slice"
	}
	return base
}

// SliceName is the archive entry of slice i (zero-based).
func SliceName(base string, i int) string {
	return fmt.Sprintf("%s_%04d.dcm", base, i+1)
}

// WriteZIP slices v, encodes each slice with enc and writes the series to w
// as a ZIP archive named after source. It returns the number of slices
// written, which is short of v.Slices only on error.
func (s *Slicer) WriteZIP(w io.Writer, v *Volume, affine Affine, enc Encoder, source string) (int, error) {
	zw := archive.NewWriter(w)
	base := SeriesBase(source)
	written := 0
	err := s.Each(v, affine, func(i int, rec record.ImageRecord) error {
		encoded, err := enc.Encode(rec)
		if err != nil {
			return err
		}
		if err := zw.Add(SliceName(base, i), encoded); err != nil {
			return &fixer.InternalError{Op: "write archive", Err: err}
		}
		written++
		return nil
	})
	if err != nil {
		return written, err
	}
	if err := zw.Close(); err != nil {
		return written, &fixer.InternalError{Op: "write archive", Err: err}
	}
	return written, nil
}
