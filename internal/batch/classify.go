package batch

import (
	"path"
	"slices"
	"strings"
)

// Kind is how an item is interpreted.
type Kind int

const (
	// KindSkip items are ignored: neither fixed nor reported as errors.
	KindSkip Kind = iota
	// KindDICOM items are decoded as DICOM files.
	KindDICOM
	// KindRaw items are raw pixel buffers using the batch geometry.
	KindRaw
	// KindImage items are grayscale PNG/TIFF/BMP images.
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindDICOM:
		return "dicom"
	case KindRaw:
		return "raw"
	case KindImage:
		return "image"
	default:
		return "skip"
	}
}

// Classifier maps item names to kinds by extension. An empty string in
// DICOM matches names without an extension.
type Classifier struct {
	DICOM []string
	Raw   []string
	Image []string
}

// DefaultClassifier accepts the usual DICOM, raw and image extensions.
func DefaultClassifier() Classifier {
	return Classifier{
		DICOM: []string{".dcm", ".dicom", ""},
		Raw:   []string{".raw", ".bin"},
		Image: []string{".png", ".tif", ".tiff", ".bmp"},
	}
}

// Classify returns the kind of the item called name.
func (c Classifier) Classify(name string) Kind {
	name = strings.ToLower(name)
	if strings.HasSuffix(name, "/") || strings.HasPrefix(name, "__macosx/") {
		return KindSkip
	}
	base := path.Base(name)
	if strings.HasPrefix(base, ".") {
		return KindSkip
	}

	ext := path.Ext(base)
	switch {
	case slices.Contains(c.DICOM, ext):
		return KindDICOM
	case slices.Contains(c.Raw, ext):
		return KindRaw
	case slices.Contains(c.Image, ext):
		return KindImage
	}
	return KindSkip
}
