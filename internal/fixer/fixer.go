// Package fixer turns one input (a raw pixel buffer, a decoded image or a
// partial record) into one conformant image record.
package fixer

import (
	"errors"

	"github.com/mrsinham/dicomfix/internal/geometry"
	"github.com/mrsinham/dicomfix/internal/imaging"
	"github.com/mrsinham/dicomfix/internal/normalize"
	"github.com/mrsinham/dicomfix/internal/record"
)

// Params declares the geometry of a raw pixel buffer.
type Params struct {
	Rows     int
	Cols     int
	BitDepth int
}

// Fixer repairs single items.
type Fixer struct {
	norm *normalize.Normalizer
}

// New returns a Fixer using norm, or a standard Normalizer when norm is nil.
func New(norm *normalize.Normalizer) *Fixer {
	if norm == nil {
		norm = normalize.New()
	}
	return &Fixer{norm: norm}
}

// FixRaw validates pixels against params and wraps them into a complete
// record. On a geometry failure no normalization happens and a
// *ValidationError wrapping the geometry error is returned.
func (f *Fixer) FixRaw(pixels []byte, params Params, sc *record.StudyContext) (record.ImageRecord, error) {
	if err := geometry.Validate(pixels, params.Rows, params.Cols, params.BitDepth); err != nil {
		return record.ImageRecord{}, &ValidationError{Err: err}
	}

	p := record.Partial{
		Rows:                record.Ptr(params.Rows),
		Columns:             record.Ptr(params.Cols),
		BitsAllocated:       record.Ptr(params.BitDepth),
		BitsStored:          record.Ptr(params.BitDepth),
		HighBit:             record.Ptr(params.BitDepth - 1),
		PixelRepresentation: record.Ptr(0),
		SamplesPerPixel:     record.Ptr(1),
		PixelData:           pixels,
	}
	return f.normalize(p, sc)
}

// FixRecord completes an already-decoded record. Geometry is assumed
// consistent and is not checked.
func (f *Fixer) FixRecord(p record.Partial, sc *record.StudyContext) (record.ImageRecord, error) {
	return f.normalize(p, sc)
}

// FixImage fixes a decoded grayscale image.
func (f *Fixer) FixImage(img *imaging.Raw, sc *record.StudyContext) (record.ImageRecord, error) {
	return f.FixRaw(img.Pixels, Params{Rows: img.Rows, Cols: img.Cols, BitDepth: img.BitDepth}, sc)
}

func (f *Fixer) normalize(p record.Partial, sc *record.StudyContext) (record.ImageRecord, error) {
	rec, err := f.norm.Normalize(p, sc)
	if err != nil {
		var missing *record.MissingFieldsError
		if errors.As(err, &missing) {
			return record.ImageRecord{}, &ValidationError{Err: err}
		}
		return record.ImageRecord{}, &InternalError{Op: "normalize", Err: err}
	}
	return rec, nil
}
