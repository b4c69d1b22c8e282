package volume

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mrsinham/dicomfix/internal/fixer"
	"github.com/mrsinham/dicomfix/internal/record"
)

// PositionMode selects how per-slice geometry is derived from the affine.
type PositionMode string

const (
	// AxisAligned takes the affine translation and steps one unit along z per
	// slice, ignoring rotation and voxel size.
	AxisAligned PositionMode = "axis-aligned"
	// AffineMode maps each slice origin through the full affine, converts it
	// from RAS to LPS and derives orientation, pixel spacing and slice
	// thickness from the affine's columns.
	AffineMode PositionMode = "affine"
)

// ParsePositionMode accepts "axis-aligned" (or "") and "affine".
func ParsePositionMode(s string) (PositionMode, error) {
	switch PositionMode(s) {
	case "", AxisAligned:
		return AxisAligned, nil
	case AffineMode:
		return AffineMode, nil
	}
	return "", fmt.Errorf("unknown position mode %q (want %q or %q)", s, AxisAligned, AffineMode)
}

// Slicer turns volumes into series of 2-D records.
type Slicer struct {
	Fixer *fixer.Fixer
	Mode  PositionMode
	// NewUID generates the study and series identifiers of each call.
	NewUID func() string
}

// NewSlicer returns an axis-aligned Slicer using f, or a standard Fixer when f is nil.
func NewSlicer(f *fixer.Fixer) *Slicer {
	if f == nil {
		f = fixer.New(nil)
	}
	return &Slicer{Fixer: f, Mode: AxisAligned}
}

// Slice returns one record per slice, in slice order.
func (s *Slicer) Slice(v *Volume, affine Affine) ([]record.ImageRecord, error) {
	out := make([]record.ImageRecord, 0, v.Slices)
	err := s.Each(v, affine, func(_ int, rec record.ImageRecord) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Each builds slice records one at a time and hands them to fn in increasing
// index order. All records of one call share a study context. Iteration stops
// at the first error from fn.
func (s *Slicer) Each(v *Volume, affine Affine, fn func(i int, rec record.ImageRecord) error) error {
	if err := v.Validate(); err != nil {
		return &fixer.ValidationError{Err: err}
	}
	f := s.Fixer
	if f == nil {
		f = fixer.New(nil)
	}

	sc := record.NewStudyContext(s.NewUID)
	for i := 0; i < v.Slices; i++ {
		p := s.partial(v, affine, i)
		rec, err := f.FixRecord(p, sc)
		if err != nil {
			return fmt.Errorf("slice %d: %w", i, err)
		}
		if err := fn(i, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Slicer) partial(v *Volume, a Affine, i int) record.Partial {
	p := record.Partial{
		Rows:                record.Ptr(v.Rows),
		Columns:             record.Ptr(v.Cols),
		BitsAllocated:       record.Ptr(16),
		BitsStored:          record.Ptr(16),
		HighBit:             record.Ptr(15),
		PixelRepresentation: record.Ptr(1),
		SamplesPerPixel:     record.Ptr(1),
		InstanceNumber:      record.Ptr(i + 1),
		PixelData:           slicePixels(v, i),
	}

	if s.Mode != AffineMode {
		p.ImagePositionPatient = &[3]float64{a[0][3], a[1][3], a[2][3] + float64(i)}
		return p
	}

	pos := toLPS(a.Apply(0, 0, float64(i)))
	p.ImagePositionPatient = &pos

	// Moving along a pixel row steps the second voxel axis; moving down a
	// column steps the first.
	rowDir, colDir := toLPS(a.column(1)), toLPS(a.column(0))
	rowSpacing, colSpacing := norm(colDir), norm(rowDir)
	if rowSpacing > 0 && colSpacing > 0 {
		p.ImageOrientationPatient = &[6]float64{
			rowDir[0] / colSpacing, rowDir[1] / colSpacing, rowDir[2] / colSpacing,
			colDir[0] / rowSpacing, colDir[1] / rowSpacing, colDir[2] / rowSpacing,
		}
		p.PixelSpacing = &[2]float64{rowSpacing, colSpacing}
	}
	if t := norm(a.column(2)); t > 0 {
		p.SliceThickness = record.Ptr(t)
	}
	return p
}

// toLPS maps a NIfTI (RAS+) world vector to DICOM patient (LPS+) space.
func toLPS(v [3]float64) [3]float64 {
	return [3]float64{-v[0], -v[1], v[2]}
}

// slicePixels encodes slice i row-major as little-endian int16.
func slicePixels(v *Volume, i int) []byte {
	out := make([]byte, 0, v.Rows*v.Cols*2)
	for r := 0; r < v.Rows; r++ {
		for c := 0; c < v.Cols; c++ {
			out = binary.LittleEndian.AppendUint16(out, uint16(toInt16(v.At(r, c, i))))
		}
	}
	return out
}

// toInt16 truncates toward zero and clamps to the int16 range. NaN becomes 0.
func toInt16(f float32) int16 {
	switch {
	case math.IsNaN(float64(f)):
		return 0
	case f >= math.MaxInt16:
		return math.MaxInt16
	case f <= math.MinInt16:
		return math.MinInt16
	}
	return int16(f)
}
