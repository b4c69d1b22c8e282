// Package geometry checks raw pixel buffers against their declared image geometry.
package geometry

import "fmt"

// MaxDimension is the largest row or column count a DICOM US element holds.
const MaxDimension = 1<<16 - 1

// MaxBitDepth bounds the bits per sample, so ExpectedSize cannot overflow.
const MaxBitDepth = 64

// SizeMismatchError is returned when a pixel buffer does not hold exactly
// rows*cols*(bitDepth/8) bytes.
type SizeMismatchError struct {
	Expected int
	Actual   int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("pixel data size mismatch: expected %d bytes, got %d", e.Expected, e.Actual)
}

// UnsupportedBitDepthError is returned for bit depths that are not a positive
// multiple of 8 up to MaxBitDepth.
type UnsupportedBitDepthError struct {
	BitDepth int
}

func (e *UnsupportedBitDepthError) Error() string {
	return fmt.Sprintf("unsupported bit depth %d: must be a positive multiple of 8 up to %d", e.BitDepth, MaxBitDepth)
}

// InvalidDimensionsError is returned when rows or cols is not in [1, MaxDimension].
type InvalidDimensionsError struct {
	Rows int
	Cols int
}

func (e *InvalidDimensionsError) Error() string {
	return fmt.Sprintf("invalid image dimensions %dx%d: rows and columns must be between 1 and %d", e.Rows, e.Cols, MaxDimension)
}

// ExpectedSize returns the byte length of a single-sample image with the given
// geometry. Callers bound the arguments first; Validate does.
func ExpectedSize(rows, cols, bitDepth int) int {
	return rows * cols * (bitDepth / 8)
}

// Validate reports whether pixels is exactly as long as the declared geometry
// requires. It never panics on malformed input.
func Validate(pixels []byte, rows, cols, bitDepth int) error {
	if bitDepth <= 0 || bitDepth%8 != 0 || bitDepth > MaxBitDepth {
		return &UnsupportedBitDepthError{BitDepth: bitDepth}
	}
	if rows <= 0 || cols <= 0 || rows > MaxDimension || cols > MaxDimension {
		return &InvalidDimensionsError{Rows: rows, Cols: cols}
	}

	expected := ExpectedSize(rows, cols, bitDepth)
	if len(pixels) != expected {
		return &SizeMismatchError{Expected: expected, Actual: len(pixels)}
	}
	return nil
}
