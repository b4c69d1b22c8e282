// Package volume cuts a 3-D voxel array into per-slice image records that
// share one study and series.
package volume

import (
	"fmt"
	"math"
)

// Volume is a 3-D scalar array in NIfTI order: the first axis varies fastest.
type Volume struct {
	Rows   int
	Cols   int
	Slices int
	Voxels []float32
}

// New allocates a zeroed volume.
func New(rows, cols, slices int) *Volume {
	return &Volume{Rows: rows, Cols: cols, Slices: slices, Voxels: make([]float32, rows*cols*slices)}
}

// Index returns the offset of voxel (r, c, s) in Voxels.
func (v *Volume) Index(r, c, s int) int {
	return r + c*v.Rows + s*v.Rows*v.Cols
}

// At returns voxel (r, c, s).
func (v *Volume) At(r, c, s int) float32 {
	return v.Voxels[v.Index(r, c, s)]
}

// Set stores voxel (r, c, s).
func (v *Volume) Set(r, c, s int, val float32) {
	v.Voxels[v.Index(r, c, s)] = val
}

// Validate checks that the shape is positive and matches the voxel count.
func (v *Volume) Validate() error {
	if v.Rows <= 0 || v.Cols <= 0 || v.Slices <= 0 {
		return fmt.Errorf("invalid volume shape %dx%dx%d", v.Rows, v.Cols, v.Slices)
	}
	if len(v.Voxels) != v.Rows*v.Cols*v.Slices {
		return fmt.Errorf("volume shape %dx%dx%d needs %d voxels, got %d",
			v.Rows, v.Cols, v.Slices, v.Rows*v.Cols*v.Slices, len(v.Voxels))
	}
	return nil
}

// Affine maps voxel indices to physical coordinates: row i, column j of the
// matrix is Affine[i][j], the translation is column 3.
type Affine [4][4]float64

// Identity returns the identity affine.
func Identity() Affine {
	return Affine{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Apply maps voxel (i, j, k) to physical space.
func (a Affine) Apply(i, j, k float64) [3]float64 {
	var out [3]float64
	for r := 0; r < 3; r++ {
		out[r] = a[r][0]*i + a[r][1]*j + a[r][2]*k + a[r][3]
	}
	return out
}

// column returns the first three components of column c.
func (a Affine) column(c int) [3]float64 {
	return [3]float64{a[0][c], a[1][c], a[2][c]}
}

func norm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
