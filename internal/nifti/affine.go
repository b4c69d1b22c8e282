package nifti

import (
	"math"

	"github.com/mrsinham/dicomfix/internal/volume"
)

// Affine returns the voxel-to-world transform: the sform when sform_code is
// set, else the qform quaternion, else a diagonal of the voxel sizes.
func (h *Header) Affine() volume.Affine {
	switch {
	case h.SformCode > 0:
		return h.sform()
	case h.QformCode > 0:
		return h.qform()
	}
	a := volume.Identity()
	for i := 0; i < 3; i++ {
		if d := float64(h.Pixdim[i+1]); d > 0 {
			a[i][i] = d
		}
	}
	return a
}

func (h *Header) sform() volume.Affine {
	a := volume.Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			a[i][j] = float64(h.Srow[i][j])
		}
	}
	return a
}

// qform builds the rotation from quatern_b/c/d, scales it by pixdim and
// applies qfac (pixdim[0]) to the third axis.
func (h *Header) qform() volume.Affine {
	b, c, d := float64(h.Quatern[0]), float64(h.Quatern[1]), float64(h.Quatern[2])
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// Not a unit quaternion: normalize and treat as a 180 degree rotation.
		n := math.Sqrt(b*b + c*c + d*d)
		b, c, d = b/n, c/n, d/n
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	rot := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b},
	}

	scale := [3]float64{float64(h.Pixdim[1]), float64(h.Pixdim[2]), float64(h.Pixdim[3])}
	for i := range scale {
		if scale[i] <= 0 {
			scale[i] = 1
		}
	}
	if h.Pixdim[0] < 0 {
		scale[2] = -scale[2]
	}

	out := volume.Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = rot[i][j] * scale[j]
		}
		out[i][3] = float64(h.Qoffset[i])
	}
	return out
}
