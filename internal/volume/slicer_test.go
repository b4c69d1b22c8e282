package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/mrsinham/dicomfix/internal/fixer"
	"github.com/mrsinham/dicomfix/internal/record"
)

func sequentialUIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("1.2.3.%d", n)
	}
}

func rampVolume(rows, cols, slices int) *Volume {
	v := New(rows, cols, slices)
	for s := 0; s < slices; s++ {
		for c := 0; c < cols; c++ {
			for r := 0; r < rows; r++ {
				v.Set(r, c, s, float32(100*s+10*r+c))
			}
		}
	}
	return v
}

func pixelAt(rec record.ImageRecord, r, c int) int16 {
	off := (r*rec.Columns + c) * 2
	return int16(binary.LittleEndian.Uint16(rec.PixelData[off:]))
}

func TestVolumeIndexIsFirstAxisFastest(t *testing.T) {
	v := New(2, 3, 4)
	if got := v.Index(1, 0, 0); got != 1 {
		t.Errorf("Index(1,0,0) = %d, want 1", got)
	}
	if got := v.Index(0, 1, 0); got != 2 {
		t.Errorf("Index(0,1,0) = %d, want 2", got)
	}
	if got := v.Index(0, 0, 1); got != 6 {
		t.Errorf("Index(0,0,1) = %d, want 6", got)
	}
}

func TestSliceAxisAligned(t *testing.T) {
	s := NewSlicer(nil)
	s.NewUID = sequentialUIDs()

	a := Identity()
	a[0][3], a[1][3], a[2][3] = -10, 20, 5

	recs, err := s.Slice(rampVolume(2, 3, 4), a)
	if err != nil {
		t.Fatalf("Slice() error = %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("got %d records, want 4", len(recs))
	}

	for i, rec := range recs {
		if rec.InstanceNumber != i+1 {
			t.Errorf("slice %d: InstanceNumber = %d, want %d", i, rec.InstanceNumber, i+1)
		}
		want := [3]float64{-10, 20, 5 + float64(i)}
		if rec.ImagePositionPatient != want {
			t.Errorf("slice %d: ImagePositionPatient = %v, want %v", i, rec.ImagePositionPatient, want)
		}
		if rec.Rows != 2 || rec.Columns != 3 {
			t.Errorf("slice %d: geometry %dx%d, want 2x3", i, rec.Rows, rec.Columns)
		}
		if rec.BitsAllocated != 16 || rec.BitsStored != 16 || rec.HighBit != 15 || rec.PixelRepresentation != 1 {
			t.Errorf("slice %d: pixel format %d/%d/%d/%d, want 16/16/15/1", i,
				rec.BitsAllocated, rec.BitsStored, rec.HighBit, rec.PixelRepresentation)
		}
		if len(rec.PixelData) != 2*3*2 {
			t.Errorf("slice %d: len(PixelData) = %d, want 12", i, len(rec.PixelData))
		}
		if got, want := pixelAt(rec, 1, 2), int16(100*i+12); got != want {
			t.Errorf("slice %d: pixel(1,2) = %d, want %d", i, got, want)
		}
	}
}

func TestSliceSharesStudyContext(t *testing.T) {
	s := NewSlicer(nil)
	recs, err := s.Slice(rampVolume(2, 2, 3), Identity())
	if err != nil {
		t.Fatalf("Slice() error = %v", err)
	}

	seen := map[string]bool{}
	for _, rec := range recs {
		if rec.StudyInstanceUID != recs[0].StudyInstanceUID {
			t.Errorf("StudyInstanceUID differs across slices")
		}
		if rec.SeriesInstanceUID != recs[0].SeriesInstanceUID {
			t.Errorf("SeriesInstanceUID differs across slices")
		}
		if seen[rec.SOPInstanceUID] {
			t.Errorf("duplicate SOPInstanceUID %s", rec.SOPInstanceUID)
		}
		seen[rec.SOPInstanceUID] = true
	}

	again, err := s.Slice(rampVolume(2, 2, 1), Identity())
	if err != nil {
		t.Fatalf("Slice() error = %v", err)
	}
	if again[0].StudyInstanceUID == recs[0].StudyInstanceUID {
		t.Errorf("separate calls share a StudyInstanceUID")
	}
}

func TestSliceAffineMode(t *testing.T) {
	s := NewSlicer(nil)
	s.Mode = AffineMode

	a := Affine{
		{0.5, 0, 0, 1},
		{0, 0.75, 0, 2},
		{0, 0, 3, 4},
		{0, 0, 0, 1},
	}
	recs, err := s.Slice(rampVolume(2, 2, 2), a)
	if err != nil {
		t.Fatalf("Slice() error = %v", err)
	}

	if got, want := recs[1].ImagePositionPatient, [3]float64{-1, -2, 7}; got != want {
		t.Errorf("ImagePositionPatient = %v, want %v", got, want)
	}
	if got, want := recs[0].PixelSpacing, [2]float64{0.5, 0.75}; got != want {
		t.Errorf("PixelSpacing = %v, want %v", got, want)
	}
	if got := recs[0].SliceThickness; got != 3 {
		t.Errorf("SliceThickness = %v, want 3", got)
	}
	if got, want := recs[0].ImageOrientationPatient, [6]float64{0, -1, 0, -1, 0, 0}; got != want {
		t.Errorf("ImageOrientationPatient = %v, want %v", got, want)
	}
}

func TestSliceAffineModeConvertsRASToLPS(t *testing.T) {
	a := Identity()
	a[0][3], a[1][3], a[2][3] = 10, 20, 30

	for mode, want := range map[PositionMode][3]float64{
		AffineMode:  {-10, -20, 30},
		AxisAligned: {10, 20, 30},
	} {
		s := NewSlicer(nil)
		s.Mode = mode
		recs, err := s.Slice(rampVolume(1, 1, 1), a)
		if err != nil {
			t.Fatalf("%s: Slice() error = %v", mode, err)
		}
		if got := recs[0].ImagePositionPatient; got != want {
			t.Errorf("%s: ImagePositionPatient = %v, want %v", mode, got, want)
		}
	}
}

func TestToInt16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1.9, 1},
		{-1.9, -1},
		{32767.5, 32767},
		{40000, 32767},
		{-40000, -32768},
		{float32(math.NaN()), 0},
		{float32(math.Inf(1)), 32767},
	}
	for _, tt := range tests {
		if got := toInt16(tt.in); got != tt.want {
			t.Errorf("toInt16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEachStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := NewSlicer(nil).Each(rampVolume(2, 2, 5), Identity(), func(i int, _ record.ImageRecord) error {
		calls++
		if i == 1 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Each() error = %v, want %v", err, stop)
	}
	if calls != 2 {
		t.Errorf("callback called %d times, want 2", calls)
	}
}

func TestSliceInvalidVolume(t *testing.T) {
	v := &Volume{Rows: 2, Cols: 2, Slices: 2, Voxels: make([]float32, 3)}
	_, err := NewSlicer(nil).Slice(v, Identity())
	var verr *fixer.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Slice() error = %v, want *fixer.ValidationError", err)
	}
}

func TestParsePositionMode(t *testing.T) {
	for in, want := range map[string]PositionMode{"": AxisAligned, "axis-aligned": AxisAligned, "affine": AffineMode} {
		got, err := ParsePositionMode(in)
		if err != nil || got != want {
			t.Errorf("ParsePositionMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePositionMode("oblique"); err == nil {
		t.Error("ParsePositionMode(oblique) succeeded, want error")
	}
}
