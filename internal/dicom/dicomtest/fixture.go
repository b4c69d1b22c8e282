// Package dicomtest builds DICOM files for tests: complete images, images with
// mandatory tags stripped, vendor private elements and byte-level damage.
package dicomtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// StrippableTags lists mandatory tags a damaged file commonly lacks.
var StrippableTags = []tag.Tag{
	tag.PatientName,
	tag.PatientID,
	tag.StudyInstanceUID,
	tag.SeriesInstanceUID,
	tag.Modality,
	tag.PixelSpacing,
	tag.SliceThickness,
	tag.ImagePositionPatient,
	tag.ImageOrientationPatient,
	tag.PhotometricInterpretation,
}

// PrivateTag is the vendor element added by Fixture.Private.
var PrivateTag = tag.Tag{Group: 0x0029, Element: 0x1010}

// Fixture describes a 16-bit monochrome image file.
type Fixture struct {
	Rows        int
	Cols        int
	PatientName string
	// Omit drops these tags from the written file.
	Omit []tag.Tag
	// Private adds a vendor private OB element.
	Private bool
	// Description, when set, adds a StudyDescription element.
	Description string
	// Vendors adds the private elements of each vendor.
	Vendors []Vendor
}

// Pixels returns the deterministic little-endian pixel buffer of f.
func (f Fixture) Pixels() []byte {
	out := make([]byte, 0, f.Rows*f.Cols*2)
	for i := 0; i < f.Rows*f.Cols; i++ {
		out = binary.LittleEndian.AppendUint16(out, uint16(i*37))
	}
	return out
}

// Elements returns the dataset elements of f, meta group first.
func (f Fixture) Elements() []*dicom.Element {
	if f.Rows == 0 {
		f.Rows = 4
	}
	if f.Cols == 0 {
		f.Cols = 4
	}
	name := f.PatientName
	if name == "" {
		name = "Fixture^Patient"
	}

	n := f.Rows * f.Cols
	nativeFrame := frame.NewNativeFrame[uint16](16, f.Rows, f.Cols, n, 1)
	pixels := f.Pixels()
	for i := range n {
		nativeFrame.RawData[i] = binary.LittleEndian.Uint16(pixels[2*i:])
	}

	elements := []*dicom.Element{
		mustNewElement(tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.4"}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{"1.2.826.0.1.3680043.8.498.77"}),
		mustNewElement(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustNewElement(tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.4"}),
		mustNewElement(tag.SOPInstanceUID, []string{"1.2.826.0.1.3680043.8.498.77"}),
		mustNewElement(tag.Modality, []string{"MR"}),
		mustNewElement(tag.PatientName, []string{name}),
		mustNewElement(tag.PatientID, []string{"FIX-001"}),
		mustNewElement(tag.SliceThickness, []string{"2.5"}),
		mustNewElement(tag.StudyInstanceUID, []string{"1.2.826.0.1.3680043.8.498.10"}),
		mustNewElement(tag.SeriesInstanceUID, []string{"1.2.826.0.1.3680043.8.498.11"}),
		mustNewElement(tag.InstanceNumber, []string{"3"}),
		mustNewElement(tag.ImagePositionPatient, []string{"-100", "-100", "12.5"}),
		mustNewElement(tag.ImageOrientationPatient, []string{"1", "0", "0", "0", "1", "0"}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustNewElement(tag.Rows, []int{f.Rows}),
		mustNewElement(tag.Columns, []int{f.Cols}),
		mustNewElement(tag.PixelSpacing, []string{"0.5", "0.5"}),
		mustNewElement(tag.BitsAllocated, []int{16}),
		mustNewElement(tag.BitsStored, []int{12}),
		mustNewElement(tag.HighBit, []int{11}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
		mustNewElement(tag.PixelData, dicom.PixelDataInfo{
			Frames: []*frame.Frame{{Encapsulated: false, NativeData: nativeFrame}},
		}),
	}
	if f.Description != "" {
		elements = append(elements, mustNewElement(tag.StudyDescription, []string{f.Description}))
	}
	if f.Private {
		elements = append(elements, mustNewPrivateElement(PrivateTag, "OB", []byte{0xCA, 0xFE, 0xBA, 0xBE}))
	}
	for _, v := range f.Vendors {
		elements = append(elements, VendorElements(v)...)
	}

	return slices.DeleteFunc(elements, func(e *dicom.Element) bool {
		return slices.Contains(f.Omit, e.Tag)
	})
}

// Bytes writes f as a Part 10 file.
func (f Fixture) Bytes(tb testing.TB) []byte {
	tb.Helper()

	elements := f.Elements()
	slices.SortStableFunc(elements, func(a, b *dicom.Element) int {
		if a.Tag.Group != b.Tag.Group {
			return int(a.Tag.Group) - int(b.Tag.Group)
		}
		return int(a.Tag.Element) - int(b.Tag.Element)
	})

	var opts []dicom.WriteOption
	if f.Private || len(f.Vendors) > 0 {
		opts = []dicom.WriteOption{dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()}
	}

	var buf bytes.Buffer
	if err := dicom.Write(&buf, dicom.Dataset{Elements: elements}, opts...); err != nil {
		tb.Fatalf("write fixture: %v", err)
	}
	return buf.Bytes()
}

// mustNewElement creates a new DICOM element, panicking on error.
func mustNewElement(t tag.Tag, value any) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// mustNewPrivateElement builds an element with an explicit VR, which
// dicom.NewElement cannot do for tags outside the dictionary.
func mustNewPrivateElement(t tag.Tag, rawVR string, data any) *dicom.Element {
	value, err := dicom.NewValue(data)
	if err != nil {
		panic(fmt.Sprintf("failed to create value for private element %v: %v", t, err))
	}
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, rawVR),
		RawValueRepresentation: rawVR,
		Value:                  value,
	}
}
