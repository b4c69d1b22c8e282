// Package record defines the image records produced by repair: the complete
// ImageRecord, its optional-field counterpart Partial, the StudyContext shared by
// records of one request, and the registry of mandatory fields.
package record

import (
	"fmt"
	"slices"
	"strings"

	"github.com/suyashkumar/dicom"
)

// CTImageStorageUID is the SOP class assigned to records that do not declare one.
const CTImageStorageUID = "1.2.840.10008.5.1.4.1.1.2"

// ImageRecord is a complete, conformant image: every mandatory field is set.
type ImageRecord struct {
	SOPClassUID       string
	SOPInstanceUID    string
	StudyInstanceUID  string
	SeriesInstanceUID string

	PatientName string
	PatientID   string
	Modality    string

	Rows                      int
	Columns                   int
	BitsAllocated             int
	BitsStored                int
	HighBit                   int
	PixelRepresentation       int
	SamplesPerPixel           int
	PhotometricInterpretation string

	PixelSpacing            [2]float64
	SliceThickness          float64
	ImagePositionPatient    [3]float64
	ImageOrientationPatient [6]float64

	ContentDate    string
	ContentTime    string
	InstanceNumber int

	PixelData []byte

	// Extra holds non-mandatory elements carried over from a decoded input.
	Extra []*dicom.Element
}

// Partial is an ImageRecord whose fields may be absent. A nil pointer (or nil
// PixelData) means the field is missing.
type Partial struct {
	SOPClassUID       *string
	SOPInstanceUID    *string
	StudyInstanceUID  *string
	SeriesInstanceUID *string

	PatientName *string
	PatientID   *string
	Modality    *string

	Rows                      *int
	Columns                   *int
	BitsAllocated             *int
	BitsStored                *int
	HighBit                   *int
	PixelRepresentation       *int
	SamplesPerPixel           *int
	PhotometricInterpretation *string

	PixelSpacing            *[2]float64
	SliceThickness          *float64
	ImagePositionPatient    *[3]float64
	ImageOrientationPatient *[6]float64

	ContentDate    *string
	ContentTime    *string
	InstanceNumber *int

	PixelData []byte

	Extra []*dicom.Element
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone returns a deep copy of p, so that filling the copy never mutates p.
func (p Partial) Clone() Partial {
	return Partial{
		SOPClassUID:               clonePtr(p.SOPClassUID),
		SOPInstanceUID:            clonePtr(p.SOPInstanceUID),
		StudyInstanceUID:          clonePtr(p.StudyInstanceUID),
		SeriesInstanceUID:         clonePtr(p.SeriesInstanceUID),
		PatientName:               clonePtr(p.PatientName),
		PatientID:                 clonePtr(p.PatientID),
		Modality:                  clonePtr(p.Modality),
		Rows:                      clonePtr(p.Rows),
		Columns:                   clonePtr(p.Columns),
		BitsAllocated:             clonePtr(p.BitsAllocated),
		BitsStored:                clonePtr(p.BitsStored),
		HighBit:                   clonePtr(p.HighBit),
		PixelRepresentation:       clonePtr(p.PixelRepresentation),
		SamplesPerPixel:           clonePtr(p.SamplesPerPixel),
		PhotometricInterpretation: clonePtr(p.PhotometricInterpretation),
		PixelSpacing:              clonePtr(p.PixelSpacing),
		SliceThickness:            clonePtr(p.SliceThickness),
		ImagePositionPatient:      clonePtr(p.ImagePositionPatient),
		ImageOrientationPatient:   clonePtr(p.ImageOrientationPatient),
		ContentDate:               clonePtr(p.ContentDate),
		ContentTime:               clonePtr(p.ContentTime),
		InstanceNumber:            clonePtr(p.InstanceNumber),
		PixelData:                 slices.Clone(p.PixelData),
		Extra:                     slices.Clone(p.Extra),
	}
}

// MissingFieldsError is returned when a Partial cannot be completed because
// fields without a default are absent.
type MissingFieldsError struct {
	Fields []Field
}

func (e *MissingFieldsError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = string(f)
	}
	return fmt.Sprintf("missing mandatory fields: %s", strings.Join(names, ", "))
}

// Complete converts p into an ImageRecord. Every field must be present.
func (p Partial) Complete() (ImageRecord, error) {
	var missing []Field
	check := func(present bool, f Field) {
		if !present {
			missing = append(missing, f)
		}
	}
	check(p.SOPClassUID != nil, FieldSOPClassUID)
	check(p.SOPInstanceUID != nil, FieldSOPInstanceUID)
	check(p.StudyInstanceUID != nil, FieldStudyInstanceUID)
	check(p.SeriesInstanceUID != nil, FieldSeriesInstanceUID)
	check(p.PatientName != nil, FieldPatientName)
	check(p.PatientID != nil, FieldPatientID)
	check(p.Modality != nil, FieldModality)
	check(p.Rows != nil, FieldRows)
	check(p.Columns != nil, FieldColumns)
	check(p.BitsAllocated != nil, FieldBitsAllocated)
	check(p.BitsStored != nil, FieldBitsStored)
	check(p.HighBit != nil, FieldHighBit)
	check(p.PixelRepresentation != nil, FieldPixelRepresentation)
	check(p.SamplesPerPixel != nil, FieldSamplesPerPixel)
	check(p.PhotometricInterpretation != nil, FieldPhotometricInterpretation)
	check(p.PixelSpacing != nil, FieldPixelSpacing)
	check(p.SliceThickness != nil, FieldSliceThickness)
	check(p.ImagePositionPatient != nil, FieldImagePositionPatient)
	check(p.ImageOrientationPatient != nil, FieldImageOrientationPatient)
	check(p.ContentDate != nil, FieldContentDate)
	check(p.ContentTime != nil, FieldContentTime)
	check(p.InstanceNumber != nil, FieldInstanceNumber)
	check(p.PixelData != nil, FieldPixelData)
	if len(missing) > 0 {
		return ImageRecord{}, &MissingFieldsError{Fields: missing}
	}

	return ImageRecord{
		SOPClassUID:               *p.SOPClassUID,
		SOPInstanceUID:            *p.SOPInstanceUID,
		StudyInstanceUID:          *p.StudyInstanceUID,
		SeriesInstanceUID:         *p.SeriesInstanceUID,
		PatientName:               *p.PatientName,
		PatientID:                 *p.PatientID,
		Modality:                  *p.Modality,
		Rows:                      *p.Rows,
		Columns:                   *p.Columns,
		BitsAllocated:             *p.BitsAllocated,
		BitsStored:                *p.BitsStored,
		HighBit:                   *p.HighBit,
		PixelRepresentation:       *p.PixelRepresentation,
		SamplesPerPixel:           *p.SamplesPerPixel,
		PhotometricInterpretation: *p.PhotometricInterpretation,
		PixelSpacing:              *p.PixelSpacing,
		SliceThickness:            *p.SliceThickness,
		ImagePositionPatient:      *p.ImagePositionPatient,
		ImageOrientationPatient:   *p.ImageOrientationPatient,
		ContentDate:               *p.ContentDate,
		ContentTime:               *p.ContentTime,
		InstanceNumber:            *p.InstanceNumber,
		PixelData:                 p.PixelData,
		Extra:                     p.Extra,
	}, nil
}

// Partial converts r back into a Partial with every field present.
func (r ImageRecord) Partial() Partial {
	return Partial{
		SOPClassUID:               Ptr(r.SOPClassUID),
		SOPInstanceUID:            Ptr(r.SOPInstanceUID),
		StudyInstanceUID:          Ptr(r.StudyInstanceUID),
		SeriesInstanceUID:         Ptr(r.SeriesInstanceUID),
		PatientName:               Ptr(r.PatientName),
		PatientID:                 Ptr(r.PatientID),
		Modality:                  Ptr(r.Modality),
		Rows:                      Ptr(r.Rows),
		Columns:                   Ptr(r.Columns),
		BitsAllocated:             Ptr(r.BitsAllocated),
		BitsStored:                Ptr(r.BitsStored),
		HighBit:                   Ptr(r.HighBit),
		PixelRepresentation:       Ptr(r.PixelRepresentation),
		SamplesPerPixel:           Ptr(r.SamplesPerPixel),
		PhotometricInterpretation: Ptr(r.PhotometricInterpretation),
		PixelSpacing:              Ptr(r.PixelSpacing),
		SliceThickness:            Ptr(r.SliceThickness),
		ImagePositionPatient:      Ptr(r.ImagePositionPatient),
		ImageOrientationPatient:   Ptr(r.ImageOrientationPatient),
		ContentDate:               Ptr(r.ContentDate),
		ContentTime:               Ptr(r.ContentTime),
		InstanceNumber:            Ptr(r.InstanceNumber),
		PixelData:                 slices.Clone(r.PixelData),
		Extra:                     slices.Clone(r.Extra),
	}
}
