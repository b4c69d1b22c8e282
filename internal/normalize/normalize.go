// Package normalize fills the mandatory metadata of an image record.
//
// Every field follows the same policy: a value already present is kept
// verbatim, an absent one gets its default. The only exception is the content
// date and time, which are stamped on every call.
package normalize

import (
	"time"

	"github.com/mrsinham/dicomfix/internal/record"
)

const (
	contentDateLayout = "20060102"
	contentTimeLayout = "150405"
)

// Normalizer completes partial records.
type Normalizer struct {
	Defaults Defaults
	// Now is the clock used for content date/time. Defaults to time.Now.
	Now func() time.Time
	// NewUID generates identifiers for records outside a study context. Defaults to record.NewUID.
	NewUID func() string
}

// New returns a Normalizer with the standard defaults.
func New() *Normalizer {
	return &Normalizer{
		Defaults: StandardDefaults(),
		Now:      time.Now,
		NewUID:   record.NewUID,
	}
}

// rule fills a single field of p when it is absent.
type rule struct {
	field record.Field
	fill  func(n *Normalizer, p *record.Partial, sc *record.StudyContext)
}

func orDefault[T any](dst **T, def func() T) {
	if *dst == nil {
		v := def()
		*dst = &v
	}
}

func value[T any](v T) func() T {
	return func() T { return v }
}

// rules run in order; later rules may read fields filled by earlier ones.
var rules = []rule{
	{record.FieldSOPClassUID, func(n *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.SOPClassUID, value(n.Defaults.SOPClassUID))
	}},
	{record.FieldSOPInstanceUID, func(n *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.SOPInstanceUID, n.uid)
	}},
	{record.FieldModality, func(n *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.Modality, value(n.Defaults.Modality))
	}},
	{record.FieldPatientName, func(n *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.PatientName, value(n.Defaults.PatientName))
	}},
	{record.FieldPatientID, func(n *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.PatientID, value(n.Defaults.PatientID))
	}},
	{record.FieldStudyInstanceUID, func(n *Normalizer, p *record.Partial, sc *record.StudyContext) {
		if sc != nil {
			orDefault(&p.StudyInstanceUID, value(sc.StudyInstanceUID))
			return
		}
		orDefault(&p.StudyInstanceUID, n.uid)
	}},
	{record.FieldSeriesInstanceUID, func(n *Normalizer, p *record.Partial, sc *record.StudyContext) {
		if sc != nil {
			orDefault(&p.SeriesInstanceUID, value(sc.SeriesInstanceUID))
			return
		}
		orDefault(&p.SeriesInstanceUID, n.uid)
	}},
	{record.FieldImagePositionPatient, func(n *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.ImagePositionPatient, value(n.Defaults.ImagePositionPatient))
	}},
	{record.FieldImageOrientationPatient, func(n *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.ImageOrientationPatient, value(n.Defaults.ImageOrientationPatient))
	}},
	{record.FieldPixelSpacing, func(n *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.PixelSpacing, value(n.Defaults.PixelSpacing))
	}},
	{record.FieldSliceThickness, func(n *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.SliceThickness, value(n.Defaults.SliceThickness))
	}},
	{record.FieldPhotometricInterpretation, func(n *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.PhotometricInterpretation, value(n.Defaults.PhotometricInterpretation))
	}},
	{record.FieldBitsAllocated, func(n *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.BitsAllocated, value(n.Defaults.BitsAllocated))
	}},
	{record.FieldBitsStored, func(_ *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.BitsStored, value(*p.BitsAllocated))
	}},
	{record.FieldHighBit, func(_ *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.HighBit, value(*p.BitsStored-1))
	}},
	{record.FieldPixelRepresentation, func(_ *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.PixelRepresentation, value(0))
	}},
	{record.FieldSamplesPerPixel, func(_ *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.SamplesPerPixel, value(1))
	}},
	{record.FieldInstanceNumber, func(_ *Normalizer, p *record.Partial, _ *record.StudyContext) {
		orDefault(&p.InstanceNumber, value(1))
	}},
}

func (n *Normalizer) uid() string {
	if n.NewUID == nil {
		return record.NewUID()
	}
	return n.NewUID()
}

func (n *Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

// Normalize returns a complete record built from p. Present fields are kept
// verbatim; absent ones get their default, the study and series identifiers
// coming from sc when it is non-nil. Content date and time are always restamped.
// p is not modified.
//
// Rows, Columns and PixelData have no default; if any is absent a
// *record.MissingFieldsError is returned.
func (n *Normalizer) Normalize(p record.Partial, sc *record.StudyContext) (record.ImageRecord, error) {
	filled := p.Clone()
	for _, r := range rules {
		r.fill(n, &filled, sc)
	}

	now := n.now()
	filled.ContentDate = record.Ptr(now.Format(contentDateLayout))
	filled.ContentTime = record.Ptr(now.Format(contentTimeLayout))

	return filled.Complete()
}
