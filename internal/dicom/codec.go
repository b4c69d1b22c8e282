// Package dicom encodes image records as DICOM Part 10 files and decodes
// (possibly malformed or partial) DICOM files back into partial records.
package dicom

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/mrsinham/dicomfix/internal/record"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	// ExplicitVRLittleEndian is the transfer syntax of every encoded file.
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	// ImplicitVRLittleEndian is accepted on decode.
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	// ImplementationClassUID identifies this implementation in the file meta group.
	ImplementationClassUID = "1.2.826.0.1.3680043.8.498"
)

const metaGroup = 0x0002

// FormatError reports bytes that cannot be decoded as a DICOM file.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid DICOM: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid DICOM: %s", e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Kind returns the error's taxonomy kind.
func (e *FormatError) Kind() string {
	return "FormatError"
}

// Codec converts between image records and DICOM bytes. The zero value is ready to use.
type Codec struct{}

// elementList accumulates elements, keeping the first construction error.
type elementList struct {
	elems []*dicom.Element
	err   error
}

func (l *elementList) add(t tag.Tag, value any) {
	if l.err != nil {
		return
	}
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		l.err = fmt.Errorf("create element %v: %w", t, err)
		return
	}
	l.elems = append(l.elems, elem)
}

// Encode serializes rec as an Explicit VR Little Endian Part 10 file.
func (c Codec) Encode(rec record.ImageRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.EncodeTo(&buf, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo writes rec to w.
func (c Codec) EncodeTo(w io.Writer, rec record.ImageRecord) error {
	ds, err := buildDataset(rec)
	if err != nil {
		return err
	}

	var opts []dicom.WriteOption
	if len(rec.Extra) > 0 {
		// Carried-over elements were accepted by the parser, not by the writer's checks.
		opts = []dicom.WriteOption{dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()}
	}
	if err := dicom.Write(w, ds, opts...); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	return nil
}

// EncodeFile writes rec to a new file at path.
func (c Codec) EncodeFile(path string, rec record.ImageRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := c.EncodeTo(f, rec); err != nil {
		return err
	}
	return f.Close()
}

// maxUS is the largest value of a DICOM US (unsigned short) element.
const maxUS = 1<<16 - 1

// checkUS rejects record values that a US element cannot hold.
func checkUS(rec record.ImageRecord) error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"Rows", rec.Rows},
		{"Columns", rec.Columns},
		{"BitsAllocated", rec.BitsAllocated},
		{"BitsStored", rec.BitsStored},
		{"HighBit", rec.HighBit},
		{"PixelRepresentation", rec.PixelRepresentation},
		{"SamplesPerPixel", rec.SamplesPerPixel},
	} {
		if f.value < 0 || f.value > maxUS {
			return fmt.Errorf("%s %d does not fit an unsigned short", f.name, f.value)
		}
	}
	return nil
}

func buildDataset(rec record.ImageRecord) (dicom.Dataset, error) {
	if err := checkUS(rec); err != nil {
		return dicom.Dataset{}, err
	}

	var meta elementList
	meta.add(tag.MediaStorageSOPClassUID, []string{rec.SOPClassUID})
	meta.add(tag.MediaStorageSOPInstanceUID, []string{rec.SOPInstanceUID})
	meta.add(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian})
	meta.add(tag.ImplementationClassUID, []string{ImplementationClassUID})
	if meta.err != nil {
		return dicom.Dataset{}, meta.err
	}

	var body elementList
	body.add(tag.SOPClassUID, []string{rec.SOPClassUID})
	body.add(tag.SOPInstanceUID, []string{rec.SOPInstanceUID})
	body.add(tag.ContentDate, []string{rec.ContentDate})
	body.add(tag.ContentTime, []string{rec.ContentTime})
	body.add(tag.Modality, []string{rec.Modality})
	body.add(tag.PatientName, []string{rec.PatientName})
	body.add(tag.PatientID, []string{rec.PatientID})
	body.add(tag.SliceThickness, []string{formatDS(rec.SliceThickness)})
	body.add(tag.StudyInstanceUID, []string{rec.StudyInstanceUID})
	body.add(tag.SeriesInstanceUID, []string{rec.SeriesInstanceUID})
	body.add(tag.InstanceNumber, []string{fmt.Sprintf("%d", rec.InstanceNumber)})
	body.add(tag.ImagePositionPatient, formatDSList(rec.ImagePositionPatient[:]))
	body.add(tag.ImageOrientationPatient, formatDSList(rec.ImageOrientationPatient[:]))
	body.add(tag.SamplesPerPixel, []int{rec.SamplesPerPixel})
	body.add(tag.PhotometricInterpretation, []string{rec.PhotometricInterpretation})
	body.add(tag.Rows, []int{rec.Rows})
	body.add(tag.Columns, []int{rec.Columns})
	body.add(tag.PixelSpacing, formatDSList(rec.PixelSpacing[:]))
	body.add(tag.BitsAllocated, []int{rec.BitsAllocated})
	body.add(tag.BitsStored, []int{rec.BitsStored})
	body.add(tag.HighBit, []int{rec.HighBit})
	body.add(tag.PixelRepresentation, []int{rec.PixelRepresentation})
	body.add(tag.PixelData, pixelDataInfo(rec))
	if body.err != nil {
		return dicom.Dataset{}, body.err
	}

	elements := append(body.elems, carriedExtras(rec.Extra)...)
	slices.SortStableFunc(elements, func(a, b *dicom.Element) int {
		return compareTags(a.Tag, b.Tag)
	})

	return dicom.Dataset{Elements: append(meta.elems, elements...)}, nil
}

func compareTags(a, b tag.Tag) int {
	if c := cmp.Compare(a.Group, b.Group); c != 0 {
		return c
	}
	return cmp.Compare(a.Element, b.Element)
}

// carriedExtras drops anything the encoder owns: the meta group, group
// lengths and mandatory fields.
func carriedExtras(extra []*dicom.Element) []*dicom.Element {
	var out []*dicom.Element
	for _, e := range extra {
		if e == nil || e.Tag.Group == metaGroup || e.Tag.Element == 0x0000 || record.IsMandatory(e.Tag) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// pixelDataInfo builds native frames for byte-aligned 8/16-bit single-sample
// images whose buffer matches the geometry, and keeps the bytes as-is otherwise.
func pixelDataInfo(rec record.ImageRecord) dicom.PixelDataInfo {
	n := rec.Rows * rec.Columns
	if rec.SamplesPerPixel == 1 && n > 0 {
		switch {
		case rec.BitsAllocated == 8 && len(rec.PixelData) == n:
			nativeFrame := frame.NewNativeFrame[uint8](8, rec.Rows, rec.Columns, n, 1)
			copy(nativeFrame.RawData, rec.PixelData)
			return nativePixelData(nativeFrame)
		case rec.BitsAllocated == 16 && len(rec.PixelData) == 2*n:
			nativeFrame := frame.NewNativeFrame[uint16](16, rec.Rows, rec.Columns, n, 1)
			for i := range n {
				nativeFrame.RawData[i] = binary.LittleEndian.Uint16(rec.PixelData[2*i:])
			}
			return nativePixelData(nativeFrame)
		}
	}

	raw := rec.PixelData
	if len(raw)%2 != 0 {
		raw = append(slices.Clone(raw), 0x00)
	}
	return dicom.PixelDataInfo{
		IntentionallyUnprocessed: true,
		UnprocessedValueData:     raw,
	}
}

func nativePixelData(nativeFrame frame.INativeFrame) dicom.PixelDataInfo {
	return dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	}
}

// Decode parses data into a Partial. Fields missing from the file stay absent.
// Elements outside the mandatory set are kept in Extra.
func (c Codec) Decode(data []byte) (record.Partial, error) {
	ds, err := parse(data)
	if err != nil {
		return record.Partial{}, err
	}

	if ts := firstString(ds, tag.TransferSyntaxUID); ts != nil {
		if *ts != ExplicitVRLittleEndian && *ts != ImplicitVRLittleEndian {
			return record.Partial{}, &FormatError{Reason: fmt.Sprintf("unsupported transfer syntax %s", *ts)}
		}
	}

	p := record.Partial{
		SOPClassUID:               firstString(ds, tag.SOPClassUID),
		SOPInstanceUID:            firstString(ds, tag.SOPInstanceUID),
		StudyInstanceUID:          firstString(ds, tag.StudyInstanceUID),
		SeriesInstanceUID:         firstString(ds, tag.SeriesInstanceUID),
		PatientName:               firstString(ds, tag.PatientName),
		PatientID:                 firstString(ds, tag.PatientID),
		Modality:                  firstString(ds, tag.Modality),
		Rows:                      firstInt(ds, tag.Rows),
		Columns:                   firstInt(ds, tag.Columns),
		BitsAllocated:             firstInt(ds, tag.BitsAllocated),
		BitsStored:                firstInt(ds, tag.BitsStored),
		HighBit:                   firstInt(ds, tag.HighBit),
		PixelRepresentation:       firstInt(ds, tag.PixelRepresentation),
		SamplesPerPixel:           firstInt(ds, tag.SamplesPerPixel),
		PhotometricInterpretation: firstString(ds, tag.PhotometricInterpretation),
		SliceThickness:            firstFloat(ds, tag.SliceThickness),
		ContentDate:               firstString(ds, tag.ContentDate),
		ContentTime:               firstString(ds, tag.ContentTime),
		InstanceNumber:            firstInt(ds, tag.InstanceNumber),
	}
	if v := floats(ds, tag.PixelSpacing, 2); v != nil {
		p.PixelSpacing = record.Ptr([2]float64(v))
	}
	if v := floats(ds, tag.ImagePositionPatient, 3); v != nil {
		p.ImagePositionPatient = record.Ptr([3]float64(v))
	}
	if v := floats(ds, tag.ImageOrientationPatient, 6); v != nil {
		p.ImageOrientationPatient = record.Ptr([6]float64(v))
	}

	pixels, err := pixelBytes(ds)
	if err != nil {
		return record.Partial{}, err
	}
	p.PixelData = trimPadding(pixels, p)
	p.Extra = carriedExtras(ds.Elements)

	return p, nil
}

// DecodeFile reads and decodes the file at path.
func (c Codec) DecodeFile(path string) (record.Partial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record.Partial{}, err
	}
	return c.Decode(data)
}

// parse runs a full parse and falls back to a tolerant element-by-element
// parse when the file is damaged part way through.
func parse(data []byte) (dicom.Dataset, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipProcessingPixelDataValue())
	if err == nil {
		return ds, nil
	}

	tolerant, terr := parseTolerant(data)
	if terr != nil {
		return dicom.Dataset{}, &FormatError{Reason: "cannot parse", Err: errors.Join(err, terr)}
	}
	return tolerant, nil
}

// parseTolerant collects every element that parses before the first error.
func parseTolerant(data []byte) (dicom.Dataset, error) {
	p, err := dicom.NewParser(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipProcessingPixelDataValue())
	if err != nil {
		return dicom.Dataset{}, err
	}

	var elements []*dicom.Element
	for {
		elem, err := p.Next()
		if err != nil {
			// Stop on any error - we've collected what we can
			break
		}
		elements = append(elements, elem)
	}

	if len(elements) == 0 {
		return dicom.Dataset{}, fmt.Errorf("no elements parsed")
	}

	meta := p.GetMetadata()
	return dicom.Dataset{Elements: append(meta.Elements, elements...)}, nil
}

func pixelBytes(ds dicom.Dataset) ([]byte, error) {
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil || elem == nil {
		return nil, nil
	}

	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, nil
	}
	if info.IsEncapsulated {
		return nil, &FormatError{Reason: "encapsulated pixel data is not supported"}
	}
	if !info.IntentionallyUnprocessed {
		return nil, &FormatError{Reason: "pixel data value was not preserved"}
	}
	return info.UnprocessedValueData, nil
}
