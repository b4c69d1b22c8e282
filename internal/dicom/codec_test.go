package dicom

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"

	"github.com/mrsinham/dicomfix/internal/dicom/dicomtest"
	"github.com/mrsinham/dicomfix/internal/record"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func sampleRecord() record.ImageRecord {
	pixels := make([]byte, 3*4*2)
	for i := range pixels {
		pixels[i] = byte(i * 7)
	}
	return record.ImageRecord{
		SOPClassUID:               record.CTImageStorageUID,
		SOPInstanceUID:            "2.25.1001",
		StudyInstanceUID:          "2.25.1002",
		SeriesInstanceUID:         "2.25.1003",
		PatientName:               "Anonymous",
		PatientID:                 "12345",
		Modality:                  "CT",
		Rows:                      3,
		Columns:                   4,
		BitsAllocated:             16,
		BitsStored:                16,
		HighBit:                   15,
		PixelRepresentation:       0,
		SamplesPerPixel:           1,
		PhotometricInterpretation: "MONOCHROME2",
		PixelSpacing:              [2]float64{0.5, 0.75},
		SliceThickness:            1.25,
		ImagePositionPatient:      [3]float64{-12.5, 30, 7},
		ImageOrientationPatient:   [6]float64{1, 0, 0, 0, 1, 0},
		ContentDate:               "20240309",
		ContentTime:               "140506",
		InstanceNumber:            5,
		PixelData:                 pixels,
	}
}

func TestCodec_RoundTripMandatoryFields(t *testing.T) {
	var c Codec
	rec := sampleRecord()

	data, err := c.Encode(rec)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if len(data) < 132 || string(data[128:132]) != "DICM" {
		t.Fatal("encoded file lacks the DICM preamble")
	}

	p, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	got, err := p.Complete()
	if err != nil {
		t.Fatalf("decoded record incomplete: %v", err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}
}

func TestCodec_WritesExplicitVRLittleEndian(t *testing.T) {
	var c Codec
	data, err := c.Encode(sampleRecord())
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	ts := stringValues(ds, tag.TransferSyntaxUID)
	if len(ts) != 1 || ts[0] != ExplicitVRLittleEndian {
		t.Errorf("TransferSyntaxUID = %v, want %s", ts, ExplicitVRLittleEndian)
	}
	ms := stringValues(ds, tag.MediaStorageSOPInstanceUID)
	if len(ms) != 1 || ms[0] != "2.25.1001" {
		t.Errorf("MediaStorageSOPInstanceUID = %v, want 2.25.1001", ms)
	}
}

func TestCodec_OddEightBitPixelData(t *testing.T) {
	var c Codec
	rec := sampleRecord()
	rec.Rows, rec.Columns = 3, 3
	rec.BitsAllocated, rec.BitsStored, rec.HighBit = 8, 8, 7
	rec.PixelData = []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}

	data, err := c.Encode(rec)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	p, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if !bytes.Equal(p.PixelData, rec.PixelData) {
		t.Errorf("pixel data = %v, want %v", p.PixelData, rec.PixelData)
	}
}

func TestCodec_PixelDataNotMatchingGeometry(t *testing.T) {
	var c Codec
	rec := sampleRecord()
	rec.PixelData = []byte{1, 2, 3, 4, 5, 6}

	data, err := c.Encode(rec)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	p, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if !bytes.Equal(p.PixelData, rec.PixelData) {
		t.Errorf("pixel data = %v, want %v", p.PixelData, rec.PixelData)
	}
}

func TestCodec_DecodeStrippedTags(t *testing.T) {
	var c Codec
	data := dicomtest.Fixture{Omit: dicomtest.StrippableTags}.Bytes(t)

	p, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	absent := map[string]bool{
		"PatientName":               p.PatientName == nil,
		"PatientID":                 p.PatientID == nil,
		"StudyInstanceUID":          p.StudyInstanceUID == nil,
		"SeriesInstanceUID":         p.SeriesInstanceUID == nil,
		"Modality":                  p.Modality == nil,
		"PixelSpacing":              p.PixelSpacing == nil,
		"SliceThickness":            p.SliceThickness == nil,
		"ImagePositionPatient":      p.ImagePositionPatient == nil,
		"ImageOrientationPatient":   p.ImageOrientationPatient == nil,
		"PhotometricInterpretation": p.PhotometricInterpretation == nil,
	}
	for name, ok := range absent {
		if !ok {
			t.Errorf("%s should be absent", name)
		}
	}

	if p.Rows == nil || *p.Rows != 4 || p.Columns == nil || *p.Columns != 4 {
		t.Errorf("geometry not decoded: rows %v cols %v", p.Rows, p.Columns)
	}
	if p.BitsStored == nil || *p.BitsStored != 12 {
		t.Errorf("BitsStored = %v, want 12", p.BitsStored)
	}
	if p.InstanceNumber == nil || *p.InstanceNumber != 3 {
		t.Errorf("InstanceNumber = %v, want 3", p.InstanceNumber)
	}
	want := dicomtest.Fixture{Rows: 4, Cols: 4}.Pixels()
	if !bytes.Equal(p.PixelData, want) {
		t.Errorf("pixel data = %v, want %v", p.PixelData, want)
	}
}

func TestCodec_KeepsExtraElements(t *testing.T) {
	var c Codec
	data := dicomtest.Fixture{Description: "Head routine", Private: true}.Bytes(t)

	p, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	hasTag := func(elems []*dicom.Element, want tag.Tag) bool {
		for _, e := range elems {
			if e.Tag == want {
				return true
			}
		}
		return false
	}
	if !hasTag(p.Extra, tag.StudyDescription) {
		t.Error("StudyDescription should be carried in Extra")
	}
	if !hasTag(p.Extra, dicomtest.PrivateTag) {
		t.Error("private element should be carried in Extra")
	}
	for _, e := range p.Extra {
		if e.Tag.Group == metaGroup || record.IsMandatory(e.Tag) {
			t.Errorf("Extra should not contain %v", e.Tag)
		}
	}

	rec, err := p.Complete()
	if err == nil {
		t.Fatalf("fixture should lack ContentDate, got complete record %+v", rec)
	}

	p.ContentDate = record.Ptr("20200101")
	p.ContentTime = record.Ptr("101010")
	rec, err = p.Complete()
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	reencoded, err := c.Encode(rec)
	if err != nil {
		t.Fatalf("re-encode error: %v", err)
	}
	again, err := c.Decode(reencoded)
	if err != nil {
		t.Fatalf("decode re-encoded: %v", err)
	}
	if !hasTag(again.Extra, tag.StudyDescription) {
		t.Error("StudyDescription lost on re-encode")
	}
}

func TestCodec_CarriesVendorPrivateElements(t *testing.T) {
	var c Codec
	data := dicomtest.Fixture{Vendors: []dicomtest.Vendor{dicomtest.Siemens, dicomtest.GE, dicomtest.Philips}}.Bytes(t)

	p, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if p.PixelData == nil {
		t.Fatal("pixel data lost behind vendor elements")
	}

	p.ContentDate = record.Ptr("20200101")
	p.ContentTime = record.Ptr("101010")
	rec, err := p.Complete()
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	reencoded, err := c.Encode(rec)
	if err != nil {
		t.Fatalf("re-encode error: %v", err)
	}
	again, err := c.Decode(reencoded)
	if err != nil {
		t.Fatalf("decode re-encoded: %v", err)
	}

	found := map[tag.Tag]bool{}
	for _, e := range again.Extra {
		found[e.Tag] = true
	}
	for _, want := range []tag.Tag{
		dicomtest.SiemensCSAImageTag,
		dicomtest.SiemensSequenceTag,
		dicomtest.GESoftwareTag,
		dicomtest.PhilipsSequenceTag,
	} {
		if !found[want] {
			t.Errorf("vendor element %v lost on re-encode", want)
		}
	}
}

func TestCodec_DecodeGarbage(t *testing.T) {
	var c Codec
	for _, data := range [][]byte{nil, []byte("not dicom at all"), make([]byte, 300)} {
		_, err := c.Decode(data)
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Errorf("Decode(%d bytes) = %v, want FormatError", len(data), err)
		}
	}
}

func TestCodec_DecodeTruncatedPixelData(t *testing.T) {
	var c Codec
	data := dicomtest.TruncatePixelData(dicomtest.Fixture{}.Bytes(t))

	p, err := c.Decode(data)
	if err != nil {
		t.Fatalf("tolerant decode should salvage the header, got %v", err)
	}
	if p.PatientName == nil || *p.PatientName != "Fixture^Patient" {
		t.Errorf("PatientName = %v, want Fixture^Patient", p.PatientName)
	}
	if p.PixelData != nil {
		t.Errorf("truncated pixel data should be absent, got %d bytes", len(p.PixelData))
	}
}

func TestCodec_DecodeUnsupportedTransferSyntax(t *testing.T) {
	var c Codec
	data := dicomtest.Fixture{}.Bytes(t)
	data = bytes.Replace(data, []byte("1.2.840.10008.1.2.1\x00"), []byte("1.2.840.10008.1.2.2\x00"), 1)

	_, err := c.Decode(data)
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestCodec_Files(t *testing.T) {
	var c Codec
	path := filepath.Join(t.TempDir(), "fixed.dcm")

	if err := c.EncodeFile(path, sampleRecord()); err != nil {
		t.Fatalf("EncodeFile error: %v", err)
	}
	p, err := c.DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile error: %v", err)
	}
	if p.SOPInstanceUID == nil || *p.SOPInstanceUID != "2.25.1001" {
		t.Errorf("SOPInstanceUID = %v", p.SOPInstanceUID)
	}
}

func TestFormatDS(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{0.5, "0.5"},
		{-12.5, "-12.5"},
	}
	for _, tc := range tests {
		if got := formatDS(tc.in); got != tc.want {
			t.Errorf("formatDS(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}

	for _, f := range []float64{1.0 / 3, -123456.789012345, 1e-20, 98765432.123456} {
		s := formatDS(f)
		if len(s) > 16 {
			t.Errorf("formatDS(%v) = %q exceeds 16 chars", f, s)
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			t.Errorf("formatDS(%v) = %q does not parse: %v", f, s, err)
		}
	}
}

func TestCodec_EncodeRejectsValuesBeyondUS(t *testing.T) {
	var c Codec
	tests := map[string]func(*record.ImageRecord){
		"rows":     func(r *record.ImageRecord) { r.Rows = 65536; r.PixelData = make([]byte, 65536*4*2) },
		"columns":  func(r *record.ImageRecord) { r.Columns = 1 << 20 },
		"negative": func(r *record.ImageRecord) { r.HighBit = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord()
			mutate(&rec)
			if data, err := c.Encode(rec); err == nil {
				t.Errorf("Encode succeeded with %d bytes, want an error", len(data))
			}
		})
	}
}
