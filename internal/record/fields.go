package record

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Field names a mandatory metadata field of an ImageRecord.
type Field string

const (
	FieldSOPClassUID               Field = "SOPClassUID"
	FieldSOPInstanceUID            Field = "SOPInstanceUID"
	FieldStudyInstanceUID          Field = "StudyInstanceUID"
	FieldSeriesInstanceUID         Field = "SeriesInstanceUID"
	FieldPatientName               Field = "PatientName"
	FieldPatientID                 Field = "PatientID"
	FieldModality                  Field = "Modality"
	FieldRows                      Field = "Rows"
	FieldColumns                   Field = "Columns"
	FieldBitsAllocated             Field = "BitsAllocated"
	FieldBitsStored                Field = "BitsStored"
	FieldHighBit                   Field = "HighBit"
	FieldPixelRepresentation       Field = "PixelRepresentation"
	FieldSamplesPerPixel           Field = "SamplesPerPixel"
	FieldPhotometricInterpretation Field = "PhotometricInterpretation"
	FieldPixelSpacing              Field = "PixelSpacing"
	FieldSliceThickness            Field = "SliceThickness"
	FieldImagePositionPatient      Field = "ImagePositionPatient"
	FieldImageOrientationPatient   Field = "ImageOrientationPatient"
	FieldContentDate               Field = "ContentDate"
	FieldContentTime               Field = "ContentTime"
	FieldInstanceNumber            Field = "InstanceNumber"
	FieldPixelData                 Field = "PixelData"
)

// FieldInfo describes a mandatory field and its DICOM tag.
type FieldInfo struct {
	Name Field
	Tag  tag.Tag
}

// fields lists every mandatory field in encoding order.
var fields = []FieldInfo{
	{Name: FieldSOPClassUID, Tag: tag.SOPClassUID},
	{Name: FieldSOPInstanceUID, Tag: tag.SOPInstanceUID},
	{Name: FieldContentDate, Tag: tag.ContentDate},
	{Name: FieldContentTime, Tag: tag.ContentTime},
	{Name: FieldModality, Tag: tag.Modality},
	{Name: FieldPatientName, Tag: tag.PatientName},
	{Name: FieldPatientID, Tag: tag.PatientID},
	{Name: FieldSliceThickness, Tag: tag.SliceThickness},
	{Name: FieldStudyInstanceUID, Tag: tag.StudyInstanceUID},
	{Name: FieldSeriesInstanceUID, Tag: tag.SeriesInstanceUID},
	{Name: FieldInstanceNumber, Tag: tag.InstanceNumber},
	{Name: FieldImagePositionPatient, Tag: tag.ImagePositionPatient},
	{Name: FieldImageOrientationPatient, Tag: tag.ImageOrientationPatient},
	{Name: FieldSamplesPerPixel, Tag: tag.SamplesPerPixel},
	{Name: FieldPhotometricInterpretation, Tag: tag.PhotometricInterpretation},
	{Name: FieldRows, Tag: tag.Rows},
	{Name: FieldColumns, Tag: tag.Columns},
	{Name: FieldPixelSpacing, Tag: tag.PixelSpacing},
	{Name: FieldBitsAllocated, Tag: tag.BitsAllocated},
	{Name: FieldBitsStored, Tag: tag.BitsStored},
	{Name: FieldHighBit, Tag: tag.HighBit},
	{Name: FieldPixelRepresentation, Tag: tag.PixelRepresentation},
	{Name: FieldPixelData, Tag: tag.PixelData},
}

// fieldRegistry maps lowercase field names to their FieldInfo.
var fieldRegistry = func() map[string]FieldInfo {
	m := make(map[string]FieldInfo, len(fields))
	for _, f := range fields {
		m[strings.ToLower(string(f.Name))] = f
	}
	return m
}()

// Fields returns every mandatory field in encoding order.
func Fields() []FieldInfo {
	out := make([]FieldInfo, len(fields))
	copy(out, fields)
	return out
}

// IsMandatory reports whether t is the tag of a mandatory field.
func IsMandatory(t tag.Tag) bool {
	for _, f := range fields {
		if f.Tag == t {
			return true
		}
	}
	return false
}

// LookupField returns the FieldInfo for a given field name.
// The lookup is case-insensitive. If the field is not found, an error is returned
// with a suggestion for the closest matching name (using Levenshtein distance).
func LookupField(name string) (FieldInfo, error) {
	normalizedName := strings.ToLower(strings.TrimSpace(name))

	if info, ok := fieldRegistry[normalizedName]; ok {
		return info, nil
	}

	suggestion := findClosestFieldName(normalizedName)
	if suggestion != "" {
		return FieldInfo{}, fmt.Errorf("unknown field %q, did you mean %q?", name, suggestion)
	}

	return FieldInfo{}, fmt.Errorf("unknown field %q", name)
}

// findClosestFieldName finds the closest matching field name using Levenshtein distance.
// Returns empty string if no close match is found (distance > 5).
func findClosestFieldName(input string) string {
	const maxDistance = 5
	bestDistance := maxDistance + 1
	var bestMatch string

	for _, info := range fields {
		distance := levenshteinDistance(input, strings.ToLower(string(info.Name)))
		if distance < bestDistance {
			bestDistance = distance
			bestMatch = string(info.Name)
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance is the minimum number of single-character edits
// required to change a into b.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
