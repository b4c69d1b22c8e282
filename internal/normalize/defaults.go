package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mrsinham/dicomfix/internal/record"
)

// Defaults holds the values substituted for absent fields.
type Defaults struct {
	SOPClassUID               string
	Modality                  string
	PatientName               string
	PatientID                 string
	PhotometricInterpretation string
	BitsAllocated             int
	ImagePositionPatient      [3]float64
	ImageOrientationPatient   [6]float64
	PixelSpacing              [2]float64
	SliceThickness            float64
}

// StandardDefaults returns the stock default values.
func StandardDefaults() Defaults {
	return Defaults{
		SOPClassUID:               record.CTImageStorageUID,
		Modality:                  "CT",
		PatientName:               "Anonymous",
		PatientID:                 "12345",
		PhotometricInterpretation: "MONOCHROME2",
		BitsAllocated:             16,
		ImagePositionPatient:      [3]float64{0, 0, 0},
		ImageOrientationPatient:   [6]float64{1, 0, 0, 0, 1, 0},
		PixelSpacing:              [2]float64{1.0, 1.0},
		SliceThickness:            1.0,
	}
}

// Configurable lists the fields whose default Set accepts.
func Configurable() []record.Field {
	return []record.Field{
		record.FieldSOPClassUID,
		record.FieldModality,
		record.FieldPatientName,
		record.FieldPatientID,
		record.FieldPhotometricInterpretation,
		record.FieldBitsAllocated,
		record.FieldSliceThickness,
		record.FieldPixelSpacing,
		record.FieldImagePositionPatient,
		record.FieldImageOrientationPatient,
	}
}

// Set overrides the default of the named field. Names are resolved through the
// field registry, so lookups are case-insensitive and typos get a suggestion.
// Multi-valued fields take backslash-separated values, as in DICOM.
func (d *Defaults) Set(name, value string) error {
	info, err := record.LookupField(name)
	if err != nil {
		return err
	}

	switch info.Name {
	case record.FieldSOPClassUID:
		d.SOPClassUID = value
	case record.FieldModality:
		d.Modality = value
	case record.FieldPatientName:
		d.PatientName = value
	case record.FieldPatientID:
		d.PatientID = value
	case record.FieldPhotometricInterpretation:
		d.PhotometricInterpretation = value
	case record.FieldBitsAllocated:
		bits, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || bits <= 0 || bits%8 != 0 {
			return fmt.Errorf("default %s: %q is not a positive multiple of 8", info.Name, value)
		}
		d.BitsAllocated = bits
	case record.FieldSliceThickness:
		v, err := parseFloats(value, 1)
		if err != nil {
			return fmt.Errorf("default %s: %w", info.Name, err)
		}
		d.SliceThickness = v[0]
	case record.FieldPixelSpacing:
		v, err := parseFloats(value, 2)
		if err != nil {
			return fmt.Errorf("default %s: %w", info.Name, err)
		}
		d.PixelSpacing = [2]float64(v)
	case record.FieldImagePositionPatient:
		v, err := parseFloats(value, 3)
		if err != nil {
			return fmt.Errorf("default %s: %w", info.Name, err)
		}
		d.ImagePositionPatient = [3]float64(v)
	case record.FieldImageOrientationPatient:
		v, err := parseFloats(value, 6)
		if err != nil {
			return fmt.Errorf("default %s: %w", info.Name, err)
		}
		d.ImageOrientationPatient = [6]float64(v)
	default:
		return fmt.Errorf("field %s has no configurable default", info.Name)
	}
	return nil
}

func parseFloats(value string, n int) ([]float64, error) {
	parts := strings.Split(value, `\`)
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d values, got %d in %q", n, len(parts), value)
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out[i] = f
	}
	return out, nil
}
