package dicom

import (
	"strconv"
	"strings"

	"github.com/mrsinham/dicomfix/internal/record"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// maxDSLength is the longest value a DS (Decimal String) element may hold.
const maxDSLength = 16

// formatDS renders f as the shortest DS string that fits in 16 characters.
func formatDS(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	for prec := 15; len(s) > maxDSLength && prec > 0; prec-- {
		s = strconv.FormatFloat(f, 'g', prec, 64)
	}
	return s
}

func formatDSList(values []float64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = formatDS(v)
	}
	return out
}

// stringValues returns the trimmed string values of t, or nil when the
// element is absent or not string-valued.
func stringValues(ds dicom.Dataset, t tag.Tag) []string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return nil
	}
	raw, ok := elem.Value.GetValue().([]string)
	if !ok {
		return nil
	}
	out := make([]string, len(raw))
	for i, s := range raw {
		out[i] = strings.TrimRight(strings.TrimSpace(s), "\x00")
	}
	return out
}

// firstString treats empty values as absent.
func firstString(ds dicom.Dataset, t tag.Tag) *string {
	values := stringValues(ds, t)
	if len(values) == 0 || values[0] == "" {
		return nil
	}
	return record.Ptr(values[0])
}

// firstInt reads US/SS values ([]int) as well as IS strings.
func firstInt(ds dicom.Dataset, t tag.Tag) *int {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return nil
	}
	switch v := elem.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return record.Ptr(v[0])
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			if err == nil {
				return record.Ptr(n)
			}
		}
	}
	return nil
}

func firstFloat(ds dicom.Dataset, t tag.Tag) *float64 {
	v := floats(ds, t, 1)
	if v == nil {
		return nil
	}
	return record.Ptr(v[0])
}

// floats parses exactly n DS values; any other count or an unparsable value
// counts as absent.
func floats(ds dicom.Dataset, t tag.Tag, n int) []float64 {
	values := stringValues(ds, t)
	if len(values) != n {
		return nil
	}
	out := make([]float64, n)
	for i, s := range values {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		out[i] = f
	}
	return out
}

// trimPadding drops the pad byte added to odd-length pixel data on encode.
func trimPadding(pixels []byte, p record.Partial) []byte {
	if p.Rows == nil || p.Columns == nil || p.BitsAllocated == nil {
		return pixels
	}
	expected := *p.Rows * *p.Columns * (*p.BitsAllocated / 8)
	if expected%2 == 1 && len(pixels) == expected+1 {
		return pixels[:expected]
	}
	return pixels
}
