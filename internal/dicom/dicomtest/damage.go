package dicomtest

import (
	"encoding/binary"
	"slices"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Truncate returns the first n bytes of data.
func Truncate(data []byte, n int) []byte {
	return slices.Clone(data[:min(n, len(data))])
}

// TruncatePixelData cuts data in the middle of the pixel data value, so the
// header and every element before PixelData still parse.
func TruncatePixelData(data []byte) []byte {
	i := findExplicitElement(data, tag.PixelData)
	if i < 0 {
		return slices.Clone(data)
	}
	vl := int(binary.LittleEndian.Uint32(data[i+8 : i+12]))
	return Truncate(data, i+12+vl/2)
}

// RewriteTag finds the element with tag from and rewrites its tag, VR and
// value length in place on a copy of data. The value bytes are untouched,
// which produces elements whose length contradicts their VR.
func RewriteTag(data []byte, from, to tag.Tag, vr string, vl uint32) []byte {
	out := slices.Clone(data)
	i := findExplicitElement(out, from)
	if i < 0 {
		return out
	}

	binary.LittleEndian.PutUint16(out[i:i+2], to.Group)
	binary.LittleEndian.PutUint16(out[i+2:i+4], to.Element)
	copy(out[i+4:i+6], vr)

	switch vr {
	case "OB", "OW", "OF", "SQ", "UC", "UN", "UR", "UT":
		// Long form: VR(2) + Reserved(2) + VL(4)
		out[i+6] = 0x00
		out[i+7] = 0x00
		binary.LittleEndian.PutUint32(out[i+8:i+12], vl)
	default:
		// Short form: VR(2) + VL(2)
		binary.LittleEndian.PutUint16(out[i+6:i+8], uint16(vl))
	}
	return out
}

// findExplicitElement returns the offset of the first explicit VR little endian
// element header carrying t, or -1.
func findExplicitElement(data []byte, t tag.Tag) int {
	var want [4]byte
	binary.LittleEndian.PutUint16(want[0:2], t.Group)
	binary.LittleEndian.PutUint16(want[2:4], t.Element)

	for i := 0; i <= len(data)-12; i++ {
		if data[i] == want[0] && data[i+1] == want[1] && data[i+2] == want[2] && data[i+3] == want[3] {
			return i
		}
	}
	return -1
}
