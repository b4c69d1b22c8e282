package dicomtest

import (
	"bytes"
	"encoding/binary"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Vendor selects a set of scanner private elements.
type Vendor string

const (
	Siemens Vendor = "siemens"
	GE      Vendor = "ge"
	Philips Vendor = "philips"
)

// Vendor private tags written by VendorElements.
var (
	SiemensCSAImageTag = tag.Tag{Group: 0x0029, Element: 0x1010}
	SiemensSequenceTag = tag.Tag{Group: 0x0029, Element: 0x1102}
	GESoftwareTag      = tag.Tag{Group: 0x0009, Element: 0x10E3}
	PhilipsSequenceTag = tag.Tag{Group: 0x2005, Element: 0x100E}
)

// csaElement is one entry of a Siemens CSA header.
type csaElement struct {
	Name    string
	VM      int32
	VR      string
	SyngoDT int32
	Values  []string
}

// buildCSAHeader encodes elements in the "SV10" layout Siemens scanners use.
func buildCSAHeader(elements []csaElement) []byte {
	var buf bytes.Buffer
	buf.WriteString("SV10")
	buf.Write([]byte{0x04, 0x03, 0x02, 0x01})

	// binary.Write to bytes.Buffer never fails; discard errors explicitly.
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(elements)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0x4D))

	for _, elem := range elements {
		name := make([]byte, 64)
		copy(name, elem.Name)
		buf.Write(name)
		_ = binary.Write(&buf, binary.LittleEndian, elem.VM)
		vr := make([]byte, 4)
		copy(vr, elem.VR)
		buf.Write(vr)
		_ = binary.Write(&buf, binary.LittleEndian, elem.SyngoDT)
		_ = binary.Write(&buf, binary.LittleEndian, int32(len(elem.Values)))
		_ = binary.Write(&buf, binary.LittleEndian, uint32(0x4D))

		for _, v := range elem.Values {
			// Item length, repeated 4 times
			for range 4 {
				_ = binary.Write(&buf, binary.LittleEndian, uint32(len(v)))
			}
			buf.WriteString(v)
			if pad := (4 - len(v)%4) % 4; pad > 0 {
				buf.Write(make([]byte, pad))
			}
		}
	}
	return buf.Bytes()
}

func siemensElements() []*dicom.Element {
	csa := buildCSAHeader([]csaElement{
		{Name: "NumberOfImagesInMosaic", VM: 1, VR: "IS", SyngoDT: 6, Values: []string{"1"}},
		{Name: "SliceNormalVector", VM: 3, VR: "FD", SyngoDT: 3, Values: []string{"0.0", "0.0", "1.0"}},
		{Name: "B_value", VM: 1, VR: "IS", SyngoDT: 6, Values: []string{"0"}},
		{Name: "ImaCoilString", VM: 1, VR: "LO", SyngoDT: 19, Values: []string{"HEA;HEP"}},
	})
	if len(csa)%2 != 0 {
		csa = append(csa, 0)
	}

	item := []*dicom.Element{
		mustNewPrivateElement(tag.Tag{Group: 0x0029, Element: 0x0011}, "LO", []string{"SIEMENS CSA NON-IMAGE"}),
		mustNewPrivateElement(tag.Tag{Group: 0x0029, Element: 0x1100}, "OB", make([]byte, 64)),
	}
	return []*dicom.Element{
		mustNewPrivateElement(tag.Tag{Group: 0x0029, Element: 0x0010}, "LO", []string{"SIEMENS CSA HEADER"}),
		mustNewPrivateElement(SiemensCSAImageTag, "OB", csa),
		mustNewPrivateElement(SiemensSequenceTag, "SQ", [][]*dicom.Element{item}),
	}
}

func geElements() []*dicom.Element {
	return []*dicom.Element{
		mustNewPrivateElement(tag.Tag{Group: 0x0009, Element: 0x0010}, "LO", []string{"GEMS_IDEN_01"}),
		mustNewPrivateElement(GESoftwareTag, "LO", []string{"DV26.0_R03_M5"}),
		mustNewPrivateElement(tag.Tag{Group: 0x0043, Element: 0x0010}, "LO", []string{"GEMS_PARM_01"}),
		mustNewPrivateElement(tag.Tag{Group: 0x0043, Element: 0x1039}, "IS", []string{"1000", "0", "0", "0"}),
	}
}

func philipsElements() []*dicom.Element {
	item := []*dicom.Element{
		mustNewPrivateElement(tag.Tag{Group: 0x2005, Element: 0x0011}, "LO", []string{"Philips MR Imaging DD 005"}),
		mustNewPrivateElement(tag.Tag{Group: 0x2005, Element: 0x1100}, "DS", []string{"2.5"}),
		mustNewPrivateElement(tag.Tag{Group: 0x2005, Element: 0x1101}, "DS", []string{"-1.25"}),
	}
	return []*dicom.Element{
		mustNewPrivateElement(tag.Tag{Group: 0x2001, Element: 0x0010}, "LO", []string{"Philips Imaging DD 001"}),
		mustNewPrivateElement(tag.Tag{Group: 0x2005, Element: 0x0010}, "LO", []string{"Philips MR Imaging DD 001"}),
		mustNewPrivateElement(PhilipsSequenceTag, "SQ", [][]*dicom.Element{item}),
	}
}

// VendorElements returns the private elements v's scanners write.
func VendorElements(v Vendor) []*dicom.Element {
	switch v {
	case Siemens:
		return siemensElements()
	case GE:
		return geElements()
	case Philips:
		return philipsElements()
	}
	return nil
}
