// Package nifti reads single-file NIfTI-1 volumes (.nii and .nii.gz).
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/mrsinham/dicomfix/internal/volume"
)

const (
	headerSize = 348

	offDim       = 40
	offDatatype  = 70
	offBitpix    = 72
	offPixdim    = 76
	offVoxOffset = 108
	offSclSlope  = 112
	offSclInter  = 116
	offQformCode = 252
	offSformCode = 254
	offQuatern   = 256
	offQoffset   = 268
	offSrowX     = 280
	offMagic     = 344
)

// NIfTI-1 datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
	dtInt64   = 1024
)

// maxVoxels bounds the allocation made for a single volume.
const maxVoxels = 1 << 28

var gzipMagic = []byte{0x1f, 0x8b}

// FormatError reports input that is not a readable NIfTI-1 volume.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid nifti: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid nifti: %s", e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Kind returns the error's taxonomy kind.
func (e *FormatError) Kind() string {
	return "FormatError"
}

// Header holds the parsed fields of a NIfTI-1 header that loading needs.
type Header struct {
	Order     binary.ByteOrder
	Dim       [8]int16
	Datatype  int16
	Bitpix    int16
	Pixdim    [8]float32
	VoxOffset float32
	SclSlope  float32
	SclInter  float32
	QformCode int16
	SformCode int16
	Quatern   [3]float32
	Qoffset   [3]float32
	Srow      [3][4]float32
}

// LoadFile reads the volume stored at path.
func LoadFile(path string) (*volume.Volume, volume.Affine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, volume.Affine{}, err
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load reads a NIfTI-1 volume, gunzipping it first when it starts with the
// gzip magic. Only the first 3-D volume of 4-D data is read.
func Load(r io.Reader) (*volume.Volume, volume.Affine, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, volume.Affine{}, &FormatError{Reason: "bad gzip stream", Err: err}
		}
		defer func() { _ = zr.Close() }()
		return load(zr)
	}
	return load(br)
}

func load(r io.Reader) (*volume.Volume, volume.Affine, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, volume.Affine{}, &FormatError{Reason: "short header", Err: err}
	}
	h, err := ParseHeader(raw)
	if err != nil {
		return nil, volume.Affine{}, err
	}

	rows, cols, slices := dimOrOne(h.Dim, 1), dimOrOne(h.Dim, 2), dimOrOne(h.Dim, 3)
	if rows*cols*slices > maxVoxels {
		return nil, volume.Affine{}, &FormatError{Reason: fmt.Sprintf("volume %dx%dx%d too large", rows, cols, slices)}
	}

	// vox_offset counts from the start of the file.
	skip := int64(h.VoxOffset) - headerSize
	if skip < 0 {
		return nil, volume.Affine{}, &FormatError{Reason: fmt.Sprintf("vox_offset %v inside header", h.VoxOffset)}
	}
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, volume.Affine{}, &FormatError{Reason: "short extension block", Err: err}
	}

	data, err := readVoxelData(r, h, rows*cols*slices)
	if err != nil {
		return nil, volume.Affine{}, err
	}
	vol := volume.New(rows, cols, slices)
	decodeVoxels(data, h, vol.Voxels)
	return vol, h.Affine(), nil
}

// ParseHeader decodes a 348-byte NIfTI-1 header. The byte order is detected
// from sizeof_hdr.
func ParseHeader(raw []byte) (*Header, error) {
	if len(raw) < headerSize {
		return nil, &FormatError{Reason: fmt.Sprintf("header is %d bytes, want %d", len(raw), headerSize)}
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(raw) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(raw) == headerSize:
		order = binary.BigEndian
	default:
		return nil, &FormatError{Reason: "sizeof_hdr is not 348"}
	}
	if magic := string(raw[offMagic : offMagic+4]); magic != "n+1\x00" {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported magic %q (single-file n+1 only)", magic)}
	}

	i16 := func(off int) int16 { return int16(order.Uint16(raw[off:])) }
	f32 := func(off int) float32 { return math.Float32frombits(order.Uint32(raw[off:])) }

	h := &Header{
		Order:     order,
		Datatype:  i16(offDatatype),
		Bitpix:    i16(offBitpix),
		VoxOffset: f32(offVoxOffset),
		SclSlope:  f32(offSclSlope),
		SclInter:  f32(offSclInter),
		QformCode: i16(offQformCode),
		SformCode: i16(offSformCode),
	}
	for i := range h.Dim {
		h.Dim[i] = i16(offDim + 2*i)
		h.Pixdim[i] = f32(offPixdim + 4*i)
	}
	for i := 0; i < 3; i++ {
		h.Quatern[i] = f32(offQuatern + 4*i)
		h.Qoffset[i] = f32(offQoffset + 4*i)
		for j := 0; j < 4; j++ {
			h.Srow[i][j] = f32(offSrowX + 16*i + 4*j)
		}
	}

	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return nil, &FormatError{Reason: fmt.Sprintf("dim[0] = %d out of range", h.Dim[0])}
	}
	for i := 1; i <= 3 && i <= int(h.Dim[0]); i++ {
		if h.Dim[i] < 1 {
			return nil, &FormatError{Reason: fmt.Sprintf("dim[%d] = %d", i, h.Dim[i])}
		}
	}
	if _, ok := sampleSize(h.Datatype); !ok {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported datatype %d", h.Datatype)}
	}
	return h, nil
}

func dimOrOne(dim [8]int16, i int) int {
	if i > int(dim[0]) || dim[i] < 1 {
		return 1
	}
	return int(dim[i])
}

func sampleSize(datatype int16) (int, bool) {
	switch datatype {
	case dtUint8, dtInt8:
		return 1, true
	case dtInt16, dtUint16:
		return 2, true
	case dtInt32, dtUint32, dtFloat32:
		return 4, true
	case dtInt64, dtFloat64:
		return 8, true
	}
	return 0, false
}

// readVoxelData reads the bytes of count samples. The buffer grows with the
// data actually read, so a header declaring more voxels than the input holds
// fails without allocating the declared size.
func readVoxelData(r io.Reader, h *Header, count int) ([]byte, error) {
	size, _ := sampleSize(h.Datatype)
	want := int64(count) * int64(size)
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, want)
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("voxel data is %d bytes, header declares %d", n, want), Err: err}
	}
	return buf.Bytes(), nil
}

func decodeVoxels(data []byte, h *Header, dst []float32) {
	size, _ := sampleSize(h.Datatype)
	o := h.Order
	for i := range dst {
		b := data[i*size:]
		var v float64
		switch h.Datatype {
		case dtUint8:
			v = float64(b[0])
		case dtInt8:
			v = float64(int8(b[0]))
		case dtInt16:
			v = float64(int16(o.Uint16(b)))
		case dtUint16:
			v = float64(o.Uint16(b))
		case dtInt32:
			v = float64(int32(o.Uint32(b)))
		case dtUint32:
			v = float64(o.Uint32(b))
		case dtInt64:
			v = float64(int64(o.Uint64(b)))
		case dtFloat32:
			v = float64(math.Float32frombits(o.Uint32(b)))
		case dtFloat64:
			v = math.Float64frombits(o.Uint64(b))
		}
		if h.SclSlope != 0 {
			v = v*float64(h.SclSlope) + float64(h.SclInter)
		}
		dst[i] = float32(v)
	}
}
