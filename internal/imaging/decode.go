// Package imaging decodes grayscale raster uploads (PNG, TIFF, BMP) into raw
// pixel buffers that the fixer can wrap into image records.
package imaging

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/mrsinham/dicomfix/internal/geometry"
)

// MaxPixels bounds the decoded size of one image.
const MaxPixels = 1 << 28

// Raw is a decoded single-sample image: row-major, little-endian samples.
type Raw struct {
	Pixels   []byte
	Rows     int
	Cols     int
	BitDepth int
}

// FormatError reports an upload that is not a supported grayscale image.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid image: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid image: %s", e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Kind returns the error's taxonomy kind.
func (e *FormatError) Kind() string {
	return "FormatError"
}

// Decode reads a PNG, TIFF or BMP image. 16-bit grayscale keeps its depth;
// 8-bit grayscale and color images whose pixels are all gray become 8-bit
// buffers. Anything else is a *FormatError; no color conversion is attempted.
func Decode(r io.Reader) (*Raw, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(data)
}

// DecodeBytes is Decode over an in-memory upload. The header is checked
// before any pixel is decoded.
func DecodeBytes(data []byte) (*Raw, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &FormatError{Reason: "cannot decode", Err: err}
	}
	if cfg.Width > geometry.MaxDimension || cfg.Height > geometry.MaxDimension || cfg.Width*cfg.Height > MaxPixels {
		return nil, &FormatError{Reason: fmt.Sprintf("%s image %dx%d is too large", format, cfg.Width, cfg.Height)}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &FormatError{Reason: "cannot decode", Err: err}
	}

	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	if rows == 0 || cols == 0 {
		return nil, &FormatError{Reason: "empty image"}
	}

	switch src := img.(type) {
	case *image.Gray:
		return &Raw{Pixels: grayPixels(src), Rows: rows, Cols: cols, BitDepth: 8}, nil
	case *image.Gray16:
		return &Raw{Pixels: gray16Pixels(src), Rows: rows, Cols: cols, BitDepth: 16}, nil
	}

	if img.ColorModel() == color.Gray16Model {
		return &Raw{Pixels: gray16At(img), Rows: rows, Cols: cols, BitDepth: 16}, nil
	}

	pixels, ok := neutralPixels(img)
	if !ok {
		return nil, &FormatError{Reason: fmt.Sprintf("%s image is not grayscale", format)}
	}
	return &Raw{Pixels: pixels, Rows: rows, Cols: cols, BitDepth: 8}, nil
}

func grayPixels(src *image.Gray) []byte {
	b := src.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		start := src.PixOffset(b.Min.X, y)
		out = append(out, src.Pix[start:start+b.Dx()]...)
	}
	return out
}

// gray16Pixels converts the big-endian Pix layout of image.Gray16 to little-endian.
func gray16Pixels(src *image.Gray16) []byte {
	b := src.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*2)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = binary.LittleEndian.AppendUint16(out, src.Gray16At(x, y).Y)
		}
	}
	return out
}

func gray16At(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*2)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			out = binary.LittleEndian.AppendUint16(out, g.Y)
		}
	}
	return out
}

// neutralPixels extracts 8-bit samples from an opaque image whose every pixel
// has equal red, green and blue components.
func neutralPixels(img image.Image) ([]byte, bool) {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.R != c.G || c.G != c.B || c.A != 0xff {
				return nil, false
			}
			out = append(out, c.R)
		}
	}
	return out, true
}
