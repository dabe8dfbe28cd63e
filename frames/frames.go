// Package frames converts raw camera frames into the pixel layouts the rest
// of the capture pipeline consumes: an interleaved RGB raster for encoding
// and display, and the NV21 byte layout some face detectors require.
package frames

import (
	"fmt"
	"image"
	"time"
)

// Format tags the pixel layout of a raw camera frame.
type Format int

const (
	// FormatYUV420 is planar YUV 4:2:0 with per-plane stride and pixel stride.
	FormatYUV420 Format = iota
	// FormatBGRA is packed 8-bit BGRA.
	FormatBGRA
)

func (f Format) String() string {
	switch f {
	case FormatYUV420:
		return "yuv420"
	case FormatBGRA:
		return "bgra"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Plane holds one plane of a raw frame.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Frame is a single raw camera frame. YUV420 frames carry three planes
// (Y, U, V); BGRA frames carry one.
type Frame struct {
	Format    Format
	Width     int
	Height    int
	Planes    []Plane
	Timestamp time.Time
}

// ErrConversionFailed is returned for frames in a layout the converter does
// not understand. Callers skip the frame; this is never fatal to a session.
type ErrConversionFailed struct {
	Format Format
	Detail string
}

func (e ErrConversionFailed) Error() string {
	return fmt.Sprintf("frame conversion failed (%s): %s", e.Format, e.Detail)
}

// BT.601 inverse coefficients (YUV -> RGB).
const (
	vToR = 1.370705
	uToG = 0.337633
	vToG = 0.698001
	uToB = 1.732446
)

// BT.601 forward coefficients (RGB -> luma/chroma), matching the inverse set
// above so a converted frame survives a round trip.
const (
	rToY = 0.299
	gToY = 0.587
	bToY = 0.114

	rToV = 0.439
	gToV = 0.368
	bToV = 0.071

	rToU = 0.148
	gToU = 0.291
	bToU = 0.439
)

// ToRGB converts a raw frame into an interleaved RGB raster of the same
// dimensions.
func ToRGB(f *Frame) (*image.RGBA, error) {
	switch f.Format {
	case FormatYUV420:
		return yuv420ToRGB(f)
	case FormatBGRA:
		return bgraToRGB(f)
	default:
		return nil, ErrConversionFailed{Format: f.Format, Detail: "unsupported pixel format"}
	}
}

// ToNV21 converts a raw frame into the NV21 byte layout: the full-resolution
// luma plane followed by interleaved V/U samples at half horizontal and half
// vertical resolution.
func ToNV21(f *Frame) ([]byte, error) {
	switch f.Format {
	case FormatYUV420:
		return yuv420ToNV21(f)
	case FormatBGRA:
		return bgraToNV21(f)
	default:
		return nil, ErrConversionFailed{Format: f.Format, Detail: "unsupported pixel format"}
	}
}

func yuv420ToRGB(f *Frame) (*image.RGBA, error) {
	if len(f.Planes) != 3 {
		return nil, ErrConversionFailed{Format: f.Format, Detail: fmt.Sprintf("expected 3 planes, got %d", len(f.Planes))}
	}
	yp, up, vp := f.Planes[0], f.Planes[1], f.Planes[2]
	if len(yp.Data) == 0 || len(up.Data) == 0 || len(vp.Data) == 0 {
		return nil, ErrConversionFailed{Format: f.Format, Detail: "empty plane"}
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			yi := y*yp.RowStride + x*yp.PixelStride
			ci := (y/2)*up.RowStride + (x/2)*up.PixelStride
			if yi >= len(yp.Data) || ci >= len(up.Data) || ci >= len(vp.Data) {
				return nil, ErrConversionFailed{Format: f.Format, Detail: "plane data shorter than stride geometry"}
			}

			luma := float64(yp.Data[yi])
			u := float64(up.Data[ci]) - 128
			v := float64(vp.Data[ci]) - 128

			o := img.PixOffset(x, y)
			img.Pix[o+0] = clamp8(luma + vToR*v)
			img.Pix[o+1] = clamp8(luma - uToG*u - vToG*v)
			img.Pix[o+2] = clamp8(luma + uToB*u)
			img.Pix[o+3] = 0xFF
		}
	}
	return img, nil
}

func bgraToRGB(f *Frame) (*image.RGBA, error) {
	p, err := singlePlane(f, 4)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			i := y*p.RowStride + x*p.PixelStride
			o := img.PixOffset(x, y)
			img.Pix[o+0] = p.Data[i+2] // R
			img.Pix[o+1] = p.Data[i+1] // G
			img.Pix[o+2] = p.Data[i+0] // B
			img.Pix[o+3] = 0xFF
		}
	}
	return img, nil
}

func yuv420ToNV21(f *Frame) ([]byte, error) {
	if len(f.Planes) != 3 {
		return nil, ErrConversionFailed{Format: f.Format, Detail: fmt.Sprintf("expected 3 planes, got %d", len(f.Planes))}
	}
	yp, up, vp := f.Planes[0], f.Planes[1], f.Planes[2]

	out := make([]byte, f.Width*f.Height+2*((f.Width/2)*(f.Height/2)))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			yi := y*yp.RowStride + x*yp.PixelStride
			if yi >= len(yp.Data) {
				return nil, ErrConversionFailed{Format: f.Format, Detail: "luma plane shorter than stride geometry"}
			}
			out[y*f.Width+x] = yp.Data[yi]
		}
	}

	// Chroma rows hold Width/2 interleaved VU pairs; odd widths drop the
	// rightmost column, so the output stride is 2*(Width/2), not Width.
	base := f.Width * f.Height
	chromaStride := 2 * (f.Width / 2)
	for y := 0; y < f.Height/2; y++ {
		for x := 0; x < f.Width/2; x++ {
			ci := y*up.RowStride + x*up.PixelStride
			if ci >= len(up.Data) || ci >= len(vp.Data) {
				return nil, ErrConversionFailed{Format: f.Format, Detail: "chroma plane shorter than stride geometry"}
			}
			out[base+y*chromaStride+2*x] = vp.Data[ci]
			out[base+y*chromaStride+2*x+1] = up.Data[ci]
		}
	}
	return out, nil
}

func bgraToNV21(f *Frame) ([]byte, error) {
	p, err := singlePlane(f, 4)
	if err != nil {
		return nil, err
	}

	out := make([]byte, f.Width*f.Height+2*((f.Width/2)*(f.Height/2)))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			i := y*p.RowStride + x*p.PixelStride
			b := float64(p.Data[i+0])
			g := float64(p.Data[i+1])
			r := float64(p.Data[i+2])
			out[y*f.Width+x] = clamp8(rToY*r + gToY*g + bToY*b)
		}
	}

	// Chroma is sampled from the top-left pixel of each 2x2 block and packed
	// at 2*(Width/2) bytes per row.
	base := f.Width * f.Height
	chromaStride := 2 * (f.Width / 2)
	for y := 0; y < f.Height/2; y++ {
		for x := 0; x < f.Width/2; x++ {
			i := (2*y)*p.RowStride + (2*x)*p.PixelStride
			b := float64(p.Data[i+0])
			g := float64(p.Data[i+1])
			r := float64(p.Data[i+2])
			out[base+y*chromaStride+2*x] = clamp8(rToV*r - gToV*g - bToV*b + 128)
			out[base+y*chromaStride+2*x+1] = clamp8(-rToU*r - gToU*g + bToU*b + 128)
		}
	}
	return out, nil
}

func singlePlane(f *Frame, pixelBytes int) (Plane, error) {
	if len(f.Planes) != 1 {
		return Plane{}, ErrConversionFailed{Format: f.Format, Detail: fmt.Sprintf("expected 1 plane, got %d", len(f.Planes))}
	}
	p := f.Planes[0]
	if p.PixelStride == 0 {
		p.PixelStride = pixelBytes
	}
	if p.RowStride == 0 {
		p.RowStride = f.Width * p.PixelStride
	}
	need := (f.Height-1)*p.RowStride + (f.Width-1)*p.PixelStride + pixelBytes
	if len(p.Data) < need {
		return Plane{}, ErrConversionFailed{Format: f.Format, Detail: "plane data shorter than stride geometry"}
	}
	return p, nil
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
