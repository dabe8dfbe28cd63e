// Package images holds the image plumbing shared by the capture and
// extraction pipeline: decoding, EXIF orientation recovery, quarter-turn
// rotation and scoped working files.
package images

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Decode attempts to decode an image from bytes, trying JPEG first (most
// common for camera output) and falling back to generic decode.
func Decode(data []byte) (image.Image, error) {
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("unsupported or invalid image format")
}

// EncodePNG encodes an image to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes an image to JPEG bytes at a quality suitable for
// recognition input.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop copies the part of img covered by rect into a fresh image. The
// rectangle is clipped to the image bounds first.
func Crop(img image.Image, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// Rotate returns img rotated clockwise by angle degrees. Only the four
// canonical quarter turns are supported; any other angle returns an error.
// Quarter turns use a nearest-neighbour transform so pixel values survive
// the rotation exactly.
func Rotate(img image.Image, angle int) (image.Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.RGBA
	var s2d f64.Aff3
	switch ((angle % 360) + 360) % 360 {
	case 0:
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		s2d = f64.Aff3{1, 0, 0, 0, 1, 0}
	case 90:
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		s2d = f64.Aff3{0, -1, float64(h), 1, 0, 0}
	case 180:
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		s2d = f64.Aff3{-1, 0, float64(w), 0, -1, float64(h)}
	case 270:
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		s2d = f64.Aff3{0, 1, 0, -1, 0, float64(w)}
	default:
		return nil, fmt.Errorf("unsupported rotation angle %d", angle)
	}

	xdraw.NearestNeighbor.Transform(dst, s2d, img, b, xdraw.Src, nil)
	return dst, nil
}

// ResizeToFit scales img to fit within maxW×maxH (keeping aspect ratio). If
// either bound is 0, the other bounds the size.
func ResizeToFit(src image.Image, maxW, maxH int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()

	if maxW <= 0 && maxH <= 0 {
		return src
	}
	if maxW <= 0 {
		scale := float64(maxH) / float64(bh)
		maxW = int(math.Round(float64(bw) * scale))
	}
	if maxH <= 0 {
		scale := float64(maxW) / float64(bw)
		maxH = int(math.Round(float64(bh) * scale))
	}

	scale := math.Min(float64(maxW)/float64(bw), float64(maxH)/float64(bh))
	if scale >= 1.0 {
		return src // already small enough
	}
	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom = high quality, good for photos/faces.
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

// Grayscale flattens an image into a row-major 8-bit luma buffer.
func Grayscale(img image.Image) ([]uint8, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out[y*w+x] = uint8((299*(r>>8) + 587*(g>>8) + 114*(bl>>8)) / 1000)
		}
	}
	return out, w, h
}
