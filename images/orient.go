package images

import (
	"bytes"
	"image"
	"image/draw"
	"log/slog"

	"github.com/rwcarlsen/goexif/exif"
)

// NormalizeOrientation decodes the image bytes and applies any stored EXIF
// orientation so the result is upright. Bytes without orientation metadata
// (or without EXIF at all) decode as-is; only an undecodable image is an
// error.
func NormalizeOrientation(data []byte) (image.Image, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	orientation := readOrientation(data)
	if orientation <= 1 {
		return img, nil
	}

	slog.Debug("Applying EXIF orientation", "orientation", orientation)
	return ApplyOrientation(img, orientation), nil
}

// readOrientation returns the EXIF orientation value (1-8), or 0 when the
// bytes carry no usable EXIF block.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}

// ApplyOrientation maps an EXIF orientation value (1-8) onto the image.
// Unknown values return the image unchanged.
func ApplyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return flipH(img)
	case 3:
		return mustRotate(img, 180)
	case 4:
		return flipV(img)
	case 5:
		return flipH(mustRotate(img, 90))
	case 6:
		return mustRotate(img, 90)
	case 7:
		return flipH(mustRotate(img, 270))
	case 8:
		return mustRotate(img, 270)
	default:
		return img
	}
}

// mustRotate is Rotate restricted to the quarter turns, which cannot fail.
func mustRotate(img image.Image, angle int) image.Image {
	out, err := Rotate(img, angle)
	if err != nil {
		return img
	}
	return out
}

func flipH(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx()/2; x++ {
			o1 := dst.PixOffset(x, y)
			o2 := dst.PixOffset(b.Dx()-1-x, y)
			for i := 0; i < 4; i++ {
				dst.Pix[o1+i], dst.Pix[o2+i] = dst.Pix[o2+i], dst.Pix[o1+i]
			}
		}
	}
	return dst
}

func flipV(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	for y := 0; y < b.Dy()/2; y++ {
		for x := 0; x < b.Dx(); x++ {
			o1 := dst.PixOffset(x, y)
			o2 := dst.PixOffset(x, b.Dy()-1-y)
			for i := 0; i < 4; i++ {
				dst.Pix[o1+i], dst.Pix[o2+i] = dst.Pix[o2+i], dst.Pix[o1+i]
			}
		}
	}
	return dst
}
