package images

import (
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func marked(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{A: 255})
		}
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255}) // top-left marker
	return img
}

func TestRotateQuarterTurns(t *testing.T) {
	src := marked(4, 2)

	tests := []struct {
		angle      int
		wantW      int
		wantH      int
		markerX    int
		markerY    int
	}{
		{0, 4, 2, 0, 0},
		{90, 2, 4, 1, 0},
		{180, 4, 2, 3, 1},
		{270, 2, 4, 0, 3},
	}

	for _, tt := range tests {
		out, err := Rotate(src, tt.angle)
		require.NoError(t, err)
		require.Equal(t, tt.wantW, out.Bounds().Dx(), "angle %d", tt.angle)
		require.Equal(t, tt.wantH, out.Bounds().Dy(), "angle %d", tt.angle)

		r, _, _, _ := out.At(tt.markerX, tt.markerY).RGBA()
		require.Equal(t, uint32(0xFFFF), r, "marker after %d degrees", tt.angle)
	}
}

func TestRotateFullCircleRestoresImage(t *testing.T) {
	src := marked(3, 5)

	img := image.Image(src)
	for i := 0; i < 4; i++ {
		var err error
		img, err = Rotate(img, 90)
		require.NoError(t, err)
	}

	require.Equal(t, src.Bounds(), img.Bounds())
	r, _, _, _ := img.At(0, 0).RGBA()
	require.Equal(t, uint32(0xFFFF), r)
}

func TestRotateRejectsArbitraryAngle(t *testing.T) {
	_, err := Rotate(marked(2, 2), 45)
	require.Error(t, err)
}

func TestDecodeRoundTrip(t *testing.T) {
	data, err := EncodePNG(marked(6, 4))
	require.NoError(t, err)

	img, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, 6, img.Bounds().Dx())
	require.Equal(t, 4, img.Bounds().Dy())
}

func TestDecodeGarbageFails(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	require.Error(t, err)
}

func TestNormalizeOrientationWithoutExif(t *testing.T) {
	data, err := EncodePNG(marked(4, 2))
	require.NoError(t, err)

	img, err := NormalizeOrientation(data)
	require.NoError(t, err)
	require.Equal(t, 4, img.Bounds().Dx(), "no EXIF means no rotation")
}

func TestApplyOrientationRotates(t *testing.T) {
	src := marked(4, 2)

	out := ApplyOrientation(src, 6) // 90 degrees clockwise
	require.Equal(t, 2, out.Bounds().Dx())
	require.Equal(t, 4, out.Bounds().Dy())

	out = ApplyOrientation(src, 1)
	require.Equal(t, src.Bounds(), out.Bounds())
}

func TestApplyOrientationMirror(t *testing.T) {
	src := marked(4, 2)

	out := ApplyOrientation(src, 2) // horizontal mirror
	r, _, _, _ := out.At(3, 0).RGBA()
	require.Equal(t, uint32(0xFFFF), r, "marker moved to top-right")
}

func TestResizeToFitKeepsSmallImages(t *testing.T) {
	src := marked(10, 10)
	require.Equal(t, src, ResizeToFit(src, 100, 100))
}

func TestResizeToFitScalesDown(t *testing.T) {
	out := ResizeToFit(marked(200, 100), 50, 50)
	require.Equal(t, 50, out.Bounds().Dx())
	require.Equal(t, 25, out.Bounds().Dy())
}

func TestWorkFileLifecycle(t *testing.T) {
	wf, err := NewWorkImage(marked(2, 2))
	require.NoError(t, err)

	_, err = os.Stat(wf.Path)
	require.NoError(t, err)

	require.NoError(t, wf.Cleanup())
	_, err = os.Stat(wf.Path)
	require.True(t, os.IsNotExist(err))

	// removing twice is fine
	require.NoError(t, wf.Cleanup())
}

func TestGrayscale(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	img.Set(1, 0, color.RGBA{A: 255})

	gray, w, h := Grayscale(img)
	require.Equal(t, 2, w)
	require.Equal(t, 1, h)
	require.InDelta(t, 255, int(gray[0]), 1)
	require.Equal(t, uint8(0), gray[1])
}
