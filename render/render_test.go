package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/tree-defect-detection-service/classes"
	"github.com/Tutortoise/tree-defect-detection-service/detections"
	"github.com/Tutortoise/tree-defect-detection-service/models"
)

var red = color.NRGBA{R: 255, A: 255}

func solid(c color.NRGBA) ColorPicker {
	return ColorFunc(func(models.Detection) color.NRGBA { return c })
}

func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 2), G: uint8(y), B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func whitePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeNRGBA(t *testing.T, data []byte) *image.NRGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return imaging.Clone(img)
}

func TestRender_NoDetectionsKeepsPixels(t *testing.T) {
	src := gradientPNG(t, 30, 20)

	out, err := New(nil).Render(src, nil)
	require.NoError(t, err)

	assert.Equal(t, decodeNRGBA(t, src).Pix, decodeNRGBA(t, out).Pix)
}

func TestRender_DoesNotMutateInput(t *testing.T) {
	src := whitePNG(t, 20, 20)
	orig := append([]byte(nil), src...)

	_, err := New(solid(red)).Render(src, []models.Detection{{ClassLabel: "x", Score: 1, Box: models.BoundingBox{Xmax: 1, Ymax: 1}}})
	require.NoError(t, err)
	assert.Equal(t, orig, src)
}

func TestRender_BoxPixelBounds(t *testing.T) {
	det := models.Detection{
		ClassLabel: "kanker",
		Score:      0.5,
		Box:        models.BoundingBox{Ymin: 0.1, Xmin: 0.2, Ymax: 0.5, Xmax: 0.6},
	}
	assert.Equal(t, Box{X0: 20, Y0: 20, X1: 60, Y1: 100}, PixelBox(det.Box, 100, 200))

	out, err := New(solid(red)).Render(whitePNG(t, 100, 200), []models.Detection{det})
	require.NoError(t, err)
	img := decodeNRGBA(t, out)

	// Edges and the 2px stroke.
	for _, p := range []image.Point{{20, 20}, {60, 20}, {20, 100}, {60, 100}, {21, 50}, {59, 50}, {40, 21}, {40, 99}} {
		assert.Equal(t, red, img.NRGBAAt(p.X, p.Y), "pixel %v", p)
	}
	// Outside the box and inside the stroke.
	for _, p := range []image.Point{{19, 50}, {61, 50}, {40, 101}, {22, 50}, {58, 50}, {40, 50}} {
		assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, img.NRGBAAt(p.X, p.Y), "pixel %v", p)
	}

	// Below the label every painted pixel lies within the box.
	for y := 13; y < 200; y++ {
		for x := 0; x < 100; x++ {
			if img.NRGBAAt(x, y) == red {
				assert.True(t, x >= 20 && x <= 60 && y >= 20 && y <= 100, "painted pixel (%d,%d) outside box", x, y)
			}
		}
	}
}

func TestRender_LabelAboveBox(t *testing.T) {
	det := models.Detection{ClassLabel: "liana", Score: 0.9, Box: models.BoundingBox{Ymin: 0.5, Xmin: 0.1, Ymax: 0.9, Xmax: 0.9}}

	out, err := New(solid(red)).Render(whitePNG(t, 200, 100), []models.Detection{det})
	require.NoError(t, err)
	img := decodeNRGBA(t, out)

	// Box top is y=50, label baseline y=40: glyphs sit in roughly [29,42].
	painted := 0
	for y := 25; y < 45; y++ {
		for x := 20; x < 200; x++ {
			if img.NRGBAAt(x, y) == red {
				painted++
			}
		}
	}
	assert.Positive(t, painted)
}

func TestRender_ClampsToCanvas(t *testing.T) {
	det := models.Detection{ClassLabel: "konk", Score: 0.1, Box: models.BoundingBox{Ymin: -0.5, Xmin: -0.5, Ymax: 1.5, Xmax: 1.5}}

	out, err := New(solid(red)).Render(whitePNG(t, 10, 10), []models.Detection{det})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 10), decodeNRGBA(t, out).Bounds())
}

func TestRender_DecodeError(t *testing.T) {
	_, err := New(nil).Render([]byte("<html></html>"), nil)

	var decodeErr *detections.DecodeError
	require.True(t, errors.As(err, &decodeErr), "got %v", err)
	assert.Contains(t, decodeErr.MIME, "text/html")
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "batang_pecah (87.00%)", Label(models.Detection{ClassLabel: "batang_pecah", Score: 0.87}))
	assert.Equal(t, "konk (100.00%)", Label(models.Detection{ClassLabel: "konk", Score: 1}))
}

func TestColorPickers(t *testing.T) {
	det := models.Detection{ClassLabel: "konk"}

	a, b := NewSeededColors(7), NewSeededColors(7)
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Pick(det), b.Pick(det))
	}

	palette := NewPaletteColors(classes.Default())
	assert.Equal(t, palette.Pick(det), palette.Pick(det))
	assert.Equal(t, defaultPalette[10], palette.Pick(det))
	assert.NotEqual(t, palette.Pick(det), palette.Pick(models.Detection{ClassLabel: "liana"}))

	unknown := models.Detection{ClassLabel: "not in table"}
	assert.Equal(t, palette.Pick(unknown), palette.Pick(unknown))

	c := RandomColors{}.Pick(det)
	assert.Equal(t, uint8(0xff), c.A)
}
