// Package render draws detection boxes and labels over images.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Tutortoise/tree-defect-detection-service/detections"
	"github.com/Tutortoise/tree-defect-detection-service/models"
)

const (
	DefaultStrokeWidth = 2
	DefaultLabelOffset = 10
)

type Renderer struct {
	Colors      ColorPicker
	StrokeWidth int
	// LabelOffset is the distance in pixels from the box top to the label
	// baseline.
	LabelOffset int
	Face        font.Face
}

// New returns a renderer with a 2px stroke and labels 10px above the box.
// A nil picker means RandomColors.
func New(colors ColorPicker) *Renderer {
	if colors == nil {
		colors = RandomColors{}
	}
	return &Renderer{
		Colors:      colors,
		StrokeWidth: DefaultStrokeWidth,
		LabelOffset: DefaultLabelOffset,
		Face:        basicfont.Face7x13,
	}
}

// Box is a pixel rectangle with inclusive bounds.
type Box struct {
	X0, Y0, X1, Y1 int
}

// PixelBox maps a normalized box onto a width x height image.
func PixelBox(b models.BoundingBox, width, height int) Box {
	x0 := int(math.Round(float64(b.Xmin) * float64(width)))
	x1 := int(math.Round(float64(b.Xmax) * float64(width)))
	y0 := int(math.Round(float64(b.Ymin) * float64(height)))
	y1 := int(math.Round(float64(b.Ymax) * float64(height)))
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return Box{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

// Label formats the caption drawn above a box.
func Label(det models.Detection) string {
	return fmt.Sprintf("%s (%.2f%%)", det.ClassLabel, float64(det.Score)*100)
}

// Render decodes data, draws dets on a copy and returns it PNG encoded.
func (r *Renderer) Render(data []byte, dets []models.Detection) ([]byte, error) {
	img, err := detections.Decode(data)
	if err != nil {
		return nil, err
	}

	canvas := imaging.Clone(img)
	width, height := canvas.Rect.Dx(), canvas.Rect.Dy()

	for _, det := range dets {
		box := PixelBox(det.Box, width, height)
		c := r.Colors.Pick(det)
		r.strokeRect(canvas, box, c)
		r.drawLabel(canvas, box.X0, box.Y0-r.LabelOffset, Label(det), c)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, errors.Wrap(err, "encode rendered image")
	}
	return buf.Bytes(), nil
}

// strokeRect paints the outline inwards from the box edges so the painted
// pixels never leave the box.
func (r *Renderer) strokeRect(dst *image.NRGBA, b Box, c color.NRGBA) {
	stroke := max(r.StrokeWidth, 1)
	for t := 0; t < stroke; t++ {
		hline(dst, b.X0, b.X1, b.Y0+t, c)
		hline(dst, b.X0, b.X1, b.Y1-t, c)
		vline(dst, b.X0+t, b.Y0, b.Y1, c)
		vline(dst, b.X1-t, b.Y0, b.Y1, c)
	}
}

func hline(dst *image.NRGBA, x0, x1, y int, c color.NRGBA) {
	if y < dst.Rect.Min.Y || y >= dst.Rect.Max.Y {
		return
	}
	x0 = max(x0, dst.Rect.Min.X)
	x1 = min(x1, dst.Rect.Max.X-1)
	for x := x0; x <= x1; x++ {
		dst.SetNRGBA(x, y, c)
	}
}

func vline(dst *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < dst.Rect.Min.X || x >= dst.Rect.Max.X {
		return
	}
	y0 = max(y0, dst.Rect.Min.Y)
	y1 = min(y1, dst.Rect.Max.Y-1)
	for y := y0; y <= y1; y++ {
		dst.SetNRGBA(x, y, c)
	}
}

func (r *Renderer) drawLabel(dst *image.NRGBA, x, y int, text string, c color.NRGBA) {
	if r.Face == nil {
		return
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: r.Face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
