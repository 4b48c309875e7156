package render

import (
	"hash/fnv"
	"image/color"
	"math/rand/v2"
	"sync"

	"github.com/Tutortoise/tree-defect-detection-service/classes"
	"github.com/Tutortoise/tree-defect-detection-service/models"
)

// ColorPicker chooses the stroke and label color of a detection.
type ColorPicker interface {
	Pick(det models.Detection) color.NRGBA
}

// ColorFunc adapts a function to ColorPicker.
type ColorFunc func(det models.Detection) color.NRGBA

func (f ColorFunc) Pick(det models.Detection) color.NRGBA { return f(det) }

// RandomColors draws a uniform random RGB triple per detection. Colors differ
// between calls for the same detection.
type RandomColors struct{}

func (RandomColors) Pick(models.Detection) color.NRGBA {
	return color.NRGBA{
		R: uint8(rand.IntN(256)),
		G: uint8(rand.IntN(256)),
		B: uint8(rand.IntN(256)),
		A: 0xff,
	}
}

// SeededColors is RandomColors with a reproducible sequence.
type SeededColors struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSeededColors(seed uint64) *SeededColors {
	return &SeededColors{rng: rand.New(rand.NewPCG(seed, seed))}
}

func (s *SeededColors) Pick(models.Detection) color.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return color.NRGBA{
		R: uint8(s.rng.IntN(256)),
		G: uint8(s.rng.IntN(256)),
		B: uint8(s.rng.IntN(256)),
		A: 0xff,
	}
}

var defaultPalette = []color.NRGBA{
	{R: 0xe6, G: 0x19, B: 0x4b, A: 0xff},
	{R: 0x3c, G: 0xb4, B: 0x4b, A: 0xff},
	{R: 0xff, G: 0xe1, B: 0x19, A: 0xff},
	{R: 0x43, G: 0x63, B: 0xd8, A: 0xff},
	{R: 0xf5, G: 0x82, B: 0x31, A: 0xff},
	{R: 0x91, G: 0x1e, B: 0xb4, A: 0xff},
	{R: 0x42, G: 0xd4, B: 0xf4, A: 0xff},
	{R: 0xf0, G: 0x32, B: 0xe6, A: 0xff},
	{R: 0xbf, G: 0xef, B: 0x45, A: 0xff},
	{R: 0xfa, G: 0xbe, B: 0xd4, A: 0xff},
	{R: 0x46, G: 0x99, B: 0x90, A: 0xff},
	{R: 0xdc, G: 0xbe, B: 0xff, A: 0xff},
	{R: 0x9a, G: 0x63, B: 0x24, A: 0xff},
	{R: 0x80, G: 0x00, B: 0x00, A: 0xff},
	{R: 0x80, G: 0x80, B: 0x00, A: 0xff},
	{R: 0x00, G: 0x00, B: 0x75, A: 0xff},
}

// PaletteColors gives every class a stable color, chosen by its index in the
// class table. Labels missing from the table are hashed onto the palette.
type PaletteColors struct {
	table   classes.Table
	palette []color.NRGBA
}

func NewPaletteColors(table classes.Table) *PaletteColors {
	return &PaletteColors{table: table, palette: defaultPalette}
}

func (p *PaletteColors) Pick(det models.Detection) color.NRGBA {
	i := p.table.Index(det.ClassLabel)
	if i < 0 {
		h := fnv.New32a()
		h.Write([]byte(det.ClassLabel))
		i = int(h.Sum32() % uint32(len(p.palette)))
	}
	return p.palette[i%len(p.palette)]
}
