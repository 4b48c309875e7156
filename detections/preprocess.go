package detections

import (
	"bytes"
	"errors"
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	// Formats beyond what imaging registers.
	_ "golang.org/x/image/webp"
)

// Preprocessor turns encoded images into batched model input tensors.
type Preprocessor struct {
	numWorkers int
}

func NewPreprocessor(numWorkers int) *Preprocessor {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return &Preprocessor{numWorkers: numWorkers}
}

// Preprocess decodes data and builds the input tensor described by spec.
func (p *Preprocessor) Preprocess(data []byte, spec InputSpec) (*Tensor, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Tensor(p.Resize(img, spec), spec), nil
}

// Decode decodes JPEG, PNG, GIF, BMP, TIFF and WebP images.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Cause: errors.New("empty input")}
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{MIME: mimetype.Detect(data).String(), Cause: err}
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, &DecodeError{MIME: mimetype.Detect(data).String(), Cause: errors.New("image has no pixels")}
	}
	return img, nil
}

// Resize scales img to the model's fixed input size when spec asks for it.
// Otherwise it returns an NRGBA copy with the decoded dimensions.
func (p *Preprocessor) Resize(img image.Image, spec InputSpec) *image.NRGBA {
	b := img.Bounds()
	if spec.Resize && spec.Width > 0 && spec.Height > 0 && (b.Dx() != spec.Width || b.Dy() != spec.Height) {
		return imaging.Resize(img, spec.Width, spec.Height, imaging.Linear)
	}
	return imaging.Clone(img)
}

// Tensor converts pixels to the model dtype with a leading batch dimension.
// Float tensors are scaled to [0,1]; integer tensors carry raw 0..255 values.
func (p *Preprocessor) Tensor(img *image.NRGBA, spec InputSpec) *Tensor {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	t := newTensor(spec, width, height)

	numWorkers := min(p.numWorkers, height)
	if numWorkers < 1 {
		numWorkers = 1
	}
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if w == numWorkers-1 {
			endRow = height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				fillRow(img, t, spec.Layout, y, width, height)
			}
		}(startRow, endRow)
	}

	wg.Wait()
	return t
}

func fillRow(img *image.NRGBA, t *Tensor, layout Layout, y, width, height int) {
	row := img.Pix[y*img.Stride : y*img.Stride+width*4]
	plane := width * height

	for x := 0; x < width; x++ {
		for c := 0; c < Channels; c++ {
			var i int
			if layout == NCHW {
				i = c*plane + y*width + x
			} else {
				i = (y*width+x)*Channels + c
			}

			v := row[x*4+c]
			switch t.DType {
			case Uint8:
				t.Uint8[i] = v
			case Int32:
				t.Int32[i] = int32(v)
			default:
				t.Float32[i] = float32(v) / 255.0
			}
		}
	}
}
