package detections

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// twoPixels is a 2x1 image: red, then (0,128,255).
func twoPixels(t *testing.T) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{G: 128, B: 255, A: 255})
	return encodePNG(t, img)
}

func TestPreprocess_Float32NHWC(t *testing.T) {
	p := NewPreprocessor(2)

	tensor, err := p.Preprocess(twoPixels(t), InputSpec{DType: Float32, Layout: NHWC})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 1, 2, 3}, tensor.Shape)
	assert.Equal(t, Float32, tensor.DType)
	assert.InDeltaSlice(t, []float32{1, 0, 0, 0, 128.0 / 255.0, 1}, tensor.Float32, 1e-6)
	assert.Nil(t, tensor.Int32)
	assert.Nil(t, tensor.Uint8)
}

func TestPreprocess_IntegerInputsKeepPixelValues(t *testing.T) {
	p := NewPreprocessor(1)

	tensor, err := p.Preprocess(twoPixels(t), InputSpec{DType: Int32, Layout: NHWC})
	require.NoError(t, err)
	assert.Equal(t, []int32{255, 0, 0, 0, 128, 255}, tensor.Int32)

	tensor, err = p.Preprocess(twoPixels(t), InputSpec{DType: Uint8, Layout: NHWC})
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 0, 0, 0, 128, 255}, tensor.Uint8)
	assert.Equal(t, 6, tensor.Len())
}

func TestPreprocess_NCHW(t *testing.T) {
	p := NewPreprocessor(4)

	tensor, err := p.Preprocess(twoPixels(t), InputSpec{DType: Int32, Layout: NCHW})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 1, 2}, tensor.Shape)
	// R plane, G plane, B plane.
	assert.Equal(t, []int32{255, 0, 0, 128, 0, 255}, tensor.Int32)
}

func TestPreprocess_Resize(t *testing.T) {
	p := NewPreprocessor(3)
	src := image.NewNRGBA(image.Rect(0, 0, 7, 5))

	spec := InputSpec{DType: Float32, Layout: NHWC, Width: 4, Height: 6, Resize: true}
	tensor, err := p.Preprocess(encodePNG(t, src), spec)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 6, 4, 3}, tensor.Shape)
	assert.Len(t, tensor.Float32, 6*4*3)
}

func TestPreprocess_PassThrough(t *testing.T) {
	p := NewPreprocessor(3)
	src := image.NewNRGBA(image.Rect(0, 0, 7, 5))

	// Resize disabled: the declared size is not enforced.
	spec := InputSpec{DType: Float32, Layout: NHWC, Width: 320, Height: 320}
	tensor, err := p.Preprocess(encodePNG(t, src), spec)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5, 7, 3}, tensor.Shape)

	// Dynamic model dims.
	spec = InputSpec{DType: Float32, Layout: NHWC, Resize: true}
	tensor, err = p.Preprocess(encodePNG(t, src), spec)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5, 7, 3}, tensor.Shape)
}

func TestPreprocess_MoreWorkersThanRows(t *testing.T) {
	p := NewPreprocessor(16)
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for i := range src.Pix {
		src.Pix[i] = 255
	}

	tensor, err := p.Preprocess(encodePNG(t, src), InputSpec{DType: Uint8})
	require.NoError(t, err)
	for _, v := range tensor.Uint8 {
		assert.Equal(t, uint8(255), v)
	}
}

func TestDecode_Errors(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		mime string
	}{
		{name: "empty", data: nil, mime: ""},
		{name: "text", data: []byte("definitely not an image"), mime: "text/plain; charset=utf-8"},
		{name: "truncated png", data: twoPixels(t)[:20], mime: "image/png"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			img, err := Decode(tc.data)
			assert.Nil(t, img)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr), "got %v", err)
			assert.Equal(t, tc.mime, decodeErr.MIME)
			assert.Error(t, decodeErr.Unwrap())
		})
	}
}

func TestParseDTypeAndLayout(t *testing.T) {
	d, err := ParseDType("INT32")
	require.NoError(t, err)
	assert.Equal(t, Int32, d)

	_, err = ParseDType("float16")
	assert.Error(t, err)

	l, err := ParseLayout("nchw")
	require.NoError(t, err)
	assert.Equal(t, NCHW, l)

	l, err = ParseLayout("")
	require.NoError(t, err)
	assert.Equal(t, NHWC, l)

	_, err = ParseLayout("chw")
	assert.Error(t, err)
}
