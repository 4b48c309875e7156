package detections

import (
	"fmt"
	"strings"
)

type DType int

const (
	Float32 DType = iota
	Uint8
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// ParseDType accepts "float32", "uint8" and "int32".
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "float":
		return Float32, nil
	case "uint8":
		return Uint8, nil
	case "int32":
		return Int32, nil
	}
	return 0, fmt.Errorf("unsupported input dtype %q", s)
}

type Layout int

const (
	NHWC Layout = iota
	NCHW
)

func (l Layout) String() string {
	if l == NCHW {
		return "nchw"
	}
	return "nhwc"
}

func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nhwc", "":
		return NHWC, nil
	case "nchw":
		return NCHW, nil
	}
	return 0, fmt.Errorf("unsupported input layout %q", s)
}

// InputSpec describes the model input tensor. Width or Height of 0 means the
// model accepts any size and the decoded image passes through.
type InputSpec struct {
	Name   string
	DType  DType
	Layout Layout
	Width  int
	Height int
	Resize bool
}

// Tensor is a batched image tensor. Exactly one data slice matching DType is
// set.
type Tensor struct {
	Shape   []int64
	DType   DType
	Float32 []float32
	Uint8   []uint8
	Int32   []int32
}

func (t *Tensor) Len() int {
	switch t.DType {
	case Uint8:
		return len(t.Uint8)
	case Int32:
		return len(t.Int32)
	}
	return len(t.Float32)
}

func newTensor(spec InputSpec, width, height int) *Tensor {
	n := width * height * Channels
	t := &Tensor{DType: spec.DType}
	if spec.Layout == NCHW {
		t.Shape = []int64{1, Channels, int64(height), int64(width)}
	} else {
		t.Shape = []int64{1, int64(height), int64(width), Channels}
	}
	switch spec.DType {
	case Uint8:
		t.Uint8 = make([]uint8, n)
	case Int32:
		t.Int32 = make([]int32, n)
	default:
		t.Float32 = make([]float32, n)
	}
	return t
}
