package detections

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Tutortoise/tree-defect-detection-service/models"
)

// ModelInput is an input declared by the ONNX model.
type ModelInput struct {
	Name  string
	DType DType
	Dims  []int64
}

// InspectModel reads the input declarations of the model at path. The ONNX
// Runtime environment must be initialized.
func InspectModel(path string) ([]ModelInput, error) {
	inputs, _, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read input info of %s", path)
	}

	result := make([]ModelInput, 0, len(inputs))
	for _, info := range inputs {
		in := ModelInput{Name: info.Name, DType: -1, Dims: []int64(info.Dimensions)}
		switch info.DataType {
		case ort.TensorElementDataTypeFloat:
			in.DType = Float32
		case ort.TensorElementDataTypeUint8:
			in.DType = Uint8
		case ort.TensorElementDataTypeInt32:
			in.DType = Int32
		}
		result = append(result, in)
	}
	return result, nil
}

// ResolveInputSpec merges the configured input contract with what the model
// declares. Fixed spatial dims declared by the model win over configured ones;
// with autoDType the declared element type wins too.
func ResolveInputSpec(inputs []ModelInput, want InputSpec, autoDType bool) (InputSpec, error) {
	if len(inputs) == 0 {
		return InputSpec{}, errors.New("model declares no inputs")
	}

	in := inputs[0]
	if want.Name != "" {
		found := false
		for _, candidate := range inputs {
			if candidate.Name == want.Name {
				in, found = candidate, true
				break
			}
		}
		if !found {
			return InputSpec{}, errors.Errorf("model has no input named %q", want.Name)
		}
	}

	spec := want
	spec.Name = in.Name

	if autoDType {
		if in.DType < 0 {
			return InputSpec{}, errors.Errorf("input %q has an unsupported element type", in.Name)
		}
		spec.DType = in.DType
	}

	if len(in.Dims) == 4 {
		h, w := in.Dims[1], in.Dims[2]
		if spec.Layout == NCHW {
			h, w = in.Dims[2], in.Dims[3]
		}
		if h > 0 && w > 0 {
			spec.Height, spec.Width = int(h), int(w)
		}
	}

	return spec, nil
}

// SessionConfig configures one ONNX Runtime session.
type SessionConfig struct {
	ModelPath      string
	Input          InputSpec
	OutputNames    []string
	IntraOpThreads int
	InterOpThreads int
}

// ONNXSession wraps a dynamic ONNX Runtime session so that input tensors may
// change shape between calls.
type ONNXSession struct {
	session *ort.DynamicAdvancedSession
	outputs []string
}

func NewONNXSession(cfg SessionConfig) (*ONNXSession, error) {
	if len(cfg.OutputNames) != 4 {
		return nil, errors.Errorf("expected 4 output names (boxes, scores, classes, count), got %d", len(cfg.OutputNames))
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}
	defer options.Destroy()

	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, errors.Wrap(err, "set intra-op threads")
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			return nil, errors.Wrap(err, "set inter-op threads")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.Input.Name},
		cfg.OutputNames,
		options,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create session")
	}

	return &ONNXSession{session: session, outputs: cfg.OutputNames}, nil
}

func (s *ONNXSession) Run(input *Tensor) (*models.RawModelOutput, error) {
	in, err := toValue(input)
	if err != nil {
		return nil, err
	}
	defer in.Destroy()

	// nil outputs are allocated by onnxruntime and owned by us afterwards.
	outputs := make([]ort.Value, len(s.outputs))
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	if err := s.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, errors.Wrap(err, "run session")
	}

	flat := make([][]float32, len(outputs))
	for i, o := range outputs {
		data, err := valueFloats(o)
		if err != nil {
			return nil, errors.Wrapf(err, "output %q", s.outputs[i])
		}
		flat[i] = data
	}

	return NewRawOutput(flat[0], flat[1], flat[2], flat[3])
}

func (s *ONNXSession) Destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
}

func toValue(t *Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)

	var (
		v   ort.Value
		err error
	)
	switch t.DType {
	case Uint8:
		v, err = ort.NewTensor(shape, t.Uint8)
	case Int32:
		v, err = ort.NewTensor(shape, t.Int32)
	default:
		v, err = ort.NewTensor(shape, t.Float32)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "create %s input tensor", t.DType)
	}
	return v, nil
}

// valueFloats copies tensor data out of onnxruntime-owned memory.
func valueFloats(v ort.Value) ([]float32, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		data := t.GetData()
		out := make([]float32, len(data))
		copy(out, data)
		return out, nil
	case *ort.Tensor[float64]:
		return convert(t.GetData()), nil
	case *ort.Tensor[int64]:
		return convert(t.GetData()), nil
	case *ort.Tensor[int32]:
		return convert(t.GetData()), nil
	case *ort.Tensor[uint8]:
		return convert(t.GetData()), nil
	case nil:
		return nil, errors.New("missing output")
	}
	return nil, fmt.Errorf("unsupported output type %T", v)
}

func convert[T float64 | int64 | int32 | uint8](data []T) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v)
	}
	return out
}

// NewRawOutput builds a RawModelOutput from the four flattened output
// tensors. Class ids and the count arrive as floats from TensorFlow exports.
func NewRawOutput(boxes, scores, classIDs, count []float32) (*models.RawModelOutput, error) {
	if len(count) == 0 {
		return nil, &MalformedOutputError{Reason: "empty detection count tensor"}
	}
	k := float64(count[0])
	if math.IsNaN(k) || math.IsInf(k, 0) {
		return nil, &MalformedOutputError{Reason: fmt.Sprintf("detection count %v", count[0])}
	}

	classes := make([]int32, len(classIDs))
	for i, c := range classIDs {
		if math.IsNaN(float64(c)) {
			classes[i] = -1
			continue
		}
		classes[i] = int32(math.Round(float64(c)))
	}

	return &models.RawModelOutput{
		Boxes:   boxes,
		Scores:  scores,
		Classes: classes,
		Count:   int(math.Round(k)),
	}, nil
}
