package detections

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Tutortoise/tree-defect-detection-service/classes"
	"github.com/Tutortoise/tree-defect-detection-service/models"
)

// Inferencer is the model side of the pipeline.
type Inferencer interface {
	InputSpec() (InputSpec, error)
	Infer(ctx context.Context, input *Tensor) (*models.RawModelOutput, error)
}

// Renderer draws detections over an encoded image.
type Renderer interface {
	Render(data []byte, dets []models.Detection) ([]byte, error)
}

// Detector wires preprocessing, inference, parsing and rendering together.
type Detector struct {
	engine       Inferencer
	preprocessor *Preprocessor
	table        classes.Table
	renderer     Renderer
	logger       *zap.Logger
}

func NewDetector(engine Inferencer, preprocessor *Preprocessor, table classes.Table, renderer Renderer, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		engine:       engine,
		preprocessor: preprocessor,
		table:        table,
		renderer:     renderer,
		logger:       logger,
	}
}

func (d *Detector) Table() classes.Table {
	return d.table
}

// DetectObjects runs the full detection pipeline on one encoded image.
func (d *Detector) DetectObjects(ctx context.Context, data []byte) ([]models.Detection, error) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: RequestIDFromContext(ctx)}

	spec, err := d.engine.InputSpec()
	if err != nil {
		return nil, err
	}

	decodeStart := time.Now()
	img, err := Decode(data)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return nil, err
	}

	resizeStart := time.Now()
	resized := d.preprocessor.Resize(img, spec)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	input := d.preprocessor.Tensor(resized, spec)
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	raw, err := d.engine.Infer(ctx, input)
	timings.Inference = time.Since(inferStart)
	if err != nil {
		return nil, err
	}

	postStart := time.Now()
	dets, err := Parse(raw, d.table)
	timings.Postprocess = time.Since(postStart)
	if err != nil {
		var unknown *UnknownClassIndexError
		if errors.As(err, &unknown) {
			d.logger.Error("model output does not match the class table",
				zap.String("request_id", timings.RequestID),
				zap.Int("class_index", unknown.Index),
				zap.Int("table_size", unknown.TableSize))
		}
		return nil, err
	}

	timings.Total = time.Since(startTotal)
	d.logTimings(timings, len(dets))

	return dets, nil
}

// DrawBoundingBoxes renders dets over the encoded image.
func (d *Detector) DrawBoundingBoxes(ctx context.Context, data []byte, dets []models.Detection) ([]byte, error) {
	start := time.Now()
	out, err := d.renderer.Render(data, dets)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("rendered detections",
		zap.String("request_id", RequestIDFromContext(ctx)),
		zap.Int("detections", len(dets)),
		zap.Duration("render", time.Since(start)))
	return out, nil
}

func (d *Detector) logTimings(t *models.ProcessingTimings, count int) {
	d.logger.Debug("processing times",
		zap.String("request_id", t.RequestID),
		zap.Int("detections", count),
		zap.Duration("image_decode", t.ImageDecode),
		zap.Duration("resize", t.Resize),
		zap.Duration("preprocess", t.Preprocess),
		zap.Duration("inference", t.Inference),
		zap.Duration("postprocess", t.Postprocess),
		zap.Duration("total", t.Total))
}

type requestIDKey struct{}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
