package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tutortoise/tree-defect-detection-service/classes"
	"github.com/Tutortoise/tree-defect-detection-service/config"
	"github.com/Tutortoise/tree-defect-detection-service/detections"
	"github.com/Tutortoise/tree-defect-detection-service/models"
	"github.com/Tutortoise/tree-defect-detection-service/render"

	customLogger "github.com/Tutortoise/tree-defect-detection-service/logger"
)

const retryAfterSeconds = 5

var errNoFile = errors.New("no file uploaded")

type objectDetector interface {
	DetectObjects(ctx context.Context, data []byte) ([]models.Detection, error)
	DrawBoundingBoxes(ctx context.Context, data []byte, dets []models.Detection) ([]byte, error)
}

type AppState struct {
	Detector      objectDetector
	Readiness     *detections.Readiness
	MaxUploadSize int64

	pool   atomic.Pointer[ModelSessionPool]
	logger *zap.Logger
}

type DetectResponse struct {
	Objects []models.Detection `json:"objects"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func newRenderer(cfg config.RenderConfig, table classes.Table) *render.Renderer {
	var colors render.ColorPicker
	switch cfg.Colors {
	case "seeded":
		colors = render.NewSeededColors(cfg.Seed)
	case "palette":
		colors = render.NewPaletteColors(table)
	default:
		colors = render.RandomColors{}
	}

	r := render.New(colors)
	if cfg.StrokeWidth > 0 {
		r.StrokeWidth = cfg.StrokeWidth
	}
	r.LabelOffset = cfg.LabelOffset
	return r
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.Init(config.ParseConfigFlag()); err != nil {
		log.Fatal(err.Error())
	}
	cfg := &config.Config

	logger, _ := customLogger.GetZapLogger(ctx)
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = logger.Sync()
	}()

	table := classes.New(cfg.Classes.Labels)
	readiness := detections.NewReadiness()
	engine := detections.NewEngine(readiness)
	detector := detections.NewDetector(
		engine,
		detections.NewPreprocessor(cfg.Preprocess.Workers),
		table,
		newRenderer(cfg.Render, table),
		logger,
	)

	state := &AppState{
		Detector:      detector,
		Readiness:     readiness,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		logger:        logger,
	}

	destroyRuntime, err := initRuntime(cfg.Model, logger)
	if err != nil {
		readiness.MarkFailed(err)
		logger.Error("failed to initialize ONNX Runtime", zap.Error(err))
	} else {
		defer destroyRuntime()

		// Requests are served while the model loads; they get 503 until then.
		go func() {
			pool, err := loadModel(cfg, engine, logger)
			if err != nil {
				readiness.MarkFailed(err)
				logger.Error("failed to load model", zap.Error(err))
				return
			}
			state.pool.Store(pool)
		}()
	}
	defer func() {
		if pool := state.pool.Load(); pool != nil {
			pool.Destroy()
		}
	}()

	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		WriteTimeout: cfg.Server.WriteTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
	}

	go func() {
		logger.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.Int("classes", table.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
}

func newRouter(state *AppState) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/detect", handleDetect(state)).Methods(http.MethodPost)
	r.HandleFunc("/detect/render", handleRender(state)).Methods(http.MethodPost)
	state.addMonitoringRoutes(r)
	return r
}

func handleDetect(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, imgBytes, ok := state.readRequest(w, r)
		if !ok {
			return
		}

		dets, err := state.Detector.DetectObjects(ctx, imgBytes)
		if err != nil {
			state.sendDetectionError(ctx, w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(DetectResponse{Objects: dets})
	}
}

func handleRender(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, imgBytes, ok := state.readRequest(w, r)
		if !ok {
			return
		}

		dets, err := state.Detector.DetectObjects(ctx, imgBytes)
		if err != nil {
			state.sendDetectionError(ctx, w, err)
			return
		}

		rendered, err := state.Detector.DrawBoundingBoxes(ctx, imgBytes, dets)
		if err != nil {
			state.sendDetectionError(ctx, w, err)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Detection-Count", strconv.Itoa(len(dets)))
		w.Write(rendered)
	}
}

// readRequest extracts the image and tags the context with a request id. It
// writes the error response itself and reports false on failure.
func (s *AppState) readRequest(w http.ResponseWriter, r *http.Request) (context.Context, []byte, bool) {
	requestID := fmt.Sprintf("%d", time.Now().UnixNano())
	ctx := detections.ContextWithRequestID(r.Context(), requestID)

	imgBytes, err := s.readImage(w, r)
	if err != nil {
		sendErrorResponse(w, "invalid_request", MsgNoFile, err.Error(), http.StatusBadRequest)
		return ctx, nil, false
	}

	s.logger.Debug("image received",
		zap.String("request_id", requestID),
		zap.Int("bytes", len(imgBytes)),
		zap.String("mime", mimetype.Detect(imgBytes).String()))

	return ctx, imgBytes, true
}

func (s *AppState) readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if s.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadSize)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		imgBytes []byte
		err      error
	)
	switch mediaType {
	case "application/json":
		imgBytes, err = handleJSONRequest(r)
	case "multipart/form-data":
		imgBytes, err = handleMultipartRequest(r, s.MaxUploadSize)
	default:
		imgBytes, err = handleRawRequest(r)
	}
	if err != nil {
		return nil, err
	}
	if len(imgBytes) == 0 {
		return nil, errNoFile
	}
	return imgBytes, nil
}

func (s *AppState) sendDetectionError(ctx context.Context, w http.ResponseWriter, err error) {
	requestID := detections.RequestIDFromContext(ctx)

	var (
		decodeErr *detections.DecodeError
		notReady  *detections.ModelNotReadyError
		unknown   *detections.UnknownClassIndexError
		malformed *detections.MalformedOutputError
	)
	switch {
	case errors.As(err, &decodeErr):
		sendErrorResponse(w, "invalid_image", MsgInvalidImage, err.Error(), http.StatusBadRequest)
	case errors.As(err, &notReady):
		msg := MsgModelLoading
		if notReady.State == detections.StateFailed {
			msg = MsgModelFailed
		} else {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		}
		sendErrorResponse(w, "model_not_ready", msg, "", http.StatusServiceUnavailable)
	case errors.As(err, &unknown):
		// Already logged by the detector as a configuration problem.
		sendErrorResponse(w, "model_output_error", MsgModelOutput, err.Error(), http.StatusInternalServerError)
	case errors.As(err, &malformed):
		s.logger.Error("malformed model output", zap.String("request_id", requestID), zap.Error(err))
		sendErrorResponse(w, "model_output_error", MsgModelOutput, err.Error(), http.StatusInternalServerError)
	default:
		s.logger.Error("detection failed", zap.String("request_id", requestID), zap.Error(err))
		sendErrorResponse(w, "processing_error", MsgProcessing, err.Error(), http.StatusInternalServerError)
	}
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.Readiness.State()
	response := HealthResponse{Status: state.String()}
	status := http.StatusOK
	if state != detections.StateReady {
		status = http.StatusServiceUnavailable
		if err := s.Readiness.Err(); err != nil {
			response.Error = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"model_state": s.Readiness.State().String(),
	}
	if pool := s.pool.Load(); pool != nil {
		response["pool"] = pool.GetMetrics()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request, maxMemory int64) ([]byte, error) {
	if maxMemory <= 0 {
		maxMemory = 10 << 20
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, errNoFile
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

func sendErrorResponse(w http.ResponseWriter, code, message, details string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}
