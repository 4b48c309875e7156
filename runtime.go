package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"golang.org/x/sys/cpu"

	"github.com/Tutortoise/tree-defect-detection-service/config"
	"github.com/Tutortoise/tree-defect-detection-service/detections"
)

// sharedLibraryPath returns the configured ONNX Runtime library, or the
// platform default name resolved by the dynamic loader.
func sharedLibraryPath(configured string) string {
	if configured != "" {
		return configured
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// checkModelFile validates the model artifact path.
func checkModelFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", path)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("model path %s is a directory", path)
	}
	return nil
}

// threadCounts treats unset thread counts as one thread per CPU.
func threadCounts(cfg config.ModelConfig) (intra, inter int) {
	intra, inter = cfg.IntraOp, cfg.InterOp
	if intra <= 0 {
		intra = runtime.NumCPU()
	}
	if inter <= 0 {
		inter = runtime.NumCPU()
	}
	return intra, inter
}

func cpuFeatures() []zap.Field {
	switch runtime.GOARCH {
	case "amd64":
		return []zap.Field{
			zap.Bool("avx2", cpu.X86.HasAVX2),
			zap.Bool("avx512f", cpu.X86.HasAVX512F),
			zap.Bool("sse41", cpu.X86.HasSSE41),
		}
	case "arm64":
		return []zap.Field{
			zap.Bool("asimd", cpu.ARM64.HasASIMD),
			zap.Bool("fphp", cpu.ARM64.HasFPHP),
		}
	}
	return nil
}

// initRuntime loads the ONNX Runtime library. The returned func tears the
// environment down.
func initRuntime(cfg config.ModelConfig, logger *zap.Logger) (func(), error) {
	libPath := sharedLibraryPath(cfg.LibraryPath)
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrapf(err, "initialize ONNX Runtime from %s", libPath)
	}

	logger.Info("ONNX Runtime initialized",
		append([]zap.Field{zap.String("library", libPath), zap.String("arch", runtime.GOARCH)}, cpuFeatures()...)...)

	return func() {
		if err := ort.DestroyEnvironment(); err != nil {
			logger.Warn("destroy ONNX Runtime environment", zap.Error(err))
		}
	}, nil
}

func initSession(cfg config.ModelConfig, spec detections.InputSpec) (detections.Session, error) {
	intra, inter := threadCounts(cfg)
	session, err := detections.NewONNXSession(detections.SessionConfig{
		ModelPath:      cfg.Path,
		Input:          spec,
		OutputNames:    cfg.OutputNames,
		IntraOpThreads: intra,
		InterOpThreads: inter,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return session, nil
}

// loadModel resolves the input contract, fills the session pool and hands it
// to the engine, which flips readiness.
func loadModel(cfg *config.AppConfig, engine *detections.Engine, logger *zap.Logger) (*ModelSessionPool, error) {
	if err := checkModelFile(cfg.Model.Path); err != nil {
		return nil, err
	}

	inputs, err := detections.InspectModel(cfg.Model.Path)
	if err != nil {
		return nil, err
	}

	want, autoDType := cfg.InputSpec()
	spec, err := detections.ResolveInputSpec(inputs, want, autoDType)
	if err != nil {
		return nil, err
	}

	pool, err := NewModelSessionPool(cfg.Model.Pool.Size, cfg.Model.Pool.AcquireTimeout, func() (detections.Session, error) {
		return initSession(cfg.Model, spec)
	})
	if err != nil {
		return nil, err
	}

	if err := engine.Attach(pool, spec); err != nil {
		pool.Destroy()
		return nil, err
	}

	logger.Info("model loaded",
		zap.String("path", cfg.Model.Path),
		zap.String("input", spec.Name),
		zap.Stringer("dtype", spec.DType),
		zap.Stringer("layout", spec.Layout),
		zap.Int("width", spec.Width),
		zap.Int("height", spec.Height),
		zap.Bool("resize", spec.Resize),
		zap.Int("pool_size", cfg.Model.Pool.Size))

	return pool, nil
}
