package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/Tutortoise/tree-defect-detection-service/classes"
	"github.com/Tutortoise/tree-defect-detection-service/detections"
)

// ServerConfig defines HTTP server configurations
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	Debug        bool          `koanf:"debug"`
	ReadTimeout  time.Duration `koanf:"readtimeout"`
	WriteTimeout time.Duration `koanf:"writetimeout"`
	// MaxUploadSize is the multipart memory limit in bytes.
	MaxUploadSize int64 `koanf:"maxuploadsize"`
}

// PoolConfig sizes the inference session pool.
type PoolConfig struct {
	Size int `koanf:"size"`
	// AcquireTimeout of 0 waits until the request context ends.
	AcquireTimeout time.Duration `koanf:"acquiretimeout"`
}

// ModelConfig related to the ONNX model and runtime
type ModelConfig struct {
	Path        string     `koanf:"path"`
	LibraryPath string     `koanf:"librarypath"`
	InputName   string     `koanf:"inputname"`
	OutputNames []string   `koanf:"outputnames"`
	IntraOp     int        `koanf:"intraopthreads"`
	InterOp     int        `koanf:"interopthreads"`
	Pool        PoolConfig `koanf:"pool"`
}

// PreprocessConfig describes the model input contract. DType "auto" takes the
// element type the model declares.
type PreprocessConfig struct {
	DType   string `koanf:"dtype"`
	Layout  string `koanf:"layout"`
	Width   int    `koanf:"width"`
	Height  int    `koanf:"height"`
	Resize  bool   `koanf:"resize"`
	Workers int    `koanf:"workers"`
}

// RenderConfig related to annotated image output
type RenderConfig struct {
	// Colors is one of "random", "seeded" or "palette".
	Colors      string `koanf:"colors"`
	Seed        uint64 `koanf:"seed"`
	StrokeWidth int    `koanf:"strokewidth"`
	LabelOffset int    `koanf:"labeloffset"`
}

type ClassesConfig struct {
	Labels []string `koanf:"labels"`
}

// AppConfig defines
type AppConfig struct {
	Server     ServerConfig     `koanf:"server"`
	Model      ModelConfig      `koanf:"model"`
	Preprocess PreprocessConfig `koanf:"preprocess"`
	Render     RenderConfig     `koanf:"render"`
	Classes    ClassesConfig    `koanf:"classes"`
}

// Config - Global variable to export
var Config AppConfig

// Defaults are loaded before the config file and the environment.
func Defaults() map[string]any {
	return map[string]any{
		"server.host":               "0.0.0.0",
		"server.port":               8080,
		"server.debug":              false,
		"server.readtimeout":        "60s",
		"server.writetimeout":       "60s",
		"server.maxuploadsize":      10 << 20,
		"model.path":                "models/tree_defects.onnx",
		"model.inputname":           detections.DefaultInputName,
		"model.outputnames":         detections.DefaultOutputNames,
		"model.pool.size":           4,
		"model.pool.acquiretimeout": "0s",
		"preprocess.dtype":          "auto",
		"preprocess.layout":         "nhwc",
		"preprocess.width":          detections.InputWidth,
		"preprocess.height":         detections.InputHeight,
		"preprocess.resize":         true,
		"render.colors":             "random",
		"render.strokewidth":        2,
		"render.labeloffset":        10,
		"classes.labels":            classes.TreeDefects,
	}
}

// Init - Assign global config to decoded config struct
func Init(filePath string) error {
	cfg, err := Load(filePath)
	if err != nil {
		return err
	}
	Config = *cfg
	return nil
}

// Load layers defaults, the YAML file at filePath (skipped when empty) and
// CFG_ prefixed environment variables, e.g. CFG_MODEL_PATH.
func Load(filePath string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, err
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig is for custom validation rules for the configuration
func ValidateConfig(cfg *AppConfig) error {
	if cfg.Model.Path == "" {
		return fmt.Errorf("model.path is required")
	}
	if len(cfg.Model.OutputNames) != 4 {
		return fmt.Errorf("model.outputnames needs boxes, scores, classes and count, got %d names", len(cfg.Model.OutputNames))
	}
	if cfg.Model.Pool.Size < 1 {
		return fmt.Errorf("model.pool.size must be positive")
	}
	if cfg.Preprocess.Width < 0 || cfg.Preprocess.Height < 0 {
		return fmt.Errorf("preprocess dimensions must not be negative")
	}
	if cfg.Preprocess.DType != "auto" {
		if _, err := detections.ParseDType(cfg.Preprocess.DType); err != nil {
			return err
		}
	}
	if _, err := detections.ParseLayout(cfg.Preprocess.Layout); err != nil {
		return err
	}
	switch cfg.Render.Colors {
	case "random", "seeded", "palette":
	default:
		return fmt.Errorf("unknown render.colors %q", cfg.Render.Colors)
	}
	if len(cfg.Classes.Labels) == 0 {
		return fmt.Errorf("classes.labels must not be empty")
	}
	return nil
}

// InputSpec returns the configured input contract and whether the element
// type should be read from the model.
func (c *AppConfig) InputSpec() (spec detections.InputSpec, autoDType bool) {
	layout, _ := detections.ParseLayout(c.Preprocess.Layout)
	spec = detections.InputSpec{
		Name:   c.Model.InputName,
		Layout: layout,
		Width:  c.Preprocess.Width,
		Height: c.Preprocess.Height,
		Resize: c.Preprocess.Resize,
	}
	if c.Preprocess.DType == "auto" {
		return spec, true
	}
	spec.DType, _ = detections.ParseDType(c.Preprocess.DType)
	return spec, false
}

var defaultConfigPath = "config/config.yaml"

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag() string {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", defaultConfigPath, "configuration file")
	_ = fs.Parse(os.Args[1:])

	return *configPath
}
