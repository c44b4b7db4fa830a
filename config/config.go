// Package config - Configuration for the anomaly detection tools.
//
// Values are layered: built-in defaults, then an optional YAML file, then an
// optional .env file, then environment variables. Command line flags are
// applied last by the caller, before Validate.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/nvr-ai/go-anomaly/logger"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvBackend    = "ANOMALY_BACKEND"
	EnvModelPath  = "ANOMALY_MODEL_PATH"
	EnvPythonExec = "PYTHON_EXEC"
	EnvLogLevel   = "ANOMALY_LOG_LEVEL"
	EnvServerAddr = "ANOMALY_SERVER_ADDR"
	EnvPrecision  = "ANOMALY_PRECISION"
	EnvRedisAddr  = "REDIS_ADDRESS"
	EnvRedisPass  = "REDIS_PASSWORD"
	EnvRedisDB    = "REDIS_DB"
)

// ErrModelPathRequired is returned by Validate when an in-process backend has
// no model file.
var ErrModelPathRequired = errors.New("model.path is required for in-process backends")

// Config is the complete configuration.
type Config struct {
	// Backend selects how the model is run: exec, onnx or dnn.
	Backend string        `yaml:"backend" validate:"required,oneof=exec onnx dnn"`
	Model   ModelConfig   `yaml:"model"`
	Exec    ExecConfig    `yaml:"exec"`
	Server  ServerConfig  `yaml:"server"`
	Log     logger.Config `yaml:"log"`
	Output  OutputConfig  `yaml:"output"`
	Cache   CacheConfig   `yaml:"cache"`
}

// ModelConfig describes the detection model.
type ModelConfig struct {
	// Path of the ONNX file for the in-process backends.
	Path string `yaml:"path"`
	// Family selects the built-in class table: transformer or yolo.
	Family string `yaml:"family" validate:"omitempty,oneof=transformer yolo"`
	// InputSize is the square edge the model expects.
	InputSize int `yaml:"input_size" validate:"gt=0"`
	// Confidence drops candidates below it (in-process backends).
	Confidence float64 `yaml:"confidence" validate:"gte=0,lte=1"`
	// NMSThreshold is the IoU above which overlapping candidates are suppressed.
	NMSThreshold float64 `yaml:"nms_threshold" validate:"gte=0,lte=1"`
	// ClassesFile is an optional YAML/JSON names file overriding the family table.
	ClassesFile string `yaml:"classes_file"`
	// BoxUnits tells the exec backend whether script boxes are normalized or pixels.
	BoxUnits string `yaml:"box_units" validate:"oneof=normalized pixels"`
	// SharedLibrary is the path of the onnxruntime shared library.
	SharedLibrary string `yaml:"shared_library"`
	// Provider is the onnxruntime execution provider: cpu, cuda, coreml or openvino.
	Provider string `yaml:"provider" validate:"omitempty,oneof=cpu cuda coreml openvino"`
	// DeviceID selects the accelerator for the cuda and openvino providers.
	DeviceID int `yaml:"device_id" validate:"gte=0"`
	// Threads is the onnxruntime intra-op thread count. 0 is the runtime default.
	Threads int `yaml:"threads" validate:"gte=0"`
}

// ExecConfig configures the subprocess backend.
type ExecConfig struct {
	// PythonExec is the interpreter. Empty falls back to $PYTHON_EXEC, then python3.
	PythonExec string `yaml:"python_exec"`
	// Script is the detection script. Empty searches the conventional locations.
	Script string `yaml:"script"`
	// FailedDir receives copies of images whose detection failed. Empty disables it.
	FailedDir string `yaml:"failed_dir"`
	// Timeout bounds one script run.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required"`
	// BodyLimit is the maximum request size in bytes.
	BodyLimit int `yaml:"body_limit" validate:"gt=0"`
	// RequestTimeout bounds one detection request.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
	// RateLimit is the sustained detection requests per second allowed per
	// client IP. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	// RateBurst is the number of requests a client may send at once.
	RateBurst int `yaml:"rate_burst" validate:"gte=0"`
}

// CacheConfig configures the server's result cache. It is disabled while
// RedisAddr is empty.
type CacheConfig struct {
	// RedisAddr is host:port of the Redis server.
	RedisAddr string `yaml:"redis_addr"`
	// RedisPassword authenticates the connection.
	RedisPassword string `yaml:"redis_password"`
	// RedisDB is the database number.
	RedisDB int `yaml:"redis_db" validate:"gte=0"`
	// TTL is how long a result is reused.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`
	// Prefix is prepended to every key.
	Prefix string `yaml:"prefix"`
}

// Enabled reports whether a cache server is configured.
func (c CacheConfig) Enabled() bool {
	return c.RedisAddr != ""
}

// OutputConfig controls the emitted JSON.
type OutputConfig struct {
	// Precision is the number of decimals kept; -1 keeps full precision.
	Precision int `yaml:"precision" validate:"gte=-1,lte=15"`
	// Workers normalizes large batches on this many goroutines. Below 2 runs inline.
	Workers int `yaml:"workers" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: "exec",
		Model: ModelConfig{
			Family:       "transformer",
			InputSize:    640,
			Confidence:   0.25,
			NMSThreshold: 0.7,
			BoxUnits:     "normalized",
		},
		Exec: ExecConfig{
			FailedDir: "../failed-detections",
			Timeout:   2 * time.Minute,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			BodyLimit:      50 * 1024 * 1024,
			RequestTimeout: 2 * time.Minute,
		},
		Log:    logger.Config{Level: "info"},
		Output: OutputConfig{Precision: -1},
		Cache: CacheConfig{
			TTL:    24 * time.Hour,
			Prefix: "anomaly:",
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path, the
// dotenv file at envFile and the process environment.
//
// Arguments:
//   - path: Optional YAML file. Empty skips it; a missing named file is an error.
//   - envFile: Optional dotenv file. Empty or missing is ignored.
//
// Returns:
//   - *Config: The configuration, not yet validated.
//   - error: Non-nil when a file cannot be read or parsed.
//
// Example:
//
// ```go
//
//	cfg, err := config.Load("anomaly.yaml", ".env")
//	if err != nil {
//		return err
//	}
//	cfg.Backend = "onnx"
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//
// ```
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, errors.Wrapf(err, "failed to load %s", envFile)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overrides fields from non-empty environment variables.
func (c *Config) applyEnv() error {
	fields := map[string]*string{
		EnvBackend:    &c.Backend,
		EnvModelPath:  &c.Model.Path,
		EnvPythonExec: &c.Exec.PythonExec,
		EnvLogLevel:   &c.Log.Level,
		EnvServerAddr: &c.Server.Addr,
		EnvRedisAddr:  &c.Cache.RedisAddr,
		EnvRedisPass:  &c.Cache.RedisPassword,
	}
	for key, field := range fields {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*field = v
		}
	}

	if v, ok := os.LookupEnv(EnvPrecision); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvPrecision)
		}
		c.Output.Precision = p
	}
	if v, ok := os.LookupEnv(EnvRedisDB); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvRedisDB)
		}
		c.Cache.RedisDB = db
	}
	return nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if c.Backend != "exec" && c.Model.Path == "" {
		return errors.Wrapf(ErrModelPathRequired, "backend %s", c.Backend)
	}
	return nil
}
