// Package exec - Detection by running an external detection script.
//
// The script is invoked as `<python> <script> --image <path>` and prints
// {"anomalies":[{"class","confidence","box"}]} on stdout. Errors go to stderr
// with a non-zero exit code.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/inference"
	"github.com/nvr-ai/go-anomaly/logger"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPython is the interpreter used when none is configured.
	DefaultPython = "python3"
	// DefaultScript is the script path used when none is configured or found.
	DefaultScript = "python/anomaly_detection.py"
	// EnvPythonExec overrides the interpreter when the config leaves it empty.
	EnvPythonExec = "PYTHON_EXEC"
)

// BoxUnits is the coordinate space of the boxes the script prints.
type BoxUnits string

const (
	// UnitsNormalized means the script already divided boxes by the image size.
	UnitsNormalized BoxUnits = "normalized"
	// UnitsPixels means boxes are in pixels of the oriented image.
	UnitsPixels BoxUnits = "pixels"
)

// Config configures the script detector.
type Config struct {
	// PythonExec is the interpreter. Empty falls back to $PYTHON_EXEC, then python3.
	PythonExec string
	// PythonArgs are passed to the interpreter before the script, e.g. "-u".
	PythonArgs []string
	// Script is the detection script. Empty searches the conventional locations.
	Script string
	// WorkDir is where the conventional script locations are searched. Empty
	// uses the process working directory.
	WorkDir string
	// FailedDir receives copies of images whose detection failed. A relative
	// path is resolved against the directory of the image. Empty disables it.
	FailedDir string
	// Timeout bounds one run. Zero means no limit beyond the caller's context.
	Timeout time.Duration
	// BoxUnits is the coordinate space of the printed boxes.
	BoxUnits BoxUnits
}

// ScriptError reports a failed script run.
type ScriptError struct {
	// ExitCode of the script, or 0 when it exited cleanly but printed malformed output.
	ExitCode int
	// Stderr is everything the script wrote to stderr.
	Stderr string
	// Preserved is the path of the kept copy of the input image, if any.
	Preserved string
	// Err is the underlying failure.
	Err error
}

func (e *ScriptError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = fmt.Sprintf("script exited with code %d", e.ExitCode)
	}
	if e.ExitCode == 0 && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Preserved != "" {
		return fmt.Sprintf("%s (image preserved at %s)", msg, e.Preserved)
	}
	return msg
}

// Unwrap returns the underlying failure.
func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Detector runs the detection script once per image.
type Detector struct {
	python     string
	pythonArgs []string
	script     string
	cfg        Config
	log        *logrus.Logger
}

var _ inference.Detector = (*Detector)(nil)

// New resolves the interpreter and script and returns a detector.
//
// Arguments:
//   - cfg: The detector configuration.
//   - log: The logger. Nil discards logs.
//
// Returns:
//   - *Detector: The detector.
//   - error: Non-nil if the box units are unknown or the working directory is unreadable.
func New(cfg Config, log *logrus.Logger) (*Detector, error) {
	if log == nil {
		log = logger.Discard()
	}
	switch cfg.BoxUnits {
	case "":
		cfg.BoxUnits = UnitsNormalized
	case UnitsNormalized, UnitsPixels:
	default:
		return nil, fmt.Errorf("unknown box units %q", cfg.BoxUnits)
	}

	workDir := cfg.WorkDir
	if workDir == "" && cfg.Script == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get working directory")
		}
		workDir = wd
	}

	d := &Detector{
		python:     ResolvePython(cfg.PythonExec),
		pythonArgs: cfg.PythonArgs,
		script:     ResolveScript(cfg.Script, workDir),
		cfg:        cfg,
		log:        log,
	}
	log.WithFields(logrus.Fields{"python": d.python, "script": d.script}).Debug("script detector ready")
	return d, nil
}

// ResolvePython returns the interpreter to run: the configured one, else
// $PYTHON_EXEC, else python3.
func ResolvePython(configured string) string {
	if strings.TrimSpace(configured) != "" {
		return configured
	}
	if env := strings.TrimSpace(os.Getenv(EnvPythonExec)); env != "" {
		return env
	}
	return DefaultPython
}

// ResolveScript returns the detection script to run.
//
// A configured path is used as-is. Otherwise the first existing file of
// <workDir>/python/anomaly_detection.py and
// <workDir>/backend/python/anomaly_detection.py is used, falling back to the
// relative python/anomaly_detection.py.
func ResolveScript(configured, workDir string) string {
	if configured != "" {
		return configured
	}
	for _, candidate := range []string{
		filepath.Join(workDir, "python", "anomaly_detection.py"),
		filepath.Join(workDir, "backend", "python", "anomaly_detection.py"),
	} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return DefaultScript
}

// Detect runs the script on img.
//
// Images that only exist in memory are written to a private temporary
// directory for the run. On failure the input is copied to the failed
// directory and a *ScriptError is returned.
//
// Arguments:
//   - ctx: Cancelling it kills the script.
//   - img: The image to inspect.
//
// Returns:
//   - *inference.Prediction: Detections in the configured box units.
//   - error: A *ScriptError, a context error, or a launch failure.
func (d *Detector) Detect(ctx context.Context, img *images.Image) (*inference.Prediction, error) {
	input := *img
	if input.Path == "" {
		ws, err := images.NewWorkspace("anomaly-")
		if err != nil {
			return nil, err
		}
		defer ws.Remove()
		if _, err := ws.WriteImage(&input); err != nil {
			return nil, err
		}
	}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, d.pythonArgs...), d.script, "--image", input.Path)
	cmd := osexec.CommandContext(ctx, d.python, args...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	entry := d.log.WithFields(logrus.Fields{"script": d.script, "image": input.Path})
	start := time.Now()
	err := cmd.Run()
	entry = entry.WithField("duration", time.Since(start).String())

	if stderr.Len() > 0 {
		entry.Debugf("script stderr: %s", strings.TrimSpace(stderr.String()))
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "detection script did not finish")
		}
		var exitErr *osexec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, errors.Wrapf(err, "failed to run %s", d.python)
		}
		scriptErr := &ScriptError{
			ExitCode:  exitErr.ExitCode(),
			Stderr:    stderr.String(),
			Preserved: d.preserve(&input, "failed_"),
			Err:       err,
		}
		entry.WithFields(logrus.Fields{
			"exit_code": scriptErr.ExitCode,
			"preserved": scriptErr.Preserved,
		}).Error("detection script failed")
		return nil, scriptErr
	}

	detections, err := d.parse(stdout.Bytes())
	if err != nil {
		scriptErr := &ScriptError{
			Stderr:    stderr.String(),
			Preserved: d.preserve(&input, "failed_parse_"),
			Err:       err,
		}
		entry.WithField("preserved", scriptErr.Preserved).Errorf("unreadable script output: %v", err)
		return nil, scriptErr
	}

	prediction := &inference.Prediction{Width: 1, Height: 1, Detections: detections}
	if d.cfg.BoxUnits == UnitsPixels {
		prediction.Width, prediction.Height = input.Width, input.Height
	}

	entry.WithField("detections", len(detections)).Debug("script finished")
	return prediction, nil
}

// parse converts the script's stdout into raw detections, one per record.
// Malformed records are logged and kept with their bad fields replaced.
func (d *Detector) parse(stdout []byte) ([]postprocess.RawDetection, error) {
	records, err := ParseOutput(stdout)
	if err != nil {
		return nil, err
	}
	detections := make([]postprocess.RawDetection, len(records))
	for i, record := range records {
		raw, err := record.ToRawDetection()
		if err != nil {
			d.log.WithField("record", i).Warnf("recovered: %v", err)
		}
		detections[i] = raw
	}
	return detections, nil
}

// preserve copies the input image into the failed directory and returns the
// copy's path, or "" when preservation is disabled or fails.
func (d *Detector) preserve(img *images.Image, prefix string) string {
	if d.cfg.FailedDir == "" {
		return ""
	}

	dir := d.cfg.FailedDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(img.Path), dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.log.WithError(err).Warn("failed to create failed-detections directory")
		return ""
	}

	data := img.Data
	if len(data) == 0 {
		var err error
		if data, err = os.ReadFile(img.Path); err != nil {
			d.log.WithError(err).Warn("failed to read image for preservation")
			return ""
		}
	}

	path := filepath.Join(dir, prefix+ulid.Make().String()+img.Format.Ext())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		d.log.WithError(err).Warn("failed to preserve image")
		return ""
	}
	return path
}

// Close is a no-op; each run starts a fresh process.
func (d *Detector) Close() error {
	return nil
}
