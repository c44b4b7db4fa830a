// Command anomaly-detect runs the configured detector on one image and
// writes the normalized anomalies as JSON to stdout.
//
// Logs go to stderr. On any failure the output is {"anomalies":[]} and the
// exit status is 1.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nvr-ai/go-anomaly/config"
	"github.com/nvr-ai/go-anomaly/detector"
	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/logger"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// errNoImage is returned when neither --image nor --stdin names an input.
var errNoImage = errors.New("no input image: use --image <path> or --stdin")

// options are the command line flags.
type options struct {
	image      string
	stdin      bool
	configPath string
	backend    string
	model      string
	classes    string
	confidence float64
	precision  int
	timeout    time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the exit status.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_ = writeBatch(stdout, postprocess.EmptyBatch())
		return 1
	}

	cfg, log, err := setup(opts)
	if err != nil {
		fallback := logrus.New()
		fallback.SetOutput(stderr)
		fallback.WithError(err).Error("invalid configuration")
		_ = writeBatch(stdout, postprocess.EmptyBatch())
		return 1
	}

	batch, err := detect(ctx, cfg, opts, stdin, log)
	if err != nil {
		log.WithError(err).Error("anomaly detection failed")
		_ = writeBatch(stdout, postprocess.EmptyBatch())
		return 1
	}

	if err := writeBatch(stdout, batch); err != nil {
		log.WithError(err).Error("failed to write result")
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("anomaly-detect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.image, "image", "", "Path to the image file, or - to read it from stdin")
	fs.BoolVar(&opts.stdin, "stdin", false, "Read the image bytes from stdin")
	fs.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	fs.StringVar(&opts.backend, "backend", "", "Detection backend: exec, onnx or dnn")
	fs.StringVar(&opts.model, "model", "", "Path to the model file")
	fs.StringVar(&opts.classes, "classes", "", "Path to a YAML/JSON class names file")
	fs.Float64Var(&opts.confidence, "confidence", -1, "Minimum model confidence for in-process backends")
	fs.IntVar(&opts.precision, "precision", -2, "Decimal places in the output, -1 for full precision")
	fs.DurationVar(&opts.timeout, "timeout", 0, "Detection timeout")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.image == "-" {
		opts.image = ""
		opts.stdin = true
	}
	return opts, nil
}

// apply overrides the loaded configuration with the flags that were set.
func (o options) apply(cfg *config.Config) {
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if o.model != "" {
		cfg.Model.Path = o.model
	}
	if o.classes != "" {
		cfg.Model.ClassesFile = o.classes
	}
	if o.confidence >= 0 {
		cfg.Model.Confidence = o.confidence
	}
	if o.precision >= -1 {
		cfg.Output.Precision = o.precision
	}
	if o.timeout > 0 {
		cfg.Exec.Timeout = o.timeout
	}
}

// setup loads the configuration, applies the flags and builds the logger.
func setup(opts options) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(opts.configPath, ".env")
	if err != nil {
		return nil, nil, err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// detect builds the pipeline and runs it on the selected image.
func detect(ctx context.Context, cfg *config.Config, opts options, stdin io.Reader, log *logrus.Logger) (postprocess.Batch, error) {
	img, err := loadImage(opts, stdin)
	if err != nil {
		return postprocess.EmptyBatch(), err
	}

	pipeline, err := detector.NewPipeline(cfg, log)
	if err != nil {
		return postprocess.EmptyBatch(), err
	}
	defer pipeline.Close()

	log.WithFields(logrus.Fields{"backend": cfg.Backend, "image": img.Path}).Debug("running detection")
	return pipeline.Run(ctx, img)
}

func loadImage(opts options, stdin io.Reader) (*images.Image, error) {
	switch {
	case opts.image != "":
		return images.Load(opts.image)
	case opts.stdin:
		return images.FromReader(stdin)
	default:
		return nil, errNoImage
	}
}

func writeBatch(w io.Writer, batch postprocess.Batch) error {
	if batch.Anomalies == nil {
		batch = postprocess.EmptyBatch()
	}
	return jsoniter.NewEncoder(w).Encode(batch)
}
