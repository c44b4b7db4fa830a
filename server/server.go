// Package server - HTTP endpoint for anomaly detection.
package server

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/nvr-ai/go-anomaly/config"
	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Runner runs detection on one image. *inference.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, img *images.Image) (postprocess.Batch, error)
}

// Option configures a Server.
type Option func(*Server) error

// Server serves detection requests.
type Server struct {
	app       *fiber.App
	runner    Runner
	log       *logrus.Logger
	validator *validator.Validate
	cfg       config.ServerConfig
}

// New builds a server from options.
//
// Arguments:
//   - options: WithRunner and WithLogger are required.
//
// Returns:
//   - *Server: The server with its routes registered.
//   - error: Non-nil if an option fails or a requirement is missing.
//
// Example:
//
// ```go
//
//	srv, err := server.New(
//		server.WithRunner(pipeline),
//		server.WithLogger(log),
//		server.WithConfig(cfg.Server),
//	)
//
// ```
func New(options ...Option) (*Server, error) {
	s := &Server{cfg: config.Default().Server}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, errors.Wrap(err, "failed to apply option")
		}
	}

	if s.runner == nil {
		return nil, errors.New("runner is required")
	}
	if s.log == nil {
		return nil, errors.New("logger is required")
	}
	if s.validator == nil {
		s.validator = validator.New()
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "go-anomaly",
		BodyLimit:             s.cfg.BodyLimit,
		StrictRouting:         true,
		CaseSensitive:         true,
		DisableStartupMessage: true,
		JSONEncoder:           jsoniter.Marshal,
		JSONDecoder:           jsoniter.Unmarshal,
		ErrorHandler:          errorHandler,
	})
	s.routes()

	return s, nil
}

// WithRunner sets the detection runner.
func WithRunner(runner Runner) Option {
	return func(s *Server) error {
		s.runner = runner
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Logger) Option {
	return func(s *Server) error {
		s.log = log
		return nil
	}
}

// WithValidator sets the request validator.
func WithValidator(v *validator.Validate) Option {
	return func(s *Server) error {
		s.validator = v
		return nil
	}
}

// WithConfig sets the listen address and limits.
func WithConfig(cfg config.ServerConfig) Option {
	return func(s *Server) error {
		if cfg.Addr == "" {
			return errors.New("server address is required")
		}
		s.cfg = cfg
		return nil
	}
}

func (s *Server) routes() {
	s.app.Use(requestID())
	s.app.Use(requestLogger(s.log))

	s.app.Get("/healthz", s.health)

	v1 := s.app.Group("/api/v1")
	if s.cfg.RateLimit > 0 {
		burst := max(s.cfg.RateBurst, 1)
		v1.Use(newRateLimiter(rate.Limit(s.cfg.RateLimit), burst).handler(s.log))
	}
	v1.Post("/detections", s.detect)
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on the configured address until Shutdown.
func (s *Server) Run() error {
	s.log.WithField("addr", s.cfg.Addr).Info("server listening")
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requestContext bounds a detection by the configured request timeout.
func (s *Server) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout > 0 {
		return context.WithTimeout(c.UserContext(), s.cfg.RequestTimeout)
	}
	return context.WithCancel(c.UserContext())
}

// errorHandler renders fiber errors in the service's error format.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}
