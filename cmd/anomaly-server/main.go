// Command anomaly-server serves detections over HTTP.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nvr-ai/go-anomaly/cache"
	"github.com/nvr-ai/go-anomaly/config"
	"github.com/nvr-ai/go-anomaly/detector"
	"github.com/nvr-ai/go-anomaly/logger"
	"github.com/nvr-ai/go-anomaly/server"
	"github.com/sirupsen/logrus"
)

// shutdownTimeout bounds how long in-flight detections may finish.
const shutdownTimeout = 30 * time.Second

func main() {
	var (
		configPath string
		addr       string
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flag.StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	flag.Parse()

	bootstrap := logrus.New()

	cfg, err := config.Load(configPath, ".env")
	if err != nil {
		bootstrap.Fatalf("Error loading config: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		bootstrap.Fatalf("Invalid config: %v", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		bootstrap.Fatalf("Error creating logger: %v", err)
	}

	pipeline, err := detector.NewPipeline(cfg, log)
	if err != nil {
		log.Fatalf("Error loading detector: %v", err)
	}
	defer pipeline.Close()

	var runner server.Runner = pipeline
	if cfg.Cache.Enabled() {
		store := cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   cfg.Cache.Prefix,
		}, log)
		defer store.Close()
		runner = cache.NewCachedRunner(pipeline, store, cfg.Cache.TTL, log)
	}

	srv, err := server.New(
		server.WithRunner(runner),
		server.WithLogger(log),
		server.WithConfig(cfg.Server),
	)
	if err != nil {
		log.Fatal(err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	log.WithField("backend", cfg.Backend).Info("Server started successfully")

	select {
	case err := <-errChan:
		if err != nil {
			log.Errorf("Error starting server: %v", err)
		}
		return
	case <-sigChan:
	}

	log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
}
