// Package cache - Reuses detection results for images that were seen before.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/logger"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/sirupsen/logrus"
)

// Store holds serialized batches by key.
type Store interface {
	// Get returns the batch stored under key. ok is false on a miss.
	Get(ctx context.Context, key string) (batch postprocess.Batch, ok bool, err error)
	// Set stores batch under key for ttl. Zero ttl keeps it until evicted.
	Set(ctx context.Context, key string, batch postprocess.Batch, ttl time.Duration) error
}

// Runner runs detections on an image.
type Runner interface {
	Run(ctx context.Context, img *images.Image) (postprocess.Batch, error)
}

// CachedRunner serves repeated images from a Store and runs the wrapped
// Runner on misses. Store failures are logged and never fail a detection.
type CachedRunner struct {
	next  Runner
	store Store
	ttl   time.Duration
	log   *logrus.Logger
}

// NewCachedRunner wraps next with store.
//
// Arguments:
//   - next: The runner producing results on a miss.
//   - store: Where results are kept.
//   - ttl: How long a result stays valid.
//   - log: The logger. Nil discards logs.
//
// Returns:
//   - *CachedRunner: The caching runner.
func NewCachedRunner(next Runner, store Store, ttl time.Duration, log *logrus.Logger) *CachedRunner {
	if log == nil {
		log = logger.Discard()
	}
	return &CachedRunner{next: next, store: store, ttl: ttl, log: log}
}

// Run returns the stored batch for img, or runs the detector and stores its
// result. Failed detections are not stored.
func (r *CachedRunner) Run(ctx context.Context, img *images.Image) (postprocess.Batch, error) {
	key := Key(img.Data)
	entry := r.log.WithField("key", key)

	batch, ok, err := r.store.Get(ctx, key)
	switch {
	case err != nil:
		entry.WithError(err).Warn("cache lookup failed")
	case ok:
		entry.Debug("cache hit")
		return batch, nil
	}

	batch, err = r.next.Run(ctx, img)
	if err != nil {
		return batch, err
	}

	if err := r.store.Set(ctx, key, batch, r.ttl); err != nil {
		entry.WithError(err).Warn("cache store failed")
	}
	return batch, nil
}

// Key returns the cache key of the image bytes.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
