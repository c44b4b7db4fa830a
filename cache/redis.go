package cache

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nvr-ai/go-anomaly/logger"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// Addr is host:port of the server.
	Addr string
	// Password authenticates the connection. Empty disables AUTH.
	Password string
	// DB is the database number.
	DB int
	// Prefix is prepended to every key.
	Prefix string
}

// RedisStore keeps batches as JSON strings in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis. An unreachable server is logged, not
// returned; lookups then fail and detections run uncached.
func NewRedisStore(cfg RedisConfig, log *logrus.Logger) *RedisStore {
	if log == nil {
		log = logger.Discard()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := log.WithField("addr", cfg.Addr)
	if err := client.Ping(ctx).Err(); err != nil {
		entry.WithError(err).Error("failed to connect to redis")
	} else {
		entry.Info("connected to redis")
	}

	return &RedisStore{client: client, prefix: cfg.Prefix}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (postprocess.Batch, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return postprocess.Batch{}, false, nil
	}
	if err != nil {
		return postprocess.Batch{}, false, errors.Wrap(err, "redis get")
	}

	var batch postprocess.Batch
	if err := jsoniter.Unmarshal(val, &batch); err != nil {
		return postprocess.Batch{}, false, errors.Wrapf(err, "corrupt cache entry %s", key)
	}
	if batch.Anomalies == nil {
		batch = postprocess.EmptyBatch()
	}
	return batch, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, batch postprocess.Batch, ttl time.Duration) error {
	val, err := jsoniter.Marshal(batch)
	if err != nil {
		return errors.Wrap(err, "encode batch")
	}
	return errors.Wrap(s.client.Set(ctx, s.prefix+key, val, ttl).Err(), "redis set")
}

// Close closes the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
