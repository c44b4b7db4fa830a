package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls int
	batch postprocess.Batch
	err   error
}

func (r *countingRunner) Run(ctx context.Context, img *images.Image) (postprocess.Batch, error) {
	r.calls++
	if r.err != nil {
		return postprocess.EmptyBatch(), r.err
	}
	return r.batch, nil
}

var sample = postprocess.Batch{Anomalies: []postprocess.Anomaly{
	{Class: "Point Overload Faulty", Confidence: 0.875, Box: [4]float64{0.1, 0.1, 0.5, 0.9}},
}}

func newStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	srv := miniredis.RunT(t)
	store := NewRedisStore(RedisConfig{Addr: srv.Addr(), Prefix: "anomaly:"}, nil)
	t.Cleanup(func() { store.Close() })
	return srv, store
}

// TestCachedRunner verifies repeated images are served from the store.
func TestCachedRunner(t *testing.T) {
	srv, store := newStore(t)
	next := &countingRunner{batch: sample}
	runner := NewCachedRunner(next, store, time.Minute, nil)
	img := &images.Image{Data: []byte("frame-1")}

	for i := 0; i < 3; i++ {
		got, err := runner.Run(context.Background(), img)
		require.NoError(t, err)
		assert.Equal(t, sample, got)
	}
	assert.Equal(t, 1, next.calls)

	key := "anomaly:" + Key(img.Data)
	assert.True(t, srv.Exists(key))
	assert.Equal(t, time.Minute, srv.TTL(key))

	srv.FastForward(2 * time.Minute)
	_, err := runner.Run(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

// TestCachedRunnerFailure verifies failed detections are not stored.
func TestCachedRunnerFailure(t *testing.T) {
	srv, store := newStore(t)
	next := &countingRunner{err: errors.New("script exited with code 1")}
	runner := NewCachedRunner(next, store, 0, nil)
	img := &images.Image{Data: []byte("frame-2")}

	got, err := runner.Run(context.Background(), img)
	assert.Error(t, err)
	assert.Equal(t, postprocess.EmptyBatch(), got)
	assert.False(t, srv.Exists("anomaly:"+Key(img.Data)))
}

// TestCachedRunnerStoreDown verifies detections still run when Redis is gone.
func TestCachedRunnerStoreDown(t *testing.T) {
	srv, store := newStore(t)
	srv.Close()

	next := &countingRunner{batch: sample}
	runner := NewCachedRunner(next, store, time.Minute, nil)

	got, err := runner.Run(context.Background(), &images.Image{Data: []byte("frame-3")})
	require.NoError(t, err)
	assert.Equal(t, sample, got)
	assert.Equal(t, 1, next.calls)
}

// TestRedisStore verifies empty batches round trip and corrupt entries are reported.
func TestRedisStore(t *testing.T) {
	srv, store := newStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "empty", postprocess.EmptyBatch(), 0))
	raw, err := srv.Get("anomaly:empty")
	require.NoError(t, err)
	assert.Equal(t, `{"anomalies":[]}`, raw)

	got, ok, err := store.Get(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, postprocess.EmptyBatch(), got)

	require.NoError(t, srv.Set("anomaly:corrupt", "{not json"))
	_, _, err = store.Get(ctx, "corrupt")
	assert.Error(t, err)
}

// TestKey verifies keys depend only on content.
func TestKey(t *testing.T) {
	assert.Equal(t, Key([]byte("a")), Key([]byte("a")))
	assert.NotEqual(t, Key([]byte("a")), Key([]byte("b")))
	assert.Len(t, Key(nil), 64)
}
