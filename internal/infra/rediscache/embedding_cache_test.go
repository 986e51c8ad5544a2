package rediscache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingEmbedder struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 0.5, -1.25}, nil
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCachedEmbedder_MissThenHit(t *testing.T) {
	mr, rdb := setupRedis(t)
	next := &countingEmbedder{}
	cache := NewCachedEmbedder(next, rdb, "text-embedding-3-small", WithLogger(discardLogger))
	ctx := context.Background()

	first, err := cache.Embed(ctx, "hello")
	require.NoError(t, err)
	second, err := cache.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, []float32{5, 0.5, -1.25}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), next.calls.Load())

	key := cache.key("hello")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, DefaultTTL, mr.TTL(key))
}

func TestCachedEmbedder_NamespaceSeparatesModels(t *testing.T) {
	_, rdb := setupRedis(t)
	next := &countingEmbedder{}
	ctx := context.Background()

	_, err := NewCachedEmbedder(next, rdb, "model-a", WithLogger(discardLogger)).Embed(ctx, "hello")
	require.NoError(t, err)
	_, err = NewCachedEmbedder(next, rdb, "model-b", WithLogger(discardLogger)).Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachedEmbedder_ExpiredEntryIsRegenerated(t *testing.T) {
	mr, rdb := setupRedis(t)
	next := &countingEmbedder{}
	cache := NewCachedEmbedder(next, rdb, "m", WithTTL(time.Minute), WithLogger(discardLogger))
	ctx := context.Background()

	_, err := cache.Embed(ctx, "hello")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = cache.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachedEmbedder_RedisUnavailable(t *testing.T) {
	mr, rdb := setupRedis(t)
	mr.Close()

	next := &countingEmbedder{}
	cache := NewCachedEmbedder(next, rdb, "m", WithLogger(discardLogger))

	vec, err := cache.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachedEmbedder_CorruptEntry(t *testing.T) {
	mr, rdb := setupRedis(t)
	next := &countingEmbedder{}
	cache := NewCachedEmbedder(next, rdb, "m", WithLogger(discardLogger))

	require.NoError(t, mr.Set(cache.key("hello"), "abc"))

	vec, err := cache.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachedEmbedder_ErrorIsNotCached(t *testing.T) {
	mr, rdb := setupRedis(t)
	next := &countingEmbedder{err: errors.New("rate limited")}
	cache := NewCachedEmbedder(next, rdb, "m", WithLogger(discardLogger))

	_, err := cache.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.False(t, mr.Exists(cache.key("hello")))
}

func TestCachedEmbedder_ConcurrentMissesShareOneCall(t *testing.T) {
	_, rdb := setupRedis(t)
	next := &countingEmbedder{release: make(chan struct{})}
	cache := NewCachedEmbedder(next, rdb, "m", WithLogger(discardLogger))

	const workers = 8
	var wg sync.WaitGroup
	results := make([][]float32, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := cache.Embed(context.Background(), "same question")
			assert.NoError(t, err)
			results[i] = vec
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(next.release)
	wg.Wait()

	assert.Equal(t, int32(1), next.calls.Load())
	for _, vec := range results {
		assert.Equal(t, results[0], vec)
	}
	// 呼び出し側ごとに別のスライスを返す
	results[0][0] = 999
	assert.NotEqual(t, results[0][0], results[1][0])
}

func TestCachedEmbedder_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	mr, rdb := setupRedis(t)
	next := &countingEmbedder{release: make(chan struct{})}
	cache := NewCachedEmbedder(next, rdb, "m", WithLogger(discardLogger))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cache.Embed(ctxA, "same")
		errA <- err
	}()
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type embedResult struct {
		vec []float32
		err error
	}
	resB := make(chan embedResult, 1)
	go func() {
		vec, err := cache.Embed(context.Background(), "same")
		resB <- embedResult{vec: vec, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(next.release)
	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.Equal(t, []float32{4, 0.5, -1.25}, res.vec)
	case <-time.After(time.Second):
		t.Fatal("waiting caller did not return")
	}

	assert.Equal(t, int32(1), next.calls.Load())
	assert.True(t, mr.Exists(cache.key("same")))
}

func TestCachedEmbedder_WaiterHonorsOwnDeadline(t *testing.T) {
	_, rdb := setupRedis(t)
	next := &countingEmbedder{release: make(chan struct{})}
	cache := NewCachedEmbedder(next, rdb, "m", WithLogger(discardLogger))

	errA := make(chan error, 1)
	go func() {
		_, err := cache.Embed(context.Background(), "same")
		errA <- err
	}()
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctxB, cancelB := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancelB()
	start := time.Now()
	_, err := cache.Embed(ctxB, "same")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(next.release)
	require.NoError(t, <-errA)
}

func TestCachedEmbedder_SharedCallIsBoundedByCallTimeout(t *testing.T) {
	_, rdb := setupRedis(t)
	next := &countingEmbedder{release: make(chan struct{})}
	defer close(next.release)
	cache := NewCachedEmbedder(next, rdb, "m", WithLogger(discardLogger), WithCallTimeout(20*time.Millisecond))

	_, err := cache.Embed(context.Background(), "slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), "://bad")
	require.Error(t, err)
}

func TestNewClient_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
}
