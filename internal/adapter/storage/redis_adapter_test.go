package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNextSequence_StartsAtOne(t *testing.T) {
	client, _ := getRedisClient(t)
	adapter := NewRedisAdapter(client)
	ctx := context.Background()

	first, err := adapter.NextSequence(ctx, "orderCounter")
	require.NoError(t, err)
	second, err := adapter.NextSequence(ctx, "orderCounter")
	require.NoError(t, err)

	if first != 1 || second != 2 {
		t.Errorf("expected 1, 2; got %d, %d", first, second)
	}
}

func TestNextSequence_Seeded(t *testing.T) {
	client, _ := getRedisClient(t)
	adapter := NewRedisAdapter(client)
	ctx := context.Background()

	seeded, err := adapter.SeedSequence(ctx, "orderCounter", 41)
	require.NoError(t, err)
	assert.Equal(t, int64(41), seeded)
	n, err := adapter.NextSequence(ctx, "orderCounter")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestSeedSequence_NeverLowers(t *testing.T) {
	client, mr := getRedisClient(t)
	adapter := NewRedisAdapter(client)
	ctx := context.Background()

	require.NoError(t, mr.Set("seq:orderCounter", "50"))
	seeded, err := adapter.SeedSequence(ctx, "orderCounter", 41)
	require.NoError(t, err)
	assert.Equal(t, int64(50), seeded)
	n, err := adapter.NextSequence(ctx, "orderCounter")
	require.NoError(t, err)
	assert.Equal(t, int64(51), n)
}

func TestSeedSequence_ContinuesFromCounterDocument(t *testing.T) {
	client, _ := getRedisClient(t)
	adapter := NewRedisAdapter(client)
	docs := NewDocumentSequence(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := docs.NextSequence(ctx, "orderCounter")
		require.NoError(t, err)
	}
	last, err := docs.Current(ctx, "orderCounter")
	require.NoError(t, err)
	_, err = adapter.SeedSequence(ctx, "orderCounter", last)
	require.NoError(t, err)

	n, err := adapter.NextSequence(ctx, "orderCounter")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestNextSequence_Concurrent(t *testing.T) {
	client, _ := getRedisClient(t)
	adapter := NewRedisAdapter(client)
	ctx := context.Background()

	const workers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := adapter.NextSequence(ctx, "orderCounter")
			if err != nil {
				t.Errorf("next sequence: %v", err)
				return
			}
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers {
		t.Errorf("expected %d distinct ids, got %d", workers, len(seen))
	}
}

func TestGuard_AcquireRelease(t *testing.T) {
	client, mr := getRedisClient(t)
	adapter := NewRedisAdapter(client)
	ctx := context.Background()

	ok, err := adapter.AcquireGuard(ctx, "pick:o1", "token-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.AcquireGuard(ctx, "pick:o1", "token-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "guard is held")

	// only the holder may release
	require.NoError(t, adapter.ReleaseGuard(ctx, "pick:o1", "token-b"))
	assert.True(t, mr.Exists(guardKeyPrefix+"pick:o1"))

	require.NoError(t, adapter.ReleaseGuard(ctx, "pick:o1", "token-a"))
	assert.False(t, mr.Exists(guardKeyPrefix+"pick:o1"))

	ok, err = adapter.AcquireGuard(ctx, "pick:o1", "token-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuard_Expires(t *testing.T) {
	client, mr := getRedisClient(t)
	adapter := NewRedisAdapter(client)
	ctx := context.Background()

	ok, err := adapter.AcquireGuard(ctx, "pick:o2", "token-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = adapter.AcquireGuard(ctx, "pick:o2", "token-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuard_Concurrent(t *testing.T) {
	client, _ := getRedisClient(t)
	adapter := NewRedisAdapter(client)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := adapter.AcquireGuard(ctx, "pick:o3", string(rune('a'+i)), time.Minute)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}
