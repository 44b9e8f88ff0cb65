package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbon-marketplace/internal/models"
)

func TestPropertyCache_FirstWriteWins(t *testing.T) {
	c := NewPropertyCache()

	assert.True(t, c.Put(&models.Property{ID: "p1", Name: "first"}))
	assert.False(t, c.Put(&models.Property{ID: "p1", Name: "second"}))

	got, ok := c.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)

	got.Name = "mutated"
	again, _ := c.Get("p1")
	assert.Equal(t, "first", again.Name)
}

func TestPropertyCache_GetOrLoad(t *testing.T) {
	c := NewPropertyCache()
	ctx := context.Background()
	var calls atomic.Int32

	load := func(ctx context.Context, id string) (*models.Property, error) {
		calls.Add(1)
		return &models.Property{ID: id, Name: "loaded"}, nil
	}

	p, err := c.GetOrLoad(ctx, "p1", load)
	require.NoError(t, err)
	assert.Equal(t, "loaded", p.Name)

	_, err = c.GetOrLoad(ctx, "p1", load)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestPropertyCache_FailedLoadIsNotCached(t *testing.T) {
	c := NewPropertyCache()
	ctx := context.Background()
	boom := errors.New("db down")

	_, err := c.GetOrLoad(ctx, "p1", func(context.Context, string) (*models.Property, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	p, err := c.GetOrLoad(ctx, "p1", func(_ context.Context, id string) (*models.Property, error) {
		return &models.Property{ID: id}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
}

func TestPropertyCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	c := NewPropertyCache()
	var calls atomic.Int32
	release := make(chan struct{})

	load := func(_ context.Context, id string) (*models.Property, error) {
		calls.Add(1)
		<-release
		return &models.Property{ID: id}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrLoad(context.Background(), "p1", load)
			assert.NoError(t, err)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestPropertyCache_WaiterHonoursContext(t *testing.T) {
	c := NewPropertyCache()
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = c.GetOrLoad(context.Background(), "p1", func(_ context.Context, id string) (*models.Property, error) {
			close(started)
			<-release
			return &models.Property{ID: id}, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetOrLoad(ctx, "p1", func(context.Context, string) (*models.Property, error) {
		t.Fatal("second loader must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
