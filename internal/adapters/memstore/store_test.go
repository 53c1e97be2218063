package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediafetch/internal/core/domain"
)

func TestSetGetOverwrite(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	job := &domain.Job{ID: "a", URL: "https://example.com/v", Status: domain.StatusQueued, Title: "first"}
	require.NoError(t, s.Set(ctx, job))

	// Mutating the caller's copy does not leak into the store.
	job.Status = domain.StatusProcessing
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)

	// Set replaces the full record.
	require.NoError(t, s.Set(ctx, &domain.Job{ID: "a", Status: domain.StatusFailed}))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Empty(t, got.Title)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := New()
	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(2)
		id := fmt.Sprintf("job-%d", i%5)
		go func(n int) {
			defer wg.Done()
			_ = s.Set(ctx, &domain.Job{ID: id, Progress: int64(n)})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.Get(ctx, id)
		}()
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		_, err := s.Get(ctx, fmt.Sprintf("job-%d", i))
		assert.NoError(t, err)
	}
}
