package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_SubmitAndWait(t *testing.T) {
	p := NewPool(2, 4)
	defer p.Close()

	fut, err := Submit(context.Background(), p, LaneBatch, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)

	v, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPool_PropagatesJobError(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Close()

	boom := errors.New("boom")
	fut, err := Submit(context.Background(), p, LaneQuery, func(ctx context.Context) (string, error) {
		return "", boom
	})
	require.NoError(t, err)

	_, err = fut.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPool_QueryLaneServedFirst(t *testing.T) {
	p := NewPool(1, 8)
	defer p.Close()
	ctx := context.Background()

	// Occupy the single worker so the next jobs queue up.
	release := make(chan struct{})
	started := make(chan struct{})
	blocker, err := Submit(ctx, p, LaneBatch, func(ctx context.Context) (struct{}, error) {
		close(started)
		<-release
		return struct{}{}, nil
	})
	require.NoError(t, err)
	<-started

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) (struct{}, error) {
		return func(context.Context) (struct{}, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return struct{}{}, nil
		}
	}

	b1, err := Submit(ctx, p, LaneBatch, record("batch-1"))
	require.NoError(t, err)
	b2, err := Submit(ctx, p, LaneBatch, record("batch-2"))
	require.NoError(t, err)
	q, err := Submit(ctx, p, LaneQuery, record("query"))
	require.NoError(t, err)

	close(release)
	for _, f := range []*Future[struct{}]{blocker, b1, b2, q} {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, "query", order[0])
}

func TestPool_WaitHonorsContext(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Close()

	release := make(chan struct{})
	defer close(release)
	fut, err := Submit(context.Background(), p, LaneBatch, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = fut.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(1, 1)
	p.Close()
	p.Close()

	_, err := Submit(context.Background(), p, LaneQuery, func(ctx context.Context) (int, error) {
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrPoolClosed)
}
