package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var outcomes []error

	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{
		Workers:    1,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		Observer: func(job Job, _ time.Duration, err error) {
			mu.Lock()
			outcomes = append(outcomes, err)
			mu.Unlock()
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1", Type: "sweep"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 3)
	assert.Error(t, outcomes[0])
	assert.NoError(t, outcomes[2])
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("permanent")
	}, QueueConfig{Workers: 2, MaxRetries: 1, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
	assert.NoError(t, q.Drain(context.Background()))
}
