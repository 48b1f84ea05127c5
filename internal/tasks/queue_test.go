package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestQueueRunsTask(t *testing.T) {
	q := New(zaptest.NewLogger(t), WithWorkers(1), WithBackoff(time.Millisecond))
	q.Start()
	defer q.Stop()

	done := make(chan struct{})
	ok := q.Enqueue(Task{
		Name: "ping",
		Run: func(context.Context) error {
			close(done)
			return nil
		},
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	q := New(zaptest.NewLogger(t), WithWorkers(1), WithBackoff(time.Millisecond))
	q.Start()
	defer q.Stop()

	var attempts atomic.Int32
	done := make(chan struct{})
	q.Enqueue(Task{
		Name:        "flaky",
		MaxAttempts: 5,
		Run: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		},
	})

	select {
	case <-done:
		assert.Equal(t, int32(3), attempts.Load())
	case <-time.After(time.Second):
		t.Fatal("task never succeeded")
	}
}

func TestQueueGivesUpAfterMaxAttempts(t *testing.T) {
	q := New(zaptest.NewLogger(t), WithWorkers(1), WithBackoff(time.Millisecond))
	q.Start()
	defer q.Stop()

	var attempts atomic.Int32
	q.Enqueue(Task{
		Name:        "hopeless",
		MaxAttempts: 2,
		Run: func(context.Context) error {
			attempts.Add(1)
			return errors.New("permanent")
		},
	})

	assert.Eventually(t, func() bool {
		return attempts.Load() == 2
	}, time.Second, 5*time.Millisecond)

	// and no further attempts happen
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestEnqueueRejectsNilRun(t *testing.T) {
	q := New(zaptest.NewLogger(t))
	assert.False(t, q.Enqueue(Task{Name: "empty"}))
}

func TestStopWaitsForWorkers(t *testing.T) {
	q := New(zaptest.NewLogger(t), WithWorkers(2), WithBackoff(time.Millisecond))
	q.Start()

	started := make(chan struct{})
	q.Enqueue(Task{
		Name: "slow",
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		},
	})

	<-started
	q.Stop()
	// a second Stop is a no-op
	q.Stop()
}
