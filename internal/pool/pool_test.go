package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_SubmitWait(t *testing.T) {
	p := New(Config{MaxWorkers: 2, QueueSize: 4})
	defer p.Close()

	var ran atomic.Bool
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran.Load())

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestWorkerPool_SubmitWaitError(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	wantErr := errors.New("step failed")
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestWorkerPool_TrySubmitFull(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	// Occupy the single worker.
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	// Fill the queue, then the next try must be rejected.
	require.NoError(t, p.TrySubmit(context.Background(), func(ctx context.Context) error { return nil }))
	err := p.TrySubmit(context.Background(), func(ctx context.Context) error { return nil })

	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1})
	p.Close()

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPool_PanicRecovery(t *testing.T) {
	var captured atomic.Value
	p := New(Config{
		MaxWorkers: 1,
		QueueSize:  1,
		PanicHandler: func(v any) {
			captured.Store(v)
		},
	})
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		panic("step exploded")
	})

	require.Error(t, err)
	assert.Equal(t, "step exploded", captured.Load())
}

func TestWorkerPool_SubmitBlocksUntilRoom(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.TrySubmit(context.Background(), func(ctx context.Context) error { return nil }))

	// Queue is full; a short deadline must abort the blocking submit.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestSlicePool(t *testing.T) {
	p := NewSlicePool[int](8)

	s := p.Get()
	assert.Len(t, s, 0)
	assert.GreaterOrEqual(t, cap(s), 8)

	s = append(s, 1, 2, 3)
	p.Put(s)

	s2 := p.Get()
	assert.Len(t, s2, 0)
}

func TestMapPool_ClearsOnPut(t *testing.T) {
	p := NewMapPool[int, int](8)

	m := p.Get()
	m[1] = 10
	m[2] = 20
	p.Put(m)

	// Put clears synchronously, whichever map Get hands back next.
	assert.Len(t, m, 0)
	m2 := p.Get()
	assert.Len(t, m2, 0)
}
