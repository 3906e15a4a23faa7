package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := New(4, 16)
	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			ran.Add(1)
		})
		require.NoError(t, err)
	}
	wg.Wait()
	p.Close()
	p.Wait()
	assert.Equal(t, int64(32), ran.Load())
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(1, 1)
	p.Close()
	p.Wait()
	err := p.Submit(context.Background(), func(context.Context) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubmitHonorsContext(t *testing.T) {
	p := New(1, 1)
	defer func() {
		p.Close()
		p.Wait()
	}()
	block := make(chan struct{})
	// Occupy the single worker and fill the queue.
	_ = p.Submit(context.Background(), func(context.Context) { <-block })
	_ = p.Submit(context.Background(), func(context.Context) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Submit(ctx, func(context.Context) {})
	assert.ErrorIs(t, err, context.Canceled)
	close(block)
}
