package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDeliversToChannelHandler(t *testing.T) {
	l, err := NewLocal(2, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(channel string) Handler {
		return func(_ context.Context, payload []byte) {
			mu.Lock()
			defer mu.Unlock()
			got[channel] = append(got[channel], string(payload))
		}
	}
	l.Subscribe("processing", record("processing"))
	l.Subscribe("completion", record("completion"))

	require.NoError(t, l.Publisher("processing").Publish(context.Background(), []byte("a")))
	require.NoError(t, l.Publisher("completion").Publish(context.Background(), []byte("b")))
	l.Close()

	assert.Equal(t, []string{"a"}, got["processing"])
	assert.Equal(t, []string{"b"}, got["completion"])
}

func TestLocalPublishDoesNotWaitForHandler(t *testing.T) {
	l, err := NewLocal(1, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	l.Subscribe("slow", func(context.Context, []byte) { <-release })

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Publish(context.Background(), "slow", []byte("x")))
	}
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	l.Close()
}

func TestLocalHandlersMayPublish(t *testing.T) {
	// a single worker: the chained publish must not deadlock
	l, err := NewLocal(1, nil)
	require.NoError(t, err)

	var completed atomic.Int32
	next := l.Publisher("completion")
	l.Subscribe("processing", func(ctx context.Context, payload []byte) {
		assert.NoError(t, next.Publish(ctx, payload))
	})
	l.Subscribe("completion", func(context.Context, []byte) { completed.Add(1) })

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Publish(context.Background(), "processing", []byte("doc")))
	}

	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not drain chained messages")
	}
	assert.Equal(t, int32(5), completed.Load())
}

func TestLocalHandlerContextOutlivesPublisher(t *testing.T) {
	l, err := NewLocal(1, nil)
	require.NoError(t, err)

	var handlerErr error
	l.Subscribe("c", func(ctx context.Context, _ []byte) {
		time.Sleep(10 * time.Millisecond)
		handlerErr = ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Publish(ctx, "c", []byte("x")))
	cancel()
	l.Drain()

	assert.NoError(t, handlerErr)
	l.Close()
}

func TestLocalCopiesPayload(t *testing.T) {
	l, err := NewLocal(1, nil)
	require.NoError(t, err)

	var got string
	l.Subscribe("c", func(_ context.Context, payload []byte) { got = string(payload) })

	buf := []byte("original")
	require.NoError(t, l.Publish(context.Background(), "c", buf))
	copy(buf, "mutated!")
	l.Close()

	assert.Equal(t, "original", got)
}

func TestLocalClosed(t *testing.T) {
	l, err := NewLocal(1, nil)
	require.NoError(t, err)
	l.Subscribe("c", func(context.Context, []byte) {})
	l.Close()
	l.Close()

	assert.ErrorIs(t, l.Publish(context.Background(), "c", []byte("x")), ErrClosed)
}

func TestLocalUnknownChannel(t *testing.T) {
	l, err := NewLocal(1, nil)
	require.NoError(t, err)
	defer l.Close()

	assert.NoError(t, l.Publish(context.Background(), "nobody", []byte("x")))
}
