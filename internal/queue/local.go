package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Local is an in-process transport. Messages published on a channel are
// handed to that channel's handler on a shared worker pool.
type Local struct {
	pool   *ants.Pool
	logger *slog.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	handlers map[string]Handler
	inflight int
	closed   bool
}

// NewLocal creates a Local transport running at most poolSize handlers at once.
func NewLocal(poolSize int, logger *slog.Logger) (*Local, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	l := &Local{
		pool:     pool,
		logger:   logger.With("component", "local-queue"),
		handlers: map[string]Handler{},
	}
	l.idle = sync.NewCond(&l.mu)
	return l, nil
}

// Subscribe sets the handler for channel, replacing any previous one.
func (l *Local) Subscribe(channel string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[channel] = h
}

// Publisher returns a publisher bound to channel.
func (l *Local) Publisher(channel string) *LocalPublisher {
	return &LocalPublisher{local: l, channel: channel}
}

// Publish schedules delivery of payload on channel and returns immediately.
// Messages for a channel without a handler are dropped.
func (l *Local) Publish(ctx context.Context, channel string, payload []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	h, ok := l.handlers[channel]
	if !ok {
		l.mu.Unlock()
		l.logger.Warn("No handler for channel; message dropped", "channel", channel)
		return nil
	}
	l.inflight++
	l.mu.Unlock()

	msg := append([]byte(nil), payload...)
	hctx := context.WithoutCancel(ctx)

	// Submit blocks while the pool is saturated; a handler publishing the
	// next message must not wait on its own worker.
	go func() {
		err := l.pool.Submit(func() {
			defer l.done()
			h(hctx, msg)
		})
		if err != nil {
			l.logger.Error("Failed to schedule message", "channel", channel, "error", err)
			l.done()
		}
	}()
	return nil
}

func (l *Local) done() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight--
	if l.inflight == 0 {
		l.idle.Broadcast()
	}
}

// Drain blocks until no message is in flight, including messages published
// by handlers while draining.
func (l *Local) Drain() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.inflight > 0 {
		l.idle.Wait()
	}
}

// Close drains in-flight messages, rejects further publishes and releases
// the pool. It is safe to call more than once.
func (l *Local) Close() {
	l.mu.Lock()
	for l.inflight > 0 {
		l.idle.Wait()
	}
	already := l.closed
	l.closed = true
	l.mu.Unlock()

	if !already {
		l.pool.Release()
	}
}

// LocalPublisher publishes on one channel of a Local transport.
type LocalPublisher struct {
	local   *Local
	channel string
}

// Publish implements the registry and worker Publisher contract.
func (p *LocalPublisher) Publish(ctx context.Context, payload []byte) error {
	return p.local.Publish(ctx, p.channel, payload)
}
