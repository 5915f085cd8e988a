// Package notify delivers user-facing progress messages without ever
// blocking the operation that produces them.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/MoseikiApp/peasy-ai/internal/metrics"
)

// Emitter receives progress messages. Emit must not block.
type Emitter interface {
	Emit(msg string)
}

// Nop discards messages.
type Nop struct{}

func (Nop) Emit(string) {}

// Func adapts a function into an Emitter. The function runs inline, so it
// must be quick.
type Func func(string)

func (f Func) Emit(msg string) { f(msg) }

// Sink buffers messages in a bounded channel and hands them to deliver on a
// single goroutine, preserving order. Messages that do not fit are dropped
// and counted.
type Sink struct {
	ch      chan string
	deliver func(context.Context, string) error
	dropped atomic.Int64
	metrics *metrics.Metrics
	logger  *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewSink(buffer int, deliver func(context.Context, string) error, m *metrics.Metrics, logger *zap.Logger) *Sink {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		ch:      make(chan string, buffer),
		deliver: deliver,
		metrics: m,
		logger:  logger.Named("notify"),
		done:    make(chan struct{}),
	}
}

// Run delivers messages until Close is called and the buffer is drained, or
// ctx is cancelled.
func (s *Sink) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.ch:
			if !ok {
				return
			}
			if err := s.deliver(ctx, msg); err != nil {
				s.logger.Warn("notification delivery failed", zap.Error(err))
			}
		}
	}
}

func (s *Sink) Emit(msg string) {
	defer func() {
		// Emit after Close lands on a closed channel.
		if recover() != nil {
			s.drop()
		}
	}()
	select {
	case s.ch <- msg:
	default:
		s.drop()
	}
}

func (s *Sink) drop() {
	s.dropped.Add(1)
	s.metrics.NotificationDropped()
}

func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting messages and waits for Run to drain the buffer.
func (s *Sink) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
	<-s.done
}

// Recorder keeps every message in memory. Tests and the CLI use it.
type Recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *Recorder) Emit(msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}
