// Package channel is the in-process bus that carries publish requests from
// review and the reconciler to the publisher.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 5 * time.Second

// ErrBufferFull is returned when the buffer stays full for the emit timeout.
var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink receives buffer occupancy updates.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) { b.emitTimeout = d }
}

func WithMetrics(m MetricsSink) Option {
	return func(b *EventBus) { b.metrics = m }
}

type EventBus struct {
	ch          chan domain.PublishRequest
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.PublishRequest, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues req. It fails with ErrBufferFull if no space frees up within
// the emit timeout, or with the context error if ctx ends first.
func (b *EventBus) Emit(ctx context.Context, req domain.PublishRequest) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- req:
		b.observe()
		return nil
	case <-ctx.Done():
		b.emitError()
		return ctx.Err()
	case <-timer.C:
		b.emitError()
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.PublishRequest {
	return b.ch
}

// Len reports the number of queued requests.
func (b *EventBus) Len() int { return len(b.ch) }

func (b *EventBus) observe() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if c := cap(b.ch); c > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(c))
	}
}

func (b *EventBus) emitError() {
	if b.metrics != nil {
		b.metrics.EmitError()
	}
}
