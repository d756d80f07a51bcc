// Package progress fans ingestion events out to live observers.
//
// The bus has an explicit lifecycle: constructed at process start,
// closed at shutdown, and handed to components by reference. Publishing
// is non-blocking and decoupled from subscriber count or liveness; a
// subscriber that cannot keep up loses events, never the record.
package progress

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

const defaultSubscriberBuffer = 64

// subscriber is one live observer. Its context doubles as the
// disconnection signal, checked lazily at publish time.
type subscriber struct {
	ch  chan domain.IngestionEvent
	ctx context.Context
}

// Bus distributes IngestionEvents to zero or more subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	buffer int
	closed bool
	logger *zap.Logger
}

// NewBus creates a bus whose subscriber channels buffer up to bufferSize
// events.
func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize < 1 {
		bufferSize = defaultSubscriberBuffer
	}
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		buffer: bufferSize,
		logger: logger,
	}
}

// Publish fans an event out to all live subscribers (implements
// domain.EventPublisher). Never blocks: with zero subscribers it is a
// no-op, a cancelled subscriber is dropped, and a full subscriber buffer
// loses this event rather than stalling the publisher.
func (b *Bus) Publish(event domain.IngestionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for id, sub := range b.subs {
		if sub.ctx.Err() != nil {
			// Disconnected observer, detected lazily.
			delete(b.subs, id)
			close(sub.ch)
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Debug("subscriber buffer full, event dropped",
				zap.String("record_id", event.RecordID),
				zap.String("status", string(event.Status)),
			)
		}
	}
}

// Subscribe registers a live observer. The returned channel carries
// events published after this call. There is no replay; late observers
// catch up through the record query interface. The cancel function
// detaches the observer; its channel is closed once detached.
func (b *Bus) Subscribe(ctx context.Context) (<-chan domain.IngestionEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.IngestionEvent, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{ch: ch, ctx: ctx}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of attached observers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close tears the bus down: every subscriber channel is closed and
// further publishes become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Verify that Bus implements domain.EventPublisher interface
var _ domain.EventPublisher = (*Bus)(nil)
