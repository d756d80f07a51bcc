package progress

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

func event(id string, status domain.Status) domain.IngestionEvent {
	return domain.IngestionEvent{
		RecordID: id,
		Filename: id + ".txt",
		Status:   status,
	}
}

// TestBusFanout verifies every live subscriber sees every event.
func TestBusFanout(t *testing.T) {
	bus := NewBus(16, zaptest.NewLogger(t))
	defer bus.Close()

	ctx := context.Background()
	a, cancelA := bus.Subscribe(ctx)
	defer cancelA()
	b, cancelB := bus.Subscribe(ctx)
	defer cancelB()

	bus.Publish(event("rec-1", domain.StatusScanning))
	bus.Publish(event("rec-1", domain.StatusDetecting))

	for _, ch := range []<-chan domain.IngestionEvent{a, b} {
		assert.Equal(t, domain.StatusScanning, (<-ch).Status)
		assert.Equal(t, domain.StatusDetecting, (<-ch).Status)
	}
}

// TestBusNoReplay verifies a late subscriber sees nothing from before
// its Subscribe call.
func TestBusNoReplay(t *testing.T) {
	bus := NewBus(16, zaptest.NewLogger(t))
	defer bus.Close()

	bus.Publish(event("rec-1", domain.StatusScanning))

	ch, cancel := bus.Subscribe(context.Background())
	defer cancel()

	select {
	case ev := <-ch:
		t.Fatalf("unexpected replayed event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestBusPublishWithoutSubscribers verifies publishing into the void is
// a safe no-op.
func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(16, zaptest.NewLogger(t))
	defer bus.Close()

	bus.Publish(event("rec-1", domain.StatusScanning))
	assert.Equal(t, 0, bus.SubscriberCount())
}

// TestBusSlowSubscriberLosesEvents verifies a full buffer drops events
// instead of blocking the publisher.
func TestBusSlowSubscriberLosesEvents(t *testing.T) {
	bus := NewBus(2, zaptest.NewLogger(t))
	defer bus.Close()

	ch, cancel := bus.Subscribe(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Publish(event(fmt.Sprintf("rec-%d", i), domain.StatusScanning))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// Only the buffered prefix survived.
	assert.Equal(t, "rec-0", (<-ch).RecordID)
	assert.Equal(t, "rec-1", (<-ch).RecordID)
	select {
	case ev := <-ch:
		t.Fatalf("expected dropped events, got %+v", ev)
	default:
	}
}

// TestBusCancelledContextDetaches verifies a subscriber whose context is
// done gets dropped and its channel closed.
func TestBusCancelledContextDetaches(t *testing.T) {
	bus := NewBus(16, zaptest.NewLogger(t))
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe := bus.Subscribe(ctx)
	defer unsubscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	cancel()
	bus.Publish(event("rec-1", domain.StatusScanning))

	assert.Equal(t, 0, bus.SubscriberCount())
	_, open := <-ch
	assert.False(t, open, "channel must be closed after detach")
}

// TestBusUnsubscribeIdempotent verifies calling cancel twice is safe.
func TestBusUnsubscribeIdempotent(t *testing.T) {
	bus := NewBus(16, zaptest.NewLogger(t))
	defer bus.Close()

	_, cancel := bus.Subscribe(context.Background())
	cancel()
	cancel()
	assert.Equal(t, 0, bus.SubscriberCount())
}

// TestBusClose verifies Close detaches everyone and later operations
// are no-ops.
func TestBusClose(t *testing.T) {
	bus := NewBus(16, zaptest.NewLogger(t))

	ch, cancel := bus.Subscribe(context.Background())
	defer cancel()

	bus.Close()
	bus.Close()

	_, open := <-ch
	assert.False(t, open)

	bus.Publish(event("rec-1", domain.StatusScanning))

	late, lateCancel := bus.Subscribe(context.Background())
	defer lateCancel()
	_, open = <-late
	assert.False(t, open, "subscription on a closed bus yields a closed channel")
}

// TestBusConcurrentPublishSubscribe hammers the bus from many
// goroutines to catch data races.
func TestBusConcurrentPublishSubscribe(t *testing.T) {
	bus := NewBus(8, zaptest.NewLogger(t))
	defer bus.Close()

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(event(fmt.Sprintf("rec-%d-%d", n, j), domain.StatusScanning))
			}
		}(i)
	}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancelCtx := context.WithCancel(context.Background())
			ch, cancel := bus.Subscribe(ctx)
			for j := 0; j < 50; j++ {
				select {
				case <-ch:
				case <-time.After(time.Millisecond):
				}
			}
			cancelCtx()
			cancel()
		}()
	}

	wg.Wait()
}
