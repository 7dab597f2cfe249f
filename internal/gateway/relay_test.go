package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentrelay/internal/stream"
)

type recordingDeliver struct {
	mu    sync.Mutex
	at    []time.Time
	items []string
}

func (r *recordingDeliver) deliver(_ context.Context, ev stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.at = append(r.at, time.Now())
	r.items = append(r.items, ev.Content)
}

func (r *recordingDeliver) snapshot() ([]time.Time, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.at...), append([]string(nil), r.items...)
}

func TestRelayBurstDeliversOnce(t *testing.T) {
	rec := &recordingDeliver{}
	relay := NewRelay(context.Background(), time.Second, rec.deliver)

	start := time.Now()
	for i := 0; i < 10; i++ {
		relay.Offer(stream.Event{Kind: stream.KindAssistantText, Content: fmt.Sprint(i)})
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)

	require.Eventually(t, func() bool {
		at, _ := rec.snapshot()
		return len(at) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	offered, delivered := relay.Close()
	assert.Equal(t, 10, offered)
	assert.Equal(t, 1, delivered)
}

func TestRelaySpacing(t *testing.T) {
	const interval = 100 * time.Millisecond
	rec := &recordingDeliver{}
	relay := NewRelay(context.Background(), interval, rec.deliver)

	for i := 0; i < 30; i++ {
		relay.Offer(stream.Event{Content: fmt.Sprint(i)})
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(2 * interval)
	relay.Close()

	at, items := rec.snapshot()
	require.NotEmpty(t, at)
	assert.LessOrEqual(t, len(at), 5)
	for i := 1; i < len(at); i++ {
		assert.GreaterOrEqual(t, at[i].Sub(at[i-1]), interval-5*time.Millisecond, "deliveries %d and %d too close", i-1, i)
	}
	assert.Equal(t, "29", items[len(items)-1], "latest event should win")
}

func TestRelayCloseDropsPending(t *testing.T) {
	rec := &recordingDeliver{}
	relay := NewRelay(context.Background(), time.Hour, rec.deliver)

	relay.Offer(stream.Event{Content: "first"})
	require.Eventually(t, func() bool {
		at, _ := rec.snapshot()
		return len(at) == 1
	}, time.Second, 5*time.Millisecond)

	relay.Offer(stream.Event{Content: "second"})
	offered, delivered := relay.Close()
	assert.Equal(t, 2, offered)
	assert.Equal(t, 1, delivered)

	// Offer after Close must not block.
	relay.Offer(stream.Event{Content: "late"})
}

func TestRelayOfferNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	relay := NewRelay(context.Background(), time.Millisecond, func(context.Context, stream.Event) {
		<-block
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			relay.Offer(stream.Event{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Offer blocked behind a slow delivery")
	}
	close(block)
	relay.Close()
}
