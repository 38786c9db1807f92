package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerPublish(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventParamChanged, Name: "sys.a", Value: "1", CommitID: 3})

	for _, sub := range []Subscriber{sub1, sub2} {
		ev := receive(t, sub)
		assert.Equal(t, "sys.a", ev.Name)
		assert.Equal(t, "1", ev.Value)
		assert.Equal(t, uint32(3), ev.CommitID)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)

	// second unsubscribe is a no-op
	b.Unsubscribe(sub)
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	fast := b.Subscribe()

	for i := 0; i < 200; i++ {
		b.Publish(&Event{Type: EventParamChanged, Name: "sys.a"})
		receive(t, fast)
	}
	assert.Len(t, slow, cap(slow))
	assert.Equal(t, uint64(200-DefaultBuffer), b.Dropped(slow))
	assert.Zero(t, b.Dropped(fast))
}

func TestBrokerBlockingSubscriberMissesNothing(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe(WithBlocking(), WithBuffer(1))
	const n = 500
	go func() {
		for i := 0; i < n; i++ {
			b.Publish(&Event{Type: EventParamChanged, Name: "sys.a", CommitID: uint32(i + 1)})
		}
	}()

	for i := 0; i < n; i++ {
		ev := receive(t, sub)
		require.Equal(t, uint32(i+1), ev.CommitID)
		if i%50 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	assert.Zero(t, b.Dropped(sub))
}

func TestBrokerUnsubscribeBlockingWhileDelivering(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe(WithBlocking(), WithBuffer(1))
	drained := make(chan int)
	go func() {
		n := 0
		for range sub {
			n++
			time.Sleep(time.Millisecond)
		}
		drained <- n
	}()

	for i := 0; i < 20; i++ {
		b.Publish(&Event{Type: EventParamChanged, Name: "sys.a"})
	}

	done := make(chan struct{})
	go func() {
		b.Unsubscribe(sub)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "unsubscribe blocked behind delivery")
	}
	select {
	case n := <-drained:
		assert.LessOrEqual(t, n, 20)
	case <-time.After(2 * time.Second):
		require.Fail(t, "channel was not closed")
	}
}

func TestBrokerFilter(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	persisted := b.Subscribe(WithFilter(func(ev *Event) bool {
		return ev.Type == EventParamRestored
	}))
	all := b.Subscribe()

	b.Publish(&Event{Type: EventParamChanged, Name: "sys.a"})
	b.Publish(&Event{Type: EventParamRestored, Name: "persist.b"})

	assert.Equal(t, "sys.a", receive(t, all).Name)
	assert.Equal(t, "persist.b", receive(t, all).Name)
	assert.Equal(t, "persist.b", receive(t, persisted).Name)
	assert.Empty(t, persisted)
}

func TestBrokerBufferOption(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(WithBuffer(8), WithName("small"))
	assert.Equal(t, 8, cap(sub))

	// non-positive sizes keep the default
	assert.Equal(t, DefaultBuffer, cap(b.Subscribe(WithBuffer(0))))
	assert.Zero(t, b.Dropped(make(Subscriber)))
}

func TestBrokerStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	b.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(&Event{Name: "sys.a"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "publish blocked after stop")
	}
}
