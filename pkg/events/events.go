package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/paramd/pkg/metrics"
	"github.com/google/uuid"
)

// EventType distinguishes live changes from journal replay
type EventType string

const (
	// EventParamChanged is published after a value is committed
	EventParamChanged EventType = "param.changed"
	// EventParamRestored is published for values replayed from the persist journal
	EventParamRestored EventType = "param.restored"
)

// Event describes a parameter change
type Event struct {
	ID        string
	Type      EventType
	Name      string
	Value     string
	CommitID  uint32
	Timestamp time.Time
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 64

// SubscribeOption tunes a subscription
type SubscribeOption func(*subscription)

// WithBuffer sets the subscriber's queue length
func WithBuffer(n int) SubscribeOption {
	return func(s *subscription) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithFilter delivers only events for which keep returns true
func WithFilter(keep func(*Event) bool) SubscribeOption {
	return func(s *subscription) { s.keep = keep }
}

// WithBlocking makes delivery wait for room in the subscriber's queue
// instead of dropping. Such a subscriber must keep receiving until
// Unsubscribe closes its channel, or it stalls every other subscriber.
func WithBlocking() SubscribeOption {
	return func(s *subscription) { s.block = true }
}

// WithName labels the subscriber in the dropped-events metric
func WithName(name string) SubscribeOption {
	return func(s *subscription) { s.name = name }
}

type subscription struct {
	name    string
	buffer  int
	keep    func(*Event) bool
	block   bool
	dropped atomic.Uint64
}

// Broker fans events out to subscribers. Unless a subscriber asked for
// blocking delivery, publishing never waits on it: when its queue is full
// the event is dropped for that subscriber and counted.
type Broker struct {
	mu   sync.RWMutex
	subs map[Subscriber]*subscription

	queue    chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBroker creates a broker; call Start before publishing
func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[Subscriber]*subscription),
		queue:  make(chan *Event, 256),
		stopCh: make(chan struct{}),
	}
}

// Start runs the distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop ends distribution. Queued events are discarded and later Publish
// calls return immediately.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe registers a new subscriber
func (b *Broker) Subscribe(opts ...SubscribeOption) Subscriber {
	s := &subscription{name: "anonymous", buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(s)
	}
	ch := make(Subscriber, s.buffer)

	b.mu.Lock()
	b.subs[ch] = s
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes sub and closes its channel. Unknown subscribers are
// ignored.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub)
}

// Dropped returns how many events sub has missed
func (b *Broker) Dropped(sub Subscriber) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.subs[sub]; ok {
		return s.dropped.Load()
	}
	return 0
}

// Publish stamps event and queues it for distribution
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.queue <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.queue:
			b.deliver(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, s := range b.subs {
		if s.keep != nil && !s.keep(event) {
			continue
		}
		if s.block {
			select {
			case ch <- event:
			case <-b.stopCh:
			}
			continue
		}
		select {
		case ch <- event:
		default:
			s.dropped.Add(1)
			metrics.EventsDropped.WithLabelValues(s.name).Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
