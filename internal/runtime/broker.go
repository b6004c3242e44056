package runtime

import "sync"

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped for a subscriber that falls this far behind so dispatch
// never blocks on a slow consumer.
const subscriberBufferSize = 64

// Run event phases.
const (
	PhaseDispatched = "dispatched"
	PhaseCompleted  = "completed"
	PhaseFailed     = "failed"
)

// RunEvent describes one transition in a run's lifecycle.
type RunEvent struct {
	RunID      uint64 `json:"run_id"`
	Network    string `json:"network"`
	Phase      string `json:"phase"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Broker fans run lifecycle events out to subscribers. It is safe for
// concurrent use.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	ch      chan RunEvent
	network string // empty subscribes to all networks
}

// NewBroker creates an event broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[int]*subscriber),
	}
}

// Subscribe returns a channel receiving events for the given network (all
// networks if empty) and an unsubscribe function. After Close the returned
// channel is immediately closed.
func (b *Broker) Subscribe(network string) (<-chan RunEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan RunEvent, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{ch: ch, network: network}

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
}

// Publish delivers an event to all matching subscribers. Events are dropped
// for subscribers with full buffers.
func (b *Broker) Publish(ev RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.network != "" && s.network != ev.Network {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// Slow subscriber; drop rather than stall dispatch.
		}
	}
}

// Close shuts the broker down, closing every subscriber channel. Subsequent
// Publish calls are no-ops and subsequent Subscribe calls return a closed
// channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
