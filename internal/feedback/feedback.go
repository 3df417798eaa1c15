// Package feedback broadcasts validation outcomes to realtime consumers:
// WebSocket subscribers, registered in-process callbacks, and an optional
// SSE relay endpoint. Delivery is best-effort; a slow or dead consumer never
// blocks validation.
package feedback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hookguard/hookguard/internal/config"
	"github.com/hookguard/hookguard/internal/hook"
)

// Event is one broadcast message.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Report    *hook.ValidationReport `json:"report,omitempty"`
	Data      map[string]any         `json:"data,omitempty"`
}

// Callback receives every published event in-process.
type Callback func(Event)

type registeredCallback struct {
	fn    Callback
	async bool
}

// subscriber is one WebSocket consumer. Events are delivered over a buffered
// channel; when the buffer is full the event is dropped and the failure
// counted. Consumers that keep failing get pruned.
type subscriber struct {
	ch       chan Event
	failures int
}

const subscriberFailureLimit = 3

// ring is a bounded FIFO of recent events. When full, the oldest entry is
// evicted.
type ring struct {
	buf  []Event
	head int
	n    int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) push(e Event) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
}

// snapshot returns the buffered events oldest-first.
func (r *ring) snapshot() []Event {
	out := make([]Event, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Broadcaster fans validation reports out to all registered consumers and
// keeps a bounded replay buffer for late joiners. A disabled broadcaster is
// a valid no-op value.
type Broadcaster struct {
	cfg    config.FeedbackConfig
	logger *zap.Logger
	sse    *sseSink

	mu          sync.Mutex
	buffer      *ring
	subscribers map[*subscriber]struct{}
	callbacks   []registeredCallback
	stopped     bool
}

// NewBroadcaster builds a broadcaster from its config section.
func NewBroadcaster(cfg config.FeedbackConfig, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		cfg:         cfg,
		logger:      logger,
		buffer:      newRing(cfg.BufferSize),
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Start probes the optional SSE relay endpoint. A failed probe disables the
// relay for the life of the process; it does not affect other consumers.
func (b *Broadcaster) Start(ctx context.Context) {
	if !b.cfg.Enabled || b.cfg.SSEEndpoint == "" {
		return
	}

	sink := newSSESink(b.cfg.SSEEndpoint)
	if err := sink.probe(ctx); err != nil {
		b.logger.Warn("SSE endpoint unreachable, relay disabled",
			zap.String("endpoint", b.cfg.SSEEndpoint),
			zap.Error(err),
		)
		return
	}
	b.sse = sink
	b.logger.Info("SSE relay enabled", zap.String("endpoint", b.cfg.SSEEndpoint))
}

// Stop closes all subscriber channels. Subsequent publishes are dropped.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	for sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, sub)
	}
}

// SendValidationUpdate publishes one finalized validation report. Implements
// the orchestrator's feedback sink.
func (b *Broadcaster) SendValidationUpdate(report *hook.ValidationReport) {
	b.publish(Event{
		Type:      "validation_event",
		Timestamp: time.Now(),
		Report:    report,
	})
}

// SendSystemUpdate publishes an operational event (config reloads, level
// changes, shutdown notices).
func (b *Broadcaster) SendSystemUpdate(data map[string]any) {
	b.publish(Event{
		Type:      "system_update",
		Timestamp: time.Now(),
		Data:      data,
	})
}

// RegisterCallback adds an in-process consumer. Async callbacks run on their
// own goroutine per event; synchronous ones run inline on the publishing
// goroutine and must return quickly.
func (b *Broadcaster) RegisterCallback(fn Callback, async bool) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, registeredCallback{fn: fn, async: async})
}

// RecentEvents returns up to n buffered events, oldest first. n <= 0 returns
// the whole buffer.
func (b *Broadcaster) RecentEvents(n int) []Event {
	if !b.cfg.Enabled {
		return nil
	}
	b.mu.Lock()
	events := b.buffer.snapshot()
	b.mu.Unlock()

	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events
}

func (b *Broadcaster) publish(e Event) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.buffer.push(e)

	callbacks := make([]registeredCallback, len(b.callbacks))
	copy(callbacks, b.callbacks)

	for sub := range b.subscribers {
		select {
		case sub.ch <- e:
			sub.failures = 0
		default:
			sub.failures++
			if sub.failures >= subscriberFailureLimit {
				close(sub.ch)
				delete(b.subscribers, sub)
				b.logger.Warn("dropping unresponsive feedback subscriber")
			}
		}
	}
	b.mu.Unlock()

	for _, cb := range callbacks {
		if cb.async {
			go cb.fn(e)
		} else {
			cb.fn(e)
		}
	}

	if b.sse != nil {
		go b.sendSSE(e)
	}
}

func (b *Broadcaster) sendSSE(e Event) {
	if err := b.sse.send(e); err != nil {
		b.logger.Debug("SSE relay send failed", zap.Error(err))
	}
}

// subscribe registers a new WebSocket consumer. Returns nil when the
// broadcaster is disabled or stopped.
func (b *Broadcaster) subscribe() *subscriber {
	if !b.cfg.Enabled {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil
	}
	sub := &subscriber{ch: make(chan Event, b.cfg.BufferSize)}
	b.subscribers[sub] = struct{}{}
	return sub
}

func (b *Broadcaster) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		close(sub.ch)
		delete(b.subscribers, sub)
	}
}

// SubscriberCount reports the number of connected WebSocket consumers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
