package presence

import (
	"context"
	"sync"
	"time"

	"github.com/Mmx233/ChatRelay/protocol"
	"github.com/Mmx233/ChatRelay/server/metrics"
	"github.com/rs/zerolog"
)

// Event is one presence change.
type Event struct {
	Email  string
	Status protocol.PresenceStatus
	At     time.Time
}

func (e Event) Frame() protocol.PresenceEvent {
	return protocol.PresenceEvent{Email: e.Email, Status: e.Status, At: e.At}
}

// Subscriber receives presence events on its own worker goroutine.
type Subscriber interface {
	Deliver(ctx context.Context, ev Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, ev Event) error

func (f SubscriberFunc) Deliver(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type subscription struct {
	name  string
	sub   Subscriber
	queue chan Event
}

// Tracker fans presence changes out to subscribers. Each subscriber has a
// bounded queue; when it is full the event is dropped for that subscriber
// only and the publisher never blocks.
type Tracker struct {
	mu        sync.RWMutex
	subs      []*subscription
	stopped   bool
	queueSize int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func New(queueSize int, m *metrics.Metrics, logger zerolog.Logger) *Tracker {
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		metrics:   m,
		logger:    logger,
	}
}

// Subscribe starts a worker delivering events to sub.
func (t *Tracker) Subscribe(name string, sub Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	s := &subscription{name: name, sub: sub, queue: make(chan Event, t.queueSize)}
	t.subs = append(t.subs, s)

	t.wg.Add(1)
	go t.worker(s)
}

// Online announces that email now has an authenticated connection.
func (t *Tracker) Online(email string) {
	t.publish(Event{Email: email, Status: protocol.PresenceOnline, At: t.now()})
}

// Offline announces that email lost its connection.
func (t *Tracker) Offline(email string) {
	t.publish(Event{Email: email, Status: protocol.PresenceOffline, At: t.now()})
}

func (t *Tracker) publish(ev Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.stopped {
		return
	}
	for _, s := range t.subs {
		select {
		case s.queue <- ev:
		default:
			t.metrics.PresenceDelivery(s.name, metrics.ResultDropped)
			t.logger.Warn().
				Str("subscriber", s.name).
				Str("email", ev.Email).
				Str("status", string(ev.Status)).
				Msg("presence queue full, event dropped")
		}
	}
}

func (t *Tracker) worker(s *subscription) {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case ev := <-s.queue:
			if err := s.sub.Deliver(t.ctx, ev); err != nil {
				t.metrics.PresenceDelivery(s.name, metrics.ResultError)
				t.logger.Debug().Err(err).
					Str("subscriber", s.name).
					Str("email", ev.Email).
					Msg("presence delivery failed")
				continue
			}
			t.metrics.PresenceDelivery(s.name, metrics.ResultOK)
		}
	}
}

// Stop terminates all workers. Queued events are discarded. Safe to call
// more than once.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}
