// Package events is the in-process pub/sub fan-out behind the SSE
// endpoints. Admin subscribers see every event; portal subscribers see
// only the events of their own inbox. Queues are bounded and a full
// queue evicts its subscriber, so one stalled consumer never blocks a
// scan.
package events

import (
	"strings"
	"sync"

	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/pkg/logger"
)

const defaultQueueCap = 50

// Subscriber is one connected event consumer. Events arrive on the
// channel returned by Events; the channel closes when the subscriber is
// evicted or Close is called.
type Subscriber struct {
	bus    *Bus
	email  string
	ch     chan domain.Event
	closed bool
}

// Events returns the subscriber's receive channel.
func (s *Subscriber) Events() <-chan domain.Event { return s.ch }

// Close detaches the subscriber from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscriber) Close() { s.bus.remove(s) }

// Bus fans events out to admin and portal subscribers.
type Bus struct {
	mu       sync.Mutex
	queueCap int
	admin    map[*Subscriber]struct{}
	portal   map[string]map[*Subscriber]struct{}
	log      *logger.Logger
}

// NewBus creates a bus whose subscribers buffer up to queueCap events.
// A non-positive cap uses the default of 50.
func NewBus(queueCap int) *Bus {
	if queueCap <= 0 {
		queueCap = defaultQueueCap
	}
	return &Bus{
		queueCap: queueCap,
		admin:    make(map[*Subscriber]struct{}),
		portal:   make(map[string]map[*Subscriber]struct{}),
		log:      logger.With("events"),
	}
}

// SubscribeAdmin registers a subscriber that receives every event.
func (b *Bus) SubscribeAdmin() *Subscriber {
	s := &Subscriber{bus: b, ch: make(chan domain.Event, b.queueCap)}
	b.mu.Lock()
	b.admin[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// SubscribePortal registers a subscriber that receives only the events
// of the given inbox email.
func (b *Bus) SubscribePortal(email string) *Subscriber {
	key := strings.ToLower(email)
	s := &Subscriber{bus: b, email: key, ch: make(chan domain.Event, b.queueCap)}
	b.mu.Lock()
	subs, ok := b.portal[key]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		b.portal[key] = subs
	}
	subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish fans the event out to every admin subscriber and, when
// inboxEmail is non-empty, to that inbox's portal subscribers. Delivery
// never blocks: a subscriber whose queue is full is evicted.
func (b *Bus) Publish(inboxEmail string, ev domain.Event) {
	b.mu.Lock()

	var evicted []*Subscriber
	for s := range b.admin {
		if !b.offer(s, ev) {
			evicted = append(evicted, s)
		}
	}
	if inboxEmail != "" {
		for s := range b.portal[strings.ToLower(inboxEmail)] {
			if !b.offer(s, ev) {
				evicted = append(evicted, s)
			}
		}
	}
	for _, s := range evicted {
		b.dropLocked(s)
	}
	b.mu.Unlock()

	for _, s := range evicted {
		b.log.Warn("subscriber evicted, queue full", "email", s.email, "event_type", string(ev.Type))
	}
}

func (b *Bus) offer(s *Subscriber, ev domain.Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// SubscriberCounts reports the connected admin and portal subscribers.
func (b *Bus) SubscriberCounts() (admin, portal int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	admin = len(b.admin)
	for _, subs := range b.portal {
		portal += len(subs)
	}
	return admin, portal
}

func (b *Bus) remove(s *Subscriber) {
	b.mu.Lock()
	b.dropLocked(s)
	b.mu.Unlock()
}

func (b *Bus) dropLocked(s *Subscriber) {
	if s.closed {
		return
	}
	s.closed = true
	delete(b.admin, s)
	if subs, ok := b.portal[s.email]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.portal, s.email)
		}
	}
	close(s.ch)
}
