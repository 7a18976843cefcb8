package monitoring

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// TopicAvailability is delivered to subscribers when the availability
// state changes. All other topics are domain names.
const TopicAvailability = "availability"

// Subscription receives change notifications. C fires at most once per
// batch of changes; Drain returns the topics changed since the last call.
// Notifications never block the producer; a slow reader sees coalesced
// topics rather than missing them.
type Subscription struct {
	id string
	ch chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// ID identifies the subscription.
func (s *Subscription) ID() string { return s.id }

// C is signalled when topics are pending. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan struct{} { return s.ch }

// Drain returns and clears the pending topics, sorted.
func (s *Subscription) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for topic := range s.pending {
		out = append(out, topic)
	}
	clear(s.pending)
	sort.Strings(out)
	return out
}

func (s *Subscription) mark(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending[topic] = struct{}{}
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

type fanout struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string]*Subscription)}
}

func (f *fanout) subscribe() *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		ch:      make(chan struct{}, 1),
		pending: make(map[string]struct{}),
	}
	f.mu.Lock()
	f.subs[sub.id] = sub
	f.mu.Unlock()
	return sub
}

func (f *fanout) unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	f.mu.Lock()
	delete(f.subs, sub.id)
	f.mu.Unlock()
	sub.close()
}

func (f *fanout) notify(topic string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs {
		sub.mark(topic)
	}
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[string]*Subscription)
	f.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

func (f *fanout) count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
