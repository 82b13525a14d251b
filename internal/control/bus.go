package control

import (
	"sync"
)

const DefaultQueueDepth = 8

// Bus is a one-publisher broadcast feed. Subscribers poll their own
// bounded pending queue; delivery is best-effort with no acks, and a
// full queue drops its oldest entry first.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	depth  int
	closed bool
}

func NewBus() *Bus {
	return NewBusDepth(DefaultQueueDepth)
}

func NewBusDepth(depth int) *Bus {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Bus{
		subs:  make(map[*Subscription]struct{}),
		depth: depth,
	}
}

// Subscribe registers a new subscriber. The name is informational
// (logging); every subscriber receives every command.
func (b *Bus) Subscribe(name string) *Subscription {
	sub := &Subscription{
		bus:    b,
		name:   name,
		depth:  b.depth,
		notify: make(chan struct{}, 1),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.cancelled = true
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish broadcasts one command to all current subscribers.
func (b *Bus) Publish(cmd Command) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		sub.push(cmd)
	}
}

// PublishPayload decodes a textual payload and broadcasts it.
func (b *Bus) PublishPayload(payload []byte) error {
	cmd, err := ParseCommand(payload)
	if err != nil {
		return err
	}
	b.Publish(cmd)
	return nil
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
	}
}

// Subscribers reports how many subscriptions are currently attached.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// Subscription is one subscriber's poll handle.
type Subscription struct {
	bus  *Bus
	name string

	mu        sync.Mutex
	pending   []Command
	depth     int
	dropped   uint64
	cancelled bool

	notify chan struct{}
}

func (s *Subscription) Name() string { return s.name }

// TryNext pops the oldest pending command without blocking.
func (s *Subscription) TryNext() (Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Command{}, false
	}
	cmd := s.pending[0]
	s.pending = s.pending[1:]
	if len(s.pending) > 0 {
		s.signalLocked()
	}
	return cmd, true
}

// Ready signals pending commands, best-effort; consumers still poll
// with TryNext.
func (s *Subscription) Ready() <-chan struct{} { return s.notify }

// Dropped reports how many commands were discarded to queue overflow.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.mu.Unlock()
	s.bus.unsubscribe(s)
}

func (s *Subscription) push(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	if len(s.pending) >= s.depth {
		s.pending = s.pending[1:]
		s.dropped++
	}
	s.pending = append(s.pending, cmd)
	s.signalLocked()
}

func (s *Subscription) signalLocked() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
