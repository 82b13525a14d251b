package endpoint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/relayctl/internal/message"
)

var (
	ErrWouldBlock  = errors.New("endpoint: destination queue full")
	ErrClosed      = errors.New("endpoint: closed")
	ErrUnknownPeer = errors.New("endpoint: unknown peer identity")
	ErrNeedBody    = errors.New("endpoint: routed send requires identity and body frames")

	ErrDuplicateIdentity = errors.New("endpoint: identity already attached")
)

// Role selects the addressing behavior of an endpoint.
type Role int

const (
	// Routed endpoints prefix received messages with the originating
	// peer identity and require a known identity frame to address
	// outgoing messages.
	Routed Role = iota
	// Pooled endpoints are anonymous; outgoing messages are dispatched
	// round-robin across attached peers.
	Pooled
)

func (r Role) String() string {
	switch r {
	case Routed:
		return "routed"
	case Pooled:
		return "pooled"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

const DefaultQueueDepth = 128

// Endpoint is the relay-side handle of an in-process exchange. Peers
// attach via Connect; the relay owns the endpoint exclusively for its
// lifetime.
type Endpoint struct {
	name       string
	role       Role
	limits     message.Limits
	queueDepth int

	mu     sync.Mutex
	peers  map[string]*Peer
	order  []string
	rrNext int
	closed bool

	inbound chan message.Message
	notify  chan struct{}
	done    chan struct{}
}

// Options tunes endpoint queue depth and message limits. Zero values
// fall back to defaults.
type Options struct {
	QueueDepth int
	Limits     message.Limits
}

func NewRouted(name string, opts Options) *Endpoint {
	return newEndpoint(name, Routed, opts)
}

func NewPooled(name string, opts Options) *Endpoint {
	return newEndpoint(name, Pooled, opts)
}

func newEndpoint(name string, role Role, opts Options) *Endpoint {
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	limits := opts.Limits
	if limits.MaxFrameBytes == 0 && limits.MaxFrames == 0 {
		limits = message.DefaultLimits()
	}
	return &Endpoint{
		name:       name,
		role:       role,
		limits:     limits,
		queueDepth: depth,
		peers:      make(map[string]*Peer),
		inbound:    make(chan message.Message, depth),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) Role() Role { return e.role }

func (e *Endpoint) Limits() message.Limits { return e.limits }

// Ready signals that at least one message may be pending. Consumers
// must still use TryReceive; the signal is best-effort and may be
// stale.
func (e *Endpoint) Ready() <-chan struct{} { return e.notify }

// Done is closed when the endpoint is closed.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Send forwards one message out of the endpoint. On a routed endpoint
// frame 0 must name a known peer identity; the identity frame is
// consumed by the send. On a pooled endpoint the whole message is
// dispatched to the next attached peer with queue room.
func (e *Endpoint) Send(msg message.Message) error {
	if err := msg.Validate(e.limits); err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	switch e.role {
	case Routed:
		if len(msg.Frames) < 2 {
			e.mu.Unlock()
			return ErrNeedBody
		}
		peer, ok := e.peers[string(msg.Identity())]
		e.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPeer, msg.Identity())
		}
		return peer.deliver(message.New(msg.Frames[1:]...))
	case Pooled:
		for range e.order {
			identity := e.order[e.rrNext%len(e.order)]
			e.rrNext++
			peer, ok := e.peers[identity]
			if !ok {
				continue
			}
			if peer.tryDeliver(msg) {
				e.mu.Unlock()
				return nil
			}
		}
		e.mu.Unlock()
		return ErrWouldBlock
	default:
		e.mu.Unlock()
		return fmt.Errorf("endpoint: unsupported role %v", e.role)
	}
}

// TryReceive pops one pending message without blocking.
func (e *Endpoint) TryReceive() (message.Message, bool) {
	select {
	case msg := <-e.inbound:
		e.signal()
		return msg, true
	default:
		return message.Message{}, false
	}
}

// Receive pops one pending message, waiting up to timeout.
func (e *Endpoint) Receive(timeout time.Duration) (message.Message, bool) {
	if msg, ok := e.TryReceive(); ok {
		return msg, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-e.inbound:
		e.signal()
		return msg, true
	case <-e.done:
		return e.TryReceive()
	case <-timer.C:
		return message.Message{}, false
	}
}

// Close stops the endpoint. Messages already buffered in peer inboxes
// stay receivable by their peers; new sends in either direction fail
// with ErrClosed.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	close(e.done)
	return nil
}

// enqueue accepts one message from a peer into the endpoint's inbound
// queue.
func (e *Endpoint) enqueue(msg message.Message) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case e.inbound <- msg:
		e.signal()
		return nil
	default:
		return ErrWouldBlock
	}
}

func (e *Endpoint) signal() {
	if len(e.inbound) == 0 {
		return
	}
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Endpoint) detach(identity string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.peers[identity]; !ok {
		return
	}
	delete(e.peers, identity)
	for i, id := range e.order {
		if id == identity {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}
