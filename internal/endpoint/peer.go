package endpoint

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/relayctl/internal/message"
)

// Peer is the client/worker-side handle attached to an endpoint.
// Messages a peer sends surface on the endpoint's receive side;
// messages the endpoint routes or dispatches land in the peer inbox.
type Peer struct {
	ep       *Endpoint
	identity string

	inbox  chan message.Message
	notify chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// Connect attaches a new peer. An empty identity gets a random one,
// mirroring client sockets that pick a random identity for tracing.
func (e *Endpoint) Connect(identity string) (*Peer, error) {
	if identity == "" {
		identity = uuid.NewString()
	}
	p := &Peer{
		ep:       e,
		identity: identity,
		inbox:    make(chan message.Message, e.queueDepth),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.peers[identity]; ok {
		return nil, ErrDuplicateIdentity
	}
	e.peers[identity] = p
	e.order = append(e.order, identity)
	return p, nil
}

func (p *Peer) Identity() string { return p.identity }

// Send pushes one message toward the endpoint. On a routed endpoint
// the peer identity frame is prefixed so the receiver can address the
// reply.
func (p *Peer) Send(msg message.Message) error {
	if err := msg.Validate(p.ep.limits); err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	if p.ep.role == Routed {
		frames := make([]message.Frame, 0, len(msg.Frames)+1)
		frames = append(frames, message.Frame(p.identity))
		frames = append(frames, msg.Frames...)
		msg = message.New(frames...)
	}
	return p.ep.enqueue(msg)
}

// TryReceive pops one message addressed to this peer without blocking.
func (p *Peer) TryReceive() (message.Message, bool) {
	select {
	case msg := <-p.inbox:
		p.signal()
		return msg, true
	default:
		return message.Message{}, false
	}
}

// Receive pops one message addressed to this peer, waiting up to
// timeout. Buffered messages stay receivable after the endpoint
// closes.
func (p *Peer) Receive(timeout time.Duration) (message.Message, bool) {
	if msg, ok := p.TryReceive(); ok {
		return msg, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-p.inbox:
		p.signal()
		return msg, true
	case <-p.done:
		return p.TryReceive()
	case <-p.ep.done:
		return p.TryReceive()
	case <-timer.C:
		return message.Message{}, false
	}
}

// Ready signals pending inbox messages, best-effort.
func (p *Peer) Ready() <-chan struct{} { return p.notify }

func (p *Peer) Done() <-chan struct{} { return p.done }

// Close detaches the peer from its endpoint. Routed messages addressed
// to it afterwards fail with ErrUnknownPeer.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.ep.detach(p.identity)
		close(p.done)
	})
	return nil
}

// deliver places one message into the peer inbox, failing fast when
// the inbox is full.
func (p *Peer) deliver(msg message.Message) error {
	if !p.tryDeliver(msg) {
		return ErrWouldBlock
	}
	return nil
}

func (p *Peer) tryDeliver(msg message.Message) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.inbox <- msg:
		select {
		case p.notify <- struct{}{}:
		default:
		}
		return true
	default:
		return false
	}
}

func (p *Peer) signal() {
	if len(p.inbox) == 0 {
		return
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
}
