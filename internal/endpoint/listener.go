package endpoint

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/relayctl/internal/message"
)

const listenerFlushInterval = 50 * time.Millisecond

// Listener bridges TCP clients onto an endpoint. Each accepted
// connection handshakes one single-frame identity message and is then
// attached as a peer; wire traffic uses the message stream codec.
type Listener struct {
	ep  *Endpoint
	ln  net.Listener
	log zerolog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
	conns     atomic.Int64
}

// Listen starts a TCP bridge for ep on addr.
func Listen(addr string, ep *Endpoint, logger zerolog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		ep:   ep,
		ln:   ln,
		log:  logger,
		done: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.serve()
	logger.Info().Str("addr", ln.Addr().String()).Str("endpoint", ep.Name()).Msg("bridge listening")
	return l, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting and tears down active connections.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.ln.Close()
	})
	l.wg.Wait()
	return err
}

func (l *Listener) serve() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			l.log.Warn().Err(err).Msg("bridge accept failed")
			return
		}
		l.wg.Add(1)
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()

	limits := l.ep.Limits()
	reader := bufio.NewReader(conn)

	// Handshake: the first wire message carries the peer identity in a
	// single frame.
	hello, err := message.ReadMessage(reader, limits)
	if err != nil {
		l.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("bridge handshake failed")
		return
	}
	if hello.Len() != 1 || len(hello.Identity()) == 0 {
		l.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("bridge handshake malformed")
		return
	}
	peer, err := l.ep.Connect(string(hello.Identity()))
	if err != nil {
		l.log.Warn().Err(err).Str("identity", string(hello.Identity())).Msg("bridge attach rejected")
		return
	}
	defer peer.Close()

	active := l.conns.Add(1)
	l.log.Info().Str("identity", peer.Identity()).Int64("active_conns", active).Msg("bridge client connected")
	defer func() {
		remaining := l.conns.Add(-1)
		l.log.Info().Str("identity", peer.Identity()).Int64("active_conns", remaining).Msg("bridge client disconnected")
	}()

	writerDone := make(chan struct{})
	go l.pumpOutbound(conn, peer, limits, writerDone)
	defer func() { <-writerDone }()

	for {
		msg, err := message.ReadMessage(reader, limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				l.log.Debug().Err(err).Str("identity", peer.Identity()).Msg("bridge read ended")
			}
			return
		}
		if err := peer.Send(msg); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			// Queue-full drops are the client's backpressure signal.
			l.log.Debug().Err(err).Str("identity", peer.Identity()).Msg("bridge inbound dropped")
		}
	}
}

// pumpOutbound drains routed replies for one peer onto its connection.
func (l *Listener) pumpOutbound(conn net.Conn, peer *Peer, limits message.Limits, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()
	for {
		msg, ok := peer.Receive(listenerFlushInterval)
		if ok {
			if err := message.WriteMessage(conn, msg, limits); err != nil {
				return
			}
			continue
		}
		select {
		case <-l.done:
			l.flushOutbound(conn, peer, limits)
			return
		case <-peer.Done():
			l.flushOutbound(conn, peer, limits)
			return
		case <-l.ep.Done():
			l.flushOutbound(conn, peer, limits)
			return
		default:
		}
	}
}

// flushOutbound writes messages already buffered for the peer before
// the connection goes down (flush-then-close).
func (l *Listener) flushOutbound(conn net.Conn, peer *Peer, limits message.Limits) {
	for {
		msg, ok := peer.TryReceive()
		if !ok {
			return
		}
		if err := message.WriteMessage(conn, msg, limits); err != nil {
			return
		}
	}
}
