package harness

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/relayctl/internal/control"
	"github.com/danmuck/relayctl/internal/message"
)

const defaultSendInterval = 5 * time.Millisecond

// PayloadFunc builds the body of request n.
type PayloadFunc func(n int) message.Message

func defaultPayload(n int) message.Message {
	return message.Text(fmt.Sprintf("request #%03d", n))
}

// ClientConfig shapes one bridge client.
type ClientConfig struct {
	Addr     string
	Identity string
	Interval time.Duration
	Limits   message.Limits
	Payload  PayloadFunc
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Identity == "" {
		c.Identity = uuid.NewString()
	}
	if c.Interval <= 0 {
		c.Interval = defaultSendInterval
	}
	if c.Limits.MaxFrameBytes == 0 {
		c.Limits = message.DefaultLimits()
	}
	if c.Payload == nil {
		c.Payload = defaultPayload
	}
	return c
}

// Client dials the TCP bridge, handshakes its identity and then sends
// numbered requests on an interval until stopped, collecting every
// response it gets back. A STOP broadcast on the control bus halts the
// send loop the same way Close does.
type Client struct {
	cfg  ClientConfig
	conn net.Conn
	sub  *control.Subscription
	log  zerolog.Logger

	wg       sync.WaitGroup
	stop     chan struct{}
	haltOnce sync.Once

	sent     atomic.Uint64
	received atomic.Uint64

	mu        sync.Mutex
	responses []message.Message
}

// Dial connects and starts the send and collect loops.
func Dial(cfg ClientConfig, bus *control.Bus, logger zerolog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	conn, err := net.Dial("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("harness: dial %s: %w", cfg.Addr, err)
	}
	if err := message.WriteMessage(conn, message.Text(cfg.Identity), cfg.Limits); err != nil {
		conn.Close()
		return nil, fmt.Errorf("harness: handshake: %w", err)
	}
	c := &Client{
		cfg:  cfg,
		conn: conn,
		sub:  bus.Subscribe(cfg.Identity),
		log:  logger.With().Str("client", cfg.Identity).Logger(),
		stop: make(chan struct{}),
	}
	c.wg.Add(2)
	go c.sendLoop()
	go c.collectLoop()
	c.log.Debug().Str("addr", cfg.Addr).Msg("client connected")
	return c, nil
}

func (c *Client) Identity() string { return c.cfg.Identity }

// Sent counts requests written to the bridge.
func (c *Client) Sent() uint64 { return c.sent.Load() }

// Received counts responses read back.
func (c *Client) Received() uint64 { return c.received.Load() }

// Responses snapshots the collected responses in arrival order.
func (c *Client) Responses() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message.Message, len(c.responses))
	copy(out, c.responses)
	return out
}

// Close halts both loops and joins them.
func (c *Client) Close() error {
	c.halt()
	c.wg.Wait()
	c.sub.Cancel()
	return nil
}

func (c *Client) halt() {
	c.haltOnce.Do(func() {
		close(c.stop)
		c.conn.Close()
	})
}

func (c *Client) sendLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	n := 0
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		if cmd, ok := c.sub.TryNext(); ok && cmd.Kind == control.Stop {
			c.log.Debug().Msg("client observed STOP")
			c.halt()
			return
		}
		n++
		if err := message.WriteMessage(c.conn, c.cfg.Payload(n), c.cfg.Limits); err != nil {
			select {
			case <-c.stop:
			default:
				c.log.Debug().Err(err).Msg("client send ended")
			}
			c.halt()
			return
		}
		c.sent.Add(1)
	}
}

func (c *Client) collectLoop() {
	defer c.wg.Done()
	reader := bufio.NewReader(c.conn)
	for {
		msg, err := message.ReadMessage(reader, c.cfg.Limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				select {
				case <-c.stop:
				default:
					c.log.Debug().Err(err).Msg("client read ended")
				}
			}
			return
		}
		c.received.Add(1)
		c.mu.Lock()
		c.responses = append(c.responses, msg)
		c.mu.Unlock()
	}
}
