package worker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/relayctl/internal/control"
	"github.com/danmuck/relayctl/internal/endpoint"
	"github.com/danmuck/relayctl/internal/message"
)

const defaultPollInterval = 10 * time.Millisecond

// Handler produces the replies for one dispatched request. The request
// carries the client identity in frame 0; every reply must carry it
// back so the relay can route it.
type Handler func(req message.Message) []message.Message

// Echo replies once with the request unchanged, identity preserved.
func Echo(req message.Message) []message.Message {
	return []message.Message{req}
}

// Config sizes and paces one worker pool.
type Config struct {
	Name         string
	Size         int
	PollInterval time.Duration
	Handler      Handler
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "workers"
	}
	if c.Size <= 0 {
		c.Size = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Handler == nil {
		c.Handler = Echo
	}
	return c
}

// Pool runs N independent workers, each with its own pooled peer on
// the backend endpoint and its own control subscription. Workers stop
// on STOP; relay-phase TERMINATE commands leave them serving.
type Pool struct {
	cfg Config
	ep  *endpoint.Endpoint
	bus *control.Bus
	log zerolog.Logger

	wg        sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
	processed atomic.Uint64
	replied   atomic.Uint64
}

func NewPool(cfg Config, ep *endpoint.Endpoint, bus *control.Bus, logger zerolog.Logger) *Pool {
	return &Pool{
		cfg:  cfg.withDefaults(),
		ep:   ep,
		bus:  bus,
		log:  logger,
		stop: make(chan struct{}),
	}
}

// Start launches the workers. Each failure to attach is fatal for that
// worker only.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Size; i++ {
		identity := fmt.Sprintf("%s-%d", p.cfg.Name, i)
		peer, err := p.ep.Connect(identity)
		if err != nil {
			p.log.Error().Err(err).Str("worker", identity).Msg("worker attach failed")
			continue
		}
		sub := p.bus.Subscribe(identity)
		p.wg.Add(1)
		go p.run(identity, peer, sub)
	}
}

// Processed counts requests handled across all workers.
func (p *Pool) Processed() uint64 { return p.processed.Load() }

// Replied counts replies pushed back through the backend.
func (p *Pool) Replied() uint64 { return p.replied.Load() }

// Stop signals all workers and joins them.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *Pool) run(identity string, peer *endpoint.Peer, sub *control.Subscription) {
	defer p.wg.Done()
	defer peer.Close()
	defer sub.Cancel()
	log := p.log.With().Str("worker", identity).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-p.stop:
			log.Debug().Msg("worker stopped")
			return
		default:
		}

		if cmd, ok := sub.TryNext(); ok {
			if cmd.Kind == control.Stop {
				log.Debug().Msg("worker observed STOP")
				return
			}
			log.Debug().Str("command", cmd.Kind.String()).Msg("worker ignoring command")
		}

		req, ok := peer.Receive(p.cfg.PollInterval)
		if !ok {
			if p.ep.Closed() {
				log.Debug().Msg("backend closed, worker exiting")
				return
			}
			continue
		}
		p.processed.Add(1)
		for _, reply := range p.cfg.Handler(req) {
			if err := p.send(peer, reply); err != nil {
				log.Warn().Err(err).Msg("reply dropped")
				continue
			}
			p.replied.Add(1)
		}
	}
}

// send retries briefly on backpressure; the relay-side inbound queue
// is bounded and may momentarily fill.
func (p *Pool) send(peer *endpoint.Peer, reply message.Message) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = peer.Send(reply)
		if err == nil || !errors.Is(err, endpoint.ErrWouldBlock) {
			return err
		}
		time.Sleep(p.cfg.PollInterval)
	}
	return err
}
