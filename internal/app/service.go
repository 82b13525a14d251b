package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/danmuck/relayctl/internal/config"
	"github.com/danmuck/relayctl/internal/control"
	"github.com/danmuck/relayctl/internal/endpoint"
	"github.com/danmuck/relayctl/internal/harness"
	"github.com/danmuck/relayctl/internal/hook"
	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/opsserver"
	"github.com/danmuck/relayctl/internal/relay"
	"github.com/danmuck/relayctl/internal/worker"
)

const sinkCapacity = 256

// Service runs the full relayctl lifecycle: frontend bridge, backend
// worker pool, ops server, demo clients and two sequential relay
// phases over the same endpoint pair. Phase one forwards untouched,
// phase two installs the case-folding hooks.
type Service struct {
	cfg config.Config
	log zerolog.Logger
}

func NewService(cfg config.Config) *Service {
	return &Service{cfg: cfg}
}

func (s *Service) Run() error {
	s.log = observability.InitLogger(s.cfg.Name)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limits := config.MessageLimits(s.cfg)
	front := endpoint.NewRouted("frontend", endpoint.Options{
		QueueDepth: s.cfg.Frontend.QueueDepth,
		Limits:     limits,
	})
	back := endpoint.NewPooled("backend", endpoint.Options{
		QueueDepth: s.cfg.Backend.QueueDepth,
		Limits:     limits,
	})

	bus := control.NewBus()
	defer bus.Close()
	sink := relay.NewRingSink(sinkCapacity)

	bridge, err := endpoint.Listen(s.cfg.Frontend.ListenAddr, front, observability.ComponentLogger(s.log, "bridge"))
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	defer bridge.Close()

	pool := worker.NewPool(worker.Config{
		Size:         s.cfg.Workers.Count,
		PollInterval: s.cfg.Workers.PollInterval.Std(),
	}, back, bus, observability.ComponentLogger(s.log, "worker"))
	pool.Start()
	defer pool.Stop()

	ops := opsserver.New(opsserver.Options{
		App:          s.cfg.Name,
		Addr:         s.cfg.Ops.Addr,
		CorsOrigins:  s.cfg.Ops.CorsOrigins,
		ControlToken: s.cfg.Ops.ControlToken,
	}, bus, sink, observability.ComponentLogger(s.log, "ops"))
	go func() {
		if err := ops.Serve(); err != nil {
			s.log.Error().Err(err).Msg("ops server exited")
		}
	}()

	clients, err := s.dialClients(bridge, bus)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()

	var errs error

	// Phase one: identity pass-through, endpoints kept open for the
	// hooked phase that follows.
	plainStats, err := s.runPhase(ctx, phaseSpec{
		name:      "relay-plain",
		duration:  s.cfg.Phases.Plain.Std(),
		leaveOpen: true,
	}, front, back, bus, sink, ops)
	errs = multierr.Append(errs, err)

	// Phase two: uppercase requests, lowercase replies.
	var reqHits, repHits atomic.Uint64
	hooks := hook.NewRegistry(caseFoldHook(&reqHits, toUpper), caseFoldHook(&repHits, toLower))
	hookedStats, err := s.runPhase(ctx, phaseSpec{
		name:     "relay-hooked",
		duration: s.cfg.Phases.Hooked.Std(),
		hooks:    hooks,
	}, front, back, bus, sink, ops)
	errs = multierr.Append(errs, err)

	bus.Publish(control.Command{Kind: control.Stop})

	var sent, received uint64
	for _, c := range clients {
		sent += c.Sent()
		received += c.Received()
	}
	s.log.Info().
		Uint64("client_sent", sent).
		Uint64("client_received", received).
		Uint64("worker_processed", pool.Processed()).
		Uint64("plain_forwarded", plainStats.ForwardedFrontToBack+plainStats.ForwardedBackToFront).
		Uint64("hooked_forwarded", hookedStats.ForwardedFrontToBack+hookedStats.ForwardedBackToFront).
		Uint64("request_hook_hits", reqHits.Load()).
		Uint64("reply_hook_hits", repHits.Load()).
		Uint64("drops_recorded", sink.Total()).
		Msg("relayctl finished")
	return errs
}

func (s *Service) dialClients(bridge *endpoint.Listener, bus *control.Bus) ([]*harness.Client, error) {
	clients := make([]*harness.Client, 0, s.cfg.Clients.Count)
	for i := 0; i < s.cfg.Clients.Count; i++ {
		c, err := harness.Dial(harness.ClientConfig{
			Addr:     bridge.Addr().String(),
			Identity: fmt.Sprintf("client-%d", i),
			Interval: s.cfg.Clients.SendInterval.Std(),
		}, bus, observability.ComponentLogger(s.log, "client"))
		if err != nil {
			for _, prev := range clients {
				_ = prev.Close()
			}
			return nil, fmt.Errorf("client %d: %w", i, err)
		}
		clients = append(clients, c)
	}
	return clients, nil
}

type phaseSpec struct {
	name      string
	duration  time.Duration
	hooks     *hook.Registry
	leaveOpen bool
}

func (s *Service) runPhase(ctx context.Context, spec phaseSpec, front, back *endpoint.Endpoint, bus *control.Bus, sink *relay.RingSink, ops *opsserver.Server) (relay.Stats, error) {
	rcfg := config.RelayFor(s.cfg, spec.name)
	rcfg.LeaveEndpointsOpen = spec.leaveOpen
	logger := observability.ComponentLogger(s.log, spec.name)
	// The subscription lives only as long as the phase; leaving it
	// behind would keep a dead subscriber on the bus.
	sub := bus.Subscribe(spec.name)
	defer sub.Cancel()
	r, err := relay.New(rcfg, front, back, relay.Options{
		Hooks:   spec.hooks,
		Control: sub,
		Sink:    sink,
		Logger:  &logger,
	})
	if err != nil {
		return relay.Stats{}, fmt.Errorf("%s: %w", spec.name, err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	ops.SetRelay(r)

	timer := time.NewTimer(spec.duration)
	defer timer.Stop()
	select {
	case err = <-done:
	case <-timer.C:
		bus.Publish(control.Command{Kind: control.Terminate, Name: spec.name})
		err = <-done
	case <-ctx.Done():
		err = <-done
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", spec.name, err)
	}
	return r.Stats(), err
}

type foldFunc func(byte) byte

func toUpper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

func toLower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b - 'A' + 'a'
	}
	return b
}

// caseFoldHook rewrites payload frames in place and counts every
// invocation.
func caseFoldHook(hits *atomic.Uint64, fold foldFunc) hook.Func {
	return func(c *hook.Context) (hook.Outcome, error) {
		hits.Add(1)
		for i, b := range c.Frame {
			c.Frame[i] = fold(b)
		}
		return hook.Keep, nil
	}
}
