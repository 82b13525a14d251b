package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/danmuck/relayctl/internal/control"
	"github.com/danmuck/relayctl/internal/endpoint"
	"github.com/danmuck/relayctl/internal/hook"
	"github.com/danmuck/relayctl/internal/message"
	"github.com/danmuck/relayctl/internal/observability"
)

var (
	ErrEndpointClosed = errors.New("relay: endpoint closed")
	ErrRelayDone      = errors.New("relay: instance already ran")
)

// State is the lifecycle of one relay instance.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats is a point-in-time snapshot of one relay's counters.
type Stats struct {
	ForwardedFrontToBack  uint64 `json:"forwarded_front_to_back"`
	ForwardedBackToFront  uint64 `json:"forwarded_back_to_front"`
	DroppedForwardTimeout uint64 `json:"dropped_forward_timeout"`
	DroppedUnknownPeer    uint64 `json:"dropped_unknown_peer"`
	DroppedByHook         uint64 `json:"dropped_by_hook"`
	DroppedRejected       uint64 `json:"dropped_rejected"`
	HookInvocations       uint64 `json:"hook_invocations"`
	HookFaults            uint64 `json:"hook_faults"`
	ControlCommands       uint64 `json:"control_commands"`
}

type counters struct {
	fwdF2B       atomic.Uint64
	fwdB2F       atomic.Uint64
	dropTimeout  atomic.Uint64
	dropUnknown  atomic.Uint64
	dropHook     atomic.Uint64
	dropRejected atomic.Uint64
	hookInv      atomic.Uint64
	hookFault    atomic.Uint64
	ctrl         atomic.Uint64
}

// pendingForward holds one message that could not be written to its
// destination, retried on later ticks within the budget. While a
// direction has a held message no new message is pulled for it, so
// per-sender order is preserved.
type pendingForward struct {
	msg       message.Message
	attempts  int
	notBefore time.Time
}

// Relay pumps multi-part messages between a frontend and a backend
// endpoint, applying optional per-direction hooks and honoring control
// commands. One instance runs one single-goroutine loop and owns both
// endpoints for its lifetime.
type Relay struct {
	cfg   Config
	front *endpoint.Endpoint
	back  *endpoint.Endpoint
	sub   *control.Subscription
	hooks *hook.Registry
	sink  Sink
	log   zerolog.Logger
	clk   clock.Clock
	rng   *rand.Rand

	state atomic.Int32
	c     counters
	held  [2]*pendingForward
}

// Options wires the optional collaborators of a relay instance.
type Options struct {
	Hooks   *hook.Registry
	Control *control.Subscription
	Sink    Sink
	Logger  *zerolog.Logger
	Clock   clock.Clock
}

func New(cfg Config, front, back *endpoint.Endpoint, opts Options) (*Relay, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if front == nil || back == nil {
		return nil, fmt.Errorf("%w: nil endpoint", ErrInvalidConfig)
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = hook.NewRegistry(nil, nil)
	}
	sink := opts.Sink
	if sink == nil {
		sink = NewRingSink(64)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("relay", cfg.Name).Logger()
	}
	return &Relay{
		cfg:   cfg,
		front: front,
		back:  back,
		sub:   opts.Control,
		hooks: hooks,
		sink:  sink,
		log:   logger,
		clk:   clk,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (r *Relay) Name() string { return r.cfg.Name }

func (r *Relay) State() State { return State(r.state.Load()) }

func (r *Relay) Stats() Stats {
	return Stats{
		ForwardedFrontToBack:  r.c.fwdF2B.Load(),
		ForwardedBackToFront:  r.c.fwdB2F.Load(),
		DroppedForwardTimeout: r.c.dropTimeout.Load(),
		DroppedUnknownPeer:    r.c.dropUnknown.Load(),
		DroppedByHook:         r.c.dropHook.Load(),
		DroppedRejected:       r.c.dropRejected.Load(),
		HookInvocations:       r.c.hookInv.Load(),
		HookFaults:            r.c.hookFault.Load(),
		ControlCommands:       r.c.ctrl.Load(),
	}
}

// Run drives the tick loop until a matching TERMINATE, a cancelled
// context, or a closed endpoint. Each tick: one bounded multiplexed
// wait, at most one control command, at most one message per
// direction, frontend before backend.
func (r *Relay) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrRelayDone
	}
	r.log.Info().
		Str("frontend", r.front.Name()).
		Str("backend", r.back.Name()).
		Bool("hooked", r.hooks.Installed(hook.FrontendToBackend) || r.hooks.Installed(hook.BackendToFrontend)).
		Msg("relay running")

	var subReady <-chan struct{}
	if r.sub != nil {
		subReady = r.sub.Ready()
	}

	for {
		timer := r.clk.Timer(r.cfg.PollTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r.shutdown(nil, "context cancelled")
		case <-r.front.Done():
			timer.Stop()
			return r.shutdown(ErrEndpointClosed, "frontend closed")
		case <-r.back.Done():
			timer.Stop()
			return r.shutdown(ErrEndpointClosed, "backend closed")
		case <-subReady:
		case <-r.front.Ready():
		case <-r.back.Ready():
		case <-timer.C:
		}
		timer.Stop()

		if stop := r.drainControl(); stop {
			return r.shutdown(nil, "terminate command")
		}
		if r.front.Closed() || r.back.Closed() {
			return r.shutdown(ErrEndpointClosed, "endpoint closed")
		}

		// Fixed tie-break: frontend before backend, one message each,
		// so neither direction starves the other by more than one
		// message per tick.
		if err := r.pump(hook.FrontendToBackend, r.front, r.back); err != nil {
			return r.shutdown(err, "forward failed")
		}
		if err := r.pump(hook.BackendToFrontend, r.back, r.front); err != nil {
			return r.shutdown(err, "forward failed")
		}
	}
}

// drainControl pops at most one pending command per tick. Terminate
// for this instance reports true; everything else is accepted and has
// no flow effect in this design.
func (r *Relay) drainControl() bool {
	if r.sub == nil {
		return false
	}
	cmd, ok := r.sub.TryNext()
	if !ok {
		return false
	}
	r.c.ctrl.Add(1)
	observability.RecordControlCommand(r.cfg.Name, cmd.Kind.String())
	switch cmd.Kind {
	case control.Terminate:
		if cmd.Matches(r.cfg.Name) {
			r.log.Info().Str("target", cmd.Name).Msg("terminate accepted")
			return true
		}
		r.log.Debug().Str("target", cmd.Name).Msg("terminate for other instance ignored")
	default:
		r.log.Debug().Str("command", cmd.Kind.String()).Msg("control command accepted, no flow effect")
	}
	return false
}

// pump moves at most one message for the direction: first any held
// retry, otherwise one freshly received message through the hook chain.
func (r *Relay) pump(dir hook.Direction, src, dst *endpoint.Endpoint) error {
	if held := r.held[dir]; held != nil {
		if r.clk.Now().Before(held.notBefore) {
			return nil
		}
		return r.forward(dir, dst, held)
	}

	msg, ok := src.TryReceive()
	if !ok {
		return nil
	}
	// Requests arrive identity-prefixed from a routed source; replies
	// carry the identity so a routed destination can address them. In
	// both cases frame 0 is the envelope and stays out of hook reach.
	envelope := src.Role() == endpoint.Routed || dst.Role() == endpoint.Routed
	out, forward, invoked, faulted := r.hooks.Apply(dir, msg, envelope, func(err error) {
		r.sink.Record(Record{
			Relay:     r.cfg.Name,
			Direction: dir,
			Reason:    ReasonHookFault,
			Err:       err,
			Frames:    msg.Len(),
			At:        r.clk.Now(),
		})
		r.log.Warn().Err(err).Str("direction", dir.String()).Msg("hook faulted, frame passed through")
	})
	if invoked > 0 || faulted > 0 {
		r.c.hookInv.Add(uint64(invoked))
		r.c.hookFault.Add(uint64(faulted))
		observability.RecordHookInvocations(r.cfg.Name, dir.String(), invoked, faulted)
	}
	if !forward {
		r.drop(dir, out, ReasonHookDrop, nil)
		return nil
	}
	return r.forward(dir, dst, &pendingForward{msg: out})
}

// forward writes one message to dst, holding it for retry on
// backpressure within the budget.
func (r *Relay) forward(dir hook.Direction, dst *endpoint.Endpoint, pf *pendingForward) error {
	err := dst.Send(pf.msg)
	switch {
	case err == nil:
		r.held[dir] = nil
		if dir == hook.FrontendToBackend {
			r.c.fwdF2B.Add(1)
		} else {
			r.c.fwdB2F.Add(1)
		}
		observability.RecordForwarded(r.cfg.Name, dir.String())
		return nil
	case errors.Is(err, endpoint.ErrWouldBlock):
		pf.attempts++
		if pf.attempts > r.cfg.ForwardRetryBudget {
			r.held[dir] = nil
			r.drop(dir, pf.msg, ReasonForwardTimeout, err)
			return nil
		}
		pf.notBefore = r.clk.Now().Add(r.cfg.Backoff.Delay(pf.attempts, r.rng))
		r.held[dir] = pf
		return nil
	case errors.Is(err, endpoint.ErrClosed):
		r.held[dir] = nil
		return ErrEndpointClosed
	case errors.Is(err, endpoint.ErrUnknownPeer):
		r.held[dir] = nil
		r.drop(dir, pf.msg, ReasonUnknownPeer, err)
		return nil
	default:
		// Validation failures (oversize, malformed routed send).
		r.held[dir] = nil
		r.drop(dir, pf.msg, ReasonRejected, err)
		return nil
	}
}

func (r *Relay) drop(dir hook.Direction, msg message.Message, reason DropReason, cause error) {
	switch reason {
	case ReasonForwardTimeout:
		r.c.dropTimeout.Add(1)
	case ReasonUnknownPeer:
		r.c.dropUnknown.Add(1)
	case ReasonHookDrop:
		r.c.dropHook.Add(1)
	default:
		r.c.dropRejected.Add(1)
	}
	observability.RecordDropped(r.cfg.Name, string(reason))
	r.sink.Record(Record{
		Relay:     r.cfg.Name,
		Direction: dir,
		Reason:    reason,
		Err:       cause,
		Frames:    msg.Len(),
		At:        r.clk.Now(),
	})
	r.log.Warn().
		Str("direction", dir.String()).
		Str("reason", string(reason)).
		Int("frames", msg.Len()).
		Err(cause).
		Msg("message dropped")
}

// shutdown resolves held forwards, optionally closes the endpoints,
// and marks the instance terminated.
func (r *Relay) shutdown(cause error, why string) error {
	r.flushHeld()
	var closeErr error
	if !r.cfg.LeaveEndpointsOpen || errors.Is(cause, ErrEndpointClosed) {
		closeErr = multierr.Append(r.front.Close(), r.back.Close())
	}
	r.state.Store(int32(StateTerminated))
	r.log.Info().Str("why", why).Err(cause).Msg("relay terminated")
	return multierr.Append(cause, closeErr)
}

// flushHeld makes one last delivery attempt per held message so every
// in-flight message ends fully delivered or recorded as a timeout.
func (r *Relay) flushHeld() {
	for dir, dst := range map[hook.Direction]*endpoint.Endpoint{
		hook.FrontendToBackend: r.back,
		hook.BackendToFrontend: r.front,
	} {
		held := r.held[dir]
		if held == nil {
			continue
		}
		r.held[dir] = nil
		if err := dst.Send(held.msg); err != nil {
			r.drop(dir, held.msg, ReasonForwardTimeout, err)
			continue
		}
		if dir == hook.FrontendToBackend {
			r.c.fwdF2B.Add(1)
		} else {
			r.c.fwdB2F.Add(1)
		}
		observability.RecordForwarded(r.cfg.Name, dir.String())
	}
}
