package hook

import (
	"errors"
	"fmt"

	"github.com/danmuck/relayctl/internal/message"
)

var ErrFaulted = errors.New("hook: faulted")

// Direction identifies which side of the relay a message entered on.
type Direction int

const (
	FrontendToBackend Direction = iota
	BackendToFrontend
)

func (d Direction) String() string {
	switch d {
	case FrontendToBackend:
		return "f2b"
	case BackendToFrontend:
		return "b2f"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Outcome is the per-frame verdict of a hook.
type Outcome int

const (
	Keep Outcome = iota
	Drop
)

// Context is the mutable view handed to a hook for one frame. Frame
// content may be rewritten in place; user state lives in the hook
// closure, owned by the relay-instance configuration.
type Context struct {
	Direction   Direction
	Frame       message.Frame
	FrameIndex  int
	TotalFrames int
}

// Func transforms one frame. A nil error with Keep forwards the frame
// as-is (possibly mutated); Drop removes it from the forwarded
// message. Errors and panics never propagate to the relay: the frame
// passes through unmodified and the failure goes to the sink.
type Func func(*Context) (Outcome, error)

// Registry holds the optional per-direction hooks of one relay
// instance. A nil hook is identity pass-through.
type Registry struct {
	frontToBack Func
	backToFront Func
}

func NewRegistry(frontToBack, backToFront Func) *Registry {
	return &Registry{frontToBack: frontToBack, backToFront: backToFront}
}

// Installed reports whether a hook exists for the direction.
func (r *Registry) Installed(dir Direction) bool {
	return r != nil && r.forDirection(dir) != nil
}

func (r *Registry) forDirection(dir Direction) Func {
	if r == nil {
		return nil
	}
	if dir == FrontendToBackend {
		return r.frontToBack
	}
	return r.backToFront
}

// Apply runs the direction's hook once per frame, in frame order,
// before the message is written out. Frame 0 is skipped when the
// message carries a routing envelope — true whenever either side of
// the relay is routed, since requests arrive identity-prefixed and
// replies must stay addressable — as are zero-length delimiter frames.
// The returned bool is false when every forwardable frame was dropped,
// in which case the whole message is discarded.
//
// invoked counts hook invocations, faulted counts failures converted
// to pass-through.
func (r *Registry) Apply(dir Direction, msg message.Message, hasEnvelope bool, sink func(error)) (out message.Message, forward bool, invoked, faulted int) {
	fn := r.forDirection(dir)
	if fn == nil {
		return msg, true, 0, 0
	}
	kept := make([]message.Frame, 0, len(msg.Frames))
	total := len(msg.Frames)
	for i, frame := range msg.Frames {
		if (hasEnvelope && i == 0) || len(frame) == 0 {
			kept = append(kept, frame)
			continue
		}
		outcome, err := invoke(fn, &Context{
			Direction:   dir,
			Frame:       frame,
			FrameIndex:  i,
			TotalFrames: total,
		})
		invoked++
		if err != nil {
			faulted++
			if sink != nil {
				sink(err)
			}
			kept = append(kept, frame)
			continue
		}
		if outcome == Drop {
			continue
		}
		kept = append(kept, frame)
	}
	out = message.New(kept...)
	if len(kept) == 0 {
		return out, false, invoked, faulted
	}
	if hasEnvelope && len(kept) == 1 {
		// Only the identity frame survived; nothing left to forward.
		return out, false, invoked, faulted
	}
	return out, true, invoked, faulted
}

// invoke shields the relay from a misbehaving hook.
func invoke(fn Func, hctx *Context) (outcome Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = Keep
			err = fmt.Errorf("%w: panic: %v", ErrFaulted, rec)
		}
	}()
	outcome, err = fn(hctx)
	if err != nil {
		return Keep, fmt.Errorf("%w: %v", ErrFaulted, err)
	}
	return outcome, nil
}
