package message

import (
	"bytes"
	"errors"
)

var (
	ErrEmptyMessage   = errors.New("message: empty message")
	ErrFrameTooLarge  = errors.New("message: frame exceeds max frame bytes")
	ErrTooManyFrames  = errors.New("message: frame count exceeds max frames")
	ErrShortFrameHead = errors.New("message: short frame header")
)

// Frame is one atomic unit of a multi-part Message. Content may be
// mutated in place; length is fixed at creation.
type Frame []byte

// Message is an ordered sequence of one or more Frames delivered and
// consumed as a unit.
type Message struct {
	Frames []Frame
}

// Limits constrains per-message memory use. Receivers reject oversize
// input with a distinct error rather than truncating it.
type Limits struct {
	MaxFrameBytes uint64
	MaxFrames     int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 1 * 1024 * 1024,
		MaxFrames:     64,
	}
}

func New(frames ...Frame) Message {
	return Message{Frames: frames}
}

// Text builds a message from string parts, one frame per part.
func Text(parts ...string) Message {
	frames := make([]Frame, 0, len(parts))
	for _, p := range parts {
		frames = append(frames, Frame(p))
	}
	return Message{Frames: frames}
}

func (m Message) Len() int {
	return len(m.Frames)
}

// HasEnvelope reports whether the message carries a routing envelope:
// more than one frame with a non-empty leading frame, or an explicit
// empty-delimiter second frame (routing-socket convention).
func (m Message) HasEnvelope() bool {
	if len(m.Frames) < 2 {
		return false
	}
	return len(m.Frames[0]) > 0
}

// Identity returns frame 0, the peer identity on a routed endpoint.
func (m Message) Identity() Frame {
	if len(m.Frames) == 0 {
		return nil
	}
	return m.Frames[0]
}

// Body returns the payload frames behind the identity frame. For a
// message without an envelope, Body is the whole message.
func (m Message) Body() []Frame {
	if !m.HasEnvelope() {
		return m.Frames
	}
	return m.Frames[1:]
}

// Clone deep-copies the message so a holder may mutate frames without
// aliasing the source.
func (m Message) Clone() Message {
	frames := make([]Frame, len(m.Frames))
	for i, f := range m.Frames {
		frames[i] = append(Frame(nil), f...)
	}
	return Message{Frames: frames}
}

func (m Message) Equal(other Message) bool {
	if len(m.Frames) != len(other.Frames) {
		return false
	}
	for i := range m.Frames {
		if !bytes.Equal(m.Frames[i], other.Frames[i]) {
			return false
		}
	}
	return true
}

// Validate checks the message against limits before it is accepted by
// an endpoint or written to the wire.
func (m Message) Validate(limits Limits) error {
	if len(m.Frames) == 0 {
		return ErrEmptyMessage
	}
	if limits.MaxFrames > 0 && len(m.Frames) > limits.MaxFrames {
		return ErrTooManyFrames
	}
	for _, f := range m.Frames {
		if limits.MaxFrameBytes > 0 && uint64(len(f)) > limits.MaxFrameBytes {
			return ErrFrameTooLarge
		}
	}
	return nil
}
