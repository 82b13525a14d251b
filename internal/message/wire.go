package message

import (
	"encoding/binary"
	"errors"
	"io"
)

// Wire layout, per frame: 1 flag byte + 4-byte big-endian payload
// length + payload. Bit 0 of the flag byte marks "more frames follow";
// a message ends at the first frame without it.
const (
	frameHeadLen = 5
	flagMore     = 0x01
)

// ReadMessage reads one complete multi-part message from r, bounded by
// limits. Oversize frames are rejected, never truncated.
func ReadMessage(r io.Reader, limits Limits) (Message, error) {
	var msg Message
	for {
		var head [frameHeadLen]byte
		if _, err := io.ReadFull(r, head[:]); err != nil {
			if len(msg.Frames) > 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				return Message{}, ErrShortFrameHead
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return Message{}, ErrShortFrameHead
			}
			return Message{}, err
		}
		flags := head[0]
		size := uint64(binary.BigEndian.Uint32(head[1:5]))
		if limits.MaxFrameBytes > 0 && size > limits.MaxFrameBytes {
			return Message{}, ErrFrameTooLarge
		}
		if limits.MaxFrames > 0 && len(msg.Frames)+1 > limits.MaxFrames {
			return Message{}, ErrTooManyFrames
		}
		frame := make(Frame, size)
		if size > 0 {
			if _, err := io.ReadFull(r, frame); err != nil {
				return Message{}, err
			}
		}
		msg.Frames = append(msg.Frames, frame)
		if flags&flagMore == 0 {
			return msg, nil
		}
	}
}

// WriteMessage writes one complete multi-part message to w, bounded by
// limits. The message is validated before the first byte is written so
// a rejected message leaves the stream clean.
func WriteMessage(w io.Writer, msg Message, limits Limits) error {
	if err := msg.Validate(limits); err != nil {
		return err
	}
	for i, frame := range msg.Frames {
		var head [frameHeadLen]byte
		if i < len(msg.Frames)-1 {
			head[0] |= flagMore
		}
		binary.BigEndian.PutUint32(head[1:5], uint32(len(frame)))
		if _, err := w.Write(head[:]); err != nil {
			return err
		}
		if len(frame) > 0 {
			if _, err := w.Write(frame); err != nil {
				return err
			}
		}
	}
	return nil
}
