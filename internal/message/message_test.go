package message

import (
	"bytes"
	"errors"
	"testing"
)

func TestWireRoundTrip(t *testing.T) {
	in := New(Frame("peer-a"), Frame{}, Frame("request #001"))
	var buf bytes.Buffer
	if err := WriteMessage(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write message: %v", err)
	}
	out, err := ReadMessage(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !out.Equal(in) {
		t.Fatalf("round trip mismatch: got=%v want=%v", out, in)
	}
	if buf.Len() != 0 {
		t.Fatalf("codec left %d trailing bytes", buf.Len())
	}
}

func TestWireRoundTripBackToBack(t *testing.T) {
	first := Text("id-1", "hello")
	second := Text("id-2", "world")
	var buf bytes.Buffer
	if err := WriteMessage(&buf, first, DefaultLimits()); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := WriteMessage(&buf, second, DefaultLimits()); err != nil {
		t.Fatalf("write second: %v", err)
	}
	got1, err := ReadMessage(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	got2, err := ReadMessage(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if !got1.Equal(first) || !got2.Equal(second) {
		t.Fatalf("message boundary lost: got1=%v got2=%v", got1, got2)
	}
}

func TestReadMessageRejectsOversizeFrame(t *testing.T) {
	limits := Limits{MaxFrameBytes: 4, MaxFrames: 8}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Text("tiny"), DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadMessage(&buf, limits); err != nil {
		t.Fatalf("frame at limit should pass: %v", err)
	}
	buf.Reset()
	if err := WriteMessage(&buf, Text("too large"), DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadMessage(&buf, limits); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestWriteMessageRejectsBeforeFirstByte(t *testing.T) {
	limits := Limits{MaxFrameBytes: 2, MaxFrames: 8}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Text("oversize"), limits); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected write emitted %d bytes", buf.Len())
	}
}

func TestReadMessageTruncatedMidMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Text("id", "payload"), DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw := buf.Bytes()[:buf.Len()-3]
	if _, err := ReadMessage(bytes.NewReader(raw), DefaultLimits()); err == nil {
		t.Fatalf("expected error for truncated stream")
	}
}

func TestReadMessageTooManyFrames(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Text("a", "b", "c"), DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadMessage(&buf, Limits{MaxFrameBytes: 64, MaxFrames: 2}); !errors.Is(err, ErrTooManyFrames) {
		t.Fatalf("expected ErrTooManyFrames, got %v", err)
	}
}

func TestEnvelopeHelpers(t *testing.T) {
	routed := Text("peer-1", "body")
	if !routed.HasEnvelope() {
		t.Fatalf("expected envelope")
	}
	if string(routed.Identity()) != "peer-1" {
		t.Fatalf("unexpected identity: %q", routed.Identity())
	}
	body := routed.Body()
	if len(body) != 1 || string(body[0]) != "body" {
		t.Fatalf("unexpected body: %v", body)
	}

	plain := Text("body only")
	if plain.HasEnvelope() {
		t.Fatalf("single-frame message should not have an envelope")
	}
	if len(plain.Body()) != 1 {
		t.Fatalf("plain body should be the whole message")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	src := Text("abc")
	dst := src.Clone()
	dst.Frames[0][0] = 'X'
	if string(src.Frames[0]) != "abc" {
		t.Fatalf("clone aliased source frame: %q", src.Frames[0])
	}
	if !src.Equal(Text("abc")) {
		t.Fatalf("source mutated")
	}
}

func TestValidate(t *testing.T) {
	if err := (Message{}).Validate(DefaultLimits()); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if err := Text("ok").Validate(DefaultLimits()); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}
}
