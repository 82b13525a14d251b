package endpoint

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/relayctl/internal/message"
	"github.com/danmuck/relayctl/internal/testutil/testlog"
)

func TestRoutedReceivePrefixesIdentity(t *testing.T) {
	testlog.Start(t)
	ep := NewRouted("frontend", Options{})
	defer ep.Close()
	peer, err := ep.Connect("client-1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := peer.Send(message.Text("request #001")); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	got, ok := ep.Receive(time.Second)
	if !ok {
		t.Fatalf("no message on endpoint")
	}
	if got.Len() != 2 || string(got.Identity()) != "client-1" || string(got.Frames[1]) != "request #001" {
		t.Fatalf("unexpected message: %v", got)
	}
}

func TestRoutedSendConsumesIdentityFrame(t *testing.T) {
	testlog.Start(t)
	ep := NewRouted("frontend", Options{})
	defer ep.Close()
	peer, err := ep.Connect("client-1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ep.Send(message.Text("client-1", "reply")); err != nil {
		t.Fatalf("routed send: %v", err)
	}
	got, ok := peer.Receive(time.Second)
	if !ok {
		t.Fatalf("no message at peer")
	}
	if got.Len() != 1 || string(got.Frames[0]) != "reply" {
		t.Fatalf("identity frame should be consumed: %v", got)
	}
}

func TestRoutedSendUnknownPeer(t *testing.T) {
	testlog.Start(t)
	ep := NewRouted("frontend", Options{})
	defer ep.Close()
	err := ep.Send(message.Text("nobody", "reply"))
	if !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestRoutedSendNeedsBody(t *testing.T) {
	testlog.Start(t)
	ep := NewRouted("frontend", Options{})
	defer ep.Close()
	if _, err := ep.Connect("client-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ep.Send(message.Text("client-1")); !errors.Is(err, ErrNeedBody) {
		t.Fatalf("expected ErrNeedBody, got %v", err)
	}
}

func TestPooledRoundRobinDispatch(t *testing.T) {
	testlog.Start(t)
	ep := NewPooled("backend", Options{})
	defer ep.Close()
	a, err := ep.Connect("worker-a")
	if err != nil {
		t.Fatalf("connect a: %v", err)
	}
	b, err := ep.Connect("worker-b")
	if err != nil {
		t.Fatalf("connect b: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := ep.Send(message.Text(fmt.Sprintf("job-%d", i))); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	countA, countB := 0, 0
	for {
		if _, ok := a.TryReceive(); ok {
			countA++
			continue
		}
		if _, ok := b.TryReceive(); ok {
			countB++
			continue
		}
		break
	}
	if countA != 2 || countB != 2 {
		t.Fatalf("round robin skew: a=%d b=%d", countA, countB)
	}
}

func TestPooledSendNoPeersWouldBlock(t *testing.T) {
	testlog.Start(t)
	ep := NewPooled("backend", Options{})
	defer ep.Close()
	if err := ep.Send(message.Text("job")); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}

func TestPooledSendSkipsFullPeer(t *testing.T) {
	testlog.Start(t)
	ep := NewPooled("backend", Options{QueueDepth: 1})
	defer ep.Close()
	full, err := ep.Connect("worker-full")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	free, err := ep.Connect("worker-free")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	// Depth 1: first two sends fill both inboxes.
	if err := ep.Send(message.Text("job-0")); err != nil {
		t.Fatalf("send job-0: %v", err)
	}
	if err := ep.Send(message.Text("job-1")); err != nil {
		t.Fatalf("send job-1: %v", err)
	}
	if err := ep.Send(message.Text("job-2")); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock with all inboxes full, got %v", err)
	}
	// Drain one inbox; the next send must skip the still-full peer.
	if _, ok := free.TryReceive(); !ok {
		t.Fatalf("expected job in free inbox")
	}
	if err := ep.Send(message.Text("job-2")); err != nil {
		t.Fatalf("send after drain: %v", err)
	}
	if _, ok := free.TryReceive(); !ok {
		t.Fatalf("job-2 should land on the peer with room")
	}
	if _, ok := full.TryReceive(); !ok {
		t.Fatalf("job-0 should still be queued on the full peer")
	}
}

func TestRoutedSendWouldBlockOnFullInbox(t *testing.T) {
	testlog.Start(t)
	ep := NewRouted("frontend", Options{QueueDepth: 1})
	defer ep.Close()
	if _, err := ep.Connect("client-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ep.Send(message.Text("client-1", "one")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := ep.Send(message.Text("client-1", "two")); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}

func TestSendRejectsOversizeFrame(t *testing.T) {
	testlog.Start(t)
	ep := NewRouted("frontend", Options{Limits: message.Limits{MaxFrameBytes: 4, MaxFrames: 8}})
	defer ep.Close()
	peer, err := ep.Connect("client-1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := peer.Send(message.Text("oversize payload")); !errors.Is(err, message.ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFlushThenClose(t *testing.T) {
	testlog.Start(t)
	ep := NewRouted("frontend", Options{})
	peer, err := ep.Connect("client-1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ep.Send(message.Text("client-1", "buffered reply")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Already-buffered messages drain; new sends fail.
	got, ok := peer.Receive(time.Second)
	if !ok || string(got.Frames[0]) != "buffered reply" {
		t.Fatalf("buffered message lost: ok=%v msg=%v", ok, got)
	}
	if err := peer.Send(message.Text("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := ep.Send(message.Text("client-1", "late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDuplicateIdentityRejected(t *testing.T) {
	testlog.Start(t)
	ep := NewRouted("frontend", Options{})
	defer ep.Close()
	if _, err := ep.Connect("client-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := ep.Connect("client-1"); !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
}

func TestPeerCloseDetaches(t *testing.T) {
	testlog.Start(t)
	ep := NewRouted("frontend", Options{})
	defer ep.Close()
	peer, err := ep.Connect("client-1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := peer.Close(); err != nil {
		t.Fatalf("peer close: %v", err)
	}
	if err := ep.Send(message.Text("client-1", "reply")); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer after detach, got %v", err)
	}
}

func TestConnectAssignsRandomIdentity(t *testing.T) {
	testlog.Start(t)
	ep := NewRouted("frontend", Options{})
	defer ep.Close()
	a, err := ep.Connect("")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	b, err := ep.Connect("")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if a.Identity() == "" || a.Identity() == b.Identity() {
		t.Fatalf("random identities collided: %q %q", a.Identity(), b.Identity())
	}
}

func TestReadySignalWakesReceiver(t *testing.T) {
	testlog.Start(t)
	ep := NewRouted("frontend", Options{})
	defer ep.Close()
	peer, err := ep.Connect("client-1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = peer.Send(message.Text("ping"))
	}()
	select {
	case <-ep.Ready():
	case <-time.After(time.Second):
		t.Fatalf("ready signal never fired")
	}
	if _, ok := ep.TryReceive(); !ok {
		t.Fatalf("message missing after ready signal")
	}
}
