package relay

import (
	"sync"
	"time"

	"github.com/danmuck/relayctl/internal/hook"
)

// DropReason classifies one observable loss or fault.
type DropReason string

const (
	ReasonForwardTimeout DropReason = "forward_timeout"
	ReasonUnknownPeer    DropReason = "unknown_peer"
	ReasonHookFault      DropReason = "hook_fault"
	ReasonHookDrop       DropReason = "hook_drop"
	ReasonRejected       DropReason = "rejected"
)

// Record is one sink entry. Every drop the relay performs produces a
// record so no message loss is silent.
type Record struct {
	Relay     string         `json:"relay"`
	Direction hook.Direction `json:"direction"`
	Reason    DropReason     `json:"reason"`
	Err       error          `json:"-"`
	Frames    int            `json:"frames"`
	At        time.Time      `json:"at"`
}

// Sink receives drop and fault records from a relay instance.
type Sink interface {
	Record(rec Record)
}

// RingSink keeps the most recent records in a bounded ring, oldest
// evicted first.
type RingSink struct {
	mu    sync.Mutex
	recs  []Record
	cap   int
	total uint64
}

func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = 64
	}
	return &RingSink{cap: capacity}
}

func (s *RingSink) Record(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if len(s.recs) >= s.cap {
		s.recs = s.recs[1:]
	}
	s.recs = append(s.recs, rec)
}

// List returns the retained records, oldest first.
func (s *RingSink) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.recs))
	copy(out, s.recs)
	return out
}

// Total counts every record ever received, including evicted ones.
func (s *RingSink) Total() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// CountReason tallies retained records with the given reason.
func (s *RingSink) CountReason(reason DropReason) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.recs {
		if rec.Reason == reason {
			n++
		}
	}
	return n
}
