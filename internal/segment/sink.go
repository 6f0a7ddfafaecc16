package segment

import (
	"time"
)

// Sink is the bounded FIFO between the capture goroutine and the
// transcription worker. Producers never wait: a full sink rejects the push.
type Sink struct {
	ch chan *Segment
}

// NewSink returns a sink holding up to capacity segments. Capacity zero makes
// a sink that rejects every push.
func NewSink(capacity int) *Sink {
	return &Sink{ch: make(chan *Segment, max(capacity, 0))}
}

// TryPush enqueues seg without blocking and reports whether it was accepted.
func (s *Sink) TryPush(seg *Segment) bool {
	if cap(s.ch) == 0 {
		return false
	}
	select {
	case s.ch <- seg:
		return true
	default:
		return false
	}
}

// Pop waits up to timeout for the next segment.
func (s *Sink) Pop(timeout time.Duration) (*Segment, bool) {
	select {
	case seg := <-s.ch:
		return seg, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case seg := <-s.ch:
		return seg, true
	case <-timer.C:
		return nil, false
	}
}

// Len returns the number of queued segments.
func (s *Sink) Len() int { return len(s.ch) }

// Cap returns the sink capacity.
func (s *Sink) Cap() int { return cap(s.ch) }
