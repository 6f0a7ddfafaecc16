package segment

import "github.com/petems/whisper-listen/internal/audio"

// PreBuffer is a fixed-capacity ring of the most recent idle frames. Once
// full, every Push evicts the oldest frame. Not safe for concurrent use.
type PreBuffer struct {
	frames []audio.Frame
	start  int
	n      int
}

// NewPreBuffer returns a ring holding at most capacity frames. A capacity of
// zero or less keeps nothing.
func NewPreBuffer(capacity int) *PreBuffer {
	return &PreBuffer{frames: make([]audio.Frame, max(capacity, 0))}
}

// Push appends f, evicting the oldest frame when full.
func (b *PreBuffer) Push(f audio.Frame) {
	if len(b.frames) == 0 {
		return
	}
	if b.n < len(b.frames) {
		b.frames[(b.start+b.n)%len(b.frames)] = f
		b.n++
		return
	}
	b.frames[b.start] = f
	b.start = (b.start + 1) % len(b.frames)
}

// Drain returns the buffered frames oldest first and empties the ring.
func (b *PreBuffer) Drain() []audio.Frame {
	out := make([]audio.Frame, b.n)
	for i := range b.n {
		idx := (b.start + i) % len(b.frames)
		out[i] = b.frames[idx]
		b.frames[idx] = audio.Frame{}
	}
	b.start, b.n = 0, 0
	return out
}

func (b *PreBuffer) Len() int { return b.n }

func (b *PreBuffer) Cap() int { return len(b.frames) }
