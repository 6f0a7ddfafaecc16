package audio

import (
	"context"
	"time"
)

// Frame is one fixed-length block of mono samples. A Frame is produced once by
// a Capture and is read-only afterwards.
type Frame struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// FrameFunc receives captured frames. It is called from the capture goroutine
// at the device cadence and must return well within one frame period.
type FrameFunc func(Frame)

// StartOptions selects the input device and stream shape.
type StartOptions struct {
	DeviceID   string
	SampleRate int
	FrameSize  int
	// Channels opened on the device. Multi-channel input is downmixed to mono.
	Channels int
}

// Capture defines the interface for audio capture
type Capture interface {
	// Start begins delivering frames to onFrame until Stop is called or ctx
	// is cancelled.
	Start(ctx context.Context, opts StartOptions, onFrame FrameFunc) error
	// Stop halts capture. No frame is delivered after Stop returns.
	Stop() error
	ListDevices() ([]AudioDevice, error)
	Close() error
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID      string
	Name    string
	Default bool
}
