// Package segment cuts a live frame stream into speech segments and hands
// them to a bounded queue.
//
// The Detector is driven from the capture goroutine. Its state and the
// pre-buffer are guarded by one mutex, held only while the state machine
// advances. Classification, WAV encoding and queueing happen outside it.
package segment

import (
	"math"
	"time"

	"github.com/petems/whisper-listen/internal/config"
)

// Segment is one finalized span of speech backed by a WAV artifact. The
// consumer that pops it from the Sink owns the artifact and must remove it.
type Segment struct {
	Path       string
	Samples    int
	SampleRate int
	Duration   time.Duration
	// StartedAt is the wall-clock time of speech onset.
	StartedAt time.Time
}

// Params are the detector tunables.
type Params struct {
	SampleRate      int
	FrameSize       int
	SpeechThreshold float32
	SilenceDuration time.Duration
	MaxSegment      time.Duration
	PreBuffer       time.Duration
	MinSegment      time.Duration
}

// DefaultParams matches the built-in configuration.
func DefaultParams() Params {
	cfg := config.Default()
	return ParamsFromConfig(cfg.Audio, cfg.VAD)
}

// ParamsFromConfig converts the config sections into detector params.
func ParamsFromConfig(a config.AudioConfig, v config.VADConfig) Params {
	return Params{
		SampleRate:      a.SampleRate,
		FrameSize:       a.FrameSize,
		SpeechThreshold: v.SpeechThreshold,
		SilenceDuration: seconds(v.SilenceDurationSec),
		MaxSegment:      seconds(v.MaxSegmentSec),
		PreBuffer:       seconds(v.PreBufferSec),
		MinSegment:      seconds(v.MinSegmentSec),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// frameCount converts a duration into a fractional number of frames.
func (p Params) frameCount(d time.Duration) float64 {
	return d.Seconds() * float64(p.SampleRate) / float64(p.FrameSize)
}

// SilenceFrames is the number of consecutive below-threshold frames that ends
// a segment.
func (p Params) SilenceFrames() int {
	return max(int(math.Round(p.frameCount(p.SilenceDuration))), 1)
}

// MaxFrames is the number of frames after which a segment is force-split.
// It rounds down so a split segment never exceeds MaxSegment.
func (p Params) MaxFrames() int {
	return max(int(p.frameCount(p.MaxSegment)), 1)
}

// PreBufferFrames is the pre-buffer capacity.
func (p Params) PreBufferFrames() int {
	return int(p.frameCount(p.PreBuffer))
}
