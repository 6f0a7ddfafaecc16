// Package vad turns audio frames into speech probabilities.
//
// A Classifier is stateful across the frames of one segment and must be Reset
// at every segment boundary so that smoothing history never leaks from one
// utterance into the next.
package vad

import (
	"errors"
	"math"

	"github.com/petems/whisper-listen/internal/audio"
	"github.com/petems/whisper-listen/internal/config"
)

// Classifier scores a single frame.
type Classifier interface {
	// SpeechProbability returns a value in [0, 1]. It is called synchronously
	// on the capture goroutine and must not block.
	SpeechProbability(frame audio.Frame) (float32, error)
	Reset()
}

// ErrEmptyFrame is returned for frames without samples.
var ErrEmptyFrame = errors.New("vad: empty frame")

// Energy is a pure-Go classifier based on RMS level. Levels at or below floor
// score 0, levels at or above ceiling score 1, and the range between is
// linear. The score is smoothed with the previous frame's so a single loud
// click does not look like speech onset.
type Energy struct {
	floor     float64
	ceiling   float64
	smoothing float64 // weight of the previous score

	prev    float64
	started bool
}

// NewEnergy builds an Energy classifier from the VAD config.
func NewEnergy(cfg config.VADConfig) *Energy {
	return &Energy{
		floor:     cfg.EnergyFloor,
		ceiling:   cfg.EnergyCeiling,
		smoothing: 0.3,
	}
}

func (e *Energy) SpeechProbability(frame audio.Frame) (float32, error) {
	if len(frame.Samples) == 0 {
		return 0, ErrEmptyFrame
	}

	raw := (rms(frame.Samples) - e.floor) / (e.ceiling - e.floor)
	raw = math.Min(math.Max(raw, 0), 1)

	p := raw
	if e.started {
		p = e.smoothing*e.prev + (1-e.smoothing)*raw
	}
	e.prev = p
	e.started = true
	return float32(p), nil
}

func (e *Energy) Reset() {
	e.prev = 0
	e.started = false
}

func rms(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
