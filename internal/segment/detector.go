package segment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/whisper-listen/internal/audio"
	"github.com/petems/whisper-listen/internal/observe"
	"github.com/petems/whisper-listen/internal/vad"
)

// Finalize triggers, used in logs.
const (
	endSilence  = "silence"
	endMaxSplit = "max_length"
	endFlush    = "flush"
)

// ArtifactWriter persists segment audio.
type ArtifactWriter interface {
	Write(samples []float32, sampleRate int) (string, error)
	Remove(path string)
}

type Config struct {
	Params     Params
	Classifier vad.Classifier
	Artifacts  ArtifactWriter
	Sink       *Sink
	Logger     zerolog.Logger
	Metrics    *observe.Metrics // Optional - can be nil
	Now        func() time.Time // Optional - defaults to time.Now
}

// Detector is the Idle/Speaking state machine.
type Detector struct {
	params       Params
	silenceLimit int
	maxFrames    int

	classifier vad.Classifier
	artifacts  ArtifactWriter
	sink       *Sink
	log        zerolog.Logger
	metrics    *observe.Metrics
	now        func() time.Time

	mu           sync.Mutex
	speaking     bool
	silenceCount int
	speechCount  int
	frames       []audio.Frame
	startedAt    time.Time
	pre          *PreBuffer
}

// detached is a finished span taken out of the state machine, waiting to be
// finalized outside the lock.
type detached struct {
	frames          []audio.Frame
	trailingSilence int
	startedAt       time.Time
	reason          string
}

func NewDetector(cfg Config) (*Detector, error) {
	if cfg.Classifier == nil || cfg.Artifacts == nil || cfg.Sink == nil {
		return nil, errors.New("segment: classifier, artifacts and sink are required")
	}
	if cfg.Params.SampleRate <= 0 || cfg.Params.FrameSize <= 0 {
		return nil, errors.New("segment: sample rate and frame size must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Detector{
		params:       cfg.Params,
		silenceLimit: cfg.Params.SilenceFrames(),
		maxFrames:    cfg.Params.MaxFrames(),
		classifier:   cfg.Classifier,
		artifacts:    cfg.Artifacts,
		sink:         cfg.Sink,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		now:          now,
		pre:          NewPreBuffer(cfg.Params.PreBufferFrames()),
	}, nil
}

// HandleFrame classifies one frame and advances the state machine. It is an
// audio.FrameFunc and runs on the capture goroutine.
func (d *Detector) HandleFrame(frame audio.Frame) {
	p, err := d.classifier.SpeechProbability(frame)
	if err != nil {
		d.log.Error().Err(err).Msg("Speech classification failed, skipping frame")
		d.metrics.RecordClassifierError(context.Background())
		return
	}

	if done := d.advance(frame, p); done != nil {
		d.finalize(*done)
	}
}

func (d *Detector) advance(frame audio.Frame, p float32) *detached {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.speaking {
		if p <= d.params.SpeechThreshold {
			d.pre.Push(frame)
			return nil
		}

		// Seed with the pre-buffer so the attack of the first word survives
		d.frames = append(d.pre.Drain(), frame)
		d.speaking = true
		d.silenceCount = 0
		d.speechCount = 1
		d.startedAt = d.now()
		d.log.Debug().Float32("prob", p).Msg("Speech started")
		return nil
	}

	d.frames = append(d.frames, frame)
	d.speechCount++

	if p < d.params.SpeechThreshold {
		d.silenceCount++
	} else {
		d.silenceCount = 0
	}

	switch {
	case d.silenceCount >= d.silenceLimit:
		d.log.Debug().
			Dur("silence", time.Duration(d.silenceCount)*frame.Duration()).
			Msg("Speech ended")
		return d.detachLocked(endSilence)
	case d.speechCount >= d.maxFrames:
		d.log.Info().Msg("Max segment duration reached, forcing split")
		return d.detachLocked(endMaxSplit)
	}
	return nil
}

// Flush finalizes in-progress speech. Call it only after capture has stopped.
func (d *Detector) Flush() {
	d.mu.Lock()
	var done *detached
	if d.speaking && len(d.frames) > 0 {
		done = d.detachLocked(endFlush)
	}
	d.mu.Unlock()

	if done != nil {
		d.finalize(*done)
	}
}

func (d *Detector) detachLocked(reason string) *detached {
	done := &detached{
		frames:          d.frames,
		trailingSilence: d.silenceCount,
		startedAt:       d.startedAt,
		reason:          reason,
	}
	d.speaking = false
	d.silenceCount = 0
	d.speechCount = 0
	d.frames = nil
	d.startedAt = time.Time{}
	return done
}

// finalize turns a detached span into a queued Segment, or discards it.
// The classifier is reset on every path.
func (d *Detector) finalize(done detached) {
	defer d.classifier.Reset()
	ctx := context.Background()

	// The trailing below-threshold run is not speech
	frames := done.frames[:len(done.frames)-min(done.trailingSilence, len(done.frames))]

	n := 0
	for _, f := range frames {
		n += len(f.Samples)
	}
	samples := make([]float32, 0, n)
	for _, f := range frames {
		samples = append(samples, f.Samples...)
	}

	rate := d.params.SampleRate
	length := time.Duration(len(samples)) * time.Second / time.Duration(rate)
	if float64(len(samples))/float64(rate) < d.params.MinSegment.Seconds() {
		d.log.Debug().Dur("length", length).Str("reason", done.reason).Msg("Skipping short segment")
		d.metrics.RecordDiscarded(ctx, observe.ReasonTooShort)
		return
	}

	path, err := d.artifacts.Write(samples, rate)
	if err != nil {
		d.log.Error().Err(err).Dur("length", length).Msg("Failed to persist segment")
		d.metrics.RecordDiscarded(ctx, observe.ReasonWriteFail)
		return
	}

	seg := &Segment{
		Path:       path,
		Samples:    len(samples),
		SampleRate: rate,
		Duration:   length,
		StartedAt:  done.startedAt,
	}
	if seg.StartedAt.IsZero() {
		seg.StartedAt = d.now()
	}

	if !d.sink.TryPush(seg) {
		d.log.Warn().Dur("length", length).Msg("Segment queue full, dropping segment")
		d.artifacts.Remove(path)
		d.metrics.RecordDiscarded(ctx, observe.ReasonSinkFull)
		return
	}

	d.metrics.RecordQueued(ctx, length)
	d.log.Info().
		Dur("length", length).
		Time("started_at", seg.StartedAt).
		Str("reason", done.reason).
		Msg("Segment queued")
}

// Speaking reports whether a segment is in progress.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// PreBufferLen returns the number of idle frames currently buffered.
func (d *Detector) PreBufferLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pre.Len()
}
