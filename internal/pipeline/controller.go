// Package pipeline wires capture, segmentation and transcription together
// and owns their lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/whisper-listen/internal/audio"
	"github.com/petems/whisper-listen/internal/config"
	"github.com/petems/whisper-listen/internal/observe"
	"github.com/petems/whisper-listen/internal/segment"
	"github.com/petems/whisper-listen/internal/vad"
	"github.com/petems/whisper-listen/internal/whisper"
)

// Artifacts is the temporary WAV store shared by detector and worker.
type Artifacts interface {
	segment.ArtifactWriter
	Sweep() error
}

type Config struct {
	Capture     audio.Capture
	Classifier  vad.Classifier
	Transcriber whisper.Transcriber
	Recorder    Recorder
	Artifacts   Artifacts
	Config      *config.Config
	Logger      zerolog.Logger
	Metrics     *observe.Metrics // Optional - can be nil
}

// Report summarises a stopped session.
type Report struct {
	Processed int64
	// Pending is the number of segments left in the queue when the worker
	// did not finish in time.
	Pending  int
	TimedOut bool
}

// Controller runs a single listening session.
type Controller struct {
	capture   audio.Capture
	stt       whisper.Transcriber
	recorder  Recorder
	artifacts Artifacts
	cfg       *config.Config
	log       zerolog.Logger
	metrics   *observe.Metrics

	sink     *segment.Sink
	detector *segment.Detector

	mu           sync.Mutex
	running      bool
	stopped      bool
	worker       *Worker
	cancelWorker context.CancelFunc
}

func New(cfg Config) (*Controller, error) {
	if cfg.Capture == nil || cfg.Transcriber == nil || cfg.Recorder == nil || cfg.Artifacts == nil {
		return nil, errors.New("pipeline: capture, transcriber, recorder and artifacts are required")
	}
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}

	sink := segment.NewSink(cfg.Config.Pipeline.QueueSize)
	detector, err := segment.NewDetector(segment.Config{
		Params:     segment.ParamsFromConfig(cfg.Config.Audio, cfg.Config.VAD),
		Classifier: cfg.Classifier,
		Artifacts:  cfg.Artifacts,
		Sink:       sink,
		Logger:     cfg.Logger.With().Str("component", "detector").Logger(),
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Controller{
		capture:   cfg.Capture,
		stt:       cfg.Transcriber,
		recorder:  cfg.Recorder,
		artifacts: cfg.Artifacts,
		cfg:       cfg.Config,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		sink:      sink,
		detector:  detector,
	}, nil
}

// Start launches the worker and then opens the capture stream, so a consumer
// exists before the first segment can be produced.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New("pipeline: already running")
	}
	// Stop sweeps the artifact directory, so a session cannot be resumed
	if c.stopped {
		return errors.New("pipeline: already stopped")
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	worker := NewWorker(WorkerConfig{
		Sink:        c.sink,
		Transcriber: c.stt,
		Recorder:    c.recorder,
		Artifacts:   c.artifacts,
		Language:    c.cfg.Whisper.LanguageHint(),
		PopTimeout:  c.cfg.Pipeline.PopTimeout,
		Logger:      c.log.With().Str("component", "worker").Logger(),
		Metrics:     c.metrics,
	})
	go worker.Run(workerCtx)
	<-worker.Started()

	opts := audio.StartOptions{
		DeviceID:   c.cfg.Audio.DeviceID,
		SampleRate: c.cfg.Audio.SampleRate,
		FrameSize:  c.cfg.Audio.FrameSize,
		Channels:   c.cfg.Audio.Channels,
	}
	if err := c.capture.Start(ctx, opts, c.detector.HandleFrame); err != nil {
		worker.RequestStop()
		cancel()
		<-worker.Done()
		return fmt.Errorf("pipeline: start capture: %w", err)
	}

	c.worker = worker
	c.cancelWorker = cancel
	c.running = true
	c.log.Info().
		Str("model", c.stt.ModelName()).
		Int("queue_size", c.sink.Cap()).
		Msg("Listening")
	return nil
}

// Stop shuts the session down: capture first, then any in-progress speech is
// finalized, then the worker drains the queue within the shutdown timeout.
func (c *Controller) Stop() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return Report{}
	}
	c.running = false
	c.stopped = true

	if err := c.capture.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("Stopping audio capture")
	}
	c.detector.Flush()

	c.worker.RequestStop()

	report := Report{}
	timeout := c.cfg.Pipeline.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.worker.Done():
	case <-timer.C:
		report.TimedOut = true
		report.Pending = c.sink.Len()
		c.log.Warn().
			Dur("timeout", timeout).
			Int("pending", report.Pending).
			Msg("Transcription worker did not finish in time")
	}
	c.cancelWorker()

	if err := c.artifacts.Sweep(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to clean up temporary audio")
	}

	report.Processed = c.worker.Processed()
	c.log.Info().
		Int64("processed", report.Processed).
		Bool("timed_out", report.TimedOut).
		Msg("Stopped listening")
	return report
}

// Run starts the pipeline and stops it when ctx is done.
func (c *Controller) Run(ctx context.Context) (Report, error) {
	if err := c.Start(ctx); err != nil {
		return Report{}, err
	}
	<-ctx.Done()
	return c.Stop(), nil
}

// IsRunning reports whether a session is active.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Processed returns the transcriptions stored by the current or last session.
func (c *Controller) Processed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.worker == nil {
		return 0
	}
	return c.worker.Processed()
}

// Detector exposes the segmenter, mainly for status reporting.
func (c *Controller) Detector() *segment.Detector {
	return c.detector
}
