package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/whisper-listen/internal/observe"
	"github.com/petems/whisper-listen/internal/segment"
	"github.com/petems/whisper-listen/internal/store"
	"github.com/petems/whisper-listen/internal/whisper"
)

// Recorder persists successful transcriptions.
type Recorder interface {
	Insert(ctx context.Context, rec store.Record) (uint64, error)
}

// Remover deletes a consumed segment artifact. Missing files are not errors.
type Remover interface {
	Remove(path string)
}

type WorkerConfig struct {
	Sink        *segment.Sink
	Transcriber whisper.Transcriber
	Recorder    Recorder
	Artifacts   Remover
	Language    string        // "" means auto-detect
	PopTimeout  time.Duration // how often an idle worker checks for stop
	Logger      zerolog.Logger
	Metrics     *observe.Metrics // Optional - can be nil
}

// Worker consumes segments from the sink one at a time. Once RequestStop is
// called it keeps going until the sink is empty.
type Worker struct {
	sink       *segment.Sink
	stt        whisper.Transcriber
	recorder   Recorder
	artifacts  Remover
	language   string
	popTimeout time.Duration
	log        zerolog.Logger
	metrics    *observe.Metrics

	stopping  atomic.Bool
	processed atomic.Int64
	started   chan struct{}
	done      chan struct{}
}

func NewWorker(cfg WorkerConfig) *Worker {
	timeout := cfg.PopTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Worker{
		sink:       cfg.Sink,
		stt:        cfg.Transcriber,
		recorder:   cfg.Recorder,
		artifacts:  cfg.Artifacts,
		language:   cfg.Language,
		popTimeout: timeout,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		started:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run processes segments until a stop is requested and the sink has
// drained, or ctx is cancelled. Run must be called at most once.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	close(w.started)
	w.log.Debug().Msg("Transcription worker started")

	for !w.stopping.Load() || w.sink.Len() > 0 {
		if ctx.Err() != nil {
			w.log.Warn().Int("pending", w.sink.Len()).Msg("Transcription worker cancelled")
			return
		}
		seg, ok := w.sink.Pop(w.popTimeout)
		if !ok {
			continue
		}
		w.process(ctx, seg)
	}
	w.log.Debug().Int64("processed", w.processed.Load()).Msg("Transcription worker finished")
}

// RequestStop asks the worker to exit once the sink is empty.
func (w *Worker) RequestStop() {
	w.stopping.Store(true)
}

// Started is closed when Run has begun consuming.
func (w *Worker) Started() <-chan struct{} {
	return w.started
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Processed returns the number of transcriptions stored so far.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

func (w *Worker) process(ctx context.Context, seg *segment.Segment) {
	defer w.artifacts.Remove(seg.Path)
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("path", seg.Path).Msg("Segment processing panicked")
			w.metrics.RecordTranscription(ctx, "failed", 0)
		}
	}()
	w.metrics.RecordDequeued(ctx)

	log := w.log.With().
		Time("started_at", seg.StartedAt).
		Dur("length", seg.Duration).
		Logger()

	start := time.Now()
	res, err := w.stt.Transcribe(ctx, seg.Path, w.language)
	took := time.Since(start)
	if err != nil {
		log.Error().Err(err).Msg("Transcription failed")
		w.metrics.RecordTranscription(ctx, "failed", took)
		return
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		log.Debug().Dur("took", took).Msg("Empty transcription, skipping")
		w.metrics.RecordTranscription(ctx, "empty", took)
		return
	}

	rec := store.Record{
		Text:            text,
		DurationSeconds: seg.Duration.Seconds(),
		Language:        res.Language,
		ModelName:       w.stt.ModelName(),
		SegmentsJSON:    EncodeSegments(res.Segments),
	}
	id, err := w.recorder.Insert(ctx, rec)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store transcription")
		w.metrics.RecordTranscription(ctx, "failed", took)
		return
	}

	w.processed.Add(1)
	w.metrics.RecordTranscription(ctx, "ok", took)
	log.Info().
		Uint64("id", id).
		Str("language", res.Language).
		Dur("took", took).
		Str("text", text).
		Msg("Transcription stored")
}

type storedSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// EncodeSegments renders timed sub-segments as the JSON array kept on a
// store.Record. No segments gives "".
func EncodeSegments(segments []whisper.Segment) string {
	if len(segments) == 0 {
		return ""
	}
	out := make([]storedSegment, len(segments))
	for i, s := range segments {
		out[i] = storedSegment{
			Start: s.Start.Seconds(),
			End:   s.End.Seconds(),
			Text:  strings.TrimSpace(s.Text),
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(data)
}
