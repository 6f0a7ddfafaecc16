// Package observe records pipeline metrics through the OpenTelemetry Metrics
// API. [InitProvider] bridges them to a Prometheus exporter so they can be
// scraped via /metrics. Tests should build a [Metrics] with [NewMetrics] and a
// ManualReader-backed provider.
//
// All record methods are safe on a nil *Metrics, which lets components run
// without instrumentation.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/petems/whisper-listen"

// Drop reasons attached to SegmentsDiscarded.
const (
	ReasonTooShort  = "too_short"
	ReasonSinkFull  = "sink_full"
	ReasonWriteFail = "write_failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// SegmentsQueued counts segments handed to the transcription queue.
	SegmentsQueued metric.Int64Counter

	// SegmentsDiscarded counts finalized segments that never reached the
	// queue. Use with attribute.String("reason", ...).
	SegmentsDiscarded metric.Int64Counter

	// ClassifierErrors counts frames skipped because the classifier failed.
	ClassifierErrors metric.Int64Counter

	// Transcriptions counts worker outcomes. Use with
	// attribute.String("status", "ok"|"failed"|"empty").
	Transcriptions metric.Int64Counter

	// TranscriptionDuration tracks ASR latency per segment.
	TranscriptionDuration metric.Float64Histogram

	// SegmentLength tracks the audio length of queued segments.
	SegmentLength metric.Float64Histogram

	// QueueDepth tracks segments waiting in the queue.
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets are in seconds, sized for offline ASR on short utterances.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32, 64,
}

// lengthBuckets are in seconds and top out at the default forced-split length.
var lengthBuckets = []float64{
	0.5, 1, 2, 4, 8, 15, 30, 45, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SegmentsQueued, err = m.Int64Counter("whisper_listen.segments.queued",
		metric.WithDescription("Speech segments handed to the transcription queue."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDiscarded, err = m.Int64Counter("whisper_listen.segments.discarded",
		metric.WithDescription("Finalized speech segments that were not queued."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierErrors, err = m.Int64Counter("whisper_listen.classifier.errors",
		metric.WithDescription("Frames skipped because speech classification failed."),
	); err != nil {
		return nil, err
	}
	if met.Transcriptions, err = m.Int64Counter("whisper_listen.transcriptions",
		metric.WithDescription("Transcription attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("whisper_listen.transcription.duration",
		metric.WithDescription("Latency of segment transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentLength, err = m.Float64Histogram("whisper_listen.segment.length",
		metric.WithDescription("Audio length of queued speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lengthBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("whisper_listen.queue.depth",
		metric.WithDescription("Speech segments waiting for transcription."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordQueued notes a segment entering the queue.
func (m *Metrics) RecordQueued(ctx context.Context, length time.Duration) {
	if m == nil {
		return
	}
	m.SegmentsQueued.Add(ctx, 1)
	m.SegmentLength.Record(ctx, length.Seconds())
	m.QueueDepth.Add(ctx, 1)
}

// RecordDequeued notes a segment leaving the queue.
func (m *Metrics) RecordDequeued(ctx context.Context) {
	if m == nil {
		return
	}
	m.QueueDepth.Add(ctx, -1)
}

// RecordDiscarded notes a finalized segment that was not queued.
func (m *Metrics) RecordDiscarded(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.SegmentsDiscarded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordClassifierError notes a skipped frame.
func (m *Metrics) RecordClassifierError(ctx context.Context) {
	if m == nil {
		return
	}
	m.ClassifierErrors.Add(ctx, 1)
}

// RecordTranscription notes one worker outcome and its latency.
func (m *Metrics) RecordTranscription(ctx context.Context, status string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Transcriptions.Add(ctx, 1, attrs)
	m.TranscriptionDuration.Record(ctx, took.Seconds(), attrs)
}
