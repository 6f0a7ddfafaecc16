package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petems/whisper-listen/internal/audio"
	"github.com/petems/whisper-listen/internal/segment"
	"github.com/petems/whisper-listen/internal/store"
	"github.com/petems/whisper-listen/internal/whisper"
)

// Mock implementations for testing

type mockTranscriber struct {
	mu     sync.Mutex
	paths  []string
	langs  []string
	result func(ctx context.Context, path string) (*whisper.Result, error)
}

func (m *mockTranscriber) Transcribe(ctx context.Context, path, language string) (*whisper.Result, error) {
	m.mu.Lock()
	m.paths = append(m.paths, path)
	m.langs = append(m.langs, language)
	m.mu.Unlock()
	if m.result == nil {
		return &whisper.Result{Text: "hello", Language: "en"}, nil
	}
	return m.result(ctx, path)
}

func (m *mockTranscriber) ModelName() string { return "mock-model" }

func (m *mockTranscriber) Close() error { return nil }

func (m *mockTranscriber) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paths...)
}

type mockRecorder struct {
	mu      sync.Mutex
	records []store.Record
	err     error
}

func (m *mockRecorder) Insert(ctx context.Context, rec store.Record) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.records = append(m.records, rec)
	return uint64(len(m.records)), nil
}

func (m *mockRecorder) inserted() []store.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Record(nil), m.records...)
}

type mockRemover struct {
	mu      sync.Mutex
	removed []string
}

func (m *mockRemover) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, path)
}

func (m *mockRemover) paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

// mockCapture hands frames to the registered callback on demand.
type mockCapture struct {
	mu       sync.Mutex
	onFrame  audio.FrameFunc
	startErr error
	started  bool
	stopped  bool

	// onStart runs inside Start before the callback is registered
	onStart func()
}

func (m *mockCapture) Start(ctx context.Context, opts audio.StartOptions, onFrame audio.FrameFunc) error {
	if m.onStart != nil {
		m.onStart()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.onFrame = onFrame
	m.started = true
	return nil
}

func (m *mockCapture) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = nil
	m.stopped = true
	return nil
}

func (m *mockCapture) ListDevices() ([]audio.AudioDevice, error) {
	return []audio.AudioDevice{{ID: "default", Name: "Default", Default: true}}, nil
}

func (m *mockCapture) Close() error { return nil }

// emit delivers n frames whose first sample doubles as speech probability.
func (m *mockCapture) emit(n int, prob float32) {
	m.mu.Lock()
	fn := m.onFrame
	m.mu.Unlock()
	if fn == nil {
		return
	}
	for range n {
		samples := make([]float32, 512)
		for i := range samples {
			samples[i] = prob
		}
		fn(audio.Frame{Samples: samples, SampleRate: 16000})
	}
}

// levelClassifier reports the first sample as the speech probability.
type levelClassifier struct{}

func (levelClassifier) SpeechProbability(f audio.Frame) (float32, error) {
	if len(f.Samples) == 0 {
		return 0, errors.New("empty frame")
	}
	return f.Samples[0], nil
}

func (levelClassifier) Reset() {}

func fakeSegment(path string) *segment.Segment {
	return &segment.Segment{
		Path:       path,
		Samples:    32000,
		SampleRate: 16000,
		Duration:   2 * time.Second,
		StartedAt:  time.Now(),
	}
}
