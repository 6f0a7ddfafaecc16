package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/whisper-listen/internal/segment"
	"github.com/petems/whisper-listen/internal/whisper"
)

func newTestWorker(sink *segment.Sink, stt *mockTranscriber, rec *mockRecorder, rm *mockRemover) *Worker {
	return NewWorker(WorkerConfig{
		Sink:        sink,
		Transcriber: stt,
		Recorder:    rec,
		Artifacts:   rm,
		PopTimeout:  10 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})
}

func TestWorkerFailedTranscriptionIsSkipped(t *testing.T) {
	sink := segment.NewSink(4)
	sink.TryPush(fakeSegment("bad.wav"))
	sink.TryPush(fakeSegment("good.wav"))

	stt := &mockTranscriber{result: func(_ context.Context, path string) (*whisper.Result, error) {
		if path == "bad.wav" {
			return nil, errors.New("model exploded")
		}
		return &whisper.Result{Text: "still here", Language: "en"}, nil
	}}
	rec := &mockRecorder{}
	rm := &mockRemover{}

	w := newTestWorker(sink, stt, rec, rm)
	w.RequestStop()
	w.Run(t.Context())

	if got := rec.inserted(); len(got) != 1 || got[0].Text != "still here" {
		t.Errorf("expected only the good segment stored, got %+v", got)
	}
	if got := rm.paths(); len(got) != 2 || got[0] != "bad.wav" || got[1] != "good.wav" {
		t.Errorf("expected both artifacts removed once, got %v", got)
	}
	if w.Processed() != 1 {
		t.Errorf("expected 1 processed, got %d", w.Processed())
	}
}

func TestWorkerSkipsBlankText(t *testing.T) {
	sink := segment.NewSink(1)
	sink.TryPush(fakeSegment("quiet.wav"))

	stt := &mockTranscriber{result: func(context.Context, string) (*whisper.Result, error) {
		return &whisper.Result{Text: " \n\t "}, nil
	}}
	rec := &mockRecorder{}
	rm := &mockRemover{}

	w := newTestWorker(sink, stt, rec, rm)
	w.RequestStop()
	w.Run(t.Context())

	if len(rec.inserted()) != 0 {
		t.Error("blank transcription should not be stored")
	}
	if len(rm.paths()) != 1 {
		t.Errorf("expected artifact removed, got %v", rm.paths())
	}
	if w.Processed() != 0 {
		t.Errorf("expected 0 processed, got %d", w.Processed())
	}
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	sink := segment.NewSink(2)
	sink.TryPush(fakeSegment("boom.wav"))
	sink.TryPush(fakeSegment("fine.wav"))

	stt := &mockTranscriber{result: func(_ context.Context, path string) (*whisper.Result, error) {
		if path == "boom.wav" {
			panic("decoder bug")
		}
		return &whisper.Result{Text: "ok"}, nil
	}}
	rec := &mockRecorder{}
	rm := &mockRemover{}

	w := newTestWorker(sink, stt, rec, rm)
	w.RequestStop()
	w.Run(t.Context())

	if len(rm.paths()) != 2 {
		t.Errorf("expected both artifacts removed, got %v", rm.paths())
	}
	if w.Processed() != 1 {
		t.Errorf("expected worker to continue after panic, processed=%d", w.Processed())
	}
}

func TestWorkerStoreFailureIsNotFatal(t *testing.T) {
	sink := segment.NewSink(1)
	sink.TryPush(fakeSegment("a.wav"))

	rec := &mockRecorder{err: errors.New("disk full")}
	rm := &mockRemover{}

	w := newTestWorker(sink, &mockTranscriber{}, rec, rm)
	w.RequestStop()
	w.Run(t.Context())

	if w.Processed() != 0 {
		t.Errorf("expected 0 processed, got %d", w.Processed())
	}
	if len(rm.paths()) != 1 {
		t.Error("artifact should be removed after store failure")
	}
}

func TestWorkerStoresRecordFields(t *testing.T) {
	sink := segment.NewSink(1)
	sink.TryPush(fakeSegment("a.wav"))

	stt := &mockTranscriber{result: func(context.Context, string) (*whisper.Result, error) {
		return &whisper.Result{
			Text:     "  Hello world  ",
			Language: "en",
			Segments: []whisper.Segment{
				{Start: 0, End: 1200 * time.Millisecond, Text: " Hello"},
				{Start: 1200 * time.Millisecond, End: 2 * time.Second, Text: " world"},
			},
		}, nil
	}}
	rec := &mockRecorder{}

	w := NewWorker(WorkerConfig{
		Sink:        sink,
		Transcriber: stt,
		Recorder:    rec,
		Artifacts:   &mockRemover{},
		Language:    "en",
		PopTimeout:  10 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})
	w.RequestStop()
	w.Run(t.Context())

	got := rec.inserted()
	if len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
	r := got[0]
	if r.Text != "Hello world" || r.Language != "en" || r.ModelName != "mock-model" || r.DurationSeconds != 2 {
		t.Errorf("unexpected record: %+v", r)
	}

	var segs []storedSegment
	if err := json.Unmarshal([]byte(r.SegmentsJSON), &segs); err != nil {
		t.Fatalf("segments_json: %v", err)
	}
	if len(segs) != 2 || segs[1].Start != 1.2 || segs[1].Text != "world" {
		t.Errorf("unexpected segments: %+v", segs)
	}
	if stt.langs[0] != "en" {
		t.Errorf("expected language hint en, got %q", stt.langs[0])
	}
}

func TestWorkerDrainsQueueAfterStop(t *testing.T) {
	sink := segment.NewSink(4)
	gate := make(chan struct{})
	first := make(chan struct{}, 1)

	stt := &mockTranscriber{result: func(context.Context, string) (*whisper.Result, error) {
		select {
		case first <- struct{}{}:
		default:
		}
		<-gate
		return &whisper.Result{Text: "x"}, nil
	}}
	rec := &mockRecorder{}
	rm := &mockRemover{}
	w := newTestWorker(sink, stt, rec, rm)

	for _, p := range []string{"1.wav", "2.wav", "3.wav"} {
		if !sink.TryPush(fakeSegment(p)) {
			t.Fatalf("push %s rejected", p)
		}
	}
	go w.Run(t.Context())

	<-first
	w.RequestStop()
	close(gate)

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish")
	}

	if w.Processed() != 3 {
		t.Errorf("expected all 3 queued segments processed, got %d", w.Processed())
	}
	if len(rm.paths()) != 3 {
		t.Errorf("expected 3 removals, got %v", rm.paths())
	}
}

func TestWorkerExitsPromptlyWhenIdle(t *testing.T) {
	w := newTestWorker(segment.NewSink(1), &mockTranscriber{}, &mockRecorder{}, &mockRemover{})
	go w.Run(t.Context())
	<-w.Started()

	w.RequestStop()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("idle worker did not observe stop")
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	w := newTestWorker(segment.NewSink(1), &mockTranscriber{}, &mockRecorder{}, &mockRemover{})
	go w.Run(ctx)

	cancel()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker ignored cancellation")
	}
}

func TestEncodeSegments(t *testing.T) {
	if got := EncodeSegments(nil); got != "" {
		t.Errorf("expected empty string for no segments, got %q", got)
	}

	got := EncodeSegments([]whisper.Segment{{Start: 500 * time.Millisecond, End: time.Second, Text: " hi "}})
	want := `[{"start":0.5,"end":1,"text":"hi"}]`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
