package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"

	"github.com/petems/whisper-listen/internal/artifact"
	"github.com/petems/whisper-listen/internal/audio"
	"github.com/petems/whisper-listen/internal/config"
)

// modelSampleRate is the only input rate whisper.cpp accepts.
const modelSampleRate = 16000

// nativeTranscriber runs whisper.cpp in-process through the CGO bindings.
// The model is loaded once; each call gets its own context.
type nativeTranscriber struct {
	cfg config.WhisperConfig
	log zerolog.Logger

	mu        sync.Mutex
	model     whisper.Model
	modelPath string
}

func newNative(cfg config.WhisperConfig, log zerolog.Logger) (*nativeTranscriber, error) {
	modelPath := filepath.Join(config.ModelsPath(), cfg.Model+".bin")

	// Check if model exists, download if needed
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		if err := downloadModel(cfg.Model, modelPath, log); err != nil {
			return nil, fmt.Errorf("failed to download model: %w", err)
		}
	}

	// Load model using official bindings
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	log.Info().Str("model", cfg.Model).Str("path", modelPath).Msg("Whisper model loaded")

	return &nativeTranscriber{
		cfg:       cfg,
		log:       log,
		model:     model,
		modelPath: modelPath,
	}, nil
}

func (w *nativeTranscriber) ModelName() string {
	return w.cfg.Model
}

func (w *nativeTranscriber) Transcribe(ctx context.Context, path, language string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pcm, err := artifact.ReadFile(path)
	if err != nil {
		return nil, err
	}
	samples, err := audio.Resample(pcm.Samples, pcm.SampleRate, modelSampleRate)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.model == nil {
		return nil, errors.New("whisper: model closed")
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	// Set parameters
	if w.cfg.Threads > 0 {
		wctx.SetThreads(uint(w.cfg.Threads))
	}
	if language == "" {
		language = "auto"
	}
	if err := wctx.SetLanguage(language); err != nil {
		w.log.Warn().Err(err).Str("language", language).Msg("Failed to set language, using model default")
	}
	wctx.SetTranslate(false)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper process failed: %w", err)
	}

	var segments []Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		segments = append(segments, Segment{
			Start: segment.Start,
			End:   segment.End,
			Text:  segment.Text,
		})
	}

	detected := language
	if detected == "auto" {
		detected = wctx.DetectedLanguage()
	}

	return &Result{
		Text:     joinSegments(segments),
		Segments: segments,
		Language: detected,
	}, nil
}

func (w *nativeTranscriber) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.model != nil {
		err := w.model.Close()
		w.model = nil
		return err
	}
	return nil
}
