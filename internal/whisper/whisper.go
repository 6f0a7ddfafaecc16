package whisper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/whisper-listen/internal/config"
)

// Transcriber turns a WAV file into text.
type Transcriber interface {
	// Transcribe processes the audio at path. language is a hint; "" means
	// auto-detect. A non-nil error is a failed transcription.
	Transcribe(ctx context.Context, path, language string) (*Result, error)
	ModelName() string
	Close() error
}

// Segment is a timed piece of a transcription.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Result is a successful transcription. Text may be empty when the audio
// held no recognisable speech.
type Result struct {
	Text     string
	Segments []Segment
	Language string
}

// New creates the transcriber selected by cfg.Backend.
func New(cfg config.WhisperConfig, log zerolog.Logger) (Transcriber, error) {
	switch cfg.Backend {
	case "", "native":
		return newNative(cfg, log)
	case "openai":
		return newOpenAI(cfg, log)
	default:
		return nil, fmt.Errorf("whisper: unknown backend %q", cfg.Backend)
	}
}

// joinSegments concatenates non-empty segment texts with single spaces.
func joinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
