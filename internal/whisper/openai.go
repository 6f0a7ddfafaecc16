package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/petems/whisper-listen/internal/config"
)

// openAITranscriber sends artifacts to an OpenAI-compatible
// /audio/transcriptions endpoint (OpenAI, a local whisper server, etc.).
type openAITranscriber struct {
	client openai.Client
	model  string
	log    zerolog.Logger
}

func newOpenAI(cfg config.WhisperConfig, log zerolog.Logger) (*openAITranscriber, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("whisper: openai backend needs whisper.api_key, OPENAI_API_KEY or whisper.base_url")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}

	return &openAITranscriber{
		client: openai.NewClient(opts...),
		model:  model,
		log:    log,
	}, nil
}

func (o *openAITranscriber) ModelName() string {
	return o.model
}

func (o *openAITranscriber) Transcribe(ctx context.Context, path, language string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: open %q: %w", path, err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          openai.AudioModel(o.model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("whisper: openai transcription: %w", err)
	}

	result, err := parseVerbose(resp.RawJSON())
	if err != nil {
		o.log.Debug().Err(err).Msg("Verbose transcription fields unavailable")
		return &Result{Text: resp.Text, Language: language}, nil
	}
	if result.Language == "" {
		result.Language = language
	}
	return result, nil
}

func (o *openAITranscriber) Close() error {
	return nil
}

// verboseTranscription is the verbose_json response body. The SDK's typed
// response only exposes text, so the rest is decoded from the raw JSON.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func parseVerbose(raw string) (*Result, error) {
	if raw == "" {
		return nil, errors.New("empty response body")
	}
	var v verboseTranscription
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode verbose transcription: %w", err)
	}

	result := &Result{
		Text:     v.Text,
		Language: v.Language,
	}
	for _, s := range v.Segments {
		result.Segments = append(result.Segments, Segment{
			Start: secondsToDuration(s.Start),
			End:   secondsToDuration(s.End),
			Text:  s.Text,
		})
	}
	return result, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
