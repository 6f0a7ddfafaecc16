package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petems/whisper-listen/internal/artifact"
	"github.com/petems/whisper-listen/internal/pipeline"
	"github.com/petems/whisper-listen/internal/store"
	"github.com/petems/whisper-listen/internal/whisper"
)

func newTranscribeCmd(g *globals) *cobra.Command {
	var (
		model    string
		language string
		noSave   bool
	)

	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Transcribe a WAV file",
		Long: `Transcribe a PCM WAV file. Stereo input is downmixed and any sample
rate is resampled to 16 kHz before it reaches the model.

The result is printed and, unless --no-save is given, added to the history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("model") {
				cfg.Whisper.Model = model
			}
			if cmd.Flags().Changed("language") {
				cfg.Whisper.Language = language
			}

			// Reject unreadable input before loading a model
			if _, err := artifact.ReadFile(args[0]); err != nil {
				return err
			}

			transcriber, err := whisper.New(cfg.Whisper, log.With().Str("component", "whisper").Logger())
			if err != nil {
				return err
			}
			defer transcriber.Close()

			var recorder pipeline.Recorder
			if !noSave {
				db, err := openStore(cfg, log)
				if err != nil {
					return err
				}
				defer db.Close()
				recorder = db
			}

			res, id, err := transcribeFile(cmd.Context(), transcriber, recorder, args[0], cfg.Whisper.LanguageHint())
			if err != nil {
				return err
			}
			if res.Text == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "No speech detected")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			if id != 0 {
				log.Info().Uint64("id", id).Str("file", args[0]).Msg("Transcription stored")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "whisper model (e.g. base.en, small)")
	cmd.Flags().StringVarP(&language, "language", "l", "", "language hint, or \"auto\"")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not add the result to the history")
	return cmd
}

// transcribeFile runs one WAV file through stt and, when recorder is not
// nil and the text is non-empty, stores it. The stored duration is the end
// of the last timed segment, or the audio length without segments.
func transcribeFile(ctx context.Context, stt whisper.Transcriber, recorder pipeline.Recorder, path, language string) (*whisper.Result, uint64, error) {
	clip, err := artifact.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	res, err := stt.Transcribe(ctx, path, language)
	if err != nil {
		return nil, 0, err
	}
	if res.Text == "" || recorder == nil {
		return res, 0, nil
	}

	duration := clip.Duration().Seconds()
	if n := len(res.Segments); n > 0 {
		duration = res.Segments[n-1].End.Seconds()
	}

	id, err := recorder.Insert(ctx, store.Record{
		Text:            res.Text,
		DurationSeconds: duration,
		Language:        res.Language,
		ModelName:       stt.ModelName(),
		SegmentsJSON:    pipeline.EncodeSegments(res.Segments),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("store transcription: %w", err)
	}
	return res, id, nil
}
