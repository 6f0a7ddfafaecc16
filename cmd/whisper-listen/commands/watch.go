package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petems/whisper-listen/internal/watch"
	"github.com/petems/whisper-listen/internal/whisper"
)

func newWatchCmd(g *globals) *cobra.Command {
	var (
		model    string
		language string
		settle   time.Duration
		remove   bool
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Transcribe WAV files as they appear in a directory",
		Long: `Watch a directory (for example a voice recorder's sync folder) and
transcribe every new .wav file into the history once it stops changing.`,
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

			transcriber, err := whisper.New(cfg.Whisper, log.With().Str("component", "whisper").Logger())
			if err != nil {
				return err
			}
			defer transcriber.Close()

			db, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			w, err := watch.New(watch.Config{
				Dir:        args[0],
				Extensions: []string{".wav"},
				Settle:     settle,
				Logger:     log.With().Str("component", "watch").Logger(),
				Handler: func(ctx context.Context, path string) error {
					res, id, err := transcribeFile(ctx, transcriber, db, path, cfg.Whisper.LanguageHint())
					if err != nil {
						return err
					}
					if id == 0 {
						log.Info().Str("file", path).Msg("No speech detected")
					} else {
						fmt.Fprintf(out, "#%d %s\n", id, res.Text)
					}
					if remove {
						return os.Remove(path)
					}
					return nil
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "whisper model (e.g. base.en, small)")
	cmd.Flags().StringVarP(&language, "language", "l", "", "language hint, or \"auto\"")
	cmd.Flags().DurationVar(&settle, "settle", time.Second, "quiet period before a file counts as complete")
	cmd.Flags().BoolVar(&remove, "remove", false, "delete each file after it is processed")
	return cmd
}
