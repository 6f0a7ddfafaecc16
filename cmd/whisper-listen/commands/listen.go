package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/petems/whisper-listen/internal/artifact"
	"github.com/petems/whisper-listen/internal/audio"
	"github.com/petems/whisper-listen/internal/clipboard"
	"github.com/petems/whisper-listen/internal/live"
	"github.com/petems/whisper-listen/internal/observe"
	"github.com/petems/whisper-listen/internal/permissions"
	"github.com/petems/whisper-listen/internal/pipeline"
	"github.com/petems/whisper-listen/internal/store"
	"github.com/petems/whisper-listen/internal/vad"
	"github.com/petems/whisper-listen/internal/whisper"
)

func newListenCmd(g *globals) *cobra.Command {
	var (
		device     string
		model      string
		language   string
		httpAddr   string
		copyText   bool
		silenceSec float64
		maxSegSec  float64
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Transcribe speech from the microphone until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("device") {
				cfg.Audio.DeviceID = device
			}
			if cmd.Flags().Changed("model") {
				cfg.Whisper.Model = model
			}
			if cmd.Flags().Changed("language") {
				cfg.Whisper.Language = language
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.HTTP.Addr = httpAddr
			}
			if cmd.Flags().Changed("silence-sec") {
				cfg.VAD.SilenceDurationSec = silenceSec
			}
			if cmd.Flags().Changed("max-segment-sec") {
				cfg.VAD.MaxSegmentSec = maxSegSec
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// macOS requires explicit microphone approval before capture works
			if err := permissions.EnsureMicrophone(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				provider *observe.Provider
				metrics  *observe.Metrics
				hub      *live.Hub
				mux      = http.NewServeMux()
			)
			if cfg.HTTP.Addr != "" && cfg.HTTP.Metrics {
				if provider, err = observe.InitProvider(); err != nil {
					return fmt.Errorf("init metrics: %w", err)
				}
				defer provider.Shutdown(context.Background())
				metrics = provider.Metrics
				mux.Handle("/metrics", provider.Handler)
			}
			if cfg.HTTP.Addr != "" && cfg.HTTP.Live {
				hub = live.NewHub(log.With().Str("component", "live").Logger())
				defer hub.Close()
				mux.Handle("/live", hub)
			}

			capture, err := audio.New(cfg.Audio, log.With().Str("component", "audio").Logger())
			if err != nil {
				return err
			}
			defer capture.Close()

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

			arts, err := artifact.New("", log.With().Str("component", "artifact").Logger())
			if err != nil {
				return err
			}

			var recorder pipeline.Recorder = db
			if hub != nil {
				recorder = hub.Wrap(recorder)
			}
			if copyText {
				recorder = &copyingRecorder{next: recorder, clip: clipboard.New(), log: log}
			}

			ctrl, err := pipeline.New(pipeline.Config{
				Capture:     capture,
				Classifier:  vad.NewEnergy(cfg.VAD),
				Transcriber: transcriber,
				Recorder:    recorder,
				Artifacts:   arts,
				Config:      cfg,
				Logger:      log,
				Metrics:     metrics,
			})
			if err != nil {
				arts.Sweep()
				return err
			}

			grp, gctx := errgroup.WithContext(ctx)
			grp.Go(func() error {
				report, err := ctrl.Run(gctx)
				if err != nil {
					arts.Sweep()
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Transcribed %d segment(s)\n", report.Processed)
				if report.TimedOut {
					fmt.Fprintf(cmd.OutOrStdout(), "Shutdown timed out with %d segment(s) still queued\n", report.Pending)
				}
				return nil
			})
			if cfg.HTTP.Addr != "" {
				serveHTTP(gctx, grp, cfg.HTTP.Addr, mux, log)
			}

			log.Info().Msg("Listening, press Ctrl+C to stop")
			return grp.Wait()
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "input device name (default: system default)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "whisper model (e.g. base.en, small)")
	cmd.Flags().StringVarP(&language, "language", "l", "", "language hint, or \"auto\"")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "serve /metrics and /live on this address (e.g. :9464)")
	cmd.Flags().BoolVar(&copyText, "copy", false, "copy each transcription to the clipboard")
	cmd.Flags().Float64Var(&silenceSec, "silence-sec", 0, "silence that ends a segment, in seconds")
	cmd.Flags().Float64Var(&maxSegSec, "max-segment-sec", 0, "longest segment before a forced split, in seconds")
	return cmd
}

// serveHTTP runs the status listener inside grp until ctx is done.
func serveHTTP(ctx context.Context, grp *errgroup.Group, addr string, handler http.Handler, log zerolog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grp.Go(func() error {
		log.Info().Str("addr", addr).Msg("Serving status endpoints")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// copyingRecorder stores a transcription and then puts it on the clipboard.
type copyingRecorder struct {
	next pipeline.Recorder
	clip clipboard.Copier
	log  zerolog.Logger
}

func (r *copyingRecorder) Insert(ctx context.Context, rec store.Record) (uint64, error) {
	id, err := r.next.Insert(ctx, rec)
	if err != nil {
		return 0, err
	}
	if err := r.clip.Copy(rec.Text); err != nil {
		r.log.Warn().Err(err).Uint64("id", id).Msg("Failed to copy transcription")
	}
	return id, nil
}
