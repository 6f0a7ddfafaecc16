// Package commands implements the whisper-listen CLI.
package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/petems/whisper-listen/internal/config"
	"github.com/petems/whisper-listen/internal/logging"
	"github.com/petems/whisper-listen/internal/store"
)

// globals holds the persistent flags and build info shared by every command.
type globals struct {
	configPath string
	verbose    bool

	version string
	commit  string
}

// Execute runs the root command.
func Execute(version, commit string) error {
	return NewRootCmd(version, commit).Execute()
}

// NewRootCmd builds the full command tree.
func NewRootCmd(version, commit string) *cobra.Command {
	g := &globals{version: version, commit: commit}

	root := &cobra.Command{
		Use:   "whisper-listen",
		Short: "Continuous speech-to-text from the microphone",
		Long: `whisper-listen - hands-free transcription from the microphone.

Speech is detected with a voice activity detector, cut into segments and
transcribed in the background with whisper.cpp (or an OpenAI-compatible
API). Every transcription is kept in a local history that can be searched,
exported and copied.

Configuration is read from:
  macOS:   ~/Library/Application Support/whisper-listen/config.yaml
  Linux:   ~/.config/whisper-listen/config.yaml
  Windows: %AppData%/whisper-listen/config.yaml

Examples:
  # Listen until Ctrl+C, expose /metrics and the /live WebSocket feed
  whisper-listen listen --http-addr :9464

  # Transcribe a file without storing it
  whisper-listen transcribe meeting.wav --no-save

  # Find and copy an earlier transcription
  whisper-listen search "budget review"
  whisper-listen copy 42`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default is the platform config path)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newListenCmd(g),
		newTranscribeCmd(g),
		newWatchCmd(g),
		newHistoryCmd(g),
		newSearchCmd(g),
		newDeleteCmd(g),
		newClearCmd(g),
		newExportCmd(g),
		newCopyCmd(g),
		newDevicesCmd(g),
		newConfigCmd(g),
		newVersionCmd(g),
	)
	return root
}

func (g *globals) loadConfig() (*config.Config, error) {
	if g.configPath != "" {
		return config.LoadFrom(g.configPath)
	}
	return config.Load()
}

func (g *globals) resolvedConfigPath() string {
	if g.configPath != "" {
		return g.configPath
	}
	return config.Path()
}

func (g *globals) logger(cfg *config.Config) zerolog.Logger {
	level := cfg.LogLevel
	if g.verbose {
		level = "debug"
	}
	return logging.NewWithLevel(level)
}

// setup loads the config and builds the logger every command starts with.
func (g *globals) setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, g.logger(cfg), nil
}

func openStore(cfg *config.Config, log zerolog.Logger) (*store.Badger, error) {
	db, err := store.Open(store.Options{
		Dir:    cfg.Store.Dir,
		Logger: log.With().Str("component", "store").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return db, nil
}
