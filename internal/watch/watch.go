// Package watch hands files that appear in a directory to a handler once
// they have stopped changing.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Handler processes one settled file. Errors are logged, not fatal.
type Handler func(ctx context.Context, path string) error

type Config struct {
	Dir string
	// Extensions limits matches, e.g. ".wav". Empty matches everything.
	Extensions []string
	// Settle is how long a file must go without writes before it is handled.
	Settle  time.Duration
	Handler Handler
	Logger  zerolog.Logger
}

// Watcher runs the handler serially, one file at a time.
type Watcher struct {
	dir     string
	exts    []string
	settle  time.Duration
	handler Handler
	log     zerolog.Logger
}

func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" || cfg.Handler == nil {
		return nil, errors.New("watch: dir and handler are required")
	}
	settle := cfg.Settle
	if settle <= 0 {
		settle = time.Second
	}
	exts := make([]string, len(cfg.Extensions))
	for i, e := range cfg.Extensions {
		exts[i] = strings.ToLower(e)
	}
	return &Watcher{
		dir:     cfg.Dir,
		exts:    exts,
		settle:  settle,
		handler: cfg.Handler,
		log:     cfg.Logger,
	}, nil
}

// Run watches until ctx is done. Files already present are ignored.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch: add %q: %w", w.dir, err)
	}
	w.log.Info().Str("dir", w.dir).Msg("Watching for new files")

	ready := make(chan string, 16)
	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.matches(ev.Name) {
				continue
			}
			if t, ok := pending[ev.Name]; ok {
				t.Reset(w.settle)
				continue
			}
			path := ev.Name
			pending[path] = time.AfterFunc(w.settle, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("File watcher error")

		case path := <-ready:
			// A timer re-armed after firing can deliver twice
			if _, ok := pending[path]; !ok {
				continue
			}
			delete(pending, path)
			if err := w.handler(ctx, path); err != nil {
				w.log.Error().Err(err).Str("path", path).Msg("Failed to process file")
			}
		}
	}
}

func (w *Watcher) matches(path string) bool {
	if len(w.exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.exts {
		if ext == e {
			return true
		}
	}
	return false
}
