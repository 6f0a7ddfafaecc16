// Package artifact persists finalized speech segments as mono 16-bit PCM WAV
// files inside a process-scoped temporary directory.
package artifact

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const bitDepth = 16

// ErrInvalidWAV is returned when a file is not a readable PCM WAV.
var ErrInvalidWAV = errors.New("artifact: invalid wav file")

// Store owns one temporary directory. Files written through it are removed
// either by Remove or, at the latest, by Sweep.
type Store struct {
	dir string
	log zerolog.Logger
}

// New creates a fresh directory under parent ("" means os.TempDir).
func New(parent string, log zerolog.Logger) (*Store, error) {
	dir, err := os.MkdirTemp(parent, "whisper-listen-")
	if err != nil {
		return nil, fmt.Errorf("artifact: create temp dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Dir returns the directory holding the artifacts.
func (s *Store) Dir() string {
	return s.dir
}

// Write encodes samples as a WAV file and returns its path.
func (s *Store) Write(samples []float32, sampleRate int) (string, error) {
	name := fmt.Sprintf("segment_%d_%s.wav", time.Now().UnixMilli(), uuid.NewString()[:8])
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("artifact: create %q: %w", path, err)
	}

	if err := encode(f, samples, sampleRate); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("artifact: close %q: %w", path, err)
	}
	return path, nil
}

func encode(f *os.File, samples []float32, sampleRate int) error {
	const scale = 1<<(bitDepth-1) - 1

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(float64(min(max(s, -1), 1)) * scale))
	}

	enc := wav.NewEncoder(f, sampleRate, bitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("artifact: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("artifact: finish wav: %w", err)
	}
	return nil
}

// Remove deletes one artifact. A file that is already gone is not an error;
// any other failure is logged and otherwise ignored.
func (s *Store) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Debug().Err(err).Str("path", path).Msg("Failed to remove artifact")
	}
}

// Sweep removes the directory and every file still in it.
func (s *Store) Sweep() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("artifact: sweep %q: %w", s.dir, err)
	}
	return nil
}

// Audio is decoded PCM as mono float32.
type Audio struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}

// ReadFile decodes a PCM WAV file and downmixes it to mono.
func ReadFile(path string) (Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return Audio{}, fmt.Errorf("artifact: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Audio{}, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Audio{}, fmt.Errorf("artifact: decode %q: %w", path, err)
	}

	channels := int(dec.NumChans)
	depth := int(dec.BitDepth)
	if channels <= 0 || depth <= 0 {
		return Audio{}, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}

	scale := float32(int64(1) << (depth - 1))
	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(buf.Data[i*channels+ch]) / scale
		}
		samples[i] = sum / float32(channels)
	}

	return Audio{Samples: samples, SampleRate: int(dec.SampleRate)}, nil
}
