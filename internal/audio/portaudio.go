package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/petems/whisper-listen/internal/config"
)

type portAudioCapture struct {
	log zerolog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new PortAudio-based audio capture
func New(cfg config.AudioConfig, log zerolog.Logger) (Capture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioCapture{log: log}, nil
}

func (p *portAudioCapture) Start(ctx context.Context, opts StartOptions, onFrame FrameFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return errors.New("audio capture already started")
	}
	if opts.FrameSize <= 0 || opts.SampleRate <= 0 {
		return fmt.Errorf("invalid stream shape: %d samples at %d Hz", opts.FrameSize, opts.SampleRate)
	}
	channels := max(opts.Channels, 1)

	device, err := findDevice(opts.DeviceID)
	if err != nil {
		return err
	}
	if device.MaxInputChannels < channels {
		return fmt.Errorf("device %q supports %d input channels, need %d", device.Name, device.MaxInputChannels, channels)
	}

	// Interleaved float32 buffer, one frame per read
	buffer := make([]float32, opts.FrameSize*channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(opts.SampleRate),
		FramesPerBuffer: opts.FrameSize,
	}, buffer)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	p.stream = stream
	p.cancel = cancel
	p.done = make(chan struct{})

	p.log.Info().
		Str("device", device.Name).
		Int("sample_rate", opts.SampleRate).
		Int("frame_size", opts.FrameSize).
		Int("channels", channels).
		Msg("Audio capture started")

	go p.readLoop(readCtx, stream, buffer, channels, opts, onFrame, p.done)
	return nil
}

// readLoop pulls one buffer per iteration and hands a private copy to onFrame.
func (p *portAudioCapture) readLoop(ctx context.Context, stream *portaudio.Stream, buffer []float32, channels int, opts StartOptions, onFrame FrameFunc, done chan<- struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				p.log.Warn().Msg("Audio input overflowed")
				continue
			}
			p.log.Error().Err(err).Msg("Audio read failed")
			return
		}
		onFrame(Frame{
			Samples:    downmixInterleaved(buffer, channels, opts.FrameSize),
			SampleRate: opts.SampleRate,
		})
	}
}

func (p *portAudioCapture) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	p.cancel()
	<-p.done

	err := p.stream.Stop()
	p.stream.Close()
	p.stream = nil
	p.log.Info().Msg("Audio capture stopped")
	return err
}

func (p *portAudioCapture) ListDevices() ([]AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *portAudioCapture) Close() error {
	if err := p.Stop(); err != nil {
		p.log.Warn().Err(err).Msg("Stopping stream on close")
	}
	return portaudio.Terminate()
}

func findDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", deviceID)
}

// downmixInterleaved averages interleaved channels into a new mono slice.
// The result never aliases input.
func downmixInterleaved(input []float32, channels, frames int) []float32 {
	out := make([]float32, frames)
	if channels <= 1 {
		copy(out, input)
		return out
	}
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += input[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
