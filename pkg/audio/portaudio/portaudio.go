// Package portaudio implements [audio.Microphone] and [audio.Speaker] on top
// of the PortAudio C library via github.com/gordonklaus/portaudio.
//
// [Initialize] must be called once before opening any device and [Terminate]
// once after every stream has been closed.
//
// Capture uses a blocking input stream read from a dedicated goroutine.
// Playback uses a callback stream that pulls blocks from a
// [playout.Timeline], so the output clock advances in lock-step with the
// hardware.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/concierge/pkg/audio"
	"github.com/MrWong99/concierge/pkg/audio/playout"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.Speaker       = (*Speaker)(nil)
	_ audio.InputStream   = (*inputStream)(nil)
	_ audio.OutputContext = (*outputContext)(nil)
)

// frameBuffer is the capacity of the capture channel. When the consumer falls
// further behind than this, blocks are dropped.
const frameBuffer = 32

// Initialize initialises the PortAudio library.
func Initialize() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio library.
func Terminate() error {
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// Option configures a [Microphone] or [Speaker].
type Option func(*deviceOptions)

type deviceOptions struct {
	device string
	logger *slog.Logger
}

// WithDevice selects a device whose name contains name (case-insensitive)
// instead of the host default.
func WithDevice(name string) Option {
	return func(o *deviceOptions) { o.device = name }
}

// WithLogger sets the logger used for capture diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *deviceOptions) { o.logger = l }
}

func applyOptions(opts []Option) deviceOptions {
	o := deviceOptions{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// findDevice returns the first device whose name contains name and which has
// at least one channel in the requested direction.
func findDevice(name string, input bool) (*pa.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	needle := strings.ToLower(name)
	for _, d := range devices {
		if input && d.MaxInputChannels == 0 || !input && d.MaxOutputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no device matching %q", name)
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone captures float32 blocks from an input device.
type Microphone struct {
	opts deviceOptions
}

// NewMicrophone creates a [Microphone]. The device is opened lazily by
// [Microphone.Open].
func NewMicrophone(opts ...Option) *Microphone {
	return &Microphone{opts: applyOptions(opts)}
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context, f audio.Format, blockSize int) (audio.InputStream, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("portaudio: invalid block size %d", blockSize)
	}
	dev, err := pa.DefaultInputDevice()
	if m.opts.device != "" {
		dev, err = findDevice(m.opts.device, true)
	}
	if err != nil {
		return nil, fmt.Errorf("portaudio: input device: %w", err)
	}

	channels := max(f.Channels, 1)
	var buf []float32
	stream, rate, err := audio.NegotiateRate(f.SampleRate, dev.DefaultSampleRate, func(rate int) (*pa.Stream, error) {
		// Keep the block duration when capturing at another rate.
		frames := audio.ScaleBlock(blockSize, f.SampleRate, rate)
		buf = make([]float32, frames*channels)
		return pa.OpenStream(pa.StreamParameters{
			Input: pa.StreamDeviceParameters{
				Device:   dev,
				Channels: channels,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      float64(rate),
			FramesPerBuffer: frames,
		}, buf)
	})
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream on %q: %w", dev.Name, err)
	}
	if rate != f.SampleRate {
		m.opts.logger.Info("portaudio: capturing at the device rate", "device", dev.Name, "requested", f.SampleRate, "rate", rate)
		f.SampleRate = rate
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &inputStream{
		stream: stream,
		format: f,
		frames: make(chan []float32, frameBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.readLoop(ctx, buf, dev.Name, m.opts.logger)
	m.opts.logger.Debug("portaudio: capture started", "device", dev.Name, "format", f, "block_size", blockSize)
	return s, nil
}

type inputStream struct {
	stream *pa.Stream
	format audio.Format
	frames chan []float32
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *inputStream) readLoop(ctx context.Context, buf []float32, device string, log *slog.Logger) {
	defer close(s.done)
	defer close(s.frames)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				log.Debug("portaudio: input overflowed", "device", device)
				continue
			}
			log.Debug("portaudio: read error", "device", device, "error", err)
			return
		}

		block := append([]float32(nil), buf...)
		select {
		case s.frames <- block:
		case <-ctx.Done():
			return
		default:
			log.Debug("portaudio: consumer behind, dropping block", "device", device)
		}
	}
}

func (s *inputStream) Frames() <-chan []float32 { return s.frames }

func (s *inputStream) Format() audio.Format { return s.format }

func (s *inputStream) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.stream.Stop()
		<-s.done
		err = errors.Join(err, s.stream.Close())
	})
	if err != nil {
		return fmt.Errorf("portaudio: close input stream: %w", err)
	}
	return nil
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker plays scheduled voices on an output device.
type Speaker struct {
	opts deviceOptions
}

// NewSpeaker creates a [Speaker]. The device is opened lazily by
// [Speaker.Open].
func NewSpeaker(opts ...Option) *Speaker {
	return &Speaker{opts: applyOptions(opts)}
}

// Open implements [audio.Speaker]. The returned context's clock is driven by
// the device callback.
func (sp *Speaker) Open(_ context.Context, f audio.Format) (audio.OutputContext, error) {
	dev, err := pa.DefaultOutputDevice()
	if sp.opts.device != "" {
		dev, err = findDevice(sp.opts.device, false)
	}
	if err != nil {
		return nil, fmt.Errorf("portaudio: output device: %w", err)
	}

	var tl *playout.Timeline
	stream, rate, err := audio.NegotiateRate(f.SampleRate, dev.DefaultSampleRate, func(rate int) (*pa.Stream, error) {
		t := playout.New(audio.Format{SampleRate: rate, Channels: f.Channels})
		tl = t
		return pa.OpenStream(pa.StreamParameters{
			Output: pa.StreamDeviceParameters{
				Device:   dev,
				Channels: max(f.Channels, 1),
				Latency:  dev.DefaultLowOutputLatency,
			},
			SampleRate:      float64(rate),
			FramesPerBuffer: pa.FramesPerBufferUnspecified,
		}, func(out []float32) { t.Render(out) })
	})
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output stream on %q: %w", dev.Name, err)
	}
	if rate != f.SampleRate {
		sp.opts.logger.Info("portaudio: playing at the device rate", "device", dev.Name, "requested", f.SampleRate, "rate", rate)
		f.SampleRate = rate
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}
	sp.opts.logger.Debug("portaudio: playback started", "device", dev.Name, "format", f)
	return &outputContext{Timeline: tl, stream: stream}, nil
}

// outputContext couples a playout timeline with the stream rendering it.
type outputContext struct {
	*playout.Timeline
	stream *pa.Stream
	once   sync.Once
}

// Close stops the device stream, then drops every scheduled voice.
func (o *outputContext) Close() error {
	var err error
	o.once.Do(func() {
		err = errors.Join(o.stream.Stop(), o.stream.Close(), o.Timeline.Close())
	})
	if err != nil {
		return fmt.Errorf("portaudio: close output stream: %w", err)
	}
	return nil
}
