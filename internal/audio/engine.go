// Package audio drives the PortAudio capture and playback streams.
//
// Both streams use non-blocking callbacks. Capture callbacks hand each raw
// interleaved int16 block to a Handler; playback callbacks ask the Handler
// to fill the next output block. The Engine itself does no processing.
package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSampleRate  = 48000
	DefaultChannels    = 2
	DefaultBlockFrames = 16384
)

// Handler receives capture blocks and fills playback blocks. OnCapture and
// OnPlayback are called from separate backend threads and must not block.
type Handler interface {
	OnCapture(in []int16)
	OnPlayback(out []int16)
}

// Config describes the streams to open.
type Config struct {
	SampleRate     float64
	Channels       int
	BlockFrames    int
	InputKeywords  []string
	OutputKeywords []string
}

// stream abstracts a PortAudio stream for testing.
type stream interface {
	Start() error
	Stop() error
	Close() error
}

// streamOpener opens a callback stream.
type streamOpener func(params portaudio.StreamParameters, callback any) (stream, error)

func openPortAudio(params portaudio.StreamParameters, callback any) (stream, error) {
	s, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Engine owns one capture and one playback stream.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	handler Handler

	open          streamOpener
	devices       func() ([]*portaudio.DeviceInfo, error)
	defaultInput  func() (*portaudio.DeviceInfo, error)
	defaultOutput func() (*portaudio.DeviceInfo, error)

	captureStream  stream
	playbackStream stream

	running atomic.Bool
	stopCh  chan struct{}
}

// NewEngine returns an Engine that routes stream callbacks to h.
func NewEngine(cfg Config, h Handler) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.BlockFrames <= 0 {
		cfg.BlockFrames = DefaultBlockFrames
	}
	return &Engine{
		cfg:           cfg,
		handler:       h,
		open:          openPortAudio,
		devices:       portaudio.Devices,
		defaultInput:  portaudio.DefaultInputDevice,
		defaultOutput: portaudio.DefaultOutputDevice,
		stopCh:        make(chan struct{}),
	}
}

// Done returns a channel that is closed when the engine stops.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCh
}

// Running reports whether both streams are started.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Start selects devices, opens both callback streams and starts them.
// PortAudio must already be initialized.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return nil
	}

	devices, err := e.devices()
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}
	inputDev, err := resolveDevice(devices, Input, e.cfg.Channels, e.cfg.InputKeywords, e.defaultInput)
	if err != nil {
		return fmt.Errorf("resolve input device: %w", err)
	}
	outputDev, err := resolveDevice(devices, Output, e.cfg.Channels, e.cfg.OutputKeywords, e.defaultOutput)
	if err != nil {
		return fmt.Errorf("resolve output device: %w", err)
	}

	captureParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: e.cfg.Channels,
			Latency:  inputDev.DefaultHighInputLatency,
		},
		SampleRate:      e.cfg.SampleRate,
		FramesPerBuffer: e.cfg.BlockFrames,
	}
	captureStream, err := e.open(captureParams, func(in []int16) { e.handler.OnCapture(in) })
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}

	playbackParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: e.cfg.Channels,
			Latency:  outputDev.DefaultHighOutputLatency,
		},
		SampleRate:      e.cfg.SampleRate,
		FramesPerBuffer: e.cfg.BlockFrames,
	}
	playbackStream, err := e.open(playbackParams, func(out []int16) { e.handler.OnPlayback(out) })
	if err != nil {
		captureStream.Close()
		return fmt.Errorf("open playback stream: %w", err)
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return fmt.Errorf("start capture stream: %w", err)
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Stop()
		captureStream.Close()
		playbackStream.Close()
		return fmt.Errorf("start playback stream: %w", err)
	}

	e.captureStream = captureStream
	e.playbackStream = playbackStream
	e.stopCh = make(chan struct{})
	e.running.Store(true)

	logrus.WithFields(logrus.Fields{
		"function":     "Engine.Start",
		"capture":      inputDev.Name,
		"playback":     outputDev.Name,
		"sample_rate":  e.cfg.SampleRate,
		"block_frames": e.cfg.BlockFrames,
	}).Info("Audio streams started")
	return nil
}

// Stop halts and closes both streams. Pa_StopStream waits for pending
// callbacks to finish, so the streams are closed only after both have
// stopped.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	streams := []struct {
		name string
		s    stream
	}{{"capture", e.captureStream}, {"playback", e.playbackStream}}

	// Stop both before closing either.
	for _, st := range streams {
		if st.s == nil {
			continue
		}
		if err := st.s.Stop(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.Stop",
				"stream":   st.name,
				"error":    err,
			}).Warn("Failed to stop stream")
		}
	}
	for _, st := range streams {
		if st.s == nil {
			continue
		}
		if err := st.s.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.Stop",
				"stream":   st.name,
				"error":    err,
			}).Warn("Failed to close stream")
		}
	}
	e.captureStream = nil
	e.playbackStream = nil
	close(e.stopCh)

	logrus.WithField("function", "Engine.Stop").Info("Audio streams stopped")
}

// Run starts the engine and blocks until ctx is cancelled, then stops it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-e.Done():
	}
	e.Stop()
	return nil
}
