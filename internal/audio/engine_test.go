package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStream records lifecycle calls.
type mockStream struct {
	startErr error
	started  bool
	stopped  bool
	closed   bool
}

func (m *mockStream) Start() error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *mockStream) Stop() error  { m.stopped = true; return nil }
func (m *mockStream) Close() error { m.closed = true; return nil }

// mockBackend hands out mock streams and keeps the callbacks so tests can
// drive them like the audio driver would.
type mockBackend struct {
	streams   []*mockStream
	params    []portaudio.StreamParameters
	callbacks []any
	openErrAt int // 1-based index of the open call that fails; 0 = never
	startErr  map[int]error
}

func (b *mockBackend) open(params portaudio.StreamParameters, callback any) (stream, error) {
	if b.openErrAt == len(b.streams)+1 {
		return nil, errors.New("device busy")
	}
	s := &mockStream{startErr: b.startErr[len(b.streams)]}
	b.streams = append(b.streams, s)
	b.params = append(b.params, params)
	b.callbacks = append(b.callbacks, callback)
	return s, nil
}

// recordingHandler counts callback invocations.
type recordingHandler struct {
	mu       sync.Mutex
	captured [][]int16
	played   int
}

func (h *recordingHandler) OnCapture(in []int16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.captured = append(h.captured, append([]int16(nil), in...))
}

func (h *recordingHandler) OnPlayback(out []int16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.played++
	for i := range out {
		out[i] = 42
	}
}

var testDevices = []*portaudio.DeviceInfo{
	{Name: "Built-in Microphone", MaxInputChannels: 2},
	{Name: "Microsoft Sound Mapper - Input", MaxInputChannels: 2},
	{Name: "Microsoft Sound Mapper - Output", MaxOutputChannels: 2},
	{Name: "HDMI Output", MaxOutputChannels: 8},
}

func newTestEngine(h Handler, b *mockBackend) *Engine {
	e := NewEngine(Config{
		BlockFrames:    256,
		InputKeywords:  []string{"microsoft"},
		OutputKeywords: []string{"microsoft"},
	}, h)
	e.open = b.open
	e.devices = func() ([]*portaudio.DeviceInfo, error) { return testDevices, nil }
	e.defaultInput = func() (*portaudio.DeviceInfo, error) { return testDevices[0], nil }
	e.defaultOutput = func() (*portaudio.DeviceInfo, error) { return testDevices[3], nil }
	return e
}

func TestEngineStartOpensCallbackStreams(t *testing.T) {
	h := &recordingHandler{}
	b := &mockBackend{}
	e := newTestEngine(h, b)

	require.NoError(t, e.Start())
	require.Len(t, b.streams, 2)
	assert.True(t, e.Running())

	capture, playback := b.params[0], b.params[1]
	assert.Same(t, testDevices[1], capture.Input.Device)
	assert.Equal(t, 2, capture.Input.Channels)
	assert.Nil(t, capture.Output.Device)
	assert.Same(t, testDevices[2], playback.Output.Device)
	assert.Equal(t, float64(DefaultSampleRate), capture.SampleRate)
	assert.Equal(t, 256, capture.FramesPerBuffer)
	assert.Equal(t, 256, playback.FramesPerBuffer)
	assert.True(t, b.streams[0].started)
	assert.True(t, b.streams[1].started)

	// Drive the callbacks the way the driver would.
	b.callbacks[0].(func([]int16))([]int16{1, 2, 3, 4})
	out := make([]int16, 4)
	b.callbacks[1].(func([]int16))(out)

	assert.Equal(t, [][]int16{{1, 2, 3, 4}}, h.captured)
	assert.Equal(t, []int16{42, 42, 42, 42}, out)

	// Starting again is a no-op.
	require.NoError(t, e.Start())
	assert.Len(t, b.streams, 2)
}

func TestEngineStopStopsAndClosesStreams(t *testing.T) {
	b := &mockBackend{}
	e := newTestEngine(&recordingHandler{}, b)
	require.NoError(t, e.Start())
	done := e.Done()

	e.Stop()
	for i, s := range b.streams {
		assert.True(t, s.stopped, "stream %d not stopped", i)
		assert.True(t, s.closed, "stream %d not closed", i)
	}
	assert.False(t, e.Running())

	select {
	case <-done:
	default:
		t.Fatal("Done channel not closed after Stop")
	}

	// A second Stop must not panic on the closed channel.
	e.Stop()
}

func TestEngineStartFallsBackToDefaultDevices(t *testing.T) {
	b := &mockBackend{}
	e := newTestEngine(&recordingHandler{}, b)
	e.cfg.InputKeywords = []string{"focusrite"}
	e.cfg.OutputKeywords = nil

	require.NoError(t, e.Start())
	assert.Same(t, testDevices[0], b.params[0].Input.Device)
	assert.Same(t, testDevices[3], b.params[1].Output.Device)
}

func TestEngineStartCleansUpWhenPlaybackOpenFails(t *testing.T) {
	b := &mockBackend{openErrAt: 2}
	e := newTestEngine(&recordingHandler{}, b)

	err := e.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open playback stream")
	require.Len(t, b.streams, 1)
	assert.True(t, b.streams[0].closed)
	assert.False(t, e.Running())
}

func TestEngineStartCleansUpWhenPlaybackStartFails(t *testing.T) {
	b := &mockBackend{startErr: map[int]error{1: errors.New("underrun")}}
	e := newTestEngine(&recordingHandler{}, b)

	require.Error(t, e.Start())
	assert.True(t, b.streams[0].stopped)
	assert.True(t, b.streams[0].closed)
	assert.True(t, b.streams[1].closed)
	assert.False(t, e.Running())
}

func TestEngineStartFailsWithoutDevices(t *testing.T) {
	e := newTestEngine(&recordingHandler{}, &mockBackend{})
	e.devices = func() ([]*portaudio.DeviceInfo, error) { return nil, errors.New("not initialized") }
	assert.Error(t, e.Start())
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	b := &mockBackend{}
	e := newTestEngine(&recordingHandler{}, b)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	require.Eventually(t, e.Running, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, e.Running())
}
