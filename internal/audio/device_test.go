package audio

import (
	"errors"
	"testing"

	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectDeviceMatchesKeywordAndChannels(t *testing.T) {
	idx, err := SelectDevice(testDevices, Input, 2, []string{"microsoft"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = SelectDevice(testDevices, Output, 2, []string{"Microsoft"})
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestSelectDeviceLastMatchWins(t *testing.T) {
	devices := []*portaudio.DeviceInfo{
		{Name: "USB Mic A", MaxInputChannels: 2},
		nil,
		{Name: "USB Mic B", MaxInputChannels: 2},
		{Name: "USB Mic C", MaxInputChannels: 1},
	}
	idx, err := SelectDevice(devices, Input, 2, []string{"  usb "})
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestSelectDeviceRequiresExactChannelCount(t *testing.T) {
	_, err := SelectDevice(testDevices, Output, 2, []string{"hdmi"})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestSelectDeviceNoKeywords(t *testing.T) {
	_, err := SelectDevice(testDevices, Input, 2, nil)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = SelectDevice(testDevices, Input, 2, []string{""})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestResolveDeviceFallback(t *testing.T) {
	fallback := &portaudio.DeviceInfo{Name: "default"}
	got, err := resolveDevice(testDevices, Input, 2, []string{"nothing"}, func() (*portaudio.DeviceInfo, error) {
		return fallback, nil
	})
	require.NoError(t, err)
	assert.Same(t, fallback, got)

	_, err = resolveDevice(testDevices, Input, 2, nil, func() (*portaudio.DeviceInfo, error) {
		return nil, errors.New("no default device")
	})
	assert.Error(t, err)
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "input", Input.String())
	assert.Equal(t, "output", Output.String())
}
