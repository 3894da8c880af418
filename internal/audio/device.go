package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
)

// ErrDeviceUnavailable indicates no device matched the selection criteria.
// Callers fall back to the system default device.
var ErrDeviceUnavailable = errors.New("no matching audio device")

// Direction selects the capture or playback side of a device.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Device describes an available audio device.
type Device struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	InputChannels  int    `json:"input_channels"`
	OutputChannels int    `json:"output_channels"`
}

// maxChannels returns d's channel count in the given direction.
func maxChannels(d *portaudio.DeviceInfo, dir Direction) int {
	if dir == Input {
		return d.MaxInputChannels
	}
	return d.MaxOutputChannels
}

// SelectDevice returns the index of the device offering exactly channels in
// direction dir whose lowercased name contains one of keywords. When several
// devices match, the last one wins.
func SelectDevice(devices []*portaudio.DeviceInfo, dir Direction, channels int, keywords []string) (int, error) {
	found := -1
	for i, d := range devices {
		if d == nil || maxChannels(d, dir) != channels {
			continue
		}
		name := strings.ToLower(d.Name)
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(name, kw) {
				found = i
				break
			}
		}
	}
	if found < 0 {
		return -1, fmt.Errorf("%s with %d channels matching %q: %w", dir, channels, keywords, ErrDeviceUnavailable)
	}
	return found, nil
}

// resolveDevice picks the preferred device for dir, or the system default
// when none matches.
func resolveDevice(devices []*portaudio.DeviceInfo, dir Direction, channels int, keywords []string, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	idx, err := SelectDevice(devices, dir, channels, keywords)
	if err == nil {
		logrus.WithFields(logrus.Fields{
			"function":  "resolveDevice",
			"direction": dir.String(),
			"device_id": idx,
			"device":    devices[idx].Name,
		}).Info("Found preferred device")
		return devices[idx], nil
	}

	logrus.WithFields(logrus.Fields{
		"function":  "resolveDevice",
		"direction": dir.String(),
		"error":     err,
	}).Warn("No preferred device found, using system default")
	return fallback()
}

// ListDevices returns every device PortAudio reports. PortAudio must be
// initialized.
func ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]Device, 0, len(devices))
	for i, d := range devices {
		out = append(out, Device{
			ID:             i,
			Name:           d.Name,
			InputChannels:  d.MaxInputChannels,
			OutputChannels: d.MaxOutputChannels,
		})
	}
	return out, nil
}
