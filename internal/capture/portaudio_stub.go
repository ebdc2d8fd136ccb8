//go:build !portaudio

package capture

import (
	"errors"
	"fmt"

	"murmur/internal/config"

	"github.com/sirupsen/logrus"
)

var errPortAudioDisabled = errors.New("build with '-tags portaudio' to enable PortAudio capture")

// NewPortAudioDevice reports that PortAudio support was not compiled in.
func NewPortAudioDevice(cfg *config.Config, logger *logrus.Logger) (Device, error) {
	return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, errPortAudioDisabled)
}

// ListInputDevices needs the portaudio build.
func ListInputDevices() ([]InputDevice, error) {
	return nil, errPortAudioDisabled
}

// CheckPortAudio needs the portaudio build.
func CheckPortAudio() error {
	return errPortAudioDisabled
}
