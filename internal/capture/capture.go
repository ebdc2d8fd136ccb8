// Package capture provides microphone sources that deliver encoded audio
// in chunks.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"murmur/internal/config"

	"github.com/sirupsen/logrus"
)

var (
	// ErrPermissionDenied is returned when the OS or user refuses mic access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable is returned when no usable capture device exists.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Format describes the container a device produces.
type Format struct {
	MediaType string
	Extension string
}

var (
	WebM = Format{MediaType: "audio/webm", Extension: ".webm"}
	WAV  = Format{MediaType: "audio/wav", Extension: ".wav"}
)

// Device opens capture streams. A device holds the microphone for the whole
// lifetime of a stream; only one stream may be open at a time.
type Device interface {
	Name() string
	Format() Format
	Open(ctx context.Context) (Stream, error)
}

// Stream delivers encoded chunks until it has been stopped and flushed.
//
// Chunks is closed once every chunk produced before Stop released the device
// has been sent. Err reports a capture failure and is only meaningful after
// Chunks is closed.
type Stream interface {
	Chunks() <-chan []byte
	Stop() error
	Err() error
}

// SilenceNotifier is implemented by streams that detect trailing silence.
// The returned channel is closed once the speaker has gone quiet.
type SilenceNotifier interface {
	Silence() <-chan struct{}
}

// New builds the device selected by capture.backend.
func New(cfg *config.Config, logger *logrus.Logger) (Device, error) {
	switch strings.ToLower(cfg.Capture.Backend) {
	case "", "ffmpeg":
		dev, err := NewFFmpegDevice(cfg, logger)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case "portaudio":
		return NewPortAudioDevice(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown capture backend %q (want ffmpeg or portaudio)", cfg.Capture.Backend)
	}
}
