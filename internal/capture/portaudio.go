//go:build portaudio

package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"murmur/internal/config"

	"github.com/gordonklaus/portaudio"
	vad "github.com/maxhawkins/go-webrtcvad"
	"github.com/sirupsen/logrus"
)

// PortAudioDevice captures 16-bit PCM with PortAudio and hands the session
// over as one WAV file once stopped.
type PortAudioDevice struct {
	deviceName string
	sampleRate int
	channels   int
	frameMS    int
	chunkBytes int

	vadEnabled     bool
	aggressiveness int
	silence        time.Duration
	minSpeech      time.Duration

	logger *logrus.Logger
}

// NewPortAudioDevice validates the PortAudio capture settings.
func NewPortAudioDevice(cfg *config.Config, logger *logrus.Logger) (Device, error) {
	if cfg.Capture.FrameMS != 10 && cfg.Capture.FrameMS != 20 && cfg.Capture.FrameMS != 30 {
		return nil, fmt.Errorf("capture.frame_ms must be 10, 20, or 30 (got %d)", cfg.Capture.FrameMS)
	}
	if cfg.Capture.Channels < 1 {
		return nil, fmt.Errorf("capture.channels must be >= 1")
	}
	if cfg.VAD.Enabled {
		if cfg.Capture.Channels != 1 {
			return nil, fmt.Errorf("vad needs mono input; set capture.channels = 1")
		}
		switch cfg.Capture.SampleRate {
		case 8000, 16000, 32000, 48000:
		default:
			return nil, fmt.Errorf("sample_rate must be 8k/16k/32k/48k for webrtc VAD (got %d)", cfg.Capture.SampleRate)
		}
	}
	return &PortAudioDevice{
		deviceName:     cfg.Capture.DeviceName,
		sampleRate:     cfg.Capture.SampleRate,
		channels:       cfg.Capture.Channels,
		frameMS:        cfg.Capture.FrameMS,
		chunkBytes:     cfg.Capture.ChunkBytes,
		vadEnabled:     cfg.VAD.Enabled,
		aggressiveness: cfg.VAD.Aggressiveness,
		silence:        time.Duration(cfg.VAD.SilenceMS) * time.Millisecond,
		minSpeech:      time.Duration(cfg.VAD.MinSpeechMS) * time.Millisecond,
		logger:         logger,
	}, nil
}

func (d *PortAudioDevice) Name() string {
	if d.deviceName == "" {
		return "portaudio default"
	}
	return "portaudio " + d.deviceName
}

func (d *PortAudioDevice) Format() Format { return WAV }

func (d *PortAudioDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %v", ErrDeviceUnavailable, err)
	}
	dev, err := selectDevice(d.deviceName)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	frameSamples := d.sampleRate * d.frameMS / 1000
	buf := make([]int16, frameSamples*d.channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: d.channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(d.sampleRate),
		FramesPerBuffer: frameSamples,
	}, &buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, classifyPortAudioError("open stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, classifyPortAudioError("start stream", err)
	}

	s := &portAudioStream{
		dev:        d,
		stream:     stream,
		buf:        buf,
		chunks:     make(chan []byte, 4),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		silence:    make(chan struct{}),
		deviceName: dev.Name,
	}
	if d.vadEnabled {
		v, err := vad.New()
		if err != nil {
			s.release()
			return nil, fmt.Errorf("vad init: %w", err)
		}
		if err := v.SetMode(d.aggressiveness); err != nil {
			s.release()
			return nil, fmt.Errorf("vad mode: %w", err)
		}
		s.vad = v
	}
	d.logger.Infof("capture: recording from %s @ %d Hz", dev.Name, d.sampleRate)
	go s.loop()
	return s, nil
}

type portAudioStream struct {
	dev        *PortAudioDevice
	stream     *portaudio.Stream
	buf        []int16
	vad        *vad.VAD
	deviceName string

	chunks  chan []byte
	quit    chan struct{}
	done    chan struct{}
	silence chan struct{}

	stopOnce    sync.Once
	silenceOnce sync.Once

	// written by loop before done is closed
	err error
}

func (s *portAudioStream) Chunks() <-chan []byte    { return s.chunks }
func (s *portAudioStream) Silence() <-chan struct{} { return s.silence }

func (s *portAudioStream) Stop() error {
	s.stopOnce.Do(func() { close(s.quit) })
	return nil
}

func (s *portAudioStream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *portAudioStream) release() {
	_ = s.stream.Stop()
	_ = s.stream.Close()
	_ = portaudio.Terminate()
}

func (s *portAudioStream) loop() {
	// done closes first so Err is settled once Chunks is closed
	defer close(s.chunks)
	defer close(s.done)

	var (
		pcm         []int16
		frame       = make([]byte, len(s.buf)*2)
		speechBegan time.Time
		lastVoice   time.Time
		heardSpeech bool
	)
	for running := true; running; {
		select {
		case <-s.quit:
			running = false
			continue
		default:
		}
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				s.dev.logger.Warn("capture: input overflow")
				continue
			}
			s.err = fmt.Errorf("stream read: %w", err)
			break
		}
		pcm = append(pcm, s.buf...)
		if s.vad == nil {
			continue
		}
		for i, v := range s.buf {
			binary.LittleEndian.PutUint16(frame[i*2:], uint16(v))
		}
		voice, err := s.vad.Process(s.dev.sampleRate, frame)
		if err != nil {
			s.dev.logger.Debugf("capture: vad: %v", err)
			continue
		}
		now := time.Now()
		if voice {
			if speechBegan.IsZero() {
				speechBegan = now
			}
			lastVoice = now
			if now.Sub(speechBegan) >= s.dev.minSpeech {
				heardSpeech = true
			}
			continue
		}
		if heardSpeech && s.dev.silence > 0 && now.Sub(lastVoice) >= s.dev.silence {
			s.silenceOnce.Do(func() {
				s.dev.logger.Infof("capture: %s of silence, requesting stop", s.dev.silence)
				close(s.silence)
			})
		}
	}
	s.release()

	if s.err != nil || len(pcm) == 0 {
		return
	}
	data, err := encodeWAV(pcm, s.dev.sampleRate, s.dev.channels)
	if err != nil {
		s.err = err
		return
	}
	for _, c := range splitChunks(data, s.dev.chunkBytes) {
		s.chunks <- c
	}
}

// ListInputDevices returns the PortAudio devices that can record.
func ListInputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()
	out := []InputDevice{}
	for i, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, InputDevice{
			Index:     i,
			Name:      d.Name,
			Channels:  d.MaxInputChannels,
			LatencyMs: d.DefaultLowInputLatency.Seconds() * 1000,
			Default:   def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}

// CheckPortAudio initializes and terminates PortAudio once.
func CheckPortAudio() error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	return portaudio.Terminate()
}

func selectDevice(preferred string) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if preferred != "" {
		for _, d := range devs {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(preferred)) {
				return d, nil
			}
		}
	}
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		return def, nil
	}
	for _, d := range devs {
		if d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input devices found")
}

func classifyPortAudioError(op string, err error) error {
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "permission") || strings.Contains(lower, "not permitted") {
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, op, err)
}
