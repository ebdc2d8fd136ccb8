package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"murmur/internal/config"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

const maxStderrTail = 2048

// FFmpegDevice records through an ffmpeg subprocess that muxes Opus into
// WebM on stdout. Stdout is read in chunk_bytes pieces, so chunks arrive
// while recording.
type FFmpegDevice struct {
	bin          string
	inputFormat  string
	input        string
	extra        []string
	codec        string
	bitrateKbps  int
	sampleRate   int
	channels     int
	chunkBytes   int
	startTimeout time.Duration
	stopTimeout  time.Duration
	logger       *logrus.Logger
}

// NewFFmpegDevice validates the ffmpeg capture settings.
func NewFFmpegDevice(cfg *config.Config, logger *logrus.Logger) (*FFmpegDevice, error) {
	extra, err := parseArgs(cfg.Capture.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("capture.extra_args: %w", err)
	}
	input, err := deviceInput(cfg.Capture.InputFormat, cfg.Capture.DeviceName)
	if err != nil {
		return nil, err
	}
	d := &FFmpegDevice{
		bin:          cfg.Capture.FFmpegPath,
		inputFormat:  cfg.Capture.InputFormat,
		input:        input,
		extra:        extra,
		codec:        cfg.Capture.Codec,
		bitrateKbps:  cfg.Capture.BitrateKbps,
		sampleRate:   cfg.Capture.SampleRate,
		channels:     cfg.Capture.Channels,
		chunkBytes:   cfg.Capture.ChunkBytes,
		startTimeout: cfg.StartTimeout(),
		stopTimeout:  cfg.StopTimeout(),
		logger:       logger,
	}
	if d.bin == "" {
		d.bin = "ffmpeg"
	}
	if d.codec == "" {
		d.codec = "libopus"
	}
	if d.chunkBytes <= 0 {
		d.chunkBytes = 16 * 1024
	}
	if d.channels <= 0 {
		d.channels = 1
	}
	return d, nil
}

func (d *FFmpegDevice) Name() string {
	return fmt.Sprintf("ffmpeg %s %s", d.inputFormat, d.input)
}

func (d *FFmpegDevice) Format() Format { return WebM }

// Args returns the ffmpeg command line used for a capture.
func (d *FFmpegDevice) Args() []string {
	args := []string{"-hide_banner", "-nostats", "-loglevel", "error"}
	if d.inputFormat != "" {
		args = append(args, "-f", d.inputFormat)
	}
	args = append(args, d.extra...)
	args = append(args, "-i", d.input, "-vn", "-ac", strconv.Itoa(d.channels))
	if d.sampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(d.sampleRate))
	}
	args = append(args, "-c:a", d.codec)
	if d.bitrateKbps > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", d.bitrateKbps))
	}
	return append(args, "-f", "webm", "-flush_packets", "1", "pipe:1")
}

// Open launches ffmpeg and waits until it produces output, exits, or the
// start window passes.
func (d *FFmpegDevice) Open(ctx context.Context) (Stream, error) {
	bin, err := exec.LookPath(d.bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	cmd := exec.Command(bin, d.Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	s := &ffmpegStream{
		cmd:         cmd,
		stdin:       stdin,
		chunks:      make(chan []byte, 64),
		started:     make(chan struct{}),
		done:        make(chan struct{}),
		stopTimeout: d.stopTimeout,
		logger:      d.logger,
	}
	cmd.Stderr = &s.stderr
	d.logger.Debugf("capture: %s %s", bin, strings.Join(d.Args(), " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrDeviceUnavailable, err)
	}
	go s.readLoop(stdout, d.chunkBytes)

	var timeout <-chan time.Time
	if d.startTimeout > 0 {
		timer := time.NewTimer(d.startTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-s.started:
		return s, nil
	case <-s.done:
		select {
		case <-s.started:
			// short capture that already finished; its chunks are buffered
			return s, nil
		default:
		}
		return nil, classifyStartError(s.stderrTail(), s.waitErr)
	case <-timeout:
		d.logger.Debug("capture: no output within start window, assuming device is live")
		return s, nil
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-s.done
		return nil, ctx.Err()
	}
}

type ffmpegStream struct {
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stderr      bytes.Buffer
	chunks      chan []byte
	started     chan struct{}
	done        chan struct{}
	stopTimeout time.Duration
	logger      *logrus.Logger

	stopOnce sync.Once
	mu       sync.Mutex
	stopped  bool

	// written by readLoop before done is closed
	readErr error
	waitErr error
}

func (s *ffmpegStream) Chunks() <-chan []byte { return s.chunks }

func (s *ffmpegStream) readLoop(stdout io.Reader, size int) {
	// done closes first so Err is settled once Chunks is closed
	defer close(s.chunks)
	defer close(s.done)
	var startOnce sync.Once
	buf := make([]byte, size)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			startOnce.Do(func() { close(s.started) })
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.chunks <- chunk
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.readErr = err
			}
			break
		}
	}
	s.waitErr = s.cmd.Wait()
}

// Stop asks ffmpeg to finish ("q" on stdin) so it flushes the WebM trailer,
// and kills it if it has not exited within the stop timeout.
func (s *ffmpegStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		if _, werr := io.WriteString(s.stdin, "q"); werr != nil {
			s.logger.Debugf("capture: write quit: %v", werr)
		}
		err = s.stdin.Close()
		if s.stopTimeout > 0 {
			go func() {
				select {
				case <-s.done:
				case <-time.After(s.stopTimeout):
					s.logger.Warn("capture: ffmpeg did not exit after stop, killing")
					_ = s.cmd.Process.Kill()
				}
			}()
		}
	})
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.logger.Debugf("capture: close stdin: %v", err)
	}
	return nil
}

func (s *ffmpegStream) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if s.readErr != nil {
		return fmt.Errorf("read ffmpeg output: %w", s.readErr)
	}
	if stopped {
		// ffmpeg reports a non-zero status when killed or interrupted; the
		// data it produced before that is still usable.
		if s.waitErr != nil {
			s.logger.Debugf("capture: ffmpeg exit after stop: %v", s.waitErr)
		}
		return nil
	}
	if s.waitErr != nil {
		return fmt.Errorf("ffmpeg exited during capture: %v: %s", s.waitErr, s.stderrTail())
	}
	return fmt.Errorf("ffmpeg ended capture before stop: %s", s.stderrTail())
}

func (s *ffmpegStream) stderrTail() string {
	out := s.stderr.Bytes()
	if len(out) > maxStderrTail {
		out = out[len(out)-maxStderrTail:]
	}
	return strings.TrimSpace(string(out))
}

func classifyStartError(stderr string, waitErr error) error {
	detail := stderr
	if detail == "" && waitErr != nil {
		detail = waitErr.Error()
	}
	lower := strings.ToLower(stderr)
	for _, marker := range []string{"permission denied", "operation not permitted", "not authorized", "access denied"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
		}
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, detail)
}

// deviceInput maps a configured device name onto ffmpeg's -i syntax for the
// given input format.
func deviceInput(format, name string) (string, error) {
	name = strings.TrimSpace(name)
	switch format {
	case "avfoundation":
		if name == "" {
			return ":default", nil
		}
		if strings.HasPrefix(name, ":") {
			return name, nil
		}
		return ":" + name, nil
	case "dshow":
		if name == "" {
			return "", fmt.Errorf("%w: dshow needs capture.device_name (see: ffmpeg -list_devices true -f dshow -i dummy)", ErrDeviceUnavailable)
		}
		if strings.HasPrefix(name, "audio=") {
			return name, nil
		}
		return "audio=" + name, nil
	default:
		if name == "" {
			return "default", nil
		}
		return name, nil
	}
}

func parseArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return shlex.Split(raw)
}
