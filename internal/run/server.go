package run

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"murmur/internal/capture"
	"murmur/internal/config"
	"murmur/internal/control"
	"murmur/internal/hook"
	"murmur/internal/recorder"
	"murmur/internal/transcripts"
	"murmur/internal/upload"

	"github.com/sirupsen/logrus"
)

// Server owns the recorder, the upload worker, metrics and the control socket.
type Server struct {
	cfg       *config.Config
	logger    *logrus.Logger
	ctl       *recorder.Controller
	device    string
	uploader  upload.Uploader
	hook      *hook.Runner
	startedAt time.Time

	ctx context.Context

	transcriptsMu sync.Mutex
	transcripts   []control.Transcript
	statusTail    int
	lastErr       string

	metrics metrics
	jobs    chan job
	// queued or uploading recordings
	pending sync.WaitGroup

	wg sync.WaitGroup
}

// shutdownUploadGrace bounds how long shutdown waits for queued uploads.
const shutdownUploadGrace = 30 * time.Second

// job is one finished session on its way to the upload worker.
type job struct {
	rec *recorder.Recording
	err error
}

// Serve runs the daemon until interrupted.
func Serve(cfg *config.Config, logger *logrus.Logger) error {
	if err := config.MustStatePaths(cfg); err != nil {
		return err
	}
	dev, err := capture.New(cfg, logger)
	if err != nil {
		return err
	}
	up, err := upload.New(cfg, logger)
	if err != nil {
		return err
	}
	// Write pid file.
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(cfg.Paths.PidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("remove pid file: %v", err)
		}
	}()
	// Ensure socket removed
	if err := os.Remove(cfg.Paths.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debugf("remove stale socket: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := newServer(ctx, cfg, logger, recorder.New(dev, logger), dev.Name(), up)

	// Control socket
	ctlCtx, stopControl := context.WithCancel(ctx)
	defer stopControl()
	go srv.controlLoop(ctlCtx)

	// Metrics server
	if cfg.Metrics.Enabled {
		go srv.metricsServe(ctx.Done(), cfg.Metrics.Addr, logger)
	}

	logger.Infof("murmur ready: device=%s endpoint=%s", dev.Name(), endpointLabel(cfg))

	// Handle signals
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	s := <-sigCh
	logger.Infof("received signal %s, shutting down", s)
	stopControl()
	srv.shutdown(cfg.StopTimeout())
	srv.drain(shutdownUploadGrace)
	cancel()
	srv.wg.Wait()
	return nil
}

func newServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger, ctl *recorder.Controller, device string, up upload.Uploader) *Server {
	tail := max(0, cfg.UI.StatusTail)
	srv := &Server{
		cfg:         cfg,
		logger:      logger,
		ctl:         ctl,
		device:      device,
		uploader:    up,
		hook:        hook.NewRunner(cfg, logger),
		startedAt:   time.Now(),
		ctx:         ctx,
		transcripts: make([]control.Transcript, 0, tail),
		statusTail:  tail,
		jobs:        make(chan job, max(1, cfg.Upload.QueueSize)),
	}
	srv.metrics.reset()
	ctl.OnComplete(srv.handleComplete)
	srv.wg.Add(1)
	go srv.uploadWorker(ctx)
	return srv
}

// shutdown stops an active session and waits until it has been queued for
// upload. New sessions must already be blocked (control socket closed).
func (s *Server) shutdown(timeout time.Duration) {
	if s.ctl.State() != recorder.StateRecording {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := s.ctl.Finish(ctx); err != nil && !errors.Is(err, recorder.ErrEmptyRecording) {
		s.logger.Warnf("shutdown: %v", err)
	}
}

// handleComplete runs on the recorder's collector goroutine.
func (s *Server) handleComplete(rec *recorder.Recording, err error) {
	if err != nil {
		s.metrics.incFailed()
	} else {
		s.metrics.incRecorded()
	}
	s.pending.Add(1)
	select {
	case s.jobs <- job{rec: rec, err: err}:
	default:
		s.pending.Done()
		s.metrics.incDropped()
		s.fail("", errors.New("upload queue full, dropping recording"))
	}
}

func (s *Server) uploadWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.dropQueued()
			return
		case j := <-s.jobs:
			s.process(ctx, j)
		}
	}
}

// drain waits for queued recordings to finish uploading, up to timeout.
func (s *Server) drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warnf("shutdown: uploads still running after %s, cancelling", timeout)
	}
}

// dropQueued logs recordings that were still waiting when the daemon stopped.
func (s *Server) dropQueued() {
	for {
		select {
		case j := <-s.jobs:
			s.pending.Done()
			if j.rec != nil {
				s.metrics.incDropped()
				s.logger.WithField("session", j.rec.ID()).Warnf("shutdown: dropping queued recording (%d bytes)", j.rec.Len())
			}
		default:
			return
		}
	}
}

func (s *Server) process(ctx context.Context, j job) {
	defer s.pending.Done()
	if j.err != nil {
		s.fail("", j.err)
		return
	}
	log := s.logger.WithField("session", j.rec.ID())
	log.Infof("uploading %s (%d bytes)", j.rec.Filename(), j.rec.Len())
	res, err := s.uploader.Upload(ctx, j.rec)
	if err != nil {
		s.metrics.incUploadFailed()
		s.fail(j.rec.ID(), err)
		return
	}
	s.metrics.incUploaded()
	text := strings.TrimSpace(res.Transcript)
	log.Infof("transcript: %q", text)
	s.recordTranscript(j.rec.ID(), text)
	s.notify(ctx, hook.Job{SessionID: j.rec.ID(), Text: text, Timestamp: time.Now()})
}

// fail surfaces err in the log, in status, and through the hook.
func (s *Server) fail(sessionID string, err error) {
	s.logger.WithField("session", sessionID).Errorf("session failed: %v", err)
	s.transcriptsMu.Lock()
	s.lastErr = err.Error()
	s.transcriptsMu.Unlock()
	s.notify(s.ctx, hook.Job{SessionID: sessionID, Err: err, Timestamp: time.Now()})
}

func (s *Server) notify(ctx context.Context, j hook.Job) {
	if !s.hook.Enabled() {
		return
	}
	if err := s.hook.Run(ctx, j); err != nil {
		s.logger.Errorf("hook: %v", err)
	}
}

func (s *Server) recordTranscript(sessionID, text string) {
	entry := control.Transcript{
		SessionID: sessionID,
		Text:      text,
		Timestamp: time.Now(),
	}
	s.transcriptsMu.Lock()
	s.lastErr = ""
	s.transcripts = append(s.transcripts, entry)
	if len(s.transcripts) > s.statusTail {
		s.transcripts = s.transcripts[len(s.transcripts)-s.statusTail:]
	}
	s.transcriptsMu.Unlock()

	if !s.cfg.Transcripts.Enabled {
		return
	}
	if err := transcripts.Append(s.cfg.Paths.TranscriptPath, transcripts.Entry{
		SessionID: sessionID,
		Text:      text,
		Timestamp: entry.Timestamp,
	}); err != nil {
		s.logger.Warnf("write transcript: %v", err)
	}
}

func (s *Server) controlLoop(ctx context.Context) {
	ln, err := net.Listen("unix", s.cfg.Paths.SocketPath)
	if err != nil {
		s.logger.Errorf("control listen: %v", err)
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Errorf("control accept: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil && ctx.Err() == nil {
			s.logger.Warnf("control connection close: %v", err)
		}
	}()
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return
	}
	var req control.Request
	if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
		return
	}
	if resp := s.handleRequest(ctx, req); resp != nil {
		_ = json.NewEncoder(conn).Encode(resp)
	}
}

func (s *Server) handleRequest(ctx context.Context, req control.Request) any {
	switch req.Op {
	case "status":
		return s.status()
	case "health":
		return control.SimpleResponse{OK: true, Message: "ok"}
	case "start":
		return s.reply(s.ctl.Start(ctx), "recording")
	case "stop":
		return s.reply(s.ctl.Stop(), "stopped, uploading")
	case "toggle":
		switch s.ctl.State() {
		case recorder.StateIdle:
			return s.reply(s.ctl.Start(ctx), "recording")
		case recorder.StateRecording:
			return s.reply(s.ctl.Stop(), "stopped, uploading")
		default:
			return s.reply(fmt.Errorf("%w: still finalizing previous recording", recorder.ErrInvalidState), "")
		}
	default:
		return control.SimpleResponse{OK: false, Message: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

// reply reports err to the caller; lifecycle errors are also logged.
func (s *Server) reply(err error, okMsg string) control.SimpleResponse {
	if err != nil {
		if !errors.Is(err, recorder.ErrInvalidState) {
			s.fail("", err)
		} else {
			s.logger.Warn(err.Error())
		}
		return control.SimpleResponse{OK: false, Message: err.Error()}
	}
	return control.SimpleResponse{OK: true, Message: okMsg}
}

func (s *Server) status() control.Status {
	s.transcriptsMu.Lock()
	out := make([]control.Transcript, len(s.transcripts))
	copy(out, s.transcripts)
	lastErr := s.lastErr
	s.transcriptsMu.Unlock()
	return control.Status{
		Running:     true,
		State:       s.ctl.State().String(),
		SessionID:   s.ctl.SessionID(),
		Device:      s.device,
		Endpoint:    endpointLabel(s.cfg),
		UptimeSec:   time.Since(s.startedAt).Seconds(),
		LastError:   lastErr,
		Transcripts: out,
	}
}

func endpointLabel(cfg *config.Config) string {
	if strings.EqualFold(cfg.Upload.Provider, "openai") {
		return "openai:" + cfg.Upload.OpenAIModel
	}
	return cfg.Upload.Endpoint
}
