// Package recorder owns the capture lifecycle: it starts a capture stream,
// accumulates its chunks and assembles them into a Recording on stop.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"murmur/internal/capture"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidState is returned for Start outside Idle or Stop outside Recording.
	ErrInvalidState = errors.New("invalid recorder state")
	// ErrEmptyRecording completes a session that captured no audio.
	ErrEmptyRecording = errors.New("recording is empty")
)

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CompletionFunc receives the outcome of every session: the recording, or
// the error that ended it.
type CompletionFunc func(*Recording, error)

// Controller drives one capture device through Idle -> Recording ->
// Finalizing -> Idle. At most one session holds the device at a time.
type Controller struct {
	dev    capture.Device
	logger *logrus.Logger

	mu         sync.Mutex
	state      State
	opening    bool
	cur        *session
	onComplete CompletionFunc
}

type session struct {
	id      string
	stream  capture.Stream
	log     *logrus.Entry
	started time.Time
	stopped time.Time

	// owned by the collector goroutine until done is closed
	chunks [][]byte
	rec    *Recording
	err    error
	done   chan struct{}
}

// New returns an idle controller for dev.
func New(dev capture.Device, logger *logrus.Logger) *Controller {
	return &Controller{dev: dev, logger: logger}
}

// OnComplete registers the completion handler. It runs on the collector
// goroutine after the controller is back to Idle.
func (c *Controller) OnComplete(fn CompletionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the active session id, or "" when idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.id
}

// Done returns a channel closed when the active session has completed, or
// nil when idle.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	return c.cur.done
}

// Start opens the device and begins a new session. A failed open leaves the
// controller Idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.opening {
		c.mu.Unlock()
		return fmt.Errorf("%w: start already in progress", ErrInvalidState)
	}
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidState, st)
	}
	c.opening = true
	c.mu.Unlock()

	stream, err := c.dev.Open(ctx)

	c.mu.Lock()
	c.opening = false
	if err != nil {
		c.mu.Unlock()
		c.logger.Warnf("recorder: open %s: %v", c.dev.Name(), err)
		return fmt.Errorf("start recording: %w", err)
	}
	id := uuid.NewString()
	sess := &session{
		id:      id,
		stream:  stream,
		log:     c.logger.WithField("session", id),
		started: time.Now(),
		done:    make(chan struct{}),
	}
	c.cur = sess
	c.state = StateRecording
	c.mu.Unlock()

	sess.log.Infof("recording started on %s", c.dev.Name())
	go c.collect(sess)
	if sn, ok := stream.(capture.SilenceNotifier); ok {
		go c.watchSilence(sess, sn.Silence())
	}
	return nil
}

// Stop releases the device. The session finishes asynchronously once the
// device has flushed its last chunk; the result goes to the completion handler.
func (c *Controller) Stop() error {
	return c.stop(nil)
}

// Finish stops the active session and waits until it has settled. The
// completion handler still runs before Finish returns.
func (c *Controller) Finish(ctx context.Context) (*Recording, error) {
	c.mu.Lock()
	sess := c.cur
	c.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("%w: finish while idle", ErrInvalidState)
	}
	if err := c.stop(sess); err != nil {
		return nil, err
	}
	select {
	case <-sess.done:
		return sess.rec, sess.err
	case <-ctx.Done():
		return nil, fmt.Errorf("recording did not settle: %w", ctx.Err())
	}
}

func (c *Controller) stop(expected *session) error {
	c.mu.Lock()
	if c.state != StateRecording || (expected != nil && c.cur != expected) {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: stop while %s", ErrInvalidState, st)
	}
	sess := c.cur
	c.state = StateFinalizing
	sess.stopped = time.Now()
	c.mu.Unlock()

	sess.log.Info("recording stopped, finalizing")
	if err := sess.stream.Stop(); err != nil {
		sess.log.Warnf("release device: %v", err)
	}
	return nil
}

// collect is the only writer of sess.chunks. The stream closes its chunk
// channel after the final flush, so assembly never races a late chunk.
func (c *Controller) collect(sess *session) {
	for chunk := range sess.stream.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		sess.chunks = append(sess.chunks, chunk)
		sess.log.Debugf("chunk %d: %d bytes", len(sess.chunks), len(chunk))
	}
	c.finalize(sess)
}

func (c *Controller) finalize(sess *session) {
	c.mu.Lock()
	if c.state == StateRecording {
		// the device ended without a stop request
		c.state = StateFinalizing
		sess.stopped = time.Now()
	}
	c.mu.Unlock()

	var rec *Recording
	err := sess.stream.Err()
	if err == nil {
		rec, err = Assemble(sess.id, sess.chunks, c.dev.Format())
	} else {
		err = fmt.Errorf("capture failed: %w", err)
	}
	if rec != nil {
		rec.started = sess.started
		rec.stopped = sess.stopped
		sess.log.Infof("recording assembled: %d chunks, %d bytes, %s", rec.Chunks(), rec.Len(), rec.Duration().Round(time.Millisecond))
	} else {
		sess.log.Warnf("recording discarded: %v", err)
	}
	sess.chunks = nil
	sess.rec, sess.err = rec, err

	c.mu.Lock()
	c.state = StateIdle
	c.cur = nil
	handler := c.onComplete
	c.mu.Unlock()

	if handler != nil {
		handler(rec, err)
	}
	close(sess.done)
}

func (c *Controller) watchSilence(sess *session, silence <-chan struct{}) {
	select {
	case <-silence:
		if err := c.stop(sess); err == nil {
			sess.log.Info("auto-stop after trailing silence")
		}
	case <-sess.done:
	}
}
