package recorder

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"murmur/internal/capture"
	"murmur/internal/logging"
)

type fakeDevice struct {
	mu      sync.Mutex
	openErr error
	late    [][]byte
	streams []*fakeStream
}

func (d *fakeDevice) Name() string           { return "fake" }
func (d *fakeDevice) Format() capture.Format { return capture.WebM }

func (d *fakeDevice) Open(ctx context.Context) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &fakeStream{
		ch:      make(chan []byte, 16),
		silence: make(chan struct{}),
		late:    d.late,
	}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

type fakeStream struct {
	ch      chan []byte
	silence chan struct{}
	late    [][]byte
	once    sync.Once
	stops   int
	err     error
}

func (s *fakeStream) Chunks() <-chan []byte    { return s.ch }
func (s *fakeStream) Silence() <-chan struct{} { return s.silence }
func (s *fakeStream) Err() error               { return s.err }

func (s *fakeStream) Stop() error {
	s.once.Do(func() {
		s.stops++
		// chunks produced before release may still be in flight
		go func() {
			for _, c := range s.late {
				s.ch <- c
			}
			close(s.ch)
		}()
	})
	return nil
}

func (s *fakeStream) send(chunks ...string) {
	for _, c := range chunks {
		s.ch <- []byte(c)
	}
}

type result struct {
	rec *Recording
	err error
}

func newController(dev *fakeDevice) (*Controller, chan result) {
	c := New(dev, logging.NewTestLogger())
	results := make(chan result, 4)
	c.OnComplete(func(rec *Recording, err error) {
		results <- result{rec, err}
	})
	return c, results
}

func wait(t *testing.T, results chan result) result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not complete")
		return result{}
	}
}

func TestRecordingConcatenatesNonEmptyChunksInOrder(t *testing.T) {
	dev := &fakeDevice{}
	c, results := newController(dev)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != StateRecording {
		t.Fatalf("state = %s", c.State())
	}
	dev.last().send("ab", "", "cd", "e")
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	r := wait(t, results)
	if r.err != nil {
		t.Fatalf("completion error: %v", r.err)
	}
	if got := string(r.rec.Bytes()); got != "abcde" {
		t.Fatalf("data = %q", got)
	}
	if r.rec.Chunks() != 3 {
		t.Fatalf("chunks = %d, want 3", r.rec.Chunks())
	}
	if r.rec.Filename() != "recording.webm" || r.rec.MediaType() != "audio/webm" {
		t.Fatalf("file = %s (%s)", r.rec.Filename(), r.rec.MediaType())
	}
	if r.rec.ID() == "" {
		t.Fatalf("missing session id")
	}
	if c.State() != StateIdle {
		t.Fatalf("state after completion = %s", c.State())
	}
}

func TestChunksFlushedAfterStopAreIncluded(t *testing.T) {
	dev := &fakeDevice{late: [][]byte{[]byte("-tail")}}
	c, results := newController(dev)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	dev.last().send("head")
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	r := wait(t, results)
	if r.err != nil || string(r.rec.Bytes()) != "head-tail" {
		t.Fatalf("got %v / %v", r.rec, r.err)
	}
}

func TestStopWithoutChunksIsEmptyRecording(t *testing.T) {
	dev := &fakeDevice{}
	c, results := newController(dev)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	dev.last().send("", "")
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	r := wait(t, results)
	if !errors.Is(r.err, ErrEmptyRecording) || r.rec != nil {
		t.Fatalf("want ErrEmptyRecording, got %v / %v", r.rec, r.err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s", c.State())
	}
}

func TestStartWhileRecordingIsRejected(t *testing.T) {
	dev := &fakeDevice{}
	c, results := newController(dev)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	id := c.SessionID()
	dev.last().send("a")

	if err := c.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second start: want ErrInvalidState, got %v", err)
	}
	if dev.opened() != 1 {
		t.Fatalf("device opened %d times", dev.opened())
	}
	if c.SessionID() != id || c.State() != StateRecording {
		t.Fatalf("session replaced: %s %s", c.SessionID(), c.State())
	}

	dev.last().send("b")
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	r := wait(t, results)
	if r.err != nil || string(r.rec.Bytes()) != "ab" {
		t.Fatalf("got %v / %v", r.rec, r.err)
	}
}

func TestStopOutsideRecordingIsInvalid(t *testing.T) {
	dev := &fakeDevice{}
	c, results := newController(dev)
	if err := c.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("stop while idle: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	dev.last().send("x")
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second stop: %v", err)
	}
	wait(t, results)
	if dev.last().stops != 1 {
		t.Fatalf("device released %d times", dev.last().stops)
	}
}

func TestStartFailureLeavesIdle(t *testing.T) {
	for _, openErr := range []error{capture.ErrPermissionDenied, capture.ErrDeviceUnavailable} {
		dev := &fakeDevice{openErr: openErr}
		c, _ := newController(dev)
		err := c.Start(context.Background())
		if !errors.Is(err, openErr) {
			t.Fatalf("want %v, got %v", openErr, err)
		}
		if c.State() != StateIdle || c.SessionID() != "" {
			t.Fatalf("state after failed start = %s", c.State())
		}

		dev.mu.Lock()
		dev.openErr = nil
		dev.mu.Unlock()
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("start after recovery: %v", err)
		}
	}
}

func TestCaptureFailureCompletesWithError(t *testing.T) {
	dev := &fakeDevice{}
	c, results := newController(dev)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s := dev.last()
	s.send("partial")
	s.err = errors.New("device unplugged")
	close(s.ch)

	r := wait(t, results)
	if r.err == nil || r.rec != nil {
		t.Fatalf("want capture error, got %v / %v", r.rec, r.err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s", c.State())
	}
}

func TestSilenceStopsSession(t *testing.T) {
	dev := &fakeDevice{}
	c, results := newController(dev)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s := dev.last()
	s.send("speech")
	close(s.silence)

	r := wait(t, results)
	if r.err != nil || string(r.rec.Bytes()) != "speech" {
		t.Fatalf("got %v / %v", r.rec, r.err)
	}
	if s.stops != 1 {
		t.Fatalf("device released %d times", s.stops)
	}
}

func TestDoneClosesAfterCompletion(t *testing.T) {
	dev := &fakeDevice{}
	c, results := newController(dev)
	if c.Done() != nil {
		t.Fatalf("idle controller should have no done channel")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := c.Done()
	dev.last().send("x")
	_ = c.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("done not closed")
	}
	wait(t, results)
}

func TestAssembleIsIdempotent(t *testing.T) {
	chunks := [][]byte{[]byte("one"), nil, []byte("two"), {}, []byte("three")}
	a, err := Assemble("id", chunks, capture.WAV)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	b, err := Assemble("id", chunks, capture.WAV)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) || string(a.Bytes()) != "onetwothree" {
		t.Fatalf("not identical: %q vs %q", a.Bytes(), b.Bytes())
	}
	if a.Filename() != "recording.wav" || a.MediaType() != "audio/wav" {
		t.Fatalf("file = %s (%s)", a.Filename(), a.MediaType())
	}
	if _, err := Assemble("id", [][]byte{nil, {}}, capture.WAV); !errors.Is(err, ErrEmptyRecording) {
		t.Fatalf("want ErrEmptyRecording, got %v", err)
	}
}

func TestRecordingBytesIsACopy(t *testing.T) {
	rec, err := Assemble("id", [][]byte{[]byte("abc")}, capture.WebM)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	b := rec.Bytes()
	b[0] = 'z'
	if string(rec.Bytes()) != "abc" {
		t.Fatalf("recording mutated through Bytes()")
	}
}

func TestFinishWaitsForLateChunks(t *testing.T) {
	dev := &fakeDevice{late: [][]byte{[]byte("-tail")}}
	c, results := newController(dev)
	if _, err := c.Finish(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("finish while idle: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	dev.last().send("head")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec, err := c.Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if string(rec.Bytes()) != "head-tail" {
		t.Fatalf("data = %q", rec.Bytes())
	}
	if c.State() != StateIdle {
		t.Fatalf("state after finish = %s", c.State())
	}
	// the handler still sees the same outcome
	if r := wait(t, results); r.rec != rec {
		t.Fatalf("handler got a different recording")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:       "idle",
		StateRecording:  "recording",
		StateFinalizing: "finalizing",
		State(9):        "state(9)",
	}
	for st, want := range cases {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(st), got, want)
		}
	}
}
