package run

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"murmur/internal/recorder"
)

type metrics struct {
	recorded     atomic.Int64
	failed       atomic.Int64
	uploaded     atomic.Int64
	uploadFailed atomic.Int64
	dropped      atomic.Int64
}

func (m *metrics) reset() {
	m.recorded.Store(0)
	m.failed.Store(0)
	m.uploaded.Store(0)
	m.uploadFailed.Store(0)
	m.dropped.Store(0)
}

func (m *metrics) incRecorded()     { m.recorded.Add(1) }
func (m *metrics) incFailed()       { m.failed.Add(1) }
func (m *metrics) incUploaded()     { m.uploaded.Add(1) }
func (m *metrics) incUploadFailed() { m.uploadFailed.Add(1) }
func (m *metrics) incDropped()      { m.dropped.Add(1) }

func (s *Server) writeMetrics(w http.ResponseWriter, _ *http.Request) {
	recording := 0
	if s.ctl.State() != recorder.StateIdle {
		recording = 1
	}
	fmt.Fprintf(w, "murmur_recording %d\n", recording)
	fmt.Fprintf(w, "murmur_recordings_total %d\n", s.metrics.recorded.Load())
	fmt.Fprintf(w, "murmur_recordings_failed_total %d\n", s.metrics.failed.Load())
	fmt.Fprintf(w, "murmur_uploads_total %d\n", s.metrics.uploaded.Load())
	fmt.Fprintf(w, "murmur_uploads_failed_total %d\n", s.metrics.uploadFailed.Load())
	fmt.Fprintf(w, "murmur_uploads_dropped_total %d\n", s.metrics.dropped.Load())
}

func (s *Server) metricsServe(ctxDone <-chan struct{}, addr string, logger interface {
	Infof(string, ...any)
	Warnf(string, ...any)
}) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.writeMetrics)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		<-ctxDone
		_ = server.Close()
	}()
	logger.Infof("metrics listening on http://%s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warnf("metrics server: %v", err)
	}
}
