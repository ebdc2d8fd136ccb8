package recorder

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"murmur/internal/capture"
)

const baseFilename = "recording"

// Recording is the assembled audio of one finished session. It is immutable:
// accessors hand out copies or read-only views.
type Recording struct {
	id      string
	data    []byte
	format  capture.Format
	chunks  int
	started time.Time
	stopped time.Time
}

// Assemble concatenates the non-empty chunks in order. It fails with
// ErrEmptyRecording when nothing was captured. Assembling the same chunks
// twice yields identical bytes.
func Assemble(id string, chunks [][]byte, format capture.Format) (*Recording, error) {
	kept := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		if len(c) > 0 {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil, ErrEmptyRecording
	}
	return &Recording{
		id:     id,
		data:   bytes.Join(kept, nil),
		format: format,
		chunks: len(kept),
	}, nil
}

func (r *Recording) ID() string        { return r.id }
func (r *Recording) MediaType() string { return r.format.MediaType }
func (r *Recording) Filename() string  { return baseFilename + r.format.Extension }
func (r *Recording) Len() int          { return len(r.data) }
func (r *Recording) Chunks() int       { return r.chunks }

// Bytes returns a copy of the encoded audio.
func (r *Recording) Bytes() []byte {
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

// Reader returns a reader over the encoded audio.
func (r *Recording) Reader() io.Reader {
	return bytes.NewReader(r.data)
}

// Duration is the wall time between start and stop.
func (r *Recording) Duration() time.Duration {
	if r.started.IsZero() || r.stopped.IsZero() {
		return 0
	}
	return r.stopped.Sub(r.started)
}

// Save writes the audio to path, creating parent directories.
func (r *Recording) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, r.data, 0o644)
}
