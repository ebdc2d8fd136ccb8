// Package upload sends an assembled recording to a transcription service
// and returns the transcript.
package upload

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"murmur/internal/config"

	"github.com/sirupsen/logrus"
)

// File is an encoded audio file ready for upload.
type File interface {
	Filename() string
	MediaType() string
	Bytes() []byte
}

// Result is a successful transcription. Summary and FileID are filled when
// the backend returns them.
type Result struct {
	Transcript string `json:"transcript"`
	Summary    string `json:"summary,omitempty"`
	FileID     string `json:"file_id,omitempty"`
}

// Uploader performs exactly one upload attempt per call.
type Uploader interface {
	Upload(ctx context.Context, f File) (*Result, error)
}

// ErrMalformedResponse matches every *MalformedResponseError.
var ErrMalformedResponse = errors.New("malformed transcription response")

// NetworkError means the request could not be sent or the connection dropped.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "upload network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-success HTTP status from the transcription service.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upload failed: http %d", e.Status)
	}
	return fmt.Sprintf("upload failed: http %d: %s", e.Status, e.Body)
}

// MalformedResponseError is a success status whose body is not JSON or has
// no transcript field.
type MalformedResponseError struct {
	Reason string
	Body   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedResponse, e.Reason)
}

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }

// New returns the uploader selected by upload.provider.
func New(cfg *config.Config, logger *logrus.Logger) (Uploader, error) {
	switch strings.ToLower(cfg.Upload.Provider) {
	case "", "endpoint":
		if cfg.Upload.Endpoint == "" {
			return nil, fmt.Errorf("upload.endpoint is not set")
		}
		return NewClient(cfg.Upload.Endpoint, cfg.Upload.Field, logger), nil
	case "openai":
		if cfg.Upload.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("upload.provider = openai needs OPENAI_API_KEY")
		}
		return NewOpenAIClient(cfg.Upload.OpenAIAPIKey, cfg.Upload.OpenAIModel, logger), nil
	default:
		return nil, fmt.Errorf("unknown upload provider %q (want endpoint or openai)", cfg.Upload.Provider)
	}
}

// LocalFile is an audio file read from disk.
type LocalFile struct {
	name      string
	mediaType string
	data      []byte
}

// OpenFile reads path and guesses the media type from its extension.
func OpenFile(path string) (*LocalFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &LocalFile{
		name:      filepath.Base(path),
		mediaType: mediaTypeFor(path),
		data:      data,
	}, nil
}

func (f *LocalFile) Filename() string  { return f.name }
func (f *LocalFile) MediaType() string { return f.mediaType }
func (f *LocalFile) Bytes() []byte     { return f.data }

var audioTypes = map[string]string{
	".webm": "audio/webm",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
}

func mediaTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := audioTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
