package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"murmur/internal/capture"
	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/recorder"

	"github.com/sashabaranov/go-openai"
)

func testRecording(t *testing.T) *recorder.Recording {
	t.Helper()
	rec, err := recorder.Assemble("sess", [][]byte{[]byte("webm-"), []byte("bytes")}, capture.WebM)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return rec
}

func stub(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUploadSendsMultipartFile(t *testing.T) {
	var (
		gotField, gotName, gotType, gotData, gotMethod string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "no file: "+err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotField = "file"
		gotName = header.Filename
		gotType = header.Header.Get("Content-Type")
		gotData = string(data)
		_, _ = io.WriteString(w, `{"transcript":"hello","summary":"greeting","file_id":"f-1"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/upload", "", logging.NewTestLogger())
	res, err := c.Upload(context.Background(), testRecording(t))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotMethod != http.MethodPost || gotField != "file" {
		t.Fatalf("method=%s field=%s", gotMethod, gotField)
	}
	if gotName != "recording.webm" || gotType != "audio/webm" {
		t.Fatalf("part filename=%q type=%q", gotName, gotType)
	}
	if gotData != "webm-bytes" {
		t.Fatalf("part data = %q", gotData)
	}
	if res.Transcript != "hello" || res.Summary != "greeting" || res.FileID != "f-1" {
		t.Fatalf("result = %+v", res)
	}
}

func TestUploadResults(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		transcript string
		check      func(error) bool
	}{
		{
			name: "success", status: 200, body: `{"transcript": "hello"}`, transcript: "hello",
		},
		{
			name: "empty transcript is still a transcript", status: 200, body: `{"transcript": ""}`, transcript: "",
		},
		{
			name: "server error", status: 500, body: `{"error":"boom"}`,
			check: func(err error) bool {
				var se *ServerError
				return errors.As(err, &se) && se.Status == 500
			},
		},
		{
			name: "missing transcript", status: 200, body: `{}`,
			check: func(err error) bool { return errors.Is(err, ErrMalformedResponse) },
		},
		{
			name: "not json", status: 200, body: `<html>proxy error</html>`,
			check: func(err error) bool { return errors.Is(err, ErrMalformedResponse) },
		},
		{
			name: "transcript wrong type", status: 200, body: `{"transcript": 42}`,
			check: func(err error) bool { return errors.Is(err, ErrMalformedResponse) },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := stub(t, tc.status, tc.body)
			c := NewClient(srv.URL, "file", logging.NewTestLogger())
			res, err := c.Upload(context.Background(), testRecording(t))
			if tc.check == nil {
				if err != nil {
					t.Fatalf("upload: %v", err)
				}
				if res.Transcript != tc.transcript {
					t.Fatalf("transcript = %q", res.Transcript)
				}
				return
			}
			if res != nil || !tc.check(err) {
				t.Fatalf("unexpected result %+v / %v", res, err)
			}
		})
	}
}

func TestUploadNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "file", logging.NewTestLogger())
	_, err := c.Upload(context.Background(), testRecording(t))
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("want NetworkError, got %v", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	cfg := testConfig(t)
	u, err := New(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := u.(*Client); !ok {
		t.Fatalf("default provider = %T", u)
	}

	cfg.Upload.Provider = "openai"
	if _, err := New(cfg, logging.NewTestLogger()); err == nil {
		t.Fatalf("openai without key should fail")
	}
	cfg.Upload.OpenAIAPIKey = "sk-test"
	u, err = New(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("new openai: %v", err)
	}
	if _, ok := u.(*OpenAIClient); !ok {
		t.Fatalf("openai provider = %T", u)
	}

	cfg.Upload.Provider = "carrier-pigeon"
	if _, err := New(cfg, logging.NewTestLogger()); err == nil {
		t.Fatalf("unknown provider should fail")
	}
}

func TestOpenFileGuessesMediaType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if f.Filename() != "memo.wav" || f.MediaType() != "audio/wav" || string(f.Bytes()) != "RIFF" {
		t.Fatalf("file = %s %s %q", f.Filename(), f.MediaType(), f.Bytes())
	}
}

func TestOpenAIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if r.FormValue("model") == "fail" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "recording.webm" {
			http.Error(w, "bad filename "+header.Filename, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"hola"}`)
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"

	c := newOpenAIClient(cfg, "", logging.NewTestLogger())
	res, err := c.Upload(context.Background(), testRecording(t))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Transcript != "hola" {
		t.Fatalf("transcript = %q", res.Transcript)
	}

	c = newOpenAIClient(cfg, "fail", logging.NewTestLogger())
	_, err = c.Upload(context.Background(), testRecording(t))
	var se *ServerError
	if !errors.As(err, &se) || se.Status != 500 {
		t.Fatalf("want ServerError 500, got %v", err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	return cfg
}
