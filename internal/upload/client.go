package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/sirupsen/logrus"
)

const maxErrorBody = 512

// Client posts recordings as multipart/form-data to a fixed endpoint.
// There is no client-side timeout and no retry; cancel ctx to abandon.
type Client struct {
	endpoint string
	field    string
	http     *http.Client
	logger   *logrus.Logger
}

// NewClient returns a client for endpoint. An empty field means "file".
func NewClient(endpoint, field string, logger *logrus.Logger) *Client {
	if field == "" {
		field = "file"
	}
	return &Client{
		endpoint: endpoint,
		field:    field,
		http:     &http.Client{},
		logger:   logger,
	}
}

// Endpoint returns the upload URL.
func (c *Client) Endpoint() string { return c.endpoint }

type transcriptResponse struct {
	Transcript *string `json:"transcript"`
	Summary    string  `json:"summary"`
	FileID     string  `json:"file_id"`
}

func (c *Client) Upload(ctx context.Context, f File) (*Result, error) {
	body, contentType, err := c.encode(f)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	c.logger.Debugf("upload: POST %s (%s, %d bytes)", c.endpoint, f.Filename(), len(f.Bytes()))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServerError{Status: resp.StatusCode, Body: truncate(strings.TrimSpace(string(data)))}
	}

	var tr transcriptResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("decode json: %v", err), Body: truncate(string(data))}
	}
	if tr.Transcript == nil {
		return nil, &MalformedResponseError{Reason: "missing transcript field", Body: truncate(string(data))}
	}
	return &Result{Transcript: *tr.Transcript, Summary: tr.Summary, FileID: tr.FileID}, nil
}

// encode builds the multipart body with one file part. CreateFormFile would
// label the part application/octet-stream, so the header is written by hand.
func (c *Client) encode(f File) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(c.field), escapeQuotes(f.Filename())))
	h.Set("Content-Type", f.MediaType())
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Bytes()); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
