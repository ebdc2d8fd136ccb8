package upload

import (
	"bytes"
	"context"
	"errors"
	"net/url"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIClient sends recordings straight to OpenAI's transcription API
// instead of a self-hosted endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *logrus.Logger
}

// NewOpenAIClient returns a client using apiKey. An empty model means whisper-1.
func NewOpenAIClient(apiKey, model string, logger *logrus.Logger) *OpenAIClient {
	return newOpenAIClient(openai.DefaultConfig(apiKey), model, logger)
}

func newOpenAIClient(cfg openai.ClientConfig, model string, logger *logrus.Logger) *OpenAIClient {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

func (c *OpenAIClient) Upload(ctx context.Context, f File) (*Result, error) {
	c.logger.Debugf("upload: openai %s (%s, %d bytes)", c.model, f.Filename(), len(f.Bytes()))
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: f.Filename(),
		Reader:   bytes.NewReader(f.Bytes()),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	return &Result{Transcript: resp.Text}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ServerError{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &ServerError{Status: reqErr.HTTPStatusCode, Body: reqErr.HTTPStatus}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Err: err}
	}
	return &MalformedResponseError{Reason: err.Error()}
}
