// Package transcription is the HTTP adapter for the remote document
// transcription service, used for formats no local transcriber reads.
package transcription

import (
	"context"
	"net/http"

	"github.com/custodia-labs/speccheck/internal/adapters/driven/apiclient"
	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.Transcriber = (*Client)(nil)

// Client posts the raw document to POST /v1/transcriptions and receives the
// chaptered markdown transcript.
type Client struct {
	api *apiclient.Client
}

// New creates a transcription client on top of an API client.
func New(api *apiclient.Client) *Client {
	return &Client{api: api}
}

type transcribeRequest struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Content  []byte `json:"content"`
}

func (c *Client) Transcribe(ctx context.Context, src domain.Source) (*domain.Transcript, error) {
	req := transcribeRequest{Name: src.Name, MimeType: src.MimeType, Content: src.Content}
	var t domain.Transcript
	if err := c.api.Do(ctx, "transcribe", http.MethodPost, "/v1/transcriptions", nil, req, &t); err != nil {
		return nil, &domain.TranscriptionError{Source: src.Name, Err: err}
	}
	return &t, nil
}

func (c *Client) Name() string { return "remote" }

// SupportedTypes accepts anything; local transcribers win on priority.
func (c *Client) SupportedTypes() []string { return []string{"*/*"} }

func (c *Client) Priority() int { return 1 }
