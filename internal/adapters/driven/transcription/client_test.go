package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/speccheck/internal/adapters/driven/apiclient"
	"github.com/custodia-labs/speccheck/internal/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	api, err := apiclient.New(apiclient.Config{Service: "transcription", BaseURL: srv.URL})
	require.NoError(t, err)
	return New(api)
}

func TestTranscribe(t *testing.T) {
	var got transcribeRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transcriptions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"title":"Cluster","chapters":[{"number":1,"title":"Scope","markdown":"# 1. Scope\n"}]}`))
	})

	src := domain.Source{Name: "spec.pdf", MimeType: "application/pdf", Content: []byte("%PDF-1.7")}
	tr, err := c.Transcribe(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, "spec.pdf", got.Name)
	assert.Equal(t, []byte("%PDF-1.7"), got.Content)
	assert.Equal(t, "Cluster", tr.Title)
	require.Len(t, tr.Chapters, 1)
	assert.Equal(t, "Scope", tr.Chapters[0].Title)
}

func TestTranscribe_FailureIsTranscriptionError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"encrypted pdf"}`))
	})

	_, err := c.Transcribe(context.Background(), domain.Source{Name: "spec.pdf"})
	var trErr *domain.TranscriptionError
	require.True(t, errors.As(err, &trErr))
	assert.Equal(t, "spec.pdf", trErr.Source)
	assert.Contains(t, err.Error(), "encrypted pdf")
}

func TestTranscriberIdentity(t *testing.T) {
	c := New(nil)
	assert.Equal(t, "remote", c.Name())
	assert.Equal(t, []string{"*/*"}, c.SupportedTypes())
	assert.Equal(t, 1, c.Priority())
}
