// Package apiclient is the JSON-over-HTTP client shared by the reasoning,
// evaluation and transcription adapters. It signs requests, classifies
// failures as transient or permanent and records call metrics.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/metrics"
)

// maxErrorBody bounds how much of an error response ends up in messages.
const maxErrorBody = 512

// tokenLifetime is how long a signed bearer token stays valid.
const tokenLifetime = 5 * time.Minute

// Config configures a Client.
type Config struct {
	// Service names the remote service in logs, metrics and token subjects
	Service string

	BaseURL string

	// SigningSecret enables HS256 JWT bearer tokens
	SigningSecret string

	// Issuer is the iss claim of signed tokens (default "speccheck")
	Issuer string

	// APIKey is sent as a static bearer token when no SigningSecret is set
	APIKey string

	// Timeout bounds one HTTP round trip (default 60s)
	Timeout time.Duration

	// HTTPClient overrides the default client (tests)
	HTTPClient *http.Client

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Client sends JSON requests to one service.
type Client struct {
	service    string
	baseURL    *url.URL
	secret     []byte
	issuer     string
	apiKey     string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New validates cfg and creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s base url is required", domain.ErrInvalidInput, cfg.Service)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: bad %s base url %q", domain.ErrInvalidInput, cfg.Service, cfg.BaseURL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "speccheck"
	}

	return &Client{
		service:    cfg.Service,
		baseURL:    base,
		secret:     []byte(cfg.SigningSecret),
		issuer:     issuer,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		metrics:    cfg.Metrics,
		logger:     logger.With("service", cfg.Service),
	}, nil
}

// Do sends body as JSON to method path?query and decodes the response into out.
// out may be nil. Failures are returned as *domain.ExternalServiceError unless
// the context ended.
func (c *Client) Do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	start := time.Now()
	err := c.do(ctx, op, method, path, query, body, out)
	c.metrics.RecordServiceCall(c.service, op, err, time.Since(start))
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth, err := c.authorization()
	if err != nil {
		return err
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	c.logger.Debug("service request", "operation", op, "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &domain.ExternalServiceError{
			Op:        op,
			Transient: true,
			Err:       fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.ExternalServiceError{Op: op, StatusCode: resp.StatusCode, Transient: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("service error response", "operation", op, "status", resp.StatusCode)
		return classify(op, resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &domain.ExternalServiceError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to unmarshal response: %w", err),
		}
	}
	return nil
}

// classify maps an HTTP error status to a service error. 5xx, 408 and 429 are
// transient; everything else is permanent. 404 wraps domain.ErrNotFound.
func classify(op string, status int, body []byte) error {
	msg := errorMessage(body)
	var inner error
	switch {
	case status == http.StatusNotFound:
		inner = fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case status >= 500:
		inner = fmt.Errorf("%w: %s", domain.ErrServiceUnavailable, msg)
	default:
		inner = errors.New(msg)
	}
	return &domain.ExternalServiceError{
		Op:         op,
		StatusCode: status,
		Transient:  status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout,
		Err:        inner,
	}
}

// errorMessage prefers a JSON {"error": "..."} or {"message": "..."} field.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}

func (c *Client) authorization() (string, error) {
	if len(c.secret) == 0 {
		if c.apiKey == "" {
			return "", nil
		}
		return "Bearer " + c.apiKey, nil
	}

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	now := time.Now()
	if c.token != "" && now.Add(30*time.Second).Before(c.tokenExpiry) {
		return "Bearer " + c.token, nil
	}

	expiry := now.Add(tokenLifetime)
	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   c.service,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", c.service, err)
	}
	c.token = token
	c.tokenExpiry = expiry
	return "Bearer " + token, nil
}
