// Package gemini implements a structured-output client for the Gemini
// generateContent endpoint. Responses are constrained by a Schema and
// transient transport failures are retried with exponential backoff.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel       = "gemini-2.5-flash-preview-09-2025"
	defaultTimeout     = 60 * time.Second
	defaultMaxAttempts = 5
	defaultBackoffBase = time.Second
	maxResponseSize    = 10 << 20
)

var (
	// ErrNoCredential is returned before any network call when no API key is configured.
	ErrNoCredential = errors.New("gemini: API key is not configured")
	// ErrUnavailable is returned once every attempt failed at the transport level.
	ErrUnavailable = errors.New("gemini: AI service unreachable")
	// ErrEmptyResponse is returned when a 2xx response carries no text payload.
	ErrEmptyResponse = errors.New("gemini: response has no text content")
	// ErrMalformedOutput matches MalformedOutputError.
	ErrMalformedOutput = errors.New("gemini: malformed AI output")
)

// MalformedOutputError carries the raw text of a payload that did not
// decode into the requested structure.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed AI output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() []error {
	return []error{ErrMalformedOutput, e.Err}
}

// Request is one structured generation call.
type Request struct {
	System      string
	Prompt      string
	Schema      *Schema
	Temperature *float64
}

// Temperature is a helper for setting Request.Temperature.
func Temperature(t float64) *float64 { return &t }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string   `json:"responseMimeType"`
	ResponseSchema   *Schema  `json:"responseSchema,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
}

// generateRequest is the JSON body for POST /models/{model}:generateContent.
type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

// generateResponse mirrors the part of the response envelope we read.
type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// statusError is returned for non-2xx responses and is retried.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoffBase sets the unit of the 2^attempt backoff.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to the Gemini generateContent API.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
	httpClient  *http.Client
	logger      *slog.Logger

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client using apiKey. An empty key is allowed; every
// call then fails with ErrNoCredential.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		httpClient:  &http.Client{},
		logger:      slog.Default(),
		sleep:       sleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HasCredential reports whether an API key is configured.
func (c *Client) HasCredential() bool {
	return c != nil && c.apiKey != ""
}

// Generate sends req and returns the raw text of the first candidate. The
// text is expected to be JSON conforming to req.Schema; decoding is left to
// the caller (see GenerateJSON).
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if !c.HasCredential() {
		return "", ErrNoCredential
	}

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range c.maxAttempts {
		text, err := c.doGenerate(ctx, body)
		if err == nil {
			return text, nil
		}
		if !isRetryable(err) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if attempt < c.maxAttempts-1 {
			wait := time.Duration(float64(c.backoffBase) * math.Pow(2, float64(attempt)))
			c.logger.Warn("gemini request failed, retrying",
				"attempt", attempt+1,
				"max_attempts", c.maxAttempts,
				"wait", wait,
				"error", err,
			)
			if err := c.sleep(ctx, wait); err != nil {
				return "", err
			}
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, c.maxAttempts, lastErr)
}

// GenerateJSON calls Generate and decodes the payload into v. A payload that
// is not valid JSON for v yields a *MalformedOutputError and is not retried.
func (c *Client) GenerateJSON(ctx context.Context, req Request, v any) (string, error) {
	raw, err := c.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return raw, &MalformedOutputError{Raw: raw, Err: err}
	}
	return raw, nil
}

func buildRequest(req Request) generateRequest {
	gr := generateRequest{
		Contents: []content{{Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   req.Schema,
			Temperature:      req.Temperature,
		},
	}
	if req.System != "" {
		gr.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	return gr
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
}

func (c *Client) doGenerate(ctx context.Context, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &transportError{err: redactKey(err, c.apiKey)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &transportError{err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{status: resp.StatusCode, body: truncate(string(respBody), 300)}
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("%w: decoding envelope: %v", ErrEmptyResponse, err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	text := result.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// transportError wraps connection failures and timeouts.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var te *transportError
	var se *statusError
	return errors.As(err, &te) || errors.As(err, &se)
}

// redactKey strips the API key from errors that embed the request URL.
func redactKey(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), url.QueryEscape(key)) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED"))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
