// Package client calls the cdss HTTP API. It backs the assess command.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/cdss/cdss/internal/domain/cases"
	"github.com/cdss/cdss/internal/domain/cds"
	"github.com/cdss/cdss/internal/domain/medical"
)

const DefaultBaseURL = "http://localhost:8000"

// APIError is a non-2xx reply. Code is set for the analyze and extract
// envelopes; Message is the server's public message.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: &http.Client{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// do sends body as JSON and returns the status and raw reply.
func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		// An Idempotency-Key header lets net/http replay a POST on a dead
		// keep-alive connection. Without GetBody the request goes out once.
		req.GetBody = nil
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// plainError decodes the {"message"} or {"error"} bodies of the non-envelope
// routes.
func plainError(status int, raw []byte) *APIError {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(raw, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}

func envelopeError(status int, e *cds.ErrorBody) *APIError {
	if e == nil {
		return &APIError{StatusCode: status, Message: "Analysis failed"}
	}
	return &APIError{StatusCode: status, Code: e.Code, Message: e.Message}
}

// Analyze implements assessment.Analyzer.
func (c *Client) Analyze(ctx context.Context, req *cds.AnalyzeRequest) (*medical.DiagnosticAnalysis, error) {
	status, raw, err := c.do(ctx, http.MethodPost, "/api/analyze", req, nil)
	if err != nil {
		return nil, err
	}
	var resp cds.AnalyzeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, plainError(status, raw)
	}
	if !resp.Success || resp.Analysis == nil {
		return nil, envelopeError(status, resp.Error)
	}
	return resp.Analysis, nil
}

// ExtractSymptoms implements assessment.SymptomExtractor.
func (c *Client) ExtractSymptoms(ctx context.Context, text string) ([]medical.Symptom, error) {
	status, raw, err := c.do(ctx, http.MethodPost, "/api/extract-symptoms", cds.ExtractRequest{Text: text}, nil)
	if err != nil {
		return nil, err
	}
	var resp cds.ExtractResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, plainError(status, raw)
	}
	if !resp.Success {
		return nil, envelopeError(status, resp.Error)
	}
	return resp.Symptoms, nil
}

// SaveCase implements assessment.CaseSaver. Each call carries a fresh
// Idempotency-Key and is sent exactly once; a transport error is returned
// as is and retrying is left to the caller.
func (c *Client) SaveCase(ctx context.Context, b *cases.Bundle) (string, error) {
	headers := map[string]string{cases.IdempotencyHeader: uuid.NewString()}
	status, raw, err := c.do(ctx, http.MethodPost, "/api/cases", b, headers)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", plainError(status, raw)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.ID == "" {
		return "", fmt.Errorf("decode save response: unexpected body %q", raw)
	}
	return resp.ID, nil
}

// RecentCases lists the latest saved cases.
func (c *Client) RecentCases(ctx context.Context, limit int) ([]*cases.SavedCase, error) {
	status, raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/cases?limit=%d", limit), nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, plainError(status, raw)
	}
	var out []*cases.SavedCase
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode cases: %w", err)
	}
	return out, nil
}

// Health reports whether the server answers /health with 200.
func (c *Client) Health(ctx context.Context) error {
	status, raw, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return plainError(status, raw)
	}
	return nil
}
