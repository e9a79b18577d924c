// Package gemini wraps the Gemini generateContent API behind the clinical
// operations the decision support service needs.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultModel      = "gemini-2.0-flash"
	DefaultImageModel = "gemini-2.0-flash-preview-image-generation"
)

// ErrNotConfigured is returned before any network I/O when no API key is set.
var ErrNotConfigured = errors.New("gemini: api key not configured")

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithModel(m string) Option {
	return func(c *Client) { c.model = m }
}

func WithImageModel(m string) Option {
	return func(c *Client) { c.imageModel = m }
}

// WithHTTPClient sets the HTTP client the SDK sends requests through. The
// client is used as is and never modified.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithTimeout bounds each model call. Zero leaves calls bounded only by the
// caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	imageModel string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time

	sdk    *genai.Client
	sdkErr error
}

// New builds a client. Without an API key no SDK client is created and
// every operation returns ErrNotConfigured.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		imageModel: DefaultImageModel,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.apiKey != "" {
		c.sdk, c.sdkErr = genai.NewClient(context.Background(), c.sdkConfig())
	}
	return c
}

func (c *Client) sdkConfig() *genai.ClientConfig {
	cfg := &genai.ClientConfig{
		APIKey:     c.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    c.baseURL + "/",
			APIVersion: "v1beta",
		},
	}
	if c.timeout > 0 {
		d := c.timeout
		cfg.HTTPOptions.Timeout = &d
	}
	return cfg
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Model returns the text model name, used as the analysis model version.
func (c *Client) Model() string { return c.model }

// generate sends one request to the model and returns the first candidate's
// parts.
func (c *Client) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) ([]*genai.Part, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if c.sdkErr != nil {
		return nil, fmt.Errorf("gemini client: %w", c.sdkErr)
	}

	start := c.now()
	resp, err := c.sdk.Models.GenerateContent(ctx, model, contents, cfg)
	event := c.logger.Debug().Str("model", model).Dur("latency", c.now().Sub(start))
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			event.Int("status", apiErr.Code).Msg("gemini call")
			return nil, fmt.Errorf("gemini %d %s: %s", apiErr.Code, apiErr.Status, apiErr.Message)
		}
		event.Err(err).Msg("gemini call")
		return nil, fmt.Errorf("call %s: %w", model, err)
	}
	event.Int("status", http.StatusOK).Msg("gemini call")

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("gemini returned no candidates")
	}
	return resp.Candidates[0].Content.Parts, nil
}

// generateText returns the concatenated text parts of a response.
func (c *Client) generateText(ctx context.Context, system, prompt string, jsonOut bool) (string, error) {
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0.2)}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if jsonOut {
		cfg.ResponseMIMEType = "application/json"
	}

	parts, err := c.generate(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, p := range parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("gemini returned an empty response")
	}
	return text, nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
