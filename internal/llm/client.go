package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"

	"github.com/spherical/preview-extractor/internal/domain"
	"github.com/spherical/preview-extractor/internal/observability"
)

const (
	openRouterURL = "https://openrouter.ai/api/v1/chat/completions"
	defaultModel  = "google/gemini-2.5-flash-preview-09-2025"
)

// Client transcribes page bitmaps through an OpenRouter vision model.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	retry      *RetryConfig
	logger     *observability.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithEndpoint points the client at another chat completions endpoint.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig replaces the retry policy.
func WithRetryConfig(cfg *RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the client logger.
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) { c.logger = l.WithComponent("llm") }
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice
type Choice struct {
	Delta        Delta  `json:"delta"`
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta represents a message delta in streaming response
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewClient creates a new vision client
func NewClient(apiKey, model string, opts ...Option) *Client {
	if model == "" {
		model = defaultModel
	}

	c := &Client{
		apiKey:     apiKey,
		model:      model,
		endpoint:   openRouterURL,
		httpClient: &http.Client{},
		retry:      DefaultRetryConfig(),
		logger:     observability.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recognize implements domain.Recognizer: it sends the bitmap to the model
// and returns the transcribed page text.
func (c *Client) Recognize(ctx context.Context, img image.Image) (string, error) {
	if c.apiKey == "" {
		return "", domain.ConfigError("vision API key not set", nil)
	}

	req, err := c.buildRequest(img)
	if err != nil {
		return "", domain.APIError("Failed to build request", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", domain.APIError("Failed to marshal request", err)
	}

	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("HTTP-Referer", "https://github.com/spherical/preview-extractor")
		httpReq.Header.Set("X-Title", "Preview Extractor")

		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return "", domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(bodyBytes)), nil)
	}

	return c.parseStream(resp.Body)
}

// buildRequest constructs the API request with the page bitmap inlined as
// a PNG data URL.
func (c *Client) buildRequest(img image.Image) (*Request, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	msg := Message{
		Role: "user",
		Content: []ContentPart{
			{
				Type: "text",
				Text: buildPrompt(),
			},
			{
				Type: "image_url",
				ImageURL: &ImageURL{
					URL: imageURL,
				},
			},
		},
	}

	return &Request{
		Model:    c.model,
		Messages: []Message{msg},
		Stream:   true,
	}, nil
}

func buildPrompt() string {
	return `You are an OCR engine. Transcribe all text visible on this printed page.

RULES:
- Output plain text only, in natural reading order
- Keep paragraph breaks as blank lines
- Do not describe images, layout or colors
- Do not add commentary, headings or Markdown
- If the page has no text, output nothing`
}

// parseStream collects the Server-Sent Events stream into one string.
func (c *Client) parseStream(body io.Reader) (string, error) {
	var sb strings.Builder
	parser := NewStreamParser(body)
	for {
		chunk, err := parser.Next()
		if err != nil {
			return "", domain.APIError("Failed to parse stream", err)
		}
		sb.WriteString(chunk.Content)
		if chunk.Done {
			break
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
