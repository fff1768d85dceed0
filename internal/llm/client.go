package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mira/internal/logging"
)

// ErrEmptyContent reports that the upstream answered successfully but neither
// envelope shape carried usable text. Callers treat it like any other stage
// failure, but it is kept distinct from transport errors for logging.
var ErrEmptyContent = errors.New("ollama response contained no content")

// Message is one chat-style turn sent to the upstream model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client issues synchronous requests against an Ollama-compatible server.
// It is stateless and safe for concurrent use; the underlying HTTP client
// reuses connections across calls.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient builds a client for the given base URL. The "/api" suffix is
// appended when missing so both "http://host:11434" and "http://host:11434/api"
// are accepted.
func NewClient(baseURL string, logger logging.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434/api"
	}
	if !strings.HasSuffix(baseURL, "/api") {
		baseURL = baseURL + "/api"
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logging.OrNop(logger),
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

// envelope covers both response shapes the upstream is known to produce:
// chat-style {"message":{"content":...}} and generate-style {"response":...}.
type envelope struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Response string `json:"response"`
	Error    string `json:"error"`
}

// text normalizes the envelope into its extracted content, preferring the
// chat shape. An empty string means no usable content was present.
func (e envelope) text() string {
	if content := strings.TrimSpace(e.Message.Content); content != "" {
		return content
	}
	return strings.TrimSpace(e.Response)
}

// Chat sends one non-streaming chat completion request. Exactly one attempt
// is made; timeout bounds the whole call. The elapsed wall-clock time is
// returned even when the call fails.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, timeout time.Duration) (string, time.Duration, error) {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return "", 0, fmt.Errorf("marshal chat request: %w", err)
	}
	return c.call(ctx, "/chat", body, timeout)
}

// Generate sends one non-streaming generate request carrying a base64 image,
// used for vision models. Semantics match Chat.
func (c *Client) Generate(ctx context.Context, model, prompt, imageB64 string, timeout time.Duration) (string, time.Duration, error) {
	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		Images: []string{imageB64},
		Stream: false,
	})
	if err != nil {
		return "", 0, fmt.Errorf("marshal generate request: %w", err)
	}
	return c.call(ctx, "/generate", body, timeout)
}

func (c *Client) call(ctx context.Context, path string, body []byte, timeout time.Duration) (string, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	text, err := c.doRequest(ctx, path, body)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Warn("ollama %s failed after %v: %v", path, elapsed, err)
	}
	return text, elapsed, err
}

func (c *Client) doRequest(ctx context.Context, path string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama request failed: %s", strings.TrimSpace(string(raw)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if env.Error != "" {
		return "", fmt.Errorf("ollama error: %s", env.Error)
	}

	text := env.text()
	if text == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}
