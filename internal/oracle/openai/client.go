package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vriksha-code/verisure/internal/oracle"
	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

const defaultModel = "gpt-4o-mini"

// apiURL is a var so tests can point the client at an httptest server.
var apiURL = "https://api.openai.com/v1/chat/completions"

// Client implements oracle.Client using OpenAI Chat Completions with image input.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient constructs a new OpenAI client. The HTTP timeout is a backstop;
// callers bound each call with oracle.WithTimeout.
func NewClient(apiKey, model string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = oracle.DefaultTimeout
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout + 5*time.Second,
		},
	}, nil
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float32       `json:"temperature,omitempty"`
	ResponseFormat responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Verify sends the document image and instructions in one request.
func (c *Client) Verify(ctx context.Context, req oracle.Request) (oracle.Verdict, error) {
	if strings.TrimSpace(req.Payload) == "" {
		return oracle.Verdict{}, oracle.Errorf(oracle.KindInternal, "empty payload")
	}

	temp := float32(0)
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: oracle.BuildPrompt(req.DocumentType, req.Task)},
				{Type: "image_url", ImageURL: &imageURL{URL: req.Payload, Detail: "high"}},
			},
		}},
		Temperature:    &temp,
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return oracle.Verdict{}, &oracle.Error{Kind: oracle.KindInternal, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return oracle.Verdict{}, &oracle.Error{Kind: oracle.KindInternal, Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return oracle.Verdict{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return oracle.Verdict{}, classifyTransport(err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return oracle.Verdict{}, oracle.Errorf(oracle.KindTransport, "openai http status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return oracle.Verdict{}, oracle.Errorf(oracle.KindMalformed, "openai response parse: %w", err)
	}
	if parsed.Error != nil {
		return oracle.Verdict{}, oracle.Errorf(oracle.KindInternal, "openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if resp.StatusCode >= 400 {
		return oracle.Verdict{}, oracle.Errorf(oracle.KindInternal, "openai http status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return oracle.Verdict{}, oracle.Errorf(oracle.KindMalformed, "openai response missing choices")
	}
	logUsage(c.model, parsed)

	return oracle.ParseVerdict(parsed.Choices[0].Message.Content)
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
		return &oracle.Error{Kind: oracle.KindTimeout, Err: fmt.Errorf("openai request timeout: %w", err)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &oracle.Error{Kind: oracle.KindTimeout, Err: fmt.Errorf("openai request timeout: %w", err)}
	}
	if errors.Is(err, context.Canceled) {
		return &oracle.Error{Kind: oracle.KindInternal, Err: err}
	}
	return &oracle.Error{Kind: oracle.KindTransport, Err: err}
}

func logUsage(model string, resp chatResponse) {
	fields := map[string]any{
		"provider":       "openai",
		"model":          model,
		"prompt_version": oracle.PromptVersion,
	}
	if resp.Usage != nil {
		fields["prompt_tokens"] = resp.Usage.PromptTokens
		fields["completion_tokens"] = resp.Usage.CompletionTokens
		fields["total_tokens"] = resp.Usage.TotalTokens
	}
	telemetry.Info("oracle.usage", fields)
}

var _ oracle.Client = (*Client)(nil)
