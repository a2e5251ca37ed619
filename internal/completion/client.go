package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"flashdoc/internal/prompt"
)

const (
	DefaultBaseURL = "https://api.perplexity.ai"
	DefaultModel   = "sonar"
	DefaultTimeout = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// HTTPClient overrides the transport used for requests.
	HTTPClient *http.Client
}

// Client sends prompts to an OpenAI-compatible chat completion endpoint.
// Each Complete call makes exactly one attempt.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// New builds a Client. It fails with ErrMissingAPIKey when cfg.APIKey is empty
// after trimming whitespace and surrounding quotes.
func New(cfg Config) (*Client, error) {
	apiKey := CleanAPIKey(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
	}, nil
}

// CleanAPIKey trims whitespace and one pair of surrounding quote characters.
func CleanAPIKey(raw string) string {
	key := strings.TrimSpace(raw)
	key = strings.TrimPrefix(key, `"`)
	key = strings.TrimPrefix(key, `'`)
	key = strings.TrimSuffix(key, `"`)
	key = strings.TrimSuffix(key, `'`)
	return strings.TrimSpace(key)
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Complete sends p as a system+user conversation and returns the trimmed
// content of the first choice.
func (c *Client) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: p.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: p.User,
			},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindUpstream, Body: "no choices returned"}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Kind:       KindUpstream,
			StatusCode: apiErr.HTTPStatusCode,
			Status:     statusText(apiErr.HTTPStatusCode, apiErr.HTTPStatus),
			Body:       apiErr.Message,
			Err:        err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := reqErr.Error()
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &Error{
			Kind:       KindUpstream,
			StatusCode: reqErr.HTTPStatusCode,
			Status:     statusText(reqErr.HTTPStatusCode, reqErr.HTTPStatus),
			Body:       body,
			Err:        err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}

func statusText(code int, status string) string {
	if status != "" {
		return status
	}
	if code == 0 {
		return ""
	}
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}
