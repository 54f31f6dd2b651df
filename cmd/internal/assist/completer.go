// Package assist integrates an external completion provider into the
// realtime surface. The provider is optional: when unconfigured the Disabled
// implementation answers every prompt with a capability error.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrDisabled is returned when no completion provider is configured.
var ErrDisabled = errors.New("assist: no completion provider configured")

// Completer answers free-form prompts.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Disabled is the no-provider Completer.
type Disabled struct{}

// Complete always fails with ErrDisabled.
func (Disabled) Complete(context.Context, string) (string, error) {
	return "", ErrDisabled
}

const (
	defaultTimeout   = 30 * time.Second
	defaultModel     = "gpt-4o-mini"
	maxResponseBytes = 1 << 20 // 1 MiB
)

// HTTPCompleter talks to an OpenAI-compatible chat completion endpoint.
type HTTPCompleter struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewHTTPCompleter constructs a provider-backed completer.
func NewHTTPCompleter(url, apiKey, model string, timeout time.Duration) (*HTTPCompleter, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrDisabled
	}
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPCompleter{
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// FromEnv builds a Completer from environment configuration.
//
// - PULSE_ASSIST_URL      endpoint; empty disables the feature
// - PULSE_ASSIST_API_KEY  optional bearer credential
// - PULSE_ASSIST_MODEL    model name (default gpt-4o-mini)
// - PULSE_ASSIST_TIMEOUT  request timeout (Go duration, default 30s)
func FromEnv() Completer {
	url := strings.TrimSpace(os.Getenv("PULSE_ASSIST_URL"))
	if url == "" {
		return Disabled{}
	}

	timeout := defaultTimeout
	if v := strings.TrimSpace(os.Getenv("PULSE_ASSIST_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			timeout = d
		}
	}

	c, err := NewHTTPCompleter(url, os.Getenv("PULSE_ASSIST_API_KEY"), os.Getenv("PULSE_ASSIST_MODEL"), timeout)
	if err != nil {
		return Disabled{}
	}
	return c
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends the prompt as a single-message chat completion.
// No retries: the realtime caller surfaces failures to the asking client.
func (c *HTTPCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("assist: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("assist: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("assist: provider request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("assist: read response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("assist: decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("assist: provider error (status %d): %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("assist: provider error: status %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("assist: provider returned no choices")
	}

	reply := strings.TrimSpace(out.Choices[0].Message.Content)
	if reply == "" {
		return "", errors.New("assist: provider returned an empty reply")
	}
	return reply, nil
}
