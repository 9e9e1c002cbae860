// Package llm is the HTTP client for the LLM backend: request shaping,
// retry with exponential backoff, rate-limit header capture, and extraction
// of JSON payloads from free-form model output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/config"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/trace"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// ResponseObserver receives the headers and token usage of every HTTP
// response from the backend, error responses included. The rate limiter
// implements it.
type ResponseObserver interface {
	Observe(header http.Header, totalTokens int)
}

// Client calls the LLM backend's responses endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      *config.RetryConfig
	observer   ResponseObserver
	logger     *slog.Logger
}

// Message is one entry of the request input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body sent to the responses endpoint. The rendered prompt
// travels as a single system message.
type Request struct {
	Model           string    `json:"model"`
	Input           []Message `json:"input"`
	Temperature     float64   `json:"temperature"`
	MaxOutputTokens int       `json:"max_output_tokens"`
	TopP            float64   `json:"top_p"`
}

// Response is the completed LLM call.
type Response struct {
	OutputText  string
	TotalTokens int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithObserver registers the rate-limit header observer.
func WithObserver(obs ResponseObserver) Option {
	return func(client *Client) {
		client.observer = obs
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient builds a client from configuration. The default transport is
// tuned for high fan-out: the connection pool must absorb up to
// max_concurrency simultaneous calls without handshake churn.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	transport := &http.Transport{
		MaxConnsPerHost:     cfg.LLM.MaxConnections,
		MaxIdleConns:        cfg.LLM.MaxConnections,
		MaxIdleConnsPerHost: cfg.LLM.MaxKeepaliveConnections,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		baseURL: cfg.LLM.BaseURL,
		apiKey:  cfg.LLMAPIKey(),
		retry:   cfg.Retry,
		httpClient: &http.Client{
			Timeout:   cfg.LLM.Timeout,
			Transport: transport,
		},
		logger: slog.With("component", "llm"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Complete sends one completion request, retrying transient failures with
// exponential backoff. Fatal errors and unknown errors propagate on the
// first occurrence.
func (c *Client) Complete(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		resp, err := c.doRequest(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		delay := backoffDelay(c.retry, attempt)
		trace.Logger(ctx).Warn("Transient LLM error, retrying",
			"attempt", attempt+1,
			"max_retries", c.retry.MaxRetries,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	c.logger.Error("LLM call failed after retries",
		"max_retries", c.retry.MaxRetries,
		"error", lastErr)
	return nil, lastErr
}

// responseBody mirrors the backend's response. output_text is the flattened
// convenience field; older backends nest the text under output items.
type responseBody struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (b *responseBody) text() string {
	if b.OutputText != "" {
		return b.OutputText
	}
	var sb strings.Builder
	for _, item := range b.Output {
		if item.Type != "" && item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			if content.Type == "output_text" {
				sb.WriteString(content.Text)
			}
		}
	}
	return sb.String()
}

// doRequest executes a single HTTP round trip. Every received response is
// reported to the observer before status handling so that rate-limit headers
// on error responses still update the limiter.
func (c *Client) doRequest(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("marshal request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if id := trace.RequestID(ctx); id != "" {
		httpReq.Header.Set(trace.HeaderRequestID, id)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Timeouts and connection failures are transient.
		return nil, NewTransientError(fmt.Errorf("LLM request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	var parsed responseBody
	var decodeErr error
	tokens := 0
	if httpResp.StatusCode == http.StatusOK {
		if decodeErr = json.Unmarshal(respBody, &parsed); decodeErr == nil {
			tokens = parsed.Usage.TotalTokens
		}
	}

	if c.observer != nil {
		c.observer.Observe(httpResp.Header, tokens)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}
	if decodeErr != nil {
		return nil, NewFatalError(fmt.Errorf("decode response body: %w", decodeErr))
	}

	return &Response{
		OutputText:  parsed.text(),
		TotalTokens: tokens,
	}, nil
}
