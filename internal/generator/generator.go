// Package generator is the upstream text generation client. It speaks the
// OpenAI chat completions wire format, which OpenAI, Vertex AI, Bedrock and
// most self-hosted servers accept. Authentication lives in the transport
// chain (see cloudauth).
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	respcache "github.com/eugener/respcache/internal"
	"github.com/eugener/respcache/internal/ratelimit"
	"github.com/eugener/respcache/internal/telemetry"
	"github.com/eugener/respcache/internal/tokencount"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	maxResponse    = 4 << 20
)

var _ respcache.Generator = (*Client)(nil)

// Client calls POST {base}/chat/completions.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	limiter *ratelimit.Limiter // nil = unlimited
	metrics *telemetry.Metrics // nil = no metrics
	tracer  trace.Tracer
}

// New creates a Client. The provided http.Client should carry auth in its
// transport chain and the upstream timeout.
func New(baseURL, model string, client *http.Client, limiter *ratelimit.Limiter, metrics *telemetry.Metrics) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    client,
		limiter: limiter,
		metrics: metrics,
		tracer:  telemetry.Tracer("github.com/eugener/respcache/internal/generator"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

// Generate sends one chat completion and returns the first choice's text.
func (c *Client) Generate(ctx context.Context, p respcache.Prompt) (string, error) {
	estimated := tokencount.EstimatePrompt(p)
	if c.limiter != nil {
		if res := c.limiter.Reserve(estimated); !res.Allowed {
			if c.metrics != nil {
				c.metrics.RateLimitRejects.Inc()
			}
			return "", &LimitError{RetryAfter: res.RetryAfter}
		}
	}

	ctx, span := c.tracer.Start(ctx, "generator.Generate", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.request.model", c.model),
			attribute.String("respcache.category", p.Category.String()),
		))
	defer span.End()

	start := time.Now()
	text, used, err := c.complete(ctx, p)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds())
	}
	if c.limiter != nil {
		c.limiter.Settle(estimated, used)
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamErrors.WithLabelValues(errorStatus(err)).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int64("gen_ai.usage.total_tokens", used))
	return text, nil
}

func (c *Client) complete(ctx context.Context, p respcache.Prompt) (string, int64, error) {
	msgs := make([]chatMessage, 0, 2)
	if p.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: p.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: p.User})

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	if err != nil {
		return "", 0, fmt.Errorf("generator: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("generator: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("generator: do request: %w: %w", respcache.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, parseAPIError(resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return "", 0, fmt.Errorf("generator: read response: %w: %w", respcache.ErrUpstream, err)
	}
	used := gjson.GetBytes(raw, "usage.total_tokens").Int()
	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() || content.Type != gjson.String {
		return "", used, fmt.Errorf("generator: %w: response has no message content", respcache.ErrUpstream)
	}
	text := strings.TrimSpace(content.String())
	if text == "" {
		return "", used, fmt.Errorf("generator: %w: empty completion", respcache.ErrUpstream)
	}
	return text, used, nil
}

// HealthCheck lists models to verify connectivity and credentials.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("generator: create health check request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("generator: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return parseAPIError(resp)
	}
	return nil
}

// errorStatus is the metric label for a failed call.
func errorStatus(err error) string {
	var ae *APIError
	switch {
	case errors.As(err, &ae):
		return strconv.Itoa(ae.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "network"
}
