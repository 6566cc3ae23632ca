// Package ai implements the worker adapters: the only place where
// worker-specific knowledge lives. Each adapter serializes its input, applies
// the deadline, classifies failures, parses the output, and validates it
// before anything reaches the dispatcher.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain"
)

// ChatClient is the transport every adapter speaks: one JSON-mode chat
// completion per call.
type ChatClient interface {
	ChatJSON(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Client calls an OpenRouter-compatible chat completions API. Transient
// statuses are retried at the transport level with exponential backoff;
// everything else surfaces immediately with its classified kind.
type Client struct {
	httpc          *http.Client
	baseURL        string
	apiKey         string
	model          string
	maxElapsed     time.Duration
	initialBackoff time.Duration
}

// NewClient constructs a Client from configuration.
func NewClient(cfg config.Config) *Client {
	return &Client{
		httpc: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   90 * time.Second,
		},
		baseURL:        cfg.AIBaseURL,
		apiKey:         cfg.AIAPIKey,
		model:          cfg.AIModel,
		maxElapsed:     cfg.AIBackoffMaxElapsedTime,
		initialBackoff: cfg.AIBackoffInitialInterval,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// ChatJSON performs one JSON-mode chat completion.
func (c *Client) ChatJSON(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Temperature: 0.1,
		MaxTokens:   maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", domain.NewWorkerError(domain.KindInternal, fmt.Errorf("marshal chat request: %w", err))
	}

	var content string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(domain.NewWorkerError(domain.KindInternal, err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return domain.Transientf("chat request: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return domain.Transientf("read chat response: %v", err)
		}
		if kind, ok := classifyStatus(resp.StatusCode); ok {
			werr := domain.NewWorkerError(kind, fmt.Errorf("chat status %d: %s", resp.StatusCode, truncate(string(raw), 200)))
			if kind == domain.KindTransient {
				return werr
			}
			return backoff.Permanent(werr)
		}

		var parsed chatResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return backoff.Permanent(domain.Validationf("decode chat response: %v", err))
		}
		if parsed.Error != nil {
			return backoff.Permanent(domain.Permanentf("provider error: %s", parsed.Error.Message))
		}
		if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
			return domain.Validationf("chat response has no content")
		}
		content = parsed.Choices[0].Message.Content
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initialBackoff
	expo.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return "", perm.Err
		}
		return "", err
	}
	return content, nil
}

// classifyStatus maps an HTTP status to an error kind; ok=false means the
// call succeeded.
func classifyStatus(status int) (domain.ErrorKind, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return domain.KindTransient, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusPaymentRequired:
		return domain.KindPermanent, true
	default:
		return domain.KindPermanent, true
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
