// ABOUTME: HTTP upstream for OpenAI-compatible chat completion endpoints.
// ABOUTME: Paces requests locally and maps HTTP 429 onto the rate-limit error kind.

package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// HTTPConfig configures the chat completion upstream
type HTTPConfig struct {
	URL           string
	APIKey        string
	Model         string
	RatePerSecond float64
	Timeout       time.Duration
}

// HTTPUpstream calls a chat completion endpoint and returns the assistant message content
type HTTPUpstream struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	config      HTTPConfig
	logger      *logrus.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewHTTPUpstream creates an upstream for config.URL
func NewHTTPUpstream(config HTTPConfig, logger *logrus.Logger) *HTTPUpstream {
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &HTTPUpstream{
		httpClient:  &http.Client{Timeout: config.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), 1),
		config:      config,
		logger:      logger,
	}
}

func (h *HTTPUpstream) Name() string {
	return "http-chat"
}

func (h *HTTPUpstream) Generate(ctx context.Context, req Request) ([]byte, error) {
	// Wait fails early, with ctx still live, when the next slot lies past the deadline.
	if err := h.rateLimiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, "generate", err, "no request slot before the deadline")
	}

	body, err := json.Marshal(chatRequest{
		Model: h.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemInstruction},
			{Role: "user", Content: req.VulnerabilityName},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.config.APIKey)
	}

	res, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, "generate", err, "chat request failed")
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, "generate", err, "failed to read chat response")
	}

	h.logger.WithFields(logrus.Fields{
		"status": res.StatusCode,
		"bytes":  len(respBody),
	}).Debug("Chat completion response received")

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.New(apperr.KindRateLimited, "generate", "upstream returned 429")
	case res.StatusCode < 200 || res.StatusCode > 299:
		return nil, apperr.Newf(apperr.KindUpstream, "generate", "upstream returned %s", res.Status)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedResponse, "generate", err, "chat response is not JSON")
	}
	if len(parsed.Choices) == 0 {
		return nil, apperr.New(apperr.KindMalformedResponse, "generate", "chat response has no choices")
	}

	return []byte(parsed.Choices[0].Message.Content), nil
}
