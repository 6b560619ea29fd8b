// ABOUTME: Resilient client drafting finding narratives through a text-generation upstream.
// ABOUTME: Retries only on rate limiting, with per-call exponential backoff and cancellation.

package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jfeddern/VulnLedger/internal/apperr"
	"github.com/jfeddern/VulnLedger/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5

	DefaultSystemInstruction = "You are assisting a penetration tester writing a report. " +
		"For the vulnerability named by the user, respond with a JSON object containing exactly three " +
		"string fields: \"description\" (what the vulnerability is), \"impact\" (what an attacker can " +
		"achieve) and \"recommendation\" (how to remediate it). Do not add any other text."
)

// Request is a single text-generation call
type Request struct {
	SystemInstruction string
	VulnerabilityName string
}

// Upstream performs one text-generation round-trip and returns the raw draft payload.
// A rate-limit signal must be reported as an apperr.KindRateLimited error.
type Upstream interface {
	Name() string
	Generate(ctx context.Context, req Request) ([]byte, error)
}

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the latter case
type Sleeper func(ctx context.Context, d time.Duration) error

// Recorder receives enrichment telemetry
type Recorder interface {
	EnrichmentAttempt(outcome string)
	EnrichmentOutcome(outcome string)
}

// Attempt and call outcomes reported to the Recorder
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
	OutcomeUnavailable = "unavailable"
	OutcomeMalformed   = "malformed"
	OutcomeCancelled   = "cancelled"
)

// Config holds the retry policy of the client
type Config struct {
	BaseDelay         time.Duration
	MaxAttempts       int
	SystemInstruction string
}

// Client drafts description, impact and recommendation for a vulnerability name
type Client struct {
	upstream Upstream
	config   Config
	sleep    Sleeper
	recorder Recorder
	logger   *logrus.Logger
}

// Option customises a Client
type Option func(*Client)

// WithSleeper replaces the wall-clock sleeper, mainly for tests
func WithSleeper(sleep Sleeper) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithRecorder attaches a telemetry recorder
func WithRecorder(recorder Recorder) Option {
	return func(c *Client) {
		c.recorder = recorder
	}
}

// NewClient creates an enrichment client. Zero config values fall back to the defaults.
func NewClient(upstream Upstream, config Config, logger *logrus.Logger, opts ...Option) *Client {
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultBaseDelay
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.SystemInstruction == "" {
		config.SystemInstruction = DefaultSystemInstruction
	}

	c := &Client{
		upstream: upstream,
		config:   config,
		sleep:    SleepContext,
		recorder: nopRecorder{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryState is the backoff bookkeeping of exactly one Enrich call
type retryState struct {
	attempt int
	delay   time.Duration
}

func newRetryState(base time.Duration) *retryState {
	return &retryState{delay: base}
}

func (s *retryState) exhausted(max int) bool {
	return s.attempt >= max
}

// next records a rate-limited attempt and returns how long to wait before the following one
func (s *retryState) next() time.Duration {
	wait := s.delay
	s.delay *= 2
	s.attempt++
	return wait
}

// Enrich drafts the narrative fields for vulnerabilityName. It fails with
// KindEnrichmentUnavailable when every attempt was rate limited, with KindMalformedResponse
// when the draft lacks a field, and with the context error when ctx is cancelled.
func (c *Client) Enrich(ctx context.Context, vulnerabilityName string) (types.EnrichmentResult, error) {
	vulnerabilityName = strings.TrimSpace(vulnerabilityName)
	if vulnerabilityName == "" {
		return types.EnrichmentResult{}, apperr.New(apperr.KindValidation, "enrich", "vulnerability name is required")
	}

	logger := c.logger.WithFields(logrus.Fields{
		"component":     "enrichment",
		"upstream":      c.upstream.Name(),
		"vulnerability": vulnerabilityName,
	})

	req := Request{
		SystemInstruction: c.config.SystemInstruction,
		VulnerabilityName: vulnerabilityName,
	}

	state := newRetryState(c.config.BaseDelay)
	for !state.exhausted(c.config.MaxAttempts) {
		payload, err := c.upstream.Generate(ctx, req)
		if err == nil {
			c.recorder.EnrichmentAttempt(OutcomeSuccess)
			result, parseErr := ParseResult(payload)
			if parseErr != nil {
				c.recorder.EnrichmentOutcome(OutcomeMalformed)
				logger.WithError(parseErr).Warn("Upstream returned an unusable draft")
				return types.EnrichmentResult{}, parseErr
			}
			c.recorder.EnrichmentOutcome(OutcomeSuccess)
			logger.WithField("attempts", state.attempt+1).Info("Drafted finding narrative")
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.recorder.EnrichmentOutcome(OutcomeCancelled)
			logger.Debug("Enrichment cancelled during request")
			return types.EnrichmentResult{}, fmt.Errorf("enrichment cancelled: %w", ctxErr)
		}

		if !apperr.IsKind(err, apperr.KindRateLimited) {
			c.recorder.EnrichmentAttempt(OutcomeError)
			c.recorder.EnrichmentOutcome(OutcomeError)
			logger.WithError(err).Warn("Upstream failed, not retrying")
			return types.EnrichmentResult{}, err
		}

		c.recorder.EnrichmentAttempt(OutcomeRateLimited)
		wait := state.next()
		if state.exhausted(c.config.MaxAttempts) {
			break
		}

		logger.WithFields(logrus.Fields{
			"attempt": state.attempt,
			"wait":    wait,
		}).Info("Upstream rate limited, backing off")

		if err := c.sleep(ctx, wait); err != nil {
			c.recorder.EnrichmentOutcome(OutcomeCancelled)
			logger.Debug("Enrichment cancelled during backoff")
			return types.EnrichmentResult{}, fmt.Errorf("enrichment cancelled: %w", err)
		}
	}

	c.recorder.EnrichmentOutcome(OutcomeUnavailable)
	logger.WithField("attempts", state.attempt).Warn("Enrichment retry budget exhausted")
	return types.EnrichmentResult{}, apperr.Newf(apperr.KindEnrichmentUnavailable, "enrich",
		"still rate limited after %d attempts", state.attempt)
}

// ParseResult extracts the three narrative fields from an upstream draft. Markdown code
// fences around the JSON object are tolerated.
func ParseResult(payload []byte) (types.EnrichmentResult, error) {
	text := strings.TrimSpace(string(payload))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return types.EnrichmentResult{}, apperr.Wrap(apperr.KindMalformedResponse, "parse_enrichment", err, "draft is not a JSON object")
	}

	var result types.EnrichmentResult
	targets := []struct {
		key string
		dst *string
	}{
		{"description", &result.Description},
		{"impact", &result.Impact},
		{"recommendation", &result.Recommendation},
	}
	for _, target := range targets {
		raw, ok := fields[target.key]
		if !ok {
			return types.EnrichmentResult{}, apperr.Newf(apperr.KindMalformedResponse, "parse_enrichment", "draft lacks %q", target.key)
		}
		if string(raw) == "null" {
			return types.EnrichmentResult{}, apperr.Newf(apperr.KindMalformedResponse, "parse_enrichment", "draft field %q is null", target.key)
		}
		if err := json.Unmarshal(raw, target.dst); err != nil {
			return types.EnrichmentResult{}, apperr.Wrap(apperr.KindMalformedResponse, "parse_enrichment", err,
				fmt.Sprintf("draft field %q is not a string", target.key))
		}
	}
	return result, nil
}

// SleepContext waits for d unless ctx finishes first
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsCancelled reports whether err came from a cancelled or expired enrichment call
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type nopRecorder struct{}

func (nopRecorder) EnrichmentAttempt(string) {}
func (nopRecorder) EnrichmentOutcome(string) {}
