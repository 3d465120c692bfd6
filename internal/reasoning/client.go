package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kairo-hq/kairo/internal/model"
)

// Defaults for Client.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxTokens = 1024
)

// Client turns decision requests into parsed recommendations. It holds no
// per-request state and is safe for concurrent use.
type Client struct {
	completer Completer
	timeout   time.Duration
	maxTokens int
	logger    *slog.Logger
}

// NewClient wraps completer. Non-positive timeout or maxTokens select the
// defaults.
func NewClient(completer Completer, timeout time.Duration, maxTokens int, logger *slog.Logger) *Client {
	if completer == nil {
		completer = NoopCompleter{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{completer: completer, timeout: timeout, maxTokens: maxTokens, logger: logger}
}

// Provider returns the name of the underlying completer.
func (c *Client) Provider() string {
	return c.completer.Name()
}

// Recommend asks the provider for a recommendation. Every failure, including
// timeouts and parse errors, is returned as *Error matching ErrReasoningFailed.
func (c *Client) Recommend(ctx context.Context, req model.DecisionRequest, tuning model.TuningConfig, history []model.DecisionRecord) (model.ParsedRecommendation, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, err := c.completer.Complete(callCtx, CompletionRequest{
		Prompt:      BuildPrompt(req, tuning, history),
		Temperature: tuning.Temperature(),
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return model.ParsedRecommendation{}, c.fail(err, start)
	}
	if strings.TrimSpace(text) == "" {
		return model.ParsedRecommendation{}, c.fail(ErrEmptyResponse, start)
	}

	rec, err := ParseRecommendation(text)
	if err != nil {
		return model.ParsedRecommendation{}, c.fail(err, start)
	}
	c.logger.Debug("reasoning: recommendation parsed",
		"provider", c.completer.Name(),
		"recommendation", rec.Recommendation,
		"confidence", rec.Confidence,
		"duration_ms", time.Since(start).Milliseconds())
	return rec, nil
}

func (c *Client) fail(err error, start time.Time) error {
	c.logger.Warn("reasoning: call failed",
		"provider", c.completer.Name(),
		"error", err,
		"duration_ms", time.Since(start).Milliseconds())
	return &Error{Provider: c.completer.Name(), Err: err}
}
