package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/buddy-work/shared/retry"
)

// NoResultText is returned when the upstream answer has no text field
const NoResultText = "No result text available"

const maxErrorBody = 512

var (
	// ErrWorkExecutionFailed covers every unrecoverable invocation failure
	ErrWorkExecutionFailed = errors.New("work execution failed")

	// ErrWorkExecutionTimeout is returned when the invocation outlived the ceiling
	ErrWorkExecutionTimeout = errors.New("work execution timed out")
)

// StatusError carries a non-2xx answer from the prediction service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("prediction service returned %d: %s", e.StatusCode, e.Body)
}

// Config holds prediction client configuration.
// Timeout is a hard ceiling on a whole invocation, retries included.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   retry.Policy
}

// Client invokes prediction flows. Safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *slog.Logger
	sleep      retry.Sleeper
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the shared HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleeper replaces the delay between transport retries
func WithSleeper(s retry.Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// NewClient creates a new prediction client
func NewClient(config *Config, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		config:     config,
		httpClient: &http.Client{},
		logger:     logger,
		sleep:      retry.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}

	logger.Info("Prediction client initialized",
		slog.String("base_url", config.BaseURL),
		slog.Duration("timeout", config.Timeout),
		slog.Int("max_attempts", config.Retry.MaxAttempts),
	)

	return c
}

type predictionRequest struct {
	Question string `json:"question"`
}

// Invoke sends one instruction to the given flow and returns its text answer.
func (c *Client) Invoke(ctx context.Context, engineID, instruction string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	payload, err := json.Marshal(predictionRequest{Question: instruction})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %w", ErrWorkExecutionFailed, err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/prediction/%s",
		strings.TrimRight(c.config.BaseURL, "/"),
		url.PathEscape(engineID),
	)

	var text string
	attempts, err := retry.Do(ctx, c.config.Retry, c.sleep,
		func(attempt int, delay time.Duration, err error) {
			c.logger.Warn("Prediction call failed, retrying",
				slog.String("engine_id", engineID),
				slog.Int("attempt", attempt),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)
		},
		func(ctx context.Context, attempt int) error {
			body, err := c.post(ctx, endpoint, payload)
			if err != nil {
				return err
			}
			text, err = extractText(body)
			return err
		},
	)

	if err == nil {
		return text, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %s", ErrWorkExecutionTimeout, c.config.Timeout)
	}
	return "", fmt.Errorf("%w after %d attempt(s): %w", ErrWorkExecutionFailed, attempts, err)
}

// post performs one call. Transport errors are marked retryable, HTTP error
// answers are not.
func (c *Client) post(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, retry.Retryable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "..."
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	return data, nil
}

// extractText reads the "text" field; absence is not an error
func extractText(body []byte) (string, error) {
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode prediction response: %w", err)
	}

	raw, ok := decoded["text"]
	if !ok {
		return NoResultText, nil
	}
	var text *string
	if err := json.Unmarshal(raw, &text); err != nil || text == nil {
		return NoResultText, nil
	}
	return *text, nil
}
