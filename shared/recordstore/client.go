package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/buddy-work/shared/retry"
)

const (
	// ShapeBatch wraps created fields as {"records":[{"fields":{...}}]}
	ShapeBatch = "batch"
	// ShapeSingle sends created fields as {"fields":{...}}
	ShapeSingle = "single"

	maxErrorBody = 512
)

var (
	// ErrStoreUnavailable is returned when a record cannot be created
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrStoreUpdateFailed is returned when a record patch did not land
	ErrStoreUpdateFailed = errors.New("record store update failed")
)

// StatusError carries the upstream HTTP status and message
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
}

// Target addresses a table in the external store. APIKey is supplied by the
// caller on every request and is never kept server side.
type Target struct {
	BaseID  string
	TableID string
	APIKey  string
}

// Fields is the attribute bag of a record
type Fields map[string]any

// Config holds record store client configuration
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	CreateShape    string
	UpdateRetry    retry.Policy
}

// Client talks to the record store REST API.
// It is safe for concurrent use: the only state is the pooled http.Client,
// which may be shared with other clients. RequestTimeout bounds each call.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *slog.Logger
	sleep      retry.Sleeper
	onRetry    func()
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the shared HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleeper replaces the backoff sleeper, mainly for tests
func WithSleeper(s retry.Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithRetryHook registers a callback invoked before each update retry
func WithRetryHook(fn func()) Option {
	return func(c *Client) { c.onRetry = fn }
}

// NewClient creates a new record store client
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

	logger.Info("Record store client initialized",
		slog.String("base_url", config.BaseURL),
		slog.String("create_shape", c.shape()),
		slog.Int("update_max_attempts", config.UpdateRetry.MaxAttempts),
	)

	return c
}

type createResponse struct {
	ID      string `json:"id"`
	Records []struct {
		ID string `json:"id"`
	} `json:"records"`
}

// Create inserts a record and returns the store-assigned id.
// Failures are not retried and wrap ErrStoreUnavailable.
func (c *Client) Create(ctx context.Context, target Target, fields Fields) (string, error) {
	var body any
	if c.shape() == ShapeSingle {
		body = map[string]any{"fields": fields}
	} else {
		body = map[string]any{"records": []map[string]any{{"fields": fields}}}
	}

	resp, err := c.do(ctx, http.MethodPost, c.tableURL(target), target.APIKey, body)
	if err != nil {
		return "", fmt.Errorf("%w: create record: %w", ErrStoreUnavailable, err)
	}

	var decoded createResponse
	if err := json.Unmarshal(resp, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode create response: %w", ErrStoreUnavailable, err)
	}

	id := decoded.ID
	if id == "" && len(decoded.Records) > 0 {
		id = decoded.Records[0].ID
	}
	if id == "" {
		return "", fmt.Errorf("%w: create response carried no record id", ErrStoreUnavailable)
	}

	c.logger.Debug("Record created",
		slog.String("record_id", id),
		slog.String("table_id", target.TableID),
	)

	return id, nil
}

// Update patches a record. 5xx responses and transport timeouts are retried
// per the configured policy; 4xx responses fail on the first attempt.
func (c *Client) Update(ctx context.Context, target Target, recordID string, fields Fields) error {
	body := map[string]any{"fields": fields}
	recordURL := c.tableURL(target) + "/" + url.PathEscape(recordID)

	attempts, err := retry.Do(ctx, c.config.UpdateRetry, c.sleep,
		func(attempt int, delay time.Duration, err error) {
			c.logger.Warn("Record update failed, retrying",
				slog.String("record_id", recordID),
				slog.Int("attempt", attempt),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)
			if c.onRetry != nil {
				c.onRetry()
			}
		},
		func(ctx context.Context, attempt int) error {
			_, err := c.do(ctx, http.MethodPatch, recordURL, target.APIKey, body)
			if err != nil && transient(err) {
				return retry.Retryable(err)
			}
			return err
		},
	)
	if err != nil {
		return fmt.Errorf("%w after %d attempt(s): %w", ErrStoreUpdateFailed, attempts, err)
	}

	c.logger.Debug("Record updated",
		slog.String("record_id", recordID),
		slog.Int("attempts", attempts),
	)

	return nil
}

// transient reports whether a failed call is worth repeating
func transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Client) do(ctx context.Context, method, target, apiKey string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	return data, nil
}

func (c *Client) tableURL(target Target) string {
	return fmt.Sprintf("%s/v0/%s/%s",
		strings.TrimRight(c.config.BaseURL, "/"),
		url.PathEscape(target.BaseID),
		url.PathEscape(target.TableID),
	)
}

func (c *Client) shape() string {
	if c.config.CreateShape == ShapeSingle {
		return ShapeSingle
	}
	return ShapeBatch
}

// errorMessage pulls a readable message out of an upstream error body.
// Both {"error":{"type":..,"message":..}} and {"error":"..."} are understood.
func errorMessage(data []byte) string {
	var structured struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(data, &structured) == nil && len(structured.Error) > 0 {
		var detail struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if json.Unmarshal(structured.Error, &detail) == nil && (detail.Type != "" || detail.Message != "") {
			if detail.Message == "" {
				return detail.Type
			}
			if detail.Type == "" {
				return detail.Message
			}
			return detail.Type + ": " + detail.Message
		}
		var plain string
		if json.Unmarshal(structured.Error, &plain) == nil && plain != "" {
			return plain
		}
	}

	msg := strings.TrimSpace(string(data))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return msg
}
