package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const systemPrompt = "You read government ID cards. " +
	`Return compact JSON: {"full_name": string|null, "dob": string|null, "document_number": string|null}. ` +
	"If uncertain, use null. Respond ONLY with JSON."

// Config carries the provider connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls an OpenAI-compatible chat/completions endpoint with the ID
// front image attached as a data URL. It implements FieldExtractor.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	model        string
	logger       *zap.Logger
	retryBackoff time.Duration
}

// NewClient constructs a provider client with a bounded per-call timeout.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		logger:       logger.Named("vision"),
		retryBackoff: time.Second,
	}
}

// ExtractFields submits the image and returns the extracted field mapping.
// Malformed provider content resolves to all-null fields; a transport or
// HTTP hard failure is returned as an error after one bounded retry on
// transient failures.
func (c *Client) ExtractFields(ctx context.Context, frontImage []byte) (Fields, error) {
	start := time.Now()

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frontImage)
	body := map[string]interface{}{
		"model":       c.model,
		"temperature": 0,
		"messages": []map[string]interface{}{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": []map[string]interface{}{
				{"type": "text", "text": "Extract fields from this ID front:"},
				{"type": "image_url", "image_url": map[string]interface{}{"url": dataURL}},
			}},
		},
	}

	raw, err := c.postWithRetry(ctx, c.baseURL+"/chat/completions", body)
	if err != nil {
		c.logger.Error("provider call failed", zap.Error(err),
			zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return Fields{}, err
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &completion); err != nil {
		return Fields{}, fmt.Errorf("decode provider response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Fields{}, errors.New("no choices in provider response")
	}

	fields, ok := decodeFields(completion.Choices[0].Message.Content)
	if !ok {
		// Degraded output, not a job failure: all three fields resolve null.
		c.logger.Warn("provider content failed validation, resolving all fields to null",
			zap.Int("content_len", len(completion.Choices[0].Message.Content)))
		return Fields{}, nil
	}

	c.logger.Info("fields extracted",
		zap.Bool("full_name", fields.FullName != nil),
		zap.Bool("dob", fields.DOB != nil),
		zap.Bool("document_number", fields.DocumentNumber != nil),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return fields, nil
}

// postWithRetry performs the HTTP call with a single retry on transient
// failures (timeouts, temporary network errors, 5xx).
func (c *Client) postWithRetry(ctx context.Context, url string, body map[string]interface{}) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying provider call", zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryBackoff):
			}
		}

		raw, err := c.post(ctx, url, body)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !isTransientError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, url string, body map[string]interface{}) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: string(raw)}
	}
	return raw, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.code, e.body)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.code >= 500
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
