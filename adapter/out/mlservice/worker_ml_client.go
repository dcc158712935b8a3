// Package mlservice implements the Phase-2 scoring backends.
package mlservice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/pkg/gateway"
	"mailsort_server/pkg/httputil"
	"mailsort_server/pkg/metrics"
	"mailsort_server/pkg/resilience"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const targetName = "ml_service"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// =============================================================================
// HTTP Scoring Client
// =============================================================================

// Client calls the ML scoring service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	gw      *gateway.Gateway
	cb      *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewClient creates a scoring client for baseURL.
func NewClient(baseURL string, timeout time.Duration, gw *gateway.Gateway, log zerolog.Logger) *Client {
	l := log.With().Str("component", "ml_client").Logger()
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httputil.NewClient(httputil.MLServiceClientConfig(timeout)),
		gw:      gw,
		cb:      resilience.NewBreaker("ml-service", l),
		log:     l,
	}
}

// ModelVersion is unknown until the service reports one in a response.
func (c *Client) ModelVersion() string {
	return "remote"
}

// Predict posts {subject, body, userId} to /predict.
func (c *Client) Predict(ctx context.Context, req *out.PredictRequest) (*out.PredictResponse, error) {
	var resp out.PredictResponse
	if err := c.post(ctx, "predict", "/predict", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type syncCategoryRequest struct {
	UserID   string           `json:"userId"`
	Category *domain.Category `json:"category"`
}

// SyncCategory posts updated patterns to /categories/sync.
func (c *Client) SyncCategory(ctx context.Context, userID string, category *domain.Category) error {
	return c.post(ctx, "sync", "/categories/sync", &syncCategoryRequest{UserID: userID, Category: category}, nil)
}

// statusError is a non-2xx response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ml service returned %d: %s", e.Status, e.Body)
}

func (c *Client) post(ctx context.Context, op, path string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	return c.gw.Call(ctx, gateway.TargetMLService, func(ctx context.Context) error {
		start := time.Now()
		defer metrics.ObserveCall(targetName, op, start)

		_, err := resilience.Execute(c.cb, func() (struct{}, error) {
			return struct{}{}, c.do(ctx, path, payload, result)
		})
		if err != nil {
			return fmt.Errorf("failed to call ml %s: %w", op, err)
		}
		return nil
	})
}

func (c *Client) do(ctx context.Context, path string, payload []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return resilience.NonTrip(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		serr := &statusError{Status: resp.StatusCode, Body: truncate(string(data), 200)}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resilience.NonTrip(serr)
		}
		return serr
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		// 응답 형식 오류는 서비스 장애로 보지 않음
		return resilience.NonTrip(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ out.MLScorer = (*Client)(nil)
