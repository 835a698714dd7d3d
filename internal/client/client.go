// Package client is a Go client for the embedding server HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/embedserver/internal/embedding"
	"github.com/hyperjump/embedserver/internal/server"
)

const (
	// DefaultBaseURL is the address of a locally running server.
	DefaultBaseURL = "http://localhost:11411"

	// DefaultBatchSize is the number of texts EmbedDocuments sends per request.
	DefaultBatchSize = 32

	// DefaultConcurrency bounds the requests EmbedDocuments keeps in flight.
	DefaultConcurrency = 4

	readyPollInterval = 100 * time.Millisecond
)

// Client talks to an embedding server.
type Client struct {
	baseURL     string
	http        *http.Client
	batchSize   int
	concurrency int
	truncate    bool
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBatchSize sets the chunk size used by EmbedDocuments.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConcurrency sets how many chunks EmbedDocuments sends at once.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithTruncate sets whether EmbedQuery and EmbedDocuments let the server truncate over-long
// input. Default true.
func WithTruncate(truncate bool) Option {
	return func(c *Client) { c.truncate = truncate }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for baseURL. An empty baseURL means DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        http.DefaultClient,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		truncate:    true,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized server address.
func (c *Client) BaseURL() string { return c.baseURL }

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Detail)
}

// Temporary reports whether retrying later may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusGatewayTimeout
}

// IsNotReady reports whether err is a 503 from a server that has not finished loading.
func IsNotReady(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		apiErr.StatusCode == http.StatusServiceUnavailable &&
		apiErr.Code == embedding.KindNotReady.String()
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*server.HealthResponse, error) {
	var out server.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Info calls GET /info.
func (c *Client) Info(ctx context.Context) (*embedding.Info, error) {
	var out embedding.Info
	if err := c.do(ctx, http.MethodGet, "/info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready calls GET /ready. A not-ready server is reported as an *APIError.
func (c *Client) Ready(ctx context.Context) (*server.ReadyResponse, error) {
	var out server.ReadyResponse
	if err := c.do(ctx, http.MethodGet, "/ready", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitReady polls /ready until the server is ready or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		_, err := c.Ready(ctx)
		if err == nil {
			return nil
		}
		if IsNotReady(err) {
			c.logger.Debug("model still loading", zap.String("url", c.baseURL))
		} else {
			c.logger.Debug("server not reachable", zap.String("url", c.baseURL), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w (last error: %v)", c.baseURL, ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// Embed sends one POST /embed request. intent is "query" or "document"; "" means document.
func (c *Client) Embed(ctx context.Context, inputs []string, intent embedding.Intent, truncate bool) ([][]float32, error) {
	req := server.EmbedRequest{
		Inputs:          inputs,
		Truncate:        &truncate,
		InstructionType: string(intent),
	}
	if req.Inputs == nil {
		req.Inputs = []string{}
	}
	var out [][]float32
	if err := c.do(ctx, http.MethodPost, "/embed", req, &out); err != nil {
		return nil, err
	}
	if len(out) != len(inputs) {
		return nil, fmt.Errorf("server returned %d vectors for %d inputs", len(out), len(inputs))
	}
	return out, nil
}

// EmbedQuery embeds a single search query.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	out, err := c.Embed(ctx, []string{query}, embedding.IntentQuery, c.truncate)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedDocuments embeds texts as documents. Texts are split into chunks of the configured
// batch size and sent concurrently; the result keeps input order.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	c.logger.Debug("embedding documents",
		zap.Int("texts", len(texts)),
		zap.Int("batch_size", c.batchSize),
		zap.Int("concurrency", c.concurrency))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.Embed(gctx, texts[start:end], embedding.IntentDocument, c.truncate)
			if err != nil {
				return fmt.Errorf("embed documents [%d:%d]: %w", start, end, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er server.ErrorResponse
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		apiErr.Code = er.Error
		apiErr.Detail = er.Detail
		return apiErr
	}
	var rr server.ReadyResponse
	if json.Unmarshal(b, &rr) == nil && rr.Status != "" {
		apiErr.Code = rr.Status
		apiErr.Detail = "state " + rr.State
		return apiErr
	}
	apiErr.Detail = strings.TrimSpace(string(b))
	return apiErr
}
