// Package backend implements the HTTP client for the hosted
// backend-as-a-service: auth sessions, PostgREST-style table access, stored
// procedure calls, blob storage, and realtime subscriptions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/observability"
)

// TokenSource supplies the access token attached to authenticated requests.
// An empty return means no session; requests then carry the anon key only.
type TokenSource func() string

// Client is the backend API client.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	tokenSource TokenSource
	retry       RetryPolicy

	restLog    *observability.RequestLogger
	authLog    *observability.RequestLogger
	storageLog *observability.RequestLogger
	rpcLog     *observability.RequestLogger
}

// Config holds client configuration.
type Config struct {
	URL         string
	APIKey      string
	HTTPClient  *http.Client
	TokenSource TokenSource
	Retry       RetryPolicy
	Timeout     time.Duration
}

// New creates a new backend client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.URL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  httpClient,
		tokenSource: cfg.TokenSource,
		retry:       retry,
		restLog:     observability.NewRequestLogger("rest"),
		authLog:     observability.NewRequestLogger("auth"),
		storageLog:  observability.NewRequestLogger("storage"),
		rpcLog:      observability.NewRequestLogger("rpc"),
	}, nil
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

// Auth returns the auth client.
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// Storage returns the storage client.
func (c *Client) Storage() *StorageClient {
	return &StorageClient{client: c}
}

// RPC calls a stored procedure. Procedure calls are mutations and are never
// retried automatically.
func (c *Client) RPC(ctx context.Context, fn string, params any, out any) error {
	reqURL := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, fn)

	var body io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return models.NewDecodeError(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return models.NewTransportError(err)
	}
	c.setHeaders(req)
	if params != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req, "rpc", false)
	if err != nil {
		return err
	}
	if err := resp.Error(); err != nil {
		return err
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return models.NewDecodeError(err)
		}
	}
	return nil
}

// Response is a decoded backend response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return models.NewDecodeError(err)
	}
	return nil
}

// Error maps a failure response onto the application error taxonomy.
// Success responses return nil.
func (r *Response) Error() error {
	if r.StatusCode < 400 {
		return nil
	}
	return mapRESTError(r.StatusCode, r.Body)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	token := c.apiKey
	if c.tokenSource != nil {
		if t := c.tokenSource(); t != "" {
			token = t
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
}

func (c *Client) logFor(component string) *observability.RequestLogger {
	switch component {
	case "auth":
		return c.authLog
	case "storage":
		return c.storageLog
	case "rpc":
		return c.rpcLog
	}
	return c.restLog
}

// do executes the request. Idempotent requests are retried per the retry
// policy; mutations run exactly once so a flaky network cannot duplicate
// side effects.
func (c *Client) do(req *http.Request, component string, idempotent bool) (*Response, error) {
	ctx := req.Context()
	if observability.ExtractCorrelationID(ctx) == "" {
		ctx = observability.WithCorrelationID(ctx, observability.GenerateCorrelationID())
		req = req.WithContext(ctx)
	}

	ctx, span := observability.TraceBackendCall(ctx, component, req.Method, req.URL.Path)
	req = req.WithContext(ctx)

	var bodyCopy []byte
	if idempotent && req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			observability.EndSpan(span, err)
			return nil, models.NewTransportError(err)
		}
		bodyCopy = b
		req.Body = io.NopCloser(bytes.NewReader(bodyCopy))
	}

	start := time.Now()
	maxAttempts := 1
	if idempotent {
		maxAttempts = c.retry.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.retry.Wait(ctx, attempt-1); err != nil {
				observability.EndSpan(span, err)
				return nil, models.NewTransportError(err)
			}
			req = req.Clone(ctx)
			if bodyCopy != nil {
				req.Body = io.NopCloser(bytes.NewReader(bodyCopy))
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if idempotent && c.retry.RetryableError(err) {
				continue
			}
			break
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			break
		}

		if idempotent && attempt < maxAttempts && c.retry.RetryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
			continue
		}

		observability.ObserveBackendRequest(component, req.Method, resp.StatusCode, start, attempt > 1)
		c.logFor(component).LogRequest(ctx, req.Method, req.URL.Path, resp.StatusCode, attempt)
		observability.EndSpan(span, nil)

		return &Response{
			StatusCode: resp.StatusCode,
			Body:       body,
			Headers:    resp.Header,
		}, nil
	}

	c.logFor(component).LogError(ctx, req.Method, req.URL.Path, lastErr)
	observability.EndSpan(span, lastErr)
	return nil, models.NewTransportError(lastErr)
}
