// Package device talks to the e-reader's HTTPS API: session
// authentication, the document listing, ranged reads, chunked uploads and
// the folder and document management calls a sync needs.
package device

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// Exported constants.
const (
	// DefaultHost is the device's mDNS name.
	DefaultHost = "digitalpaper.local"
	// DefaultPort is the device's HTTPS port.
	DefaultPort = 8443
	// DefaultTimeout bounds every request.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxRetries bounds retries of idempotent reads.
	DefaultMaxRetries = 3
	// CookieName is the session cookie issued by the device.
	CookieName = "Credentials"
)

// Config configures a Client.
type Config struct {
	Host string
	Port int
	// BaseURL overrides Host and Port when set.
	BaseURL string
	// HTTPClient overrides the default client, which skips certificate
	// verification because the device presents a self-signed certificate.
	HTTPClient *http.Client
	Timeout    time.Duration
	// MaxRetries bounds retries of idempotent reads after network failures.
	// Negative disables retries.
	MaxRetries int
	// RetryInterval is the initial backoff interval.
	RetryInterval time.Duration
	Logger        *zap.Logger
}

// Client is a session with one device. It is safe for sequential use; the
// session cookie is guarded for concurrent readers.
type Client struct {
	baseURL       string
	http          *http.Client
	logger        *zap.Logger
	maxRetries    int
	retryInterval time.Duration

	mu      sync.RWMutex
	session string
}

// NewClient creates a client for the device described by cfg.
func NewClient(cfg Config) *Client {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://" + host + ":" + strconv.Itoa(port)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed device certificate
			},
		}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}

	retryInterval := cfg.RetryInterval
	if retryInterval == 0 {
		retryInterval = 500 * time.Millisecond
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:       baseURL,
		http:          httpClient,
		logger:        logger,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
	}
}

// BaseURL returns the device endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Authenticated reports whether a session cookie is held.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.session != ""
}

func (c *Client) setSession(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = value
}

func (c *Client) sessionCookie() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.session
}

// request describes one HTTP exchange.
type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	header      http.Header
	// anonymous requests are sent without the session cookie.
	anonymous bool
}

// send performs req and returns the response body of a 2xx reply. GET
// requests are retried on network failures; HTTP error statuses never are.
func (c *Client) send(ctx context.Context, req request) (*http.Response, []byte, error) {
	if !req.anonymous && !c.Authenticated() {
		return nil, nil, ErrNotAuthenticated
	}

	var (
		resp *http.Response
		body []byte
	)

	operation := func() error {
		var err error

		resp, body, err = c.roundTrip(ctx, req)
		if err == nil {
			return nil
		}

		var failure *RequestFailure
		if errors.As(err, &failure) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		return err
	}

	if req.method != http.MethodGet || c.maxRetries < 0 {
		return resp, body, runOnce(operation)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying device request",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx), notify)

	return resp, body, err
}

// runOnce runs a retry operation exactly once, unwrapping permanent errors.
func runOnce(op func() error) error {
	err := op()

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}

	return err
}

func (c *Client) roundTrip(ctx context.Context, req request) (*http.Response, []byte, error) {
	var reader io.Reader
	if req.body != nil {
		reader = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: building %s %s: %w", ErrTransport, req.method, req.path, err)
	}

	for key, values := range req.header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	if !req.anonymous {
		httpReq.AddCookie(&http.Cookie{Name: CookieName, Value: c.sessionCookie()})
	}

	start := time.Now()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.method, req.path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading %s %s: %w", ErrTransport, req.method, req.path, err)
	}

	c.logger.Debug("device request",
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &RequestFailure{
			Method:     req.method,
			Path:       req.path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 256),
		}
	}

	return resp, body, nil
}

// sendJSON encodes in (when non-nil) as the request body and decodes the
// reply into out (when non-nil and the reply is not empty).
func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	req := request{method: method, path: path}

	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s: %w", method, path, err)
		}
		req.body = encoded
		req.contentType = "application/json"
	}

	_, body, err := c.send(ctx, req)
	if err != nil {
		return err
	}

	return decodeJSON(method, path, body, out)
}

func decodeJSON(method, path string, body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding %s %s: %w", ErrTransport, method, path, err)
	}

	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit] + "..."
}
