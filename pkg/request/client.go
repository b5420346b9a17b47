package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"dubstudio/pkg/config"
	"dubstudio/pkg/tracker"
	"dubstudio/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("DubStudio/%s", version.Version)

// ErrMaxRetries is returned when every attempt hit a transient failure.
var ErrMaxRetries = errors.New("max retries exceeded")

// Response is a fully read HTTP response. Non-2xx statuses are not errors;
// callers classify them.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client performs HTTP requests with a per-provider concurrency limit and
// backoff on transient failures (transport errors, 502, 503, 504).
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff

	attempts  int
	baseDelay time.Duration
	perHost   int64

	mu     sync.Mutex // protects limits
	limits map[string]*semaphore.Weighted
}

// New creates a new Client. t may be nil.
func New(cfg config.RequestConfig, t *tracker.Tracker) *Client {
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	perHost := int64(cfg.Concurrency)
	if perHost < 1 {
		perHost = 1
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	base := cfg.Backoff.BaseDelay.Std()
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := cfg.Backoff.MaxDelay.Std()
	if maxDelay < base {
		maxDelay = base
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		tracker:    t,
		backoff:    NewProviderBackoff(base, maxDelay),
		attempts:   attempts,
		baseDelay:  base,
		perHost:    perHost,
		limits:     make(map[string]*semaphore.Weighted),
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, u string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, u, nil, headers)
}

// Post performs a POST request with a raw body.
func (c *Client) Post(ctx context.Context, u string, body []byte, headers map[string]string) (*Response, error) {
	return c.Do(ctx, http.MethodPost, u, body, headers)
}

// PostJSON encodes v and posts it with a JSON content type.
func (c *Client) PostJSON(ctx context.Context, u string, v any, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	h := map[string]string{"Content-Type": "application/json"}
	for k, val := range headers {
		h[k] = val
	}
	return c.Do(ctx, http.MethodPost, u, body, h)
}

// Do sends the request, waiting for a slot on the provider's limiter.
func (c *Client) Do(ctx context.Context, method, u string, body []byte, headers map[string]string) (*Response, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsedURL.Host)

	sem := c.limiter(provider)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	return c.executeWithBackoff(ctx, provider, method, u, body, headers)
}

func (c *Client) limiter(provider string) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	sem, ok := c.limits[provider]
	if !ok {
		sem = semaphore.NewWeighted(c.perHost)
		c.limits[provider] = sem
	}
	return sem
}

// normalizeProvider groups hosts belonging to one synthesis backend.
func normalizeProvider(host string) string {
	host = strings.ToLower(host)
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	switch {
	case strings.HasSuffix(host, "googleapis.com"):
		return "gemini"
	case strings.HasSuffix(host, ".tts.speech.microsoft.com"), strings.HasSuffix(host, ".api.cognitive.microsoft.com"):
		return "azure-speech"
	case strings.HasSuffix(host, "speech.platform.bing.com"):
		return "edge-tts"
	case host == "fish.audio" || strings.HasSuffix(host, ".fish.audio"):
		return "fish-audio"
	}
	return host
}

func retryableStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

func (c *Client) executeWithBackoff(ctx context.Context, provider, method, u string, body []byte, headers map[string]string) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if err := c.backoff.Wait(ctx, provider); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bodyReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", defaultUserAgent)
		}

		slog.Debug("Network Request", "provider", provider, "method", method, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("Request failed, retrying", "provider", provider, "attempt", attempt+1, "error", err)
			lastErr = err
			c.recordRetry(provider)
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read error: %w", readErr)
		}

		if retryableStatus(resp.StatusCode) && attempt < c.attempts-1 {
			slog.Warn("API Backoff", "provider", provider, "status", resp.StatusCode, "attempt", attempt+1)
			c.recordRetry(provider)
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode < 500 {
			c.backoff.RecordSuccess(provider)
		}
		return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

func (c *Client) recordRetry(provider string) {
	c.backoff.RecordFailure(provider)
	if c.tracker != nil {
		c.tracker.TrackRetry(provider)
	}
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	d := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func bodyReader(body []byte) io.Reader {
	if body == nil {
		return http.NoBody
	}
	return bytes.NewReader(body)
}
