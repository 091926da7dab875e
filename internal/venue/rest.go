// rest.go provides the REST client base concrete adapters are built on.
//
// It wraps a resty client with a base URL, timeout, automatic retry on 5xx
// and transport errors, and per-category token-bucket rate limiting. An
// adapter supplies its own request encoding and signing on top.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// RESTClient is a rate-limited HTTP client for one venue's REST API.
type RESTClient struct {
	http   *resty.Client
	rl     *RateLimiter
	logger *slog.Logger
}

// RESTConfig tunes the underlying HTTP client.
type RESTConfig struct {
	BaseURL    string
	Timeout    time.Duration // default 10s
	RetryCount int           // default 3
	RateLimits RateLimits
}

// NewRESTClient builds the client base with retry and rate limiting.
func NewRESTClient(cfg RESTConfig, logger *slog.Logger) *RESTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.RetryCount
	if retries <= 0 {
		retries = 3
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &RESTClient{
		http:   httpClient,
		rl:     NewRateLimiter(cfg.RateLimits),
		logger: logger.With("component", "rest"),
	}
}

// Limiter exposes the per-category buckets so adapters can gate bespoke
// calls.
func (c *RESTClient) Limiter() *RateLimiter {
	return c.rl
}

// Get performs a rate-limited GET, decoding the JSON response into result.
func (c *RESTClient) Get(ctx context.Context, bucket *TokenBucket, path string, query map[string]string, result any) error {
	if err := bucket.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(result).
		Get(path)
	return checkResponse(resp, err, "GET", path)
}

// Post performs a rate-limited POST with a JSON body, decoding into result.
func (c *RESTClient) Post(ctx context.Context, bucket *TokenBucket, path string, body, result any) error {
	if err := bucket.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		Post(path)
	return checkResponse(resp, err, "POST", path)
}

// Delete performs a rate-limited DELETE with an optional JSON body.
func (c *RESTClient) Delete(ctx context.Context, bucket *TokenBucket, path string, body, result any) error {
	if err := bucket.Wait(ctx); err != nil {
		return err
	}
	req := c.http.R().SetContext(ctx).SetResult(result)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Delete(path)
	return checkResponse(resp, err, "DELETE", path)
}

func checkResponse(resp *resty.Response, err error, method, path string) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode(), resp.String())
	}
	return nil
}
