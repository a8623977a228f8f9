// Package transport provides the resilient HTTP layer used for all
// calls to the central API: a response cache with TTL and capacity
// eviction, and a retry loop with exponential backoff, bounded jitter,
// and server-directed rate limit delays.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/file-interrogator/internal/metrics"
)

// Options configures a Client. Nil slices and zero counts are replaced
// by the documented defaults in New; CacheTTL and MaxBackoff are taken
// as configured, so zero means an immediately expiring cache and no
// backoff delay.
type Options struct {
	// CacheCapacity is the maximum number of cached responses.
	CacheCapacity int
	// CacheTTL is how long a cached response stays valid.
	CacheTTL time.Duration
	// CacheableMethods lists the request methods eligible for caching.
	CacheableMethods []string
	// CacheableStatuses lists the response status codes eligible for caching.
	CacheableStatuses []int
	// RetryableStatuses lists the status codes that trigger a retry.
	RetryableStatuses []int
	// MaxRetryAttempts is the number of retries after the initial
	// attempt. Zero disables retries.
	MaxRetryAttempts int
	// MaxBackoff caps the computed backoff delay.
	MaxBackoff time.Duration
	// Jitter is the upper bound of the random delay added per retry.
	Jitter time.Duration
	// RateLimitValidity is how many subsequent requests honor a
	// server-supplied Retry-After delay before reverting to computed
	// backoff.
	RateLimitValidity int
	// WrapRetryErrors selects whether exhausting the retry budget
	// surfaces a RetryExhaustedError wrapping the cause (true) or the
	// raw cause itself (false). This is the single policy switch for
	// all call sites.
	WrapRetryErrors bool
	// RequestTimeout bounds each individual attempt. Zero means no
	// per-attempt timeout beyond the caller's context.
	RequestTimeout time.Duration
	// Metrics receives cache and retry counters. Nil disables
	// instrumentation.
	Metrics *metrics.Metrics
}

// Defaults for Options fields left at their zero value.
const (
	DefaultCacheCapacity     = 128
	DefaultRateLimitValidity = 1

	initialBackoff = 500 * time.Millisecond
)

// DefaultCacheableMethods returns the default method allow-list.
func DefaultCacheableMethods() []string {
	return []string{http.MethodGet, http.MethodPost}
}

// DefaultCacheableStatuses returns the default status allow-list.
func DefaultCacheableStatuses() []int {
	return []int{http.StatusOK, http.StatusCreated}
}

// DefaultRetryableStatuses returns the default retryable status set.
func DefaultRetryableStatuses() []int {
	return []int{
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
}

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is the cause recorded when a request keeps failing with
// a retryable status code.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received status %d from %s", e.Code, e.URL)
}

// RetryExhaustedError reports that the retry budget for one call was
// spent without success.
type RetryExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Cause
}

// Client issues HTTP requests with caching and retry discipline. All
// state (cache, rate limit override) is owned per instance; independent
// clients do not interfere.
type Client struct {
	http    *http.Client
	cache   *responseCache
	opts    Options
	methods map[string]bool
	cacheOK map[int]bool
	retryOK map[int]bool
	logger  *logrus.Entry

	mu                sync.Mutex
	overrideDelay     time.Duration
	overrideRemaining int
}

// New creates a Client. httpClient may be nil, in which case
// http.DefaultClient is used.
func New(opts Options, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.CacheCapacity == 0 {
		opts.CacheCapacity = DefaultCacheCapacity
	}
	if opts.CacheableMethods == nil {
		opts.CacheableMethods = DefaultCacheableMethods()
	}
	if opts.CacheableStatuses == nil {
		opts.CacheableStatuses = DefaultCacheableStatuses()
	}
	if opts.RetryableStatuses == nil {
		opts.RetryableStatuses = DefaultRetryableStatuses()
	}
	if opts.RateLimitValidity == 0 {
		opts.RateLimitValidity = DefaultRateLimitValidity
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &Client{
		http:    httpClient,
		cache:   newResponseCache(opts.CacheCapacity, opts.CacheTTL),
		opts:    opts,
		methods: make(map[string]bool, len(opts.CacheableMethods)),
		cacheOK: make(map[int]bool, len(opts.CacheableStatuses)),
		retryOK: make(map[int]bool, len(opts.RetryableStatuses)),
		logger:  logger.WithField("component", "transport"),
	}
	for _, m := range opts.CacheableMethods {
		c.methods[m] = true
	}
	for _, s := range opts.CacheableStatuses {
		c.cacheOK[s] = true
	}
	for _, s := range opts.RetryableStatuses {
		c.retryOK[s] = true
	}
	return c
}

// CacheStats returns the response cache counters.
func (c *Client) CacheStats() CacheStats {
	return c.cache.Stats()
}

// Do issues a request with the configured cache and retry semantics.
// The returned response is fully buffered. Non-retryable error
// statuses are returned as responses, not errors; callers interpret
// them.
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	cacheable := c.methods[method]
	fp := ""
	if cacheable {
		fp = fingerprint(method, url, body)
		if resp, ok := c.cache.get(fp); ok {
			if c.opts.Metrics != nil {
				c.opts.Metrics.RecordCacheHit()
			}
			c.logger.WithFields(logrus.Fields{
				"method": method,
				"url":    url,
			}).Debug("Serving response from cache")
			return resp, nil
		}
		if c.opts.Metrics != nil {
			c.opts.Metrics.RecordCacheMiss()
		}
	}

	var lastErr error
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = c.opts.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0

	maxAttempts := c.opts.MaxRetryAttempts + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.attempt(ctx, method, url, header, body)
		if err != nil {
			// Transport-level failure (connect error, timeout):
			// retryable unless the caller's context is done.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else if c.retryOK[resp.StatusCode] {
			lastErr = &StatusError{Code: resp.StatusCode, URL: url}
			if resp.StatusCode == http.StatusTooManyRequests {
				c.recordRateLimitDelay(resp)
			}
		} else {
			if cacheable && c.cacheOK[resp.StatusCode] {
				c.cache.put(fp, resp)
			}
			return resp, nil
		}

		if attempt == maxAttempts {
			break
		}
		if c.opts.Metrics != nil {
			c.opts.Metrics.RecordRetry()
		}
		delay := c.nextDelay(bo)
		c.logger.WithFields(logrus.Fields{
			"method":  method,
			"url":     url,
			"attempt": attempt,
			"delay":   delay,
		}).WithError(lastErr).Debug("Retrying request")
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}

	if c.opts.WrapRetryErrors {
		return nil, &RetryExhaustedError{Attempts: maxAttempts, Cause: lastErr}
	}
	return nil, lastErr
}

// attempt performs one HTTP round trip and buffers the response.
func (c *Client) attempt(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// recordRateLimitDelay captures a Retry-After delay from a 429
// response. The delay overrides computed backoff for the next
// RateLimitValidity requests.
func (c *Client) recordRateLimitDelay(resp *Response) {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return
	}

	c.mu.Lock()
	c.overrideDelay = time.Duration(seconds) * time.Second
	c.overrideRemaining = c.opts.RateLimitValidity
	c.mu.Unlock()
}

// nextDelay picks the delay before the next attempt: the server
// override while it remains valid, otherwise exponential backoff plus
// bounded jitter.
func (c *Client) nextDelay(bo *backoff.ExponentialBackOff) time.Duration {
	c.mu.Lock()
	if c.overrideRemaining > 0 {
		c.overrideRemaining--
		delay := c.overrideDelay
		c.mu.Unlock()
		return delay
	}
	c.mu.Unlock()

	delay := bo.NextBackOff()
	if delay > c.opts.MaxBackoff {
		delay = c.opts.MaxBackoff
	}
	if c.opts.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(c.opts.Jitter) + 1))
	}
	return delay
}

// sleepContext waits for the delay or until the context is done.
func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRetryExhausted reports whether err is a retry exhaustion error.
func IsRetryExhausted(err error) bool {
	var exhausted *RetryExhaustedError
	return errors.As(err, &exhausted)
}
