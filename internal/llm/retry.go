package llm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spherical/preview-extractor/internal/domain"
)

// RetryConfig bounds retries of one page recognition. Pages are recognized
// one after another, so every wait here delays the whole extraction.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxElapsed caps the total time spent on one page, waits included.
	// Zero means no cap.
	MaxElapsed time.Duration
}

// DefaultRetryConfig returns the retry policy used for page recognition.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		MaxElapsed:     30 * time.Second,
	}
}

// retryable reports whether a response status is worth another attempt.
// Request timeouts count: large page images are slow to upload.
func retryable(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// backoff doubles from InitialBackoff and is capped at MaxBackoff.
func (r *RetryConfig) backoff(attempt int) time.Duration {
	d := r.InitialBackoff << uint(attempt)
	if d <= 0 || d > r.MaxBackoff {
		return r.MaxBackoff
	}
	return d
}

// delay is the wait before the next attempt. A Retry-After header in
// seconds overrides the backoff but is still capped at MaxBackoff.
func (r *RetryConfig) delay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			if d > r.MaxBackoff {
				d = r.MaxBackoff
			}
			return d
		}
	}
	return r.backoff(attempt)
}

// retryWithBackoff runs reqFunc until it returns 200, a non-retryable
// status, or the retry budget is spent. Non-retryable responses are returned
// as is for the caller to report.
func (c *Client) retryWithBackoff(ctx context.Context, reqFunc func() (*http.Response, error)) (*http.Response, error) {
	policy := c.retry
	if policy == nil {
		policy = DefaultRetryConfig()
	}
	start := time.Now()
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := reqFunc()
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case resp.StatusCode == http.StatusOK:
			return resp, nil
		case !retryable(resp.StatusCode):
			return resp, nil
		default:
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			resp.Body.Close()
		}

		if attempt >= policy.MaxRetries {
			break
		}

		wait := policy.delay(attempt, resp)
		if policy.MaxElapsed > 0 && time.Since(start)+wait > policy.MaxElapsed {
			c.logger.Warn().Dur("elapsed", time.Since(start)).Err(lastErr).Msg("Recognition retry budget spent")
			break
		}

		c.logger.Warn().
			Int("attempt", attempt+1).
			Int("max_retries", policy.MaxRetries).
			Dur("backoff", wait).
			Err(lastErr).
			Msg("Recognition request failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, domain.APIError(fmt.Sprintf("recognition failed after %d retries", policy.MaxRetries), lastErr)
}
