// Package mantis implements the session-emulation scraper for the legacy
// Mantis bug tracker: form-based login, saved-filter CSV export, and
// per-ticket detail page extraction. The tracker has no API; everything
// here works against the HTML UI.
package mantis

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/copro-tools/pilotage/internal/common"
)

// retryBackoffs are the delays between the attempts of one logical request.
// The policy is uniform: timeouts, connection errors and HTTP error codes
// all retry the same way, matching the legacy dashboard's behavior.
var retryBackoffs = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}

const maxRedirects = 5

// Response is the outcome of one (possibly retried) request. FinalURL is
// the resolved URL after redirects; the authenticator inspects it to
// detect a login loop.
type Response struct {
	StatusCode int
	Body       string
	FinalURL   *url.URL
}

// Client is a cookie-jar-backed HTTP client bound to one Mantis session.
// All calls share the jar, so a successful login persists for the life of
// the instance. Sessions expire server-side between runs; create a fresh
// client per job and log in again.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	userAgent  string
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

// NewClient creates a session client for the configured tracker. The
// correlation id tags every log line produced on behalf of this session.
func NewClient(cfg common.MantisConfig, correlationID string, logger arbor.ILogger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid mantis base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		baseURL:   base,
		userAgent: cfg.UserAgent,
		timeout:   timeout,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		logger:    logger.WithCorrelationId(correlationID),
	}, nil
}

// Get performs a GET against a tracker path with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	target := path
	if len(query) > 0 {
		target = path + "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, target, "")
}

// PostForm performs a form-encoded POST against a tracker path.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, form.Encode())
}

// Resolve resolves a possibly relative tracker path against the base URL.
func (c *Client) Resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return c.baseURL.ResolveReference(ref).String()
}

// do issues the request with the uniform retry policy: up to three total
// attempts with fixed increasing backoff. A non-2xx/3xx status counts as
// a failure the same way a timeout does.
func (c *Client) do(ctx context.Context, method, path, body string) (*Response, error) {
	target := c.Resolve(path)
	c.logger.Debug().Str("method", method).Str("url", target).Msg("Mantis request")

	var lastErr error
	for attempt := 1; attempt <= len(retryBackoffs); attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		res, err := c.attempt(ctx, method, target, body)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt < len(retryBackoffs) {
			delay := retryBackoffs[attempt-1]
			c.logger.Debug().
				Int("attempt", attempt).
				Dur("backoff", delay).
				Err(err).
				Msg("Request failed, retrying")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	c.logger.Warn().Str("method", method).Str("url", target).Err(lastErr).Msg("All retry attempts exhausted")
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, target, body string) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("request returned status %d", resp.StatusCode)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       string(data),
		FinalURL:   resp.Request.URL,
	}, nil
}
