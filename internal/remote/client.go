// Package remote is the HTTP client for the match-history API.
//
// It performs exactly one request per call and reports the raw response;
// classifying responses into outcomes is the fetch package's job.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/matchlog/internal/record"
)

// DefaultBaseURL is the public game API.
const DefaultBaseURL = "https://open-api.bser.io"

// maxBodyBytes bounds a single response body.
const maxBodyBytes = 16 << 20

// Config configures a Client.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Response is one raw API response.
type Response struct {
	StatusCode int
	Body       []byte
	RetryAfter time.Duration // from the Retry-After header, zero when absent
}

// Client fetches records by ID.
type Client struct {
	http      *http.Client
	base      *url.URL
	apiKey    string
	userAgent string
	now       func() time.Time
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", base)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "matchlog"
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		base:      u,
		apiKey:    cfg.APIKey,
		userAgent: ua,
		now:       time.Now,
	}, nil
}

// URL returns the request URL for id.
func (c *Client) URL(id record.ID) string {
	return c.base.JoinPath("v1", "games", id.String()).String()
}

// Get requests a single record. A non-nil error means no HTTP response was
// received (DNS, connect, timeout, cancelled context).
func (c *Client) Get(ctx context.Context, id record.ID) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(id), nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	return Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
	}, nil
}

// ParseRetryAfter reads a Retry-After header given as delay-seconds or an
// HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
