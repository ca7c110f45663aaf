package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"DataHarvester/internal/ports"
)

const defaultUserAgent = "DataHarvester/1.0"

// Client issues the harvester's outbound API calls. It owns the base URL,
// the bearer credential and the connection pool tuning; callers only supply
// the endpoint path and query parameters.
type Client struct {
	baseURL   string
	authToken string
	userAgent string
	http      *http.Client
}

// Option adjusts a Client at construction time.
type Option func(*Client)

// WithAuthToken attaches a bearer token to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = strings.TrimSpace(token) }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient substitutes the underlying http.Client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient builds a Client rooted at baseURL with a tuned connection pool.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: defaultUserAgent,
		http:      &http.Client{Transport: tr, Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request performs one GET (or other method) against target, which may be an
// absolute URL or a path relative to the client's base. Query parameters are
// merged into the URL. Any HTTP status is returned as a Response; only
// transport-level failures surface as errors.
func (c *Client) Request(ctx context.Context, method, target string, params map[string]string) (*ports.Response, error) {
	full, err := c.resolve(target)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		q := full.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		full.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, full.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.1")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", full.String(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", full.String(), err)
	}
	return &ports.Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) resolve(target string) (*url.URL, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse url %q: %w", target, err)
		}
		return u, nil
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("relative url %q without a base url", target)
	}
	u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(target, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", target, err)
	}
	return u, nil
}

var _ ports.Requester = (*Client)(nil)
