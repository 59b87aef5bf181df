package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to the remote record store REST API. The store exposes
// filtered row queries (eq./ilike. operators), exact-count responses via the
// Prefer header, delete-by-filter, and RPC endpoints for privileged writes.
type Client struct {
	baseURL string
	token   string
	http    *resty.Client
}

// NewClient creates a record store client. Every request carries the bearer
// token and an explicit timeout; transient 429/5xx responses are retried.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}

	client.http = resty.New().
		SetHeader("User-Agent", "deepwatch-client").
		SetAuthToken(token).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry on 429 (Too Many Requests) and 5xx server errors
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	return client
}

// Get performs a GET request against the record store
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	return req.Get(c.buildURL(endpoint))
}

// Post performs a POST request against the record store
func (c *Client) Post(ctx context.Context, endpoint string, payload interface{}) (*resty.Response, error) {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.buildURL(endpoint))
}

// Delete performs a DELETE request against the record store
func (c *Client) Delete(ctx context.Context, endpoint string, params map[string]string, headers map[string]string) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	if headers != nil {
		req.SetHeaders(headers)
	}
	return req.Delete(c.buildURL(endpoint))
}

// buildURL constructs the full URL for an endpoint
func (c *Client) buildURL(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	return fmt.Sprintf("%s/%s", c.baseURL, endpoint)
}

// SetTimeout allows customizing the timeout for specific operations
func (c *Client) SetTimeout(timeout time.Duration) {
	c.http.SetTimeout(timeout)
}

// eq formats an equality filter value for the store's query syntax.
func eq(value string) string {
	return "eq." + value
}

// containsInsensitive formats a case-insensitive substring filter value.
func containsInsensitive(marker string) string {
	return "ilike.*" + marker + "*"
}

// parseContentRange extracts the exact row count from a Content-Range header
// of the form "0-24/3573" or "*/0".
func parseContentRange(header string) (int64, error) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return 0, fmt.Errorf("malformed Content-Range header: %q", header)
	}
	count, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range count: %q", header)
	}
	return count, nil
}
