// Package client talks to a restq server over HTTP.
//
//	c, err := client.New("http://localhost:8586/")
//	if err != nil {
//		return err
//	}
//	crawl := c.Realm("crawl")
//	_ = crawl.Add(ctx, "job-1", "0", map[string]string{"url": "https://example.com"})
//	jobs, err := crawl.Pull(ctx, 5)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SirClappington/restq/internal/api"
	"github.com/SirClappington/restq/internal/domain"
)

type Client struct {
	base *url.URL
	http *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New returns a client for the server at uri. A missing trailing slash is
// added.
func New(uri string, opts ...Option) (*Client, error) {
	if !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	base, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("client: parse uri: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", base.Scheme)
	}
	c := &Client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx response. It unwraps to the domain error matching
// its code, so errors.Is(err, domain.ErrNotFound) works across the wire.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("restq: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case api.CodeNotFound:
		return domain.ErrNotFound
	case api.CodeConflict:
		return domain.ErrDataConflict
	case api.CodeInvalidTransition:
		return domain.ErrInvalidTransition
	case api.CodeBadRequest, api.CodeTooLarge:
		return domain.ErrBadRequest
	}
	return nil
}

// Realms returns the status of every realm loaded by the server.
func (c *Client) Realms(ctx context.Context) (map[string]domain.RealmStatus, error) {
	var out map[string]domain.RealmStatus
	err := c.do(ctx, http.MethodGet, "", nil, nil, &out)
	return out, err
}

// Pull leases up to count jobs across realms, or across all loaded realms
// when none are named.
func (c *Client) Pull(ctx context.Context, count int, realms ...string) ([]domain.Dispatch, error) {
	q := url.Values{"count": {strconv.Itoa(count)}}
	for _, r := range realms {
		q.Add("realm", r)
	}
	var out []domain.Dispatch
	err := c.do(ctx, http.MethodGet, "jobs", q, nil, &out)
	return out, err
}

func (c *Client) AddJobs(ctx context.Context, jobs []api.BulkJob) (api.BulkResult, error) {
	var out api.BulkResult
	err := c.do(ctx, http.MethodPost, "jobs", nil, api.BulkRequest{Jobs: jobs}, &out)
	return out, err
}

func (c *Client) RemoveJobs(ctx context.Context, jobs []api.BulkJob) (api.BulkResult, error) {
	var out api.BulkResult
	err := c.do(ctx, http.MethodDelete, "jobs", nil, api.BulkRequest{Jobs: jobs}, &out)
	return out, err
}

func (c *Client) Realm(id string) *Realm {
	return &Realm{c: c, id: id}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base.JoinPath(path)
	if path == "" {
		root := *c.base
		u = &root
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var er api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
			apiErr.Code, apiErr.Message = er.Code, er.Error
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

