// Package backend is the HTTP client for the GadgetCloud REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnauthorized matches any API error caused by a missing, invalid or
// expired credential.
var ErrUnauthorized = errors.New("backend: unauthorized")

// ErrForbidden matches API errors for authenticated but denied requests.
var ErrForbidden = errors.New("backend: forbidden")

// APIError is returned for every non-2xx response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("backend returned status %d", e.Status)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	}
	return false
}

// Detail extracts a user-facing message from err: the backend's detail for
// API errors, a generic fallback otherwise.
func Detail(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

// TokenSource returns the bearer credential to attach, or "".
type TokenSource func() string

// Client wraps interactions with the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithToken attaches a bearer credential from tokens to every request except
// login and signup.
func WithToken(tokens TokenSource) Option {
	return func(c *Client) {
		base := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout:   c.httpClient.Timeout,
			Transport: &BearerTransport{Base: base, Token: tokens},
		}
	}
}

// NewClient constructs a new client for baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// With returns a copy of c with extra options applied.
func (c *Client) With(opts ...Option) *Client {
	clone := &Client{baseURL: c.baseURL, httpClient: c.httpClient}
	for _, opt := range opts {
		opt(clone)
	}
	return clone
}

// BaseURL exposes the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks if the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	return c.doWithHeader(ctx, method, path, query, nil, in, out)
}

func (c *Client) doWithHeader(ctx context.Context, method, path string, query url.Values, header http.Header, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s %s: %w", method, path, err)
	}
	return nil
}

// errorBody covers both FastAPI style {"detail": ...} and RFC7807 bodies.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Title  string          `json:"title"`
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(raw) == 0 {
		return apiErr
	}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return apiErr
	}
	var detail string
	if len(body.Detail) > 0 && json.Unmarshal(body.Detail, &detail) == nil {
		apiErr.Detail = detail
	} else if len(body.Detail) > 0 {
		// validation errors come back as a list; keep them readable
		apiErr.Detail = string(body.Detail)
	}
	if apiErr.Detail == "" {
		apiErr.Detail = body.Title
	}
	return apiErr
}
