package quill

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

const (
	// DefaultTimeout is the default HTTP timeout used by the client.
	DefaultTimeout = 10 * time.Second

	// DefaultBaseURL is the backend address used when nothing is configured.
	DefaultBaseURL = "http://localhost:8000"

	maxResponseSize = 10 * 1024 * 1024
)

// Client is a quill backend HTTP client.
//
// It covers the REST surface used by the owning UI. The realtime channel lives
// in the realtime package and only needs BookStreamURL from here.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	exportClient *http.Client // No response timeout; exports stream a whole book.
	apiKey       string
}

// New creates a new client.
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		exportClient: &http.Client{},
	}, nil
}

// NewWithAPIKey creates a new client that sends a bearer token on every request.
func NewWithAPIKey(baseURL, apiKey string) (*Client, error) {
	c, err := New(baseURL)
	if err != nil {
		return nil, err
	}
	c.apiKey = apiKey
	return c, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("quill: http %d", e.StatusCode)
	}
	return fmt.Sprintf("quill: http %d: %s", e.StatusCode, e.Body)
}

// Detail extracts FastAPI's {"detail": "..."} message when present.
func (e *APIError) Detail() string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal([]byte(e.Body), &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return e.Body
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) put(ctx context.Context, path string, in any, out any) error {
	return c.do(ctx, http.MethodPut, path, in, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	resp, err := c.doRaw(ctx, c.httpClient, method, path, "application/json", in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseSize)
	data, err := io.ReadAll(limited)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return err
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, hc *http.Client, method, path, accept string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
