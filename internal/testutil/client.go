// Package testutil provides helpers for the integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"
)

// Client calls the API under test. When a validator and a *testing.T are set,
// every response is checked against the OpenAPI document.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	validator  *OpenAPIValidator
	t          *testing.T
}

// NewClient returns an anonymous client without response validation.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithValidator returns a client that validates responses with v.
// Call SetT before use; TestMain has no *testing.T to hand over.
func NewClientWithValidator(baseURL string, v *OpenAPIValidator) *Client {
	c := NewClient(baseURL)
	c.validator = v
	return c
}

// SetT sets the test that validation failures are reported to.
func (c *Client) SetT(t *testing.T) {
	c.t = t
}

// WithoutValidation returns a copy that skips response validation, for tests
// that send malformed input on purpose.
func (c *Client) WithoutValidation() *Client {
	clone := *c
	clone.validator = nil
	return &clone
}

// WithToken returns a copy that authenticates with the bearer token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// GET sends a GET request.
func (c *Client) GET(path string) (*http.Response, error) {
	return c.send(http.MethodGet, path, nil)
}

// POST sends a POST request with body encoded as JSON. A nil body sends none.
func (c *Client) POST(path string, body any) (*http.Response, error) {
	return c.send(http.MethodPost, path, body)
}

func (c *Client) send(method, path string, body any) (*http.Response, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if c.validator != nil && c.t != nil {
		c.validator.ValidateResponse(c.t, req, resp)
	}
	return resp, nil
}

// DecodeJSON decodes the response body into v and closes it.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ReadBody returns the response body as a string and closes it.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return string(body)
}
