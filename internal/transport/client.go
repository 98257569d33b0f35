package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxErrorBody = 64 << 10

// Client is a request client bound to a base URL. Its HTTP transport is the
// factory's credential transport; there is no way to send through it without
// the credential contract.
type Client struct {
	name string
	base *url.URL
	http *http.Client
}

// Name returns the client name used in metrics and errors.
func (c *Client) Name() string { return c.name }

// BaseURL returns the client's base address.
func (c *Client) BaseURL() string { return c.base.String() }

// HTTPClient exposes the underlying client for callers that build their own
// requests; it shares the credential transport.
func (c *Client) HTTPClient() *http.Client { return c.http }

// NewRequest builds a request for path relative to the base URL. A non-nil
// body is encoded as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: nil context", ErrInvalidInput)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: path %q", ErrInvalidInput, path)
	}
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encode body: %v", ErrInvalidInput, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req and decodes a 2xx JSON response into out (when non-nil).
// Non-2xx responses become *StatusError; the caller always sees the failure,
// including credential rejections the transport already acted on.
func (c *Client) Do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %s %s: %w", c.name, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Client:     c.name,
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", c.name, req.URL.Path, err)
	}
	return nil
}

// GetJSON issues GET path and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.Do(req, out)
}

// PostJSON issues POST path with body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	req, err := c.NewRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return c.Do(req, out)
}
