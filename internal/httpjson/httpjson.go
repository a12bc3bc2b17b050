// Package httpjson holds the JSON-over-HTTP plumbing shared by the backend clients.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 512

// Client is a base URL plus the HTTP client used to reach it.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// New parses baseURL and creates a client with the given request timeout.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("could not parse url %q: %w", baseURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("url %q must be absolute", baseURL)
	}
	return &Client{
		baseURL: parsed,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// resolveURL joins path segments onto the base URL, escaping each one.
func (c *Client) resolveURL(pathSegments ...string) string {
	escaped := make([]string, len(pathSegments))
	for i, seg := range pathSegments {
		escaped[i] = url.PathEscape(seg)
	}
	return c.baseURL.JoinPath(escaped...).String()
}

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Body)
}

// Get performs a GET request and unmarshals the JSON response.
func Get[T any](ctx context.Context, c *Client, pathSegments ...string) (*T, error) {
	return Do[T](ctx, c, http.MethodGet, nil, pathSegments...)
}

// Post performs a POST request with a JSON body and unmarshals the JSON response.
func Post[T any](ctx context.Context, c *Client, requestBody any, pathSegments ...string) (*T, error) {
	return Do[T](ctx, c, http.MethodPost, requestBody, pathSegments...)
}

// Do performs a request with an optional JSON body.
//
// For non-2xx responses it returns a *StatusError, together with the decoded
// body when the server still answered with JSON, so callers can surface the
// backend's own error message.
func Do[T any](ctx context.Context, c *Client, method string, requestBody any, pathSegments ...string) (*T, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		jsonBody, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolveURL(pathSegments...), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	var result T
	decodeErr := json.Unmarshal(body, &result)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Code: resp.StatusCode, Body: truncate(strings.TrimSpace(string(body)))}
		if decodeErr != nil {
			return nil, statusErr
		}
		return &result, statusErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", decodeErr)
	}
	return &result, nil
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}
