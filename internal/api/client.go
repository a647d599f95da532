package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 5
	defaultBackoff  = 500 * time.Millisecond
)

// Client is a typed Data API client. It is stateless apart from the bearer
// token and safe for concurrent use.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	// Attempts and Backoff tune the transient-failure retry policy.
	// Zero values mean five attempts with 500ms initial backoff, doubling.
	Attempts int
	Backoff  time.Duration

	// Sleep is swapped in tests to avoid real waits.
	Sleep func(time.Duration)
}

// New creates a client with the default retry policy.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) attempts() int {
	if c.Attempts > 0 {
		return c.Attempts
	}
	return defaultAttempts
}

func (c *Client) backoff() time.Duration {
	if c.Backoff > 0 {
		return c.Backoff
	}
	return defaultBackoff
}

func (c *Client) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Do performs one call with the retry policy. The mailer clients share the
// policy through this method; Data API callers use the typed verbs.
func (c *Client) Do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	return c.do(ctx, method, endpoint, query, body, out)
}

// do performs one API call with the retry policy: transient failures
// (transport errors and 5xx) back off exponentially up to the attempt
// budget; 4xx surfaces immediately with the response body.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	delay := c.backoff()
	var lastErr error
	for attempt := 0; attempt < c.attempts(); attempt++ {
		if attempt > 0 {
			c.sleep(delay)
			delay *= 2
		}
		lastErr = c.doOnce(ctx, method, endpoint, query, body, out)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	u := c.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &Error{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// getURL performs a GET against an absolute URL (used to follow pagination
// links, which the API returns fully qualified).
func (c *Client) getURL(ctx context.Context, absolute string, out any) error {
	trimmed := strings.TrimPrefix(absolute, c.BaseURL)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodGet, parsed.Path, parsed.Query(), nil, out)
}

// pageEnvelope is the list-endpoint wrapper: the entity key holds the page
// items and links.next carries the cursor to the next page.
type pageEnvelope struct {
	raw   map[string]json.RawMessage
	Links struct {
		Next string `json:"next"`
	}
}

func (p *pageEnvelope) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &p.raw); err != nil {
		return err
	}
	if links, ok := p.raw["links"]; ok {
		if err := json.Unmarshal(links, &p.Links); err != nil {
			return err
		}
	}
	return nil
}

// listPages returns a lazy, restartable sequence that walks every page of a
// list endpoint. Each range over the sequence starts from the first page.
func listPages[T any](c *Client, ctx context.Context, endpoint, entityKey string, query url.Values) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		next := ""
		for {
			var env pageEnvelope
			var err error
			if next == "" {
				err = c.do(ctx, http.MethodGet, endpoint, query, nil, &env)
			} else {
				err = c.getURL(ctx, next, &env)
			}
			if err != nil {
				yield(zero, err)
				return
			}
			rawItems, ok := env.raw[entityKey]
			if !ok {
				yield(zero, fmt.Errorf("list response missing %q key", entityKey))
				return
			}
			var items []T
			if err := json.Unmarshal(rawItems, &items); err != nil {
				yield(zero, fmt.Errorf("decode %s page: %w", entityKey, err))
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if env.Links.Next == "" {
				return
			}
			next = env.Links.Next
		}
	}
}

// SeqOf builds a sequence from in-memory items. Handy in tests and for the
// supplier-id file filter, which bypasses the list endpoints.
func SeqOf[T any](items ...T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}
