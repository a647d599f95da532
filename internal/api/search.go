package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SearchClient talks to the Search API. One index per framework; scripts
// own the alias for their framework and rotate it with a two-step swap.
type SearchClient struct {
	client *Client
}

// NewSearch creates a search client with the shared retry policy.
func NewSearch(baseURL, token string) *SearchClient {
	return &SearchClient{client: New(baseURL, token)}
}

// CreateIndex creates an index with the given mapping name.
func (s *SearchClient) CreateIndex(ctx context.Context, name, mapping string) error {
	body := map[string]any{"type": "index", "mapping": mapping}
	return s.client.do(ctx, http.MethodPut, "/"+url.PathEscape(name), nil, body, nil)
}

// Index writes one document into an index.
func (s *SearchClient) Index(ctx context.Context, index, docID string, doc map[string]any, docType string) error {
	endpoint := fmt.Sprintf("/%s/%s/%s", url.PathEscape(index), url.PathEscape(docType), url.PathEscape(docID))
	body := map[string]any{"document": doc}
	return s.client.do(ctx, http.MethodPut, endpoint, nil, body, nil)
}

// Delete removes one document from an index. Deleting an absent document
// is a no-op.
func (s *SearchClient) Delete(ctx context.Context, index, docType, docID string) error {
	endpoint := fmt.Sprintf("/%s/%s/%s", url.PathEscape(index), url.PathEscape(docType), url.PathEscape(docID))
	err := s.client.do(ctx, http.MethodDelete, endpoint, nil, nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// SetAlias points an alias at a target index.
func (s *SearchClient) SetAlias(ctx context.Context, alias, target string) error {
	body := map[string]any{"type": "alias", "target": target}
	return s.client.do(ctx, http.MethodPut, "/"+url.PathEscape(alias), nil, body, nil)
}

// AliasTarget resolves the index an alias currently points at, or "" when
// the alias does not exist yet.
func (s *SearchClient) AliasTarget(ctx context.Context, alias string) (string, error) {
	var resp struct {
		Status struct {
			Aliased string `json:"aliased"`
		} `json:"status"`
	}
	err := s.client.do(ctx, http.MethodGet, "/"+url.PathEscape(alias), nil, nil, &resp)
	if IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return resp.Status.Aliased, nil
}

// SwapAlias rotates alias onto target: the previous target is kept behind
// "<alias>-old", giving routine two-copy retention. The index retired from
// "<alias>-old" is left for manual deletion.
func (s *SearchClient) SwapAlias(ctx context.Context, alias, target string) error {
	current, err := s.AliasTarget(ctx, alias)
	if err != nil {
		return fmt.Errorf("resolve alias %s: %w", alias, err)
	}
	if current == target {
		return nil
	}
	if current != "" {
		if err := s.SetAlias(ctx, alias+"-old", current); err != nil {
			return fmt.Errorf("retire %s to %s-old: %w", current, alias, err)
		}
	}
	if err := s.SetAlias(ctx, alias, target); err != nil {
		return fmt.Errorf("set alias %s -> %s: %w", alias, target, err)
	}
	return nil
}

// TimestampedIndexName builds the conventional index name for a framework,
// e.g. "g-cloud-12-2020-09-29".
func TimestampedIndexName(frameworkSlug string, now time.Time) string {
	return strings.ToLower(frameworkSlug) + "-" + now.UTC().Format("2006-01-02")
}
