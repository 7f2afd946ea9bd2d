// Package srd is an HTTP client for the D&D 5e SRD rules API
// (https://www.dnd5eapi.co).
package srd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thinhdabezt/hexbound-vtt/internal/catalog"
)

// maxDocument bounds the size of one response body.
const maxDocument = 4 << 20

// Client fetches listings and documents from the SRD API.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient returns a Client rooted at baseURL.
//
// Precondition: baseURL is an absolute http(s) URL; timeout > 0.
// Postcondition: Returns a Client or an error if baseURL does not parse.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing feed url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("feed url %q must be absolute", baseURL)
	}
	return &Client{base: u, http: &http.Client{Timeout: timeout}}, nil
}

var _ catalog.Feed = (*Client)(nil)

type listing struct {
	Count   int                 `json:"count"`
	Results []catalog.Reference `json:"results"`
}

// ListMonsters implements catalog.Feed.
func (c *Client) ListMonsters(ctx context.Context) ([]catalog.Reference, error) {
	return c.list(ctx, "/api/monsters")
}

// ListSpells implements catalog.Feed.
func (c *Client) ListSpells(ctx context.Context) ([]catalog.Reference, error) {
	return c.list(ctx, "/api/spells")
}

func (c *Client) list(ctx context.Context, path string) ([]catalog.Reference, error) {
	raw, err := c.Fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	var l listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return l.Results, nil
}

// Fetch implements catalog.Feed. ref may be a path relative to the base URL
// (as the listing returns) or an absolute URL on the same host.
func (c *Client) Fetch(ctx context.Context, ref string) (json.RawMessage, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocument))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", target, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("GET %s: body is not JSON", target)
	}
	return json.RawMessage(body), nil
}

func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing reference %q: %w", ref, err)
	}
	if u.IsAbs() {
		if u.Host != c.base.Host {
			return "", fmt.Errorf("reference %q is not on feed host %s", ref, c.base.Host)
		}
		return u.String(), nil
	}
	return c.base.ResolveReference(u).String(), nil
}
