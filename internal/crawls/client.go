package crawls

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultIndexURL lists available crawls, newest first.
const DefaultIndexURL = "https://index.commoncrawl.org/collinfo.json"

// Crawl is one entry of the crawl list.
type Crawl struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client resolves crawl identifiers against the index endpoint.
type Client struct {
	url    string
	client *http.Client
}

// NewClient uses the public index endpoint; url overrides it for tests.
func NewClient(url string) *Client {
	if url == "" {
		url = DefaultIndexURL
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// List fetches all crawls, newest first.
func (c *Client) List(ctx context.Context) ([]Crawl, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch crawl list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crawl list endpoint returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var crawls []Crawl
	if err := json.Unmarshal(body, &crawls); err != nil {
		return nil, fmt.Errorf("parse crawl list: %w", err)
	}
	return crawls, nil
}

// Latest returns the newest crawl id.
func (c *Client) Latest(ctx context.Context) (string, error) {
	crawls, err := c.List(ctx)
	if err != nil {
		return "", err
	}
	if len(crawls) == 0 {
		return "", fmt.Errorf("crawl list is empty")
	}
	return crawls[0].ID, nil
}

// LastN returns the newest n crawl ids, newest first.
func (c *Client) LastN(ctx context.Context, n int) ([]string, error) {
	crawls, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	if n > len(crawls) {
		n = len(crawls)
	}
	ids := make([]string, 0, n)
	for _, crawl := range crawls[:n] {
		ids = append(ids, crawl.ID)
	}
	return ids, nil
}
