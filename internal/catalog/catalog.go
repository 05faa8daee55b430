package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	statusSuccess = "success"

	// maxPayload bounds the catalog body; a real catalog is a few kilobytes.
	maxPayload = 4 << 20
)

// Item is one installable entry of the remote catalog.
type Item struct {
	ImagePath   string `json:"rutaIMG"`
	ArtifactURL string `json:"artefacto"`
	DisplayName string `json:"Name"`
}

// ImageURL resolves the item's image path against base. Absolute image
// paths are returned unchanged.
func (i Item) ImageURL(base string) string {
	if i.ImagePath == "" {
		return ""
	}

	ref, err := url.Parse(i.ImagePath)
	if err != nil || ref.IsAbs() || base == "" {
		return i.ImagePath
	}

	b, err := url.Parse(strings.TrimSuffix(base, "/") + "/")
	if err != nil {
		return i.ImagePath
	}

	return b.ResolveReference(&url.URL{Path: strings.TrimPrefix(ref.Path, "/"), RawQuery: ref.RawQuery}).String()
}

type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// Client reads the catalog endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Fetch retrieves the current list of items. A payload that is not a
// successful item list yields a *CatalogFormatError.
func (c *Client) Fetch(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog endpoint returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	return parse(body)
}

func parse(body []byte) ([]Item, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &CatalogFormatError{Reason: "malformed json", Err: err}
	}

	if r.Status != statusSuccess {
		return nil, &CatalogFormatError{Reason: fmt.Sprintf("status %q", r.Status)}
	}

	var items []Item
	if err := json.Unmarshal(r.Data, &items); err != nil {
		return nil, &CatalogFormatError{Reason: "data is not a list of items", Err: err}
	}

	if items == nil {
		items = []Item{}
	}

	return items, nil
}
