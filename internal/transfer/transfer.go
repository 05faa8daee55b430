package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Artifact is an open stream of a remote installable package.
type Artifact struct {
	Body io.ReadCloser
	// Size is the expected number of bytes, or 0 when the server did not announce it.
	Size int64
	// ContentType as reported by the server.
	ContentType string
}

// Fetcher opens artifact streams. Cancelling ctx must abort a pending Read on Body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Artifact, error)
}

// HTTPFetcher fetches artifacts over HTTP(S).
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher whose transport is instrumented with otelhttp.
// connectTimeout bounds the time to receive response headers; the body itself
// streams without a deadline and is bounded only by the context.
func NewHTTPFetcher(connectTimeout time.Duration) *HTTPFetcher {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = connectTimeout

	return &HTTPFetcher{
		client: &http.Client{Transport: otelhttp.NewTransport(base)},
	}
}

// NewHTTPFetcherWithClient is used when the caller owns the client (tests, proxies).
func NewHTTPFetcherWithClient(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// Fetch issues a GET for url and returns the open body.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{Operation: "fetch_artifact", URL: url, APIMessage: "invalid request", Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}

		return nil, &NetworkError{Operation: "fetch_artifact", URL: url, APIMessage: err.Error(), Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, &NetworkError{
			Operation:  "fetch_artifact",
			URL:        url,
			StatusCode: resp.StatusCode,
			APIMessage: statusMessage(resp.StatusCode, msg),
		}
	}

	size := resp.ContentLength
	if size < 0 {
		size = 0
	}

	return &Artifact{
		Body:        resp.Body,
		Size:        size,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func statusMessage(code int, body []byte) string {
	if text := strings.TrimSpace(string(body)); text != "" {
		return fmt.Sprintf("%s: %s", http.StatusText(code), text)
	}

	return http.StatusText(code)
}
