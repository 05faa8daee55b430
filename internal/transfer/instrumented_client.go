package transfer

import (
	"context"
	"errors"

	"github.com/italolelis/appstore_downloader/internal/telemetry"
)

// InstrumentedFetcher wraps Fetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher   Fetcher
	telemetry *telemetry.Telemetry
}

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:   fetcher,
		telemetry: tel,
	}
}

// Fetch opens the artifact stream inside a "fetch_artifact" span. Failures other
// than cancellation are counted as transfer system errors.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, url string) (*Artifact, error) {
	var result *Artifact

	err := f.telemetry.InstrumentOperation(ctx, "fetch_artifact", "transfer", func(ctx context.Context) error {
		var err error
		result, err = f.fetcher.Fetch(ctx, url)

		return err
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			f.telemetry.RecordSystemError("transfer", errorType(err))
		}

		return nil, err
	}

	return result, nil
}

func errorType(err error) string {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		if netErr.StatusCode > 0 {
			return "http_status"
		}

		return "network"
	}

	return "unknown"
}
