package progress

import "io"

// Reader wraps an io.Reader and reports the cumulative number of bytes read via a callback.
type Reader struct {
	Reader         io.Reader
	Total          int64
	OnProgress     func(written int64, total int64)
	totalRead      int64 // cumulative total
	lastReport     int64 // bytes since last report
	reportInterval int64 // bytes; 0 reports on every read
}

// NewReader returns a Reader that calls cb at most once per interval bytes, and
// always once more when the underlying reader reaches EOF.
func NewReader(r io.Reader, total int64, interval int64, cb func(written int64, total int64)) *Reader {
	return &Reader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.reportInterval {
			pr.report()
		}
	}

	if err == io.EOF && pr.lastReport > 0 {
		pr.report()
	}

	return n, err
}

// Written returns the number of bytes read so far.
func (pr *Reader) Written() int64 {
	return pr.totalRead
}

func (pr *Reader) report() {
	pr.lastReport = 0

	if pr.OnProgress != nil {
		pr.OnProgress(pr.totalRead, pr.Total)
	}
}

// Fraction returns written/expected clamped to [0,1]. An unknown (zero or
// negative) expected size yields 0.
func Fraction(written, expected int64) float64 {
	if expected <= 0 || written <= 0 {
		return 0
	}

	if written >= expected {
		return 1
	}

	return float64(written) / float64(expected)
}
