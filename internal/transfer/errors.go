package transfer

import "fmt"

// NetworkError represents a transfer that could not complete because of the
// remote side: connection failures, non-2xx responses or a stream that broke
// while the artifact was being copied.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "fetch_artifact", "copy_artifact")
	URL        string // The artifact URL
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the server or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FileError represents a failure to create or write the local destination file.
type FileError struct {
	Path string // Destination path
	Op   string // "create", "write" or "remove"
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file error during %s of %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
