package catalog

import "fmt"

// CatalogFormatError is returned when the catalog endpoint answers with a
// payload that is not a successful item list.
type CatalogFormatError struct {
	Reason string
	Err    error
}

func (e *CatalogFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid catalog payload: %s: %v", e.Reason, e.Err)
	}

	return "invalid catalog payload: " + e.Reason
}

func (e *CatalogFormatError) Unwrap() error {
	return e.Err
}
