package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error wraps a non-2xx Data API or Search API response.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 response, e.g. a uniqueness
// violation on a supplier's DUNS number. Conflicts are never retried.
func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

func retryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	// Transport-level failures (timeout, connection reset) arrive as
	// plain errors from the HTTP client.
	return err != nil
}
