package salesforce

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrMalformedQuery matches API errors caused by a bad SOQL statement.
	ErrMalformedQuery = errors.New("salesforce: malformed query")

	// ErrJobFailed is returned when a Bulk query job ends in Failed or
	// Aborted.
	ErrJobFailed = errors.New("salesforce: bulk job failed")

	ErrLogin = errors.New("salesforce: login failed")
)

// APIError is a non-2xx response from the REST or Bulk API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("salesforce: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("salesforce: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Is reports MALFORMED_QUERY and INVALID_FIELD errors as ErrMalformedQuery.
func (e *APIError) Is(target error) bool {
	if target != ErrMalformedQuery {
		return false
	}
	return e.Code == "MALFORMED_QUERY" || e.Code == "INVALID_FIELD"
}

// apiError builds an APIError from an error response. Salesforce returns a
// JSON array of {errorCode, message}; only the first entry is kept.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &APIError{StatusCode: resp.StatusCode}

	var list []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		e.Code = list[0].ErrorCode
		e.Message = list[0].Message
		return e
	}

	e.Message = string(body)
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}
