package pipeline

import "fmt"

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 512

// StatusError reports a non-success HTTP response from an upstream API.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

// NewStatusError builds a StatusError, truncating the body.
func NewStatusError(url string, code int, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{URL: url, StatusCode: code, Body: string(body)}
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}
