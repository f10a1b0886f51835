package pipeline

import (
	"net/http"
	"time"

	"github.com/JakeFAU/iati-climate-dataset/internal/dataset"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Page is one cursor step of a datastore search.
type Page struct {
	// Number is the 1-based position of the page in the run.
	Number int
	// Cursor is the cursor mark the page was requested with.
	Cursor string
	// NextCursor is the cursor mark returned by the server.
	NextCursor string
	// NumFound is the total match count reported by the server.
	NumFound int
	// Activities holds the raw documents on this page.
	Activities []dataset.Activity
	// Duration is the request latency.
	Duration time.Duration
}

// Last reports whether the server signalled exhaustion by echoing the cursor.
func (p Page) Last() bool {
	return p.NextCursor == p.Cursor
}

// RunStatus represents the outcome of a dataset build.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the ledger entry and API summary for one dataset build.
type Run struct {
	ID           string         `json:"id"`
	PublisherRef string         `json:"publisher_ref"`
	Status       RunStatus      `json:"status"`
	Started      time.Time      `json:"started_at"`
	Finished     time.Time      `json:"finished_at"`
	Pages        int            `json:"pages"`
	Fetched      int            `json:"fetched"`
	Unique       int            `json:"unique"`
	Balanced     int            `json:"balanced"`
	Counts       dataset.Counts `json:"counts"`
	BlobURI      string         `json:"blob_uri,omitempty"`
	ContentHash  string         `json:"content_hash,omitempty"`
	ErrorText    string         `json:"error_text,omitempty"`
}

// RunFilter narrows a run listing. Zero values match everything; results are
// ordered newest first.
type RunFilter struct {
	PublisherRef string
	Status       RunStatus
	Limit        int
	Offset       int
}

// ReadyNotification is published once a balanced dataset has been stored.
type ReadyNotification struct {
	RunID        string `json:"run_id"`
	PublisherRef string `json:"publisher_ref"`
	BlobURI      string `json:"blob_uri"`
	ContentHash  string `json:"content_hash"`
	Rows         int    `json:"rows"`
}
