package pipeline

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned by RunStore implementations for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Fetcher performs a single HTTP GET and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageSource yields the search result pages for a publisher, in cursor order.
// Iteration stops after the first error.
type PageSource interface {
	Pages(ctx context.Context, publisherRef string) iter.Seq2[Page, error]
}

// BlobStore writes the exported dataset and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RunStore persists the ledger of dataset builds.
type RunStore interface {
	RecordRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	Close() error
}

// Publisher pushes dataset-ready notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests for exported files.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
