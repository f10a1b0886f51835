// Package datastore queries the IATI Datastore activity search API and exposes
// its cursor pagination as a lazy sequence of pages.
package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/iati-climate-dataset/internal/dataset"
	"github.com/JakeFAU/iati-climate-dataset/internal/pipeline"
)

// DefaultBaseURL is the public activity search endpoint.
const DefaultBaseURL = "https://api.iatistandard.org/datastore/activity/select"

// DefaultPageSize is the number of documents requested per cursor step.
const DefaultPageSize = 1000

// SubscriptionKeyHeader carries the API subscription key.
const SubscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// InitialCursor starts a cursor-mark traversal.
const InitialCursor = "*"

// Fields requested from the search index.
var Fields = []string{"iati_identifier", "title_narrative", "tag_narrative"}

// ErrMalformedResponse wraps JSON decoding failures.
var ErrMalformedResponse = errors.New("malformed datastore response")

// Config controls the search client.
type Config struct {
	BaseURL         string
	SubscriptionKey string
	PageSize        int
}

// Client issues search requests through a pipeline.Fetcher.
type Client struct {
	cfg     Config
	fetcher pipeline.Fetcher
	logger  *zap.Logger
}

// NewClient constructs a Client. The subscription key is taken from cfg and
// sent on every request.
func NewClient(cfg Config, fetcher pipeline.Fetcher, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, fetcher: fetcher, logger: logger}, nil
}

type searchResponse struct {
	Response struct {
		NumFound int                `json:"numFound"`
		Docs     []dataset.Activity `json:"docs"`
	} `json:"response"`
	NextCursorMark string `json:"nextCursorMark"`
}

// SearchPage fetches a single page for publisherRef starting at cursor.
func (c *Client) SearchPage(ctx context.Context, publisherRef, cursor string) (pipeline.Page, error) {
	reqURL, err := c.searchURL(publisherRef, cursor)
	if err != nil {
		return pipeline.Page{}, err
	}
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if c.cfg.SubscriptionKey != "" {
		headers.Set(SubscriptionKeyHeader, c.cfg.SubscriptionKey)
	}
	resp, err := c.fetcher.Fetch(ctx, pipeline.FetchRequest{URL: reqURL, Headers: headers})
	if err != nil {
		return pipeline.Page{}, fmt.Errorf("search %s: %w", publisherRef, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pipeline.Page{}, fmt.Errorf("search %s: %w", publisherRef,
			pipeline.NewStatusError(reqURL, resp.StatusCode, resp.Body))
	}

	var body searchResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return pipeline.Page{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return pipeline.Page{
		Cursor:     cursor,
		NextCursor: body.NextCursorMark,
		NumFound:   body.Response.NumFound,
		Activities: body.Response.Docs,
		Duration:   resp.Duration,
	}, nil
}

// Pages walks the cursor chain for publisherRef, yielding each page as it
// arrives. The sequence ends when the server echoes the cursor it was sent,
// regardless of numFound, or after the first error.
func (c *Client) Pages(ctx context.Context, publisherRef string) iter.Seq2[pipeline.Page, error] {
	return func(yield func(pipeline.Page, error) bool) {
		cursor := InitialCursor
		for number := 1; ; number++ {
			page, err := c.SearchPage(ctx, publisherRef, cursor)
			if err != nil {
				yield(pipeline.Page{}, err)
				return
			}
			page.Number = number
			c.logger.Debug("datastore page fetched",
				zap.String("publisher_ref", publisherRef),
				zap.Int("page", number),
				zap.Int("docs", len(page.Activities)),
				zap.Int("num_found", page.NumFound),
				zap.Duration("dur", page.Duration),
			)
			if !yield(page, nil) {
				return
			}
			if page.Last() {
				return
			}
			cursor = page.NextCursor
		}
	}
}

func (c *Client) searchURL(publisherRef, cursor string) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("q", fmt.Sprintf("(reporting_org_ref:%q)", publisherRef))
	q.Set("sort", "id asc")
	q.Set("wt", "json")
	q.Set("fl", strings.Join(Fields, ","))
	q.Set("rows", strconv.Itoa(c.cfg.PageSize))
	q.Set("cursorMark", cursor)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
