package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/iati-climate-dataset/internal/dataset"
	collyfetcher "github.com/JakeFAU/iati-climate-dataset/internal/fetcher/colly"
	"github.com/JakeFAU/iati-climate-dataset/internal/pipeline"
)

// cursorServer serves canned pages keyed by the incoming cursorMark.
type cursorServer struct {
	mu       sync.Mutex
	pages    map[string]string
	requests []url.Values
	headers  []http.Header
}

func (s *cursorServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.Query())
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	body, ok := s.pages[r.URL.Query().Get("cursorMark")]
	if !ok {
		http.Error(w, "unknown cursor", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func pageJSON(t *testing.T, numFound int, next string, docs ...dataset.Activity) string {
	t.Helper()
	payload := map[string]any{
		"response":       map[string]any{"numFound": numFound, "docs": docs},
		"nextCursorMark": next,
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(raw)
}

func newTestClient(t *testing.T, baseURL string, pageSize int) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:         baseURL,
		SubscriptionKey: "sub-key",
		PageSize:        pageSize,
	}, collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}), nil)
	require.NoError(t, err)
	return client
}

func TestPagesFollowsCursorUntilRepeated(t *testing.T) {
	t.Parallel()

	doc := func(id string) dataset.Activity {
		return dataset.Activity{IATIIdentifier: id, TitleNarrative: []string{"title " + id}}
	}
	srv := &cursorServer{pages: map[string]string{
		"*":  pageJSON(t, 3, "c1", doc("a"), doc("b")),
		"c1": pageJSON(t, 3, "c2", doc("c")),
		"c2": pageJSON(t, 3, "c2"),
	}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := newTestClient(t, ts.URL+"/datastore/activity/select", 2)

	var pages []pipeline.Page
	for page, err := range client.Pages(context.Background(), "GB-GOV-1") {
		require.NoError(t, err)
		pages = append(pages, page)
	}

	require.Len(t, pages, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{pages[0].Number, pages[1].Number, pages[2].Number})
	assert.Len(t, pages[0].Activities, 2)
	assert.Equal(t, 3, pages[0].NumFound)
	assert.True(t, pages[2].Last())

	require.Len(t, srv.requests, 3)
	first := srv.requests[0]
	assert.Equal(t, `(reporting_org_ref:"GB-GOV-1")`, first.Get("q"))
	assert.Equal(t, "id asc", first.Get("sort"))
	assert.Equal(t, "json", first.Get("wt"))
	assert.Equal(t, "iati_identifier,title_narrative,tag_narrative", first.Get("fl"))
	assert.Equal(t, "2", first.Get("rows"))
	assert.Equal(t, "*", first.Get("cursorMark"))
	assert.Equal(t, "c1", srv.requests[1].Get("cursorMark"))
	assert.Equal(t, "sub-key", srv.headers[0].Get(SubscriptionKeyHeader))
}

func TestPagesStopsOnRepeatedCursorDespiteUnseenTotal(t *testing.T) {
	t.Parallel()

	srv := &cursorServer{pages: map[string]string{
		"*":  pageJSON(t, 500, "c1", dataset.Activity{IATIIdentifier: "a", TitleNarrative: []string{"A"}}),
		"c1": pageJSON(t, 500, "c1"),
	}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := newTestClient(t, ts.URL, 10)
	count := 0
	for _, err := range client.Pages(context.Background(), "XM-DAC-41114") {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 2, count)
	assert.Len(t, srv.requests, 2)
}

func TestPagesSingleEchoPage(t *testing.T) {
	t.Parallel()

	srv := &cursorServer{pages: map[string]string{"*": pageJSON(t, 0, "*")}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := newTestClient(t, ts.URL, 10)
	count := 0
	for page, err := range client.Pages(context.Background(), "NONE") {
		require.NoError(t, err)
		assert.Empty(t, page.Activities)
		count++
	}
	assert.Equal(t, 1, count)
}

func TestPagesStopsWhenConsumerBreaks(t *testing.T) {
	t.Parallel()

	srv := &cursorServer{pages: map[string]string{
		"*":  pageJSON(t, 2, "c1"),
		"c1": pageJSON(t, 2, "c2"),
		"c2": pageJSON(t, 2, "c2"),
	}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := newTestClient(t, ts.URL, 1)
	for range client.Pages(context.Background(), "GB-GOV-1") {
		break
	}
	assert.Len(t, srv.requests, 1)
}

func TestPagesPropagatesHTTPError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, 10)
	var gotErr error
	for _, err := range client.Pages(context.Background(), "GB-GOV-1") {
		gotErr = err
	}
	var statusErr *pipeline.StatusError
	require.True(t, errors.As(gotErr, &statusErr), "got %v", gotErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestSearchPageMalformedJSON(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{}, fakeFetcher{body: []byte("<html>")}, nil)
	require.NoError(t, err)

	_, err = client.SearchPage(context.Background(), "GB-GOV-1", InitialCursor)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSearchPageRejectsNonSuccessFromFetcher(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{}, fakeFetcher{status: http.StatusServiceUnavailable}, nil)
	require.NoError(t, err)

	_, err = client.SearchPage(context.Background(), "GB-GOV-1", InitialCursor)
	var statusErr *pipeline.StatusError
	require.True(t, errors.As(err, &statusErr))
}

func TestSearchPageDecodesOptionalTags(t *testing.T) {
	t.Parallel()

	body := `{"response":{"numFound":2,"docs":[
		{"iati_identifier":"a","title_narrative":["A"],"tag_narrative":["International Climate Finance"]},
		{"iati_identifier":"b","title_narrative":["B"]}
	]},"nextCursorMark":"x"}`
	client, err := NewClient(Config{}, fakeFetcher{body: []byte(body)}, nil)
	require.NoError(t, err)

	page, err := client.SearchPage(context.Background(), "GB-GOV-1", InitialCursor)
	require.NoError(t, err)
	require.Len(t, page.Activities, 2)
	assert.Equal(t, []string{dataset.DefaultClimateTag}, page.Activities[0].TagNarrative)
	assert.Nil(t, page.Activities[1].TagNarrative)
	assert.Equal(t, "x", page.NextCursor)
}

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, nil, nil)
	require.Error(t, err)

	client, err := NewClient(Config{}, fakeFetcher{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, client.cfg.BaseURL)
	assert.Equal(t, DefaultPageSize, client.cfg.PageSize)

	raw, err := client.searchURL("GB-GOV-1", InitialCursor)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(DefaultPageSize), u.Query().Get("rows"))
}

type fakeFetcher struct {
	status int
	body   []byte
}

func (f fakeFetcher) Fetch(_ context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return pipeline.FetchResponse{URL: req.URL, StatusCode: status, Body: f.body}, nil
}
