package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/iati-climate-dataset/internal/config"
	"github.com/JakeFAU/iati-climate-dataset/internal/dataset"
	"github.com/JakeFAU/iati-climate-dataset/internal/datastore"
	"github.com/JakeFAU/iati-climate-dataset/internal/pipeline"
	memorypublisher "github.com/JakeFAU/iati-climate-dataset/internal/publisher/memory"
	localstorage "github.com/JakeFAU/iati-climate-dataset/internal/storage/local"
	memorystorage "github.com/JakeFAU/iati-climate-dataset/internal/storage/memory"
)

// MockRunStore mocks pipeline.RunStore.
type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) RecordRun(ctx context.Context, run pipeline.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunStore) GetRun(ctx context.Context, runID string) (pipeline.Run, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(pipeline.Run), args.Error(1)
}

func (m *MockRunStore) ListRuns(ctx context.Context, filter pipeline.RunFilter) ([]pipeline.Run, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]pipeline.Run), args.Error(1)
}

func (m *MockRunStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockPublisher mocks a closable pipeline.Publisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg, err := config.LoadWithEnvFile("", "")
	require.NoError(t, err)
	cfg.Datastore.BaseURL = baseURL
	cfg.Datastore.SubscriptionKey = "secret"
	cfg.Datastore.PageSize = 2
	cfg.Output.Backend = config.BackendMemory
	cfg.Database.DSN = ""
	cfg.PubSub = config.PubSubConfig{}
	cfg.Metrics.PushgatewayURL = ""
	cfg.Server.Port = 0
	return cfg
}

func testOptions(status *bytes.Buffer) Options {
	opts := Options{
		Logger:   zap.NewNop(),
		Registry: prometheus.NewRegistry(),
	}
	if status != nil {
		opts.Status = status
	}
	return opts
}

func datastoreServer(t *testing.T) *httptest.Server {
	t.Helper()
	doc := func(id, title string, tags ...string) dataset.Activity {
		return dataset.Activity{IATIIdentifier: id, TitleNarrative: []string{title}, TagNarrative: tags}
	}
	pages := map[string]map[string]any{
		"*": {
			"response": map[string]any{"numFound": 4, "docs": []dataset.Activity{
				doc("GB-1-a", "Solar mini-grids", dataset.DefaultClimateTag),
				doc("GB-1-b", "School meals"),
			}},
			"nextCursorMark": "AoE2",
		},
		"AoE2": {
			"response": map[string]any{"numFound": 4, "docs": []dataset.Activity{
				doc("GB-1-c", "Road repair"),
				doc("GB-1-b", "School meals"),
			}},
			"nextCursorMark": "AoE2",
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(datastore.SubscriptionKeyHeader) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		page, ok := pages[r.URL.Query().Get("cursorMark")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuild_MemoryDefaults(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), testConfig(t, "https://example.org/select"), testOptions(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.NotNil(t, a.Logger())
	assert.NotNil(t, a.Runner())
	assert.IsType(t, &memorystorage.BlobStore{}, a.BlobStore())
	assert.IsType(t, &memorystorage.RunStore{}, a.RunStore())
	assert.IsType(t, &memorypublisher.Publisher{}, a.Publisher())
}

func TestBuild_LocalBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://example.org/select")
	cfg.Output.Backend = config.BackendLocal
	cfg.Output.Local.BaseDir = filepath.Join(t.TempDir(), "missing")

	_, err := Build(context.Background(), cfg, testOptions(nil))
	require.ErrorIs(t, err, localstorage.ErrBaseDirMissing)
	assert.Contains(t, err.Error(), "local blob store init failed")

	cfg.Output.Local.CreateDirs = true
	a, err := Build(context.Background(), cfg, testOptions(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	assert.IsType(t, &localstorage.BlobStore{}, a.BlobStore())
}

func TestBuild_BadPostgresDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://example.org/select")
	cfg.Database.DSN = "::not a dsn::"

	_, err := Build(context.Background(), cfg, testOptions(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run store init failed")
}

func TestApp_BuildDataset(t *testing.T) {
	t.Parallel()

	srv := datastoreServer(t)
	var status bytes.Buffer
	cfg := testConfig(t, srv.URL)
	cfg.Datastore.RequestsPerSecond = 50
	a, err := Build(context.Background(), cfg, testOptions(&status))
	require.NoError(t, err)

	run, err := a.BuildDataset(context.Background(), "GB-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusSucceeded, run.Status)
	assert.Equal(t, 2, run.Pages)
	assert.Equal(t, 4, run.Fetched)
	assert.Equal(t, 3, run.Unique)
	assert.Equal(t, dataset.Counts{Related: 1, Unrelated: 1}, run.Counts)
	assert.Equal(t,
		"Balancing dataset...\nRows prior to balancing: 3.\nRows after balancing: 2.\n",
		status.String())

	data, _, ok := a.BlobStore().(*memorystorage.BlobStore).Get("GB-1.csv")
	require.True(t, ok)
	assert.Contains(t, string(data), "iati_identifier,text,label\n")

	stored, err := a.RunStore().GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ContentHash, stored.ContentHash)

	msgs := a.Publisher().(*memorypublisher.Publisher).Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, pipeline.ReadyEvent, msgs[0].Topic)

	require.NoError(t, a.Close(context.Background()))
}

func TestApp_BuildDatasetWrapsErrors(t *testing.T) {
	t.Parallel()

	srv := datastoreServer(t)
	cfg := testConfig(t, srv.URL)
	cfg.Datastore.SubscriptionKey = "wrong"
	a, err := Build(context.Background(), cfg, testOptions(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	run, err := a.BuildDataset(context.Background(), "GB-1")
	var statusErr *pipeline.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "build dataset for GB-1")
	assert.Equal(t, pipeline.RunStatusFailed, run.Status)
	assert.Equal(t, 0, a.BlobStore().(*memorystorage.BlobStore).Len())
}

func TestApp_HandlerServesAPI(t *testing.T) {
	t.Parallel()

	srv := datastoreServer(t)
	a, err := Build(context.Background(), testConfig(t, srv.URL), testOptions(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/datasets/GB-1", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?publisher_ref=GB-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"succeeded"`)
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), testConfig(t, "https://example.org/select"), testOptions(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestApp_Close(t *testing.T) {
	t.Parallel()

	runs := new(MockRunStore)
	pub := new(MockPublisher)
	runs.On("Close").Return(nil).Once()
	pub.On("Close").Return(nil).Once()

	a := &App{logger: zap.NewNop(), runStore: runs, publisher: pub}
	require.NoError(t, a.Close(context.Background()))

	runs.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestApp_Close_WithErrors(t *testing.T) {
	t.Parallel()

	runs := new(MockRunStore)
	pub := new(MockPublisher)
	runs.On("Close").Return(errors.New("db error")).Once()
	pub.On("Close").Return(errors.New("pubsub error")).Once()

	a := &App{logger: zap.NewNop(), runStore: runs, publisher: pub}
	require.NoError(t, a.Close(context.Background()))

	runs.AssertExpectations(t)
	pub.AssertExpectations(t)
}
