package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/iati-climate-dataset/internal/app"
	"github.com/JakeFAU/iati-climate-dataset/internal/config"
	"github.com/JakeFAU/iati-climate-dataset/internal/pipeline"
)

type fakeApp struct {
	built    []string
	buildErr error
	served   bool
	closed   bool
	opts     app.Options
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func (f *fakeApp) BuildDataset(_ context.Context, ref string) (pipeline.Run, error) {
	f.built = append(f.built, ref)
	return pipeline.Run{ID: "run-1", PublisherRef: ref}, f.buildErr
}

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

// useFakeApp swaps the factory; callers must not run in parallel.
func useFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(_ context.Context, _ config.Config, opts app.Options) (App, error) {
		fake.opts = opts
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String() + stderr.String(), err
}

func TestBuildCommand(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	_, err := execute(t, "build", "GB-GOV-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"GB-GOV-1"}, fake.built)
	assert.True(t, fake.closed)
	assert.NotNil(t, fake.opts.Status)
	assert.NotNil(t, fake.opts.Console)
}

func TestBuildCommandRequiresRef(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	out, err := execute(t, "build")
	require.Error(t, err)
	assert.Contains(t, out, "accepts 1 arg(s)")
	assert.Empty(t, fake.built)
}

func TestBuildCommandClosesOnError(t *testing.T) {
	fake := &fakeApp{buildErr: errors.New("upstream down")}
	useFakeApp(t, fake)

	out, err := execute(t, "build", "GB-1")
	require.ErrorContains(t, err, "upstream down")
	assert.Contains(t, out, "upstream down")
	assert.True(t, fake.closed)
}

func TestServeCommand(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	assert.True(t, fake.served)
	assert.True(t, fake.closed)
	assert.Nil(t, fake.opts.Console)
}

func TestMissingConfigFile(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "build", "GB-1")
	require.ErrorContains(t, err, "load config")
	assert.Empty(t, fake.built)
}
