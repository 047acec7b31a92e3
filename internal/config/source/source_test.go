package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/beamline/internal/config"
)

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newTestDownloader() *PermalinkDownloader {
	return &PermalinkDownloader{
		Client:     http.DefaultClient,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}
}

func TestGetDownloader(t *testing.T) {
	d, err := GetDownloader(context.Background(), config.SourceTypePermalink)
	require.NoError(t, err)
	assert.IsType(t, &PermalinkDownloader{}, d)

	d, err = GetDownloader(context.Background(), config.SourceTypeHuggingFace)
	require.NoError(t, err)
	assert.IsType(t, &HuggingFaceDownloader{}, d)

	_, err = GetDownloader(context.Background(), "s3")
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestFileURL(t *testing.T) {
	u, err := FileURL("https://zenodo.org/records/42/files/", "FEFF-XANES-v230925.json")
	require.NoError(t, err)
	assert.Equal(t, "https://zenodo.org/records/42/files/FEFF-XANES-v230925.json", u)

	_, err = FileURL("not a url", "x")
	assert.Error(t, err)
}

func TestPermalinkDownloader_Download(t *testing.T) {
	files := map[string]string{
		"FEFF-XANES-v1.json": `{"layers":[]}`,
		"metadata.yaml":      "absorber: Ti\n",
	}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, ok := files[filepath.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := config.PermalinkSource{
		URL:    srv.URL + "/records/1",
		SHA256: map[string]string{"metadata.yaml": digest(files["metadata.yaml"])},
	}
	names := []string{"FEFF-XANES-v1.json", "metadata.yaml"}

	d := newTestDownloader()
	require.NoError(t, d.Download(context.Background(), src, names, dir))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, files[name], string(data))
	}
	assert.Equal(t, int32(2), hits.Load())

	// Present and verified files are not fetched again.
	require.NoError(t, d.Download(context.Background(), src, names, dir))
	assert.Equal(t, int32(2), hits.Load())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files are left behind")
}

func TestPermalinkDownloader_ChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := config.PermalinkSource{
		URL:    srv.URL,
		SHA256: map[string]string{"metadata.yaml": digest("original")},
	}

	err := newTestDownloader().Download(context.Background(), src, []string{"metadata.yaml"}, dir)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.NoFileExists(t, filepath.Join(dir, "metadata.yaml"))
}

func TestPermalinkDownloader_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	err := newTestDownloader().Download(context.Background(), config.PermalinkSource{URL: srv.URL}, []string{"a.json"}, dir)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestPermalinkDownloader_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	err := newTestDownloader().Download(context.Background(), config.PermalinkSource{URL: srv.URL}, []string{"a.json"}, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestPermalinkDownloader_WrongSource(t *testing.T) {
	err := newTestDownloader().Download(context.Background(), config.HuggingFaceSource{Repo: "x/y"}, nil, t.TempDir())
	assert.Error(t, err)
}

func TestHuggingFaceDownloader_Args(t *testing.T) {
	d := &HuggingFaceDownloader{}
	args := d.args(config.HuggingFaceSource{
		Repo:       " ekisa/beamline-zoo ",
		Revision:   "v1",
		MaxWorkers: 4,
	}, []string{"Ti-O/FEFF-XANES-v1.json"}, "/tmp/zoo")

	assert.Equal(t, []string{
		"download", "ekisa/beamline-zoo", "Ti-O/FEFF-XANES-v1.json",
		"--local-dir", "/tmp/zoo",
		"--revision", "v1",
		"--max-workers", "4",
	}, args)
}

func TestHuggingFaceDownloader_MarkerSkips(t *testing.T) {
	dir := t.TempDir()
	d := &HuggingFaceDownloader{Command: "beamline-no-such-command"}
	src := config.HuggingFaceSource{Repo: "ekisa/zoo"}
	files := []string{"a.json"}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, markerFilename), []byte(d.markerContent("ekisa/zoo", "", files)), 0o644))

	// The command does not exist, so only the marker check can succeed.
	assert.NoError(t, d.Download(context.Background(), src, files, dir))

	err := d.Download(context.Background(), src, []string{"b.json"}, dir)
	assert.Error(t, err)
}

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	called := m.Called(name, args)
	out, _ := called.Get(0).([]byte)
	return out, called.Error(1)
}

func TestHuggingFaceDownloader_RetriesThenWritesMarker(t *testing.T) {
	dir := t.TempDir()
	runner := new(MockRunner)
	runner.On("CombinedOutput", "hf", mock.Anything).Return([]byte("rate limited"), errors.New("exit status 1")).Once()
	runner.On("CombinedOutput", "hf", mock.Anything).Return([]byte("ok"), nil).Once()

	d := &HuggingFaceDownloader{Runner: runner, RetryDelay: time.Millisecond}
	src := config.HuggingFaceSource{Repo: "ekisa/zoo"}

	require.NoError(t, d.Download(context.Background(), src, []string{"Ti-O/a.json"}, dir))
	runner.AssertNumberOfCalls(t, "CombinedOutput", 2)

	marker, err := os.ReadFile(filepath.Join(dir, markerFilename))
	require.NoError(t, err)
	assert.Contains(t, string(marker), "repo: ekisa/zoo")
	assert.Contains(t, string(marker), "files: Ti-O/a.json")
}

func TestHuggingFaceDownloader_GivesUp(t *testing.T) {
	runner := new(MockRunner)
	runner.On("CombinedOutput", "hf", mock.Anything).Return(nil, errors.New("exit status 1"))

	d := &HuggingFaceDownloader{Runner: runner, RetryDelay: time.Millisecond}
	err := d.Download(context.Background(), config.HuggingFaceSource{Repo: "ekisa/zoo"}, []string{"a.json"}, t.TempDir())
	require.Error(t, err)
	runner.AssertNumberOfCalls(t, "CombinedOutput", defaultMaxRetries)
}
