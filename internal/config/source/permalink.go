package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ekisa-team/beamline/internal/config"
	"github.com/ekisa-team/beamline/internal/xfs"
)

// PermalinkDownloader fetches files published under a stable base URL.
type PermalinkDownloader struct {
	Client     *http.Client
	MaxRetries int
	RetryDelay time.Duration
}

// NewPermalinkDownloader returns a downloader with the package defaults.
func NewPermalinkDownloader() *PermalinkDownloader {
	return &PermalinkDownloader{
		Client:     &http.Client{Timeout: defaultTimeout},
		MaxRetries: defaultMaxRetries,
		RetryDelay: defaultRetryDelay,
	}
}

// FileURL joins the permalink base URL and a file name.
func FileURL(base, name string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid permalink URL %q", base)
	}
	return u.JoinPath(name).String(), nil
}

// Download fetches every file that is missing from targetDir or fails its
// checksum.
func (d *PermalinkDownloader) Download(ctx context.Context, src config.ModelSource, files []string, targetDir string) error {
	pl, ok := src.(config.PermalinkSource)
	if !ok {
		return fmt.Errorf("invalid source type: %T", src)
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	for _, name := range files {
		dst := filepath.Join(targetDir, name)
		want := pl.SHA256[name]

		if xfs.IsFile(dst) {
			if want == "" {
				slog.Info("File already downloaded, skipping", "file", name, "path", dst)
				continue
			}
			if err := verify(dst, want); err == nil {
				slog.Info("File already downloaded and verified, skipping", "file", name, "path", dst)
				continue
			}
			slog.Warn("Local file failed checksum, downloading again", "file", name, "path", dst)
		}

		fileURL, err := FileURL(pl.URL, name)
		if err != nil {
			return err
		}
		if err := d.fetchWithRetry(ctx, fileURL, dst, want); err != nil {
			return fmt.Errorf("failed to download %s: %w", fileURL, err)
		}
	}

	return nil
}

func (d *PermalinkDownloader) fetchWithRetry(ctx context.Context, fileURL, dst, want string) error {
	retries := max(d.MaxRetries, 1)

	var lastErr error
	for attempt := range retries {
		if attempt > 0 {
			slog.Info("Retrying download", "url", fileURL, "attempt", attempt+1, "last_error", lastErr)
			if err := wait(ctx, d.RetryDelay); err != nil {
				return fmt.Errorf("download canceled: %w", err)
			}
		} else {
			slog.Info("Downloading file", "url", fileURL, "path", dst)
		}

		err := d.fetch(ctx, fileURL, dst, want)
		if err == nil {
			slog.Info("File downloaded successfully", "url", fileURL, "path", dst, "attempt", attempt+1)
			return nil
		}

		lastErr = err
		slog.Error("Failed to download file", "url", fileURL, "attempt", attempt+1, "error", err)

		if ctx.Err() != nil {
			return fmt.Errorf("download canceled: %w", ctx.Err())
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}

	return lastErr
}

// fetch streams fileURL into a temporary file next to dst and renames it
// into place once the digest checks out.
func (d *PermalinkDownloader) fetch(ctx context.Context, fileURL, dst, want string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return &permanentError{err}
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return &permanentError{err}
		}
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return &permanentError{fmt.Errorf("failed to create temp file: %w", err)}
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if want != "" {
		if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, want) {
			return &permanentError{fmt.Errorf("%w: %s has %s, want %s", ErrChecksumMismatch, filepath.Base(dst), got, want)}
		}
	}

	return os.Rename(tmp.Name(), dst)
}

func verify(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, path)
	}
	return nil
}

// permanentError marks failures a retry cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }
