// Package source fetches model artifacts from their configured remote
// location into the local zoo.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ekisa-team/beamline/internal/config"
)

const (
	defaultRetryDelay = 2 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 5 * time.Minute
)

var (
	// ErrUnsupportedSource is returned for a source type without a downloader.
	ErrUnsupportedSource = errors.New("unsupported model source")

	// ErrChecksumMismatch is returned when a downloaded file does not match
	// its configured digest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Downloader retrieves the named files of a model source into targetDir.
// Files already present and valid are left untouched.
type Downloader interface {
	Download(ctx context.Context, src config.ModelSource, files []string, targetDir string) error
}

// GetDownloader returns the downloader for the given source type.
func GetDownloader(_ context.Context, t config.SourceType) (Downloader, error) {
	switch t {
	case config.SourceTypePermalink:
		return NewPermalinkDownloader(), nil
	case config.SourceTypeHuggingFace:
		return &HuggingFaceDownloader{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, t)
	}
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
