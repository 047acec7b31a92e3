package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ekisa-team/beamline/internal/config"
)

const markerFilename = ".beamline-downloaded"

// CommandRunner is the interface for running commands.
type CommandRunner interface {
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecCommandRunner uses os/exec.
type ExecCommandRunner struct{}

// CombinedOutput runs a command and returns its combined stdout and stderr.
func (ExecCommandRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// HuggingFaceDownloader downloads model files from a Hugging Face repository
// with the hf command line tool.
type HuggingFaceDownloader struct {
	// Command is the executable to run. Defaults to "hf".
	Command string

	// Runner runs Command. Defaults to ExecCommandRunner.
	Runner CommandRunner

	// RetryDelay is the pause between attempts. Defaults to two seconds.
	RetryDelay time.Duration
}

// Download runs "hf download" for the requested files. A marker file records
// the repo, revision and file list so an unchanged request is skipped.
func (d *HuggingFaceDownloader) Download(ctx context.Context, src config.ModelSource, files []string, targetDir string) error {
	hfSource, ok := src.(config.HuggingFaceSource)
	if !ok {
		return fmt.Errorf("invalid source type: %T", src)
	}

	repo := strings.TrimSpace(hfSource.Repo)
	if repo == "" {
		return fmt.Errorf("invalid repo name: %q", hfSource.Repo)
	}

	markerPath := filepath.Join(targetDir, markerFilename)
	markerContent := d.markerContent(repo, hfSource.Revision, files)

	if !hfSource.ForceDownload && allExist(targetDir, files) && !d.shouldRedownload(markerPath, markerContent) {
		slog.Info("Model already downloaded and up-to-date (marker match), skipping", "repo", repo, "path", targetDir)
		return nil
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	command := d.Command
	if command == "" {
		command = "hf"
	}
	args := d.args(hfSource, files, targetDir)

	runner := d.Runner
	if runner == nil {
		runner = ExecCommandRunner{}
	}
	delay := d.RetryDelay
	if delay == 0 {
		delay = defaultRetryDelay
	}

	var lastErr error
	for attempt := range defaultMaxRetries {
		if attempt > 0 {
			slog.Info("Retrying download", "repo", repo, "attempt", attempt+1, "last_error", lastErr)
			if err := wait(ctx, delay); err != nil {
				return fmt.Errorf("download canceled: %w", err)
			}
		} else {
			slog.Info("Downloading model", "repo", repo, "files", files, "path", targetDir)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		output, err := runner.CombinedOutput(attemptCtx, command, args...)
		deadline := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			if err := os.WriteFile(markerPath, []byte(markerContent), 0o644); err != nil {
				slog.Warn("Failed to write download marker", "path", markerPath, "error", err)
			}

			slog.Info("Model downloaded successfully", "repo", repo, "path", targetDir, "attempt", attempt+1)
			return nil
		}

		lastErr = err
		slog.Error("Failed to download model", "repo", repo, "path", targetDir, "attempt", attempt+1, "error", err, "output", string(output))

		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%s is not installed: %w", command, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("download canceled: %w", ctx.Err())
		}
		if deadline {
			slog.Warn("Download timed out", "repo", repo, "path", targetDir, "attempt", attempt+1)
		}
	}

	return lastErr
}

func (d *HuggingFaceDownloader) args(src config.HuggingFaceSource, files []string, targetDir string) []string {
	args := []string{"download", strings.TrimSpace(src.Repo)}
	args = append(args, files...)
	args = append(args, "--local-dir", targetDir)

	if src.Revision != "" {
		args = append(args, "--revision", src.Revision)
	}
	if src.RepoType != "" {
		args = append(args, "--repo-type", src.RepoType)
	}
	if src.ForceDownload {
		args = append(args, "--force-download")
	}
	if src.Token != "" {
		args = append(args, "--token", src.Token)
	}
	if src.MaxWorkers > 0 {
		args = append(args, "--max-workers", fmt.Sprintf("%d", src.MaxWorkers))
	}

	return args
}

// markerContent generates the expected content of the marker file.
// Used to detect if we need to redownload due to config change.
func (d *HuggingFaceDownloader) markerContent(repo, revision string, files []string) string {
	return fmt.Sprintf("repo: %s\nrevision: %s\nfiles: %s\n", repo, revision, strings.Join(files, ","))
}

// shouldRedownload checks if the model should be redownloaded by comparing marker content.
func (d *HuggingFaceDownloader) shouldRedownload(markerPath, expectedContent string) bool {
	content, err := os.ReadFile(markerPath)
	if err != nil {
		slog.Debug("Marker file missing or unreadable", "path", markerPath, "error", err)
		return true
	}

	if string(content) != expectedContent {
		slog.Info("Model config changed (marker mismatch), will redownload",
			"marker_path", markerPath,
			"expected_snippet", expectedContent,
			"actual_snippet", string(content))
		return true
	}

	return false
}

func allExist(dir string, files []string) bool {
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			return false
		}
	}
	return true
}
