package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// RestoreSuffix ends the name of every restored file.
const RestoreSuffix = ".fbrestored"

// RestoreOptions selects a version and where it is written.
type RestoreOptions struct {
	Version int64  // negative selects the newest stored version
	Output  string // empty writes next to the original
}

// Restore writes one version of a tracked file back to disk and returns the
// output path. Existing files are never overwritten.
func (a *App) Restore(ctx context.Context, jobName, relPath string, opts RestoreOptions) (string, error) {
	job := a.agent.FindJob(jobName)
	if job == nil {
		return "", fmt.Errorf("unknown job %q", jobName)
	}

	outPath := opts.Output
	if outPath == "" {
		outPath = job.SourcePath(relPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}

	// The version number is only known once resolved, so write to a
	// temporary file first.
	f, err := os.CreateTemp(filepath.Dir(outPath), ".restore-*")
	if err != nil {
		return "", fmt.Errorf("creating output file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	v, err := a.agent.Restore(ctx, jobName, relPath, opts.Version, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("writing output file: %w", cerr)
	}
	if err != nil {
		return "", err
	}

	if opts.Output == "" {
		outPath = restorePath(outPath, v.Version)
	}
	if _, err := os.Lstat(outPath); err == nil {
		return "", fmt.Errorf("output file already exists: %s", outPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return "", fmt.Errorf("moving restored file: %w", err)
	}
	if err := os.Chmod(outPath, 0644); err != nil {
		return "", fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Chtimes(outPath, v.ModifiedAt, v.ModifiedAt); err != nil {
		return "", fmt.Errorf("setting file times: %w", err)
	}

	a.logger.Info("file restored", "path", outPath)
	return outPath, nil
}

// restorePath returns {path}.v{n}.fbrestored.
func restorePath(path string, version int64) string {
	return path + ".v" + strconv.FormatInt(version, 10) + RestoreSuffix
}
