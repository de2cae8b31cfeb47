package agent

import (
	"context"
	"fmt"
	"path/filepath"

	"fbagent/internal/model"
)

// FileVersions returns every recorded version of a file of the named job,
// oldest first. relPath is relative to the job root.
func (a *Agent) FileVersions(ctx context.Context, jobName, relPath string) ([]*model.FileVersion, error) {
	job := a.FindJob(jobName)
	if job == nil {
		return nil, fmt.Errorf("unknown job %q", jobName)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("job %s has not been reconciled", job.Name)
	}

	file, err := a.repo.FindFile(ctx, job.ID, filepath.ToSlash(filepath.Clean(relPath)))
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if file == nil {
		return nil, fmt.Errorf("file not tracked: %s", relPath)
	}
	return a.repo.ListVersions(ctx, file.ID)
}

// History returns the most recent cycles, newest first.
func (a *Agent) History(ctx context.Context, limit int) ([]*model.Cycle, error) {
	return a.repo.ListCycles(ctx, limit)
}
