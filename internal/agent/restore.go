package agent

import (
	"context"
	"errors"
	"fmt"
	"io"

	"fbagent/internal/model"
)

// ErrNotRestorable is returned for versions that hold no content: deletions
// and versions that never reached the vault.
var ErrNotRestorable = errors.New("version cannot be restored")

// Restore writes the content of one version of a file to w and returns the
// version. A negative version selects the newest stored version.
func (a *Agent) Restore(ctx context.Context, jobName, relPath string, version int64, w io.Writer) (*model.FileVersion, error) {
	versions, err := a.FileVersions(ctx, jobName, relPath)
	if err != nil {
		return nil, err
	}
	job := a.FindJob(jobName)

	v, err := pickVersion(versions, version)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", jobName, relPath, err)
	}

	d, ok := a.drivers[job.Driver]
	if !ok {
		return nil, fmt.Errorf("job %s: unknown driver %q", job.Name, job.Driver)
	}
	r, ok := d.(Restorer)
	if !ok {
		return nil, fmt.Errorf("driver %s cannot restore files", d.Name())
	}
	if err := r.Restore(ctx, job, relPath, v, w); err != nil {
		return nil, fmt.Errorf("restoring %s/%s version %d: %w", jobName, relPath, v.Version, err)
	}
	a.logger.Info("version restored", "job", jobName, "path", relPath, "version", v.Version)
	return v, nil
}

func pickVersion(versions []*model.FileVersion, want int64) (*model.FileVersion, error) {
	if want < 0 {
		for i := len(versions) - 1; i >= 0; i-- {
			v := versions[i]
			if !v.Deleted && v.State == model.StateFinished && v.FinishedAt != nil {
				return v, nil
			}
		}
		return nil, fmt.Errorf("no stored version: %w", ErrNotRestorable)
	}
	for _, v := range versions {
		if v.Version != want {
			continue
		}
		switch {
		case v.Deleted:
			return nil, fmt.Errorf("version %d records a deletion: %w", want, ErrNotRestorable)
		case v.State != model.StateFinished:
			return nil, fmt.Errorf("version %d is %s: %w", want, v.State, ErrNotRestorable)
		case v.FinishedAt == nil:
			return nil, fmt.Errorf("version %d was superseded before it was stored: %w", want, ErrNotRestorable)
		}
		return v, nil
	}
	return nil, fmt.Errorf("version %d not recorded", want)
}
