package agent

import (
	"context"
	"fmt"

	"fbagent/internal/model"
	"fbagent/internal/retention"
)

// Purge applies every job's retention policies.
func (a *Agent) Purge(ctx context.Context, report *Report) error {
	for _, job := range a.jobs {
		if !job.Retention.Enabled() {
			continue
		}
		if err := a.purgeJob(ctx, job, report); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.Error(job.Name, err)
			a.logger.Error("retention failed", "job", job.Name, "error", err)
		}
	}
	return nil
}

func (a *Agent) purgeJob(ctx context.Context, job *BackupJob, report *Report) error {
	files, err := a.repo.ListFiles(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	purger, _ := a.drivers[job.Driver].(VersionPurger)
	now := a.clock.Now()

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		versions, err := a.repo.ListVersions(ctx, f.ID)
		if err != nil {
			return fmt.Errorf("listing versions of %s: %w", f.Path, err)
		}
		claimed := false
		input := make(map[int64]retention.Version, len(versions))
		for _, v := range versions {
			if v.State == model.StateClaimed {
				claimed = true
			}
			input[v.Version] = retention.Version{ModifiedAt: v.ModifiedAt, Deleted: v.Deleted}
		}
		if claimed {
			continue
		}

		res := retention.Purge(job.Retention, input, now)
		if len(res.Versions) == 0 {
			continue
		}

		if purger != nil {
			if err := purger.PurgeVersions(ctx, job, f.Path, res.Versions); err != nil {
				report.Error(job.Name, fmt.Errorf("purging %s from target: %w", f.Path, err))
				continue
			}
		}

		if res.WholeFile {
			err = a.repo.DeleteFile(ctx, f.ID)
		} else {
			err = a.repo.DeleteVersions(ctx, f.ID, res.Versions)
		}
		if err != nil {
			return fmt.Errorf("purging %s: %w", f.Path, err)
		}
		report.Add(CounterPurged, int64(len(res.Versions)))
		a.logger.Debug("purged versions", "job", job.Name, "path", f.Path, "versions", res.Versions, "whole_file", res.WholeFile)
	}
	return nil
}
