package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"fbagent/internal/model"
)

// ErrDirectoryRemoved is returned by Reconcile when a persisted directory is
// missing from the configuration and its rule is "fail".
var ErrDirectoryRemoved = errors.New("backup directory removed from configuration")

// Reconcile matches the configured jobs with the persisted directories by
// name, assigns job IDs and applies the removed-directory rules. It then
// returns versions left CLAIMED by an interrupted run to PENDING.
func (a *Agent) Reconcile(ctx context.Context) error {
	persisted, err := a.repo.ListDirectories(ctx)
	if err != nil {
		return fmt.Errorf("listing directories: %w", err)
	}

	byName := make(map[string]*model.Directory, len(persisted))
	for _, d := range persisted {
		byName[d.Name] = d
	}
	configured := make(map[string]bool, len(a.jobs))
	for _, job := range a.jobs {
		configured[job.Name] = true
	}

	var removed []*model.Directory
	for _, d := range persisted {
		if !configured[d.Name] {
			removed = append(removed, d)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Name < removed[j].Name })

	for _, d := range removed {
		if d.OnRemoved != model.RemovedIgnore && d.OnRemoved != model.RemovedPurge {
			return fmt.Errorf("%w: %s (%s)", ErrDirectoryRemoved, d.Name, d.Path)
		}
	}

	for _, d := range removed {
		switch d.OnRemoved {
		case model.RemovedPurge:
			if err := a.repo.DeleteDirectory(ctx, d.ID); err != nil {
				return fmt.Errorf("purging directory %s: %w", d.Name, err)
			}
			a.logger.Info("purged removed directory", "name", d.Name, "path", d.Path)
		case model.RemovedIgnore:
			a.logger.Info("ignoring removed directory", "name", d.Name, "path", d.Path)
		}
	}

	for _, job := range a.jobs {
		if d, ok := byName[job.Name]; ok {
			job.ID = d.ID
			if d.Path != job.Path || d.OnRemoved != job.OnRemoved {
				d.Path = job.Path
				d.OnRemoved = job.OnRemoved
				if err := a.repo.UpdateDirectory(ctx, d); err != nil {
					return fmt.Errorf("updating directory %s: %w", d.Name, err)
				}
				a.logger.Info("directory updated", "name", d.Name, "path", d.Path)
			}
			continue
		}

		d := &model.Directory{
			ID:        a.idgen.New(),
			Name:      job.Name,
			Path:      job.Path,
			OnRemoved: job.OnRemoved,
			CreatedAt: a.clock.Now(),
		}
		if err := a.repo.CreateDirectory(ctx, d); err != nil {
			return fmt.Errorf("creating directory %s: %w", d.Name, err)
		}
		job.ID = d.ID
		a.logger.Info("tracking new directory", "name", d.Name, "path", d.Path)
	}

	n, err := a.repo.ResetClaimed(ctx)
	if err != nil {
		return fmt.Errorf("recovering claimed versions: %w", err)
	}
	if n > 0 {
		a.logger.Warn("recovered interrupted versions", "count", n)
	}
	return nil
}
