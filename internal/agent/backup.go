package agent

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"fbagent/internal/model"
)

// backupJob delivers every pending version of job through its driver.
// A producer claims versions one at a time and a single consumer hands them
// to the session; completions mark the version FINISHED or FAILED.
func (a *Agent) backupJob(ctx context.Context, job *BackupJob, report *Report) (err error) {
	driver, ok := a.drivers[job.Driver]
	if !ok {
		return fmt.Errorf("job %s: unknown driver %q", job.Name, job.Driver)
	}

	retried, err := a.repo.ResetFailed(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("requeueing failed versions: %w", err)
	}
	if retried > 0 {
		a.logger.Info("retrying failed versions", "job", job.Name, "count", retried)
	}
	superseded, err := a.repo.SupersedePending(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("settling superseded versions: %w", err)
	}
	if superseded > 0 {
		report.Add(CounterSuperseded, superseded)
		a.logger.Debug("superseded versions skipped", "job", job.Name, "count", superseded)
	}

	session, err := driver.OpenSession(ctx, job, report)
	if err != nil {
		return fmt.Errorf("opening %s session: %w", driver.Name(), err)
	}
	a.logger.Debug("session opened", "job", job.Name, "driver", driver.Name())
	defer func() {
		if ferr := session.Finish(ctx); ferr != nil && err == nil {
			err = fmt.Errorf("finishing %s session: %w", driver.Name(), ferr)
		}
		a.logger.Debug("session finished", "job", job.Name, "driver", driver.Name())
	}()

	claims := make(chan *FileJob)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(claims)
		for {
			c, err := a.repo.ClaimNextPending(gctx, job.ID, a.clock.Now())
			if err != nil {
				return fmt.Errorf("claiming next version: %w", err)
			}
			if c == nil {
				return nil
			}
			select {
			case claims <- &FileJob{Job: job, File: c.File, Version: c.Version}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for fj := range claims {
			session.HandleFile(ctx, fj, a.completion(ctx, fj, report))
		}
		return nil
	})

	return g.Wait()
}

// completion returns the done callback for one claimed version.
func (a *Agent) completion(ctx context.Context, fj *FileJob, report *Report) func(error) {
	ctx = context.WithoutCancel(ctx)
	return func(err error) {
		state := model.StateFinished
		if err != nil {
			state = model.StateFailed
			report.Add(CounterFailed, 1)
			report.Error(fj.Job.Name, fmt.Errorf("%s version %d: %w", fj.File.Path, fj.Version.Version, err))
			a.logger.Warn("backup failed", "job", fj.Job.Name, "path", fj.File.Path, "version", fj.Version.Version, "error", err)
		} else {
			report.Add(CounterUploaded, 1)
		}

		if ferr := a.repo.FinishVersion(ctx, fj.File.ID, fj.Version.Version, state, a.clock.Now()); ferr != nil {
			report.Error(fj.Job.Name, fmt.Errorf("marking %s version %d %s: %w", fj.File.Path, fj.Version.Version, state, ferr))
			a.logger.Error("updating version state", "path", fj.File.Path, "error", ferr)
		}
	}
}
