package agent

import (
	"context"
	"fmt"
)

// Agent runs backup cycles: scan every job, deliver pending versions through
// the job's driver, then apply retention.
type Agent struct {
	repo    Repository
	fsmgr   FilesystemManager
	drivers map[string]Driver
	jobs    []*BackupJob
	scanner *Scanner
	logger  Logger
	clock   Clock
	idgen   IDGenerator
}

// NewAgent creates an Agent. Reconcile must run before the first cycle so
// that every job has an ID.
func NewAgent(repo Repository, fsmgr FilesystemManager, drivers []Driver, jobs []*BackupJob, logger Logger, clock Clock, idgen IDGenerator) *Agent {
	byName := make(map[string]Driver, len(drivers))
	for _, d := range drivers {
		byName[d.Name()] = d
	}
	return &Agent{
		repo:    repo,
		fsmgr:   fsmgr,
		drivers: byName,
		jobs:    jobs,
		scanner: NewScanner(repo, fsmgr, clock, idgen, logger),
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
	}
}

// Jobs returns the configured jobs.
func (a *Agent) Jobs() []*BackupJob { return a.jobs }

// FindJob returns the job with the given name, or nil.
func (a *Agent) FindJob(name string) *BackupJob {
	for _, j := range a.jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

func (a *Agent) activeJobs() ([]*BackupJob, error) {
	for _, j := range a.jobs {
		if j.ID == "" {
			return nil, fmt.Errorf("job %s has not been reconciled", j.Name)
		}
	}
	return a.jobs, nil
}

// Scan records new versions for every job.
func (a *Agent) Scan(ctx context.Context, report *Report) error {
	jobs, err := a.activeJobs()
	if err != nil {
		return err
	}
	return a.scanner.Scan(ctx, jobs, report)
}

// Backup delivers every pending version. Failures of one job do not stop the others.
func (a *Agent) Backup(ctx context.Context, report *Report) error {
	jobs, err := a.activeJobs()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := a.backupJob(ctx, job, report); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.Error(job.Name, err)
			a.logger.Error("backup failed", "job", job.Name, "error", err)
		}
	}
	return nil
}

// RunCycle performs one full cycle and returns its report. The error is
// non-nil only when the cycle could not run to the end; per-file and per-job
// problems are in the report.
func (a *Agent) RunCycle(ctx context.Context) (*Report, error) {
	report := NewReport(a.clock)
	defer report.Finish()

	a.logger.Info("cycle started", "jobs", len(a.jobs))

	if err := a.Scan(ctx, report); err != nil {
		return report, fmt.Errorf("scan: %w", err)
	}
	if err := a.Backup(ctx, report); err != nil {
		return report, fmt.Errorf("backup: %w", err)
	}
	if err := a.Purge(ctx, report); err != nil {
		return report, fmt.Errorf("retention: %w", err)
	}

	a.logger.Info("cycle finished", "summary", report.Summary())
	return report, nil
}
