package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"fbagent/internal/model"
)

// DefaultScanBuffer bounds the number of events waiting for the coordinator.
const DefaultScanBuffer = 256

// scanEvent is an observation made by a walker. exists is false for files
// found missing during the deletion pass.
type scanEvent struct {
	job     *BackupJob
	rel     string
	exists  bool
	modTime time.Time
}

// Scanner walks job roots concurrently and records new versions. Walkers
// only read; every repository mutation happens on the coordinator.
type Scanner struct {
	repo   Repository
	fsmgr  FilesystemManager
	clock  Clock
	idgen  IDGenerator
	logger Logger
	buffer int
}

func NewScanner(repo Repository, fsmgr FilesystemManager, clock Clock, idgen IDGenerator, logger Logger) *Scanner {
	return &Scanner{
		repo:   repo,
		fsmgr:  fsmgr,
		clock:  clock,
		idgen:  idgen,
		logger: logger,
		buffer: DefaultScanBuffer,
	}
}

// Scan walks every job and applies the observations. Errors of one job are
// recorded in the report and do not stop the others. The returned error is
// only non-nil when ctx was cancelled.
func (s *Scanner) Scan(ctx context.Context, jobs []*BackupJob, report *Report) error {
	events := make(chan scanEvent, s.buffer)

	var g errgroup.Group
	for _, job := range jobs {
		g.Go(func() error {
			if err := s.walkJob(ctx, job, events, report); err != nil {
				s.logger.Error("scan failed", "job", job.Name, "error", err)
				report.Error(job.Name, err)
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(events)
	}()

	for ev := range events {
		if err := s.apply(ctx, ev, report); err != nil {
			s.logger.Error("recording scan result", "job", ev.job.Name, "path", ev.rel, "error", err)
			report.Error(ev.job.Name, fmt.Errorf("recording %s: %w", ev.rel, err))
		}
	}
	return ctx.Err()
}

func (s *Scanner) walkJob(ctx context.Context, job *BackupJob, events chan<- scanEvent, report *Report) error {
	info, err := s.fsmgr.Lstat(job.Path)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", job.Path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scanning %s: not a directory", job.Path)
	}

	if err := s.walkDir(ctx, job, job.Path, "", events, report); err != nil {
		return err
	}
	return s.findDeleted(ctx, job, events, report)
}

func (s *Scanner) walkDir(ctx context.Context, job *BackupJob, dir, rel string, events chan<- scanEvent, report *Report) error {
	entries, err := s.fsmgr.ReadDir(dir)
	if err != nil {
		if rel == "" {
			return fmt.Errorf("reading %s: %w", dir, err)
		}
		report.Error(job.Name, fmt.Errorf("reading %s: %w", dir, err))
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := filepath.Join(dir, entry.Name())
		r := filepath.ToSlash(filepath.Join(rel, entry.Name()))

		info, err := s.fsmgr.Lstat(p)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				report.Error(job.Name, fmt.Errorf("stat %s: %w", p, err))
			}
			continue
		}

		if !Accepted(job.Excludes, Candidate{Path: p, RelPath: r, Info: info}) {
			report.Add(CounterExcluded, 1)
			continue
		}

		switch {
		case info.IsDir():
			if err := s.walkDir(ctx, job, p, r, events, report); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := send(ctx, events, scanEvent{job: job, rel: r, exists: true, modTime: info.ModTime()}); err != nil {
				return err
			}
		}
	}
	return nil
}

// findDeleted emits an event for every live tracked file that is gone from disk.
func (s *Scanner) findDeleted(ctx context.Context, job *BackupJob, events chan<- scanEvent, report *Report) error {
	files, err := s.repo.ListLiveFiles(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("listing tracked files: %w", err)
	}
	for _, f := range files {
		_, err := s.fsmgr.Lstat(job.SourcePath(f.Path))
		switch {
		case err == nil:
			continue
		case errors.Is(err, fs.ErrNotExist):
			if err := send(ctx, events, scanEvent{job: job, rel: f.Path}); err != nil {
				return err
			}
		default:
			report.Error(job.Name, fmt.Errorf("stat %s: %w", f.Path, err))
		}
	}
	return nil
}

func send(ctx context.Context, events chan<- scanEvent, ev scanEvent) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply runs the version state machine for one observation.
func (s *Scanner) apply(ctx context.Context, ev scanEvent, report *Report) error {
	file, err := s.repo.FindFile(ctx, ev.job.ID, ev.rel)
	if err != nil {
		return err
	}

	if !ev.exists {
		if file == nil {
			return nil
		}
		latest, err := s.repo.LatestVersion(ctx, file.ID)
		if err != nil {
			return err
		}
		if latest == nil || latest.Deleted {
			return nil
		}
		v, err := s.repo.AddVersion(ctx, file.ID, s.clock.Now(), true)
		if err != nil {
			return err
		}
		report.Add(CounterDeleted, 1)
		s.logger.Debug("file deleted", "job", ev.job.Name, "path", ev.rel, "version", v.Version)
		return nil
	}

	report.Add(CounterScanned, 1)

	if file == nil {
		file = &model.File{ID: s.idgen.New(), DirectoryID: ev.job.ID, Path: ev.rel}
		if _, err := s.repo.CreateFile(ctx, file, ev.modTime); err != nil {
			return err
		}
		report.Add(CounterNew, 1)
		s.logger.Debug("new file", "job", ev.job.Name, "path", ev.rel)
		return nil
	}

	latest, err := s.repo.LatestVersion(ctx, file.ID)
	if err != nil {
		return err
	}
	if latest != nil && !latest.Deleted && latest.ModifiedAt.Equal(ev.modTime) {
		return nil
	}

	v, err := s.repo.AddVersion(ctx, file.ID, ev.modTime, false)
	if err != nil {
		return err
	}
	if latest != nil && latest.Deleted {
		report.Add(CounterNew, 1)
	} else {
		report.Add(CounterChanged, 1)
	}
	s.logger.Debug("file changed", "job", ev.job.Name, "path", ev.rel, "version", v.Version)
	return nil
}
