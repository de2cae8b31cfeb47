package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"runtime"
	"strconv"

	"golang.org/x/sync/semaphore"

	"fbagent/internal/agent"
	"fbagent/internal/model"
)

// DeletedSuffix marks the slot of a version that records a deletion.
const DeletedSuffix = ",DELETED"

// FileCopyConfig configures a FileCopyDriver.
type FileCopyConfig struct {
	Name    string
	Options Options
	Threads int // 0 selects runtime.NumCPU()
}

// FileCopyDriver stores every version as its own object:
//
//	<store path>/<rel>/$<n>           content
//	<store path>/<rel>/$<n>.meta      sidecar
//	<store path>/<rel>/$<n>,DELETED   empty deletion marker
type FileCopyDriver struct {
	cfg    FileCopyConfig
	vault  agent.Vault
	fsmgr  agent.FilesystemManager
	logger agent.Logger
}

func NewFileCopyDriver(cfg FileCopyConfig, vault agent.Vault, fsmgr agent.FilesystemManager, logger agent.Logger) *FileCopyDriver {
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	return &FileCopyDriver{cfg: cfg, vault: vault, fsmgr: fsmgr, logger: logger}
}

func (d *FileCopyDriver) Name() string { return d.cfg.Name }

// SlotName returns the object name of version n of a target path.
func SlotName(target string, n int64) string {
	return path.Join(target, "$"+strconv.FormatInt(n, 10))
}

func (d *FileCopyDriver) OpenSession(ctx context.Context, job *agent.BackupJob, report *agent.Report) (agent.Session, error) {
	return &copySession{
		driver: d,
		job:    job,
		report: report,
		sem:    semaphore.NewWeighted(int64(d.cfg.Threads)),
	}, nil
}

// PurgeVersions removes the slots of purged versions.
func (d *FileCopyDriver) PurgeVersions(ctx context.Context, job *agent.BackupJob, relPath string, versions []int64) error {
	target := job.TargetPath(relPath)
	for _, v := range versions {
		slot := SlotName(target, v)
		for _, name := range []string{slot, MetadataName(slot), slot + DeletedSuffix} {
			if err := d.vault.Delete(ctx, name); err != nil {
				return fmt.Errorf("deleting %s: %w", name, err)
			}
		}
	}
	return nil
}

// copySession bounds in-flight copies with a semaphore sized to the pool.
type copySession struct {
	driver   *FileCopyDriver
	job      *agent.BackupJob
	report   *agent.Report
	sem      *semaphore.Weighted
	finished bool
}

// HandleFile blocks until a worker is free and copies the file on it.
func (s *copySession) HandleFile(ctx context.Context, fj *agent.FileJob, done func(error)) {
	if s.finished {
		done(ErrSessionFinished)
		return
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		done(err)
		return
	}
	go func() {
		defer s.sem.Release(1)
		done(s.copy(ctx, fj))
	}()
}

func (s *copySession) copy(ctx context.Context, fj *agent.FileJob) error {
	slot := SlotName(fj.TargetPath(), fj.Version.Version)
	v := s.driver.vault

	marker := func() error {
		if err := v.Put(ctx, slot+DeletedSuffix, bytes.NewReader(nil), 0); err != nil {
			return fmt.Errorf("writing deletion marker: %w", err)
		}
		return nil
	}
	if fj.Deleted() {
		return marker()
	}

	// A source removed since the scan gets a deletion marker in its slot.
	src, err := s.driver.fsmgr.Open(fj.SourcePath())
	if errors.Is(err, fs.ErrNotExist) {
		s.driver.logger.Debug("source vanished, writing deletion marker", "path", fj.SourcePath())
		return marker()
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", fj.SourcePath(), err)
	}
	defer src.Close()

	n, err := Store(ctx, v, slot, model.KindFile, src, s.driver.cfg.Options)
	if err != nil {
		return fmt.Errorf("copying %s: %w", fj.SourcePath(), err)
	}
	s.report.Add(agent.CounterBytes, n)
	s.driver.logger.Debug("version stored", "job", s.job.Name, "slot", slot, "bytes", n)
	return nil
}

// Finish waits for every in-flight copy by taking all permits.
func (s *copySession) Finish(ctx context.Context) error {
	if s.finished {
		return nil
	}
	s.finished = true
	threads := int64(s.driver.cfg.Threads)
	if err := s.sem.Acquire(context.WithoutCancel(ctx), threads); err != nil {
		return fmt.Errorf("draining workers: %w", err)
	}
	s.sem.Release(threads)
	return nil
}
