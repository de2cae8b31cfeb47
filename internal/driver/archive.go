package driver

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"fbagent/internal/agent"
	"fbagent/internal/model"
)

// DeletedOwner is the tar user name of entries that record a deletion.
const DeletedOwner = "!deleted"

// ErrSessionFinished is passed to done for files handed to a finished session.
var ErrSessionFinished = errors.New("session already finished")

// ArchiveConfig configures an ArchiveDriver.
type ArchiveConfig struct {
	Name    string
	Prefix  string // prepended to every archive name, may contain slashes; "<job>-" when empty
	Options Options
	// MaxFiles and MaxBytes cycle to a new archive once reached. Zero disables a limit.
	MaxFiles int
	MaxBytes int64
}

// ArchiveDriver writes each session's files into tar archives.
type ArchiveDriver struct {
	cfg    ArchiveConfig
	vault  agent.Vault
	fsmgr  agent.FilesystemManager
	clock  agent.Clock
	logger agent.Logger
}

func NewArchiveDriver(cfg ArchiveConfig, vault agent.Vault, fsmgr agent.FilesystemManager, clock agent.Clock, logger agent.Logger) *ArchiveDriver {
	return &ArchiveDriver{cfg: cfg, vault: vault, fsmgr: fsmgr, clock: clock, logger: logger}
}

func (d *ArchiveDriver) Name() string { return d.cfg.Name }

// Extension returns the file extension of archives written by d.
func (d *ArchiveDriver) Extension() string {
	ext := ".tar"
	if d.cfg.Options.Compress {
		ext += ".gz"
	}
	if d.cfg.Options.Encrypter != nil {
		ext += ".encrypted"
	}
	return ext
}

// OpenSession prepares a session. The first archive is created lazily so
// that a session without files leaves nothing behind.
func (d *ArchiveDriver) OpenSession(ctx context.Context, job *agent.BackupJob, report *agent.Report) (agent.Session, error) {
	stamp := d.clock.Now().UTC().Format("20060102T150405Z")
	return &archiveSession{
		driver: d,
		job:    job,
		report: report,
		base:   d.prefixOf(job) + stamp,
	}, nil
}

// prefixOf returns the name prefix of the job's archives. Jobs of a driver
// with an explicit prefix share it.
func (d *ArchiveDriver) prefixOf(job *agent.BackupJob) string {
	if d.cfg.Prefix == "" {
		return job.Name + "-"
	}
	return d.cfg.Prefix
}

// archiveSession owns at most one open archive. Completions of the files in
// the open archive are held back until the archive is committed, so a file
// is only reported done once its bytes are durable.
type archiveSession struct {
	driver *ArchiveDriver
	job    *agent.BackupJob
	report *agent.Report
	base   string
	index  int

	cur      *openArchive
	err      error // fatal, set when the target could not be written
	finished bool
}

type openArchive struct {
	name    string
	target  agent.VaultWriter
	out     *Output
	tw      *tar.Writer
	entries int
	bytes   int64
	pending []func(error)
}

func (s *archiveSession) HandleFile(ctx context.Context, fj *agent.FileJob, done func(error)) {
	switch {
	case s.finished:
		done(ErrSessionFinished)
		return
	case s.err != nil:
		done(s.err)
		return
	}
	if err := ctx.Err(); err != nil {
		done(err)
		return
	}

	if s.cur != nil && s.full() {
		if err := s.commit(ctx); err != nil {
			s.fail(err)
			done(err)
			return
		}
	}
	if s.cur == nil {
		if err := s.open(ctx); err != nil {
			s.fail(err)
			done(err)
			return
		}
	}

	srcErr, dstErr := s.addEntry(fj)
	switch {
	case dstErr != nil:
		s.fail(dstErr)
		done(dstErr)
	case srcErr != nil:
		done(srcErr)
	default:
		s.cur.pending = append(s.cur.pending, done)
	}
}

// full reports whether the open archive reached a configured limit.
func (s *archiveSession) full() bool {
	cfg := s.driver.cfg
	return (cfg.MaxFiles > 0 && s.cur.entries >= cfg.MaxFiles) ||
		(cfg.MaxBytes > 0 && s.cur.bytes >= cfg.MaxBytes)
}

func (s *archiveSession) open(ctx context.Context) error {
	// Sessions started within the same second share a base name.
	var name string
	for {
		name = fmt.Sprintf("%s-%04d%s", s.base, s.index, s.driver.Extension())
		s.index++
		exists, err := s.driver.vault.Exists(ctx, name)
		if err != nil {
			return fmt.Errorf("checking archive %s: %w", name, err)
		}
		if !exists {
			break
		}
	}

	target, err := s.driver.vault.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("creating archive %s: %w", name, err)
	}
	out, err := NewOutput(target, s.driver.cfg.Options)
	if err != nil {
		target.Abort()
		return fmt.Errorf("creating archive %s: %w", name, err)
	}
	s.cur = &openArchive{name: name, target: target, out: out, tw: tar.NewWriter(out)}
	s.driver.logger.Debug("archive opened", "job", s.job.Name, "archive", name)
	return nil
}

// addEntry appends one file. srcErr means the source could not be read and
// the archive is still usable; dstErr means the archive is broken.
func (s *archiveSession) addEntry(fj *agent.FileJob) (srcErr, dstErr error) {
	a := s.cur
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     fj.TargetPath(),
		ModTime:  fj.Version.ModifiedAt,
		Format:   tar.FormatPAX,
	}

	deleted := func() (srcErr, dstErr error) {
		hdr.Uname = DeletedOwner
		if err := a.tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing entry %s: %w", hdr.Name, err)
		}
		a.entries++
		return nil, nil
	}
	if fj.Deleted() {
		return deleted()
	}

	// A source removed since the scan is archived as a deletion.
	info, err := s.driver.fsmgr.Lstat(fj.SourcePath())
	if errors.Is(err, fs.ErrNotExist) {
		s.driver.logger.Debug("source vanished, archiving deletion", "path", fj.SourcePath())
		return deleted()
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", fj.SourcePath(), err), nil
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is no longer a regular file", fj.SourcePath()), nil
	}
	src, err := s.driver.fsmgr.Open(fj.SourcePath())
	if errors.Is(err, fs.ErrNotExist) {
		return deleted()
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", fj.SourcePath(), err), nil
	}
	defer src.Close()

	fih, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("building header for %s: %w", fj.SourcePath(), err), nil
	}
	fih.Name = hdr.Name
	fih.Format = tar.FormatPAX
	hdr = fih

	if err := a.tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("writing entry %s: %w", hdr.Name, err)
	}

	// Copy exactly the announced size. A file that shrank or failed while
	// being read is padded with zeros so the archive stays well formed.
	sr := &sourceReader{r: src}
	n, err := io.CopyN(a.tw, sr, hdr.Size)
	if err != nil && sr.err == nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("writing entry %s: %w", hdr.Name, err)
	}
	if n < hdr.Size {
		if _, perr := io.CopyN(a.tw, zeroReader{}, hdr.Size-n); perr != nil {
			return nil, fmt.Errorf("padding entry %s: %w", hdr.Name, perr)
		}
		srcErr = fmt.Errorf("%s: read %d of %d bytes", fj.SourcePath(), n, hdr.Size)
		if sr.err != nil {
			srcErr = fmt.Errorf("reading %s: %w", fj.SourcePath(), sr.err)
		}
	}

	a.entries++
	a.bytes += hdr.Size
	s.report.Add(agent.CounterBytes, hdr.Size)
	return srcErr, nil
}

// commit closes the open archive, publishes it and then its sidecar, and
// completes the files it holds.
func (s *archiveSession) commit(ctx context.Context) error {
	a := s.cur
	s.cur = nil

	err := a.tw.Close()
	if err == nil {
		err = a.out.Close()
	}
	if err != nil {
		a.target.Abort()
		err = fmt.Errorf("closing archive %s: %w", a.name, err)
		a.complete(err)
		return err
	}
	if err := a.target.Close(); err != nil {
		err = fmt.Errorf("storing archive %s: %w", a.name, err)
		a.complete(err)
		return err
	}

	meta := a.out.Metadata(model.KindTar)
	meta.Entries = a.entries
	if err := WriteMetadata(context.WithoutCancel(ctx), s.driver.vault, a.name, meta); err != nil {
		a.complete(err)
		return err
	}

	a.complete(nil)
	s.report.Add(agent.CounterArchives, 1)
	s.driver.logger.Info("archive written", "job", s.job.Name, "archive", a.name,
		"entries", a.entries, "bytes", a.bytes, "stored", meta.Size)
	return nil
}

// fail discards the open archive after a target error. Every later file of
// the session fails with the same error.
func (s *archiveSession) fail(err error) {
	s.err = err
	s.driver.logger.Error("archive session failed", "job", s.job.Name, "error", err)
	if s.cur == nil {
		return
	}
	a := s.cur
	s.cur = nil
	a.target.Abort()
	a.complete(fmt.Errorf("archive %s discarded: %w", a.name, err))
}

func (a *openArchive) complete(err error) {
	for _, done := range a.pending {
		done(err)
	}
	a.pending = nil
}

// Finish commits the open archive. It is safe to call more than once.
func (s *archiveSession) Finish(ctx context.Context) error {
	if s.finished {
		return nil
	}
	s.finished = true
	if s.cur != nil {
		if err := s.commit(ctx); err != nil {
			s.err = err
		}
	}
	return s.err
}

// sourceReader remembers read errors so they can be told apart from write
// errors after io.CopyN.
type sourceReader struct {
	r   io.Reader
	err error
}

func (r *sourceReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
