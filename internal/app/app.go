package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/juju/clock"

	"fbagent/internal/agent"
	"fbagent/internal/config"
	"fbagent/internal/database"
	"fbagent/internal/driver"
	"fbagent/internal/encryption"
	"fbagent/internal/fs"
	"fbagent/internal/model"
	"fbagent/internal/scheduler"
	"fbagent/internal/vault"
)

// CatalogPrefix is the vault directory that receives database snapshots.
const CatalogPrefix = "_catalog/"

// CatalogName returns the vault object name of the host's database snapshot.
func CatalogName(hostID string) string {
	return path.Join(CatalogPrefix, hostID+".db")
}

// Options carries what New cannot read from the configuration.
type Options struct {
	// Password unlocks the encrypter. See ResolvePassword.
	Password string
	// Stdout receives reports of the stdout notifier. Defaults to os.Stdout.
	Stdout io.Writer
	// LogMirror receives a copy of every log line. Defaults to os.Stderr.
	LogMirror io.Writer
	// Clock drives timestamps of records and reports. Defaults to the wall clock.
	Clock agent.Clock
}

// App is the application layer between the CLI and the agent.
// It constructs all dependencies from config, exposes the operations of the
// CLI and manages the database lifecycle on Close.
type App struct {
	cfg      *config.Config
	repo     *database.SQLiteRepository
	fsmgr    agent.FilesystemManager
	enc      encryption.Encrypter
	vaults   map[string]agent.Vault // by driver name
	agent    *agent.Agent
	notifier agent.Notifier
	logger   agent.Logger
	clock    agent.Clock
	logFile  *os.File
}

// New creates a fully wired App from the given config. Persisted directories
// are reconciled with the configured jobs before New returns.
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.LogMirror == nil {
		opts.LogMirror = os.Stderr
	}
	if opts.Clock == nil {
		opts.Clock = agent.RealClock{}
	}

	a := &App{
		cfg:    cfg,
		fsmgr:  fs.NewOSFilesystemManager(),
		vaults: make(map[string]agent.Vault, len(cfg.Drivers)),
		clock:  opts.Clock,
	}

	runID := opts.Clock.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, runID, cfg.LogLevel, opts.LogMirror)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a.logFile = logFile
	a.logger = &slogAdapter{l: logger}

	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.cfg

	repo, err := database.NewRepositoryFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.repo = repo
	if err := repo.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	enc, err := encryption.NewEncrypterFromConfig(cfg.Encryption, opts.Password)
	if err != nil {
		return fmt.Errorf("creating encrypter: %w", err)
	}
	a.enc = enc

	drivers := make([]agent.Driver, 0, len(cfg.Drivers))
	for _, dc := range cfg.Drivers {
		vc := dc.Vault
		if vc.Name == "" {
			vc.Name = dc.Name
		}
		v, err := vault.NewVaultFromConfig(ctx, vc)
		if err != nil {
			return fmt.Errorf("creating vault for driver %s: %w", dc.Name, err)
		}
		if err := v.ValidateSetup(ctx); err != nil {
			return fmt.Errorf("validating vault for driver %s: %w", dc.Name, err)
		}
		d, err := driver.NewDriverFromConfig(dc, v, enc, a.fsmgr, a.clock, a.logger)
		if err != nil {
			return fmt.Errorf("creating driver %s: %w", dc.Name, err)
		}
		a.vaults[dc.Name] = v
		drivers = append(drivers, d)
	}

	jobs := make([]*agent.BackupJob, 0, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		rules, err := fs.NewRulesFromConfig(jc.Exclude, jc.Path, a.clock)
		if err != nil {
			return fmt.Errorf("job %s: %w", jc.Name, err)
		}
		onRemoved := model.RemovedRule(jc.OnRemoved)
		if onRemoved == "" {
			onRemoved = model.RemovedFail
		}
		jobs = append(jobs, &agent.BackupJob{
			Name:      jc.Name,
			Path:      jc.Path,
			Driver:    jc.Driver,
			StoreAs:   jc.StoreAs,
			OnRemoved: onRemoved,
			Excludes:  rules,
			Retention: jc.RetentionPolicies(),
		})
	}

	notifier, err := NewNotifierFromConfig(cfg.Notify, a.logger, opts.Stdout)
	if err != nil {
		return err
	}
	a.notifier = notifier

	a.agent = agent.NewAgent(repo, a.fsmgr, drivers, jobs, a.logger, a.clock, agent.UUIDGenerator{})
	if err := a.agent.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconciling directories: %w", err)
	}
	return nil
}

// RunCycle runs one scan, backup and retention cycle and records it in the
// cycle log. The report is handed to the notifier and the database is
// snapshotted to every vault. The error is ErrCycleFailed when the cycle
// completed with per-file or per-job errors.
func (a *App) RunCycle(ctx context.Context) (*agent.Report, error) {
	id, err := a.repo.CreateCycle(ctx, a.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("recording cycle: %w", err)
	}

	report, runErr := a.agent.RunCycle(ctx)

	// Bookkeeping happens even when ctx was cancelled mid-cycle.
	bg := context.WithoutCancel(ctx)
	if err := a.snapshotCatalog(bg); err != nil {
		report.Error("", err)
		a.logger.Error("catalog snapshot failed", "error", err)
	}

	status, summary := cycleOutcome(report, runErr)
	if err := a.repo.FinishCycle(bg, id, status, summary, a.clock.Now()); err != nil {
		a.logger.Error("recording cycle result failed", "cycle", id, "error", err)
	}
	if err := a.notifier.Notify(bg, report); err != nil {
		a.logger.Error("notification failed", "error", err)
	}
	return report, cycleError(report, runErr)
}

// Purge applies the retention policies of every job without scanning.
func (a *App) Purge(ctx context.Context) (*agent.Report, error) {
	report := agent.NewReport(a.clock)
	err := a.agent.Purge(ctx, report)
	report.Finish()
	if err != nil {
		return report, fmt.Errorf("retention: %w", err)
	}
	return report, nil
}

// VerifyOutcome is the result of verifying one artifact.
type VerifyOutcome struct {
	Name   string
	Result *driver.VerifyResult
	Err    error
}

// Verify checks artifacts of the named driver against their sidecars. With no
// names, every artifact that has a sidecar is checked. driverName may be
// empty when exactly one driver is configured.
func (a *App) Verify(ctx context.Context, driverName string, names []string) ([]VerifyOutcome, error) {
	v, err := a.vaultFor(driverName)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		all, err := v.List(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("listing vault: %w", err)
		}
		for _, n := range all {
			if strings.HasSuffix(n, driver.MetadataSuffix) {
				names = append(names, strings.TrimSuffix(n, driver.MetadataSuffix))
			}
		}
	}

	out := make([]VerifyOutcome, 0, len(names))
	for _, n := range names {
		res, err := driver.Verify(ctx, v, n, a.enc)
		if err != nil {
			a.logger.Warn("verification failed", "name", n, "error", err)
		}
		out = append(out, VerifyOutcome{Name: n, Result: res, Err: err})
	}
	return out, nil
}

func (a *App) vaultFor(driverName string) (agent.Vault, error) {
	if driverName == "" {
		if len(a.vaults) != 1 {
			return nil, fmt.Errorf("%d drivers configured, choose one", len(a.vaults))
		}
		for _, v := range a.vaults {
			return v, nil
		}
	}
	v, ok := a.vaults[driverName]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q", driverName)
	}
	return v, nil
}

// Versions returns the recorded versions of a file of the named job.
func (a *App) Versions(ctx context.Context, jobName, relPath string) ([]*model.FileVersion, error) {
	return a.agent.FileVersions(ctx, jobName, relPath)
}

// History returns the most recent cycles, newest first.
func (a *App) History(ctx context.Context, limit int) ([]*model.Cycle, error) {
	return a.agent.History(ctx, limit)
}

// Serve runs cycles on the configured schedule until ctx is cancelled, or
// after the first cycle in run-once mode. A cycle in progress when ctx is
// cancelled runs to its end before Serve returns.
func (a *App) Serve(ctx context.Context) error {
	return a.serve(ctx, clock.WallClock)
}

func (a *App) serve(ctx context.Context, clk clock.Clock) error {
	// Runs are never interrupted; Cancel waits for them instead.
	runCtx := context.WithoutCancel(ctx)

	var lastSuccess time.Time
	last, err := a.repo.LastSuccessfulCycle(runCtx)
	if err != nil {
		return fmt.Errorf("reading cycle log: %w", err)
	}
	if last != nil {
		lastSuccess = last.StartedAt
	}

	sched := scheduler.New(scheduler.Config{
		Interval:    time.Duration(a.cfg.Scheduler.Interval),
		RunOnce:     a.cfg.Scheduler.RunOnce,
		Clock:       clk,
		LastSuccess: lastSuccess,
		Logger:      a.logger,
	}, func(ctx context.Context) error {
		_, err := a.RunCycle(ctx)
		return err
	})

	if a.cfg.Scheduler.Watch && !a.cfg.Scheduler.RunOnce {
		roots := make([]string, 0, len(a.cfg.Jobs))
		for _, j := range a.cfg.Jobs {
			roots = append(roots, j.Path)
		}
		w, err := scheduler.NewWatcher(roots, time.Duration(a.cfg.Scheduler.WatchDebounce), clk, a.logger, func() {
			a.logger.Info("filesystem change detected, starting cycle early")
			sched.Trigger(runCtx)
		})
		if err != nil {
			return err
		}
		defer w.Close()
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("watcher stopped", "error", err)
			}
		}()
	}

	sched.ScheduleTask(runCtx, false)
	a.logger.Info("scheduler started", "next", sched.NextRun(), "interval", time.Duration(a.cfg.Scheduler.Interval))

	select {
	case <-ctx.Done():
		a.logger.Info("stopping, waiting for the running cycle")
	case <-sched.Done():
	}
	sched.Cancel()
	return nil
}

// snapshotCatalog writes a consistent copy of the database to every vault.
func (a *App) snapshotCatalog(ctx context.Context) error {
	if len(a.vaults) == 0 {
		return nil
	}

	tmpFile, err := os.CreateTemp("", "fbagent-db-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for db snapshot: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(tmpPath); err != nil {
		return fmt.Errorf("preparing db snapshot: %w", err)
	}
	if err := a.repo.BackupTo(tmpPath); err != nil {
		return err
	}

	name := CatalogName(a.cfg.HostID)
	seen := make(map[agent.Vault]bool, len(a.vaults))
	for _, dc := range a.cfg.Drivers {
		v := a.vaults[dc.Name]
		if v == nil || seen[v] {
			continue
		}
		seen[v] = true
		// Layered like the driver's own artifacts.
		opts, err := driver.OptionsFromConfig(dc, a.enc)
		if err != nil {
			return err
		}
		if err := storeFile(ctx, v, name, tmpPath, opts); err != nil {
			return fmt.Errorf("uploading db snapshot to %s: %w", v.Name(), err)
		}
	}
	a.logger.Debug("catalog snapshot uploaded", "name", name, "vaults", len(seen))
	return nil
}

func storeFile(ctx context.Context, v agent.Vault, name, path string, opts driver.Options) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	_, err = driver.Store(ctx, v, name, model.KindFile, f, opts)
	return err
}

// Close releases the database and the log file.
func (a *App) Close() error {
	var firstErr error
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
