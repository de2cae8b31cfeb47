package agent_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fbagent/internal/agent"
	"fbagent/internal/database"
	"fbagent/internal/model"
	"fbagent/internal/testutil"
)

var t0 = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

type env struct {
	repo   *database.SQLiteRepository
	fsmgr  *testutil.MockFilesystemManager
	clock  *testutil.Clock
	driver *fakeDriver
	agent  *agent.Agent
	jobs   []*agent.BackupJob
}

func newJob(name, path string) *agent.BackupJob {
	return &agent.BackupJob{Name: name, Path: path, Driver: "fake"}
}

// newEnv wires an agent over an in-memory repository and filesystem and
// reconciles the jobs. Every job uses the fake driver.
func newEnv(t *testing.T, jobs ...*agent.BackupJob) *env {
	t.Helper()
	e := &env{
		repo:   testutil.NewTestRepository(t),
		fsmgr:  testutil.NewMockFilesystemManager(),
		clock:  testutil.NewClock(t0.Add(time.Hour)),
		driver: newFakeDriver(),
		jobs:   jobs,
	}
	e.agent = agent.NewAgent(e.repo, e.fsmgr, []agent.Driver{e.driver}, jobs, agent.NewNopLogger(), e.clock, testutil.NewIDs("id"))
	require.NoError(t, e.agent.Reconcile(context.Background()))
	return e
}

func (e *env) scan(t *testing.T) *agent.Report {
	t.Helper()
	report := agent.NewReport(e.clock)
	require.NoError(t, e.agent.Scan(context.Background(), report))
	return report
}

func (e *env) versions(t *testing.T, job *agent.BackupJob, rel string) []*model.FileVersion {
	t.Helper()
	ctx := context.Background()
	f, err := e.repo.FindFile(ctx, job.ID, rel)
	require.NoError(t, err)
	if f == nil {
		return nil
	}
	vs, err := e.repo.ListVersions(ctx, f.ID)
	require.NoError(t, err)
	return vs
}

// fakeDriver records what its sessions receive. Files listed in fail are
// completed with that error.
type fakeDriver struct {
	mu        sync.Mutex
	handled   []string
	purged    map[string][]int64
	fail      map[string]error
	openErr   error
	finishErr error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{purged: map[string][]int64{}, fail: map[string]error{}}
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) OpenSession(ctx context.Context, job *agent.BackupJob, report *agent.Report) (agent.Session, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakeSession{d: d}, nil
}

func (d *fakeDriver) PurgeVersions(ctx context.Context, job *agent.BackupJob, relPath string, versions []int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.purged[relPath] = append(d.purged[relPath], versions...)
	return nil
}

func (d *fakeDriver) Handled() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.handled...)
}

type fakeSession struct {
	d       *fakeDriver
	pending []func(error)
	errs    []error
}

// HandleFile holds every completion until Finish, like the archive driver.
func (s *fakeSession) HandleFile(ctx context.Context, fj *agent.FileJob, done func(error)) {
	s.d.mu.Lock()
	s.d.handled = append(s.d.handled, fj.File.Path)
	err := s.d.fail[fj.File.Path]
	s.d.mu.Unlock()

	s.pending = append(s.pending, done)
	s.errs = append(s.errs, err)
}

func (s *fakeSession) Finish(ctx context.Context) error {
	for i, done := range s.pending {
		err := s.errs[i]
		if s.d.finishErr != nil {
			err = s.d.finishErr
		}
		done(err)
	}
	s.pending = nil
	return s.d.finishErr
}

var (
	_ agent.Driver        = (*fakeDriver)(nil)
	_ agent.VersionPurger = (*fakeDriver)(nil)

	errPermission = errors.New("permission denied")
)
