package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fbagent/internal/agent"
	"fbagent/internal/driver"
	"fbagent/internal/model"
	"fbagent/internal/testutil"
)

func TestAgent_BackupDeliversPendingVersions(t *testing.T) {
	ctx := context.Background()
	job := newJob("docs", "/src/docs")
	e := newEnv(t, job)
	e.fsmgr.AddFile("/src/docs/a.txt", []byte("a"))
	e.fsmgr.AddFile("/src/docs/b.txt", []byte("b"))
	e.scan(t)

	report := agent.NewReport(e.clock)
	require.NoError(t, e.agent.Backup(ctx, report))

	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, e.driver.Handled())
	assert.Equal(t, int64(2), report.Count(agent.CounterUploaded))
	for _, rel := range []string{"a.txt", "b.txt"} {
		vs := e.versions(t, job, rel)
		require.Len(t, vs, 1)
		assert.Equal(t, model.StateFinished, vs[0].State, rel)
		assert.NotNil(t, vs[0].FinishedAt, rel)
	}

	t.Run("finished versions are not delivered again", func(t *testing.T) {
		require.NoError(t, e.agent.Backup(ctx, agent.NewReport(e.clock)))
		assert.Len(t, e.driver.Handled(), 2)
	})
}

func TestAgent_BackupFailuresAreRetriedNextCycle(t *testing.T) {
	ctx := context.Background()
	job := newJob("docs", "/src/docs")
	e := newEnv(t, job)
	e.fsmgr.AddFile("/src/docs/a.txt", []byte("a"))
	e.fsmgr.AddFile("/src/docs/b.txt", []byte("b"))
	e.scan(t)
	e.driver.fail["b.txt"] = errors.New("vanished")

	report := agent.NewReport(e.clock)
	require.NoError(t, e.agent.Backup(ctx, report))
	assert.Equal(t, int64(1), report.Count(agent.CounterUploaded))
	assert.Equal(t, int64(1), report.Count(agent.CounterFailed))
	assert.True(t, report.Failed())
	assert.Equal(t, model.StateFailed, e.versions(t, job, "b.txt")[0].State)

	delete(e.driver.fail, "b.txt")
	report = agent.NewReport(e.clock)
	require.NoError(t, e.agent.Backup(ctx, report))
	assert.Equal(t, int64(1), report.Count(agent.CounterUploaded))
	assert.Equal(t, model.StateFinished, e.versions(t, job, "b.txt")[0].State)
}

func TestAgent_BackupSessionErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("open failure leaves versions pending", func(t *testing.T) {
		job := newJob("docs", "/src/docs")
		e := newEnv(t, job)
		e.fsmgr.AddFile("/src/docs/a.txt", []byte("a"))
		e.scan(t)
		e.driver.openErr = errors.New("vault offline")

		report := agent.NewReport(e.clock)
		require.NoError(t, e.agent.Backup(ctx, report))
		assert.Equal(t, int64(1), report.Count(agent.CounterErrors))
		assert.Equal(t, model.StatePending, e.versions(t, job, "a.txt")[0].State)
	})

	t.Run("finish failure fails every held file", func(t *testing.T) {
		job := newJob("docs", "/src/docs")
		e := newEnv(t, job)
		e.fsmgr.AddFile("/src/docs/a.txt", []byte("a"))
		e.scan(t)
		e.driver.finishErr = errors.New("disk full")

		report := agent.NewReport(e.clock)
		require.NoError(t, e.agent.Backup(ctx, report))
		assert.Equal(t, int64(1), report.Count(agent.CounterFailed))
		assert.Equal(t, model.StateFailed, e.versions(t, job, "a.txt")[0].State)

		var sawSession bool
		for _, m := range report.Messages() {
			if strings.Contains(m.Text, "finishing fake session") {
				sawSession = true
			}
		}
		assert.True(t, sawSession, "session error is reported against the job")
	})

	t.Run("unknown driver does not stop other jobs", func(t *testing.T) {
		broken := newJob("broken", "/src/broken")
		broken.Driver = "nope"
		docs := newJob("docs", "/src/docs")
		e := newEnv(t, broken, docs)
		e.fsmgr.AddFile("/src/broken/x", []byte("x"))
		e.fsmgr.AddFile("/src/docs/a.txt", []byte("a"))
		e.scan(t)

		report := agent.NewReport(e.clock)
		require.NoError(t, e.agent.Backup(ctx, report))
		assert.Equal(t, []string{"a.txt"}, e.driver.Handled())
		assert.Equal(t, int64(1), report.Count(agent.CounterErrors))
	})
}

func TestAgent_RunCycleWithFileCopyDriver(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/src/docs/a.txt", []byte("alpha"))
	fsmgr.AddFile("/src/docs/sub/b.txt", []byte("bravo"))
	v := testutil.NewTestVault()
	clock := testutil.FixedClock()

	d := driver.NewFileCopyDriver(driver.FileCopyConfig{Name: "copy", Threads: 2}, v, fsmgr, agent.NewNopLogger())
	job := &agent.BackupJob{Name: "docs", Path: "/src/docs", Driver: "copy", StoreAs: "laptop"}
	a := agent.NewAgent(repo, fsmgr, []agent.Driver{d}, []*agent.BackupJob{job}, agent.NewNopLogger(), clock, testutil.NewIDs("id"))
	require.NoError(t, a.Reconcile(ctx))

	report, err := a.RunCycle(ctx)
	require.NoError(t, err)
	assert.False(t, report.Failed(), report.Summary())
	assert.Equal(t, int64(2), report.Count(agent.CounterUploaded))
	for name, want := range map[string]string{"laptop/a.txt/$0": "alpha", "laptop/sub/b.txt/$0": "bravo"} {
		got, ok := v.Bytes(name)
		require.True(t, ok, name)
		assert.Equal(t, want, string(got))
	}

	fsmgr.Remove("/src/docs/a.txt")
	report, err = a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Count(agent.CounterDeleted))
	ok, err := v.Exists(ctx, "laptop/a.txt/$1,DELETED")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAgent_BackupSkipsSupersededVersions(t *testing.T) {
	ctx := context.Background()
	job := newJob("docs", "/src/docs")
	e := newEnv(t, job)
	e.fsmgr.AddFile("/src/docs/a.txt", []byte("a"))
	e.scan(t)
	e.fsmgr.Touch("/src/docs/a.txt", t0.Add(30*time.Minute), []byte("a, edited"))
	e.scan(t)

	report := agent.NewReport(e.clock)
	require.NoError(t, e.agent.Backup(ctx, report))
	assert.Equal(t, []string{"a.txt"}, e.driver.Handled())
	assert.Equal(t, int64(1), report.Count(agent.CounterUploaded))
	assert.Equal(t, int64(1), report.Count(agent.CounterSuperseded))
	assert.False(t, report.Failed(), report.Summary())

	vs := e.versions(t, job, "a.txt")
	require.Len(t, vs, 2)
	assert.Equal(t, model.StateFinished, vs[0].State)
	assert.Nil(t, vs[0].FinishedAt, "superseded version was never stored")
	assert.Equal(t, model.StateFinished, vs[1].State)
	assert.NotNil(t, vs[1].FinishedAt)
}

func TestAgent_VanishedSourceDoesNotFailCycles(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/src/docs/a.txt", []byte("alpha"))
	v := testutil.NewTestVault()
	clock := testutil.FixedClock()

	d := driver.NewFileCopyDriver(driver.FileCopyConfig{Name: "copy", Threads: 1}, v, fsmgr, agent.NewNopLogger())
	job := &agent.BackupJob{Name: "docs", Path: "/src/docs", Driver: "copy", StoreAs: "laptop"}
	a := agent.NewAgent(repo, fsmgr, []agent.Driver{d}, []*agent.BackupJob{job}, agent.NewNopLogger(), clock, testutil.NewIDs("id"))
	require.NoError(t, a.Reconcile(ctx))
	require.NoError(t, a.Scan(ctx, agent.NewReport(clock)))

	// Gone between scan and delivery.
	fsmgr.Remove("/src/docs/a.txt")
	report := agent.NewReport(clock)
	require.NoError(t, a.Backup(ctx, report))
	assert.False(t, report.Failed(), report.Summary())
	ok, err := v.Exists(ctx, "laptop/a.txt/$0,DELETED")
	require.NoError(t, err)
	assert.True(t, ok, "vanished version is recorded as a deletion")

	for i := 0; i < 3; i++ {
		clock.Advance(time.Minute)
		report, err := a.RunCycle(ctx)
		require.NoError(t, err)
		assert.False(t, report.Failed(), "cycle %d: %s", i, report.Summary())
		assert.Zero(t, report.Count(agent.CounterFailed), "cycle %d", i)
	}

	f, err := repo.FindFile(ctx, job.ID, "a.txt")
	require.NoError(t, err)
	vs, err := repo.ListVersions(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, vs, 2)
	for _, ver := range vs {
		assert.Equal(t, model.StateFinished, ver.State, "version %d", ver.Version)
	}
	assert.True(t, vs[1].Deleted)
}

func TestAgent_RequiresReconcile(t *testing.T) {
	job := newJob("docs", "/src/docs")
	a := agent.NewAgent(testutil.NewTestRepository(t), testutil.NewMockFilesystemManager(), nil,
		[]*agent.BackupJob{job}, agent.NewNopLogger(), testutil.FixedClock(), testutil.NewIDs("id"))

	_, err := a.RunCycle(context.Background())
	assert.Error(t, err)
}
