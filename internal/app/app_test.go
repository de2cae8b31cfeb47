package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fbagent/internal/agent"
	"fbagent/internal/config"
	"fbagent/internal/driver"
	"fbagent/internal/model"
)

const sqliteHeader = "SQLite format 3\x00"

type fixture struct {
	cfg       *config.Config
	src       string
	vaultRoot string
}

// newFixture returns a config backing up a temporary source tree into a
// filesystem vault through one driver of the given type.
func newFixture(t *testing.T, driverType string) *fixture {
	t.Helper()
	base := t.TempDir()
	src := filepath.Join(base, "src")
	vaultRoot := filepath.Join(base, "vault")

	writeFile(t, filepath.Join(src, "a.txt"), "alpha")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "bravo")

	cfg := config.NewConfig("host-1", base)
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Notify = config.NotifyConfig{Type: "none"}
	cfg.Drivers = []config.DriverConfig{{
		Name:     "local",
		Type:     driverType,
		Compress: true,
		Vault:    config.VaultConfig{Type: "filesystem", FSVaultRoot: vaultRoot},
	}}
	cfg.Jobs = []config.JobConfig{{
		Name:   "docs",
		Path:   src,
		Driver: "local",
	}}
	return &fixture{cfg: cfg, src: src, vaultRoot: vaultRoot}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newTestApp(t *testing.T, cfg *config.Config, password string) *App {
	t.Helper()
	require.NoError(t, cfg.Validate())
	a, err := New(context.Background(), cfg, Options{Password: password, LogMirror: io.Discard, Stdout: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func vaultFiles(t *testing.T, root string) []string {
	t.Helper()
	var names []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	return names
}

func TestApp_RunCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "archive")
	a := newTestApp(t, f.cfg, "")

	report, err := a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Count(agent.CounterNew))
	assert.Equal(t, int64(2), report.Count(agent.CounterUploaded))
	assert.False(t, report.Failed())

	files := vaultFiles(t, f.vaultRoot)
	assert.Contains(t, files, CatalogName("host-1"))
	var archives []string
	for _, n := range files {
		if strings.HasSuffix(n, ".tar.gz") {
			archives = append(archives, n)
		}
	}
	require.Len(t, archives, 1)
	assert.Contains(t, files, archives[0]+".meta")

	versions, err := a.Versions(ctx, "docs", "sub/b.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, model.StateFinished, versions[0].State)

	cycles, err := a.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, model.CycleSuccess, cycles[0].Status)
	assert.Contains(t, cycles[0].Summary, "uploaded=2")

	t.Run("changed file gets a new version", func(t *testing.T) {
		later := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(f.src, "a.txt"), later, later))

		report, err := a.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), report.Count(agent.CounterChanged))

		versions, err := a.Versions(ctx, "docs", "a.txt")
		require.NoError(t, err)
		assert.Len(t, versions, 2)
	})

	t.Run("verify every artifact", func(t *testing.T) {
		outcomes, err := a.Verify(ctx, "", nil)
		require.NoError(t, err)
		require.Len(t, outcomes, 3)
		for _, o := range outcomes {
			require.NoError(t, o.Err, o.Name)
			if o.Name == CatalogName("host-1") {
				assert.Equal(t, model.KindFile, o.Result.Metadata.ArchiveKind)
				assert.True(t, o.Result.Metadata.Compressed)
				continue
			}
			assert.NotEmpty(t, o.Result.Entries, o.Name)
		}
	})

	t.Run("verify unknown driver", func(t *testing.T) {
		_, err := a.Verify(ctx, "remote", nil)
		assert.Error(t, err)
	})

	t.Run("restore newest version next to the original", func(t *testing.T) {
		out, err := a.Restore(ctx, "docs", "a.txt", RestoreOptions{Version: -1})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(f.src, "a.txt.v1.fbrestored"), out)
		got, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "alpha", string(got))

		_, err = a.Restore(ctx, "docs", "a.txt", RestoreOptions{Version: 1})
		assert.ErrorContains(t, err, "already exists")
	})

	t.Run("restore older version to a chosen path", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "old.txt")
		got, err := a.Restore(ctx, "docs", "a.txt", RestoreOptions{Version: 0, Output: out})
		require.NoError(t, err)
		assert.Equal(t, out, got)
		content, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "alpha", string(content))
	})
}

func TestApp_EncryptedFileCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "filecopy")
	f.cfg.Encryption = config.EncryptionConfig{Type: "aes", KDFIterations: 16}
	f.cfg.Drivers[0].Encrypt = true
	f.cfg.Drivers[0].Threads = 2
	f.cfg.Jobs[0].StoreAs = "laptop"
	a := newTestApp(t, f.cfg, "s3cret")

	_, err := a.RunCycle(ctx)
	require.NoError(t, err)

	files := vaultFiles(t, f.vaultRoot)
	assert.Contains(t, files, "laptop/a.txt/$0")
	assert.Contains(t, files, "laptop/sub/b.txt/$0.meta")

	require.NoError(t, os.Remove(filepath.Join(f.src, "a.txt")))
	report, err := a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Count(agent.CounterDeleted))
	assert.Contains(t, vaultFiles(t, f.vaultRoot), "laptop/a.txt/$1,DELETED")

	outcomes, err := a.Verify(ctx, "local", []string{"laptop/sub/b.txt/$0"})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	assert.True(t, outcomes[0].Result.Metadata.Encrypted)
	assert.Equal(t, int64(len("bravo")), outcomes[0].Result.Plain)

	t.Run("catalog snapshot is encrypted", func(t *testing.T) {
		name := CatalogName("host-1")
		raw, err := os.ReadFile(filepath.Join(f.vaultRoot, filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.False(t, bytes.HasPrefix(raw, []byte(sqliteHeader)), "catalog stored in the clear")

		v := a.vaults["local"]
		meta, err := driver.ReadMetadata(ctx, v, name)
		require.NoError(t, err)
		assert.True(t, meta.Encrypted)
		assert.True(t, meta.Compressed)

		rc, err := v.Open(ctx, name)
		require.NoError(t, err)
		defer rc.Close()
		plain, err := driver.NewInput(rc, *meta, a.enc)
		require.NoError(t, err)
		db, err := io.ReadAll(plain)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(db, []byte(sqliteHeader)))
	})

	t.Run("restore decrypts the slot", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "b.txt")
		_, err := a.Restore(ctx, "docs", "sub/b.txt", RestoreOptions{Version: -1, Output: out})
		require.NoError(t, err)
		content, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "bravo", string(content))
	})

	t.Run("deleted version cannot be restored", func(t *testing.T) {
		_, err := a.Restore(ctx, "docs", "a.txt", RestoreOptions{Version: 1, Output: filepath.Join(t.TempDir(), "a")})
		assert.True(t, errors.Is(err, agent.ErrNotRestorable), "error = %v", err)
	})
}

func TestApp_MissingPassword(t *testing.T) {
	f := newFixture(t, "archive")
	f.cfg.Encryption = config.EncryptionConfig{Type: "aes"}
	f.cfg.Drivers[0].Encrypt = true

	_, err := New(context.Background(), f.cfg, Options{LogMirror: io.Discard})
	assert.Error(t, err)
}

func TestApp_RemovedJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "archive")
	f.cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(t.TempDir(), "db")}

	a, err := New(ctx, f.cfg, Options{LogMirror: io.Discard})
	require.NoError(t, err)
	_, err = a.RunCycle(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	f.cfg.Jobs = nil
	_, err = New(ctx, f.cfg, Options{LogMirror: io.Discard})
	require.Error(t, err)
	assert.True(t, errors.Is(err, agent.ErrDirectoryRemoved), "error = %v", err)
}

func TestApp_Purge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "filecopy")
	f.cfg.Jobs[0].OldVersions = &config.OldVersionsConfig{RetainVersions: 1}
	a := newTestApp(t, f.cfg, "")

	for i := 1; i <= 2; i++ {
		later := time.Now().Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(f.src, "a.txt"), later, later))
		require.NoError(t, a.agent.Scan(ctx, agent.NewReport(a.clock)))
	}

	report, err := a.Purge(ctx)
	require.NoError(t, err)
	assert.Positive(t, report.Count(agent.CounterPurged))

	versions, err := a.Versions(ctx, "docs", "a.txt")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestApp_ServeRunOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "archive")
	f.cfg.Scheduler = config.SchedulerConfig{RunOnce: true}
	a := newTestApp(t, f.cfg, "")

	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, testclock.NewClock(time.Now())) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after the run-once cycle")
	}

	cycles, err := a.History(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, cycles, 1)
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	f := newFixture(t, "archive")
	f.cfg.Scheduler = config.SchedulerConfig{Interval: config.Duration(time.Hour)}
	a := newTestApp(t, f.cfg, "")

	// A recent success pushes the first run an hour out.
	id, err := a.repo.CreateCycle(context.Background(), time.Now())
	require.NoError(t, err)
	require.NoError(t, a.repo.FinishCycle(context.Background(), id, model.CycleSuccess, "", time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, testclock.NewClock(time.Now())) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	cycles, err := a.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, cycles, 1, "no cycle should have run")
}
