package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fbagent/internal/retention"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("test-host-abc", "/home/user/.local/share/fbagent")
	original.Scheduler.Interval = Duration(90 * time.Minute)
	original.Jobs = []JobConfig{
		{
			Name:    "docs",
			Path:    "/home/user/docs",
			Driver:  "local",
			StoreAs: "documents",
			Exclude: []ExcludeConfig{{Type: "hidden"}, {Type: "glob", Value: "*.log"}},
			OldVersions: &OldVersionsConfig{
				Age:            Duration(30 * 24 * time.Hour),
				RetainVersions: 5,
			},
			DeletedFiles: &DeletedFilesConfig{Strategy: "delete-file", After: Duration(24 * time.Hour)},
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.Scheduler.Interval != original.Scheduler.Interval {
		t.Errorf("Scheduler.Interval = %v, want %v", got.Scheduler.Interval, original.Scheduler.Interval)
	}
	if len(got.Drivers) != 1 || got.Drivers[0].Vault.FSVaultRoot != original.Drivers[0].Vault.FSVaultRoot {
		t.Fatalf("Drivers = %+v, want %+v", got.Drivers, original.Drivers)
	}
	if len(got.Jobs) != 1 {
		t.Fatalf("len(Jobs) = %d, want 1", len(got.Jobs))
	}
	job := got.Jobs[0]
	if len(job.Exclude) != 2 || job.Exclude[1].Value != "*.log" {
		t.Errorf("Exclude = %+v", job.Exclude)
	}
	if job.OldVersions == nil || job.OldVersions.RetainVersions != 5 || job.OldVersions.Age != Duration(30*24*time.Hour) {
		t.Errorf("OldVersions = %+v", job.OldVersions)
	}
	if job.DeletedFiles == nil || job.DeletedFiles.After != Duration(24*time.Hour) {
		t.Errorf("DeletedFiles = %+v", job.DeletedFiles)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestRead_Durations(t *testing.T) {
	input := `
host_id = "h"
[scheduler]
interval = "15m"
`
	cfg, err := (&Manager{}).Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if time.Duration(cfg.Scheduler.Interval) != 15*time.Minute {
		t.Errorf("Interval = %v, want 15m", time.Duration(cfg.Scheduler.Interval))
	}

	_, err = (&Manager{}).Read(strings.NewReader("[scheduler]\ninterval = \"soon\"\n"))
	if err == nil {
		t.Fatal("Read() accepted an invalid duration")
	}
}

func TestJobConfig_RetentionPolicies(t *testing.T) {
	j := JobConfig{
		OldVersions:  &OldVersionsConfig{RetainVersions: 3},
		DeletedFiles: &DeletedFilesConfig{Strategy: "delete-history", After: Duration(time.Hour)},
	}
	p := j.RetentionPolicies()
	if p.OldVersions == nil || p.OldVersions.RetainVersions != 3 {
		t.Errorf("OldVersions = %+v", p.OldVersions)
	}
	if p.DeletedFiles == nil || p.DeletedFiles.Strategy != retention.DeleteHistory || p.DeletedFiles.After != time.Hour {
		t.Errorf("DeletedFiles = %+v", p.DeletedFiles)
	}
	if (JobConfig{}).RetentionPolicies().Enabled() {
		t.Error("empty job has retention enabled")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := NewConfig("h", "/data/fbagent")
		cfg.Jobs = []JobConfig{{Name: "docs", Path: "/home/u/docs", Driver: "local"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default config", mutate: func(c *Config) {}},
		{name: "unknown database", mutate: func(c *Config) { c.Database.Type = "postgres" }, wantErr: true},
		{name: "missing interval", mutate: func(c *Config) { c.Scheduler.Interval = 0 }, wantErr: true},
		{name: "run once without interval", mutate: func(c *Config) { c.Scheduler.Interval = 0; c.Scheduler.RunOnce = true }},
		{name: "unknown driver reference", mutate: func(c *Config) { c.Jobs[0].Driver = "nope" }, wantErr: true},
		{name: "relative job path", mutate: func(c *Config) { c.Jobs[0].Path = "docs" }, wantErr: true},
		{name: "duplicate job", mutate: func(c *Config) { c.Jobs = append(c.Jobs, c.Jobs[0]) }, wantErr: true},
		{name: "unknown driver type", mutate: func(c *Config) { c.Drivers[0].Type = "tape" }, wantErr: true},
		{name: "unknown vault type", mutate: func(c *Config) { c.Drivers[0].Vault.Type = "ftp" }, wantErr: true},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Drivers[0].Vault = VaultConfig{Type: "s3"} }, wantErr: true},
		{name: "encrypt without cipher", mutate: func(c *Config) { c.Drivers[0].Encrypt = true }, wantErr: true},
		{name: "encrypt with aes", mutate: func(c *Config) { c.Drivers[0].Encrypt = true; c.Encryption.Type = "aes" }},
		{name: "unknown exclude", mutate: func(c *Config) { c.Jobs[0].Exclude = []ExcludeConfig{{Type: "big"}} }, wantErr: true},
		{name: "bad older_than", mutate: func(c *Config) { c.Jobs[0].Exclude = []ExcludeConfig{{Type: "older_than", Value: "x"}} }, wantErr: true},
		{name: "unknown on_removed", mutate: func(c *Config) { c.Jobs[0].OnRemoved = "shrug" }, wantErr: true},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		{
			name: "age with retain on deleted files",
			mutate: func(c *Config) {
				c.Jobs[0].DeletedFiles = &DeletedFilesConfig{Strategy: "delete-history", Age: Duration(time.Hour), RetainVersions: 2}
			},
			wantErr: true,
		},
		{
			name:    "empty old versions policy",
			mutate:  func(c *Config) { c.Jobs[0].OldVersions = &OldVersionsConfig{} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Validate() error = nil, want error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestValidate_RetentionErrorIsWrapped(t *testing.T) {
	cfg := NewConfig("h", "/data")
	cfg.Jobs = []JobConfig{{
		Name: "j", Path: "/j", Driver: "local",
		DeletedFiles: &DeletedFilesConfig{Strategy: "delete-file", Age: Duration(time.Hour)},
	}}
	err := cfg.Validate()
	if !errors.Is(err, retention.ErrInvalidPolicy) {
		t.Errorf("Validate() error = %v, want retention.ErrInvalidPolicy", err)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/fbagent")

	if cfg.HostID != "host-1" {
		t.Errorf("HostID = %q, want %q", cfg.HostID, "host-1")
	}
	if cfg.LogDir != "/data/fbagent/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/fbagent/log")
	}
	if cfg.Database.DataDir != "/data/fbagent/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/fbagent/db")
	}
	if cfg.FindDriver("local") == nil {
		t.Error("default driver \"local\" missing")
	}
	if cfg.FindDriver("remote") != nil {
		t.Error("FindDriver() found an undefined driver")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fbagent.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("mode = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fbagent.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fbagent.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fbagent.toml")
		cfg := NewConfig("bad", dir)
		cfg.Jobs = []JobConfig{{Name: "j", Path: "/j", Driver: "missing"}}
		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := ReadFromFile(path); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("ReadFromFile() error = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/fbagent.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
