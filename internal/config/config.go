package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"fbagent/internal/retention"
)

// Config represents the main configuration for fbagent.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level,omitempty"` // debug, info (default), warn, error
	Database   DatabaseConfig   `toml:"database"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Encryption EncryptionConfig `toml:"encryption"`
	Notify     NotifyConfig     `toml:"notify"`
	Drivers    []DriverConfig   `toml:"drivers"`
	Jobs       []JobConfig      `toml:"jobs"`
}

// Duration is a time.Duration written as a Go duration string ("36h", "15m").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SchedulerConfig controls how often a backup cycle runs.
type SchedulerConfig struct {
	Interval      Duration `toml:"interval"`
	RunOnce       bool     `toml:"run_once,omitempty"`
	Watch         bool     `toml:"watch,omitempty"`          // trigger a cycle on filesystem changes
	WatchDebounce Duration `toml:"watch_debounce,omitempty"` // defaults to 30s
}

// EncryptionConfig selects the cipher used by drivers with encrypt = true.
// The password is taken from Password, then from the environment variable
// named by PasswordEnv, and finally prompted for on a terminal.
type EncryptionConfig struct {
	Type          string `toml:"type"` // "aes", "age" or "none"
	Password      string `toml:"password,omitempty"`
	PasswordEnv   string `toml:"password_env,omitempty"`
	KDFIterations int    `toml:"kdf_iterations,omitempty"` // aes only
	WorkFactor    int    `toml:"work_factor,omitempty"`    // age only, scrypt log2(N)
}

// NotifyConfig selects where the report of every cycle is delivered.
type NotifyConfig struct {
	Type string `toml:"type"` // "log" (default), "stdout" or "none"
}

// DriverConfig represents a backup driver and the vault it writes to.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DriverConfig struct {
	Name string      `toml:"name"`
	Type string      `toml:"type"` // "archive" or "filecopy"
	Vault VaultConfig `toml:"vault"`

	Compress              bool `toml:"compress"`
	CompressionLevel      int  `toml:"compression_level,omitempty"`
	Encrypt               bool `toml:"encrypt"`
	EncryptBeforeCompress bool `toml:"encrypt_before_compress,omitempty"`

	// Archive-specific fields (only used when Type == "archive")
	ArchivePrefix string `toml:"archive_prefix,omitempty"`
	MaxFiles      int    `toml:"max_files,omitempty"`
	MaxBytes      int64  `toml:"max_bytes,omitempty"`

	// Filecopy-specific fields (only used when Type == "filecopy")
	Threads int `toml:"threads,omitempty"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
	S3PathStyle bool   `toml:"s3_path_style,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// JobConfig is one source directory to back up.
type JobConfig struct {
	Name         string              `toml:"name"`
	Path         string              `toml:"path"`
	Driver       string              `toml:"driver"`
	StoreAs      string              `toml:"store_as,omitempty"`
	OnRemoved    string              `toml:"on_removed,omitempty"` // "fail" (default), "ignore" or "purge"
	Exclude      []ExcludeConfig     `toml:"exclude,omitempty"`
	OldVersions  *OldVersionsConfig  `toml:"old_versions,omitempty"`
	DeletedFiles *DeletedFilesConfig `toml:"deleted_files,omitempty"`
}

// ExcludeConfig is one exclude rule.
// This uses a tagged union pattern - the Type field determines how Value is read.
type ExcludeConfig struct {
	Type  string `toml:"type"` // "symlinks", "hidden", "path_prefix", "filename_prefix", "older_than", "glob"
	Value string `toml:"value,omitempty"`
}

// OldVersionsConfig trims history of files that still exist.
type OldVersionsConfig struct {
	Age            Duration `toml:"age,omitempty"`
	RetainVersions int      `toml:"retain_versions,omitempty"`
}

// DeletedFilesConfig trims history of files that were deleted.
type DeletedFilesConfig struct {
	Strategy       string   `toml:"strategy"` // "delete-history" or "delete-file"
	After          Duration `toml:"after,omitempty"`
	Age            Duration `toml:"age,omitempty"`
	RetainVersions int      `toml:"retain_versions,omitempty"`
}

// RetentionPolicies converts the job's retention sections.
func (j JobConfig) RetentionPolicies() retention.Policies {
	var p retention.Policies
	if j.OldVersions != nil {
		p.OldVersions = &retention.OldVersions{
			Age:            time.Duration(j.OldVersions.Age),
			RetainVersions: j.OldVersions.RetainVersions,
		}
	}
	if j.DeletedFiles != nil {
		p.DeletedFiles = &retention.DeletedFiles{
			Strategy:       retention.Strategy(j.DeletedFiles.Strategy),
			After:          time.Duration(j.DeletedFiles.After),
			Age:            time.Duration(j.DeletedFiles.Age),
			RetainVersions: j.DeletedFiles.RetainVersions,
		}
	}
	return p
}

// FindDriver returns the driver config with the given name, or nil.
func (c *Config) FindDriver(name string) *DriverConfig {
	for i := range c.Drivers {
		if c.Drivers[i].Name == name {
			return &c.Drivers[i]
		}
	}
	return nil
}

// NewConfig creates a new Config with the provided values and defaults:
// an hourly schedule, a sqlite database under baseDir and no jobs.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:   hostID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Scheduler: SchedulerConfig{
			Interval: Duration(time.Hour),
		},
		Encryption: EncryptionConfig{
			Type:        "none",
			PasswordEnv: "FBAGENT_PASSWORD",
		},
		Notify: NotifyConfig{Type: "log"},
		Drivers: []DriverConfig{
			{
				Name:     "local",
				Type:     "archive",
				Compress: true,
				Vault: VaultConfig{
					Type:        "filesystem",
					Name:        "local",
					FSVaultRoot: filepath.Join(baseDir, "vault"),
				},
			},
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
