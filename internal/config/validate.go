package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate rejects configurations the agent cannot run with. It is called by
// ReadFromFile so that errors surface before anything starts.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return invalid("database: data_dir required for sqlite")
		}
	case "memory":
	default:
		return invalid("database: unknown type %q", c.Database.Type)
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("unknown log_level %q", c.LogLevel)
	}

	if c.Scheduler.Interval < 0 {
		return invalid("scheduler: negative interval")
	}
	if !c.Scheduler.RunOnce && c.Scheduler.Interval == 0 {
		return invalid("scheduler: interval required unless run_once is set")
	}

	switch c.Encryption.Type {
	case "", "none", "aes", "age":
	default:
		return invalid("encryption: unknown type %q", c.Encryption.Type)
	}

	switch c.Notify.Type {
	case "", "log", "stdout", "none":
	default:
		return invalid("notify: unknown type %q", c.Notify.Type)
	}

	drivers := make(map[string]bool, len(c.Drivers))
	for i := range c.Drivers {
		d := &c.Drivers[i]
		if err := d.validate(c.Encryption); err != nil {
			return err
		}
		if drivers[d.Name] {
			return invalid("driver %q defined twice", d.Name)
		}
		drivers[d.Name] = true
	}

	jobs := make(map[string]bool, len(c.Jobs))
	for _, j := range c.Jobs {
		if j.Name == "" {
			return invalid("job without name")
		}
		if jobs[j.Name] {
			return invalid("job %q defined twice", j.Name)
		}
		jobs[j.Name] = true

		if !filepath.IsAbs(j.Path) {
			return invalid("job %q: path must be absolute, got %q", j.Name, j.Path)
		}
		if !drivers[j.Driver] {
			return invalid("job %q: unknown driver %q", j.Name, j.Driver)
		}
		switch j.OnRemoved {
		case "", "fail", "ignore", "purge":
		default:
			return invalid("job %q: unknown on_removed rule %q", j.Name, j.OnRemoved)
		}
		for _, ex := range j.Exclude {
			if err := ex.validate(); err != nil {
				return fmt.Errorf("job %q: %w", j.Name, err)
			}
		}
		if err := j.RetentionPolicies().Validate(); err != nil {
			return fmt.Errorf("%w: job %q: %w", ErrInvalidConfig, j.Name, err)
		}
	}
	return nil
}

func (d *DriverConfig) validate(enc EncryptionConfig) error {
	if d.Name == "" {
		return invalid("driver without name")
	}
	switch d.Type {
	case "archive":
		if d.MaxFiles < 0 || d.MaxBytes < 0 {
			return invalid("driver %q: negative max_files or max_bytes", d.Name)
		}
	case "filecopy":
		if d.Threads < 0 {
			return invalid("driver %q: negative threads", d.Name)
		}
	default:
		return invalid("driver %q: unknown type %q", d.Name, d.Type)
	}
	if d.Encrypt && (enc.Type == "" || enc.Type == "none") {
		return invalid("driver %q: encrypt requires an [encryption] type", d.Name)
	}
	if d.CompressionLevel < -2 || d.CompressionLevel > 9 {
		return invalid("driver %q: compression_level out of range", d.Name)
	}
	switch d.Vault.Type {
	case "memory":
	case "filesystem":
		if d.Vault.FSVaultRoot == "" {
			return invalid("driver %q: filesystem vault requires fs_vault_root", d.Name)
		}
	case "s3":
		if d.Vault.S3Bucket == "" {
			return invalid("driver %q: s3 vault requires s3_bucket", d.Name)
		}
	default:
		return invalid("driver %q: unknown vault type %q", d.Name, d.Vault.Type)
	}
	return nil
}

func (e ExcludeConfig) validate() error {
	switch e.Type {
	case "symlinks", "hidden":
	case "path_prefix", "filename_prefix", "glob":
		if e.Value == "" {
			return invalid("exclude %s requires a value", e.Type)
		}
	case "older_than":
		var d Duration
		if err := d.UnmarshalText([]byte(e.Value)); err != nil {
			return invalid("exclude older_than: %v", err)
		}
	default:
		return invalid("unknown exclude type %q", e.Type)
	}
	return nil
}
