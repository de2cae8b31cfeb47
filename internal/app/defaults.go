package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"fbagent/internal/config"
)

// Environment variables read by ResolveDefaults.
const (
	EnvConfigPath = "FBAGENT_CONFIG_PATH"
	EnvHome       = "FBAGENT_HOME"
	EnvLogLevel   = "FBAGENT_LOG_LEVEL"
	EnvHostID     = "FBAGENT_HOST_ID"
)

// Defaults are the settings fbagent needs before a config file is read.
type Defaults struct {
	ConfigPath string // ~/.config/fbagent.toml
	BaseDir    string // ~/.local/share/fbagent
	LogDir     string // <BaseDir>/log
	// LogLevel is set only when FBAGENT_LOG_LEVEL is; it then overrides the
	// config file.
	LogLevel string
	// HostID is FBAGENT_HOST_ID or a fresh UUID. Only config init uses it.
	HostID string
}

// ResolveDefaults builds the defaults from the environment. lookup is
// usually os.LookupEnv; empty values count as unset.
func ResolveDefaults(lookup func(string) (string, bool)) (*Defaults, error) {
	env := func(key string) string {
		v, _ := lookup(key)
		return v
	}

	d := &Defaults{
		ConfigPath: env(EnvConfigPath),
		BaseDir:    env(EnvHome),
		LogLevel:   env(EnvLogLevel),
		HostID:     env(EnvHostID),
	}
	if d.ConfigPath == "" || d.BaseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if d.ConfigPath == "" {
			d.ConfigPath = filepath.Join(home, ".config", "fbagent.toml")
		}
		if d.BaseDir == "" {
			d.BaseDir = filepath.Join(home, ".local", "share", "fbagent")
		}
	}
	d.LogDir = filepath.Join(d.BaseDir, "log")

	if d.LogLevel != "" {
		lvl, err := parseLevel(d.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		d.LogLevel = strings.ToLower(lvl.String())
	}
	if d.HostID == "" {
		d.HostID = uuid.NewString()
	}
	return d, nil
}

// NewConfig returns the starter config written by config init.
func (d *Defaults) NewConfig() *config.Config {
	cfg := config.NewConfig(d.HostID, d.BaseDir)
	d.Apply(cfg)
	return cfg
}

// Apply overrides cfg with the settings taken from the environment.
func (d *Defaults) Apply(cfg *config.Config) {
	if d.LogLevel != "" {
		cfg.LogLevel = d.LogLevel
	}
}
