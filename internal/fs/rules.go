package fs

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"fbagent/internal/agent"
	"fbagent/internal/config"
)

// SymlinkRule rejects symbolic links. Links are never followed.
type SymlinkRule struct{}

func (SymlinkRule) Name() string { return "symlinks" }

func (SymlinkRule) Accept(c agent.Candidate) bool {
	return c.Info == nil || c.Info.Mode()&fs.ModeSymlink == 0
}

// HiddenRule rejects dot files and dot directories.
type HiddenRule struct{}

func (HiddenRule) Name() string { return "hidden" }

func (HiddenRule) Accept(c agent.Candidate) bool {
	return !strings.HasPrefix(path.Base(c.RelPath), ".")
}

// PathPrefixRule rejects entries below a prefix. An absolute prefix is
// compared with the absolute path, anything else with the path relative to
// the job root.
type PathPrefixRule struct {
	Prefix string
}

func (PathPrefixRule) Name() string { return "path_prefix" }

func (r PathPrefixRule) Accept(c agent.Candidate) bool {
	if filepath.IsAbs(r.Prefix) {
		return !strings.HasPrefix(c.Path, r.Prefix)
	}
	return !strings.HasPrefix(c.RelPath, filepath.ToSlash(r.Prefix))
}

// FilenamePrefixRule rejects entries whose base name starts with Prefix.
type FilenamePrefixRule struct {
	Prefix string
}

func (FilenamePrefixRule) Name() string { return "filename_prefix" }

func (r FilenamePrefixRule) Accept(c agent.Candidate) bool {
	return !strings.HasPrefix(path.Base(c.RelPath), r.Prefix)
}

// OlderThanRule rejects regular files last modified more than Age ago.
// Directories are always accepted so that newer files below them are found.
type OlderThanRule struct {
	Age   time.Duration
	Clock agent.Clock
}

func (OlderThanRule) Name() string { return "older_than" }

func (r OlderThanRule) Accept(c agent.Candidate) bool {
	if c.Info == nil || c.Info.IsDir() {
		return true
	}
	return !c.Info.ModTime().Before(r.Clock.Now().Add(-r.Age))
}

// GlobRule rejects entries matched by any of its patterns.
type GlobRule struct {
	Patterns Patterns
}

func (GlobRule) Name() string { return "glob" }

func (r GlobRule) Accept(c agent.Candidate) bool {
	return !r.Patterns.Match(c.RelPath, c.Info != nil && c.Info.IsDir())
}

// NewRulesFromConfig builds a job's exclude chain in configuration order.
// When root contains a .fbignore file its patterns are appended as a final
// glob rule, together with the ignore file itself.
func NewRulesFromConfig(cfgs []config.ExcludeConfig, root string, clock agent.Clock) ([]agent.ExcludeRule, error) {
	rules := make([]agent.ExcludeRule, 0, len(cfgs)+1)
	for _, cfg := range cfgs {
		switch cfg.Type {
		case "symlinks":
			rules = append(rules, SymlinkRule{})
		case "hidden":
			rules = append(rules, HiddenRule{})
		case "path_prefix":
			rules = append(rules, PathPrefixRule{Prefix: cfg.Value})
		case "filename_prefix":
			rules = append(rules, FilenamePrefixRule{Prefix: cfg.Value})
		case "older_than":
			var d config.Duration
			if err := d.UnmarshalText([]byte(cfg.Value)); err != nil {
				return nil, fmt.Errorf("older_than: %w", err)
			}
			rules = append(rules, OlderThanRule{Age: time.Duration(d), Clock: clock})
		case "glob":
			ps, err := CompilePatterns([]string{cfg.Value})
			if err != nil {
				return nil, fmt.Errorf("glob: %w", err)
			}
			rules = append(rules, GlobRule{Patterns: ps})
		default:
			return nil, fmt.Errorf("unknown exclude type: %s", cfg.Type)
		}
	}

	if root == "" {
		return rules, nil
	}
	ps, found, err := ReadIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	if found {
		ps = append(ps, pattern{glob: IgnoreFileName, path: true})
		rules = append(rules, GlobRule{Patterns: ps})
	}
	return rules, nil
}
