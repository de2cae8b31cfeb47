package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fbagent/internal/agent"
	"fbagent/internal/config"
	"fbagent/internal/testutil"
)

func candidate(t *testing.T, root, rel string) agent.Candidate {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Lstat(p)
	if err != nil {
		t.Fatalf("Lstat(%s) error = %v", p, err)
	}
	return agent.Candidate{Path: p, RelPath: rel, Info: info}
}

func writeFile(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !mod.IsZero() {
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRules(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	writeFile(t, filepath.Join(root, "docs", "report.txt"), now.Add(-time.Hour))
	writeFile(t, filepath.Join(root, "docs", "~lock.txt"), now)
	writeFile(t, filepath.Join(root, ".cache", "blob"), now)
	writeFile(t, filepath.Join(root, "old.txt"), now.Add(-48*time.Hour))
	writeFile(t, filepath.Join(root, "debug.log"), now)
	if err := os.Symlink(filepath.Join(root, "old.txt"), filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	clock := testutil.NewClock(now)

	tests := []struct {
		name string
		rule agent.ExcludeRule
		rel  string
		want bool
	}{
		{"symlink rejected", SymlinkRule{}, "link", false},
		{"regular file passes symlink rule", SymlinkRule{}, "old.txt", true},
		{"hidden directory rejected", HiddenRule{}, ".cache", false},
		{"visible file passes hidden rule", HiddenRule{}, "docs/report.txt", true},
		{"relative path prefix", PathPrefixRule{Prefix: "docs/"}, "docs/report.txt", false},
		{"relative path prefix no match", PathPrefixRule{Prefix: "docs/"}, "old.txt", true},
		{"absolute path prefix", PathPrefixRule{Prefix: filepath.Join(root, "docs")}, "docs/report.txt", false},
		{"filename prefix", FilenamePrefixRule{Prefix: "~"}, "docs/~lock.txt", false},
		{"filename prefix only checks base name", FilenamePrefixRule{Prefix: "do"}, "docs/report.txt", true},
		{"older than rejects old file", OlderThanRule{Age: 24 * time.Hour, Clock: clock}, "old.txt", false},
		{"older than keeps recent file", OlderThanRule{Age: 24 * time.Hour, Clock: clock}, "docs/report.txt", true},
		{"glob", GlobRule{Patterns: mustCompile(t, "*.log")}, "debug.log", false},
		{"directory glob", GlobRule{Patterns: mustCompile(t, ".cache/")}, ".cache", false},
		{"directory glob skips files", GlobRule{Patterns: mustCompile(t, "old.txt/")}, "old.txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Accept(candidate(t, root, tt.rel)); got != tt.want {
				t.Errorf("%s.Accept(%q) = %v, want %v", tt.rule.Name(), tt.rel, got, tt.want)
			}
		})
	}

	t.Run("older than keeps directories", func(t *testing.T) {
		dir := filepath.Join(root, "docs")
		old := now.Add(-100 * time.Hour)
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatal(err)
		}
		rule := OlderThanRule{Age: time.Hour, Clock: clock}
		if !rule.Accept(candidate(t, root, "docs")) {
			t.Error("directory was rejected by older_than")
		}
	})
}

func TestNewRulesFromConfig(t *testing.T) {
	clock := testutil.NewClock(time.Now())

	t.Run("keeps configuration order", func(t *testing.T) {
		cfgs := []config.ExcludeConfig{
			{Type: "hidden"},
			{Type: "symlinks"},
			{Type: "older_than", Value: "72h"},
			{Type: "glob", Value: "*.tmp"},
		}
		rules, err := NewRulesFromConfig(cfgs, "", clock)
		if err != nil {
			t.Fatalf("NewRulesFromConfig() error = %v", err)
		}
		want := []string{"hidden", "symlinks", "older_than", "glob"}
		if len(rules) != len(want) {
			t.Fatalf("got %d rules, want %d", len(rules), len(want))
		}
		for i, r := range rules {
			if r.Name() != want[i] {
				t.Errorf("rule %d = %s, want %s", i, r.Name(), want[i])
			}
		}
		if age := rules[2].(OlderThanRule).Age; age != 72*time.Hour {
			t.Errorf("older_than age = %v, want 72h", age)
		}
	})

	t.Run("rejects unknown types", func(t *testing.T) {
		_, err := NewRulesFromConfig([]config.ExcludeConfig{{Type: "bogus"}}, "", clock)
		if err == nil {
			t.Error("NewRulesFromConfig() expected error for unknown type")
		}
	})

	t.Run("rejects bad durations", func(t *testing.T) {
		_, err := NewRulesFromConfig([]config.ExcludeConfig{{Type: "older_than", Value: "soon"}}, "", clock)
		if err == nil {
			t.Error("NewRulesFromConfig() expected error for bad duration")
		}
	})

	t.Run("rejects bad globs", func(t *testing.T) {
		_, err := NewRulesFromConfig([]config.ExcludeConfig{{Type: "glob", Value: "[a-"}}, "", clock)
		if err == nil {
			t.Error("NewRulesFromConfig() expected error for malformed glob")
		}
	})

	t.Run("appends ignore file patterns", func(t *testing.T) {
		root := t.TempDir()
		if err := os.WriteFile(filepath.Join(root, IgnoreFileName), []byte("*.bak\n"), 0644); err != nil {
			t.Fatal(err)
		}
		rules, err := NewRulesFromConfig(nil, root, clock)
		if err != nil {
			t.Fatalf("NewRulesFromConfig() error = %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("got %d rules, want 1", len(rules))
		}
		for rel, want := range map[string]bool{"a.bak": false, IgnoreFileName: false, "a.txt": true} {
			if got := rules[0].Accept(agent.Candidate{RelPath: rel}); got != want {
				t.Errorf("Accept(%q) = %v, want %v", rel, got, want)
			}
		}
	})

	t.Run("chain short-circuits on first rejection", func(t *testing.T) {
		rules := []agent.ExcludeRule{HiddenRule{}, FilenamePrefixRule{Prefix: "x"}}
		if agent.Accepted(rules, agent.Candidate{RelPath: ".xfile"}) {
			t.Error("Accepted() = true for hidden file")
		}
		if !agent.Accepted(rules, agent.Candidate{RelPath: "file"}) {
			t.Error("Accepted() = false for plain file")
		}
	})
}

func TestOSFilesystemManager(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), time.Time{})
	os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link"))
	m := NewOSFilesystemManager()

	t.Run("open regular file", func(t *testing.T) {
		rc, err := m.Open(filepath.Join(root, "a.txt"))
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		rc.Close()
	})

	t.Run("refuse directories and links", func(t *testing.T) {
		if _, err := m.Open(root); err == nil {
			t.Error("Open(dir) succeeded")
		}
		if _, err := m.Open(filepath.Join(root, "link")); err == nil {
			t.Error("Open(symlink) succeeded")
		}
	})

	t.Run("lstat does not follow links", func(t *testing.T) {
		info, err := m.Lstat(filepath.Join(root, "link"))
		if err != nil {
			t.Fatalf("Lstat() error = %v", err)
		}
		if info.Mode()&os.ModeSymlink == 0 {
			t.Error("Lstat() followed the symlink")
		}
	})

	t.Run("read dir", func(t *testing.T) {
		entries, err := m.ReadDir(root)
		if err != nil {
			t.Fatalf("ReadDir() error = %v", err)
		}
		if len(entries) != 2 || entries[0].Name() != "a.txt" {
			t.Errorf("ReadDir() = %v", entries)
		}
	})
}
