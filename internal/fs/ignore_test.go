package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustCompile(t *testing.T, lines ...string) Patterns {
	t.Helper()
	ps, err := CompilePatterns(lines)
	if err != nil {
		t.Fatalf("CompilePatterns(%q) error = %v", lines, err)
	}
	return ps
}

func TestCompilePatterns(t *testing.T) {
	t.Run("skips blanks and comments", func(t *testing.T) {
		ps := mustCompile(t, "", "  ", "# comment", "*.log", "/")
		if len(ps) != 1 {
			t.Fatalf("got %d patterns, want 1", len(ps))
		}
	})

	t.Run("classifies patterns", func(t *testing.T) {
		ps := mustCompile(t, "*.log", "build/out", "/tmp", "cache/")
		want := []pattern{
			{glob: "*.log"},
			{glob: "build/out", path: true},
			{glob: "tmp", path: true},
			{glob: "cache", dirOnly: true},
		}
		for i, p := range ps {
			if p != want[i] {
				t.Errorf("pattern %d = %+v, want %+v", i, p, want[i])
			}
		}
	})

	t.Run("rejects malformed globs", func(t *testing.T) {
		if _, err := CompilePatterns([]string{"ok", "[z-"}); err == nil {
			t.Error("CompilePatterns() expected error")
		}
	})
}

func TestPatterns_Match(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		rel     string
		isDir   bool
		matched bool
	}{
		{"no patterns", nil, "a.txt", false, false},
		{"base name at root", []string{"*.log"}, "debug.log", false, true},
		{"base name nested", []string{"*.log"}, "a/b/debug.log", false, true},
		{"base name no match", []string{"*.log"}, "a/b/debug.txt", false, false},
		{"exact name", []string{"Thumbs.db"}, "photos/Thumbs.db", false, true},
		{"relative path", []string{"build/out"}, "build/out", true, true},
		{"relative path is anchored", []string{"build/out"}, "src/build/out", true, false},
		{"leading slash anchors", []string{"/tmp"}, "tmp", true, true},
		{"leading slash skips nested", []string{"/tmp"}, "src/tmp", true, false},
		{"unanchored matches nested", []string{"tmp"}, "src/tmp", true, true},
		{"directory only on directory", []string{"node_modules/"}, "web/node_modules", true, true},
		{"directory only skips file", []string{"node_modules/"}, "web/node_modules", false, false},
		{"wildcard segment", []string{"logs/*.gz"}, "logs/old.gz", false, true},
		{"star does not cross slash", []string{"logs/*.gz"}, "logs/2024/old.gz", false, false},
		{"any of several", []string{"*.tmp", "*.bak"}, "x.bak", false, true},
		{"character class", []string{"~$*"}, "~$report.docx", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := mustCompile(t, tt.lines...)
			if got := ps.Match(tt.rel, tt.isDir); got != tt.matched {
				t.Errorf("Match(%q, %v) = %v, want %v", tt.rel, tt.isDir, got, tt.matched)
			}
		})
	}
}

func TestReadPatterns(t *testing.T) {
	ps, err := ReadPatterns(strings.NewReader("# editor files\n*.swp\n\n.DS_Store\n"))
	if err != nil {
		t.Fatalf("ReadPatterns() error = %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("got %d patterns, want 2", len(ps))
	}
	if !ps.Match("notes/.DS_Store", false) {
		t.Error("Match(.DS_Store) = false")
	}
}

func TestReadIgnoreFile(t *testing.T) {
	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), IgnoreFileName)
		if err := os.WriteFile(path, []byte("*.o\nbin/\n"), 0644); err != nil {
			t.Fatal(err)
		}
		ps, found, err := ReadIgnoreFile(path)
		if err != nil {
			t.Fatalf("ReadIgnoreFile() error = %v", err)
		}
		if !found || len(ps) != 2 {
			t.Errorf("ReadIgnoreFile() = %d patterns, found %v; want 2, true", len(ps), found)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		ps, found, err := ReadIgnoreFile(filepath.Join(t.TempDir(), IgnoreFileName))
		if err != nil {
			t.Fatalf("ReadIgnoreFile() error = %v", err)
		}
		if found || ps != nil {
			t.Errorf("ReadIgnoreFile() = %v, %v; want nil, false", ps, found)
		}
	})

	t.Run("malformed pattern", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), IgnoreFileName)
		if err := os.WriteFile(path, []byte("[\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, _, err := ReadIgnoreFile(path); err == nil {
			t.Error("ReadIgnoreFile() expected error")
		}
	})
}
