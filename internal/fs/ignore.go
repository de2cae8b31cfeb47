package fs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// IgnoreFileName is the per-job pattern file read from the job root.
const IgnoreFileName = ".fbignore"

// pattern is one compiled glob line.
//
//	*.log       base name of any entry
//	build/out   path relative to the job root
//	/tmp        anchored at the root, same as a pattern containing a slash
//	cache/      directories only
type pattern struct {
	glob    string
	path    bool
	dirOnly bool
}

// Patterns is an ordered set of ignore globs. The zero value matches nothing.
type Patterns []pattern

// CompilePatterns parses glob lines. Blank lines and lines starting with '#'
// are skipped; a malformed glob is an error.
func CompilePatterns(lines []string) (Patterns, error) {
	var ps Patterns
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := pattern{glob: line}
		if strings.HasSuffix(p.glob, "/") {
			p.dirOnly = true
			p.glob = strings.TrimRight(p.glob, "/")
		}
		if strings.HasPrefix(p.glob, "/") {
			p.path = true
			p.glob = strings.TrimLeft(p.glob, "/")
		}
		if strings.Contains(p.glob, "/") {
			p.path = true
		}
		if p.glob == "" {
			continue
		}
		if _, err := path.Match(p.glob, ""); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", line, err)
		}
		ps = append(ps, p)
	}
	return ps, nil
}

// Match reports whether the slash-separated relative path is ignored.
func (ps Patterns) Match(rel string, isDir bool) bool {
	base := path.Base(rel)
	for _, p := range ps {
		if p.dirOnly && !isDir {
			continue
		}
		subject := base
		if p.path {
			subject = rel
		}
		// Patterns were validated by CompilePatterns.
		if ok, _ := path.Match(p.glob, subject); ok {
			return true
		}
	}
	return false
}

// ReadPatterns compiles the lines of r.
func ReadPatterns(r io.Reader) (Patterns, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return CompilePatterns(lines)
}

// ReadIgnoreFile compiles an ignore file. found is false when the file does
// not exist.
func ReadIgnoreFile(name string) (ps Patterns, found bool, err error) {
	f, err := os.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	ps, err = ReadPatterns(f)
	if err != nil {
		return nil, true, fmt.Errorf("reading %s: %w", name, err)
	}
	return ps, true, nil
}
