package agent

import (
	"io"
	"io/fs"
)

// FilesystemManager is the scanner's and the drivers' view of the source tree.
// Lstat never follows symlinks.
type FilesystemManager interface {
	Lstat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.DirEntry, error)
	Open(path string) (io.ReadCloser, error)
}

// Candidate is a directory entry under evaluation by the exclude rules.
type Candidate struct {
	Path    string // absolute
	RelPath string // relative to the job root
	Info    fs.FileInfo
}

// ExcludeRule accepts or rejects a candidate.
type ExcludeRule interface {
	Name() string
	Accept(c Candidate) bool
}

// Accepted evaluates rules in order. The first rejection wins.
func Accepted(rules []ExcludeRule, c Candidate) bool {
	for _, r := range rules {
		if !r.Accept(c) {
			return false
		}
	}
	return true
}
