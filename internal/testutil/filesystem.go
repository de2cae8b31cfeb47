package testutil

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"fbagent/internal/agent"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content     []byte
	Permissions fs.FileMode
	ModTime     time.Time
	IsDirectory bool
	IsSymlink   bool
}

// MockFilesystemManager is an in-memory filesystem for testing. Parent
// directories are created implicitly. Safe for concurrent use.
type MockFilesystemManager struct {
	mu      sync.RWMutex
	files   map[string]*MockFile
	readErr map[string]error
	modTime time.Time
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files:   make(map[string]*MockFile),
		readErr: make(map[string]error),
		modTime: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

// AddFile adds a file to the mock filesystem with a fixed modification time.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	m.AddFileWithTime(path, content, m.modTime)
}

// AddFileWithTime adds a file with the given modification time.
func (m *MockFilesystemManager) AddFileWithTime(path string, content []byte, mod time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(filepath.Dir(path))
	m.files[path] = &MockFile{
		Content:     content,
		Permissions: 0644,
		ModTime:     mod,
	}
}

// AddSymlink adds a symbolic link entry.
func (m *MockFilesystemManager) AddSymlink(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(filepath.Dir(path))
	m.files[path] = &MockFile{Permissions: 0777, ModTime: m.modTime, IsSymlink: true}
}

// AddDirectory adds a directory to the mock filesystem.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(path)
}

func (m *MockFilesystemManager) mkdirAll(path string) {
	for p := path; ; p = filepath.Dir(p) {
		if _, ok := m.files[p]; !ok {
			m.files[p] = &MockFile{Permissions: 0755, ModTime: m.modTime, IsDirectory: true}
		}
		if p == filepath.Dir(p) {
			return
		}
	}
}

// Touch sets a new modification time and optionally new content.
func (m *MockFilesystemManager) Touch(path string, mod time.Time, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return
	}
	f.ModTime = mod
	if content != nil {
		f.Content = content
	}
}

// Remove deletes a file or a whole directory tree.
func (m *MockFilesystemManager) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.files {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(m.files, p)
		}
	}
}

// FailReadDir makes ReadDir of path return err.
func (m *MockFilesystemManager) FailReadDir(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr[path] = err
}

func (m *MockFilesystemManager) info(path string) (*mockFileInfo, bool) {
	file, ok := m.files[path]
	if !ok {
		return nil, false
	}
	mode := file.Permissions
	switch {
	case file.IsDirectory:
		mode |= fs.ModeDir
	case file.IsSymlink:
		mode |= fs.ModeSymlink
	}
	return &mockFileInfo{
		name:    filepath.Base(path),
		size:    int64(len(file.Content)),
		mode:    mode,
		modTime: file.ModTime,
	}, true
}

func (m *MockFilesystemManager) Lstat(path string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.info(path)
	if !ok {
		return nil, &fs.PathError{Op: "lstat", Path: path, Err: fs.ErrNotExist}
	}
	return info, nil
}

func (m *MockFilesystemManager) ReadDir(path string) ([]fs.DirEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.readErr[path]; err != nil {
		return nil, err
	}
	dir, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: fs.ErrNotExist}
	}
	if !dir.IsDirectory {
		return nil, fmt.Errorf("not a directory: %s", path)
	}

	var entries []fs.DirEntry
	for p := range m.files {
		if p != path && filepath.Dir(p) == path {
			info, _ := m.info(p)
			entries = append(entries, fs.FileInfoToDirEntry(info))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (m *MockFilesystemManager) Open(path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	file, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	if file.IsDirectory {
		return nil, fmt.Errorf("cannot open directory: %s", path)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(file.Content))), nil
}

// mockFileInfo implements fs.FileInfo
type mockFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.mode.IsDir() }
func (m *mockFileInfo) Sys() any           { return nil }

// Compile-time check
var _ agent.FilesystemManager = (*MockFilesystemManager)(nil)
