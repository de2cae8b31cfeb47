package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fbagent/internal/agent"
)

// tmpPrefix marks in-flight writes. Objects with this prefix are never listed.
const tmpPrefix = ".tmp-"

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// Object names map to paths below the root:
//
//	<root>/
//	  <job prefix>/<archive>.tar.gz
//	  <job prefix>/<archive>.tar.gz.meta
//	  <store path>/<file>/$<version>
type FileSystemVault struct {
	name string
	root string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	return &FileSystemVault{name: name, root: filepath.Clean(root)}, nil
}

func (v *FileSystemVault) Name() string { return v.name }

func (v *FileSystemVault) path(name string) string {
	return filepath.Join(v.root, filepath.FromSlash(name))
}

// Create starts an atomic write. Nothing is visible under name until Close.
func (v *FileSystemVault) Create(ctx context.Context, name string) (agent.VaultWriter, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	destPath := v.path(name)

	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return &fileWriter{file: tmpFile, destPath: destPath}, nil
}

// Put stores the content of r under name using an atomic write. A negative
// size skips the size check.
func (v *FileSystemVault) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	w, err := v.Create(ctx, name)
	if err != nil {
		return err
	}

	written, err := io.Copy(w, r)
	if err != nil {
		w.Abort()
		return fmt.Errorf("failed to write data: %w", err)
	}

	// Verify size
	if size >= 0 && written != size {
		w.Abort()
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	return w.Close()
}

func (v *FileSystemVault) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(v.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, agent.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

func (v *FileSystemVault) Exists(ctx context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(v.path(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List walks the vault and returns object names with the given prefix.
func (v *FileSystemVault) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), tmpPrefix) || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing vault: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes an object and any directories it leaves empty.
// Deleting a missing object is not an error.
func (v *FileSystemVault) Delete(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	p := v.path(name)
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	for dir := filepath.Dir(p); dir != v.root && strings.HasPrefix(dir, v.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// ValidateSetup verifies that the vault root is an accessible, writable directory.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	// Check that root directory exists and is a directory
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}

	f, err := os.CreateTemp(v.root, tmpPrefix+"check-*")
	if err != nil {
		return fmt.Errorf("vault root not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// fileWriter writes to a temp file and renames it into place on Close.
type fileWriter struct {
	file     *os.File
	destPath string
	done     bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *fileWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	tmpPath := w.file.Name()

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, w.destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (w *fileWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.file.Close()
	return os.Remove(w.file.Name())
}

// Compile-time check that FileSystemVault implements agent.Vault interface
var _ agent.Vault = (*FileSystemVault)(nil)
