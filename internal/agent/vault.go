package agent

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by vaults for missing objects.
var ErrNotFound = errors.New("object not found")

// VaultWriter streams a new object into a vault. Close publishes the object;
// Abort discards everything written so far.
type VaultWriter interface {
	io.Writer
	Close() error
	Abort() error
}

// Vault is a backup target addressed by slash-separated object names.
type Vault interface {
	Name() string
	Create(ctx context.Context, name string) (VaultWriter, error)
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Exists(ctx context.Context, name string) (bool, error)
	// List returns the names starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
	ValidateSetup(ctx context.Context) error
}
