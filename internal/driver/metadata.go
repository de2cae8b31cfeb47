package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"fbagent/internal/agent"
	"fbagent/internal/model"
)

// MetadataSuffix is appended to an artifact name to form its sidecar name.
const MetadataSuffix = ".meta"

// MetadataName returns the sidecar name of an artifact.
func MetadataName(name string) string { return name + MetadataSuffix }

// WriteMetadata stores the sidecar of name. Callers write it only after the
// artifact itself has been committed.
func WriteMetadata(ctx context.Context, v agent.Vault, name string, meta model.ArchiveMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := v.Put(ctx, MetadataName(name), bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("storing metadata for %s: %w", name, err)
	}
	return nil
}

// ReadMetadata loads the sidecar of name.
func ReadMetadata(ctx context.Context, v agent.Vault, name string) (*model.ArchiveMetadata, error) {
	rc, err := v.Open(ctx, MetadataName(name))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading metadata for %s: %w", name, err)
	}
	var meta model.ArchiveMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding metadata for %s: %w", name, err)
	}
	if meta.FormatVersion > model.MetadataFormatVersion {
		return nil, fmt.Errorf("metadata for %s has unsupported format version %d", name, meta.FormatVersion)
	}
	return &meta, nil
}

// Store streams src into name through the layers of opts and writes the
// sidecar. It returns the number of plaintext bytes read from src.
func Store(ctx context.Context, v agent.Vault, name, kind string, src io.Reader, opts Options) (int64, error) {
	target, err := v.Create(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", name, err)
	}
	out, err := NewOutput(target, opts)
	if err != nil {
		target.Abort()
		return 0, err
	}

	n, err := io.Copy(out, src)
	if err == nil {
		err = out.Close()
	}
	if err != nil {
		target.Abort()
		return 0, fmt.Errorf("writing %s: %w", name, err)
	}
	if err := target.Close(); err != nil {
		return 0, fmt.Errorf("storing %s: %w", name, err)
	}
	if err := WriteMetadata(ctx, v, name, out.Metadata(kind)); err != nil {
		return 0, err
	}
	return n, nil
}
