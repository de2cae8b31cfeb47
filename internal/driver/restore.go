package driver

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"time"

	"fbagent/internal/agent"
	"fbagent/internal/model"
)

// ErrNotStored is returned when a version has no content in the vault.
var ErrNotStored = errors.New("version not found in vault")

// Restore decodes the slot of the version into w.
func (d *FileCopyDriver) Restore(ctx context.Context, job *agent.BackupJob, relPath string, version *model.FileVersion, w io.Writer) error {
	slot := SlotName(job.TargetPath(relPath), version.Version)
	exists, err := d.vault.Exists(ctx, slot)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s: %w", slot, ErrNotStored)
	}
	return decodeTo(ctx, d.vault, slot, d.cfg.Options, w)
}

func decodeTo(ctx context.Context, v agent.Vault, name string, opts Options, w io.Writer) error {
	meta, err := ReadMetadata(ctx, v, name)
	if err != nil {
		return err
	}
	rc, err := v.Open(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	plain, err := NewInput(rc, *meta, opts.Encrypter)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if _, err := io.Copy(w, plain); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

var archiveStamp = regexp.MustCompile(`^\d{8}T\d{6}Z-\d{4}\.tar`)

// archivesOf lists the committed archives of a job, newest first. An archive
// counts as committed once its sidecar exists.
func (d *ArchiveDriver) archivesOf(ctx context.Context, job *agent.BackupJob) ([]string, error) {
	prefix := d.prefixOf(job)
	names, err := d.vault.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	var archives []string
	for _, n := range names {
		name, ok := strings.CutSuffix(n, MetadataSuffix)
		if !ok || !archiveStamp.MatchString(strings.TrimPrefix(name, prefix)) {
			continue
		}
		archives = append(archives, name)
	}
	slices.Reverse(archives)
	return archives, nil
}

// Restore searches the job's archives, newest first, for the entry holding
// the version. Entries are matched by name and modification time.
func (d *ArchiveDriver) Restore(ctx context.Context, job *agent.BackupJob, relPath string, version *model.FileVersion, w io.Writer) error {
	archives, err := d.archivesOf(ctx, job)
	if err != nil {
		return err
	}
	target := job.TargetPath(relPath)
	for _, name := range archives {
		found, err := d.restoreFrom(ctx, name, target, version.ModifiedAt, w)
		if err != nil {
			return err
		}
		if found {
			d.logger.Debug("entry restored", "archive", name, "entry", target)
			return nil
		}
	}
	return fmt.Errorf("%s: %w", target, ErrNotStored)
}

func (d *ArchiveDriver) restoreFrom(ctx context.Context, name, entry string, modTime time.Time, w io.Writer) (bool, error) {
	meta, err := ReadMetadata(ctx, d.vault, name)
	if err != nil {
		return false, err
	}
	rc, err := d.vault.Open(ctx, name)
	if err != nil {
		return false, err
	}
	defer rc.Close()

	plain, err := NewInput(rc, *meta, d.cfg.Options.Encrypter)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	tr := tar.NewReader(plain)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("reading %s: %w", name, err)
		}
		if hdr.Name != entry || hdr.Uname == DeletedOwner {
			continue
		}
		if !hdr.ModTime.Truncate(time.Second).Equal(modTime.Truncate(time.Second)) {
			continue
		}
		if _, err := io.Copy(w, tr); err != nil {
			return false, fmt.Errorf("extracting %s from %s: %w", entry, name, err)
		}
		return true, nil
	}
}

var (
	_ agent.Restorer = (*FileCopyDriver)(nil)
	_ agent.Restorer = (*ArchiveDriver)(nil)
)
