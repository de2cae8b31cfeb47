package driver

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"

	"fbagent/internal/agent"
	"fbagent/internal/digest"
	"fbagent/internal/encryption"
	"fbagent/internal/model"
)

// ErrDigestMismatch is returned when stored bytes do not match their sidecar.
var ErrDigestMismatch = errors.New("content digest mismatch")

// VerifyResult describes a verified artifact.
type VerifyResult struct {
	Metadata model.ArchiveMetadata
	Entries  []string // tar entry names, empty for single files
	Plain    int64    // decoded bytes
}

// Verify checks an artifact against its sidecar: the stored bytes must hash
// to the recorded digest and must decode with the configured encryption.
func Verify(ctx context.Context, v agent.Vault, name string, enc encryption.Encrypter) (*VerifyResult, error) {
	meta, err := ReadMetadata(ctx, v, name)
	if err != nil {
		return nil, err
	}

	if err := checkDigest(ctx, v, name, meta); err != nil {
		return nil, err
	}

	rc, err := v.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	plain, err := NewInput(rc, *meta, enc)
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Metadata: *meta}
	if meta.ArchiveKind == model.KindTar {
		tr := tar.NewReader(plain)
		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}
			res.Entries = append(res.Entries, hdr.Name)
			n, err := io.Copy(io.Discard, tr)
			if err != nil {
				return nil, fmt.Errorf("reading %s entry %s: %w", name, hdr.Name, err)
			}
			res.Plain += n
		}
	}
	n, err := io.Copy(io.Discard, plain)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	res.Plain += n
	return res, nil
}

func checkDigest(ctx context.Context, v agent.Vault, name string, meta *model.ArchiveMetadata) error {
	if meta.DigestAlgorithm != digest.Algorithm {
		return fmt.Errorf("%s: unsupported digest algorithm %q", name, meta.DigestAlgorithm)
	}
	rc, err := v.Open(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	raw := digest.NewReader(rc)
	if _, err := io.Copy(io.Discard, raw); err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if raw.Size() != meta.Size || raw.Hex() != meta.ContentDigest {
		return fmt.Errorf("%s: %w (stored %s, %d bytes; recorded %s, %d bytes)",
			name, ErrDigestMismatch, raw.Hex(), raw.Size(), meta.ContentDigest, meta.Size)
	}
	return nil
}
