package model

import "time"

// UploadState tracks a file version through the backup pipeline.
type UploadState string

const (
	StatePending  UploadState = "PENDING"
	StateClaimed  UploadState = "CLAIMED"
	StateFinished UploadState = "FINISHED"
	StateFailed   UploadState = "FAILED"
)

// RemovedRule decides what happens to a persisted directory once it
// disappears from the configuration.
type RemovedRule string

const (
	RemovedFail   RemovedRule = "fail"
	RemovedIgnore RemovedRule = "ignore"
	RemovedPurge  RemovedRule = "purge"
)

// Directory is the persisted identity of a configured backup job.
type Directory struct {
	ID        string
	Name      string
	Path      string
	OnRemoved RemovedRule
	CreatedAt time.Time
}

// File is a tracked file. Path is relative to the directory root and never
// changes; LastVersion is the highest version number ever assigned.
type File struct {
	ID          string
	DirectoryID string
	Path        string
	LastVersion int64
}

// FileVersion is one observed state of a tracked file.
type FileVersion struct {
	FileID     string
	Version    int64
	ModifiedAt time.Time
	Deleted    bool
	State      UploadState
	ClaimedAt  *time.Time
	FinishedAt *time.Time
}

// Claim is a version handed to a driver session, with the file it belongs to.
type Claim struct {
	File    File
	Version FileVersion
}

// CycleStatus values.
const (
	CycleRunning = "running"
	CycleSuccess = "success"
	CycleFailed  = "failed"
)

// Cycle records one scan/backup/retention run.
type Cycle struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Summary    string
}

// ArchiveMetadata is the sidecar written next to every stored artifact.
type ArchiveMetadata struct {
	FormatVersion        int    `json:"formatVersion"`
	ArchiveKind          string `json:"archiveKind"`
	Compressed           bool   `json:"compressed"`
	Encrypted            bool   `json:"encrypted"`
	Layering             string `json:"layering,omitempty"`
	KeyAlgorithm         string `json:"keyAlgorithm,omitempty"`
	KeyIterations        int    `json:"keyIterations,omitempty"`
	KeyLength            int    `json:"keyLength,omitempty"`
	CipherTransformation string `json:"cipherTransformation,omitempty"`
	Salt                 []byte `json:"salt,omitempty"`
	IV                   []byte `json:"iv,omitempty"`
	DigestAlgorithm      string `json:"digestAlgorithm"`
	ContentDigest        string `json:"contentDigest"`
	Entries              int    `json:"entries,omitempty"`
	Size                 int64  `json:"size"`
}

// Artifact kinds and layering orders recorded in ArchiveMetadata.
const (
	KindTar  = "tar"
	KindFile = "file"

	LayerCompressThenEncrypt = "compress-encrypt"
	LayerEncryptThenCompress = "encrypt-compress"

	MetadataFormatVersion = 1
)
