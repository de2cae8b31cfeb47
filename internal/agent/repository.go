package agent

import (
	"context"
	"time"

	"fbagent/internal/model"
)

// Repository persists directories, tracked files, their versions and the
// cycle log. Lookups return nil, nil when nothing matches.
type Repository interface {
	ListDirectories(ctx context.Context) ([]*model.Directory, error)
	CreateDirectory(ctx context.Context, dir *model.Directory) error
	UpdateDirectory(ctx context.Context, dir *model.Directory) error
	// DeleteDirectory removes the directory with all its files and versions.
	DeleteDirectory(ctx context.Context, id string) error

	FindFile(ctx context.Context, directoryID, path string) (*model.File, error)
	ListFiles(ctx context.Context, directoryID string) ([]*model.File, error)
	// ListLiveFiles returns the files whose latest version is not a deletion.
	ListLiveFiles(ctx context.Context, directoryID string) ([]*model.File, error)
	DeleteFile(ctx context.Context, fileID string) error

	// CreateFile inserts the file together with its version 0.
	CreateFile(ctx context.Context, file *model.File, modifiedAt time.Time) (*model.FileVersion, error)
	// AddVersion appends the next version number for the file.
	AddVersion(ctx context.Context, fileID string, modifiedAt time.Time, deleted bool) (*model.FileVersion, error)
	LatestVersion(ctx context.Context, fileID string) (*model.FileVersion, error)
	ListVersions(ctx context.Context, fileID string) ([]*model.FileVersion, error)
	DeleteVersions(ctx context.Context, fileID string, versions []int64) error

	// ResetClaimed moves every CLAIMED version back to PENDING.
	ResetClaimed(ctx context.Context) (int64, error)
	// ResetFailed moves the directory's FAILED versions back to PENDING.
	ResetFailed(ctx context.Context, directoryID string) (int64, error)
	// SupersedePending marks PENDING versions older than their file's latest
	// version FINISHED without delivering them.
	SupersedePending(ctx context.Context, directoryID string) (int64, error)
	// ClaimNextPending atomically moves the oldest PENDING version of the
	// directory to CLAIMED. Only the latest version of a file is claimed.
	// Returns nil when nothing is pending.
	ClaimNextPending(ctx context.Context, directoryID string, now time.Time) (*model.Claim, error)
	FinishVersion(ctx context.Context, fileID string, version int64, state model.UploadState, now time.Time) error

	CreateCycle(ctx context.Context, startedAt time.Time) (int64, error)
	FinishCycle(ctx context.Context, id int64, status, summary string, finishedAt time.Time) error
	ListCycles(ctx context.Context, limit int) ([]*model.Cycle, error)
	LastSuccessfulCycle(ctx context.Context) (*model.Cycle, error)

	CheckMigrations() error
	Close() error
}
