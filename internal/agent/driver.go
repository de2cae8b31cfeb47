package agent

import (
	"context"
	"io"

	"fbagent/internal/model"
)

// Driver delivers claimed file versions to a backup target.
type Driver interface {
	Name() string
	// OpenSession starts delivering the versions of one job.
	OpenSession(ctx context.Context, job *BackupJob, report *Report) (Session, error)
}

// Session receives the claimed versions of one job.
//
// HandleFile is never called concurrently for the same session, but it may
// hand the work to other goroutines; done is called exactly once per file,
// with nil on success. Finish returns only after every done has been called
// and must be called even when HandleFile reported failures.
type Session interface {
	HandleFile(ctx context.Context, job *FileJob, done func(error))
	Finish(ctx context.Context) error
}

// VersionPurger is implemented by drivers whose targets keep one object per
// version and can remove them when retention purges the version.
type VersionPurger interface {
	PurgeVersions(ctx context.Context, job *BackupJob, relPath string, versions []int64) error
}

// Restorer is implemented by drivers that can read a stored version back.
// The plaintext of the version is written to w.
type Restorer interface {
	Restore(ctx context.Context, job *BackupJob, relPath string, version *model.FileVersion, w io.Writer) error
}

// Notifier receives the report at the end of every cycle.
type Notifier interface {
	Notify(ctx context.Context, report *Report) error
}
