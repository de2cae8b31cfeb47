package agent

import (
	"path"
	"path/filepath"

	"fbagent/internal/model"
	"fbagent/internal/retention"
)

// BackupJob is a configured source directory. ID is assigned when the job is
// reconciled with the repository.
type BackupJob struct {
	ID        string
	Name      string
	Path      string
	Driver    string
	StoreAs   string
	OnRemoved model.RemovedRule
	Excludes  []ExcludeRule
	Retention retention.Policies
}

// SourcePath returns the absolute path of a file relative to the job root.
func (j *BackupJob) SourcePath(rel string) string {
	return filepath.Join(j.Path, filepath.FromSlash(rel))
}

// TargetPath maps a relative path to its slash-separated name in a vault,
// under StoreAs when set.
func (j *BackupJob) TargetPath(rel string) string {
	rel = filepath.ToSlash(rel)
	if j.StoreAs == "" {
		return rel
	}
	return path.Join(j.StoreAs, rel)
}

// FileJob is one claimed version handed to a driver session.
type FileJob struct {
	Job     *BackupJob
	File    model.File
	Version model.FileVersion
}

func (f *FileJob) SourcePath() string { return f.Job.SourcePath(f.File.Path) }
func (f *FileJob) TargetPath() string { return f.Job.TargetPath(f.File.Path) }
func (f *FileJob) Deleted() bool      { return f.Version.Deleted }
