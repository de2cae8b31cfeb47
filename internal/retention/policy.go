// Package retention decides which versions of a tracked file can be purged.
// Everything here is pure: callers supply the versions and the current time
// and delete whatever comes back.
package retention

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidPolicy is wrapped by every validation failure.
var ErrInvalidPolicy = errors.New("invalid retention policy")

// Strategy selects how history of a deleted file is trimmed.
type Strategy string

const (
	DeleteHistory Strategy = "delete-history"
	DeleteFile    Strategy = "delete-file"
)

// OldVersions trims the history of files that still exist.
// At least one of Age and RetainVersions must be set.
type OldVersions struct {
	Age            time.Duration
	RetainVersions int
}

// DeletedFiles trims the history of files whose latest version is a deletion.
//
// Accepted shapes:
//
//	delete-file                          purge everything
//	delete-file    + after               purge everything once the grace period elapsed
//	delete-history + after               keep the last non-deleted version once the grace period elapsed
//	delete-history + after + age         purge versions older than age once the grace period elapsed
//	delete-history + retain_versions     keep the newest retain_versions versions
type DeletedFiles struct {
	Strategy       Strategy
	After          time.Duration
	Age            time.Duration
	RetainVersions int
}

// Policies is the retention configuration of one backup job. Nil members are disabled.
type Policies struct {
	OldVersions  *OldVersions
	DeletedFiles *DeletedFiles
}

// Version is the part of a file version the engine looks at.
type Version struct {
	ModifiedAt time.Time
	Deleted    bool
}

// Result lists the version numbers to purge in ascending order.
// WholeFile is set when the file itself should be forgotten.
type Result struct {
	Versions  []int64
	WholeFile bool
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPolicy, fmt.Sprintf(format, args...))
}

// Validate reports whether p is one of the accepted shapes.
func (p *OldVersions) Validate() error {
	if p.Age < 0 || p.RetainVersions < 0 {
		return invalid("old versions: negative age or retain_versions")
	}
	if p.Age == 0 && p.RetainVersions == 0 {
		return invalid("old versions: one of age or retain_versions is required")
	}
	return nil
}

// Validate reports whether p is one of the accepted shapes.
func (p *DeletedFiles) Validate() error {
	if p.After < 0 || p.Age < 0 || p.RetainVersions < 0 {
		return invalid("deleted files: negative after, age or retain_versions")
	}
	switch p.Strategy {
	case DeleteFile:
		if p.Age != 0 || p.RetainVersions != 0 {
			return invalid("deleted files: %s accepts only after", p.Strategy)
		}
		return nil
	case DeleteHistory:
		switch {
		case p.Age > 0 && p.RetainVersions > 0:
			return invalid("deleted files: age and retain_versions cannot be combined")
		case p.RetainVersions > 0 && p.After > 0:
			return invalid("deleted files: retain_versions cannot be combined with after")
		case p.RetainVersions > 0:
			return nil
		case p.After == 0:
			return invalid("deleted files: %s requires after or retain_versions", p.Strategy)
		}
		return nil
	default:
		return invalid("deleted files: unknown strategy %q", p.Strategy)
	}
}

// Validate checks both policies.
func (p Policies) Validate() error {
	if p.OldVersions != nil {
		if err := p.OldVersions.Validate(); err != nil {
			return err
		}
	}
	if p.DeletedFiles != nil {
		if err := p.DeletedFiles.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Enabled reports whether any policy is configured.
func (p Policies) Enabled() bool {
	return p.OldVersions != nil || p.DeletedFiles != nil
}

// Purge applies the deleted-file policy when the latest version is a
// deletion and the old-version policy otherwise.
func Purge(p Policies, versions map[int64]Version, now time.Time) Result {
	order := newestFirst(versions)
	if len(order) == 0 {
		return Result{}
	}
	if versions[order[0]].Deleted {
		if p.DeletedFiles == nil {
			return Result{}
		}
		return PurgeDeletedFile(p.DeletedFiles, versions, now)
	}
	if p.OldVersions == nil {
		return Result{}
	}
	return Result{Versions: PurgeOldVersions(p.OldVersions, versions, now)}
}

// PurgeOldVersions returns the versions the old-version policy removes.
// A live latest version is never returned.
func PurgeOldVersions(p *OldVersions, versions map[int64]Version, now time.Time) []int64 {
	order := newestFirst(versions)
	cutoff := now.Add(-p.Age)

	var out []int64
	for i, n := range order {
		if i == 0 && !versions[n].Deleted {
			continue
		}
		if p.RetainVersions > 0 && i < p.RetainVersions {
			continue
		}
		if p.Age > 0 && !versions[n].ModifiedAt.Before(cutoff) {
			continue
		}
		out = append(out, n)
	}
	return ascending(out)
}

// PurgeDeletedFile returns the versions the deleted-file policy removes.
// It returns nothing while the latest version is not a deletion.
func PurgeDeletedFile(p *DeletedFiles, versions map[int64]Version, now time.Time) Result {
	order := newestFirst(versions)
	if len(order) == 0 || !versions[order[0]].Deleted {
		return Result{}
	}

	deletedAt := versions[order[0]].ModifiedAt
	graceElapsed := p.After == 0 || !now.Before(deletedAt.Add(p.After))

	switch p.Strategy {
	case DeleteFile:
		if !graceElapsed {
			return Result{}
		}
		return Result{Versions: ascending(order), WholeFile: true}

	case DeleteHistory:
		switch {
		case p.RetainVersions > 0:
			if len(order) <= p.RetainVersions {
				return Result{}
			}
			return Result{Versions: ascending(order[p.RetainVersions:])}

		case p.Age > 0:
			if !graceElapsed {
				return Result{}
			}
			cutoff := now.Add(-p.Age)
			var out []int64
			for _, n := range order[1:] {
				if versions[n].ModifiedAt.Before(cutoff) {
					out = append(out, n)
				}
			}
			return Result{Versions: ascending(out)}

		default:
			if !graceElapsed {
				return Result{}
			}
			for i, n := range order {
				if !versions[n].Deleted {
					return Result{Versions: ascending(order[i+1:])}
				}
			}
			return Result{}
		}
	}
	return Result{}
}

func newestFirst(versions map[int64]Version) []int64 {
	out := make([]int64, 0, len(versions))
	for n := range versions {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

func ascending(in []int64) []int64 {
	if len(in) == 0 {
		return nil
	}
	out := append([]int64(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
