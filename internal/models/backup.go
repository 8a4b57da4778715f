package models

import (
	"errors"
	"fmt"
	"time"
)

// BackupEntry is one timestamped backup directory under a backup root.
type BackupEntry struct {
	Name     string
	Path     string
	Time     time.Time
	Archives []ArchiveInfo
	// Manifest is nil when backup-info.txt is missing or unreadable.
	Manifest *Manifest
}

// ArchiveInfo is one archive file inside a backup directory.
type ArchiveInfo struct {
	Name string
	Size int64
}

// TotalSize sums the archive sizes.
func (e *BackupEntry) TotalSize() int64 {
	var total int64
	for _, a := range e.Archives {
		total += a.Size
	}
	return total
}

// OutcomeKind names what a per-item outcome refers to.
type OutcomeKind string

const (
	KindVolume    OutcomeKind = "volume"
	KindBindMount OutcomeKind = "bind mount"
	KindRestore   OutcomeKind = "restore"
	KindStop      OutcomeKind = "stop"
	KindStart     OutcomeKind = "start"
	KindExport    OutcomeKind = "export"
)

// Outcome records how one item of a best-effort loop went.
type Outcome struct {
	Kind    OutcomeKind
	Name    string
	Archive string
	Err     error
	// Escalated is set when the item only succeeded after a sudo retry.
	Escalated bool
}

// OK reports whether the item succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Outcomes accumulates per-item results so one failure never hides the rest.
type Outcomes []Outcome

// Succeeded counts the successful items.
func (o Outcomes) Succeeded() int {
	n := 0
	for _, item := range o {
		if item.OK() {
			n++
		}
	}
	return n
}

// Failed counts the failed items.
func (o Outcomes) Failed() int {
	return len(o) - o.Succeeded()
}

// Failures returns only the failed items.
func (o Outcomes) Failures() Outcomes {
	var failed Outcomes
	for _, item := range o {
		if !item.OK() {
			failed = append(failed, item)
		}
	}
	return failed
}

// Err joins the failures into one error, or returns nil.
func (o Outcomes) Err() error {
	var errs []error
	for _, item := range o.Failures() {
		errs = append(errs, fmt.Errorf("%s %s: %w", item.Kind, item.Name, item.Err))
	}
	return errors.Join(errs...)
}
