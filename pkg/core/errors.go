package core

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors. Typed errors below match these with errors.Is.
var (
	ErrNoSuchSnapshot        = errors.New("no such snapshot")
	ErrUnmetDependency       = errors.New("unmet dependency")
	ErrBinaryContentAccess   = errors.New("cannot access compiled content of binary item rep")
	ErrInternalInconsistency = errors.New("internal inconsistency")
	ErrDependencyCycle       = errors.New("dependency cycle")
	ErrMissingSnapshots      = errors.New("missing snapshots")
)

// NoSuchSnapshotError is returned when a snapshot is requested that the rep
// does not declare.
type NoSuchSnapshotError struct {
	Rep      *Rep
	Snapshot string
}

func (e *NoSuchSnapshotError) Error() string {
	return fmt.Sprintf("no such snapshot %q for %s", e.Snapshot, e.Rep)
}

func (e *NoSuchSnapshotError) Is(target error) bool { return target == ErrNoSuchSnapshot }

// UnmetDependencyError signals that a snapshot of another rep is needed but
// has not been produced yet. It is a control-flow signal, not a user error:
// the scheduler compiles Rep and retries the waiting rep.
type UnmetDependencyError struct {
	Rep      *Rep
	Snapshot string
}

func (e *UnmetDependencyError) Error() string {
	return fmt.Sprintf("unmet dependency on snapshot %q of %s", e.Snapshot, e.Rep)
}

func (e *UnmetDependencyError) Is(target error) bool { return target == ErrUnmetDependency }

// BinaryContentAccessError is returned when textual content is requested from
// a snapshot that holds binary content.
type BinaryContentAccessError struct {
	Rep *Rep
}

func (e *BinaryContentAccessError) Error() string {
	return fmt.Sprintf("cannot access the compiled content of a binary item rep (but the path is available); the offending item rep is %s", e.Rep)
}

func (e *BinaryContentAccessError) Is(target error) bool { return target == ErrBinaryContentAccess }

// InternalInconsistencyError reports a bug in the compiler itself.
type InternalInconsistencyError struct {
	Msg string
}

func (e *InternalInconsistencyError) Error() string {
	return "internal inconsistency: " + e.Msg
}

func (e *InternalInconsistencyError) Is(target error) bool { return target == ErrInternalInconsistency }

// DependencyCycleError is returned when reps wait on each other.
type DependencyCycleError struct {
	Path []RepKey
}

func (e *DependencyCycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, k := range e.Path {
		parts[i] = k.String()
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

func (e *DependencyCycleError) Is(target error) bool { return target == ErrDependencyCycle }

// MissingSnapshotsError is returned when a computation finished without
// producing every declared snapshot.
type MissingSnapshotsError struct {
	Rep       *Rep
	Snapshots []string
}

func (e *MissingSnapshotsError) Error() string {
	return fmt.Sprintf("%s did not produce snapshots: %s", e.Rep, strings.Join(e.Snapshots, ", "))
}

func (e *MissingSnapshotsError) Is(target error) bool { return target == ErrMissingSnapshots }
