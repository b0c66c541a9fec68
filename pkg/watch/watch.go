// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package watch implements the commit-watch registry: callers register
// interest in a path pattern past a baseline revision and receive
// at-most-one notification when a later commit touches a matching path.
//
// The registry is process-local and non-durable; watches are lost on
// restart. It assumes the commit log hands it monotonically increasing
// revisions — out-of-order notifications are not guarded against beyond
// the per-watch baseline check.
package watch

import (
	"fmt"

	"github.com/ikhoon/centraldogma/pkg/pathpattern"
	"github.com/ikhoon/centraldogma/pkg/revision"
)

// State is the lifecycle state of a watch.
type State int32

const (
	// StatePending is the initial state of a registered watch.
	StatePending State = iota
	// StateNotified marks a watch the registry has finished with: its
	// future was completed with a revision or a close error, or it was
	// dropped on Close because its listener declines close failures.
	StateNotified
	// StateCancelled marks a watch whose holder completed the future
	// before the registry did.
	StateCancelled
	// StateRemoved is the terminal bookkeeping state after the registry
	// unlinked the watch from its bucket.
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateNotified:
		return "notified"
	case StateCancelled:
		return "cancelled"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Listener customizes how a watch reacts to registry shutdown.
type Listener interface {
	// FailOnClose reports whether registry closure should be propagated
	// to the watch future as an error. Watches whose listener returns
	// false are dropped silently on Close.
	FailOnClose() bool
}

// watch is one registration. Identity is the monotonically assigned id;
// two watches with identical pattern and baseline remain distinct
// entries in the same bucket. All fields except future are guarded by
// the registry mutex after creation.
type watch struct {
	id       int64
	pattern  *pathpattern.PathPattern
	baseline revision.Revision
	future   *Future
	listener Listener
	state    State
}

// ClosedError is the failure delivered to every outstanding watch when
// the registry shuts down.
type ClosedError struct {
	Cause error
}

func (e *ClosedError) Error() string {
	if e.Cause == nil {
		return "watch registry closed"
	}
	return fmt.Sprintf("watch registry closed: %v", e.Cause)
}

func (e *ClosedError) Unwrap() error {
	return e.Cause
}
