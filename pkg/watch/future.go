// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package watch

import (
	"context"
	"errors"
	"sync"

	"github.com/ikhoon/centraldogma/pkg/revision"
)

// ErrCancelled is the terminal error of a future whose holder cancelled
// it before the registry delivered a revision.
var ErrCancelled = errors.New("watch cancelled")

// Future is the single-completion handle returned by Registry.Add. It
// completes exactly once, with either the delivered revision or an
// error; whichever of the registry and the holder completes it first
// wins, and the loser's completion is a no-op.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	rev       revision.Revision
	err       error
	completed bool
	callbacks []func()
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done returns a channel closed when the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get blocks until the future completes or ctx is done. On delivery it
// returns the revision; on failure, cancellation, or context expiry it
// returns the corresponding error.
func (f *Future) Get(ctx context.Context) (revision.Revision, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.rev, f.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Cancel completes the future with ErrCancelled. It returns true when
// this call won the completion race; cancelling an already-completed
// future is a no-op. The registry observes the completion and unlinks
// the watch, so a cancelled watch is never delivered a revision.
func (f *Future) Cancel() bool {
	return f.fail(ErrCancelled)
}

// complete delivers a revision. First completion wins.
func (f *Future) complete(rev revision.Revision) bool {
	return f.finish(rev, nil)
}

// fail completes the future with an error. First completion wins.
func (f *Future) fail(err error) bool {
	return f.finish(0, err)
}

func (f *Future) finish(rev revision.Revision, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.rev = rev
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	return true
}

// onComplete registers fn to run when the future completes, in the
// completing goroutine. If the future is already complete, fn runs
// immediately in the calling goroutine.
func (f *Future) onComplete(fn func()) {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		fn()
		return
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}
