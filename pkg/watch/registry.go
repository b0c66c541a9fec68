// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package watch

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ikhoon/centraldogma/pkg/pathpattern"
	"github.com/ikhoon/centraldogma/pkg/revision"
)

// DefaultCapacity is the default soft bound on idle pattern buckets.
const DefaultCapacity = 8192

// Registry delivers at-most-one notification per registered watch when a
// commit advances past the watch's baseline and touches a path matching
// its pattern.
//
// Concurrency: Add, Notify and Close may be called from any goroutine.
// All bucket-map and bucket-set mutations happen under one short
// registry-wide mutex; watch futures are completed strictly outside that
// mutex, so user callbacks can re-enter the registry freely. A watch
// completed outside the lock was already unlinked under the lock, so no
// lock-held mutation can observe it afterwards.
type Registry struct {
	mu       sync.Mutex
	buckets  *bucketMap
	nextID   int64
	closed   bool
	closeErr error
	logger   *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithCapacity overrides the soft bound on idle pattern buckets.
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.buckets = newBucketMap(n)
		}
	}
}

// WithLogger sets the logger used for skipped-watch debug messages.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		buckets: newBucketMap(DefaultCapacity),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddOption configures a single Add call.
type AddOption func(*addOptions)

type addOptions struct {
	listener Listener
}

// WithListener attaches a listener to the watch. The listener decides
// whether registry closure is propagated to the future.
func WithListener(l Listener) AddOption {
	return func(o *addOptions) {
		o.listener = l
	}
}

// Add compiles the pattern and registers a watch waiting for the first
// revision strictly newer than baseline that touches a matching path.
//
// The returned future completes exactly once. The holder may cancel it
// (Future.Cancel or any external completion); the registry observes the
// completion and lazily unlinks the watch, and a cancelled watch is
// never delivered a revision.
//
// Add never leaks a watch on failure: pattern and baseline validation
// happen before insertion, and Add on a closed registry fails with
// *ClosedError.
func (r *Registry) Add(baseline revision.Revision, pattern string, opts ...AddOption) (*Future, error) {
	compiled, err := pathpattern.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if baseline.IsHead() || !baseline.Valid() {
		return nil, fmt.Errorf("invalid watch baseline %v: must be a concrete revision", baseline)
	}

	var options addOptions
	for _, opt := range opts {
		opt(&options)
	}

	f := newFuture()

	r.mu.Lock()
	if r.closed {
		err := &ClosedError{Cause: r.closeErr}
		r.mu.Unlock()
		return nil, err
	}
	r.nextID++
	w := &watch{
		id:       r.nextID,
		pattern:  compiled,
		baseline: baseline,
		future:   f,
		listener: options.listener,
		state:    StatePending,
	}
	r.buckets.getOrCreate(compiled).watches[w.id] = w
	r.mu.Unlock()

	// Runs whenever the future completes, whichever side completes it.
	// After a registry-side delivery the unlink is a no-op; after a
	// holder-side cancellation it removes the watch from its bucket.
	f.onComplete(func() {
		r.unlink(w)
	})

	return f, nil
}

// Notify reports that the commit at the given revision changed path.
// Every pending watch whose pattern matches the path and whose baseline
// is strictly older than the revision is unlinked and completed with the
// revision. Watches at or past the revision stay registered; a debug
// message records the skip.
//
// Notify on a closed registry is a no-op.
func (r *Registry) Notify(rev revision.Revision, path string) {
	var matched []*watch

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.buckets.each(func(entry *bucketEntry) {
		if !entry.pattern.Matches(path) {
			return
		}
		for id, w := range entry.watches {
			if w.state != StatePending {
				continue
			}
			if !revision.IsEligible(w.baseline, rev) {
				r.logger.Debug("watch baseline is not older than the notified revision; keeping watch",
					zap.String("pattern", entry.key),
					zap.Int64("baseline", int64(w.baseline)),
					zap.Int64("revision", int64(rev)))
				continue
			}
			w.state = StateNotified
			delete(entry.watches, id)
			matched = append(matched, w)
		}
	})
	r.mu.Unlock()

	// Completion happens outside the critical section; every matched
	// watch was unlinked above, so concurrent Notify calls cannot see
	// it again. A racing holder-side cancellation may win here; the
	// losing completion is a no-op either way.
	for _, w := range matched {
		w.future.complete(rev)
	}
}

// Close terminates every outstanding watch and rejects subsequent Adds.
// Watches whose listener declines failure propagation are dropped
// silently; all others fail with a *ClosedError wrapping cause. Close is
// idempotent.
func (r *Registry) Close(cause error) {
	var outstanding []*watch

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.closeErr = cause
	for _, entry := range r.buckets.clear() {
		for _, w := range entry.watches {
			if w.state != StatePending {
				continue
			}
			w.state = StateNotified
			outstanding = append(outstanding, w)
		}
	}
	r.mu.Unlock()

	r.logger.Info("watch registry closed",
		zap.Int("outstanding", len(outstanding)),
		zap.Error(cause))

	for _, w := range outstanding {
		if w.listener != nil && !w.listener.FailOnClose() {
			continue
		}
		w.future.fail(&ClosedError{Cause: cause})
	}
}

// unlink removes a watch from its bucket after its future completed. It
// is idempotent and safe to race with Notify: a watch the registry
// already delivered is only marked removed here.
func (r *Registry) unlink(w *watch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w.state == StatePending {
		w.state = StateCancelled
	}
	if entry, ok := r.buckets.get(w.pattern.Key()); ok {
		delete(entry.watches, w.id)
	}
	if w.state == StateCancelled || w.state == StateNotified {
		w.state = StateRemoved
	}
}

// watchCount reports the number of live watches under the pattern key.
func (r *Registry) watchCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.buckets.get(key)
	if !ok {
		return 0
	}
	return len(entry.watches)
}

// bucketCount reports the number of pattern buckets currently retained.
func (r *Registry) bucketCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buckets.len()
}
