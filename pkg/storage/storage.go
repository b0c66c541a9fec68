// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package storage provides the in-memory, content-addressed commit log
// backing the configuration repository.
//
// A Repository is a map from slash-rooted paths to JSON documents,
// versioned by a monotonically increasing revision number. Every commit
// produces a full snapshot of the document map, so any historical
// revision can be read back directly. Commit identifiers are the SHA-256
// of the canonicalized commit payload.
//
// The repository is the notification producer of the system: after a
// commit is assigned its revision, the repository calls Notify on its
// Notifier once per changed path, and on shutdown it closes the notifier
// exactly once.
//
// Thread Safety:
//
//	All operations are safe for concurrent use. Notifications and commit
//	listeners run outside the repository lock.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ikhoon/centraldogma/pkg/jsonpatch"
	"github.com/ikhoon/centraldogma/pkg/revision"
)

// Common storage errors.
var (
	ErrNotFound         = errors.New("document not found")
	ErrRevisionNotFound = errors.New("revision not found")
	ErrClosed           = errors.New("repository closed")
	ErrEmptyCommit      = errors.New("commit has no changes")
)

// ChangeType discriminates the kinds of per-path mutations a commit may
// carry.
type ChangeType string

const (
	// ChangeUpsert creates or fully replaces the document at a path.
	ChangeUpsert ChangeType = "upsert"
	// ChangePatch applies an RFC 6902 patch (with extensions) to an
	// existing document.
	ChangePatch ChangeType = "patch"
	// ChangeMergePatch applies an RFC 7386 merge patch to an existing
	// document.
	ChangeMergePatch ChangeType = "mergePatch"
	// ChangeRemove deletes the document at a path.
	ChangeRemove ChangeType = "remove"
)

// Change is one path mutation inside a commit.
type Change struct {
	Type       ChangeType
	Path       string
	Content    any            // ChangeUpsert
	Patch      jsonpatch.Patch // ChangePatch
	MergePatch []byte          // ChangeMergePatch
}

// Commit records one applied commit.
type Commit struct {
	ID       string            `json:"id"`
	Revision revision.Revision `json:"revision"`
	Summary  string            `json:"summary"`
	Paths    []string          `json:"paths"`
	Time     time.Time         `json:"time"`
}

// Notifier receives commit notifications. watch.Registry satisfies it.
type Notifier interface {
	Notify(rev revision.Revision, path string)
	Close(cause error)
}

// CommitListener observes committed revisions, outside the repository
// lock. Used to bridge commits onto an event bus.
type CommitListener func(Commit)

// Repository is the versioned document store.
type Repository struct {
	mu        sync.RWMutex
	head      revision.Revision
	snapshots []map[string]any // snapshots[i] is the document map at revision i+1
	commits   []Commit
	closed    bool

	notifier  Notifier
	listeners []CommitListener
	logger    *zap.Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithNotifier attaches the watch registry (or any Notifier) that
// receives a Notify call per changed path after each commit.
func WithNotifier(n Notifier) RepositoryOption {
	return func(r *Repository) {
		r.notifier = n
	}
}

// WithCommitListener registers a listener invoked after every commit.
func WithCommitListener(l CommitListener) RepositoryOption {
	return func(r *Repository) {
		r.listeners = append(r.listeners, l)
	}
}

// WithLogger sets the repository logger.
func WithLogger(logger *zap.Logger) RepositoryOption {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRepository creates a repository holding the initial empty commit at
// revision 1.
func NewRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	initial := Commit{
		Revision: revision.Init,
		Summary:  "initial commit",
		Time:     time.Now().UTC(),
	}
	initial.ID = commitID(initial, nil)
	r.commits = append(r.commits, initial)
	r.snapshots = append(r.snapshots, map[string]any{})
	r.head = revision.Init
	return r
}

// Head returns the latest revision.
func (r *Repository) Head() revision.Revision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.head
}

// Commit applies the changes atomically, assigns the next revision, and
// fans the new revision out to the notifier once per changed path.
//
// Any failing change aborts the whole commit and the repository is
// unchanged. Patch conflicts surface as *jsonpatch.ConflictError or
// *jsonpatch.TestFailedError for the API layer to translate.
func (r *Repository) Commit(ctx context.Context, summary string, changes []Change) (Commit, error) {
	if err := ctx.Err(); err != nil {
		return Commit{}, err
	}
	if len(changes) == 0 {
		return Commit{}, ErrEmptyCommit
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Commit{}, ErrClosed
	}

	// Work against a shallow copy of the head snapshot; document values
	// are never mutated in place, so sharing unchanged entries across
	// snapshots is safe.
	next := make(map[string]any, len(r.snapshots[len(r.snapshots)-1])+len(changes))
	for k, v := range r.snapshots[len(r.snapshots)-1] {
		next[k] = v
	}

	paths := make([]string, 0, len(changes))
	for _, change := range changes {
		updated, err := applyChange(next, change)
		if err != nil {
			r.mu.Unlock()
			return Commit{}, err
		}
		if change.Type == ChangeRemove {
			delete(next, change.Path)
		} else {
			next[change.Path] = updated
		}
		paths = append(paths, change.Path)
	}
	sort.Strings(paths)

	commit := Commit{
		Revision: r.head + 1,
		Summary:  summary,
		Paths:    paths,
		Time:     time.Now().UTC(),
	}
	commit.ID = commitID(commit, changes)

	r.commits = append(r.commits, commit)
	r.snapshots = append(r.snapshots, next)
	r.head = commit.Revision
	notifier := r.notifier
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.Debug("commit applied",
		zap.String("id", commit.ID),
		zap.Int64("revision", int64(commit.Revision)),
		zap.Strings("paths", paths))

	if notifier != nil {
		for _, path := range paths {
			notifier.Notify(commit.Revision, path)
		}
	}
	for _, l := range listeners {
		l(commit)
	}
	return commit, nil
}

// applyChange computes the new document for one change against the
// current snapshot. It never mutates existing document values.
func applyChange(snapshot map[string]any, change Change) (any, error) {
	current, exists := snapshot[change.Path]

	switch change.Type {
	case ChangeUpsert:
		normalized, err := normalize(change.Content)
		if err != nil {
			return nil, fmt.Errorf("content at %s: %w", change.Path, err)
		}
		return normalized, nil

	case ChangePatch:
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, change.Path)
		}
		return change.Patch.Apply(current)

	case ChangeMergePatch:
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, change.Path)
		}
		original, err := json.Marshal(current)
		if err != nil {
			return nil, err
		}
		merged, err := jsonpatch.ApplyMergePatch(original, change.MergePatch)
		if err != nil {
			return nil, err
		}
		return normalize(json.RawMessage(merged))

	case ChangeRemove:
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, change.Path)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown change type %q", change.Type)
	}
}

// Get returns the document at path as of the given revision. The Head
// sentinel reads the latest snapshot.
func (r *Repository) Get(ctx context.Context, path string, rev revision.Revision) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	resolved := rev.Resolve(r.head)
	if resolved < revision.Init || resolved > r.head {
		return nil, fmt.Errorf("%w: %v", ErrRevisionNotFound, rev)
	}
	doc, ok := r.snapshots[resolved-revision.Init][path]
	if !ok {
		return nil, fmt.Errorf("%w: %s at revision %v", ErrNotFound, path, resolved)
	}
	return doc, nil
}

// CommitAt returns the commit record for a revision.
func (r *Repository) CommitAt(rev revision.Revision) (Commit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return Commit{}, ErrClosed
	}
	resolved := rev.Resolve(r.head)
	if resolved < revision.Init || resolved > r.head {
		return Commit{}, fmt.Errorf("%w: %v", ErrRevisionNotFound, rev)
	}
	return r.commits[resolved-revision.Init], nil
}

// Close shuts the repository down and closes the notifier once with the
// given cause. Close is idempotent.
func (r *Repository) Close(cause error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	notifier := r.notifier
	r.mu.Unlock()

	r.logger.Info("repository closed", zap.Error(cause))
	if notifier != nil {
		notifier.Close(cause)
	}
}

// commitID derives the content address of a commit: the SHA-256 of its
// canonicalized payload. encoding/json sorts object keys, so the
// serialization is deterministic.
func commitID(c Commit, changes []Change) string {
	payload := struct {
		Revision revision.Revision `json:"revision"`
		Summary  string            `json:"summary"`
		Paths    []string          `json:"paths"`
		Changes  []changePayload   `json:"changes,omitempty"`
	}{
		Revision: c.Revision,
		Summary:  c.Summary,
		Paths:    c.Paths,
	}
	for _, ch := range changes {
		payload.Changes = append(payload.Changes, changePayload{
			Type:       ch.Type,
			Path:       ch.Path,
			Content:    ch.Content,
			Patch:      ch.Patch,
			MergePatch: ch.MergePatch,
		})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Changes were already applied, so they marshal.
		data = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type changePayload struct {
	Type       ChangeType      `json:"type"`
	Path       string          `json:"path"`
	Content    any             `json:"content,omitempty"`
	Patch      jsonpatch.Patch `json:"patch,omitempty"`
	MergePatch json.RawMessage `json:"mergePatch,omitempty"`
}

// normalize round-trips a value through JSON so snapshots hold only the
// map[string]any / []any / float64 shape.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
