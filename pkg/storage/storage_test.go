// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikhoon/centraldogma/pkg/jsonpatch"
	"github.com/ikhoon/centraldogma/pkg/revision"
)

type recordingNotifier struct {
	mu       sync.Mutex
	notified []struct {
		rev  revision.Revision
		path string
	}
	closed error
}

func (n *recordingNotifier) Notify(rev revision.Revision, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, struct {
		rev  revision.Revision
		path string
	}{rev, path})
}

func (n *recordingNotifier) Close(cause error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = cause
}

func TestNewRepositoryHasInitialCommit(t *testing.T) {
	r := NewRepository()
	assert.Equal(t, revision.Init, r.Head())

	c, err := r.CommitAt(revision.Init)
	require.NoError(t, err)
	assert.Equal(t, revision.Init, c.Revision)
	assert.NotEmpty(t, c.ID)
}

func TestCommitAssignsRevisionsAndNotifies(t *testing.T) {
	n := &recordingNotifier{}
	r := NewRepository(WithNotifier(n))
	ctx := context.Background()

	c1, err := r.Commit(ctx, "add config", []Change{
		{Type: ChangeUpsert, Path: "/app/config.json", Content: map[string]any{"a": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, revision.Revision(2), c1.Revision)

	c2, err := r.Commit(ctx, "add flags", []Change{
		{Type: ChangeUpsert, Path: "/app/flags.json", Content: map[string]any{"on": true}},
	})
	require.NoError(t, err)
	assert.Equal(t, revision.Revision(3), c2.Revision)

	require.Len(t, n.notified, 2)
	assert.Equal(t, revision.Revision(2), n.notified[0].rev)
	assert.Equal(t, "/app/config.json", n.notified[0].path)
	assert.Equal(t, revision.Revision(3), n.notified[1].rev)

	// Content addresses differ across commits.
	assert.NotEqual(t, c1.ID, c2.ID)
}

func TestCommitPatchChange(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	_, err := r.Commit(ctx, "seed", []Change{
		{Type: ChangeUpsert, Path: "/a.json", Content: map[string]any{"count": 1}},
	})
	require.NoError(t, err)

	_, err = r.Commit(ctx, "bump", []Change{
		{Type: ChangePatch, Path: "/a.json", Patch: jsonpatch.Patch{
			{Op: jsonpatch.OpTest, Path: "/count", Value: 1},
			{Op: jsonpatch.OpReplace, Path: "/count", Value: 2},
		}},
	})
	require.NoError(t, err)

	doc, err := r.Get(ctx, "/a.json", revision.Head)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": float64(2)}, doc)

	// Old revision still reads the old document.
	doc, err = r.Get(ctx, "/a.json", 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": float64(1)}, doc)
}

func TestCommitFailedPatchLeavesRepositoryUnchanged(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	_, err := r.Commit(ctx, "seed", []Change{
		{Type: ChangeUpsert, Path: "/a.json", Content: map[string]any{"count": 1}},
	})
	require.NoError(t, err)
	head := r.Head()

	_, err = r.Commit(ctx, "conflict", []Change{
		{Type: ChangePatch, Path: "/a.json", Patch: jsonpatch.Patch{
			{Op: jsonpatch.OpTest, Path: "/count", Value: 99},
		}},
	})
	var failed *jsonpatch.TestFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, head, r.Head(), "failed commit must not advance head")

	doc, err := r.Get(ctx, "/a.json", revision.Head)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": float64(1)}, doc)
}

func TestCommitMergePatchChange(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	_, err := r.Commit(ctx, "seed", []Change{
		{Type: ChangeUpsert, Path: "/a.json", Content: map[string]any{"a": 1, "b": 2}},
	})
	require.NoError(t, err)

	_, err = r.Commit(ctx, "merge", []Change{
		{Type: ChangeMergePatch, Path: "/a.json", MergePatch: []byte(`{"b":null,"c":3}`)},
	})
	require.NoError(t, err)

	doc, err := r.Get(ctx, "/a.json", revision.Head)
	require.NoError(t, err)
	m := doc.(map[string]any)
	assert.NotContains(t, m, "b")
	assert.Equal(t, float64(3), m["c"])
}

func TestCommitRemoveChange(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	_, err := r.Commit(ctx, "seed", []Change{
		{Type: ChangeUpsert, Path: "/a.json", Content: 1},
	})
	require.NoError(t, err)

	_, err = r.Commit(ctx, "drop", []Change{{Type: ChangeRemove, Path: "/a.json"}})
	require.NoError(t, err)

	_, err = r.Get(ctx, "/a.json", revision.Head)
	assert.ErrorIs(t, err, ErrNotFound)

	// Removing a missing path fails.
	_, err = r.Commit(ctx, "drop again", []Change{{Type: ChangeRemove, Path: "/a.json"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitValidation(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	_, err := r.Commit(ctx, "empty", nil)
	assert.ErrorIs(t, err, ErrEmptyCommit)

	_, err = r.Commit(ctx, "patch missing doc", []Change{
		{Type: ChangePatch, Path: "/nope.json", Patch: jsonpatch.Patch{{Op: jsonpatch.OpRemove, Path: "/x"}}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRevisionBounds(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	_, err := r.Get(ctx, "/a.json", 99)
	assert.ErrorIs(t, err, ErrRevisionNotFound)

	_, err = r.Get(ctx, "/a.json", revision.Init)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseClosesNotifierOnce(t *testing.T) {
	n := &recordingNotifier{}
	r := NewRepository(WithNotifier(n))

	cause := errors.New("shutting down")
	r.Close(cause)
	r.Close(errors.New("second close"))

	assert.Equal(t, cause, n.closed)

	_, err := r.Commit(context.Background(), "late", []Change{
		{Type: ChangeUpsert, Path: "/a.json", Content: 1},
	})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = r.Get(context.Background(), "/a.json", revision.Head)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCommitListenerObservesCommits(t *testing.T) {
	var seen []Commit
	var mu sync.Mutex
	r := NewRepository(WithCommitListener(func(c Commit) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c)
	}))

	_, err := r.Commit(context.Background(), "one", []Change{
		{Type: ChangeUpsert, Path: "/a.json", Content: 1},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, revision.Revision(2), seen[0].Revision)
}

func TestConcurrentCommitsAssignDistinctRevisions(t *testing.T) {
	r := NewRepository()
	ctx := context.Background()

	const writers = 16
	revs := make([]revision.Revision, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Commit(ctx, "concurrent", []Change{
				{Type: ChangeUpsert, Path: "/w.json", Content: i},
			})
			if err != nil {
				t.Error(err)
				return
			}
			revs[i] = c.Revision
		}(i)
	}
	wg.Wait()

	seen := make(map[revision.Revision]bool)
	for _, rev := range revs {
		assert.False(t, seen[rev], "revision %v assigned twice", rev)
		seen[rev] = true
	}
	assert.Equal(t, revision.Revision(1+writers), r.Head())
}
