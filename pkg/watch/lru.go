// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package watch

import (
	"container/list"

	"github.com/ikhoon/centraldogma/pkg/pathpattern"
)

// bucketEntry groups the watches registered under one compiled pattern.
type bucketEntry struct {
	key     string
	pattern *pathpattern.PathPattern
	watches map[int64]*watch
}

// bucketMap is an access-ordered bounded map from pattern key to bucket.
// The bound is soft: when the map grows past capacity, the scan from the
// least-recently-used end evicts the first entry whose bucket is empty,
// and entries holding live watches are never evicted regardless of age.
// The capacity therefore caps idle pattern metadata, not live watches.
//
// Not safe for concurrent use; the registry mutex guards all access.
type bucketMap struct {
	capacity int
	order    *list.List // front = least recently used
	index    map[string]*list.Element
}

func newBucketMap(capacity int) *bucketMap {
	return &bucketMap{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// getOrCreate returns the bucket for the pattern, creating it when
// absent, and records the access by moving the entry to the
// most-recently-used end. Creation may trigger one eviction pass.
func (m *bucketMap) getOrCreate(pattern *pathpattern.PathPattern) *bucketEntry {
	key := pattern.Key()
	if elem, ok := m.index[key]; ok {
		m.order.MoveToBack(elem)
		return elem.Value.(*bucketEntry)
	}

	// Evict before inserting: the new entry is still empty until the
	// caller adds its watch, so it must not be a candidate.
	if m.order.Len() >= m.capacity {
		m.evictOne()
	}
	entry := &bucketEntry{
		key:     key,
		pattern: pattern,
		watches: make(map[int64]*watch),
	}
	m.index[key] = m.order.PushBack(entry)
	return entry
}

// get returns the bucket for the key without creating one.
func (m *bucketMap) get(key string) (*bucketEntry, bool) {
	elem, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*bucketEntry), true
}

// evictOne removes the least-recently-used empty bucket, if any.
func (m *bucketMap) evictOne() {
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*bucketEntry)
		if len(entry.watches) == 0 {
			m.order.Remove(elem)
			delete(m.index, entry.key)
			return
		}
	}
}

// each calls fn for every bucket. fn must not add or remove buckets.
func (m *bucketMap) each(fn func(*bucketEntry)) {
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		fn(elem.Value.(*bucketEntry))
	}
}

// clear drops every bucket and returns the entries that were present.
func (m *bucketMap) clear() []*bucketEntry {
	entries := make([]*bucketEntry, 0, m.order.Len())
	m.each(func(e *bucketEntry) {
		entries = append(entries, e)
	})
	m.order.Init()
	m.index = make(map[string]*list.Element)
	return entries
}

func (m *bucketMap) len() int {
	return m.order.Len()
}
