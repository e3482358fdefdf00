// Licensed to Apache Software Foundation (ASF) under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Apache Software Foundation (ASF) licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package tablet

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
)

var segmentIDGen atomic.Uint64

// Segment is an opened data segment handle. The ID is a process-local
// identity used to detect cache replacement between open and deferred
// cache backfill.
type Segment struct {
	path     string
	id       uint64
	memUsage int64
}

// NewSegment creates a handle for an opened segment.
func NewSegment(path string, memUsage int64) *Segment {
	return &Segment{
		path:     path,
		id:       segmentIDGen.Add(1),
		memUsage: memUsage,
	}
}

// Path returns the segment's full path.
func (s *Segment) Path() string { return s.path }

// ID returns the process-local identity of this handle.
func (s *Segment) ID() uint64 { return s.id }

// MemUsage returns the in-memory footprint of the opened segment.
func (s *Segment) MemUsage() int64 { return s.memUsage }

// Metacache caches parsed metadata snapshots, transaction logs and opened
// segments, keyed by their full file path. It is internally synchronized.
type Metacache struct {
	cache *lru.Cache
}

// NewMetacache creates a cache holding up to capacity entries.
func NewMetacache(capacity int) (*Metacache, error) {
	c, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &Metacache{cache: c}, nil
}

// Erase drops the entry for path, if any. Vacuum must call this before or
// with issuing the deletion of the backing file.
func (m *Metacache) Erase(path string) {
	m.cache.Remove(path)
}

// CacheTabletMetadata stores a parsed snapshot under its path.
func (m *Metacache) CacheTabletMetadata(path string, md *TabletMetadata) {
	m.cache.Add(path, md)
}

// LookupTabletMetadata returns the cached snapshot for path, or nil.
func (m *Metacache) LookupTabletMetadata(path string) *TabletMetadata {
	if v, ok := m.cache.Get(path); ok {
		if md, ok := v.(*TabletMetadata); ok {
			return md
		}
	}
	return nil
}

// CacheTxnLog stores a parsed transaction log under its path.
func (m *Metacache) CacheTxnLog(path string, log *TxnLog) {
	m.cache.Add(path, log)
}

// LookupTxnLog returns the cached transaction log for path, or nil.
func (m *Metacache) LookupTxnLog(path string) *TxnLog {
	if v, ok := m.cache.Get(path); ok {
		if log, ok := v.(*TxnLog); ok {
			return log
		}
	}
	return nil
}

// CacheSegment stores an opened segment handle under its path.
func (m *Metacache) CacheSegment(path string, seg *Segment) {
	m.cache.Add(path, seg)
}

// LookupSegment returns the cached segment for path, or nil.
func (m *Metacache) LookupSegment(path string) *Segment {
	if v, ok := m.cache.Get(path); ok {
		if seg, ok := v.(*Segment); ok {
			return seg
		}
	}
	return nil
}

// CacheSegmentIfPresent re-registers the segment at path with its measured
// memory cost, provided the cached handle is still the one identified by
// hint (hint 0 matches any). Returns the charged cost, or 0 when nothing
// was done.
func (m *Metacache) CacheSegmentIfPresent(path string, memCost int64, hint uint64) int64 {
	seg := m.LookupSegment(path)
	if seg == nil {
		return 0
	}
	if hint != 0 && seg.id != hint {
		return 0
	}
	seg.memUsage = memCost
	m.cache.Add(path, seg)
	return memCost
}

// Len returns the number of cached entries.
func (m *Metacache) Len() int {
	return m.cache.Len()
}
