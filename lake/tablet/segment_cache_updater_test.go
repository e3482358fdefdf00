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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentCacheUpdaterProcessTasks(t *testing.T) {
	cache, err := NewMetacache(8)
	require.NoError(t, err)
	// Drive the worker loop by hand to keep the test deterministic.
	updater := &SegmentCacheUpdater{metacache: cache}

	seg := NewSegment("segment/s1.dat", 64)
	cache.CacheSegment("segment/s1.dat", seg)

	// Duplicate requests within one tick collapse into one charge.
	updater.Update("segment/s1.dat", 0)
	updater.Update("segment/s1.dat", seg.ID())
	// A request for a segment that was never opened is skipped.
	updater.Update("segment/missing.dat", 0)
	// A stale hint is rejected by the identity check.
	updater.Update("segment/s1.dat", seg.ID()+100)

	updater.processTasks()

	assert.Equal(t, int64(64), cache.LookupSegment("segment/s1.dat").MemUsage())
	assert.Nil(t, cache.LookupSegment("segment/missing.dat"))

	// The pending list was swapped out; a second tick has nothing to do.
	updater.processTasks()
}

func TestSegmentCacheUpdaterStopIdempotent(t *testing.T) {
	cache, err := NewMetacache(8)
	require.NoError(t, err)
	updater := NewSegmentCacheUpdater(cache)

	updater.Stop()
	// A second stop must not panic or block.
	updater.Stop()

	// Updates after stop are accepted but never processed by the worker.
	updater.Update("segment/s1.dat", 0)
}

func TestSegmentCacheUpdaterSkipsWhenStopped(t *testing.T) {
	cache, err := NewMetacache(8)
	require.NoError(t, err)
	updater := &SegmentCacheUpdater{metacache: cache}

	seg := NewSegment("segment/s1.dat", 0)
	cache.CacheSegment("segment/s1.dat", seg)
	updater.Update("segment/s1.dat", 0)
	updater.stopped.Store(true)

	// A tick after stop must not touch the cache.
	updater.processTasks()
	assert.Zero(t, cache.LookupSegment("segment/s1.dat").MemUsage())
}
