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

package vacuum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lakev1 "github.com/cloudlake-db/cloudlake/api/lake/v1"
	"github.com/cloudlake-db/cloudlake/lake/tablet"
	"github.com/cloudlake-db/cloudlake/pkg/status"
)

func TestDeleteTablets(t *testing.T) {
	ctx := context.Background()
	mgr, store, root := newTestManager(t)

	// Tablet 1: two metadata versions, a txn log, live and garbage data.
	writeMetadata(t, store, root, &tablet.TabletMetadata{
		TabletID: 1,
		Version:  1,
		Rowsets:  []tablet.Rowset{{Segments: []string{"a1.dat"}}},
	})
	writeMetadata(t, store, root, &tablet.TabletMetadata{
		TabletID:           1,
		Version:            3,
		PrevGarbageVersion: 1,
		Rowsets:            []tablet.Rowset{{Segments: []string{"a1.dat"}}},
		CompactionInputs:   []tablet.Rowset{{Segments: []string{"c3.dat"}, DataSize: 2}},
		DelvecMeta: &tablet.DelvecMeta{
			VersionToFile: map[int64]tablet.FileMeta{3: {Name: "d1.delvec"}},
		},
		SstableMeta: &tablet.SstableMeta{
			Sstables: []tablet.Sstable{{Filename: "s1.sst"}},
		},
	})
	logPath := mgr.TxnLogLocation(1, 50)
	require.NoError(t, tablet.WriteTxnLog(ctx, store, logPath, &tablet.TxnLog{
		TabletID: 1,
		TxnID:    50,
		OpWrite: &tablet.OpWrite{
			Rowset: tablet.Rowset{Segments: []string{"w1.dat"}},
			Dels:   []string{"w1.del"},
		},
	}))
	for _, name := range []string{"a1.dat", "c3.dat", "d1.delvec", "s1.sst", "w1.dat", "w1.del"} {
		writeFile(t, store, root, tablet.SegmentDirName, name)
	}

	// Tablet 2 shares the root and must stay untouched.
	writeMetadata(t, store, root, &tablet.TabletMetadata{
		TabletID: 2,
		Version:  1,
		Rowsets:  []tablet.Rowset{{Segments: []string{"b1.dat"}}},
	})
	require.NoError(t, tablet.WriteTxnLog(ctx, store, mgr.TxnLogLocation(2, 60), &tablet.TxnLog{
		TabletID: 2,
		TxnID:    60,
		OpWrite:  &tablet.OpWrite{Rowset: tablet.Rowset{Segments: []string{"w2.dat"}}},
	}))
	writeFile(t, store, root, tablet.SegmentDirName, "b1.dat")
	writeFile(t, store, root, tablet.SegmentDirName, "w2.dat")

	require.NoError(t, DeleteTablets(ctx, mgr, &lakev1.DeleteTabletRequest{TabletIDs: []uint64{1}}))

	for _, name := range []string{"a1.dat", "c3.dat", "d1.delvec", "s1.sst", "w1.dat", "w1.del"} {
		assert.False(t, fileExists(t, store, root, tablet.SegmentDirName, name), name)
	}
	assert.False(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 1)))
	assert.False(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 3)))
	assert.False(t, fileExists(t, store, root, tablet.TxnLogDirName, tablet.TxnLogFilename(1, 50)))

	assert.True(t, fileExists(t, store, root, tablet.SegmentDirName, "b1.dat"))
	assert.True(t, fileExists(t, store, root, tablet.SegmentDirName, "w2.dat"))
	assert.True(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(2, 1)))
	assert.True(t, fileExists(t, store, root, tablet.TxnLogDirName, tablet.TxnLogFilename(2, 60)))
}

func TestDeleteTabletsValidation(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	err := DeleteTablets(ctx, nil, &lakev1.DeleteTabletRequest{TabletIDs: []uint64{1}})
	assert.True(t, status.IsInvalidArgument(err))

	err = DeleteTablets(ctx, mgr, &lakev1.DeleteTabletRequest{})
	assert.True(t, status.IsInvalidArgument(err))
}

func TestDeleteTxnLog(t *testing.T) {
	ctx := context.Background()
	mgr, store, root := newTestManager(t)

	plainPath := mgr.TxnLogLocation(1, 10)
	require.NoError(t, tablet.WriteTxnLog(ctx, store, plainPath, &tablet.TxnLog{TabletID: 1, TxnID: 10}))
	writeFile(t, store, root, tablet.TxnLogDirName, tablet.CombinedTxnLogFilename(11))

	// Populate the cache so the synchronous erase is observable.
	_, err := mgr.GetTxnLog(ctx, plainPath, true)
	require.NoError(t, err)
	require.NotNil(t, mgr.Metacache().LookupTxnLog(plainPath))

	require.NoError(t, DeleteTxnLog(ctx, mgr, &lakev1.DeleteTxnLogRequest{
		TabletIDs: []uint64{1},
		TxnIDs:    []int64{10},
		TxnInfos:  []lakev1.TxnInfo{{TxnID: 11, CombinedTxnLog: true}},
	}))

	// The cache entry is erased before the call returns.
	assert.Nil(t, mgr.Metacache().LookupTxnLog(plainPath))

	// Deletion itself is fire-and-forget on the shared pool.
	require.Eventually(t, func() bool {
		return !fileExists(t, store, root, tablet.TxnLogDirName, tablet.TxnLogFilename(1, 10)) &&
			!fileExists(t, store, root, tablet.TxnLogDirName, tablet.CombinedTxnLogFilename(11))
	}, 5*time.Second, 10*time.Millisecond)
}
