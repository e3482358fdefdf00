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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lakev1 "github.com/cloudlake-db/cloudlake/api/lake/v1"
	"github.com/cloudlake-db/cloudlake/lake/tablet"
	"github.com/cloudlake-db/cloudlake/pkg/fs/remote"
	"github.com/cloudlake-db/cloudlake/pkg/fs/remote/local"
	"github.com/cloudlake-db/cloudlake/pkg/status"
)

func newTestManager(t *testing.T) (*tablet.Manager, remote.FS, string) {
	t.Helper()
	root := t.TempDir()
	store, err := local.NewFS("")
	require.NoError(t, err)
	mgr, err := tablet.NewManager(store, root, tablet.DefaultMetacacheCapacity)
	require.NoError(t, err)
	return mgr, store, root
}

func writeMetadata(t *testing.T, store remote.FS, root string, md *tablet.TabletMetadata) {
	t.Helper()
	path := tablet.JoinPath(tablet.JoinPath(root, tablet.MetadataDirName),
		tablet.TabletMetadataFilename(md.TabletID, md.Version))
	require.NoError(t, tablet.WriteTabletMetadata(context.Background(), store, path, md))
}

func writeFile(t *testing.T, store remote.FS, root, dir, name string) {
	t.Helper()
	path := tablet.JoinPath(tablet.JoinPath(root, dir), name)
	require.NoError(t, store.Upload(context.Background(), path, strings.NewReader("payload")))
}

func fileExists(t *testing.T, store remote.FS, root, dir, name string) bool {
	t.Helper()
	path := tablet.JoinPath(tablet.JoinPath(root, dir), name)
	_, err := store.Stat(context.Background(), path)
	if err == nil {
		return true
	}
	require.True(t, status.IsNotFound(err))
	return false
}

func TestVacuumRetainsYoungestBeforeGrace(t *testing.T) {
	ctx := context.Background()
	mgr, store, root := newTestManager(t)

	writeMetadata(t, store, root, &tablet.TabletMetadata{
		TabletID:   1,
		Version:    5,
		CommitTime: 100,
		CompactionInputs: []tablet.Rowset{
			{Segments: []string{"s5.dat"}, DataSize: 10},
		},
		OrphanFiles: []tablet.FileMeta{{Name: "o5.dat", Size: 5}},
	})
	writeMetadata(t, store, root, &tablet.TabletMetadata{
		TabletID:           1,
		Version:            10,
		CommitTime:         200,
		PrevGarbageVersion: 5,
		Rowsets: []tablet.Rowset{
			{Segments: []string{"l10.dat"}, DataSize: 100},
		},
		CompactionInputs: []tablet.Rowset{
			{Segments: []string{"s10.dat"}, DataSize: 7},
		},
	})
	for _, name := range []string{"s5.dat", "o5.dat", "s10.dat", "l10.dat"} {
		writeFile(t, store, root, tablet.SegmentDirName, name)
	}

	resp, err := Vacuum(ctx, mgr, &lakev1.VacuumRequest{
		TabletInfos:      []lakev1.TabletInfo{{TabletID: 1, MinVersion: 0}},
		MinRetainVersion: 10,
		GraceTimestamp:   150,
	})
	require.NoError(t, err)

	// Version 5 is the youngest snapshot committed before the grace line: it
	// is retained and its recorded garbage is reclaimed.
	assert.Equal(t, int64(5), resp.VacuumedVersion)
	require.Len(t, resp.TabletInfos, 1)
	assert.Equal(t, int64(5), resp.TabletInfos[0].MinVersion)
	assert.Equal(t, int64(15), resp.VacuumedFileSize)
	// Garbage pinned by the retained v10 is reported as extra.
	assert.Equal(t, int64(7), resp.ExtraFileSize)

	assert.False(t, fileExists(t, store, root, tablet.SegmentDirName, "s5.dat"))
	assert.False(t, fileExists(t, store, root, tablet.SegmentDirName, "o5.dat"))
	assert.True(t, fileExists(t, store, root, tablet.SegmentDirName, "s10.dat"))
	assert.True(t, fileExists(t, store, root, tablet.SegmentDirName, "l10.dat"))
	assert.True(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 5)))
	assert.True(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 10)))

	// Running again with the advanced min version deletes nothing further.
	resp2, err := Vacuum(ctx, mgr, &lakev1.VacuumRequest{
		TabletInfos:      resp.TabletInfos,
		MinRetainVersion: 10,
		GraceTimestamp:   150,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), resp2.VacuumedVersion)
	assert.True(t, fileExists(t, store, root, tablet.SegmentDirName, "s10.dat"))
	assert.True(t, fileExists(t, store, root, tablet.SegmentDirName, "l10.dat"))
	assert.True(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 5)))
}

func TestVacuumChainWalk(t *testing.T) {
	ctx := context.Background()
	mgr, store, root := newTestManager(t)

	chain := []struct {
		version    int64
		commitTime int64
		prev       int64
		garbage    string
	}{
		{5, 100, 0, "g5.dat"},
		{10, 150, 5, "g10.dat"},
		{15, 200, 10, "g15.dat"},
		{20, 250, 15, "g20.dat"},
	}
	for _, c := range chain {
		writeMetadata(t, store, root, &tablet.TabletMetadata{
			TabletID:           1,
			Version:            c.version,
			CommitTime:         c.commitTime,
			PrevGarbageVersion: c.prev,
			CompactionInputs: []tablet.Rowset{
				{Segments: []string{c.garbage}, DataSize: 1},
			},
		})
		writeFile(t, store, root, tablet.SegmentDirName, c.garbage)
	}

	resp, err := Vacuum(ctx, mgr, &lakev1.VacuumRequest{
		TabletInfos:      []lakev1.TabletInfo{{TabletID: 1}},
		MinRetainVersion: 20,
		GraceTimestamp:   180,
	})
	require.NoError(t, err)

	// v10 (commit 150) is the youngest snapshot before grace 180; v5 is
	// metadata garbage below it.
	assert.Equal(t, int64(10), resp.VacuumedVersion)
	assert.Equal(t, int64(10), resp.TabletInfos[0].MinVersion)

	assert.True(t, fileExists(t, store, root, tablet.SegmentDirName, "g20.dat"))
	assert.True(t, fileExists(t, store, root, tablet.SegmentDirName, "g15.dat"))
	assert.False(t, fileExists(t, store, root, tablet.SegmentDirName, "g10.dat"))
	assert.False(t, fileExists(t, store, root, tablet.SegmentDirName, "g5.dat"))

	assert.True(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 20)))
	assert.True(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 15)))
	assert.True(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 10)))
	assert.False(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 5)))
}

func TestVacuumAllSnapshotsYoungerThanGrace(t *testing.T) {
	ctx := context.Background()
	mgr, store, root := newTestManager(t)

	writeMetadata(t, store, root, &tablet.TabletMetadata{
		TabletID:           1,
		Version:            10,
		CommitTime:         200,
		PrevGarbageVersion: 5,
		CompactionInputs: []tablet.Rowset{
			{Segments: []string{"g10.dat"}, DataSize: 1},
		},
	})
	writeFile(t, store, root, tablet.SegmentDirName, "g10.dat")

	resp, err := Vacuum(ctx, mgr, &lakev1.VacuumRequest{
		TabletInfos:      []lakev1.TabletInfo{{TabletID: 1}},
		MinRetainVersion: 10,
		GraceTimestamp:   150,
	})
	require.NoError(t, err)

	// The retention point is ambiguous: report one version below the lowest
	// retained snapshot and delete nothing.
	assert.Equal(t, int64(9), resp.VacuumedVersion)
	assert.Equal(t, int64(0), resp.TabletInfos[0].MinVersion)
	assert.True(t, fileExists(t, store, root, tablet.SegmentDirName, "g10.dat"))
	assert.True(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 10)))
}

func TestVacuumBundleFiles(t *testing.T) {
	ctx := context.Background()
	mgr, store, root := newTestManager(t)

	// Tablet 1 still references bundle file B at the max vacuumed version.
	writeMetadata(t, store, root, &tablet.TabletMetadata{
		TabletID:   1,
		Version:    8,
		CommitTime: 100,
		Rowsets: []tablet.Rowset{
			{Segments: []string{"bundleB.dat"}, BundleFileOffsets: []int64{0}},
		},
	})
	// Tablet 2 superseded both bundle files; only C is referenced by no one.
	writeMetadata(t, store, root, &tablet.TabletMetadata{
		TabletID:           2,
		Version:            8,
		CommitTime:         100,
		PrevGarbageVersion: 7,
		CompactionInputs: []tablet.Rowset{
			{Segments: []string{"bundleB.dat", "bundleC.dat"}, BundleFileOffsets: []int64{0, 4096}, DataSize: 8},
		},
	})
	writeMetadata(t, store, root, &tablet.TabletMetadata{
		TabletID:   2,
		Version:    7,
		CommitTime: 90,
		CompactionInputs: []tablet.Rowset{
			{Segments: []string{"g7.dat"}, DataSize: 3},
		},
	})
	for _, name := range []string{"bundleB.dat", "bundleC.dat", "g7.dat"} {
		writeFile(t, store, root, tablet.SegmentDirName, name)
	}
	// Bundled partition-level metadata files plus the per-tablet initial ones.
	for v := int64(1); v <= 3; v++ {
		writeFile(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(0, v))
	}
	writeFile(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 1))
	writeFile(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(2, 1))

	resp, err := Vacuum(ctx, mgr, &lakev1.VacuumRequest{
		TabletInfos:        []lakev1.TabletInfo{{TabletID: 1}, {TabletID: 2}},
		MinRetainVersion:   8,
		GraceTimestamp:     1000,
		EnableFileBundling: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), resp.VacuumedVersion)

	// B is referenced by tablet 1 at the max vacuumed version: kept.
	assert.True(t, fileExists(t, store, root, tablet.SegmentDirName, "bundleB.dat"))
	assert.False(t, fileExists(t, store, root, tablet.SegmentDirName, "bundleC.dat"))
	assert.False(t, fileExists(t, store, root, tablet.SegmentDirName, "g7.dat"))

	// Partition-level metadata of the merged range is gone, including the
	// per-tablet initial version written after an alter job.
	for v := int64(1); v <= 3; v++ {
		assert.False(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(0, v)))
	}
	assert.False(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 1)))
	assert.False(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(2, 1)))
	assert.True(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(1, 8)))
	assert.True(t, fileExists(t, store, root, tablet.MetadataDirName, tablet.TabletMetadataFilename(2, 8)))
}

func TestVacuumTxnLog(t *testing.T) {
	ctx := context.Background()
	mgr, store, root := newTestManager(t)

	writeMetadata(t, store, root, &tablet.TabletMetadata{
		TabletID:   1,
		Version:    1,
		CommitTime: 100,
	})
	logs := []string{
		tablet.TxnLogFilename(1, 999),
		tablet.TxnLogFilename(1, 1000),
		tablet.TxnSlogFilename(1, 500),
		tablet.CombinedTxnLogFilename(998),
		"foo.txt",
	}
	for _, name := range logs {
		writeFile(t, store, root, tablet.TxnLogDirName, name)
	}

	_, err := Vacuum(ctx, mgr, &lakev1.VacuumRequest{
		TabletInfos:      []lakev1.TabletInfo{{TabletID: 1}},
		MinRetainVersion: 1,
		GraceTimestamp:   150,
		MinActiveTxnID:   1000,
		DeleteTxnLog:     true,
	})
	require.NoError(t, err)

	assert.False(t, fileExists(t, store, root, tablet.TxnLogDirName, tablet.TxnLogFilename(1, 999)))
	assert.False(t, fileExists(t, store, root, tablet.TxnLogDirName, tablet.TxnSlogFilename(1, 500)))
	assert.False(t, fileExists(t, store, root, tablet.TxnLogDirName, tablet.CombinedTxnLogFilename(998)))
	assert.True(t, fileExists(t, store, root, tablet.TxnLogDirName, tablet.TxnLogFilename(1, 1000)))
	assert.True(t, fileExists(t, store, root, tablet.TxnLogDirName, "foo.txt"))
}

func TestVacuumValidation(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	_, err := Vacuum(ctx, nil, &lakev1.VacuumRequest{})
	assert.True(t, status.IsInvalidArgument(err))

	_, err = Vacuum(ctx, mgr, &lakev1.VacuumRequest{MinRetainVersion: 1, GraceTimestamp: 1})
	assert.True(t, status.IsInvalidArgument(err))

	_, err = Vacuum(ctx, mgr, &lakev1.VacuumRequest{
		TabletIDs: []uint64{1}, MinRetainVersion: 0, GraceTimestamp: 1,
	})
	assert.True(t, status.IsInvalidArgument(err))

	_, err = Vacuum(ctx, mgr, &lakev1.VacuumRequest{
		TabletIDs: []uint64{1}, MinRetainVersion: 1, GraceTimestamp: 0,
	})
	assert.True(t, status.IsInvalidArgument(err))
}

func TestVacuumCorruptChainIsFatal(t *testing.T) {
	ctx := context.Background()
	mgr, store, root := newTestManager(t)

	// prev_garbage_version == version violates the strict-decrease invariant.
	writeMetadata(t, store, root, &tablet.TabletMetadata{
		TabletID:           1,
		Version:            5,
		CommitTime:         100,
		PrevGarbageVersion: 5,
	})

	_, err := Vacuum(ctx, mgr, &lakev1.VacuumRequest{
		TabletInfos:      []lakev1.TabletInfo{{TabletID: 1}},
		MinRetainVersion: 5,
		GraceTimestamp:   150,
	})
	require.Error(t, err)
	assert.True(t, status.IsCorruption(err))
}
