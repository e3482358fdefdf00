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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudlake-db/cloudlake/lake/tablet"
	"github.com/cloudlake-db/cloudlake/pkg/fs/remote/local"
)

func TestDatafileGC(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := local.NewFS("")
	require.NoError(t, err)

	// One partition nested below the scan root.
	partition := filepath.Join(root, "db1", "p1")
	segmentDir := filepath.Join(partition, tablet.SegmentDirName)
	metaDir := filepath.Join(partition, tablet.MetadataDirName)
	require.NoError(t, os.MkdirAll(segmentDir, 0o755))
	require.NoError(t, os.MkdirAll(metaDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(partition, tablet.TxnLogDirName), 0o755))

	orphanOld := tablet.GenSegmentFilename(100)
	referencedOld := tablet.GenSegmentFilename(101)
	orphanYoung := tablet.GenSegmentFilename(102)
	for _, name := range []string{orphanOld, referencedOld, orphanYoung} {
		require.NoError(t, os.WriteFile(filepath.Join(segmentDir, name), []byte("payload"), 0o644))
	}
	aged := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(segmentDir, orphanOld), aged, aged))
	require.NoError(t, os.Chtimes(filepath.Join(segmentDir, referencedOld), aged, aged))

	writeMetadata(t, store, partition, &tablet.TabletMetadata{
		TabletID: 3,
		Version:  1,
		Rowsets:  []tablet.Rowset{{Segments: []string{referencedOld}}},
	})

	// Dry run reports the single orphan without deleting it.
	files, bytes, err := DatafileGC(ctx, store, root, 3600, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), files)
	assert.Equal(t, int64(len("payload")), bytes)
	assert.FileExists(t, filepath.Join(segmentDir, orphanOld))

	// The real pass deletes only the aged unreferenced segment.
	files, bytes, err = DatafileGC(ctx, store, root, 3600, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), files)
	assert.Equal(t, int64(len("payload")), bytes)
	assert.NoFileExists(t, filepath.Join(segmentDir, orphanOld))
	assert.FileExists(t, filepath.Join(segmentDir, referencedOld))
	assert.FileExists(t, filepath.Join(segmentDir, orphanYoung))

	// A third pass finds nothing.
	files, bytes, err = DatafileGC(ctx, store, root, 3600, true)
	require.NoError(t, err)
	assert.Zero(t, files)
	assert.Zero(t, bytes)
}
