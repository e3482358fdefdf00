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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudlake-db/cloudlake/pkg/fs/remote/local"
	"github.com/cloudlake-db/cloudlake/pkg/status"
)

func TestManagerGetTabletMetadata(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := local.NewFS("")
	require.NoError(t, err)
	mgr, err := NewManager(store, root, DefaultMetacacheCapacity)
	require.NoError(t, err)

	md := &TabletMetadata{
		TabletID:           7,
		Version:            3,
		CommitTime:         100,
		PrevGarbageVersion: 1,
		Rowsets: []Rowset{
			{Segments: []string{"a.dat", "b.dat"}, DataSize: 128},
		},
		CompactionInputs: []Rowset{
			{Segments: []string{"old.dat"}, DataSize: 64},
		},
		OrphanFiles: []FileMeta{{Name: "orphan.dat", Size: 32}},
	}
	require.NoError(t, WriteTabletMetadata(ctx, store, mgr.TabletMetadataLocation(7, 3), md))

	loaded, err := mgr.GetTabletMetadata(ctx, 7, 3, true)
	require.NoError(t, err)
	assert.Equal(t, md, loaded)

	// A fill-cache load is served from the metacache afterwards.
	cached := mgr.Metacache().LookupTabletMetadata(mgr.TabletMetadataLocation(7, 3))
	require.NotNil(t, cached)
	assert.Equal(t, int64(3), cached.Version)

	_, err = mgr.GetTabletMetadata(ctx, 7, 4, false)
	assert.True(t, status.IsNotFound(err))
}

func TestManagerGetTxnLog(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := local.NewFS("")
	require.NoError(t, err)
	mgr, err := NewManager(store, root, DefaultMetacacheCapacity)
	require.NoError(t, err)

	log := &TxnLog{
		TabletID: 7,
		TxnID:    999,
		OpWrite: &OpWrite{
			Rowset: Rowset{Segments: []string{"w.dat"}},
			Dels:   []string{"w.del"},
		},
	}
	path := mgr.TxnLogLocation(7, 999)
	require.NoError(t, WriteTxnLog(ctx, store, path, log))

	loaded, err := mgr.GetTxnLog(ctx, path, true)
	require.NoError(t, err)
	assert.Equal(t, log, loaded)
	require.NotNil(t, mgr.Metacache().LookupTxnLog(path))

	mgr.Metacache().Erase(path)
	assert.Nil(t, mgr.Metacache().LookupTxnLog(path))
}
