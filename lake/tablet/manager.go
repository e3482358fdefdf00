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

	"github.com/cloudlake-db/cloudlake/pkg/fs/remote"
	"github.com/cloudlake-db/cloudlake/pkg/logger"
)

// DefaultMetacacheCapacity bounds the number of parsed entries kept in memory.
const DefaultMetacacheCapacity = 4096

// Manager resolves tablet file locations under a shared partition root and
// loads parsed metadata with a path-keyed cache in front of the store.
type Manager struct {
	store remote.FS
	cache *Metacache
	l     *logger.Logger
	root  string
}

// NewManager creates a manager for tablets stored under root.
func NewManager(store remote.FS, root string, cacheCapacity int) (*Manager, error) {
	cache, err := NewMetacache(cacheCapacity)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store: store,
		root:  root,
		cache: cache,
		l:     logger.GetLogger("tablet"),
	}, nil
}

// FS returns the object store backing this manager.
func (m *Manager) FS() remote.FS { return m.store }

// Metacache returns the path-keyed cache.
func (m *Manager) Metacache() *Metacache { return m.cache }

// TabletRootLocation returns the partition root holding the given tablet.
func (m *Manager) TabletRootLocation(_ uint64) string {
	return m.root
}

// TabletMetadataLocation returns the full path of one metadata snapshot.
func (m *Manager) TabletMetadataLocation(tabletID uint64, version int64) string {
	return JoinPath(JoinPath(m.root, MetadataDirName), TabletMetadataFilename(tabletID, version))
}

// TxnLogLocation returns the full path of one txn log.
func (m *Manager) TxnLogLocation(tabletID uint64, txnID int64) string {
	return JoinPath(JoinPath(m.root, TxnLogDirName), TxnLogFilename(tabletID, txnID))
}

// CombinedTxnLogLocation returns the full path of a partition-wide combined
// txn log. The tablet id is not used: every tablet of a manager shares one
// partition root.
func (m *Manager) CombinedTxnLogLocation(_ uint64, txnID int64) string {
	return JoinPath(JoinPath(m.root, TxnLogDirName), CombinedTxnLogFilename(txnID))
}

// GetTabletMetadata loads the snapshot of a tablet at version. The cache key
// is the metadata file path; fillCache controls whether a miss populates it.
func (m *Manager) GetTabletMetadata(ctx context.Context, tabletID uint64, version int64, fillCache bool) (*TabletMetadata, error) {
	path := m.TabletMetadataLocation(tabletID, version)
	if md := m.cache.LookupTabletMetadata(path); md != nil {
		return md, nil
	}
	md, err := LoadTabletMetadata(ctx, m.store, path)
	if err != nil {
		return nil, err
	}
	if fillCache {
		m.cache.CacheTabletMetadata(path, md)
	}
	return md, nil
}

// GetTxnLog loads a transaction log by full path.
func (m *Manager) GetTxnLog(ctx context.Context, path string, fillCache bool) (*TxnLog, error) {
	if log := m.cache.LookupTxnLog(path); log != nil {
		return log, nil
	}
	log, err := LoadTxnLog(ctx, m.store, path)
	if err != nil {
		return nil, err
	}
	if fillCache {
		m.cache.CacheTxnLog(path, log)
	}
	return log, nil
}
