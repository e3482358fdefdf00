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
	"sort"

	"github.com/pkg/errors"

	lakev1 "github.com/cloudlake-db/cloudlake/api/lake/v1"
	"github.com/cloudlake-db/cloudlake/lake/tablet"
	"github.com/cloudlake-db/cloudlake/pkg/status"
)

// deleteTabletsImpl purges every file belonging to the sorted tablet set:
// transaction logs and the data they reference, every metadata version with
// its recorded garbage, and the live files of the latest snapshot.
func deleteTabletsImpl(ctx context.Context, mgr *tablet.Manager, rootDir string, tabletIDs []uint64) error {
	store := mgr.FS()
	idSet := make(map[uint64]struct{}, len(tabletIDs))
	for _, id := range tabletIDs {
		idSet[id] = struct{}{}
	}

	metaDir := tablet.JoinPath(rootDir, tablet.MetadataDirName)
	dataDir := tablet.JoinPath(rootDir, tablet.SegmentDirName)
	logDir := tablet.JoinPath(rootDir, tablet.TxnLogDirName)

	var txnLogs []string
	seenLogs := make(map[string]struct{})
	var dupErr error
	err := status.IgnoreNotFound(store.Iterate(ctx, logDir, func(name string) bool {
		var tabletID uint64
		var ok bool
		switch {
		case tablet.IsTxnLog(name):
			tabletID, _, ok = tablet.ParseTxnLogFilename(name)
		case tablet.IsTxnSlog(name):
			tabletID, _, ok = tablet.ParseTxnSlogFilename(name)
		case tablet.IsTxnVlog(name):
			tabletID, _, ok = tablet.ParseTxnVlogFilename(name)
		default:
			return true
		}
		if !ok {
			return true
		}
		if _, owned := idSet[tabletID]; !owned {
			return true
		}
		if _, dup := seenLogs[name]; dup {
			dupErr = errors.Wrapf(status.ErrCorruption, "%s: duplicate file %s",
				errDuplicateFiles, tablet.JoinPath(logDir, name))
			return false
		}
		seenLogs[name] = struct{}{}
		txnLogs = append(txnLogs, name)
		return true
	}))
	if err != nil {
		return err
	}
	if dupErr != nil {
		log().Error().Err(dupErr).Msg("aborting tablet deletion")
		return dupErr
	}
	sort.Strings(txnLogs)

	deleter := newAsyncFileDeleter(store, config().MinBatchDeleteSize)
	for _, logName := range txnLogs {
		logPath := tablet.JoinPath(logDir, logName)
		txnLog, errLog := mgr.GetTxnLog(ctx, logPath, false)
		if status.IsNotFound(errLog) {
			continue
		} else if errLog != nil {
			return errLog
		}
		if op := txnLog.OpWrite; op != nil {
			for _, segment := range op.Rowset.Segments {
				if errDel := deleter.deleteFile(ctx, tablet.JoinPath(dataDir, segment)); errDel != nil {
					return errDel
				}
			}
			for _, f := range op.Dels {
				if errDel := deleter.deleteFile(ctx, tablet.JoinPath(dataDir, f)); errDel != nil {
					return errDel
				}
			}
		}
		if op := txnLog.OpCompaction; op != nil {
			for _, segment := range op.OutputRowset.Segments {
				if errDel := deleter.deleteFile(ctx, tablet.JoinPath(dataDir, segment)); errDel != nil {
					return errDel
				}
			}
		}
		if op := txnLog.OpSchemaChange; op != nil {
			for i := range op.Rowsets {
				for _, segment := range op.Rowsets[i].Segments {
					if errDel := deleter.deleteFile(ctx, tablet.JoinPath(dataDir, segment)); errDel != nil {
						return errDel
					}
				}
			}
		}
		if errDel := deleter.deleteFile(ctx, logPath); errDel != nil {
			return errDel
		}
	}

	tabletVersions := make(map[uint64][]int64)
	seenVersions := make(map[uint64]map[int64]struct{})
	err = status.IgnoreNotFound(store.Iterate(ctx, metaDir, func(name string) bool {
		if !tablet.IsTabletMetadata(name) {
			return true
		}
		tabletID, version, ok := tablet.ParseTabletMetadataFilename(name)
		if !ok {
			return true
		}
		if _, owned := idSet[tabletID]; !owned {
			return true
		}
		if seenVersions[tabletID] == nil {
			seenVersions[tabletID] = make(map[int64]struct{})
		}
		if _, dup := seenVersions[tabletID][version]; dup {
			dupErr = errors.Wrapf(status.ErrCorruption, "%s: duplicate file %s",
				errDuplicateFiles, tablet.JoinPath(metaDir, name))
			return false
		}
		seenVersions[tabletID][version] = struct{}{}
		tabletVersions[tabletID] = append(tabletVersions[tabletID], version)
		return true
	}))
	if err != nil {
		return err
	}
	if dupErr != nil {
		log().Error().Err(dupErr).Msg("aborting tablet deletion")
		return dupErr
	}

	for tabletID, versions := range tabletVersions {
		sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

		var latest *tablet.TabletMetadata

		// Walk backwards from the newest version, deleting the garbage each
		// snapshot recorded.
		minVersion := versions[0]
		for garbageVersion := versions[len(versions)-1]; garbageVersion >= minVersion; {
			md, errGet := mgr.GetTabletMetadata(ctx, tabletID, garbageVersion, false)
			if status.IsNotFound(errGet) {
				break
			} else if errGet != nil {
				log().Error().Err(errGet).Uint64("tablet", tabletID).Int64("version", garbageVersion).
					Msg("failed to read tablet metadata")
				return errGet
			}
			if latest == nil {
				latest = md
			}
			if _, errCollect := collectGarbageFiles(ctx, md, dataDir, deleter, nil); errCollect != nil {
				return errCollect
			}
			if md.PrevGarbageVersion <= 0 {
				break
			}
			if md.PrevGarbageVersion >= garbageVersion {
				return errors.Wrapf(status.ErrCorruption,
					"tablet %d metadata version %d has prev garbage version %d",
					tabletID, garbageVersion, md.PrevGarbageVersion)
			}
			garbageVersion = md.PrevGarbageVersion
		}

		// This is a full purge: the latest snapshot's live files go as well.
		if latest != nil {
			for i := range latest.Rowsets {
				for _, segment := range latest.Rowsets[i].Segments {
					if errDel := deleter.deleteFile(ctx, tablet.JoinPath(dataDir, segment)); errDel != nil {
						return errDel
					}
				}
			}
			if latest.DelvecMeta != nil {
				for _, f := range latest.DelvecMeta.VersionToFile {
					if errDel := deleter.deleteFile(ctx, tablet.JoinPath(dataDir, f.Name)); errDel != nil {
						return errDel
					}
				}
			}
			if latest.SstableMeta != nil {
				for _, sst := range latest.SstableMeta.Sstables {
					if errDel := deleter.deleteFile(ctx, tablet.JoinPath(dataDir, sst.Filename)); errDel != nil {
						return errDel
					}
				}
			}
		}

		for _, version := range versions {
			p := tablet.JoinPath(metaDir, tablet.TabletMetadataFilename(tabletID, version))
			if errDel := deleter.deleteFile(ctx, p); errDel != nil {
				return errDel
			}
		}
	}

	return deleter.finish(ctx)
}

// DeleteTablets purges all files of the requested tablet set.
func DeleteTablets(ctx context.Context, mgr *tablet.Manager, req *lakev1.DeleteTabletRequest) error {
	if mgr == nil {
		return errors.Wrap(status.ErrInvalidArgument, "tablet manager is nil")
	}
	if len(req.TabletIDs) == 0 {
		return errors.Wrap(status.ErrInvalidArgument, "tablet_ids is empty")
	}
	tabletIDs := make([]uint64, len(req.TabletIDs))
	copy(tabletIDs, req.TabletIDs)
	sort.Slice(tabletIDs, func(i, j int) bool { return tabletIDs[i] < tabletIDs[j] })
	rootDir := mgr.TabletRootLocation(tabletIDs[0])
	return deleteTabletsImpl(ctx, mgr, rootDir, tabletIDs)
}

// DeleteTxnLog deletes the cross product of the request's tablet ids with its
// txn ids and infos. Deletion is fire-and-forget on the shared pool; cache
// entries for the log paths built from TxnIDs are erased synchronously, while
// the paths built from TxnInfos are not erased from the cache.
func DeleteTxnLog(ctx context.Context, mgr *tablet.Manager, req *lakev1.DeleteTxnLogRequest) error {
	if mgr == nil {
		return errors.Wrap(status.ErrInvalidArgument, "tablet manager is nil")
	}
	if len(req.TabletIDs) == 0 {
		return errors.Wrap(status.ErrInvalidArgument, "tablet_ids is empty")
	}

	filesToDelete := make([]string, 0, len(req.TabletIDs)*(len(req.TxnIDs)+len(req.TxnInfos)))
	for _, tabletID := range req.TabletIDs {
		// The coordinator sets only one of txn_ids and txn_infos per request;
		// iterating both sides costs nothing when one is empty.
		for _, txnID := range req.TxnIDs {
			logPath := mgr.TxnLogLocation(tabletID, txnID)
			filesToDelete = append(filesToDelete, logPath)
			mgr.Metacache().Erase(logPath)
		}
		for _, info := range req.TxnInfos {
			var logPath string
			if info.CombinedTxnLog {
				logPath = mgr.CombinedTxnLogLocation(tabletID, info.TxnID)
			} else {
				logPath = mgr.TxnLogLocation(tabletID, info.TxnID)
			}
			filesToDelete = append(filesToDelete, logPath)
		}
	}

	deleteFilesAsync(context.WithoutCancel(ctx), mgr.FS(), filesToDelete)
	return nil
}
