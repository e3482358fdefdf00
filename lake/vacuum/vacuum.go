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

// Package vacuum reclaims obsolete tablet metadata snapshots, data files and
// transaction logs from a shared object-store prefix, without ever deleting a
// file reachable from a retained or in-flight snapshot.
package vacuum

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	lakev1 "github.com/cloudlake-db/cloudlake/api/lake/v1"
	"github.com/cloudlake-db/cloudlake/lake/tablet"
	"github.com/cloudlake-db/cloudlake/pkg/fs/remote"
	"github.com/cloudlake-db/cloudlake/pkg/logger"
	"github.com/cloudlake-db/cloudlake/pkg/status"
)

const errDuplicateFiles = "duplicate files were returned from the remote storage, " +
	"the most likely cause is an S3 or HDFS API compatibility issue with your remote storage implementation"

func log() *logger.Logger {
	return logger.GetLogger("lake", "vacuum")
}

// metaVersionRange is the half-open version range [minVersion, maxVersion) of
// bundled partition metadata files eligible for deletion.
type metaVersionRange struct {
	minVersion int64
	maxVersion int64
}

// merge shrinks the range toward the prefix every merged tablet can delete:
// elementwise minimum on both bounds.
func (r *metaVersionRange) merge(minVersion, maxVersion int64) {
	if r.minVersion == 0 && r.maxVersion == 0 {
		r.minVersion = minVersion
		r.maxVersion = maxVersion
		return
	}
	if minVersion < r.minVersion {
		r.minVersion = minVersion
	}
	// The low watermark of the max version.
	if maxVersion < r.maxVersion {
		r.maxVersion = maxVersion
	}
}

// collectGarbageFiles emits the garbage recorded by one snapshot: the
// compaction-input segments (routed through the bundle deleter when shared),
// their delete files, and the orphan files. Returns the recorded data size.
func collectGarbageFiles(ctx context.Context, md *tablet.TabletMetadata, dataDir string,
	deleter *asyncFileDeleter, bundleDeleter *bundleFileDeleter,
) (int64, error) {
	var garbageSize int64
	for i := range md.CompactionInputs {
		rowset := &md.CompactionInputs[i]
		for _, segment := range rowset.Segments {
			if len(rowset.BundleFileOffsets) > 0 && bundleDeleter != nil {
				bundleDeleter.deleteFile(tablet.JoinPath(dataDir, segment))
			} else if err := deleter.deleteFile(ctx, tablet.JoinPath(dataDir, segment)); err != nil {
				return garbageSize, err
			}
		}
		for _, delFile := range rowset.DelFiles {
			if err := deleter.deleteFile(ctx, tablet.JoinPath(dataDir, delFile.Name)); err != nil {
				return garbageSize, err
			}
		}
		garbageSize += rowset.DataSize
	}
	for _, file := range md.OrphanFiles {
		if err := deleter.deleteFile(ctx, tablet.JoinPath(dataDir, file.Name)); err != nil {
			return garbageSize, err
		}
		garbageSize += file.Size
	}
	return garbageSize, nil
}

// collectAliveBundleFiles registers every bundle file referenced by any
// tablet's snapshot at version as delay-deleted. version is the maximum
// vacuumed version across the group: the strongest live-set upper bound
// available under concurrent per-tablet progress.
func collectAliveBundleFiles(ctx context.Context, mgr *tablet.Manager, tabletInfos []lakev1.TabletInfo,
	version int64, rootDir string, deleter *bundleFileDeleter,
) error {
	dataDir := tablet.JoinPath(rootDir, tablet.SegmentDirName)
	for i := range tabletInfos {
		md, err := mgr.GetTabletMetadata(ctx, tabletInfos[i].TabletID, version, false)
		if err != nil {
			// The snapshot at the max vacuumed version must exist.
			return err
		}
		for j := range md.Rowsets {
			rowset := &md.Rowsets[j]
			if len(rowset.BundleFileOffsets) == 0 {
				continue
			}
			for _, segment := range rowset.Segments {
				deleter.delayDelete(tablet.JoinPath(dataDir, segment))
			}
		}
	}
	return nil
}

// collectExtraFilesSize reports the garbage bytes still pinned by snapshots at
// or below the retention floor.
func collectExtraFilesSize(md *tablet.TabletMetadata, minRetainVersion int64) int64 {
	if md.Version > minRetainVersion {
		return 0
	}
	var extraFileSize int64
	for i := range md.CompactionInputs {
		extraFileSize += md.CompactionInputs[i].DataSize
	}
	for _, file := range md.OrphanFiles {
		extraFileSize += file.Size
	}
	return extraFileSize
}

// tabletVacuumResult is what planning one tablet reports back to the driver.
type tabletVacuumResult struct {
	datafileSize    int64
	extraFileSize   int64
	vacuumedVersion int64
}

// collectFilesToVacuum walks one tablet's metadata chain backwards from
// minRetainVersion along prevGarbageVersion, classifying snapshots against the
// grace timestamp and emitting garbage into the deleters. On success the
// tablet's MinVersion is advanced to the new retention floor.
//
// graceTimestamp is an upper bound on the start time of queries still in
// flight: the last snapshot committed before it must be retained so those
// queries keep a readable state; everything older is garbage.
func collectFilesToVacuum(ctx context.Context, mgr *tablet.Manager, rootDir string,
	tabletInfo *lakev1.TabletInfo, graceTimestamp, minRetainVersion int64,
	versionRange *metaVersionRange, datafileDeleter, metafileDeleter *asyncFileDeleter,
	bundleDeleter *bundleFileDeleter,
) (tabletVacuumResult, error) {
	var res tabletVacuumResult
	t0 := time.Now()
	metaDir := tablet.JoinPath(rootDir, tablet.MetadataDirName)
	dataDir := tablet.JoinPath(rootDir, tablet.SegmentDirName)
	finalRetainVersion := minRetainVersion
	version := finalRetainVersion
	tabletID := tabletInfo.TabletID
	minVersion := tabletInfo.MinVersion
	if minVersion < 1 {
		minVersion = 1
	}
	// grace timestamp <= 0 means no grace timestamp
	skipCheckGraceTimestamp := graceTimestamp <= 0
	var extraFileSize int64
	var prepareVacuumFileSize int64
	var totalDatafileSize int64

	// Starting at finalRetainVersion, read the tablet metadata backwards along
	// the prevGarbageVersion pointer until the tablet metadata does not exist.
	for version >= minVersion {
		md, err := mgr.GetTabletMetadata(ctx, tabletID, version, false)
		if status.IsNotFound(err) {
			break
		} else if err != nil {
			return res, err
		}
		extraFileSize += collectExtraFilesSize(md, minRetainVersion)
		if skipCheckGraceTimestamp {
			size, errCollect := collectGarbageFiles(ctx, md, dataDir, datafileDeleter, bundleDeleter)
			prepareVacuumFileSize += size
			if errCollect != nil {
				return res, errCollect
			}
		} else {
			// A zero commit time means a snapshot written before commit times
			// were recorded. Treating it as older than any grace timestamp
			// keeps the latest such version; the ambiguity vanishes after a
			// few rounds of ingestion and compaction.
			var compareTime int64
			if md.CommitTime > 0 {
				compareTime = md.CommitTime
			}
			if compareTime < graceTimestamp {
				// This is the first metadata encountered that was committed
				// before the grace timestamp. It is the youngest state a
				// still-running query may access, so the snapshot itself is
				// retained; the garbage recorded in it can go.
				finalRetainVersion = version
				skipCheckGraceTimestamp = true
				size, errCollect := collectGarbageFiles(ctx, md, dataDir, datafileDeleter, bundleDeleter)
				totalDatafileSize += size
				if errCollect != nil {
					return res, errCollect
				}
			} else {
				finalRetainVersion = version
			}
		}

		if md.PrevGarbageVersion >= version {
			return res, errors.Wrapf(status.ErrCorruption,
				"tablet %d metadata version %d has prev garbage version %d",
				tabletID, version, md.PrevGarbageVersion)
		}
		version = md.PrevGarbageVersion
	}
	if e := log().Debug(); e.Enabled() {
		e.Uint64("tablet", tabletID).Dur("cost", time.Since(t0)).Msg("walked metadata chain")
	}
	if !skipCheckGraceTimestamp {
		// Every metadata file encountered was created after the grace
		// timestamp, so there is nothing to delete and the retention point is
		// ambiguous. Report one version below the lowest retained one so its
		// garbage stays deletable by a later vacuum.
		res.vacuumedVersion = finalRetainVersion - 1
		return res, nil
	}
	res.vacuumedVersion = finalRetainVersion
	if versionRange == nil {
		for v := version + 1; v < finalRetainVersion; v++ {
			p := tablet.JoinPath(metaDir, tablet.TabletMetadataFilename(tabletID, v))
			if err := metafileDeleter.deleteFile(ctx, p); err != nil {
				return res, err
			}
		}
	} else {
		// Under file bundling the metadata files are shared by the whole
		// partition; only record the range here and let the driver decide the
		// common deletable prefix.
		versionRange.merge(version+1, finalRetainVersion)
	}
	tabletInfo.MinVersion = finalRetainVersion
	res.datafileSize = totalDatafileSize + prepareVacuumFileSize
	res.extraFileSize = extraFileSize
	return res, nil
}

// vacuumCounters aggregates per-partition reclamation totals.
type vacuumCounters struct {
	files     int64
	fileSize  int64
	version   int64
	extraSize int64
}

func eraseMetadataFromMetacache(cache *tablet.Metacache, paths []string) {
	for _, p := range paths {
		cache.Erase(p)
	}
}

func vacuumTabletMetadata(ctx context.Context, mgr *tablet.Manager, rootDir string,
	tabletInfos []lakev1.TabletInfo, minRetainVersion, graceTimestamp int64,
	enableFileBundling bool,
) (vacuumCounters, error) {
	var counters vacuumCounters
	store := mgr.FS()
	cfg := config()
	metafileCb := func(paths []string) {
		eraseMetadataFromMetacache(mgr.Metacache(), paths)
	}
	var versionRange *metaVersionRange
	if enableFileBundling {
		versionRange = new(metaVersionRange)
	}
	bundleDeleter := newBundleFileDeleter(store, cfg.MinBatchDeleteSize)
	finalVacuumVersion := int64(math.MaxInt64)
	var maxVacuumVersion int64
	for i := range tabletInfos {
		datafileDeleter := newAsyncFileDeleter(store, cfg.MinBatchDeleteSize)
		// Metadata deletions flush once per tablet so the cache-invalidation
		// callback runs before the single submission.
		metafileDeleter := newAsyncFileDeleterWithCallback(store, math.MaxInt64, metafileCb)
		res, err := collectFilesToVacuum(ctx, mgr, rootDir, &tabletInfos[i], graceTimestamp,
			minRetainVersion, versionRange, datafileDeleter, metafileDeleter, bundleDeleter)
		if err != nil {
			return counters, err
		}
		if err := datafileDeleter.finish(ctx); err != nil {
			return counters, err
		}
		counters.files += datafileDeleter.count()
		if !enableFileBundling {
			if err := metafileDeleter.finish(ctx); err != nil {
				return counters, err
			}
			counters.files += metafileDeleter.count()
		}
		counters.fileSize += res.datafileSize
		counters.extraSize += res.extraFileSize
		// The partition-wide safe point is the slowest tablet.
		if res.vacuumedVersion < finalVacuumVersion {
			finalVacuumVersion = res.vacuumedVersion
		}
		if res.vacuumedVersion > maxVacuumVersion {
			maxVacuumVersion = res.vacuumedVersion
		}
	}
	if maxVacuumVersion > 0 && !bundleDeleter.empty() {
		if err := collectAliveBundleFiles(ctx, mgr, tabletInfos, maxVacuumVersion, rootDir, bundleDeleter); err != nil {
			return counters, err
		}
		if err := bundleDeleter.finish(ctx); err != nil {
			return counters, err
		}
		counters.files += bundleDeleter.count()
	}
	if enableFileBundling {
		metafileDeleter := newAsyncFileDeleterWithCallback(store, math.MaxInt64, metafileCb)
		metaDir := tablet.JoinPath(rootDir, tablet.MetadataDirName)
		// A tablet created by a finished alter job writes its initial
		// metadata under its own tablet id to avoid overwriting the bundled
		// one, so version 1 must be vacuumed per tablet id as well.
		if versionRange.minVersion <= 1 {
			for i := range tabletInfos {
				p := tablet.JoinPath(metaDir, tablet.TabletMetadataFilename(tabletInfos[i].TabletID, 1))
				if err := metafileDeleter.deleteFile(ctx, p); err != nil {
					return counters, err
				}
			}
		}
		for v := versionRange.minVersion; v < versionRange.maxVersion; v++ {
			p := tablet.JoinPath(metaDir, tablet.TabletMetadataFilename(0, v))
			if err := metafileDeleter.deleteFile(ctx, p); err != nil {
				return counters, err
			}
		}
		if err := metafileDeleter.finish(ctx); err != nil {
			return counters, err
		}
		counters.files += metafileDeleter.count()
	}
	counters.version = finalVacuumVersion
	return counters, nil
}

// vacuumTxnLog deletes every transaction log in the partition owned by a
// transaction below minActiveTxnID. Unknown names are skipped. The listing
// stops at the first failed deletion; listing, deletion and flush errors are
// combined into the returned error.
func vacuumTxnLog(ctx context.Context, store remote.FS, rootLocation string, minActiveTxnID int64) (files, size int64, err error) {
	t0 := time.Now()
	cfg := config()
	deleter := newAsyncFileDeleter(store, cfg.MinBatchDeleteSize)
	logDir := tablet.JoinPath(rootLocation, tablet.TxnLogDirName)
	var ret error
	iterErr := status.IgnoreNotFound(store.IterateEntries(ctx, logDir, func(entry remote.DirEntry) bool {
		name := entry.Name
		switch {
		case tablet.IsTxnLog(name):
			if _, txnID, ok := tablet.ParseTxnLogFilename(name); !ok || txnID >= minActiveTxnID {
				return true
			}
		case tablet.IsTxnSlog(name):
			if _, txnID, ok := tablet.ParseTxnSlogFilename(name); !ok || txnID >= minActiveTxnID {
				return true
			}
		case tablet.IsCombinedTxnLog(name):
			if txnID, ok := tablet.ParseCombinedTxnLogFilename(name); !ok || txnID >= minActiveTxnID {
				return true
			}
		default:
			return true
		}

		files++
		if entry.Size > 0 {
			size += entry.Size
		}

		p := tablet.JoinPath(logDir, name)
		if errDelete := deleter.deleteFile(ctx, p); errDelete != nil {
			log().Warn().Err(errDelete).Msgf("failed to delete %s", p)
			ret = multierr.Append(ret, errDelete)
			return false // stop listing if delete failed
		}
		return true
	}))
	ret = multierr.Append(ret, iterErr)
	ret = multierr.Append(ret, deleter.finish(ctx))
	if e := log().Debug(); e.Enabled() {
		e.Dur("cost", time.Since(t0)).Int64("files", files).Msg("vacuumed txn logs")
	}
	return files, size, ret
}

// Vacuum reclaims obsolete snapshots, data files and transaction logs for a
// tablet group sharing one partition root, per the coordinator's retention
// policy inputs.
func Vacuum(ctx context.Context, mgr *tablet.Manager, req *lakev1.VacuumRequest) (*lakev1.VacuumResponse, error) {
	if mgr == nil {
		return nil, errors.Wrap(status.ErrInvalidArgument, "tablet manager is nil")
	}
	if len(req.TabletIDs) == 0 && len(req.TabletInfos) == 0 {
		return nil, errors.Wrap(status.ErrInvalidArgument, "both tablet_ids and tablet_infos are empty")
	}
	if req.MinRetainVersion <= 0 {
		return nil, errors.Wrap(status.ErrInvalidArgument, "value of min_retain_version is zero or negative")
	}
	if req.GraceTimestamp <= 0 {
		return nil, errors.Wrap(status.ErrInvalidArgument, "value of grace_timestamp is zero or negative")
	}

	var tabletInfos []lakev1.TabletInfo
	if len(req.TabletInfos) > 0 {
		tabletInfos = make([]lakev1.TabletInfo, len(req.TabletInfos))
		copy(tabletInfos, req.TabletInfos)
	} else {
		// A request from an older coordinator carries bare tablet ids.
		tabletInfos = make([]lakev1.TabletInfo, 0, len(req.TabletIDs))
		for _, id := range req.TabletIDs {
			tabletInfos = append(tabletInfos, lakev1.TabletInfo{TabletID: id, MinVersion: 0})
		}
	}
	sort.Slice(tabletInfos, func(i, j int) bool {
		return tabletInfos[i].TabletID < tabletInfos[j].TabletID
	})

	rootLoc := mgr.TabletRootLocation(tabletInfos[0].TabletID)
	counters, err := vacuumTabletMetadata(ctx, mgr, rootLoc, tabletInfos,
		req.MinRetainVersion, req.GraceTimestamp, req.EnableFileBundling)
	if err != nil {
		return nil, err
	}
	extraFileSize := counters.extraSize - counters.fileSize
	vacuumedFiles := counters.files
	vacuumedFileSize := counters.fileSize
	if req.DeleteTxnLog {
		logFiles, logSize, errLog := vacuumTxnLog(ctx, mgr.FS(), rootLoc, req.MinActiveTxnID)
		if errLog != nil {
			return nil, errLog
		}
		vacuumedFiles += logFiles
		vacuumedFileSize += logSize
	}
	return &lakev1.VacuumResponse{
		VacuumedFiles:    vacuumedFiles,
		VacuumedFileSize: vacuumedFileSize,
		VacuumedVersion:  counters.version,
		ExtraFileSize:    extraFileSize,
		TabletInfos:      tabletInfos,
	}, nil
}

// VacuumFull is not implemented.
func VacuumFull(_ context.Context, _ *tablet.Manager, _ *lakev1.VacuumFullRequest) (*lakev1.VacuumFullResponse, error) {
	return nil, errors.Wrap(status.ErrNotSupported, "vacuum_full not implemented yet")
}
