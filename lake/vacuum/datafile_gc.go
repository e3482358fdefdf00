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
	"time"

	"github.com/pkg/errors"

	"github.com/cloudlake-db/cloudlake/lake/tablet"
	"github.com/cloudlake-db/cloudlake/pkg/fs/remote"
	"github.com/cloudlake-db/cloudlake/pkg/status"
)

// listDataFiles returns the segment and SSTable files under segmentRoot whose
// modification time is at least expiredSeconds in the past. Files without a
// reported mtime are skipped; a too-young file may simply be an in-flight
// write whose metadata has not landed yet.
func listDataFiles(ctx context.Context, store remote.FS, segmentRoot string, expiredSeconds int64) (map[string]remote.DirEntry, error) {
	l := log()
	l.Info().Msgf("start to list %s", segmentRoot)
	dataFiles := make(map[string]remote.DirEntry)
	var totalFiles, totalBytes int64
	now := time.Now().Unix()
	err := status.IgnoreNotFound(store.IterateEntries(ctx, segmentRoot, func(entry remote.DirEntry) bool {
		totalFiles++
		if entry.Size > 0 {
			totalBytes += entry.Size
		}
		if !tablet.IsSegment(entry.Name) && !tablet.IsSST(entry.Name) {
			return true
		}
		if entry.Mtime == 0 {
			l.Warn().Msgf("failed to get modified time of %s", entry.Name)
			return true
		}
		if now >= entry.Mtime+expiredSeconds {
			dataFiles[entry.Name] = entry
		}
		return true
	}))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", segmentRoot)
	}
	l.Info().Int64("total_files", totalFiles).Int64("total_bytes", totalBytes).
		Int("candidates", len(dataFiles)).Msg("listed all data files")
	return dataFiles, nil
}

func listMetaFiles(ctx context.Context, store remote.FS, metadataRoot string) ([]string, error) {
	l := log()
	l.Info().Msgf("start to list %s", metadataRoot)
	var metaFiles []string
	err := status.IgnoreNotFound(store.Iterate(ctx, metadataRoot, func(name string) bool {
		if tablet.IsTabletMetadata(name) {
			metaFiles = append(metaFiles, name)
		}
		return true
	}))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", metadataRoot)
	}
	l.Info().Msgf("found %d meta files", len(metaFiles))
	return metaFiles, nil
}

// findOrphanDataFiles reconciles the aged data files of one partition against
// every metadata snapshot still present: whatever no snapshot references is an
// orphan. A candidate that is also referenced indicates an inconsistent
// listing and aborts the partition.
func findOrphanDataFiles(ctx context.Context, store remote.FS, rootLocation string, expiredSeconds int64) (map[string]remote.DirEntry, error) {
	metadataRoot := tablet.JoinPath(rootLocation, tablet.MetadataDirName)
	segmentRoot := tablet.JoinPath(rootLocation, tablet.SegmentDirName)
	l := log()

	dataFiles, err := listDataFiles(ctx, store, segmentRoot, expiredSeconds)
	if err != nil {
		return nil, err
	}
	if len(dataFiles) == 0 {
		return dataFiles, nil
	}

	metaFiles, err := listMetaFiles(ctx, store, metadataRoot)
	if err != nil {
		return nil, err
	}

	dataFilesInMetadata := make(map[string]struct{})
	checkRowset := func(rowset *tablet.Rowset) {
		for _, segment := range rowset.Segments {
			delete(dataFiles, segment)
			dataFilesInMetadata[segment] = struct{}{}
		}
	}

	l.Info().Msgf("start to filter with metadatas, count: %d", len(metaFiles))
	for progress, name := range metaFiles {
		location := tablet.JoinPath(metadataRoot, name)
		md, errLoad := tablet.LoadTabletMetadata(ctx, store, location)
		if status.IsNotFound(errLoad) {
			// Deleted by another node between listing and loading.
			l.Info().Msgf("%s is deleted by other node", location)
			continue
		} else if errLoad != nil {
			l.Warn().Err(errLoad).Msgf("failed to get meta file %s", location)
			continue
		}
		for i := range md.Rowsets {
			checkRowset(&md.Rowsets[i])
		}
		if md.SstableMeta != nil {
			for _, sst := range md.SstableMeta.Sstables {
				delete(dataFiles, sst.Filename)
				dataFilesInMetadata[sst.Filename] = struct{}{}
			}
		}
		l.Info().Msgf("filtered with meta file: %s (%d/%d)", name, progress+1, len(metaFiles))
	}

	l.Info().Msg("start to double checking")
	for name := range dataFiles {
		if _, referenced := dataFilesInMetadata[name]; referenced {
			l.Warn().Msgf("failed to do double checking, file: %s", name)
			return nil, errors.Wrapf(status.ErrCorruption, "orphan candidate %s is referenced by metadata", name)
		}
	}
	l.Info().Msgf("succeed to do double checking, found %d orphan files", len(dataFiles))

	return dataFiles, nil
}

// partitionDatafileGC runs an orphan pass over one partition root. Returns the
// orphan count and byte total; files are deleted only when doDelete is set.
func partitionDatafileGC(ctx context.Context, store remote.FS, rootLocation string, expiredSeconds int64, doDelete bool) (int64, int64, error) {
	l := log()
	l.Info().Msgf("start to clean partition root location: %s", rootLocation)
	orphanDataFiles, err := findOrphanDataFiles(ctx, store, rootLocation, expiredSeconds)
	if err != nil {
		return 0, 0, err
	}

	segmentRoot := tablet.JoinPath(rootLocation, tablet.SegmentDirName)
	filesToDelete := make([]string, 0, len(orphanDataFiles))
	transactionIDs := make(map[int64]struct{})
	var bytesToDelete int64
	names := make([]string, 0, len(orphanDataFiles))
	for name := range orphanDataFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for progress, name := range names {
		entry := orphanDataFiles[name]
		filesToDelete = append(filesToDelete, tablet.JoinPath(segmentRoot, name))
		if txnID, ok := tablet.ExtractTxnIDPrefix(name); ok {
			transactionIDs[txnID] = struct{}{}
		}
		if entry.Size > 0 {
			bytesToDelete += entry.Size
		}
		l.Info().Msgf("(%d/%d) %s, size: %d, mtime: %s", progress+1, len(names), name,
			entry.Size, time.Unix(entry.Mtime, 0).Format(time.DateTime))
	}
	l.Info().Int("orphan_files", len(names)).Int64("total_size", bytesToDelete).
		Int("transaction_ids", len(transactionIDs)).Msg("orphan summary")

	if !doDelete {
		return int64(len(orphanDataFiles)), bytesToDelete, nil
	}

	l.Info().Msgf("start to delete orphan data files: %d, total size: %d", len(names), bytesToDelete)
	if err := doDeleteFiles(ctx, store, filesToDelete); err != nil {
		return 0, 0, err
	}
	return int64(len(orphanDataFiles)), bytesToDelete, nil
}

// pathDatafileGC descends from rootLocation until it finds a partition layout
// (a child named segment, meta or txnlog), then runs the partition pass there.
func pathDatafileGC(ctx context.Context, store remote.FS, rootLocation string, expiredSeconds int64, doDelete bool) (int64, int64, error) {
	var files, bytes int64
	var innerErr error
	err := status.IgnoreNotFound(store.IterateEntries(ctx, rootLocation, func(entry remote.DirEntry) bool {
		if !entry.IsDir {
			return true
		}
		if entry.Name == tablet.SegmentDirName || entry.Name == tablet.MetadataDirName || entry.Name == tablet.TxnLogDirName {
			f, b, errGC := partitionDatafileGC(ctx, store, rootLocation, expiredSeconds, doDelete)
			if errGC != nil {
				innerErr = errGC
				log().Warn().Err(errGC).Msgf("failed to gc %s", rootLocation)
				return false
			}
			files += f
			bytes += b
			return false
		}
		f, b, errGC := pathDatafileGC(ctx, store, tablet.JoinPath(rootLocation, entry.Name), expiredSeconds, doDelete)
		if errGC != nil {
			innerErr = errGC
			log().Warn().Err(errGC).Msgf("failed to gc %s", rootLocation)
			return false
		}
		files += f
		bytes += b
		return true
	}))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to list %s", rootLocation)
	}
	if innerErr != nil {
		return 0, 0, innerErr
	}
	return files, bytes, nil
}

// DatafileGC scans the subtree under rootLocation for data files referenced
// by no metadata and older than expiredSeconds, deleting them when doDelete
// is set. Returns the orphan count and byte total.
func DatafileGC(ctx context.Context, store remote.FS, rootLocation string, expiredSeconds int64, doDelete bool) (int64, int64, error) {
	files, bytes, err := pathDatafileGC(ctx, store, rootLocation, expiredSeconds, doDelete)
	if err != nil {
		log().Warn().Err(err).Msgf("failed to gc %s", rootLocation)
		return 0, 0, err
	}
	log().Info().Msgf("finished to gc: %s, total orphan data files: %d, total size: %d", rootLocation, files, bytes)
	return files, bytes, nil
}
