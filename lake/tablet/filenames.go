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
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Directory layout under a tablet root.
const (
	MetadataDirName = "meta"
	SegmentDirName  = "segment"
	TxnLogDirName   = "txnlog"
)

const (
	metadataSuffix       = ".meta"
	txnLogSuffix         = ".log"
	txnSlogSuffix        = ".slog"
	txnVlogSuffix        = ".vlog"
	combinedTxnLogSuffix = ".logs"
	segmentSuffix        = ".dat"
	sstSuffix            = ".sst"
	delvecSuffix         = ".delvec"

	hexWidth = 16
)

// JoinPath joins a directory and a child name without collapsing URL schemes.
func JoinPath(parent, child string) string {
	return strings.TrimSuffix(parent, "/") + "/" + child
}

func formatID2(a uint64, b int64, suffix string) string {
	return fmt.Sprintf("%016X_%016X%s", a, b, suffix)
}

// parseID2 parses "XXXXXXXXXXXXXXXX_YYYYYYYYYYYYYYYY<suffix>" names.
func parseID2(name, suffix string) (uint64, int64, bool) {
	base := strings.TrimSuffix(name, suffix)
	if len(base) == len(name) || len(base) != hexWidth*2+1 || base[hexWidth] != '_' {
		return 0, 0, false
	}
	first, err := strconv.ParseUint(base[:hexWidth], 16, 64)
	if err != nil {
		return 0, 0, false
	}
	second, err := strconv.ParseUint(base[hexWidth+1:], 16, 64)
	if err != nil {
		return 0, 0, false
	}
	return first, int64(second), true
}

// TabletMetadataFilename returns the metadata file name of one tablet version.
// Bundled partition-level metadata uses tablet id 0.
func TabletMetadataFilename(tabletID uint64, version int64) string {
	return formatID2(tabletID, version, metadataSuffix)
}

// IsTabletMetadata reports whether name is a tablet metadata file name.
func IsTabletMetadata(name string) bool {
	_, _, ok := parseID2(name, metadataSuffix)
	return ok
}

// ParseTabletMetadataFilename extracts (tablet id, version) from a metadata file name.
func ParseTabletMetadataFilename(name string) (tabletID uint64, version int64, ok bool) {
	return parseID2(name, metadataSuffix)
}

// TxnLogFilename returns the write-transaction log name of one tablet.
func TxnLogFilename(tabletID uint64, txnID int64) string {
	return formatID2(tabletID, txnID, txnLogSuffix)
}

// IsTxnLog reports whether name is a txn log file name.
func IsTxnLog(name string) bool {
	_, _, ok := parseID2(name, txnLogSuffix)
	return ok
}

// ParseTxnLogFilename extracts (tablet id, txn id) from a txn log name.
func ParseTxnLogFilename(name string) (tabletID uint64, txnID int64, ok bool) {
	return parseID2(name, txnLogSuffix)
}

// TxnSlogFilename returns the slog name of one tablet.
func TxnSlogFilename(tabletID uint64, txnID int64) string {
	return formatID2(tabletID, txnID, txnSlogSuffix)
}

// IsTxnSlog reports whether name is a txn slog file name.
func IsTxnSlog(name string) bool {
	_, _, ok := parseID2(name, txnSlogSuffix)
	return ok
}

// ParseTxnSlogFilename extracts (tablet id, txn id) from a txn slog name.
func ParseTxnSlogFilename(name string) (tabletID uint64, txnID int64, ok bool) {
	return parseID2(name, txnSlogSuffix)
}

// TxnVlogFilename returns the version log name of one tablet.
func TxnVlogFilename(tabletID uint64, version int64) string {
	return formatID2(tabletID, version, txnVlogSuffix)
}

// IsTxnVlog reports whether name is a txn vlog file name.
func IsTxnVlog(name string) bool {
	_, _, ok := parseID2(name, txnVlogSuffix)
	return ok
}

// ParseTxnVlogFilename extracts (tablet id, version) from a txn vlog name.
func ParseTxnVlogFilename(name string) (tabletID uint64, version int64, ok bool) {
	return parseID2(name, txnVlogSuffix)
}

// CombinedTxnLogFilename returns the partition-wide combined txn log name.
func CombinedTxnLogFilename(txnID int64) string {
	return fmt.Sprintf("%016X%s", uint64(txnID), combinedTxnLogSuffix)
}

// IsCombinedTxnLog reports whether name is a combined txn log file name.
func IsCombinedTxnLog(name string) bool {
	_, ok := ParseCombinedTxnLogFilename(name)
	return ok
}

// ParseCombinedTxnLogFilename extracts the txn id from a combined txn log name.
func ParseCombinedTxnLogFilename(name string) (int64, bool) {
	base := strings.TrimSuffix(name, combinedTxnLogSuffix)
	if len(base) == len(name) || len(base) != hexWidth {
		return 0, false
	}
	id, err := strconv.ParseUint(base, 16, 64)
	if err != nil {
		return 0, false
	}
	return int64(id), true
}

// IsSegment reports whether name is a data segment file name.
func IsSegment(name string) bool {
	return strings.HasSuffix(name, segmentSuffix)
}

// IsSST reports whether name is a persistent index SSTable file name.
func IsSST(name string) bool {
	return strings.HasSuffix(name, sstSuffix)
}

// IsDelvec reports whether name is a delete-vector file name.
func IsDelvec(name string) bool {
	return strings.HasSuffix(name, delvecSuffix)
}

// GenSegmentFilename generates a fresh segment file name whose prefix records
// the transaction that produced it.
func GenSegmentFilename(txnID int64) string {
	return fmt.Sprintf("%016X_%s%s", uint64(txnID), uuid.NewString(), segmentSuffix)
}

// ExtractTxnIDPrefix extracts the producing transaction id from a segment or
// SSTable file name.
func ExtractTxnIDPrefix(name string) (int64, bool) {
	if len(name) <= hexWidth || name[hexWidth] != '_' {
		return 0, false
	}
	id, err := strconv.ParseUint(name[:hexWidth], 16, 64)
	if err != nil {
		return 0, false
	}
	return int64(id), true
}
