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

// Package lakev1 defines the request and response types exchanged with the
// coordinator for lake vacuum and tablet deletion operations.
package lakev1

// TabletInfo is one request row. MinVersion is the lower bound already known
// vacuumed; it rises monotonically across successful vacuums.
type TabletInfo struct {
	TabletID   uint64 `json:"tablet_id"`
	MinVersion int64  `json:"min_version"`
}

// VacuumRequest asks for garbage collection of a tablet group sharing one
// partition root. TabletInfos is preferred; TabletIDs is kept for requests
// from older coordinators and is upgraded to infos with MinVersion 0.
type VacuumRequest struct {
	TabletIDs          []uint64     `json:"tablet_ids,omitempty"`
	TabletInfos        []TabletInfo `json:"tablet_infos,omitempty"`
	MinRetainVersion   int64        `json:"min_retain_version"`
	GraceTimestamp     int64        `json:"grace_timestamp"`
	MinActiveTxnID     int64        `json:"min_active_txn_id"`
	DeleteTxnLog       bool         `json:"delete_txn_log"`
	EnableFileBundling bool         `json:"enable_file_bundling"`
}

// VacuumResponse reports what was reclaimed. TabletInfos echoes the request
// rows with their MinVersion advanced to the new retention floor.
type VacuumResponse struct {
	TabletInfos      []TabletInfo `json:"tablet_infos,omitempty"`
	VacuumedFiles    int64        `json:"vacuumed_files"`
	VacuumedFileSize int64        `json:"vacuumed_file_size"`
	VacuumedVersion  int64        `json:"vacuumed_version"`
	ExtraFileSize    int64        `json:"extra_file_size"`
}

// VacuumFullRequest asks for a full vacuum. Not implemented.
type VacuumFullRequest struct {
	TabletIDs []uint64 `json:"tablet_ids,omitempty"`
}

// VacuumFullResponse is the reply to a VacuumFullRequest.
type VacuumFullResponse struct{}

// DeleteTabletRequest asks for a full purge of the listed tablets.
type DeleteTabletRequest struct {
	TabletIDs []uint64 `json:"tablet_ids"`
}

// TxnInfo identifies one transaction log to delete.
type TxnInfo struct {
	TxnID          int64 `json:"txn_id"`
	CombinedTxnLog bool  `json:"combined_txn_log"`
}

// DeleteTxnLogRequest asks for deletion of the cross product of TabletIDs
// with TxnIDs and TxnInfos. The coordinator sets only one of the two lists;
// both are iterated regardless.
type DeleteTxnLogRequest struct {
	TabletIDs []uint64  `json:"tablet_ids"`
	TxnIDs    []int64   `json:"txn_ids,omitempty"`
	TxnInfos  []TxnInfo `json:"txn_infos,omitempty"`
}
