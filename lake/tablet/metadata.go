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

// Package tablet models tablet metadata snapshots and transaction logs stored
// in a shared object-store prefix, and caches their parsed forms.
package tablet

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/cloudlake-db/cloudlake/pkg/fs/remote"
)

// FileMeta names a file together with its size in bytes.
type FileMeta struct {
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

// Rowset is a set of data segments sharing one logical write or compaction.
// A non-empty BundleFileOffsets means the listed segments are bundle files
// shared with sibling tablets of the same partition, addressed by offset.
type Rowset struct {
	Segments          []string   `json:"segments,omitempty"`
	DelFiles          []FileMeta `json:"del_files,omitempty"`
	BundleFileOffsets []int64    `json:"bundle_file_offsets,omitempty"`
	ID                uint32     `json:"id,omitempty"`
	DataSize          int64      `json:"data_size,omitempty"`
}

// DelvecMeta maps versions to delete-vector files of the live state.
type DelvecMeta struct {
	VersionToFile map[int64]FileMeta `json:"version_to_file,omitempty"`
}

// Sstable names one persistent index SSTable.
type Sstable struct {
	Filename string `json:"filename"`
}

// SstableMeta lists the persistent index SSTables of the live state.
type SstableMeta struct {
	Sstables []Sstable `json:"sstables,omitempty"`
}

// TabletMetadata is one immutable snapshot of a tablet. Snapshots form a
// chain through PrevGarbageVersion, pointing at the previous snapshot that
// still recorded garbage; PrevGarbageVersion < Version always holds.
type TabletMetadata struct {
	DelvecMeta         *DelvecMeta  `json:"delvec_meta,omitempty"`
	SstableMeta        *SstableMeta `json:"sstable_meta,omitempty"`
	Rowsets            []Rowset     `json:"rowsets,omitempty"`
	CompactionInputs   []Rowset     `json:"compaction_inputs,omitempty"`
	OrphanFiles        []FileMeta   `json:"orphan_files,omitempty"`
	TabletID           uint64       `json:"tablet_id"`
	Version            int64        `json:"version"`
	CommitTime         int64        `json:"commit_time,omitempty"`
	PrevGarbageVersion int64        `json:"prev_garbage_version,omitempty"`
}

// OpWrite records the rowset and delete files produced by a write.
type OpWrite struct {
	Rowset Rowset   `json:"rowset"`
	Dels   []string `json:"dels,omitempty"`
}

// OpCompaction records the output of a compaction.
type OpCompaction struct {
	InputRowsets []uint32 `json:"input_rowsets,omitempty"`
	OutputRowset Rowset   `json:"output_rowset"`
}

// OpSchemaChange records the rowsets rewritten by a schema change.
type OpSchemaChange struct {
	Rowsets []Rowset `json:"rowsets,omitempty"`
}

// TxnLog is the uncommitted state of one transaction on one tablet.
type TxnLog struct {
	OpWrite        *OpWrite        `json:"op_write,omitempty"`
	OpCompaction   *OpCompaction   `json:"op_compaction,omitempty"`
	OpSchemaChange *OpSchemaChange `json:"op_schema_change,omitempty"`
	TabletID       uint64          `json:"tablet_id"`
	TxnID          int64           `json:"txn_id"`
}

func loadJSON(ctx context.Context, store remote.FS, path string, v any) error {
	r, err := store.Download(ctx, path)
	if err != nil {
		return err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

func saveJSON(ctx context.Context, store remote.FS, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Upload(ctx, path, bytes.NewReader(data))
}

// LoadTabletMetadata reads and decodes one metadata snapshot by full path.
func LoadTabletMetadata(ctx context.Context, store remote.FS, path string) (*TabletMetadata, error) {
	md := new(TabletMetadata)
	if err := loadJSON(ctx, store, path, md); err != nil {
		return nil, err
	}
	return md, nil
}

// WriteTabletMetadata encodes and stores one metadata snapshot at path.
func WriteTabletMetadata(ctx context.Context, store remote.FS, path string, md *TabletMetadata) error {
	return saveJSON(ctx, store, path, md)
}

// LoadTxnLog reads and decodes one transaction log by full path.
func LoadTxnLog(ctx context.Context, store remote.FS, path string) (*TxnLog, error) {
	log := new(TxnLog)
	if err := loadJSON(ctx, store, path, log); err != nil {
		return nil, err
	}
	return log, nil
}

// WriteTxnLog encodes and stores one transaction log at path.
func WriteTxnLog(ctx context.Context, store remote.FS, path string, log *TxnLog) error {
	return saveJSON(ctx, store, path, log)
}
