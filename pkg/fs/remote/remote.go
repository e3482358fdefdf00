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

// Package remote provides an interface for interacting with shared object
// stores such as S3-compatible services and local file systems holding
// tablet data, metadata and transaction logs.
package remote

import (
	"context"
	"io"
)

// DirEntry describes one entry returned by a directory listing.
// Size is -1 and Mtime is 0 when the backing store does not report them.
type DirEntry struct {
	Name  string
	Size  int64
	Mtime int64
	IsDir bool
}

// FS defines the interface for interacting with an object store holding a
// tablet root. All paths are full paths in the store's own addressing scheme
// (a file path for local stores, "s3://bucket/key" for S3).
type FS interface {
	// Iterate lists the immediate children of dir and calls visit with each
	// name. Returning false from visit stops the listing early without error.
	// The local store reports a missing directory with an error satisfying
	// status.IsNotFound; the S3 store lists a missing prefix as empty.
	Iterate(ctx context.Context, dir string, visit func(name string) bool) error

	// IterateEntries is Iterate with per-entry size, mtime and kind.
	IterateEntries(ctx context.Context, dir string, visit func(entry DirEntry) bool) error

	// DeleteFiles removes a batch of objects. Deleting an object that does not
	// exist is not an error. The batch may be split into store-level pages.
	DeleteFiles(ctx context.Context, paths []string) error

	// Upload writes an object at the specified path, overwriting any
	// existing one.
	Upload(ctx context.Context, path string, data io.Reader) error

	// Download retrieves an object. The returned ReadCloser must be closed by
	// the caller after consumption.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Stat returns the entry for a single object.
	Stat(ctx context.Context, path string) (DirEntry, error)

	// Close releases any resources or connections associated with the store.
	Close() error
}
