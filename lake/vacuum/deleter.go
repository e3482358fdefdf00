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

	"github.com/cloudlake-db/cloudlake/pkg/fs/remote"
)

// doDeleteFiles batch-deletes paths through the store, honoring the
// configured batch size, throttle and retry policy.
func doDeleteFiles(ctx context.Context, store remote.FS, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	cfg := config()
	l := log()

	deleteSingleBatch := func(batch []string) error {
		if wait := cfg.ExperimentalWaitPerDeleteMS; wait > 0 {
			select {
			case <-time.After(time.Duration(wait) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if cfg.PrintDeleteLog {
			for i, p := range batch {
				l.Info().Msgf("deleting %s (%d/%d)", p, i+1, len(batch))
			}
		}
		t0 := time.Now()
		if err := deleteFilesWithRetry(ctx, store, batch); err != nil {
			l.Warn().Err(err).Msg("failed to delete batch")
			return err
		}
		if e := l.Debug(); e.Enabled() {
			e.Int("files", len(batch)).Dur("cost", time.Since(t0)).Msg("deleted batch")
		}
		return nil
	}

	batchSize := int(cfg.MinBatchDeleteSize)
	if batchSize <= 0 {
		batchSize = 1
	}
	for begin := 0; begin < len(paths); begin += batchSize {
		end := begin + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		if err := deleteSingleBatch(paths[begin:end]); err != nil {
			return err
		}
	}
	return nil
}

// deleteCallback is invoked synchronously right before a batch is submitted.
// Metadata deleters use it to drop metacache entries, so no cache entry
// outlives the delete call.
type deleteCallback func(paths []string)

// asyncFileDeleter accumulates paths into batches and dispatches them to the
// shared deletion pool, keeping at most one batch in flight. A failure of the
// previous batch surfaces at the next deleteFile or at finish; no further
// batches are submitted after a failure.
type asyncFileDeleter struct {
	store       remote.FS
	prev        <-chan error
	err         error
	cb          deleteCallback
	batch       []string
	batchSize   int64
	deleteCount int64
}

func newAsyncFileDeleter(store remote.FS, batchSize int64) *asyncFileDeleter {
	return &asyncFileDeleter{store: store, batchSize: batchSize}
}

func newAsyncFileDeleterWithCallback(store remote.FS, batchSize int64, cb deleteCallback) *asyncFileDeleter {
	return &asyncFileDeleter{store: store, batchSize: batchSize, cb: cb}
}

func (d *asyncFileDeleter) deleteFile(ctx context.Context, path string) error {
	d.batch = append(d.batch, path)
	if int64(len(d.batch)) < d.batchSize {
		return nil
	}
	return d.submit(ctx)
}

func (d *asyncFileDeleter) finish(ctx context.Context) error {
	if len(d.batch) > 0 {
		if err := d.submit(ctx); err != nil {
			return err
		}
	}
	return d.wait()
}

func (d *asyncFileDeleter) count() int64 {
	return d.deleteCount
}

// wait blocks on the in-flight batch, if any, and consumes its result. A
// failure is kept and returned by every later call.
func (d *asyncFileDeleter) wait() error {
	if d.prev != nil {
		d.err = <-d.prev
		d.prev = nil
	}
	return d.err
}

// submit awaits the previous batch, then dispatches the current one.
func (d *asyncFileDeleter) submit(ctx context.Context) error {
	if err := d.wait(); err != nil {
		return err
	}
	d.deleteCount += int64(len(d.batch))
	if d.cb != nil {
		d.cb(d.batch)
	}
	d.prev = deleteFilesCallable(ctx, d.store, d.batch)
	d.batch = nil
	return nil
}

// bundleFileDeleter defers deletion of files shared across tablets. Planning
// only records them; finish deletes the pending files that no retained
// snapshot still references.
type bundleFileDeleter struct {
	inner   *asyncFileDeleter
	pending map[string]uint32
	delayed map[string]struct{}
}

func newBundleFileDeleter(store remote.FS, batchSize int64) *bundleFileDeleter {
	return &bundleFileDeleter{
		inner:   newAsyncFileDeleter(store, batchSize),
		pending: make(map[string]uint32),
		delayed: make(map[string]struct{}),
	}
}

// deleteFile records a bundle file that would be deleted, counting how many
// tablets proposed it.
func (d *bundleFileDeleter) deleteFile(path string) {
	d.pending[path]++
}

// delayDelete marks a bundle file as referenced by a retained snapshot.
func (d *bundleFileDeleter) delayDelete(path string) {
	d.delayed[path] = struct{}{}
}

func (d *bundleFileDeleter) empty() bool {
	return len(d.pending) == 0
}

func (d *bundleFileDeleter) finish(ctx context.Context) error {
	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		if _, ok := d.delayed[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	cfg := config()
	for _, p := range paths {
		if cfg.PrintDeleteLog {
			log().Info().Uint32("refs", d.pending[p]).Msgf("deleting bundle file %s", p)
		}
		if err := d.inner.deleteFile(ctx, p); err != nil {
			return err
		}
	}
	return d.inner.finish(ctx)
}

func (d *bundleFileDeleter) count() int64 {
	return d.inner.count()
}
