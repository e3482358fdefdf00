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
	"sync"

	"github.com/cloudlake-db/cloudlake/pkg/fs/remote"
)

// The shared deletion pool. Submission blocks when all workers are busy and
// the queue is full, which backpressures planners onto the store's pace.
var (
	poolOnce  sync.Once
	poolTasks chan func()
)

func submitDeleteTask(task func()) {
	poolOnce.Do(func() {
		workers := config().DeleteWorkers
		if workers <= 0 {
			workers = 1
		}
		poolTasks = make(chan func(), workers)
		for i := 0; i < workers; i++ {
			go func() {
				for t := range poolTasks {
					t()
				}
			}()
		}
	})
	poolTasks <- task
}

// deleteFilesCallable schedules a batched deletion on the shared pool and
// returns a one-shot channel carrying its result.
func deleteFilesCallable(ctx context.Context, store remote.FS, paths []string) <-chan error {
	result := make(chan error, 1)
	if len(paths) == 0 {
		result <- nil
		return result
	}
	submitDeleteTask(func() {
		result <- doDeleteFiles(ctx, store, paths)
	})
	return result
}

// deleteFilesAsync schedules a fire-and-forget batched deletion.
func deleteFilesAsync(ctx context.Context, store remote.FS, paths []string) {
	if len(paths) == 0 {
		return
	}
	l := log()
	submitDeleteTask(func() {
		if err := doDeleteFiles(ctx, store, paths); err != nil {
			l.Error().Err(err).Msg("async deletion failed")
		}
	})
}

// RunClearTask runs an arbitrary cleanup task on the shared deletion pool.
func RunClearTask(task func()) {
	submitDeleteTask(task)
}
