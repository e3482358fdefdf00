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
	"strings"
	"time"

	"github.com/cloudlake-db/cloudlake/pkg/fs/remote"
	"github.com/cloudlake-db/cloudlake/pkg/status"
)

// shouldRetry classifies err as transient: either the store reported
// resource-busy, or the message matches the configured wildcard pattern.
func shouldRetry(err error, attemptedRetries int64) bool {
	if attemptedRetries >= config().RetryMaxAttempts {
		return false
	}
	if status.IsResourceBusy(err) {
		return true
	}
	return matchPattern(err.Error(), config().RetryPattern)
}

// retryDelay doubles the configured base delay per attempted retry.
func retryDelay(attemptedRetries int64) time.Duration {
	minDelay := config().RetryMinDelayMS
	return time.Duration(minDelay<<attemptedRetries) * time.Millisecond
}

// matchPattern matches s against a wildcard pattern where '*' spans any run
// of characters, including the empty one.
func matchPattern(s, pattern string) bool {
	if pattern == "" {
		return false
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

// deleteFilesWithRetry drives one batch through the store, retrying transient
// failures with exponential backoff up to the configured cap.
func deleteFilesWithRetry(ctx context.Context, store remote.FS, paths []string) error {
	for attemptedRetries := int64(0); ; attemptedRetries++ {
		err := store.DeleteFiles(ctx, paths)
		if err == nil || !shouldRetry(err, attemptedRetries) {
			return err
		}
		delay := retryDelay(attemptedRetries)
		log().Warn().Err(err).Dur("delay", delay).Msg("failed to delete, will retry")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
