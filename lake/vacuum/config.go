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
	"sync/atomic"

	"github.com/spf13/pflag"
)

// Config carries the vacuum tunables.
type Config struct {
	// RetryPattern is a wildcard allowlist matched against error messages to
	// decide whether a failed deletion is transient. Vendor-specific
	// transient error strings can be tolerated without code changes.
	RetryPattern string
	// RetryMaxAttempts caps how many times one deletion batch is retried.
	RetryMaxAttempts int64
	// RetryMinDelayMS is the base backoff; the delay doubles per attempt.
	RetryMinDelayMS int64
	// MinBatchDeleteSize is the number of paths accumulated before a batch
	// is dispatched to the store.
	MinBatchDeleteSize int64
	// ExperimentalWaitPerDeleteMS inserts an artificial pause before each
	// batch, throttling the deletion rate.
	ExperimentalWaitPerDeleteMS int64
	// DeleteWorkers sizes the shared pool executing deletion batches.
	DeleteWorkers int
	// PrintDeleteLog logs every deleted path.
	PrintDeleteLog bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RetryPattern:       "*request rate*",
		RetryMaxAttempts:   5,
		RetryMinDelayMS:    100,
		MinBatchDeleteSize: 100,
		DeleteWorkers:      4,
	}
}

var globalConfig atomic.Pointer[Config]

func init() {
	cfg := DefaultConfig()
	globalConfig.Store(&cfg)
}

// SetConfig replaces the package configuration.
func SetConfig(cfg Config) {
	if cfg.MinBatchDeleteSize <= 0 {
		cfg.MinBatchDeleteSize = 1
	}
	globalConfig.Store(&cfg)
}

func config() *Config {
	return globalConfig.Load()
}

// Flags registers the vacuum tunables on fs, mutating cfg when parsed.
func (c *Config) Flags(fs *pflag.FlagSet) {
	fs.Int64Var(&c.RetryMaxAttempts, "lake-vacuum-retry-max-attempts", c.RetryMaxAttempts,
		"Max retry attempts for one deletion batch")
	fs.StringVar(&c.RetryPattern, "lake-vacuum-retry-pattern", c.RetryPattern,
		"Wildcard pattern matched against error messages to retry on")
	fs.Int64Var(&c.RetryMinDelayMS, "lake-vacuum-retry-min-delay-ms", c.RetryMinDelayMS,
		"Base retry backoff in milliseconds, doubled per attempt")
	fs.Int64Var(&c.MinBatchDeleteSize, "lake-vacuum-min-batch-delete-size", c.MinBatchDeleteSize,
		"Number of paths accumulated before dispatching a deletion batch")
	fs.Int64Var(&c.ExperimentalWaitPerDeleteMS, "experimental-lake-wait-per-delete-ms", c.ExperimentalWaitPerDeleteMS,
		"Artificial pause before each deletion batch in milliseconds")
	fs.BoolVar(&c.PrintDeleteLog, "lake-print-delete-log", c.PrintDeleteLog,
		"Log every deleted path")
}
