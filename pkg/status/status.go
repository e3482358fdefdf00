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

// Package status classifies errors crossing the storage boundary.
package status

import (
	"github.com/pkg/errors"
)

// Sentinel errors shared by the storage and vacuum layers. Callers wrap them
// with github.com/pkg/errors so the class survives annotation.
var (
	// ErrNotFound indicates a missing object or metadata version.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates a request that fails validation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrResourceBusy indicates a transient overload reported by the store.
	ErrResourceBusy = errors.New("resource busy")
	// ErrCorruption indicates inconsistent storage or metadata state.
	// Work on the affected partition must stop.
	ErrCorruption = errors.New("corruption detected")
	// ErrNotSupported indicates an operation that is not implemented.
	ErrNotSupported = errors.New("not supported")
)

// IsNotFound reports whether err is classified as not-found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidArgument reports whether err is classified as invalid-argument.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsResourceBusy reports whether err is classified as resource-busy.
func IsResourceBusy(err error) bool {
	return errors.Is(err, ErrResourceBusy)
}

// IsCorruption reports whether err is classified as a consistency violation.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// IgnoreNotFound maps a not-found error to nil, leaving other errors intact.
// Listing a directory that was never created is treated as listing an empty one.
func IgnoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}
