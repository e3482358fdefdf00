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

package timestamp

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudlake-db/cloudlake/pkg/logger"
)

func TestScheduleFires(t *testing.T) {
	mc := NewMockClock()
	mc.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	var fired atomic.Int64
	sched, err := NewSchedule(logger.GetLogger("test"), mc, "@every 1h",
		func(_ time.Time, _ *logger.Logger) error {
			fired.Add(1)
			return nil
		})
	require.NoError(t, err)
	sched.Start()
	defer sched.Stop()

	// Each poll advances the mock clock past the next firing point.
	require.Eventually(t, func() bool {
		mc.Add(time.Hour)
		return fired.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduleStopIdempotent(t *testing.T) {
	sched, err := NewSchedule(logger.GetLogger("test"), NewClock(), "@daily",
		func(_ time.Time, _ *logger.Logger) error { return nil })
	require.NoError(t, err)

	sched.Start()
	// Starting a running schedule is a no-op.
	sched.Start()
	sched.Stop()
	// A second stop must not panic or block.
	sched.Stop()
}

func TestNewScheduleRejectsBadExpressions(t *testing.T) {
	_, err := NewSchedule(logger.GetLogger("test"), NewClock(), "",
		func(_ time.Time, _ *logger.Logger) error { return nil })
	assert.Error(t, err)

	_, err = NewSchedule(logger.GetLogger("test"), NewClock(), "not-a-schedule",
		func(_ time.Time, _ *logger.Logger) error { return nil })
	assert.Error(t, err)
}
