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
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/cloudlake-db/cloudlake/pkg/logger"
)

// Action is one maintenance pass (a vacuum or an orphan scan). A returned
// error is logged; the schedule keeps firing regardless, since a failed pass
// leaves nothing worse than un-reclaimed garbage for the next one.
type Action func(now time.Time, l *logger.Logger) error

// Schedule fires one maintenance action on a cron cadence. Expressions use
// the descriptor form the CLI accepts (@daily, @hourly, @every <duration>).
// The zero cadence of this engine is coarse, so there is exactly one action
// per schedule and no registry: a process that vacuums several roots runs
// several schedules.
type Schedule struct {
	clock    Clock
	schedule cron.Schedule
	action   Action
	l        *logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopped  atomic.Bool
}

// NewSchedule parses expr and prepares a schedule for action. Start must be
// called to begin firing.
func NewSchedule(l *logger.Logger, clock Clock, expr string, action Action) (*Schedule, error) {
	if expr == "" {
		return nil, errors.New("empty schedule expression")
	}
	parser := cron.NewParser(cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse schedule %q", expr)
	}
	s := &Schedule{
		l:        l,
		clock:    clock,
		schedule: schedule,
		action:   action,
	}
	s.stopped.Store(true)
	return s, nil
}

// Start launches the firing loop. Starting a running schedule is a no-op.
func (s *Schedule) Start() {
	if !s.stopped.CompareAndSwap(true, false) {
		return
	}
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.run()
}

// Stop terminates the loop and waits for an in-flight action to finish.
// Idempotent.
func (s *Schedule) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return // already stopped
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Schedule) run() {
	defer s.wg.Done()
	now := s.clock.Now()
	s.l.Info().Time("now", now).Msg("schedule started")
	for {
		next := s.schedule.Next(now)
		timer := s.clock.Timer(next.Sub(now))
		select {
		case now = <-timer.C:
			if err := s.action(now, s.l); err != nil {
				s.l.Error().Err(err).Msg("scheduled maintenance failed")
			}
		case <-s.stopCh:
			timer.Stop()
			s.l.Info().Msg("schedule stopped")
			return
		}
	}
}
