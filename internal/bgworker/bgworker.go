// Copyright 2020 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bgworker implements the Background-Worker Scheduler (spec.md
// §4.8): user-registered workers the supervisor launches on a predicate and
// restarts on a throttled interval.
package bgworker

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/cortexdb/postmaster/internal/lifecycle"
)

// StartPredicate says when a registered worker is eligible to (re)start.
type StartPredicate int

const (
	AtSupervisorStart StartPredicate = iota
	AtConsistentState
	AtEndOfRecovery
)

// satisfiedBy reports whether the predicate is met in the current state.
// AtSupervisorStart is satisfied in every state; AtConsistentState only in
// HotStandby and Run; AtEndOfRecovery only in Run. None of the shutdown
// states (StopBackends onward) satisfies AtConsistentState or
// AtEndOfRecovery.
func (p StartPredicate) satisfiedBy(s lifecycle.State) bool {
	switch p {
	case AtSupervisorStart:
		return true
	case AtConsistentState:
		return s == lifecycle.HotStandby || s == lifecycle.Run
	case AtEndOfRecovery:
		return s == lifecycle.Run
	default:
		return false
	}
}

// Registration is one bgworker's static configuration, supplied once by the
// registrant (spec.md §4.8).
type Registration struct {
	Name      string
	Predicate StartPredicate
	// NeverRestart, when true, means a crash removes the entry instead of
	// scheduling a restart.
	NeverRestart bool
	// RestartInterval is ignored when NeverRestart is set.
	RestartInterval time.Duration

	// Notify, if non-nil, is called once when a NeverRestart worker's entry
	// is removed after it exits (spec.md §4.8 step 2's "notify the
	// registrant").
	Notify func(entry *Entry)
}

// Entry is one live scheduling slot: a Registration plus its runtime state.
type Entry struct {
	Registration
	Pid         int
	Terminate   bool
	crashedAt   time.Time
	hasCrashed  bool
	backoffIter backoff.BackOff
}

func newEntry(reg Registration) *Entry {
	e := &Entry{Registration: reg}
	if reg.NeverRestart {
		e.backoffIter = &backoff.StopBackOff{}
	} else {
		cb := backoff.NewConstantBackOff(reg.RestartInterval)
		e.backoffIter = cb
	}
	return e
}

// readyAt returns when e may next be (re)started following its last crash,
// using backoff purely for the duration arithmetic spec.md §4.8's "t +
// interval" rule needs — not its retry-loop semantics.
func (e *Entry) readyAt() (t time.Time, never bool) {
	if !e.hasCrashed {
		return time.Time{}, false
	}
	d := e.backoffIter.NextBackOff()
	if d == backoff.Stop {
		return time.Time{}, true
	}
	return e.crashedAt.Add(d), false
}

// LaunchFunc starts a worker and returns its pid.
type LaunchFunc func(reg Registration) (pid int, err error)

// Scheduler holds every registered bgworker.
type Scheduler struct {
	entries []*Entry
	launch  LaunchFunc
}

// New creates a Scheduler that uses launch to start workers.
func New(launch LaunchFunc) *Scheduler {
	return &Scheduler{launch: launch}
}

// Register adds a bgworker entry. Valid only before the first Pass.
func (s *Scheduler) Register(reg Registration) *Entry {
	e := newEntry(reg)
	s.entries = append(s.entries, e)
	return e
}

// NotifyCrash records that entry's worker just exited abnormally, arming
// its restart-interval clock.
func (s *Scheduler) NotifyCrash(entry *Entry, when time.Time) {
	entry.Pid = 0
	entry.hasCrashed = true
	entry.crashedAt = when
}

// NotifyClean records that entry's worker exited 0; it is treated the same
// as a crash for restart-scheduling purposes, except workers that flagged
// Terminate are instead dropped on the next Pass.
func (s *Scheduler) NotifyClean(entry *Entry, when time.Time) {
	s.NotifyCrash(entry, when)
}

// maxLaunchesPerPass is spec.md §4.8 step 3's "up to 100 workers per pass"
// ceiling.
const maxLaunchesPerPass = 100

// PassResult reports what one scheduling pass did, feeding the event loop's
// sleep-budget computation (spec.md §4.4 step 1).
type PassResult struct {
	Launched   int
	HitCeiling bool
	// NextRestart is the earliest time a throttled entry becomes eligible,
	// zero if none are waiting.
	NextRestart time.Time
}

// Pass runs one scheduling pass over every entry, per spec.md §4.8's
// numbered steps.
func (s *Scheduler) Pass(now time.Time, state lifecycle.State) PassResult {
	var res PassResult
	live := s.entries[:0:0]
	live = append(live, s.entries...)

	remaining := live[:0]
	for _, e := range live {
		if e.Pid != 0 {
			remaining = append(remaining, e)
			continue
		}
		if e.Terminate {
			continue // dropped: cleanup per step 1.
		}

		readyAt, never := e.readyAt()
		if never {
			if e.Notify != nil {
				e.Notify(e)
			}
			continue
		}
		if e.hasCrashed && now.Before(readyAt) {
			if res.NextRestart.IsZero() || readyAt.Before(res.NextRestart) {
				res.NextRestart = readyAt
			}
			remaining = append(remaining, e)
			continue
		}

		if !e.Predicate.satisfiedBy(state) {
			remaining = append(remaining, e)
			continue
		}

		if res.Launched >= maxLaunchesPerPass {
			res.HitCeiling = true
			remaining = append(remaining, e)
			continue
		}

		pid, err := s.launch(e.Registration)
		if err != nil {
			// Leave it for the next pass; a launch failure is not a crash
			// and does not arm the restart-interval clock.
			remaining = append(remaining, e)
			continue
		}
		e.Pid = pid
		e.hasCrashed = false
		res.Launched++
		remaining = append(remaining, e)
	}
	s.entries = remaining
	return res
}

// SleepBudget implements spec.md §4.4 step 1 / §4.8's sleep-budget rule for
// the ordinary (non-shutdown, non-crash) case: zero if a pass reports work
// pending, else the shorter of the next restart deadline and 60 seconds.
func SleepBudget(now time.Time, res PassResult) time.Duration {
	if res.HitCeiling {
		return 0
	}
	if res.NextRestart.IsZero() {
		return 60 * time.Second
	}
	if d := res.NextRestart.Sub(now); d < 60*time.Second {
		if d < 0 {
			return 0
		}
		return d
	}
	return 60 * time.Second
}
