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

package bgworker

import (
	"testing"
	"time"

	"github.com/cortexdb/postmaster/internal/lifecycle"
	"github.com/stretchr/testify/require"
)

func TestPassLaunchesEligibleEntries(t *testing.T) {
	launched := 0
	s := New(func(reg Registration) (int, error) {
		launched++
		return 1000 + launched, nil
	})
	s.Register(Registration{Name: "metrics_exporter", Predicate: AtSupervisorStart})

	res := s.Pass(time.Unix(0, 0), lifecycle.Init)
	require.Equal(t, 1, res.Launched)
	require.False(t, res.HitCeiling)
}

func TestPassSkipsAlreadyRunning(t *testing.T) {
	s := New(func(reg Registration) (int, error) { return 42, nil })
	e := s.Register(Registration{Name: "x", Predicate: AtSupervisorStart})
	e.Pid = 42

	res := s.Pass(time.Unix(0, 0), lifecycle.Init)
	require.Equal(t, 0, res.Launched)
}

func TestPassWaitsOutRestartInterval(t *testing.T) {
	s := New(func(reg Registration) (int, error) { return 99, nil })
	e := s.Register(Registration{Name: "x", Predicate: AtSupervisorStart, RestartInterval: time.Minute})

	start := time.Unix(1000, 0)
	s.NotifyCrash(e, start)

	res := s.Pass(start.Add(10*time.Second), lifecycle.Init)
	require.Equal(t, 0, res.Launched)
	require.False(t, res.NextRestart.IsZero())

	res = s.Pass(start.Add(61*time.Second), lifecycle.Init)
	require.Equal(t, 1, res.Launched)
}

func TestPassDropsNeverRestartAfterCrash(t *testing.T) {
	notified := false
	s := New(func(reg Registration) (int, error) { return 1, nil })
	e := s.Register(Registration{Name: "once", Predicate: AtSupervisorStart, NeverRestart: true, Notify: func(*Entry) { notified = true }})

	s.NotifyCrash(e, time.Unix(0, 0))
	res := s.Pass(time.Unix(1, 0), lifecycle.Init)
	require.Equal(t, 0, res.Launched)
	require.True(t, notified)
}

func TestPassRespectsPredicate(t *testing.T) {
	s := New(func(reg Registration) (int, error) { return 1, nil })
	s.Register(Registration{Name: "after-recovery", Predicate: AtEndOfRecovery})

	res := s.Pass(time.Unix(0, 0), lifecycle.HotStandby)
	require.Equal(t, 0, res.Launched)

	res = s.Pass(time.Unix(0, 0), lifecycle.Run)
	require.Equal(t, 1, res.Launched)
}

func TestPassStopsAtLaunchCeiling(t *testing.T) {
	s := New(func(reg Registration) (int, error) { return 1, nil })
	for i := 0; i < maxLaunchesPerPass+5; i++ {
		s.Register(Registration{Name: "w", Predicate: AtSupervisorStart})
	}

	res := s.Pass(time.Unix(0, 0), lifecycle.Init)
	require.Equal(t, maxLaunchesPerPass, res.Launched)
	require.True(t, res.HitCeiling)
}

func TestSleepBudget(t *testing.T) {
	now := time.Unix(0, 0)
	require.Equal(t, time.Duration(0), SleepBudget(now, PassResult{HitCeiling: true}))
	require.Equal(t, 60*time.Second, SleepBudget(now, PassResult{}))
	require.Equal(t, 10*time.Second, SleepBudget(now, PassResult{NextRestart: now.Add(10 * time.Second)}))
}
