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

package supervisor

import (
	"testing"

	"github.com/cortexdb/postmaster/internal/lifecycle"
	"github.com/stretchr/testify/require"
)

func TestBootSequence(t *testing.T) {
	m := NewMachine(false)
	require.Equal(t, lifecycle.Init, m.State)

	require.NoError(t, m.OnSharedMemoryReady())
	require.Equal(t, lifecycle.Startup, m.State)

	require.NoError(t, m.OnRecoveryStarted())
	require.Equal(t, lifecycle.Recovery, m.State)

	require.NoError(t, m.OnBeginHotStandby())
	require.Equal(t, lifecycle.HotStandby, m.State)

	require.NoError(t, m.OnStartupExited(true))
	require.Equal(t, lifecycle.Run, m.State)
}

func TestNoTransitionIsInvariantViolation(t *testing.T) {
	m := NewMachine(false)
	err := m.OnBeginHotStandby()
	require.Error(t, err)
}

func TestStartupCrashDuringStartupIsCatastrophic(t *testing.T) {
	m := NewMachine(false)
	require.NoError(t, m.OnSharedMemoryReady())
	err := m.OnStartupExited(false)
	require.Error(t, err)
}

func TestStartupCrashDuringRecoveryResetsViaWaitBackends(t *testing.T) {
	m := NewMachine(false)
	require.NoError(t, m.OnSharedMemoryReady())
	require.NoError(t, m.OnRecoveryStarted())

	require.NoError(t, m.OnStartupExited(false))
	require.Equal(t, lifecycle.WaitBackends, m.State)
	require.True(t, m.FatalError)
}

func TestSmartShutdownWaitsForSessionsThenStopBackends(t *testing.T) {
	m := NewMachine(false)
	m.State = lifecycle.Run
	m.RequestShutdown(lifecycle.ShutdownSmart)
	require.NoError(t, m.OnShutdownRequested())
	require.Equal(t, lifecycle.Run, m.State)
	require.False(t, m.ConnsAllowed)

	require.NoError(t, m.OnSessionCountZero())
	require.Equal(t, lifecycle.StopBackends, m.State)
}

func TestFastShutdownGoesStraightToStopBackends(t *testing.T) {
	m := NewMachine(false)
	m.State = lifecycle.Run
	m.RequestShutdown(lifecycle.ShutdownFast)
	require.NoError(t, m.OnShutdownRequested())
	require.Equal(t, lifecycle.StopBackends, m.State)
}

func TestShutdownModeEscalationWins(t *testing.T) {
	m := NewMachine(false)
	m.RequestShutdown(lifecycle.ShutdownSmart)
	m.RequestShutdown(lifecycle.ShutdownFast)
	m.RequestShutdown(lifecycle.ShutdownSmart)
	require.Equal(t, lifecycle.ShutdownFast, m.ShutdownMode)
}

func TestFullShutdownSequence(t *testing.T) {
	m := NewMachine(false)
	m.State = lifecycle.StopBackends
	m.RequestShutdown(lifecycle.ShutdownFast)

	require.NoError(t, m.OnStopBackendsSent())
	require.Equal(t, lifecycle.WaitBackends, m.State)

	require.NoError(t, m.OnOrdinaryChildrenGone())
	require.Equal(t, lifecycle.Shutdown, m.State)

	require.NoError(t, m.OnCheckpointerExited(true))
	require.Equal(t, lifecycle.Shutdown2, m.State)

	require.NoError(t, m.OnWalSendersAndArchiverGone())
	require.Equal(t, lifecycle.WaitDeadEnd, m.State)

	require.NoError(t, m.OnRegistryEmpty())
	require.Equal(t, lifecycle.NoChildren, m.State)

	outcome, status := m.Resolve()
	require.Equal(t, OutcomeExit, outcome)
	require.Equal(t, 0, status)
}

func TestImmediateShutdownSkipsCheckpointToWaitDeadEnd(t *testing.T) {
	m := NewMachine(false)
	m.State = lifecycle.WaitBackends
	m.RequestShutdown(lifecycle.ShutdownImmediate)

	require.NoError(t, m.OnOrdinaryChildrenGone())
	require.Equal(t, lifecycle.WaitDeadEnd, m.State)
}

func TestResolveRestartsAfterCrashWhenEnabled(t *testing.T) {
	m := NewMachine(true)
	m.State = lifecycle.NoChildren
	m.FatalError = true

	outcome, _ := m.Resolve()
	require.Equal(t, OutcomeRestart, outcome)

	m.RestartTransition()
	require.Equal(t, lifecycle.Startup, m.State)
	require.False(t, m.FatalError)
}

func TestResolveExitsAbnormallyWithoutRestart(t *testing.T) {
	m := NewMachine(false)
	m.State = lifecycle.NoChildren
	m.FatalError = true

	outcome, status := m.Resolve()
	require.Equal(t, OutcomeExit, outcome)
	require.Equal(t, 1, status)
}
