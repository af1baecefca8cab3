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
	"time"

	"github.com/cortexdb/postmaster/internal/childkind"
	"github.com/cortexdb/postmaster/internal/lifecycle"
	"github.com/cortexdb/postmaster/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestCrashCascadeSetsFatalErrorAndDeadline(t *testing.T) {
	m := NewMachine(false)
	m.State = lifecycle.Run
	reg := registry.New()
	reg.Add(&registry.Record{Pid: 1, Kind: childkind.Session})

	c := &CrashCascade{Signal: KillWithQuit}
	now := time.Unix(1000, 0)
	require.NoError(t, c.Begin(m, reg, 99, now))

	require.True(t, m.FatalError)
	require.Equal(t, lifecycle.WaitBackends, m.State)
	require.Equal(t, now.Add(KillEscalationDelay), c.KillDeadline)
}

func TestCrashCascadeDoesNotOverrideImmediateShutdown(t *testing.T) {
	m := NewMachine(false)
	m.RequestShutdown(lifecycle.ShutdownImmediate)
	m.State = lifecycle.StopBackends
	reg := registry.New()

	c := &CrashCascade{Signal: KillWithQuit}
	require.NoError(t, c.Begin(m, reg, 1, time.Unix(0, 0)))
	require.False(t, m.FatalError)
}

func TestEscalateNoopsBeforeDeadline(t *testing.T) {
	reg := registry.New()
	reg.Add(&registry.Record{Pid: 5, Kind: childkind.BgWriter})
	c := &CrashCascade{Signal: KillWithQuit, KillDeadline: time.Unix(1000, 0)}

	require.NoError(t, c.Escalate(reg, time.Unix(500, 0)))
	require.True(t, c.Pending(time.Unix(500, 0)))
}

func TestEscalateFiresAfterDeadline(t *testing.T) {
	reg := registry.New()
	c := &CrashCascade{Signal: KillWithQuit, KillDeadline: time.Unix(1000, 0)}

	require.NoError(t, c.Escalate(reg, time.Unix(1001, 0)))
	require.False(t, c.Pending(time.Unix(1001, 0)))
}
