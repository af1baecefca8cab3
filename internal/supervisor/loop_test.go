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
	"github.com/cortexdb/postmaster/internal/latch"
	"github.com/cortexdb/postmaster/internal/launcher"
	"github.com/cortexdb/postmaster/internal/lifecycle"
	"github.com/cortexdb/postmaster/internal/registry"
	"github.com/cortexdb/postmaster/internal/sigintake"
	"github.com/stretchr/testify/require"
)

// fakeLauncher records every launch and hands out sequential pids.
type fakeLauncher struct {
	nextPid int
	calls   []*launcher.Payload
	pids    []int
}

func (f *fakeLauncher) Launch(p *launcher.Payload) (int, error) {
	f.nextPid++
	f.calls = append(f.calls, p)
	f.pids = append(f.pids, f.nextPid)
	return f.nextPid, nil
}

func (f *fakeLauncher) LaunchForkInherit(p *launcher.Payload) (int, error) {
	return 0, launcher.ErrForkUnsupported
}

// fakeExiter lets a test queue up synthetic child exits.
type fakeExiter struct {
	queue []fakeExit
}

type fakeExit struct {
	pid   int
	clean bool
}

func (f *fakeExiter) Reap() (pid int, clean bool, ok bool) {
	if len(f.queue) == 0 {
		return 0, false, false
	}
	e := f.queue[0]
	f.queue = f.queue[1:]
	return e.pid, e.clean, true
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeLauncher, *fakeExiter, *int) {
	t.Helper()
	lt, err := latch.New()
	require.NoError(t, err)

	// nextPid starts well above any real pid so that a signal this test
	// sends to a launched fake child (e.g. the shutdown checkpointer) can't
	// land on an unrelated live process.
	fl := &fakeLauncher{nextPid: 1 << 20}
	fe := &fakeExiter{}
	exitCode := new(int)
	*exitCode = -1

	s := &Supervisor{
		Machine:  NewMachine(false),
		Registry: registry.New(),
		Intake:   sigintake.New(lt),
		Latch:    lt,
		Launcher: fl,
		Exiter:   fe,
		Crash:    &CrashCascade{Signal: KillWithQuit},
		Exit:     func(status int) { *exitCode = status },
	}
	t.Cleanup(s.Intake.Stop)
	return s, fl, fe, exitCode
}

func TestStepReapsStartupCleanExitAdvancesToRun(t *testing.T) {
	s, _, fe, _ := newTestSupervisor(t)
	s.Machine.State = lifecycle.Startup
	s.Registry.Add(&registry.Record{Pid: 10, Kind: childkind.Startup})
	fe.queue = []fakeExit{{pid: 10, clean: true}}
	s.Intake.PendingChildExit.Store(true)

	s.Step(time.Unix(0, 0))

	require.Equal(t, lifecycle.Run, s.Machine.State)
	require.Nil(t, s.Registry.Find(10))
}

func TestStepStartupCrashDuringRecoveryTriggersCascade(t *testing.T) {
	s, _, fe, _ := newTestSupervisor(t)
	s.Machine.State = lifecycle.Recovery
	s.Registry.Add(&registry.Record{Pid: 11, Kind: childkind.Startup})
	// A surviving ordinary child keeps WaitBackends' exit condition unmet,
	// so the opportunistic advance doesn't cascade straight through to
	// NoChildren within this one Step call.
	s.Registry.Add(&registry.Record{Pid: 12, Kind: childkind.BgWriter})
	fe.queue = []fakeExit{{pid: 11, clean: false}}
	s.Intake.PendingChildExit.Store(true)

	s.Step(time.Unix(100, 0))

	require.Equal(t, lifecycle.WaitBackends, s.Machine.State)
	require.True(t, s.Machine.FatalError)
}

func TestStepRespawnsSysLoggerBeforeOtherReaping(t *testing.T) {
	s, fl, fe, _ := newTestSupervisor(t)
	s.Machine.State = lifecycle.Run
	s.Registry.Add(&registry.Record{Pid: 20, Kind: childkind.SysLogger})
	s.Registry.Add(&registry.Record{Pid: 21, Kind: childkind.BgWriter})
	fe.queue = []fakeExit{{pid: 20, clean: false}, {pid: 21, clean: false}}
	s.Intake.PendingChildExit.Store(true)

	s.Step(time.Unix(0, 0))

	// The syslogger respawn is the first launch in the batch. BgWriter's
	// crash starts the crash cascade, which moves the state to WaitBackends;
	// that state requires no singletons, so nothing else is launched.
	require.NotEmpty(t, fl.calls)
	require.Equal(t, childkind.SysLogger, fl.calls[0].Kind)
}

func TestStepRunStartsMissingSingletons(t *testing.T) {
	s, fl, _, _ := newTestSupervisor(t)
	s.Machine.State = lifecycle.Run

	s.Step(time.Unix(0, 0))

	launched := make(map[childkind.Kind]bool)
	for _, p := range fl.calls {
		launched[p.Kind] = true
	}
	for _, want := range []childkind.Kind{
		childkind.SysLogger, childkind.BgWriter, childkind.Checkpointer,
		childkind.WalWriter, childkind.AutoVacLauncher, childkind.Archiver,
		childkind.SlotSync,
	} {
		require.True(t, launched[want], "expected %s to be launched", want)
	}

	fl.calls = nil
	s.Step(time.Unix(1, 0))
	require.Empty(t, fl.calls, "singletons already running must not be relaunched")
}

func TestStepShutdownLaunchesCheckpointerAndAdvancesOnExit(t *testing.T) {
	s, fl, fe, exitCode := newTestSupervisor(t)
	s.Machine.State = lifecycle.Run
	// An archiver that never exits keeps Shutdown2's exit condition unmet,
	// so the cascade stops there instead of running all the way to
	// NoChildren/Exit within this test.
	s.Registry.Add(&registry.Record{Pid: 1 << 21, Kind: childkind.Archiver})
	s.Intake.PendingShutdown.Store(true)
	s.Intake.ShutdownSeverity.Store(int32(sigintake.SeverityFast))

	s.Step(time.Unix(0, 0))
	require.Equal(t, lifecycle.Shutdown, s.Machine.State)

	var checkpointerPid int
	for i, p := range fl.calls {
		if p.Kind == childkind.Checkpointer {
			checkpointerPid = fl.pids[i]
		}
	}
	require.NotZero(t, checkpointerPid)
	require.NotNil(t, s.Registry.Find(checkpointerPid))

	fe.queue = []fakeExit{{pid: checkpointerPid, clean: false}}
	s.Intake.PendingChildExit.Store(true)
	s.Step(time.Unix(1, 0))

	require.Equal(t, lifecycle.Shutdown2, s.Machine.State)
	require.Equal(t, -1, *exitCode)
}

func TestStepShutdownRequestEntersStopBackends(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)
	s.Machine.State = lifecycle.Run
	s.Intake.PendingShutdown.Store(true)
	s.Intake.ShutdownSeverity.Store(int32(sigintake.SeverityFast))

	s.Step(time.Unix(0, 0))

	// With no children registered, WaitBackends' condition is already
	// satisfied and the opportunistic advance carries the state straight
	// through to Shutdown in the same Step call.
	require.Equal(t, lifecycle.Shutdown, s.Machine.State)
}

func TestStepExitsOnceNoChildrenResolved(t *testing.T) {
	s, _, _, exitCode := newTestSupervisor(t)
	s.Machine.State = lifecycle.WaitDeadEnd

	s.Step(time.Unix(0, 0))

	require.Equal(t, 1, *exitCode)
}
