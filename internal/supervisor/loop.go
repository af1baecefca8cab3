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
	"time"

	"github.com/cortexdb/postmaster/internal/bgworker"
	"github.com/cortexdb/postmaster/internal/childkind"
	"github.com/cortexdb/postmaster/internal/latch"
	"github.com/cortexdb/postmaster/internal/launcher"
	"github.com/cortexdb/postmaster/internal/lifecycle"
	"github.com/cortexdb/postmaster/internal/log"
	"github.com/cortexdb/postmaster/internal/pidfile"
	"github.com/cortexdb/postmaster/internal/registry"
	"github.com/cortexdb/postmaster/internal/sigintake"
	"github.com/cortexdb/postmaster/internal/sockets"
	"golang.org/x/sys/unix"
)

// PidfileRecheckInterval is spec.md §4.4 step 5's 1-minute revalidation
// period.
const PidfileRecheckInterval = time.Minute

// ExitFunc is how the loop hands control back to its caller once the state
// machine decides to terminate the process; tests substitute a function
// that records the call instead of the CLI's real os.Exit wrapper.
type ExitFunc func(status int)

// ChildExiter abstracts process reaping so tests can inject synthetic
// exits without forking real children.
type ChildExiter interface {
	// Reap returns the pid and clean-exit status of one reaped child, or
	// ok=false if none are currently waitable.
	Reap() (pid int, clean bool, ok bool)
}

// Supervisor wires components C1-C9 into the running event loop.
type Supervisor struct {
	Machine  *Machine
	Registry *registry.Registry
	Intake   *sigintake.Intake
	Latch    *latch.Latch
	Launcher launcher.Launcher
	BgWork   *bgworker.Scheduler
	Sockets  *sockets.Set
	Pidfile  *pidfile.File
	PidInfo  pidfile.Info
	Exiter   ChildExiter
	Crash    *CrashCascade
	Exit     ExitFunc

	lastPidfileCheck time.Time
	lastSocketTouch  time.Time
}

// sleepBudget implements spec.md §4.4 step 1, combining the bgworker
// scheduler's own budget with the crash-escalation deadline, the only one
// that overrides it; an immediate shutdown arms no escalation deadline.
func (s *Supervisor) sleepBudget(now time.Time, bgRes bgworker.PassResult) time.Duration {
	if s.Crash != nil && s.Crash.Pending(now) {
		d := s.Crash.KillDeadline.Sub(now)
		if d < 0 {
			return 0
		}
		return d
	}
	budget := bgworker.SleepBudget(now, bgRes)
	if budget > time.Minute {
		budget = time.Minute
	}
	return budget
}

// Step runs steps 3-6 of one event loop iteration, assuming the wait in
// step 2 has already returned (the caller owns the actual unix.Poll call,
// since that's the one truly blocking, untestable part of the loop) and
// that the bgworker scheduling pass feeding step 1's sleep budget
// (Supervisor.Run) has already run for this iteration.
func (s *Supervisor) Step(now time.Time) {
	if s.Latch.IsSet() {
		s.Latch.Clear()
	}

	if s.Intake.PendingShutdown.Load() {
		s.Intake.PendingShutdown.Store(false)
		sev := lifecycle.ShutdownMode(s.Intake.Severity())
		s.Machine.RequestShutdown(sev)
		if err := s.Machine.OnShutdownRequested(); err != nil {
			log.Debugf("shutdown request: %v", err)
		}
		if s.Machine.State == lifecycle.StopBackends {
			s.enterStopBackends(sev)
		}
	}

	if s.Intake.PendingReload.Load() {
		s.Intake.PendingReload.Store(false)
		log.Infof("reload requested")
	}

	if s.Intake.PendingChildExit.Load() {
		s.Intake.PendingChildExit.Store(false)
		s.reapAll(now)
	}

	if s.Intake.PendingPMSignal.Load() {
		s.Intake.PendingPMSignal.Store(false)
	}

	if s.Crash != nil {
		if err := s.Crash.Escalate(s.Registry, now); err != nil {
			log.Warningf("crash escalation: %v", err)
		}
		if s.Registry.Len() == 0 {
			s.Crash.Clear()
		}
	}

	s.advanceStateMachine()
	s.startMissingSingletons()

	if s.lastPidfileCheck.IsZero() || now.Sub(s.lastPidfileCheck) >= PidfileRecheckInterval {
		s.lastPidfileCheck = now
		s.recheckPidfile()
	}

	if s.Sockets != nil && (s.lastSocketTouch.IsZero() || now.Sub(s.lastSocketTouch) >= sockets.TouchInterval) {
		s.lastSocketTouch = now
		if err := s.Sockets.Touch(now); err != nil {
			log.Warningf("touch socket files: %v", err)
		}
	}
}

// reapAll drains child-exit reaping to completion, per spec.md §5's
// "reaping is drained to completion on each wakeup before the state
// machine advances" ordering guarantee. A SysLogger exit is respawned
// before any other reaping in the same batch continues, so log messages
// about the rest of the batch are never lost (spec.md §4.5's tie-break).
func (s *Supervisor) reapAll(now time.Time) {
	var sysLoggerDied bool
	var exits []struct {
		pid   int
		clean bool
	}
	for {
		pid, clean, ok := s.Exiter.Reap()
		if !ok {
			break
		}
		if rec := s.Registry.Find(pid); rec != nil && rec.Kind == childkind.SysLogger {
			sysLoggerDied = true
		}
		exits = append(exits, struct {
			pid   int
			clean bool
		}{pid, clean})
	}

	if sysLoggerDied {
		s.respawnSysLogger()
	}

	for _, e := range exits {
		s.handleOneExit(e.pid, e.clean, now)
	}
}

func (s *Supervisor) handleOneExit(pid int, clean bool, now time.Time) {
	rec := s.Registry.Find(pid)
	s.Registry.Remove(pid)

	if rec != nil && rec.Kind == childkind.Startup {
		if err := s.Machine.OnStartupExited(clean); err != nil {
			log.Warningf("startup exit: %v", err)
			s.Exit(1)
			return
		}
		return
	}

	if rec != nil && rec.Kind == childkind.Checkpointer && s.Machine.State == lifecycle.Shutdown {
		if err := s.Machine.OnCheckpointerExited(clean); err != nil {
			log.Warningf("checkpointer exit: %v", err)
		}
		return
	}

	if !clean && s.Crash != nil {
		if err := s.Crash.Begin(s.Machine, s.Registry, pid, now); err != nil {
			log.Warningf("crash cascade: %v", err)
		}
	}
}

func (s *Supervisor) respawnSysLogger() {
	pid, err := s.Launcher.Launch(&launcher.Payload{Kind: childkind.SysLogger})
	if err != nil {
		log.Warningf("respawn syslogger: %v", err)
		return
	}
	s.Registry.Add(&registry.Record{Pid: pid, Kind: childkind.SysLogger})
}

func (s *Supervisor) enterStopBackends(sev lifecycle.ShutdownMode) {
	pred := StopSignalPred
	sig := unix.SIGTERM
	switch sev {
	case lifecycle.ShutdownFast:
		sig = unix.SIGTERM
	case lifecycle.ShutdownImmediate:
		sig = unix.SIGQUIT
		pred = func(*registry.Record) bool { return true }
	}
	if err := s.Registry.SignalWhere(pred, sig); err != nil {
		log.Warningf("stop backends: %v", err)
	}
	if err := s.Machine.OnStopBackendsSent(); err != nil {
		log.Warningf("stop backends: %v", err)
	}
}

// launchShutdownCheckpointer implements the action spec.md §4.5 attaches to
// the WaitBackends → Shutdown edge: tell a Checkpointer to perform the
// shutdown checkpoint. Worker bodies are process-level placeholders (the
// query and storage engine are out of scope), so "tell it to checkpoint and
// stop" is a launch immediately followed by the same termination signal
// every other backend already got in enterStopBackends; its exit is what
// drives OnCheckpointerExited.
func (s *Supervisor) launchShutdownCheckpointer() {
	pid, err := s.Launcher.Launch(&launcher.Payload{Kind: childkind.Checkpointer})
	if err != nil {
		log.Warningf("launch shutdown checkpointer: %v", err)
		return
	}
	s.Registry.Add(&registry.Record{Pid: pid, Kind: childkind.Checkpointer})
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		log.Warningf("signal shutdown checkpointer: %v", err)
	}
}

// requiredSingletons returns the singleton kinds spec.md §4.4 step 4 says
// should be running while the state machine is in state s. Startup is
// launched once by the CLI's bootstrap path, not by this table: it only
// ever runs during Startup/Recovery/HotStandby and a crash there is handled by the
// crash cascade rather than a respawn.
func requiredSingletons(s lifecycle.State) []childkind.Kind {
	switch s {
	case lifecycle.Recovery, lifecycle.HotStandby:
		return []childkind.Kind{
			childkind.SysLogger, childkind.BgWriter, childkind.Checkpointer,
			childkind.WalReceiver, childkind.WalSummarizer,
		}
	case lifecycle.Run:
		return []childkind.Kind{
			childkind.SysLogger, childkind.BgWriter, childkind.Checkpointer,
			childkind.WalWriter, childkind.AutoVacLauncher, childkind.Archiver,
			childkind.SlotSync,
		}
	default:
		return nil
	}
}

// startMissingSingletons implements spec.md §4.4 step 4: opportunistically
// (re)start every singleton kind that should be running in the current
// state but isn't yet registered.
func (s *Supervisor) startMissingSingletons() {
	for _, kind := range requiredSingletons(s.Machine.State) {
		kind := kind
		if s.Registry.CountWhere(func(rec *registry.Record) bool { return rec.Kind == kind }) > 0 {
			continue
		}
		pid, err := s.Launcher.Launch(&launcher.Payload{Kind: kind})
		if err != nil {
			log.Warningf("start %s: %v", kind, err)
			continue
		}
		s.Registry.Add(&registry.Record{Pid: pid, Kind: kind})
	}
}

// advanceStateMachine opportunistically moves the state machine forward
// when a waiting condition has been satisfied (spec.md §4.4 step 4 and the
// WaitBackends/Shutdown2/WaitDeadEnd edges, none of which are driven
// directly by a single signal). It loops until a pass leaves the state
// unchanged, since satisfying one waiting condition (e.g. the registry
// draining to empty) can immediately satisfy the next one in the same
// wakeup.
func (s *Supervisor) advanceStateMachine() {
	for {
		before := s.Machine.State
		s.advanceOnce()
		if s.Machine.State == before {
			return
		}
	}
}

func (s *Supervisor) advanceOnce() {
	switch s.Machine.State {
	case lifecycle.Run, lifecycle.HotStandby:
		if s.Machine.ShutdownMode == lifecycle.ShutdownSmart && s.Registry.Count(childkind.MaskOf(childkind.Session)) == 0 {
			if err := s.Machine.OnSessionCountZero(); err == nil && s.Machine.State == lifecycle.StopBackends {
				s.enterStopBackends(s.Machine.ShutdownMode)
			}
		}
	case lifecycle.WaitBackends:
		// Ordinary children: everything except an announced walsender
		// Session and the archiver, which is exactly StopSignalPred.
		remaining := s.Registry.CountWhere(StopSignalPred)
		if remaining == 0 {
			if err := s.Machine.OnOrdinaryChildrenGone(); err != nil {
				log.Warningf("advance state: %v", err)
			} else if s.Machine.State == lifecycle.Shutdown {
				s.launchShutdownCheckpointer()
			}
		}
	case lifecycle.Shutdown2:
		if s.Registry.CountWhere(registry.ExemptFromStopBackends) == 0 {
			if err := s.Machine.OnWalSendersAndArchiverGone(); err != nil {
				log.Warningf("advance state: %v", err)
			}
		}
	case lifecycle.WaitDeadEnd:
		if s.Registry.Len() == 0 {
			if err := s.Machine.OnRegistryEmpty(); err != nil {
				log.Warningf("advance state: %v", err)
			}
		}
	case lifecycle.NoChildren:
		outcome, status := s.Machine.Resolve()
		if outcome == OutcomeExit {
			s.Exit(status)
			return
		}
		s.Machine.RestartTransition()
	}
}

// recheckPidfile implements spec.md §4.4 step 5: if the pidfile this
// supervisor wrote no longer matches what's on disk, something else has
// touched the data directory and the supervisor self-signals an immediate
// shutdown rather than risk two supervisors sharing one shared segment.
func (s *Supervisor) recheckPidfile() {
	if s.Pidfile == nil {
		return
	}
	ok, err := s.Pidfile.StillValid(s.PidInfo)
	if err != nil {
		log.Warningf("pidfile recheck: %v", err)
		return
	}
	if !ok {
		log.Warningf("pidfile no longer matches what this supervisor wrote; self-signaling immediate shutdown")
		s.Intake.RaiseImmediate()
	}
}
