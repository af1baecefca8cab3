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

// Package sigintake translates OS signals into pending-work bits.
//
// The contract mirrors spec.md §4.3: a handler does nothing beyond setting a
// flag and touching the latch. Go cannot register a true async-signal-safe
// handler in the C sense (signal.Notify delivers on an ordinary goroutine),
// but the single goroutine here preserves the discipline the spec cares
// about — beyond atomic stores it only writes the latch's one byte to a
// non-blocking pipe, with no allocation or locking, so it can never block
// behind a wedged child or a held lock (spec.md §9).
package sigintake

import (
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/cortexdb/postmaster/internal/latch"
	"golang.org/x/sys/unix"
)

// Severity ranks shutdown requests; a higher value always wins over a lower
// one already latched (spec.md §4.3, §5).
type Severity int32

const (
	SeverityNone Severity = iota
	SeveritySmart
	SeverityFast
	SeverityImmediate
)

// Intake holds the pending-work bits the event loop polls each iteration.
type Intake struct {
	l *latch.Latch

	PendingReload    atomic.Bool
	PendingShutdown  atomic.Bool
	ShutdownSeverity atomic.Int32
	PendingChildExit atomic.Bool
	PendingPMSignal  atomic.Bool

	ch   chan os.Signal
	done chan struct{}
}

// New starts intake, installing handlers for the fixed set of signals
// spec.md §6 names. Signals not in that list (broken pipe, terminal,
// ulimit) are left at their default disposition by never being passed to
// signal.Notify.
func New(l *latch.Latch) *Intake {
	in := &Intake{
		l:    l,
		ch:   make(chan os.Signal, 8),
		done: make(chan struct{}),
	}
	signal.Notify(in.ch,
		unix.SIGHUP,  // reload
		unix.SIGINT,  // fast shutdown
		unix.SIGQUIT, // immediate shutdown
		unix.SIGTERM, // smart shutdown
		unix.SIGUSR1, // generic inter-process signal
		unix.SIGCHLD, // reap
	)
	go in.run()
	return in
}

func (in *Intake) run() {
	for {
		select {
		case sig, ok := <-in.ch:
			if !ok {
				return
			}
			in.handle(sig)
		case <-in.done:
			return
		}
	}
}

func (in *Intake) handle(sig os.Signal) {
	switch sig {
	case unix.SIGHUP:
		in.PendingReload.Store(true)
	case unix.SIGTERM:
		in.raiseShutdown(SeveritySmart)
	case unix.SIGINT:
		in.raiseShutdown(SeverityFast)
	case unix.SIGQUIT:
		in.raiseShutdown(SeverityImmediate)
	case unix.SIGUSR1:
		in.PendingPMSignal.Store(true)
	case unix.SIGCHLD:
		in.PendingChildExit.Store(true)
	default:
		return
	}
	in.l.Set()
}

// raiseShutdown latches the request iff it is at least as severe as any
// already pending (Immediate wins over Fast wins over Smart).
func (in *Intake) raiseShutdown(sev Severity) {
	for {
		cur := Severity(in.ShutdownSeverity.Load())
		if sev <= cur {
			break
		}
		if in.ShutdownSeverity.CompareAndSwap(int32(cur), int32(sev)) {
			break
		}
	}
	in.PendingShutdown.Store(true)
}

// RaiseImmediate lets the supervisor itself escalate to an immediate
// shutdown, e.g. when the pidfile revalidation in the event loop finds the
// file gone or altered (spec.md §4.4 step 5, §8 pidfile-tampering scenario).
func (in *Intake) RaiseImmediate() {
	in.raiseShutdown(SeverityImmediate)
	in.l.Set()
}

// Severity returns the most severe shutdown request latched so far.
func (in *Intake) Severity() Severity {
	return Severity(in.ShutdownSeverity.Load())
}

// Stop ends the intake goroutine and un-registers the signal handlers.
func (in *Intake) Stop() {
	signal.Stop(in.ch)
	close(in.done)
}
