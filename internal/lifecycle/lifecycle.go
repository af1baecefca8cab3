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

// Package lifecycle defines the supervisor's global state enum and the
// shutdown-severity value threaded alongside it (spec.md §3-§4.5). It is
// its own package, separate from internal/supervisor, because
// internal/admit needs the current state and shutdown mode to compute
// admission decisions without importing the event loop that owns them.
package lifecycle

// State is the eleven-value lifecycle enum of spec.md §3.
type State int

const (
	Init State = iota
	Startup
	Recovery
	HotStandby
	Run
	StopBackends
	WaitBackends
	Shutdown
	Shutdown2
	WaitDeadEnd
	NoChildren
)

var stateNames = [...]string{
	"init", "startup", "recovery", "hot_standby", "run", "stop_backends",
	"wait_backends", "shutdown", "shutdown2", "wait_dead_end", "no_children",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// IsServing reports whether the state accepts ordinary session connections
// (spec.md §4.7's "state ∉ {Run, HotStandby}" test).
func (s State) IsServing() bool { return s == Run || s == HotStandby }

// ShutdownMode is the four-value shutdown-severity enum of spec.md §3. Once
// raised it only ever escalates: None < Smart < Fast < Immediate.
type ShutdownMode int

const (
	ShutdownNone ShutdownMode = iota
	ShutdownSmart
	ShutdownFast
	ShutdownImmediate
)

var shutdownNames = [...]string{"none", "smart", "fast", "immediate"}

func (m ShutdownMode) String() string {
	if m < 0 || int(m) >= len(shutdownNames) {
		return "unknown"
	}
	return shutdownNames[m]
}

// Max returns the more severe of m and other, implementing the "most severe
// request wins" tie-break spec.md §4.5 requires.
func (m ShutdownMode) Max(other ShutdownMode) ShutdownMode {
	if other > m {
		return other
	}
	return m
}
