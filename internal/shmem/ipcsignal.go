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

package shmem

import (
	"sync/atomic"
	"unsafe"
)

// Event is one of the typed single-shot events spec.md §6 lists: a child
// sets its bit and sends SIGUSR1, the supervisor checks and clears it on
// the generic-pmsignal path.
type Event uint32

const (
	EventRecoveryStarted Event = 1 << iota
	EventBeginHotStandby
	EventStartWalReceiver
	EventStartAutoVacWorker
	EventBgworkerStateChanged
	EventAdvanceStateMachine
	EventRotateLogfile
)

// IPCSignalTable is the shared-memory mirror of pending inter-process
// events, viewed through BindIPCSignalTable over a region of the segment;
// the bits are manipulated with atomic operations since writers are
// separate OS processes racing on the same shared bytes. The supervisor's
// provisioning path registers no region for it, and its event loop clears
// the pmsignal flag without reading the table.
//
// The table is sized as a single atomic.Uint32 bitmask rather than a real
// shared-memory struct with per-child fields: the event set is small,
// fixed, and every event is single-shot, so a flat bitmask is sufficient
// and avoids any layout/alignment concerns across process boundaries.
type IPCSignalTable struct {
	bits atomic.Uint32
}

// IPCSignalTableSize is the fixed size (in bytes) IPCSignalTable occupies in
// the shared segment; used as the subsystem's SizeFunc.
const IPCSignalTableSize = 4

// BindIPCSignalTable views a region of the shared segment as an
// IPCSignalTable. The region must be at least IPCSignalTableSize bytes and
// must be part of a MAP_SHARED mapping for updates to cross processes.
func BindIPCSignalTable(region []byte) *IPCSignalTable {
	if len(region) < IPCSignalTableSize {
		panic("shmem: region too small for IPCSignalTable")
	}
	return (*IPCSignalTable)(unsafe.Pointer(&region[0]))
}

// Set posts ev. Called by whichever child observes the transition.
func (t *IPCSignalTable) Set(ev Event) {
	for {
		old := t.bits.Load()
		if old&uint32(ev) != 0 {
			return
		}
		if t.bits.CompareAndSwap(old, old|uint32(ev)) {
			return
		}
	}
}

// TestAndClear reports whether ev was pending and clears it atomically.
// Only the supervisor's event loop calls this (spec.md §6).
func (t *IPCSignalTable) TestAndClear(ev Event) bool {
	for {
		old := t.bits.Load()
		if old&uint32(ev) == 0 {
			return false
		}
		if t.bits.CompareAndSwap(old, old&^uint32(ev)) {
			return true
		}
	}
}
