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

package registry

import "github.com/cortexdb/postmaster/internal/childkind"

// Record is the per-child bookkeeping entry spec.md §3 names: process id,
// kind, slot index (nil for kinds with no shared-memory slot), cancel
// token, dead-end flag, and bgworker-notify flag.
type Record struct {
	Pid  int
	Kind childkind.Kind

	// Slot is the index into the shared-memory per-child array peer
	// children use for cancel-token lookups without consulting the
	// supervisor's private registry (spec.md §4.2, Glossary: Slot). Nil for
	// kinds that never need peer lookup.
	Slot *int

	// CancelToken authorizes cancel requests (spec.md §4.7). Random,
	// 32-bit, unpredictable to anyone who hasn't observed the supervisor's
	// internal tables (invariant 6).
	CancelToken uint32

	// DeadEnd marks a short-lived rejection worker: attached to shared
	// memory, never joins the session pool, must be drained before the
	// shared segment may be destroyed (Glossary: Dead-end child).
	DeadEnd bool

	// BgworkerNotify marks a registered background worker whose registrant
	// wants to be told about state changes (spec.md §4.8 step 2).
	BgworkerNotify bool

	// IsWalSender marks a Session that has announced replication intent.
	// The state machine treats walsenders specially during shutdown
	// (spec.md §4.5): they drain on their own schedule rather than being
	// signalled in StopBackends.
	IsWalSender bool
}
