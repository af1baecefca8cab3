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

// Package registry implements the supervisor's child accounting (spec.md
// §4.2): an intrusive list plus a pid index, consulted only from the
// supervisor process.
package registry

import (
	"container/list"
	"fmt"

	"github.com/cortexdb/postmaster/internal/childkind"
	"github.com/google/btree"
	"golang.org/x/sys/unix"
)

// pidItem is the google/btree.Item wrapping a *list.Element, keyed by pid.
// The registry keeps the canonical record in the intrusive list; the btree
// only ever holds a pointer back into it, so there is one writable copy of
// each Record.
type pidItem struct {
	pid int
	el  *list.Element
}

func (a pidItem) Less(than btree.Item) bool {
	return a.pid < than.(pidItem).pid
}

// Registry tracks every live child. A child appears here iff it is attached
// to shared memory (invariant 2).
type Registry struct {
	children *list.List
	byPid    *btree.BTree
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		children: list.New(),
		byPid:    btree.New(32),
	}
}

// Add inserts a new child record. The caller owns uniqueness of rec.Pid.
func (r *Registry) Add(rec *Record) {
	el := r.children.PushBack(rec)
	r.byPid.ReplaceOrInsert(pidItem{pid: rec.Pid, el: el})
}

// Remove drops the child with the given pid, if present.
func (r *Registry) Remove(pid int) {
	item := r.byPid.Delete(pidItem{pid: pid})
	if item == nil {
		return
	}
	r.children.Remove(item.(pidItem).el)
}

// Find returns the record for pid, or nil if it is not a live child.
func (r *Registry) Find(pid int) *Record {
	item := r.byPid.Get(pidItem{pid: pid})
	if item == nil {
		return nil
	}
	return item.(pidItem).el.Value.(*Record)
}

// Count returns the number of live children whose kind is in mask.
func (r *Registry) Count(mask childkind.Mask) int {
	n := 0
	for el := r.children.Front(); el != nil; el = el.Next() {
		if mask.Has(el.Value.(*Record).Kind) {
			n++
		}
	}
	return n
}

// Len returns the total number of live children, regardless of kind.
func (r *Registry) Len() int { return r.children.Len() }

// Iter calls fn for every live child whose kind is in mask, in registration
// order. fn must not mutate the registry.
func (r *Registry) Iter(mask childkind.Mask, fn func(*Record)) {
	for el := r.children.Front(); el != nil; el = el.Next() {
		rec := el.Value.(*Record)
		if mask.Has(rec.Kind) {
			fn(rec)
		}
	}
}

// CountWhere returns the number of live children for which pred returns
// true. Unlike Count, the predicate can look past Kind at a record's other
// fields (e.g. IsWalSender), which a Mask cannot express.
func (r *Registry) CountWhere(pred func(*Record) bool) int {
	n := 0
	for el := r.children.Front(); el != nil; el = el.Next() {
		if pred(el.Value.(*Record)) {
			n++
		}
	}
	return n
}

// IterWhere calls fn for every live child for which pred returns true, in
// registration order. fn must not mutate the registry.
func (r *Registry) IterWhere(pred func(*Record) bool, fn func(*Record)) {
	for el := r.children.Front(); el != nil; el = el.Next() {
		rec := el.Value.(*Record)
		if pred(rec) {
			fn(rec)
		}
	}
}

// SignalMany delivers sig to every live child whose kind is in mask.
// Delivery errors for already-exited children (ESRCH) are swallowed since
// the exit will be reaped on the next child-exit pass; any other error is
// returned wrapped with the offending pid.
func (r *Registry) SignalMany(mask childkind.Mask, sig unix.Signal) error {
	var firstErr error
	r.Iter(mask, func(rec *Record) {
		if err := unix.Kill(rec.Pid, sig); err != nil && err != unix.ESRCH && firstErr == nil {
			firstErr = fmt.Errorf("signal pid %d: %w", rec.Pid, err)
		}
	})
	return firstErr
}

// SignalWhere delivers sig to every live child for which pred returns true.
// Error handling matches SignalMany.
func (r *Registry) SignalWhere(pred func(*Record) bool, sig unix.Signal) error {
	var firstErr error
	r.IterWhere(pred, func(rec *Record) {
		if err := unix.Kill(rec.Pid, sig); err != nil && err != unix.ESRCH && firstErr == nil {
			firstErr = fmt.Errorf("signal pid %d: %w", rec.Pid, err)
		}
	})
	return firstErr
}

// ExemptFromStopBackends reports whether rec is in the class StopBackends
// does not signal: the archiver, and any Session that has announced
// replication intent (spec.md §4.5's walsender exemption). Tracked via
// Record.IsWalSender rather than Kind, since a walsender is a runtime
// property of a Session, not a separate Kind.
func ExemptFromStopBackends(rec *Record) bool {
	if rec.Kind == childkind.Archiver {
		return true
	}
	return rec.Kind == childkind.Session && rec.IsWalSender
}

// All returns a snapshot slice of every live record, in registration order.
// Used by the crash cascade and by tests; callers must not mutate the
// returned records' identity fields (Pid, Kind).
func (r *Registry) All() []*Record {
	out := make([]*Record, 0, r.children.Len())
	for el := r.children.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Record))
	}
	return out
}
