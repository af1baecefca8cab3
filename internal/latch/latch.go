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

// Package latch implements the self-wake primitive signal handlers use to
// break the event loop out of its blocking wait.
package latch

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Latch combines a set flag with a wakeable pipe file descriptor. Setting it
// from a signal handler is async-signal-safe: it only writes one byte to a
// pipe and flips an atomic flag, never allocates, never takes a lock.
type Latch struct {
	set      atomic.Bool
	readFD   int
	writeFD  int
}

// New creates a Latch backed by a non-blocking self-pipe.
func New() (*Latch, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &Latch{readFD: fds[0], writeFD: fds[1]}, nil
}

// FD returns the read end, suitable for inclusion in the event loop's poll
// set.
func (l *Latch) FD() int { return l.readFD }

// Set posts a wakeup. Safe to call from a signal handler.
func (l *Latch) Set() {
	if l.set.CompareAndSwap(false, true) {
		var b [1]byte
		// Best effort: a full pipe means a wakeup is already pending.
		_, _ = unix.Write(l.writeFD, b[:])
	}
}

// IsSet reports whether a wakeup is pending without clearing it.
func (l *Latch) IsSet() bool { return l.set.Load() }

// Clear drains the pipe and resets the flag. Called once per loop iteration
// after a readable latch FD is observed.
func (l *Latch) Clear() {
	l.set.Store(false)
	var buf [64]byte
	for {
		n, err := unix.Read(l.readFD, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close releases the underlying pipe descriptors.
func (l *Latch) Close() error {
	err1 := unix.Close(l.readFD)
	err2 := unix.Close(l.writeFD)
	if err1 != nil {
		return err1
	}
	return err2
}
