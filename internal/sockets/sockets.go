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

// Package sockets brings up the supervisor's listening sockets before the
// event loop starts (spec.md §4.9, §6): TCP4, TCP6, and Unix-domain
// listeners, capped at 64 total, started concurrently.
package sockets

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// MaxListeners is the hard cap spec.md §4.9 places on configured sockets.
const MaxListeners = 64

// Spec describes one socket to bring up.
type Spec struct {
	// Network is "tcp4", "tcp6", or "unix".
	Network string
	Address string
}

// Set is the brought-up collection of listeners, indexed in Spec order.
type Set struct {
	mu        sync.Mutex
	listeners []net.Listener
	unixPaths []string
}

// Bring brings up every listener in specs concurrently via errgroup, the
// way the teacher brings up independent subsystems before handing control
// to its own main loop. It is a one-shot barrier: callers join it before
// the event loop starts and it introduces no further concurrency once it
// returns (spec.md §5's "only the initial errgroup" concurrency note).
func Bring(ctx context.Context, specs []Spec) (*Set, error) {
	if len(specs) > MaxListeners {
		return nil, fmt.Errorf("sockets: %d listeners requested, max is %d", len(specs), MaxListeners)
	}

	s := &Set{
		listeners: make([]net.Listener, len(specs)),
		unixPaths: make([]string, len(specs)),
	}

	g, _ := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			var lc net.ListenConfig
			network := spec.Network
			if network == "unix" {
				ln, err := net.Listen("unix", spec.Address)
				if err != nil {
					return fmt.Errorf("sockets: listen unix %s: %w", spec.Address, err)
				}
				s.mu.Lock()
				s.listeners[i] = ln
				s.unixPaths[i] = spec.Address
				s.mu.Unlock()
				return nil
			}
			ln, err := lc.Listen(ctx, network, spec.Address)
			if err != nil {
				return fmt.Errorf("sockets: listen %s %s: %w", network, spec.Address, err)
			}
			s.mu.Lock()
			s.listeners[i] = ln
			s.mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Listeners returns every brought-up listener. The event loop's poll set
// holds only the latch, and the loop accepts no connections on these.
func (s *Set) Listeners() []net.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]net.Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// Close closes every listener. Callers doing an orderly shutdown must close
// listeners, then call RemoveUnixSockets, then unlink the pidfile, in that
// order (spec.md §4.9).
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, l := range s.listeners {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RemoveUnixSockets unlinks every unix-domain socket file this Set created.
// Must be called after Close.
func (s *Set) RemoveUnixSockets() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, p := range s.unixPaths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TouchInterval is the 58-minute period spec.md §4.4 step 6 specifies for
// touching unix-domain socket files to defeat /tmp cleanup sweeps.
const TouchInterval = 58 * time.Minute

// Touch updates the mtime of every unix-domain socket file, so periodic
// /tmp reapers (tmpwatch-style, as referenced by spec.md) don't remove a
// socket that's still in active use.
func (s *Set) Touch(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, p := range s.unixPaths {
		if p == "" {
			continue
		}
		if err := os.Chtimes(p, now, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
