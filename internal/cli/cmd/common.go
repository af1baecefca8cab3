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

// Package cmd implements the supervisor's CLI modes, one
// google/subcommands.Command per mode, mirroring the teacher's
// runsc/cmd/checkpoint.go Name/Synopsis/Usage/SetFlags/Execute shape.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cortexdb/postmaster/internal/log"
	"github.com/cortexdb/postmaster/internal/pmerror"
	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
)

// fail logs a classified error and returns the process exit code it implies
// (spec.md §7's table, err.ExitCode()) as the ExitStatus; Main passes that
// status to os.Exit unchanged.
func fail(err *pmerror.Error) subcommands.ExitStatus {
	log.Warningf("%v", err)
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitStatus(err.ExitCode())
}

// backgroundContext is a tiny indirection so Execute methods don't import
// "context" solely to call context.Background(), matching the pattern
// every cmd file in this package shares.
func backgroundContext() context.Context { return context.Background() }

// osWaitReaper adapts unix.Wait4 to supervisor.ChildExiter for a real,
// non-test process tree: it reaps every exited child that's currently
// waitable without blocking, which is what WNOHANG is for.
type osWaitReaper struct{}

func (*osWaitReaper) Reap() (pid int, clean bool, ok bool) {
	var ws unix.WaitStatus
	p, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
	if err != nil || p <= 0 {
		return 0, false, false
	}
	return p, ws.Exited() && ws.ExitStatus() == 0, true
}

// pollWaiter returns the step-2 wait function spec.md §4.4 describes: block
// in unix.Poll on the latch's read fd for at most the given budget, woken
// early the instant a signal handler posts to it.
func pollWaiter(latchFD int) func(time.Duration) {
	return func(d time.Duration) {
		timeoutMs := int(d / time.Millisecond)
		if d <= 0 {
			timeoutMs = 0
		}
		fds := []unix.PollFd{{Fd: int32(latchFD), Events: unix.POLLIN}}
		for {
			_, err := unix.Poll(fds, timeoutMs)
			if err == unix.EINTR {
				continue
			}
			return
		}
	}
}
