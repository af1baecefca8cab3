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

// Package launcher implements the Child Launcher (spec.md §4.6): turning a
// Payload into a live OS process attached to the shared segment.
//
// Only spawn-and-reattach is a working code path. Fork-inheritance, which
// spec.md §4.6 also names, cannot be implemented safely on the Go runtime:
// a multi-threaded Go process that calls fork(2) without an immediate
// exec(2) leaves every thread but the calling one simply gone in the child,
// which can deadlock on any lock held by a thread that no longer exists
// (runtime-internal locks included). LaunchForkInherit exists so the
// interface is complete but always returns ErrForkUnsupported.
package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// ErrForkUnsupported is returned by LaunchForkInherit on every call.
var ErrForkUnsupported = errors.New("launcher: fork-inheritance is not supported on the Go runtime; use spawn-and-reattach")

// Launcher starts children. The supervisor holds exactly one, constructed
// once at boot.
type Launcher interface {
	// Launch spawns a child from p and returns its pid once exec has
	// succeeded. The child is reattached to shared memory on its own
	// initiative using the fd and size donated in p.
	Launch(p *Payload) (pid int, err error)

	// LaunchForkInherit always fails; see the package doc.
	LaunchForkInherit(p *Payload) (pid int, err error)
}

// SpawnLauncher is the sole working Launcher: it re-execs the supervisor's
// own binary with a "spawn-child" subcommand, donating the shared-memory fd
// and a payload pipe the way the teacher's donation.Agency donates log and
// control-socket fds to the sandbox process (runsc/sandbox/sandbox.go's
// createSandboxProcess).
type SpawnLauncher struct {
	// ExePath is the supervisor's own executable, re-exec'd for each child.
	ExePath string
}

// NewSpawnLauncher returns a launcher that re-execs exePath.
func NewSpawnLauncher(exePath string) *SpawnLauncher {
	return &SpawnLauncher{ExePath: exePath}
}

var _ Launcher = (*SpawnLauncher)(nil)

// Launch implements Launcher.
func (l *SpawnLauncher) Launch(p *Payload) (int, error) {
	// Dead-end children (p.DeadEndReason != "") still get a real process:
	// they exec, print the rejection and exit. That branch lives entirely
	// in childmain; Launch itself treats them like any other child.
	encoded, err := p.Encode()
	if err != nil {
		return 0, fmt.Errorf("launch %s: %w", p.Kind, err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("launch %s: payload pipe: %w", p.Kind, err)
	}
	defer pr.Close()

	if _, err := pw.Write(encoded); err != nil {
		pw.Close()
		return 0, fmt.Errorf("launch %s: write payload: %w", p.Kind, err)
	}
	pw.Close()

	shmemFile := os.NewFile(uintptr(p.ShmemFD), "shmem")

	cmd := exec.Command(l.ExePath, "spawn-child")
	cmd.ExtraFiles = []*os.File{shmemFile, pr}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("POSTMASTER_SHMEM_SIZE=%d", p.ShmemSize),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &unix.SysProcAttr{
		// Each child becomes its own process group leader so the crash
		// cascade's kill-everything pass can reach any grandchildren it
		// spawns (archive_command, recovery_command) with a single
		// negative-pid signal, without touching the supervisor's own group.
		Setsid: true,
		// If the supervisor itself is killed with SIGKILL, orphaned
		// children should not outlive it.
		Pdeathsig: unix.SIGKILL,
	}
	cmd.Args[0] = "postmaster: " + p.Kind.String()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch %s: %w", p.Kind, err)
	}
	return cmd.Process.Pid, nil
}

// LaunchForkInherit implements Launcher.
func (l *SpawnLauncher) LaunchForkInherit(p *Payload) (int, error) {
	return 0, ErrForkUnsupported
}

// SignalPidAndGroup delivers sig to pid and, separately, to pid's own
// process group (-pid). Spawn-and-reattach children are started as their
// own session/group leader, so a child that has itself forked a
// non-reattached helper (archive_command, a copy subprocess) is only
// reachable through its group, not its pid alone; a plain single-target
// kill can leave such a helper running past the parent's death. Its only
// caller is CrashCascade.SignalSurvivor, which nothing calls; the cascade's
// Begin and Escalate and the StopBackends shutdown path signal each child's
// pid alone, through registry.SignalMany/SignalWhere.
func SignalPidAndGroup(pid int, sig unix.Signal) error {
	err1 := unix.Kill(pid, sig)
	if err1 != nil && err1 != unix.ESRCH {
		return fmt.Errorf("signal pid %d: %w", pid, err1)
	}
	err2 := unix.Kill(-pid, sig)
	if err2 != nil && err2 != unix.ESRCH {
		return fmt.Errorf("signal group %d: %w", pid, err2)
	}
	return nil
}
