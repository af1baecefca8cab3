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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cortexdb/postmaster/internal/childkind"
	"github.com/cortexdb/postmaster/internal/config"
	"github.com/cortexdb/postmaster/internal/launcher"
	"github.com/cortexdb/postmaster/internal/log"
	"github.com/cortexdb/postmaster/internal/pidfile"
	"github.com/cortexdb/postmaster/internal/pmerror"
	"github.com/cortexdb/postmaster/internal/registry"
	"github.com/cortexdb/postmaster/internal/shmem"
	"github.com/cortexdb/postmaster/internal/sockets"
	"github.com/cortexdb/postmaster/internal/supervisor"
	"github.com/google/subcommands"
)

// Bootstrap implements subcommands.Command for the "bootstrap" mode:
// provisions shared memory and the pidfile, launches the startup child, and
// hands off to the running event loop. Supervise (the implicit default
// mode) runs the identical sequence; Bootstrap exists as the explicit,
// nameable form spec.md §6 lists alongside it.
type Bootstrap struct {
	dryRun bool
}

func (*Bootstrap) Name() string     { return "bootstrap" }
func (*Bootstrap) Synopsis() string { return "provision shared state and start the supervisor" }
func (*Bootstrap) Usage() string {
	return `bootstrap [flags] - provision shared memory, pidfile, and sockets, then run.
`
}

func (b *Bootstrap) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.dryRun, "dry-run", false, "provision and validate without starting the event loop")
}

func (b *Bootstrap) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg := args[0].(*config.Config)
	return runSupervisorProcess(cfg, b.dryRun)
}

// runSupervisorProcess is the shared body of Bootstrap and Supervise: both
// modes provision the same resources and hand off to the same event loop,
// differing only in which name invokes them.
func runSupervisorProcess(cfg *config.Config, dryRun bool) subcommands.ExitStatus {
	if err := config.EnsureDataDirExists(*cfg); err != nil {
		return fail(pmerror.ConfigWrap(err, "bootstrap"))
	}

	prov := shmem.New()
	handle, err := prov.SizeAndInit()
	if err != nil {
		return fail(pmerror.ResourceWrap(err, "provision shared memory"))
	}
	defer handle.Destroy()

	specs := []sockets.Spec{{Network: "tcp4", Address: fmt.Sprintf("%s:%d", cfg.ListenAddresses, cfg.Port)}}
	if cfg.SocketDir != "" {
		specs = append(specs, sockets.Spec{Network: "unix", Address: fmt.Sprintf("%s/.s.PGSQL.%d", cfg.SocketDir, cfg.Port)})
	}
	sockSet, err := sockets.Bring(backgroundContext(), specs)
	if err != nil {
		return fail(pmerror.ResourceWrap(err, "bring up listeners"))
	}
	defer sockSet.Close()

	pf, err := pidfile.Open(cfg.DataDir + "/postmaster.pid")
	if err != nil {
		return fail(pmerror.ResourceWrap(err, "open pidfile"))
	}
	// Orderly exit: close listeners, remove unix socket files, then unlink
	// the pidfile (spec.md §4.9).
	cleanup := func() {
		_ = sockSet.Close()
		_ = sockSet.RemoveUnixSockets()
		_ = pf.Close()
	}
	defer cleanup()

	info := pidfile.Info{
		Pid:           os.Getpid(),
		DataDir:       cfg.DataDir,
		StartTime:     time.Now(),
		Port:          cfg.Port,
		SocketDir:     cfg.SocketDir,
		ListenAddress: cfg.ListenAddresses,
		SharedMemKey:  fmt.Sprintf("fd:%d", handle.FD),
	}
	if err := pf.SetStatus(info, pidfile.StatusStarting); err != nil {
		return fail(pmerror.ResourceWrap(err, "write pidfile"))
	}

	if dryRun {
		fmt.Fprintln(os.Stdout, "bootstrap: provisioning succeeded, dry-run requested, exiting")
		return subcommands.ExitSuccess
	}

	exePath, err := os.Executable()
	if err != nil {
		return fail(pmerror.ResourceWrap(err, "resolve executable path"))
	}
	l := launcher.NewSpawnLauncher(exePath)

	kill := supervisor.KillWithQuit
	if cfg.KillWithAbort {
		kill = supervisor.KillWithAbort
	}
	sup := supervisor.New(supervisor.Config{KillSignal: kill, RestartAfterCrash: cfg.RestartAfterCrash},
		l, sockSet, pf, info, &osWaitReaper{}, func(status int) { cleanup(); os.Exit(status) })
	if sup.Latch == nil {
		return fail(pmerror.Resource("create wakeup latch"))
	}

	if err := sup.Machine.OnSharedMemoryReady(); err != nil {
		return fail(pmerror.Invariant("shared memory ready: %v", err))
	}

	pid, err := l.Launch(&launcher.Payload{Kind: childkind.Startup, ShmemFD: handle.FD, ShmemSize: handle.TotalSize})
	if err != nil {
		return fail(pmerror.LaunchWrap(err, "launch startup process"))
	}
	sup.Registry.Add(&registry.Record{Pid: pid, Kind: childkind.Startup})

	if err := pf.SetStatus(info, pidfile.StatusReady); err != nil {
		log.Warningf("pidfile status update: %v", err)
	}

	wait := pollWaiter(sup.Latch.FD())
	sup.Run(wait, time.Now)
	return subcommands.ExitSuccess
}
