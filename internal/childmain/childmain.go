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

// Package childmain is the entry point a spawned child process runs after
// exec, reached via the "spawn-child" CLI mode (spec.md §6). It is the far
// side of internal/launcher's spawn-and-reattach handshake.
package childmain

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cortexdb/postmaster/internal/childkind"
	"github.com/cortexdb/postmaster/internal/launcher"
	"github.com/cortexdb/postmaster/internal/log"
	"github.com/cortexdb/postmaster/internal/shmem"
)

// shmemFD and payloadFD are the fixed positions the launcher donates its
// two extra files at: ExtraFiles[0] and [1] land on fd 3 and 4 respectively
// for every child, regardless of kind.
const (
	shmemFD   = 3
	payloadFD = 4
)

// Run is the entirety of a spawned child's life before it either exits
// (dead-end rejection) or falls into its kind's worker body. It never
// returns on the worker-body path except via the body's own exit.
func Run() error {
	sizeStr := os.Getenv("POSTMASTER_SHMEM_SIZE")
	size, err := strconv.ParseUint(sizeStr, 10, 64)
	if err != nil {
		return fmt.Errorf("childmain: bad POSTMASTER_SHMEM_SIZE %q: %w", sizeStr, err)
	}

	payloadFile := os.NewFile(payloadFD, "payload")
	encoded, err := io.ReadAll(payloadFile)
	payloadFile.Close()
	if err != nil {
		return fmt.Errorf("childmain: read payload: %w", err)
	}
	p, err := launcher.DecodePayload(encoded)
	if err != nil {
		return fmt.Errorf("childmain: %w", err)
	}

	if p.DeadEndReason != "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", p.DeadEndReason)
		os.Exit(1)
	}

	h, err := shmem.Reattach(shmemFD, uintptr(size))
	if err != nil {
		return fmt.Errorf("childmain: %w", err)
	}

	if err := launcher.DropToMinimal(); err != nil {
		log.Warningf("childmain: drop capabilities: %v", err)
	}

	body := bodyFor(p.Kind)
	return body(p, h)
}

// Body is a kind-specific worker loop. Actual query-processing and storage
// logic lives outside this supervisor's scope (spec.md's Non-goals exclude
// the query engine and storage layer); what's implemented here is the
// process-level contract the supervisor depends on: attach, run until
// signaled to stop, exit cleanly.
type Body func(p *launcher.Payload, h *shmem.Handle) error

func bodyFor(k childkind.Kind) Body {
	switch k {
	case childkind.SysLogger:
		return sysLoggerBody
	default:
		return genericWorkerBody
	}
}

// genericWorkerBody covers every kind without a specialized body: it idles
// until the process receives a termination signal, which is the only
// behavior the supervisor's state machine actually depends on.
func genericWorkerBody(p *launcher.Payload, h *shmem.Handle) error {
	defer h.Destroy()
	select {}
}

// sysLoggerBody never exits on its own; the supervisor treats any exit of
// this kind as an immediate respawn candidate ahead of reaping anything
// else (spec.md §4.5's ordering), so it deliberately has no shutdown path
// besides a signal.
func sysLoggerBody(p *launcher.Payload, h *shmem.Handle) error {
	defer h.Destroy()
	for {
		time.Sleep(time.Hour)
	}
}
