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

	"github.com/cortexdb/postmaster/internal/childmain"
	"github.com/google/subcommands"
)

// SpawnChild implements subcommands.Command for the "spawn-child" mode:
// the far side of internal/launcher.SpawnLauncher's re-exec handshake
// (spec.md §6, "spawn-child for spawn-and-reattach"). It is never invoked
// by a human; SpawnLauncher.Launch builds its own exec.Cmd with this as
// argv[1].
type SpawnChild struct{}

func (*SpawnChild) Name() string     { return "spawn-child" }
func (*SpawnChild) Synopsis() string { return "internal: reattach to shared memory and run a child body" }
func (*SpawnChild) Usage() string {
	return `spawn-child - internal use only, invoked by the supervisor's own launcher.
`
}

func (*SpawnChild) SetFlags(*flag.FlagSet) {}

func (*SpawnChild) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if err := childmain.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
