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

	"github.com/cortexdb/postmaster/internal/config"
	"github.com/google/subcommands"
)

// Supervise implements subcommands.Command for the implicit default mode
// spec.md §6 describes ("mode selector as the first argument, implicit
// supervise when none given"): Main registers it as "supervise" and, when
// no mode is named, runs it directly instead of through the dispatcher.
type Supervise struct {
	dryRun bool
}

func (*Supervise) Name() string     { return "supervise" }
func (*Supervise) Synopsis() string { return "run the supervisor (default when no mode is given)" }
func (*Supervise) Usage() string {
	return `supervise [flags] - provision shared state and run until shutdown.
`
}

func (s *Supervise) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.dryRun, "dry-run", false, "provision and validate without starting the event loop")
}

func (s *Supervise) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg := args[0].(*config.Config)
	return runSupervisorProcess(cfg, s.dryRun)
}
