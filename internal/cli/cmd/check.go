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

	"github.com/cortexdb/postmaster/internal/config"
	"github.com/cortexdb/postmaster/internal/pmerror"
	"github.com/google/subcommands"
)

// Check implements subcommands.Command for the "check" mode: a read-only
// validation of the configuration and data directory, refused nothing a
// root user couldn't also run, per spec.md §6's "root execution is refused
// except for read-only modes".
type Check struct{}

func (*Check) Name() string     { return "check" }
func (*Check) Synopsis() string { return "validate configuration and data directory, then exit" }
func (*Check) Usage() string {
	return `check [flags] - validate configuration without starting anything.
`
}

func (*Check) SetFlags(*flag.FlagSet) {}

func (*Check) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg := args[0].(*config.Config)

	if err := config.EnsureDataDirExists(*cfg); err != nil {
		return fail(pmerror.ConfigWrap(err, "check"))
	}
	if cfg.MaxSessions <= 0 {
		return fail(pmerror.Config("check: max-connections must be positive, got %d", cfg.MaxSessions))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fail(pmerror.Config("check: port %d out of range", cfg.Port))
	}

	fmt.Fprintln(os.Stdout, "check: configuration OK")
	return subcommands.ExitSuccess
}
