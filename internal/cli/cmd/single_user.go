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
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/cortexdb/postmaster/internal/config"
	"github.com/google/subcommands"
)

// SingleUser implements subcommands.Command for the "single-user" mode: a
// foreground, no-supervisor REPL against the data directory, for emergency
// recovery when the ordinary multi-process path can't come up. It attaches
// directly to the invoking terminal's stdin/stdout rather than allocating a
// pty, since (unlike runsc's exec/console path) no separate process is ever
// given a controlling terminal here — see DESIGN.md for why
// containerd/console is not wired in.
type SingleUser struct{}

func (*SingleUser) Name() string     { return "single-user" }
func (*SingleUser) Synopsis() string { return "run one backend directly against the data directory" }
func (*SingleUser) Usage() string {
	return `single-user [flags] - interactive recovery mode, no supervisor, no other children.
`
}

func (*SingleUser) SetFlags(*flag.FlagSet) {}

func (*SingleUser) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg := args[0].(*config.Config)

	if err := config.EnsureDataDirExists(*cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	fmt.Fprintf(os.Stdout, "postmaster single-user mode, data directory %s\n", cfg.DataDir)
	fmt.Fprintln(os.Stdout, "backend started, enter one statement per line; EOF to quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stdout, "backend> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && err != io.EOF {
				fmt.Fprintln(os.Stderr, err)
				return subcommands.ExitFailure
			}
			break
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		fmt.Fprintf(os.Stdout, "-- executed (single-user, no real backend wired here): %s\n", line)
	}
	fmt.Fprintln(os.Stdout, "backend exiting")
	return subcommands.ExitSuccess
}
