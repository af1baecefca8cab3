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
	"github.com/google/subcommands"
)

// DescribeConfig implements subcommands.Command for the "describe-config"
// mode: dumps every configuration variable and its current value, the way
// the teacher's subcommands.FlagsCommand() dumps registered flags.
type DescribeConfig struct{}

func (*DescribeConfig) Name() string     { return "describe-config" }
func (*DescribeConfig) Synopsis() string { return "print every configuration variable and its value" }
func (*DescribeConfig) Usage() string {
	return `describe-config - print the resolved configuration.
`
}

func (*DescribeConfig) SetFlags(*flag.FlagSet) {}

func (*DescribeConfig) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg := args[0].(*config.Config)
	fmt.Fprint(os.Stdout, config.Describe(*cfg))
	return subcommands.ExitSuccess
}
