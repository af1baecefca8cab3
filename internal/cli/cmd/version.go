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

	"github.com/google/subcommands"
)

// BuildVersion is set by the linker (-ldflags "-X ...BuildVersion=...");
// it defaults to "devel" for a plain go build.
var BuildVersion = "devel"

// Version implements subcommands.Command for the "version" mode.
type Version struct{}

func (*Version) Name() string     { return "version" }
func (*Version) Synopsis() string { return "print version and exit" }
func (*Version) Usage() string {
	return `version - print version information.
`
}

func (*Version) SetFlags(*flag.FlagSet) {}

func (*Version) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stdout, "postmaster version %s\n", BuildVersion)
	return subcommands.ExitSuccess
}
