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

// Package cli is the supervisor's entrypoint, mirroring the teacher's
// runsc/cli package: register every subcommand, parse flags, build the
// resolved Config, then dispatch.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/cortexdb/postmaster/internal/cli/cmd"
	"github.com/cortexdb/postmaster/internal/config"
	"github.com/cortexdb/postmaster/internal/log"
	"github.com/google/subcommands"
)

// configFileFlagName is the one flag Main itself owns; every other
// configuration variable is registered by config.RegisterFlags.
const configFileFlagName = "config-file"

// Main is the process entrypoint, called from cmd/postmaster/main.go the
// way runsc/main.go calls cli.Main.
func Main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")

	subcommands.Register(new(cmd.Supervise), "")
	subcommands.Register(new(cmd.Bootstrap), "")
	subcommands.Register(new(cmd.Check), "")
	subcommands.Register(new(cmd.DescribeConfig), "")
	subcommands.Register(new(cmd.SingleUser), "")
	subcommands.Register(new(cmd.SpawnChild), "internal use only")
	subcommands.Register(new(cmd.PrintConfigVariable), "")
	subcommands.Register(new(cmd.Version), "")

	configFile := flag.String(configFileFlagName, "", "path to a TOML configuration file")

	cfg := config.Default()
	config.RegisterFlags(flag.CommandLine, &cfg)

	flag.Parse()

	if *configFile != "" {
		if err := config.LoadTOML(*configFile, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		// Flags still win over the file: re-parse so a flag given on the
		// command line overrides whatever the file just set, matching the
		// teacher's "file defaults, flags win" layering.
		flag.CommandLine.Parse(os.Args[1:])
	}

	log.SetLevel(cfg.Debug)
	if cfg.LogFormat == "json" {
		log.SetJSON()
	}

	// spec.md §6: "mode selector as the first argument, implicit supervise
	// when none given". Global flags (config.RegisterFlags, --config-file)
	// must still precede the mode name, matching the teacher's "global
	// flags before the subcommand" convention; flag.Parse has already
	// consumed those, so an empty remaining argument list means no mode was
	// named and Supervise runs directly rather than through the
	// subcommands dispatcher, which requires a named subcommand.
	mode := flag.Arg(0)
	if mode == "" {
		mode = "supervise"
	}

	if os.Getuid() == 0 && !isReadOnlyMode(mode) {
		fmt.Fprintln(os.Stderr, "postmaster: refusing to run as root except in a read-only mode (check, describe-config, print-config-variable, version, help)")
		os.Exit(2)
	}

	if flag.NArg() == 0 {
		sup := new(cmd.Supervise)
		fs := flag.NewFlagSet("supervise", flag.ExitOnError)
		sup.SetFlags(fs)
		fs.Parse(nil)
		os.Exit(int(sup.Execute(context.Background(), fs, &cfg)))
	}

	status := subcommands.Execute(context.Background(), &cfg)
	os.Exit(int(status))
}

func isReadOnlyMode(name string) bool {
	switch name {
	case "check", "describe-config", "print-config-variable", "version", "help", "flags", "":
		return true
	default:
		return false
	}
}
