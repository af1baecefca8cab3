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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadTOMLOverridesOnlyPresentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "postmaster.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
port = 6543
debug = true
`), 0o644))

	cfg := Default()
	require.NoError(t, LoadTOML(path, &cfg))

	require.Equal(t, 6543, cfg.Port)
	require.True(t, cfg.Debug)
	require.Equal(t, Default().MaxSessions, cfg.MaxSessions)
	require.Equal(t, Default().ListenAddresses, cfg.ListenAddresses)
}

func TestLoadTOMLMissingFileErrors(t *testing.T) {
	cfg := Default()
	err := LoadTOML(filepath.Join(t.TempDir(), "missing.toml"), &cfg)
	require.Error(t, err)
}

func TestRegisterFlagsOverridesDefaults(t *testing.T) {
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs, &cfg)

	require.NoError(t, fs.Parse([]string{"--port=7000", "--max-connections=250"}))
	require.Equal(t, 7000, cfg.Port)
	require.Equal(t, 250, cfg.MaxSessions)
	require.Equal(t, Default().DataDir, cfg.DataDir)
}

func TestPrintVariableFindsAndMisses(t *testing.T) {
	cfg := Default()
	val, ok := PrintVariable(cfg, "max_connections")
	require.True(t, ok)
	require.Equal(t, "100", val)

	_, ok = PrintVariable(cfg, "does_not_exist")
	require.False(t, ok)
}

func TestToFlagsRoundTripsThroughRegisterFlags(t *testing.T) {
	cfg := Default()
	cfg.Port = 9999
	cfg.RestartAfterCrash = false

	args := ToFlags(cfg)

	reparsed := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs, &reparsed)
	require.NoError(t, fs.Parse(args))

	require.Equal(t, cfg.Port, reparsed.Port)
	require.Equal(t, cfg.RestartAfterCrash, reparsed.RestartAfterCrash)
}

func TestEnsureDataDirExistsRejectsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notadir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	cfg := Default()
	cfg.DataDir = file
	require.Error(t, EnsureDataDirExists(cfg))

	cfg.DataDir = dir
	require.NoError(t, EnsureDataDirExists(cfg))
}
