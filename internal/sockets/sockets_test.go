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

package sockets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBringUpTCPAndUnix(t *testing.T) {
	dir := t.TempDir()
	unixPath := filepath.Join(dir, "s.sock")

	specs := []Spec{
		{Network: "tcp4", Address: "127.0.0.1:0"},
		{Network: "unix", Address: unixPath},
	}

	set, err := Bring(context.Background(), specs)
	require.NoError(t, err)
	defer set.Close()

	require.Len(t, set.Listeners(), 2)

	_, err = os.Stat(unixPath)
	require.NoError(t, err)
}

func TestBringRejectsTooManyListeners(t *testing.T) {
	specs := make([]Spec, MaxListeners+1)
	for i := range specs {
		specs[i] = Spec{Network: "tcp4", Address: "127.0.0.1:0"}
	}
	_, err := Bring(context.Background(), specs)
	require.Error(t, err)
}

func TestCloseThenRemoveUnixSockets(t *testing.T) {
	dir := t.TempDir()
	unixPath := filepath.Join(dir, "s.sock")

	set, err := Bring(context.Background(), []Spec{{Network: "unix", Address: unixPath}})
	require.NoError(t, err)

	require.NoError(t, set.Close())
	require.NoError(t, set.RemoveUnixSockets())

	_, err = os.Stat(unixPath)
	require.True(t, os.IsNotExist(err))
}
