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

package admit

import (
	"testing"

	"github.com/cortexdb/postmaster/internal/childkind"
	"github.com/cortexdb/postmaster/internal/lifecycle"
	"github.com/stretchr/testify/require"
)

func testLimits() Limits {
	return Limits{MaxSessions: 10, MaxAutoVac: 2, MaxWalSenders: 2, MaxBgWorkers: 1}
}

func TestDecideRejectsNonServingState(t *testing.T) {
	a := New(testLimits())
	v := a.Decide(lifecycle.Startup, lifecycle.ShutdownNone, childkind.Session, RegistrySnapshot{})
	require.Equal(t, RejectStartup, v)
	require.NotEmpty(t, v.Reason())
}

func TestDecideBgWorkerBypassesStateCheck(t *testing.T) {
	a := New(testLimits())
	v := a.Decide(lifecycle.Startup, lifecycle.ShutdownNone, childkind.BgWorker, RegistrySnapshot{})
	require.Equal(t, OK, v)
}

func TestDecideRejectsTooMany(t *testing.T) {
	a := New(testLimits())
	ceiling := testLimits().Ceiling()
	v := a.Decide(lifecycle.Run, lifecycle.ShutdownNone, childkind.Session, RegistrySnapshot{LiveChildren: ceiling})
	require.Equal(t, RejectTooMany, v)
}

func TestDecideRejectsSessionDuringSmartShutdown(t *testing.T) {
	a := New(testLimits())
	v := a.Decide(lifecycle.Run, lifecycle.ShutdownSmart, childkind.Session, RegistrySnapshot{})
	require.Equal(t, RejectSmartShutdown, v)
}

func TestDecideAllowsBgWorkerDuringSmartShutdown(t *testing.T) {
	a := New(testLimits())
	v := a.Decide(lifecycle.Run, lifecycle.ShutdownSmart, childkind.BgWorker, RegistrySnapshot{})
	require.Equal(t, OK, v)
}

func TestNewCancelTokenIsNonDeterministic(t *testing.T) {
	a, err := NewCancelToken()
	require.NoError(t, err)
	b, err := NewCancelToken()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
