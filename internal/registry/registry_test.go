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

package registry

import (
	"testing"

	"github.com/cortexdb/postmaster/internal/childkind"
	"github.com/stretchr/testify/require"
)

func TestAddFindRemove(t *testing.T) {
	r := New()
	r.Add(&Record{Pid: 100, Kind: childkind.Session})
	r.Add(&Record{Pid: 101, Kind: childkind.Session})
	r.Add(&Record{Pid: 200, Kind: childkind.BgWorker})

	require.Equal(t, 3, r.Len())
	require.NotNil(t, r.Find(100))
	require.Equal(t, childkind.Session, r.Find(100).Kind)
	require.Nil(t, r.Find(999))

	r.Remove(100)
	require.Nil(t, r.Find(100))
	require.Equal(t, 2, r.Len())
}

func TestCountAndIterMask(t *testing.T) {
	r := New()
	r.Add(&Record{Pid: 1, Kind: childkind.Session})
	r.Add(&Record{Pid: 2, Kind: childkind.Session})
	r.Add(&Record{Pid: 3, Kind: childkind.AutoVacWorker})
	r.Add(&Record{Pid: 4, Kind: childkind.Checkpointer})

	mask := childkind.MaskOf(childkind.Session, childkind.AutoVacWorker)
	require.Equal(t, 3, r.Count(mask))

	var seen []int
	r.Iter(mask, func(rec *Record) { seen = append(seen, rec.Pid) })
	require.ElementsMatch(t, []int{1, 2, 3}, seen)
}

func TestCountWhereAndExemptFromStopBackends(t *testing.T) {
	r := New()
	r.Add(&Record{Pid: 1, Kind: childkind.Session, IsWalSender: true})
	r.Add(&Record{Pid: 2, Kind: childkind.Session, IsWalSender: false})
	r.Add(&Record{Pid: 3, Kind: childkind.Archiver})
	r.Add(&Record{Pid: 4, Kind: childkind.WalReceiver})
	r.Add(&Record{Pid: 5, Kind: childkind.SlotSync})

	require.Equal(t, 2, r.CountWhere(ExemptFromStopBackends))

	var signaled []int
	r.IterWhere(func(rec *Record) bool { return !ExemptFromStopBackends(rec) },
		func(rec *Record) { signaled = append(signaled, rec.Pid) })
	require.ElementsMatch(t, []int{2, 4, 5}, signaled)
}

func TestAllSnapshot(t *testing.T) {
	r := New()
	r.Add(&Record{Pid: 1, Kind: childkind.Startup})
	r.Add(&Record{Pid: 2, Kind: childkind.Checkpointer})
	all := r.All()
	require.Len(t, all, 2)
}
