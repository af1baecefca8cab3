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

package shmem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizeAndInitRunsCallbacksInOrder(t *testing.T) {
	p := New()
	var order []string

	p.RegisterSubsystem("locks", func() uintptr { return 64 }, func(data []byte) error {
		order = append(order, "locks")
		data[0] = 1
		return nil
	})
	p.RegisterSubsystem("procarray", func() uintptr { return 128 }, func(data []byte) error {
		order = append(order, "procarray")
		return nil
	})

	h, err := p.SizeAndInit()
	require.NoError(t, err)
	defer h.Destroy()

	require.Equal(t, []string{"locks", "procarray"}, order)

	version, checksum := h.Header()
	require.Equal(t, headerVersion, version)
	require.NotZero(t, checksum)

	// Total size is rounded up to the page size.
	require.True(t, int(h.TotalSize)%unixPageSizeForTest() == 0)
}

func TestReinitRefusesWithLiveChildren(t *testing.T) {
	p := New()
	p.RegisterSubsystem("x", func() uintptr { return 8 }, nil)
	h, err := p.SizeAndInit()
	require.NoError(t, err)
	defer h.Destroy()

	_, err = p.Reinit(1)
	require.Error(t, err)

	h2, err := p.Reinit(0)
	require.NoError(t, err)
	defer h2.Destroy()
}

func unixPageSizeForTest() int {
	p := New()
	h, _ := p.SizeAndInit()
	defer h.Destroy()
	return h.pagesize
}
