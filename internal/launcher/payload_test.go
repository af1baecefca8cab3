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

package launcher

import (
	"testing"

	"github.com/cortexdb/postmaster/internal/childkind"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := &Payload{
		Kind:        childkind.Checkpointer,
		Slot:        3,
		CancelToken: 42,
		ShmemFD:     3,
		ShmemSize:   4096,
		Extra:       map[string]string{"foo": "bar"},
	}
	enc, err := p.Encode()
	require.NoError(t, err)

	got, err := DecodePayload(enc)
	require.NoError(t, err)
	require.Equal(t, p.Kind, got.Kind)
	require.Equal(t, p.Slot, got.Slot)
	require.Equal(t, p.CancelToken, got.CancelToken)
	require.Equal(t, p.Extra, got.Extra)
}

func TestCloneTemplateIsIndependent(t *testing.T) {
	tmpl := &Payload{Kind: childkind.Session, Extra: map[string]string{"a": "1"}}
	clone := CloneTemplate(tmpl)
	clone.Slot = 7
	clone.Extra["a"] = "2"

	require.Equal(t, 0, tmpl.Slot)
	require.Equal(t, "1", tmpl.Extra["a"])
	require.Equal(t, 7, clone.Slot)
	require.Equal(t, "2", clone.Extra["a"])
}
