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
	"fmt"

	"github.com/syndtr/gocapability/capability"
)

// DropToMinimal clears every capability from the calling process except
// those in keep. Called by childmain right after a spawned child reattaches
// to shared memory and before it runs any per-kind worker body, mirroring
// the teacher's sandbox-process capability trim (runsc/sandbox/sandbox.go,
// around its AmbientCaps handling) but applied in-process with
// syndtr/gocapability rather than via SysProcAttr, since by this point the
// process issuing the drop is the child itself, not its exec'ing parent.
func DropToMinimal(keep ...capability.Cap) error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("drop capabilities: load current set: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("drop capabilities: load current set: %w", err)
	}

	caps.Clear(capability.CAPS | capability.BOUNDING | capability.AMBIENT)
	for _, c := range keep {
		caps.Set(capability.CAPS|capability.BOUNDING|capability.AMBIENT, c)
	}

	if err := caps.Apply(capability.CAPS | capability.BOUNDING | capability.AMBIENT); err != nil {
		return fmt.Errorf("drop capabilities: apply: %w", err)
	}
	return nil
}
