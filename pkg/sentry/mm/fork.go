// Copyright 2023 The gVisor Authors.
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

package mm

import (
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/ring0/pagetables"
)

// Fork returns a copy of the address space. Owned areas are copied into new
// frames; extern areas map the same frames in both spaces. The heap bounds
// are inherited.
func (as *AddressSpace) Fork() (*AddressSpace, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	child, err := New(as.machine)
	if err != nil {
		return nil, err
	}
	child.brkBase, child.brk = as.brkBase, as.brk

	var ferr error
	as.areas.Ascend(func(a area) bool {
		ferr = as.forkAreaLocked(child, a)
		return ferr == nil
	})
	if ferr != nil {
		child.Release()
		return nil, ferr
	}
	log.Debugf("Forked address space: %d areas, %d frames free", child.areas.Len(), as.mem.FreeFrames())
	return child, nil
}

// forkAreaLocked reproduces a in child.
//
// Preconditions: as.mu is locked. child is not shared yet.
func (as *AddressSpace) forkAreaLocked(child *AddressSpace, a area) error {
	opts := pagetables.MapOpts{AccessType: a.at, User: true, Owned: a.owned}
	if a.owned {
		if err := child.allocateLocked(a.vpns(), opts, func(vpn hostarch.VPN, frame []byte) {
			if pte, ok := as.pt.Lookup(vpn); ok {
				copy(frame, as.mem.Frame(pte.PPN()))
			}
		}); err != nil {
			return err
		}
	} else {
		var err error
		as.pt.Walk(a.vpns(), func(vpn hostarch.VPN, pte pagetables.PTE) bool {
			_, err = child.pt.Map(hostarch.VPNRange{Start: vpn, End: vpn + 1}, pte.PPN(), opts)
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	child.areas.ReplaceOrInsert(a)
	return nil
}
