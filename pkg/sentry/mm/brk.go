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
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/hostarch"
)

// heapHint names the heap in Maps output.
const heapHint = "[heap]"

// SetBrk places an empty heap at base, which must be page aligned and
// unmapped. Any previous heap is forgotten, not unmapped.
func (as *AddressSpace) SetBrk(base hostarch.Addr) error {
	if !base.IsPageAligned() || !base.VPN().IsUser() {
		return tgerr.EINVAL
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	as.brkBase, as.brk = base, base
	return nil
}

// Brk returns the current program break.
func (as *AddressSpace) Brk() hostarch.Addr {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.brk
}

// Sbrk moves the program break by delta bytes and returns the previous
// break. The break cannot move below the heap base. Pages entering the heap
// are zeroed; pages leaving it are freed.
func (as *AddressSpace) Sbrk(delta int64) (hostarch.Addr, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	old := as.brk
	if as.brkBase == 0 {
		return old, tgerr.ENOMEM
	}
	next := hostarch.Addr(int64(old) + delta)
	if (delta < 0 && next > old) || (delta > 0 && next < old) || next < as.brkBase {
		return old, tgerr.EINVAL
	}
	oldEnd, newEnd := pageEnd(old), pageEnd(next)
	if uint64(newEnd) > uint64(hostarch.UserVPNLimit)<<hostarch.PageShift {
		return old, tgerr.ENOMEM
	}
	switch {
	case newEnd > oldEnd:
		if err := as.growHeapLocked(oldEnd.VPN(), newEnd.VPN()); err != nil {
			return old, err
		}
	case newEnd < oldEnd:
		as.shrinkHeapLocked(newEnd.VPN(), oldEnd.VPN())
	}
	as.brk = next
	return old, nil
}

func pageEnd(a hostarch.Addr) hostarch.Addr {
	return a.MustRoundUp()
}

// growHeapLocked extends the heap area from from to to.
//
// Preconditions: as.mu is locked.
func (as *AddressSpace) growHeapLocked(from, to hostarch.VPN) error {
	r := hostarch.VPNRange{Start: from, End: to}
	if len(as.overlappingLocked(r)) > 0 {
		return tgerr.ENOMEM
	}
	opts := MapOpts{Access: hostarch.ReadWrite, Hint: heapHint}
	if err := as.allocateLocked(r, opts.pageOpts(true), nil); err != nil {
		return err
	}
	grown := area{start: from, end: to, at: opts.access(), owned: true, hint: heapHint}
	if prev, ok := as.areas.Get(area{start: as.brkBase.VPN()}); ok && prev.end == from && prev.hint == heapHint {
		// Extend the heap area in place.
		grown.start = prev.start
	}
	as.areas.ReplaceOrInsert(grown)
	return nil
}

// shrinkHeapLocked releases the heap pages in [from, to).
//
// Preconditions: as.mu is locked.
func (as *AddressSpace) shrinkHeapLocked(from, to hostarch.VPN) {
	r := hostarch.VPNRange{Start: from, End: to}
	as.removeLocked(r, as.overlappingLocked(r))
}
