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
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/ring0/pagetables"
)

// MapOpts are options for Map and MapWithAllocation.
type MapOpts struct {
	// Access is the access permitted to user code. It must not be empty.
	Access hostarch.AccessType

	// Hint names the area in Maps output.
	Hint string
}

// checkRange validates a user range.
func checkRange(r hostarch.VPNRange) error {
	if r.Start >= r.End || r.End > hostarch.UserVPNLimit {
		return tgerr.EINVAL
	}
	return nil
}

// overlappingLocked returns the areas that intersect r, in order.
//
// Preconditions: as.mu is locked.
func (as *AddressSpace) overlappingLocked(r hostarch.VPNRange) []area {
	var out []area
	// The area starting at or before r.Start may extend into r.
	as.areas.DescendLessOrEqual(area{start: r.Start}, func(a area) bool {
		if a.end > r.Start {
			out = append(out, a)
		}
		return false
	})
	as.areas.AscendRange(area{start: r.Start + 1}, area{start: r.End}, func(a area) bool {
		out = append(out, a)
		return true
	})
	return out
}

// Mapped returns true if any page in r is mapped.
func (as *AddressSpace) Mapped(r hostarch.VPNRange) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	return len(as.overlappingLocked(r)) > 0
}

// pageOpts returns the leaf options for an area. Sv39 reserves write-only
// entries, so write access implies read access.
func (o MapOpts) pageOpts(owned bool) pagetables.MapOpts {
	return pagetables.MapOpts{AccessType: o.access(), User: true, Owned: owned}
}

func (o MapOpts) access() hostarch.AccessType {
	at := o.Access
	if at.Write {
		at.Read = true
	}
	return at
}

// Map maps the pages in r to the consecutive frames starting at ppn. The
// frames are not owned by the address space: they are not freed by Unmap
// or Release, and Fork shares them.
func (as *AddressSpace) Map(r hostarch.VPNRange, ppn hostarch.PPN, opts MapOpts) error {
	if err := checkRange(r); err != nil {
		return err
	}
	if !opts.Access.Any() {
		return tgerr.EINVAL
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if len(as.overlappingLocked(r)) > 0 {
		return tgerr.EINVAL
	}
	if _, err := as.pt.Map(r, ppn, opts.pageOpts(false)); err != nil {
		as.pt.Unmap(r, nil)
		return tgerr.ENOMEM
	}
	as.areas.ReplaceOrInsert(area{start: r.Start, end: r.End, at: opts.access(), hint: opts.Hint})
	return nil
}

// MapWithAllocation maps every page in r to a newly allocated zeroed frame
// owned by the address space. On failure nothing is mapped.
func (as *AddressSpace) MapWithAllocation(r hostarch.VPNRange, opts MapOpts) error {
	if err := checkRange(r); err != nil {
		return err
	}
	if !opts.Access.Any() {
		return tgerr.EINVAL
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if len(as.overlappingLocked(r)) > 0 {
		return tgerr.EINVAL
	}
	if err := as.allocateLocked(r, opts.pageOpts(true), nil); err != nil {
		return err
	}
	as.areas.ReplaceOrInsert(area{start: r.Start, end: r.End, at: opts.access(), owned: true, hint: opts.Hint})
	return nil
}

// allocateLocked maps a fresh frame at every page of r. If fill is not nil
// it is called to initialize each frame. On failure every page mapped by
// this call is unmapped and freed again.
//
// Preconditions: as.mu is locked; r is not mapped.
func (as *AddressSpace) allocateLocked(r hostarch.VPNRange, opts pagetables.MapOpts, fill func(vpn hostarch.VPN, frame []byte)) error {
	for vpn := r.Start; vpn < r.End; vpn++ {
		ppn, err := as.mem.Allocate()
		if err == nil {
			if fill != nil {
				fill(vpn, as.mem.Frame(ppn))
			}
			if _, err = as.pt.Map(hostarch.VPNRange{Start: vpn, End: vpn + 1}, ppn, opts); err != nil {
				as.mem.Free(ppn)
			}
		}
		if err != nil {
			log.Debugf("Out of memory mapping %v at page %v", r, vpn)
			as.pt.Unmap(hostarch.VPNRange{Start: r.Start, End: vpn}, as.freeOwned)
			return tgerr.ENOMEM
		}
	}
	return nil
}

// Unmap removes every page in r. It fails with EINVAL, changing nothing, if
// any page in r is not mapped. Owned frames are freed.
func (as *AddressSpace) Unmap(r hostarch.VPNRange) error {
	if err := checkRange(r); err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.unmapLocked(r)
}

// unmapLocked implements Unmap.
//
// Preconditions: as.mu is locked.
func (as *AddressSpace) unmapLocked(r hostarch.VPNRange) error {
	over := as.overlappingLocked(r)
	var covered uint64
	for _, a := range over {
		lo, hi := a.start, a.end
		if lo < r.Start {
			lo = r.Start
		}
		if hi > r.End {
			hi = r.End
		}
		covered += uint64(hi - lo)
	}
	if covered != r.Len() {
		return tgerr.EINVAL
	}
	as.removeLocked(r, over)
	return nil
}

// removeLocked unmaps whatever part of r is mapped. over must be the areas
// overlapping r.
//
// Preconditions: as.mu is locked.
func (as *AddressSpace) removeLocked(r hostarch.VPNRange, over []area) {
	for _, a := range over {
		as.areas.Delete(a)
		if a.start < r.Start {
			left := a
			left.end = r.Start
			as.areas.ReplaceOrInsert(left)
		}
		if a.end > r.End {
			right := a
			right.start = r.End
			as.areas.ReplaceOrInsert(right)
		}
	}
	as.pt.Unmap(r, as.freeOwned)
}

// Translate returns the physical address user code would reach at addr
// with access at. It fails if the page is absent, not user-accessible, or
// does not permit at.
func (as *AddressSpace) Translate(addr hostarch.Addr, at hostarch.AccessType) (uint64, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.translateLocked(addr, at)
}

// translateLocked implements Translate.
//
// Preconditions: as.mu is locked.
func (as *AddressSpace) translateLocked(addr hostarch.Addr, at hostarch.AccessType) (uint64, bool) {
	if as.pt == nil || !hostarch.IsCanonical(uint64(addr)) {
		return 0, false
	}
	pte, ok := as.pt.Lookup(addr.VPN())
	if !ok || pte.Flags()&pagetables.User == 0 || !pte.AccessType().SupersetOf(at) {
		return 0, false
	}
	return pte.PPN().Addr() + addr.PageOffset(), true
}

// FindFree searches downward from below for n free pages, trying starts at
// below-n, below-n-step, and so on. It returns the range found.
func (as *AddressSpace) FindFree(below hostarch.VPN, n, step uint64) (hostarch.VPNRange, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if n == 0 || step == 0 {
		return hostarch.VPNRange{}, false
	}
	for end := below; uint64(end) >= n; end -= hostarch.VPN(step) {
		r := hostarch.VPNRange{Start: end - hostarch.VPN(n), End: end}
		if r.Start == 0 {
			// Page zero stays unmapped.
			break
		}
		if len(as.overlappingLocked(r)) == 0 {
			return r, true
		}
		if uint64(end) < step {
			break
		}
	}
	return hostarch.VPNRange{}, false
}
