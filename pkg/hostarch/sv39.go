// Copyright 2019 The gVisor Authors.
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

package hostarch

import "fmt"

// Sv39 geometry.
const (
	// Levels is the number of page table levels.
	Levels = 3

	// EntriesPerTable is the number of entries in each page table node.
	EntriesPerTable = 512

	// VPNBits is the width of a virtual page number.
	VPNBits = 27

	// PPNBits is the width of a physical page number.
	PPNBits = 44

	// MaxVPN is the largest virtual page number.
	MaxVPN VPN = 1<<VPNBits - 1

	// UserVPNLimit is the first page number that belongs to the upper,
	// kernel half of the address space. User mappings live strictly below.
	UserVPNLimit VPN = 1 << (VPNBits - 1)

	// PortalVPN is the page at which the portal is mapped in every address
	// space.
	PortalVPN = MaxVPN
)

// VPN is a virtual page number.
type VPN uint64

// PPN is a physical page number.
type PPN uint64

// Base returns the canonical (sign-extended) address of the first byte of
// the page.
func (v VPN) Base() Addr {
	a := uint64(v&MaxVPN) << PageShift
	if a&(1<<(VPNBits+PageShift-1)) != 0 {
		a |= ^uint64(1<<(VPNBits+PageShift) - 1)
	}
	return Addr(a)
}

// Index returns the 9-bit index of v in a node at the given level, where
// level 2 is the root.
func (v VPN) Index(level int) int {
	return int(v>>(9*uint(level))) & (EntriesPerTable - 1)
}

// Add returns v advanced by n pages.
func (v VPN) Add(n uint64) VPN {
	return v + VPN(n)
}

// IsUser returns true if v lies in the user half of the address space.
func (v VPN) IsUser() bool {
	return v < UserVPNLimit
}

// String implements fmt.Stringer.String.
func (v VPN) String() string {
	return fmt.Sprintf("vpn:%#x", uint64(v))
}

// Addr returns the physical address of the first byte of the page.
func (p PPN) Addr() uint64 {
	return uint64(p) << PageShift
}

// String implements fmt.Stringer.String.
func (p PPN) String() string {
	return fmt.Sprintf("ppn:%#x", uint64(p))
}

// PPNOf returns the physical page holding the physical address pa.
func PPNOf(pa uint64) PPN {
	return PPN(pa >> PageShift)
}

// IsCanonical returns true if bits 63..39 of addr all equal bit 38, as Sv39
// requires of every virtual address.
func IsCanonical(addr uint64) bool {
	top := int64(addr) >> (VPNBits + PageShift - 1)
	return top == 0 || top == -1
}

// VPNRange is a half-open range of pages.
type VPNRange struct {
	Start VPN
	End   VPN
}

// Len returns the number of pages in the range.
func (r VPNRange) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// Contains returns true if v is in the range.
func (r VPNRange) Contains(v VPN) bool {
	return r.Start <= v && v < r.End
}

// Overlaps returns true if r and o share a page.
func (r VPNRange) Overlaps(o VPNRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// String implements fmt.Stringer.String.
func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}
