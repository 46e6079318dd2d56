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

// Package mm provides the address space of a user process.
//
// An AddressSpace owns a set of Sv39 page tables and records every mapping
// as an area: a contiguous range of pages with one set of permissions. An
// area is either owned, in which case its frames were allocated for it and
// are freed with it, or extern, in which case the frames belong to someone
// else (a device, for instance) and are only referenced.
//
// Every AddressSpace maps the portal page at hostarch.PortalVPN. That page
// is not an area and cannot be unmapped through this package.
//
// Lock order:
//
//	AddressSpace.mu
//	  pagetables.PageTables.mu
package mm

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/ring0/pagetables"
	"tgos.dev/tgos/pkg/sentry/pgalloc"
	"tgos.dev/tgos/pkg/sentry/platform"
)

// Machine is the part of the platform an address space needs.
type Machine interface {
	// Memory returns the physical memory frames come from.
	Memory() *pgalloc.MemoryFile

	// MapPortal installs the portal page into pt.
	MapPortal(pt *pagetables.PageTables) error
}

// area is a mapped range of pages.
type area struct {
	// start and end bound the area: [start, end).
	start, end hostarch.VPN

	// at is the access permitted to user code.
	at hostarch.AccessType

	// owned is true if the frames are freed with the area.
	owned bool

	// hint names the area in Maps output.
	hint string
}

func (a area) vpns() hostarch.VPNRange {
	return hostarch.VPNRange{Start: a.start, End: a.end}
}

func areaLess(a, b area) bool {
	return a.start < b.start
}

// btreeDegree is the degree of the area tree.
const btreeDegree = 8

// AddressSpace is the address space of one process.
type AddressSpace struct {
	machine Machine
	mem     *pgalloc.MemoryFile

	// mu protects the fields below.
	mu sync.Mutex

	// pt is the page table. It is nil after Release.
	pt *pagetables.PageTables

	// areas is the set of areas, ordered by start. Areas never overlap.
	areas *btree.BTreeG[area]

	// brkBase and brk bound the heap: [brkBase, brk). The heap's pages
	// are those of the owned area that starts at brkBase's page.
	brkBase, brk hostarch.Addr
}

var _ platform.AddressSpace = (*AddressSpace)(nil)

// New returns an empty address space with the portal mapped.
func New(m Machine) (*AddressSpace, error) {
	pt, err := pagetables.New(m.Memory())
	if err != nil {
		return nil, tgerr.ENOMEM
	}
	if err := m.MapPortal(pt); err != nil {
		pt.Release(nil)
		return nil, fmt.Errorf("mapping portal: %w", err)
	}
	return &AddressSpace{
		machine: m,
		mem:     m.Memory(),
		pt:      pt,
		areas:   btree.NewG(btreeDegree, areaLess),
	}, nil
}

// SATP implements platform.AddressSpace.SATP.
func (as *AddressSpace) SATP() uint64 {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pt.SATP()
}

// PageTables returns the page tables of the address space.
func (as *AddressSpace) PageTables() *pagetables.PageTables {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pt
}

// Release frees every owned frame, then the page table nodes and root. The
// address space must not be used afterwards.
func (as *AddressSpace) Release() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.pt == nil {
		return
	}
	as.pt.Release(as.freeOwned)
	as.pt = nil
	as.areas.Clear(false)
}

// freeOwned is an unmap callback that frees owned frames.
func (as *AddressSpace) freeOwned(_ hostarch.VPN, pte pagetables.PTE) {
	if pte.Flags()&pagetables.Owned != 0 {
		as.mem.Free(pte.PPN())
	}
}

// Area describes one mapped range, for inspection.
type Area struct {
	Range  hostarch.VPNRange
	Access hostarch.AccessType
	Owned  bool
	Hint   string
}

// Areas returns every area in ascending order.
func (as *AddressSpace) Areas() []Area {
	as.mu.Lock()
	defer as.mu.Unlock()
	var out []Area
	as.areas.Ascend(func(a area) bool {
		out = append(out, Area{Range: a.vpns(), Access: a.at, Owned: a.owned, Hint: a.hint})
		return true
	})
	return out
}

// Pages returns the number of mapped user pages.
func (as *AddressSpace) Pages() uint64 {
	as.mu.Lock()
	defer as.mu.Unlock()
	var n uint64
	as.areas.Ascend(func(a area) bool {
		n += a.vpns().Len()
		return true
	})
	return n
}
