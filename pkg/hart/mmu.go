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

package hart

import (
	"encoding/binary"
)

type access int

const (
	accessFetch access = iota
	accessLoad
	accessStore
)

const (
	pageShift = 12
	pageSize  = 1 << pageShift
	pageMask  = pageSize - 1

	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4

	ppnMask = 1<<44 - 1
)

func (a access) pageFault(va uint64) *exception {
	switch a {
	case accessFetch:
		return &exception{CauseInstructionPageFault, va}
	case accessLoad:
		return &exception{CauseLoadPageFault, va}
	default:
		return &exception{CauseStorePageFault, va}
	}
}

func (a access) accessFault(va uint64) *exception {
	switch a {
	case accessFetch:
		return &exception{CauseInstructionAccessFault, va}
	case accessLoad:
		return &exception{CauseLoadAccessFault, va}
	default:
		return &exception{CauseStoreAccessFault, va}
	}
}

// canonical returns true if bits 63..39 of va equal bit 38.
func canonical(va uint64) bool {
	top := int64(va) >> 38
	return top == 0 || top == -1
}

// Translate walks the page tables selected by satp for va as the current
// privilege level would. Accessed and dirty bits are treated as always set
// and are never written.
func (h *Hart) translate(va uint64, acc access) (uint64, *exception) {
	if h.Satp>>60 == 0 {
		return va, nil
	}
	if !canonical(va) {
		return 0, acc.pageFault(va)
	}
	a := (h.Satp & ppnMask) << pageShift
	for level := 2; level >= 0; level-- {
		idx := (va >> (pageShift + 9*uint(level))) & 0x1ff
		b, ok := h.mem.Slice(a+idx*8, 8)
		if !ok {
			return 0, acc.accessFault(va)
		}
		pte := binary.LittleEndian.Uint64(b)
		if pte&pteV == 0 || (pte&pteR == 0 && pte&pteW != 0) {
			return 0, acc.pageFault(va)
		}
		ppn := (pte >> 10) & ppnMask
		if pte&(pteR|pteX) == 0 {
			a = ppn << pageShift
			continue
		}

		// Leaf.
		switch acc {
		case accessFetch:
			if pte&pteX == 0 {
				return 0, acc.pageFault(va)
			}
		case accessLoad:
			if pte&pteR == 0 && (h.Sstatus&SstatusMXR == 0 || pte&pteX == 0) {
				return 0, acc.pageFault(va)
			}
		case accessStore:
			if pte&pteW == 0 {
				return 0, acc.pageFault(va)
			}
		}
		if h.Mode == ModeUser {
			if pte&pteU == 0 {
				return 0, acc.pageFault(va)
			}
		} else if pte&pteU != 0 {
			if acc == accessFetch || h.Sstatus&SstatusSUM == 0 {
				return 0, acc.pageFault(va)
			}
		}
		span := uint64(1) << (9 * uint(level))
		if ppn&(span-1) != 0 {
			// Misaligned superpage.
			return 0, acc.pageFault(va)
		}
		return ppn<<pageShift | va&(span<<pageShift-1), nil
	}
	return 0, acc.pageFault(va)
}

// fetch reads the instruction at pc.
func (h *Hart) fetch() (uint32, *exception) {
	if h.PC&3 != 0 {
		return 0, &exception{CauseInstructionMisaligned, h.PC}
	}
	pa, exc := h.translate(h.PC, accessFetch)
	if exc != nil {
		return 0, exc
	}
	b, ok := h.mem.Slice(pa, 4)
	if !ok {
		return 0, accessFetch.accessFault(h.PC)
	}
	return binary.LittleEndian.Uint32(b), nil
}

// pieces translates [va, va+n) into physical slices, one per page touched.
// Nothing is returned unless the whole range is accessible.
func (h *Hart) pieces(va uint64, n int, acc access) ([][]byte, *exception) {
	var out [][]byte
	for n > 0 {
		c := pageSize - int(va&pageMask)
		if c > n {
			c = n
		}
		pa, exc := h.translate(va, acc)
		if exc != nil {
			return nil, exc
		}
		b, ok := h.mem.Slice(pa, uint64(c))
		if !ok {
			return nil, acc.accessFault(va)
		}
		out = append(out, b)
		va += uint64(c)
		n -= c
	}
	return out, nil
}

// load reads size bytes at va, zero extended.
func (h *Hart) load(va uint64, size int) (uint64, *exception) {
	ps, exc := h.pieces(va, size, accessLoad)
	if exc != nil {
		return 0, exc
	}
	var buf [8]byte
	off := 0
	for _, p := range ps {
		off += copy(buf[off:], p)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// store writes the low size bytes of v at va.
func (h *Hart) store(va uint64, size int, v uint64) *exception {
	ps, exc := h.pieces(va, size, accessStore)
	if exc != nil {
		return exc
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	off := 0
	for _, p := range ps {
		off += copy(p, buf[off:size])
	}
	if h.reservationValid && h.reservation&^7 == va&^7 {
		h.reservationValid = false
	}
	return nil
}

// Translate is the debugging view of the MMU: it returns the physical
// address the current mode would use to access va, or false.
func (h *Hart) Translate(va uint64, write bool) (uint64, bool) {
	acc := accessLoad
	if write {
		acc = accessStore
	}
	pa, exc := h.translate(va, acc)
	return pa, exc == nil
}
