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

package pagetables

import (
	"tgos.dev/tgos/pkg/hostarch"
)

// PTE is an Sv39 page table entry.
type PTE uint64

// Entry bits.
const (
	Valid      PTE = 1 << 0
	Readable   PTE = 1 << 1
	Writable   PTE = 1 << 2
	Executable PTE = 1 << 3
	User       PTE = 1 << 4
	Global     PTE = 1 << 5
	Accessed   PTE = 1 << 6
	Dirty      PTE = 1 << 7

	// Owned is a software bit: the frame was allocated for this mapping
	// and is freed with it.
	Owned PTE = 1 << 8

	flagsMask PTE = 1<<10 - 1
	ppnShift      = 10
	ppnMask   PTE = (1<<hostarch.PPNBits - 1) << ppnShift

	leafMask = Readable | Writable | Executable
)

const (
	entrySize = 8

	// SATPModeSv39 is the mode field of satp selecting Sv39 translation.
	SATPModeSv39 = uint64(8) << 60
)

// NewPTE returns an entry pointing at ppn with the given flags.
func NewPTE(ppn hostarch.PPN, flags PTE) PTE {
	return PTE(uint64(ppn)<<ppnShift)&ppnMask | flags&flagsMask
}

// Valid returns true iff this entry is valid.
func (p PTE) Valid() bool {
	return p&Valid != 0
}

// IsLeaf returns true iff this entry maps a page rather than pointing at
// the next level.
func (p PTE) IsLeaf() bool {
	return p&leafMask != 0
}

// PPN returns the physical page this entry points at.
func (p PTE) PPN() hostarch.PPN {
	return hostarch.PPN((p & ppnMask) >> ppnShift)
}

// Flags returns the low ten bits of the entry.
func (p PTE) Flags() PTE {
	return p & flagsMask
}

// AccessType returns the access permitted by a leaf entry.
func (p PTE) AccessType() hostarch.AccessType {
	return hostarch.AccessType{
		Read:    p&Readable != 0,
		Write:   p&Writable != 0,
		Execute: p&Executable != 0,
	}
}

// String renders the flags as a fixed-width string, highest bit first, with
// '_' for clear bits: a portal entry is "___G_XWRV".
func (p PTE) String() string {
	const names = "ODAGUXWRV"
	b := []byte(names)
	for i := range b {
		if p&(1<<(len(names)-1-i)) == 0 {
			b[i] = '_'
		}
	}
	return string(b)
}

// MapOpts are page table options passed to Map.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType hostarch.AccessType

	// User indicates the page is user-accessible.
	User bool

	// Global indicates the page is present in every address space.
	Global bool

	// Owned marks the mapped frame as belonging to the mapping.
	Owned bool
}

// Flags returns the entry bits for opts.
func (o MapOpts) Flags() PTE {
	f := Valid
	if o.AccessType.Read {
		f |= Readable
	}
	if o.AccessType.Write {
		f |= Writable
	}
	if o.AccessType.Execute {
		f |= Executable
	}
	if o.User {
		f |= User
	}
	if o.Global {
		f |= Global
	}
	if o.Owned {
		f |= Owned
	}
	return f
}

// Opts returns the options a leaf entry was created with.
func (p PTE) Opts() MapOpts {
	return MapOpts{
		AccessType: p.AccessType(),
		User:       p&User != 0,
		Global:     p&Global != 0,
		Owned:      p&Owned != 0,
	}
}

// FlagsFromString parses the rendering produced by String. Unknown
// characters are ignored, so "U_WRV" and "UWRV" are equivalent.
func FlagsFromString(s string) PTE {
	var f PTE
	for _, c := range s {
		switch c {
		case 'V':
			f |= Valid
		case 'R':
			f |= Readable
		case 'W':
			f |= Writable
		case 'X':
			f |= Executable
		case 'U':
			f |= User
		case 'G':
			f |= Global
		case 'A':
			f |= Accessed
		case 'D':
			f |= Dirty
		case 'O':
			f |= Owned
		}
	}
	return f
}
