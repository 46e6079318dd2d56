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

// Package loader turns program images into populated address spaces.
//
// An Image is an ordered list of segments plus an entry address. Images
// come from RV64 ELF executables or from programs assembled in process.
package loader

import (
	"fmt"
	"sort"

	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/sentry/mm"
)

// DefaultStackPages is the size of the initial user stack.
const DefaultStackPages = 4

// Segment is one loadable range of an image.
type Segment struct {
	// Addr is the virtual address of the first byte.
	Addr hostarch.Addr

	// MemSize is the size of the segment in memory. Bytes past len(Data)
	// are zero.
	MemSize uint64

	// Data is the initialized part of the segment.
	Data []byte

	// Access is the permission user code gets.
	Access hostarch.AccessType
}

// End returns the address one past the segment.
func (s Segment) End() (hostarch.Addr, bool) {
	return s.Addr.AddLength(s.MemSize)
}

// Image is a loadable program.
type Image struct {
	// Name identifies the image for exec and spawn.
	Name string

	// Segments are mapped in order.
	Segments []Segment

	// Entry is the address of the first instruction.
	Entry hostarch.Addr
}

// Validate checks that every segment lies in the user half and that the
// entry point is inside an executable segment.
func (img *Image) Validate() error {
	if len(img.Segments) == 0 {
		return fmt.Errorf("image %q has no segments", img.Name)
	}
	entryOK := false
	for i, s := range img.Segments {
		end, ok := s.End()
		if !ok || s.MemSize == 0 || uint64(len(s.Data)) > s.MemSize {
			return fmt.Errorf("image %q: segment %d has invalid size", img.Name, i)
		}
		if s.Addr < hostarch.PageSize || uint64(end) > uint64(hostarch.UserVPNLimit)<<hostarch.PageShift {
			return fmt.Errorf("image %q: segment %d at %v is outside user memory", img.Name, i, s.Addr)
		}
		if !s.Access.Any() {
			return fmt.Errorf("image %q: segment %d has no access", img.Name, i)
		}
		if s.Access.Execute && s.Addr <= img.Entry && img.Entry < end {
			entryOK = true
		}
	}
	if !entryOK || img.Entry%4 != 0 {
		return fmt.Errorf("image %q: entry %v is not in an executable segment", img.Name, img.Entry)
	}
	return nil
}

// Loaded describes an image mapped into an address space.
type Loaded struct {
	// Entry is the first instruction.
	Entry hostarch.Addr

	// StackTop is the initial stack pointer.
	StackTop hostarch.Addr

	// Stack is the range of the initial stack.
	Stack hostarch.VPNRange

	// Brk is the heap base; the heap is empty.
	Brk hostarch.Addr
}

// pageRun is a range of pages sharing one access type.
type pageRun struct {
	r  hostarch.VPNRange
	at hostarch.AccessType
}

// layout merges the page ranges of the segments. Pages shared by two
// segments get the union of their permissions.
func (img *Image) layout() []pageRun {
	access := make(map[hostarch.VPN]hostarch.AccessType)
	for _, s := range img.Segments {
		end, _ := s.End()
		for vpn := s.Addr.VPN(); vpn < end.MustRoundUp().VPN(); vpn++ {
			access[vpn] = access[vpn].Union(s.Access)
		}
	}
	vpns := make([]hostarch.VPN, 0, len(access))
	for vpn := range access {
		vpns = append(vpns, vpn)
	}
	sort.Slice(vpns, func(i, j int) bool { return vpns[i] < vpns[j] })

	var runs []pageRun
	for _, vpn := range vpns {
		at := access[vpn]
		if n := len(runs); n > 0 && runs[n-1].r.End == vpn && runs[n-1].at == at {
			runs[n-1].r.End++
			continue
		}
		runs = append(runs, pageRun{r: hostarch.VPNRange{Start: vpn, End: vpn + 1}, at: at})
	}
	return runs
}

// Load maps img into as, which must be empty, and places a stack of
// stackPages pages one guard page above the highest segment. The heap
// starts at the top of the stack.
func Load(as *mm.AddressSpace, img *Image, stackPages int) (Loaded, error) {
	if err := img.Validate(); err != nil {
		return Loaded{}, err
	}
	if stackPages <= 0 {
		stackPages = DefaultStackPages
	}
	runs := img.layout()
	for _, run := range runs {
		if err := as.MapWithAllocation(run.r, mm.MapOpts{Access: run.at, Hint: img.Name}); err != nil {
			return Loaded{}, fmt.Errorf("mapping %v of %q: %w", run.r, img.Name, err)
		}
	}
	for i, s := range img.Segments {
		if err := as.LoadBytes(s.Addr, s.Data); err != nil {
			return Loaded{}, fmt.Errorf("filling segment %d of %q: %w", i, img.Name, err)
		}
	}

	top := runs[len(runs)-1].r.End
	stack := hostarch.VPNRange{Start: top + 1, End: top + 1 + hostarch.VPN(stackPages)}
	if err := as.MapWithAllocation(stack, mm.MapOpts{Access: hostarch.ReadWrite, Hint: "[stack]"}); err != nil {
		return Loaded{}, fmt.Errorf("mapping stack of %q: %w", img.Name, err)
	}
	l := Loaded{
		Entry:    img.Entry,
		StackTop: stack.End.Base(),
		Stack:    stack,
		Brk:      stack.End.Base(),
	}
	if err := as.SetBrk(l.Brk); err != nil {
		return Loaded{}, fmt.Errorf("placing heap of %q: %w", img.Name, err)
	}
	log.Debugf("Loaded %q: entry %v, stack %v", img.Name, l.Entry, stack)
	return l, nil
}
