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

// Package pgalloc contains the machine's physical memory and the frame
// allocator that hands it out.
//
// Physical memory is a host anonymous mapping. Frame n of the mapping has
// the physical page number Base/PageSize + n; frames are zeroed when they are
// allocated.
package pgalloc

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
	"tgos.dev/tgos/pkg/bitmap"
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/log"
)

// DefaultBase is the physical address of the first byte of RAM.
const DefaultBase = 0x8000_0000

// MemoryFileOpts provides options to NewMemoryFile.
type MemoryFileOpts struct {
	// Base is the physical address of the first frame. It must be page
	// aligned. Zero selects DefaultBase.
	Base uint64

	// Reserved is the number of frames at the bottom of memory that are
	// never handed out by the allocator.
	Reserved uint32
}

// MemoryFile is the machine's physical memory.
type MemoryFile struct {
	// mapping is the host mapping backing all frames. It is immutable
	// until Destroy.
	mapping []byte

	// base is the physical page number of mapping[0].
	base hostarch.PPN

	// frames is the number of frames in mapping.
	frames uint32

	// mu protects the fields below.
	mu sync.Mutex

	// used has a bit set for every allocated or reserved frame.
	used bitmap.Bitmap

	// next is the frame index where the next search starts.
	next uint32

	// destroyed is set by Destroy.
	destroyed bool
}

// NewMemoryFile maps size bytes of physical memory. size is rounded down to
// a whole number of frames.
func NewMemoryFile(size uint64, opts MemoryFileOpts) (*MemoryFile, error) {
	if opts.Base == 0 {
		opts.Base = DefaultBase
	}
	if !hostarch.Addr(opts.Base).IsPageAligned() {
		return nil, fmt.Errorf("physical base %#x is not page aligned", opts.Base)
	}
	frames := size / hostarch.PageSize
	if frames == 0 || frames > 1<<31 {
		return nil, fmt.Errorf("invalid physical memory size %d", size)
	}
	if uint64(opts.Reserved) >= frames {
		return nil, fmt.Errorf("%d reserved frames leave no memory", opts.Reserved)
	}
	m, err := unix.Mmap(-1, 0, int(frames*hostarch.PageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes of physical memory: %w", size, err)
	}
	f := &MemoryFile{
		mapping: m,
		base:    hostarch.PPNOf(opts.Base),
		frames:  uint32(frames),
		used:    bitmap.New(uint32(frames)),
	}
	for i := uint32(0); i < opts.Reserved; i++ {
		f.used.Add(i)
	}
	f.next = opts.Reserved
	log.Debugf("Physical memory: %d frames at %#x", frames, opts.Base)
	return f, nil
}

// Destroy releases the host mapping. The MemoryFile must not be used
// afterward.
func (f *MemoryFile) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return nil
	}
	f.destroyed = true
	return unix.Munmap(f.mapping)
}

// Base returns the physical address of the first frame.
func (f *MemoryFile) Base() uint64 {
	return f.base.Addr()
}

// Size returns the number of bytes of physical memory.
func (f *MemoryFile) Size() uint64 {
	return uint64(f.frames) * hostarch.PageSize
}

// Allocate returns a zeroed frame, or ENOMEM if memory is exhausted.
func (f *MemoryFile) Allocate() (hostarch.PPN, error) {
	return f.AllocateContiguous(1)
}

// AllocateContiguous returns the first of n physically contiguous zeroed
// frames.
func (f *MemoryFile) AllocateContiguous(n uint32) (hostarch.PPN, error) {
	if n == 0 {
		panic("AllocateContiguous of zero frames")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		idx uint32
		ok  bool
	)
	if n == 1 {
		if idx, ok = f.used.FirstZero(f.next); !ok {
			idx, ok = f.used.FirstZero(0)
		}
	} else {
		idx, ok = f.used.FirstZeroRun(n)
	}
	if !ok {
		return 0, tgerr.ENOMEM
	}
	for i := idx; i < idx+n; i++ {
		f.used.Add(i)
	}
	f.next = idx + n
	clear(f.mapping[uint64(idx)*hostarch.PageSize : uint64(idx+n)*hostarch.PageSize])
	return f.base + hostarch.PPN(idx), nil
}

// Free returns a frame to the allocator. Freeing a frame that is not
// allocated is a kernel bug.
func (f *MemoryFile) Free(ppn hostarch.PPN) {
	idx, ok := f.index(ppn)
	if !ok {
		panic(fmt.Sprintf("freeing %v outside physical memory", ppn))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.used.Test(idx) {
		panic(fmt.Sprintf("double free of %v", ppn))
	}
	f.used.Remove(idx)
	if idx < f.next {
		f.next = idx
	}
}

// IsAllocated returns true if ppn is currently allocated or reserved.
func (f *MemoryFile) IsAllocated(ppn hostarch.PPN) bool {
	idx, ok := f.index(ppn)
	if !ok {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used.Test(idx)
}

// FreeFrames returns the number of frames available for allocation.
func (f *MemoryFile) FreeFrames() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames - f.used.Count()
}

// Frame returns the contents of a frame. The slice aliases physical memory.
func (f *MemoryFile) Frame(ppn hostarch.PPN) []byte {
	idx, ok := f.index(ppn)
	if !ok {
		panic(fmt.Sprintf("%v outside physical memory", ppn))
	}
	off := uint64(idx) * hostarch.PageSize
	return f.mapping[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

// Slice returns the n bytes of physical memory starting at pa, or false if
// the range is not backed by memory.
func (f *MemoryFile) Slice(pa uint64, n uint64) ([]byte, bool) {
	start := f.base.Addr()
	if pa < start || n > f.Size() || pa-start > f.Size()-n {
		return nil, false
	}
	off := pa - start
	return f.mapping[off : off+n : off+n], true
}

func (f *MemoryFile) index(ppn hostarch.PPN) (uint32, bool) {
	if ppn < f.base || uint64(ppn-f.base) >= uint64(f.frames) {
		return 0, false
	}
	return uint32(ppn - f.base), true
}
