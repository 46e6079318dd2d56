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
	"bytes"

	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/hostarch"
)

// forEachPageLocked calls fn with the physical bytes backing each page-sized piece
// of [addr, addr+n). Nothing is visited unless every page permits at, so a
// failed copy has no partial effect on memory.
//
// Preconditions: as.mu is locked.
func (as *AddressSpace) forEachPageLocked(addr hostarch.Addr, n int, at hostarch.AccessType, fn func(off int, b []byte)) error {
	if n == 0 {
		return nil
	}
	if n < 0 {
		return tgerr.EFAULT
	}
	end, ok := addr.AddLength(uint64(n))
	if !ok {
		return tgerr.EFAULT
	}
	var pieces [][]byte
	for a := addr; a < end; {
		pa, ok := as.translateLocked(a, at)
		if !ok {
			return tgerr.EFAULT
		}
		c := hostarch.PageSize - a.PageOffset()
		if rem := uint64(end - a); c > rem {
			c = rem
		}
		b, ok := as.mem.Slice(pa, c)
		if !ok {
			return tgerr.EFAULT
		}
		pieces = append(pieces, b)
		a += hostarch.Addr(c)
	}
	off := 0
	for _, b := range pieces {
		fn(off, b)
		off += len(b)
	}
	return nil
}

// CopyIn copies len(dst) bytes from user memory at addr. User memory must be
// readable.
func (as *AddressSpace) CopyIn(addr hostarch.Addr, dst []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.forEachPageLocked(addr, len(dst), hostarch.Read, func(off int, b []byte) {
		copy(dst[off:], b)
	})
}

// CopyOut copies src to user memory at addr. User memory must be writable.
func (as *AddressSpace) CopyOut(addr hostarch.Addr, src []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.forEachPageLocked(addr, len(src), hostarch.Write, func(off int, b []byte) {
		copy(b, src[off:])
	})
}

// CheckAccess returns EFAULT unless every page of [addr, addr+n) permits
// at.
func (as *AddressSpace) CheckAccess(addr hostarch.Addr, n int, at hostarch.AccessType) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.forEachPageLocked(addr, n, at, func(int, []byte) {})
}

// ZeroOut clears n bytes of user memory at addr.
func (as *AddressSpace) ZeroOut(addr hostarch.Addr, n int) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.forEachPageLocked(addr, n, hostarch.Write, func(_ int, b []byte) {
		clear(b)
	})
}

// CopyInString reads a NUL-terminated string of at most max bytes, not
// counting the terminator. It fails with EFAULT if the string runs into an
// inaccessible page, and with EINVAL if there is no terminator within max
// bytes.
func (as *AddressSpace) CopyInString(addr hostarch.Addr, max int) (string, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	var buf []byte
	for a := addr; len(buf) <= max; {
		pa, ok := as.translateLocked(a, hostarch.Read)
		if !ok {
			return "", tgerr.EFAULT
		}
		c := hostarch.PageSize - a.PageOffset()
		b, ok := as.mem.Slice(pa, c)
		if !ok {
			return "", tgerr.EFAULT
		}
		if i := bytes.IndexByte(b, 0); i >= 0 {
			buf = append(buf, b[:i]...)
			if len(buf) > max {
				break
			}
			return string(buf), nil
		}
		buf = append(buf, b...)
		a += hostarch.Addr(c)
	}
	return "", tgerr.EINVAL
}

// CopyInUint64 reads a little-endian word from user memory.
func (as *AddressSpace) CopyInUint64(addr hostarch.Addr) (uint64, error) {
	var b [8]byte
	if err := as.CopyIn(addr, b[:]); err != nil {
		return 0, err
	}
	return hostarch.ByteOrder.Uint64(b[:]), nil
}

// CopyOutUint64 writes a little-endian word to user memory.
func (as *AddressSpace) CopyOutUint64(addr hostarch.Addr, v uint64) error {
	var b [8]byte
	hostarch.ByteOrder.PutUint64(b[:], v)
	return as.CopyOut(addr, b[:])
}

// LoadBytes writes src at addr regardless of the pages' user permissions,
// as the loader does when filling read-only or execute-only segments. The
// pages must be mapped user pages.
func (as *AddressSpace) LoadBytes(addr hostarch.Addr, src []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.forEachPageLocked(addr, len(src), hostarch.NoAccess, func(off int, b []byte) {
		copy(b, src[off:])
	})
}
