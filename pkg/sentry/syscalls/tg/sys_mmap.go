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

package tg

import (
	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/mm"
)

// Memory implements kernel.MemoryCalls.
type Memory struct{}

var _ kernel.MemoryCalls = Memory{}

// pageRange converts [addr, addr+length) to the pages it covers. addr must
// be page aligned and length non-zero.
func pageRange(addr hostarch.Addr, length uint64) (hostarch.VPNRange, error) {
	if !addr.IsPageAligned() || length == 0 {
		return hostarch.VPNRange{}, tgerr.EINVAL
	}
	ar, ok := addr.ToRange(length)
	if !ok {
		return hostarch.VPNRange{}, tgerr.EINVAL
	}
	end, ok := ar.End.RoundUp()
	if !ok {
		return hostarch.VPNRange{}, tgerr.EINVAL
	}
	r := hostarch.VPNRange{Start: addr.VPN(), End: end.VPN()}
	if r.End <= r.Start || r.End > hostarch.UserVPNLimit {
		return hostarch.VPNRange{}, tgerr.EINVAL
	}
	return r, nil
}

// Mmap implements mmap(addr, len, prot). Fresh zeroed pages are mapped at
// exactly addr; none of them may already be mapped. It returns 0.
func (Memory) Mmap(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := args[1].Uint64()
	prot := args[2].Uint64()

	if prot&^tg.PROT_MASK != 0 || prot&tg.PROT_MASK == 0 {
		return 0, nil, tgerr.EINVAL
	}
	r, err := pageRange(addr, length)
	if err != nil {
		return 0, nil, err
	}
	opts := mm.MapOpts{
		Access: hostarch.AccessType{
			Read:    prot&tg.PROT_READ != 0,
			Write:   prot&tg.PROT_WRITE != 0,
			Execute: prot&tg.PROT_EXEC != 0,
		},
		Hint: "[mmap]",
	}
	if err := t.MemoryManager().MapWithAllocation(r, opts); err != nil {
		t.Debugf("mmap(%#x, %#x, %#x): %v", addr, length, prot, err)
		return 0, nil, err
	}
	return 0, nil, nil
}

// Munmap implements munmap(addr, len). Every page in the range must be
// mapped.
func (Memory) Munmap(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	r, err := pageRange(args[0].Pointer(), args[1].Uint64())
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, t.MemoryManager().Unmap(r)
}
