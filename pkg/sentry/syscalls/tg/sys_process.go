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
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/kernel"
)

// Process implements kernel.ProcessCalls.
type Process struct{}

var _ kernel.ProcessCalls = Process{}

// Exit implements exit(code). Only the calling thread exits; the process
// ends with its last thread.
func (Process) Exit(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	t.Kernel().ExitThread(t, int64(args[0].Int()))
	return 0, kernel.CtrlExited, nil
}

// Getpid implements getpid.
func (Process) Getpid(t *kernel.Thread, _ arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.Process().PID()), nil, nil
}

// Sbrk implements sbrk(delta). It returns the previous break.
func (Process) Sbrk(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	old, err := t.MemoryManager().Sbrk(int64(args[0].Int()))
	if err != nil {
		return 0, nil, err
	}
	return uintptr(old), nil, nil
}

// Fork implements fork. The child sees a return value of 0.
func (Process) Fork(t *kernel.Thread, _ arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid, err := t.Kernel().Fork(t)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(pid), nil, nil
}

// Exec implements exec(name, len).
func (Process) Exec(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	name, err := copyInName(t, args[0].Pointer(), args[1].SizeT())
	if err != nil {
		return 0, nil, err
	}
	img, err := t.Kernel().LookupImage(name)
	if err != nil {
		return 0, nil, err
	}
	if err := t.Kernel().Exec(t, img); err != nil {
		return 0, nil, err
	}
	return 0, kernel.CtrlNoReturn, nil
}

// Waitpid implements waitpid(pid, status). It does not block: if no
// matching child has exited it fails with EAGAIN and the caller is expected
// to yield and retry. The exit code is stored at status as a 32-bit value
// unless status is 0.
func (Process) Waitpid(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := kernel.ProcessID(args[0].Int())
	addr := args[1].Pointer()

	child, code, err := t.Kernel().Wait(t, pid)
	if err != nil {
		return 0, nil, err
	}
	if addr != 0 {
		var buf [4]byte
		hostarch.ByteOrder.PutUint32(buf[:], uint32(int32(code)))
		if err := t.CopyOutBytes(addr, buf[:]); err != nil {
			// The child is already reaped; losing its code is all that
			// can go wrong now.
			t.Debugf("waitpid: storing status of %d at %#x: %v", child, addr, err)
		}
	}
	return uintptr(child), nil, nil
}

// Spawn implements spawn(name, len): a new child process running the named
// program.
func (Process) Spawn(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	name, err := copyInName(t, args[0].Pointer(), args[1].SizeT())
	if err != nil {
		return 0, nil, err
	}
	pid, err := t.Kernel().Spawn(t, name)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(pid), nil, nil
}

