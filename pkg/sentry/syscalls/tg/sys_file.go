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
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/vfs"
)

// IO implements kernel.IOCalls.
type IO struct {
	vfs *vfs.VirtualFilesystem
}

var _ kernel.IOCalls = (*IO)(nil)

// Open implements open(path, flags). path is NUL-terminated.
func (io *IO) Open(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	flags := args[1].Uint()

	path, err := t.CopyInString(addr, vfs.MaxPathLen)
	if err != nil {
		return 0, nil, err
	}
	if io.vfs == nil {
		return 0, nil, tgerr.ENOENT
	}
	file, err := io.vfs.OpenAt(path, vfs.OpenOptions{Flags: flags})
	if err != nil {
		t.Debugf("open(%q, %#x): %v", path, flags, err)
		return 0, nil, err
	}
	defer file.DecRef()

	fd, err := t.Process().FDTable().NewFD(file)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(fd), nil, nil
}

// Close implements close(fd).
func (*IO) Close(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	return 0, nil, t.Process().FDTable().Remove(int(fd))
}

// Pipe implements pipe(fds). The read and write descriptors are stored as
// two 64-bit words at fds.
func (*IO) Pipe(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()

	var out [16]byte
	if err := t.MemoryManager().CheckAccess(addr, len(out), hostarch.Write); err != nil {
		return 0, nil, err
	}
	r, w := t.Kernel().NewPipe()
	defer r.DecRef()
	defer w.DecRef()

	fds := t.Process().FDTable()
	rfd, err := fds.NewFD(r)
	if err != nil {
		return 0, nil, err
	}
	wfd, err := fds.NewFD(w)
	if err != nil {
		fds.Remove(rfd)
		return 0, nil, err
	}
	hostarch.ByteOrder.PutUint64(out[0:], uint64(rfd))
	hostarch.ByteOrder.PutUint64(out[8:], uint64(wfd))
	if err := t.CopyOutBytes(addr, out[:]); err != nil {
		fds.Remove(rfd)
		fds.Remove(wfd)
		return 0, nil, err
	}
	return 0, nil, nil
}

func clampRW(size uint) int {
	if size > maxRWCount {
		return maxRWCount
	}
	return int(size)
}

// Read implements read(fd, buf, count). It returns at most count bytes and
// blocks only while nothing can be returned.
func (*IO) Read(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := clampRW(args[2].SizeT())

	file, err := t.Process().FDTable().Get(int(fd))
	if err != nil {
		return 0, nil, err
	}
	if !file.Readable() {
		return 0, nil, tgerr.EBADF
	}
	// Check the destination first: data taken from a pipe or device
	// cannot be put back.
	if err := t.MemoryManager().CheckAccess(addr, size, hostarch.Write); err != nil {
		return 0, nil, err
	}

	buf := make([]byte, size)
	n, err := file.Read(t, buf)
	if err != nil {
		return 0, nil, err
	}
	if err := t.CopyOutBytes(addr, buf[:n]); err != nil {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}

// Write implements write(fd, buf, count).
func (*IO) Write(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := clampRW(args[2].SizeT())

	file, err := t.Process().FDTable().Get(int(fd))
	if err != nil {
		return 0, nil, err
	}
	if !file.Writable() {
		return 0, nil, tgerr.EBADF
	}
	buf := make([]byte, size)
	if err := t.CopyInBytes(addr, buf); err != nil {
		return 0, nil, err
	}
	n, err := file.Write(t, buf)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}
