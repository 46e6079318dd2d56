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

// Package tg provides the implementation of the kernel's syscalls.
//
// Each category of kernel.Syscalls is implemented by one type here. New
// returns all of them; a kernel that should lack a category can leave it
// out of the set it installs.
package tg

import (
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/vfs"
)

// Opts configures the syscall implementations.
type Opts struct {
	// VFS resolves open. If it is nil, open fails with ENOENT.
	VFS *vfs.VirtualFilesystem
}

// New returns every syscall category.
func New(opts Opts) kernel.Syscalls {
	return kernel.Syscalls{
		IO:         &IO{vfs: opts.VFS},
		Process:    Process{},
		Scheduling: Scheduling{},
		Clock:      Clock{},
		Signal:     Signal{},
		Thread:     Thread{},
		Sync:       Sync{},
		Memory:     Memory{},
		Trace:      Trace{},
	}
}

// maxRWCount bounds the bytes moved by a single read or write.
const maxRWCount = 1 << 20

// copyInName reads a program name of n bytes at addr. A NUL ends the name
// early.
func copyInName(t *kernel.Thread, addr hostarch.Addr, n uint) (string, error) {
	if n == 0 {
		return "", tgerr.ENOENT
	}
	if n > vfs.MaxPathLen {
		return "", tgerr.EINVAL
	}
	buf := make([]byte, n)
	if err := t.CopyInBytes(addr, buf); err != nil {
		return "", err
	}
	for i, c := range buf {
		if c == 0 {
			buf = buf[:i]
			break
		}
	}
	if len(buf) == 0 {
		return "", tgerr.ENOENT
	}
	return string(buf), nil
}
