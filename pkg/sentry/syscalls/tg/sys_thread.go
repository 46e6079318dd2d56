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
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/kernel"
)

// Thread implements kernel.ThreadCalls.
type Thread struct{}

var _ kernel.ThreadCalls = Thread{}

// ThreadCreate implements thread_create(entry, arg).
func (Thread) ThreadCreate(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	tid, err := t.Kernel().CreateThread(t, args[0].Pointer(), args[1].Uint64())
	if err != nil {
		return 0, nil, err
	}
	return uintptr(tid), nil, nil
}

// Gettid implements gettid.
func (Thread) Gettid(t *kernel.Thread, _ arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.ID()), nil, nil
}

// Waittid implements waittid(tid). Like waitpid it fails with EAGAIN while
// the thread still runs.
func (Thread) Waittid(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	code, err := t.Kernel().WaitThread(t, kernel.ThreadID(args[0].Int()))
	if err != nil {
		return 0, nil, err
	}
	return uintptr(code), nil, nil
}
