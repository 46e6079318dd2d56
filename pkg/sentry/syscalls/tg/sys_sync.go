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
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/kernel"
)

// Sync implements kernel.SyncCalls on the calling process's SyncTable.
type Sync struct{}

var _ kernel.SyncCalls = Sync{}

func (Sync) MutexCreate(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	blocking := args[0].Int() != 0
	return uintptr(t.Process().Sync().CreateMutex(blocking)), nil, nil
}

func (Sync) MutexLock(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	ctrl, err := t.Process().Sync().Lock(t, int(args[0].Int()))
	return 0, ctrl, err
}

func (Sync) MutexUnlock(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, t.Process().Sync().Unlock(t, int(args[0].Int()))
}

func (Sync) SemaphoreCreate(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	id, err := t.Process().Sync().CreateSemaphore(int(args[0].Int()))
	if err != nil {
		return 0, nil, err
	}
	return uintptr(id), nil, nil
}

func (Sync) SemaphoreUp(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, t.Process().Sync().Up(t, int(args[0].Int()))
}

func (Sync) SemaphoreDown(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	ctrl, err := t.Process().Sync().Down(t, int(args[0].Int()))
	return 0, ctrl, err
}

func (Sync) CondvarCreate(t *kernel.Thread, _ arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.Process().Sync().CreateCondvar()), nil, nil
}

func (Sync) CondvarSignal(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, t.Process().Sync().Signal(t, int(args[0].Int()))
}

// CondvarWait implements condvar_wait(cond, mutex).
func (Sync) CondvarWait(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	ctrl, err := t.Process().Sync().Wait(t, int(args[0].Int()), int(args[1].Int()))
	return 0, ctrl, err
}

// EnableDeadlockDetect implements enable_deadlock_detect(on), where on is 0
// or 1.
func (Sync) EnableDeadlockDetect(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	switch args[0].Int() {
	case 0:
		t.Process().Sync().SetDeadlockDetection(false)
	case 1:
		t.Process().Sync().SetDeadlockDetection(true)
	default:
		return 0, nil, tgerr.EINVAL
	}
	return 0, nil, nil
}
