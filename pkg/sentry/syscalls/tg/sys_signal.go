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
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/kernel"
)

// Signal implements kernel.SignalCalls.
type Signal struct{}

var _ kernel.SignalCalls = Signal{}

// Kill implements kill(pid, sig).
func (Signal) Kill(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := kernel.ProcessID(args[0].Int())
	sig := tg.Signal(args[1].Int())
	return 0, nil, t.Kernel().Kill(pid, sig)
}

// Sigaction implements sigaction(sig, act, oldact). Either pointer may be
// 0.
func (Signal) Sigaction(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	sig := tg.Signal(args[0].Int())
	actAddr := args[1].Pointer()
	oldAddr := args[2].Pointer()

	signals := t.Process().Signals()
	var act tg.SignalAction
	buf := make([]byte, act.SizeBytes())
	if oldAddr != 0 {
		if err := t.MemoryManager().CheckAccess(oldAddr, len(buf), hostarch.Write); err != nil {
			return 0, nil, err
		}
	}

	var old tg.SignalAction
	if actAddr != 0 {
		if err := t.CopyInBytes(actAddr, buf); err != nil {
			return 0, nil, err
		}
		act.UnmarshalBytes(buf)
		var err error
		if old, err = signals.SetAction(sig, act); err != nil {
			return 0, nil, err
		}
	} else {
		var err error
		if old, err = signals.Action(sig); err != nil {
			return 0, nil, err
		}
	}

	if oldAddr != 0 {
		old.MarshalBytes(buf)
		if err := t.CopyOutBytes(oldAddr, buf); err != nil {
			return 0, nil, err
		}
	}
	return 0, nil, nil
}

// Sigprocmask implements sigprocmask(mask). It replaces the signal mask and
// returns the previous one.
func (Signal) Sigprocmask(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	old := t.Process().Signals().SetMask(tg.SignalSet(args[0].Uint64()))
	return uintptr(old), nil, nil
}

// Sigreturn implements sigreturn, ending the running handler.
func (Signal) Sigreturn(t *kernel.Thread, _ arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	if err := t.Kernel().SignalReturn(t); err != nil {
		return 0, nil, err
	}
	return 0, kernel.CtrlNoReturn, nil
}
