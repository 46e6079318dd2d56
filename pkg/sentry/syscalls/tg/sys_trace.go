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
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/kernel"
)

// Trace implements kernel.TraceCalls.
type Trace struct{}

var _ kernel.TraceCalls = Trace{}

// Trace implements trace(request, id, data):
//
//	TraceReadByte:  returns the byte at address id.
//	TraceWriteByte: stores the low byte of data at address id.
//	TraceSyscall:   returns how often the process has made syscall id.
func (Trace) Trace(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	switch args[0].Int() {
	case tg.TraceReadByte:
		var b [1]byte
		if err := t.CopyInBytes(args[1].Pointer(), b[:]); err != nil {
			return 0, nil, err
		}
		return uintptr(b[0]), nil, nil
	case tg.TraceWriteByte:
		b := [1]byte{byte(args[2].Uint64())}
		if err := t.CopyOutBytes(args[1].Pointer(), b[:]); err != nil {
			return 0, nil, err
		}
		return 0, nil, nil
	case tg.TraceSyscall:
		return uintptr(t.Process().SyscallCount(uintptr(args[1].Uint64()))), nil, nil
	default:
		return 0, nil, tgerr.EINVAL
	}
}
