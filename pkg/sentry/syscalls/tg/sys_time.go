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

// Clock implements kernel.ClockCalls.
type Clock struct{}

var _ kernel.ClockCalls = Clock{}

// ClockGettime implements clock_gettime(clock, ts).
func (Clock) ClockGettime(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	clock := args[0].Int()
	addr := args[1].Pointer()

	var ns int64
	switch clock {
	case tg.CLOCK_REALTIME:
		ns = t.Kernel().RealtimeNanoseconds()
	case tg.CLOCK_MONOTONIC:
		ns = t.Kernel().MonotonicNanoseconds()
	default:
		return 0, nil, tgerr.EINVAL
	}
	ts := tg.NsecToTimespec(ns)
	buf := make([]byte, ts.SizeBytes())
	ts.MarshalBytes(buf)
	if err := t.CopyOutBytes(addr, buf); err != nil {
		return 0, nil, err
	}
	return 0, nil, nil
}

// Scheduling implements kernel.SchedulingCalls.
type Scheduling struct{}

var _ kernel.SchedulingCalls = Scheduling{}

// SchedYield implements sched_yield. The dispatcher ends the time slice of
// every thread that leaves a syscall through it.
func (Scheduling) SchedYield(*kernel.Thread, arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, nil
}
