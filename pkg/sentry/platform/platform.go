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

// Package platform provides a Platform abstraction.
//
// See Platform for more information.
package platform

import (
	"context"
	"fmt"

	"tgos.dev/tgos/pkg/ring0/pagetables"
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/pgalloc"
)

// Platform provides the machine the kernel runs user threads on: physical
// memory, the portal, a timer and device interrupts.
type Platform interface {
	Context

	// Memory returns the physical memory all frames come from.
	Memory() *pgalloc.MemoryFile

	// MapPortal installs the portal page into a new address space. Every
	// address space passed to Switch must have been prepared this way.
	MapPortal(pt *pagetables.PageTables) error

	// PortalMapped returns true iff pt maps the portal correctly.
	PortalMapped(pt *pagetables.PageTables) bool

	// SetTimeSlice sets the number of ticks a thread may run before a
	// timer trap. Zero disables preemption.
	SetTimeSlice(ticks uint64)

	// Now returns the time counter in ticks.
	Now() uint64

	// WaitInterrupt blocks until a device interrupt is pending or ctx is
	// done.
	WaitInterrupt(ctx context.Context) error

	// ClaimInterrupt returns the pending device interrupt source, or 0.
	ClaimInterrupt() int

	// CompleteInterrupt ends handling of src.
	CompleteInterrupt(src int)

	// RaiseInterrupt requests service for src. It may be called from any
	// goroutine.
	RaiseInterrupt(src int)

	// EnableInterrupt enables delivery of src.
	EnableInterrupt(src int)
}

// Context represents the execution context for a single thread.
type Context interface {
	// Switch resumes execution of the thread specified by the arch.Context
	// in the provided address space. This call blocks while the thread is
	// executing, and returns at the next trap with ac updated to the state
	// at the trap.
	//
	// An error means the machine itself failed (or ctx was cancelled); a
	// fault in user code is reported as a Trap.
	Switch(ctx context.Context, as AddressSpace, ac *arch.Context) (Trap, error)
}

// AddressSpace is an address space a thread can run in.
type AddressSpace interface {
	// SATP returns the address-space-selector value for the space.
	SATP() uint64
}

// TrapKind classifies a trap out of user code.
type TrapKind int

const (
	// TrapSyscall is an environment call.
	TrapSyscall TrapKind = iota

	// TrapTimer is expiry of the time slice.
	TrapTimer

	// TrapInterrupt is a device or software interrupt.
	TrapInterrupt

	// TrapFault is any exception other than an environment call.
	TrapFault
)

// String implements fmt.Stringer.String.
func (k TrapKind) String() string {
	switch k {
	case TrapSyscall:
		return "syscall"
	case TrapTimer:
		return "timer"
	case TrapInterrupt:
		return "interrupt"
	case TrapFault:
		return "fault"
	default:
		return fmt.Sprintf("TrapKind(%d)", int(k))
	}
}

// Trap describes why Switch returned.
type Trap struct {
	Kind TrapKind

	// Cause is the raw scause value.
	Cause uint64

	// Addr is stval: the faulting address or instruction, if any.
	Addr uint64

	// PC is the user program counter at the trap.
	PC uint64
}

// String implements fmt.Stringer.String.
func (t Trap) String() string {
	if t.Kind == TrapFault {
		return fmt.Sprintf("fault cause=%d addr=%#x pc=%#x", t.Cause, t.Addr, t.PC)
	}
	return fmt.Sprintf("%v pc=%#x", t.Kind, t.PC)
}
