// Copyright 2023 The gVisor Authors.
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

// Package hart emulates one RV64 hardware thread: the RV64IMA user ISA, the
// supervisor privilege level with the CSRs and instructions a kernel needs,
// an Sv39 MMU, a supervisor timer and an external interrupt line.
//
// Machine mode is not modelled. The hart starts in supervisor mode, and
// control returns to the host whenever supervisor code executes ebreak.
package hart

import (
	"fmt"
	"math"
)

// Mode is a privilege level.
type Mode uint8

// Privilege levels.
const (
	ModeUser       Mode = 0
	ModeSupervisor Mode = 1
)

// String implements fmt.Stringer.String.
func (m Mode) String() string {
	if m == ModeUser {
		return "U"
	}
	return "S"
}

// Exception causes, as reported in scause.
const (
	CauseInstructionMisaligned  = 0
	CauseInstructionAccessFault = 1
	CauseIllegalInstruction     = 2
	CauseBreakpoint             = 3
	CauseLoadMisaligned         = 4
	CauseLoadAccessFault        = 5
	CauseStoreMisaligned        = 6
	CauseStoreAccessFault       = 7
	CauseUserEcall              = 8
	CauseSupervisorEcall        = 9
	CauseInstructionPageFault   = 12
	CauseLoadPageFault          = 13
	CauseStorePageFault         = 15
)

// Interrupt causes. scause has InterruptBit set for these.
const (
	InterruptSupervisorSoftware = 1
	InterruptSupervisorTimer    = 5
	InterruptSupervisorExternal = 9

	InterruptBit = uint64(1) << 63
)

// sstatus, sie and sip bits.
const (
	SstatusSIE  = uint64(1) << 1
	SstatusSPIE = uint64(1) << 5
	SstatusSPP  = uint64(1) << 8
	SstatusSUM  = uint64(1) << 18
	SstatusMXR  = uint64(1) << 19

	sstatusMask = SstatusSIE | SstatusSPIE | SstatusSPP | SstatusSUM | SstatusMXR

	SSIP = uint64(1) << InterruptSupervisorSoftware
	STIP = uint64(1) << InterruptSupervisorTimer
	SEIP = uint64(1) << InterruptSupervisorExternal

	sieMask = SSIP | STIP | SEIP
)

// Memory is physical memory as seen by the hart.
type Memory interface {
	// Slice returns the n bytes at physical address pa, or false if they
	// are not backed by memory.
	Slice(pa, n uint64) ([]byte, bool)
}

// InterruptLine is the external interrupt input.
type InterruptLine interface {
	// Pending returns true while an enabled source awaits a claim.
	Pending() bool
}

// CSRs holds the supervisor control and status registers.
type CSRs struct {
	Sstatus  uint64
	Sie      uint64
	Stvec    uint64
	Sscratch uint64
	Sepc     uint64
	Scause   uint64
	Stval    uint64
	Satp     uint64
	Stimecmp uint64

	// ssip is the software-writable part of sip.
	ssip uint64
}

// Hart is one hardware thread.
type Hart struct {
	// X holds the integer registers. X[0] is kept zero.
	X [32]uint64

	// PC is the program counter.
	PC uint64

	// Mode is the current privilege level.
	Mode Mode

	CSRs

	mem Memory
	ext InterruptLine

	// time is the value of the time counter. It advances once per
	// executed instruction.
	time uint64

	// instret counts retired instructions.
	instret uint64

	// reservation is the address held by the last LR, if valid.
	reservation      uint64
	reservationValid bool
}

// New returns a hart in supervisor mode with translation off and the timer
// disarmed. ext may be nil.
func New(mem Memory, ext InterruptLine) *Hart {
	h := &Hart{mem: mem, ext: ext, Mode: ModeSupervisor}
	h.Stimecmp = math.MaxUint64
	return h
}

// Time returns the time counter.
func (h *Hart) Time() uint64 {
	return h.time
}

// AdvanceTime moves the time counter forward without executing code, as
// happens while the hart waits for an interrupt.
func (h *Hart) AdvanceTime(ticks uint64) {
	h.time += ticks
}

// Instret returns the number of retired instructions.
func (h *Hart) Instret() uint64 {
	return h.instret
}

// Sip returns the pending interrupt bits.
func (h *Hart) Sip() uint64 {
	v := h.ssip
	if h.time >= h.Stimecmp {
		v |= STIP
	}
	if h.ext != nil && h.ext.Pending() {
		v |= SEIP
	}
	return v
}

// StopReason says why Run returned without error.
type StopReason int

const (
	// StopBreak means supervisor code executed ebreak.
	StopBreak StopReason = iota

	// StopLimit means the instruction limit was reached.
	StopLimit
)

// KernelFault is returned by Run when supervisor code takes an exception.
// There is no supervisor trap handler to receive it, so execution cannot
// continue.
type KernelFault struct {
	Cause uint64
	Value uint64
	PC    uint64
}

// Error implements error.Error.
func (f *KernelFault) Error() string {
	return fmt.Sprintf("supervisor exception %d (value %#x) at pc %#x", f.Cause, f.Value, f.PC)
}

// exception is a synchronous trap raised while executing an instruction.
type exception struct {
	cause uint64
	tval  uint64
}

// Run executes instructions until supervisor code executes ebreak, limit
// instructions have run (a limit of zero means no limit), or supervisor
// code faults.
func (h *Hart) Run(limit uint64) (StopReason, error) {
	for n := uint64(0); limit == 0 || n < limit; n++ {
		stop, err := h.Step()
		if err != nil {
			return StopBreak, err
		}
		if stop {
			return StopBreak, nil
		}
	}
	return StopLimit, nil
}

// Step executes one instruction, or takes one interrupt. It returns true if
// the instruction was a supervisor ebreak.
func (h *Hart) Step() (bool, error) {
	h.time++
	if cause, ok := h.pendingInterrupt(); ok {
		h.enterTrap(InterruptBit|cause, 0)
		return false, nil
	}

	inst, exc := h.fetch()
	if exc == nil {
		var stop bool
		stop, exc = h.execute(inst)
		if exc == nil {
			h.instret++
			return stop, nil
		}
	}
	if h.Mode == ModeSupervisor {
		return false, &KernelFault{Cause: exc.cause, Value: exc.tval, PC: h.PC}
	}
	h.enterTrap(exc.cause, exc.tval)
	return false, nil
}

// pendingInterrupt returns the highest priority interrupt that can be taken
// now. Interrupts are always enabled in user mode, and enabled by SIE in
// supervisor mode.
func (h *Hart) pendingInterrupt() (uint64, bool) {
	if h.Mode == ModeSupervisor && h.Sstatus&SstatusSIE == 0 {
		return 0, false
	}
	pend := h.Sip() & h.Sie
	switch {
	case pend&SEIP != 0:
		return InterruptSupervisorExternal, true
	case pend&SSIP != 0:
		return InterruptSupervisorSoftware, true
	case pend&STIP != 0:
		return InterruptSupervisorTimer, true
	}
	return 0, false
}

// enterTrap transfers control to stvec in supervisor mode.
func (h *Hart) enterTrap(cause, tval uint64) {
	h.Sepc = h.PC
	h.Scause = cause
	h.Stval = tval
	s := h.Sstatus &^ (SstatusSPP | SstatusSPIE | SstatusSIE)
	if h.Mode == ModeSupervisor {
		s |= SstatusSPP
	}
	if h.Sstatus&SstatusSIE != 0 {
		s |= SstatusSPIE
	}
	h.Sstatus = s
	h.Mode = ModeSupervisor
	h.PC = h.Stvec &^ 3
	h.reservationValid = false
}

// sret returns from a supervisor trap.
func (h *Hart) sret() {
	if h.Sstatus&SstatusSPP != 0 {
		h.Mode = ModeSupervisor
	} else {
		h.Mode = ModeUser
	}
	s := h.Sstatus &^ (SstatusSIE | SstatusSPP)
	if h.Sstatus&SstatusSPIE != 0 {
		s |= SstatusSIE
	}
	h.Sstatus = s | SstatusSPIE
	h.PC = h.Sepc
	h.reservationValid = false
}

func (h *Hart) setReg(r uint32, v uint64) {
	if r != 0 {
		h.X[r] = v
	}
}

// ReadCSR reads a CSR as supervisor code would. ok is false if the CSR
// does not exist.
func (h *Hart) ReadCSR(csr uint16) (uint64, bool) {
	switch csr {
	case 0x100:
		return h.Sstatus, true
	case 0x104:
		return h.Sie, true
	case 0x105:
		return h.Stvec, true
	case 0x140:
		return h.Sscratch, true
	case 0x141:
		return h.Sepc, true
	case 0x142:
		return h.Scause, true
	case 0x143:
		return h.Stval, true
	case 0x144:
		return h.Sip(), true
	case 0x14d:
		return h.Stimecmp, true
	case 0x180:
		return h.Satp, true
	case 0xc01:
		return h.time, true
	case 0xc02:
		return h.instret, true
	}
	return 0, false
}

// WriteCSR writes a CSR as supervisor code would. ok is false if the CSR
// does not exist or is read-only. Fields that cannot hold the value keep
// their legal bits only.
func (h *Hart) WriteCSR(csr uint16, v uint64) bool {
	switch csr {
	case 0x100:
		h.Sstatus = v & sstatusMask
	case 0x104:
		h.Sie = v & sieMask
	case 0x105:
		h.Stvec = v &^ 3
	case 0x140:
		h.Sscratch = v
	case 0x141:
		h.Sepc = v &^ 3
	case 0x142:
		h.Scause = v
	case 0x143:
		h.Stval = v
	case 0x144:
		h.ssip = v & SSIP
	case 0x14d:
		h.Stimecmp = v
	case 0x180:
		// Only Bare and Sv39 are supported; other modes are ignored.
		if mode := v >> 60; mode == 0 || mode == 8 {
			h.Satp = v
		}
	default:
		return false
	}
	return true
}
