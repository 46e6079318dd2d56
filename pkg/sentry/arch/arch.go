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

// Package arch describes the RV64 user register file and the conventions
// the kernel uses to read and write it.
package arch

import (
	"fmt"

	"tgos.dev/tgos/pkg/hostarch"
)

// Register indices, by ABI name.
const (
	Zero = 0
	RA   = 1
	SP   = 2
	GP   = 3
	TP   = 4
	T0   = 5
	T1   = 6
	T2   = 7
	S0   = 8
	S1   = 9
	A0   = 10
	A1   = 11
	A2   = 12
	A3   = 13
	A4   = 14
	A5   = 15
	A6   = 16
	A7   = 17
	S2   = 18
	S3   = 19
	S4   = 20
	S5   = 21
	S6   = 22
	S7   = 23
	S8   = 24
	S9   = 25
	S10  = 26
	S11  = 27
	T3   = 28
	T4   = 29
	T5   = 30
	T6   = 31

	// NumRegs is the number of integer registers, including x0.
	NumRegs = 32
)

// sstatus bits the kernel manipulates.
const (
	// SstatusSIE enables supervisor interrupts.
	SstatusSIE = uint64(1) << 1

	// SstatusSPIE holds the interrupt enable to restore on sret.
	SstatusSPIE = uint64(1) << 5

	// SstatusSPP is the privilege to return to on sret: set for
	// supervisor, clear for user.
	SstatusSPP = uint64(1) << 8

	// SstatusSUM permits supervisor access to user pages.
	SstatusSUM = uint64(1) << 18
)

// InstructionSize is the size of the trapping ecall instruction.
const InstructionSize = 4

// Registers is the saved register file of a user thread.
type Registers struct {
	// X holds x0 through x31. X[0] is always zero.
	X [NumRegs]uint64

	// PC is the user program counter (sepc while trapped).
	PC uint64

	// Sstatus is the status to restore when resuming.
	Sstatus uint64
}

// Context is the execution context of one user thread: everything needed
// to resume it at the instruction where it stopped.
type Context struct {
	Regs Registers
}

// NewContext returns a user-mode context starting at entry with interrupts
// enabled on resume.
func NewContext(entry hostarch.Addr) *Context {
	c := &Context{}
	c.Regs.PC = uint64(entry)
	c.Regs.Sstatus = SstatusSPIE
	return c
}

// Fork returns an exact copy of this context.
func (c *Context) Fork() *Context {
	n := *c
	return &n
}

// Reg returns register i.
func (c *Context) Reg(i int) uint64 {
	if i == Zero {
		return 0
	}
	return c.Regs.X[i]
}

// SetReg sets register i. Writes to x0 are discarded.
func (c *Context) SetReg(i int, v uint64) {
	if i == Zero {
		return
	}
	c.Regs.X[i] = v
}

// IP returns the current instruction pointer.
func (c *Context) IP() uintptr {
	return uintptr(c.Regs.PC)
}

// SetIP sets the current instruction pointer.
func (c *Context) SetIP(value uintptr) {
	c.Regs.PC = uint64(value)
}

// Stack returns the current stack pointer.
func (c *Context) Stack() uintptr {
	return uintptr(c.Regs.X[SP])
}

// SetStack sets the current stack pointer.
func (c *Context) SetStack(value uintptr) {
	c.Regs.X[SP] = uint64(value)
}

// Return returns the current syscall return value.
func (c *Context) Return() uintptr {
	return uintptr(c.Regs.X[A0])
}

// SetReturn sets the syscall return value.
func (c *Context) SetReturn(value uintptr) {
	c.Regs.X[A0] = uint64(value)
}

// MoveNext advances past the trapping instruction.
func (c *Context) MoveNext() {
	c.Regs.PC += InstructionSize
}

// RewindSyscall moves back onto the trapping instruction so that it is
// executed again on resume.
func (c *Context) RewindSyscall() {
	c.Regs.PC -= InstructionSize
}

// String implements fmt.Stringer.String.
func (c *Context) String() string {
	return fmt.Sprintf("pc=%#x sp=%#x ra=%#x a0=%#x a7=%d", c.Regs.PC, c.Regs.X[SP], c.Regs.X[RA], c.Regs.X[A0], c.Regs.X[A7])
}
