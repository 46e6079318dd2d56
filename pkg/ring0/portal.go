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

// Package ring0 provides the portal: the single page of supervisor code
// through which the kernel enters user code and through which every user
// trap returns.
//
// The portal page is mapped at the same virtual address, hostarch.PortalVPN,
// in the kernel's tables and in every user address space. Its code switches
// satp, so it must keep executing across that switch. The page is never
// user-accessible.
package ring0

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"tgos.dev/tgos/pkg/hart"
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/ring0/pagetables"
	"tgos.dev/tgos/pkg/rvasm"
	"tgos.dev/tgos/pkg/sentry/arch"
)

// Portal page layout.
const (
	// codeSize is the space reserved for code at the start of the page.
	codeSize = 1024

	// SlotSize is the size of one save slot.
	SlotSize = 288

	// MaxSlots is the number of slots that fit after the code.
	MaxSlots = (hostarch.PageSize - codeSize) / SlotSize

	// Offsets within a slot. x1..x31 are at (i-1)*8.
	slotPC         = 248
	slotSATP       = 256
	slotKernelSATP = 264
	slotSstatus    = 272
)

// PortalAddr is the virtual address of the portal page.
var PortalAddr = hostarch.PortalVPN.Base()

// ErrPortalFault is returned when the hart faults or stops anywhere other
// than the end of the trap routine. It means the portal is not mapped
// correctly and the kernel cannot continue.
var ErrPortalFault = errors.New("fault in portal")

// chunk is the number of instructions run between context checks.
const chunk = 1 << 16

// Portal is the trampoline page.
type Portal struct {
	mem   pagetables.Allocator
	frame hostarch.PPN
	slots int

	// enter and trapDone are the virtual addresses of the enter routine
	// and of the instruction after the trap routine's ebreak.
	enter    uint64
	trapDone uint64
}

// NewPortal allocates and fills the portal page with room for slots save
// slots.
func NewPortal(mem pagetables.Allocator, slots int) (*Portal, error) {
	if slots < 1 || slots > MaxSlots {
		return nil, fmt.Errorf("portal slots %d out of range [1, %d]", slots, MaxSlots)
	}
	bin, err := assemble()
	if err != nil {
		return nil, fmt.Errorf("assembling portal: %w", err)
	}
	if len(bin.Text) > codeSize {
		return nil, fmt.Errorf("portal code is %d bytes, room for %d", len(bin.Text), codeSize)
	}
	frame, err := mem.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocating portal: %w", err)
	}
	copy(mem.Frame(frame), bin.Text)
	log.Debugf("Portal at %v: %d code bytes, %d slots", frame, len(bin.Text), slots)
	return &Portal{
		mem:      mem,
		frame:    frame,
		slots:    slots,
		enter:    bin.Symbols["enter"],
		trapDone: bin.Symbols["trap_done"],
	}, nil
}

// Frame returns the physical page holding the portal.
func (p *Portal) Frame() hostarch.PPN {
	return p.frame
}

// Slots returns the number of save slots.
func (p *Portal) Slots() int {
	return p.slots
}

// Release frees the portal page. The portal must not be mapped anywhere.
func (p *Portal) Release() {
	p.mem.Free(p.frame)
}

// mapOpts are the options of every portal mapping: G|X|W|R|V.
var mapOpts = pagetables.MapOpts{
	AccessType: hostarch.AnyAccess,
	Global:     true,
}

// Flags returns the entry flags of a correct portal mapping.
func Flags() pagetables.PTE {
	return mapOpts.Flags()
}

// MapInto installs the portal page into pt.
func (p *Portal) MapInto(pt *pagetables.PageTables) error {
	_, err := pt.Map(hostarch.VPNRange{Start: hostarch.PortalVPN, End: hostarch.PortalVPN + 1}, p.frame, mapOpts)
	return err
}

// MappedIn returns true iff pt maps the portal VPN to the portal frame with
// exactly the portal flags.
func (p *Portal) MappedIn(pt *pagetables.PageTables) bool {
	pte, ok := pt.Lookup(hostarch.PortalVPN)
	return ok && pte.PPN() == p.frame && pte.Flags() == Flags()
}

// SwitchOpts are the arguments of Enter.
type SwitchOpts struct {
	// Registers are the user registers. They are updated in place with
	// the state captured at the trap.
	Registers *arch.Registers

	// SATP selects the user address space.
	SATP uint64

	// KernelSATP selects the kernel's tables, which must map the portal.
	KernelSATP uint64

	// Slot is the save slot to use.
	Slot int
}

// Vector is the trap cause reported by the hart.
type Vector uint64

// Interrupt returns true if the trap was an interrupt.
func (v Vector) Interrupt() bool {
	return uint64(v)&hart.InterruptBit != 0
}

// Code returns the cause without the interrupt bit.
func (v Vector) Code() uint64 {
	return uint64(v) &^ hart.InterruptBit
}

// String implements fmt.Stringer.String.
func (v Vector) String() string {
	if v.Interrupt() {
		return fmt.Sprintf("interrupt %d", v.Code())
	}
	return fmt.Sprintf("exception %d", v.Code())
}

func (p *Portal) slot(i int) []byte {
	off := codeSize + i*SlotSize
	return p.mem.Frame(p.frame)[off : off+SlotSize]
}

func (p *Portal) slotAddr(i int) uint64 {
	return uint64(PortalAddr) + codeSize + uint64(i*SlotSize)
}

// Enter runs user code with the given registers in the address space
// selected by opts.SATP until the next trap, and returns the trap cause.
//
// The hart must be in supervisor mode. It is in supervisor mode with the
// kernel's satp again when Enter returns without error. If ctx is
// cancelled while user code runs, Enter returns ctx.Err() and the hart is
// left wherever it stopped.
func (p *Portal) Enter(ctx context.Context, h *hart.Hart, opts SwitchOpts) (Vector, error) {
	if opts.Slot < 0 || opts.Slot >= p.slots {
		return 0, fmt.Errorf("portal slot %d out of range", opts.Slot)
	}
	s := p.slot(opts.Slot)
	regs := opts.Registers
	for i := 1; i < arch.NumRegs; i++ {
		binary.LittleEndian.PutUint64(s[(i-1)*8:], regs.X[i])
	}
	binary.LittleEndian.PutUint64(s[slotPC:], regs.PC)
	binary.LittleEndian.PutUint64(s[slotSATP:], opts.SATP)
	// Always return to user mode, never with supervisor interrupts on.
	binary.LittleEndian.PutUint64(s[slotSstatus:], regs.Sstatus&^(arch.SstatusSPP|arch.SstatusSIE))

	h.Mode = hart.ModeSupervisor
	h.Satp = opts.KernelSATP
	h.Sstatus &^= hart.SstatusSIE
	h.X[rvasm.A0] = p.slotAddr(opts.Slot)
	h.PC = p.enter

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		stop, err := h.Run(chunk)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrPortalFault, err)
		}
		if stop == hart.StopBreak {
			break
		}
	}
	if h.PC != p.trapDone || h.Satp != opts.KernelSATP {
		return 0, fmt.Errorf("%w: stopped at pc %#x", ErrPortalFault, h.PC)
	}

	for i := 1; i < arch.NumRegs; i++ {
		regs.X[i] = binary.LittleEndian.Uint64(s[(i-1)*8:])
	}
	regs.X[arch.Zero] = 0
	regs.PC = binary.LittleEndian.Uint64(s[slotPC:])
	regs.Sstatus = binary.LittleEndian.Uint64(s[slotSstatus:])
	return Vector(h.Scause), nil
}

// assemble builds the portal code at the portal address.
//
// On entry a0 holds the address of the save slot. The enter routine points
// sscratch at the slot, loads sepc, sstatus and the user satp from it, and
// restores the user registers before sret. The trap routine swaps a0 with
// sscratch, saves every register and the trap CSRs into the slot, switches
// back to the kernel satp and stops the hart.
func assemble() (*rvasm.Binary, error) {
	const a0 = rvasm.A0
	const t0 = rvasm.T0
	p := rvasm.New(uint64(PortalAddr))

	p.Label("enter").Emit(
		rvasm.CSRW(rvasm.CSRSscratch, a0),
		rvasm.LD(t0, a0, slotPC),
		rvasm.CSRW(rvasm.CSRSepc, t0),
		rvasm.LD(t0, a0, slotSstatus),
		rvasm.CSRW(rvasm.CSRSstatus, t0),
	)
	p.La(t0, "trap").Emit(
		rvasm.CSRW(rvasm.CSRStvec, t0),
		rvasm.CSRR(t0, rvasm.CSRSatp),
		rvasm.SD(t0, a0, slotKernelSATP),
		rvasm.LD(t0, a0, slotSATP),
		rvasm.CSRW(rvasm.CSRSatp, t0),
		rvasm.SFENCEVMA(),
	)
	for r := rvasm.Reg(1); r < 32; r++ {
		if r != a0 {
			p.Emit(rvasm.LD(r, a0, int32(r-1)*8))
		}
	}
	p.Emit(
		rvasm.LD(a0, a0, int32(a0-1)*8),
		rvasm.SRET(),
	)

	p.Label("trap").Emit(rvasm.CSRRW(a0, rvasm.CSRSscratch, a0))
	for r := rvasm.Reg(1); r < 32; r++ {
		if r != a0 {
			p.Emit(rvasm.SD(r, a0, int32(r-1)*8))
		}
	}
	p.Emit(
		rvasm.CSRR(t0, rvasm.CSRSscratch),
		rvasm.SD(t0, a0, int32(a0-1)*8),
		rvasm.CSRR(t0, rvasm.CSRSepc),
		rvasm.SD(t0, a0, slotPC),
		rvasm.CSRR(t0, rvasm.CSRSstatus),
		rvasm.SD(t0, a0, slotSstatus),
		rvasm.CSRW(rvasm.CSRSscratch, a0),
		rvasm.LD(t0, a0, slotKernelSATP),
		rvasm.CSRW(rvasm.CSRSatp, t0),
		rvasm.SFENCEVMA(),
		rvasm.EBREAK(),
	)
	p.Label("trap_done")
	return p.Assemble()
}
