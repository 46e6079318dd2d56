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

// Package rv64 provides an implementation of the platform interface on an
// emulated RV64 hart.
//
// The machine has one hart, one physical memory arena and one portal page.
// The kernel's own page tables map only the portal: everything else the
// kernel does happens on the host, outside the hart.
package rv64

import (
	"context"
	"fmt"
	"math"

	"tgos.dev/tgos/pkg/hart"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/metric"
	"tgos.dev/tgos/pkg/ring0"
	"tgos.dev/tgos/pkg/ring0/pagetables"
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/pgalloc"
	"tgos.dev/tgos/pkg/sentry/platform"
)

var (
	userExitCounter = metric.MustCreateNewUint64Metric("/platform/user_exits", "Number of returns from user code.",
		metric.NewField("kind", []string{"syscall", "timer", "interrupt", "fault"}))
	interruptCounter = metric.MustCreateNewUint64Metric("/platform/interrupts_claimed", "Number of device interrupts claimed.")
)

// Opts are machine options.
type Opts struct {
	// MemorySize is the size of physical memory in bytes.
	MemorySize uint64

	// PortalSlots is the number of save slots in the portal page.
	PortalSlots int

	// TimeSlice is the initial time slice in ticks; zero means no
	// preemption.
	TimeSlice uint64
}

// Machine is the RV64 platform.
type Machine struct {
	mem    *pgalloc.MemoryFile
	hart   *hart.Hart
	plic   *hart.PLIC
	portal *ring0.Portal

	// kernel is the kernel's page table: the portal only.
	kernel *pagetables.PageTables

	timeSlice uint64
}

var _ platform.Platform = (*Machine)(nil)

// New returns a new machine.
func New(opts Opts) (*Machine, error) {
	if opts.PortalSlots == 0 {
		opts.PortalSlots = 1
	}
	mem, err := pgalloc.NewMemoryFile(opts.MemorySize, pgalloc.MemoryFileOpts{})
	if err != nil {
		return nil, err
	}
	portal, err := ring0.NewPortal(mem, opts.PortalSlots)
	if err != nil {
		mem.Destroy()
		return nil, err
	}
	kernel, err := pagetables.New(mem)
	if err != nil {
		mem.Destroy()
		return nil, fmt.Errorf("creating kernel page tables: %w", err)
	}
	if err := portal.MapInto(kernel); err != nil {
		mem.Destroy()
		return nil, fmt.Errorf("mapping portal into kernel tables: %w", err)
	}
	plic := hart.NewPLIC()
	m := &Machine{
		mem:       mem,
		hart:      hart.New(mem, plic),
		plic:      plic,
		portal:    portal,
		kernel:    kernel,
		timeSlice: opts.TimeSlice,
	}
	m.hart.Satp = kernel.SATP()
	m.hart.Sie = hart.STIP | hart.SEIP
	log.Infof("Machine: %d MiB at %#x, portal frame %v, time slice %d", opts.MemorySize>>20, mem.Base(), portal.Frame(), opts.TimeSlice)
	return m, nil
}

// Release frees the machine's memory. No address space may be used
// afterwards.
func (m *Machine) Release() error {
	m.kernel.Release(nil)
	m.portal.Release()
	return m.mem.Destroy()
}

// Memory implements platform.Platform.Memory.
func (m *Machine) Memory() *pgalloc.MemoryFile {
	return m.mem
}

// Hart returns the machine's hart.
func (m *Machine) Hart() *hart.Hart {
	return m.hart
}

// MapPortal implements platform.Platform.MapPortal.
func (m *Machine) MapPortal(pt *pagetables.PageTables) error {
	return m.portal.MapInto(pt)
}

// PortalMapped implements platform.Platform.PortalMapped.
func (m *Machine) PortalMapped(pt *pagetables.PageTables) bool {
	return m.portal.MappedIn(pt)
}

// PortalFrame returns the physical page of the portal.
func (m *Machine) PortalFrame() uint64 {
	return uint64(m.portal.Frame())
}

// SetTimeSlice implements platform.Platform.SetTimeSlice.
func (m *Machine) SetTimeSlice(ticks uint64) {
	m.timeSlice = ticks
}

// Now implements platform.Platform.Now.
func (m *Machine) Now() uint64 {
	return m.hart.Time()
}

// WaitInterrupt implements platform.Platform.WaitInterrupt.
func (m *Machine) WaitInterrupt(ctx context.Context) error {
	before := m.hart.Time()
	err := m.plic.Wait(ctx)
	// Waiting takes at least one tick.
	if m.hart.Time() == before {
		m.hart.AdvanceTime(1)
	}
	return err
}

// ClaimInterrupt implements platform.Platform.ClaimInterrupt.
func (m *Machine) ClaimInterrupt() int {
	src := m.plic.Claim()
	if src != 0 {
		interruptCounter.Increment()
	}
	return src
}

// CompleteInterrupt implements platform.Platform.CompleteInterrupt.
func (m *Machine) CompleteInterrupt(src int) {
	m.plic.Complete(src)
}

// RaiseInterrupt implements platform.Platform.RaiseInterrupt.
func (m *Machine) RaiseInterrupt(src int) {
	m.plic.Raise(src)
}

// EnableInterrupt implements platform.Platform.EnableInterrupt.
func (m *Machine) EnableInterrupt(src int) {
	m.plic.Enable(src, true)
}

// Switch implements platform.Context.Switch.
func (m *Machine) Switch(ctx context.Context, as platform.AddressSpace, ac *arch.Context) (platform.Trap, error) {
	h := m.hart
	if m.timeSlice > 0 {
		h.Stimecmp = h.Time() + m.timeSlice
	} else {
		h.Stimecmp = math.MaxUint64
	}

	vector, err := m.portal.Enter(ctx, h, ring0.SwitchOpts{
		Registers:  &ac.Regs,
		SATP:       as.SATP(),
		KernelSATP: m.kernel.SATP(),
	})
	h.Stimecmp = math.MaxUint64
	if err != nil {
		return platform.Trap{}, err
	}

	trap := platform.Trap{
		Cause: uint64(vector),
		Addr:  h.Stval,
		PC:    ac.Regs.PC,
	}
	switch {
	case vector.Interrupt() && vector.Code() == hart.InterruptSupervisorTimer:
		trap.Kind = platform.TrapTimer
	case vector.Interrupt():
		trap.Kind = platform.TrapInterrupt
	case vector.Code() == hart.CauseUserEcall:
		trap.Kind = platform.TrapSyscall
	default:
		trap.Kind = platform.TrapFault
	}
	userExitCounter.Increment(trap.Kind.String())
	return trap, nil
}
