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

package ring0

import (
	"context"
	"errors"
	"testing"

	"tgos.dev/tgos/pkg/hart"
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/ring0/pagetables"
	"tgos.dev/tgos/pkg/rvasm"
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/pgalloc"
)

const userBase = 0x10000

type machine struct {
	mem    *pgalloc.MemoryFile
	portal *Portal
	kernel *pagetables.PageTables
	user   *pagetables.PageTables
	h      *hart.Hart
}

// newMachine loads prog at userBase in a fresh user address space that
// maps the portal iff withPortal.
func newMachine(t *testing.T, prog *rvasm.Program, withPortal bool) *machine {
	t.Helper()
	mem, err := pgalloc.NewMemoryFile(64*hostarch.PageSize, pgalloc.MemoryFileOpts{})
	if err != nil {
		t.Fatalf("NewMemoryFile failed: %v", err)
	}
	t.Cleanup(func() { mem.Destroy() })
	portal, err := NewPortal(mem, 2)
	if err != nil {
		t.Fatalf("NewPortal failed: %v", err)
	}
	kernel, err := pagetables.New(mem)
	if err != nil {
		t.Fatalf("pagetables.New failed: %v", err)
	}
	if err := portal.MapInto(kernel); err != nil {
		t.Fatalf("MapInto(kernel) failed: %v", err)
	}
	user, err := pagetables.New(mem)
	if err != nil {
		t.Fatalf("pagetables.New failed: %v", err)
	}
	if withPortal {
		if err := portal.MapInto(user); err != nil {
			t.Fatalf("MapInto(user) failed: %v", err)
		}
	}

	bin := prog.MustAssemble()
	text, err := mem.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	copy(mem.Frame(text), bin.Text)
	vpn := hostarch.Addr(userBase).VPN()
	if _, err := user.Map(hostarch.VPNRange{Start: vpn, End: vpn + 1}, text, pagetables.MapOpts{
		AccessType: hostarch.AccessType{Read: true, Execute: true},
		User:       true,
	}); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	h := hart.New(mem, nil)
	h.Sie = hart.STIP
	return &machine{mem: mem, portal: portal, kernel: kernel, user: user, h: h}
}

func (m *machine) enter(regs *arch.Registers) (Vector, error) {
	return m.portal.Enter(context.Background(), m.h, SwitchOpts{
		Registers:  regs,
		SATP:       m.user.SATP(),
		KernelSATP: m.kernel.SATP(),
		Slot:       1,
	})
}

func TestEnterEcall(t *testing.T) {
	prog := rvasm.New(userBase).
		Emit(rvasm.ADDI(rvasm.A0, rvasm.A1, 1)).
		Emit(rvasm.ADDI(rvasm.S11, rvasm.S11, 2)).
		Emit(rvasm.ECALL())
	m := newMachine(t, prog, true)
	ctx := arch.NewContext(userBase)
	ctx.SetReg(arch.A1, 41)
	ctx.SetReg(arch.S11, 100)
	ctx.SetStack(0x7000)

	v, err := m.enter(&ctx.Regs)
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if v.Interrupt() || v.Code() != hart.CauseUserEcall {
		t.Errorf("vector = %v, want user ecall", v)
	}
	if got := ctx.Reg(arch.A0); got != 42 {
		t.Errorf("a0 = %d, want 42", got)
	}
	if got := ctx.Reg(arch.S11); got != 102 {
		t.Errorf("s11 = %d, want 102", got)
	}
	if got := ctx.Stack(); got != 0x7000 {
		t.Errorf("sp = %#x, want 0x7000", got)
	}
	if got, want := ctx.IP(), uintptr(userBase+8); got != want {
		t.Errorf("pc = %#x, want %#x", got, want)
	}
	if m.h.Mode != hart.ModeSupervisor || m.h.Satp != m.kernel.SATP() {
		t.Errorf("hart left in mode %v satp %#x", m.h.Mode, m.h.Satp)
	}

	// Resume past the ecall into the zeroed rest of the page.
	ctx.MoveNext()
	v, err = m.enter(&ctx.Regs)
	if err != nil {
		t.Fatalf("second Enter failed: %v", err)
	}
	if v.Code() != hart.CauseIllegalInstruction {
		t.Errorf("vector = %v, want illegal instruction", v)
	}
	if got, want := ctx.IP(), uintptr(userBase+12); got != want {
		t.Errorf("pc = %#x, want %#x", got, want)
	}
}

func TestEnterTimer(t *testing.T) {
	m := newMachine(t, rvasm.New(userBase).Label("spin").J("spin"), true)
	m.h.Stimecmp = m.h.Time() + 500
	ctx := arch.NewContext(userBase)
	v, err := m.enter(&ctx.Regs)
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if !v.Interrupt() || v.Code() != hart.InterruptSupervisorTimer {
		t.Errorf("vector = %v, want timer interrupt", v)
	}
	if got := ctx.IP(); got != userBase {
		t.Errorf("pc = %#x, want %#x", got, userBase)
	}
}

func TestEnterWithoutPortal(t *testing.T) {
	m := newMachine(t, rvasm.New(userBase).Emit(rvasm.ECALL()), false)
	ctx := arch.NewContext(userBase)
	if _, err := m.enter(&ctx.Regs); !errors.Is(err, ErrPortalFault) {
		t.Errorf("Enter = %v, want ErrPortalFault", err)
	}
}

func TestEnterCancelled(t *testing.T) {
	m := newMachine(t, rvasm.New(userBase).Label("spin").J("spin"), true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	regs := arch.NewContext(userBase).Regs
	_, err := m.portal.Enter(ctx, m.h, SwitchOpts{Registers: &regs, SATP: m.user.SATP(), KernelSATP: m.kernel.SATP()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Enter = %v, want context.Canceled", err)
	}
}

func TestPortalMapping(t *testing.T) {
	m := newMachine(t, rvasm.New(userBase).Emit(rvasm.ECALL()), true)
	if !m.portal.MappedIn(m.user) || !m.portal.MappedIn(m.kernel) {
		t.Fatalf("portal not mapped after MapInto")
	}
	pte, _ := m.user.Lookup(hostarch.PortalVPN)
	if got, want := pte.Flags().String(), "___G_XWRV"; got != want {
		t.Errorf("portal flags = %s, want %s", got, want)
	}

	// Unrelated mappings leave the portal alone.
	r := hostarch.VPNRange{Start: 0x100, End: 0x180}
	frame, err := m.mem.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if _, err := m.user.Map(r, frame, pagetables.MapOpts{AccessType: hostarch.Read, User: true}); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	m.user.Unmap(r, nil)
	if !m.portal.MappedIn(m.user) {
		t.Errorf("portal lost after unrelated map and unmap")
	}
}

func TestNewPortalSlots(t *testing.T) {
	mem, err := pgalloc.NewMemoryFile(4*hostarch.PageSize, pgalloc.MemoryFileOpts{})
	if err != nil {
		t.Fatalf("NewMemoryFile failed: %v", err)
	}
	defer mem.Destroy()
	for _, n := range []int{0, MaxSlots + 1} {
		if _, err := NewPortal(mem, n); err == nil {
			t.Errorf("NewPortal(%d) succeeded", n)
		}
	}
	p, err := NewPortal(mem, MaxSlots)
	if err != nil {
		t.Fatalf("NewPortal(%d) failed: %v", MaxSlots, err)
	}
	p.Release()
	if mem.IsAllocated(p.Frame()) {
		t.Errorf("portal frame still allocated after Release")
	}
}
