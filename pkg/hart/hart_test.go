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

package hart

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"tgos.dev/tgos/pkg/rvasm"
)

const ramBase = 0x8000_0000

// ram is physical memory for tests.
type ram struct {
	b []byte
}

func newRAM(pages int) *ram {
	return &ram{b: make([]byte, pages*pageSize)}
}

func (r *ram) Slice(pa, n uint64) ([]byte, bool) {
	if pa < ramBase || pa-ramBase+n > uint64(len(r.b)) {
		return nil, false
	}
	off := pa - ramBase
	return r.b[off : off+n], true
}

func (r *ram) load(bin *rvasm.Binary, textPA, dataPA uint64) {
	copy(r.b[textPA-ramBase:], bin.Text)
	copy(r.b[dataPA-ramBase:], bin.Data)
}

func (r *ram) setPTE(tablePA uint64, idx int, pte uint64) {
	binary.LittleEndian.PutUint64(r.b[tablePA-ramBase+uint64(idx)*8:], pte)
}

// runSupervisor assembles p at ramBase and runs it with translation off.
func runSupervisor(t *testing.T, p *rvasm.Program) *Hart {
	t.Helper()
	bin := p.MustAssemble()
	m := newRAM(16)
	m.load(bin, bin.TextBase, bin.DataBase)
	h := New(m, nil)
	h.PC = bin.Entry()
	if _, err := h.Run(10000); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return h
}

func TestArithmetic(t *testing.T) {
	p := rvasm.New(ramBase).
		Li(rvasm.A0, 6).
		Li(rvasm.A1, 7).
		Emit(
			rvasm.MUL(rvasm.A2, rvasm.A0, rvasm.A1),
			rvasm.SUB(rvasm.A3, rvasm.A0, rvasm.A1),
			rvasm.DIV(rvasm.A4, rvasm.A0, rvasm.ZERO),
			rvasm.REM(rvasm.A5, rvasm.A1, rvasm.ZERO),
			rvasm.SRAI(rvasm.A6, rvasm.A3, 1),
			rvasm.ADDW(rvasm.A7, rvasm.A3, rvasm.ZERO),
			rvasm.SLTU(rvasm.S2, rvasm.A0, rvasm.A1),
			rvasm.EBREAK(),
		)
	h := runSupervisor(t, p)
	got := map[string]uint64{
		"mul":  h.X[rvasm.A2],
		"sub":  h.X[rvasm.A3],
		"div0": h.X[rvasm.A4],
		"rem0": h.X[rvasm.A5],
		"srai": h.X[rvasm.A6],
		"addw": h.X[rvasm.A7],
		"sltu": h.X[rvasm.S2],
	}
	want := map[string]uint64{
		"mul":  42,
		"sub":  math.MaxUint64,
		"div0": math.MaxUint64,
		"rem0": 7,
		"srai": math.MaxUint64,
		"addw": math.MaxUint64,
		"sltu": 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("registers mismatch (-want +got):\n%s", diff)
	}
}

func TestMulDivEdges(t *testing.T) {
	minInt := uint64(1) << 63
	for _, tc := range []struct {
		name string
		f3   uint32
		a, b uint64
		want uint64
	}{
		{"mulh negative", 1, math.MaxUint64, 2, math.MaxUint64},
		{"mulhu", 3, math.MaxUint64, 2, 1},
		{"div overflow", 4, minInt, math.MaxUint64, minInt},
		{"rem overflow", 6, minInt, math.MaxUint64, 0},
		{"divu", 5, 10, 3, 3},
		{"remu by zero", 7, 10, 0, 10},
		{"div signed", 4, uint64(math.MaxUint64 - 9), 3, uint64(math.MaxUint64 - 2)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := muldiv(tc.f3, tc.a, tc.b); got != tc.want {
				t.Errorf("muldiv(%d, %#x, %#x) = %#x, want %#x", tc.f3, tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestLoadStore(t *testing.T) {
	p := rvasm.New(ramBase).
		La(rvasm.A0, "buf").
		Li(rvasm.A1, -2).
		Emit(
			rvasm.SW(rvasm.A1, rvasm.A0, 0),
			rvasm.LW(rvasm.A2, rvasm.A0, 0),
			rvasm.LWU(rvasm.A3, rvasm.A0, 0),
			rvasm.LBU(rvasm.A4, rvasm.A0, 1),
			rvasm.EBREAK(),
		).
		Zero("buf", 8)
	h := runSupervisor(t, p)
	if got, want := h.X[rvasm.A2], uint64(math.MaxUint64-1); got != want {
		t.Errorf("lw = %#x, want %#x", got, want)
	}
	if got, want := h.X[rvasm.A3], uint64(0xfffffffe); got != want {
		t.Errorf("lwu = %#x, want %#x", got, want)
	}
	if got, want := h.X[rvasm.A4], uint64(0xff); got != want {
		t.Errorf("lbu = %#x, want %#x", got, want)
	}
}

func TestAtomics(t *testing.T) {
	p := rvasm.New(ramBase).
		La(rvasm.A0, "word").
		Li(rvasm.A1, 5).
		Emit(
			rvasm.AMOADDD(rvasm.A2, rvasm.A0, rvasm.A1), // a2 = 0, word = 5
			rvasm.LRD(rvasm.A3, rvasm.A0),               // a3 = 5
			rvasm.ADDI(rvasm.A3, rvasm.A3, 1),
			rvasm.SCD(rvasm.A4, rvasm.A0, rvasm.A3), // a4 = 0, word = 6
			rvasm.SCD(rvasm.A5, rvasm.A0, rvasm.A3), // no reservation: a5 = 1
			rvasm.LD(rvasm.A6, rvasm.A0, 0),
			rvasm.EBREAK(),
		).
		Zero("word", 8)
	h := runSupervisor(t, p)
	got := []uint64{h.X[rvasm.A2], h.X[rvasm.A3], h.X[rvasm.A4], h.X[rvasm.A5], h.X[rvasm.A6]}
	if diff := cmp.Diff([]uint64{0, 6, 0, 1, 6}, got); diff != "" {
		t.Errorf("atomics mismatch (-want +got):\n%s", diff)
	}
}

func TestKernelFault(t *testing.T) {
	bin := rvasm.New(ramBase).Emit(0xffffffff).MustAssemble()
	m := newRAM(4)
	m.load(bin, bin.TextBase, bin.DataBase)
	h := New(m, nil)
	h.PC = bin.Entry()
	_, err := h.Run(10)
	var kf *KernelFault
	if !errors.As(err, &kf) {
		t.Fatalf("Run returned %v, want KernelFault", err)
	}
	if kf.Cause != CauseIllegalInstruction || kf.PC != ramBase {
		t.Errorf("got fault %+v, want illegal instruction at %#x", kf, ramBase)
	}
}

func TestRunLimit(t *testing.T) {
	bin := rvasm.New(ramBase).Label("loop").J("loop").MustAssemble()
	m := newRAM(4)
	m.load(bin, bin.TextBase, bin.DataBase)
	h := New(m, nil)
	h.PC = bin.Entry()
	stop, err := h.Run(100)
	if err != nil || stop != StopLimit {
		t.Fatalf("Run = %v, %v, want StopLimit", stop, err)
	}
	if got := h.Instret(); got != 100 {
		t.Errorf("Instret = %d, want 100", got)
	}
}

// userMachine sets up Sv39 tables mapping user text at 0x10000, a
// read-only user page at 0x11000 and a supervisor handler at 0x20000 that
// executes ebreak.
type userMachine struct {
	h   *Hart
	mem *ram
}

const (
	rootPA    = ramBase + 0x1000
	l1PA      = ramBase + 0x2000
	l0PA      = ramBase + 0x3000
	userPA    = ramBase + 0x4000
	roPA      = ramBase + 0x5000
	handlerPA = ramBase + 0x6000

	userVA    = 0x10000
	roVA      = 0x11000
	handlerVA = 0x20000
)

func leaf(pa uint64, flags uint64) uint64 {
	return (pa>>pageShift)<<10 | flags | pteV
}

func newUserMachine(t *testing.T, user *rvasm.Program, ext InterruptLine) *userMachine {
	t.Helper()
	m := newRAM(8)
	m.setPTE(rootPA, 0, leaf(l1PA, 0))
	m.setPTE(l1PA, 0, leaf(l0PA, 0))
	m.setPTE(l0PA, userVA>>pageShift, leaf(userPA, pteU|pteR|pteX))
	m.setPTE(l0PA, roVA>>pageShift, leaf(roPA, pteU|pteR))
	m.setPTE(l0PA, handlerVA>>pageShift, leaf(handlerPA, pteR|pteX))

	bin := user.MustAssemble()
	copy(m.b[userPA-ramBase:], bin.Text)
	var ebreak [4]byte
	binary.LittleEndian.PutUint32(ebreak[:], rvasm.EBREAK())
	copy(m.b[handlerPA-ramBase:], ebreak[:])

	h := New(m, ext)
	h.Satp = 8<<60 | rootPA>>pageShift
	h.Stvec = handlerVA
	h.Mode = ModeUser
	h.PC = userVA
	return &userMachine{h: h, mem: m}
}

func (u *userMachine) run(t *testing.T) {
	t.Helper()
	stop, err := u.h.Run(10000)
	if err != nil || stop != StopBreak {
		t.Fatalf("Run = %v, %v, want StopBreak", stop, err)
	}
	if u.h.Mode != ModeSupervisor {
		t.Fatalf("stopped in mode %v", u.h.Mode)
	}
}

func TestUserTraps(t *testing.T) {
	for _, tc := range []struct {
		name      string
		prog      *rvasm.Program
		wantCause uint64
		wantEPC   uint64
		wantTval  uint64
	}{
		{
			name:      "ecall",
			prog:      rvasm.New(userVA).Emit(rvasm.NOP(), rvasm.ECALL()),
			wantCause: CauseUserEcall,
			wantEPC:   userVA + 4,
		},
		{
			name:      "store to read-only page",
			prog:      rvasm.New(userVA).Li(rvasm.A0, roVA).Emit(rvasm.SD(rvasm.A0, rvasm.A0, 8)),
			wantCause: CauseStorePageFault,
			wantEPC:   userVA + 4,
			wantTval:  roVA + 8,
		},
		{
			name:      "load from supervisor page",
			prog:      rvasm.New(userVA).Li(rvasm.A0, handlerVA).Emit(rvasm.LD(rvasm.A1, rvasm.A0, 0)),
			wantCause: CauseLoadPageFault,
			wantEPC:   userVA + 4,
			wantTval:  handlerVA,
		},
		{
			name:      "jump to unmapped",
			prog:      rvasm.New(userVA).Li(rvasm.A0, 0x40000).Emit(rvasm.JALR(rvasm.ZERO, rvasm.A0, 0)),
			wantCause: CauseInstructionPageFault,
			wantEPC:   0x40000,
			wantTval:  0x40000,
		},
		{
			name:      "read sstatus",
			prog:      rvasm.New(userVA).Emit(rvasm.CSRR(rvasm.A0, rvasm.CSRSstatus)),
			wantCause: CauseIllegalInstruction,
			wantEPC:   userVA,
			wantTval:  uint64(rvasm.CSRR(rvasm.A0, rvasm.CSRSstatus)),
		},
		{
			name:      "ebreak",
			prog:      rvasm.New(userVA).Emit(rvasm.EBREAK()),
			wantCause: CauseBreakpoint,
			wantEPC:   userVA,
			wantTval:  userVA,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			u := newUserMachine(t, tc.prog, nil)
			u.run(t)
			got := []uint64{u.h.Scause, u.h.Sepc, u.h.Stval}
			want := []uint64{tc.wantCause, tc.wantEPC, tc.wantTval}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("trap state mismatch (-want +got):\n%s", diff)
			}
			if u.h.Sstatus&SstatusSPP != 0 {
				t.Errorf("SPP set after trap from user mode")
			}
		})
	}
}

func TestUserReadsTime(t *testing.T) {
	u := newUserMachine(t, rvasm.New(userVA).Emit(rvasm.CSRR(rvasm.A0, rvasm.CSRTime), rvasm.ECALL()), nil)
	u.run(t)
	if u.h.Scause != CauseUserEcall {
		t.Fatalf("scause = %d, want ecall", u.h.Scause)
	}
	if u.h.X[rvasm.A0] == 0 {
		t.Errorf("time read as zero")
	}
}

func TestTimerInterrupt(t *testing.T) {
	u := newUserMachine(t, rvasm.New(userVA).Label("loop").J("loop"), nil)
	u.h.Sie = STIP
	u.h.Stimecmp = u.h.Time() + 50
	u.run(t)
	if want := InterruptBit | InterruptSupervisorTimer; u.h.Scause != want {
		t.Errorf("scause = %#x, want %#x", u.h.Scause, want)
	}
	if u.h.Time() < 50 {
		t.Errorf("time = %d, interrupt taken early", u.h.Time())
	}
}

func TestExternalInterrupt(t *testing.T) {
	p := NewPLIC()
	p.Enable(3, true)
	u := newUserMachine(t, rvasm.New(userVA).Label("loop").J("loop"), p)
	u.h.Sie = SEIP
	if stop, _ := u.h.Run(20); stop != StopLimit {
		t.Fatalf("interrupt taken with nothing raised")
	}
	p.Raise(3)
	u.run(t)
	if want := InterruptBit | InterruptSupervisorExternal; u.h.Scause != want {
		t.Errorf("scause = %#x, want %#x", u.h.Scause, want)
	}
	if got := p.Claim(); got != 3 {
		t.Errorf("Claim = %d, want 3", got)
	}
}

func TestSretReturnsToUser(t *testing.T) {
	u := newUserMachine(t, rvasm.New(userVA).Emit(rvasm.ECALL(), rvasm.ECALL()), nil)
	u.run(t)
	u.h.Sepc += 4
	u.h.PC = u.h.Sepc
	u.h.sret()
	if u.h.Mode != ModeUser {
		t.Fatalf("sret left mode %v", u.h.Mode)
	}
	u.run(t)
	if got, want := u.h.Sepc, uint64(userVA+4); got != want {
		t.Errorf("second ecall at %#x, want %#x", got, want)
	}
}

func TestTranslate(t *testing.T) {
	u := newUserMachine(t, rvasm.New(userVA).Emit(rvasm.ECALL()), nil)
	if pa, ok := u.h.Translate(roVA+0x10, false); !ok || pa != roPA+0x10 {
		t.Errorf("Translate(ro, read) = %#x, %v, want %#x", pa, ok, roPA+0x10)
	}
	if _, ok := u.h.Translate(roVA, true); ok {
		t.Errorf("Translate(ro, write) succeeded")
	}
	if _, ok := u.h.Translate(1<<40, false); ok {
		t.Errorf("Translate(non-canonical) succeeded")
	}
}

func TestPLIC(t *testing.T) {
	p := NewPLIC()
	p.Raise(2)
	if p.Pending() {
		t.Errorf("disabled source is pending")
	}
	p.Enable(2, true)
	p.Enable(5, true)
	p.Raise(5)
	if !p.Pending() {
		t.Fatalf("enabled source not pending")
	}
	if got := p.Claim(); got != 2 {
		t.Errorf("first Claim = %d, want 2", got)
	}
	if got := p.Claim(); got != 5 {
		t.Errorf("second Claim = %d, want 5", got)
	}
	if got := p.Claim(); got != 0 {
		t.Errorf("Claim with nothing pending = %d, want 0", got)
	}
	p.Raise(2)
	if p.Pending() {
		t.Errorf("source in service delivered again")
	}
	p.Complete(2)
	if !p.Pending() {
		t.Errorf("source not redelivered after Complete")
	}
}

func TestPLICWait(t *testing.T) {
	p := NewPLIC()
	p.Enable(1, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait with nothing raised = %v, want DeadlineExceeded", err)
	}

	go func() {
		time.Sleep(time.Millisecond)
		p.Raise(1)
	}()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if got := p.Claim(); got != 1 {
		t.Errorf("Claim = %d, want 1", got)
	}
}
