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

package rvasm

import (
	"encoding/binary"
	"testing"
)

func TestEncodings(t *testing.T) {
	for _, tc := range []struct {
		name string
		got  uint32
		want uint32
	}{
		{"addi a0,a0,1", ADDI(A0, A0, 1), 0x00150513},
		{"ld a0,8(sp)", LD(A0, SP, 8), 0x00813503},
		{"sd ra,0(sp)", SD(RA, SP, 0), 0x00113023},
		{"lui a0,0x12345", LUI(A0, 0x12345), 0x12345537},
		{"jal zero,0", JAL(ZERO, 0), 0x0000006f},
		{"beq a0,a1,8", BEQ(A0, A1, 8), 0x00b50463},
		{"bne a0,zero,-4", BNE(A0, ZERO, -4), 0xfe051ee3},
		{"csrrw a0,sscratch,a0", CSRRW(A0, CSRSscratch, A0), 0x14051573},
		{"csrw satp,t0", CSRW(CSRSatp, T0), 0x18029073},
		{"sfence.vma", SFENCEVMA(), 0x12000073},
		{"sret", SRET(), 0x10200073},
		{"ebreak", EBREAK(), 0x00100073},
		{"ecall", ECALL(), 0x00000073},
		{"add a0,a1,a2", ADD(A0, A1, A2), 0x00c58533},
		{"mul a0,a1,a2", MUL(A0, A1, A2), 0x02c58533},
		{"ret", RET(), 0x00008067},
	} {
		if tc.got != tc.want {
			t.Errorf("%s = %#08x, want %#08x", tc.name, tc.got, tc.want)
		}
	}
}

func TestLiSequenceLength(t *testing.T) {
	for _, tc := range []struct {
		imm  int64
		want int
	}{
		{0, 1},
		{-2048, 1},
		{2047, 1},
		{0x1000, 1},
		{0x12345678, 2},
		{-0xdead, 2},
	} {
		if got := len(LiSequence(A0, tc.imm)); got != tc.want {
			t.Errorf("len(LiSequence(%#x)) = %d, want %d", tc.imm, got, tc.want)
		}
	}
}

func TestAssembleLabels(t *testing.T) {
	p := New(0x1000)
	p.Label("start").
		La(A0, "msg").
		Beq(A0, ZERO, "start").
		J("end").
		Emit(NOP()).
		Label("end").
		Emit(EBREAK()).
		String("msg", "hi")
	b, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if b.DataBase != 0x2000 {
		t.Errorf("DataBase = %#x, want 0x2000", b.DataBase)
	}
	if b.Symbols["end"] != 0x1014 || b.Symbols["msg"] != 0x2000 {
		t.Errorf("symbols = %v", b.Symbols)
	}
	word := func(i int) uint32 { return binary.LittleEndian.Uint32(b.Text[i*4:]) }
	// auipc a0, 1 ; addi a0, a0, 0: 0x1000 + 0x1000 = 0x2000.
	if got, want := word(0), AUIPC(A0, 1); got != want {
		t.Errorf("auipc = %#x, want %#x", got, want)
	}
	if got, want := word(1), ADDI(A0, A0, 0); got != want {
		t.Errorf("addi = %#x, want %#x", got, want)
	}
	if got, want := word(2), BEQ(A0, ZERO, -8); got != want {
		t.Errorf("beq = %#x, want %#x", got, want)
	}
	if got, want := word(3), JAL(ZERO, 8); got != want {
		t.Errorf("jal = %#x, want %#x", got, want)
	}
	if string(b.Data) != "hi\x00" {
		t.Errorf("data = %q", b.Data)
	}
}

func TestAssembleErrors(t *testing.T) {
	if _, err := New(0).J("nowhere").Assemble(); err == nil {
		t.Errorf("undefined label assembled")
	}
	if _, err := New(0).Label("a").Label("a").Assemble(); err == nil {
		t.Errorf("duplicate label assembled")
	}
}
