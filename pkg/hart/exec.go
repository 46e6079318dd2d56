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
	"math"
	"math/bits"
)

func illegal(inst uint32) *exception {
	return &exception{CauseIllegalInstruction, uint64(inst)}
}

func immI(inst uint32) uint64 {
	return uint64(int64(int32(inst)) >> 20)
}

func immS(inst uint32) uint64 {
	return uint64(int64(int32(inst))>>25<<5 | int64((inst>>7)&0x1f))
}

func immB(inst uint32) uint64 {
	v := int64(int32(inst))>>31<<12 |
		int64((inst>>7)&1)<<11 |
		int64((inst>>25)&0x3f)<<5 |
		int64((inst>>8)&0xf)<<1
	return uint64(v)
}

func immU(inst uint32) uint64 {
	return uint64(int64(int32(inst & 0xfffff000)))
}

func immJ(inst uint32) uint64 {
	v := int64(int32(inst))>>31<<20 |
		int64((inst>>12)&0xff)<<12 |
		int64((inst>>20)&1)<<11 |
		int64((inst>>21)&0x3ff)<<1
	return uint64(v)
}

func sext32(v uint64) uint64 {
	return uint64(int64(int32(v)))
}

// jump moves to target, which must be instruction aligned.
func (h *Hart) jump(target uint64) *exception {
	if target&3 != 0 {
		return &exception{CauseInstructionMisaligned, target}
	}
	h.PC = target
	return nil
}

// execute runs one instruction. It returns true for a supervisor ebreak.
func (h *Hart) execute(inst uint32) (bool, *exception) {
	op := inst & 0x7f
	rd := (inst >> 7) & 0x1f
	f3 := (inst >> 12) & 7
	rs1 := (inst >> 15) & 0x1f
	rs2 := (inst >> 20) & 0x1f
	f7 := inst >> 25
	a := h.X[rs1]
	b := h.X[rs2]
	next := h.PC + 4

	switch op {
	case 0x37: // LUI
		h.setReg(rd, immU(inst))

	case 0x17: // AUIPC
		h.setReg(rd, h.PC+immU(inst))

	case 0x6f: // JAL
		if exc := h.jump(h.PC + immJ(inst)); exc != nil {
			return false, exc
		}
		h.setReg(rd, next)
		return false, nil

	case 0x67: // JALR
		if f3 != 0 {
			return false, illegal(inst)
		}
		if exc := h.jump((a + immI(inst)) &^ 1); exc != nil {
			return false, exc
		}
		h.setReg(rd, next)
		return false, nil

	case 0x63: // Branches.
		var taken bool
		switch f3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int64(a) < int64(b)
		case 5:
			taken = int64(a) >= int64(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return false, illegal(inst)
		}
		if taken {
			return false, h.jump(h.PC + immB(inst))
		}

	case 0x03: // Loads.
		va := a + immI(inst)
		var v uint64
		var exc *exception
		switch f3 {
		case 0:
			v, exc = h.load(va, 1)
			v = uint64(int64(int8(v)))
		case 1:
			v, exc = h.load(va, 2)
			v = uint64(int64(int16(v)))
		case 2:
			v, exc = h.load(va, 4)
			v = sext32(v)
		case 3:
			v, exc = h.load(va, 8)
		case 4:
			v, exc = h.load(va, 1)
		case 5:
			v, exc = h.load(va, 2)
		case 6:
			v, exc = h.load(va, 4)
		default:
			return false, illegal(inst)
		}
		if exc != nil {
			return false, exc
		}
		h.setReg(rd, v)

	case 0x23: // Stores.
		if f3 > 3 {
			return false, illegal(inst)
		}
		if exc := h.store(a+immS(inst), 1<<f3, b); exc != nil {
			return false, exc
		}

	case 0x13: // Register-immediate.
		imm := immI(inst)
		shamt := uint(imm & 0x3f)
		var v uint64
		switch f3 {
		case 0:
			v = a + imm
		case 1:
			if inst>>26 != 0 {
				return false, illegal(inst)
			}
			v = a << shamt
		case 2:
			if int64(a) < int64(imm) {
				v = 1
			}
		case 3:
			if a < imm {
				v = 1
			}
		case 4:
			v = a ^ imm
		case 5:
			switch inst >> 26 {
			case 0:
				v = a >> shamt
			case 0x10:
				v = uint64(int64(a) >> shamt)
			default:
				return false, illegal(inst)
			}
		case 6:
			v = a | imm
		case 7:
			v = a & imm
		}
		h.setReg(rd, v)

	case 0x1b: // Register-immediate, 32-bit.
		imm := immI(inst)
		shamt := uint(rs2)
		var v uint64
		switch {
		case f3 == 0:
			v = sext32(a + imm)
		case f3 == 1 && f7 == 0:
			v = sext32(a << shamt)
		case f3 == 5 && f7 == 0:
			v = sext32(uint64(uint32(a) >> shamt))
		case f3 == 5 && f7 == 0x20:
			v = uint64(int64(int32(a) >> shamt))
		default:
			return false, illegal(inst)
		}
		h.setReg(rd, v)

	case 0x33: // Register-register.
		v, ok := alu(f3, f7, a, b)
		if !ok {
			return false, illegal(inst)
		}
		h.setReg(rd, v)

	case 0x3b: // Register-register, 32-bit.
		v, ok := alu32(f3, f7, a, b)
		if !ok {
			return false, illegal(inst)
		}
		h.setReg(rd, v)

	case 0x0f: // FENCE, FENCE.I: memory is always coherent.

	case 0x2f:
		if exc := h.atomic(inst, rd, f3, a, b); exc != nil {
			return false, exc
		}

	case 0x73:
		return h.system(inst, rd, f3, rs1, a)

	default:
		return false, illegal(inst)
	}
	h.PC = next
	return false, nil
}

func alu(f3, f7 uint32, a, b uint64) (uint64, bool) {
	switch f7 {
	case 0x00:
		switch f3 {
		case 0:
			return a + b, true
		case 1:
			return a << (b & 0x3f), true
		case 2:
			if int64(a) < int64(b) {
				return 1, true
			}
			return 0, true
		case 3:
			if a < b {
				return 1, true
			}
			return 0, true
		case 4:
			return a ^ b, true
		case 5:
			return a >> (b & 0x3f), true
		case 6:
			return a | b, true
		case 7:
			return a & b, true
		}
	case 0x20:
		switch f3 {
		case 0:
			return a - b, true
		case 5:
			return uint64(int64(a) >> (b & 0x3f)), true
		}
	case 0x01:
		return muldiv(f3, a, b), true
	}
	return 0, false
}

func muldiv(f3 uint32, a, b uint64) uint64 {
	sa, sb := int64(a), int64(b)
	switch f3 {
	case 0: // MUL
		return a * b
	case 1: // MULH
		hi, _ := bits.Mul64(a, b)
		if sa < 0 {
			hi -= b
		}
		if sb < 0 {
			hi -= a
		}
		return hi
	case 2: // MULHSU
		hi, _ := bits.Mul64(a, b)
		if sa < 0 {
			hi -= b
		}
		return hi
	case 3: // MULHU
		hi, _ := bits.Mul64(a, b)
		return hi
	case 4: // DIV
		switch {
		case b == 0:
			return math.MaxUint64
		case sa == math.MinInt64 && sb == -1:
			return a
		}
		return uint64(sa / sb)
	case 5: // DIVU
		if b == 0 {
			return math.MaxUint64
		}
		return a / b
	case 6: // REM
		switch {
		case b == 0:
			return a
		case sa == math.MinInt64 && sb == -1:
			return 0
		}
		return uint64(sa % sb)
	default: // REMU
		if b == 0 {
			return a
		}
		return a % b
	}
}

func alu32(f3, f7 uint32, a, b uint64) (uint64, bool) {
	sh := uint(b & 0x1f)
	switch {
	case f7 == 0 && f3 == 0:
		return sext32(a + b), true
	case f7 == 0x20 && f3 == 0:
		return sext32(a - b), true
	case f7 == 0 && f3 == 1:
		return sext32(a << sh), true
	case f7 == 0 && f3 == 5:
		return sext32(uint64(uint32(a) >> sh)), true
	case f7 == 0x20 && f3 == 5:
		return uint64(int64(int32(a) >> sh)), true
	case f7 == 1:
		x, y := int32(a), int32(b)
		ux, uy := uint32(a), uint32(b)
		switch f3 {
		case 0: // MULW
			return sext32(uint64(ux * uy)), true
		case 4: // DIVW
			switch {
			case y == 0:
				return math.MaxUint64, true
			case x == math.MinInt32 && y == -1:
				return uint64(int64(x)), true
			}
			return uint64(int64(x / y)), true
		case 5: // DIVUW
			if uy == 0 {
				return math.MaxUint64, true
			}
			return sext32(uint64(ux / uy)), true
		case 6: // REMW
			switch {
			case y == 0:
				return uint64(int64(x)), true
			case x == math.MinInt32 && y == -1:
				return 0, true
			}
			return uint64(int64(x % y)), true
		case 7: // REMUW
			if uy == 0 {
				return sext32(uint64(ux)), true
			}
			return sext32(uint64(ux % uy)), true
		}
	}
	return 0, false
}

// atomic executes an A-extension instruction.
func (h *Hart) atomic(inst, rd, f3 uint32, addr, src uint64) *exception {
	var size int
	switch f3 {
	case 2:
		size = 4
	case 3:
		size = 8
	default:
		return illegal(inst)
	}
	if addr&uint64(size-1) != 0 {
		return &exception{CauseStoreMisaligned, addr}
	}
	funct5 := inst >> 27
	ext := func(v uint64) uint64 {
		if size == 4 {
			return sext32(v)
		}
		return v
	}

	switch funct5 {
	case 0x02: // LR
		v, exc := h.load(addr, size)
		if exc != nil {
			return exc
		}
		h.reservation, h.reservationValid = addr, true
		h.setReg(rd, ext(v))
		return nil
	case 0x03: // SC
		if !h.reservationValid || h.reservation != addr {
			h.reservationValid = false
			h.setReg(rd, 1)
			return nil
		}
		if exc := h.store(addr, size, src); exc != nil {
			return exc
		}
		h.reservationValid = false
		h.setReg(rd, 0)
		return nil
	}

	// Read-modify-write operations need write permission up front.
	if _, exc := h.pieces(addr, size, accessStore); exc != nil {
		return exc
	}
	old, exc := h.load(addr, size)
	if exc != nil {
		return exc
	}
	o, s := ext(old), ext(src)
	uo, us := old, src
	if size == 4 {
		us &= math.MaxUint32
	}
	var v uint64
	switch funct5 {
	case 0x01: // AMOSWAP
		v = s
	case 0x00: // AMOADD
		v = o + s
	case 0x04: // AMOXOR
		v = o ^ s
	case 0x0c: // AMOAND
		v = o & s
	case 0x08: // AMOOR
		v = o | s
	case 0x10: // AMOMIN
		v = o
		if int64(s) < int64(o) {
			v = s
		}
	case 0x14: // AMOMAX
		v = o
		if int64(s) > int64(o) {
			v = s
		}
	case 0x18: // AMOMINU
		v = uo
		if us < uo {
			v = us
		}
	case 0x1c: // AMOMAXU
		v = uo
		if us > uo {
			v = us
		}
	default:
		return illegal(inst)
	}
	if exc := h.store(addr, size, v); exc != nil {
		return exc
	}
	h.setReg(rd, o)
	return nil
}

// system executes SYSTEM-opcode instructions.
func (h *Hart) system(inst, rd, f3, rs1 uint32, a uint64) (bool, *exception) {
	if f3 == 0 {
		switch {
		case inst == 0x00000073: // ECALL
			if h.Mode == ModeUser {
				return false, &exception{CauseUserEcall, 0}
			}
			return false, &exception{CauseSupervisorEcall, 0}
		case inst == 0x00100073: // EBREAK
			if h.Mode == ModeSupervisor {
				h.PC += 4
				return true, nil
			}
			return false, &exception{CauseBreakpoint, h.PC}
		case inst == 0x10200073: // SRET
			if h.Mode != ModeSupervisor {
				return false, illegal(inst)
			}
			h.sret()
			return false, nil
		case inst == 0x10500073: // WFI
			if h.Mode != ModeSupervisor {
				return false, illegal(inst)
			}
		case inst>>25 == 0x09 && rd == 0: // SFENCE.VMA: there is no TLB.
			if h.Mode != ModeSupervisor {
				return false, illegal(inst)
			}
		default:
			return false, illegal(inst)
		}
		h.PC += 4
		return false, nil
	}

	if f3 == 4 {
		return false, illegal(inst)
	}
	csr := uint16(inst >> 20)
	priv := (csr >> 8) & 3
	readOnly := csr>>10 == 3
	if priv > uint16(h.Mode) {
		return false, illegal(inst)
	}
	src := a
	if f3 >= 5 {
		src = uint64(rs1)
	}
	write := f3&3 == 1 || rs1 != 0
	if write && readOnly {
		return false, illegal(inst)
	}
	old, ok := h.ReadCSR(csr)
	if !ok {
		return false, illegal(inst)
	}
	if write {
		var v uint64
		switch f3 & 3 {
		case 1:
			v = src
		case 2:
			v = old | src
		case 3:
			v = old &^ src
		default:
			return false, illegal(inst)
		}
		if !h.WriteCSR(csr, v) {
			return false, illegal(inst)
		}
	}
	h.setReg(rd, old)
	h.PC += 4
	return false, nil
}
