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

// Major opcodes.
const (
	OpLoad    = 0x03
	OpMiscMem = 0x0f
	OpImm     = 0x13
	OpAuipc   = 0x17
	OpImm32   = 0x1b
	OpStore   = 0x23
	OpAmo     = 0x2f
	OpOp      = 0x33
	OpLui     = 0x37
	OpOp32    = 0x3b
	OpBranch  = 0x63
	OpJalr    = 0x67
	OpJal     = 0x6f
	OpSystem  = 0x73
)

func reg(r Reg) uint32 { return uint32(r) & 0x1f }

// EncodeR encodes an R-type instruction.
func EncodeR(op uint32, rd Reg, funct3 uint32, rs1, rs2 Reg, funct7 uint32) uint32 {
	return funct7<<25 | reg(rs2)<<20 | reg(rs1)<<15 | funct3<<12 | reg(rd)<<7 | op
}

// EncodeI encodes an I-type instruction. imm is truncated to 12 bits.
func EncodeI(op uint32, rd Reg, funct3 uint32, rs1 Reg, imm int32) uint32 {
	return uint32(imm)&0xfff<<20 | reg(rs1)<<15 | funct3<<12 | reg(rd)<<7 | op
}

// EncodeS encodes an S-type instruction.
func EncodeS(op uint32, funct3 uint32, rs1, rs2 Reg, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5)&0x7f<<25 | reg(rs2)<<20 | reg(rs1)<<15 | funct3<<12 | u&0x1f<<7 | op
}

// EncodeB encodes a B-type instruction. off is a byte offset and must be
// even.
func EncodeB(funct3 uint32, rs1, rs2 Reg, off int32) uint32 {
	u := uint32(off)
	return (u>>12)&1<<31 | (u>>5)&0x3f<<25 | reg(rs2)<<20 | reg(rs1)<<15 | funct3<<12 | (u>>1)&0xf<<8 | (u>>11)&1<<7 | OpBranch
}

// EncodeU encodes a U-type instruction. imm is the value of the upper 20
// bits.
func EncodeU(op uint32, rd Reg, imm int32) uint32 {
	return uint32(imm)&0xfffff<<12 | reg(rd)<<7 | op
}

// EncodeJ encodes a J-type instruction.
func EncodeJ(rd Reg, off int32) uint32 {
	u := uint32(off)
	return (u>>20)&1<<31 | (u>>1)&0x3ff<<21 | (u>>11)&1<<20 | (u>>12)&0xff<<12 | reg(rd)<<7 | OpJal
}

// Upper/immediate.

func LUI(rd Reg, imm int32) uint32   { return EncodeU(OpLui, rd, imm) }
func AUIPC(rd Reg, imm int32) uint32 { return EncodeU(OpAuipc, rd, imm) }

// Jumps and branches. Offsets are in bytes relative to the instruction.

func JAL(rd Reg, off int32) uint32           { return EncodeJ(rd, off) }
func JALR(rd, rs1 Reg, off int32) uint32     { return EncodeI(OpJalr, rd, 0, rs1, off) }
func BEQ(rs1, rs2 Reg, off int32) uint32     { return EncodeB(0, rs1, rs2, off) }
func BNE(rs1, rs2 Reg, off int32) uint32     { return EncodeB(1, rs1, rs2, off) }
func BLT(rs1, rs2 Reg, off int32) uint32     { return EncodeB(4, rs1, rs2, off) }
func BGE(rs1, rs2 Reg, off int32) uint32     { return EncodeB(5, rs1, rs2, off) }
func BLTU(rs1, rs2 Reg, off int32) uint32    { return EncodeB(6, rs1, rs2, off) }
func BGEU(rs1, rs2 Reg, off int32) uint32    { return EncodeB(7, rs1, rs2, off) }
func RET() uint32                            { return JALR(ZERO, RA, 0) }

// Loads and stores.

func LB(rd, rs1 Reg, off int32) uint32  { return EncodeI(OpLoad, rd, 0, rs1, off) }
func LH(rd, rs1 Reg, off int32) uint32  { return EncodeI(OpLoad, rd, 1, rs1, off) }
func LW(rd, rs1 Reg, off int32) uint32  { return EncodeI(OpLoad, rd, 2, rs1, off) }
func LD(rd, rs1 Reg, off int32) uint32  { return EncodeI(OpLoad, rd, 3, rs1, off) }
func LBU(rd, rs1 Reg, off int32) uint32 { return EncodeI(OpLoad, rd, 4, rs1, off) }
func LHU(rd, rs1 Reg, off int32) uint32 { return EncodeI(OpLoad, rd, 5, rs1, off) }
func LWU(rd, rs1 Reg, off int32) uint32 { return EncodeI(OpLoad, rd, 6, rs1, off) }
func SB(rs2, rs1 Reg, off int32) uint32 { return EncodeS(OpStore, 0, rs1, rs2, off) }
func SH(rs2, rs1 Reg, off int32) uint32 { return EncodeS(OpStore, 1, rs1, rs2, off) }
func SW(rs2, rs1 Reg, off int32) uint32 { return EncodeS(OpStore, 2, rs1, rs2, off) }
func SD(rs2, rs1 Reg, off int32) uint32 { return EncodeS(OpStore, 3, rs1, rs2, off) }

// Register-immediate arithmetic.

func ADDI(rd, rs1 Reg, imm int32) uint32  { return EncodeI(OpImm, rd, 0, rs1, imm) }
func SLTI(rd, rs1 Reg, imm int32) uint32  { return EncodeI(OpImm, rd, 2, rs1, imm) }
func SLTIU(rd, rs1 Reg, imm int32) uint32 { return EncodeI(OpImm, rd, 3, rs1, imm) }
func XORI(rd, rs1 Reg, imm int32) uint32  { return EncodeI(OpImm, rd, 4, rs1, imm) }
func ORI(rd, rs1 Reg, imm int32) uint32   { return EncodeI(OpImm, rd, 6, rs1, imm) }
func ANDI(rd, rs1 Reg, imm int32) uint32  { return EncodeI(OpImm, rd, 7, rs1, imm) }
func SLLI(rd, rs1 Reg, sh int32) uint32   { return EncodeI(OpImm, rd, 1, rs1, sh&0x3f) }
func SRLI(rd, rs1 Reg, sh int32) uint32   { return EncodeI(OpImm, rd, 5, rs1, sh&0x3f) }
func SRAI(rd, rs1 Reg, sh int32) uint32   { return EncodeI(OpImm, rd, 5, rs1, sh&0x3f|0x400) }
func ADDIW(rd, rs1 Reg, imm int32) uint32 { return EncodeI(OpImm32, rd, 0, rs1, imm) }
func MV(rd, rs Reg) uint32                { return ADDI(rd, rs, 0) }
func NOP() uint32                         { return ADDI(ZERO, ZERO, 0) }

// Register-register arithmetic.

func ADD(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, 0, rs1, rs2, 0) }
func SUB(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, 0, rs1, rs2, 0x20) }
func SLL(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, 1, rs1, rs2, 0) }
func SLT(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, 2, rs1, rs2, 0) }
func SLTU(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpOp, rd, 3, rs1, rs2, 0) }
func XOR(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, 4, rs1, rs2, 0) }
func SRL(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, 5, rs1, rs2, 0) }
func SRA(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, 5, rs1, rs2, 0x20) }
func OR(rd, rs1, rs2 Reg) uint32   { return EncodeR(OpOp, rd, 6, rs1, rs2, 0) }
func AND(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, 7, rs1, rs2, 0) }
func MUL(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, 0, rs1, rs2, 1) }
func DIV(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, 4, rs1, rs2, 1) }
func DIVU(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpOp, rd, 5, rs1, rs2, 1) }
func REM(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, 6, rs1, rs2, 1) }
func REMU(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpOp, rd, 7, rs1, rs2, 1) }
func ADDW(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpOp32, rd, 0, rs1, rs2, 0) }
func SUBW(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpOp32, rd, 0, rs1, rs2, 0x20) }

// Atomics (sequentially consistent orderings are not encoded).

func LRD(rd, rs1 Reg) uint32          { return EncodeR(OpAmo, rd, 3, rs1, ZERO, 0x02<<2) }
func SCD(rd, rs1, rs2 Reg) uint32     { return EncodeR(OpAmo, rd, 3, rs1, rs2, 0x03<<2) }
func AMOSWAPD(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpAmo, rd, 3, rs1, rs2, 0x01<<2) }
func AMOADDD(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpAmo, rd, 3, rs1, rs2, 0x00<<2) }
func AMOADDW(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpAmo, rd, 2, rs1, rs2, 0x00<<2) }

// System.

func ECALL() uint32     { return 0x00000073 }
func EBREAK() uint32    { return 0x00100073 }
func SRET() uint32      { return 0x10200073 }
func WFI() uint32       { return 0x10500073 }
func SFENCEVMA() uint32 { return 0x12000073 }
func FENCE() uint32     { return 0x0ff0000f }

func CSRRW(rd Reg, csr CSR, rs1 Reg) uint32 {
	return EncodeI(OpSystem, rd, 1, rs1, int32(csr))
}

func CSRRS(rd Reg, csr CSR, rs1 Reg) uint32 {
	return EncodeI(OpSystem, rd, 2, rs1, int32(csr))
}

func CSRRC(rd Reg, csr CSR, rs1 Reg) uint32 {
	return EncodeI(OpSystem, rd, 3, rs1, int32(csr))
}

// CSRR reads csr into rd.
func CSRR(rd Reg, csr CSR) uint32 { return CSRRS(rd, csr, ZERO) }

// CSRW writes rs1 to csr.
func CSRW(csr CSR, rs1 Reg) uint32 { return CSRRW(ZERO, csr, rs1) }

// LiSequence returns instructions that load the 64-bit constant imm into
// rd. The sequence is lui/addiw for 32-bit values, otherwise the upper part
// is built recursively and shifted into place.
func LiSequence(rd Reg, imm int64) []uint32 {
	if imm >= -2048 && imm < 2048 {
		return []uint32{ADDI(rd, ZERO, int32(imm))}
	}
	if imm == int64(int32(imm)) {
		lo := int32(imm<<52>>52)
		hi := int32((imm - int64(lo)) >> 12)
		seq := []uint32{LUI(rd, hi)}
		if lo != 0 {
			seq = append(seq, ADDIW(rd, rd, lo))
		}
		return seq
	}
	lo := imm << 52 >> 52
	hi := (imm - lo) >> 12
	shift := int32(12)
	for hi&1 == 0 && shift < 63 {
		hi >>= 1
		shift++
	}
	seq := LiSequence(rd, hi)
	seq = append(seq, SLLI(rd, rd, shift))
	if lo != 0 {
		seq = append(seq, ADDI(rd, rd, int32(lo)))
	}
	return seq
}
