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
	"fmt"
)

type fixupKind int

const (
	fixNone fixupKind = iota
	fixBranch
	fixJal
	fixLa
)

// inst is one instruction slot. Slots with a fixup are completed by
// Assemble once label addresses are known.
type inst struct {
	word  uint32
	kind  fixupKind
	label string
}

// Program builds a text section and a data section. The text section is
// placed at the base address; the data section starts on the first page
// boundary after the text.
type Program struct {
	base   uint64
	text   []inst
	data   []byte
	labels map[string]int
	dlabel map[string]int
	err    error
}

// Binary is an assembled program.
type Binary struct {
	TextBase uint64
	Text     []byte
	DataBase uint64
	Data     []byte

	// Symbols maps every label to its address.
	Symbols map[string]uint64
}

// Entry returns the address of the first instruction.
func (b *Binary) Entry() uint64 {
	return b.TextBase
}

// New returns a program whose text starts at base.
func New(base uint64) *Program {
	return &Program{
		base:   base,
		labels: make(map[string]int),
		dlabel: make(map[string]int),
	}
}

func (p *Program) fail(format string, v ...any) {
	if p.err == nil {
		p.err = fmt.Errorf(format, v...)
	}
}

// PC returns the address of the next instruction.
func (p *Program) PC() uint64 {
	return p.base + uint64(len(p.text))*4
}

// Emit appends encoded instructions.
func (p *Program) Emit(words ...uint32) *Program {
	for _, w := range words {
		p.text = append(p.text, inst{word: w})
	}
	return p
}

// Label defines name at the next instruction.
func (p *Program) Label(name string) *Program {
	if _, ok := p.labels[name]; ok {
		p.fail("duplicate label %q", name)
	}
	if _, ok := p.dlabel[name]; ok {
		p.fail("duplicate label %q", name)
	}
	p.labels[name] = len(p.text)
	return p
}

// Li loads a constant.
func (p *Program) Li(rd Reg, imm int64) *Program {
	return p.Emit(LiSequence(rd, imm)...)
}

// La loads the address of a text or data label.
func (p *Program) La(rd Reg, label string) *Program {
	p.text = append(p.text,
		inst{word: AUIPC(rd, 0), kind: fixLa, label: label},
		inst{word: ADDI(rd, rd, 0)},
	)
	return p
}

func (p *Program) branch(funct3 uint32, rs1, rs2 Reg, label string) *Program {
	p.text = append(p.text, inst{word: EncodeB(funct3, rs1, rs2, 0), kind: fixBranch, label: label})
	return p
}

// Beq branches to label if rs1 == rs2.
func (p *Program) Beq(rs1, rs2 Reg, label string) *Program { return p.branch(0, rs1, rs2, label) }

// Bne branches to label if rs1 != rs2.
func (p *Program) Bne(rs1, rs2 Reg, label string) *Program { return p.branch(1, rs1, rs2, label) }

// Blt branches to label if rs1 < rs2, signed.
func (p *Program) Blt(rs1, rs2 Reg, label string) *Program { return p.branch(4, rs1, rs2, label) }

// Bge branches to label if rs1 >= rs2, signed.
func (p *Program) Bge(rs1, rs2 Reg, label string) *Program { return p.branch(5, rs1, rs2, label) }

// Bltu branches to label if rs1 < rs2, unsigned.
func (p *Program) Bltu(rs1, rs2 Reg, label string) *Program { return p.branch(6, rs1, rs2, label) }

// J jumps to label.
func (p *Program) J(label string) *Program {
	return p.Jal(ZERO, label)
}

// Call jumps to label, linking in ra.
func (p *Program) Call(label string) *Program {
	return p.Jal(RA, label)
}

// Jal jumps to label, linking in rd.
func (p *Program) Jal(rd Reg, label string) *Program {
	p.text = append(p.text, inst{word: JAL(rd, 0), kind: fixJal, label: label})
	return p
}

// Syscall loads the syscall number into a7 and traps.
func (p *Program) Syscall(num int64) *Program {
	return p.Li(A7, num).Emit(ECALL())
}

// Data appends bytes to the data section under label, 8-byte aligned.
func (p *Program) Data(label string, b []byte) *Program {
	if _, ok := p.labels[label]; ok {
		p.fail("duplicate label %q", label)
	}
	if _, ok := p.dlabel[label]; ok {
		p.fail("duplicate label %q", label)
	}
	for len(p.data)%8 != 0 {
		p.data = append(p.data, 0)
	}
	p.dlabel[label] = len(p.data)
	p.data = append(p.data, b...)
	return p
}

// String appends a NUL-terminated string to the data section.
func (p *Program) String(label, s string) *Program {
	return p.Data(label, append([]byte(s), 0))
}

// Zero reserves n zero bytes in the data section.
func (p *Program) Zero(label string, n int) *Program {
	return p.Data(label, make([]byte, n))
}

// Assemble resolves labels and returns the program image.
func (p *Program) Assemble() (*Binary, error) {
	if p.err != nil {
		return nil, p.err
	}
	textLen := uint64(len(p.text)) * 4
	dataBase := (p.base + textLen + 0xfff) &^ 0xfff
	if textLen == 0 {
		dataBase = p.base
	}
	b := &Binary{
		TextBase: p.base,
		Text:     make([]byte, textLen),
		DataBase: dataBase,
		Data:     append([]byte(nil), p.data...),
		Symbols:  make(map[string]uint64, len(p.labels)+len(p.dlabel)),
	}
	for name, idx := range p.labels {
		b.Symbols[name] = p.base + uint64(idx)*4
	}
	for name, off := range p.dlabel {
		b.Symbols[name] = dataBase + uint64(off)
	}
	for i, in := range p.text {
		w := in.word
		pc := p.base + uint64(i)*4
		if in.kind != fixNone {
			target, ok := b.Symbols[in.label]
			if !ok {
				return nil, fmt.Errorf("undefined label %q", in.label)
			}
			off := int64(target - pc)
			switch in.kind {
			case fixBranch:
				if off < -4096 || off >= 4096 {
					return nil, fmt.Errorf("branch to %q out of range", in.label)
				}
				w = w&^0xfe000f80 | EncodeB(0, ZERO, ZERO, int32(off))&0xfe000f80
			case fixJal:
				if off < -(1<<20) || off >= 1<<20 {
					return nil, fmt.Errorf("jump to %q out of range", in.label)
				}
				w = w&0xfff | EncodeJ(ZERO, int32(off))&^0xfff
			case fixLa:
				lo := int32(off << 52 >> 52)
				hi := int32((off - int64(lo)) >> 12)
				w = w&0xfff | EncodeU(0, ZERO, hi)&^0xfff
				// The paired addi follows.
				next := p.text[i+1].word
				p.text[i+1].word = next&0xfffff | EncodeI(0, ZERO, 0, ZERO, lo)&^0xfffff
			}
		}
		binary.LittleEndian.PutUint32(b.Text[i*4:], w)
	}
	return b, nil
}

// MustAssemble is Assemble for programs known to be well formed.
func (p *Program) MustAssemble() *Binary {
	b, err := p.Assemble()
	if err != nil {
		panic(err)
	}
	return b
}
