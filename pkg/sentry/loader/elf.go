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

package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/rvasm"
)

// efRISCVRVC is the ELF header flag of objects that use compressed
// instructions, which the hart does not decode.
const efRISCVRVC = 0x1

// ParseELF reads an RV64 executable. Only PT_LOAD segments are used.
func ParseELF(name string, r io.ReaderAt) (*Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", name, err)
	}
	defer f.Close()

	switch {
	case f.Class != elf.ELFCLASS64:
		return nil, fmt.Errorf("%q: class %v, want ELFCLASS64", name, f.Class)
	case f.Machine != elf.EM_RISCV:
		return nil, fmt.Errorf("%q: machine %v, want EM_RISCV", name, f.Machine)
	case f.Type != elf.ET_EXEC:
		return nil, fmt.Errorf("%q: type %v, want ET_EXEC", name, f.Type)
	case f.Data != elf.ELFDATA2LSB:
		return nil, fmt.Errorf("%q: big-endian objects are not supported", name)
	}
	flags, err := headerFlags(r)
	if err != nil {
		return nil, fmt.Errorf("%q: reading header: %w", name, err)
	}
	if flags&efRISCVRVC != 0 {
		return nil, fmt.Errorf("%q uses compressed instructions", name)
	}

	img := &Image{Name: name, Entry: hostarch.Addr(f.Entry)}
	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if p.Filesz > p.Memsz {
			return nil, fmt.Errorf("%q: segment %d file size exceeds memory size", name, i)
		}
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil && err != io.EOF {
			return nil, fmt.Errorf("%q: reading segment %d: %w", name, i, err)
		}
		img.Segments = append(img.Segments, Segment{
			Addr:    hostarch.Addr(p.Vaddr),
			MemSize: p.Memsz,
			Data:    data,
			Access: hostarch.AccessType{
				Read:    p.Flags&elf.PF_R != 0,
				Write:   p.Flags&elf.PF_W != 0,
				Execute: p.Flags&elf.PF_X != 0,
			},
		})
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// eFlagsOffset is the offset of e_flags in a 64-bit ELF header.
const eFlagsOffset = 48

// headerFlags returns e_flags, which debug/elf does not expose.
func headerFlags(r io.ReaderAt) (uint32, error) {
	var b [4]byte
	if _, err := r.ReadAt(b[:], eFlagsOffset); err != nil {
		return 0, err
	}
	return hostarch.ByteOrder.Uint32(b[:]), nil
}

// FromBinary builds an image from an assembled program: text is
// read-execute, data read-write.
func FromBinary(name string, b *rvasm.Binary) *Image {
	img := &Image{Name: name, Entry: hostarch.Addr(b.Entry())}
	if len(b.Text) > 0 {
		img.Segments = append(img.Segments, Segment{
			Addr:    hostarch.Addr(b.TextBase),
			MemSize: uint64(len(b.Text)),
			Data:    b.Text,
			Access:  hostarch.AccessType{Read: true, Execute: true},
		})
	}
	if len(b.Data) > 0 {
		img.Segments = append(img.Segments, Segment{
			Addr:    hostarch.Addr(b.DataBase),
			MemSize: uint64(len(b.Data)),
			Data:    b.Data,
			Access:  hostarch.ReadWrite,
		})
	}
	return img
}
