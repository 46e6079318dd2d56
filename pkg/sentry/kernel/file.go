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

package kernel

import (
	"fmt"
	"sync/atomic"

	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/sentry/kernel/ksync"
	"tgos.dev/tgos/pkg/sentry/kernel/pipe"
)

// FileOperations implements a kind of file.
type FileOperations interface {
	// Read fills dst. To wait for data it calls t.Wait or t.WaitDevice
	// and returns ksync.ErrWouldBlock.
	Read(t *Thread, dst []byte) (int, error)

	// Write consumes src, blocking like Read.
	Write(t *Thread, src []byte) (int, error)

	// Release is called when the last reference to the file is dropped.
	Release()
}

// FileFlags says how a file was opened.
type FileFlags uint8

// File flags.
const (
	FileReadable FileFlags = 1 << iota
	FileWritable
)

// File is an open file shared by descriptors, possibly in several
// processes.
type File struct {
	refs  atomic.Int64
	name  string
	flags FileFlags
	ops   FileOperations
}

// NewFile returns a file holding one reference.
func NewFile(name string, ops FileOperations, flags FileFlags) *File {
	f := &File{name: name, flags: flags, ops: ops}
	f.refs.Store(1)
	return f
}

// IncRef takes a reference.
func (f *File) IncRef() {
	if f.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("IncRef on released file %q", f.name))
	}
}

// DecRef drops a reference, releasing the file with the last one.
func (f *File) DecRef() {
	switch n := f.refs.Add(-1); {
	case n == 0:
		f.ops.Release()
	case n < 0:
		panic(fmt.Sprintf("DecRef on released file %q", f.name))
	}
}

// ReadRefs returns the current number of references, for tests.
func (f *File) ReadRefs() int64 {
	return f.refs.Load()
}

// Name returns the name the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Readable returns true if the file was opened for reading.
func (f *File) Readable() bool {
	return f.flags&FileReadable != 0
}

// Writable returns true if the file was opened for writing.
func (f *File) Writable() bool {
	return f.flags&FileWritable != 0
}

// Ops returns the file's implementation.
func (f *File) Ops() FileOperations {
	return f.ops
}

// Read reads from the file on behalf of t.
func (f *File) Read(t *Thread, dst []byte) (int, error) {
	if !f.Readable() {
		return 0, tgerr.EBADF
	}
	return f.ops.Read(t, dst)
}

// Write writes to the file on behalf of t.
func (f *File) Write(t *Thread, src []byte) (int, error) {
	if !f.Writable() {
		return 0, tgerr.EBADF
	}
	return f.ops.Write(t, src)
}

// pipeReader is the read end of a pipe.
type pipeReader struct {
	p *pipe.Pipe
}

func (r pipeReader) Read(t *Thread, dst []byte) (int, error) {
	n, err := r.p.Read(dst)
	if err == ksync.ErrWouldBlock {
		t.Wait(r.p.ReadWaiters())
	}
	return n, err
}

func (pipeReader) Write(*Thread, []byte) (int, error) {
	return 0, tgerr.EBADF
}

func (r pipeReader) Release() {
	r.p.ReleaseReader()
}

// pipeWriter is the write end of a pipe.
type pipeWriter struct {
	p *pipe.Pipe
}

func (pipeWriter) Read(*Thread, []byte) (int, error) {
	return 0, tgerr.EBADF
}

func (w pipeWriter) Write(t *Thread, src []byte) (int, error) {
	n, err := w.p.Write(src)
	if err == ksync.ErrWouldBlock {
		t.Wait(w.p.WriteWaiters())
	}
	return n, err
}

func (w pipeWriter) Release() {
	w.p.ReleaseWriter()
}

// NewPipe returns the read and write ends of a new pipe, each holding one
// reference.
func (k *Kernel) NewPipe() (r, w *File) {
	p := pipe.New(k, pipe.DefaultPipeSize)
	return NewFile("pipe:[r]", pipeReader{p}, FileReadable), NewFile("pipe:[w]", pipeWriter{p}, FileWritable)
}
