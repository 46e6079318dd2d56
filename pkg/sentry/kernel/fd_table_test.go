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
	"testing"

	"tgos.dev/tgos/pkg/errors/tgerr"
)

type countingOps struct {
	released int
}

func (*countingOps) Read(*Thread, []byte) (int, error)        { return 0, nil }
func (*countingOps) Write(_ *Thread, src []byte) (int, error) { return len(src), nil }
func (c *countingOps) Release()                               { c.released++ }

func TestFDTableLowestFree(t *testing.T) {
	ops := &countingOps{}
	f := NewFile("test", ops, FileReadable|FileWritable)
	defer f.DecRef()

	fds := NewFDTable()
	for want := 0; want < 3; want++ {
		if fd, err := fds.NewFD(f); err != nil || fd != want {
			t.Fatalf("NewFD = %d, %v, want %d", fd, err, want)
		}
	}
	if err := fds.Remove(1); err != nil {
		t.Fatalf("Remove(1): %v", err)
	}
	if fd, _ := fds.NewFD(f); fd != 1 {
		t.Errorf("NewFD after Remove(1) = %d, want 1", fd)
	}
	if got := f.ReadRefs(); got != 4 {
		t.Errorf("refs = %d, want 4", got)
	}
	if err := fds.Remove(7); err != tgerr.EBADF {
		t.Errorf("Remove(7) = %v, want EBADF", err)
	}
	if _, err := fds.Get(-1); err != tgerr.EBADF {
		t.Errorf("Get(-1) = %v, want EBADF", err)
	}
}

func TestFDTableLimit(t *testing.T) {
	f := NewFile("test", &countingOps{}, FileReadable)
	fds := NewFDTable()
	for i := 0; i < MaxFDs; i++ {
		if _, err := fds.NewFD(f); err != nil {
			t.Fatalf("NewFD %d: %v", i, err)
		}
	}
	if _, err := fds.NewFD(f); err != tgerr.EMFILE {
		t.Errorf("NewFD past the limit = %v, want EMFILE", err)
	}
	fds.Release()
	f.DecRef()
}

func TestFDTableForkSharesFiles(t *testing.T) {
	ops := &countingOps{}
	f := NewFile("test", ops, FileWritable)
	fds := NewFDTable()
	fds.NewFD(f)
	f.DecRef()

	child := fds.Fork()
	if got := f.ReadRefs(); got != 2 {
		t.Fatalf("refs after Fork = %d, want 2", got)
	}
	fds.Release()
	if ops.released != 0 {
		t.Fatalf("file released while the child holds it")
	}
	if _, err := child.Get(0); err != nil {
		t.Errorf("child Get(0): %v", err)
	}
	child.Remove(0)
	if ops.released != 1 {
		t.Errorf("released %d times, want 1", ops.released)
	}
}

func TestFileModes(t *testing.T) {
	f := NewFile("ro", &countingOps{}, FileReadable)
	defer f.DecRef()
	if _, err := f.Write(nil, []byte("x")); err != tgerr.EBADF {
		t.Errorf("Write on read-only file = %v, want EBADF", err)
	}
	if _, err := f.Read(nil, nil); err != nil {
		t.Errorf("Read: %v", err)
	}
}

func TestPipeFiles(t *testing.T) {
	h := newHarness(t, Opts{})
	r, w := h.k.NewPipe()
	if n, err := w.Write(nil, []byte("hello")); err != nil || n != 5 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	buf := make([]byte, 8)
	if n, err := r.Read(nil, buf); err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	w.DecRef()
	if n, err := r.Read(nil, buf); err != nil || n != 0 {
		t.Errorf("Read after writer closed = %d, %v, want EOF", n, err)
	}
	r.DecRef()
}
