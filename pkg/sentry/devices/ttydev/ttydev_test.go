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

package ttydev

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/rvasm"
	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/loader"
	"tgos.dev/tgos/pkg/sentry/platform/rv64"
	tgsys "tgos.dev/tgos/pkg/sentry/syscalls/tg"
	"tgos.dev/tgos/pkg/sentry/vfs"
)

const consoleIRQ = 1

func TestFeedAndRead(t *testing.T) {
	var out bytes.Buffer
	c := New(&out)
	c.Feed([]byte("abc"))
	c.Feed(nil)
	if got := c.Buffered(); got != 3 {
		t.Fatalf("Buffered() = %d, want 3", got)
	}

	buf := make([]byte, 2)
	if n, err := c.Read(nil, buf); n != 2 || err != nil || string(buf) != "ab" {
		t.Errorf("Read = (%d, %v) %q, want (2, nil) %q", n, err, buf[:n], "ab")
	}
	if n, err := c.Read(nil, nil); n != 0 || err != nil {
		t.Errorf("empty Read = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := c.Read(nil, buf); n != 1 || err != nil || buf[0] != 'c' {
		t.Errorf("Read = (%d, %v) %q, want (1, nil) %q", n, err, buf[:n], "c")
	}

	if n, err := c.Write(nil, []byte("out")); n != 3 || err != nil {
		t.Errorf("Write = (%d, %v), want (3, nil)", n, err)
	}
	if got := out.String(); got != "out" {
		t.Errorf("output = %q, want %q", got, "out")
	}
}

func TestReadFrom(t *testing.T) {
	c := New(&bytes.Buffer{})
	if err := c.ReadFrom(context.Background(), strings.NewReader("hello")); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got := c.Buffered(); got != 5 {
		t.Errorf("Buffered() = %d, want 5", got)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	c := New(&bytes.Buffer{})
	c.Feed(bytes.Repeat([]byte{'a'}, maxBuffered))
	c.Feed([]byte("z"))
	if got := c.Buffered(); got != maxBuffered {
		t.Fatalf("Buffered() = %d, want %d", got, maxBuffered)
	}
	buf := make([]byte, maxBuffered)
	n, _ := c.Read(nil, buf)
	if buf[n-1] != 'z' {
		t.Errorf("last byte = %q, want 'z'", buf[n-1])
	}
}

func TestRegister(t *testing.T) {
	v := vfs.New(nil)
	c := New(&bytes.Buffer{})
	if err := Register(v, c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f, err := v.OpenAt(ConsolePath, vfs.OpenOptions{Flags: tg.O_RDWR})
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}
	defer f.DecRef()
	if f.Ops() != kernel.FileOperations(c) {
		t.Errorf("OpenAt returned %v, want the console", f.Ops())
	}
}

// TestBlockingRead runs a program that reads the console before any input
// exists. It must sleep until the host feeds input.
func TestBlockingRead(t *testing.T) {
	m, err := rv64.New(rv64.Opts{MemorySize: 8 << 20})
	if err != nil {
		t.Fatalf("rv64.New failed: %v", err)
	}
	defer m.Release()

	var out bytes.Buffer
	c := New(&out)
	k, err := kernel.New(kernel.Opts{
		Platform: m,
		Syscalls: tgsys.New(tgsys.Opts{}),
		Console:  c,
	})
	if err != nil {
		t.Fatalf("kernel.New failed: %v", err)
	}
	c.Attach(k, consoleIRQ)

	p := rvasm.New(0x10000)
	p.Li(rvasm.A0, 0).La(rvasm.A1, "buf").Li(rvasm.A2, 16).Syscall(tg.SYS_READ)
	p.Emit(rvasm.MV(rvasm.S0, rvasm.A0))
	p.Li(rvasm.A0, 1).La(rvasm.A1, "buf").Emit(rvasm.MV(rvasm.A2, rvasm.S0)).Syscall(tg.SYS_WRITE)
	p.Emit(rvasm.MV(rvasm.A0, rvasm.S0)).Syscall(tg.SYS_EXIT)
	p.Zero("buf", 16)
	proc, err := k.CreateProcess(loader.FromBinary("echo", p.MustAssemble()), nil)
	if err != nil {
		t.Fatalf("CreateProcess failed: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Feed([]byte("hey"))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := k.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := out.String(); got != "hey" {
		t.Errorf("output = %q, want %q", got, "hey")
	}
	if got := proc.ExitCode(); got != 3 {
		t.Errorf("ExitCode() = %d, want 3", got)
	}
}
