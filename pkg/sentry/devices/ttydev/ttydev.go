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

// Package ttydev implements the console: descriptors 0, 1 and 2 of every
// process started from an image, also reachable as /dev/console.
//
// Output goes straight to a host writer. Input is fed from the host by any
// goroutine and announced with a device interrupt; readers that find no
// input block until that interrupt is handled.
package ttydev

import (
	"context"
	"io"
	"sync"

	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/kernel/ksync"
	"tgos.dev/tgos/pkg/sentry/vfs"
)

// ConsolePath is where Register places the console.
const ConsolePath = "/dev/console"

// maxBuffered bounds input that no one has read yet. Older bytes are
// dropped first.
const maxBuffered = 64 << 10

// Console implements kernel.FileOperations and vfs.Device.
type Console struct {
	out io.Writer

	// mu protects in and raise, which are shared with host goroutines.
	mu    sync.Mutex
	in    []byte
	raise func()

	// readers is only touched by the kernel loop.
	readers ksync.WaitQueue
}

// New returns a console writing to out.
func New(out io.Writer) *Console {
	return &Console{out: out}
}

// Attach routes interrupt irq of k's platform to the console. Input fed
// afterwards raises irq.
func (c *Console) Attach(k *kernel.Kernel, irq int) {
	k.RegisterInterrupt(irq, c)
	p := k.Platform()
	c.mu.Lock()
	c.raise = func() { p.RaiseInterrupt(irq) }
	pending := len(c.in) > 0
	c.mu.Unlock()
	if pending {
		p.RaiseInterrupt(irq)
	}
}

// Feed queues b as console input. It may be called from any goroutine.
func (c *Console) Feed(b []byte) {
	if len(b) == 0 {
		return
	}
	c.mu.Lock()
	c.in = append(c.in, b...)
	if over := len(c.in) - maxBuffered; over > 0 {
		log.Warningf("Console input overflow, dropping %d bytes", over)
		c.in = append(c.in[:0], c.in[over:]...)
	}
	raise := c.raise
	c.mu.Unlock()
	if raise != nil {
		raise()
	}
}

// ReadFrom feeds everything read from r until r fails or ctx is done. It
// returns nil at end of file.
func (c *Console) ReadFrom(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		c.Feed(buf[:n])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Buffered returns the number of unread input bytes.
func (c *Console) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.in)
}

// Read implements kernel.FileOperations.Read. It returns whatever input is
// available, blocking the thread while there is none.
func (c *Console) Read(t *kernel.Thread, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	n := copy(dst, c.in)
	c.in = c.in[n:]
	c.mu.Unlock()
	if n == 0 {
		t.WaitDevice(&c.readers)
		return 0, ksync.ErrWouldBlock
	}
	return n, nil
}

// Write implements kernel.FileOperations.Write.
func (c *Console) Write(_ *kernel.Thread, src []byte) (int, error) {
	return c.out.Write(src)
}

// Release implements kernel.FileOperations.Release.
func (*Console) Release() {}

// HandleInterrupt implements kernel.InterruptHandler.HandleInterrupt.
func (c *Console) HandleInterrupt(k *kernel.Kernel) {
	c.readers.WakeAll(k)
}

// Open implements vfs.Device.Open.
func (c *Console) Open(vfs.OpenOptions) (kernel.FileOperations, error) {
	return c, nil
}

// Register places c at ConsolePath in v.
func Register(v *vfs.VirtualFilesystem, c *Console) error {
	return v.RegisterDevice(ConsolePath, c)
}
