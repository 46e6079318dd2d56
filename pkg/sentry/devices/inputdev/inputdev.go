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

// Package inputdev implements /dev/input, the keyboard state.
//
// The host pushes key events from any goroutine. The kernel drains them
// into a table of 256 key states before every scheduling decision and on
// the device interrupt. A read returns one byte per key code: 1 while the
// key is down, 0 otherwise.
package inputdev

import (
	"sync"
	"time"

	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/vfs"
)

// Path is where Register places the device.
const Path = "/dev/input"

// NumKeys is the number of key codes tracked.
const NumKeys = 256

// Event types.
const (
	EventSync = 0
	EventKey  = 1
)

// maxQueued bounds undrained events. Older events are dropped first.
const maxQueued = 1024

// Event is one input event.
type Event struct {
	Time  time.Time
	Type  uint16
	Code  uint16
	Value int32
}

// Input implements vfs.Device, kernel.FileOperations, kernel.Poller and
// kernel.InterruptHandler.
type Input struct {
	// mu protects queue and raise, which are shared with host goroutines.
	mu    sync.Mutex
	queue []Event
	raise func()

	// keys is only touched by the kernel loop.
	keys [NumKeys]byte
}

// New returns a device with every key up.
func New() *Input {
	return &Input{}
}

// Attach makes k drain events before each scheduling decision, and routes
// interrupt irq, raised by Push, to the device.
func (in *Input) Attach(k *kernel.Kernel, irq int) {
	k.RegisterPoller(in)
	k.RegisterInterrupt(irq, in)
	p := k.Platform()
	in.mu.Lock()
	in.raise = func() { p.RaiseInterrupt(irq) }
	in.mu.Unlock()
}

// Push queues ev. It may be called from any goroutine.
func (in *Input) Push(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	in.mu.Lock()
	in.queue = append(in.queue, ev)
	if over := len(in.queue) - maxQueued; over > 0 {
		in.queue = append(in.queue[:0], in.queue[over:]...)
	}
	raise := in.raise
	in.mu.Unlock()
	if raise != nil {
		raise()
	}
}

// PushKey queues a key event for code.
func (in *Input) PushKey(code uint16, down bool) {
	ev := Event{Type: EventKey, Code: code}
	if down {
		ev.Value = 1
	}
	in.Push(ev)
}

// drain applies every queued event to the key table.
func (in *Input) drain() {
	in.mu.Lock()
	events := in.queue
	in.queue = nil
	in.mu.Unlock()
	for _, ev := range events {
		if ev.Type != EventKey || int(ev.Code) >= NumKeys {
			continue
		}
		var v byte
		if ev.Value == 1 {
			v = 1
		}
		in.keys[ev.Code] = v
	}
}

// Poll implements kernel.Poller.Poll.
func (in *Input) Poll(*kernel.Kernel) {
	in.drain()
}

// HandleInterrupt implements kernel.InterruptHandler.HandleInterrupt.
func (in *Input) HandleInterrupt(*kernel.Kernel) {
	in.drain()
}

// Open implements vfs.Device.Open.
func (in *Input) Open(vfs.OpenOptions) (kernel.FileOperations, error) {
	return in, nil
}

// Read implements kernel.FileOperations.Read. It copies the states of the
// first min(len(dst), NumKeys) key codes and never blocks.
func (in *Input) Read(_ *kernel.Thread, dst []byte) (int, error) {
	in.drain()
	return copy(dst, in.keys[:]), nil
}

// Write implements kernel.FileOperations.Write. Writes are discarded.
func (in *Input) Write(_ *kernel.Thread, src []byte) (int, error) {
	return len(src), nil
}

// Release implements kernel.FileOperations.Release.
func (*Input) Release() {}

// Register places in at Path in v.
func Register(v *vfs.VirtualFilesystem, in *Input) error {
	return v.RegisterDevice(Path, in)
}
