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

// Package pipe provides an in-memory implementation of a unidirectional
// pipe.
//
// A Pipe has no notion of files or threads. Callers that cannot make
// progress get ksync.ErrWouldBlock and wait on ReadWaiters or WriteWaiters;
// the pipe wakes those queues through its Waker whenever the condition a
// waiter was blocked on may have changed.
package pipe

import (
	"fmt"

	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/sentry/kernel/ksync"
)

// DefaultPipeSize is the default capacity of a pipe in bytes.
const DefaultPipeSize = hostarch.PageSize

// MinimumPipeSize is the smallest capacity New accepts.
const MinimumPipeSize = 1

// Pipe is a bounded byte queue shared between readers and writers.
//
// Pipes are only touched by the kernel loop and are not synchronized.
type Pipe struct {
	// buf is the ring buffer. Data occupies size bytes starting at head,
	// wrapping at len(buf).
	buf  []byte
	head int
	size int

	// readers and writers count the open ends.
	readers int
	writers int

	// readWaiters holds threads waiting for data or for the last writer
	// to go away.
	readWaiters ksync.WaitQueue

	// writeWaiters holds threads waiting for room or for the last reader
	// to go away.
	writeWaiters ksync.WaitQueue

	waker ksync.Waker
}

// New returns a pipe with one reader and one writer.
func New(waker ksync.Waker, capacity int) *Pipe {
	if capacity < MinimumPipeSize {
		panic(fmt.Sprintf("invalid pipe capacity %d", capacity))
	}
	return &Pipe{
		buf:     make([]byte, capacity),
		readers: 1,
		writers: 1,
		waker:   waker,
	}
}

// Capacity returns the size of the buffer.
func (p *Pipe) Capacity() int {
	return len(p.buf)
}

// Queued returns the number of buffered bytes.
func (p *Pipe) Queued() int {
	return p.size
}

// HasReaders returns true if a read end is open.
func (p *Pipe) HasReaders() bool {
	return p.readers > 0
}

// HasWriters returns true if a write end is open.
func (p *Pipe) HasWriters() bool {
	return p.writers > 0
}

// ReadWaiters is the queue readers wait on after ErrWouldBlock.
func (p *Pipe) ReadWaiters() *ksync.WaitQueue {
	return &p.readWaiters
}

// WriteWaiters is the queue writers wait on after ErrWouldBlock.
func (p *Pipe) WriteWaiters() *ksync.WaitQueue {
	return &p.writeWaiters
}

// Read copies buffered bytes into dst.
//
// An empty pipe returns (0, nil) once every writer is gone, which readers
// see as end of file, and ErrWouldBlock otherwise.
func (p *Pipe) Read(dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if p.size == 0 {
		if p.writers == 0 {
			return 0, nil
		}
		return 0, ksync.ErrWouldBlock
	}
	n := 0
	for n < len(dst) && p.size > 0 {
		end := p.head + p.size
		if end > len(p.buf) {
			end = len(p.buf)
		}
		c := copy(dst[n:], p.buf[p.head:end])
		n += c
		p.head = (p.head + c) % len(p.buf)
		p.size -= c
	}
	if p.size == 0 {
		p.head = 0
	}
	p.writeWaiters.WakeAll(p.waker)
	return n, nil
}

// Write appends as much of src as fits.
//
// Writing with no reader fails with EPIPE. A full pipe returns
// ErrWouldBlock with nothing written.
func (p *Pipe) Write(src []byte) (int, error) {
	if p.readers == 0 {
		return 0, tgerr.EPIPE
	}
	if len(src) == 0 {
		return 0, nil
	}
	if p.size == len(p.buf) {
		return 0, ksync.ErrWouldBlock
	}
	n := 0
	for n < len(src) && p.size < len(p.buf) {
		tail := (p.head + p.size) % len(p.buf)
		end := len(p.buf)
		if tail < p.head {
			end = p.head
		}
		c := copy(p.buf[tail:end], src[n:])
		n += c
		p.size += c
	}
	p.readWaiters.WakeAll(p.waker)
	return n, nil
}

// ReleaseReader closes one read end. Closing the last one wakes writers,
// which then fail with EPIPE.
func (p *Pipe) ReleaseReader() {
	if p.readers == 0 {
		panic("pipe reader released twice")
	}
	p.readers--
	if p.readers == 0 {
		p.writeWaiters.WakeAll(p.waker)
	}
}

// ReleaseWriter closes one write end. Closing the last one wakes readers,
// which then see end of file.
func (p *Pipe) ReleaseWriter() {
	if p.writers == 0 {
		panic("pipe writer released twice")
	}
	p.writers--
	if p.writers == 0 {
		p.readWaiters.WakeAll(p.waker)
	}
}

// String implements fmt.Stringer.String.
func (p *Pipe) String() string {
	return fmt.Sprintf("pipe[%d/%d r=%d w=%d]", p.size, len(p.buf), p.readers, p.writers)
}
