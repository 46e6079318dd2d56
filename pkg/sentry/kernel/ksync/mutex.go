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

package ksync

// Mutex is a lock owned by at most one thread.
type Mutex interface {
	// Lock acquires the mutex for tid. It returns true if the mutex was
	// free. Otherwise a blocking mutex queues tid, and a spinning mutex
	// leaves the caller to retry.
	Lock(tid ThreadID) bool

	// Unlock releases the mutex. If a thread was waiting, ownership passes
	// directly to it and its identity is returned so that it can be made
	// runnable.
	Unlock() (ThreadID, bool)

	// Holder returns the owner of the mutex.
	Holder() (ThreadID, bool)

	// Blocking returns true if a failed Lock queued the caller.
	Blocking() bool

	// Remove withdraws tid from the wait queue, if it is there.
	Remove(tid ThreadID) bool
}

// BlockingMutex is a mutex whose contenders wait in FIFO order.
type BlockingMutex struct {
	locked bool
	holder ThreadID
	queue  WaitQueue
}

var _ Mutex = (*BlockingMutex)(nil)

// NewBlockingMutex returns an unlocked mutex.
func NewBlockingMutex() *BlockingMutex {
	return &BlockingMutex{}
}

// Lock implements Mutex.Lock.
func (m *BlockingMutex) Lock(tid ThreadID) bool {
	if !m.locked {
		m.locked = true
		m.holder = tid
		return true
	}
	m.queue.Enqueue(tid)
	return false
}

// Unlock implements Mutex.Unlock. The mutex never appears free while a
// thread is waiting for it.
func (m *BlockingMutex) Unlock() (ThreadID, bool) {
	if !m.locked {
		return 0, false
	}
	next, ok := m.queue.Dequeue()
	if !ok {
		m.locked = false
		return 0, false
	}
	m.holder = next
	return next, true
}

// Holder implements Mutex.Holder.
func (m *BlockingMutex) Holder() (ThreadID, bool) {
	return m.holder, m.locked
}

// Blocking implements Mutex.Blocking.
func (*BlockingMutex) Blocking() bool { return true }

// Remove implements Mutex.Remove.
func (m *BlockingMutex) Remove(tid ThreadID) bool {
	return m.queue.Remove(tid)
}

// Waiters returns the queued threads.
func (m *BlockingMutex) Waiters() []ThreadID {
	return m.queue.Waiters()
}

// SpinMutex is a mutex without a wait queue. A contender is expected to
// yield and try again.
type SpinMutex struct {
	locked bool
	holder ThreadID
}

var _ Mutex = (*SpinMutex)(nil)

// NewSpinMutex returns an unlocked mutex.
func NewSpinMutex() *SpinMutex {
	return &SpinMutex{}
}

// Lock implements Mutex.Lock.
func (m *SpinMutex) Lock(tid ThreadID) bool {
	if m.locked {
		return false
	}
	m.locked = true
	m.holder = tid
	return true
}

// Unlock implements Mutex.Unlock. It never hands off.
func (m *SpinMutex) Unlock() (ThreadID, bool) {
	m.locked = false
	return 0, false
}

// Holder implements Mutex.Holder.
func (m *SpinMutex) Holder() (ThreadID, bool) {
	return m.holder, m.locked
}

// Blocking implements Mutex.Blocking.
func (*SpinMutex) Blocking() bool { return false }

// Remove implements Mutex.Remove.
func (*SpinMutex) Remove(ThreadID) bool { return false }
