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

// Condvar is a condition variable. Waiters are woken in FIFO order and do
// not reacquire the mutex they released; callers re-lock it themselves and
// re-check their condition.
type Condvar struct {
	queue WaitQueue
}

// NewCondvar returns a condition variable with no waiters.
func NewCondvar() *Condvar {
	return &Condvar{}
}

// WaitWithMutex releases m and queues tid. The caller always blocks. If
// releasing m handed it to another thread, that thread is returned so it
// can be made runnable.
func (c *Condvar) WaitWithMutex(tid ThreadID, m Mutex) (ThreadID, bool) {
	next, ok := m.Unlock()
	c.queue.Enqueue(tid)
	return next, ok
}

// Signal dequeues one waiter.
func (c *Condvar) Signal() (ThreadID, bool) {
	return c.queue.Dequeue()
}

// Broadcast dequeues every waiter.
func (c *Condvar) Broadcast() []ThreadID {
	tids := c.queue.Waiters()
	c.queue = WaitQueue{}
	return tids
}

// Remove withdraws tid from the wait queue.
func (c *Condvar) Remove(tid ThreadID) bool {
	return c.queue.Remove(tid)
}

// Waiters returns the queued threads.
func (c *Condvar) Waiters() []ThreadID {
	return c.queue.Waiters()
}
