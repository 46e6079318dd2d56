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

// Semaphore is a counting semaphore with a FIFO wait queue.
//
// The count is never negative: while threads wait it is zero, and an Up
// hands its unit straight to the head waiter instead of incrementing.
type Semaphore struct {
	count int
	queue WaitQueue
}

// NewSemaphore returns a semaphore holding count units.
func NewSemaphore(count int) *Semaphore {
	if count < 0 {
		count = 0
	}
	return &Semaphore{count: count}
}

// Down takes one unit for tid. It returns false, with tid queued, if no
// unit is available.
func (s *Semaphore) Down(tid ThreadID) bool {
	if s.count > 0 {
		s.count--
		return true
	}
	s.queue.Enqueue(tid)
	return false
}

// Up returns one unit. If a thread was waiting it receives the unit and is
// returned.
func (s *Semaphore) Up() (ThreadID, bool) {
	if tid, ok := s.queue.Dequeue(); ok {
		return tid, true
	}
	s.count++
	return 0, false
}

// Count returns the number of available units.
func (s *Semaphore) Count() int {
	return s.count
}

// Remove withdraws tid from the wait queue.
func (s *Semaphore) Remove(tid ThreadID) bool {
	return s.queue.Remove(tid)
}

// Waiters returns the queued threads.
func (s *Semaphore) Waiters() []ThreadID {
	return s.queue.Waiters()
}
