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

// Package ksync provides the blocking synchronization objects of user
// processes: mutexes, semaphores and condition variables, and a deadlock
// detector that can vet acquisitions before they block.
//
// None of these types block a goroutine. An acquisition that cannot proceed
// queues the caller's ThreadID and reports failure; the scheduler is then
// responsible for not running that thread until a release hands its
// identity back. The objects are only ever touched by the kernel's run
// loop and are not safe for concurrent use.
package ksync

import (
	"errors"
	"fmt"
)

// ThreadID identifies a user thread.
type ThreadID int32

// ErrWouldBlock is returned by operations that cannot complete now. The
// caller is, or must put itself, on a queue that will wake it later.
var ErrWouldBlock = errors.New("operation would block")

// Waker makes a blocked thread runnable again.
type Waker interface {
	Wake(tid ThreadID)
}

// WaitQueue is a FIFO of blocked threads. The zero value is an empty queue.
type WaitQueue struct {
	tids []ThreadID
}

// Enqueue appends tid. A thread may appear in a queue at most once.
func (q *WaitQueue) Enqueue(tid ThreadID) {
	if q.Contains(tid) {
		panic(fmt.Sprintf("thread %d queued twice", tid))
	}
	q.tids = append(q.tids, tid)
}

// Dequeue removes and returns the head of the queue.
func (q *WaitQueue) Dequeue() (ThreadID, bool) {
	if len(q.tids) == 0 {
		return 0, false
	}
	tid := q.tids[0]
	q.tids = q.tids[1:]
	return tid, true
}

// Remove deletes tid from the queue, preserving the order of the others.
// It returns false if tid was not queued.
func (q *WaitQueue) Remove(tid ThreadID) bool {
	for i, t := range q.tids {
		if t == tid {
			q.tids = append(q.tids[:i], q.tids[i+1:]...)
			return true
		}
	}
	return false
}

// Contains returns true if tid is queued.
func (q *WaitQueue) Contains(tid ThreadID) bool {
	for _, t := range q.tids {
		if t == tid {
			return true
		}
	}
	return false
}

// Len returns the number of queued threads.
func (q *WaitQueue) Len() int {
	return len(q.tids)
}

// Waiters returns the queued threads, head first.
func (q *WaitQueue) Waiters() []ThreadID {
	return append([]ThreadID(nil), q.tids...)
}

// WakeOne dequeues the head, if any, and passes it to w.
func (q *WaitQueue) WakeOne(w Waker) bool {
	tid, ok := q.Dequeue()
	if ok {
		w.Wake(tid)
	}
	return ok
}

// WakeAll empties the queue, waking every thread in order.
func (q *WaitQueue) WakeAll(w Waker) int {
	n := 0
	for q.WakeOne(w) {
		n++
	}
	return n
}
