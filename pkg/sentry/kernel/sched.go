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
	"tgos.dev/tgos/pkg/sentry/kernel/ksync"
)

// Scheduler holds the ready threads and picks the next one to run. The
// kernel enqueues a thread whenever it becomes runnable and removes it if
// it exits while ready.
type Scheduler interface {
	// Enqueue adds a runnable thread.
	Enqueue(tid ThreadID)

	// Next removes and returns the thread to run next.
	Next() (ThreadID, bool)

	// Remove deletes tid from the ready set.
	Remove(tid ThreadID) bool

	// Len returns the number of ready threads.
	Len() int
}

// RoundRobin runs ready threads in the order they became ready.
type RoundRobin struct {
	ready ksync.WaitQueue
}

var _ Scheduler = (*RoundRobin)(nil)

// NewRoundRobin returns an empty round-robin scheduler.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Enqueue implements Scheduler.Enqueue.
func (r *RoundRobin) Enqueue(tid ThreadID) {
	r.ready.Enqueue(tid)
}

// Next implements Scheduler.Next.
func (r *RoundRobin) Next() (ThreadID, bool) {
	return r.ready.Dequeue()
}

// Remove implements Scheduler.Remove.
func (r *RoundRobin) Remove(tid ThreadID) bool {
	return r.ready.Remove(tid)
}

// Len implements Scheduler.Len.
func (r *RoundRobin) Len() int {
	return r.ready.Len()
}

// Contains returns true if tid is ready.
func (r *RoundRobin) Contains(tid ThreadID) bool {
	return r.ready.Contains(tid)
}
