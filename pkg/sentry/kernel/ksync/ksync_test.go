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

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type wakeLog []ThreadID

func (w *wakeLog) Wake(tid ThreadID) { *w = append(*w, tid) }

func TestWaitQueue(t *testing.T) {
	var q WaitQueue
	for _, tid := range []ThreadID{3, 1, 2} {
		q.Enqueue(tid)
	}
	if !q.Remove(1) || q.Remove(1) {
		t.Errorf("Remove(1) did not remove exactly once")
	}
	if diff := cmp.Diff([]ThreadID{3, 2}, q.Waiters()); diff != "" {
		t.Errorf("Waiters() mismatch (-want +got):\n%s", diff)
	}
	var woken wakeLog
	if n := q.WakeAll(&woken); n != 2 {
		t.Errorf("WakeAll() = %d, want 2", n)
	}
	if diff := cmp.Diff(wakeLog{3, 2}, woken); diff != "" {
		t.Errorf("wake order mismatch (-want +got):\n%s", diff)
	}
	if q.WakeOne(&woken) {
		t.Errorf("WakeOne on an empty queue succeeded")
	}
}

func TestWaitQueueDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("enqueueing a thread twice did not panic")
		}
	}()
	var q WaitQueue
	q.Enqueue(1)
	q.Enqueue(1)
}

func TestBlockingMutexHandoff(t *testing.T) {
	m := NewBlockingMutex()
	if !m.Lock(1) {
		t.Fatalf("Lock(1) on a free mutex failed")
	}
	if m.Lock(2) || m.Lock(3) {
		t.Fatalf("Lock on a held mutex succeeded")
	}

	// Ownership passes straight to the head waiter.
	next, ok := m.Unlock()
	if !ok || next != 2 {
		t.Fatalf("Unlock() = %d, %v; want 2, true", next, ok)
	}
	if h, locked := m.Holder(); !locked || h != 2 {
		t.Errorf("Holder() = %d, %v; want 2, true", h, locked)
	}
	if m.Lock(4) {
		t.Errorf("mutex appeared free during hand-off")
	}
	if !m.Remove(4) {
		t.Errorf("Remove(4) found nothing")
	}
	if next, _ := m.Unlock(); next != 3 {
		t.Errorf("second Unlock() handed to %d, want 3", next)
	}
	if _, ok := m.Unlock(); ok {
		t.Errorf("Unlock with no waiters handed off")
	}
	if _, locked := m.Holder(); locked {
		t.Errorf("mutex still held after last Unlock")
	}
}

func TestSpinMutex(t *testing.T) {
	m := NewSpinMutex()
	if m.Blocking() {
		t.Errorf("SpinMutex reports blocking")
	}
	if !m.Lock(1) || m.Lock(2) {
		t.Fatalf("spin mutex is not exclusive")
	}
	if _, ok := m.Unlock(); ok {
		t.Errorf("SpinMutex.Unlock handed off")
	}
	if !m.Lock(2) {
		t.Errorf("Lock(2) after Unlock failed")
	}
}

// TestSemaphoreFIFO checks that waiters are woken in the order they
// called Down.
func TestSemaphoreFIFO(t *testing.T) {
	s := NewSemaphore(0)
	for _, tid := range []ThreadID{1, 2, 3} {
		if s.Down(tid) {
			t.Fatalf("Down(%d) on an empty semaphore succeeded", tid)
		}
	}
	var got []ThreadID
	for i := 0; i < 3; i++ {
		tid, ok := s.Up()
		if !ok {
			t.Fatalf("Up() %d woke nobody", i)
		}
		got = append(got, tid)
	}
	if diff := cmp.Diff([]ThreadID{1, 2, 3}, got); diff != "" {
		t.Errorf("wake order mismatch (-want +got):\n%s", diff)
	}
	if s.Count() != 0 {
		t.Errorf("Count() = %d after hand-offs, want 0", s.Count())
	}
	s.Up()
	if !s.Down(9) {
		t.Errorf("Down after a spare Up failed")
	}
}

func TestCondvar(t *testing.T) {
	m := NewBlockingMutex()
	c := NewCondvar()
	m.Lock(1)
	m.Lock(2)

	// Waiting releases the mutex to the next contender.
	next, ok := c.WaitWithMutex(1, m)
	if !ok || next != 2 {
		t.Fatalf("WaitWithMutex = %d, %v; want 2, true", next, ok)
	}
	if _, ok := c.WaitWithMutex(2, m); ok {
		t.Errorf("WaitWithMutex with no contender handed off")
	}
	if h, locked := m.Holder(); locked {
		t.Errorf("mutex held by %d after both waited", h)
	}

	// Signal does not reacquire.
	if tid, ok := c.Signal(); !ok || tid != 1 {
		t.Errorf("Signal() = %d, %v; want 1, true", tid, ok)
	}
	if _, locked := m.Holder(); locked {
		t.Errorf("Signal reacquired the mutex")
	}
	if diff := cmp.Diff([]ThreadID{2}, c.Broadcast()); diff != "" {
		t.Errorf("Broadcast() mismatch (-want +got):\n%s", diff)
	}
	if _, ok := c.Signal(); ok {
		t.Errorf("Signal on an empty condvar woke a thread")
	}
}

func TestDetectorMutexCycle(t *testing.T) {
	d := NewDetector()
	a := Resource{MutexResource, 0}
	b := Resource{MutexResource, 1}
	d.AddResource(a, 1)
	d.AddResource(b, 1)

	mustRequest := func(tid ThreadID, r Resource) {
		t.Helper()
		if err := d.Request(tid, r); err != nil {
			t.Fatalf("Request(%d, %v) = %v", tid, r, err)
		}
	}
	mustRequest(1, a)
	d.Grant(1, a)
	mustRequest(2, b)
	d.Grant(2, b)

	// Thread 1 may wait for b: thread 2 can still finish.
	mustRequest(1, b)

	// Thread 2 waiting for a closes the cycle.
	if err := d.Request(2, a); err != ErrUnsafe {
		t.Fatalf("Request(2, a) = %v, want ErrUnsafe", err)
	}

	// Thread 2 backs off and releases b, which goes to thread 1.
	d.Release(2, b)
	d.Grant(1, b)
	if !d.Safe() {
		t.Errorf("state unsafe after thread 2 released")
	}
	if got := d.Available(b); got != 0 {
		t.Errorf("Available(b) = %d, want 0", got)
	}
}

func TestDetectorSemaphores(t *testing.T) {
	d := NewDetector()
	s := Resource{SemaphoreResource, 0}
	d.AddResource(s, 2)
	for _, tid := range []ThreadID{1, 2} {
		if err := d.Request(tid, s); err != nil {
			t.Fatalf("Request(%d) = %v", tid, err)
		}
		d.Grant(tid, s)
	}
	if err := d.Request(3, s); err != nil {
		t.Errorf("Request(3) with holders that can finish = %v", err)
	}
	d.Withdraw(3, s)

	// Both holders now also want a unit of the exhausted semaphore.
	if err := d.Request(1, s); err != nil {
		t.Fatalf("first re-request = %v", err)
	}
	if err := d.Request(2, s); err != ErrUnsafe {
		t.Errorf("second re-request = %v, want ErrUnsafe", err)
	}
	d.RemoveThread(1)
	d.Release(1, s)
	if !d.Safe() {
		t.Errorf("state unsafe after removing thread 1")
	}
}
