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
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/sentry/kernel/ksync"
)

// SyncTable holds the mutexes, semaphores and condition variables of a
// process. Each kind lives in its own slot list; a free slot is nil and is
// reused by the next create of that kind.
//
// Fork shares the objects with the child, so the tables of a process and
// its descendants form one domain with one ksync.Detector. The detector
// always tracks grants and waits; when deadlock detection is enabled for a
// process, every mutex lock and semaphore down by its threads is first
// checked and refused with EDEADLK if it could leave threads that never
// finish.
type SyncTable struct {
	mutexes    []ksync.Mutex
	semaphores []*ksync.Semaphore
	condvars   []*ksync.Condvar

	// mutexRes and semRes name each slot's object in the domain detector.
	mutexRes []int
	semRes   []int

	domain *syncDomain
	detect bool
}

// syncDomain is shared by tables whose objects are shared.
type syncDomain struct {
	detector *ksync.Detector

	// next is the detector ID of the next object created in the domain.
	next int
}

// NewSyncTable returns an empty table with detection disabled.
func NewSyncTable() *SyncTable {
	return &SyncTable{domain: &syncDomain{detector: ksync.NewDetector()}}
}

func firstFree[T comparable](slots []T) int {
	var zero T
	for i, s := range slots {
		if s == zero {
			return i
		}
	}
	return len(slots)
}

func place[T any](slots []T, id int, v T) []T {
	if id == len(slots) {
		return append(slots, v)
	}
	slots[id] = v
	return slots
}

func (s *SyncTable) mutexResource(id int) ksync.Resource {
	return ksync.Resource{Kind: ksync.MutexResource, ID: s.mutexRes[id]}
}

func (s *SyncTable) semaphoreResource(id int) ksync.Resource {
	return ksync.Resource{Kind: ksync.SemaphoreResource, ID: s.semRes[id]}
}

func (s *SyncTable) newResource() int {
	r := s.domain.next
	s.domain.next++
	return r
}

// DeadlockDetection returns true if detection is enabled.
func (s *SyncTable) DeadlockDetection() bool {
	return s.detect
}

// SetDeadlockDetection turns detection on or off for acquisitions made
// through this table.
func (s *SyncTable) SetDeadlockDetection(on bool) {
	s.detect = on
}

// Fork returns a table for a child process. The objects and the detector
// are shared; the child inherits the detection setting.
func (s *SyncTable) Fork() *SyncTable {
	return &SyncTable{
		mutexes:    append([]ksync.Mutex(nil), s.mutexes...),
		semaphores: append([]*ksync.Semaphore(nil), s.semaphores...),
		condvars:   append([]*ksync.Condvar(nil), s.condvars...),
		mutexRes:   append([]int(nil), s.mutexRes...),
		semRes:     append([]int(nil), s.semRes...),
		domain:     s.domain,
		detect:     s.detect,
	}
}

func (s *SyncTable) mutex(id int) (ksync.Mutex, error) {
	if id < 0 || id >= len(s.mutexes) || s.mutexes[id] == nil {
		return nil, tgerr.EINVAL
	}
	return s.mutexes[id], nil
}

func (s *SyncTable) semaphore(id int) (*ksync.Semaphore, error) {
	if id < 0 || id >= len(s.semaphores) || s.semaphores[id] == nil {
		return nil, tgerr.EINVAL
	}
	return s.semaphores[id], nil
}

func (s *SyncTable) condvar(id int) (*ksync.Condvar, error) {
	if id < 0 || id >= len(s.condvars) || s.condvars[id] == nil {
		return nil, tgerr.EINVAL
	}
	return s.condvars[id], nil
}

// CreateMutex adds a mutex and returns its ID. A blocking mutex queues
// contenders; a non-blocking one makes them retry.
func (s *SyncTable) CreateMutex(blocking bool) int {
	var m ksync.Mutex = ksync.NewSpinMutex()
	if blocking {
		m = ksync.NewBlockingMutex()
	}
	id := firstFree(s.mutexes)
	s.mutexes = place(s.mutexes, id, m)
	s.mutexRes = place(s.mutexRes, id, s.newResource())
	s.domain.detector.AddResource(s.mutexResource(id), 1)
	return id
}

// CreateSemaphore adds a semaphore holding count units and returns its ID.
func (s *SyncTable) CreateSemaphore(count int) (int, error) {
	if count < 0 {
		return 0, tgerr.EINVAL
	}
	id := firstFree(s.semaphores)
	s.semaphores = place(s.semaphores, id, ksync.NewSemaphore(count))
	s.semRes = place(s.semRes, id, s.newResource())
	s.domain.detector.AddResource(s.semaphoreResource(id), count)
	return id, nil
}

// CreateCondvar adds a condition variable and returns its ID.
func (s *SyncTable) CreateCondvar() int {
	id := firstFree(s.condvars)
	s.condvars = place(s.condvars, id, ksync.NewCondvar())
	return id
}

// request records that t wants r and, with detection enabled, vets it.
func (s *SyncTable) request(t *Thread, r ksync.Resource) error {
	if !s.detect {
		s.domain.detector.Need(t.tid, r)
		return nil
	}
	if err := s.domain.detector.Request(t.tid, r); err != nil {
		deadlocksAvoided.Increment()
		t.Debugf("Refusing %v: %v", r, err)
		return tgerr.EDEADLK
	}
	return nil
}

func (s *SyncTable) grant(tid ThreadID, r ksync.Resource) {
	s.domain.detector.Grant(tid, r)
}

func (s *SyncTable) release(tid ThreadID, r ksync.Resource) {
	s.domain.detector.Release(tid, r)
}

// handOff records that tid now holds r and makes it runnable.
func (s *SyncTable) handOff(k *Kernel, tid ThreadID, r ksync.Resource) {
	s.grant(tid, r)
	k.Wake(tid)
}

// Lock acquires mutex id for t. If the mutex is held, t blocks until it is
// handed the mutex, or retries the call for a non-blocking mutex.
func (s *SyncTable) Lock(t *Thread, id int) (*SyscallControl, error) {
	m, err := s.mutex(id)
	if err != nil {
		return nil, err
	}
	r := s.mutexResource(id)
	if err := s.request(t, r); err != nil {
		return nil, err
	}
	if m.Lock(t.tid) {
		s.grant(t.tid, r)
		return nil, nil
	}
	if !m.Blocking() {
		s.domain.detector.Withdraw(t.tid, r)
		return CtrlRetry, nil
	}
	return CtrlBlockOn(m), nil
}

// Unlock releases mutex id, which t must hold.
func (s *SyncTable) Unlock(t *Thread, id int) error {
	m, err := s.mutex(id)
	if err != nil {
		return err
	}
	if holder, locked := m.Holder(); !locked || holder != t.tid {
		return tgerr.EPERM
	}
	s.unlock(t.k, t.tid, id, m)
	return nil
}

func (s *SyncTable) unlock(k *Kernel, tid ThreadID, id int, m ksync.Mutex) {
	r := s.mutexResource(id)
	s.release(tid, r)
	if next, ok := m.Unlock(); ok {
		s.handOff(k, next, r)
	}
}

// Down takes a unit of semaphore id, blocking t until one is handed to it.
func (s *SyncTable) Down(t *Thread, id int) (*SyscallControl, error) {
	sem, err := s.semaphore(id)
	if err != nil {
		return nil, err
	}
	r := s.semaphoreResource(id)
	if err := s.request(t, r); err != nil {
		return nil, err
	}
	if sem.Down(t.tid) {
		s.grant(t.tid, r)
		return nil, nil
	}
	return CtrlBlockOn(sem), nil
}

// Up returns a unit to semaphore id, handing it to the longest waiter.
func (s *SyncTable) Up(t *Thread, id int) error {
	sem, err := s.semaphore(id)
	if err != nil {
		return err
	}
	r := s.semaphoreResource(id)
	s.release(t.tid, r)
	if next, ok := sem.Up(); ok {
		s.handOff(t.k, next, r)
	}
	return nil
}

// Signal wakes the longest waiter of condvar id.
func (s *SyncTable) Signal(t *Thread, id int) error {
	c, err := s.condvar(id)
	if err != nil {
		return err
	}
	if tid, ok := c.Signal(); ok {
		t.k.Wake(tid)
	}
	return nil
}

// Wait releases mutex mid, which t must hold, and blocks t on condvar cid.
// The woken thread does not hold the mutex.
func (s *SyncTable) Wait(t *Thread, cid, mid int) (*SyscallControl, error) {
	c, err := s.condvar(cid)
	if err != nil {
		return nil, err
	}
	m, err := s.mutex(mid)
	if err != nil {
		return nil, err
	}
	if holder, locked := m.Holder(); !locked || holder != t.tid {
		return nil, tgerr.EPERM
	}
	r := s.mutexResource(mid)
	s.release(t.tid, r)
	if next, ok := c.WaitWithMutex(t.tid, m); ok {
		s.handOff(t.k, next, r)
	}
	return CtrlBlockOn(c), nil
}

// RemoveThread withdraws t from every wait queue of the table and releases
// the mutexes it holds, handing each to its next waiter.
func (s *SyncTable) RemoveThread(t *Thread) {
	for id, m := range s.mutexes {
		if m == nil {
			continue
		}
		m.Remove(t.tid)
		if holder, locked := m.Holder(); locked && holder == t.tid {
			s.unlock(t.k, t.tid, id, m)
		}
	}
	for _, sem := range s.semaphores {
		if sem != nil {
			sem.Remove(t.tid)
		}
	}
	for _, c := range s.condvars {
		if c != nil {
			c.Remove(t.tid)
		}
	}
	s.domain.detector.RemoveThread(t.tid)
}
