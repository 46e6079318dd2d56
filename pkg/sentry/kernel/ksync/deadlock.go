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
	"errors"
	"fmt"
	"sort"
)

// ErrUnsafe is returned by Detector.Request when granting the request,
// now or later, could leave threads that can never finish.
var ErrUnsafe = errors.New("request leads to an unsafe state")

// ResourceKind distinguishes the resource tables.
type ResourceKind uint8

// Resource kinds.
const (
	MutexResource ResourceKind = iota
	SemaphoreResource
)

// Resource names one synchronization object of a process.
type Resource struct {
	Kind ResourceKind
	ID   int
}

// String implements fmt.Stringer.String.
func (r Resource) String() string {
	if r.Kind == MutexResource {
		return fmt.Sprintf("mutex %d", r.ID)
	}
	return fmt.Sprintf("semaphore %d", r.ID)
}

// Detector runs the banker's safety check over the mutexes and semaphores
// of one process. It tracks, per resource, the units available, and, per
// thread, the units allocated and the units requested but not yet granted.
//
// Callers report every transition: Request before an acquisition, Grant
// when a unit is obtained (immediately or by hand-off), and Release when a
// unit is returned.
type Detector struct {
	available  map[Resource]int
	allocation map[ThreadID]map[Resource]int
	need       map[ThreadID]map[Resource]int
}

// NewDetector returns a detector tracking no resources.
func NewDetector() *Detector {
	return &Detector{
		available:  make(map[Resource]int),
		allocation: make(map[ThreadID]map[Resource]int),
		need:       make(map[ThreadID]map[Resource]int),
	}
}

// AddResource registers r with the given number of free units. Registering
// an existing resource resets it.
func (d *Detector) AddResource(r Resource, units int) {
	d.available[r] = units
	for _, m := range d.allocation {
		delete(m, r)
	}
	for _, m := range d.need {
		delete(m, r)
	}
}

// Available returns the free units of r.
func (d *Detector) Available(r Resource) int {
	return d.available[r]
}

func bump(m map[ThreadID]map[Resource]int, tid ThreadID, r Resource, delta int) {
	row := m[tid]
	if row == nil {
		row = make(map[Resource]int)
		m[tid] = row
	}
	row[r] += delta
	if row[r] <= 0 {
		delete(row, r)
		if len(row) == 0 {
			delete(m, tid)
		}
	}
}

// Request records that tid wants one unit of r. If the resulting state is
// unsafe the request is forgotten and ErrUnsafe is returned; the caller
// must then fail the acquisition instead of performing it.
func (d *Detector) Request(tid ThreadID, r Resource) error {
	bump(d.need, tid, r, 1)
	if !d.Safe() {
		bump(d.need, tid, r, -1)
		return ErrUnsafe
	}
	return nil
}

// Need records that tid waits for one unit of r without checking safety,
// as for a wait that began before the detector existed.
func (d *Detector) Need(tid ThreadID, r Resource) {
	bump(d.need, tid, r, 1)
}

// Grant records that tid obtained the unit of r it requested.
func (d *Detector) Grant(tid ThreadID, r Resource) {
	if d.need[tid][r] > 0 {
		bump(d.need, tid, r, -1)
	}
	bump(d.allocation, tid, r, 1)
	d.available[r]--
}

// Release records that tid returned a unit of r. A thread may return a
// unit it never held; a semaphore used for signalling works that way.
func (d *Detector) Release(tid ThreadID, r Resource) {
	if d.allocation[tid][r] > 0 {
		bump(d.allocation, tid, r, -1)
	}
	d.available[r]++
}

// Withdraw forgets every outstanding request of tid for r, as when a
// blocked acquisition is abandoned.
func (d *Detector) Withdraw(tid ThreadID, r Resource) {
	if n := d.need[tid][r]; n > 0 {
		bump(d.need, tid, r, -n)
	}
}

// RemoveThread forgets tid. Units it still holds are not returned; the
// caller releases them through Release as it frees the objects.
func (d *Detector) RemoveThread(tid ThreadID) {
	delete(d.need, tid)
	delete(d.allocation, tid)
}

// Safe returns true if some order exists in which every thread can obtain
// what it needs and finish.
func (d *Detector) Safe() bool {
	work := make(map[Resource]int, len(d.available))
	for r, n := range d.available {
		work[r] = n
	}
	var pending []ThreadID
	for tid := range d.need {
		pending = append(pending, tid)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	// Threads with no outstanding need can finish; their allocations only
	// matter for the others, so return them to work up front.
	for tid, row := range d.allocation {
		if _, ok := d.need[tid]; ok {
			continue
		}
		for r, n := range row {
			work[r] += n
		}
	}

	for progress := true; progress && len(pending) > 0; {
		progress = false
		for i := 0; i < len(pending); i++ {
			tid := pending[i]
			if !satisfied(d.need[tid], work) {
				continue
			}
			for r, n := range d.allocation[tid] {
				work[r] += n
			}
			pending = append(pending[:i], pending[i+1:]...)
			i--
			progress = true
		}
	}
	return len(pending) == 0
}

func satisfied(need, work map[Resource]int) bool {
	for r, n := range need {
		if n > work[r] {
			return false
		}
	}
	return true
}
