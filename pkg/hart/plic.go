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

package hart

import (
	"context"
	"math/bits"
	"sync"
)

// MaxSources is the number of interrupt sources a PLIC supports. Source 0
// means "none".
const MaxSources = 32

// PLIC is a platform-level interrupt controller with a single target.
//
// Devices Raise their source, and the kernel Claims the highest pending
// source while handling an external interrupt and Completes it once done.
// A claimed source is not delivered again until it is completed.
//
// PLIC is safe for concurrent use: device goroutines may raise sources
// while the hart runs.
type PLIC struct {
	mu sync.Mutex

	// irr is the set of requested sources.
	irr uint32

	// isr is the set of claimed, uncompleted sources.
	isr uint32

	// ier is the set of enabled sources.
	ier uint32

	// wake is signalled whenever a source is raised.
	wake chan struct{}
}

// NewPLIC returns a PLIC with every source disabled.
func NewPLIC() *PLIC {
	return &PLIC{wake: make(chan struct{}, 1)}
}

// Enable enables or disables delivery of src.
func (p *PLIC) Enable(src int, on bool) {
	if src <= 0 || src >= MaxSources {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.ier |= 1 << src
	} else {
		p.ier &^= 1 << src
	}
}

// Raise marks src as requesting service.
func (p *PLIC) Raise(src int) {
	if src <= 0 || src >= MaxSources {
		return
	}
	p.mu.Lock()
	p.irr |= 1 << src
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until some source is deliverable or ctx is done. It is what a
// hart does in wfi with nothing to run.
func (p *PLIC) Wait(ctx context.Context) error {
	for !p.Pending() {
		select {
		case <-p.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *PLIC) deliverable() uint32 {
	return p.irr & p.ier &^ p.isr
}

// Pending implements InterruptLine.Pending.
func (p *PLIC) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deliverable() != 0
}

// Claim returns the lowest numbered deliverable source and marks it in
// service, or 0 if none is deliverable.
func (p *PLIC) Claim() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.deliverable()
	if d == 0 {
		return 0
	}
	src := bits.TrailingZeros32(d)
	p.irr &^= 1 << src
	p.isr |= 1 << src
	return src
}

// Complete ends service of src.
func (p *PLIC) Complete(src int) {
	if src <= 0 || src >= MaxSources {
		return
	}
	p.mu.Lock()
	p.isr &^= 1 << src
	p.mu.Unlock()
}
