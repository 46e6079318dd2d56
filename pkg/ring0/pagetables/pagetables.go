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

// Package pagetables provides an implementation of Sv39 page tables stored
// in physical frames.
package pagetables

import (
	"fmt"
	"sync"

	"tgos.dev/tgos/pkg/hostarch"
)

// Allocator is used to allocate and map frames for page table nodes.
type Allocator interface {
	// Allocate returns a zeroed frame.
	Allocate() (hostarch.PPN, error)

	// Free releases a frame returned by Allocate.
	Free(hostarch.PPN)

	// Frame returns the contents of a frame.
	Frame(hostarch.PPN) []byte
}

// PageTables is a set of page tables.
type PageTables struct {
	// Allocator is used to allocate nodes.
	Allocator Allocator

	mu sync.Mutex

	// root is the root node. It is zero after Release.
	root hostarch.PPN

	// nodes is the number of frames used by the tables, including the
	// root.
	nodes int
}

// New returns new PageTables.
func New(a Allocator) (*PageTables, error) {
	root, err := a.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocating page table root: %w", err)
	}
	return &PageTables{Allocator: a, root: root, nodes: 1}, nil
}

// Root returns the physical page of the root node.
func (p *PageTables) Root() hostarch.PPN {
	return p.root
}

// SATP returns the address-space-selector register value that activates
// these tables.
func (p *PageTables) SATP() uint64 {
	return SATPModeSv39 | uint64(p.root)
}

// Nodes returns the number of frames used by the tables.
func (p *PageTables) Nodes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodes
}

func (p *PageTables) node(ppn hostarch.PPN) node {
	return node{ppn: ppn, data: p.Allocator.Frame(ppn)}
}

func (p *PageTables) freeNode(ppn hostarch.PPN) {
	p.Allocator.Free(ppn)
	p.nodes--
}

// mapVisitor is used for map.
type mapVisitor struct {
	start hostarch.VPN
	ppn   hostarch.PPN
	flags PTE
	prev  bool
}

func (v *mapVisitor) visit(vpn hostarch.VPN, pte *PTE) bool {
	v.prev = v.prev || pte.Valid()
	*pte = NewPTE(v.ppn+hostarch.PPN(vpn-v.start), v.flags)
	return true
}

func (*mapVisitor) requiresAlloc() bool { return true }

// Map installs a mapping of the pages in r to consecutive frames starting at
// ppn.
//
// True is returned iff there was a previous mapping in the range. If a node
// cannot be allocated, the pages mapped by this call are removed again and
// the error is returned.
func (p *PageTables) Map(r hostarch.VPNRange, ppn hostarch.PPN, opts MapOpts) (bool, error) {
	if !opts.AccessType.Any() {
		return p.Unmap(r, nil), nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v := mapVisitor{start: r.Start, ppn: ppn, flags: opts.Flags()}
	w := Walker{pageTables: p, visitor: &v}
	if !w.iterateRange(r.Start, r.End) {
		p.unmapLocked(r, nil)
		return false, w.err
	}
	return v.prev, nil
}

// unmapVisitor is used for unmap.
type unmapVisitor struct {
	fn    func(hostarch.VPN, PTE)
	count int
}

func (v *unmapVisitor) visit(vpn hostarch.VPN, pte *PTE) bool {
	if v.fn != nil {
		v.fn(vpn, *pte)
	}
	*pte = 0
	v.count++
	return true
}

func (*unmapVisitor) requiresAlloc() bool { return false }

// Unmap unmaps the given range. fn, if not nil, is called with every entry
// removed. Intermediate nodes left empty are freed.
//
// True is returned iff there was a previous mapping in the range.
func (p *PageTables) Unmap(r hostarch.VPNRange, fn func(hostarch.VPN, PTE)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unmapLocked(r, fn) > 0
}

func (p *PageTables) unmapLocked(r hostarch.VPNRange, fn func(hostarch.VPN, PTE)) int {
	v := unmapVisitor{fn: fn}
	w := Walker{pageTables: p, visitor: &v}
	w.iterateRange(r.Start, r.End)
	return v.count
}

// lookupVisitor is used for lookup.
type lookupVisitor struct {
	pte   PTE
	found bool
}

func (v *lookupVisitor) visit(_ hostarch.VPN, pte *PTE) bool {
	v.pte = *pte
	v.found = true
	return false
}

func (*lookupVisitor) requiresAlloc() bool { return false }

// Lookup returns the leaf entry for vpn.
func (p *PageTables) Lookup(vpn hostarch.VPN) (PTE, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := lookupVisitor{}
	w := Walker{pageTables: p, visitor: &v}
	w.iterateRange(vpn, vpn+1)
	return v.pte, v.found
}

// walkVisitor is used for Walk.
type walkVisitor struct {
	fn func(hostarch.VPN, PTE) bool
}

func (v *walkVisitor) visit(vpn hostarch.VPN, pte *PTE) bool {
	return v.fn(vpn, *pte)
}

func (*walkVisitor) requiresAlloc() bool { return false }

// Walk calls fn for every valid leaf in r, in ascending page order, until fn
// returns false.
func (p *PageTables) Walk(r hostarch.VPNRange, fn func(hostarch.VPN, PTE) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := Walker{pageTables: p, visitor: &walkVisitor{fn: fn}}
	w.iterateRange(r.Start, r.End)
}

// All is the range covering every page.
var All = hostarch.VPNRange{Start: 0, End: hostarch.MaxVPN + 1}

// Release unmaps everything, calling fn with every leaf removed, and frees
// every node including the root. The tables must not be used afterward.
func (p *PageTables) Release(fn func(hostarch.VPN, PTE)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.root == 0 {
		return
	}
	p.unmapLocked(All, fn)
	p.freeNode(p.root)
	p.root = 0
	if p.nodes != 0 {
		panic(fmt.Sprintf("pagetables: %d nodes leaked on release", p.nodes))
	}
}
