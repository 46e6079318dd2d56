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

package pagetables

import (
	"tgos.dev/tgos/pkg/hostarch"
)

// visitor is called for every leaf slot in a range.
type visitor interface {
	// visit is called with the page number and a pointer to the entry.
	// Returning false stops the walk.
	visit(vpn hostarch.VPN, pte *PTE) bool

	// requiresAlloc indicates that absent intermediate nodes are
	// allocated, and that the visitor sees invalid leaf slots.
	requiresAlloc() bool
}

// node is a view of one page table frame.
type node struct {
	ppn  hostarch.PPN
	data []byte
}

func (n node) get(i int) PTE {
	return PTE(hostarch.ByteOrder.Uint64(n.data[i*entrySize:]))
}

func (n node) set(i int, p PTE) {
	hostarch.ByteOrder.PutUint64(n.data[i*entrySize:], uint64(p))
}

func (n node) empty() bool {
	for i := 0; i < hostarch.EntriesPerTable; i++ {
		if n.get(i).Valid() {
			return false
		}
	}
	return true
}

// Walker walks page tables.
type Walker struct {
	pageTables *PageTables
	visitor    visitor

	// err is the first allocation failure.
	err error
}

// iterateRange iterates over all leaf slots in [start, end).
//
// Intermediate nodes that become empty while the visitor runs (and the
// visitor does not allocate) are freed.
func (w *Walker) iterateRange(start, end hostarch.VPN) bool {
	if start >= end {
		return true
	}
	root := w.pageTables.node(w.pageTables.root)
	ok, _ := w.walk(root, hostarch.Levels-1, start, end)
	return ok
}

// walk visits [start, end) below n, a node at the given level. It returns
// whether to continue, and whether n was emptied.
func (w *Walker) walk(n node, level int, start, end hostarch.VPN) (bool, bool) {
	span := hostarch.VPN(1) << (9 * uint(level))
	for start < end {
		next := (start + span) &^ (span - 1)
		if next > end || next < start {
			next = end
		}
		i := start.Index(level)
		entry := n.get(i)
		if level == 0 {
			if !entry.Valid() && !w.visitor.requiresAlloc() {
				start = next
				continue
			}
			p := entry
			cont := w.visitor.visit(start, &p)
			if p != entry {
				n.set(i, p)
			}
			if !cont {
				return false, false
			}
			start = next
			continue
		}

		if !entry.Valid() {
			if !w.visitor.requiresAlloc() {
				start = next
				continue
			}
			ppn, err := w.pageTables.Allocator.Allocate()
			if err != nil {
				w.err = err
				return false, false
			}
			w.pageTables.nodes++
			entry = NewPTE(ppn, Valid)
			n.set(i, entry)
		} else if entry.IsLeaf() {
			// Superpages are never created by this package.
			panic("pagetables: unexpected superpage entry")
		}

		child := w.pageTables.node(entry.PPN())
		cont, emptied := w.walk(child, level-1, start, next)
		if emptied {
			n.set(i, 0)
			w.pageTables.freeNode(child.ppn)
		}
		if !cont {
			return false, false
		}
		start = next
	}
	return true, !w.visitor.requiresAlloc() && n.ppn != w.pageTables.root && n.empty()
}
