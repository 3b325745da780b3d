// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package treelock

import (
	"sync"
	"sync/atomic"
)

// TreeLock is an intention lock for one node of a filesystem's directory
// tree. An operation takes an intention lock (IS or IX) on an ancestor
// directory and the real S or X lock on its target, so operations on
// disjoint subtrees can proceed concurrently while one holding a whole
// subtree excludes them. In this module vfs.Registry.Lookup and
// LookupParent take IS or IX on the walk's starting vnode only, and the
// directory-changing operations take X on the one directory they change;
// the directories between the starting vnode and the target are not
// locked.
//
// A directory held in S or X implicitly covers its whole subtree, which is
// why an intention lock on an ancestor must be taken before descending into
// it: it is what lets a concurrent operation on a disjoint subtree detect
// there is no conflict without walking the tree itself.
//
// The four lock contexts pack into a single uint64 so the common case -
// checking compatibility before blocking - is a lock-free load:
//
//	|63      48|47      32|31     16|15      0|
//	 \   IX   / \   IS   / \   S   / \   X   /
type TreeLock struct {
	mtx   sync.Mutex
	c     *sync.Cond
	state uint64
}

const xOffset uint64 = 0
const xMask uint64 = (1 << 16) - 1

const sOffset uint64 = 16
const sMask uint64 = ((1 << 32) - 1) & ^((1 << 16) - 1)

const isOffset uint64 = 32
const isMask uint64 = ((1 << 48) - 1) & ^((1 << 32) - 1)

const ixOffset uint64 = 48
const ixMask uint64 = 0xffffffffffffffff & ^((1 << 48) - 1)

func extractX(state uint64) uint64 { return (state & xMask) >> xOffset }
func setX(state, val uint64) uint64 { return (state & ^xMask) | (val << xOffset) }
func compatibleWithX(state uint64) bool { return state == 0 }

func extractS(state uint64) uint64 { return (state & sMask) >> sOffset }
func setS(state, val uint64) uint64 { return (state & ^sMask) | (val << sOffset) }
func compatibleWithS(state uint64) bool { return extractX(state) == 0 && extractIX(state) == 0 }

func extractIX(state uint64) uint64 { return (state & ixMask) >> ixOffset }
func setIX(state, val uint64) uint64 { return (state & ^ixMask) | (val << ixOffset) }
func compatibleWithIX(state uint64) bool { return extractX(state) == 0 && extractS(state) == 0 }

func extractIS(state uint64) uint64 { return (state & isMask) >> isOffset }
func setIS(state, val uint64) uint64 { return (state & ^isMask) | (val << isOffset) }
func compatibleWithIS(state uint64) bool { return extractX(state) == 0 }

// New returns an unlocked TreeLock for a freshly created vnode.
func New() *TreeLock {
	var m TreeLock
	m.c = sync.NewCond(&m.mtx)
	return &m
}

func (m *TreeLock) registerIS() bool {
	for {
		state := atomic.LoadUint64(&m.state)
		newState := setIS(state, extractIS(state)+1)
		if atomic.CompareAndSwapUint64(&m.state, state, newState) {
			return compatibleWithIS(state)
		}
	}
}

func (m *TreeLock) registerIX() bool {
	for {
		state := atomic.LoadUint64(&m.state)
		newState := setIX(state, extractIX(state)+1)
		if atomic.CompareAndSwapUint64(&m.state, state, newState) {
			return compatibleWithIX(state)
		}
	}
}

func (m *TreeLock) registerS() bool {
	for {
		state := atomic.LoadUint64(&m.state)
		newState := setS(state, extractS(state)+1)
		if atomic.CompareAndSwapUint64(&m.state, state, newState) {
			return compatibleWithS(state)
		}
	}
}

func (m *TreeLock) registerX() bool {
	for {
		state := atomic.LoadUint64(&m.state)
		newState := setX(state, extractX(state)+1)
		if atomic.CompareAndSwapUint64(&m.state, state, newState) {
			return compatibleWithX(state)
		}
	}
}

// LockIntentShared marks this directory as "a descendant is being read",
// taken while walking down to a child. Blocks while the node is held X.
func (m *TreeLock) LockIntentShared() {
	m.mtx.Lock()
	for !compatibleWithIS(atomic.LoadUint64(&m.state)) {
		m.c.Wait()
	}
	m.registerIS()
	m.mtx.Unlock()
}

func (m *TreeLock) UnlockIntentShared() {
	var val uint64
	for {
		state := atomic.LoadUint64(&m.state)
		val = extractIS(state) - 1
		newState := setIS(state, val)
		if atomic.CompareAndSwapUint64(&m.state, state, newState) {
			break
		}
	}
	if val == 0 {
		m.c.Broadcast()
	}
}

// LockIntentExclusive marks this directory as "a descendant is being
// modified", taken while walking down to a child about to be renamed,
// created, or removed. Blocks while the node is held S or X.
func (m *TreeLock) LockIntentExclusive() {
	m.mtx.Lock()
	for !compatibleWithIX(atomic.LoadUint64(&m.state)) {
		m.c.Wait()
	}
	m.registerIX()
	m.mtx.Unlock()
}

func (m *TreeLock) UnlockIntentExclusive() {
	var val uint64
	for {
		state := atomic.LoadUint64(&m.state)
		val = extractIX(state) - 1
		newState := setIX(state, val)
		if atomic.CompareAndSwapUint64(&m.state, state, newState) {
			break
		}
	}
	if val == 0 {
		m.c.Broadcast()
	}
}

// LockShared takes this vnode itself (and implicitly its whole subtree)
// for read access. Blocks while the node is held X or IX.
func (m *TreeLock) LockShared() {
	m.mtx.Lock()
	for !compatibleWithS(atomic.LoadUint64(&m.state)) {
		m.c.Wait()
	}
	m.registerS()
	m.mtx.Unlock()
}

func (m *TreeLock) UnlockShared() {
	var val uint64
	for {
		state := atomic.LoadUint64(&m.state)
		val = extractS(state) - 1
		newState := setS(state, val)
		if atomic.CompareAndSwapUint64(&m.state, state, newState) {
			break
		}
	}
	if val == 0 {
		m.c.Broadcast()
	}
}

// LockExclusive takes this vnode itself (and implicitly its whole subtree)
// for write access. Blocks while the node is held in any other context.
func (m *TreeLock) LockExclusive() {
	m.mtx.Lock()
	for !compatibleWithX(atomic.LoadUint64(&m.state)) {
		m.c.Wait()
	}
	m.registerX()
	m.mtx.Unlock()
}

func (m *TreeLock) UnlockExclusive() {
	var val uint64
	for {
		state := atomic.LoadUint64(&m.state)
		val = extractX(state) - 1
		newState := setX(state, val)
		if atomic.CompareAndSwapUint64(&m.state, state, newState) {
			break
		}
	}
	if val == 0 {
		m.c.Broadcast()
	}
}
