// Copyright (c) 2026 the upb authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upb

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DebugRefs enables the tracked-ref audit layer. When true at the time
// an object is Init'd, every Ref/Unref on that object while it is
// mutable records its owner and double-refs by the same owner are
// asserted rather than silently permitted. Once the object is frozen,
// Ref and Unref take the lock-free path and neither record nor check
// owners. Disabling it must not change observable collection behavior
// — it is purely diagnostic.
var DebugRefs = false

// UntrackedRef is the distinguished owner value used when a caller has
// no stable pointer to associate with a ref. It is guaranteed
// distinguishable from any real owner: a fresh, unexported,
// never-dereferenced allocation of non-zero size (pointers to distinct
// zero-size values may compare equal in Go).
var UntrackedRef = new(struct{ _ byte })

// RefcountedVisitor is passed to RefcountedVTable.Visit; calling it
// once per outgoing ref2 edge is how a concrete type reports its
// subobjects to the graph algorithms (group merge, freeze).
type RefcountedVisitor func(target *Refcounted)

// RefcountedVTable is the pair of operations every concrete refcounted
// type supplies.
type RefcountedVTable struct {
	// Visit must invoke emit exactly once for every target currently
	// held via Ref2 — no more, no fewer. It must be safe to call
	// repeatedly and must tolerate emit panicking or otherwise not
	// returning normally (the caller may be unwinding on allocation
	// failure during Freeze).
	Visit func(r *Refcounted, emit RefcountedVisitor)

	// Free releases the object's own resources. It must not touch
	// other Refcounted objects' group/next fields; the graph machinery
	// owns those.
	Free func(r *Refcounted)
}

// groupState is the shared counter for one refcount group. While
// mutable, count is the sum of individualCount over every member;
// once frozen, only ref1 counts contribute — ref2s between members of
// the same frozen SCC are internal and no longer tracked. Structural
// changes to a mutable group (merges, splices) are serialized by the
// package-level mutableLock, not by anything on groupState itself —
// group identity changes under merge, so there is no stable per-group
// lock to hold. Once frozen, ref/unref touch only count, through
// atomic.Uint32 directly, keeping the frozen path entirely lock-free.
type groupState struct {
	count atomic.Uint32
}

// refDebug is the audit-only bookkeeping a Refcounted carries when
// DebugRefs is enabled at Init time.
type refDebug struct {
	mu         sync.Mutex
	refs       map[any]bool
	ref2Target map[*Refcounted]bool
}

// Refcounted is the base shape every participating type embeds. It
// must be the first thing Init is called on, and must be reachable at
// a stable address for the lifetime of the object (concrete types
// embed it by value, never by pointer-to-pointer indirection).
type Refcounted struct {
	group           *groupState
	next            *Refcounted // circular singly-linked list over group members
	vtbl            *RefcountedVTable
	individualCount uint32 // meaningful only while mutable
	frozen          atomic.Bool
	debug           *refDebug
}

// IsFrozen reports whether r has completed the one-way mutable →
// frozen transition. Safe to call without the global lock: frozen is
// published via an atomic store only after Freeze has finished all
// structural rewrites for r's new group, so a true observed here is
// guaranteed to see the fully-formed frozen state, not a partial one.
func (r *Refcounted) IsFrozen() bool {
	return r.frozen.Load()
}

// Init allocates a new group of size one with counter one, attaches
// vtbl, and records owner as the holder of the sole ref1. Mirrors
// upb_refcounted_init.
func Init(r *Refcounted, vtbl *RefcountedVTable, owner any) {
	r.group = &groupState{}
	r.group.count.Store(1)
	r.next = r
	r.vtbl = vtbl
	r.individualCount = 1
	r.frozen.Store(false)
	if DebugRefs {
		r.debug = &refDebug{
			refs:       map[any]bool{owner: true},
			ref2Target: map[*Refcounted]bool{},
		}
	}
}

// mutableLock is the single global lock guarding every structural
// mutation of every mutable (not-yet-frozen) refcount group. A
// per-group lock is unsound here: group identity itself changes under
// merge, so there is no stable lock to order against. Ref, Unref and
// Ref2 take mutableLock on their mutable paths, and Freeze holds it for
// its whole walk; Unref2, DonateRef and CheckRef touch only the debug
// audit state and do not take it. The frozen path never touches it.
var mutableLock sync.Mutex

// Ref adds a ref1 owned by owner. Thread-safe iff r is frozen.
func Ref(r *Refcounted, owner any) {
	if r.frozen.Load() {
		r.group.count.Add(1)
		return
	}
	mutableLock.Lock()
	defer mutableLock.Unlock()
	r.individualCount++
	r.group.count.Add(1)
	if r.debug != nil {
		r.debug.mu.Lock()
		if r.debug.refs[owner] {
			r.debug.mu.Unlock()
			panic(fmt.Sprintf("upb: double ref by owner %v", owner))
		}
		r.debug.refs[owner] = true
		r.debug.mu.Unlock()
	}
}

// Unref removes a ref1 owned by owner and collects any objects it
// can. When the group's counter reaches zero, every member's Free is
// invoked in next-list order and the group's storage is released.
func Unref(r *Refcounted, owner any) {
	if r.frozen.Load() {
		if r.group.count.Add(^uint32(0)) == 0 {
			freeGroup(r)
		}
		return
	}
	mutableLock.Lock()
	if r.debug != nil {
		r.debug.mu.Lock()
		delete(r.debug.refs, owner)
		r.debug.mu.Unlock()
	}
	r.individualCount--
	remaining := r.group.count.Add(^uint32(0))
	if remaining != 0 {
		mutableLock.Unlock()
		return
	}
	mutableLock.Unlock()
	freeGroup(r)
}

// freeGroup invokes Free on every member of r's group, in next-list
// order, once the group's counter has reached zero. It is called
// outside mutableLock: by the time count hits zero no other operation
// can observe this group's members through a surviving reference (the
// last ref1 has just gone), so Free callbacks are free to do their own
// work without holding the global lock, including if that work itself
// drops the last ref1 on a different group.
func freeGroup(r *Refcounted) {
	start := r
	cur := r
	for {
		next := cur.next
		cur.vtbl.Free(cur)
		if next == start {
			break
		}
		cur = next
	}
}

// DonateRef atomically transfers ownership of a ref1 from "from" to
// "to" without changing the overall refcount. "from" may be
// UntrackedRef; "to" may not be nil.
func DonateRef(r *Refcounted, from, to any) {
	if to == nil {
		panic("upb: DonateRef to nil owner")
	}
	if r.debug != nil {
		r.debug.mu.Lock()
		delete(r.debug.refs, from)
		r.debug.refs[to] = true
		r.debug.mu.Unlock()
	}
}

// CheckRef verifies that a ref to r is currently held by owner.
// Effective only when DebugRefs was enabled at Init time; otherwise a
// silent no-op, since the audit layer is purely diagnostic.
func CheckRef(r *Refcounted, owner any) {
	if r.debug == nil {
		return
	}
	r.debug.mu.Lock()
	defer r.debug.mu.Unlock()
	if !r.debug.refs[owner] {
		panic(fmt.Sprintf("upb: no ref held by owner %v", owner))
	}
}

// Ref2 adds a reference from "from" to r. "from" must be mutable —
// Ref2 is forbidden by construction on a frozen "from", since nothing
// can make a frozen object mutable again.
//
// r itself may legitimately already be frozen: a still-mutable object
// referencing an already-frozen shared dependency (the canonical case
// is a message referencing a frozen, shared field-descriptor object)
// is allowed — only "from" has to be mutable. In that case this is the
// lock-free equivalent of Ref on r — r's frozen SCC is never merged
// into from's mutable group, which would otherwise silently un-freeze
// it and corrupt SCC siblings that were never passed to Ref2.
//
// Only when both r and from are mutable does Ref2 merge their groups
// (union by linked-list splice, conservative: the merge is permanent
// even if the ref2 is later removed).
func Ref2(r *Refcounted, from *Refcounted) {
	if from.frozen.Load() {
		panic("upb: Ref2 from a frozen object")
	}
	if r.frozen.Load() {
		r.group.count.Add(1)
		recordRef2Target(from, r)
		return
	}
	mutableLock.Lock()
	defer mutableLock.Unlock()
	mergeGroups(r, from)
	recordRef2Target(from, r)
}

func recordRef2Target(from, r *Refcounted) {
	if from.debug != nil {
		from.debug.mu.Lock()
		from.debug.ref2Target[r] = true
		from.debug.mu.Unlock()
	}
}

// Unref2 removes a reference previously added by Ref2.
//
// Whether this has any structural effect depends on r, not from: if r
// is still mutable, the ref2 lives only inside a conservative group
// that Ref2 formed, and releasing it is a no-op until Freeze —
// conservative grouping, once formed, is permanent until then. It
// only updates the debug-only ref2Target set. If r is already frozen
// (the case Ref2 above handles with a lock-free increment), Unref2
// must undo that same increment with a lock-free decrement, regardless
// of whether "from" itself is still mutable.
func Unref2(r *Refcounted, from *Refcounted) {
	if r.frozen.Load() {
		if r.group.count.Add(^uint32(0)) == 0 {
			freeGroup(r)
		}
		return
	}
	if from.debug != nil {
		from.debug.mu.Lock()
		delete(from.debug.ref2Target, r)
		from.debug.mu.Unlock()
	}
}

// mergeGroups unions r's and from's groups in place, under
// mutableLock held by the caller. No-op if they already share a
// group. The merged counter is the sum of the two groups' counters,
// and the two groups' next-lists splice into a single cycle. Callers
// must have already established that neither r nor from is frozen.
func mergeGroups(r, from *Refcounted) {
	if r.group == from.group {
		return
	}
	src, dst := r.group, from.group
	// Walk r's member list and repoint every member at from's group;
	// cost is proportional to the size of r's group.
	cur := r
	for {
		cur.group = dst
		cur = cur.next
		if cur == r {
			break
		}
	}
	dst.count.Add(src.count.Load())
	// Splice the two circular lists: swap r.next and from.next.
	r.next, from.next = from.next, r.next
}
