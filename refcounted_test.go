// Copyright (c) 2026 the upb authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upb_test

import (
	"testing"

	"github.com/minipb/upb"
)

// node is a minimal concrete Refcounted type for tests: it tracks its
// own outgoing ref2 edges and records whether Free was called. A
// registry maps each embedded *upb.Refcounted back to its owning
// *node, since the vtable callbacks only receive the embedded field.
type node struct {
	upb.Refcounted
	name  string
	ref2  []*node
	freed *bool
}

var nodeRegistry = map[*upb.Refcounted]*node{}

var nodeVTable = &upb.RefcountedVTable{
	Visit: func(r *upb.Refcounted, emit upb.RefcountedVisitor) {
		for _, target := range nodeRegistry[r].ref2 {
			emit(&target.Refcounted)
		}
	},
	Free: func(r *upb.Refcounted) {
		if n := nodeRegistry[r]; n.freed != nil {
			*n.freed = true
		}
	},
}

func newNode(name string, freed *bool) *node {
	n := &node{name: name, freed: freed}
	upb.Init(&n.Refcounted, nodeVTable, upb.UntrackedRef)
	nodeRegistry[&n.Refcounted] = n
	return n
}

func addRef2(to, from *node) {
	upb.Ref2(&to.Refcounted, &from.Refcounted)
	nodeRegistry[&from.Refcounted].ref2 = append(nodeRegistry[&from.Refcounted].ref2, to)
}

// TestLinearChainCollection chains A, B, C by ref2 (A references B, B
// references C), with only C carrying an external ref1. Dropping that
// ref1 must free all three, since conservative grouping merges them
// regardless of ref2 direction.
func TestLinearChainCollection(t *testing.T) {
	var freedA, freedB, freedC bool
	a := newNode("A", &freedA)
	b := newNode("B", &freedB)
	c := newNode("C", &freedC)

	addRef2(b, a) // a -> b
	addRef2(c, b) // b -> c

	// a and b were each given their sole ref1 by newNode/Init; drop
	// those so only c's ref1 (from its own Init) keeps the group alive.
	upb.Unref(&a.Refcounted, upb.UntrackedRef)
	upb.Unref(&b.Refcounted, upb.UntrackedRef)

	if freedA || freedB || freedC {
		t.Fatalf("nothing should be freed yet: freedA=%v freedB=%v freedC=%v", freedA, freedB, freedC)
	}

	upb.Unref(&c.Refcounted, upb.UntrackedRef)

	if !freedA || !freedB || !freedC {
		t.Fatalf("all three should be freed together: freedA=%v freedB=%v freedC=%v", freedA, freedB, freedC)
	}
}

// TestCycleCollectionMutable has A and B ref2 each other directly (a
// cycle), with external ref1s on both. Dropping both ref1s must free
// the pair, since a plain mutable cycle has no way to reach zero on
// its own and conservative grouping already merged them.
func TestCycleCollectionMutable(t *testing.T) {
	var freedA, freedB bool
	a := newNode("A", &freedA)
	b := newNode("B", &freedB)

	addRef2(b, a) // a -> b
	addRef2(a, b) // b -> a

	upb.Unref(&a.Refcounted, upb.UntrackedRef)
	if freedA || freedB {
		t.Fatalf("group still holds b's ref1: freedA=%v freedB=%v", freedA, freedB)
	}
	upb.Unref(&b.Refcounted, upb.UntrackedRef)
	if !freedA || !freedB {
		t.Fatalf("both should be freed once the group's last ref1 drops: freedA=%v freedB=%v", freedA, freedB)
	}
}

// TestFreezeSplitsGroup has P<->Q form a ref2 cycle, and Q also ref2s
// R with no back-edge. Freezing with roots {P, R} must discover two
// SCCs — {P, Q} and {R} — and subsequent unrefs on R alone must not
// touch P or Q.
func TestFreezeSplitsGroup(t *testing.T) {
	var freedP, freedQ, freedR bool
	p := newNode("P", &freedP)
	q := newNode("Q", &freedQ)
	r := newNode("R", &freedR)

	addRef2(q, p) // p -> q
	addRef2(p, q) // q -> p
	addRef2(r, q) // q -> r, no back-edge

	ok, status := upb.Freeze([]*upb.Refcounted{&p.Refcounted, &r.Refcounted}, 64)
	if !ok {
		t.Fatalf("Freeze failed: %v", status.Err)
	}
	if !p.IsFrozen() || !q.IsFrozen() || !r.IsFrozen() {
		t.Fatalf("all reachable objects should be frozen after Freeze")
	}

	// Drop R's own ref1: R's SCC is just {R}, so this alone frees it.
	upb.Unref(&r.Refcounted, upb.UntrackedRef)
	if !freedR {
		t.Fatalf("R's SCC should free on its own ref1 drop")
	}
	if freedP || freedQ {
		t.Fatalf("freeing R must not touch P or Q's SCC: freedP=%v freedQ=%v", freedP, freedQ)
	}

	// P and Q's SCC needs both of their own ref1s dropped.
	upb.Unref(&p.Refcounted, upb.UntrackedRef)
	if freedP || freedQ {
		t.Fatalf("P,Q group still holds q's ref1")
	}
	upb.Unref(&q.Refcounted, upb.UntrackedRef)
	if !freedP || !freedQ {
		t.Fatalf("P and Q should free together once their SCC's last ref1 drops")
	}
}

func TestRefToFrozenIsLockFreeAndSafe(t *testing.T) {
	var freed bool
	n := newNode("N", &freed)
	ok, status := upb.Freeze([]*upb.Refcounted{&n.Refcounted}, 64)
	if !ok {
		t.Fatalf("Freeze: %v", status.Err)
	}
	upb.Ref(&n.Refcounted, "extra-owner")
	upb.Unref(&n.Refcounted, "extra-owner")
	if freed {
		t.Fatalf("balanced ref/unref on a frozen singleton must not free it")
	}
	upb.Unref(&n.Refcounted, upb.UntrackedRef)
	if !freed {
		t.Fatalf("dropping the last ref1 on a frozen singleton should free it")
	}
}

func TestRef2FromFrozenPanics(t *testing.T) {
	var freedFrozen, freedOther bool
	frozen := newNode("F", &freedFrozen)
	other := newNode("O", &freedOther)
	if ok, status := upb.Freeze([]*upb.Refcounted{&frozen.Refcounted}, 64); !ok {
		t.Fatalf("Freeze: %v", status.Err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic: Ref2 from a frozen object")
		}
	}()
	upb.Ref2(&other.Refcounted, &frozen.Refcounted)
}

// TestRef2IntoFrozenTarget is the legal mirror image of
// TestRef2FromFrozenPanics: a still-mutable object (from) takes a ref2
// on an already-frozen shared dependency (r), e.g. a message
// referencing a frozen, shared field descriptor. This must not panic,
// must not merge from's mutable group with r's frozen SCC, and must
// leave from fully mutable.
func TestRef2IntoFrozenTarget(t *testing.T) {
	var freedShared, freedOwner bool
	shared := newNode("shared", &freedShared)
	if ok, status := upb.Freeze([]*upb.Refcounted{&shared.Refcounted}, 64); !ok {
		t.Fatalf("Freeze: %v", status.Err)
	}

	owner := newNode("owner", &freedOwner)
	addRef2(shared, owner) // owner -> shared, shared already frozen

	if owner.IsFrozen() {
		t.Fatalf("Ref2 into a frozen target must not freeze the mutable caller")
	}

	// owner's own ref1 is independent of the ref2 on shared.
	upb.Unref(&owner.Refcounted, upb.UntrackedRef)
	if !freedOwner {
		t.Fatalf("owner's group was never merged with shared's; dropping its own ref1 should free it alone")
	}
	if freedShared {
		t.Fatalf("freeing owner must not touch shared, which still holds its own ref1 plus the ref2")
	}

	// Releasing the ref2 must undo exactly the increment Ref2 made.
	upb.Unref2(&shared.Refcounted, &owner.Refcounted)
	if freedShared {
		t.Fatalf("shared still holds its own ref1 after releasing only the ref2")
	}
	upb.Unref(&shared.Refcounted, upb.UntrackedRef)
	if !freedShared {
		t.Fatalf("dropping shared's last ref1 after the ref2 was released should free it")
	}
}

func TestDebugDoubleRefPanics(t *testing.T) {
	upb.DebugRefs = true
	defer func() { upb.DebugRefs = false }()

	var freed bool
	n := newNode("N", &freed)
	upb.Ref(&n.Refcounted, "owner-x")

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic on double ref by the same owner")
		}
	}()
	upb.Ref(&n.Refcounted, "owner-x")
}

func TestCheckRefNoopWithoutDebug(t *testing.T) {
	var freed bool
	n := newNode("N", &freed)
	// DebugRefs is off by default in this test (no enabling call
	// above in this test's execution path); CheckRef must be a no-op.
	upb.CheckRef(&n.Refcounted, "nobody-in-particular")
}

func TestDonateRef(t *testing.T) {
	upb.DebugRefs = true
	defer func() { upb.DebugRefs = false }()

	var freed bool
	n := newNode("N", &freed)
	upb.DonateRef(&n.Refcounted, upb.UntrackedRef, "new-owner")
	upb.CheckRef(&n.Refcounted, "new-owner")
}
