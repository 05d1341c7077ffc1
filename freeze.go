// Copyright (c) 2026 the upb authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upb

// maxReachableObjects bounds how many objects Freeze will visit: more
// than 1<<31 objects reachable from the given roots aborts the freeze
// rather than risk unbounded memory use on a malicious or malformed
// graph.
const maxReachableObjects = 1 << 31

// tarjanState is the per-object DFS bookkeeping for the iterative SCC
// walk. index and lowlink are Tarjan's usual fields; onStack tracks
// membership on the explicit SCC stack (not the DFS call stack, which
// does not exist here since the walk is iterative).
type tarjanState struct {
	index   int
	lowlink int
	onStack bool
}

// explFrame is one level of the explicit DFS stack Freeze walks
// instead of recursing, so that an adversarially deep ref2 graph
// cannot exhaust the Go call stack — the same rationale the Dispatcher
// applies to its own bounded frame stack.
type explFrame struct {
	node     *Refcounted
	children []*Refcounted
	childIdx int
}

// Freeze walks every object reachable via Ref2 from roots, partitions
// them into strongly-connected components with an iterative
// Tarjan's algorithm, and rewrites each object's group and next-list
// to its SCC. After Freeze succeeds, every object reached is frozen
// and ref/unref on it become lock-free.
//
// Aborts with ErrMaxDepth if the DFS depth exceeds maxDepth, or with
// ErrTooManyObjects if more than 1<<31 objects are reachable. On any
// failure the graph is left exactly as it was — Freeze either fully
// succeeds or has no observable effect at all.
func Freeze(roots []*Refcounted, maxDepth int) (bool, Status) {
	mutableLock.Lock()
	defer mutableLock.Unlock()

	states := map[*Refcounted]*tarjanState{}
	var sccStack []*Refcounted
	var sccs [][]*Refcounted
	objectCount := 0

	for _, root := range roots {
		if root.IsFrozen() {
			continue
		}
		if _, seen := states[root]; seen {
			continue
		}
		ok, status := tarjanWalk(root, maxDepth, states, &sccStack, &sccs, &objectCount)
		if !ok {
			return false, status
		}
	}

	// All bookkeeping above was read-only with respect to the graph's
	// own group/next fields; rewrite now that every SCC is known,
	// so a failure above never left a partial rewrite behind.
	for _, scc := range sccs {
		rewriteGroup(scc)
	}
	return true, StatusOK
}

// tarjanWalk runs Tarjan's algorithm from root using an explicit
// stack, appending completed SCCs (in the order they close, which is
// reverse topological order) to *sccs.
func tarjanWalk(root *Refcounted, maxDepth int, states map[*Refcounted]*tarjanState, sccStack *[]*Refcounted, sccs *[][]*Refcounted, objectCount *int) (bool, Status) {
	var dfsStack []explFrame
	nextIndex := len(states)

	push := func(n *Refcounted) (bool, Status) {
		*objectCount++
		if *objectCount > maxReachableObjects {
			return false, StatusFromError(ErrTooManyObjects)
		}
		st := &tarjanState{index: nextIndex, lowlink: nextIndex, onStack: true}
		nextIndex++
		states[n] = st
		*sccStack = append(*sccStack, n)
		var children []*Refcounted
		if n.vtbl != nil && n.vtbl.Visit != nil {
			n.vtbl.Visit(n, func(target *Refcounted) {
				children = append(children, target)
			})
		}
		dfsStack = append(dfsStack, explFrame{node: n, children: children})
		if len(dfsStack) > maxDepth {
			return false, StatusFromError(ErrMaxDepth)
		}
		return true, StatusOK
	}

	if ok, status := push(root); !ok {
		return false, status
	}

	for len(dfsStack) > 0 {
		top := &dfsStack[len(dfsStack)-1]
		node := top.node
		st := states[node]

		if top.childIdx < len(top.children) {
			child := top.children[top.childIdx]
			top.childIdx++
			if child.IsFrozen() {
				// Already-frozen subobjects are outside this walk:
				// a mutable object may Ref2 into a frozen target
				// (Ref2 only panics when "from" is frozen), and such
				// a target already belongs to its own frozen SCC,
				// which freeze does not need to touch.
				continue
			}
			childState, seen := states[child]
			if !seen {
				if ok, status := push(child); !ok {
					return false, status
				}
				continue
			}
			if childState.onStack && childState.index < st.lowlink {
				st.lowlink = childState.index
			}
			continue
		}

		// All children processed: close this frame, propagate lowlink
		// to the parent frame (if any), and pop an SCC if this node is
		// its own component's root (lowlink == index).
		if len(dfsStack) >= 2 {
			parent := dfsStack[len(dfsStack)-2].node
			pst := states[parent]
			if st.lowlink < pst.lowlink {
				pst.lowlink = st.lowlink
			}
		}
		if st.lowlink == st.index {
			var scc []*Refcounted
			for {
				n := (*sccStack)[len(*sccStack)-1]
				*sccStack = (*sccStack)[:len(*sccStack)-1]
				states[n].onStack = false
				scc = append(scc, n)
				if n == node {
					break
				}
			}
			*sccs = append(*sccs, scc)
		}
		dfsStack = dfsStack[:len(dfsStack)-1]
	}
	return true, StatusOK
}

// rewriteGroup allocates a fresh group for one completed SCC, sums
// individualCount over its members into the group's counter (only ref1
// counts contribute once frozen — ref2s between members of the same
// frozen SCC are internal and no longer tracked), rebuilds next as a
// cycle over exactly the SCC's members, and marks every member frozen.
// This is the only place group/next/frozen are mutated for these
// objects, and it runs only after the whole walk has succeeded, so a
// failed Freeze never leaves a partial rewrite behind.
func rewriteGroup(scc []*Refcounted) {
	g := &groupState{}
	var sum uint32
	for _, n := range scc {
		sum += n.individualCount
	}
	g.count.Store(sum)
	for i, n := range scc {
		n.group = g
		next := scc[(i+1)%len(scc)]
		n.next = next
	}
	for _, n := range scc {
		n.frozen.Store(true)
	}
}
