// Copyright (c) 2026 the upb authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upb

// MaxNesting is the dispatcher's fixed stack capacity in frames: the
// base frame plus at most MaxNesting-1 handler-set delegations active
// at once. It is fixed because unbounded recursion driven by
// attacker-controlled input (arbitrarily deep nested submessages) is a
// denial-of-service risk, so the stack is a flat array rather than the
// call stack. 64 is
// comfortably deeper than any realistic protobuf schema nests while
// still keeping the worst case bounded.
const MaxNesting = 64

// frame is a (handlers, depth) pair: depth counts the nesting levels
// at which the current handler set applies. Delegation pushes a fresh
// frame with depth 0, which is then incremented on each StartSubmessage
// so EndSubmessage knows when to pop back to the parent.
type frame struct {
	handlers Handlers
	depth    int
}

// Dispatcher is a bounded stack machine that routes decoded protocol
// events to the current handler set, manages delegation to child
// handler sets on nested submessages, and enforces MaxNesting.
//
// A zero Dispatcher is not ready to use; call Reset first.
type Dispatcher struct {
	stack [MaxNesting]frame
	top   int // index of the current frame
	limit int // stack is valid for top in [0, limit)
}

// Reset reinitializes the dispatcher to dispatch into h at the
// outermost level. The base frame's depth is seeded at 1, not 0,
// specifically so that the EndSubmessage closing a submessage streamed
// into the outermost handler set never pops the base frame — there is
// nothing above it to pop to. Only an unmatched EndSubmessage drives
// the base depth to 0, and EndSubmessage panics on that.
func (d *Dispatcher) Reset(h Handlers) {
	d.limit = MaxNesting
	d.top = 0
	d.stack[0] = frame{handlers: h, depth: 1}
}

// cur returns the current frame.
func (d *Dispatcher) cur() *frame {
	return &d.stack[d.top]
}

// StartMessage invokes the current handler set's StartMessage. Valid
// only at the outermost frame, immediately after Reset; invoking it
// elsewhere is a programmer error in the caller (the decoder), not a
// condition that malformed input can trigger, so it panics rather than
// returning a Status.
func (d *Dispatcher) StartMessage() {
	if d.top != 0 {
		panic("upb: StartMessage called below the outermost dispatcher frame")
	}
	f := d.cur()
	if f.handlers.Set != nil && f.handlers.Set.StartMessage != nil {
		f.handlers.Set.StartMessage(f.handlers.Closure)
	}
}

// EndMessage invokes the current handler set's EndMessage. Valid only
// at the outermost frame; see StartMessage for why this panics instead
// of returning an error.
func (d *Dispatcher) EndMessage() {
	if d.top != 0 {
		panic("upb: EndMessage called below the outermost dispatcher frame")
	}
	f := d.cur()
	if f.handlers.Set != nil && f.handlers.Set.EndMessage != nil {
		f.handlers.Set.EndMessage(f.handlers.Closure)
	}
}

// StartSubmessage dispatches a start-submessage event for field f.
//
// The current handler set's StartSubmessage callback receives a fresh
// empty Handlers out parameter. It may fill out with a non-empty
// value and return FlowDelegate, or return any other Flow while
// leaving out empty. This pairing — FlowDelegate if and only if out is
// non-empty — is a checked invariant: violating it is a contract
// breach by the handler set, so it panics rather than returning a
// Status.
//
// On FlowDelegate the dispatcher pushes a new frame for the delegated
// handlers at depth 0, invokes that set's StartMessage, and rewrites
// the flow the caller observes to FlowContinue — from the decoder's
// point of view, delegation is invisible; it just keeps streaming into
// whatever is now the current handler set. On any other flow, the
// dispatcher increments the *current* frame's depth, tracking another
// level of nesting streamed into the same handler set.
//
// Returns ErrStackOverflow, not a panic, if the stack is already at
// MaxNesting: nesting depth is controlled by the decoded input, so a
// deeply nested or adversarial message must surface as an ordinary
// error, not a crash. Callers must check this before proceeding to
// decode the submessage's contents.
func (d *Dispatcher) StartSubmessage(f any) (Flow, Status) {
	cur := d.cur()
	var out Handlers
	var flow Flow
	if cur.handlers.Set != nil && cur.handlers.Set.StartSubmessage != nil {
		flow = cur.handlers.Set.StartSubmessage(cur.handlers.Closure, f, &out)
	} else {
		flow = FlowContinue
	}

	if (flow == FlowDelegate) != !out.IsEmpty() {
		panic("upb: StartSubmessage returned FlowDelegate without delegated handlers, or vice versa")
	}

	if flow == FlowDelegate {
		if d.top+1 >= d.limit {
			return FlowBreak, StatusFromError(ErrStackOverflow)
		}
		d.top++
		d.stack[d.top] = frame{handlers: out, depth: 0}
		callStart(out)
		flow = FlowContinue
	}

	// Re-fetch: d.top may have changed above.
	d.cur().depth++
	return flow, StatusOK
}

// EndSubmessage dispatches an end-submessage event.
//
// The current frame's depth is decremented first. When it reaches
// zero, the current handler set's EndMessage fires and the frame is
// popped — this is the point at which a delegated child's lifetime
// ends. EndSubmessage is then invoked on whatever is now the current
// handler set, which — for a delegated child — is the parent's set:
// EndSubmessage always belongs to the parent, even though
// StartSubmessage was what handed control to the child in the first
// place. This asymmetry is deliberate: StartSubmessage hands control
// away, EndSubmessage always hands it back.
func (d *Dispatcher) EndSubmessage() Flow {
	cur := d.cur()
	cur.depth--
	if cur.depth == 0 {
		callEnd(cur.handlers)
		if d.top == 0 {
			panic("upb: EndSubmessage popped past the outermost dispatcher frame")
		}
		d.top--
	}
	cur = d.cur()
	if cur.handlers.Set != nil && cur.handlers.Set.EndSubmessage != nil {
		return cur.handlers.Set.EndSubmessage(cur.handlers.Closure)
	}
	return FlowContinue
}

// Value dispatches a scalar field value to the current handler set.
func (d *Dispatcher) Value(f any, val any) Flow {
	cur := d.cur()
	if cur.handlers.Set != nil && cur.handlers.Set.Value != nil {
		return cur.handlers.Set.Value(cur.handlers.Closure, f, val)
	}
	return FlowContinue
}

// UnknownValue dispatches an unrecognized field number/value pair to
// the current handler set.
func (d *Dispatcher) UnknownValue(fieldNum uint32, val any) Flow {
	cur := d.cur()
	if cur.handlers.Set != nil && cur.handlers.Set.UnknownValue != nil {
		return cur.handlers.Set.UnknownValue(cur.handlers.Closure, fieldNum, val)
	}
	return FlowContinue
}

// Depth returns the current frame's nesting depth, primarily useful
// for tests asserting frame nesting behaves correctly across
// delegation and plain submessage nesting alike.
func (d *Dispatcher) Depth() int {
	return d.cur().depth
}

// AtBase reports whether the dispatcher has returned to its initial,
// outermost frame (top == 0).
func (d *Dispatcher) AtBase() bool {
	return d.top == 0
}
