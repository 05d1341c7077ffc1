// Copyright (c) 2026 the upb authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upb

// Flow is returned by handler callbacks to steer the Dispatcher.
type Flow int

const (
	// FlowContinue means keep streaming into the current handler set.
	FlowContinue Flow = iota
	// FlowSkipSubmessage means skip the remainder of the current submessage.
	FlowSkipSubmessage
	// FlowBreak means abort dispatch entirely.
	FlowBreak
	// FlowDelegate means control of this submessage's events is being
	// handed to a different handler set. Only StartSubmessage may
	// return it, and only together with a non-empty out parameter;
	// the Dispatcher checks this pairing and panics if it is violated,
	// since it is a contract violation by the handler set, not
	// something caller input can trigger.
	FlowDelegate
)

// HandlerSet is an immutable table of the six event callbacks a
// decoder drives a message stream through. Once constructed it is
// never mutated; the same *HandlerSet may be shared across any number
// of in-flight Handlers values.
type HandlerSet struct {
	StartMessage     func(closure any)
	EndMessage       func(closure any)
	StartSubmessage  func(closure any, field any, out *Handlers) Flow
	EndSubmessage    func(closure any) Flow
	Value            func(closure any, field any, val any) Flow
	UnknownValue     func(closure any, fieldNum uint32, val any) Flow
}

// Handlers pairs a HandlerSet with the closure state it is invoked
// with. The zero Handlers is empty: both fields unset.
type Handlers struct {
	Set     *HandlerSet
	Closure any
}

// IsEmpty reports whether h carries neither a set nor a closure. The
// Dispatcher's delegation protocol requires StartSubmessage's out
// parameter to be empty unless the handler set returns FlowDelegate.
func (h Handlers) IsEmpty() bool {
	return h.Set == nil && h.Closure == nil
}

func callStart(h Handlers) {
	if h.Set != nil && h.Set.StartMessage != nil {
		h.Set.StartMessage(h.Closure)
	}
}

func callEnd(h Handlers) {
	if h.Set != nil && h.Set.EndMessage != nil {
		h.Set.EndMessage(h.Closure)
	}
}
