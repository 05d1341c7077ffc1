// Copyright (c) 2026 the upb authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upb

import "errors"

// ErrMaxDepth is returned by Freeze when the DFS depth of the
// reachable subgraph exceeds the caller-supplied maxdepth bound.
var ErrMaxDepth = errors.New("upb: freeze exceeded max depth")

// ErrTooManyObjects is returned by Freeze when more than 1<<31
// objects are reachable from the given roots.
var ErrTooManyObjects = errors.New("upb: freeze reached too many objects")

// ErrStackOverflow is returned by Dispatcher.StartSubmessage when the
// dispatcher's frame stack is already at MaxNesting. Unlike the
// dispatcher's other assertion failures, this is not a programmer
// error: nesting depth is controlled by the encoded input, so a
// malicious or malformed stream must not be able to turn into a panic
// or unbounded recursion. Callers detect it via the returned Status
// before dispatching the event that caused it.
var ErrStackOverflow = errors.New("upb: dispatcher stack overflow")

// Status is the compound ok/error result shared by the byte channel
// and the refcounted graph's Freeze operation: a nil Err means ok, a
// non-nil Err carries the diagnostic payload as an ordinary Go error.
//
// EOF is never carried in Status. Byte sources signal end of stream
// through their own EOF accessor instead: EOF is not an error.
type Status struct {
	Err error
}

// OK reports whether the status carries no error.
func (s Status) OK() bool {
	return s.Err == nil
}

// StatusOK is the zero-value, error-free Status.
var StatusOK = Status{}

// StatusFromError wraps a plain error as a Status. Passing nil
// produces StatusOK.
func StatusFromError(err error) Status {
	return Status{Err: err}
}
