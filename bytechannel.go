// Copyright (c) 2026 the upb authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upb

import "io"

// chunkSize is the read granularity GetFullString falls back to when
// its single aliasing GetString call has not reached EOF. It
// trades syscall count against overallocation: too small and
// GetFullString pays a Read call per chunk, too large and most reads
// of small streams overallocate the tail buffer. 4096 is the
// reference tuning carried over from the original implementation.
const chunkSize = 4096

// SourceBase is the state every concrete ByteSource embeds: a status
// slot and an end-of-stream flag. Lifetime of the underlying transport
// is caller-managed; SourceBase owns neither.
type SourceBase struct {
	status Status
	eof    bool
}

// Status returns the source's last recorded error, if any.
func (b *SourceBase) Status() Status {
	return b.status
}

// EOF reports whether the source has reached end of stream.
func (b *SourceBase) EOF() bool {
	return b.eof
}

// SetStatus records err as the source's current status. Concrete
// ByteSource implementations call this from Read/GetString on failure.
func (b *SourceBase) SetStatus(err error) {
	b.status = StatusFromError(err)
}

// SetEOF marks the source as exhausted. Concrete ByteSource
// implementations call this once no further bytes will ever be
// produced.
func (b *SourceBase) SetEOF() {
	b.eof = true
}

// SinkBase is the dual of SourceBase: the status slot and
// end-of-stream flag every concrete ByteSink embeds.
type SinkBase struct {
	status Status
	eof    bool
}

// Status returns the sink's last recorded error, if any.
func (b *SinkBase) Status() Status {
	return b.status
}

// EOF reports whether the sink's peer has gone away.
func (b *SinkBase) EOF() bool {
	return b.eof
}

// SetStatus records err as the sink's current status.
func (b *SinkBase) SetStatus(err error) {
	b.status = StatusFromError(err)
}

// SetEOF marks the sink as closed.
func (b *SinkBase) SetEOF() {
	b.eof = true
}

// ByteSource is a pull-style byte source. Implementations are
// caller-allocated and caller-managed; ByteSource owns no transport
// memory of its own.
//
// Read and GetString must not be called concurrently on the same
// source: the core provides no synchronization for the mutable byte
// channel, matching the rest of this package's single-writer model.
type ByteSource interface {
	// Read fills dst with up to len(dst) bytes and returns the number
	// written. A return of 0 with a nil error legitimately signals no
	// progress, not necessarily end of stream. io.EOF signals end of
	// stream and is recorded on the source's EOF accessor; any other
	// non-nil error is an I/O error and is recorded on its Status.
	Read(dst []byte) (int, error)

	// GetString fills a byte slice with up to max bytes, preferring to
	// alias the source's internal buffer over copying when possible.
	// Returns (nil, false) on error; EOF is signaled independently via
	// the source's EOF accessor, not via the boolean result.
	GetString(max int) ([]byte, bool)

	// Status returns the source's last recorded error, if any.
	Status() Status

	// EOF reports whether the source has reached end of stream.
	EOF() bool
}

// ByteSink is a push-style byte sink, dual to ByteSource.
type ByteSink interface {
	// Write accepts up to len(src) bytes and returns the number
	// accepted. A negative-sentinel error convention is not used in
	// this port: a non-nil error is always the failure signal.
	Write(src []byte) (int, error)

	// PutString writes an entire byte string, letting sinks that can
	// take ownership of the backing array avoid a copy.
	PutString(s []byte) (int, error)

	// Status returns the sink's last recorded error, if any.
	Status() Status

	// EOF reports whether the sink's peer has gone away.
	EOF() bool
}

// GetFullString reads src to completion and returns the entire
// stream's bytes, preferring aliasing over copying.
//
// It first attempts a maximal GetString, since that is the only call
// able to hand back a pointer into the source's own buffer instead of
// copying. If the source is not yet at EOF after that one call, it
// falls back to repeated chunked Reads into a growable tail, resized
// to the exact final length once EOF is reached. This ordering is
// required, not incidental: once a single Read has been issued the
// aliasing opportunity is gone for good, since whatever GetString
// would have aliased may no longer exist in one contiguous buffer.
func GetFullString(src ByteSource, max int) ([]byte, error) {
	buf, ok := src.GetString(max)
	if !ok {
		return nil, src.Status().Err
	}
	for !src.EOF() {
		tail := make([]byte, chunkSize)
		n, err := src.Read(tail)
		if n > 0 {
			buf = append(buf, tail[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	return buf, nil
}
