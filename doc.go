// Copyright (c) 2026 the upb authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package upb provides the core runtime primitives of a minimalist
// protocol-buffer library: a streaming push/pull framework and a
// cycle-tolerant reference-counting subsystem for definition objects.
//
// # Architecture
//
//   - Byte channel: [ByteSource] and [ByteSink] decouple wire-level
//     byte transport from structured event consumers. [GetFullString]
//     prefers aliasing reads over copying ones.
//   - Handlers: [HandlerSet] bundles the six event callbacks a decoder
//     drives; [Handlers] pairs a set with its closure.
//   - Dispatch: [Dispatcher] is a bounded stack machine that routes
//     decoded events to the current handler set and manages delegation
//     to child handler sets on nested submessages.
//   - Refcounting: [Refcounted] is the embeddable base every
//     participating type carries. Objects form a group-based
//     conservative refcount while mutable; [Freeze] partitions a
//     reachable subgraph into exact strongly-connected components,
//     after which refcounting on the frozen result is lock-free.
//
// None of the wire-format encoder/decoder, descriptor parsing, or
// concrete byte-source implementations live here — those are external
// collaborators that consume the contracts this package exposes.
//
// # Example
//
//	var d upb.Dispatcher
//	d.Reset(h)
//	d.Value(field, val)
//	d.EndMessage()
package upb
