// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package cow implements a reference counted copy-on-write container.
//
// A Ref is cheap to share: Share only bumps a counter. The first Mutable call on a
// shared Ref clones the value, so holders never observe each other's writes.
//
// Counters are never decremented when a holder is simply dropped (Go has no
// destructors), so a Ref may copy once more than strictly needed. It never copies less.
package cow

import "sync/atomic"

type box[T any] struct {
	value T
	refs  atomic.Int32
}

// Ref holds a value of type T shared by one or more owners.
//
// The zero value is not usable, create one with New.
type Ref[T any] struct {
	b     *box[T]
	clone func(T) T
}

// New returns a Ref owning value. clone is used to copy the value on the first write
// after it has been shared.
func New[T any](value T, clone func(T) T) Ref[T] {
	b := &box[T]{value: value}
	b.refs.Store(1)
	return Ref[T]{b: b, clone: clone}
}

// Valid returns whether the Ref was created with New.
func (r Ref[T]) Valid() bool { return r.b != nil }

// Get returns the current value, which must be treated as read-only.
func (r Ref[T]) Get() T {
	return r.b.value
}

// Share returns a new Ref pointing to the same value.
// It is safe to call concurrently on the same Ref.
func (r Ref[T]) Share() Ref[T] {
	r.b.refs.Add(1)
	return r
}

// Shared returns whether the value may be observed by other owners.
func (r Ref[T]) Shared() bool {
	return r.b.refs.Load() > 1
}

// Mutable returns a value that is exclusively owned by r, cloning it first if it was shared.
func (r *Ref[T]) Mutable() T {
	if r.b.refs.Load() > 1 {
		fresh := &box[T]{value: r.clone(r.b.value)}
		fresh.refs.Store(1)
		r.b.refs.Add(-1)
		r.b = fresh
	}
	return r.b.value
}
