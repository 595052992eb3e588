/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package lock implements synchronization primitives shared by gPTP ports and the clock engine.
*/
package lock

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// TicketMutex is a fair mutual exclusion lock: waiters acquire it in the order they asked for it.
// The zero value is an unlocked mutex.
type TicketMutex struct {
	once sync.Once
	sem  *semaphore.Weighted
}

func (m *TicketMutex) init() {
	m.once.Do(func() {
		m.sem = semaphore.NewWeighted(1)
	})
}

// Lock blocks until the lock is held by the caller
func (m *TicketMutex) Lock() {
	m.init()
	// Acquire with background context never fails
	_ = m.sem.Acquire(context.Background(), 1)
}

// LockContext is Lock that gives up when ctx is done. Queue position is released on failure.
func (m *TicketMutex) LockContext(ctx context.Context) error {
	m.init()
	return m.sem.Acquire(ctx, 1)
}

// TryLock takes the lock only if nobody holds or waits for it
func (m *TicketMutex) TryLock() bool {
	m.init()
	return m.sem.TryAcquire(1)
}

// Unlock releases the lock. Unlocking an unlocked mutex panics.
func (m *TicketMutex) Unlock() {
	m.init()
	m.sem.Release(1)
}

// Guarded holds a value of T that is replaced atomically.
// Readers get a consistent copy without taking any lock, writers are serialized.
type Guarded[T any] struct {
	mu    sync.Mutex
	cur   atomic.Pointer[T]
	clone func(T) T
}

// NewGuarded returns Guarded holding v. clone deep-copies T before each update,
// it is required when T holds maps or slices, nil means plain assignment copy.
func NewGuarded[T any](v T, clone func(T) T) *Guarded[T] {
	g := &Guarded[T]{clone: clone}
	g.cur.Store(&v)
	return g
}

// ReadSnapshot returns current value
func (g *Guarded[T]) ReadSnapshot() T {
	p := g.cur.Load()
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// ApplyUpdate runs fn on a private copy of the current value and publishes the result
func (g *Guarded[T]) ApplyUpdate(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var next T
	if p := g.cur.Load(); p != nil {
		next = *p
		if g.clone != nil {
			next = g.clone(next)
		}
	}
	fn(&next)
	g.cur.Store(&next)
}

// Event is a one-shot notification. The zero value is an unset event.
type Event struct {
	once sync.Once
	set  sync.Once
	ch   chan struct{}
}

func (e *Event) init() {
	e.once.Do(func() {
		e.ch = make(chan struct{})
	})
}

// Set signals the event, repeated calls are no-ops
func (e *Event) Set() {
	e.init()
	e.set.Do(func() {
		close(e.ch)
	})
}

// Done returns a channel closed once the event is set
func (e *Event) Done() <-chan struct{} {
	e.init()
	return e.ch
}

// IsSet reports whether Set was called
func (e *Event) IsSet() bool {
	select {
	case <-e.Done():
		return true
	default:
		return false
	}
}

// Wait blocks until the event is set or ctx is done
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
