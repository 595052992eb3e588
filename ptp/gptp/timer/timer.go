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
Package timer implements the timer facility used by gPTP ports.

Every schedule call bumps a generation. Callbacks carry the generation they were
armed with, so a consumer that processes expiries asynchronously can drop the
ones that were cancelled or rescheduled in the meantime with Queue.Valid.
*/
package timer

import (
	"sync"
	"time"
)

// ID identifies a timer within a Queue
type ID int

// Expiry is delivered to the callback when a timer fires
type Expiry struct {
	ID  ID
	Gen uint64
}

type entry struct {
	t        *time.Timer
	gen      uint64
	interval time.Duration
}

// Queue is a set of named timers sharing one callback
type Queue struct {
	mu     sync.Mutex
	fire   func(Expiry)
	gen    uint64
	timers map[ID]*entry
}

// NewQueue returns a Queue calling fire on every expiry, from its own goroutine
func NewQueue(fire func(Expiry)) *Queue {
	return &Queue{
		fire:   fire,
		timers: map[ID]*entry{},
	}
}

func (q *Queue) schedule(delay, interval time.Duration, id ID) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if old, ok := q.timers[id]; ok {
		old.t.Stop()
	}
	q.gen++
	e := &entry{gen: q.gen, interval: interval}
	gen := e.gen
	e.t = time.AfterFunc(delay, func() { q.expire(id, gen) })
	q.timers[id] = e
	return gen
}

func (q *Queue) expire(id ID, gen uint64) {
	q.mu.Lock()
	e, ok := q.timers[id]
	if !ok || e.gen != gen {
		q.mu.Unlock()
		return
	}
	if e.interval > 0 {
		e.t.Reset(e.interval)
	}
	q.mu.Unlock()
	q.fire(Expiry{ID: id, Gen: gen})
}

// ScheduleOnce arms timer id to fire once after delay, replacing any pending one
func (q *Queue) ScheduleOnce(delay time.Duration, id ID) uint64 {
	return q.schedule(delay, 0, id)
}

// ScheduleRepeating arms timer id to fire every interval, replacing any pending one
func (q *Queue) ScheduleRepeating(interval time.Duration, id ID) uint64 {
	return q.schedule(interval, interval, id)
}

// Cancel stops timer id
func (q *Queue) Cancel(id ID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.timers[id]; ok {
		e.t.Stop()
		delete(q.timers, id)
	}
}

// CancelAll stops all timers
func (q *Queue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, e := range q.timers {
		e.t.Stop()
		delete(q.timers, id)
	}
}

// Valid reports whether exp still belongs to the current arming of its timer.
// A one-shot timer stays valid after firing until it is cancelled or rescheduled.
func (q *Queue) Valid(exp Expiry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.timers[exp.ID]
	return ok && e.gen == exp.Gen
}

// Pending reports whether timer id is armed
func (q *Queue) Pending(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.timers[id]
	return ok
}
