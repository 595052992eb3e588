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

package peer

import (
	"slices"
	"sync"
	"time"

	ptp "github.com/facebook/gptp/ptp/protocol"
)

// State is what we know about a path-delay neighbor
type State struct {
	PortIdentity      ptp.PortIdentity `json:"port_identity"`
	AsCapable         bool             `json:"as_capable"`
	LinkDelay         time.Duration    `json:"link_delay"`
	NeighborRateRatio float64          `json:"neighbor_rate_ratio"`
	LastSeen          time.Time        `json:"last_seen"`
}

// AddrWithState associates peer address with its observed state
type AddrWithState struct {
	Addr  Addr  `json:"addr"`
	State State `json:"state"`
}

func compareEntry(e AddrWithState, a Addr) int {
	return e.Addr.Compare(a)
}

// List is a sorted, lock-protected list of peers
type List struct {
	sync.RWMutex
	peers []AddrWithState
	ready bool

	onAdd    func(AddrWithState)
	onRemove func(AddrWithState)
}

// NewList returns an empty peer list
func NewList() *List {
	return &List{}
}

// OnAdd registers hook called after a peer is added, hooks run without the list lock held
func (l *List) OnAdd(fn func(AddrWithState)) {
	l.Lock()
	defer l.Unlock()
	l.onAdd = fn
}

// OnRemove registers hook called after a peer is removed
func (l *List) OnRemove(fn func(AddrWithState)) {
	l.Lock()
	defer l.Unlock()
	l.onRemove = fn
}

// Add inserts a peer, returns false if the address is already known
func (l *List) Add(a Addr, s State) bool {
	l.Lock()
	i, found := slices.BinarySearchFunc(l.peers, a, compareEntry)
	if found {
		l.Unlock()
		return false
	}
	e := AddrWithState{Addr: a, State: s}
	l.peers = slices.Insert(l.peers, i, e)
	hook := l.onAdd
	l.Unlock()

	if hook != nil {
		hook(e)
	}
	return true
}

// Remove deletes a peer, returns false if it was not present
func (l *List) Remove(a Addr) bool {
	l.Lock()
	i, found := slices.BinarySearchFunc(l.peers, a, compareEntry)
	if !found {
		l.Unlock()
		return false
	}
	e := l.peers[i]
	l.peers = slices.Delete(l.peers, i, i+1)
	hook := l.onRemove
	l.Unlock()

	if hook != nil {
		hook(e)
	}
	return true
}

// Find returns state of the peer
func (l *List) Find(a Addr) (State, bool) {
	l.RLock()
	defer l.RUnlock()
	i, found := slices.BinarySearchFunc(l.peers, a, compareEntry)
	if !found {
		return State{}, false
	}
	return l.peers[i].State, true
}

// Update modifies state of a known peer in place
func (l *List) Update(a Addr, fn func(*State)) bool {
	l.Lock()
	defer l.Unlock()
	i, found := slices.BinarySearchFunc(l.peers, a, compareEntry)
	if !found {
		return false
	}
	fn(&l.peers[i].State)
	return true
}

// Upsert updates the peer or adds it with state produced by fn from zero State
func (l *List) Upsert(a Addr, fn func(*State)) {
	if l.Update(a, fn) {
		return
	}
	var s State
	fn(&s)
	if !l.Add(a, s) {
		// lost the race with another Add
		l.Update(a, fn)
	}
}

// Each calls fn for every peer in address order until fn returns false.
// fn must not modify the list.
func (l *List) Each(fn func(AddrWithState) bool) {
	l.RLock()
	defer l.RUnlock()
	for _, e := range l.peers {
		if !fn(e) {
			return
		}
	}
}

// Snapshot returns a copy of all peers
func (l *List) Snapshot() []AddrWithState {
	l.RLock()
	defer l.RUnlock()
	return slices.Clone(l.peers)
}

// Len returns number of peers
func (l *List) Len() int {
	l.RLock()
	defer l.RUnlock()
	return len(l.peers)
}

// Ready reports whether the list was marked as populated
func (l *List) Ready() bool {
	l.RLock()
	defer l.RUnlock()
	return l.ready
}

// SetReady marks the list as populated
func (l *List) SetReady(ready bool) {
	l.Lock()
	defer l.Unlock()
	l.ready = ready
}
