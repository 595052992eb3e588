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

package bmc

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	ptp "github.com/facebook/gptp/ptp/protocol"
)

// ComparisonResult is the type to represent comparisons
type ComparisonResult int8

const (
	// ABetterTopo means A is better based on topology
	ABetterTopo ComparisonResult = 2
	// ABetter means A is better based on grandmaster attributes
	ABetter ComparisonResult = 1
	// Unknown means vectors are equal
	Unknown ComparisonResult = 0
	// BBetter means B is better based on grandmaster attributes
	BBetter ComparisonResult = -1
	// BBetterTopo means B is better based on topology
	BBetterTopo ComparisonResult = -2
)

// SlaveOnlyPriority1 is priority1 value of a node which must never become master
const SlaveOnlyPriority1 uint8 = 255

// MaxStepsRemoved is the stepsRemoved from which announces are discarded
const MaxStepsRemoved uint16 = 255

// PriorityVector is the systemIdentity plus topology part of 802.1AS 10.3.4, lower is better
type PriorityVector struct {
	Priority1           uint8
	Quality             ptp.ClockQuality
	Priority2           uint8
	GrandmasterIdentity ptp.ClockIdentity
	StepsRemoved        uint16
	SenderPortIdentity  ptp.PortIdentity
	ReceiverPortNumber  uint16
	// not compared, carried along so master ports can re-advertise
	TimeSource       ptp.TimeSource
	CurrentUTCOffset int16
}

// DataSet is the part of defaultDS used by BMCA
type DataSet struct {
	ClockIdentity ptp.ClockIdentity
	Priority1     uint8
	Priority2     uint8
	Quality       ptp.ClockQuality
	TimeSource    ptp.TimeSource
}

// SlaveOnly reports whether the node must never act as master
func (ds DataSet) SlaveOnly() bool {
	return ds.Priority1 == SlaveOnlyPriority1
}

// FromAnnounce builds priority vector of an announce received on port receiver
func FromAnnounce(a *ptp.Announce, receiver uint16) PriorityVector {
	return PriorityVector{
		Priority1:           a.GrandmasterPriority1,
		Quality:             a.GrandmasterClockQuality,
		Priority2:           a.GrandmasterPriority2,
		GrandmasterIdentity: a.GrandmasterIdentity,
		StepsRemoved:        a.StepsRemoved,
		SenderPortIdentity:  a.SourcePortIdentity,
		ReceiverPortNumber:  receiver,
		TimeSource:          a.TimeSource,
		CurrentUTCOffset:    a.CurrentUTCOffset,
	}
}

// FromLocal builds priority vector of the node itself
func FromLocal(ds DataSet) PriorityVector {
	return PriorityVector{
		Priority1:           ds.Priority1,
		Quality:             ds.Quality,
		Priority2:           ds.Priority2,
		GrandmasterIdentity: ds.ClockIdentity,
		SenderPortIdentity:  ptp.PortIdentity{ClockIdentity: ds.ClockIdentity},
		TimeSource:          ds.TimeSource,
	}
}

// Compare orders priority vectors. Grandmaster attributes decide first
// (priority1, clockClass, clockAccuracy, offsetScaledLogVariance, priority2, grandmaster identity),
// then topology (stepsRemoved, sender port identity, receiver port number).
func Compare(a, b *PriorityVector) ComparisonResult {
	if a.Priority1 != b.Priority1 {
		return better(a.Priority1 < b.Priority1)
	}
	if c := a.Quality.Compare(b.Quality); c != 0 {
		return better(c < 0)
	}
	if a.Priority2 != b.Priority2 {
		return better(a.Priority2 < b.Priority2)
	}
	if a.GrandmasterIdentity != b.GrandmasterIdentity {
		return better(a.GrandmasterIdentity < b.GrandmasterIdentity)
	}
	if a.StepsRemoved != b.StepsRemoved {
		return betterTopo(a.StepsRemoved < b.StepsRemoved)
	}
	if c := a.SenderPortIdentity.Compare(b.SenderPortIdentity); c != 0 {
		return betterTopo(c < 0)
	}
	if a.ReceiverPortNumber != b.ReceiverPortNumber {
		return betterTopo(a.ReceiverPortNumber < b.ReceiverPortNumber)
	}
	return Unknown
}

func better(a bool) ComparisonResult {
	if a {
		return ABetter
	}
	return BBetter
}

func betterTopo(a bool) ComparisonResult {
	if a {
		return ABetterTopo
	}
	return BBetterTopo
}

// Best returns the best of vectors, nil entries are skipped. Returns nil if there is none.
func Best(vectors []*PriorityVector) *PriorityVector {
	var best *PriorityVector
	for _, v := range vectors {
		if v == nil {
			continue
		}
		if best == nil || Compare(v, best) > 0 {
			best = v
		}
	}
	return best
}

// Decision is recommended state of one port
type Decision struct {
	State ptp.PortState
	// Master is the vector the port synchronizes to, set for SLAVE only
	Master *PriorityVector
}

// Result is the outcome of a full BMCA run
type Result struct {
	// Best is the node best vector, nil if nothing is known (slave-only node without master)
	Best *PriorityVector
	// Local is true when the node itself is the grandmaster
	Local     bool
	SlavePort uint16
	Decisions map[uint16]Decision
}

// StateDecision runs the state decision over every port. portBests holds best qualified
// announce per port (nil if port heard nothing), disabled ports are excluded from selection.
// Each call recomputes from scratch.
func StateDecision(local DataSet, portBests map[uint16]*PriorityVector, disabled map[uint16]bool) Result {
	ports := maps.Keys(portBests)
	for p := range disabled {
		if _, ok := portBests[p]; !ok {
			ports = append(ports, p)
		}
	}
	slices.Sort(ports)

	res := Result{Decisions: make(map[uint16]Decision, len(ports))}
	candidates := []*PriorityVector{}
	var own *PriorityVector
	if !local.SlaveOnly() {
		lv := FromLocal(local)
		own = &lv
		candidates = append(candidates, own)
	}
	for _, p := range ports {
		if disabled[p] {
			continue
		}
		candidates = append(candidates, portBests[p])
	}
	res.Best = Best(candidates)
	res.Local = own != nil && res.Best == own

	for _, p := range ports {
		switch {
		case disabled[p]:
			res.Decisions[p] = Decision{State: ptp.PortStateDisabled}
		case res.Best == nil:
			res.Decisions[p] = Decision{State: ptp.PortStateListening}
		case res.Local:
			res.Decisions[p] = Decision{State: ptp.PortStateMaster}
		case portBests[p] == res.Best:
			res.SlavePort = p
			res.Decisions[p] = Decision{State: ptp.PortStateSlave, Master: res.Best}
		case local.SlaveOnly():
			res.Decisions[p] = Decision{State: ptp.PortStatePassive}
		case portBests[p] == nil:
			res.Decisions[p] = Decision{State: ptp.PortStateMaster}
		default:
			// what this port would advertise if it were master
			derived := *res.Best
			derived.StepsRemoved++
			derived.SenderPortIdentity = ptp.PortIdentity{ClockIdentity: local.ClockIdentity, PortNumber: p}
			derived.ReceiverPortNumber = p
			if Compare(&derived, portBests[p]) > 0 {
				res.Decisions[p] = Decision{State: ptp.PortStateMaster}
			} else {
				res.Decisions[p] = Decision{State: ptp.PortStatePassive}
			}
		}
	}
	return res
}
