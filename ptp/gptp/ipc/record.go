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
Package ipc publishes gPTP state to other processes and accepts control requests from them.

State is exposed as a fixed-layout Record in shared memory guarded by a
sequence lock, control goes over a unixgram socket.
*/
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/facebook/gptp/ptp/gptp/engine"
	ptp "github.com/facebook/gptp/ptp/protocol"
)

// RecordLayout is bumped on any change of the record encoding
const RecordLayout uint16 = 1

// MaxPorts is how many ports fit into a record
const MaxPorts = 8

// RecordSize is the encoded size of Record
const RecordSize = 68 + MaxPorts*portRecordSize

const portRecordSize = 4

// ErrLayoutMismatch is returned when record was written with a different layout
var ErrLayoutMismatch = errors.New("record layout mismatch")

// PortRecord is per-port part of Record
type PortRecord struct {
	Number    uint16
	State     ptp.PortState
	AsCapable bool
}

// Record is the published time data. Offsets follow these relations:
//
//	master ~= local - MasterOffset
//	local  ~= system - LocalSystemOffset
//	Dmaster ~= Dlocal * MasterFreqRatio
//	Dlocal  ~= Dsystem * LocalSystemFreqRatio
type Record struct {
	Domain        uint8
	IsGrandmaster bool
	PID           uint32
	// GrandmasterIdentity is zero when no grandmaster is selected
	GrandmasterIdentity ptp.ClockIdentity
	// MasterOffset and LocalSystemOffset are in TimeInterval format (ns scaled by 2^16)
	MasterOffset         ptp.Correction
	MasterFreqRatio      float64
	LocalSystemOffset    ptp.Correction
	LocalSystemFreqRatio float64
	LocalTime            uint64
	SyncCount            uint32
	PdelayCount          uint32
	Ports                []PortRecord
}

// RecordFromSnapshot converts engine snapshot into a record. Ports beyond MaxPorts are dropped.
func RecordFromSnapshot(s engine.Snapshot, pid int) Record {
	r := Record{
		Domain:               s.Domain,
		IsGrandmaster:        s.IsGrandmaster,
		PID:                  uint32(pid),
		GrandmasterIdentity:  s.GrandmasterIdentity,
		MasterOffset:         ptp.NewCorrection(float64(s.MasterOffset)),
		MasterFreqRatio:      s.MasterFreqRatio,
		LocalSystemOffset:    ptp.NewCorrection(float64(s.LocalSystemOffset)),
		LocalSystemFreqRatio: s.LocalSystemFreqRatio,
		LocalTime:            uint64(s.LocalTime),
		SyncCount:            uint32(s.SyncCount),
		PdelayCount:          uint32(s.PdelayCount),
	}
	for i, p := range s.Ports {
		if i == MaxPorts {
			break
		}
		r.Ports = append(r.Ports, PortRecord{Number: p.Number, State: p.State, AsCapable: p.AsCapable})
	}
	return r
}

// MarshalBinaryTo encodes record into b in host byte order
func (r *Record) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < RecordSize {
		return 0, fmt.Errorf("not enough buffer to write Record: %d < %d", len(b), RecordSize)
	}
	if len(r.Ports) > MaxPorts {
		return 0, fmt.Errorf("too many ports in Record: %d > %d", len(r.Ports), MaxPorts)
	}
	o := binary.NativeEndian
	o.PutUint16(b[0:], RecordLayout)
	b[2] = r.Domain
	b[3] = 0
	if r.IsGrandmaster {
		b[3] = 1
	}
	o.PutUint32(b[4:], r.PID)
	o.PutUint64(b[8:], uint64(r.GrandmasterIdentity))
	o.PutUint64(b[16:], uint64(r.MasterOffset))
	o.PutUint64(b[24:], math.Float64bits(r.MasterFreqRatio))
	o.PutUint64(b[32:], uint64(r.LocalSystemOffset))
	o.PutUint64(b[40:], math.Float64bits(r.LocalSystemFreqRatio))
	o.PutUint64(b[48:], r.LocalTime)
	o.PutUint32(b[56:], r.SyncCount)
	o.PutUint32(b[60:], r.PdelayCount)
	b[64] = uint8(len(r.Ports))
	b[65], b[66], b[67] = 0, 0, 0
	for i := 0; i < MaxPorts; i++ {
		pb := b[68+i*portRecordSize:]
		if i >= len(r.Ports) {
			copy(pb[:portRecordSize], []byte{0, 0, 0, 0})
			continue
		}
		p := r.Ports[i]
		o.PutUint16(pb, p.Number)
		pb[2] = uint8(p.State)
		pb[3] = 0
		if p.AsCapable {
			pb[3] = 1
		}
	}
	return RecordSize, nil
}

// MarshalBinary encodes record in host byte order
func (r *Record) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	_, err := r.MarshalBinaryTo(b)
	return b, err
}

// UnmarshalBinary decodes record
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("not enough data to decode Record: %d < %d", len(b), RecordSize)
	}
	o := binary.NativeEndian
	if l := o.Uint16(b[0:]); l != RecordLayout {
		return fmt.Errorf("%w: got %d, want %d", ErrLayoutMismatch, l, RecordLayout)
	}
	r.Domain = b[2]
	r.IsGrandmaster = b[3] != 0
	r.PID = o.Uint32(b[4:])
	r.GrandmasterIdentity = ptp.ClockIdentity(o.Uint64(b[8:]))
	r.MasterOffset = ptp.Correction(o.Uint64(b[16:]))
	r.MasterFreqRatio = math.Float64frombits(o.Uint64(b[24:]))
	r.LocalSystemOffset = ptp.Correction(o.Uint64(b[32:]))
	r.LocalSystemFreqRatio = math.Float64frombits(o.Uint64(b[40:]))
	r.LocalTime = o.Uint64(b[48:])
	r.SyncCount = o.Uint32(b[56:])
	r.PdelayCount = o.Uint32(b[60:])
	n := int(b[64])
	if n > MaxPorts {
		return fmt.Errorf("bad port count %d in Record", n)
	}
	r.Ports = make([]PortRecord, n)
	for i := range r.Ports {
		pb := b[68+i*portRecordSize:]
		r.Ports[i] = PortRecord{
			Number:    o.Uint16(pb),
			State:     ptp.PortState(pb[2]),
			AsCapable: pb[3] != 0,
		}
	}
	return nil
}
