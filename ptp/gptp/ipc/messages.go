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

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"

	"github.com/facebook/gptp/ptp/gptp/engine"
	"github.com/facebook/gptp/ptp/gptp/peer"
)

// MsgType is the tag of a control socket message
type MsgType uint8

// Message types
const (
	MsgCtrl   MsgType = 1
	MsgQuery  MsgType = 2
	MsgOffset MsgType = 3
)

func (t MsgType) String() string {
	switch t {
	case MsgCtrl:
		return "CTRL"
	case MsgQuery:
		return "QUERY"
	case MsgOffset:
		return "OFFSET"
	}
	return fmt.Sprintf("MsgType(%d)", uint8(t))
}

// msgHeaderSize is type (1 byte) plus body length (2 bytes)
const msgHeaderSize = 3

// MaxMessageSize is the size of the largest message
const MaxMessageSize = msgHeaderSize + offsetBodySize

// errors returned by DecodeMessage
var (
	ErrShortMessage       = errors.New("message too short")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Message is one of CtrlMessage, QueryMessage or OffsetMessage
type Message interface {
	Type() MsgType
	MarshalBinary() ([]byte, error)
}

// CtrlAction is what CtrlMessage asks for
type CtrlAction uint8

// Control actions
const (
	AddPeer    CtrlAction = 0
	RemovePeer CtrlAction = 1
)

func (a CtrlAction) String() string {
	switch a {
	case AddPeer:
		return "ADD_PEER"
	case RemovePeer:
		return "REMOVE_PEER"
	}
	return fmt.Sprintf("CtrlAction(%d)", uint8(a))
}

// CtrlMessage adds or removes a peer
type CtrlMessage struct {
	Action CtrlAction
	Addr   peer.Addr
	Flags  uint16
}

// QueryMessage asks for the current offsets, the answer is OffsetMessage
type QueryMessage struct{}

// OffsetMessage carries master/local and local/system relation
type OffsetMessage struct {
	MasterOffset         int64
	MasterFreqRatio      float64
	LocalSystemOffset    int64
	LocalSystemFreqRatio float64
	LocalTime            uint64
}

// OffsetFromSnapshot fills OffsetMessage from engine snapshot
func OffsetFromSnapshot(s engine.Snapshot) *OffsetMessage {
	return &OffsetMessage{
		MasterOffset:         s.MasterOffset,
		MasterFreqRatio:      s.MasterFreqRatio,
		LocalSystemOffset:    s.LocalSystemOffset,
		LocalSystemFreqRatio: s.LocalSystemFreqRatio,
		LocalTime:            uint64(s.LocalTime),
	}
}

// action(1) flags(2) kind(1) address(16) port(2)
const ctrlBodySize = 22

const offsetBodySize = 40

// Type implements Message
func (m *CtrlMessage) Type() MsgType { return MsgCtrl }

// Type implements Message
func (m *QueryMessage) Type() MsgType { return MsgQuery }

// Type implements Message
func (m *OffsetMessage) Type() MsgType { return MsgOffset }

func header(t MsgType, bodyLen int) []byte {
	b := make([]byte, msgHeaderSize+bodyLen)
	b[0] = byte(t)
	binary.BigEndian.PutUint16(b[1:], uint16(bodyLen))
	return b
}

// MarshalBinary implements Message
func (m *CtrlMessage) MarshalBinary() ([]byte, error) {
	b := header(MsgCtrl, ctrlBodySize)
	body := b[msgHeaderSize:]
	body[0] = byte(m.Action)
	binary.BigEndian.PutUint16(body[1:], m.Flags)
	body[3] = byte(m.Addr.Kind())
	switch m.Addr.Kind() {
	case peer.KindMAC:
		copy(body[4:10], m.Addr.MAC())
	case peer.KindIP:
		ap := m.Addr.AddrPort()
		a16 := ap.Addr().As16()
		copy(body[4:20], a16[:])
		binary.BigEndian.PutUint16(body[20:], ap.Port())
	default:
		return nil, fmt.Errorf("unsupported peer address kind %s", m.Addr.Kind())
	}
	return b, nil
}

// MarshalBinary implements Message
func (m *QueryMessage) MarshalBinary() ([]byte, error) {
	return header(MsgQuery, 0), nil
}

// MarshalBinary implements Message
func (m *OffsetMessage) MarshalBinary() ([]byte, error) {
	b := header(MsgOffset, offsetBodySize)
	body := b[msgHeaderSize:]
	binary.BigEndian.PutUint64(body[0:], uint64(m.MasterOffset))
	binary.BigEndian.PutUint64(body[8:], math.Float64bits(m.MasterFreqRatio))
	binary.BigEndian.PutUint64(body[16:], uint64(m.LocalSystemOffset))
	binary.BigEndian.PutUint64(body[24:], math.Float64bits(m.LocalSystemFreqRatio))
	binary.BigEndian.PutUint64(body[32:], m.LocalTime)
	return b, nil
}

// DecodeMessage parses a control socket message
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < msgHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(b))
	}
	t := MsgType(b[0])
	l := int(binary.BigEndian.Uint16(b[1:]))
	body := b[msgHeaderSize:]
	if len(body) < l {
		return nil, fmt.Errorf("%w: %s body needs %d bytes, got %d", ErrShortMessage, t, l, len(body))
	}
	body = body[:l]
	switch t {
	case MsgCtrl:
		if l < ctrlBodySize {
			return nil, fmt.Errorf("%w: %s body needs %d bytes, got %d", ErrShortMessage, t, ctrlBodySize, l)
		}
		m := &CtrlMessage{
			Action: CtrlAction(body[0]),
			Flags:  binary.BigEndian.Uint16(body[1:]),
		}
		if m.Action != AddPeer && m.Action != RemovePeer {
			return nil, fmt.Errorf("unknown control action %d", body[0])
		}
		switch peer.Kind(body[3]) {
		case peer.KindMAC:
			m.Addr = peer.MACAddr(net.HardwareAddr(body[4:10]))
		case peer.KindIP:
			addr := netip.AddrFrom16([16]byte(body[4:20])).Unmap()
			m.Addr = peer.IPAddr(netip.AddrPortFrom(addr, binary.BigEndian.Uint16(body[20:])))
		default:
			return nil, fmt.Errorf("unknown peer address kind %d", body[3])
		}
		return m, nil
	case MsgQuery:
		return &QueryMessage{}, nil
	case MsgOffset:
		if l < offsetBodySize {
			return nil, fmt.Errorf("%w: %s body needs %d bytes, got %d", ErrShortMessage, t, offsetBodySize, l)
		}
		return &OffsetMessage{
			MasterOffset:         int64(binary.BigEndian.Uint64(body[0:])),
			MasterFreqRatio:      math.Float64frombits(binary.BigEndian.Uint64(body[8:])),
			LocalSystemOffset:    int64(binary.BigEndian.Uint64(body[16:])),
			LocalSystemFreqRatio: math.Float64frombits(binary.BigEndian.Uint64(body[24:])),
			LocalTime:            binary.BigEndian.Uint64(body[32:]),
		}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, b[0])
}
