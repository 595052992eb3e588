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

package protocol

// references are given for IEEE 1588-2019 and IEEE 802.1AS-2020

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is what version of PTP protocol we implement
const Version uint8 = 2

// MajorSdoIDGPTP is majorSdoId (transportSpecific) of 802.1AS messages, 10.6.2.2.1
const MajorSdoIDGPTP uint8 = 1

// MaxPacketSize is the largest PTP message we ever put in one Ethernet frame
const MaxPacketSize = 1500

const headerSize = 34

// sizes of fixed bodies, excluding header
const (
	announceBodySize           = 30
	syncBodySize               = 10
	followUpBodySize           = 10
	pDelayReqBodySize          = 20
	pDelayRespBodySize         = 20
	pDelayRespFollowUpBodySize = 20
	signalingBodySize          = 10
)

// Decoding errors, match them with errors.Is
var (
	ErrMalformedHeader    = errors.New("malformed PTP header")
	ErrUnknownMessageType = errors.New("unknown PTP message type")
	ErrTruncatedPayload   = errors.New("truncated PTP payload")
)

// Header Table 35 Common PTP message header
type Header struct {
	SdoIDAndMsgType     SdoIDAndMsgType // first 4 bits is SdoId, next 4 bytes are msgtype
	Version             uint8
	MessageLength       uint16
	DomainNumber        uint8
	MinorSdoID          uint8
	FlagField           uint16
	CorrectionField     Correction
	MessageTypeSpecific uint32
	SourcePortIdentity  PortIdentity
	SequenceID          uint16
	ControlField        uint8       // obsolete, 802.1AS transmits 0
	LogMessageInterval  LogInterval // see Table 42 Values of logMessageInterval field
}

// MessageType returns MessageType
func (p *Header) MessageType() MessageType {
	return p.SdoIDAndMsgType.MsgType()
}

// SetSequence populates sequence field
func (p *Header) SetSequence(sequence uint16) {
	p.SequenceID = sequence
}

// PTPHeader gives access to the common header of any packet
func (p *Header) PTPHeader() *Header {
	return p
}

// AddCorrection accumulates ns nanoseconds into correctionField.
// Relayed messages must never have the field overwritten.
func (p *Header) AddCorrection(ns float64) {
	p.CorrectionField = p.CorrectionField.Add(ns)
}

// HasFlag checks if flag is set in FlagField
func (p *Header) HasFlag(flag uint16) bool {
	return p.FlagField&flag != 0
}

// flags used in FlagField as per Table 37 Values of flagField
const (
	// first octet
	FlagAlternateMaster  uint16 = 1 << (8 + 0)
	FlagTwoStep          uint16 = 1 << (8 + 1)
	FlagUnicast          uint16 = 1 << (8 + 2)
	FlagProfileSpecific1 uint16 = 1 << (8 + 5)
	FlagProfileSpecific2 uint16 = 1 << (8 + 6)
	// second octet
	FlagLeap61                   uint16 = 1 << 0
	FlagLeap59                   uint16 = 1 << 1
	FlagCurrentUtcOffsetValid    uint16 = 1 << 2
	FlagPTPTimescale             uint16 = 1 << 3
	FlagTimeTraceable            uint16 = 1 << 4
	FlagFrequencyTraceable       uint16 = 1 << 5
	FlagSynchronizationUncertain uint16 = 1 << 6
)

// NewHeader returns header prefilled for 802.1AS message of given type
func NewHeader(msgType MessageType, domain uint8, source PortIdentity) Header {
	h := Header{
		SdoIDAndMsgType:    NewSdoIDAndMsgType(msgType, MajorSdoIDGPTP),
		Version:            Version,
		DomainNumber:       domain,
		SourcePortIdentity: source,
	}
	switch msgType {
	case MessageSync, MessagePDelayResp:
		h.FlagField = FlagTwoStep
	case MessageAnnounce, MessageFollowUp:
		h.FlagField = FlagPTPTimescale
	case MessagePDelayReq, MessagePDelayRespFollowUp, MessageSignaling:
		h.LogMessageInterval = 0x7f
	}
	return h
}

func headerMarshalBinaryTo(p *Header, b []byte) int {
	b[0] = byte(p.SdoIDAndMsgType)
	b[1] = p.Version
	binary.BigEndian.PutUint16(b[2:], p.MessageLength)
	b[4] = p.DomainNumber
	b[5] = p.MinorSdoID
	binary.BigEndian.PutUint16(b[6:], p.FlagField)
	binary.BigEndian.PutUint64(b[8:], uint64(p.CorrectionField))
	binary.BigEndian.PutUint32(b[16:], p.MessageTypeSpecific)
	putPortIdentity(b[20:], p.SourcePortIdentity)
	binary.BigEndian.PutUint16(b[30:], p.SequenceID)
	b[32] = p.ControlField
	b[33] = byte(p.LogMessageInterval)
	return headerSize
}

func unmarshalHeader(p *Header, b []byte) {
	p.SdoIDAndMsgType = SdoIDAndMsgType(b[0])
	p.Version = b[1]
	p.MessageLength = binary.BigEndian.Uint16(b[2:])
	p.DomainNumber = b[4]
	p.MinorSdoID = b[5]
	p.FlagField = binary.BigEndian.Uint16(b[6:])
	p.CorrectionField = Correction(binary.BigEndian.Uint64(b[8:]))
	p.MessageTypeSpecific = binary.BigEndian.Uint32(b[16:])
	p.SourcePortIdentity = getPortIdentity(b[20:])
	p.SequenceID = binary.BigEndian.Uint16(b[30:])
	p.ControlField = b[32]
	p.LogMessageInterval = LogInterval(b[33])
}

// checkPacketLength validates header against buffer and fixed body size.
// It returns length of the message, trailing padding excluded.
func checkPacketLength(p *Header, l int, bodySize int) (int, error) {
	if l < headerSize {
		return 0, fmt.Errorf("got %d bytes: %w", l, ErrMalformedHeader)
	}
	if p.Version&0xf != Version {
		return 0, fmt.Errorf("unsupported version %d: %w", p.Version&0xf, ErrMalformedHeader)
	}
	if int(p.MessageLength) < headerSize+bodySize {
		return 0, fmt.Errorf("%s messageLength %d is shorter than %d: %w", p.MessageType(), p.MessageLength, headerSize+bodySize, ErrTruncatedPayload)
	}
	if int(p.MessageLength) > l {
		return 0, fmt.Errorf("%s messageLength %d, only %d bytes available: %w", p.MessageType(), p.MessageLength, l, ErrTruncatedPayload)
	}
	return int(p.MessageLength), nil
}

func putPortIdentity(b []byte, p PortIdentity) {
	binary.BigEndian.PutUint64(b, uint64(p.ClockIdentity))
	binary.BigEndian.PutUint16(b[8:], p.PortNumber)
}

func getPortIdentity(b []byte) PortIdentity {
	return PortIdentity{
		ClockIdentity: ClockIdentity(binary.BigEndian.Uint64(b)),
		PortNumber:    binary.BigEndian.Uint16(b[8:]),
	}
}

func putTimestamp(b []byte, t Timestamp) {
	copy(b, t.Seconds[:])
	binary.BigEndian.PutUint32(b[6:], t.Nanoseconds)
}

func getTimestamp(b []byte) Timestamp {
	t := Timestamp{}
	copy(t.Seconds[:], b[:6])
	t.Nanoseconds = binary.BigEndian.Uint32(b[6:])
	return t
}

func checkBuffer(msgType MessageType, b []byte, size int) error {
	if len(b) < size {
		return fmt.Errorf("buffer of %d bytes is too small for %s of %d bytes", len(b), msgType, size)
	}
	return nil
}

// AnnounceBody Table 43 Announce message fields
type AnnounceBody struct {
	OriginTimestamp         Timestamp
	CurrentUTCOffset        int16
	Reserved                uint8
	GrandmasterPriority1    uint8
	GrandmasterClockQuality ClockQuality
	GrandmasterPriority2    uint8
	GrandmasterIdentity     ClockIdentity
	StepsRemoved            uint16
	TimeSource              TimeSource
}

// Announce is a full Announce packet. 802.1AS requires PathTraceTLV to follow the body.
type Announce struct {
	Header
	AnnounceBody
	TLVs []TLV
}

// PathTrace returns the PathTraceTLV of the announce if there is one
func (p *Announce) PathTrace() *PathTraceTLV {
	for _, tlv := range p.TLVs {
		if pt, ok := tlv.(*PathTraceTLV); ok {
			return pt
		}
	}
	return nil
}

// MarshalBinaryTo marshals bytes to Announce
func (p *Announce) MarshalBinaryTo(b []byte) (int, error) {
	size := headerSize + announceBodySize + tlvsLen(p.TLVs)
	if err := checkBuffer(MessageAnnounce, b, size); err != nil {
		return 0, err
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	putTimestamp(b[n:], p.OriginTimestamp)
	binary.BigEndian.PutUint16(b[n+10:], uint16(p.CurrentUTCOffset))
	b[n+12] = p.Reserved
	b[n+13] = p.GrandmasterPriority1
	b[n+14] = byte(p.GrandmasterClockQuality.ClockClass)
	b[n+15] = byte(p.GrandmasterClockQuality.ClockAccuracy)
	binary.BigEndian.PutUint16(b[n+16:], p.GrandmasterClockQuality.OffsetScaledLogVariance)
	b[n+18] = p.GrandmasterPriority2
	binary.BigEndian.PutUint64(b[n+19:], uint64(p.GrandmasterIdentity))
	binary.BigEndian.PutUint16(b[n+27:], p.StepsRemoved)
	b[n+29] = byte(p.TimeSource)
	pos := n + announceBodySize
	tlvLen, err := writeTLVs(p.TLVs, b[pos:])
	return pos + tlvLen, err
}

// MarshalBinary converts packet to []bytes
func (p *Announce) MarshalBinary() ([]byte, error) {
	return marshalBinary(p)
}

// UnmarshalBinary parses []byte and populates struct fields.
// On a malformed trailing TLV the TLVs decoded before it are kept and an error is returned.
func (p *Announce) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("got %d bytes: %w", len(b), ErrMalformedHeader)
	}
	unmarshalHeader(&p.Header, b)
	l, err := checkPacketLength(&p.Header, len(b), announceBodySize)
	if err != nil {
		return err
	}
	n := headerSize
	p.OriginTimestamp = getTimestamp(b[n:])
	p.CurrentUTCOffset = int16(binary.BigEndian.Uint16(b[n+10:]))
	p.Reserved = b[n+12]
	p.GrandmasterPriority1 = b[n+13]
	p.GrandmasterClockQuality.ClockClass = ClockClass(b[n+14])
	p.GrandmasterClockQuality.ClockAccuracy = ClockAccuracy(b[n+15])
	p.GrandmasterClockQuality.OffsetScaledLogVariance = binary.BigEndian.Uint16(b[n+16:])
	p.GrandmasterPriority2 = b[n+18]
	p.GrandmasterIdentity = ClockIdentity(binary.BigEndian.Uint64(b[n+19:]))
	p.StepsRemoved = binary.BigEndian.Uint16(b[n+27:])
	p.TimeSource = TimeSource(b[n+29])
	p.TLVs, err = readTLVs(nil, b[n+announceBodySize:l])
	return err
}

// SyncBody Table 44 Sync message fields. OriginTimestamp is zero with two-step.
type SyncBody struct {
	OriginTimestamp Timestamp
}

// Sync is a full Sync packet
type Sync struct {
	Header
	SyncBody
}

// MarshalBinaryTo marshals bytes to Sync
func (p *Sync) MarshalBinaryTo(b []byte) (int, error) {
	size := headerSize + syncBodySize
	if err := checkBuffer(MessageSync, b, size); err != nil {
		return 0, err
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	putTimestamp(b[n:], p.OriginTimestamp)
	return size, nil
}

// MarshalBinary converts packet to []bytes
func (p *Sync) MarshalBinary() ([]byte, error) {
	return marshalBinary(p)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *Sync) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("got %d bytes: %w", len(b), ErrMalformedHeader)
	}
	unmarshalHeader(&p.Header, b)
	if _, err := checkPacketLength(&p.Header, len(b), syncBodySize); err != nil {
		return err
	}
	p.OriginTimestamp = getTimestamp(b[headerSize:])
	return nil
}

// FollowUpBody Table 45 Follow_Up message fields
type FollowUpBody struct {
	PreciseOriginTimestamp Timestamp
}

// FollowUp is a full Follow_Up packet, carrying FollowUpTLV in 802.1AS
type FollowUp struct {
	Header
	FollowUpBody
	TLVs []TLV
}

// Info returns the FollowUpTLV of the message if there is one
func (p *FollowUp) Info() *FollowUpTLV {
	for _, tlv := range p.TLVs {
		if fu, ok := tlv.(*FollowUpTLV); ok {
			return fu
		}
	}
	return nil
}

// MarshalBinaryTo marshals bytes to FollowUp
func (p *FollowUp) MarshalBinaryTo(b []byte) (int, error) {
	size := headerSize + followUpBodySize + tlvsLen(p.TLVs)
	if err := checkBuffer(MessageFollowUp, b, size); err != nil {
		return 0, err
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	putTimestamp(b[n:], p.PreciseOriginTimestamp)
	pos := n + followUpBodySize
	tlvLen, err := writeTLVs(p.TLVs, b[pos:])
	return pos + tlvLen, err
}

// MarshalBinary converts packet to []bytes
func (p *FollowUp) MarshalBinary() ([]byte, error) {
	return marshalBinary(p)
}

// UnmarshalBinary parses []byte and populates struct fields.
// On a malformed trailing TLV the TLVs decoded before it are kept and an error is returned.
func (p *FollowUp) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("got %d bytes: %w", len(b), ErrMalformedHeader)
	}
	unmarshalHeader(&p.Header, b)
	l, err := checkPacketLength(&p.Header, len(b), followUpBodySize)
	if err != nil {
		return err
	}
	p.PreciseOriginTimestamp = getTimestamp(b[headerSize:])
	p.TLVs, err = readTLVs(nil, b[headerSize+followUpBodySize:l])
	return err
}

// PDelayReqBody Table 47 Pdelay_Req message fields
type PDelayReqBody struct {
	OriginTimestamp Timestamp
	Reserved        [10]uint8
}

// PDelayReq is a full Pdelay_Req packet
type PDelayReq struct {
	Header
	PDelayReqBody
}

// MarshalBinaryTo marshals bytes to PDelayReq
func (p *PDelayReq) MarshalBinaryTo(b []byte) (int, error) {
	size := headerSize + pDelayReqBodySize
	if err := checkBuffer(MessagePDelayReq, b, size); err != nil {
		return 0, err
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	putTimestamp(b[n:], p.OriginTimestamp)
	copy(b[n+10:], p.Reserved[:])
	return size, nil
}

// MarshalBinary converts packet to []bytes
func (p *PDelayReq) MarshalBinary() ([]byte, error) {
	return marshalBinary(p)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayReq) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("got %d bytes: %w", len(b), ErrMalformedHeader)
	}
	unmarshalHeader(&p.Header, b)
	if _, err := checkPacketLength(&p.Header, len(b), pDelayReqBodySize); err != nil {
		return err
	}
	p.OriginTimestamp = getTimestamp(b[headerSize:])
	copy(p.Reserved[:], b[headerSize+10:])
	return nil
}

// PDelayRespBody Table 48 Pdelay_Resp message fields
type PDelayRespBody struct {
	RequestReceiptTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayResp is a full Pdelay_Resp packet
type PDelayResp struct {
	Header
	PDelayRespBody
}

// MarshalBinaryTo marshals bytes to PDelayResp
func (p *PDelayResp) MarshalBinaryTo(b []byte) (int, error) {
	size := headerSize + pDelayRespBodySize
	if err := checkBuffer(MessagePDelayResp, b, size); err != nil {
		return 0, err
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	putTimestamp(b[n:], p.RequestReceiptTimestamp)
	putPortIdentity(b[n+10:], p.RequestingPortIdentity)
	return size, nil
}

// MarshalBinary converts packet to []bytes
func (p *PDelayResp) MarshalBinary() ([]byte, error) {
	return marshalBinary(p)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayResp) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("got %d bytes: %w", len(b), ErrMalformedHeader)
	}
	unmarshalHeader(&p.Header, b)
	if _, err := checkPacketLength(&p.Header, len(b), pDelayRespBodySize); err != nil {
		return err
	}
	p.RequestReceiptTimestamp = getTimestamp(b[headerSize:])
	p.RequestingPortIdentity = getPortIdentity(b[headerSize+10:])
	return nil
}

// PDelayRespFollowUpBody Table 49 Pdelay_Resp_Follow_Up message fields
type PDelayRespFollowUpBody struct {
	ResponseOriginTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayRespFollowUp is a full Pdelay_Resp_Follow_Up packet
type PDelayRespFollowUp struct {
	Header
	PDelayRespFollowUpBody
}

// MarshalBinaryTo marshals bytes to PDelayRespFollowUp
func (p *PDelayRespFollowUp) MarshalBinaryTo(b []byte) (int, error) {
	size := headerSize + pDelayRespFollowUpBodySize
	if err := checkBuffer(MessagePDelayRespFollowUp, b, size); err != nil {
		return 0, err
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	putTimestamp(b[n:], p.ResponseOriginTimestamp)
	putPortIdentity(b[n+10:], p.RequestingPortIdentity)
	return size, nil
}

// MarshalBinary converts packet to []bytes
func (p *PDelayRespFollowUp) MarshalBinary() ([]byte, error) {
	return marshalBinary(p)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayRespFollowUp) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("got %d bytes: %w", len(b), ErrMalformedHeader)
	}
	unmarshalHeader(&p.Header, b)
	if _, err := checkPacketLength(&p.Header, len(b), pDelayRespFollowUpBodySize); err != nil {
		return err
	}
	p.ResponseOriginTimestamp = getTimestamp(b[headerSize:])
	p.RequestingPortIdentity = getPortIdentity(b[headerSize+10:])
	return nil
}

// Signaling packet. As it's of variable size, we cannot just binary.Read/Write it.
type Signaling struct {
	Header
	TargetPortIdentity PortIdentity
	TLVs               []TLV
}

// IntervalRequest returns the message interval request TLV if there is one
func (p *Signaling) IntervalRequest() *MessageIntervalRequestTLV {
	for _, tlv := range p.TLVs {
		if r, ok := tlv.(*MessageIntervalRequestTLV); ok {
			return r
		}
	}
	return nil
}

// MarshalBinaryTo marshals bytes to Signaling
func (p *Signaling) MarshalBinaryTo(b []byte) (int, error) {
	if len(p.TLVs) == 0 {
		return 0, fmt.Errorf("no TLVs in Signaling message, at least one required")
	}
	size := headerSize + signalingBodySize + tlvsLen(p.TLVs)
	if err := checkBuffer(MessageSignaling, b, size); err != nil {
		return 0, err
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	putPortIdentity(b[n:], p.TargetPortIdentity)
	pos := n + signalingBodySize
	tlvLen, err := writeTLVs(p.TLVs, b[pos:])
	return pos + tlvLen, err
}

// MarshalBinary converts packet to []bytes
func (p *Signaling) MarshalBinary() ([]byte, error) {
	return marshalBinary(p)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *Signaling) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("got %d bytes: %w", len(b), ErrMalformedHeader)
	}
	unmarshalHeader(&p.Header, b)
	l, err := checkPacketLength(&p.Header, len(b), signalingBodySize)
	if err != nil {
		return err
	}
	p.TargetPortIdentity = getPortIdentity(b[headerSize:])
	p.TLVs, err = readTLVs(nil, b[headerSize+signalingBodySize:l])
	if err != nil {
		return err
	}
	if len(p.TLVs) == 0 {
		return fmt.Errorf("no TLVs read for Signaling message, at least one required: %w", ErrTruncatedPayload)
	}
	return nil
}

// BinaryMarshalerTo is an interface implemented by packets and TLVs that can marshal into a provided buffer
type BinaryMarshalerTo interface {
	MarshalBinaryTo([]byte) (int, error)
}

// Packet is an iterface to abstract all different packets
type Packet interface {
	BinaryMarshalerTo
	MessageType() MessageType
	SetSequence(uint16)
	PTPHeader() *Header
}

func marshalBinary(p BinaryMarshalerTo) ([]byte, error) {
	buf := make([]byte, MaxPacketSize)
	n, err := p.MarshalBinaryTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Bytes converts any packet to []bytes. messageLength is recomputed.
func Bytes(p Packet) ([]byte, error) {
	return marshalBinary(p)
}

// BytesTo marshals packet into provided buffer and returns number of bytes written
func BytesTo(p Packet, buf []byte) (int, error) {
	return p.MarshalBinaryTo(buf)
}

// FromBytes parses []byte into any packet
func FromBytes(rawBytes []byte, p Packet) error {
	// interface smuggling
	if pp, ok := p.(encoding.BinaryUnmarshaler); ok {
		return pp.UnmarshalBinary(rawBytes)
	}
	return fmt.Errorf("%s: %w", p.MessageType(), ErrUnknownMessageType)
}

// DecodePacket provides single entry point to try and decode any []bytes to 802.1AS packet.
// Resulting Packet user can then either switch based on MessageType(), or just with type switch.
// Trailing padding after messageLength is ignored.
// If only a trailing TLV is malformed, the packet with TLVs decoded before it is returned along with the error.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("got %d bytes: %w", len(b), ErrMalformedHeader)
	}
	msgType := SdoIDAndMsgType(b[0]).MsgType()
	var p Packet
	switch msgType {
	case MessageSync:
		p = &Sync{}
	case MessagePDelayReq:
		p = &PDelayReq{}
	case MessagePDelayResp:
		p = &PDelayResp{}
	case MessageFollowUp:
		p = &FollowUp{}
	case MessagePDelayRespFollowUp:
		p = &PDelayRespFollowUp{}
	case MessageAnnounce:
		p = &Announce{}
	case MessageSignaling:
		p = &Signaling{}
	default:
		return nil, fmt.Errorf("message type %d: %w", msgType, ErrUnknownMessageType)
	}

	if err := FromBytes(b, p); err != nil {
		if errors.Is(err, errTLV) {
			return p, err
		}
		return nil, err
	}
	return p, nil
}
