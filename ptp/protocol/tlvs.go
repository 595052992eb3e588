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

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// errTLV marks decoding failures confined to the TLV area of a message
var errTLV = errors.New("bad TLV")

// TLV abstracts away any TLV
type TLV interface {
	BinaryMarshalerTo
	Type() TLVType
	Len() int
}

const tlvHeadSize = 4

// OUI 00-80-C2 used by 802.1AS organization extension TLVs
var ieee8021OrganizationID = [3]byte{0x00, 0x80, 0xC2}

// organization subtypes of 802.1AS
const (
	orgSubTypeFollowUp        uint32 = 1
	orgSubTypeIntervalRequest uint32 = 2
)

// TLVHead is a common part of all TLVs
type TLVHead struct {
	TLVType     TLVType
	LengthField uint16 // The length of all TLVs shall be an even number of octets
}

// Type implements TLV interface
func (t TLVHead) Type() TLVType {
	return t.TLVType
}

func tlvHeadMarshalBinaryTo(t *TLVHead, b []byte) {
	binary.BigEndian.PutUint16(b, uint16(t.TLVType))
	binary.BigEndian.PutUint16(b[2:], t.LengthField)
}

func unmarshalTLVHeader(p *TLVHead, b []byte) error {
	if len(b) < tlvHeadSize {
		return fmt.Errorf("not enough data to decode TLV header: %w", ErrTruncatedPayload)
	}
	p.TLVType = TLVType(binary.BigEndian.Uint16(b[0:]))
	p.LengthField = binary.BigEndian.Uint16(b[2:])
	return nil
}

func checkTLVLength(p *TLVHead, l, want int, strict bool) error {
	if strict && int(p.LengthField) != want {
		return fmt.Errorf("expected TLV of type %s to have length of %d, got %d in the header", p.TLVType, want, p.LengthField)
	}
	if int(p.LengthField) < want {
		return fmt.Errorf("expected TLV of type %s to have length of at least %d, got %d in the header", p.TLVType, want, p.LengthField)
	}
	if tlvHeadSize+int(p.LengthField) > l {
		return fmt.Errorf("cannot decode TLV of length %d from %d bytes: %w", tlvHeadSize+int(p.LengthField), l, ErrTruncatedPayload)
	}
	return nil
}

func tlvsLen(tlvs []TLV) int {
	l := 0
	for _, tlv := range tlvs {
		l += tlv.Len()
	}
	return l
}

func writeTLVs(tlvs []TLV, b []byte) (int, error) {
	pos := 0
	for _, tlv := range tlvs {
		if len(b[pos:]) < tlv.Len() {
			return 0, fmt.Errorf("no space left to write TLV %s", tlv.Type())
		}
		nn, err := tlv.MarshalBinaryTo(b[pos:])
		if err != nil {
			return 0, err
		}
		pos += nn
	}
	return pos, nil
}

// readTLVs appends every TLV found in b to tlvs. A malformed TLV stops the walk,
// TLVs read before it are returned along with the error.
func readTLVs(tlvs []TLV, b []byte) ([]TLV, error) {
	it := NewTLVIterator(b)
	for it.Next() {
		tlvs = append(tlvs, it.TLV())
	}
	if err := it.Err(); err != nil {
		return tlvs, fmt.Errorf("%w: %w", errTLV, err)
	}
	return tlvs, nil
}

// TLVIterator lazily walks (type, length, value) triples of a TLV area.
// Unknown TLVs are returned as *UnknownTLV. Iteration stops at the first malformed TLV,
// everything returned before stays valid.
type TLVIterator struct {
	b   []byte
	pos int
	tlv TLV
	err error
}

// NewTLVIterator creates iterator over the TLV area b
func NewTLVIterator(b []byte) *TLVIterator {
	return &TLVIterator{b: b}
}

// Next advances to the next TLV. It returns false when TLVs are exhausted or on error.
func (it *TLVIterator) Next() bool {
	it.tlv = nil
	if it.err != nil {
		return false
	}
	// packet can have trailing bytes, less than a TLV header is not a TLV
	if it.pos+tlvHeadSize > len(it.b) {
		return false
	}
	head := TLVHead{}
	_ = unmarshalTLVHeader(&head, it.b[it.pos:])
	end := it.pos + tlvHeadSize + int(head.LengthField)
	if end > len(it.b) {
		it.err = fmt.Errorf("TLV %s declares %d bytes, %d left: %w", head.TLVType, head.LengthField, len(it.b)-it.pos-tlvHeadSize, ErrTruncatedPayload)
		return false
	}
	tlv, err := decodeTLV(head, it.b[it.pos:end])
	if err != nil {
		it.err = err
		return false
	}
	it.tlv = tlv
	it.pos = end
	return true
}

// TLV returns the current TLV
func (it *TLVIterator) TLV() TLV {
	return it.tlv
}

// Err returns the error which stopped iteration, if any
func (it *TLVIterator) Err() error {
	return it.err
}

// Reset rewinds the iterator to the first TLV
func (it *TLVIterator) Reset() {
	it.pos = 0
	it.tlv = nil
	it.err = nil
}

func decodeTLV(head TLVHead, b []byte) (TLV, error) {
	var tlv interface {
		TLV
		UnmarshalBinary([]byte) error
	}
	switch head.TLVType {
	case TLVPathTrace:
		tlv = &PathTraceTLV{}
	case TLVOrganizationExtension:
		if len(b) >= tlvHeadSize+6 && [3]byte(b[tlvHeadSize:tlvHeadSize+3]) == ieee8021OrganizationID {
			switch orgSubType(b[tlvHeadSize+3:]) {
			case orgSubTypeFollowUp:
				tlv = &FollowUpTLV{}
			case orgSubTypeIntervalRequest:
				tlv = &MessageIntervalRequestTLV{}
			}
		}
	}
	if tlv == nil {
		tlv = &UnknownTLV{}
	}
	if err := tlv.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return tlv, nil
}

func orgSubType(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putOrgSubType(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// UnknownTLV is any TLV we don't understand, kept verbatim so relayed messages stay intact
type UnknownTLV struct {
	TLVHead
	Value []byte
}

// Len returns full size of TLV on the wire
func (t *UnknownTLV) Len() int {
	return tlvHeadSize + len(t.Value)
}

// MarshalBinaryTo marshals bytes to UnknownTLV
func (t *UnknownTLV) MarshalBinaryTo(b []byte) (int, error) {
	t.LengthField = uint16(len(t.Value))
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	copy(b[tlvHeadSize:], t.Value)
	return t.Len(), nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *UnknownTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), 0, false); err != nil {
		return err
	}
	t.Value = make([]byte, t.LengthField)
	copy(t.Value, b[tlvHeadSize:])
	return nil
}

// followUpTLVLength is lengthField of FollowUpTLV, 11.4.4.3
const followUpTLVLength = 28

// FollowUpTLV 802.1AS Table 11-11 Follow_Up information TLV
type FollowUpTLV struct {
	TLVHead
	CumulativeScaledRateOffset int32
	GmTimeBaseIndicator        uint16
	LastGmPhaseChange          ScaledNs
	ScaledLastGmFreqChange     int32
}

// NewFollowUpTLV returns FollowUpTLV with header fields set
func NewFollowUpTLV() *FollowUpTLV {
	return &FollowUpTLV{
		TLVHead: TLVHead{TLVType: TLVOrganizationExtension, LengthField: followUpTLVLength},
	}
}

// RateRatio returns the grandmaster rate ratio carried by the TLV
func (t *FollowUpTLV) RateRatio() float64 {
	return RateRatioFromScaledOffset(t.CumulativeScaledRateOffset)
}

// Len returns full size of TLV on the wire
func (t *FollowUpTLV) Len() int {
	return tlvHeadSize + followUpTLVLength
}

// MarshalBinaryTo marshals bytes to FollowUpTLV
func (t *FollowUpTLV) MarshalBinaryTo(b []byte) (int, error) {
	t.TLVType = TLVOrganizationExtension
	t.LengthField = followUpTLVLength
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	n := tlvHeadSize
	copy(b[n:], ieee8021OrganizationID[:])
	putOrgSubType(b[n+3:], orgSubTypeFollowUp)
	binary.BigEndian.PutUint32(b[n+6:], uint32(t.CumulativeScaledRateOffset))
	binary.BigEndian.PutUint16(b[n+10:], t.GmTimeBaseIndicator)
	binary.BigEndian.PutUint32(b[n+12:], t.LastGmPhaseChange.High)
	binary.BigEndian.PutUint64(b[n+16:], t.LastGmPhaseChange.Low)
	binary.BigEndian.PutUint32(b[n+24:], uint32(t.ScaledLastGmFreqChange))
	return t.Len(), nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *FollowUpTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), followUpTLVLength, true); err != nil {
		return err
	}
	n := tlvHeadSize
	t.CumulativeScaledRateOffset = int32(binary.BigEndian.Uint32(b[n+6:]))
	t.GmTimeBaseIndicator = binary.BigEndian.Uint16(b[n+10:])
	t.LastGmPhaseChange.High = binary.BigEndian.Uint32(b[n+12:])
	t.LastGmPhaseChange.Low = binary.BigEndian.Uint64(b[n+16:])
	t.ScaledLastGmFreqChange = int32(binary.BigEndian.Uint32(b[n+24:]))
	return nil
}

const intervalRequestTLVLength = 12

// Flags of MessageIntervalRequestTLV
const (
	IntervalFlagComputeNeighborRateRatio uint8 = 1 << 0
	IntervalFlagComputeMeanLinkDelay     uint8 = 1 << 1
	IntervalFlagOneStepReceiveCapable    uint8 = 1 << 2
)

// Special values of requested intervals, 10.6.4.3.6
const (
	IntervalNoChange LogInterval = -128
	IntervalInitial  LogInterval = 126
	IntervalStop     LogInterval = 127
)

// MessageIntervalRequestTLV 802.1AS Table 10-20 message interval request TLV
type MessageIntervalRequestTLV struct {
	TLVHead
	LinkDelayInterval LogInterval
	TimeSyncInterval  LogInterval
	AnnounceInterval  LogInterval
	Flags             uint8
	Reserved          uint16
}

// NewMessageIntervalRequestTLV returns MessageIntervalRequestTLV with header fields set
func NewMessageIntervalRequestTLV() *MessageIntervalRequestTLV {
	return &MessageIntervalRequestTLV{
		TLVHead:           TLVHead{TLVType: TLVOrganizationExtension, LengthField: intervalRequestTLVLength},
		LinkDelayInterval: IntervalNoChange,
		TimeSyncInterval:  IntervalNoChange,
		AnnounceInterval:  IntervalNoChange,
	}
}

// Len returns full size of TLV on the wire
func (t *MessageIntervalRequestTLV) Len() int {
	return tlvHeadSize + intervalRequestTLVLength
}

// MarshalBinaryTo marshals bytes to MessageIntervalRequestTLV
func (t *MessageIntervalRequestTLV) MarshalBinaryTo(b []byte) (int, error) {
	t.TLVType = TLVOrganizationExtension
	t.LengthField = intervalRequestTLVLength
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	n := tlvHeadSize
	copy(b[n:], ieee8021OrganizationID[:])
	putOrgSubType(b[n+3:], orgSubTypeIntervalRequest)
	b[n+6] = byte(t.LinkDelayInterval)
	b[n+7] = byte(t.TimeSyncInterval)
	b[n+8] = byte(t.AnnounceInterval)
	b[n+9] = t.Flags
	binary.BigEndian.PutUint16(b[n+10:], t.Reserved)
	return t.Len(), nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *MessageIntervalRequestTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), intervalRequestTLVLength, true); err != nil {
		return err
	}
	n := tlvHeadSize
	t.LinkDelayInterval = LogInterval(b[n+6])
	t.TimeSyncInterval = LogInterval(b[n+7])
	t.AnnounceInterval = LogInterval(b[n+8])
	t.Flags = b[n+9]
	t.Reserved = binary.BigEndian.Uint16(b[n+10:])
	return nil
}

// PathTraceTLV Table 115 PATH_TRACE TLV format
type PathTraceTLV struct {
	TLVHead
	// The value of the lengthField is 8N.
	PathSequence []ClockIdentity // N
}

// NewPathTraceTLV returns PathTraceTLV holding a copy of path
func NewPathTraceTLV(path []ClockIdentity) *PathTraceTLV {
	t := &PathTraceTLV{
		TLVHead:      TLVHead{TLVType: TLVPathTrace},
		PathSequence: append([]ClockIdentity{}, path...),
	}
	t.LengthField = uint16(8 * len(path))
	return t
}

// Contains reports whether id is already in the path
func (t *PathTraceTLV) Contains(id ClockIdentity) bool {
	for _, ps := range t.PathSequence {
		if ps == id {
			return true
		}
	}
	return false
}

// Len returns full size of TLV on the wire
func (t *PathTraceTLV) Len() int {
	return tlvHeadSize + 8*len(t.PathSequence)
}

// MarshalBinaryTo marshals bytes to PathTraceTLV
func (t *PathTraceTLV) MarshalBinaryTo(b []byte) (int, error) {
	t.TLVType = TLVPathTrace
	t.LengthField = uint16(8 * len(t.PathSequence))
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	pos := tlvHeadSize
	for _, ps := range t.PathSequence {
		binary.BigEndian.PutUint64(b[pos:pos+8], uint64(ps))
		pos += 8
	}
	return pos, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *PathTraceTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), 0, false); err != nil {
		return err
	}
	if t.LengthField%8 != 0 {
		return fmt.Errorf("PATH_TRACE length %d is not a multiple of 8", t.LengthField)
	}
	n := int(t.LengthField) / 8
	t.PathSequence = make([]ClockIdentity, 0, n)
	for i := 0; i < n; i++ {
		pos := tlvHeadSize + i*8
		t.PathSequence = append(t.PathSequence, ClockIdentity(binary.BigEndian.Uint64(b[pos:])))
	}
	return nil
}
