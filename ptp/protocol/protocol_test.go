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
	"testing"

	"github.com/stretchr/testify/require"
)

var testSource = PortIdentity{
	ClockIdentity: 0x0c42a1fffe6d7ca6,
	PortNumber:    1,
}

func testPackets() []Packet {
	announce := &Announce{
		Header: NewHeader(MessageAnnounce, 0, testSource),
		AnnounceBody: AnnounceBody{
			CurrentUTCOffset:     37,
			GrandmasterPriority1: 246,
			GrandmasterClockQuality: ClockQuality{
				ClockClass:              ClockClassDefault,
				ClockAccuracy:           ClockAccuracyNanosecond250,
				OffsetScaledLogVariance: 0x436A,
			},
			GrandmasterPriority2: 248,
			GrandmasterIdentity:  testSource.ClockIdentity,
			StepsRemoved:         1,
			TimeSource:           TimeSourceInternalOscillator,
		},
		TLVs: []TLV{NewPathTraceTLV([]ClockIdentity{testSource.ClockIdentity, 0x1122334455667788})},
	}
	announce.SequenceID = 17

	sync := &Sync{Header: NewHeader(MessageSync, 0, testSource)}
	sync.SequenceID = 42
	sync.LogMessageInterval = -3
	sync.AddCorrection(1234.5)

	info := NewFollowUpTLV()
	info.CumulativeScaledRateOffset = -2199023
	info.GmTimeBaseIndicator = 3
	info.LastGmPhaseChange = NewScaledNs(-42)
	info.ScaledLastGmFreqChange = 100
	followUp := &FollowUp{
		Header: NewHeader(MessageFollowUp, 0, testSource),
		FollowUpBody: FollowUpBody{
			PreciseOriginTimestamp: TimestampFromNanoseconds(1674148530671467104),
		},
		TLVs: []TLV{info},
	}
	followUp.SequenceID = 42

	req := &PDelayReq{Header: NewHeader(MessagePDelayReq, 0, testSource)}
	req.SequenceID = 7

	resp := &PDelayResp{
		Header: NewHeader(MessagePDelayResp, 0, testSource),
		PDelayRespBody: PDelayRespBody{
			RequestReceiptTimestamp: TimestampFromNanoseconds(150),
			RequestingPortIdentity:  PortIdentity{ClockIdentity: 0xaabbccddeeff0011, PortNumber: 2},
		},
	}
	resp.SequenceID = 7

	respFollowUp := &PDelayRespFollowUp{
		Header: NewHeader(MessagePDelayRespFollowUp, 0, testSource),
		PDelayRespFollowUpBody: PDelayRespFollowUpBody{
			ResponseOriginTimestamp: TimestampFromNanoseconds(151),
			RequestingPortIdentity:  PortIdentity{ClockIdentity: 0xaabbccddeeff0011, PortNumber: 2},
		},
	}
	respFollowUp.SequenceID = 7

	interval := NewMessageIntervalRequestTLV()
	interval.TimeSyncInterval = -2
	interval.Flags = IntervalFlagComputeNeighborRateRatio | IntervalFlagComputeMeanLinkDelay
	signaling := &Signaling{
		Header:             NewHeader(MessageSignaling, 0, testSource),
		TargetPortIdentity: PortIdentity{ClockIdentity: 0xffffffffffffffff, PortNumber: 0xffff},
		TLVs:               []TLV{interval},
	}

	return []Packet{announce, sync, followUp, req, resp, respFollowUp, signaling}
}

func TestRoundTrip(t *testing.T) {
	for _, p := range testPackets() {
		t.Run(p.MessageType().String(), func(t *testing.T) {
			b, err := Bytes(p)
			require.NoError(t, err)
			require.Equal(t, int(p.PTPHeader().MessageLength), len(b))
			got, err := DecodePacket(b)
			require.NoError(t, err)
			require.Equal(t, p, got)
			// serialisation is deterministic
			b2, err := Bytes(got)
			require.NoError(t, err)
			require.Equal(t, b, b2)
		})
	}
}

func TestMessageLengths(t *testing.T) {
	want := map[MessageType]int{
		MessageAnnounce:           64 + 4 + 16,
		MessageSync:               44,
		MessageFollowUp:           76,
		MessagePDelayReq:          54,
		MessagePDelayResp:         54,
		MessagePDelayRespFollowUp: 54,
		MessageSignaling:          44 + 16,
	}
	for _, p := range testPackets() {
		b, err := Bytes(p)
		require.NoError(t, err)
		require.Equal(t, want[p.MessageType()], len(b), p.MessageType().String())
	}
}

func TestParseSync(t *testing.T) {
	raw := []uint8{
		0x10, 0x02, 0x00, 0x2c, 0x00, 0x00, 0x02, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x0c, 0x42, 0xa1, 0xff,
		0xfe, 0x6d, 0x7c, 0xa6, 0x00, 0x01, 0x00, 0x74,
		0x00, 0xfd, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		// ethernet padding up to 60 bytes
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	packet, err := DecodePacket(raw)
	require.NoError(t, err)
	want := &Sync{
		Header: Header{
			SdoIDAndMsgType:    NewSdoIDAndMsgType(MessageSync, MajorSdoIDGPTP),
			Version:            Version,
			MessageLength:      44,
			FlagField:          FlagTwoStep,
			SourcePortIdentity: testSource,
			SequenceID:         116,
			LogMessageInterval: -3,
		},
	}
	require.Equal(t, want, packet)
	require.True(t, packet.PTPHeader().HasFlag(FlagTwoStep))
}

func TestDecodePacketErrors(t *testing.T) {
	sync, err := Bytes(testPackets()[1])
	require.NoError(t, err)

	t.Run("short header", func(t *testing.T) {
		_, err := DecodePacket(sync[:20])
		require.ErrorIs(t, err, ErrMalformedHeader)
	})
	t.Run("wrong version", func(t *testing.T) {
		b := append([]byte{}, sync...)
		b[1] = 1
		_, err := DecodePacket(b)
		require.ErrorIs(t, err, ErrMalformedHeader)
	})
	t.Run("delay request is not gPTP", func(t *testing.T) {
		b := append([]byte{}, sync...)
		b[0] = byte(NewSdoIDAndMsgType(MessageDelayReq, MajorSdoIDGPTP))
		_, err := DecodePacket(b)
		require.ErrorIs(t, err, ErrUnknownMessageType)
	})
	t.Run("reserved type", func(t *testing.T) {
		b := append([]byte{}, sync...)
		b[0] = 0x15
		_, err := DecodePacket(b)
		require.ErrorIs(t, err, ErrUnknownMessageType)
	})
	t.Run("body cut off", func(t *testing.T) {
		_, err := DecodePacket(sync[:40])
		require.ErrorIs(t, err, ErrTruncatedPayload)
	})
	t.Run("messageLength shorter than body", func(t *testing.T) {
		b := append([]byte{}, sync...)
		b[3] = 36
		_, err := DecodePacket(b)
		require.ErrorIs(t, err, ErrTruncatedPayload)
	})
}

func TestBytesTo(t *testing.T) {
	packet := testPackets()[2]
	b, err := Bytes(packet)
	require.NoError(t, err)
	t.Run("buffer too small", func(t *testing.T) {
		buf := make([]byte, 10)
		_, err := BytesTo(packet, buf)
		require.Error(t, err)
	})
	t.Run("just enough buffer", func(t *testing.T) {
		buf := make([]byte, len(b))
		l, err := BytesTo(packet, buf)
		require.NoError(t, err)
		require.Equal(t, len(b), l)
		require.Equal(t, b, buf)
	})
	t.Run("very big buffer", func(t *testing.T) {
		buf := make([]byte, len(b)+1000)
		l, err := BytesTo(packet, buf)
		require.NoError(t, err)
		require.Equal(t, len(b), l)
		require.Equal(t, b, buf[:l])
	})
}

func TestAddCorrectionAccumulates(t *testing.T) {
	h := NewHeader(MessageFollowUp, 0, testSource)
	h.AddCorrection(100)
	h.AddCorrection(25.5)
	require.InDelta(t, 125.5, h.CorrectionField.Nanoseconds(), 0.0001)
}

func TestSignalingRequiresTLV(t *testing.T) {
	s := &Signaling{Header: NewHeader(MessageSignaling, 0, testSource)}
	_, err := Bytes(s)
	require.Error(t, err)
}
