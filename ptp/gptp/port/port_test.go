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

package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/facebook/gptp/ptp/bmc"
	"github.com/facebook/gptp/ptp/gptp/netif"
	"github.com/facebook/gptp/ptp/gptp/peer"
	"github.com/facebook/gptp/ptp/gptp/stats"
	"github.com/facebook/gptp/ptp/gptp/timer"
	ptp "github.com/facebook/gptp/ptp/protocol"
)

const (
	localClock  ptp.ClockIdentity = 0x001122fffe334455
	remoteClock ptp.ClockIdentity = 0x00aabbfffeccddee
)

var (
	remotePort = ptp.PortIdentity{ClockIdentity: remoteClock, PortNumber: 1}
	remoteMAC  = net.HardwareAddr{0x00, 0xaa, 0xbb, 0xcc, 0xdd, 0xee}
	epoch      = time.Unix(1700000000, 0)
)

func testConfig() Config {
	return Config{
		Number:                  1,
		Iface:                   "eth0",
		AnnounceInterval:        0,
		SyncInterval:            -3,
		PDelayInterval:          0,
		AnnounceReceiptTimeout:  3,
		SyncReceiptTimeout:      3,
		SyncReceiptThresh:       3,
		LostPdelayRespThresh:    3,
		NeighborPropDelayThresh: 800 * time.Nanosecond,
		SyncHysteresis:          2,
		FaultRecovery:           time.Second,
	}
}

type testPort struct {
	*Port
	conn   *netif.MockConn
	ts     *netif.MockTimestamper
	engine *MockEngine
	stats  *stats.Stats
	peers  *peer.List

	mu     sync.Mutex
	sent   []ptp.Packet
	txTime time.Time
}

func newTestPort(t *testing.T) *testPort {
	ctrl := gomock.NewController(t)
	tp := &testPort{
		conn:   netif.NewMockConn(ctrl),
		ts:     netif.NewMockTimestamper(ctrl),
		engine: NewMockEngine(ctrl),
		stats:  stats.NewStats(),
		peers:  peer.NewList(),
		txTime: epoch,
	}
	tp.Port = New(testConfig(), localClock, tp.conn, tp.ts, tp.engine, tp.stats, tp.peers)
	t.Cleanup(tp.timers.CancelAll)

	tp.engine.EXPECT().PortStatus(gomock.Any()).AnyTimes()
	tp.ts.EXPECT().RxTimestamp(gomock.Any()).DoAndReturn(func(f *netif.Frame) (time.Time, error) {
		if f.RxTime.IsZero() {
			return time.Time{}, netif.ErrTimestampUnavailable
		}
		return f.RxTime, nil
	}).AnyTimes()
	tp.ts.EXPECT().TxTimestamp(gomock.Any()).DoAndReturn(func(h netif.TxHandle) (time.Time, error) {
		if h.TxTime.IsZero() {
			return time.Time{}, netif.ErrTimestampUnavailable
		}
		return h.TxTime, nil
	}).AnyTimes()
	return tp
}

// recordSends makes every Send succeed, event messages get txTime as egress timestamp
func (tp *testPort) recordSends(t *testing.T) {
	tp.conn.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(b []byte, event bool) (netif.TxHandle, error) {
		pkt, err := ptp.DecodePacket(b)
		require.NoError(t, err)
		require.Equal(t, pkt.MessageType().Event(), event)
		tp.mu.Lock()
		defer tp.mu.Unlock()
		tp.sent = append(tp.sent, pkt)
		h := netif.TxHandle{Seq: uint64(len(tp.sent))}
		if event {
			h.TxTime = tp.txTime
		}
		return h, nil
	}).AnyTimes()
}

func (tp *testPort) sentPackets() []ptp.Packet {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return append([]ptp.Packet(nil), tp.sent...)
}

func (tp *testPort) counter(name string) int64 {
	return tp.stats.GetCounters()[stats.PortKey(tp.cfg.Number, name)]
}

func frame(t *testing.T, p ptp.Packet, rx time.Time) *netif.Frame {
	b, err := ptp.Bytes(p)
	require.NoError(t, err)
	return &netif.Frame{Src: remoteMAC, Payload: b, RxTime: rx}
}

func remoteAnnounce(gm ptp.ClockIdentity, p1 uint8, stepsRemoved uint16, path []ptp.ClockIdentity) *ptp.Announce {
	a := &ptp.Announce{
		Header: ptp.NewHeader(ptp.MessageAnnounce, 0, remotePort),
		AnnounceBody: ptp.AnnounceBody{
			GrandmasterPriority1: p1,
			GrandmasterClockQuality: ptp.ClockQuality{
				ClockClass:              ptp.ClockClassDefault,
				ClockAccuracy:           ptp.ClockAccuracyNanosecond250,
				OffsetScaledLogVariance: 0x436A,
			},
			GrandmasterPriority2: 248,
			GrandmasterIdentity:  gm,
			StepsRemoved:         stepsRemoved,
			TimeSource:           ptp.TimeSourceInternalOscillator,
		},
		TLVs: []ptp.TLV{ptp.NewPathTraceTLV(path)},
	}
	return a
}

func syncPair(seq uint16, origin ptp.Timestamp, fuCorrection float64, rateRatio float64) (*ptp.Sync, *ptp.FollowUp) {
	s := &ptp.Sync{Header: ptp.NewHeader(ptp.MessageSync, 0, remotePort)}
	s.SequenceID = seq
	s.LogMessageInterval = -3
	tlv := ptp.NewFollowUpTLV()
	tlv.CumulativeScaledRateOffset = ptp.ScaledOffsetFromRateRatio(rateRatio)
	fu := &ptp.FollowUp{
		Header:       ptp.NewHeader(ptp.MessageFollowUp, 0, remotePort),
		FollowUpBody: ptp.FollowUpBody{PreciseOriginTimestamp: origin},
		TLVs:         []ptp.TLV{tlv},
	}
	fu.SequenceID = seq
	fu.AddCorrection(fuCorrection)
	return s, fu
}

func TestPathDelay(t *testing.T) {
	t1 := time.Unix(0, 100)
	t4 := time.Unix(0, 103)
	t2 := ptp.TimestampFromNanoseconds(150)
	t3 := ptp.TimestampFromNanoseconds(151)
	require.InDelta(t, 1.0, PathDelay(t1, t4, t2, t3, 1.0), 1e-9)
	// neighbor running fast stretches its turnaround time
	require.InDelta(t, 1.0, PathDelay(t1, t4, t2, ptp.TimestampFromNanoseconds(152), 2.0), 1e-9)
	// zero ratio is treated as 1
	require.InDelta(t, 1.0, PathDelay(t1, t4, t2, t3, 0), 1e-9)
}

func TestNeighborRateRatio(t *testing.T) {
	prevT3 := ptp.TimestampFromNanoseconds(1000000000)
	prevT4 := epoch
	// neighbor is 100ppm fast
	nrr, ok := NeighborRateRatio(prevT3, ptp.TimestampFromNanoseconds(2000100000), prevT4, epoch.Add(time.Second))
	require.True(t, ok)
	require.InDelta(t, 1.0001, nrr, 1e-9)

	// 300ppm is too much
	nrr, ok = NeighborRateRatio(prevT3, ptp.TimestampFromNanoseconds(2000300000), prevT4, epoch.Add(time.Second))
	require.False(t, ok)
	require.InDelta(t, 1.0003, nrr, 1e-9)

	_, ok = NeighborRateRatio(prevT3, prevT3, prevT4, prevT4)
	require.False(t, ok)
}

// pdelayExchange runs one full initiator exchange with given T2, T3 and T4 offsets from T1
func (tp *testPort) pdelayExchange(t *testing.T, t1 time.Time, t2, t3, t4 time.Duration) {
	tp.txTime = t1
	tp.sendPDelayReq()
	seq := tp.pdelay.seq

	resp := &ptp.PDelayResp{
		Header: ptp.NewHeader(ptp.MessagePDelayResp, 0, remotePort),
		PDelayRespBody: ptp.PDelayRespBody{
			RequestReceiptTimestamp: ptp.NewTimestamp(t1.Add(t2)),
			RequestingPortIdentity:  tp.identity,
		},
	}
	resp.SequenceID = seq
	tp.handleFrame(frame(t, resp, t1.Add(t4)))

	fu := &ptp.PDelayRespFollowUp{
		Header: ptp.NewHeader(ptp.MessagePDelayRespFollowUp, 0, remotePort),
		PDelayRespFollowUpBody: ptp.PDelayRespFollowUpBody{
			ResponseOriginTimestamp: ptp.NewTimestamp(t1.Add(t3)),
			RequestingPortIdentity:  tp.identity,
		},
	}
	fu.SequenceID = seq
	tp.handleFrame(frame(t, fu, time.Time{}))
}

func TestPDelayInitiator(t *testing.T) {
	tp := newTestPort(t)
	tp.recordSends(t)
	tp.state = ptp.PortStateListening

	// T1=0, T2=50, T3=51, T4=3
	tp.pdelayExchange(t, epoch, 50*time.Nanosecond, 51*time.Nanosecond, 3*time.Nanosecond)
	require.Equal(t, time.Nanosecond, tp.linkDelay)
	require.True(t, tp.asCapable)
	require.False(t, tp.pdelay.outstanding)
	require.Equal(t, uint64(1), tp.pdelayCount)
	require.Equal(t, int64(1), tp.counter(stats.TxPdelayRequest))
	require.Equal(t, int64(1), tp.counter(stats.RxPdelayResponse))
	require.Equal(t, int64(1), tp.counter(stats.RxPdelayResponseFollowUp))

	sent := tp.sentPackets()
	require.Len(t, sent, 1)
	req, ok := sent[0].(*ptp.PDelayReq)
	require.True(t, ok)
	require.Equal(t, tp.identity, req.SourcePortIdentity)

	st, found := tp.peers.Find(peer.MACAddr(remoteMAC))
	require.True(t, found)
	require.Equal(t, remotePort, st.PortIdentity)
	require.True(t, st.AsCapable)
	require.Equal(t, time.Nanosecond, st.LinkDelay)

	// second exchange one second later, neighbor 100ppm fast
	t1 := epoch.Add(time.Second)
	tp.pdelayExchange(t, t1, 50*time.Nanosecond+100*time.Microsecond, 51*time.Nanosecond+100*time.Microsecond, 3*time.Nanosecond)
	require.InDelta(t, 1.0001, tp.nrr, 1e-9)
	require.Equal(t, uint64(2), tp.pdelayCount)
}

func TestPDelayAboveThreshold(t *testing.T) {
	tp := newTestPort(t)
	tp.recordSends(t)
	tp.state = ptp.PortStateListening

	tp.pdelayExchange(t, epoch, 0, 0, 2*time.Microsecond)
	require.Equal(t, time.Microsecond, tp.linkDelay)
	require.False(t, tp.asCapable)
}

func TestPDelayLostResponses(t *testing.T) {
	tp := newTestPort(t)
	tp.recordSends(t)
	tp.state = ptp.PortStateListening
	tp.pdelayExchange(t, epoch, 0, 0, 2*time.Nanosecond)
	require.True(t, tp.asCapable)

	// qualified announce makes losing asCapable visible to BMCA
	gomock.InOrder(
		tp.engine.EXPECT().UpdateBest(uint16(1), gomock.Not(gomock.Nil()), gomock.Any()),
		tp.engine.EXPECT().UpdateBest(uint16(1), gomock.Nil(), gomock.Any()),
	)
	tp.handleFrame(frame(t, remoteAnnounce(remoteClock, 100, 0, []ptp.ClockIdentity{remoteClock}), time.Time{}))

	for i := 0; i < 3; i++ {
		tp.sendPDelayReq()
		require.True(t, tp.asCapable)
	}
	tp.sendPDelayReq()
	require.False(t, tp.asCapable)
	require.Nil(t, tp.erBest)
	require.Equal(t, int64(3), tp.counter(stats.PdelayResponseLost))
	require.Equal(t, int64(1), tp.counter(stats.PdelayAllowedLostResponsesExceeded))
}

func TestPDelayMismatchedResponse(t *testing.T) {
	tp := newTestPort(t)
	tp.recordSends(t)
	tp.state = ptp.PortStateListening
	tp.sendPDelayReq()

	resp := &ptp.PDelayResp{
		Header: ptp.NewHeader(ptp.MessagePDelayResp, 0, remotePort),
		PDelayRespBody: ptp.PDelayRespBody{
			RequestingPortIdentity: tp.identity,
		},
	}
	resp.SequenceID = tp.pdelay.seq + 5
	tp.handleFrame(frame(t, resp, epoch))
	require.False(t, tp.pdelay.gotResp)
	require.Equal(t, int64(1), tp.counter(stats.RxPTPPacketDiscard))
}

func TestPDelayMultipleResponders(t *testing.T) {
	tp := newTestPort(t)
	tp.recordSends(t)
	tp.state = ptp.PortStateListening
	tp.asCapable = true
	tp.sendPDelayReq()

	for _, src := range []ptp.PortIdentity{remotePort, {ClockIdentity: 0x42, PortNumber: 1}} {
		resp := &ptp.PDelayResp{
			Header: ptp.NewHeader(ptp.MessagePDelayResp, 0, src),
			PDelayRespBody: ptp.PDelayRespBody{
				RequestingPortIdentity: tp.identity,
			},
		}
		resp.SequenceID = tp.pdelay.seq
		tp.handleFrame(frame(t, resp, epoch))
	}
	require.True(t, tp.pdelay.multiple)
	require.False(t, tp.asCapable)
}

func TestPDelayTimestampUnavailable(t *testing.T) {
	tp := newTestPort(t)
	tp.recordSends(t)
	tp.state = ptp.PortStateListening
	tp.txTime = time.Time{}
	tp.sendPDelayReq()
	require.False(t, tp.pdelay.outstanding)
	require.Equal(t, int64(0), tp.counter(stats.TxPdelayRequest))
	require.Equal(t, int64(1), tp.counter(stats.TxTimestampMissing))

	// nothing outstanding, so nothing is lost
	tp.sendPDelayReq()
	require.Equal(t, int64(0), tp.counter(stats.PdelayResponseLost))
}

func TestPDelayResponder(t *testing.T) {
	tp := newTestPort(t)
	tp.recordSends(t)
	tp.state = ptp.PortStateMaster
	t2 := epoch.Add(time.Millisecond)
	tp.txTime = epoch.Add(2 * time.Millisecond)

	req := &ptp.PDelayReq{Header: ptp.NewHeader(ptp.MessagePDelayReq, 0, remotePort)}
	req.SequenceID = 77
	tp.handleFrame(frame(t, req, t2))

	sent := tp.sentPackets()
	require.Len(t, sent, 2)
	resp, ok := sent[0].(*ptp.PDelayResp)
	require.True(t, ok)
	require.Equal(t, uint16(77), resp.SequenceID)
	require.Equal(t, remotePort, resp.RequestingPortIdentity)
	require.Equal(t, ptp.NewTimestamp(t2), resp.RequestReceiptTimestamp)
	fu, ok := sent[1].(*ptp.PDelayRespFollowUp)
	require.True(t, ok)
	require.Equal(t, uint16(77), fu.SequenceID)
	require.Equal(t, ptp.NewTimestamp(tp.txTime), fu.ResponseOriginTimestamp)
	require.Equal(t, int64(1), tp.counter(stats.TxPdelayResponse))
	require.Equal(t, int64(1), tp.counter(stats.TxPdelayResponseFollowUp))
}

func TestPDelayReqWithoutRxTimestamp(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	req := &ptp.PDelayReq{Header: ptp.NewHeader(ptp.MessagePDelayReq, 0, remotePort)}
	// no Send expected
	tp.handleFrame(frame(t, req, time.Time{}))
	require.Equal(t, int64(1), tp.counter(stats.RxTimestampMissing))
}

func TestAnnounceQualification(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening

	path := []ptp.ClockIdentity{0x99, remoteClock}
	// not asCapable yet
	tp.handleFrame(frame(t, remoteAnnounce(0x99, 100, 1, path), time.Time{}))
	require.Nil(t, tp.erBest)

	tp.asCapable = true
	var got *bmc.PriorityVector
	var gotPath []ptp.ClockIdentity
	tp.engine.EXPECT().UpdateBest(uint16(1), gomock.Any(), gomock.Any()).Do(func(_ uint16, best *bmc.PriorityVector, p []ptp.ClockIdentity) {
		got = best
		gotPath = p
	}).Times(1)
	tp.handleFrame(frame(t, remoteAnnounce(0x99, 100, 1, path), time.Time{}))
	// same announce again does not rerun BMCA
	tp.handleFrame(frame(t, remoteAnnounce(0x99, 100, 1, path), time.Time{}))
	require.NotNil(t, got)
	require.Equal(t, ptp.ClockIdentity(0x99), got.GrandmasterIdentity)
	require.Equal(t, uint16(1), got.StepsRemoved)
	require.Equal(t, remotePort, got.SenderPortIdentity)
	require.Equal(t, uint16(1), got.ReceiverPortNumber)
	require.Equal(t, path, gotPath)
	require.True(t, tp.timers.Pending(timerAnnounceReceipt))

	// loop through us
	tp.handleFrame(frame(t, remoteAnnounce(0x98, 1, 1, []ptp.ClockIdentity{localClock}), time.Time{}))
	// too many steps
	tp.handleFrame(frame(t, remoteAnnounce(0x98, 1, 255, nil), time.Time{}))
	require.Equal(t, ptp.ClockIdentity(0x99), tp.erBest.GrandmasterIdentity)
	require.Equal(t, int64(5), tp.counter(stats.RxAnnounce))
	require.Equal(t, int64(3), tp.counter(stats.RxPTPPacketDiscard))
}

func TestOwnMessagesIgnored(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	tp.asCapable = true
	a := remoteAnnounce(localClock, 1, 0, nil)
	a.SourcePortIdentity = ptp.PortIdentity{ClockIdentity: localClock, PortNumber: 2}
	tp.handleFrame(frame(t, a, time.Time{}))
	require.Nil(t, tp.erBest)

	// other domain
	a = remoteAnnounce(0x99, 1, 0, nil)
	a.DomainNumber = 3
	tp.handleFrame(frame(t, a, time.Time{}))
	require.Nil(t, tp.erBest)

	tp.handleFrame(&netif.Frame{Src: remoteMAC, Payload: []byte{1, 2, 3}})
	require.Equal(t, int64(3), tp.counter(stats.RxPTPPacketDiscard))
}

func TestAnnounceReceiptTimeout(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	tp.engine.EXPECT().UpdateBest(uint16(1), gomock.Nil(), gomock.Any()).Times(1)
	tp.announceReceiptTimeout()
	// nothing changed, BMCA is not rerun
	tp.announceReceiptTimeout()
	require.Equal(t, int64(2), tp.counter(stats.AnnounceReceiptTimeouts))
	require.True(t, tp.timers.Pending(timerAnnounceReceipt))
}

func TestStaleTimerIgnored(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	gen := tp.timers.ScheduleOnce(time.Hour, timerAnnounceReceipt)
	tp.timers.Cancel(timerAnnounceReceipt)
	// UpdateBest would fail the test
	tp.handleTimer(timer.Expiry{ID: timerAnnounceReceipt, Gen: gen})
	require.Equal(t, int64(0), tp.counter(stats.AnnounceReceiptTimeouts))

	old := tp.timers.ScheduleOnce(time.Hour, timerSyncReceipt)
	tp.timers.ScheduleOnce(time.Hour, timerSyncReceipt)
	tp.handleTimer(timer.Expiry{ID: timerSyncReceipt, Gen: old})
	require.Equal(t, int64(0), tp.counter(stats.SyncReceiptTimeouts))
}

func masterVector() *bmc.PriorityVector {
	v := bmc.FromAnnounce(remoteAnnounce(0x99, 100, 1, nil), 1)
	return &v
}

func TestSlaveSync(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	tp.asCapable = true
	tp.linkDelay = time.Microsecond

	tp.applyDecision(bmc.Decision{State: ptp.PortStateSlave, Master: masterVector()})
	require.Equal(t, ptp.PortStateUncalibrated, tp.state)
	require.True(t, tp.timers.Pending(timerSyncReceipt))

	var samples []SyncSample
	tp.engine.EXPECT().SyncReceived(gomock.Any()).Do(func(s SyncSample) {
		samples = append(samples, s)
	}).Times(2)

	origin := ptp.NewTimestamp(epoch)
	for i := 0; i < 2; i++ {
		s, fu := syncPair(uint16(10+i), origin, 500, 1.0)
		tp.handleFrame(frame(t, s, epoch.Add(10*time.Microsecond)))
		tp.handleFrame(frame(t, fu, time.Time{}))
		if i == 0 {
			require.Equal(t, ptp.PortStateUncalibrated, tp.state)
		}
	}
	require.Equal(t, ptp.PortStateSlave, tp.state)
	require.Len(t, samples, 2)
	// 10us - 500ns correction - 1us link delay
	require.InDelta(t, 8500.0, samples[0].Offset, 0.001)
	require.Equal(t, remotePort, samples[0].Master)
	require.Equal(t, uint16(1), samples[0].Port)
	require.Equal(t, time.Microsecond, samples[0].LinkDelay)
	require.Equal(t, ptp.LogInterval(-3), samples[0].SyncInterval)
	require.Equal(t, origin, samples[0].Info.PreciseOrigin)
	require.InDelta(t, 1500.0, samples[0].Info.Correction, 0.001)
	require.InDelta(t, 1.0, samples[0].Info.RateRatio, 1e-9)
	require.Equal(t, epoch.Add(10*time.Microsecond), samples[0].Info.RxTime)
	require.Equal(t, uint64(2), tp.syncCount)
}

func TestSlaveSyncHysteresisNeedsConsecutive(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	tp.asCapable = true
	tp.applyDecision(bmc.Decision{State: ptp.PortStateSlave, Master: masterVector()})
	tp.engine.EXPECT().SyncReceived(gomock.Any()).Times(3)

	origin := ptp.NewTimestamp(epoch)
	rx := epoch.Add(10 * time.Microsecond)

	s, fu := syncPair(1, origin, 0, 1.0)
	tp.handleFrame(frame(t, s, rx))
	tp.handleFrame(frame(t, fu, time.Time{}))
	require.Equal(t, 1, tp.goodSyncs)

	// FollowUp with the wrong sequence breaks the run
	s, _ = syncPair(2, origin, 0, 1.0)
	_, fu = syncPair(7, origin, 0, 1.0)
	tp.handleFrame(frame(t, s, rx))
	tp.handleFrame(frame(t, fu, time.Time{}))
	require.Equal(t, 0, tp.goodSyncs)

	s, fu = syncPair(3, origin, 0, 1.0)
	tp.handleFrame(frame(t, s, rx))
	tp.handleFrame(frame(t, fu, time.Time{}))
	require.Equal(t, 1, tp.goodSyncs)

	// Sync whose FollowUp never arrives breaks it too
	s, _ = syncPair(4, origin, 0, 1.0)
	tp.handleFrame(frame(t, s, rx))
	s, fu = syncPair(5, origin, 0, 1.0)
	tp.handleFrame(frame(t, s, rx))
	require.Equal(t, 0, tp.goodSyncs)
	tp.handleFrame(frame(t, fu, time.Time{}))

	require.Equal(t, 1, tp.goodSyncs)
	require.Equal(t, ptp.PortStateUncalibrated, tp.state)
	require.NotNil(t, tp.master)
}

func TestSlaveSyncRateRatio(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	tp.nrr = 1.0001
	tp.linkDelay = time.Microsecond
	tp.applyDecision(bmc.Decision{State: ptp.PortStateSlave, Master: masterVector()})

	var sample SyncSample
	tp.engine.EXPECT().SyncReceived(gomock.Any()).Do(func(s SyncSample) { sample = s })
	s, fu := syncPair(1, ptp.NewTimestamp(epoch), 0, 0.9999)
	tp.handleFrame(frame(t, s, epoch.Add(10*time.Microsecond)))
	tp.handleFrame(frame(t, fu, time.Time{}))

	rr := 1.0001 * 0.9999
	require.InDelta(t, rr, sample.Info.RateRatio, 1e-8)
	require.InDelta(t, 10000-1000*rr, sample.Offset, 0.01)
}

func TestSyncFromOtherSourceDiscarded(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	tp.applyDecision(bmc.Decision{State: ptp.PortStateSlave, Master: masterVector()})

	s, _ := syncPair(1, ptp.NewTimestamp(epoch), 0, 1.0)
	s.SourcePortIdentity = ptp.PortIdentity{ClockIdentity: 0x42, PortNumber: 1}
	tp.handleFrame(frame(t, s, epoch))
	require.Nil(t, tp.lastSync)
	require.Equal(t, int64(1), tp.counter(stats.RxPTPPacketDiscard))
}

func TestFollowUpMismatchDropsMaster(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	tp.asCapable = true
	tp.erBest = masterVector()
	tp.applyDecision(bmc.Decision{State: ptp.PortStateSlave, Master: masterVector()})

	tp.engine.EXPECT().UpdateBest(uint16(1), gomock.Nil(), gomock.Any()).Times(1)
	s, _ := syncPair(1, ptp.NewTimestamp(epoch), 0, 1.0)
	tp.handleFrame(frame(t, s, epoch))
	for i := 0; i < 3; i++ {
		_, fu := syncPair(uint16(2+i), ptp.NewTimestamp(epoch), 0, 1.0)
		tp.handleFrame(frame(t, fu, time.Time{}))
	}
	require.Nil(t, tp.master)
	require.Nil(t, tp.erBest)
	require.Equal(t, int64(3), tp.counter(stats.FollowUpMismatch))
	require.False(t, tp.timers.Pending(timerSyncReceipt))
}

func TestSyncReceiptTimeout(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	tp.erBest = masterVector()
	tp.applyDecision(bmc.Decision{State: ptp.PortStateSlave, Master: masterVector()})
	tp.engine.EXPECT().UpdateBest(uint16(1), gomock.Nil(), gomock.Any()).Times(1)

	tp.syncReceiptTimeout()
	require.Nil(t, tp.master)
	require.Equal(t, int64(1), tp.counter(stats.SyncReceiptTimeouts))

	// a late expiry of the same timer is a no-op
	tp.syncReceiptTimeout()
	require.Equal(t, int64(1), tp.counter(stats.SyncReceiptTimeouts))
}

func TestApplyDecision(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening

	tp.applyDecision(bmc.Decision{State: ptp.PortStateMaster})
	require.Equal(t, ptp.PortStateMaster, tp.state)
	require.True(t, tp.timers.Pending(timerAnnounce))
	require.True(t, tp.timers.Pending(timerSync))

	tp.applyDecision(bmc.Decision{State: ptp.PortStatePassive})
	require.Equal(t, ptp.PortStatePassive, tp.state)
	require.False(t, tp.timers.Pending(timerAnnounce))
	require.False(t, tp.timers.Pending(timerSync))

	tp.applyDecision(bmc.Decision{State: ptp.PortStateSlave, Master: masterVector()})
	require.Equal(t, ptp.PortStateUncalibrated, tp.state)
	tp.state = ptp.PortStateSlave
	// same master keeps SLAVE
	tp.applyDecision(bmc.Decision{State: ptp.PortStateSlave, Master: masterVector()})
	require.Equal(t, ptp.PortStateSlave, tp.state)
	// new master goes through UNCALIBRATED again
	other := masterVector()
	other.SenderPortIdentity = ptp.PortIdentity{ClockIdentity: 0x42, PortNumber: 3}
	tp.applyDecision(bmc.Decision{State: ptp.PortStateSlave, Master: other})
	require.Equal(t, ptp.PortStateUncalibrated, tp.state)
	require.Equal(t, other.SenderPortIdentity, tp.master.SenderPortIdentity)

	tp.applyDecision(bmc.Decision{State: ptp.PortStateListening})
	require.Equal(t, ptp.PortStateListening, tp.state)
	require.Nil(t, tp.master)

	// inactive ports ignore BMCA
	tp.state = ptp.PortStateDisabled
	tp.applyDecision(bmc.Decision{State: ptp.PortStateMaster})
	require.Equal(t, ptp.PortStateDisabled, tp.state)
}

func TestMasterSendsSyncFollowUp(t *testing.T) {
	tp := newTestPort(t)
	tp.recordSends(t)
	tp.state = ptp.PortStateMaster
	tp.asCapable = true
	tp.engine.EXPECT().Relay().Return(SyncInfo{}, false)

	tp.sendSync()
	sent := tp.sentPackets()
	require.Len(t, sent, 2)
	s, ok := sent[0].(*ptp.Sync)
	require.True(t, ok)
	require.True(t, s.HasFlag(ptp.FlagTwoStep))
	require.Equal(t, ptp.LogInterval(-3), s.LogMessageInterval)
	fu, ok := sent[1].(*ptp.FollowUp)
	require.True(t, ok)
	require.Equal(t, s.SequenceID, fu.SequenceID)
	require.Equal(t, ptp.NewTimestamp(epoch), fu.PreciseOriginTimestamp)
	require.NotNil(t, fu.Info())
	require.InDelta(t, 1.0, fu.Info().RateRatio(), 1e-9)
	require.InDelta(t, 0.0, fu.CorrectionField.Nanoseconds(), 0.001)
	require.Equal(t, int64(1), tp.counter(stats.TxSyncCount))
	require.Equal(t, int64(1), tp.counter(stats.TxFollowUpCount))
}

func TestMasterRelaysSync(t *testing.T) {
	tp := newTestPort(t)
	tp.recordSends(t)
	tp.state = ptp.PortStateMaster
	tp.asCapable = true
	tp.txTime = epoch.Add(time.Millisecond)
	relay := SyncInfo{
		PreciseOrigin: ptp.NewTimestamp(epoch.Add(-time.Second)),
		Correction:    1500,
		RateRatio:     1.0001,
		RxTime:        epoch,
	}
	tp.engine.EXPECT().Relay().Return(relay, true)

	tp.sendSync()
	sent := tp.sentPackets()
	require.Len(t, sent, 2)
	fu := sent[1].(*ptp.FollowUp)
	require.Equal(t, relay.PreciseOrigin, fu.PreciseOriginTimestamp)
	// upstream correction plus residence time in grandmaster time base
	require.InDelta(t, 1500+1e6*1.0001, fu.CorrectionField.Nanoseconds(), 0.01)
	require.InDelta(t, 1.0001, fu.Info().RateRatio(), 1e-8)
}

func TestSyncTimestampUnavailable(t *testing.T) {
	tp := newTestPort(t)
	tp.recordSends(t)
	tp.state = ptp.PortStateMaster
	tp.asCapable = true
	tp.txTime = time.Time{}

	tp.sendSync()
	require.Len(t, tp.sentPackets(), 1)
	require.Equal(t, int64(0), tp.counter(stats.TxSyncCount))
	require.Equal(t, int64(0), tp.counter(stats.TxFollowUpCount))
}

func TestMasterNotAsCapableIsSilent(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateMaster
	// Send would fail the test
	tp.sendSync()
	tp.sendAnnounce()
}

func TestMasterSendsAnnounce(t *testing.T) {
	tp := newTestPort(t)
	tp.recordSends(t)
	tp.state = ptp.PortStateMaster
	tp.asCapable = true
	gm := bmc.FromLocal(bmc.DataSet{
		ClockIdentity: localClock,
		Priority1:     248,
		Priority2:     248,
		Quality:       ptp.ClockQuality{ClockClass: ptp.ClockClassDefault},
		TimeSource:    ptp.TimeSourceInternalOscillator,
	})
	tp.engine.EXPECT().AnnounceInfo().Return(AnnounceInfo{Grandmaster: gm, PathTrace: []ptp.ClockIdentity{localClock}}).Times(2)

	tp.sendAnnounce()
	tp.sendAnnounce()
	sent := tp.sentPackets()
	require.Len(t, sent, 2)
	a := sent[1].(*ptp.Announce)
	require.Equal(t, uint16(1), a.SequenceID)
	require.Equal(t, localClock, a.GrandmasterIdentity)
	require.Equal(t, uint8(248), a.GrandmasterPriority1)
	require.Equal(t, uint16(0), a.StepsRemoved)
	require.NotNil(t, a.PathTrace())
	require.Equal(t, []ptp.ClockIdentity{localClock}, a.PathTrace().PathSequence)
	require.Equal(t, int64(2), tp.counter(stats.TxAnnounce))
}

func TestSendFailureFaults(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	tp.asCapable = true
	tp.conn.EXPECT().Send(gomock.Any(), true).Return(netif.TxHandle{}, netif.ErrXmit)
	tp.engine.EXPECT().UpdateBest(uint16(1), gomock.Nil(), gomock.Nil())

	tp.sendPDelayReq()
	require.Equal(t, ptp.PortStateFaulty, tp.state)
	require.False(t, tp.asCapable)
	require.True(t, tp.timers.Pending(timerFaultRecovery))
	require.False(t, tp.timers.Pending(timerPDelay))
	require.Equal(t, int64(1), tp.counter(stats.Faults))

	// faulty port ignores further faults
	tp.fault(errors.New("again"))
	require.Equal(t, int64(1), tp.counter(stats.Faults))

	tp.recover()
	require.Equal(t, ptp.PortStateListening, tp.state)
	require.True(t, tp.timers.Pending(timerPDelay))
	require.True(t, tp.timers.Pending(timerAnnounceReceipt))
}

func TestLinkDownUp(t *testing.T) {
	tp := newTestPort(t)
	tp.initialize()
	tp.applyDecision(bmc.Decision{State: ptp.PortStateMaster})
	tp.engine.EXPECT().UpdateBest(uint16(1), gomock.Nil(), gomock.Nil())

	tp.handleLink(false)
	require.Equal(t, ptp.PortStateDisabled, tp.state)
	require.False(t, tp.timers.Pending(timerAnnounce))
	// frames are not processed while disabled
	tp.handle(event{kind: eventRx, frame: &netif.Frame{Payload: []byte{1}}})
	require.Equal(t, int64(0), tp.counter(stats.RxPTPPacketDiscard))

	tp.handleLink(true)
	require.Equal(t, ptp.PortStateListening, tp.state)
	require.True(t, tp.timers.Pending(timerPDelay))
}

func TestSignalingIntervalRequest(t *testing.T) {
	tp := newTestPort(t)
	tp.state = ptp.PortStateListening
	tp.applyDecision(bmc.Decision{State: ptp.PortStateMaster})

	tlv := ptp.NewMessageIntervalRequestTLV()
	tlv.TimeSyncInterval = -5
	tlv.LinkDelayInterval = 1
	s := &ptp.Signaling{
		Header:             ptp.NewHeader(ptp.MessageSignaling, 0, remotePort),
		TargetPortIdentity: ptp.PortIdentity{ClockIdentity: allPorts, PortNumber: 0xffff},
		TLVs:               []ptp.TLV{tlv},
	}
	tp.handleFrame(frame(t, s, time.Time{}))
	require.Equal(t, ptp.LogInterval(-5), tp.syncInterval)
	require.Equal(t, ptp.LogInterval(1), tp.pdelayInterval)
	require.Equal(t, ptp.LogInterval(0), tp.announceInterval)

	tlv.TimeSyncInterval = ptp.IntervalInitial
	tlv.AnnounceInterval = ptp.IntervalStop
	tp.handleFrame(frame(t, s, time.Time{}))
	require.Equal(t, ptp.LogInterval(-3), tp.syncInterval)
	require.Equal(t, ptp.IntervalStop, tp.announceInterval)
	require.False(t, tp.timers.Pending(timerAnnounce))
	require.True(t, tp.timers.Pending(timerSync))

	// signaling for another node
	s.TargetPortIdentity = ptp.PortIdentity{ClockIdentity: 0x42}
	tlv.TimeSyncInterval = 2
	tp.handleFrame(frame(t, s, time.Time{}))
	require.Equal(t, ptp.LogInterval(-3), tp.syncInterval)
}

func TestRun(t *testing.T) {
	tp := newTestPort(t)
	tp.conn.EXPECT().Receive(receiveTimeout).DoAndReturn(func(time.Duration) (*netif.Frame, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, netif.ErrTimeout
	}).AnyTimes()

	var mu sync.Mutex
	var states []ptp.PortState
	ctrl := gomock.NewController(t)
	engine := NewMockEngine(ctrl)
	engine.EXPECT().PortStatus(gomock.Any()).Do(func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	}).AnyTimes()
	engine.EXPECT().UpdateBest(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	engine.EXPECT().AnnounceInfo().Return(AnnounceInfo{}).AnyTimes()
	engine.EXPECT().Relay().Return(SyncInfo{}, false).AnyTimes()
	tp.Port.engine = engine
	tp.recordSends(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- tp.Run(ctx)
	}()

	tp.Recommend(bmc.Decision{State: ptp.PortStateMaster})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && states[len(states)-1] == ptp.PortStateMaster
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	require.Equal(t, ptp.PortStateListening, states[0])
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestReceiveFailureFaults(t *testing.T) {
	tp := newTestPort(t)
	tp.cfg.FaultRecovery = time.Hour
	calls := 0
	tp.conn.EXPECT().Receive(receiveTimeout).DoAndReturn(func(time.Duration) (*netif.Frame, error) {
		calls++
		if calls == 1 {
			return nil, netif.ErrRecv
		}
		time.Sleep(10 * time.Millisecond)
		return nil, netif.ErrTimeout
	}).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = tp.receive(ctx)
	}()
	require.Eventually(t, func() bool {
		for _, e := range tp.events.drain() {
			if e.kind == eventFault {
				return errors.Is(e.err, netif.ErrRecv)
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestReceiveMalformedDropped(t *testing.T) {
	tp := newTestPort(t)
	calls := 0
	tp.conn.EXPECT().Receive(receiveTimeout).DoAndReturn(func(time.Duration) (*netif.Frame, error) {
		calls++
		if calls <= 2 {
			return nil, fmt.Errorf("%w: runt frame", netif.ErrMalformed)
		}
		time.Sleep(10 * time.Millisecond)
		return nil, netif.ErrTimeout
	}).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- tp.receive(ctx)
	}()
	require.Eventually(t, func() bool {
		return tp.counter(stats.RxPTPPacketDiscard) == 2
	}, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.Empty(t, tp.events.drain())
}
