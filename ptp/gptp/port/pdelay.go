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
	"math"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/gptp/ptp/gptp/peer"
	"github.com/facebook/gptp/ptp/gptp/stats"
	ptp "github.com/facebook/gptp/ptp/protocol"
)

// MaxNeighborRateRatioDeviation is how far neighbor rate ratio may be from 1.0 to be accepted
const MaxNeighborRateRatioDeviation = 250e-6

// pdelayExchange is the state of the path delay initiator, one outstanding request at a time
type pdelayExchange struct {
	outstanding bool
	seq         uint16
	t1          time.Time
	t2          ptp.Timestamp
	t4          time.Time
	responder   ptp.PortIdentity
	gotResp     bool
	multiple    bool
	lost        int

	// previous completed exchange, for neighbor rate ratio
	prev          bool
	prevResponder ptp.PortIdentity
	prevT3        ptp.Timestamp
	prevT4        time.Time
}

// PathDelay computes mean link delay in ns of a completed exchange:
// ((t4-t1) - (t3-t2)/nrr) / 2
func PathDelay(t1, t4 time.Time, t2, t3 ptp.Timestamp, nrr float64) float64 {
	if nrr == 0 {
		nrr = 1
	}
	return (float64(t4.Sub(t1)) - float64(t3.Sub(t2))/nrr) / 2
}

// NeighborRateRatio computes the ratio of neighbor to local frequency from two
// consecutive responses. ok is false when the ratio is outside of accepted bounds.
func NeighborRateRatio(prevT3, t3 ptp.Timestamp, prevT4, t4 time.Time) (float64, bool) {
	local := t4.Sub(prevT4)
	if local <= 0 {
		return 0, false
	}
	nrr := float64(t3.Sub(prevT3)) / float64(local)
	if math.Abs(nrr-1) > MaxNeighborRateRatioDeviation {
		return nrr, false
	}
	return nrr, true
}

func (p *Port) setAsCapable(v bool, reason string) {
	if p.asCapable == v {
		return
	}
	log.Infof("port %d: asCapable %v (%s)", p.cfg.Number, v, reason)
	p.asCapable = v
	if !v && p.erBest != nil {
		p.erBest = nil
		p.erBestPath = nil
		p.leaveSlave()
		p.reportBest()
	}
}

func (p *Port) sendPDelayReq() {
	if !p.state.Active() {
		return
	}
	if p.pdelay.outstanding {
		p.count(stats.PdelayResponseLost)
		p.pdelay.lost++
		log.Debugf("port %d: no response to pdelay seq=%d (%d lost)", p.cfg.Number, p.pdelay.seq, p.pdelay.lost)
		if p.pdelay.lost >= p.cfg.LostPdelayRespThresh && p.asCapable {
			p.count(stats.PdelayAllowedLostResponsesExceeded)
			p.setAsCapable(false, "lost pdelay responses")
		}
	}
	req := &ptp.PDelayReq{
		Header: ptp.NewHeader(ptp.MessagePDelayReq, p.cfg.Domain, p.identity),
	}
	req.SequenceID = p.pdelay.seq + 1
	req.LogMessageInterval = p.pdelayInterval
	h, err := p.send(req, true)
	if err != nil {
		p.fault(err)
		return
	}
	p.pdelay.seq = req.SequenceID
	p.pdelay.outstanding = false
	t1, ok := p.txTimestamp(h, ptp.MessagePDelayReq)
	if !ok {
		return
	}
	p.pdelay.outstanding = true
	p.pdelay.t1 = t1
	p.pdelay.gotResp = false
	p.pdelay.multiple = false
	p.count(stats.TxPdelayRequest)
	p.logSent(ptp.MessagePDelayReq, "seq=%d, T1=%v", req.SequenceID, t1)
}

func (p *Port) matchesOutstanding(seq uint16, requesting ptp.PortIdentity) bool {
	return p.pdelay.outstanding && seq == p.pdelay.seq && requesting == p.identity
}

func (p *Port) handlePDelayResp(r *ptp.PDelayResp, rx time.Time, src net.HardwareAddr) {
	p.count(stats.RxPdelayResponse)
	p.logReceive(ptp.MessagePDelayResp, "seq=%d, from=%s, T2=%v, T4=%v", r.SequenceID, r.SourcePortIdentity, r.RequestReceiptTimestamp, rx)
	if !p.matchesOutstanding(r.SequenceID, r.RequestingPortIdentity) {
		p.count(stats.RxPTPPacketDiscard)
		return
	}
	if p.pdelay.gotResp {
		if r.SourcePortIdentity != p.pdelay.responder {
			log.Warningf("port %d: multiple pdelay responders %s and %s (%s)", p.cfg.Number, p.pdelay.responder, r.SourcePortIdentity, src)
			p.pdelay.multiple = true
			p.setAsCapable(false, "multiple pdelay responders")
		}
		return
	}
	p.pdelay.gotResp = true
	p.pdelay.responder = r.SourcePortIdentity
	p.pdelay.t2 = r.RequestReceiptTimestamp
	p.pdelay.t4 = rx
}

func (p *Port) handlePDelayRespFollowUp(fu *ptp.PDelayRespFollowUp, src net.HardwareAddr) {
	p.count(stats.RxPdelayResponseFollowUp)
	if !p.matchesOutstanding(fu.SequenceID, fu.RequestingPortIdentity) || !p.pdelay.gotResp || fu.SourcePortIdentity != p.pdelay.responder {
		p.count(stats.RxPTPPacketDiscard)
		return
	}
	ex := &p.pdelay
	ex.outstanding = false
	ex.lost = 0
	t3 := fu.ResponseOriginTimestamp

	if ex.prev && ex.prevResponder == ex.responder {
		if nrr, ok := NeighborRateRatio(ex.prevT3, t3, ex.prevT4, ex.t4); ok {
			p.nrr = nrr
		} else {
			log.Debugf("port %d: neighbor rate ratio %f rejected", p.cfg.Number, nrr)
		}
	}
	ex.prev = true
	ex.prevResponder = ex.responder
	ex.prevT3 = t3
	ex.prevT4 = ex.t4

	delay := PathDelay(ex.t1, ex.t4, ex.t2, t3, p.nrr)
	p.logReceive(ptp.MessagePDelayRespFollowUp, "seq=%d, T3=%v, delay=%.0f, nrr=%.9f", fu.SequenceID, t3, delay, p.nrr)
	if delay < 0 {
		log.Debugf("port %d: negative path delay %.0f, ignoring", p.cfg.Number, delay)
		return
	}
	p.linkDelay = time.Duration(delay)
	p.pdelayCount++

	switch {
	case ex.multiple:
	case p.linkDelay > p.cfg.NeighborPropDelayThresh:
		p.setAsCapable(false, "link delay "+p.linkDelay.String()+" above threshold")
	default:
		p.setAsCapable(true, "pdelay exchange complete")
	}

	if p.peers != nil && len(src) > 0 {
		asCapable, linkDelay, nrr := p.asCapable, p.linkDelay, p.nrr
		p.peers.Upsert(peer.MACAddr(src), func(s *peer.State) {
			s.PortIdentity = ex.responder
			s.AsCapable = asCapable
			s.LinkDelay = linkDelay
			s.NeighborRateRatio = nrr
			s.LastSeen = time.Now()
		})
	}
}

// handlePDelayReq answers path delay request of the neighbor, in every active state
func (p *Port) handlePDelayReq(r *ptp.PDelayReq, rx time.Time) {
	p.count(stats.RxPdelayRequest)
	p.logReceive(ptp.MessagePDelayReq, "seq=%d, from=%s, T2=%v", r.SequenceID, r.SourcePortIdentity, rx)
	resp := &ptp.PDelayResp{
		Header: ptp.NewHeader(ptp.MessagePDelayResp, p.cfg.Domain, p.identity),
		PDelayRespBody: ptp.PDelayRespBody{
			RequestReceiptTimestamp: ptp.NewTimestamp(rx),
			RequestingPortIdentity:  r.SourcePortIdentity,
		},
	}
	resp.SequenceID = r.SequenceID
	resp.LogMessageInterval = ptp.IntervalStop
	h, err := p.send(resp, true)
	if err != nil {
		p.fault(err)
		return
	}
	t3, ok := p.txTimestamp(h, ptp.MessagePDelayResp)
	if !ok {
		return
	}
	p.count(stats.TxPdelayResponse)
	fu := &ptp.PDelayRespFollowUp{
		Header: ptp.NewHeader(ptp.MessagePDelayRespFollowUp, p.cfg.Domain, p.identity),
		PDelayRespFollowUpBody: ptp.PDelayRespFollowUpBody{
			ResponseOriginTimestamp: ptp.NewTimestamp(t3),
			RequestingPortIdentity:  r.SourcePortIdentity,
		},
	}
	fu.SequenceID = r.SequenceID
	if _, err := p.send(fu, false); err != nil {
		p.fault(err)
		return
	}
	p.count(stats.TxPdelayResponseFollowUp)
	p.logSent(ptp.MessagePDelayRespFollowUp, "seq=%d, T2=%v, T3=%v", r.SequenceID, rx, t3)
}
