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
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/gptp/ptp/gptp/stats"
	ptp "github.com/facebook/gptp/ptp/protocol"
)

func (p *Port) synchronizing() bool {
	return p.master != nil && (p.state == ptp.PortStateSlave || p.state == ptp.PortStateUncalibrated)
}

func (p *Port) handleSync(s *ptp.Sync, rx time.Time) {
	p.count(stats.RxSyncCount)
	p.logReceive(ptp.MessageSync, "seq=%d, source=%s, T2=%v", s.SequenceID, s.SourcePortIdentity, rx)
	if !p.synchronizing() || s.SourcePortIdentity != p.master.SenderPortIdentity {
		p.count(stats.RxPTPPacketDiscard)
		return
	}
	interval := s.LogMessageInterval
	if interval == ptp.IntervalStop {
		interval = p.syncInterval
	}
	if p.lastSync != nil {
		// previous Sync never got its FollowUp
		p.goodSyncs = 0
	}
	p.lastSync = &syncRx{
		seq:        s.SequenceID,
		source:     s.SourcePortIdentity,
		rx:         rx,
		correction: s.CorrectionField,
		interval:   interval,
	}
	p.armSyncReceipt(interval)
}

func correctionNs(c ptp.Correction) float64 {
	if c.TooBig() {
		return 0
	}
	return c.Nanoseconds()
}

func (p *Port) handleFollowUp(fu *ptp.FollowUp) {
	p.count(stats.RxFollowUpCount)
	if !p.synchronizing() {
		p.count(stats.RxPTPPacketDiscard)
		return
	}
	sync := p.lastSync
	if sync == nil || fu.SequenceID != sync.seq || fu.SourcePortIdentity != sync.source {
		p.count(stats.FollowUpMismatch)
		p.fuMismatch++
		p.goodSyncs = 0
		log.Debugf("port %d: FollowUp seq=%d from %s does not match last Sync", p.cfg.Number, fu.SequenceID, fu.SourcePortIdentity)
		if p.cfg.SyncReceiptThresh > 0 && p.fuMismatch >= p.cfg.SyncReceiptThresh {
			log.Warningf("port %d: %d mismatched FollowUps, dropping master %s", p.cfg.Number, p.fuMismatch, p.master.SenderPortIdentity)
			p.dropMaster()
		}
		return
	}
	p.fuMismatch = 0
	p.lastSync = nil

	info := SyncInfo{
		PreciseOrigin: fu.PreciseOriginTimestamp,
		RateRatio:     p.nrr,
		RxTime:        sync.rx,
	}
	if tlv := fu.Info(); tlv != nil {
		info.RateRatio = tlv.RateRatio() * p.nrr
		info.GmTimeBaseIndicator = tlv.GmTimeBaseIndicator
		info.LastGmPhaseChange = tlv.LastGmPhaseChange
		info.ScaledLastGmFreqChange = tlv.ScaledLastGmFreqChange
	}
	correction := correctionNs(sync.correction) + correctionNs(fu.CorrectionField)
	delay := float64(p.linkDelay) * info.RateRatio
	info.Correction = correction + delay
	offset := float64(sync.rx.UnixNano()-fu.PreciseOriginTimestamp.UnixNanoseconds()) - correction - delay

	p.logReceive(ptp.MessageFollowUp, "seq=%d, T1=%v, correction=%.0f, offset=%.0f", fu.SequenceID, fu.PreciseOriginTimestamp, correction, offset)
	p.syncCount++
	p.goodSyncs++
	if p.state == ptp.PortStateUncalibrated && p.goodSyncs >= p.cfg.SyncHysteresis {
		p.setState(ptp.PortStateSlave)
	}
	p.publish()
	p.engine.SyncReceived(SyncSample{
		Port:         p.cfg.Number,
		Master:       sync.source,
		Offset:       offset,
		LinkDelay:    p.linkDelay,
		SyncInterval: sync.interval,
		Info:         info,
	})
}

// dropMaster forgets the master we synchronize to and reruns BMCA
func (p *Port) dropMaster() {
	p.erBest = nil
	p.erBestPath = nil
	p.leaveSlave()
	p.reportBest()
}

func (p *Port) syncReceiptTimeout() {
	if !p.synchronizing() {
		return
	}
	p.count(stats.SyncReceiptTimeouts)
	log.Warningf("port %d: sync receipt timeout, dropping master %s", p.cfg.Number, p.master.SenderPortIdentity)
	p.dropMaster()
}

func (p *Port) sendSync() {
	if p.state != ptp.PortStateMaster || !p.asCapable {
		return
	}
	s := &ptp.Sync{
		Header: ptp.NewHeader(ptp.MessageSync, p.cfg.Domain, p.identity),
	}
	s.SequenceID = p.syncSeq
	s.LogMessageInterval = p.syncInterval
	h, err := p.send(s, true)
	if err != nil {
		p.fault(err)
		return
	}
	p.syncSeq++
	txTime, ok := p.txTimestamp(h, ptp.MessageSync)
	if !ok {
		return
	}
	p.count(stats.TxSyncCount)
	p.logSent(ptp.MessageSync, "seq=%d, T1=%v", s.SequenceID, txTime)

	tlv := ptp.NewFollowUpTLV()
	fu := &ptp.FollowUp{
		Header: ptp.NewHeader(ptp.MessageFollowUp, p.cfg.Domain, p.identity),
		TLVs:   []ptp.TLV{tlv},
	}
	fu.SequenceID = s.SequenceID
	fu.LogMessageInterval = p.syncInterval
	if relay, ok := p.engine.Relay(); ok {
		// residence time is measured by local clock, convert to grandmaster time base
		residence := float64(txTime.Sub(relay.RxTime)) * relay.RateRatio
		fu.PreciseOriginTimestamp = relay.PreciseOrigin
		fu.AddCorrection(relay.Correction + residence)
		tlv.CumulativeScaledRateOffset = ptp.ScaledOffsetFromRateRatio(relay.RateRatio)
		tlv.GmTimeBaseIndicator = relay.GmTimeBaseIndicator
		tlv.LastGmPhaseChange = relay.LastGmPhaseChange
		tlv.ScaledLastGmFreqChange = relay.ScaledLastGmFreqChange
	} else {
		fu.PreciseOriginTimestamp = ptp.NewTimestamp(txTime)
	}
	if _, err := p.send(fu, false); err != nil {
		p.fault(err)
		return
	}
	p.count(stats.TxFollowUpCount)
	p.logSent(ptp.MessageFollowUp, "seq=%d, T1=%v, correction=%s", fu.SequenceID, fu.PreciseOriginTimestamp, fu.CorrectionField)
}
