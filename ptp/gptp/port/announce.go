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
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/gptp/ptp/bmc"
	"github.com/facebook/gptp/ptp/gptp/stats"
	ptp "github.com/facebook/gptp/ptp/protocol"
)

// qualify reports whether announce may take part in BMCA, 10.3.11.2.1
func (p *Port) qualify(a *ptp.Announce) bool {
	if a.StepsRemoved >= bmc.MaxStepsRemoved {
		log.Debugf("port %d: announce from %s with stepsRemoved %d", p.cfg.Number, a.SourcePortIdentity, a.StepsRemoved)
		return false
	}
	if pt := a.PathTrace(); pt != nil && pt.Contains(p.identity.ClockIdentity) {
		log.Debugf("port %d: announce from %s loops back through us", p.cfg.Number, a.SourcePortIdentity)
		return false
	}
	return p.asCapable
}

func (p *Port) handleAnnounce(a *ptp.Announce) {
	p.count(stats.RxAnnounce)
	p.logReceive(ptp.MessageAnnounce, "seq=%d, gm=%s, p1=%d, stepsRemoved=%d", a.SequenceID, a.GrandmasterIdentity, a.GrandmasterPriority1, a.StepsRemoved)
	if !p.qualify(a) {
		p.count(stats.RxPTPPacketDiscard)
		return
	}
	if a.LogMessageInterval != ptp.IntervalStop {
		p.remoteAnnounceInterval = a.LogMessageInterval
	}
	p.armAnnounceReceipt()

	vec := bmc.FromAnnounce(a, p.cfg.Number)
	var path []ptp.ClockIdentity
	if pt := a.PathTrace(); pt != nil {
		path = pt.PathSequence
	}
	if p.erBest != nil && p.erBest.SenderPortIdentity != vec.SenderPortIdentity && bmc.Compare(p.erBest, &vec) > 0 {
		// a worse announcer on the same link, keep the current one
		return
	}
	if p.erBest != nil && *p.erBest == vec && slices.Equal(p.erBestPath, path) {
		return
	}
	p.erBest = &vec
	p.erBestPath = slices.Clone(path)
	p.reportBest()
}

func (p *Port) announceReceiptTimeout() {
	if !p.state.Active() {
		return
	}
	p.count(stats.AnnounceReceiptTimeouts)
	log.Infof("port %d: announce receipt timeout", p.cfg.Number)
	changed := p.erBest != nil || !p.reported
	p.erBest = nil
	p.erBestPath = nil
	p.remoteAnnounceInterval = p.cfg.AnnounceInterval
	p.armAnnounceReceipt()
	if changed {
		p.reportBest()
	}
}

func (p *Port) sendAnnounce() {
	if p.state != ptp.PortStateMaster || !p.asCapable {
		return
	}
	info := p.engine.AnnounceInfo()
	gm := info.Grandmaster
	a := &ptp.Announce{
		Header: ptp.NewHeader(ptp.MessageAnnounce, p.cfg.Domain, p.identity),
		AnnounceBody: ptp.AnnounceBody{
			CurrentUTCOffset:        gm.CurrentUTCOffset,
			GrandmasterPriority1:    gm.Priority1,
			GrandmasterClockQuality: gm.Quality,
			GrandmasterPriority2:    gm.Priority2,
			GrandmasterIdentity:     gm.GrandmasterIdentity,
			StepsRemoved:            gm.StepsRemoved,
			TimeSource:              gm.TimeSource,
		},
		TLVs: []ptp.TLV{ptp.NewPathTraceTLV(info.PathTrace)},
	}
	a.SequenceID = p.announceSeq
	a.LogMessageInterval = p.announceInterval
	if _, err := p.send(a, false); err != nil {
		p.fault(err)
		return
	}
	p.announceSeq++
	p.count(stats.TxAnnounce)
	p.logSent(ptp.MessageAnnounce, "seq=%d, gm=%s, stepsRemoved=%d", a.SequenceID, gm.GrandmasterIdentity, gm.StepsRemoved)
}
