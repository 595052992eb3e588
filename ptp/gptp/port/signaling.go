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
	"github.com/facebook/gptp/ptp/gptp/stats"
	"github.com/facebook/gptp/ptp/gptp/timer"
	ptp "github.com/facebook/gptp/ptp/protocol"
)

// allPorts is the wildcard target of signaling messages
const allPorts ptp.ClockIdentity = 0xffffffffffffffff

func (p *Port) handleSignaling(s *ptp.Signaling) {
	p.count(stats.RxSignaling)
	target := s.TargetPortIdentity
	if target.ClockIdentity != allPorts && target.ClockIdentity != p.identity.ClockIdentity {
		p.count(stats.RxPTPPacketDiscard)
		return
	}
	req := s.IntervalRequest()
	if req == nil {
		return
	}
	p.logReceive(ptp.MessageSignaling, "linkDelay=%d, timeSync=%d, announce=%d", req.LinkDelayInterval, req.TimeSyncInterval, req.AnnounceInterval)
	p.applyInterval(req.LinkDelayInterval, &p.pdelayInterval, p.cfg.PDelayInterval, timerPDelay, true)
	master := p.state == ptp.PortStateMaster
	p.applyInterval(req.TimeSyncInterval, &p.syncInterval, p.cfg.SyncInterval, timerSync, master)
	p.applyInterval(req.AnnounceInterval, &p.announceInterval, p.cfg.AnnounceInterval, timerAnnounce, master)
}

// applyInterval sets interval as requested by neighbor, 10.3.14. Timer id is
// rescheduled when running is true.
func (p *Port) applyInterval(req ptp.LogInterval, cur *ptp.LogInterval, initial ptp.LogInterval, id timer.ID, running bool) {
	switch req {
	case ptp.IntervalNoChange:
		return
	case ptp.IntervalInitial:
		req = initial
	}
	if *cur == req {
		return
	}
	*cur = req
	if running {
		p.scheduleRepeating(id, req)
	}
}
