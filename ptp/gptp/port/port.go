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
Package port implements the 802.1AS per-port protocol state machine.

All port-local state is owned by a single event loop goroutine. Received
frames, timer expiries, BMCA recommendations, link changes and faults are
posted into an unbounded queue and processed in order.
*/
package port

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/gptp/ptp/bmc"
	"github.com/facebook/gptp/ptp/gptp/netif"
	"github.com/facebook/gptp/ptp/gptp/peer"
	"github.com/facebook/gptp/ptp/gptp/stats"
	"github.com/facebook/gptp/ptp/gptp/timer"
	ptp "github.com/facebook/gptp/ptp/protocol"
)

const receiveTimeout = 100 * time.Millisecond

// Config is the configuration of a single port
type Config struct {
	Number uint16
	Iface  string
	Domain uint8

	AnnounceInterval ptp.LogInterval
	SyncInterval     ptp.LogInterval
	PDelayInterval   ptp.LogInterval

	AnnounceReceiptTimeout  int
	SyncReceiptTimeout      int
	SyncReceiptThresh       int
	LostPdelayRespThresh    int
	NeighborPropDelayThresh time.Duration
	// consecutive good Sync/FollowUp pairs needed to leave UNCALIBRATED
	SyncHysteresis int
	FaultRecovery  time.Duration
}

// SyncInfo is time information received on the slave port, relayed by master ports
type SyncInfo struct {
	PreciseOrigin ptp.Timestamp
	// correction up to the ingress of this node, upstream link delay included
	Correction             float64
	RateRatio              float64
	RxTime                 time.Time
	GmTimeBaseIndicator    uint16
	LastGmPhaseChange      ptp.ScaledNs
	ScaledLastGmFreqChange int32
}

// SyncSample is one completed Sync/FollowUp exchange on a slave port
type SyncSample struct {
	Port   uint16
	Master ptp.PortIdentity
	// offset of local clock from grandmaster in ns
	Offset       float64
	LinkDelay    time.Duration
	SyncInterval ptp.LogInterval
	Info         SyncInfo
}

// AnnounceInfo is what master ports advertise
type AnnounceInfo struct {
	// StepsRemoved is already what goes on the wire
	Grandmaster bmc.PriorityVector
	PathTrace   []ptp.ClockIdentity
}

// Status is the externally visible port state
type Status struct {
	Number            uint16
	Identity          ptp.PortIdentity
	State             ptp.PortState
	AsCapable         bool
	LinkDelay         time.Duration
	NeighborRateRatio float64
	SyncCount         uint64
	PdelayCount       uint64
	AnnounceInterval  ptp.LogInterval
	SyncInterval      ptp.LogInterval
	PDelayInterval    ptp.LogInterval
}

// Engine is the clock engine as seen by a port
type Engine interface {
	// UpdateBest records best qualified announce of the port (nil if none) and reruns BMCA
	UpdateBest(port uint16, best *bmc.PriorityVector, pathTrace []ptp.ClockIdentity)
	// PortStatus publishes port status
	PortStatus(s Status)
	// SyncReceived feeds a sample from the slave port to the servo
	SyncReceived(s SyncSample)
	// Relay returns sync information to re-advertise, false when the node is grandmaster
	Relay() (SyncInfo, bool)
	AnnounceInfo() AnnounceInfo
}

// timers of a port
const (
	timerAnnounce timer.ID = iota
	timerSync
	timerPDelay
	timerAnnounceReceipt
	timerSyncReceipt
	timerFaultRecovery
)

type eventKind uint8

const (
	eventRx eventKind = iota
	eventTimer
	eventRecommend
	eventLink
	eventFault
)

type event struct {
	kind     eventKind
	frame    *netif.Frame
	expiry   timer.Expiry
	decision bmc.Decision
	up       bool
	err      error
}

// events is an unbounded FIFO queue, posting never blocks
type events struct {
	mu    sync.Mutex
	queue []event
	wake  chan struct{}
}

func newEvents() *events {
	return &events{wake: make(chan struct{}, 1)}
}

func (q *events) push(e event) {
	q.mu.Lock()
	q.queue = append(q.queue, e)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *events) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.queue
	q.queue = nil
	return e
}

type syncRx struct {
	seq        uint16
	source     ptp.PortIdentity
	rx         time.Time
	correction ptp.Correction
	interval   ptp.LogInterval
}

// Port is a single gPTP port
type Port struct {
	cfg      Config
	identity ptp.PortIdentity
	conn     netif.Conn
	ts       netif.Timestamper
	engine   Engine
	stats    stats.StatsServer
	peers    *peer.List
	timers   *timer.Queue
	events   *events

	// everything below is owned by the event loop
	state     ptp.PortState
	asCapable bool

	announceInterval ptp.LogInterval
	syncInterval     ptp.LogInterval
	pdelayInterval   ptp.LogInterval
	// intervals the neighbor transmits with
	remoteAnnounceInterval ptp.LogInterval

	erBest     *bmc.PriorityVector
	erBestPath []ptp.ClockIdentity
	reported   bool
	// master we are synchronizing to in UNCALIBRATED and SLAVE
	master     *bmc.PriorityVector
	lastSync   *syncRx
	goodSyncs  int
	fuMismatch int

	announceSeq  uint16
	syncSeq      uint16
	signalingSeq uint16

	pdelay    pdelayExchange
	nrr       float64
	linkDelay time.Duration

	syncCount   uint64
	pdelayCount uint64
	published   Status
}

// New creates a port in INITIALIZING state. All ports of a node share clockID.
func New(cfg Config, clockID ptp.ClockIdentity, conn netif.Conn, ts netif.Timestamper, engine Engine, st stats.StatsServer, peers *peer.List) *Port {
	p := &Port{
		cfg:                    cfg,
		identity:               ptp.PortIdentity{ClockIdentity: clockID, PortNumber: cfg.Number},
		conn:                   conn,
		ts:                     ts,
		engine:                 engine,
		stats:                  st,
		peers:                  peers,
		events:                 newEvents(),
		state:                  ptp.PortStateInitializing,
		announceInterval:       cfg.AnnounceInterval,
		syncInterval:           cfg.SyncInterval,
		pdelayInterval:         cfg.PDelayInterval,
		remoteAnnounceInterval: cfg.AnnounceInterval,
		nrr:                    1.0,
	}
	p.timers = timer.NewQueue(func(e timer.Expiry) {
		p.events.push(event{kind: eventTimer, expiry: e})
	})
	return p
}

// Number returns port number
func (p *Port) Number() uint16 {
	return p.cfg.Number
}

// Identity returns port identity
func (p *Port) Identity() ptp.PortIdentity {
	return p.identity
}

// Recommend passes BMCA decision to the port. It never blocks.
func (p *Port) Recommend(d bmc.Decision) {
	p.events.push(event{kind: eventRecommend, decision: d})
}

// LinkChanged notifies the port about link state change
func (p *Port) LinkChanged(up bool) {
	p.events.push(event{kind: eventLink, up: up})
}

// Run attaches the port and processes events until ctx is done
func (p *Port) Run(ctx context.Context) error {
	eg, ictx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return p.receive(ictx)
	})
	eg.Go(func() error {
		p.initialize()
		p.publish()
		for {
			select {
			case <-ictx.Done():
				p.timers.CancelAll()
				return nil
			case <-p.events.wake:
				for _, e := range p.events.drain() {
					p.handle(e)
				}
				p.publish()
			}
		}
	})
	return eg.Wait()
}

func (p *Port) receive(ctx context.Context) error {
	for ctx.Err() == nil {
		f, err := p.conn.Receive(receiveTimeout)
		if errors.Is(err, netif.ErrTimeout) {
			continue
		}
		if errors.Is(err, netif.ErrMalformed) {
			log.Debugf("port %d: %v", p.cfg.Number, err)
			p.count(stats.RxPTPPacketDiscard)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.events.push(event{kind: eventFault, err: err})
			// let the port recover before reading again
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.FaultRecovery):
			}
			continue
		}
		p.events.push(event{kind: eventRx, frame: f})
	}
	return nil
}

func (p *Port) handle(e event) {
	switch e.kind {
	case eventRx:
		if p.state.Active() {
			p.handleFrame(e.frame)
		}
	case eventTimer:
		p.handleTimer(e.expiry)
	case eventRecommend:
		p.applyDecision(e.decision)
	case eventLink:
		p.handleLink(e.up)
	case eventFault:
		p.fault(e.err)
	}
}

func (p *Port) handleTimer(e timer.Expiry) {
	if !p.timers.Valid(e) {
		return
	}
	switch e.ID {
	case timerAnnounce:
		p.sendAnnounce()
	case timerSync:
		p.sendSync()
	case timerPDelay:
		p.sendPDelayReq()
	case timerAnnounceReceipt:
		p.announceReceiptTimeout()
	case timerSyncReceipt:
		p.syncReceiptTimeout()
	case timerFaultRecovery:
		p.recover()
	}
}

func (p *Port) handleFrame(f *netif.Frame) {
	pkt, err := ptp.DecodePacket(f.Payload)
	if err != nil {
		if pkt == nil {
			log.Debugf("port %d: dropping frame from %s: %v", p.cfg.Number, f.Src, err)
			p.count(stats.RxPTPPacketDiscard)
			return
		}
		log.Debugf("port %d: ignoring broken TLVs from %s: %v", p.cfg.Number, f.Src, err)
	}
	h := pkt.PTPHeader()
	if h.DomainNumber != p.cfg.Domain || h.SourcePortIdentity.ClockIdentity == p.identity.ClockIdentity {
		p.count(stats.RxPTPPacketDiscard)
		return
	}
	var rx time.Time
	if pkt.MessageType().Event() {
		rx, err = p.ts.RxTimestamp(f)
		if err != nil {
			log.Warningf("port %d: no RX timestamp for %s seq=%d: %v", p.cfg.Number, pkt.MessageType(), h.SequenceID, err)
			p.count(stats.RxTimestampMissing)
			return
		}
	}
	switch m := pkt.(type) {
	case *ptp.Announce:
		p.handleAnnounce(m)
	case *ptp.Sync:
		p.handleSync(m, rx)
	case *ptp.FollowUp:
		p.handleFollowUp(m)
	case *ptp.PDelayReq:
		p.handlePDelayReq(m, rx)
	case *ptp.PDelayResp:
		p.handlePDelayResp(m, rx, f.Src)
	case *ptp.PDelayRespFollowUp:
		p.handlePDelayRespFollowUp(m, f.Src)
	case *ptp.Signaling:
		p.handleSignaling(m)
	}
}

// initialize brings port from INITIALIZING to LISTENING
func (p *Port) initialize() {
	p.resetProtocol()
	p.setState(ptp.PortStateListening)
	p.scheduleRepeating(timerPDelay, p.pdelayInterval)
	p.armAnnounceReceipt()
}

func (p *Port) resetProtocol() {
	p.erBest = nil
	p.erBestPath = nil
	p.reported = false
	p.master = nil
	p.lastSync = nil
	p.goodSyncs = 0
	p.fuMismatch = 0
	p.asCapable = false
	p.pdelay = pdelayExchange{}
	p.nrr = 1.0
	p.linkDelay = 0
	p.announceInterval = p.cfg.AnnounceInterval
	p.syncInterval = p.cfg.SyncInterval
	p.pdelayInterval = p.cfg.PDelayInterval
	p.remoteAnnounceInterval = p.cfg.AnnounceInterval
}

func (p *Port) setState(s ptp.PortState) {
	if p.state == s {
		return
	}
	log.Infof("port %d: %s -> %s", p.cfg.Number, p.state, s)
	p.state = s
}

// stop brings port out of protocol operation into state s, one of FAULTY or DISABLED
func (p *Port) stop(s ptp.PortState) {
	p.timers.CancelAll()
	p.resetProtocol()
	p.setState(s)
	p.publish()
	p.engine.UpdateBest(p.cfg.Number, nil, nil)
}

func (p *Port) fault(err error) {
	if !p.state.Active() {
		return
	}
	log.Errorf("port %d: fault: %v", p.cfg.Number, err)
	p.count(stats.Faults)
	p.stop(ptp.PortStateFaulty)
	p.timers.ScheduleOnce(p.cfg.FaultRecovery, timerFaultRecovery)
}

func (p *Port) recover() {
	if p.state != ptp.PortStateFaulty {
		return
	}
	p.setState(ptp.PortStateInitializing)
	p.initialize()
}

func (p *Port) handleLink(up bool) {
	switch {
	case !up && p.state != ptp.PortStateDisabled:
		log.Warningf("port %d: link down", p.cfg.Number)
		p.stop(ptp.PortStateDisabled)
	case up && p.state == ptp.PortStateDisabled:
		log.Infof("port %d: link up", p.cfg.Number)
		p.setState(ptp.PortStateInitializing)
		p.initialize()
	}
}

// applyDecision moves port to the state recommended by BMCA
func (p *Port) applyDecision(d bmc.Decision) {
	if !p.state.Active() {
		return
	}
	switch d.State {
	case ptp.PortStateMaster:
		if p.state == ptp.PortStateMaster {
			return
		}
		p.leaveSlave()
		p.setState(ptp.PortStateMaster)
		p.scheduleRepeating(timerAnnounce, p.announceInterval)
		p.scheduleRepeating(timerSync, p.syncInterval)
	case ptp.PortStateSlave:
		if d.Master == nil {
			return
		}
		if p.master != nil && p.master.SenderPortIdentity == d.Master.SenderPortIdentity &&
			p.master.GrandmasterIdentity == d.Master.GrandmasterIdentity &&
			(p.state == ptp.PortStateSlave || p.state == ptp.PortStateUncalibrated) {
			m := *d.Master
			p.master = &m
			return
		}
		p.stopMaster()
		m := *d.Master
		p.master = &m
		p.lastSync = nil
		p.goodSyncs = 0
		p.fuMismatch = 0
		p.setState(ptp.PortStateUncalibrated)
		p.armSyncReceipt(p.syncInterval)
	case ptp.PortStatePassive, ptp.PortStateListening:
		p.stopMaster()
		p.leaveSlave()
		p.setState(d.State)
	}
}

func (p *Port) stopMaster() {
	p.timers.Cancel(timerAnnounce)
	p.timers.Cancel(timerSync)
}

func (p *Port) leaveSlave() {
	p.master = nil
	p.lastSync = nil
	p.goodSyncs = 0
	p.fuMismatch = 0
	p.timers.Cancel(timerSyncReceipt)
}

func (p *Port) scheduleRepeating(id timer.ID, interval ptp.LogInterval) {
	if interval == ptp.IntervalStop {
		p.timers.Cancel(id)
		return
	}
	p.timers.ScheduleRepeating(interval.Duration(), id)
}

func (p *Port) armAnnounceReceipt() {
	p.timers.ScheduleOnce(time.Duration(p.cfg.AnnounceReceiptTimeout)*p.remoteAnnounceInterval.Duration(), timerAnnounceReceipt)
}

func (p *Port) armSyncReceipt(interval ptp.LogInterval) {
	p.timers.ScheduleOnce(time.Duration(p.cfg.SyncReceiptTimeout)*interval.Duration(), timerSyncReceipt)
}

// status must only be called from the event loop
func (p *Port) status() Status {
	return Status{
		Number:            p.cfg.Number,
		Identity:          p.identity,
		State:             p.state,
		AsCapable:         p.asCapable,
		LinkDelay:         p.linkDelay,
		NeighborRateRatio: p.nrr,
		SyncCount:         p.syncCount,
		PdelayCount:       p.pdelayCount,
		AnnounceInterval:  p.announceInterval,
		SyncInterval:      p.syncInterval,
		PDelayInterval:    p.pdelayInterval,
	}
}

func (p *Port) publish() {
	s := p.status()
	if s == p.published {
		return
	}
	p.published = s
	p.engine.PortStatus(s)
}

func (p *Port) reportBest() {
	var best *bmc.PriorityVector
	if p.erBest != nil {
		b := *p.erBest
		best = &b
	}
	p.reported = true
	p.publish()
	p.engine.UpdateBest(p.cfg.Number, best, append([]ptp.ClockIdentity(nil), p.erBestPath...))
}

func (p *Port) count(name string) {
	p.stats.UpdateCounterBy(stats.PortKey(p.cfg.Number, name), 1)
}

func (p *Port) send(pkt ptp.Packet, event bool) (netif.TxHandle, error) {
	b, err := ptp.Bytes(pkt)
	if err != nil {
		return netif.TxHandle{}, fmt.Errorf("encoding %s: %w", pkt.MessageType(), err)
	}
	return p.conn.Send(b, event)
}

// txTimestamp returns egress time of the event message. A false ok means
// the timestamp is unavailable and the exchange is dropped.
func (p *Port) txTimestamp(h netif.TxHandle, t ptp.MessageType) (time.Time, bool) {
	ts, err := p.ts.TxTimestamp(h)
	if err != nil {
		log.Warningf("port %d: no TX timestamp for %s: %v", p.cfg.Number, t, err)
		p.count(stats.TxTimestampMissing)
		return time.Time{}, false
	}
	return ts, true
}

// couple of helpers to log nice lines about happening communication
func (p *Port) logSent(t ptp.MessageType, msg string, v ...interface{}) {
	log.Debugf(color.GreenString("[port %d] -> %s (%s)", p.cfg.Number, t, fmt.Sprintf(msg, v...)))
}

func (p *Port) logReceive(t ptp.MessageType, msg string, v ...interface{}) {
	log.Debugf(color.BlueString("[port %d] <- %s (%s)", p.cfg.Number, t, fmt.Sprintf(msg, v...)))
}
