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
Package engine implements the clock engine of a gPTP time-aware system:
it runs BMCA over the ports, disciplines the local clock from the slave port
and publishes a snapshot of the node state.
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/facebook/gptp/clock"
	"github.com/facebook/gptp/phc"
	"github.com/facebook/gptp/ptp/bmc"
	"github.com/facebook/gptp/ptp/gptp/lock"
	"github.com/facebook/gptp/ptp/gptp/port"
	"github.com/facebook/gptp/ptp/gptp/stats"
	ptp "github.com/facebook/gptp/ptp/protocol"
	"github.com/facebook/gptp/servo"
)

// engine counters, exported next to per-port ones
const (
	CounterRecompute    = "gptp.engine.bmca_runs"
	CounterGMChanges    = "gptp.engine.gm_changes"
	CounterOffset       = "gptp.engine.master_offset_ns"
	CounterFreq         = "gptp.engine.freq_ppb"
	CounterServoState   = "gptp.engine.servo_state"
	CounterSteps        = "gptp.engine.clock_steps"
	CounterSyncSamples  = "gptp.engine.sync_samples"
	CounterLocalSysOffs = "gptp.engine.local_system_offset_ns"
)

const windowSize = 64

// Servo is the subset of servo.PiServo used by the engine
type Servo interface {
	SyncInterval(float64)
	Sample(offset int64, localTs uint64) (float64, servo.State)
	SetLastFreq(float64)
	MeanFreq() float64
	IsSpike(offset int64) bool
	GetState() servo.State
	UnsetFirstUpdate()
	Reset()
}

// Port is what the engine needs from a port
type Port interface {
	Number() uint16
	Recommend(d bmc.Decision)
}

// SysOffsetter measures the offset between the disciplined clock and the system clock
type SysOffsetter interface {
	SysOffset(samples int) (phc.SysoffResult, error)
}

// Config of the engine
type Config struct {
	DataSet            bmc.DataSet
	Domain             uint8
	CurrentUTCOffset   int16
	FirstStepThreshold time.Duration
	StepThreshold      time.Duration
	// SysOffsetSamples is how many readings are taken per local/system offset measurement
	SysOffsetSamples int
}

// Snapshot is the published node state
type Snapshot struct {
	ClockIdentity        ptp.ClockIdentity `json:"clock_identity"`
	Domain               uint8             `json:"domain"`
	GrandmasterIdentity  ptp.ClockIdentity `json:"grandmaster_identity"`
	GrandmasterPriority1 uint8             `json:"grandmaster_priority1"`
	GrandmasterPriority2 uint8             `json:"grandmaster_priority2"`
	GrandmasterQuality   ptp.ClockQuality  `json:"grandmaster_quality"`
	IsGrandmaster        bool              `json:"is_grandmaster"`
	StepsRemoved         uint16            `json:"steps_removed"`
	SlavePort            uint16            `json:"slave_port"`
	// MasterOffset is local clock minus grandmaster in ns
	MasterOffset int64 `json:"master_offset_ns"`
	// MasterFreqRatio is the grandmaster to local frequency ratio
	MasterFreqRatio float64 `json:"master_freq_ratio"`
	// LocalSystemOffset is system clock minus local clock in ns
	LocalSystemOffset    int64   `json:"local_system_offset_ns"`
	LocalSystemFreqRatio float64 `json:"local_system_freq_ratio"`
	// LocalTime is the local clock reading matching MasterOffset
	LocalTime      int64         `json:"local_time_ns"`
	ServoState     string        `json:"servo_state"`
	FrequencyPPB   float64       `json:"frequency_ppb"`
	SyncCount      uint64        `json:"sync_count"`
	PdelayCount    uint64        `json:"pdelay_count"`
	Ports          []port.Status `json:"ports"`
	OffsetStats    stats.Summary `json:"offset_stats"`
	PathDelayStats stats.Summary `json:"path_delay_stats"`
	Updated        time.Time     `json:"updated"`
}

func cloneSnapshot(s Snapshot) Snapshot {
	s.Ports = slices.Clone(s.Ports)
	return s
}

// Engine is the clock engine. It implements port.Engine.
type Engine struct {
	cfg   Config
	mu    lock.TicketMutex
	clock clock.Clock
	servo Servo
	sys   SysOffsetter
	stats stats.StatsServer

	ports    map[uint16]Port
	bests    map[uint16]*bmc.PriorityVector
	paths    map[uint16][]ptp.ClockIdentity
	statuses map[uint16]port.Status
	// reported ports have told their best vector while active, only those get decisions
	reported map[uint16]bool
	result   bmc.Result
	relay    *port.SyncInfo

	offsets *stats.Window[int64]
	delays  *stats.Window[int64]
	lastSys *phc.SysoffResult

	snapshot *lock.Guarded[Snapshot]
	resolved lock.Event
}

// NewServo builds PI servo for clk, starting from its current frequency
func NewServo(cfg Config, clk clock.Clock) *servo.PiServo {
	servoCfg := servo.DefaultServoConfig()
	if cfg.FirstStepThreshold != 0 {
		servoCfg.FirstUpdate = true
		servoCfg.FirstStepThreshold = int64(cfg.FirstStepThreshold)
	}
	servoCfg.StepThreshold = int64(cfg.StepThreshold)
	freq, err := clk.FrequencyPPB()
	if err != nil {
		log.Warningf("failed to read clock frequency, assuming 0: %v", err)
		freq = 0
	}
	pi := servo.NewPiServo(servoCfg, servo.DefaultPiServoCfg(), -freq)
	maxFreq, err := clk.MaxFreqPPB()
	if err != nil {
		log.Warningf("max frequency not available, using default %f: %v", phc.DefaultMaxClockFreqPPB, err)
		maxFreq = phc.DefaultMaxClockFreqPPB
	}
	pi.SetMaxFreq(maxFreq)
	servo.NewPiServoFilter(pi, servo.DefaultPiServoFilterCfg())
	return pi
}

// New returns an engine disciplining clk with sv. sys may be nil when the
// disciplined clock is the system clock.
func New(cfg Config, clk clock.Clock, sv Servo, sys SysOffsetter, st stats.StatsServer) *Engine {
	if cfg.SysOffsetSamples < 1 {
		cfg.SysOffsetSamples = 5
	}
	e := &Engine{
		cfg:      cfg,
		clock:    clk,
		servo:    sv,
		sys:      sys,
		stats:    st,
		ports:    map[uint16]Port{},
		bests:    map[uint16]*bmc.PriorityVector{},
		paths:    map[uint16][]ptp.ClockIdentity{},
		statuses: map[uint16]port.Status{},
		reported: map[uint16]bool{},
		offsets:  stats.NewWindow[int64](windowSize),
		delays:   stats.NewWindow[int64](windowSize),
	}
	local := bmc.FromLocal(cfg.DataSet)
	e.snapshot = lock.NewGuarded(Snapshot{
		ClockIdentity:        cfg.DataSet.ClockIdentity,
		Domain:               cfg.Domain,
		GrandmasterIdentity:  local.GrandmasterIdentity,
		GrandmasterPriority1: local.Priority1,
		GrandmasterPriority2: local.Priority2,
		GrandmasterQuality:   local.Quality,
		IsGrandmaster:        !cfg.DataSet.SlaveOnly(),
		MasterFreqRatio:      1,
		LocalSystemFreqRatio: 1,
		ServoState:           servo.StateInit.String(),
	}, cloneSnapshot)
	return e
}

// AddPort registers a port. Ports must be added before they run.
func (e *Engine) AddPort(p Port) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ports[p.Number()] = p
}

// Snapshot returns published state without taking the engine lock
func (e *Engine) Snapshot() Snapshot {
	return e.snapshot.ReadSnapshot()
}

// Resolved is closed after the first BMCA run that handed a decision to a port
func (e *Engine) Resolved() <-chan struct{} {
	return e.resolved.Done()
}

// WaitResolved blocks until the first BMCA resolution or ctx is done
func (e *Engine) WaitResolved(ctx context.Context) error {
	return e.resolved.Wait(ctx)
}

// Result returns outcome of the last BMCA run
func (e *Engine) Result() bmc.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// SetDataSet replaces own dataset, for example after clock quality change, and reruns BMCA
func (e *Engine) SetDataSet(ds bmc.DataSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.DataSet = ds
	e.recompute()
}

// Recompute reruns BMCA over every port and dispatches the decisions
func (e *Engine) Recompute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recompute()
}

// UpdateBest records best announce of a port and reruns BMCA
func (e *Engine) UpdateBest(portNumber uint16, best *bmc.PriorityVector, pathTrace []ptp.ClockIdentity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.statuses[portNumber]; ok && st.State.Active() {
		e.reported[portNumber] = true
	}
	if best == nil {
		delete(e.bests, portNumber)
		delete(e.paths, portNumber)
	} else {
		e.bests[portNumber] = best
		e.paths[portNumber] = pathTrace
	}
	e.recompute()
}

// PortStatus records externally visible port state
func (e *Engine) PortStatus(s port.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[s.Number] = s
	if !s.State.Active() {
		delete(e.reported, s.Number)
	}
	ports := e.portStatuses()
	var syncs, pdelays uint64
	for _, st := range ports {
		syncs += st.SyncCount
		pdelays += st.PdelayCount
	}
	e.snapshot.ApplyUpdate(func(snap *Snapshot) {
		snap.Ports = ports
		snap.SyncCount = syncs
		snap.PdelayCount = pdelays
	})
}

func (e *Engine) portStatuses() []port.Status {
	res := make([]port.Status, 0, len(e.statuses))
	for _, st := range e.statuses {
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Number < res[j].Number })
	return res
}

func (e *Engine) recompute() {
	disabled := map[uint16]bool{}
	portBests := map[uint16]*bmc.PriorityVector{}
	for n := range e.ports {
		st, ok := e.statuses[n]
		if !ok || !st.State.Active() {
			disabled[n] = true
			continue
		}
		portBests[n] = e.bests[n]
	}
	prev := e.result
	res := bmc.StateDecision(e.cfg.DataSet, portBests, disabled)
	e.result = res
	e.stats.UpdateCounterBy(CounterRecompute, 1)

	if masterChanged(prev, res) {
		e.stats.UpdateCounterBy(CounterGMChanges, 1)
		switch {
		case res.Best == nil:
			log.Warning("no grandmaster known")
		case res.Local:
			log.Infof("local clock %s is grandmaster", e.cfg.DataSet.ClockIdentity)
		default:
			log.Infof("new grandmaster %s via %s on port %d", res.Best.GrandmasterIdentity, res.Best.SenderPortIdentity, res.SlavePort)
		}
		// next sample comes from a different master, integrator must start over
		e.servo.Reset()
		e.relay = nil
		e.offsets = stats.NewWindow[int64](windowSize)
	}
	e.publishResult()

	dispatched := 0
	ports := make([]uint16, 0, len(res.Decisions))
	for n := range res.Decisions {
		ports = append(ports, n)
	}
	slices.Sort(ports)
	for _, n := range ports {
		if !e.reported[n] {
			continue
		}
		e.ports[n].Recommend(res.Decisions[n])
		dispatched++
	}
	if dispatched > 0 {
		e.resolved.Set()
	}
}

// masterChanged reports whether the node follows a different grandmaster or the same one via a different master port
func masterChanged(prev, cur bmc.Result) bool {
	if (prev.Best == nil) != (cur.Best == nil) || prev.Local != cur.Local {
		return true
	}
	if cur.Best == nil || cur.Local {
		return false
	}
	return prev.Best.GrandmasterIdentity != cur.Best.GrandmasterIdentity ||
		prev.Best.SenderPortIdentity != cur.Best.SenderPortIdentity ||
		prev.SlavePort != cur.SlavePort
}

func (e *Engine) publishResult() {
	res := e.result
	ds := e.cfg.DataSet
	e.snapshot.ApplyUpdate(func(snap *Snapshot) {
		snap.ClockIdentity = ds.ClockIdentity
		snap.IsGrandmaster = res.Local
		snap.SlavePort = res.SlavePort
		if res.Best == nil {
			snap.GrandmasterIdentity = 0
			snap.StepsRemoved = 0
			return
		}
		snap.GrandmasterIdentity = res.Best.GrandmasterIdentity
		snap.GrandmasterPriority1 = res.Best.Priority1
		snap.GrandmasterPriority2 = res.Best.Priority2
		snap.GrandmasterQuality = res.Best.Quality
		snap.StepsRemoved = res.Best.StepsRemoved
		if res.Local {
			snap.MasterOffset = 0
			snap.MasterFreqRatio = 1
			snap.SlavePort = 0
		}
	})
}

// SyncReceived feeds one offset measurement of the slave port to the servo
func (e *Engine) SyncReceived(s port.SyncSample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result.Best == nil || e.result.Local || s.Port != e.result.SlavePort {
		log.Debugf("ignoring sync sample from port %d, not a slave port", s.Port)
		return
	}
	if s.Master != e.result.Best.SenderPortIdentity {
		// port has not applied the latest recommendation yet
		log.Debugf("ignoring sync sample from %s, master is %s", s.Master, e.result.Best.SenderPortIdentity)
		return
	}
	info := s.Info
	e.relay = &info
	offset := int64(s.Offset)
	e.stats.UpdateCounterBy(CounterSyncSamples, 1)
	e.offsets.Add(offset)
	e.delays.Add(s.LinkDelay.Nanoseconds())

	e.servo.SyncInterval(s.SyncInterval.Seconds())
	var freqAdj float64
	var state servo.State
	if e.servo.IsSpike(offset) {
		freqAdj = e.servo.MeanFreq()
		e.servo.SetLastFreq(freqAdj)
		state = servo.StateInit
		if e.servo.GetState() == servo.StateLocked {
			state = servo.StateFilter
		}
	} else {
		freqAdj, state = e.servo.Sample(offset, uint64(info.RxTime.UnixNano()))
	}
	log.Infof("offset %10d servo %s freq %+7.0f path delay %10d", offset, state, freqAdj, s.LinkDelay.Nanoseconds())

	switch state {
	case servo.StateJump:
		if err := e.clock.Step(-time.Duration(offset)); err != nil {
			log.Errorf("failed to step clock by %v: %v", -time.Duration(offset), err)
		} else {
			e.stats.UpdateCounterBy(CounterSteps, 1)
		}
	case servo.StateLocked:
		if err := e.clock.AdjFreqPPB(-freqAdj); err != nil {
			log.Errorf("failed to adjust frequency to %v: %v", -freqAdj, err)
		} else if err := e.clock.SetSync(); err != nil {
			log.Errorf("failed to set sys sync %v", err)
		}
		e.servo.UnsetFirstUpdate()
	case servo.StateFilter:
		if err := e.clock.AdjFreqPPB(-freqAdj); err != nil {
			log.Errorf("failed to adjust frequency to %v: %v", -freqAdj, err)
		}
	}
	e.stats.SetCounter(CounterOffset, offset)
	e.stats.SetCounter(CounterFreq, int64(-freqAdj))
	e.stats.SetCounter(CounterServoState, int64(state))

	offStats := e.offsets.Summary()
	delayStats := e.delays.Summary()
	e.snapshot.ApplyUpdate(func(snap *Snapshot) {
		snap.MasterOffset = offset
		snap.MasterFreqRatio = info.RateRatio
		snap.LocalTime = info.RxTime.UnixNano()
		snap.ServoState = state.String()
		snap.FrequencyPPB = -freqAdj
		snap.OffsetStats = offStats
		snap.PathDelayStats = delayStats
		snap.Updated = info.RxTime
	})
}

// Relay returns sync information to re-advertise on master ports
func (e *Engine) Relay() (port.SyncInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result.Local || e.relay == nil {
		return port.SyncInfo{}, false
	}
	return *e.relay, true
}

// AnnounceInfo returns grandmaster vector and path trace master ports advertise
func (e *Engine) AnnounceInfo() port.AnnounceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	own := e.cfg.DataSet.ClockIdentity
	if e.result.Best == nil || e.result.Local {
		local := bmc.FromLocal(e.cfg.DataSet)
		local.CurrentUTCOffset = e.cfg.CurrentUTCOffset
		return port.AnnounceInfo{Grandmaster: local, PathTrace: []ptp.ClockIdentity{own}}
	}
	gm := *e.result.Best
	gm.StepsRemoved++
	path := slices.Clone(e.paths[e.result.SlavePort])
	path = append(path, own)
	return port.AnnounceInfo{Grandmaster: gm, PathTrace: path}
}

// MeasureLocalSystem measures offset and frequency ratio between the disciplined clock and the system clock
func (e *Engine) MeasureLocalSystem() error {
	if e.sys == nil {
		return nil
	}
	res, err := e.sys.SysOffset(e.cfg.SysOffsetSamples)
	if err != nil {
		return fmt.Errorf("measuring local/system offset: %w", err)
	}
	ratio := 1.0
	e.mu.Lock()
	if e.lastSys != nil {
		sysDiff := res.SysTime.Sub(e.lastSys.SysTime)
		phcDiff := res.PHCTime.Sub(e.lastSys.PHCTime)
		if phcDiff > 0 && sysDiff > 0 {
			ratio = float64(sysDiff) / float64(phcDiff)
		}
	}
	e.lastSys = &res
	e.mu.Unlock()

	e.stats.SetCounter(CounterLocalSysOffs, res.Offset.Nanoseconds())
	e.snapshot.ApplyUpdate(func(snap *Snapshot) {
		snap.LocalSystemOffset = res.Offset.Nanoseconds()
		snap.LocalSystemFreqRatio = ratio
	})
	return nil
}

// Run periodically measures local/system clock relation until ctx is done
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if e.sys == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := e.MeasureLocalSystem(); err != nil {
			log.Warning(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
