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

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/facebook/gptp/clock"
	"github.com/facebook/gptp/phc"
	"github.com/facebook/gptp/ptp/bmc"
	"github.com/facebook/gptp/ptp/gptp/port"
	"github.com/facebook/gptp/ptp/gptp/stats"
	ptp "github.com/facebook/gptp/ptp/protocol"
	"github.com/facebook/gptp/servo"
)

const ownID ptp.ClockIdentity = 0x0011223344556677

var defaultQuality = ptp.ClockQuality{
	ClockClass:              ptp.ClockClassDefault,
	ClockAccuracy:           ptp.ClockAccuracyNanosecond250,
	OffsetScaledLogVariance: 0x436A,
}

func testConfig() Config {
	return Config{
		DataSet: bmc.DataSet{
			ClockIdentity: ownID,
			Priority1:     248,
			Priority2:     248,
			Quality:       defaultQuality,
			TimeSource:    ptp.TimeSourceInternalOscillator,
		},
		CurrentUTCOffset:   37,
		FirstStepThreshold: 20 * time.Microsecond,
	}
}

func remoteVector(gm ptp.ClockIdentity, priority1 uint8, receiver uint16) *bmc.PriorityVector {
	return &bmc.PriorityVector{
		Priority1:           priority1,
		Quality:             defaultQuality,
		Priority2:           248,
		GrandmasterIdentity: gm,
		StepsRemoved:        1,
		SenderPortIdentity:  ptp.PortIdentity{ClockIdentity: gm + 1, PortNumber: 1},
		ReceiverPortNumber:  receiver,
	}
}

func status(n uint16, state ptp.PortState) port.Status {
	return port.Status{
		Number:   n,
		Identity: ptp.PortIdentity{ClockIdentity: ownID, PortNumber: n},
		State:    state,
	}
}

type testEngine struct {
	*Engine
	clock *clock.FreeRunning
	stats *stats.Stats
	ports map[uint16]*MockPort
}

func newTestEngine(t *testing.T, ctrl *gomock.Controller, sv Servo, ports ...uint16) *testEngine {
	clk := &clock.FreeRunning{}
	st := stats.NewStats()
	cfg := testConfig()
	if sv == nil {
		sv = NewServo(cfg, clk)
	}
	te := &testEngine{
		Engine: New(cfg, clk, sv, nil, st),
		clock:  clk,
		stats:  st,
		ports:  map[uint16]*MockPort{},
	}
	for _, n := range ports {
		p := NewMockPort(ctrl)
		p.EXPECT().Number().Return(n).AnyTimes()
		te.AddPort(p)
		te.ports[n] = p
	}
	return te
}

func TestNewServo(t *testing.T) {
	cfg := testConfig()
	cfg.StepThreshold = time.Millisecond
	pi := NewServo(cfg, &clock.FreeRunning{Freq: 100})
	require.True(t, pi.FirstUpdate)
	require.Equal(t, int64(20000), pi.FirstStepThreshold)
	require.Equal(t, int64(1000000), pi.StepThreshold)
	require.Equal(t, -100.0, pi.MeanFreq())
	require.Equal(t, servo.StateInit, pi.GetState())
}

func TestLocalGrandmaster(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := newTestEngine(t, ctrl, nil, 1, 2)

	e.PortStatus(status(1, ptp.PortStateListening))
	e.PortStatus(status(2, ptp.PortStateListening))
	// only ports that reported get decisions
	e.ports[1].EXPECT().Recommend(bmc.Decision{State: ptp.PortStateMaster})
	e.UpdateBest(1, nil, nil)
	select {
	case <-e.Resolved():
	default:
		t.Fatal("engine must be resolved after first dispatch")
	}

	e.ports[1].EXPECT().Recommend(bmc.Decision{State: ptp.PortStateMaster})
	e.ports[2].EXPECT().Recommend(bmc.Decision{State: ptp.PortStateMaster})
	e.UpdateBest(2, nil, nil)

	res := e.Result()
	require.True(t, res.Local)
	snap := e.Snapshot()
	require.True(t, snap.IsGrandmaster)
	require.Equal(t, ownID, snap.GrandmasterIdentity)
	require.Len(t, snap.Ports, 2)

	info := e.AnnounceInfo()
	require.Equal(t, ownID, info.Grandmaster.GrandmasterIdentity)
	require.Equal(t, uint16(0), info.Grandmaster.StepsRemoved)
	require.Equal(t, int16(37), info.Grandmaster.CurrentUTCOffset)
	require.Equal(t, []ptp.ClockIdentity{ownID}, info.PathTrace)

	_, ok := e.Relay()
	require.False(t, ok)
	require.Equal(t, int64(2), e.stats.GetCounters()[CounterRecompute])
}

func TestSlaveSelection(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := newTestEngine(t, ctrl, nil, 1, 2)
	e.PortStatus(status(1, ptp.PortStateListening))
	e.PortStatus(status(2, ptp.PortStateMaster))

	e.ports[2].EXPECT().Recommend(bmc.Decision{State: ptp.PortStateMaster})
	e.UpdateBest(2, nil, nil)

	remote := remoteVector(0xAA, 100, 1)
	path := []ptp.ClockIdentity{0xAA, 0xAB}
	e.ports[1].EXPECT().Recommend(bmc.Decision{State: ptp.PortStateSlave, Master: remote})
	e.ports[2].EXPECT().Recommend(bmc.Decision{State: ptp.PortStateMaster})
	e.UpdateBest(1, remote, path)

	res := e.Result()
	require.False(t, res.Local)
	require.Equal(t, uint16(1), res.SlavePort)

	snap := e.Snapshot()
	require.False(t, snap.IsGrandmaster)
	require.Equal(t, ptp.ClockIdentity(0xAA), snap.GrandmasterIdentity)
	require.Equal(t, uint8(100), snap.GrandmasterPriority1)
	require.Equal(t, uint16(1), snap.SlavePort)

	info := e.AnnounceInfo()
	require.Equal(t, ptp.ClockIdentity(0xAA), info.Grandmaster.GrandmasterIdentity)
	require.Equal(t, uint16(2), info.Grandmaster.StepsRemoved)
	require.Equal(t, []ptp.ClockIdentity{0xAA, 0xAB, ownID}, info.PathTrace)
	// path of the port must not be modified
	require.Equal(t, []ptp.ClockIdentity{0xAA, 0xAB}, path)
	require.Equal(t, int64(2), e.stats.GetCounters()[CounterGMChanges])
}

func TestInactivePortsExcluded(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := newTestEngine(t, ctrl, nil, 1, 2)
	e.PortStatus(status(1, ptp.PortStateListening))
	e.PortStatus(status(2, ptp.PortStateListening))

	e.ports[1].EXPECT().Recommend(gomock.Any()).AnyTimes()
	e.ports[2].EXPECT().Recommend(gomock.Any()).Times(2)
	e.UpdateBest(2, remoteVector(0xAA, 100, 2), nil)
	e.UpdateBest(1, nil, nil)
	require.Equal(t, uint16(2), e.Result().SlavePort)

	// port 2 goes down: its vector is ignored and it gets nothing dispatched
	e.PortStatus(status(2, ptp.PortStateFaulty))
	e.UpdateBest(2, nil, nil)
	res := e.Result()
	require.True(t, res.Local)
	require.Equal(t, ptp.PortStateDisabled, res.Decisions[2].State)
	require.Equal(t, ptp.PortStateMaster, res.Decisions[1].State)

	// back to LISTENING, still silent until it reports again
	e.PortStatus(status(2, ptp.PortStateListening))
	e.Recompute()
	require.Equal(t, ptp.PortStateMaster, e.Result().Decisions[2].State)
}

func TestSlaveOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := newTestEngine(t, ctrl, nil, 1)
	e.PortStatus(status(1, ptp.PortStateListening))
	ds := testConfig().DataSet
	ds.Priority1 = bmc.SlaveOnlyPriority1

	// reported before the dataset change
	e.ports[1].EXPECT().Recommend(bmc.Decision{State: ptp.PortStateMaster})
	e.UpdateBest(1, nil, nil)

	e.ports[1].EXPECT().Recommend(bmc.Decision{State: ptp.PortStateListening})
	e.SetDataSet(ds)
	res := e.Result()
	require.Nil(t, res.Best)
	require.False(t, res.Local)
	require.Equal(t, ptp.ClockIdentity(0), e.Snapshot().GrandmasterIdentity)
}

func slaveEngine(t *testing.T, ctrl *gomock.Controller, sv *MockServo) *testEngine {
	e := newTestEngine(t, ctrl, sv, 1)
	e.PortStatus(status(1, ptp.PortStateListening))
	e.ports[1].EXPECT().Recommend(gomock.Any()).AnyTimes()
	e.UpdateBest(1, remoteVector(0xAA, 100, 1), []ptp.ClockIdentity{0xAA})
	return e
}

func syncSample(offset float64, rx time.Time) port.SyncSample {
	return port.SyncSample{
		Port:         1,
		Master:       ptp.PortIdentity{ClockIdentity: 0xAB, PortNumber: 1},
		Offset:       offset,
		LinkDelay:    500 * time.Nanosecond,
		SyncInterval: -3,
		Info: port.SyncInfo{
			PreciseOrigin: ptp.NewTimestamp(rx),
			Correction:    1500,
			RateRatio:     1.00001,
			RxTime:        rx,
		},
	}
}

func TestSyncReceived(t *testing.T) {
	ctrl := gomock.NewController(t)
	sv := NewMockServo(ctrl)
	sv.EXPECT().Reset()
	e := slaveEngine(t, ctrl, sv)
	rx := time.Unix(1700000000, 0)

	sv.EXPECT().SyncInterval(0.125)
	sv.EXPECT().IsSpike(int64(50000)).Return(false)
	sv.EXPECT().Sample(int64(50000), uint64(rx.UnixNano())).Return(200.0, servo.StateJump)
	e.SyncReceived(syncSample(50000, rx))
	require.Equal(t, []time.Duration{-50 * time.Microsecond}, e.clock.Steps)

	rx = rx.Add(time.Second)
	sv.EXPECT().SyncInterval(0.125)
	sv.EXPECT().IsSpike(int64(-30)).Return(false)
	sv.EXPECT().Sample(int64(-30), uint64(rx.UnixNano())).Return(150.0, servo.StateLocked)
	sv.EXPECT().UnsetFirstUpdate()
	e.SyncReceived(syncSample(-30, rx))
	require.Equal(t, -150.0, e.clock.Freq)

	snap := e.Snapshot()
	require.Equal(t, int64(-30), snap.MasterOffset)
	require.Equal(t, 1.00001, snap.MasterFreqRatio)
	require.Equal(t, rx.UnixNano(), snap.LocalTime)
	require.Equal(t, "LOCKED", snap.ServoState)
	require.Equal(t, 2, snap.OffsetStats.Count)
	require.Equal(t, 500.0, snap.PathDelayStats.Last)

	c := e.stats.GetCounters()
	require.Equal(t, int64(-30), c[CounterOffset])
	require.Equal(t, int64(-150), c[CounterFreq])
	require.Equal(t, int64(1), c[CounterSteps])
	require.Equal(t, int64(2), c[CounterSyncSamples])

	relay, ok := e.Relay()
	require.True(t, ok)
	require.Equal(t, rx, relay.RxTime)
	require.Equal(t, 1500.0, relay.Correction)
}

func TestSyncReceivedSpike(t *testing.T) {
	ctrl := gomock.NewController(t)
	sv := NewMockServo(ctrl)
	sv.EXPECT().Reset()
	e := slaveEngine(t, ctrl, sv)

	sv.EXPECT().SyncInterval(0.125)
	sv.EXPECT().IsSpike(int64(900000)).Return(true)
	sv.EXPECT().MeanFreq().Return(42.0)
	sv.EXPECT().SetLastFreq(42.0)
	sv.EXPECT().GetState().Return(servo.StateLocked)
	e.SyncReceived(syncSample(900000, time.Unix(1700000000, 0)))
	require.Equal(t, -42.0, e.clock.Freq)
	require.Empty(t, e.clock.Steps)
	require.Equal(t, "FILTER", e.Snapshot().ServoState)
}

func TestSyncReceivedWrongPort(t *testing.T) {
	ctrl := gomock.NewController(t)
	sv := NewMockServo(ctrl)
	sv.EXPECT().Reset()
	e := slaveEngine(t, ctrl, sv)

	s := syncSample(100, time.Unix(1700000000, 0))
	s.Port = 2
	e.SyncReceived(s)
	_, ok := e.Relay()
	require.False(t, ok)
	require.Equal(t, int64(0), e.stats.GetCounters()[CounterSyncSamples])
}

func TestMasterChangeResetsServo(t *testing.T) {
	ctrl := gomock.NewController(t)
	sv := NewMockServo(ctrl)
	sv.EXPECT().Reset()
	e := slaveEngine(t, ctrl, sv)
	rx := time.Unix(1700000000, 0)

	sv.EXPECT().SyncInterval(gomock.Any()).AnyTimes()
	sv.EXPECT().IsSpike(gomock.Any()).Return(false).AnyTimes()
	sv.EXPECT().Sample(gomock.Any(), gomock.Any()).Return(0.0, servo.StateInit).AnyTimes()
	e.SyncReceived(syncSample(100, rx))
	_, ok := e.Relay()
	require.True(t, ok)

	// same master announcing again changes nothing
	e.UpdateBest(1, remoteVector(0xAA, 100, 1), []ptp.ClockIdentity{0xAA})

	// better grandmaster shows up on the same port
	sv.EXPECT().Reset()
	e.UpdateBest(1, remoteVector(0x0A, 50, 1), []ptp.ClockIdentity{0x0A})
	_, ok = e.Relay()
	require.False(t, ok)
	require.Equal(t, ptp.ClockIdentity(0x0A), e.Snapshot().GrandmasterIdentity)

	// port still holds the old master until it applies the new recommendation
	e.SyncReceived(syncSample(1000000, rx.Add(time.Second)))
	_, ok = e.Relay()
	require.False(t, ok)
	require.Equal(t, int64(100), e.Snapshot().MasterOffset)
	require.Equal(t, int64(1), e.stats.GetCounters()[CounterSyncSamples])

	s := syncSample(200, rx.Add(2*time.Second))
	s.Master = ptp.PortIdentity{ClockIdentity: 0x0B, PortNumber: 1}
	e.SyncReceived(s)
	_, ok = e.Relay()
	require.True(t, ok)
	require.Equal(t, int64(200), e.Snapshot().MasterOffset)
}

func TestRealServoLocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := newTestEngine(t, ctrl, nil, 1)
	e.PortStatus(status(1, ptp.PortStateListening))
	e.ports[1].EXPECT().Recommend(gomock.Any()).AnyTimes()
	e.UpdateBest(1, remoteVector(0xAA, 100, 1), nil)

	rx := time.Unix(1700000000, 0)
	for i := 0; i < 4; i++ {
		e.SyncReceived(syncSample(100, rx.Add(time.Duration(i)*time.Second)))
	}
	require.Empty(t, e.clock.Steps)
	require.Equal(t, "LOCKED", e.Snapshot().ServoState)
}

func TestPortStatusCounts(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := newTestEngine(t, ctrl, nil, 1, 2)
	s2 := status(2, ptp.PortStateMaster)
	s2.PdelayCount = 7
	s2.AsCapable = true
	s1 := status(1, ptp.PortStateSlave)
	s1.SyncCount = 10
	s1.PdelayCount = 3
	e.PortStatus(s2)
	e.PortStatus(s1)

	snap := e.Snapshot()
	require.Equal(t, uint64(10), snap.SyncCount)
	require.Equal(t, uint64(10), snap.PdelayCount)
	require.Equal(t, []port.Status{s1, s2}, snap.Ports)

	// earlier snapshots are not affected by later updates
	s1.SyncCount = 11
	e.PortStatus(s1)
	require.Equal(t, uint64(10), snap.Ports[0].SyncCount)
	require.Equal(t, uint64(11), e.Snapshot().Ports[0].SyncCount)
}

func TestMeasureLocalSystem(t *testing.T) {
	ctrl := gomock.NewController(t)
	sys := NewMockSysOffsetter(ctrl)
	e := newTestEngine(t, ctrl, nil)
	e.sys = sys

	base := time.Unix(1700000000, 0)
	sys.EXPECT().SysOffset(5).Return(phc.SysoffResult{
		Offset:  300 * time.Nanosecond,
		SysTime: base,
		PHCTime: base.Add(-300 * time.Nanosecond),
	}, nil)
	require.NoError(t, e.MeasureLocalSystem())
	snap := e.Snapshot()
	require.Equal(t, int64(300), snap.LocalSystemOffset)
	require.Equal(t, 1.0, snap.LocalSystemFreqRatio)

	// system clock ran 1us longer over a second of PHC time
	sys.EXPECT().SysOffset(5).Return(phc.SysoffResult{
		Offset:  1300 * time.Nanosecond,
		SysTime: base.Add(time.Second + time.Microsecond),
		PHCTime: base.Add(time.Second - 300*time.Nanosecond),
	}, nil)
	require.NoError(t, e.MeasureLocalSystem())
	snap = e.Snapshot()
	require.Equal(t, int64(1300), snap.LocalSystemOffset)
	require.InDelta(t, 1.000001, snap.LocalSystemFreqRatio, 1e-12)
	require.Equal(t, int64(1300), e.stats.GetCounters()[CounterLocalSysOffs])

	sys.EXPECT().SysOffset(5).Return(phc.SysoffResult{}, errors.New("ioctl failed"))
	require.Error(t, e.MeasureLocalSystem())
}

func TestWaitResolved(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := newTestEngine(t, ctrl, nil, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.WaitResolved(ctx), context.DeadlineExceeded)

	e.PortStatus(status(1, ptp.PortStateListening))
	e.ports[1].EXPECT().Recommend(gomock.Any())
	e.UpdateBest(1, nil, nil)
	require.NoError(t, e.WaitResolved(context.Background()))
}

func TestRunWithoutSysOffsetter(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := newTestEngine(t, ctrl, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, e.Run(ctx, time.Second), context.Canceled)
}
