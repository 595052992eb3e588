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

package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/gptp/clock"
	"github.com/facebook/gptp/phc"
	"github.com/facebook/gptp/ptp/gptp/engine"
	"github.com/facebook/gptp/ptp/gptp/ipc"
	"github.com/facebook/gptp/ptp/gptp/netif"
	"github.com/facebook/gptp/ptp/gptp/peer"
	"github.com/facebook/gptp/ptp/gptp/port"
	"github.com/facebook/gptp/ptp/gptp/stats"
	ptp "github.com/facebook/gptp/ptp/protocol"
	"github.com/facebook/gptp/timestamp"
)

// local/system offset is measured this often
const sysOffsetInterval = time.Second

// RecordWriter stores published records, like ipc.Shm
type RecordWriter interface {
	Write(r *ipc.Record) error
}

// SnapshotPublisher sends snapshots to remote subscribers, like ipc.Publisher
type SnapshotPublisher interface {
	Publish(v any) error
}

type link struct {
	port    *port.Port
	iface   *net.Interface
	speed   atomic.Int64
	monitor *netif.LinkMonitor
}

func (l *link) updateSpeed() {
	speed, err := netif.LinkSpeed(l.iface.Name)
	if err != nil {
		log.Warningf("PHY delay compensation disabled on %s: %v", l.iface.Name, err)
		return
	}
	l.speed.Store(int64(speed))
}

// Daemon is a running gPTP time-aware system
type Daemon struct {
	cfg     *Config
	stats   *stats.Stats
	peers   *peer.List
	engine  *engine.Engine
	links   []*link
	shm     *ipc.Shm
	ctrl    *ipc.Server
	pub     *ipc.Publisher
	closers []io.Closer
}

func openClock(cfg *Config) (clock.Clock, engine.SysOffsetter, io.Closer, error) {
	if cfg.FreeRunning {
		return &clock.FreeRunning{}, nil, nil, nil
	}
	if cfg.Timestamping == timestamp.SW {
		return &clock.SysClock{}, nil, nil, nil
	}
	dev, err := phc.OpenIface(cfg.Ifaces[0])
	if err != nil {
		return nil, nil, nil, err
	}
	return dev, dev, dev, nil
}

// New opens every resource the daemon needs. Any failure here is fatal.
func New(cfg *Config, st *stats.Stats) (*Daemon, error) {
	d := &Daemon{cfg: cfg, stats: st, peers: peer.NewList()}
	if err := d.init(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) init() error {
	cfg := d.cfg
	first, err := net.InterfaceByName(cfg.Ifaces[0])
	if err != nil {
		return fmt.Errorf("looking up %s: %w", cfg.Ifaces[0], err)
	}
	clockID, err := ptp.NewClockIdentity(first.HardwareAddr)
	if err != nil {
		return fmt.Errorf("deriving clock identity from %s: %w", first.Name, err)
	}
	log.Infof("clock identity %s", clockID)

	clk, sys, closer, err := openClock(cfg)
	if err != nil {
		return fmt.Errorf("opening clock: %w", err)
	}
	if closer != nil {
		d.closers = append(d.closers, closer)
	}
	ecfg := cfg.EngineConfig(clockID)
	d.engine = engine.New(ecfg, clk, engine.NewServo(ecfg, clk), sys, d.stats)

	var captureFile *os.File
	if cfg.CaptureFile != "" {
		captureFile, err = os.Create(cfg.CaptureFile)
		if err != nil {
			return fmt.Errorf("creating capture file: %w", err)
		}
		d.closers = append(d.closers, captureFile)
	}
	// one pcap stream for all ports
	var capture *netif.CaptureConn

	for i, name := range cfg.Ifaces {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", name, err)
		}
		raw, err := netif.Listen(name, cfg.Timestamping)
		if err != nil {
			return fmt.Errorf("opening %s: %w", name, err)
		}
		d.closers = append(d.closers, raw)
		var conn netif.Conn = raw
		switch {
		case capture != nil:
			conn = capture.Wrap(raw)
		case captureFile != nil:
			if capture, err = netif.NewCaptureConn(raw, captureFile); err != nil {
				return err
			}
			conn = capture
		}
		l := &link{iface: ifi}
		l.updateSpeed()
		ts := &netif.PhyTimestamper{
			Delays: cfg.PhyDelays,
			Speed:  func() int { return int(l.speed.Load()) },
		}
		n := uint16(i + 1)
		l.port = port.New(cfg.PortConfig(n, name), clockID, conn, ts, d.engine, d.stats, d.peers)
		d.engine.AddPort(l.port)
		if l.monitor, err = netif.NewLinkMonitor(ifi); err != nil {
			return err
		}
		d.links = append(d.links, l)
	}

	if cfg.ShmPath != "" {
		if d.shm, err = ipc.CreateShm(cfg.ShmPath); err != nil {
			return err
		}
		d.closers = append(d.closers, d.shm)
	}
	if cfg.ControlSocket != "" {
		snapshot := d.engine.Snapshot
		if d.ctrl, err = ipc.Listen(cfg.ControlSocket, d.peers, func() *ipc.OffsetMessage {
			return ipc.OffsetFromSnapshot(snapshot())
		}); err != nil {
			return err
		}
		d.closers = append(d.closers, d.ctrl)
	}
	if cfg.NATSURL != "" {
		if d.pub, err = ipc.NewPublisher(cfg.NATSURL, cfg.NATSSubject); err != nil {
			return err
		}
	}
	return nil
}

// Engine returns the clock engine
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// Peers returns neighbors known to the daemon
func (d *Daemon) Peers() *peer.List {
	return d.peers
}

// Run runs every part of the daemon until ctx is done or one of them fails
func (d *Daemon) Run(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)
	for _, l := range d.links {
		l := l
		eg.Go(func() error { return l.port.Run(gctx) })
		eg.Go(func() error { return d.watchLink(gctx, l) })
	}
	eg.Go(func() error { return d.engine.Run(gctx, sysOffsetInterval) })
	if d.ctrl != nil {
		eg.Go(func() error { return d.ctrl.Serve(gctx) })
	}
	if d.cfg.MonitoringPort != 0 {
		srv := stats.NewServer(d.stats,
			func() any { return d.engine.Snapshot() },
			func() any { return d.peers.Snapshot() },
		)
		addr := fmt.Sprintf(":%d", d.cfg.MonitoringPort)
		eg.Go(func() error { return srv.Start(gctx, addr, d.cfg.PublishInterval) })
	}
	var w RecordWriter
	if d.shm != nil {
		w = d.shm
	}
	var pub SnapshotPublisher
	if d.pub != nil {
		pub = d.pub
	}
	eg.Go(func() error { return Publish(gctx, d.cfg.PublishInterval, d.engine.Snapshot, w, pub) })
	err := eg.Wait()
	// stopped from outside
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *Daemon) watchLink(ctx context.Context, l *link) error {
	events := make(chan netif.LinkEvent)
	errc := make(chan error, 1)
	go func() { errc <- l.monitor.Run(ctx, events) }()
	for {
		select {
		case <-ctx.Done():
			return <-errc
		case err := <-errc:
			return err
		case ev := <-events:
			if ev.Up {
				l.updateSpeed()
			}
			l.port.LinkChanged(ev.Up)
		}
	}
}

// Publish writes a record of the engine snapshot every interval until ctx is done.
// w and pub may be nil.
func Publish(ctx context.Context, interval time.Duration, snapshot func() engine.Snapshot, w RecordWriter, pub SnapshotPublisher) error {
	pid := os.Getpid()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		snap := snapshot()
		if w != nil {
			rec := ipc.RecordFromSnapshot(snap, pid)
			if err := w.Write(&rec); err != nil {
				return fmt.Errorf("writing record: %w", err)
			}
		}
		if pub != nil {
			if err := pub.Publish(snap); err != nil {
				log.Warningf("publishing snapshot: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close releases everything New opened
func (d *Daemon) Close() {
	if d.pub != nil {
		d.pub.Close()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			log.Warningf("closing: %v", err)
		}
	}
}
