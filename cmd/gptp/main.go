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

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	systemd "github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"

	"github.com/facebook/gptp/ptp/gptp/daemon"
	"github.com/facebook/gptp/ptp/gptp/stats"

	_ "net/http/pprof"
)

func doWork(ctx context.Context, cfg *daemon.Config) error {
	st := stats.NewStats()
	d, err := daemon.New(cfg, st)
	if err != nil {
		return err
	}
	defer d.Close()

	go func() {
		if err := d.Engine().WaitResolved(ctx); err != nil {
			return
		}
		log.Infof("initial port roles resolved")
		if ok, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
			log.Warningf("notifying systemd: %v", err)
		} else if ok {
			log.Debug("notified systemd")
		}
	}()
	return d.Run(ctx)
}

func main() {
	var (
		verboseFlag        bool
		logLevelFlag       string
		ifaceFlag          string
		configFlag         string
		iniFlag            string
		priority1Flag      int
		monitoringPortFlag int
		shmFlag            string
		socketFlag         string
		natsFlag           string
		captureFlag        string
		pprofFlag          string
	)
	defaults := daemon.DefaultConfig()

	flag.BoolVar(&verboseFlag, "verbose", false, "verbose output")
	flag.StringVar(&logLevelFlag, "loglevel", "info", "log level, one of panic, fatal, error, warning, info, debug, trace")
	flag.StringVar(&ifaceFlag, "iface", strings.Join(defaults.Ifaces, ","), "comma separated list of network interfaces, one port per interface")
	flag.StringVar(&configFlag, "config", "", "path to the yaml config")
	flag.StringVar(&iniFlag, "ini", "", "path to gptp_cfg.ini, applied on top of the yaml config")
	flag.IntVar(&priority1Flag, "priority1", int(defaults.Priority1), "priority1 of the node, 255 makes it slave-only")
	flag.IntVar(&monitoringPortFlag, "monitoringport", defaults.MonitoringPort, "port to start monitoring http server on, 0 disables it")
	flag.StringVar(&shmFlag, "shm", defaults.ShmPath, "path of the shared memory segment, empty disables it")
	flag.StringVar(&socketFlag, "socket", defaults.ControlSocket, "path of the control socket, empty disables it")
	flag.StringVar(&natsFlag, "nats", defaults.NATSURL, "NATS server url to publish snapshots to, empty disables it")
	flag.StringVar(&captureFlag, "capture", defaults.CaptureFile, "pcap file to write all sent and received frames to")
	flag.StringVar(&pprofFlag, "pprof", "", "Address to have the profiler listen on, disabled if empty.")

	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	level, err := log.ParseLevel(logLevelFlag)
	if err != nil {
		log.Fatalf("Unrecognized log level: %v", logLevelFlag)
	}
	log.SetLevel(level)
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	f := daemon.Flags{
		Ifaces:         strings.Split(ifaceFlag, ","),
		Priority1:      priority1Flag,
		MonitoringPort: monitoringPortFlag,
		ShmPath:        shmFlag,
		ControlSocket:  socketFlag,
		NATSURL:        natsFlag,
		CaptureFile:    captureFlag,
		IniPath:        iniFlag,
	}
	cfg, err := daemon.PrepareConfig(configFlag, f, setFlags)
	if err != nil {
		log.Fatal(err)
	}
	if pprofFlag != "" {
		go func() {
			err = http.ListenAndServe(pprofFlag, nil)
			if err != nil {
				log.Errorf("Failed to start pprof. Err: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := doWork(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}
