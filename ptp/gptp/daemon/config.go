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
Package daemon assembles a gPTP time-aware system out of ports, the clock
engine and the publication layers, and holds its configuration.
*/
package daemon

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/facebook/gptp/ptp/bmc"
	"github.com/facebook/gptp/ptp/gptp/engine"
	"github.com/facebook/gptp/ptp/gptp/ipc"
	"github.com/facebook/gptp/ptp/gptp/netif"
	"github.com/facebook/gptp/ptp/gptp/port"
	ptp "github.com/facebook/gptp/ptp/protocol"
	"github.com/facebook/gptp/timestamp"
)

// Config specifies gPTP daemon run options
type Config struct {
	Ifaces       []string            `yaml:"ifaces"`
	Timestamping timestamp.Timestamp `yaml:"timestamping"`
	// FreeRunning disables local clock discipline
	FreeRunning bool `yaml:"free_running"`

	Domain                  uint8             `yaml:"domain"`
	Priority1               uint8             `yaml:"priority1"`
	Priority2               uint8             `yaml:"priority2"`
	ClockClass              ptp.ClockClass    `yaml:"clock_class"`
	ClockAccuracy           ptp.ClockAccuracy `yaml:"clock_accuracy"`
	OffsetScaledLogVariance uint16            `yaml:"offset_scaled_log_variance"`
	TimeSource              ptp.TimeSource    `yaml:"time_source"`
	CurrentUTCOffset        int16             `yaml:"current_utc_offset"`

	AnnounceInterval ptp.LogInterval `yaml:"announce_interval"`
	SyncInterval     ptp.LogInterval `yaml:"sync_interval"`
	PDelayInterval   ptp.LogInterval `yaml:"pdelay_interval"`

	AnnounceReceiptTimeout  int           `yaml:"announce_receipt_timeout"`
	SyncReceiptTimeout      int           `yaml:"sync_receipt_timeout"`
	SyncReceiptThresh       int           `yaml:"sync_receipt_thresh"`
	LostPdelayRespThresh    int           `yaml:"lost_pdelay_resp_thresh"`
	NeighborPropDelayThresh time.Duration `yaml:"neighbor_prop_delay_thresh"`
	SyncHysteresis          int           `yaml:"sync_hysteresis"`
	FaultRecovery           time.Duration `yaml:"fault_recovery"`

	FirstStepThreshold time.Duration `yaml:"first_step_threshold"`
	StepThreshold      time.Duration `yaml:"step_threshold"`

	// PhyDelays maps link speed in Mb/s to PHY latency
	PhyDelays netif.PhyDelays `yaml:"phy_delays"`

	ShmPath         string        `yaml:"shm_path"`
	ControlSocket   string        `yaml:"control_socket"`
	MonitoringPort  int           `yaml:"monitoring_port"`
	PublishInterval time.Duration `yaml:"publish_interval"`
	NATSURL         string        `yaml:"nats_url"`
	NATSSubject     string        `yaml:"nats_subject"`
	CaptureFile     string        `yaml:"capture_file"`
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Ifaces:                  []string{"eth0"},
		Timestamping:            timestamp.HW,
		Priority1:               248,
		Priority2:               248,
		ClockClass:              ptp.ClockClassDefault,
		ClockAccuracy:           ptp.ClockAccuracyNanosecond250,
		OffsetScaledLogVariance: 0x436A,
		TimeSource:              ptp.TimeSourceInternalOscillator,
		CurrentUTCOffset:        37,
		AnnounceInterval:        0,
		SyncInterval:            -3,
		PDelayInterval:          0,
		AnnounceReceiptTimeout:  3,
		SyncReceiptTimeout:      3,
		SyncReceiptThresh:       5,
		LostPdelayRespThresh:    3,
		NeighborPropDelayThresh: 800 * time.Nanosecond,
		SyncHysteresis:          2,
		FaultRecovery:           time.Second,
		FirstStepThreshold:      20 * time.Microsecond,
		StepThreshold:           0,
		PhyDelays: netif.PhyDelays{
			netif.Speed1G:   {Tx: 184 * time.Nanosecond, Rx: 382 * time.Nanosecond},
			netif.Speed100M: {Tx: 1044 * time.Nanosecond, Rx: 2133 * time.Nanosecond},
		},
		ShmPath:         ipc.DefaultShmPath,
		ControlSocket:   ipc.DefaultControlSocket,
		MonitoringPort:  4270,
		PublishInterval: time.Second,
		NATSSubject:     ipc.DefaultSubject,
	}
}

func validInterval(name string, i ptp.LogInterval) error {
	if i < -7 || i > 7 {
		return fmt.Errorf("%s must be within [-7, 7], got %d", name, i)
	}
	return nil
}

// Validate config is sane
func (c *Config) Validate() error {
	if len(c.Ifaces) == 0 {
		return fmt.Errorf("at least one interface must be specified")
	}
	if len(c.Ifaces) > ipc.MaxPorts {
		return fmt.Errorf("at most %d interfaces are supported", ipc.MaxPorts)
	}
	seen := map[string]bool{}
	for _, iface := range c.Ifaces {
		if iface == "" {
			return fmt.Errorf("empty interface name")
		}
		if seen[iface] {
			return fmt.Errorf("interface %q is listed twice", iface)
		}
		seen[iface] = true
	}
	if c.Timestamping != timestamp.HW && c.Timestamping != timestamp.SW {
		return fmt.Errorf("only %q and %q timestamping is supported", timestamp.HW, timestamp.SW)
	}
	if c.Priority2 == bmc.SlaveOnlyPriority1 && c.Priority1 != bmc.SlaveOnlyPriority1 {
		log.Warning("priority2 255 does not make the node slave-only, use priority1 255")
	}
	for name, i := range map[string]ptp.LogInterval{
		"announce_interval": c.AnnounceInterval,
		"sync_interval":     c.SyncInterval,
		"pdelay_interval":   c.PDelayInterval,
	} {
		if err := validInterval(name, i); err != nil {
			return err
		}
	}
	if c.AnnounceReceiptTimeout < 2 {
		return fmt.Errorf("announce_receipt_timeout must be at least 2")
	}
	if c.SyncReceiptTimeout < 2 {
		return fmt.Errorf("sync_receipt_timeout must be at least 2")
	}
	if c.SyncReceiptThresh <= 0 {
		return fmt.Errorf("sync_receipt_thresh must be greater than zero")
	}
	if c.LostPdelayRespThresh <= 0 {
		return fmt.Errorf("lost_pdelay_resp_thresh must be greater than zero")
	}
	if c.NeighborPropDelayThresh <= 0 {
		return fmt.Errorf("neighbor_prop_delay_thresh must be greater than zero")
	}
	if c.SyncHysteresis <= 0 {
		return fmt.Errorf("sync_hysteresis must be greater than zero")
	}
	if c.FaultRecovery <= 0 {
		return fmt.Errorf("fault_recovery must be greater than zero")
	}
	if c.FirstStepThreshold < 0 || c.StepThreshold < 0 {
		return fmt.Errorf("step thresholds must be 0 or positive")
	}
	for speed, d := range c.PhyDelays {
		if speed <= 0 || d.Tx < 0 || d.Rx < 0 {
			return fmt.Errorf("invalid phy delay %+v for speed %d", d, speed)
		}
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoring_port must be 0 or positive")
	}
	if c.PublishInterval <= 0 {
		return fmt.Errorf("publish_interval must be greater than zero")
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("nats_subject must be set when nats_url is")
	}
	return nil
}

// DataSet returns own BMCA dataset of the node with given clock identity
func (c *Config) DataSet(id ptp.ClockIdentity) bmc.DataSet {
	return bmc.DataSet{
		ClockIdentity: id,
		Priority1:     c.Priority1,
		Priority2:     c.Priority2,
		Quality: ptp.ClockQuality{
			ClockClass:              c.ClockClass,
			ClockAccuracy:           c.ClockAccuracy,
			OffsetScaledLogVariance: c.OffsetScaledLogVariance,
		},
		TimeSource: c.TimeSource,
	}
}

// EngineConfig returns clock engine configuration
func (c *Config) EngineConfig(id ptp.ClockIdentity) engine.Config {
	return engine.Config{
		DataSet:            c.DataSet(id),
		Domain:             c.Domain,
		CurrentUTCOffset:   c.CurrentUTCOffset,
		FirstStepThreshold: c.FirstStepThreshold,
		StepThreshold:      c.StepThreshold,
	}
}

// PortConfig returns configuration of port number n running on iface
func (c *Config) PortConfig(n uint16, iface string) port.Config {
	return port.Config{
		Number:                  n,
		Iface:                   iface,
		Domain:                  c.Domain,
		AnnounceInterval:        c.AnnounceInterval,
		SyncInterval:            c.SyncInterval,
		PDelayInterval:          c.PDelayInterval,
		AnnounceReceiptTimeout:  c.AnnounceReceiptTimeout,
		SyncReceiptTimeout:      c.SyncReceiptTimeout,
		SyncReceiptThresh:       c.SyncReceiptThresh,
		LostPdelayRespThresh:    c.LostPdelayRespThresh,
		NeighborPropDelayThresh: c.NeighborPropDelayThresh,
		SyncHysteresis:          c.SyncHysteresis,
		FaultRecovery:           c.FaultRecovery,
	}
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(cData, &c)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Flags are CLI overrides of the config file
type Flags struct {
	Ifaces         []string
	Priority1      int
	MonitoringPort int
	ShmPath        string
	ControlSocket  string
	NATSURL        string
	CaptureFile    string
	IniPath        string
}

// PrepareConfig prepares final version of config based on defaults, CLI flags, on-disk config
// and the legacy ini file, and validates resulting config
func PrepareConfig(cfgPath string, f Flags, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if f.IniPath != "" {
		if err := LoadIni(f.IniPath, cfg); err != nil {
			return nil, fmt.Errorf("reading ini from %q: %w", f.IniPath, err)
		}
	}
	if setFlags["iface"] {
		warn("iface")
		cfg.Ifaces = f.Ifaces
	}
	if setFlags["priority1"] {
		warn("priority1")
		if f.Priority1 < 0 || f.Priority1 > 255 {
			return nil, fmt.Errorf("priority1 must be within [0, 255], got %d", f.Priority1)
		}
		cfg.Priority1 = uint8(f.Priority1)
	}
	if setFlags["monitoringport"] {
		warn("monitoringport")
		cfg.MonitoringPort = f.MonitoringPort
	}
	if setFlags["shm"] {
		warn("shm")
		cfg.ShmPath = f.ShmPath
	}
	if setFlags["socket"] {
		warn("socket")
		cfg.ControlSocket = f.ControlSocket
	}
	if setFlags["nats"] {
		warn("nats")
		cfg.NATSURL = f.NATSURL
	}
	if setFlags["capture"] {
		warn("capture")
		cfg.CaptureFile = f.CaptureFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}
