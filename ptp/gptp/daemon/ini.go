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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-ini/ini"
	log "github.com/sirupsen/logrus"

	"github.com/facebook/gptp/ptp/gptp/netif"
)

// link speed names accepted by [eth] phy_delay
var speedNames = map[string]int{
	"LINKSPEED_10G":   10000,
	"LINKSPEED_2_5G":  2500,
	"LINKSPEED_1G":    netif.Speed1G,
	"LINKSPEED_100MB": netif.Speed100M,
}

// LoadIni applies settings of a gptp_cfg.ini file on top of cfg.
// Sections and keys are case-insensitive, unknown keys are an error.
func LoadIni(path string, cfg *Config) error {
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return err
	}
	return applyIni(f, cfg)
}

func applyIni(f *ini.File, cfg *Config) error {
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			if err := applyIniKey(cfg, section.Name(), key); err != nil {
				return fmt.Errorf("[%s] %s: %w", section.Name(), key.Name(), err)
			}
		}
	}
	return nil
}

func phyDelay(cfg *Config, speed int) netif.PhyDelay {
	if cfg.PhyDelays == nil {
		cfg.PhyDelays = netif.PhyDelays{}
	}
	return cfg.PhyDelays[speed]
}

func applyIniKey(cfg *Config, section string, key *ini.Key) error {
	nanos := func() (time.Duration, error) {
		v, err := key.Uint()
		return time.Duration(v) * time.Nanosecond, err
	}
	positive := func() (int, error) {
		v, err := key.Uint()
		if err != nil {
			return 0, err
		}
		return int(v), nil
	}
	var err error
	switch section + "." + key.Name() {
	case "ptp.priority1":
		var v uint64
		v, err = strconv.ParseUint(key.String(), 10, 8)
		cfg.Priority1 = uint8(v)
	case "port.announcereceipttimeout":
		cfg.AnnounceReceiptTimeout, err = positive()
	case "port.syncreceipttimeout":
		cfg.SyncReceiptTimeout, err = positive()
	case "port.neighborpropdelaythresh":
		cfg.NeighborPropDelayThresh, err = nanos()
	case "port.syncreceiptthresh":
		cfg.SyncReceiptThresh, err = positive()
	case "port.seqidascapablethresh":
		// parsed for compatibility, asCapable follows every completed exchange
		_, err = positive()
		log.Debugf("ini: seqIdAsCapableThresh=%s has no effect", key.String())
	case "port.lostpdelayrespthresh":
		cfg.LostPdelayRespThresh, err = positive()
	case "eth.phy_delay_gb_tx":
		d := phyDelay(cfg, netif.Speed1G)
		d.Tx, err = nanos()
		cfg.PhyDelays[netif.Speed1G] = d
	case "eth.phy_delay_gb_rx":
		d := phyDelay(cfg, netif.Speed1G)
		d.Rx, err = nanos()
		cfg.PhyDelays[netif.Speed1G] = d
	case "eth.phy_delay_mb_tx":
		d := phyDelay(cfg, netif.Speed100M)
		d.Tx, err = nanos()
		cfg.PhyDelays[netif.Speed100M] = d
	case "eth.phy_delay_mb_rx":
		d := phyDelay(cfg, netif.Speed100M)
		d.Rx, err = nanos()
		cfg.PhyDelays[netif.Speed100M] = d
	case "eth.phy_delay":
		var speed int
		var d netif.PhyDelay
		speed, d, err = parsePhyDelay(key.String())
		if err == nil {
			phyDelay(cfg, speed)
			cfg.PhyDelays[speed] = d
		}
	default:
		return fmt.Errorf("unrecognized configuration item")
	}
	return err
}

// parsePhyDelay parses "<speed> <tx ns> <rx ns>", speed is either Mb/s or a LINKSPEED_* name
func parsePhyDelay(s string) (int, netif.PhyDelay, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return 0, netif.PhyDelay{}, fmt.Errorf("want '<speed> <tx> <rx>', got %q", s)
	}
	speed, ok := speedNames[strings.ToUpper(fields[0])]
	if !ok {
		v, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil || v == 0 {
			return 0, netif.PhyDelay{}, fmt.Errorf("bad link speed %q", fields[0])
		}
		speed = int(v)
	}
	tx, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, netif.PhyDelay{}, fmt.Errorf("bad tx delay %q", fields[1])
	}
	rx, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return 0, netif.PhyDelay{}, fmt.Errorf("bad rx delay %q", fields[2])
	}
	return speed, netif.PhyDelay{Tx: time.Duration(tx), Rx: time.Duration(rx)}, nil
}
