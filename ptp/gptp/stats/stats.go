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
Package stats keeps gptp counters and exposes them, together with the clock
engine snapshot and the peer list, over HTTP as JSON and Prometheus metrics.
*/
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PortStatsPrefix prefixes all per-port counters, followed by port number and ieee8021AsPortStat name
const PortStatsPrefix = "gptp.portstats."

// Per-port counter names, following ieee8021AsPortStat of IEEE 802.1AS MIB
const (
	RxSyncCount                        = "rxSyncCount"
	RxFollowUpCount                    = "rxFollowUpCount"
	RxPdelayRequest                    = "rxPdelayRequest"
	RxPdelayResponse                   = "rxPdelayResponse"
	RxPdelayResponseFollowUp           = "rxPdelayResponseFollowUp"
	RxAnnounce                         = "rxAnnounce"
	RxSignaling                        = "rxSignaling"
	RxPTPPacketDiscard                 = "rxPTPPacketDiscard"
	SyncReceiptTimeouts                = "syncReceiptTimeouts"
	AnnounceReceiptTimeouts            = "announceReceiptTimeouts"
	PdelayAllowedLostResponsesExceeded = "pdelayAllowedLostResponsesExceeded"
	PdelayResponseLost                 = "pdelayResponseLost"
	FollowUpMismatch                   = "followUpMismatch"
	TxSyncCount                        = "txSyncCount"
	TxFollowUpCount                    = "txFollowUpCount"
	TxPdelayRequest                    = "txPdelayRequest"
	TxPdelayResponse                   = "txPdelayResponse"
	TxPdelayResponseFollowUp           = "txPdelayResponseFollowUp"
	TxAnnounce                         = "txAnnounce"
	TxTimestampMissing                 = "txTimestampMissing"
	RxTimestampMissing                 = "rxTimestampMissing"
	Faults                             = "faults"
)

// PortKey returns full counter key of the counter name on port
func PortKey(port uint16, name string) string {
	return fmt.Sprintf("%s%d.%s", PortStatsPrefix, port, name)
}

// StatsServer is what ports and the engine report counters to
type StatsServer interface {
	UpdateCounterBy(key string, count int64)
	SetCounter(key string, val int64)
}

// Stats is a map of counters guarded by a mutex
type Stats struct {
	mux      sync.Mutex
	counters map[string]int64
}

// NewStats created new instance of Stats
func NewStats() *Stats {
	return &Stats{
		counters: map[string]int64{},
	}
}

// UpdateCounterBy will increment counter
func (s *Stats) UpdateCounterBy(key string, count int64) {
	s.mux.Lock()
	s.counters[key] += count
	s.mux.Unlock()
}

// SetCounter will set a counter to the provided value.
func (s *Stats) SetCounter(key string, val int64) {
	s.mux.Lock()
	s.counters[key] = val
	s.mux.Unlock()
}

// GetCounters returns a copy of the counters map
func (s *Stats) GetCounters() Counters {
	ret := make(Counters)
	s.mux.Lock()
	for key, val := range s.counters {
		ret[key] = val
	}
	s.mux.Unlock()
	return ret
}

// Reset all the values of counters
func (s *Stats) Reset() {
	s.mux.Lock()
	for k := range s.counters {
		s.counters[k] = 0
	}
	s.mux.Unlock()
}

// Counters is various counters exported by gptp
type Counters map[string]int64

// PortStats groups per-port counters by port number, keyed by counter name
func (c Counters) PortStats() map[uint16]map[string]int64 {
	res := map[uint16]map[string]int64{}
	for k, v := range c {
		if !strings.HasPrefix(k, PortStatsPrefix) {
			continue
		}
		num, name, found := strings.Cut(strings.TrimPrefix(k, PortStatsPrefix), ".")
		if !found {
			continue
		}
		port, err := strconv.ParseUint(num, 10, 16)
		if err != nil {
			continue
		}
		if res[uint16(port)] == nil {
			res[uint16(port)] = map[string]int64{}
		}
		res[uint16(port)][name] = v
	}
	return res
}

// SysStats return counters which are not per-port
func (c Counters) SysStats() map[string]int64 {
	res := map[string]int64{}
	for k, v := range c {
		if strings.HasPrefix(k, PortStatsPrefix) {
			continue
		}
		res[k] = v
	}
	return res
}

// FetchJSON decodes JSON served on url into v
func FetchJSON(url string, v any) error {
	c := http.Client{
		Timeout: time.Second * 2,
	}
	resp, err := c.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", url, resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// FetchCounters returns counters map fetched from the url
func FetchCounters(url string) (Counters, error) {
	counters := make(Counters)
	err := FetchJSON(fmt.Sprintf("%s/counters", url), &counters)
	return counters, err
}
